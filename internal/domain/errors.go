package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrRateLimited         = errors.New("rate limited")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrOrderRejected       = errors.New("order rejected by exchange")
	ErrExchangeUnavailable = errors.New("exchange unavailable")
	ErrSigningFailed       = errors.New("signing failed")
	ErrWSDisconnect        = errors.New("websocket disconnected")
	ErrLockHeld            = errors.New("lock already held")
	ErrTradeTerminal       = errors.New("trade is in a terminal state")
	ErrCopyingStopped      = errors.New("copying is stopped")
	ErrWalletNotReady      = errors.New("wallet not ready")
)

// Retryable reports whether err represents a transient exchange failure that
// warrants a retry. Rejected orders and local validation failures are not
// retryable.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrExchangeUnavailable)
}
