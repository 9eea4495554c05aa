package domain

import "time"

// AllocationPolicy controls how a source trader's activity is sized into
// follower orders.
type AllocationPolicy struct {
	// AllocationPercent of the source trade size mirrored into the follower
	// account, e.g. 20 means one fifth.
	AllocationPercent float64
	// MaxPositionSize caps a single follower order in USDC. Zero means no cap.
	MaxPositionSize float64
	// MinTradeAmount is the floor below which sized orders are not placed.
	MinTradeAmount float64
	// SlippageTolerancePercent widens the limit price on copy orders.
	SlippageTolerancePercent float64
	// StopLossPercent / TakeProfitPercent, when > 0, attach an SLTP config to
	// positions opened from this trader's copies.
	StopLossPercent   float64
	TakeProfitPercent float64
	// TrailingStop switches the stop-loss floor to track the running peak
	// price instead of the entry price.
	TrailingStop bool
	Enabled      bool
}

// MonitoredTrader is a source trader the engine follows.
type MonitoredTrader struct {
	ID           string
	Label        string
	Wallet       string // proxy wallet address on the exchange
	PollInterval time.Duration
	Policy       AllocationPolicy
	Limits       *RiskLimits // nil means the global limits apply
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
