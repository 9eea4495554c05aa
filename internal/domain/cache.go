package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest token prices, kept warm by
// the market WS feed and used by the Risk Gate and Exit Manager.
type PriceCache interface {
	SetPrice(ctx context.Context, tokenID string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, tokenID string) (float64, time.Time, error)
	GetPrices(ctx context.Context, tokenIDs []string) (map[string]float64, error)
}

// RateLimiter budgets calls against the exchange API.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides the per-trader advisory lock serializing the
// size → risk-check → execute sequence.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// Broadcaster is the fire-and-forget notification surface. Delivery is
// best-effort; engine correctness never depends on a broadcast succeeding.
type Broadcaster interface {
	Broadcast(ctx context.Context, event string, payload any)
}

// Broadcast event names.
const (
	EventTradeNew         = "trade:new"
	EventTradeUpdated     = "trade:updated"
	EventPositionOpened   = "position:opened"
	EventPositionUpdated  = "position:updated"
	EventPositionClosed   = "position:closed"
	EventRiskAlert        = "risk:alert"
	EventRiskSLTP         = "risk:sltp"
	EventPositionDetected = "trader:positionDetected"
)

// StreamMessage represents a single entry from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams for broadcast delivery to
// the dashboard and other out-of-process consumers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
