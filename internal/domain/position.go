package domain

import "time"

// PositionStatus tracks the follower-side position state.
type PositionStatus string

const (
	PositionStatusOpen     PositionStatus = "OPEN"
	PositionStatusClosed   PositionStatus = "CLOSED"
	PositionStatusRedeemed PositionStatus = "REDEEMED"
)

// SLTPConfig is the optional stop-loss/take-profit exit policy attached to a
// position when it is opened, taken from the source trader's allocation
// policy. Percent values are expressed as e.g. 10 for 10%.
type SLTPConfig struct {
	StopLossPercent   float64
	TakeProfitPercent float64
	TrailingStop      bool
}

// Armed reports whether any exit rule is configured.
func (c SLTPConfig) Armed() bool {
	return c.StopLossPercent > 0 || c.TakeProfitPercent > 0
}

// Position is a follower-account holding created from copy-trade fills.
type Position struct {
	ID            string
	TraderID      string // source trader this position copies
	MarketID      string
	TokenID       string
	Outcome       string
	Side          OrderSide // direction of the opening trade
	Shares        float64
	EntryPrice    float64 // average entry across fills
	CurrentPrice  float64
	PeakPrice     float64 // running high-water mark for trailing stops
	UnrealizedPnL float64
	RealizedPnL   float64
	SLTP          *SLTPConfig
	Status        PositionStatus
	OpenedAt      time.Time
	ClosedAt      *time.Time
	ExitPrice     *float64
}

// PnLPercent computes the per-side percentage P&L of the position at the
// given price: BUY gains as price rises, SELL gains as it falls.
func (p Position) PnLPercent(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	switch p.Side {
	case OrderSideSell:
		return (p.EntryPrice - price) / p.EntryPrice * 100
	default:
		return (price - p.EntryPrice) / p.EntryPrice * 100
	}
}
