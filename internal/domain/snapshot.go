package domain

import "time"

// PositionSnapshot is one holding of a source trader at poll time, keyed by
// (TraderID, TokenID).
type PositionSnapshot struct {
	TraderID  string
	TokenID   string
	MarketID  string
	Outcome   string
	Shares    float64
	AvgPrice  float64
	CurPrice  float64
	FetchedAt time.Time
}

// ChangeType classifies a detected position delta between two polls.
type ChangeType string

const (
	ChangeNew       ChangeType = "NEW"
	ChangeIncreased ChangeType = "INCREASED"
	ChangeDecreased ChangeType = "DECREASED"
	ChangeClosed    ChangeType = "CLOSED"
)

// PositionChange is the delta between two consecutive polls of one trader's
// holdings for one token. Delta is always positive; Type carries the sign.
type PositionChange struct {
	Type           ChangeType
	TraderID       string
	TokenID        string
	MarketID       string
	Outcome        string
	PreviousShares float64
	CurrentShares  float64
	Delta          float64
	Price          float64
	DetectedAt     time.Time
}

// Side returns the follower action implied by the change: buys mirror
// NEW/INCREASED, sells mirror DECREASED/CLOSED.
func (c PositionChange) Side() OrderSide {
	switch c.Type {
	case ChangeNew, ChangeIncreased:
		return OrderSideBuy
	default:
		return OrderSideSell
	}
}
