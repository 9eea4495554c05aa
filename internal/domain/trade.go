package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType indicates the time-in-force policy.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Till-Cancelled
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill
	OrderTypeFAK OrderType = "FAK" // Fill-And-Kill
)

// TradeStatus tracks the copy-trade lifecycle. PENDING is the only state a
// trade can be cancelled from; EXECUTED, PERMANENTLY_FAILED and CANCELLED
// are terminal.
type TradeStatus string

const (
	TradeStatusPending           TradeStatus = "PENDING"
	TradeStatusExecuted          TradeStatus = "EXECUTED"
	TradeStatusPartiallyFilled   TradeStatus = "PARTIALLY_FILLED"
	TradeStatusFailed            TradeStatus = "FAILED"
	TradeStatusPermanentlyFailed TradeStatus = "PERMANENTLY_FAILED"
	TradeStatusCancelled         TradeStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s TradeStatus) Terminal() bool {
	switch s {
	case TradeStatusExecuted, TradeStatusPermanentlyFailed, TradeStatusCancelled:
		return true
	default:
		return false
	}
}

// Trade is the unit of execution: one follower-account order generated from a
// source trader's position change, or from an Exit Manager forced close.
type Trade struct {
	ID              string
	TraderID        string // source trader, empty for manual/exit-only trades
	PositionID      string // follower position this trade opened or closed
	MarketID        string
	TokenID         string
	Outcome         string
	Side            OrderSide
	OrderType       OrderType
	RequestedAmount float64 // USDC notional requested
	LimitPrice      float64 // 0 for marketable orders
	ExecutedAmount  float64
	AvgFillPrice    float64
	FeeUSD          float64
	Status          TradeStatus
	FailureReason   string
	RetryCount      int
	NextRetryAt     *time.Time
	SourceChange    ChangeType // the change type that produced this copy
	ExchangeOrderID string
	SLTP            *SLTPConfig // exit policy armed when this trade opens a position; survives retries
	CreatedAt       time.Time
	ExecutedAt      *time.Time
	UpdatedAt       time.Time
}

// TradeParams describes an order the executor should place.
type TradeParams struct {
	TraderID     string
	PositionID   string
	MarketID     string
	TokenID      string
	Outcome      string
	Side         OrderSide
	OrderType    OrderType
	Amount       float64 // USDC notional
	LimitPrice   float64
	SourceChange ChangeType
	SLTP         *SLTPConfig // exit policy to arm on a newly opened position
}

// OrderRequest is the exchange-facing order shape consumed by the market
// client.
type OrderRequest struct {
	TokenID    string
	Side       OrderSide
	OrderType  OrderType
	Amount     float64 // USDC notional
	LimitPrice float64 // 0 lets the client derive a marketable price
}

// OrderResult wraps the exchange response after order submission.
type OrderResult struct {
	OrderID      string
	FilledAmount float64 // USDC notional actually filled
	AvgPrice     float64
	FeeUSD       float64
}
