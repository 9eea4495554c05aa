// Package polymarket holds the REST clients for the Polymarket data API
// (public position reads) and the CLOB API (authenticated order flow).
package polymarket

import (
	"time"

	"polycopy/internal/domain"
)

// Default API roots.
const (
	DefaultDataURL = "https://data-api.polymarket.com"
	DefaultClobURL = "https://clob.polymarket.com"
	// DefaultExchangeAddr is the CTF Exchange contract on Polygon.
	DefaultExchangeAddr = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	// ChainPolygon is the Polygon mainnet chain ID.
	ChainPolygon = 137
)

// apiPosition is one row of the data API /positions response.
type apiPosition struct {
	ProxyWallet  string  `json:"proxyWallet"`
	Asset        string  `json:"asset"` // ERC-1155 token ID
	ConditionID  string  `json:"conditionId"`
	Size         float64 `json:"size"`
	AvgPrice     float64 `json:"avgPrice"`
	CurPrice     float64 `json:"curPrice"`
	CurrentValue float64 `json:"currentValue"`
	Outcome      string  `json:"outcome"`
	Title        string  `json:"title"`
	Redeemable   bool    `json:"redeemable"`
}

// toSnapshot converts an API row into the engine's snapshot shape.
func (p apiPosition) toSnapshot(traderID string, at time.Time) domain.PositionSnapshot {
	return domain.PositionSnapshot{
		TraderID:  traderID,
		TokenID:   p.Asset,
		MarketID:  p.ConditionID,
		Outcome:   p.Outcome,
		Shares:    p.Size,
		AvgPrice:  p.AvgPrice,
		CurPrice:  p.CurPrice,
		FetchedAt: at,
	}
}

// apiOrderResult is the CLOB response to order placement.
type apiOrderResult struct {
	Success            bool     `json:"success"`
	ErrorMsg           string   `json:"errorMsg"`
	OrderID            string   `json:"orderID"`
	Status             string   `json:"status"` // matched, live, delayed, unmatched
	TakingAmount       string   `json:"takingAmount"`
	MakingAmount       string   `json:"makingAmount"`
	TransactionsHashes []string `json:"transactionsHashes"`
}

// apiMidpoint is the CLOB /midpoint response.
type apiMidpoint struct {
	Mid string `json:"mid"`
}
