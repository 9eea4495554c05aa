package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"polycopy/internal/domain"
)

// DataClient reads public wallet state from the Polymarket data API. No
// authentication is required; the position watcher polls through it.
type DataClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    domain.RateLimiter // nil disables budgeting
	rateKey    string
	rateLimit  int
	rateWindow time.Duration
}

// NewDataClient creates a DataClient. An empty baseURL uses the production
// API.
func NewDataClient(baseURL string, limiter domain.RateLimiter) *DataClient {
	if baseURL == "" {
		baseURL = DefaultDataURL
	}
	return &DataClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter:    limiter,
		rateKey:    "data:positions",
		rateLimit:  30,
		rateWindow: 10 * time.Second,
	}
}

// GetPositions returns the wallet's current holdings keyed by token ID.
// Redeemable rows (resolved markets awaiting claim) are excluded; they are
// no longer tradeable and must not look like live exposure.
func (c *DataClient) GetPositions(ctx context.Context, wallet string) ([]domain.PositionSnapshot, error) {
	if wallet == "" {
		return nil, fmt.Errorf("polymarket/data: empty wallet")
	}
	if c.limiter != nil {
		ok, err := c.limiter.Allow(ctx, c.rateKey, c.rateLimit, c.rateWindow)
		if err == nil && !ok {
			return nil, fmt.Errorf("polymarket/data: %w: positions poll budget", domain.ErrRateLimited)
		}
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: parse base url: %w", err)
	}
	u.Path = "/positions"
	q := u.Query()
	q.Set("user", wallet)
	q.Set("sizeThreshold", "0")
	q.Set("limit", "500")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: %w: %v", domain.ErrExchangeUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, fmt.Errorf("polymarket/data: positions: %w", err)
	}

	var rows []apiPosition
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("polymarket/data: decode positions: %w", err)
	}

	now := time.Now().UTC()
	out := make([]domain.PositionSnapshot, 0, len(rows))
	for _, row := range rows {
		if row.Redeemable || row.Size <= 0 {
			continue
		}
		out = append(out, row.toSnapshot("", now))
	}
	return out, nil
}
