package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"polycopy/internal/crypto"
	"polycopy/internal/domain"
)

// ClobClient is the authenticated client for the Polymarket CLOB: order
// placement and cancellation plus public quote reads.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.WalletSigner
	creds      *crypto.APICreds
}

// NewClobClient creates the CLOB client. creds may be nil until
// DeriveAPIKey has run.
func NewClobClient(baseURL string, signer *crypto.WalletSigner, creds *crypto.APICreds) *ClobClient {
	if baseURL == "" {
		baseURL = DefaultClobURL
	}
	return &ClobClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer: signer,
		creds:  creds,
	}
}

// DeriveAPIKey runs the L1 auth flow: sign a ClobAuth message and exchange it
// for HMAC credentials, which the client keeps for subsequent requests.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) error {
	timestamp := time.Now().Unix()
	sig, err := c.signer.SignAuth(timestamp, 0)
	if err != nil {
		return fmt.Errorf("polymarket/clob: auth signature: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: build auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", c.signer.Address().Hex())
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("POLY_NONCE", "0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: %w: auth: %v", domain.ErrExchangeUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: read auth response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return fmt.Errorf("polymarket/clob: derive api key: %w", err)
	}

	var derived struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(body, &derived); err != nil {
		return fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}
	c.creds = &crypto.APICreds{
		Key:        derived.APIKey,
		Secret:     derived.Secret,
		Passphrase: derived.Passphrase,
	}
	return nil
}

// PlaceOrder signs and submits an order. A marketable limit is required; the
// executor always supplies one. Rejections surface as ErrOrderRejected so the
// caller never retries them.
func (c *ClobClient) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if req.LimitPrice <= 0 {
		mid, err := c.GetMidpoint(ctx, req.TokenID)
		if err != nil {
			return domain.OrderResult{}, err
		}
		req.LimitPrice = mid
	}

	order, err := c.signer.BuildOrder(req.TokenID, req.Side, req.Amount, req.LimitPrice)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: %w", err)
	}

	orderType := req.OrderType
	if orderType == "" {
		orderType = domain.OrderTypeFAK
	}
	payload := map[string]any{
		"order":     order,
		"owner":     c.signer.Address().Hex(),
		"orderType": string(orderType),
	}

	body, err := c.do(ctx, http.MethodPost, "/order", payload)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var result apiOrderResult
	if err := json.Unmarshal(body, &result); err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	if !result.Success {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: %w: %s", domain.ErrOrderRejected, result.ErrorMsg)
	}

	filled, _ := strconv.ParseFloat(result.MakingAmount, 64)
	avg := req.LimitPrice
	if req.Side == domain.OrderSideBuy {
		// For buys the making amount is USDC spent; derive the average
		// price from the shares taken when present.
		if taken, perr := strconv.ParseFloat(result.TakingAmount, 64); perr == nil && taken > 0 {
			avg = filled / taken
		}
	} else {
		// For sells the making amount is shares; the taking amount is USDC.
		usdc, _ := strconv.ParseFloat(result.TakingAmount, 64)
		if filled > 0 {
			avg = usdc / filled
		}
		filled = usdc
	}
	if result.Status == "live" || result.Status == "delayed" {
		// Resting or delayed orders have no fill yet.
		filled = 0
	}

	return domain.OrderResult{
		OrderID:      result.OrderID,
		FilledAmount: filled,
		AvgPrice:     avg,
	}, nil
}

// CancelOrder cancels a resting order.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	body, err := c.do(ctx, http.MethodDelete, "/order", map[string]any{"orderID": orderID})
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel order %s: %w", orderID, err)
	}
	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("polymarket/clob: cancel failed: %s", result.ErrorMsg)
	}
	return nil
}

// GetMidpoint returns the order book midpoint for a token. This endpoint is
// public; no credentials required.
func (c *ClobClient) GetMidpoint(ctx context.Context, tokenID string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/midpoint?token_id="+tokenID, nil)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: build midpoint request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: %w: midpoint: %v", domain.ErrExchangeUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: read midpoint: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return 0, fmt.Errorf("polymarket/clob: midpoint %s: %w", tokenID, err)
	}

	var mid apiMidpoint
	if err := json.Unmarshal(body, &mid); err != nil {
		return 0, fmt.Errorf("polymarket/clob: decode midpoint: %w", err)
	}
	price, err := strconv.ParseFloat(mid.Mid, 64)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: midpoint %q: %w", mid.Mid, err)
	}
	return price, nil
}

// do builds, signs and sends an authenticated request, returning the body.
func (c *ClobClient) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var bodyStr string
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		bodyStr = string(raw)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.creds != nil {
		for k, v := range c.creds.Headers(c.signer.Address().Hex(), method, path, bodyStr) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExchangeUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx responses onto the engine's error sentinels:
// throttling and server faults are retryable, validation failures are not.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	msg := string(body)
	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg)
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrExchangeUnavailable, statusCode, msg)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrOrderRejected, statusCode, msg)
	}
}
