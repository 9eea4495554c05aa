package polymarket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"polycopy/internal/crypto"
	"polycopy/internal/domain"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func testSigner(t *testing.T) *crypto.WalletSigner {
	t.Helper()
	s, err := crypto.NewWalletSigner(testKey, ChainPolygon, DefaultExchangeAddr)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func testCreds() *crypto.APICreds {
	return &crypto.APICreds{Key: "k", Secret: "c2VjcmV0", Passphrase: "p"}
}

func TestCheckHTTPStatus(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{200, nil},
		{201, nil},
		{429, domain.ErrRateLimited},
		{401, domain.ErrUnauthorized},
		{403, domain.ErrUnauthorized},
		{404, domain.ErrNotFound},
		{500, domain.ErrExchangeUnavailable},
		{503, domain.ErrExchangeUnavailable},
		{400, domain.ErrOrderRejected},
		{422, domain.ErrOrderRejected},
	}
	for _, tt := range tests {
		err := checkHTTPStatus(tt.code, []byte("detail"))
		if tt.want == nil {
			if err != nil {
				t.Errorf("status %d: err = %v, want nil", tt.code, err)
			}
			continue
		}
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: err = %v, want %v", tt.code, err, tt.want)
		}
	}
}

func TestPlaceOrderMatched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/order" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("POLY_SIGNATURE") == "" {
			t.Error("missing auth headers")
		}
		w.Write([]byte(`{"success":true,"orderID":"ox-1","status":"matched","makingAmount":"10","takingAmount":"20"}`))
	}))
	defer srv.Close()

	c := NewClobClient(srv.URL, testSigner(t), testCreds())
	got, err := c.PlaceOrder(context.Background(), domain.OrderRequest{
		TokenID:    "123",
		Side:       domain.OrderSideBuy,
		OrderType:  domain.OrderTypeFAK,
		Amount:     10,
		LimitPrice: 0.5,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if got.OrderID != "ox-1" {
		t.Errorf("order id = %s", got.OrderID)
	}
	if got.FilledAmount != 10 {
		t.Errorf("filled = %v, want 10", got.FilledAmount)
	}
	if got.AvgPrice != 0.5 {
		t.Errorf("avg price = %v, want 0.5", got.AvgPrice)
	}
}

func TestPlaceOrderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"errorMsg":"not enough balance"}`))
	}))
	defer srv.Close()

	c := NewClobClient(srv.URL, testSigner(t), testCreds())
	_, err := c.PlaceOrder(context.Background(), domain.OrderRequest{
		TokenID:    "123",
		Side:       domain.OrderSideBuy,
		Amount:     10,
		LimitPrice: 0.5,
	})
	if !errors.Is(err, domain.ErrOrderRejected) {
		t.Errorf("err = %v, want ErrOrderRejected", err)
	}
}

func TestPlaceOrderThrottled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClobClient(srv.URL, testSigner(t), testCreds())
	_, err := c.PlaceOrder(context.Background(), domain.OrderRequest{
		TokenID:    "123",
		Side:       domain.OrderSideBuy,
		Amount:     10,
		LimitPrice: 0.5,
	})
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited", err)
	}
	if !domain.Retryable(err) {
		t.Error("throttled order placement is not retryable")
	}
}

func TestGetMidpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/midpoint" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("token_id") != "123" {
			t.Errorf("token_id = %s", r.URL.Query().Get("token_id"))
		}
		w.Write([]byte(`{"mid":"0.475"}`))
	}))
	defer srv.Close()

	c := NewClobClient(srv.URL, testSigner(t), nil)
	mid, err := c.GetMidpoint(context.Background(), "123")
	if err != nil {
		t.Fatalf("GetMidpoint: %v", err)
	}
	if mid != 0.475 {
		t.Errorf("mid = %v, want 0.475", mid)
	}
}

func TestDeriveAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/derive-api-key" {
			t.Errorf("path = %s", r.URL.Path)
		}
		for _, h := range []string{"POLY_ADDRESS", "POLY_SIGNATURE", "POLY_TIMESTAMP", "POLY_NONCE"} {
			if r.Header.Get(h) == "" {
				t.Errorf("missing header %s", h)
			}
		}
		w.Write([]byte(`{"apiKey":"ak","secret":"c2VjcmV0","passphrase":"pp"}`))
	}))
	defer srv.Close()

	c := NewClobClient(srv.URL, testSigner(t), nil)
	if err := c.DeriveAPIKey(context.Background()); err != nil {
		t.Fatalf("DeriveAPIKey: %v", err)
	}
	if c.creds == nil || c.creds.Key != "ak" {
		t.Errorf("credentials not stored: %+v", c.creds)
	}
}
