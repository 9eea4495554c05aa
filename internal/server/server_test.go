package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"polycopy/internal/domain"
	"polycopy/internal/server/handler"
)

type emptyTraderStore struct{}

func (emptyTraderStore) Upsert(context.Context, domain.MonitoredTrader) error { return nil }
func (emptyTraderStore) GetByID(context.Context, string) (domain.MonitoredTrader, error) {
	return domain.MonitoredTrader{}, domain.ErrNotFound
}
func (emptyTraderStore) ListEnabled(context.Context) ([]domain.MonitoredTrader, error) {
	return nil, nil
}
func (emptyTraderStore) Delete(context.Context, string) error { return nil }

type emptyTradeStore struct{}

func (emptyTradeStore) Create(context.Context, domain.Trade) error { return nil }
func (emptyTradeStore) Update(context.Context, domain.Trade) error { return nil }
func (emptyTradeStore) GetByID(context.Context, string) (domain.Trade, error) {
	return domain.Trade{}, domain.ErrNotFound
}
func (emptyTradeStore) ListByStatus(context.Context, domain.TradeStatus, domain.ListOpts) ([]domain.Trade, error) {
	return nil, nil
}
func (emptyTradeStore) ListByTrader(context.Context, string, domain.ListOpts) ([]domain.Trade, error) {
	return nil, nil
}
func (emptyTradeStore) ListTerminalBefore(context.Context, time.Time, domain.ListOpts) ([]domain.Trade, error) {
	return nil, nil
}

type idleMonitor struct{}

func (idleMonitor) StartMonitoring(context.Context, domain.MonitoredTrader) {}
func (idleMonitor) StopMonitoring(string)                                   {}
func (idleMonitor) Monitored(string) bool                                   { return false }

type zeroRisk struct{}

func (zeroRisk) Drawdown(string) float64      { return 0 }
func (zeroRisk) Halted(string) bool           { return false }
func (zeroRisk) DailyRealized(string) float64 { return 0 }

func testServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	engine := handler.NewEngineHandler(
		context.Background(), emptyTraderStore{}, emptyTradeStore{},
		idleMonitor{}, nil, nil, zeroRisk{}, logger,
	)
	return New(cfg, engine, handler.NewHealthHandler(), nil, nil, logger)
}

func TestHealthzBypassesAuth(t *testing.T) {
	srv := testServer(t, Config{Port: 0, APIKey: "secret"})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", rec.Code)
	}
}

func TestAPIRequiresKey(t *testing.T) {
	srv := testServer(t, Config{Port: 0, APIKey: "secret"})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/traders", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/traders", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200", rec.Code)
	}
}

func TestCopyEndpointsConflictInWatchMode(t *testing.T) {
	srv := testServer(t, Config{Port: 0})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/copying/start", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("copying/start status = %d, want 409", rec.Code)
	}
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	srv := testServer(t, Config{Port: 0, CORSOrigins: []string{"http://localhost:3000"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/traders", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("allow-origin = %q", got)
	}
}
