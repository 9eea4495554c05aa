package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"polycopy/internal/copier"
	"polycopy/internal/domain"
)

type stubTraderStore struct {
	traders map[string]domain.MonitoredTrader
	upserts []domain.MonitoredTrader
}

func newStubTraderStore() *stubTraderStore {
	return &stubTraderStore{traders: make(map[string]domain.MonitoredTrader)}
}

func (s *stubTraderStore) Upsert(_ context.Context, t domain.MonitoredTrader) error {
	s.traders[t.ID] = t
	s.upserts = append(s.upserts, t)
	return nil
}

func (s *stubTraderStore) GetByID(_ context.Context, id string) (domain.MonitoredTrader, error) {
	t, ok := s.traders[id]
	if !ok {
		return domain.MonitoredTrader{}, domain.ErrNotFound
	}
	return t, nil
}

func (s *stubTraderStore) ListEnabled(context.Context) ([]domain.MonitoredTrader, error) {
	var out []domain.MonitoredTrader
	for _, t := range s.traders {
		if t.Policy.Enabled {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *stubTraderStore) Delete(_ context.Context, id string) error {
	delete(s.traders, id)
	return nil
}

type stubTradeStore struct {
	byTrader map[string][]domain.Trade
}

func (s *stubTradeStore) Create(context.Context, domain.Trade) error { return nil }
func (s *stubTradeStore) Update(context.Context, domain.Trade) error { return nil }
func (s *stubTradeStore) GetByID(context.Context, string) (domain.Trade, error) {
	return domain.Trade{}, domain.ErrNotFound
}
func (s *stubTradeStore) ListByStatus(context.Context, domain.TradeStatus, domain.ListOpts) ([]domain.Trade, error) {
	return nil, nil
}
func (s *stubTradeStore) ListByTrader(_ context.Context, traderID string, _ domain.ListOpts) ([]domain.Trade, error) {
	return s.byTrader[traderID], nil
}
func (s *stubTradeStore) ListTerminalBefore(context.Context, time.Time, domain.ListOpts) ([]domain.Trade, error) {
	return nil, nil
}

type fakeMonitor struct {
	watching map[string]bool
}

func (f *fakeMonitor) StartMonitoring(_ context.Context, t domain.MonitoredTrader) {
	f.watching[t.ID] = true
}
func (f *fakeMonitor) StopMonitoring(id string) { delete(f.watching, id) }
func (f *fakeMonitor) Monitored(id string) bool { return f.watching[id] }

type fakeCopy struct {
	active bool
	stats  copier.Stats
}

func (f *fakeCopy) Start(context.Context)  { f.active = true }
func (f *fakeCopy) Stop()                  { f.active = false }
func (f *fakeCopy) IsActive() bool         { return f.active }
func (f *fakeCopy) Snapshot() copier.Stats { return f.stats }

type fakeExec struct {
	trades map[string]domain.Trade
	err    error
}

func (f *fakeExec) RetryTrade(_ context.Context, id string) (domain.Trade, error) {
	return f.lookup(id)
}
func (f *fakeExec) CancelTrade(_ context.Context, id string) (domain.Trade, error) {
	return f.lookup(id)
}
func (f *fakeExec) GetTrade(_ context.Context, id string) (domain.Trade, error) {
	return f.lookup(id)
}
func (f *fakeExec) lookup(id string) (domain.Trade, error) {
	if f.err != nil {
		return domain.Trade{}, f.err
	}
	t, ok := f.trades[id]
	if !ok {
		return domain.Trade{}, domain.ErrNotFound
	}
	return t, nil
}

type fakeRisk struct{}

func (fakeRisk) Drawdown(string) float64      { return 2.5 }
func (fakeRisk) Halted(string) bool           { return false }
func (fakeRisk) DailyRealized(string) float64 { return -1.25 }

func testHandler(traders *stubTraderStore, trades *stubTradeStore, exec *fakeExec, cp *fakeCopy) (*EngineHandler, *fakeMonitor) {
	mon := &fakeMonitor{watching: make(map[string]bool)}
	if trades == nil {
		trades = &stubTradeStore{}
	}
	if exec == nil {
		exec = &fakeExec{trades: make(map[string]domain.Trade)}
	}
	if cp == nil {
		cp = &fakeCopy{}
	}
	h := NewEngineHandler(context.Background(), traders, trades, mon, cp, exec, fakeRisk{}, slog.New(slog.DiscardHandler))
	return h, mon
}

func serve(h http.HandlerFunc, method, target, body string, pathID string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	if pathID != "" {
		req.SetPathValue("id", pathID)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestMonitorCreatesTraderAndStartsWatching(t *testing.T) {
	traders := newStubTraderStore()
	h, mon := testHandler(traders, nil, nil, nil)

	body := `{"wallet":"0xabc","label":"whale","policy":{"allocation_percent":20,"min_trade_amount":1}}`
	rec := serve(h.Monitor, http.MethodPost, "/api/traders/t1/monitor", body, "t1")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if !mon.Monitored("t1") {
		t.Fatal("trader not monitored after request")
	}

	saved := traders.traders["t1"]
	if saved.Wallet != "0xabc" || !saved.Policy.Enabled {
		t.Fatalf("saved trader = %+v", saved)
	}
	if saved.Policy.AllocationPercent != 20 {
		t.Fatalf("allocation = %v, want 20", saved.Policy.AllocationPercent)
	}
}

func TestMonitorNewTraderRequiresWallet(t *testing.T) {
	h, _ := testHandler(newStubTraderStore(), nil, nil, nil)

	rec := serve(h.Monitor, http.MethodPost, "/api/traders/t1/monitor", `{}`, "t1")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUnmonitorDisablesAndStops(t *testing.T) {
	traders := newStubTraderStore()
	traders.traders["t1"] = domain.MonitoredTrader{
		ID: "t1", Wallet: "0xabc",
		Policy: domain.AllocationPolicy{Enabled: true},
	}
	h, mon := testHandler(traders, nil, nil, nil)
	mon.watching["t1"] = true

	rec := serve(h.Unmonitor, http.MethodPost, "/api/traders/t1/unmonitor", "", "t1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if mon.Monitored("t1") {
		t.Fatal("trader still monitored")
	}
	if traders.traders["t1"].Policy.Enabled {
		t.Fatal("policy still enabled")
	}
}

func TestUnmonitorUnknownTraderIs404(t *testing.T) {
	h, _ := testHandler(newStubTraderStore(), nil, nil, nil)

	rec := serve(h.Unmonitor, http.MethodPost, "/api/traders/nope/unmonitor", "", "nope")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCopyingStartStop(t *testing.T) {
	cp := &fakeCopy{}
	h, _ := testHandler(newStubTraderStore(), nil, nil, cp)

	rec := serve(h.StartCopying, http.MethodPost, "/api/copying/start", "", "")
	if rec.Code != http.StatusOK || !cp.active {
		t.Fatalf("start: status = %d active = %v", rec.Code, cp.active)
	}

	rec = serve(h.StopCopying, http.MethodPost, "/api/copying/stop", "", "")
	if rec.Code != http.StatusOK || cp.active {
		t.Fatalf("stop: status = %d active = %v", rec.Code, cp.active)
	}
}

func TestRetryTerminalTradeIs409(t *testing.T) {
	exec := &fakeExec{err: domain.ErrTradeTerminal}
	h, _ := testHandler(newStubTraderStore(), nil, exec, nil)

	rec := serve(h.RetryTrade, http.MethodPost, "/api/trades/tr1/retry", "", "tr1")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestGetTradeRendersFields(t *testing.T) {
	exec := &fakeExec{trades: map[string]domain.Trade{
		"tr1": {
			ID:              "tr1",
			TraderID:        "t1",
			Side:            domain.OrderSideBuy,
			Status:          domain.TradeStatusExecuted,
			RequestedAmount: 10,
			ExecutedAmount:  10,
			AvgFillPrice:    0.5,
		},
	}}
	h, _ := testHandler(newStubTraderStore(), nil, exec, nil)

	rec := serve(h.GetTrade, http.MethodGet, "/api/trades/tr1", "", "tr1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	if got["id"] != "tr1" || got["status"] != "EXECUTED" || got["avg_fill_price"] != 0.5 {
		t.Fatalf("unexpected body: %v", got)
	}
}

func TestStatsReportsCountersAndRisk(t *testing.T) {
	traders := newStubTraderStore()
	traders.traders["t1"] = domain.MonitoredTrader{
		ID: "t1", Policy: domain.AllocationPolicy{Enabled: true},
	}
	cp := &fakeCopy{active: true, stats: copier.Stats{Attempted: 5, Succeeded: 3, Declined: 1, Failed: 1}}
	h, mon := testHandler(traders, nil, nil, cp)
	mon.watching["t1"] = true

	rec := serve(h.Stats, http.MethodGet, "/api/stats", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var got struct {
		Copying bool             `json:"copying"`
		Trades  map[string]int64 `json:"trades"`
		Traders []map[string]any `json:"traders"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	if !got.Copying {
		t.Fatal("copying = false, want true")
	}
	if got.Trades["attempted"] != 5 || got.Trades["succeeded"] != 3 {
		t.Fatalf("trade counters = %v", got.Trades)
	}
	if len(got.Traders) != 1 || got.Traders[0]["drawdown_percent"] != 2.5 {
		t.Fatalf("trader risk = %v", got.Traders)
	}
}
