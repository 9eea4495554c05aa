package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"polycopy/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// memTradeStore is an in-memory TradeStore that records every status a trade
// passes through.
type memTradeStore struct {
	mu       sync.Mutex
	trades   map[string]domain.Trade
	statuses map[string][]domain.TradeStatus
}

func newMemTradeStore() *memTradeStore {
	return &memTradeStore{
		trades:   make(map[string]domain.Trade),
		statuses: make(map[string][]domain.TradeStatus),
	}
}

func (s *memTradeStore) Create(_ context.Context, t domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trades[t.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.trades[t.ID] = t
	s.statuses[t.ID] = append(s.statuses[t.ID], t.Status)
	return nil
}

func (s *memTradeStore) Update(_ context.Context, t domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trades[t.ID]; !ok {
		return domain.ErrNotFound
	}
	s.trades[t.ID] = t
	s.statuses[t.ID] = append(s.statuses[t.ID], t.Status)
	return nil
}

func (s *memTradeStore) GetByID(_ context.Context, id string) (domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[id]
	if !ok {
		return domain.Trade{}, domain.ErrNotFound
	}
	return t, nil
}

func (s *memTradeStore) ListByStatus(_ context.Context, status domain.TradeStatus, _ domain.ListOpts) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for _, t := range s.trades {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memTradeStore) ListByTrader(_ context.Context, traderID string, _ domain.ListOpts) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for _, t := range s.trades {
		if t.TraderID == traderID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memTradeStore) ListTerminalBefore(_ context.Context, before time.Time, _ domain.ListOpts) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for _, t := range s.trades {
		if t.Status.Terminal() && t.UpdatedAt.Before(before) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memTradeStore) history(id string) []domain.TradeStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.TradeStatus(nil), s.statuses[id]...)
}

// memPositionStore is an in-memory PositionStore.
type memPositionStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
}

func newMemPositionStore() *memPositionStore {
	return &memPositionStore{positions: make(map[string]domain.Position)}
}

func (s *memPositionStore) Create(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.ID] = p
	return nil
}

func (s *memPositionStore) Update(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[p.ID]; !ok {
		return domain.ErrNotFound
	}
	s.positions[p.ID] = p
	return nil
}

func (s *memPositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *memPositionStore) GetOpenByToken(_ context.Context, traderID, tokenID string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.positions {
		if p.TraderID == traderID && p.TokenID == tokenID && p.Status == domain.PositionStatusOpen {
			return p, nil
		}
	}
	return domain.Position{}, domain.ErrNotFound
}

func (s *memPositionStore) ListOpen(_ context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.positions {
		if p.Status == domain.PositionStatusOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memPositionStore) ListOpenByTrader(_ context.Context, traderID string) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.positions {
		if p.TraderID == traderID && p.Status == domain.PositionStatusOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

// scriptedClient returns canned results or errors per call.
type scriptedClient struct {
	mu      sync.Mutex
	calls   int
	results []domain.OrderResult
	errs    []error
}

func (c *scriptedClient) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return domain.OrderResult{}, c.errs[i]
	}
	if i < len(c.results) {
		return c.results[i], nil
	}
	return domain.OrderResult{
		OrderID:      fmt.Sprintf("order-%d", i),
		FilledAmount: req.Amount,
		AvgPrice:     0.5,
	}, nil
}

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// fakeScheduler records Schedule/Cancel calls without running a loop.
type fakeScheduler struct {
	mu        sync.Mutex
	scheduled []string
	cancelled []string
}

func (f *fakeScheduler) Schedule(tradeID string, retryCount int) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, tradeID)
	return time.Now().UTC().Add(time.Duration(retryCount) * time.Second)
}

func (f *fakeScheduler) Cancel(tradeID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, tradeID)
}

func (f *fakeScheduler) scheduleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scheduled)
}
