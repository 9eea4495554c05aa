package risk

import (
	"context"
	"log/slog"
	"time"

	"polycopy/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// mockPositionStore serves a fixed set of open positions.
type mockPositionStore struct {
	open []domain.Position
	err  error
}

func (m *mockPositionStore) Create(ctx context.Context, p domain.Position) error { return nil }
func (m *mockPositionStore) Update(ctx context.Context, p domain.Position) error { return nil }
func (m *mockPositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	return domain.Position{}, domain.ErrNotFound
}
func (m *mockPositionStore) GetOpenByToken(ctx context.Context, traderID, tokenID string) (domain.Position, error) {
	return domain.Position{}, domain.ErrNotFound
}
func (m *mockPositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	return m.open, m.err
}
func (m *mockPositionStore) ListOpenByTrader(ctx context.Context, traderID string) ([]domain.Position, error) {
	return m.open, m.err
}

// mockPriceCache serves fixed prices.
type mockPriceCache struct {
	prices map[string]float64
}

func (m *mockPriceCache) SetPrice(ctx context.Context, tokenID string, price float64, ts time.Time) error {
	return nil
}
func (m *mockPriceCache) GetPrice(ctx context.Context, tokenID string) (float64, time.Time, error) {
	p, ok := m.prices[tokenID]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p, time.Now(), nil
}
func (m *mockPriceCache) GetPrices(ctx context.Context, tokenIDs []string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, id := range tokenIDs {
		if p, ok := m.prices[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// stubDrawdown satisfies DrawdownReader with fixed values.
type stubDrawdown struct {
	drawdown float64
	halted   bool
	daily    float64
}

func (s *stubDrawdown) Drawdown(traderID string) float64      { return s.drawdown }
func (s *stubDrawdown) Halted(traderID string) bool           { return s.halted }
func (s *stubDrawdown) DailyRealized(traderID string) float64 { return s.daily }
