// Package exit enforces position-level stop-loss/take-profit rules and feeds
// the per-trader drawdown monitor on a fixed cadence.
package exit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"polycopy/internal/domain"
)

// DefaultInterval between evaluation sweeps.
const DefaultInterval = 5 * time.Second

// TradeExecutor places the closing orders triggered by exit rules.
type TradeExecutor interface {
	Execute(ctx context.Context, params domain.TradeParams) (domain.Trade, error)
}

// BalanceTracker receives per-trader equity updates; implemented by the
// drawdown monitor.
type BalanceTracker interface {
	UpdateBalance(ctx context.Context, traderID string, balance, maxDrawdownPercent float64) domain.DrawdownSnapshot
	DailyRealized(traderID string) float64
}

// Config holds exit manager tunables.
type Config struct {
	Interval time.Duration
	// BaseCapital is the follower capital attributed to each source trader
	// when computing equity for drawdown tracking.
	BaseCapital float64
}

// Manager sweeps open positions on a ticker, closes the ones whose SLTP rules
// trigger, and reports per-trader equity to the balance tracker.
type Manager struct {
	positions domain.PositionStore
	traders   domain.TraderStore
	prices    domain.PriceCache // nil falls back to stored prices
	exec      TradeExecutor
	tracker   BalanceTracker
	signals   domain.SignalBus // nil disables broadcasts
	global    domain.RiskLimits
	cfg       Config
	logger    *slog.Logger

	mu      sync.Mutex
	closing map[string]bool // position IDs with a close in flight
}

// New creates a Manager. Call Run to start the sweep loop.
func New(
	positions domain.PositionStore,
	traders domain.TraderStore,
	prices domain.PriceCache,
	exec TradeExecutor,
	tracker BalanceTracker,
	signals domain.SignalBus,
	global domain.RiskLimits,
	cfg Config,
	logger *slog.Logger,
) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Manager{
		positions: positions,
		traders:   traders,
		prices:    prices,
		exec:      exec,
		tracker:   tracker,
		signals:   signals,
		global:    global,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "exit_manager")),
		closing:   make(map[string]bool),
	}
}

// Run sweeps until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep evaluates every open position once and updates drawdown tracking.
func (m *Manager) Sweep(ctx context.Context) {
	open, err := m.positions.ListOpen(ctx)
	if err != nil {
		m.logger.Error("list open positions", slog.String("error", err.Error()))
		return
	}

	priced := m.refreshPrices(ctx, open)
	equity := make(map[string]float64)
	for i := range priced {
		pos := priced[i]
		if pos.TraderID != "" {
			equity[pos.TraderID] += (pos.CurrentPrice - pos.EntryPrice) * pos.Shares
		}
		m.evaluate(ctx, pos)
	}
	m.updateBalances(ctx, equity)
}

// refreshPrices overlays cached prices onto the stored positions and persists
// peak-price advances for trailing stops.
func (m *Manager) refreshPrices(ctx context.Context, open []domain.Position) []domain.Position {
	if m.prices == nil || len(open) == 0 {
		return open
	}
	tokens := make([]string, 0, len(open))
	for _, pos := range open {
		tokens = append(tokens, pos.TokenID)
	}
	latest, err := m.prices.GetPrices(ctx, tokens)
	if err != nil {
		m.logger.Warn("price refresh failed, using stored prices", slog.String("error", err.Error()))
		return open
	}
	for i := range open {
		price, ok := latest[open[i].TokenID]
		if !ok || price <= 0 {
			continue
		}
		open[i].CurrentPrice = price
		if price > open[i].PeakPrice {
			open[i].PeakPrice = price
			if err := m.positions.Update(ctx, open[i]); err != nil {
				m.logger.Warn("peak price update failed",
					slog.String("position_id", open[i].ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	return open
}

// evaluate applies the position's SLTP rules and places a closing order when
// one triggers. At most one close per position is in flight at a time.
func (m *Manager) evaluate(ctx context.Context, pos domain.Position) {
	if pos.SLTP == nil || !pos.SLTP.Armed() || pos.CurrentPrice <= 0 {
		return
	}
	trigger, detail := m.trigger(pos)
	if trigger == "" {
		return
	}

	m.mu.Lock()
	if m.closing[pos.ID] {
		m.mu.Unlock()
		return
	}
	m.closing[pos.ID] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.closing, pos.ID)
		m.mu.Unlock()
	}()

	closeSide := domain.OrderSideSell
	if pos.Side == domain.OrderSideSell {
		closeSide = domain.OrderSideBuy
	}

	m.logger.Info("exit rule triggered",
		slog.String("position_id", pos.ID),
		slog.String("trigger", trigger),
		slog.String("detail", detail),
		slog.Float64("price", pos.CurrentPrice),
	)
	m.broadcast(ctx, pos, trigger, detail)

	trade, err := m.exec.Execute(ctx, domain.TradeParams{
		TraderID:     pos.TraderID,
		PositionID:   pos.ID,
		MarketID:     pos.MarketID,
		TokenID:      pos.TokenID,
		Outcome:      pos.Outcome,
		Side:         closeSide,
		OrderType:    domain.OrderTypeFAK,
		Amount:       pos.Shares * pos.CurrentPrice,
		SourceChange: domain.ChangeClosed,
	})
	if err != nil {
		m.logger.Error("exit close failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	m.logger.Info("exit close placed",
		slog.String("position_id", pos.ID),
		slog.String("trade_id", trade.ID),
		slog.String("status", string(trade.Status)),
	)
}

// trigger names the exit rule the position hit, if any.
func (m *Manager) trigger(pos domain.Position) (name, detail string) {
	pnl := pos.PnLPercent(pos.CurrentPrice)

	if tp := pos.SLTP.TakeProfitPercent; tp > 0 && pnl >= tp {
		return "take_profit", detailPct(pnl, tp)
	}
	sl := pos.SLTP.StopLossPercent
	if sl <= 0 {
		return "", ""
	}
	if pos.SLTP.TrailingStop && pos.Side == domain.OrderSideBuy && pos.PeakPrice > 0 {
		drop := (pos.PeakPrice - pos.CurrentPrice) / pos.PeakPrice * 100
		if drop >= sl {
			return "trailing_stop", detailPct(-drop, sl)
		}
		return "", ""
	}
	if pnl <= -sl {
		return "stop_loss", detailPct(pnl, sl)
	}
	return "", ""
}

func detailPct(pnl, limit float64) string {
	b, _ := json.Marshal(map[string]float64{"pnl_percent": pnl, "limit_percent": limit})
	return string(b)
}

// updateBalances reports per-trader equity to the drawdown monitor. Equity is
// the attributed base capital plus today's realized result plus open
// unrealized P&L.
func (m *Manager) updateBalances(ctx context.Context, unrealized map[string]float64) {
	if m.tracker == nil {
		return
	}
	monitored, err := m.traders.ListEnabled(ctx)
	if err != nil {
		m.logger.Warn("trader list failed", slog.String("error", err.Error()))
		return
	}
	for _, trader := range monitored {
		limits := m.global
		if trader.Limits != nil {
			limits = *trader.Limits
		}
		balance := m.cfg.BaseCapital + m.tracker.DailyRealized(trader.ID) + unrealized[trader.ID]
		snap := m.tracker.UpdateBalance(ctx, trader.ID, balance, limits.MaxDrawdownPercent)
		if snap.DrawdownPercent > 0 {
			m.logger.Debug("drawdown updated",
				slog.String("trader_id", trader.ID),
				slog.Float64("drawdown_percent", snap.DrawdownPercent),
			)
		}
	}
}

func (m *Manager) broadcast(ctx context.Context, pos domain.Position, trigger, detail string) {
	if m.signals == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event":       domain.EventRiskSLTP,
		"position_id": pos.ID,
		"trader_id":   pos.TraderID,
		"token_id":    pos.TokenID,
		"trigger":     trigger,
		"price":       pos.CurrentPrice,
		"detail":      detail,
	})
	if err != nil {
		return
	}
	if pubErr := m.signals.Publish(ctx, "risk", payload); pubErr != nil {
		m.logger.Warn("sltp broadcast failed", slog.String("error", pubErr.Error()))
	}
}
