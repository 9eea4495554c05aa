package risk

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"polycopy/internal/domain"
)

// MonitorConfig tunes where the graded alerts fire relative to each trader's
// max-drawdown limit.
type MonitorConfig struct {
	// WarningFraction and CriticalFraction of the max-drawdown limit at
	// which WARNING and CRITICAL alerts are raised.
	WarningFraction  float64
	CriticalFraction float64
}

// DefaultMonitorConfig warns at half the limit and escalates at 80%.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{WarningFraction: 0.5, CriticalFraction: 0.8}
}

// traderState is the in-memory drawdown tracking for one trader.
type traderState struct {
	peak      float64
	balance   float64
	dailyPnL  float64
	day       time.Time // UTC midnight the dailyPnL accumulates against
	halted    bool
	lastLevel domain.AlertLevel
}

// Monitor tracks per-trader balance peaks and drawdown, raises graded alerts,
// and holds the halt flag the risk gate consults. Snapshots are persisted
// through the DrawdownStore each update.
type Monitor struct {
	cfg     MonitorConfig
	store   domain.DrawdownStore // nil skips persistence
	signals domain.SignalBus     // nil skips broadcasts
	logger  *slog.Logger

	mu     sync.Mutex
	states map[string]*traderState
}

// NewMonitor creates a Monitor. store and signals may be nil.
func NewMonitor(cfg MonitorConfig, store domain.DrawdownStore, signals domain.SignalBus, logger *slog.Logger) *Monitor {
	if cfg.WarningFraction <= 0 {
		cfg.WarningFraction = DefaultMonitorConfig().WarningFraction
	}
	if cfg.CriticalFraction <= 0 {
		cfg.CriticalFraction = DefaultMonitorConfig().CriticalFraction
	}
	return &Monitor{
		cfg:     cfg,
		store:   store,
		signals: signals,
		logger:  logger.With(slog.String("component", "drawdown_monitor")),
		states:  make(map[string]*traderState),
	}
}

// UpdateBalance records the trader's balance for this cycle: the peak rises
// with the balance, drawdown is recomputed as (peak-current)/peak, and an
// alert is raised when it crosses a graded threshold. Crossing the trader's
// max-drawdown limit sets the halt flag.
func (m *Monitor) UpdateBalance(ctx context.Context, traderID string, balance, maxDrawdownPercent float64) domain.DrawdownSnapshot {
	m.mu.Lock()
	st := m.state(traderID)
	if balance > st.peak {
		st.peak = balance
	}
	st.balance = balance
	dd := domain.ComputeDrawdown(st.peak, balance)

	level := m.classify(dd, maxDrawdownPercent)
	crossed := level != "" && level != st.lastLevel
	st.lastLevel = level
	if level == domain.AlertLimitReached {
		st.halted = true
	} else if st.halted && maxDrawdownPercent > 0 && dd < maxDrawdownPercent {
		// Drawdown recovered below the limit; lift the halt.
		st.halted = false
	}

	snap := domain.DrawdownSnapshot{
		TraderID:        traderID,
		CurrentBalance:  balance,
		PeakBalance:     st.peak,
		DrawdownPercent: dd,
		DailyPnL:        st.dailyPnL,
		Timestamp:       time.Now().UTC(),
	}
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Save(ctx, snap); err != nil {
			m.logger.WarnContext(ctx, "drawdown snapshot save failed",
				slog.String("trader_id", traderID),
				slog.String("error", err.Error()),
			)
		}
	}

	if crossed {
		m.alert(ctx, traderID, level, snap)
	}
	return snap
}

// classify grades the drawdown against the trader's limit. An empty level
// means no alert.
func (m *Monitor) classify(dd, limit float64) domain.AlertLevel {
	if limit <= 0 {
		return ""
	}
	switch {
	case dd >= limit:
		return domain.AlertLimitReached
	case dd >= limit*m.cfg.CriticalFraction:
		return domain.AlertCritical
	case dd >= limit*m.cfg.WarningFraction:
		return domain.AlertWarning
	default:
		return ""
	}
}

func (m *Monitor) alert(ctx context.Context, traderID string, level domain.AlertLevel, snap domain.DrawdownSnapshot) {
	m.logger.WarnContext(ctx, "drawdown alert",
		slog.String("trader_id", traderID),
		slog.String("level", string(level)),
		slog.Float64("drawdown_pct", snap.DrawdownPercent),
		slog.Float64("peak", snap.PeakBalance),
		slog.Float64("balance", snap.CurrentBalance),
	)
	if m.signals == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event":        domain.EventRiskAlert,
		"trader_id":    traderID,
		"level":        string(level),
		"drawdown_pct": snap.DrawdownPercent,
		"peak":         snap.PeakBalance,
		"balance":      snap.CurrentBalance,
	})
	if err != nil {
		return
	}
	if pubErr := m.signals.Publish(ctx, "risk", payload); pubErr != nil {
		m.logger.WarnContext(ctx, "risk alert broadcast failed",
			slog.String("error", pubErr.Error()),
		)
	}
}

// RecordRealized accumulates realized P&L into the trader's daily total,
// rolling the accumulator over at UTC midnight.
func (m *Monitor) RecordRealized(traderID string, pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(traderID)
	today := time.Now().UTC().Truncate(24 * time.Hour)
	if !st.day.Equal(today) {
		st.day = today
		st.dailyPnL = 0
	}
	st.dailyPnL += pnl
}

// DailyRealized returns today's realized P&L for the trader.
func (m *Monitor) DailyRealized(traderID string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(traderID)
	today := time.Now().UTC().Truncate(24 * time.Hour)
	if !st.day.Equal(today) {
		return 0
	}
	return st.dailyPnL
}

// Drawdown returns the trader's current drawdown percent.
func (m *Monitor) Drawdown(traderID string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(traderID)
	return domain.ComputeDrawdown(st.peak, st.balance)
}

// Halted reports whether the trader is under a drawdown halt.
func (m *Monitor) Halted(traderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state(traderID).halted
}

// Reset clears the halt and restarts tracking from the current balance. Used
// by the control surface for a manual reset.
func (m *Monitor) Reset(traderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(traderID)
	st.halted = false
	st.peak = st.balance
	st.lastLevel = ""
}

// Restore seeds tracking from a persisted snapshot, typically on startup.
func (m *Monitor) Restore(snap domain.DrawdownSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(snap.TraderID)
	st.peak = snap.PeakBalance
	st.balance = snap.CurrentBalance
	st.dailyPnL = snap.DailyPnL
	st.day = snap.Timestamp.UTC().Truncate(24 * time.Hour)
}

// state returns the tracking entry for the trader, creating it lazily. The
// caller must hold m.mu.
func (m *Monitor) state(traderID string) *traderState {
	st, ok := m.states[traderID]
	if !ok {
		st = &traderState{}
		m.states[traderID] = st
	}
	return st
}
