// Package watcher polls the exchange for monitored traders' positions and
// turns deltas between consecutive polls into position-change events on the
// change bus. Each trader gets its own goroutine and owns its snapshot map
// exclusively; no other component reads or writes it.
package watcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"polycopy/internal/bus"
	"polycopy/internal/domain"
)

// DefaultPollInterval is the steady-state cadence when a trader carries none.
const DefaultPollInterval = 2 * time.Second

// PositionFetcher is the slice of the market client the watcher needs.
type PositionFetcher interface {
	GetPositions(ctx context.Context, wallet string) ([]domain.PositionSnapshot, error)
}

// entry is the per-trader monitoring state. The snapshot map is touched only
// from the entry's own poll loop.
type entry struct {
	trader   domain.MonitoredTrader
	cancel   context.CancelFunc
	done     chan struct{}
	inFlight atomic.Bool
	seeded   bool
	snapshot map[string]domain.PositionSnapshot // keyed by token ID
}

// Watcher runs one polling loop per monitored trader.
type Watcher struct {
	client    PositionFetcher
	changeBus *bus.ChangeBus
	signals   domain.SignalBus // nil disables broadcasts
	interval  time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// New creates a Watcher. signals may be nil; broadcasts are best-effort.
func New(client PositionFetcher, changeBus *bus.ChangeBus, signals domain.SignalBus, logger *slog.Logger) *Watcher {
	return &Watcher{
		client:    client,
		changeBus: changeBus,
		signals:   signals,
		interval:  DefaultPollInterval,
		logger:    logger.With(slog.String("component", "watcher")),
		entries:   make(map[string]*entry),
	}
}

// StartMonitoring begins a polling loop for the trader. Starting an already
// monitored trader is a no-op with a debug signal.
func (w *Watcher) StartMonitoring(ctx context.Context, trader domain.MonitoredTrader) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.entries[trader.ID]; ok {
		w.logger.Debug("trader already monitored",
			slog.String("trader_id", trader.ID),
		)
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e := &entry{
		trader:   trader,
		cancel:   cancel,
		done:     make(chan struct{}),
		snapshot: make(map[string]domain.PositionSnapshot),
	}
	w.entries[trader.ID] = e

	go w.loop(loopCtx, e)

	w.logger.Info("monitoring started",
		slog.String("trader_id", trader.ID),
		slog.String("wallet", trader.Wallet),
		slog.Duration("interval", w.intervalFor(trader)),
	)
}

// StopMonitoring cancels the trader's loop and releases its state. Stopping
// a trader that is not monitored is a no-op.
func (w *Watcher) StopMonitoring(traderID string) {
	w.mu.Lock()
	e, ok := w.entries[traderID]
	if ok {
		delete(w.entries, traderID)
	}
	w.mu.Unlock()

	if !ok {
		return
	}
	e.cancel()
	<-e.done
	w.logger.Info("monitoring stopped", slog.String("trader_id", traderID))
}

// StopAll tears down every polling loop.
func (w *Watcher) StopAll() {
	w.mu.Lock()
	entries := make([]*entry, 0, len(w.entries))
	for id, e := range w.entries {
		entries = append(entries, e)
		delete(w.entries, id)
	}
	w.mu.Unlock()

	for _, e := range entries {
		e.cancel()
		<-e.done
	}
	w.logger.Info("all monitoring stopped", slog.Int("count", len(entries)))
}

// Monitored reports whether the trader currently has a polling loop.
func (w *Watcher) Monitored(traderID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.entries[traderID]
	return ok
}

func (w *Watcher) intervalFor(trader domain.MonitoredTrader) time.Duration {
	if trader.PollInterval > 0 {
		return trader.PollInterval
	}
	return w.interval
}

func (w *Watcher) loop(ctx context.Context, e *entry) {
	defer close(e.done)

	ticker := time.NewTicker(w.intervalFor(e.trader))
	defer ticker.Stop()

	// Poll immediately so the baseline exists before the first tick.
	w.poll(ctx, e)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx, e)
		}
	}
}

// poll fetches current positions, emits the diff against the previous
// snapshot, and atomically replaces the baseline. A tick that arrives while
// the previous poll is still running is skipped, never run concurrently.
func (w *Watcher) poll(ctx context.Context, e *entry) {
	if !e.inFlight.CompareAndSwap(false, true) {
		w.logger.Debug("previous poll still in flight, skipping tick",
			slog.String("trader_id", e.trader.ID),
		)
		return
	}
	defer e.inFlight.Store(false)

	positions, err := w.client.GetPositions(ctx, e.trader.Wallet)
	if err != nil {
		// Fetch failures leave the existing snapshot untouched; the next
		// scheduled poll retries naturally.
		if ctx.Err() == nil {
			w.logger.Error("position fetch failed",
				slog.String("trader_id", e.trader.ID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	current := make(map[string]domain.PositionSnapshot, len(positions))
	for _, p := range positions {
		p.TraderID = e.trader.ID
		current[p.TokenID] = p
	}

	if e.seeded {
		for _, change := range Diff(e.snapshot, current, time.Now().UTC()) {
			change.TraderID = e.trader.ID
			w.changeBus.Publish(change)
			w.broadcastDetected(ctx, change)
		}
	} else {
		// The first successful poll only establishes the baseline: the
		// trader's pre-existing holdings are history, not new activity.
		e.seeded = true
		w.logger.Info("baseline snapshot established",
			slog.String("trader_id", e.trader.ID),
			slog.Int("positions", len(current)),
		)
	}

	e.snapshot = current
}

func (w *Watcher) broadcastDetected(ctx context.Context, change domain.PositionChange) {
	if w.signals == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event":     domain.EventPositionDetected,
		"trader_id": change.TraderID,
		"token_id":  change.TokenID,
		"type":      string(change.Type),
		"delta":     change.Delta,
		"price":     change.Price,
	})
	if err != nil {
		return
	}
	if pubErr := w.signals.Publish(ctx, "traders", payload); pubErr != nil {
		w.logger.Warn("broadcast failed",
			slog.String("trader_id", change.TraderID),
			slog.String("error", pubErr.Error()),
		)
	}
}

// Diff derives position changes from two consecutive snapshots of the same
// trader. Delta is always positive; CLOSED carries the full previous shares.
func Diff(previous, current map[string]domain.PositionSnapshot, at time.Time) []domain.PositionChange {
	var changes []domain.PositionChange

	for tokenID, cur := range current {
		prev, seen := previous[tokenID]
		switch {
		case !seen:
			changes = append(changes, domain.PositionChange{
				Type:          domain.ChangeNew,
				TokenID:       tokenID,
				MarketID:      cur.MarketID,
				Outcome:       cur.Outcome,
				CurrentShares: cur.Shares,
				Delta:         cur.Shares,
				Price:         cur.CurPrice,
				DetectedAt:    at,
			})
		case cur.Shares > prev.Shares:
			changes = append(changes, domain.PositionChange{
				Type:           domain.ChangeIncreased,
				TokenID:        tokenID,
				MarketID:       cur.MarketID,
				Outcome:        cur.Outcome,
				PreviousShares: prev.Shares,
				CurrentShares:  cur.Shares,
				Delta:          cur.Shares - prev.Shares,
				Price:          cur.CurPrice,
				DetectedAt:     at,
			})
		case cur.Shares < prev.Shares:
			changes = append(changes, domain.PositionChange{
				Type:           domain.ChangeDecreased,
				TokenID:        tokenID,
				MarketID:       cur.MarketID,
				Outcome:        cur.Outcome,
				PreviousShares: prev.Shares,
				CurrentShares:  cur.Shares,
				Delta:          prev.Shares - cur.Shares,
				Price:          cur.CurPrice,
				DetectedAt:     at,
			})
		}
	}

	for tokenID, prev := range previous {
		if _, still := current[tokenID]; still {
			continue
		}
		changes = append(changes, domain.PositionChange{
			Type:           domain.ChangeClosed,
			TokenID:        tokenID,
			MarketID:       prev.MarketID,
			Outcome:        prev.Outcome,
			PreviousShares: prev.Shares,
			CurrentShares:  0,
			Delta:          prev.Shares,
			Price:          prev.CurPrice,
			DetectedAt:     at,
		})
	}

	return changes
}
