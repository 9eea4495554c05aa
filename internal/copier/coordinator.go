package copier

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"polycopy/internal/bus"
	"polycopy/internal/domain"
)

// lockTTL bounds how long a trader's copy sequence can hold its lock.
const lockTTL = 30 * time.Second

// TradeExecutor is the coordinator's view of the order executor.
type TradeExecutor interface {
	Execute(ctx context.Context, params domain.TradeParams) (domain.Trade, error)
}

// RiskChecker is the coordinator's view of the risk gate.
type RiskChecker interface {
	Check(ctx context.Context, trader domain.MonitoredTrader, proposedAmount float64, side domain.OrderSide) (domain.RiskDecision, error)
}

// Stats counts coordinator outcomes since start.
type Stats struct {
	Attempted int64
	Succeeded int64
	Declined  int64
	Failed    int64
	Skipped   int64
}

// Coordinator consumes position changes, sizes them into follower orders and
// runs each one through the risk gate and executor. The size → check → execute
// sequence for a trader runs under that trader's advisory lock.
type Coordinator struct {
	changes   *bus.ChangeBus
	traders   domain.TraderStore
	positions domain.PositionStore
	gate      RiskChecker
	exec      TradeExecutor
	locks     domain.LockManager
	audit     domain.AuditStore // nil disables audit logging
	logger    *slog.Logger

	mu     sync.Mutex
	active bool
	cancel context.CancelFunc
	done   chan struct{}

	attempted atomic.Int64
	succeeded atomic.Int64
	declined  atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
}

// New creates a Coordinator. Call Start to begin copying.
func New(
	changes *bus.ChangeBus,
	traders domain.TraderStore,
	positions domain.PositionStore,
	gate RiskChecker,
	exec TradeExecutor,
	locks domain.LockManager,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		changes:   changes,
		traders:   traders,
		positions: positions,
		gate:      gate,
		exec:      exec,
		locks:     locks,
		audit:     audit,
		logger:    logger.With(slog.String("component", "copier")),
	}
}

// Start subscribes to the change bus and begins copying. Starting an active
// coordinator is a no-op.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	ch, unsubscribe := c.changes.Subscribe()
	done := make(chan struct{})
	c.active = true
	c.cancel = cancel
	c.done = done

	go func() {
		defer close(done)
		defer unsubscribe()
		for {
			select {
			case <-runCtx.Done():
				return
			case change, ok := <-ch:
				if !ok {
					return
				}
				// Run on the Start context, not runCtx: Stop must let the
				// change already being copied finish its exchange call.
				c.handleChange(ctx, change)
			}
		}
	}()

	c.logger.Info("copying started")
}

// Stop unsubscribes and waits for the in-flight change, if any, to finish.
// Position watching continues; only order generation stops.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done
	c.logger.Info("copying stopped")
}

// IsActive reports whether the coordinator is consuming changes.
func (c *Coordinator) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Snapshot returns the outcome counters.
func (c *Coordinator) Snapshot() Stats {
	return Stats{
		Attempted: c.attempted.Load(),
		Succeeded: c.succeeded.Load(),
		Declined:  c.declined.Load(),
		Failed:    c.failed.Load(),
		Skipped:   c.skipped.Load(),
	}
}

func (c *Coordinator) handleChange(ctx context.Context, change domain.PositionChange) {
	log := c.logger.With(
		slog.String("trader_id", change.TraderID),
		slog.String("token", change.TokenID),
		slog.String("change", string(change.Type)),
	)

	trader, err := c.traders.GetByID(ctx, change.TraderID)
	if err != nil {
		log.Warn("trader lookup failed", slog.String("error", err.Error()))
		c.skipped.Add(1)
		return
	}
	if !trader.Policy.Enabled {
		c.skipped.Add(1)
		return
	}

	side := change.Side()
	amount, ok := c.sizeChange(ctx, trader, change, side, log)
	if !ok {
		c.skipped.Add(1)
		return
	}

	unlock, err := c.locks.Acquire(ctx, "copier:trader:"+trader.ID, lockTTL)
	if err != nil {
		log.Warn("trader lock unavailable, change dropped", slog.String("error", err.Error()))
		c.skipped.Add(1)
		return
	}
	defer unlock()

	c.attempted.Add(1)
	decision, err := c.gate.Check(ctx, trader, amount, side)
	if err != nil {
		log.Error("risk check failed", slog.String("error", err.Error()))
		c.failed.Add(1)
		return
	}
	if !decision.Allowed {
		c.declined.Add(1)
		log.Info("copy declined by risk gate",
			slog.String("reason", string(decision.Reason)),
			slog.String("detail", decision.Detail),
		)
		c.auditLog(ctx, "copy_declined", map[string]any{
			"trader_id": trader.ID,
			"token_id":  change.TokenID,
			"amount":    amount,
			"reason":    string(decision.Reason),
		})
		return
	}

	params := domain.TradeParams{
		TraderID:     trader.ID,
		MarketID:     change.MarketID,
		TokenID:      change.TokenID,
		Outcome:      change.Outcome,
		Side:         side,
		OrderType:    domain.OrderTypeFAK,
		Amount:       amount,
		LimitPrice:   limitPrice(change.Price, side, trader.Policy.SlippageTolerancePercent),
		SourceChange: change.Type,
	}
	if side == domain.OrderSideBuy && trader.Policy.StopLossPercent+trader.Policy.TakeProfitPercent > 0 {
		params.SLTP = &domain.SLTPConfig{
			StopLossPercent:   trader.Policy.StopLossPercent,
			TakeProfitPercent: trader.Policy.TakeProfitPercent,
			TrailingStop:      trader.Policy.TrailingStop,
		}
	}

	trade, err := c.exec.Execute(ctx, params)
	if err != nil {
		log.Error("execute failed", slog.String("error", err.Error()))
		c.failed.Add(1)
		return
	}
	switch trade.Status {
	case domain.TradeStatusExecuted, domain.TradeStatusPartiallyFilled:
		c.succeeded.Add(1)
	default:
		c.failed.Add(1)
	}
}

// sizeChange computes the follower-order notional for a change. Buys scale
// the source notional by the allocation policy; sells mirror the fraction of
// the source position being reduced onto the follower's open position.
func (c *Coordinator) sizeChange(ctx context.Context, trader domain.MonitoredTrader, change domain.PositionChange, side domain.OrderSide, log *slog.Logger) (float64, bool) {
	if side == domain.OrderSideBuy {
		source := change.Delta * change.Price
		amount := Size(source, trader.Policy.AllocationPercent, trader.Policy.MaxPositionSize)
		if amount <= 0 {
			return 0, false
		}
		if trader.Policy.MinTradeAmount > 0 && amount < trader.Policy.MinTradeAmount {
			log.Debug("sized below minimum trade amount",
				slog.Float64("amount", amount),
				slog.Float64("min", trader.Policy.MinTradeAmount),
			)
			return 0, false
		}
		return amount, true
	}

	pos, err := c.positions.GetOpenByToken(ctx, trader.ID, change.TokenID)
	if err != nil {
		// Nothing held for this token, nothing to reduce.
		return 0, false
	}
	fraction := 1.0
	if change.Type == domain.ChangeDecreased && change.PreviousShares > 0 {
		fraction = change.Delta / change.PreviousShares
	}
	amount := pos.Shares * fraction * change.Price
	if amount <= 0 {
		return 0, false
	}
	return amount, true
}

// limitPrice widens the reference price by the slippage tolerance in the
// direction that still fills, clamped to the (0, 1) share-price range.
func limitPrice(price float64, side domain.OrderSide, slippagePercent float64) float64 {
	if price <= 0 {
		return 0
	}
	adj := price * slippagePercent / 100
	var limit float64
	if side == domain.OrderSideBuy {
		limit = price + adj
		if limit >= 1 {
			limit = 0.999
		}
	} else {
		limit = price - adj
		if limit <= 0 {
			limit = 0.001
		}
	}
	return limit
}

func (c *Coordinator) auditLog(ctx context.Context, event string, detail map[string]any) {
	if c.audit == nil {
		return
	}
	if err := c.audit.Log(ctx, event, detail); err != nil {
		c.logger.Warn("audit write failed", slog.String("error", err.Error()))
	}
}
