// Package executor owns the copy-trade lifecycle: it submits orders to the
// exchange, persists every status transition through the trade store, applies
// fills to follower positions, and hands retryable failures to the scheduler.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"polycopy/internal/domain"
)

// OrderPlacer is the slice of the market client the executor submits through.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)
}

// RealizedRecorder receives realized P&L from closing fills; implemented by
// the drawdown monitor.
type RealizedRecorder interface {
	RecordRealized(traderID string, pnl float64)
}

// Notifier pings operators about terminal failures. Optional.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// retryScheduler is the executor's view of the retry scheduler.
type retryScheduler interface {
	Schedule(tradeID string, retryCount int) time.Time
	Cancel(tradeID string)
}

// Config holds executor tunables.
type Config struct {
	// MaxRetryAttempts bounds retries after the first attempt. A trade is
	// permanently failed once RetryCount reaches this value.
	MaxRetryAttempts int
	// ExchangeRateKey and budget applied before every order placement.
	ExchangeRateKey    string
	ExchangeRateLimit  int
	ExchangeRateWindow time.Duration
}

// DefaultConfig allows three retries and 10 exchange calls per second.
func DefaultConfig() Config {
	return Config{
		MaxRetryAttempts:   3,
		ExchangeRateKey:    "clob:orders",
		ExchangeRateLimit:  10,
		ExchangeRateWindow: time.Second,
	}
}

// Executor runs trades through the PENDING → terminal state machine. Store
// writes are the durability boundary: a transition is not committed until the
// corresponding store write acknowledges.
type Executor struct {
	client    OrderPlacer
	trades    domain.TradeStore
	positions domain.PositionStore
	limiter   domain.RateLimiter // nil disables budgeting
	signals   domain.SignalBus   // nil disables broadcasts
	recorder  RealizedRecorder   // nil disables realized tracking
	notifier  Notifier           // nil disables operator pings
	scheduler retryScheduler
	cfg       Config
	logger    *slog.Logger
}

// New creates an Executor. The retry scheduler is attached afterwards via
// SetScheduler since the two reference each other.
func New(
	client OrderPlacer,
	trades domain.TradeStore,
	positions domain.PositionStore,
	limiter domain.RateLimiter,
	signals domain.SignalBus,
	cfg Config,
	logger *slog.Logger,
) *Executor {
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = DefaultConfig().MaxRetryAttempts
	}
	return &Executor{
		client:    client,
		trades:    trades,
		positions: positions,
		limiter:   limiter,
		signals:   signals,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "executor")),
	}
}

// SetScheduler attaches the retry scheduler. Must be called before Execute.
func (e *Executor) SetScheduler(s retryScheduler) { e.scheduler = s }

// SetRecorder attaches the realized-P&L recorder.
func (e *Executor) SetRecorder(r RealizedRecorder) { e.recorder = r }

// SetNotifier attaches the operator notifier.
func (e *Executor) SetNotifier(n Notifier) { e.notifier = n }

// Execute creates a PENDING trade for the given parameters and submits it to
// the exchange. The returned trade reflects the post-submission state.
func (e *Executor) Execute(ctx context.Context, params domain.TradeParams) (domain.Trade, error) {
	now := time.Now().UTC()
	trade := domain.Trade{
		ID:              uuid.New().String(),
		TraderID:        params.TraderID,
		PositionID:      params.PositionID,
		MarketID:        params.MarketID,
		TokenID:         params.TokenID,
		Outcome:         params.Outcome,
		Side:            params.Side,
		OrderType:       params.OrderType,
		RequestedAmount: params.Amount,
		LimitPrice:      params.LimitPrice,
		Status:          domain.TradeStatusPending,
		SourceChange:    params.SourceChange,
		SLTP:            params.SLTP,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if trade.OrderType == "" {
		trade.OrderType = domain.OrderTypeFAK
	}

	if err := e.trades.Create(ctx, trade); err != nil {
		return domain.Trade{}, fmt.Errorf("executor: create trade: %w", err)
	}
	e.broadcastTrade(ctx, domain.EventTradeNew, trade)

	return e.submit(ctx, trade)
}

// RetryTrade re-enters the execute path for a trade in FAILED state. It
// refuses with ErrTradeTerminal, without side effects, when the trade has
// already reached a terminal state.
func (e *Executor) RetryTrade(ctx context.Context, tradeID string) (domain.Trade, error) {
	trade, err := e.trades.GetByID(ctx, tradeID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("executor: get trade %s: %w", tradeID, err)
	}
	if trade.Status.Terminal() {
		return trade, domain.ErrTradeTerminal
	}
	if trade.Status != domain.TradeStatusFailed {
		return trade, fmt.Errorf("executor: trade %s is %s, not retryable", tradeID, trade.Status)
	}

	trade.Status = domain.TradeStatusPending
	trade.NextRetryAt = nil
	trade.UpdatedAt = time.Now().UTC()
	if err := e.trades.Update(ctx, trade); err != nil {
		return domain.Trade{}, fmt.Errorf("executor: update trade %s: %w", tradeID, err)
	}

	return e.submit(ctx, trade)
}

// CancelTrade cancels a trade still in PENDING. A trade already sent to the
// exchange cannot be cancelled locally.
func (e *Executor) CancelTrade(ctx context.Context, tradeID string) (domain.Trade, error) {
	trade, err := e.trades.GetByID(ctx, tradeID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("executor: get trade %s: %w", tradeID, err)
	}
	if trade.Status != domain.TradeStatusPending {
		if trade.Status.Terminal() {
			return trade, domain.ErrTradeTerminal
		}
		return trade, fmt.Errorf("executor: trade %s is %s, only PENDING trades can be cancelled", tradeID, trade.Status)
	}

	trade.Status = domain.TradeStatusCancelled
	trade.UpdatedAt = time.Now().UTC()
	if err := e.trades.Update(ctx, trade); err != nil {
		return domain.Trade{}, fmt.Errorf("executor: update trade %s: %w", tradeID, err)
	}
	if e.scheduler != nil {
		e.scheduler.Cancel(trade.ID)
	}
	e.broadcastTrade(ctx, domain.EventTradeUpdated, trade)
	return trade, nil
}

// GetTrade returns the trade by id, whatever its state. Permanently failed
// trades stay queryable for manual inspection.
func (e *Executor) GetTrade(ctx context.Context, tradeID string) (domain.Trade, error) {
	return e.trades.GetByID(ctx, tradeID)
}

// submit places the order and drives the PENDING → terminal/FAILED
// transition.
func (e *Executor) submit(ctx context.Context, trade domain.Trade) (domain.Trade, error) {
	log := e.logger.With(
		slog.String("trade_id", trade.ID),
		slog.String("token", trade.TokenID),
		slog.String("side", string(trade.Side)),
		slog.Float64("amount", trade.RequestedAmount),
	)

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, e.cfg.ExchangeRateKey); err != nil {
			return e.fail(ctx, trade, fmt.Errorf("rate limiter: %w", err), log)
		}
	}

	result, err := e.client.PlaceOrder(ctx, domain.OrderRequest{
		TokenID:    trade.TokenID,
		Side:       trade.Side,
		OrderType:  trade.OrderType,
		Amount:     trade.RequestedAmount,
		LimitPrice: trade.LimitPrice,
	})
	if err != nil {
		if errors.Is(err, domain.ErrOrderRejected) {
			// Exchange validation failures are not retryable.
			return e.permanentFail(ctx, trade, err.Error(), log)
		}
		return e.fail(ctx, trade, err, log)
	}

	now := time.Now().UTC()
	trade.ExchangeOrderID = result.OrderID
	trade.ExecutedAmount = result.FilledAmount
	trade.AvgFillPrice = result.AvgPrice
	trade.FeeUSD = result.FeeUSD
	trade.ExecutedAt = &now
	trade.UpdatedAt = now
	if result.FilledAmount+1e-9 < trade.RequestedAmount {
		trade.Status = domain.TradeStatusPartiallyFilled
	} else {
		trade.Status = domain.TradeStatusExecuted
	}

	if err := e.applyFill(ctx, &trade); err != nil {
		log.Error("position update failed after fill",
			slog.String("error", err.Error()),
		)
	}

	if err := e.trades.Update(ctx, trade); err != nil {
		return domain.Trade{}, fmt.Errorf("executor: persist fill %s: %w", trade.ID, err)
	}
	e.broadcastTrade(ctx, domain.EventTradeUpdated, trade)

	log.Info("trade executed",
		slog.String("status", string(trade.Status)),
		slog.Float64("filled", trade.ExecutedAmount),
		slog.Float64("price", trade.AvgFillPrice),
	)
	return trade, nil
}

// fail records a retryable failure: FAILED status, incremented retry count,
// and either a scheduled retry or, once the budget is spent, a permanent
// failure. The increment happens before the bound check, so MaxRetryAttempts
// counts retries after the first attempt.
func (e *Executor) fail(ctx context.Context, trade domain.Trade, cause error, log *slog.Logger) (domain.Trade, error) {
	trade.Status = domain.TradeStatusFailed
	trade.FailureReason = cause.Error()
	trade.RetryCount++
	trade.UpdatedAt = time.Now().UTC()

	if trade.RetryCount >= e.cfg.MaxRetryAttempts {
		return e.permanentFail(ctx, trade, trade.FailureReason, log)
	}

	var readyAt time.Time
	if e.scheduler != nil {
		readyAt = e.scheduler.Schedule(trade.ID, trade.RetryCount)
		trade.NextRetryAt = &readyAt
	}
	if err := e.trades.Update(ctx, trade); err != nil {
		return domain.Trade{}, fmt.Errorf("executor: persist failure %s: %w", trade.ID, err)
	}
	e.broadcastTrade(ctx, domain.EventTradeUpdated, trade)

	log.Warn("trade failed, retry scheduled",
		slog.String("reason", trade.FailureReason),
		slog.Int("retry_count", trade.RetryCount),
		slog.Time("next_retry_at", readyAt),
	)
	return trade, nil
}

// permanentFail drives the trade to PERMANENTLY_FAILED and notifies.
func (e *Executor) permanentFail(ctx context.Context, trade domain.Trade, reason string, log *slog.Logger) (domain.Trade, error) {
	trade.Status = domain.TradeStatusPermanentlyFailed
	trade.FailureReason = reason
	trade.NextRetryAt = nil
	trade.UpdatedAt = time.Now().UTC()

	if err := e.trades.Update(ctx, trade); err != nil {
		return domain.Trade{}, fmt.Errorf("executor: persist permanent failure %s: %w", trade.ID, err)
	}
	if e.scheduler != nil {
		e.scheduler.Cancel(trade.ID)
	}
	e.broadcastTrade(ctx, domain.EventTradeUpdated, trade)

	log.Error("trade permanently failed",
		slog.String("reason", reason),
		slog.Int("retry_count", trade.RetryCount),
	)
	if e.notifier != nil {
		msg := fmt.Sprintf("%s %s %.2f USDC on %s: %s",
			trade.Side, trade.TokenID, trade.RequestedAmount, trade.MarketID, reason)
		if nerr := e.notifier.Notify(ctx, "trade_failed", "Copy trade permanently failed", msg); nerr != nil {
			log.Warn("notify failed", slog.String("error", nerr.Error()))
		}
	}
	return trade, nil
}

// applyFill opens, grows, shrinks or closes the follower position for a
// filled trade and links the trade to it.
func (e *Executor) applyFill(ctx context.Context, trade *domain.Trade) error {
	if trade.AvgFillPrice <= 0 || trade.ExecutedAmount <= 0 {
		return nil
	}
	filledShares := trade.ExecutedAmount / trade.AvgFillPrice

	pos, err := e.positions.GetOpenByToken(ctx, trade.TraderID, trade.TokenID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if trade.Side != domain.OrderSideBuy {
			// Nothing to reduce; a sell without an open position is a
			// bookkeeping gap, not a failure.
			return nil
		}
		pos = domain.Position{
			ID:           uuid.New().String(),
			TraderID:     trade.TraderID,
			MarketID:     trade.MarketID,
			TokenID:      trade.TokenID,
			Outcome:      trade.Outcome,
			Side:         domain.OrderSideBuy,
			Shares:       filledShares,
			EntryPrice:   trade.AvgFillPrice,
			CurrentPrice: trade.AvgFillPrice,
			PeakPrice:    trade.AvgFillPrice,
			SLTP:         trade.SLTP,
			Status:       domain.PositionStatusOpen,
			OpenedAt:     time.Now().UTC(),
		}
		if err := e.positions.Create(ctx, pos); err != nil {
			return fmt.Errorf("create position: %w", err)
		}
		trade.PositionID = pos.ID
		e.broadcastPosition(ctx, domain.EventPositionOpened, pos)
		return nil
	case err != nil:
		return fmt.Errorf("get position: %w", err)
	}

	trade.PositionID = pos.ID
	if trade.Side == domain.OrderSideBuy {
		total := pos.Shares + filledShares
		pos.EntryPrice = (pos.EntryPrice*pos.Shares + trade.AvgFillPrice*filledShares) / total
		pos.Shares = total
		pos.CurrentPrice = trade.AvgFillPrice
		if trade.AvgFillPrice > pos.PeakPrice {
			pos.PeakPrice = trade.AvgFillPrice
		}
		if err := e.positions.Update(ctx, pos); err != nil {
			return fmt.Errorf("update position: %w", err)
		}
		e.broadcastPosition(ctx, domain.EventPositionUpdated, pos)
		return nil
	}

	// Sell: realize P&L on the shares sold and close when flat.
	sold := math.Min(filledShares, pos.Shares)
	realized := (trade.AvgFillPrice - pos.EntryPrice) * sold
	pos.Shares -= sold
	pos.RealizedPnL += realized
	pos.CurrentPrice = trade.AvgFillPrice
	if e.recorder != nil && realized != 0 {
		e.recorder.RecordRealized(trade.TraderID, realized)
	}

	event := domain.EventPositionUpdated
	if pos.Shares <= 1e-9 {
		now := time.Now().UTC()
		exit := trade.AvgFillPrice
		pos.Shares = 0
		pos.Status = domain.PositionStatusClosed
		pos.ClosedAt = &now
		pos.ExitPrice = &exit
		pos.UnrealizedPnL = 0
		event = domain.EventPositionClosed
	}
	if err := e.positions.Update(ctx, pos); err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	e.broadcastPosition(ctx, event, pos)
	return nil
}

func (e *Executor) broadcastTrade(ctx context.Context, event string, trade domain.Trade) {
	if e.signals == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event":     event,
		"trade_id":  trade.ID,
		"trader_id": trade.TraderID,
		"token_id":  trade.TokenID,
		"side":      string(trade.Side),
		"amount":    trade.RequestedAmount,
		"status":    string(trade.Status),
		"reason":    trade.FailureReason,
	})
	if err != nil {
		return
	}
	if pubErr := e.signals.Publish(ctx, "trades", payload); pubErr != nil {
		e.logger.Warn("trade broadcast failed",
			slog.String("trade_id", trade.ID),
			slog.String("error", pubErr.Error()),
		)
	}
}

func (e *Executor) broadcastPosition(ctx context.Context, event string, pos domain.Position) {
	if e.signals == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event":       event,
		"position_id": pos.ID,
		"trader_id":   pos.TraderID,
		"token_id":    pos.TokenID,
		"shares":      pos.Shares,
		"entry_price": pos.EntryPrice,
		"status":      string(pos.Status),
	})
	if err != nil {
		return
	}
	if pubErr := e.signals.Publish(ctx, "positions", payload); pubErr != nil {
		e.logger.Warn("position broadcast failed",
			slog.String("position_id", pos.ID),
			slog.String("error", pubErr.Error()),
		)
	}
}
