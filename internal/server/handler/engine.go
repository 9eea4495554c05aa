package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"polycopy/internal/copier"
	"polycopy/internal/domain"
)

// TraderMonitor controls which source traders are being watched.
type TraderMonitor interface {
	StartMonitoring(ctx context.Context, trader domain.MonitoredTrader)
	StopMonitoring(traderID string)
	Monitored(traderID string) bool
}

// CopyController toggles order generation on the change stream.
type CopyController interface {
	Start(ctx context.Context)
	Stop()
	IsActive() bool
	Snapshot() copier.Stats
}

// TradeController exposes the executor's manual trade operations.
type TradeController interface {
	RetryTrade(ctx context.Context, tradeID string) (domain.Trade, error)
	CancelTrade(ctx context.Context, tradeID string) (domain.Trade, error)
	GetTrade(ctx context.Context, tradeID string) (domain.Trade, error)
}

// RiskReader exposes per-trader risk state for the stats endpoint.
type RiskReader interface {
	Drawdown(traderID string) float64
	Halted(traderID string) bool
	DailyRealized(traderID string) float64
}

// EngineHandler serves the engine control surface.
type EngineHandler struct {
	traders domain.TraderStore
	trades  domain.TradeStore
	monitor TraderMonitor
	copying CopyController
	exec    TradeController
	risk    RiskReader
	logger  *slog.Logger

	// appCtx outlives individual requests so monitoring and copying started
	// over HTTP are not torn down when the request ends.
	appCtx context.Context
}

func NewEngineHandler(
	appCtx context.Context,
	traders domain.TraderStore,
	trades domain.TradeStore,
	monitor TraderMonitor,
	copying CopyController,
	exec TradeController,
	risk RiskReader,
	logger *slog.Logger,
) *EngineHandler {
	return &EngineHandler{
		traders: traders,
		trades:  trades,
		monitor: monitor,
		copying: copying,
		exec:    exec,
		risk:    risk,
		logger:  logger.With(slog.String("component", "api")),
		appCtx:  appCtx,
	}
}

// traderRequest is the JSON body accepted by the monitor endpoint. All
// fields are optional when the trader already exists.
type traderRequest struct {
	Label          string  `json:"label"`
	Wallet         string  `json:"wallet"`
	PollIntervalMS int64   `json:"poll_interval_ms"`
	Policy         *policy `json:"policy"`
}

type policy struct {
	AllocationPercent        float64 `json:"allocation_percent"`
	MaxPositionSize          float64 `json:"max_position_size"`
	MinTradeAmount           float64 `json:"min_trade_amount"`
	SlippageTolerancePercent float64 `json:"slippage_tolerance_percent"`
	StopLossPercent          float64 `json:"stop_loss_percent"`
	TakeProfitPercent        float64 `json:"take_profit_percent"`
	TrailingStop             bool    `json:"trailing_stop"`
}

// Monitor upserts a trader and starts watching their wallet.
// POST /api/traders/{id}/monitor
func (h *EngineHandler) Monitor(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "trader id required")
		return
	}

	var req traderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	trader, err := h.traders.GetByID(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if req.Wallet == "" {
			writeError(w, http.StatusBadRequest, "wallet required for a new trader")
			return
		}
		trader = domain.MonitoredTrader{ID: id}
	case err != nil:
		h.logger.Error("trader lookup failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "trader lookup failed")
		return
	}

	applyTraderRequest(&trader, req)
	trader.Policy.Enabled = true

	if err := h.traders.Upsert(r.Context(), trader); err != nil {
		h.logger.Error("trader upsert failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "trader upsert failed")
		return
	}

	h.monitor.StartMonitoring(h.appCtx, trader)
	writeJSON(w, http.StatusOK, renderTrader(trader, true))
}

// Unmonitor stops watching a trader and disables their policy.
// POST /api/traders/{id}/unmonitor
func (h *EngineHandler) Unmonitor(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	trader, err := h.traders.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "trader not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "trader lookup failed")
		return
	}

	h.monitor.StopMonitoring(id)

	trader.Policy.Enabled = false
	if err := h.traders.Upsert(r.Context(), trader); err != nil {
		h.logger.Error("trader disable failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "trader disable failed")
		return
	}

	writeJSON(w, http.StatusOK, renderTrader(trader, false))
}

// ListTraders returns all enabled traders with their monitoring state.
// GET /api/traders
func (h *EngineHandler) ListTraders(w http.ResponseWriter, r *http.Request) {
	traders, err := h.traders.ListEnabled(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "trader list failed")
		return
	}

	out := make([]map[string]any, 0, len(traders))
	for _, t := range traders {
		out = append(out, renderTrader(t, h.monitor.Monitored(t.ID)))
	}
	writeJSON(w, http.StatusOK, map[string]any{"traders": out})
}

// StartCopying begins generating follower orders from the change stream.
// POST /api/copying/start
func (h *EngineHandler) StartCopying(w http.ResponseWriter, r *http.Request) {
	if h.copying == nil {
		writeError(w, http.StatusConflict, "copying is not available in watch mode")
		return
	}
	h.copying.Start(h.appCtx)
	writeJSON(w, http.StatusOK, map[string]any{"copying": true})
}

// StopCopying halts order generation; watching continues.
// POST /api/copying/stop
func (h *EngineHandler) StopCopying(w http.ResponseWriter, r *http.Request) {
	if h.copying == nil {
		writeError(w, http.StatusConflict, "copying is not available in watch mode")
		return
	}
	h.copying.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"copying": false})
}

// RetryTrade re-submits a failed trade immediately.
// POST /api/trades/{id}/retry
func (h *EngineHandler) RetryTrade(w http.ResponseWriter, r *http.Request) {
	if h.exec == nil {
		writeError(w, http.StatusConflict, "trade operations are not available in watch mode")
		return
	}
	trade, err := h.exec.RetryTrade(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeTradeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderTrade(trade))
}

// CancelTrade cancels a pending trade.
// POST /api/trades/{id}/cancel
func (h *EngineHandler) CancelTrade(w http.ResponseWriter, r *http.Request) {
	if h.exec == nil {
		writeError(w, http.StatusConflict, "trade operations are not available in watch mode")
		return
	}
	trade, err := h.exec.CancelTrade(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeTradeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderTrade(trade))
}

// GetTrade returns a single trade.
// GET /api/trades/{id}
func (h *EngineHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	if h.exec == nil {
		trade, err := h.trades.GetByID(r.Context(), r.PathValue("id"))
		if err != nil {
			h.writeTradeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, renderTrade(trade))
		return
	}
	trade, err := h.exec.GetTrade(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeTradeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderTrade(trade))
}

// ListTrades returns trades for one trader, newest first.
// GET /api/trades?trader_id=X
func (h *EngineHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	traderID := r.URL.Query().Get("trader_id")
	if traderID == "" {
		writeError(w, http.StatusBadRequest, "trader_id query parameter required")
		return
	}

	trades, err := h.trades.ListByTrader(r.Context(), traderID, parseListOpts(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "trade list failed")
		return
	}

	out := make([]map[string]any, 0, len(trades))
	for _, t := range trades {
		out = append(out, renderTrade(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": out})
}

// Stats reports copying state, outcome counters and per-trader risk.
// GET /api/stats
func (h *EngineHandler) Stats(w http.ResponseWriter, r *http.Request) {
	var stats copier.Stats
	copying := false
	if h.copying != nil {
		stats = h.copying.Snapshot()
		copying = h.copying.IsActive()
	}

	perTrader := []map[string]any{}
	traders, err := h.traders.ListEnabled(r.Context())
	if err == nil {
		for _, t := range traders {
			perTrader = append(perTrader, map[string]any{
				"trader_id":        t.ID,
				"monitored":        h.monitor.Monitored(t.ID),
				"drawdown_percent": h.risk.Drawdown(t.ID),
				"halted":           h.risk.Halted(t.ID),
				"daily_realized":   h.risk.DailyRealized(t.ID),
			})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"copying": copying,
		"trades": map[string]int64{
			"attempted": stats.Attempted,
			"succeeded": stats.Succeeded,
			"declined":  stats.Declined,
			"failed":    stats.Failed,
			"skipped":   stats.Skipped,
		},
		"traders": perTrader,
	})
}

func (h *EngineHandler) writeTradeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "trade not found")
	case errors.Is(err, domain.ErrTradeTerminal):
		writeError(w, http.StatusConflict, "trade is in a terminal state")
	default:
		h.logger.Error("trade operation failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "trade operation failed")
	}
}

// decodeBody tolerates an empty body and rejects malformed JSON.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func applyTraderRequest(t *domain.MonitoredTrader, req traderRequest) {
	if req.Label != "" {
		t.Label = req.Label
	}
	if req.Wallet != "" {
		t.Wallet = req.Wallet
	}
	if req.PollIntervalMS > 0 {
		t.PollInterval = time.Duration(req.PollIntervalMS) * time.Millisecond
	}
	if req.Policy != nil {
		t.Policy = domain.AllocationPolicy{
			AllocationPercent:        req.Policy.AllocationPercent,
			MaxPositionSize:          req.Policy.MaxPositionSize,
			MinTradeAmount:           req.Policy.MinTradeAmount,
			SlippageTolerancePercent: req.Policy.SlippageTolerancePercent,
			StopLossPercent:          req.Policy.StopLossPercent,
			TakeProfitPercent:        req.Policy.TakeProfitPercent,
			TrailingStop:             req.Policy.TrailingStop,
		}
	}
}

func renderTrader(t domain.MonitoredTrader, monitored bool) map[string]any {
	return map[string]any{
		"id":               t.ID,
		"label":            t.Label,
		"wallet":           t.Wallet,
		"poll_interval_ms": t.PollInterval.Milliseconds(),
		"enabled":          t.Policy.Enabled,
		"monitored":        monitored,
		"policy": map[string]any{
			"allocation_percent":         t.Policy.AllocationPercent,
			"max_position_size":          t.Policy.MaxPositionSize,
			"min_trade_amount":           t.Policy.MinTradeAmount,
			"slippage_tolerance_percent": t.Policy.SlippageTolerancePercent,
			"stop_loss_percent":          t.Policy.StopLossPercent,
			"take_profit_percent":        t.Policy.TakeProfitPercent,
			"trailing_stop":              t.Policy.TrailingStop,
		},
	}
}

func renderTrade(t domain.Trade) map[string]any {
	out := map[string]any{
		"id":               t.ID,
		"trader_id":        t.TraderID,
		"position_id":      t.PositionID,
		"market_id":        t.MarketID,
		"token_id":         t.TokenID,
		"outcome":          t.Outcome,
		"side":             t.Side,
		"order_type":       t.OrderType,
		"requested_amount": t.RequestedAmount,
		"limit_price":      t.LimitPrice,
		"executed_amount":  t.ExecutedAmount,
		"avg_fill_price":   t.AvgFillPrice,
		"status":           t.Status,
		"failure_reason":   t.FailureReason,
		"retry_count":      t.RetryCount,
		"created_at":       t.CreatedAt.UTC().Format(time.RFC3339),
	}
	if t.NextRetryAt != nil {
		out["next_retry_at"] = t.NextRetryAt.UTC().Format(time.RFC3339)
	}
	if t.ExecutedAt != nil {
		out["executed_at"] = t.ExecutedAt.UTC().Format(time.RFC3339)
	}
	return out
}
