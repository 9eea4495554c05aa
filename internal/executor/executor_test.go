package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"polycopy/internal/domain"
)

func newTestExecutor(client OrderPlacer, trades *memTradeStore, positions *memPositionStore, maxRetries int) (*Executor, *fakeScheduler) {
	exec := New(client, trades, positions, nil, nil, Config{MaxRetryAttempts: maxRetries}, testLogger())
	sched := &fakeScheduler{}
	exec.SetScheduler(sched)
	return exec, sched
}

func buyParams(amount float64) domain.TradeParams {
	return domain.TradeParams{
		TraderID:     "trader-1",
		MarketID:     "market-1",
		TokenID:      "token-1",
		Outcome:      "YES",
		Side:         domain.OrderSideBuy,
		Amount:       amount,
		SourceChange: domain.ChangeNew,
	}
}

func TestExecuteFullFill(t *testing.T) {
	trades := newMemTradeStore()
	positions := newMemPositionStore()
	client := &scriptedClient{results: []domain.OrderResult{
		{OrderID: "ex-1", FilledAmount: 10, AvgPrice: 0.5, FeeUSD: 0.02},
	}}
	exec, _ := newTestExecutor(client, trades, positions, 3)

	trade, err := exec.Execute(context.Background(), buyParams(10))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if trade.Status != domain.TradeStatusExecuted {
		t.Errorf("status = %s, want EXECUTED", trade.Status)
	}
	if trade.ExecutedAmount != 10 || trade.AvgFillPrice != 0.5 {
		t.Errorf("fill = %v @ %v, want 10 @ 0.5", trade.ExecutedAmount, trade.AvgFillPrice)
	}
	if trade.ExecutedAt == nil {
		t.Error("ExecutedAt not set")
	}

	history := trades.history(trade.ID)
	if len(history) < 2 || history[0] != domain.TradeStatusPending {
		t.Errorf("history = %v, want PENDING first", history)
	}
	if history[len(history)-1] != domain.TradeStatusExecuted {
		t.Errorf("history = %v, want EXECUTED last", history)
	}

	pos, err := positions.GetOpenByToken(context.Background(), "trader-1", "token-1")
	if err != nil {
		t.Fatalf("expected an open position: %v", err)
	}
	if pos.Shares != 20 {
		t.Errorf("shares = %v, want 20 (10 USDC at 0.5)", pos.Shares)
	}
	if pos.EntryPrice != 0.5 {
		t.Errorf("entry = %v, want 0.5", pos.EntryPrice)
	}
	if trade.PositionID != pos.ID {
		t.Errorf("trade not linked to position")
	}
}

func TestExecutePartialFill(t *testing.T) {
	trades := newMemTradeStore()
	positions := newMemPositionStore()
	client := &scriptedClient{results: []domain.OrderResult{
		{OrderID: "ex-1", FilledAmount: 6, AvgPrice: 0.6},
	}}
	exec, _ := newTestExecutor(client, trades, positions, 3)

	trade, err := exec.Execute(context.Background(), buyParams(10))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if trade.Status != domain.TradeStatusPartiallyFilled {
		t.Errorf("status = %s, want PARTIALLY_FILLED", trade.Status)
	}
	pos, err := positions.GetOpenByToken(context.Background(), "trader-1", "token-1")
	if err != nil {
		t.Fatalf("expected an open position: %v", err)
	}
	if pos.Shares != 10 {
		t.Errorf("shares = %v, want 10 (6 USDC at 0.6)", pos.Shares)
	}
}

func TestRejectedOrderFailsPermanentlyWithoutRetry(t *testing.T) {
	trades := newMemTradeStore()
	positions := newMemPositionStore()
	client := &scriptedClient{errs: []error{
		fmt.Errorf("clob: %w: invalid token", domain.ErrOrderRejected),
	}}
	exec, sched := newTestExecutor(client, trades, positions, 3)

	trade, err := exec.Execute(context.Background(), buyParams(10))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if trade.Status != domain.TradeStatusPermanentlyFailed {
		t.Errorf("status = %s, want PERMANENTLY_FAILED", trade.Status)
	}
	if sched.scheduleCount() != 0 {
		t.Errorf("rejected order scheduled a retry")
	}
}

func TestRetryableFailureSchedulesRetry(t *testing.T) {
	trades := newMemTradeStore()
	positions := newMemPositionStore()
	client := &scriptedClient{errs: []error{domain.ErrExchangeUnavailable}}
	exec, sched := newTestExecutor(client, trades, positions, 3)

	trade, err := exec.Execute(context.Background(), buyParams(10))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if trade.Status != domain.TradeStatusFailed {
		t.Errorf("status = %s, want FAILED", trade.Status)
	}
	if trade.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", trade.RetryCount)
	}
	if trade.NextRetryAt == nil {
		t.Error("NextRetryAt not set")
	}
	if sched.scheduleCount() != 1 {
		t.Errorf("schedule count = %d, want 1", sched.scheduleCount())
	}
}

func TestRetryBudgetExhaustion(t *testing.T) {
	trades := newMemTradeStore()
	positions := newMemPositionStore()
	client := &scriptedClient{errs: []error{
		domain.ErrExchangeUnavailable,
		domain.ErrExchangeUnavailable,
		domain.ErrExchangeUnavailable,
		domain.ErrExchangeUnavailable,
	}}
	exec, _ := newTestExecutor(client, trades, positions, 3)

	trade, err := exec.Execute(context.Background(), buyParams(10))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for trade.Status == domain.TradeStatusFailed {
		trade, err = exec.RetryTrade(context.Background(), trade.ID)
		if err != nil {
			t.Fatalf("RetryTrade: %v", err)
		}
	}
	if trade.Status != domain.TradeStatusPermanentlyFailed {
		t.Fatalf("status = %s, want PERMANENTLY_FAILED", trade.Status)
	}
	if client.callCount() != 3 {
		t.Errorf("exchange calls = %d, want 3 (one initial + two retries)", client.callCount())
	}

	// A further retry must refuse without touching the exchange.
	_, err = exec.RetryTrade(context.Background(), trade.ID)
	if !errors.Is(err, domain.ErrTradeTerminal) {
		t.Errorf("retry of terminal trade: err = %v, want ErrTradeTerminal", err)
	}
	if client.callCount() != 3 {
		t.Errorf("terminal retry hit the exchange")
	}
}

func TestRetrySucceedsAfterFailure(t *testing.T) {
	trades := newMemTradeStore()
	positions := newMemPositionStore()
	client := &scriptedClient{
		errs:    []error{domain.ErrRateLimited, nil},
		results: []domain.OrderResult{{}, {OrderID: "ex-2", FilledAmount: 10, AvgPrice: 0.5}},
	}
	exec, _ := newTestExecutor(client, trades, positions, 3)

	trade, err := exec.Execute(context.Background(), buyParams(10))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if trade.Status != domain.TradeStatusFailed {
		t.Fatalf("status = %s, want FAILED", trade.Status)
	}

	trade, err = exec.RetryTrade(context.Background(), trade.ID)
	if err != nil {
		t.Fatalf("RetryTrade: %v", err)
	}
	if trade.Status != domain.TradeStatusExecuted {
		t.Errorf("status = %s, want EXECUTED after retry", trade.Status)
	}
	if trade.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1 preserved across the retry", trade.RetryCount)
	}
}

func TestRetryPreservesExitPolicy(t *testing.T) {
	trades := newMemTradeStore()
	positions := newMemPositionStore()
	client := &scriptedClient{
		errs:    []error{domain.ErrRateLimited, nil},
		results: []domain.OrderResult{{}, {OrderID: "ex-2", FilledAmount: 10, AvgPrice: 0.5}},
	}
	exec, _ := newTestExecutor(client, trades, positions, 3)

	params := buyParams(10)
	params.SLTP = &domain.SLTPConfig{StopLossPercent: 15, TakeProfitPercent: 40, TrailingStop: true}

	trade, err := exec.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if trade.Status != domain.TradeStatusFailed {
		t.Fatalf("status = %s, want FAILED", trade.Status)
	}

	trade, err = exec.RetryTrade(context.Background(), trade.ID)
	if err != nil {
		t.Fatalf("RetryTrade: %v", err)
	}
	if trade.Status != domain.TradeStatusExecuted {
		t.Fatalf("status = %s, want EXECUTED after retry", trade.Status)
	}

	pos, err := positions.GetOpenByToken(context.Background(), "trader-1", "token-1")
	if err != nil {
		t.Fatalf("expected an open position: %v", err)
	}
	if pos.SLTP == nil {
		t.Fatal("position opened by a retried trade lost its exit policy")
	}
	if pos.SLTP.StopLossPercent != 15 || pos.SLTP.TakeProfitPercent != 40 || !pos.SLTP.TrailingStop {
		t.Errorf("SLTP = %+v, want {15 40 true}", *pos.SLTP)
	}
}

func TestCancelPendingOnly(t *testing.T) {
	trades := newMemTradeStore()
	positions := newMemPositionStore()
	client := &scriptedClient{}
	exec, _ := newTestExecutor(client, trades, positions, 3)

	trade, err := exec.Execute(context.Background(), buyParams(10))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	// Already EXECUTED; cancel must refuse.
	if _, err := exec.CancelTrade(context.Background(), trade.ID); !errors.Is(err, domain.ErrTradeTerminal) {
		t.Errorf("cancel of executed trade: err = %v, want ErrTradeTerminal", err)
	}

	pending := domain.Trade{ID: "manual-1", Status: domain.TradeStatusPending}
	if err := trades.Create(context.Background(), pending); err != nil {
		t.Fatal(err)
	}
	cancelled, err := exec.CancelTrade(context.Background(), "manual-1")
	if err != nil {
		t.Fatalf("CancelTrade: %v", err)
	}
	if cancelled.Status != domain.TradeStatusCancelled {
		t.Errorf("status = %s, want CANCELLED", cancelled.Status)
	}
}

func TestBuyFillGrowsExistingPosition(t *testing.T) {
	trades := newMemTradeStore()
	positions := newMemPositionStore()
	client := &scriptedClient{results: []domain.OrderResult{
		{FilledAmount: 10, AvgPrice: 0.5},
		{FilledAmount: 12, AvgPrice: 0.6},
	}}
	exec, _ := newTestExecutor(client, trades, positions, 3)

	if _, err := exec.Execute(context.Background(), buyParams(10)); err != nil {
		t.Fatal(err)
	}
	if _, err := exec.Execute(context.Background(), buyParams(12)); err != nil {
		t.Fatal(err)
	}

	pos, err := positions.GetOpenByToken(context.Background(), "trader-1", "token-1")
	if err != nil {
		t.Fatal(err)
	}
	// 20 shares @ 0.5 plus 20 shares @ 0.6 averages to 0.55.
	if pos.Shares != 40 {
		t.Errorf("shares = %v, want 40", pos.Shares)
	}
	if diff := pos.EntryPrice - 0.55; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("entry = %v, want 0.55", pos.EntryPrice)
	}
}

func TestSellFillClosesPositionAndRealizesPnL(t *testing.T) {
	trades := newMemTradeStore()
	positions := newMemPositionStore()
	client := &scriptedClient{results: []domain.OrderResult{
		{FilledAmount: 10, AvgPrice: 0.5},
		{FilledAmount: 12, AvgPrice: 0.6},
	}}
	exec, _ := newTestExecutor(client, trades, positions, 3)

	var realized struct {
		traderID string
		pnl      float64
	}
	exec.SetRecorder(recorderFunc(func(traderID string, pnl float64) {
		realized.traderID = traderID
		realized.pnl += pnl
	}))

	if _, err := exec.Execute(context.Background(), buyParams(10)); err != nil {
		t.Fatal(err)
	}
	sell := buyParams(12)
	sell.Side = domain.OrderSideSell
	sell.SourceChange = domain.ChangeClosed
	if _, err := exec.Execute(context.Background(), sell); err != nil {
		t.Fatal(err)
	}

	if _, err := positions.GetOpenByToken(context.Background(), "trader-1", "token-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("position still open after full exit")
	}
	// Sold 20 shares bought at 0.5 for 0.6 apiece.
	if diff := realized.pnl - 2.0; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("realized pnl = %v, want 2.0", realized.pnl)
	}
	if realized.traderID != "trader-1" {
		t.Errorf("realized against trader %q", realized.traderID)
	}
}

type recorderFunc func(traderID string, pnl float64)

func (f recorderFunc) RecordRealized(traderID string, pnl float64) { f(traderID, pnl) }
