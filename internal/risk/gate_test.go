package risk

import (
	"context"
	"testing"

	"polycopy/internal/domain"
)

func openPosition(tokenID string, shares, entry, current float64) domain.Position {
	return domain.Position{
		TokenID:      tokenID,
		Side:         domain.OrderSideBuy,
		Shares:       shares,
		EntryPrice:   entry,
		CurrentPrice: current,
		Status:       domain.PositionStatusOpen,
	}
}

func trader(limits domain.RiskLimits) domain.MonitoredTrader {
	return domain.MonitoredTrader{ID: "t1", Limits: &limits}
}

func TestExposureBoundary(t *testing.T) {
	// One open position worth 10 shares * 0.5 = 5 USDC.
	positions := &mockPositionStore{open: []domain.Position{openPosition("a", 10, 0.4, 0.5)}}
	prices := &mockPriceCache{prices: map[string]float64{"a": 0.5}}
	gate := NewGate(positions, prices, &stubDrawdown{}, domain.RiskLimits{}, testLogger())

	tr := trader(domain.RiskLimits{MaxTotalExposure: 10})

	// Exactly at the limit: 5 + 5 == 10 is allowed.
	dec, err := gate.Check(context.Background(), tr, 5, domain.OrderSideBuy)
	if err != nil {
		t.Fatal(err)
	}
	if !dec.Allowed {
		t.Errorf("exactly-at-limit should pass, declined with %s", dec.Reason)
	}

	// One cent over is declined.
	dec, err = gate.Check(context.Background(), tr, 5.01, domain.OrderSideBuy)
	if err != nil {
		t.Fatal(err)
	}
	if dec.Allowed {
		t.Error("over-limit exposure should be declined")
	}
	if dec.Reason != domain.RiskReasonExposureExceeded {
		t.Errorf("expected EXPOSURE_EXCEEDED, got %s", dec.Reason)
	}
}

func TestExposureSkippedForSells(t *testing.T) {
	positions := &mockPositionStore{open: []domain.Position{openPosition("a", 100, 0.5, 0.5)}}
	gate := NewGate(positions, &mockPriceCache{}, &stubDrawdown{}, domain.RiskLimits{}, testLogger())

	tr := trader(domain.RiskLimits{MaxTotalExposure: 1, MaxOpenPositions: 1})

	dec, err := gate.Check(context.Background(), tr, 20, domain.OrderSideSell)
	if err != nil {
		t.Fatal(err)
	}
	if !dec.Allowed {
		t.Errorf("closing sell should not be blocked by exposure limits, got %s", dec.Reason)
	}
}

func TestSingleTradeSize(t *testing.T) {
	gate := NewGate(&mockPositionStore{}, &mockPriceCache{}, &stubDrawdown{}, domain.RiskLimits{}, testLogger())
	tr := trader(domain.RiskLimits{MaxSingleTradeSize: 25})

	dec, _ := gate.Check(context.Background(), tr, 25, domain.OrderSideBuy)
	if !dec.Allowed {
		t.Error("trade exactly at max size should pass")
	}

	dec, _ = gate.Check(context.Background(), tr, 26, domain.OrderSideSell)
	if dec.Allowed || dec.Reason != domain.RiskReasonPositionSizeExceeded {
		t.Errorf("expected POSITION_SIZE_EXCEEDED, got allowed=%v reason=%s", dec.Allowed, dec.Reason)
	}
}

func TestMaxOpenPositions(t *testing.T) {
	positions := &mockPositionStore{open: []domain.Position{
		openPosition("a", 1, 0.5, 0.5),
		openPosition("b", 1, 0.5, 0.5),
	}}
	gate := NewGate(positions, &mockPriceCache{}, &stubDrawdown{}, domain.RiskLimits{}, testLogger())
	tr := trader(domain.RiskLimits{MaxOpenPositions: 2})

	dec, _ := gate.Check(context.Background(), tr, 1, domain.OrderSideBuy)
	if dec.Allowed || dec.Reason != domain.RiskReasonMaxPositionsReached {
		t.Errorf("expected MAX_POSITIONS_REACHED, got allowed=%v reason=%s", dec.Allowed, dec.Reason)
	}
}

func TestDailyLossLimit(t *testing.T) {
	// Open position: bought 100 shares at 0.50, now 0.30 → unrealized -20.
	positions := &mockPositionStore{open: []domain.Position{openPosition("a", 100, 0.5, 0.3)}}
	dd := &stubDrawdown{daily: -15} // realized today
	gate := NewGate(positions, &mockPriceCache{}, dd, domain.RiskLimits{}, testLogger())

	// Total daily pnl = -35, below -30 → declined.
	dec, _ := gate.Check(context.Background(), trader(domain.RiskLimits{DailyLossLimit: 30}), 1, domain.OrderSideBuy)
	if dec.Allowed || dec.Reason != domain.RiskReasonDailyLimitExceeded {
		t.Errorf("expected DAILY_LIMIT_EXCEEDED, got allowed=%v reason=%s", dec.Allowed, dec.Reason)
	}

	// Limit 35: exactly at the negative limit is not "below" it.
	dec, _ = gate.Check(context.Background(), trader(domain.RiskLimits{DailyLossLimit: 35}), 1, domain.OrderSideBuy)
	if !dec.Allowed {
		t.Errorf("pnl exactly at -limit should pass, got %s", dec.Reason)
	}
}

func TestDrawdownGating(t *testing.T) {
	gate := NewGate(&mockPositionStore{}, &mockPriceCache{}, &stubDrawdown{drawdown: 12}, domain.RiskLimits{}, testLogger())

	dec, _ := gate.Check(context.Background(), trader(domain.RiskLimits{MaxDrawdownPercent: 10}), 1, domain.OrderSideBuy)
	if dec.Allowed || dec.Reason != domain.RiskReasonDrawdownLimitExceeded {
		t.Errorf("expected DRAWDOWN_LIMIT_EXCEEDED, got allowed=%v reason=%s", dec.Allowed, dec.Reason)
	}

	// A halt declines even when the instantaneous drawdown reads low.
	gateHalted := NewGate(&mockPositionStore{}, &mockPriceCache{}, &stubDrawdown{drawdown: 1, halted: true}, domain.RiskLimits{}, testLogger())
	dec, _ = gateHalted.Check(context.Background(), trader(domain.RiskLimits{MaxDrawdownPercent: 10}), 1, domain.OrderSideSell)
	if dec.Allowed {
		t.Error("halted trader must be declined on every side")
	}
}

func TestGlobalLimitsApplyWithoutOverride(t *testing.T) {
	gate := NewGate(&mockPositionStore{}, &mockPriceCache{}, &stubDrawdown{}, domain.RiskLimits{MaxSingleTradeSize: 5}, testLogger())

	dec, _ := gate.Check(context.Background(), domain.MonitoredTrader{ID: "t1"}, 6, domain.OrderSideBuy)
	if dec.Allowed {
		t.Error("global limits should apply when the trader has no override")
	}
}

func TestZeroLimitsDisableChecks(t *testing.T) {
	gate := NewGate(&mockPositionStore{}, &mockPriceCache{}, &stubDrawdown{drawdown: 99}, domain.RiskLimits{}, testLogger())

	dec, err := gate.Check(context.Background(), domain.MonitoredTrader{ID: "t1"}, 1e6, domain.OrderSideBuy)
	if err != nil {
		t.Fatal(err)
	}
	if !dec.Allowed {
		t.Errorf("all-zero limits should disable every check, got %s", dec.Reason)
	}
}
