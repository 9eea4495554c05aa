package risk

import (
	"context"
	"math"
	"testing"

	"polycopy/internal/domain"
)

func newTestMonitor() *Monitor {
	return NewMonitor(DefaultMonitorConfig(), nil, nil, testLogger())
}

func TestPeakAndDrawdownSequence(t *testing.T) {
	m := newTestMonitor()
	ctx := context.Background()

	balances := []float64{100, 120, 90}
	wantPeaks := []float64{100, 120, 120}

	var last domain.DrawdownSnapshot
	for i, b := range balances {
		last = m.UpdateBalance(ctx, "t1", b, 0)
		if last.PeakBalance != wantPeaks[i] {
			t.Errorf("step %d: expected peak %v, got %v", i+1, wantPeaks[i], last.PeakBalance)
		}
	}

	if math.Abs(last.DrawdownPercent-25) > 1e-9 {
		t.Errorf("expected drawdown 25%%, got %v", last.DrawdownPercent)
	}
	if got := m.Drawdown("t1"); math.Abs(got-25) > 1e-9 {
		t.Errorf("Drawdown() = %v, want 25", got)
	}
}

func TestZeroPeakYieldsZeroDrawdown(t *testing.T) {
	if got := domain.ComputeDrawdown(0, 50); got != 0 {
		t.Errorf("expected 0 drawdown with zero peak, got %v", got)
	}
	m := newTestMonitor()
	if got := m.Drawdown("unknown"); got != 0 {
		t.Errorf("unknown trader drawdown should be 0, got %v", got)
	}
}

func TestHaltAndRecovery(t *testing.T) {
	m := newTestMonitor()
	ctx := context.Background()
	const limit = 20.0

	m.UpdateBalance(ctx, "t1", 100, limit)
	if m.Halted("t1") {
		t.Fatal("no halt expected at zero drawdown")
	}

	// 25% drawdown crosses the 20% limit.
	m.UpdateBalance(ctx, "t1", 75, limit)
	if !m.Halted("t1") {
		t.Fatal("expected halt at 25% drawdown with 20% limit")
	}

	// Recovery to 15% drawdown lifts the halt.
	m.UpdateBalance(ctx, "t1", 85, limit)
	if m.Halted("t1") {
		t.Error("expected halt lifted after drawdown recovered below the limit")
	}
}

func TestManualReset(t *testing.T) {
	m := newTestMonitor()
	ctx := context.Background()

	m.UpdateBalance(ctx, "t1", 100, 10)
	m.UpdateBalance(ctx, "t1", 80, 10) // 20% > 10% limit
	if !m.Halted("t1") {
		t.Fatal("expected halt")
	}

	m.Reset("t1")
	if m.Halted("t1") {
		t.Error("reset should clear the halt")
	}
	if got := m.Drawdown("t1"); got != 0 {
		t.Errorf("reset should restart tracking from current balance, drawdown = %v", got)
	}
}

func TestClassifyLevels(t *testing.T) {
	m := newTestMonitor() // warning at 50% of limit, critical at 80%
	const limit = 20.0

	tests := []struct {
		dd   float64
		want domain.AlertLevel
	}{
		{5, ""},
		{10, domain.AlertWarning},
		{16, domain.AlertCritical},
		{20, domain.AlertLimitReached},
		{30, domain.AlertLimitReached},
	}
	for _, tt := range tests {
		if got := m.classify(tt.dd, limit); got != tt.want {
			t.Errorf("classify(%v, %v) = %q, want %q", tt.dd, limit, got, tt.want)
		}
	}
	if got := m.classify(50, 0); got != "" {
		t.Errorf("no limit configured should never alert, got %q", got)
	}
}

func TestDailyRealizedAccumulates(t *testing.T) {
	m := newTestMonitor()
	m.RecordRealized("t1", -10)
	m.RecordRealized("t1", 4)
	if got := m.DailyRealized("t1"); got != -6 {
		t.Errorf("expected -6, got %v", got)
	}
	if got := m.DailyRealized("t2"); got != 0 {
		t.Errorf("expected 0 for untracked trader, got %v", got)
	}
}

func TestRestore(t *testing.T) {
	m := newTestMonitor()
	m.Restore(domain.DrawdownSnapshot{
		TraderID:       "t1",
		CurrentBalance: 90,
		PeakBalance:    120,
	})
	if got := m.Drawdown("t1"); math.Abs(got-25) > 1e-9 {
		t.Errorf("restored drawdown = %v, want 25", got)
	}
}
