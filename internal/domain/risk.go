package domain

import "time"

// RiskLimits is a ceiling set applied per trader, or globally when a trader
// carries no override. Zero values disable the corresponding check.
type RiskLimits struct {
	MaxTotalExposure   float64 // USDC notional across open positions
	MaxSingleTradeSize float64 // USDC notional per order
	MaxOpenPositions   int
	DailyLossLimit     float64 // positive number, e.g. 50 means -$50
	MaxDrawdownPercent float64
}

// RiskReason identifies which check declined a proposed trade.
type RiskReason string

const (
	RiskReasonExposureExceeded      RiskReason = "EXPOSURE_EXCEEDED"
	RiskReasonPositionSizeExceeded  RiskReason = "POSITION_SIZE_EXCEEDED"
	RiskReasonMaxPositionsReached   RiskReason = "MAX_POSITIONS_REACHED"
	RiskReasonDailyLimitExceeded    RiskReason = "DAILY_LIMIT_EXCEEDED"
	RiskReasonDrawdownLimitExceeded RiskReason = "DRAWDOWN_LIMIT_EXCEEDED"
)

// RiskDecision is the result of a Risk Gate check. The gate performs no side
// effects, so a decision may be obtained speculatively.
type RiskDecision struct {
	Allowed bool
	Reason  RiskReason
	Detail  string
}

// Allow is the passing decision.
func Allow() RiskDecision { return RiskDecision{Allowed: true} }

// Decline builds a declining decision with the given reason code.
func Decline(reason RiskReason, detail string) RiskDecision {
	return RiskDecision{Allowed: false, Reason: reason, Detail: detail}
}

// AlertLevel grades drawdown alerts.
type AlertLevel string

const (
	AlertWarning      AlertLevel = "WARNING"
	AlertCritical     AlertLevel = "CRITICAL"
	AlertLimitReached AlertLevel = "LIMIT_REACHED"
)

// DrawdownSnapshot captures per-trader balance tracking at one Exit Manager
// cycle. Peak is monotonically non-decreasing until tracking is reset.
type DrawdownSnapshot struct {
	TraderID        string
	CurrentBalance  float64
	PeakBalance     float64
	DrawdownPercent float64
	DailyPnL        float64
	Timestamp       time.Time
}

// ComputeDrawdown returns (peak-current)/peak as a percentage, or 0 when the
// peak is not positive.
func ComputeDrawdown(peak, current float64) float64 {
	if peak <= 0 {
		return 0
	}
	return (peak - current) / peak * 100
}
