// Package risk provides the pre-trade risk gate and per-trader drawdown
// tracking. The gate is side-effect free and safe to call speculatively; the
// monitor owns the mutable drawdown state the gate reads.
package risk

import (
	"context"
	"fmt"
	"log/slog"

	"polycopy/internal/domain"
)

// DrawdownReader is the slice of the drawdown monitor the gate consults.
type DrawdownReader interface {
	Drawdown(traderID string) float64
	Halted(traderID string) bool
	DailyRealized(traderID string) float64
}

// Gate evaluates exposure, sizing, position-count, daily-loss and drawdown
// limits before any order is submitted. Checks run in a fixed order and fail
// fast on the first violation.
type Gate struct {
	positions domain.PositionStore
	prices    domain.PriceCache
	drawdown  DrawdownReader
	global    domain.RiskLimits
	logger    *slog.Logger
}

// NewGate creates a Gate. global applies to traders without a limits override.
func NewGate(
	positions domain.PositionStore,
	prices domain.PriceCache,
	drawdown DrawdownReader,
	global domain.RiskLimits,
	logger *slog.Logger,
) *Gate {
	return &Gate{
		positions: positions,
		prices:    prices,
		drawdown:  drawdown,
		global:    global,
		logger:    logger.With(slog.String("component", "risk_gate")),
	}
}

// limitsFor resolves the effective limits for a trader.
func (g *Gate) limitsFor(trader domain.MonitoredTrader) domain.RiskLimits {
	if trader.Limits != nil {
		return *trader.Limits
	}
	return g.global
}

// Check evaluates the proposed trade. Exposure and position-count limits gate
// new exposure only, so they are skipped for closing SELLs; sizing, daily
// loss and drawdown apply to both sides. A proposal exactly at a limit is
// allowed.
func (g *Gate) Check(ctx context.Context, trader domain.MonitoredTrader, proposedAmount float64, side domain.OrderSide) (domain.RiskDecision, error) {
	limits := g.limitsFor(trader)

	open, err := g.positions.ListOpenByTrader(ctx, trader.ID)
	if err != nil {
		return domain.RiskDecision{}, fmt.Errorf("risk: list open positions: %w", err)
	}

	if side == domain.OrderSideBuy {
		// Check 1: total exposure.
		if limits.MaxTotalExposure > 0 {
			exposure, err := g.openExposure(ctx, open)
			if err != nil {
				return domain.RiskDecision{}, err
			}
			if exposure+proposedAmount > limits.MaxTotalExposure {
				return domain.Decline(domain.RiskReasonExposureExceeded,
					fmt.Sprintf("open exposure %.2f + proposed %.2f exceeds max %.2f",
						exposure, proposedAmount, limits.MaxTotalExposure)), nil
			}
		}
	}

	// Check 2: single trade size.
	if limits.MaxSingleTradeSize > 0 && proposedAmount > limits.MaxSingleTradeSize {
		return domain.Decline(domain.RiskReasonPositionSizeExceeded,
			fmt.Sprintf("proposed %.2f exceeds max trade size %.2f",
				proposedAmount, limits.MaxSingleTradeSize)), nil
	}

	// Check 3: open position count, again only for new exposure.
	if side == domain.OrderSideBuy && limits.MaxOpenPositions > 0 && len(open) >= limits.MaxOpenPositions {
		return domain.Decline(domain.RiskReasonMaxPositionsReached,
			fmt.Sprintf("open positions %d at max %d", len(open), limits.MaxOpenPositions)), nil
	}

	// Check 4: daily loss limit over realized + unrealized P&L.
	if limits.DailyLossLimit > 0 {
		daily := g.drawdown.DailyRealized(trader.ID) + g.unrealizedPnL(ctx, open)
		if daily < -limits.DailyLossLimit {
			return domain.Decline(domain.RiskReasonDailyLimitExceeded,
				fmt.Sprintf("daily pnl %.2f below -%.2f", daily, limits.DailyLossLimit)), nil
		}
	}

	// Check 5: drawdown. A LIMIT_REACHED halt declines everything for the
	// trader until drawdown recovers or tracking is manually reset.
	if g.drawdown.Halted(trader.ID) {
		return domain.Decline(domain.RiskReasonDrawdownLimitExceeded,
			"drawdown halt active"), nil
	}
	if limits.MaxDrawdownPercent > 0 {
		if dd := g.drawdown.Drawdown(trader.ID); dd >= limits.MaxDrawdownPercent {
			return domain.Decline(domain.RiskReasonDrawdownLimitExceeded,
				fmt.Sprintf("drawdown %.2f%% at or above max %.2f%%", dd, limits.MaxDrawdownPercent)), nil
		}
	}

	return domain.Allow(), nil
}

// openExposure values open positions at the freshest available price,
// falling back to each position's stored current price on cache misses.
func (g *Gate) openExposure(ctx context.Context, open []domain.Position) (float64, error) {
	tokenIDs := make([]string, 0, len(open))
	for _, p := range open {
		tokenIDs = append(tokenIDs, p.TokenID)
	}

	prices := map[string]float64{}
	if g.prices != nil && len(tokenIDs) > 0 {
		cached, err := g.prices.GetPrices(ctx, tokenIDs)
		if err != nil {
			g.logger.WarnContext(ctx, "price lookup failed, using stored prices",
				slog.String("error", err.Error()),
			)
		} else {
			prices = cached
		}
	}

	var total float64
	for _, p := range open {
		price, ok := prices[p.TokenID]
		if !ok {
			price = p.CurrentPrice
		}
		total += price * p.Shares
	}
	return total, nil
}

// unrealizedPnL sums open-position P&L at the stored current price. Quote
// staleness here is acceptable; the exit manager refreshes these every cycle.
func (g *Gate) unrealizedPnL(_ context.Context, open []domain.Position) float64 {
	var total float64
	for _, p := range open {
		switch p.Side {
		case domain.OrderSideSell:
			total += (p.EntryPrice - p.CurrentPrice) * p.Shares
		default:
			total += (p.CurrentPrice - p.EntryPrice) * p.Shares
		}
	}
	return total
}
