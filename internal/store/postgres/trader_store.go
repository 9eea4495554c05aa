package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"polycopy/internal/domain"
)

// TraderStore implements domain.TraderStore using PostgreSQL.
type TraderStore struct {
	pool *pgxpool.Pool
}

// NewTraderStore creates a TraderStore backed by the given pool.
func NewTraderStore(pool *pgxpool.Pool) *TraderStore {
	return &TraderStore{pool: pool}
}

var _ domain.TraderStore = (*TraderStore)(nil)

const traderSelectCols = `id, label, wallet, poll_interval_ms,
	allocation_percent, max_position_size, min_trade_amount,
	slippage_tolerance_percent, stop_loss_percent, take_profit_percent,
	trailing_stop, enabled,
	max_total_exposure, max_single_trade_size, max_open_positions,
	daily_loss_limit, max_drawdown_percent,
	created_at, updated_at`

// Upsert inserts the trader or replaces its policy when the id exists.
func (s *TraderStore) Upsert(ctx context.Context, t domain.MonitoredTrader) error {
	var (
		exposure, tradeSize, lossLimit, drawdown *float64
		openPositions                            *int
	)
	if t.Limits != nil {
		exposure = &t.Limits.MaxTotalExposure
		tradeSize = &t.Limits.MaxSingleTradeSize
		openPositions = &t.Limits.MaxOpenPositions
		lossLimit = &t.Limits.DailyLossLimit
		drawdown = &t.Limits.MaxDrawdownPercent
	}

	const query = `
		INSERT INTO traders (
			id, label, wallet, poll_interval_ms,
			allocation_percent, max_position_size, min_trade_amount,
			slippage_tolerance_percent, stop_loss_percent, take_profit_percent,
			trailing_stop, enabled,
			max_total_exposure, max_single_trade_size, max_open_positions,
			daily_loss_limit, max_drawdown_percent
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10,
			$11, $12,
			$13, $14, $15,
			$16, $17
		)
		ON CONFLICT (id) DO UPDATE SET
			label = EXCLUDED.label,
			wallet = EXCLUDED.wallet,
			poll_interval_ms = EXCLUDED.poll_interval_ms,
			allocation_percent = EXCLUDED.allocation_percent,
			max_position_size = EXCLUDED.max_position_size,
			min_trade_amount = EXCLUDED.min_trade_amount,
			slippage_tolerance_percent = EXCLUDED.slippage_tolerance_percent,
			stop_loss_percent = EXCLUDED.stop_loss_percent,
			take_profit_percent = EXCLUDED.take_profit_percent,
			trailing_stop = EXCLUDED.trailing_stop,
			enabled = EXCLUDED.enabled,
			max_total_exposure = EXCLUDED.max_total_exposure,
			max_single_trade_size = EXCLUDED.max_single_trade_size,
			max_open_positions = EXCLUDED.max_open_positions,
			daily_loss_limit = EXCLUDED.daily_loss_limit,
			max_drawdown_percent = EXCLUDED.max_drawdown_percent,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.Label, t.Wallet, t.PollInterval.Milliseconds(),
		t.Policy.AllocationPercent, t.Policy.MaxPositionSize, t.Policy.MinTradeAmount,
		t.Policy.SlippageTolerancePercent, t.Policy.StopLossPercent, t.Policy.TakeProfitPercent,
		t.Policy.TrailingStop, t.Policy.Enabled,
		exposure, tradeSize, openPositions,
		lossLimit, drawdown,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert trader %s: %w", t.ID, err)
	}
	return nil
}

// GetByID returns one trader or domain.ErrNotFound.
func (s *TraderStore) GetByID(ctx context.Context, id string) (domain.MonitoredTrader, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+traderSelectCols+` FROM traders WHERE id = $1`, id)
	t, err := scanTrader(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.MonitoredTrader{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.MonitoredTrader{}, fmt.Errorf("postgres: get trader %s: %w", id, err)
	}
	return t, nil
}

// ListEnabled returns all traders whose policy is enabled.
func (s *TraderStore) ListEnabled(ctx context.Context) ([]domain.MonitoredTrader, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+traderSelectCols+` FROM traders WHERE enabled ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list enabled traders: %w", err)
	}
	defer rows.Close()

	var out []domain.MonitoredTrader
	for rows.Next() {
		t, err := scanTrader(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trader: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Delete removes the trader; missing rows map to domain.ErrNotFound.
func (s *TraderStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM traders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete trader %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanTrader(row pgx.Row) (domain.MonitoredTrader, error) {
	var (
		t         domain.MonitoredTrader
		pollMs    int64
		exposure  *float64
		tradeSize *float64
		openPos   *int
		lossLimit *float64
		drawdown  *float64
	)
	err := row.Scan(
		&t.ID, &t.Label, &t.Wallet, &pollMs,
		&t.Policy.AllocationPercent, &t.Policy.MaxPositionSize, &t.Policy.MinTradeAmount,
		&t.Policy.SlippageTolerancePercent, &t.Policy.StopLossPercent, &t.Policy.TakeProfitPercent,
		&t.Policy.TrailingStop, &t.Policy.Enabled,
		&exposure, &tradeSize, &openPos,
		&lossLimit, &drawdown,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return domain.MonitoredTrader{}, err
	}
	t.PollInterval = time.Duration(pollMs) * time.Millisecond

	// Per-trader limits are stored nullable; any set column implies an
	// override.
	if exposure != nil || tradeSize != nil || openPos != nil || lossLimit != nil || drawdown != nil {
		limits := domain.RiskLimits{}
		if exposure != nil {
			limits.MaxTotalExposure = *exposure
		}
		if tradeSize != nil {
			limits.MaxSingleTradeSize = *tradeSize
		}
		if openPos != nil {
			limits.MaxOpenPositions = *openPos
		}
		if lossLimit != nil {
			limits.DailyLossLimit = *lossLimit
		}
		if drawdown != nil {
			limits.MaxDrawdownPercent = *drawdown
		}
		t.Limits = &limits
	}
	return t, nil
}
