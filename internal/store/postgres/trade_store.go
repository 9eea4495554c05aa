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

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

var _ domain.TradeStore = (*TradeStore)(nil)

const tradeSelectCols = `id, trader_id, position_id, market_id, token_id, outcome,
	side, order_type, requested_amount, limit_price,
	executed_amount, avg_fill_price, fee_usd,
	status, failure_reason, retry_count, next_retry_at,
	source_change, exchange_order_id,
	stop_loss_percent, take_profit_percent, trailing_stop,
	created_at, executed_at, updated_at`

// Create inserts a new trade row.
func (s *TradeStore) Create(ctx context.Context, t domain.Trade) error {
	var slPct, tpPct *float64
	var trailing *bool
	if t.SLTP != nil {
		slPct = &t.SLTP.StopLossPercent
		tpPct = &t.SLTP.TakeProfitPercent
		trailing = &t.SLTP.TrailingStop
	}

	const query = `
		INSERT INTO trades (
			id, trader_id, position_id, market_id, token_id, outcome,
			side, order_type, requested_amount, limit_price,
			executed_amount, avg_fill_price, fee_usd,
			status, failure_reason, retry_count, next_retry_at,
			source_change, exchange_order_id,
			stop_loss_percent, take_profit_percent, trailing_stop,
			created_at, executed_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13,
			$14, $15, $16, $17,
			$18, $19,
			$20, $21, $22,
			$23, $24, $25
		)`
	_, err := s.pool.Exec(ctx, query,
		t.ID, t.TraderID, t.PositionID, t.MarketID, t.TokenID, t.Outcome,
		string(t.Side), string(t.OrderType), t.RequestedAmount, t.LimitPrice,
		t.ExecutedAmount, t.AvgFillPrice, t.FeeUSD,
		string(t.Status), t.FailureReason, t.RetryCount, t.NextRetryAt,
		string(t.SourceChange), t.ExchangeOrderID,
		slPct, tpPct, trailing,
		t.CreatedAt, t.ExecutedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create trade %s: %w", t.ID, err)
	}
	return nil
}

// Update rewrites the mutable trade columns; missing rows map to
// domain.ErrNotFound.
func (s *TradeStore) Update(ctx context.Context, t domain.Trade) error {
	const query = `
		UPDATE trades SET
			position_id = $2,
			executed_amount = $3,
			avg_fill_price = $4,
			fee_usd = $5,
			status = $6,
			failure_reason = $7,
			retry_count = $8,
			next_retry_at = $9,
			exchange_order_id = $10,
			executed_at = $11,
			updated_at = $12
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		t.ID, t.PositionID,
		t.ExecutedAmount, t.AvgFillPrice, t.FeeUSD,
		string(t.Status), t.FailureReason, t.RetryCount, t.NextRetryAt,
		t.ExchangeOrderID, t.ExecutedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update trade %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID returns one trade or domain.ErrNotFound.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE id = $1`, id)
	t, err := scanTrade(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Trade{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return t, nil
}

// ListByStatus returns trades in the given status, oldest first.
func (s *TradeStore) ListByStatus(ctx context.Context, status domain.TradeStatus, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE status = $1 ORDER BY created_at`
	args := []any{string(status)}
	query, args = applyListOpts(query, args, opts)

	return s.list(ctx, query, args)
}

// ListByTrader returns a trader's trades, newest first.
func (s *TradeStore) ListByTrader(ctx context.Context, traderID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE trader_id = $1 ORDER BY created_at DESC`
	args := []any{traderID}
	query, args = applyListOpts(query, args, opts)

	return s.list(ctx, query, args)
}

// ListTerminalBefore returns terminal trades last updated before the cutoff,
// for the journal archiver.
func (s *TradeStore) ListTerminalBefore(ctx context.Context, before time.Time, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades
		WHERE status IN ('EXECUTED', 'PERMANENTLY_FAILED', 'CANCELLED') AND updated_at < $1
		ORDER BY updated_at`
	args := []any{before}
	query, args = applyListOpts(query, args, opts)

	return s.list(ctx, query, args)
}

func (s *TradeStore) list(ctx context.Context, query string, args []any) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var (
		t                               domain.Trade
		side, orderType, status, change string
		slPct, tpPct                    *float64
		trailing                        *bool
	)
	err := row.Scan(
		&t.ID, &t.TraderID, &t.PositionID, &t.MarketID, &t.TokenID, &t.Outcome,
		&side, &orderType, &t.RequestedAmount, &t.LimitPrice,
		&t.ExecutedAmount, &t.AvgFillPrice, &t.FeeUSD,
		&status, &t.FailureReason, &t.RetryCount, &t.NextRetryAt,
		&change, &t.ExchangeOrderID,
		&slPct, &tpPct, &trailing,
		&t.CreatedAt, &t.ExecutedAt, &t.UpdatedAt,
	)
	if err != nil {
		return domain.Trade{}, err
	}
	t.Side = domain.OrderSide(side)
	t.OrderType = domain.OrderType(orderType)
	t.Status = domain.TradeStatus(status)
	t.SourceChange = domain.ChangeType(change)
	if slPct != nil || tpPct != nil {
		sltp := domain.SLTPConfig{}
		if slPct != nil {
			sltp.StopLossPercent = *slPct
		}
		if tpPct != nil {
			sltp.TakeProfitPercent = *tpPct
		}
		if trailing != nil {
			sltp.TrailingStop = *trailing
		}
		t.SLTP = &sltp
	}
	return t, nil
}

// applyListOpts appends LIMIT/OFFSET clauses for positive values.
func applyListOpts(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}
