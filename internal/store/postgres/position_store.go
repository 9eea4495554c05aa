package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"polycopy/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

var _ domain.PositionStore = (*PositionStore)(nil)

const positionSelectCols = `id, trader_id, market_id, token_id, outcome, side,
	shares, entry_price, current_price, peak_price,
	unrealized_pnl, realized_pnl,
	stop_loss_percent, take_profit_percent, trailing_stop,
	status, opened_at, closed_at, exit_price`

// Create inserts a new position row.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	var slPct, tpPct *float64
	var trailing *bool
	if p.SLTP != nil {
		slPct = &p.SLTP.StopLossPercent
		tpPct = &p.SLTP.TakeProfitPercent
		trailing = &p.SLTP.TrailingStop
	}

	const query = `
		INSERT INTO positions (
			id, trader_id, market_id, token_id, outcome, side,
			shares, entry_price, current_price, peak_price,
			unrealized_pnl, realized_pnl,
			stop_loss_percent, take_profit_percent, trailing_stop,
			status, opened_at, closed_at, exit_price
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12,
			$13, $14, $15,
			$16, $17, $18, $19
		)`
	_, err := s.pool.Exec(ctx, query,
		p.ID, p.TraderID, p.MarketID, p.TokenID, p.Outcome, string(p.Side),
		p.Shares, p.EntryPrice, p.CurrentPrice, p.PeakPrice,
		p.UnrealizedPnL, p.RealizedPnL,
		slPct, tpPct, trailing,
		string(p.Status), p.OpenedAt, p.ClosedAt, p.ExitPrice,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Update rewrites the mutable position columns.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			shares = $2,
			entry_price = $3,
			current_price = $4,
			peak_price = $5,
			unrealized_pnl = $6,
			realized_pnl = $7,
			status = $8,
			closed_at = $9,
			exit_price = $10
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		p.ID, p.Shares, p.EntryPrice, p.CurrentPrice, p.PeakPrice,
		p.UnrealizedPnL, p.RealizedPnL,
		string(p.Status), p.ClosedAt, p.ExitPrice,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID returns one position or domain.ErrNotFound.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)
	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// GetOpenByToken returns the open position a trader copy holds in a token.
func (s *PositionStore) GetOpenByToken(ctx context.Context, traderID, tokenID string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE trader_id = $1 AND token_id = $2 AND status = 'OPEN'
		 ORDER BY opened_at DESC LIMIT 1`,
		traderID, tokenID)
	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get open position %s/%s: %w", traderID, tokenID, err)
	}
	return p, nil
}

// ListOpen returns every open position.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	return s.list(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE status = 'OPEN' ORDER BY opened_at`)
}

// ListOpenByTrader returns a trader's open positions.
func (s *PositionStore) ListOpenByTrader(ctx context.Context, traderID string) ([]domain.Position, error) {
	return s.list(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE trader_id = $1 AND status = 'OPEN' ORDER BY opened_at`,
		traderID)
}

func (s *PositionStore) list(ctx context.Context, query string, args ...any) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p            domain.Position
		side, status string
		slPct, tpPct *float64
		trailing     *bool
	)
	err := row.Scan(
		&p.ID, &p.TraderID, &p.MarketID, &p.TokenID, &p.Outcome, &side,
		&p.Shares, &p.EntryPrice, &p.CurrentPrice, &p.PeakPrice,
		&p.UnrealizedPnL, &p.RealizedPnL,
		&slPct, &tpPct, &trailing,
		&status, &p.OpenedAt, &p.ClosedAt, &p.ExitPrice,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.OrderSide(side)
	p.Status = domain.PositionStatus(status)
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
		p.SLTP = &sltp
	}
	return p, nil
}
