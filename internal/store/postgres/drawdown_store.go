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

// DrawdownStore implements domain.DrawdownStore using PostgreSQL.
type DrawdownStore struct {
	pool *pgxpool.Pool
}

// NewDrawdownStore creates a DrawdownStore backed by the given pool.
func NewDrawdownStore(pool *pgxpool.Pool) *DrawdownStore {
	return &DrawdownStore{pool: pool}
}

var _ domain.DrawdownStore = (*DrawdownStore)(nil)

// Save appends a drawdown snapshot.
func (s *DrawdownStore) Save(ctx context.Context, snap domain.DrawdownSnapshot) error {
	const query = `
		INSERT INTO drawdown_snapshots (
			trader_id, current_balance, peak_balance, drawdown_percent,
			daily_pnl, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.pool.Exec(ctx, query,
		snap.TraderID, snap.CurrentBalance, snap.PeakBalance,
		snap.DrawdownPercent, snap.DailyPnL, snap.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: save drawdown snapshot: %w", err)
	}
	return nil
}

// Latest returns the trader's most recent snapshot, for restoring peak
// tracking at startup.
func (s *DrawdownStore) Latest(ctx context.Context, traderID string) (domain.DrawdownSnapshot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT trader_id, current_balance, peak_balance, drawdown_percent,
		       daily_pnl, recorded_at
		FROM drawdown_snapshots
		WHERE trader_id = $1
		ORDER BY recorded_at DESC LIMIT 1`,
		traderID)

	var snap domain.DrawdownSnapshot
	err := row.Scan(
		&snap.TraderID, &snap.CurrentBalance, &snap.PeakBalance,
		&snap.DrawdownPercent, &snap.DailyPnL, &snap.Timestamp,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DrawdownSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.DrawdownSnapshot{}, fmt.Errorf("postgres: latest drawdown %s: %w", traderID, err)
	}
	return snap, nil
}

// ListSince returns the trader's snapshots recorded since the given time.
func (s *DrawdownStore) ListSince(ctx context.Context, traderID string, since time.Time) ([]domain.DrawdownSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT trader_id, current_balance, peak_balance, drawdown_percent,
		       daily_pnl, recorded_at
		FROM drawdown_snapshots
		WHERE trader_id = $1 AND recorded_at >= $2
		ORDER BY recorded_at`,
		traderID, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list drawdown %s: %w", traderID, err)
	}
	defer rows.Close()

	var out []domain.DrawdownSnapshot
	for rows.Next() {
		var snap domain.DrawdownSnapshot
		if err := rows.Scan(
			&snap.TraderID, &snap.CurrentBalance, &snap.PeakBalance,
			&snap.DrawdownPercent, &snap.DailyPnL, &snap.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan drawdown snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
