package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TraderStore persists monitored traders and their allocation policies.
type TraderStore interface {
	Upsert(ctx context.Context, t MonitoredTrader) error
	GetByID(ctx context.Context, id string) (MonitoredTrader, error)
	ListEnabled(ctx context.Context) ([]MonitoredTrader, error)
	Delete(ctx context.Context, id string) error
}

// TradeStore persists copy trades. A trade is committed only once the store
// write acknowledges; the executor treats this as the durability boundary.
type TradeStore interface {
	Create(ctx context.Context, t Trade) error
	Update(ctx context.Context, t Trade) error
	GetByID(ctx context.Context, id string) (Trade, error)
	ListByStatus(ctx context.Context, status TradeStatus, opts ListOpts) ([]Trade, error)
	ListByTrader(ctx context.Context, traderID string, opts ListOpts) ([]Trade, error)
	ListTerminalBefore(ctx context.Context, before time.Time, opts ListOpts) ([]Trade, error)
}

// PositionStore persists follower-side positions.
type PositionStore interface {
	Create(ctx context.Context, p Position) error
	Update(ctx context.Context, p Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	GetOpenByToken(ctx context.Context, traderID, tokenID string) (Position, error)
	ListOpen(ctx context.Context) ([]Position, error)
	ListOpenByTrader(ctx context.Context, traderID string) ([]Position, error)
}

// DrawdownStore persists per-trader drawdown tracking snapshots.
type DrawdownStore interface {
	Save(ctx context.Context, s DrawdownSnapshot) error
	Latest(ctx context.Context, traderID string) (DrawdownSnapshot, error)
	ListSince(ctx context.Context, traderID string, since time.Time) ([]DrawdownSnapshot, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
