// Package journal rolls settled engine history out of Postgres and into
// object storage as newline-delimited JSON, keeping the hot tables small.
package journal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"polycopy/internal/domain"
)

const (
	// DefaultInterval is how often the archiver sweeps.
	DefaultInterval = 24 * time.Hour

	// DefaultRetention is how long terminal trades stay in Postgres before
	// they are shipped to the archive.
	DefaultRetention = 7 * 24 * time.Hour

	// pageSize bounds each store query during a sweep.
	pageSize = 500
)

// Config tunes the archive sweep.
type Config struct {
	Interval  time.Duration
	Retention time.Duration
}

// Archiver ships terminal trades and drawdown history to a BlobWriter.
// Archived rows are not deleted here; pruning is a separate explicit step
// run after an archive has been verified.
type Archiver struct {
	writer    domain.BlobWriter
	trades    domain.TradeStore
	traders   domain.TraderStore
	drawdowns domain.DrawdownStore
	audit     domain.AuditStore // nil skips audit entries
	cfg       Config
	logger    *slog.Logger
}

func New(
	writer domain.BlobWriter,
	trades domain.TradeStore,
	traders domain.TraderStore,
	drawdowns domain.DrawdownStore,
	audit domain.AuditStore,
	cfg Config,
	logger *slog.Logger,
) *Archiver {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	return &Archiver{
		writer:    writer,
		trades:    trades,
		traders:   traders,
		drawdowns: drawdowns,
		audit:     audit,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "journal")),
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().Add(-a.cfg.Retention)
			if _, err := a.ArchiveTrades(ctx, cutoff); err != nil {
				a.logger.Error("trade archive sweep failed",
					slog.String("error", err.Error()))
			}
			if _, err := a.ArchiveDrawdowns(ctx, cutoff); err != nil {
				a.logger.Error("drawdown archive sweep failed",
					slog.String("error", err.Error()))
			}
		}
	}
}

// ArchiveTrades uploads every terminal trade last touched before the cutoff
// to archive/trades/YYYY-MM-DD.jsonl and returns the archived count.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	var all []domain.Trade
	for offset := 0; ; offset += pageSize {
		page, err := a.trades.ListTerminalBefore(ctx, before, domain.ListOpts{
			Limit:  pageSize,
			Offset: offset,
		})
		if err != nil {
			return 0, fmt.Errorf("journal: list terminal trades: %w", err)
		}
		all = append(all, page...)
		if len(page) < pageSize {
			break
		}
	}
	if len(all) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(all)
	if err != nil {
		return 0, fmt.Errorf("journal: encode trades: %w", err)
	}

	path := archivePath("trades", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("journal: upload trades: %w", err)
	}

	count := int64(len(all))
	a.logArchive(ctx, "archive.trades", path, count, before)
	a.logger.Info("trades archived",
		slog.String("path", path),
		slog.Int64("count", count))
	return count, nil
}

// ArchiveDrawdowns uploads the drawdown history of every enabled trader for
// the 24 hours ending at the cutoff.
func (a *Archiver) ArchiveDrawdowns(ctx context.Context, before time.Time) (int64, error) {
	traders, err := a.traders.ListEnabled(ctx)
	if err != nil {
		return 0, fmt.Errorf("journal: list traders: %w", err)
	}

	since := before.Add(-24 * time.Hour)
	var all []domain.DrawdownSnapshot
	for _, tr := range traders {
		snaps, err := a.drawdowns.ListSince(ctx, tr.ID, since)
		if err != nil {
			return 0, fmt.Errorf("journal: list drawdowns for %s: %w", tr.ID, err)
		}
		for _, s := range snaps {
			if s.Timestamp.Before(before) {
				all = append(all, s)
			}
		}
	}
	if len(all) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(all)
	if err != nil {
		return 0, fmt.Errorf("journal: encode drawdowns: %w", err)
	}

	path := archivePath("drawdowns", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("journal: upload drawdowns: %w", err)
	}

	count := int64(len(all))
	a.logArchive(ctx, "archive.drawdowns", path, count, before)
	return count, nil
}

func (a *Archiver) logArchive(ctx context.Context, event, path string, count int64, before time.Time) {
	if a.audit == nil {
		return
	}
	if err := a.audit.Log(ctx, event, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		a.logger.Warn("archive audit entry failed",
			slog.String("event", event),
			slog.String("error", err.Error()))
	}
}

// archivePath partitions archive objects by the cutoff date:
//
//	archive/trades/2026-08-21.jsonl
//	archive/drawdowns/2026-08-21.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01-02"))
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
