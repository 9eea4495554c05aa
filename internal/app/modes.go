package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"polycopy/internal/bus"
	"polycopy/internal/copier"
	"polycopy/internal/domain"
	"polycopy/internal/executor"
	"polycopy/internal/exit"
	"polycopy/internal/feed"
	"polycopy/internal/journal"
	"polycopy/internal/risk"
	"polycopy/internal/server"
	"polycopy/internal/server/handler"
	"polycopy/internal/server/ws"
	"polycopy/internal/watcher"
)

// changeBusQueueSize buffers position changes between the watcher and the
// copier so a slow execution path does not stall polling.
const changeBusQueueSize = 64

// engineCore is the monitoring infrastructure shared by both modes: the
// change bus, the per-trader watchers, the drawdown monitor and the market
// price feed.
type engineCore struct {
	changes *bus.ChangeBus
	watcher *watcher.Watcher
	monitor *risk.Monitor
	feed    *feed.MarketFeed // nil when Redis is disabled
}

// buildCore constructs the shared monitoring stack, restores drawdown state
// from the store, and starts a polling loop for every enabled trader.
func (a *App) buildCore(ctx context.Context, g *errgroup.Group, deps *Dependencies) (*engineCore, error) {
	core := &engineCore{
		changes: bus.New(changeBusQueueSize, a.logger),
		monitor: risk.NewMonitor(risk.DefaultMonitorConfig(), deps.Drawdowns, deps.Signals, a.logger),
	}
	core.watcher = watcher.New(deps.Data, core.changes, deps.Signals, a.logger)

	traders, err := deps.Traders.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}

	for _, t := range traders {
		snap, err := deps.Drawdowns.Latest(ctx, t.ID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			// First run for this trader.
		case err != nil:
			a.logger.WarnContext(ctx, "drawdown restore failed",
				slog.String("trader_id", t.ID),
				slog.String("error", err.Error()),
			)
		default:
			core.monitor.Restore(snap)
		}

		if t.PollInterval <= 0 {
			t.PollInterval = a.cfg.Copy.DefaultPollInterval.Duration
		}
		core.watcher.StartMonitoring(ctx, t)
	}
	a.logger.InfoContext(ctx, "monitoring started", slog.Int("traders", len(traders)))

	// Market feed keeps the price cache warm for every token the engine
	// touches. Seed with open positions, then follow the change stream.
	if deps.Prices != nil && a.cfg.Exchange.WsHost != "" {
		core.feed = feed.NewMarketFeed(a.cfg.Exchange.WsHost, deps.Prices, a.logger)

		open, err := deps.Positions.ListOpen(ctx)
		if err != nil {
			a.logger.WarnContext(ctx, "open position seed failed",
				slog.String("error", err.Error()),
			)
		}
		for _, p := range open {
			_ = core.feed.Watch(p.TokenID)
		}

		ch, unsubscribe := core.changes.Subscribe()
		g.Go(func() error {
			defer unsubscribe()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case change, ok := <-ch:
					if !ok {
						return nil
					}
					if err := core.feed.Watch(change.TokenID); err != nil {
						a.logger.WarnContext(ctx, "feed subscribe failed",
							slog.String("token_id", change.TokenID),
							slog.String("error", err.Error()),
						)
					}
				}
			}
		})

		g.Go(func() error {
			return core.feed.Run(ctx)
		})
	}

	return core, nil
}

// WatchMode monitors source traders and streams detected changes to the
// dashboard without generating any follower orders.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode")

	g, ctx := errgroup.WithContext(ctx)

	core, err := a.buildCore(ctx, g, deps)
	if err != nil {
		return err
	}

	if a.cfg.Server.Enabled {
		engineH := handler.NewEngineHandler(
			ctx, deps.Traders, deps.Trades, core.watcher, nil, nil, core.monitor, a.logger,
		)
		a.startHTTPServer(ctx, g, deps, engineH)
	}

	return g.Wait()
}

// CopyMode runs the full engine: watching, risk-gated copying, SLTP exits,
// retry scheduling and archiving.
func (a *App) CopyMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting copy mode")

	g, ctx := errgroup.WithContext(ctx)

	core, err := a.buildCore(ctx, g, deps)
	if err != nil {
		return err
	}

	global := domain.RiskLimits{
		MaxTotalExposure:   a.cfg.Risk.MaxTotalExposure,
		MaxSingleTradeSize: a.cfg.Risk.MaxSingleTradeSize,
		MaxOpenPositions:   a.cfg.Risk.MaxOpenPositions,
		DailyLossLimit:     a.cfg.Risk.DailyLossLimit,
		MaxDrawdownPercent: a.cfg.Risk.MaxDrawdownPercent,
	}
	gate := risk.NewGate(deps.Positions, deps.Prices, core.monitor, global, a.logger)

	execCfg := executor.DefaultConfig()
	if a.cfg.Executor.MaxRetryAttempts > 0 {
		execCfg.MaxRetryAttempts = a.cfg.Executor.MaxRetryAttempts
	}
	if a.cfg.Executor.RateLimit > 0 {
		execCfg.ExchangeRateLimit = a.cfg.Executor.RateLimit
		execCfg.ExchangeRateWindow = a.cfg.Executor.RateWindow.Duration
	}
	exec := executor.New(
		deps.Clob, deps.Trades, deps.Positions, deps.Limiter, deps.Signals, execCfg, a.logger,
	)
	exec.SetRecorder(core.monitor)
	exec.SetNotifier(deps.Notifier)

	sched := executor.NewScheduler(
		executor.SchedulerConfig{
			BaseDelay: a.cfg.Executor.RetryBaseDelay.Duration,
			Factor:    a.cfg.Executor.RetryFactor,
			MaxDelay:  a.cfg.Executor.RetryMaxDelay.Duration,
		},
		deps.Trades,
		execCfg.MaxRetryAttempts,
		func(ctx context.Context, tradeID string) {
			if _, err := exec.RetryTrade(ctx, tradeID); err != nil {
				a.logger.WarnContext(ctx, "scheduled retry failed",
					slog.String("trade_id", tradeID),
					slog.String("error", err.Error()),
				)
			}
		},
		a.logger,
	)
	exec.SetScheduler(sched)

	// Pick up trades that were mid-retry when the last process stopped.
	if err := sched.Recover(ctx); err != nil {
		a.logger.WarnContext(ctx, "retry recovery failed", slog.String("error", err.Error()))
	}
	g.Go(func() error {
		return sched.Run(ctx)
	})

	coordinator := copier.New(
		core.changes, deps.Traders, deps.Positions, gate, exec, deps.Locks, deps.Audit, a.logger,
	)
	if a.cfg.Copy.AutoStart {
		coordinator.Start(ctx)
	} else {
		a.logger.InfoContext(ctx, "copying idle until POST /api/copying/start")
	}

	exitMgr := exit.New(
		deps.Positions, deps.Traders, deps.Prices, exec, core.monitor, deps.Signals, global,
		exit.Config{
			Interval:    a.cfg.Exit.Interval.Duration,
			BaseCapital: a.cfg.Risk.BaseCapital,
		},
		a.logger,
	)
	g.Go(func() error {
		return exitMgr.Run(ctx)
	})

	if a.cfg.Archive.Enabled && deps.Blob != nil {
		archiver := journal.New(
			deps.Blob, deps.Trades, deps.Traders, deps.Drawdowns, deps.Audit,
			journal.Config{
				Interval:  a.cfg.Archive.Interval.Duration,
				Retention: a.cfg.Archive.Retention.Duration,
			},
			a.logger,
		)
		g.Go(func() error {
			return archiver.Run(ctx)
		})
	}

	if a.cfg.Server.Enabled {
		engineH := handler.NewEngineHandler(
			ctx, deps.Traders, deps.Trades, core.watcher, coordinator, exec, core.monitor, a.logger,
		)
		a.startHTTPServer(ctx, g, deps, engineH)
	}

	return g.Wait()
}

// startHTTPServer adds the API server and, when the signal bus is available,
// the dashboard WebSocket hub to the errgroup. The server drains gracefully
// when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, engineH *handler.EngineHandler) {
	var hub *ws.Hub
	if deps.Signals != nil {
		hub = ws.NewHub(deps.Signals, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srv := server.New(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
			RateLimit:   a.cfg.Server.RateLimit,
			RateWindow:  a.cfg.Server.RateWindow.Duration,
		},
		engineH,
		handler.NewHealthHandler(deps.HealthChecks...),
		hub,
		deps.Limiter,
		a.logger,
	)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
