package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "polycopy/internal/blob/s3"
	"polycopy/internal/cache/redis"
	"polycopy/internal/config"
	"polycopy/internal/crypto"
	"polycopy/internal/domain"
	"polycopy/internal/notify"
	"polycopy/internal/platform/polymarket"
	"polycopy/internal/server/handler"
	"polycopy/internal/store/postgres"
)

// Dependencies bundles the infrastructure every mode builds on: stores,
// caches, exchange clients, blob storage and notifications. Engine components
// (watcher, risk, executor, copier) are constructed per-mode on top of these.
// Constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Traders   domain.TraderStore
	Trades    domain.TradeStore
	Positions domain.PositionStore
	Drawdowns domain.DrawdownStore
	Audit     domain.AuditStore

	// Caches. All nil when Redis is disabled except Locks, which falls back
	// to the in-process implementation.
	Prices  domain.PriceCache
	Limiter domain.RateLimiter
	Locks   domain.LockManager
	Signals domain.SignalBus

	// Exchange clients. Clob is nil in watch mode.
	Clob *polymarket.ClobClient
	Data *polymarket.DataClient

	// Blob storage. Nil unless archiving is enabled.
	Blob domain.BlobWriter

	// Notifications
	Notifier *notify.Notifier

	// HealthChecks probe every wired backend for the /healthz endpoint.
	HealthChecks []handler.Check
}

// needsSigner returns true for modes that place orders.
func needsSigner(mode string) bool {
	return mode == "copy"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Traders = postgres.NewTraderStore(pool)
	deps.Trades = postgres.NewTradeStore(pool)
	deps.Positions = postgres.NewPositionStore(pool)
	deps.Drawdowns = postgres.NewDrawdownStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)
	deps.HealthChecks = append(deps.HealthChecks, handler.Check{
		Name:  "postgres",
		Probe: pool.Ping,
	})

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Prices = redis.NewPriceCache(redisClient)
		deps.Limiter = redis.NewRateLimiter(redisClient, cfg.Executor.RateLimit, cfg.Executor.RateWindow.Duration)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Signals = redis.NewSignalBus(redisClient)
		deps.HealthChecks = append(deps.HealthChecks, handler.Check{
			Name:  "redis",
			Probe: redisClient.Ping,
		})
	} else {
		logger.Warn("redis disabled, using in-process locks; price cache and dashboard stream unavailable")
		deps.Locks = redis.NewLocalLocks()
	}

	// --- Exchange clients ---
	deps.Data = polymarket.NewDataClient(cfg.Exchange.DataHost, deps.Limiter)

	if needsSigner(cfg.Mode) {
		key, err := crypto.ResolveKey(crypto.KeySource{
			Raw:         cfg.Wallet.PrivateKey,
			KeyfilePath: cfg.Wallet.KeyfilePath,
			Password:    cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet key: %w", err)
		}
		signer, err := crypto.NewWalletSigner(key, cfg.Exchange.ChainID, cfg.Exchange.ExchangeAddress)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet signer: %w", err)
		}
		deps.Clob = polymarket.NewClobClient(cfg.Exchange.ClobHost, signer, nil)
		if err := deps.Clob.DeriveAPIKey(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: derive api key: %w", err)
		}
		logger.Info("exchange credentials derived",
			slog.String("wallet", signer.Address().Hex()),
		)
	}

	// --- S3 blob storage ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Blob = s3blob.NewWriter(s3Client)
		deps.HealthChecks = append(deps.HealthChecks, handler.Check{
			Name:  "s3",
			Probe: s3Client.Health,
		})
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
