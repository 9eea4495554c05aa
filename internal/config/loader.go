package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path over the built-in defaults, then applies
// POLYCOPY_* environment overrides. The result is not validated; callers
// run Config.Validate afterwards.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// A .env beside the binary is optional.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets at deploy time without
// touching the TOML file. Only set, non-empty variables override.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Wallet.PrivateKey, "POLYCOPY_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.KeyfilePath, "POLYCOPY_WALLET_KEYFILE_PATH")
	setStr(&cfg.Wallet.KeyPassword, "POLYCOPY_WALLET_KEY_PASSWORD")

	setStr(&cfg.Exchange.ClobHost, "POLYCOPY_EXCHANGE_CLOB_HOST")
	setStr(&cfg.Exchange.DataHost, "POLYCOPY_EXCHANGE_DATA_HOST")
	setStr(&cfg.Exchange.WsHost, "POLYCOPY_EXCHANGE_WS_HOST")
	setInt64(&cfg.Exchange.ChainID, "POLYCOPY_EXCHANGE_CHAIN_ID")
	setStr(&cfg.Exchange.ExchangeAddress, "POLYCOPY_EXCHANGE_ADDRESS")

	setStr(&cfg.Postgres.DSN, "POLYCOPY_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POLYCOPY_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYCOPY_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYCOPY_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYCOPY_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYCOPY_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYCOPY_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYCOPY_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYCOPY_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYCOPY_POSTGRES_RUN_MIGRATIONS")

	setBool(&cfg.Redis.Enabled, "POLYCOPY_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POLYCOPY_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYCOPY_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYCOPY_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYCOPY_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYCOPY_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYCOPY_REDIS_TLS_ENABLED")

	setStr(&cfg.S3.Endpoint, "POLYCOPY_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYCOPY_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYCOPY_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYCOPY_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYCOPY_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYCOPY_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYCOPY_S3_FORCE_PATH_STYLE")

	setBool(&cfg.Copy.AutoStart, "POLYCOPY_COPY_AUTO_START")
	setDuration(&cfg.Copy.DefaultPollInterval, "POLYCOPY_COPY_DEFAULT_POLL_INTERVAL")

	setInt(&cfg.Executor.MaxRetryAttempts, "POLYCOPY_EXECUTOR_MAX_RETRY_ATTEMPTS")
	setInt(&cfg.Executor.RateLimit, "POLYCOPY_EXECUTOR_RATE_LIMIT")
	setDuration(&cfg.Executor.RateWindow, "POLYCOPY_EXECUTOR_RATE_WINDOW")
	setDuration(&cfg.Executor.RetryBaseDelay, "POLYCOPY_EXECUTOR_RETRY_BASE_DELAY")
	setFloat64(&cfg.Executor.RetryFactor, "POLYCOPY_EXECUTOR_RETRY_FACTOR")
	setDuration(&cfg.Executor.RetryMaxDelay, "POLYCOPY_EXECUTOR_RETRY_MAX_DELAY")

	setFloat64(&cfg.Risk.BaseCapital, "POLYCOPY_RISK_BASE_CAPITAL")
	setFloat64(&cfg.Risk.MaxTotalExposure, "POLYCOPY_RISK_MAX_TOTAL_EXPOSURE")
	setFloat64(&cfg.Risk.MaxSingleTradeSize, "POLYCOPY_RISK_MAX_SINGLE_TRADE_SIZE")
	setInt(&cfg.Risk.MaxOpenPositions, "POLYCOPY_RISK_MAX_OPEN_POSITIONS")
	setFloat64(&cfg.Risk.DailyLossLimit, "POLYCOPY_RISK_DAILY_LOSS_LIMIT")
	setFloat64(&cfg.Risk.MaxDrawdownPercent, "POLYCOPY_RISK_MAX_DRAWDOWN_PERCENT")

	setDuration(&cfg.Exit.Interval, "POLYCOPY_EXIT_INTERVAL")

	setBool(&cfg.Archive.Enabled, "POLYCOPY_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "POLYCOPY_ARCHIVE_INTERVAL")
	setDuration(&cfg.Archive.Retention, "POLYCOPY_ARCHIVE_RETENTION")

	setBool(&cfg.Server.Enabled, "POLYCOPY_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POLYCOPY_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "POLYCOPY_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "POLYCOPY_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "POLYCOPY_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "POLYCOPY_SERVER_RATE_WINDOW")

	setStr(&cfg.Notify.TelegramToken, "POLYCOPY_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYCOPY_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYCOPY_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYCOPY_NOTIFY_EVENTS")

	setStr(&cfg.Mode, "POLYCOPY_MODE")
	setStr(&cfg.LogLevel, "POLYCOPY_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
