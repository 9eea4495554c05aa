// Package config defines the engine configuration and validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields load from a TOML file and are
// then overridden by POLYCOPY_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Exchange ExchangeConfig `toml:"exchange"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Copy     CopyConfig     `toml:"copy"`
	Executor ExecutorConfig `toml:"executor"`
	Risk     RiskConfig     `toml:"risk"`
	Exit     ExitConfig     `toml:"exit"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the follower wallet credentials. Exactly one of
// private_key or keyfile_path feeds the signer.
type WalletConfig struct {
	PrivateKey  string `toml:"private_key"`
	KeyfilePath string `toml:"keyfile_path"`
	KeyPassword string `toml:"key_password"`
}

// ExchangeConfig holds Polymarket endpoints and chain parameters.
type ExchangeConfig struct {
	ClobHost        string `toml:"clob_host"`
	DataHost        string `toml:"data_host"`
	WsHost          string `toml:"ws_host"`
	ChainID         int64  `toml:"chain_id"`
	ExchangeAddress string `toml:"exchange_address"`
}

// PostgresConfig holds connection parameters for the engine store.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds cache parameters. Disabled falls back to in-process
// locks and no price cache warm path.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds object storage parameters for the journal archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// CopyConfig holds copy-engine behavior shared across traders. Per-trader
// allocation policy lives in the traders table, not here.
type CopyConfig struct {
	// AutoStart begins copying at boot instead of waiting for the API call.
	AutoStart bool `toml:"auto_start"`
	// DefaultPollInterval applies to traders without their own interval.
	DefaultPollInterval duration `toml:"default_poll_interval"`
}

// ExecutorConfig holds order submission and retry tunables.
type ExecutorConfig struct {
	MaxRetryAttempts int      `toml:"max_retry_attempts"`
	RateLimit        int      `toml:"rate_limit"`
	RateWindow       duration `toml:"rate_window"`
	RetryBaseDelay   duration `toml:"retry_base_delay"`
	RetryFactor      float64  `toml:"retry_factor"`
	RetryMaxDelay    duration `toml:"retry_max_delay"`
}

// RiskConfig holds the global limit set. Zero values disable a check.
type RiskConfig struct {
	BaseCapital        float64 `toml:"base_capital"`
	MaxTotalExposure   float64 `toml:"max_total_exposure"`
	MaxSingleTradeSize float64 `toml:"max_single_trade_size"`
	MaxOpenPositions   int     `toml:"max_open_positions"`
	DailyLossLimit     float64 `toml:"daily_loss_limit"`
	MaxDrawdownPercent float64 `toml:"max_drawdown_percent"`
}

// ExitConfig holds the SLTP sweep cadence.
type ExitConfig struct {
	Interval duration `toml:"interval"`
}

// ArchiveConfig holds the journal archiver schedule.
type ArchiveConfig struct {
	Enabled   bool     `toml:"enabled"`
	Interval  duration `toml:"interval"`
	Retention duration `toml:"retention"`
}

// ServerConfig holds HTTP API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds alert channel credentials and the event allow list.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so the TOML decoder accepts strings like
// "5s" or "2m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration matching config.example.toml.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			ClobHost:        "https://clob.polymarket.com",
			DataHost:        "https://data-api.polymarket.com",
			WsHost:          "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			ChainID:         137,
			ExchangeAddress: "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "polycopy",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polycopy-archive",
			ForcePathStyle: true,
		},
		Copy: CopyConfig{
			AutoStart:           false,
			DefaultPollInterval: duration{3 * time.Second},
		},
		Executor: ExecutorConfig{
			MaxRetryAttempts: 3,
			RateLimit:        10,
			RateWindow:       duration{time.Second},
			RetryBaseDelay:   duration{time.Second},
			RetryFactor:      2.0,
			RetryMaxDelay:    duration{60 * time.Second},
		},
		Risk: RiskConfig{
			BaseCapital:        1000,
			MaxTotalExposure:   500,
			MaxSingleTradeSize: 100,
			MaxOpenPositions:   20,
			DailyLossLimit:     50,
			MaxDrawdownPercent: 20,
		},
		Exit: ExitConfig{
			Interval: duration{5 * time.Second},
		},
		Archive: ArchiveConfig{
			Enabled:   false,
			Interval:  duration{24 * time.Hour},
			Retention: duration{7 * 24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   30,
			RateWindow:  duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"trade_failed", "drawdown_halt", "sltp_triggered"},
		},
		Mode:     "copy",
		LogLevel: "info",
	}
}

// validModes enumerates accepted Config.Mode values. "watch" monitors
// traders without generating orders; "copy" runs the full engine.
var validModes = map[string]bool{
	"watch": true,
	"copy":  true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate reports every problem found, joined into one error.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: watch, copy)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet is only needed when orders can be placed.
	if strings.ToLower(c.Mode) == "copy" {
		if c.Wallet.PrivateKey == "" && c.Wallet.KeyfilePath == "" {
			errs = append(errs, "wallet: either private_key or keyfile_path must be set for copy mode")
		}
		if c.Wallet.KeyfilePath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when keyfile_path is set")
		}
	}

	if c.Exchange.ClobHost == "" {
		errs = append(errs, "exchange: clob_host must not be empty")
	}
	if c.Exchange.DataHost == "" {
		errs = append(errs, "exchange: data_host must not be empty")
	}
	if c.Exchange.ChainID <= 0 {
		errs = append(errs, "exchange: chain_id must be positive")
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archiving is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving is enabled")
		}
		if c.Archive.Retention.Duration <= 0 {
			errs = append(errs, "archive: retention must be positive")
		}
	}

	if c.Executor.MaxRetryAttempts < 1 {
		errs = append(errs, "executor: max_retry_attempts must be >= 1")
	}
	if c.Executor.RateLimit < 1 {
		errs = append(errs, "executor: rate_limit must be >= 1")
	}
	if c.Executor.RetryFactor < 1 {
		errs = append(errs, "executor: retry_factor must be >= 1")
	}

	if c.Risk.BaseCapital <= 0 {
		errs = append(errs, "risk: base_capital must be > 0")
	}
	if c.Risk.MaxDrawdownPercent < 0 || c.Risk.MaxDrawdownPercent > 100 {
		errs = append(errs, "risk: max_drawdown_percent must be between 0 and 100")
	}

	if c.Exit.Interval.Duration <= 0 {
		errs = append(errs, "exit: interval must be positive")
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
