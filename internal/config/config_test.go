package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "watch"
log_level = "debug"

[postgres]
database = "copyengine"

[executor]
max_retry_attempts = 5
retry_base_delay = "2s"

[risk]
base_capital = 2500.0
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mode != "watch" || cfg.LogLevel != "debug" {
		t.Fatalf("mode/log_level = %q/%q", cfg.Mode, cfg.LogLevel)
	}
	if cfg.Postgres.Database != "copyengine" {
		t.Fatalf("database = %q", cfg.Postgres.Database)
	}
	if cfg.Executor.MaxRetryAttempts != 5 {
		t.Fatalf("max_retry_attempts = %d", cfg.Executor.MaxRetryAttempts)
	}
	if cfg.Executor.RetryBaseDelay.Duration != 2*time.Second {
		t.Fatalf("retry_base_delay = %v", cfg.Executor.RetryBaseDelay.Duration)
	}
	if cfg.Risk.BaseCapital != 2500 {
		t.Fatalf("base_capital = %v", cfg.Risk.BaseCapital)
	}

	// Untouched sections keep their defaults.
	if cfg.Exchange.ChainID != 137 {
		t.Fatalf("chain_id default lost: %d", cfg.Exchange.ChainID)
	}
	if cfg.Exit.Interval.Duration != 5*time.Second {
		t.Fatalf("exit interval default lost: %v", cfg.Exit.Interval.Duration)
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := writeConfig(t, `
[redis]
addr = "file-redis:6379"
`)

	t.Setenv("POLYCOPY_REDIS_ADDR", "env-redis:6379")
	t.Setenv("POLYCOPY_RISK_MAX_DRAWDOWN_PERCENT", "15.5")
	t.Setenv("POLYCOPY_NOTIFY_EVENTS", "trade_failed, drawdown_halt")
	t.Setenv("POLYCOPY_EXIT_INTERVAL", "30s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Redis.Addr != "env-redis:6379" {
		t.Fatalf("redis addr = %q", cfg.Redis.Addr)
	}
	if cfg.Risk.MaxDrawdownPercent != 15.5 {
		t.Fatalf("max_drawdown = %v", cfg.Risk.MaxDrawdownPercent)
	}
	if len(cfg.Notify.Events) != 2 || cfg.Notify.Events[1] != "drawdown_halt" {
		t.Fatalf("events = %v", cfg.Notify.Events)
	}
	if cfg.Exit.Interval.Duration != 30*time.Second {
		t.Fatalf("exit interval = %v", cfg.Exit.Interval.Duration)
	}
}

func TestValidateDefaultsNeedOnlyWallet(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults with wallet should validate: %v", err)
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "yolo"
	cfg.Exchange.ClobHost = ""
	cfg.Postgres.PoolMaxConns = 0
	cfg.Risk.MaxDrawdownPercent = 150

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation failure")
	}
	for _, want := range []string{"unknown mode", "clob_host", "pool_max_conns", "max_drawdown_percent"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error missing %q: %v", want, err)
		}
	}
}

func TestWatchModeNeedsNoWallet(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "watch"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("watch mode should not require a wallet: %v", err)
	}
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "deadbeef"
	cfg.Postgres.Password = "hunter2"
	cfg.Server.APIKey = "token"

	red := RedactedConfig(&cfg)
	if red.Wallet.PrivateKey != "***" || red.Postgres.Password != "***" || red.Server.APIKey != "***" {
		t.Fatalf("secrets not redacted: %+v", red)
	}
	if cfg.Wallet.PrivateKey != "deadbeef" {
		t.Fatal("original mutated")
	}
	if red.Redis.Password != "" {
		t.Fatalf("empty secret should stay empty, got %q", red.Redis.Password)
	}
}
