package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/paper-engine/internal/exitrule"
	"github.com/atmx/paper-engine/internal/tier"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "paper.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if !cfg.InitialBalance().Equal(decimal.NewFromInt(10000)) {
		t.Errorf("initial balance = %s", cfg.InitialBalance())
	}
	if cfg.MaxHold() != 72*time.Hour {
		t.Errorf("max hold = %s", cfg.MaxHold())
	}
	if !cfg.TrailingGuard().Equal(decimal.RequireFromString("0.001")) {
		t.Errorf("trailing guard = %s", cfg.TrailingGuard())
	}
}

func TestLoad_FileOverDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	path := writeConfig(t, `
log_level = "debug"

[engine]
id = "desk-a"
initial_balance = 2500
max_hold = "24h"
trailing_guard = 0

[execution]
fee_rate = 0.001
[execution.slippage]
small = 0.01

[tiers]
large = ["BTC"]
mid = ["ETH", "SOL"]

[exit_rules.large.swing]
stop_loss_pct = 0.025

[store]
backend = "memory"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if cfg.Engine.ID != "desk-a" || cfg.Engine.InitialBalance != 2500 {
		t.Errorf("engine section not applied: %+v", cfg.Engine)
	}
	if cfg.MaxHold() != 24*time.Hour {
		t.Errorf("max hold = %s", cfg.MaxHold())
	}
	if !cfg.TrailingGuard().IsZero() {
		t.Errorf("an explicit zero guard must be kept, got %s", cfg.TrailingGuard())
	}
	// Untouched keys keep their defaults.
	if cfg.Engine.MaxPositions != 10 || cfg.Server.Port != 8080 {
		t.Errorf("defaults lost: max_positions=%d port=%d", cfg.Engine.MaxPositions, cfg.Server.Port)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("log level = %v", cfg.SlogLevel())
	}

	tiers, err := cfg.Classifier()
	if err != nil {
		t.Fatalf("classifier: %v", err)
	}
	if got := tiers.Of("ETH/USD"); got != tier.Mid {
		t.Errorf("ETH tier = %s, want mid", got)
	}

	costs, err := cfg.CostModel(tiers)
	if err != nil {
		t.Fatalf("cost model: %v", err)
	}
	if !costs.SlippageRate(tier.Small).Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("small slippage = %s", costs.SlippageRate(tier.Small))
	}
	if !costs.SlippageRate(tier.Large).Equal(decimal.RequireFromString("0.0008")) {
		t.Errorf("large slippage should keep its default, got %s", costs.SlippageRate(tier.Large))
	}
	if !costs.FeeRate().Equal(decimal.RequireFromString("0.001")) {
		t.Errorf("fee rate = %s", costs.FeeRate())
	}

	rules, err := cfg.Resolver(tiers)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	r := rules.Resolve("BTC", exitrule.StrategySwing)
	if !r.StopLossPct.Equal(decimal.RequireFromString("0.025")) {
		t.Errorf("override stop loss = %s", r.StopLossPct)
	}
	if r.TakeProfitPct.IsZero() {
		t.Error("fields without an override should keep the built-in value")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PAPER_ENGINE_ID", "from-env")
	t.Setenv("PAPER_ENGINE_MAX_POSITIONS", "3")
	t.Setenv("PAPER_ENGINE_MAX_HOLD", "90m")
	t.Setenv("PAPER_TIERS_MID", "SOL, ADA ,")
	t.Setenv("PAPER_STORE_BACKEND", "memory")
	t.Setenv("PAPER_NOTIFY_WEBSOCKET", "false")
	t.Setenv("PAPER_SERVER_PORT", "not-a-number")
	t.Setenv("PORT", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.ID != "from-env" || cfg.Engine.MaxPositions != 3 {
		t.Errorf("env not applied: %+v", cfg.Engine)
	}
	if cfg.MaxHold() != 90*time.Minute {
		t.Errorf("max hold = %s", cfg.MaxHold())
	}
	if strings.Join(cfg.Tiers.Mid, ",") != "SOL,ADA" {
		t.Errorf("mid tier = %v", cfg.Tiers.Mid)
	}
	if cfg.Notify.WebSocket {
		t.Error("websocket sink should be disabled")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("unparseable values must be ignored, port = %d", cfg.Server.Port)
	}
	if cfg.Limiter().MaxPositions != 3 {
		t.Errorf("limiter max positions = %d", cfg.Limiter().MaxPositions)
	}
}

func TestLoad_MalformedEnvIsLogged(t *testing.T) {
	t.Setenv("PAPER_ENGINE_MAX_POSITIONS", "ten")
	t.Setenv("PAPER_REDIS_ENABLED", "maybe")
	t.Setenv("PORT", "")

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.MaxPositions != 10 || cfg.Redis.Enabled {
		t.Errorf("malformed values must keep the defaults: max_positions=%d redis=%v",
			cfg.Engine.MaxPositions, cfg.Redis.Enabled)
	}
	for _, want := range []string{`"key":"PAPER_ENGINE_MAX_POSITIONS"`, `"value":"ten"`, `"key":"PAPER_REDIS_ENABLED"`} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("log should contain %s:\n%s", want, buf.String())
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "loud"
	cfg.Engine.InitialBalance = 0
	cfg.Engine.MaxPositionFraction = 1.5
	cfg.Execution.FeeRate = 1
	cfg.Store.Backend = "postgres"
	cfg.Store.DSN = ""
	cfg.Server.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		"log_level",
		"initial_balance",
		"max_position_fraction",
		"execution:",
		"dsn",
		"port",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q:\n%v", want, err)
		}
	}
}

func TestValidate_BadTables(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "asset in two tiers",
			mutate: func(c *Config) { c.Tiers.Mid = append(c.Tiers.Mid, "BTC") },
			want:   "tiers:",
		},
		{
			name:   "unknown slippage tier",
			mutate: func(c *Config) { c.Execution.Slippage["huge"] = 0.1 },
			want:   "execution:",
		},
		{
			name: "unknown strategy",
			mutate: func(c *Config) {
				sl := 3.0
				c.ExitRules = ExitRulesConfig{"mid": {"scalp": {StopLossPct: &sl}}}
			},
			want: "exit_rules:",
		},
		{
			name: "non-positive stop loss",
			mutate: func(c *Config) {
				sl := -1.0
				c.ExitRules = ExitRulesConfig{"small": {"dca": {StopLossPct: &sl}}}
			},
			want: "exit_rules:",
		},
		{
			name: "redis without postgres",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
			},
			want: "redis:",
		},
		{
			name:   "archive without bucket",
			mutate: func(c *Config) { c.Archive.Enabled = true },
			want:   "archive:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
