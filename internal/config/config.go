// Package config defines the configuration for the paper engine and provides
// validation and conversion into the typed domain tables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/paper-engine/internal/execution"
	"github.com/atmx/paper-engine/internal/exitrule"
	"github.com/atmx/paper-engine/internal/limits"
	"github.com/atmx/paper-engine/internal/tier"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PAPER_* environment variables.
type Config struct {
	Engine    EngineConfig    `toml:"engine"`
	Execution ExecutionConfig `toml:"execution"`
	Tiers     TiersConfig     `toml:"tiers"`
	ExitRules ExitRulesConfig `toml:"exit_rules"`
	Store     StoreConfig     `toml:"store"`
	Redis     RedisConfig     `toml:"redis"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	LogLevel  string          `toml:"log_level"`
}

// EngineConfig holds account and position-limit parameters.
type EngineConfig struct {
	ID                  string   `toml:"id"`
	InitialBalance      float64  `toml:"initial_balance"`
	MaxPositions        int      `toml:"max_positions"`
	MaxPerStrategy      int      `toml:"max_per_strategy"`
	MaxPositionFraction float64  `toml:"max_position_fraction"`
	TrailingGuard       float64  `toml:"trailing_guard"`
	MaxHold             duration `toml:"max_hold"`
}

// ExecutionConfig holds the fee rate and per-tier slippage rates.
type ExecutionConfig struct {
	FeeRate  float64            `toml:"fee_rate"`
	Slippage map[string]float64 `toml:"slippage"` // tier → rate
}

// TiersConfig holds the static tier membership lists. Unlisted assets are
// small tier.
type TiersConfig struct {
	Large []string `toml:"large"`
	Mid   []string `toml:"mid"`
}

// ExitRuleConfig is a partial exit rule; unset fields keep the built-in value.
type ExitRuleConfig struct {
	StopLossPct     *float64 `toml:"stop_loss_pct"`
	TakeProfitPct   *float64 `toml:"take_profit_pct"`
	TrailingStopPct *float64 `toml:"trailing_stop_pct"`
}

// ExitRulesConfig maps tier → strategy → partial rule.
type ExitRulesConfig map[string]map[string]ExitRuleConfig

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Backend      string `toml:"backend"` // memory, file or postgres
	Dir          string `toml:"dir"`
	DSN          string `toml:"dsn"`
	PoolMaxConns int    `toml:"pool_max_conns"`
}

// RedisConfig holds the optional Redis cache in front of PostgreSQL.
type RedisConfig struct {
	Enabled  bool     `toml:"enabled"`
	Addr     string   `toml:"addr"`
	Password string   `toml:"password"`
	DB       int      `toml:"db"`
	TTL      duration `toml:"ttl"`
}

// ArchiveConfig holds the S3-compatible bucket the trade log is archived to.
type ArchiveConfig struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// NotifyConfig toggles the event sinks.
type NotifyConfig struct {
	WebSocket bool `toml:"websocket"`
	Log       bool `toml:"log"`
	Audit     bool `toml:"audit"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "72h", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "72h" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the built-in values.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			ID:                  "default",
			InitialBalance:      10000,
			MaxPositions:        limits.DefaultMaxPositions,
			MaxPerStrategy:      limits.DefaultMaxPerStrategy,
			MaxPositionFraction: limits.DefaultMaxPositionFraction.InexactFloat64(),
			TrailingGuard:       0.001,
			MaxHold:             duration{72 * time.Hour},
		},
		Execution: ExecutionConfig{
			FeeRate: execution.DefaultFeeRate.InexactFloat64(),
			Slippage: map[string]float64{
				string(tier.Large): execution.DefaultSlippage[tier.Large].InexactFloat64(),
				string(tier.Mid):   execution.DefaultSlippage[tier.Mid].InexactFloat64(),
				string(tier.Small): execution.DefaultSlippage[tier.Small].InexactFloat64(),
			},
		},
		Tiers: TiersConfig{
			Large: append([]string(nil), tier.DefaultLarge...),
			Mid:   append([]string(nil), tier.DefaultMid...),
		},
		Store: StoreConfig{
			Backend:      "file",
			Dir:          "data",
			PoolMaxConns: 4,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			TTL:  duration{30 * time.Second},
		},
		Archive: ArchiveConfig{
			Region:         "us-east-1",
			Prefix:         "paper-trades",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:            8080,
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: duration{5 * time.Second},
		},
		Notify: NotifyConfig{
			WebSocket: true,
			Log:       true,
			Audit:     true,
		},
		LogLevel: "info",
	}
}

var validBackends = map[string]bool{"memory": true, "file": true, "postgres": true}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks Config for invalid or missing values and returns a single
// error listing every problem. The tier lists, rate tables and exit-rule
// table are built once here so a bad table fails at load time.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if strings.TrimSpace(c.Engine.ID) == "" {
		errs = append(errs, "engine: id must not be empty")
	}
	if c.Engine.InitialBalance <= 0 {
		errs = append(errs, "engine: initial_balance must be > 0")
	}
	if c.Engine.MaxPositions < 1 {
		errs = append(errs, "engine: max_positions must be >= 1")
	}
	if c.Engine.MaxPerStrategy < 1 {
		errs = append(errs, "engine: max_per_strategy must be >= 1")
	}
	if c.Engine.MaxPositionFraction <= 0 || c.Engine.MaxPositionFraction > 1 {
		errs = append(errs, fmt.Sprintf("engine: max_position_fraction must be in (0, 1], got %v", c.Engine.MaxPositionFraction))
	}
	if c.Engine.TrailingGuard < 0 {
		errs = append(errs, "engine: trailing_guard must be >= 0")
	}
	if c.Engine.MaxHold.Duration <= 0 {
		errs = append(errs, "engine: max_hold must be > 0")
	}

	// Domain tables
	tiers, err := c.Classifier()
	if err != nil {
		errs = append(errs, "tiers: "+err.Error())
	}
	if tiers != nil {
		if _, err := c.CostModel(tiers); err != nil {
			errs = append(errs, "execution: "+err.Error())
		}
		if _, err := c.Resolver(tiers); err != nil {
			errs = append(errs, "exit_rules: "+err.Error())
		}
	}

	// Store
	if !validBackends[strings.ToLower(c.Store.Backend)] {
		errs = append(errs, fmt.Sprintf("store: unknown backend %q (valid: memory, file, postgres)", c.Store.Backend))
	}
	switch strings.ToLower(c.Store.Backend) {
	case "file":
		if c.Store.Dir == "" {
			errs = append(errs, "store: dir must not be empty for the file backend")
		}
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, "store: dsn must not be empty for the postgres backend")
		}
		if c.Store.PoolMaxConns < 1 {
			errs = append(errs, "store: pool_max_conns must be >= 1")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if strings.ToLower(c.Store.Backend) != "postgres" {
			errs = append(errs, "redis: cache requires the postgres store backend")
		}
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.TTL.Duration <= 0 {
			errs = append(errs, "redis: ttl must be > 0")
		}
	}

	// Archive
	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			errs = append(errs, "archive: bucket must not be empty")
		}
		if c.Archive.Region == "" {
			errs = append(errs, "archive: region must not be empty")
		}
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Classifier builds the tier classifier from the membership lists.
func (c *Config) Classifier() (*tier.Classifier, error) {
	return tier.NewClassifier(c.Tiers.Large, c.Tiers.Mid)
}

// CostModel builds the execution-cost model.
func (c *Config) CostModel(tiers *tier.Classifier) (*execution.Model, error) {
	slippage := make(map[tier.Tier]decimal.Decimal, len(c.Execution.Slippage))
	for name, rate := range c.Execution.Slippage {
		t, err := tier.Parse(name)
		if err != nil {
			return nil, err
		}
		slippage[t] = decimal.NewFromFloat(rate)
	}
	return execution.NewModel(tiers, slippage, decimal.NewFromFloat(c.Execution.FeeRate))
}

// ExitOverrides converts the configured exit rules into resolver overrides.
func (c *Config) ExitOverrides() (exitrule.Overrides, error) {
	out := make(exitrule.Overrides, len(c.ExitRules))
	for tierName, byStrategy := range c.ExitRules {
		t, err := tier.Parse(tierName)
		if err != nil {
			return nil, err
		}
		column := make(map[string]exitrule.Override, len(byStrategy))
		for strategy, r := range byStrategy {
			column[strategy] = exitrule.Override{
				StopLossPct:     decimalPtr(r.StopLossPct),
				TakeProfitPct:   decimalPtr(r.TakeProfitPct),
				TrailingStopPct: decimalPtr(r.TrailingStopPct),
			}
		}
		out[t] = column
	}
	return out, nil
}

// Resolver builds the validated exit-rule resolver.
func (c *Config) Resolver(tiers *tier.Classifier) (*exitrule.Resolver, error) {
	overrides, err := c.ExitOverrides()
	if err != nil {
		return nil, err
	}
	return exitrule.NewResolver(tiers, overrides)
}

// Limiter builds the open-position limiter.
func (c *Config) Limiter() *limits.PositionLimiter {
	return limits.NewPositionLimiter(
		c.Engine.MaxPositions,
		c.Engine.MaxPerStrategy,
		decimal.NewFromFloat(c.Engine.MaxPositionFraction),
	)
}

// InitialBalance returns the starting capital.
func (c *Config) InitialBalance() decimal.Decimal {
	return decimal.NewFromFloat(c.Engine.InitialBalance)
}

// TrailingGuard returns the trailing-stop profit guard.
func (c *Config) TrailingGuard() decimal.Decimal {
	return decimal.NewFromFloat(c.Engine.TrailingGuard)
}

// MaxHold returns the hold limit after which a position is time-exited.
func (c *Config) MaxHold() time.Duration {
	return c.Engine.MaxHold.Duration
}

// RedisTTL returns the cache TTL.
func (c *Config) RedisTTL() time.Duration {
	return c.Redis.TTL.Duration
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c *Config) ShutdownTimeout() time.Duration {
	return c.Server.ShutdownTimeout.Duration
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func decimalPtr(f *float64) *decimal.Decimal {
	if f == nil {
		return nil
	}
	d := decimal.NewFromFloat(*f)
	return &d
}
