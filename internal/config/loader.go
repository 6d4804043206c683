package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PAPER_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PAPER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty).
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStr(&cfg.Engine.ID, "PAPER_ENGINE_ID")
	setFloat64(&cfg.Engine.InitialBalance, "PAPER_ENGINE_INITIAL_BALANCE")
	setInt(&cfg.Engine.MaxPositions, "PAPER_ENGINE_MAX_POSITIONS")
	setInt(&cfg.Engine.MaxPerStrategy, "PAPER_ENGINE_MAX_PER_STRATEGY")
	setFloat64(&cfg.Engine.MaxPositionFraction, "PAPER_ENGINE_MAX_POSITION_FRACTION")
	setFloat64(&cfg.Engine.TrailingGuard, "PAPER_ENGINE_TRAILING_GUARD")
	setDuration(&cfg.Engine.MaxHold, "PAPER_ENGINE_MAX_HOLD")

	// ── Execution ──
	setFloat64(&cfg.Execution.FeeRate, "PAPER_EXECUTION_FEE_RATE")

	// ── Tiers ──
	setStringSlice(&cfg.Tiers.Large, "PAPER_TIERS_LARGE")
	setStringSlice(&cfg.Tiers.Mid, "PAPER_TIERS_MID")

	// ── Store ──
	setStr(&cfg.Store.Backend, "PAPER_STORE_BACKEND")
	setStr(&cfg.Store.Dir, "PAPER_STORE_DIR")
	setStr(&cfg.Store.DSN, "PAPER_STORE_DSN")
	setStr(&cfg.Store.DSN, "DATABASE_URL") // compatibility alias
	setInt(&cfg.Store.PoolMaxConns, "PAPER_STORE_POOL_MAX_CONNS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PAPER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PAPER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PAPER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PAPER_REDIS_DB")
	setDuration(&cfg.Redis.TTL, "PAPER_REDIS_TTL")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "PAPER_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Endpoint, "PAPER_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "PAPER_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "PAPER_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.Prefix, "PAPER_ARCHIVE_PREFIX")
	setStr(&cfg.Archive.AccessKey, "PAPER_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "PAPER_ARCHIVE_SECRET_KEY")
	setBool(&cfg.Archive.ForcePathStyle, "PAPER_ARCHIVE_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "PAPER_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // compatibility alias
	setStringSlice(&cfg.Server.CORSOrigins, "PAPER_SERVER_CORS_ORIGINS")
	setDuration(&cfg.Server.ShutdownTimeout, "PAPER_SERVER_SHUTDOWN_TIMEOUT")

	// ── Notify ──
	setBool(&cfg.Notify.WebSocket, "PAPER_NOTIFY_WEBSOCKET")
	setBool(&cfg.Notify.Log, "PAPER_NOTIFY_LOG")
	setBool(&cfg.Notify.Audit, "PAPER_NOTIFY_AUDIT")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "PAPER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present, non-empty and parses; a value that does not parse is
// logged and the current setting kept.
// ---------------------------------------------------------------------------

func rejectEnv(key, value string, err error) {
	slog.Warn("ignoring malformed environment override", "key", key, "value", value, "err", err)
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			rejectEnv(key, v, err)
			return
		}
		*dst = n
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			rejectEnv(key, v, err)
			return
		}
		*dst = f
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			rejectEnv(key, v, err)
			return
		}
		*dst = b
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			rejectEnv(key, v, err)
			return
		}
		dst.Duration = d
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
