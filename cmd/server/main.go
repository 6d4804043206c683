// Command server runs a paper-trading engine behind an HTTP API. It loads
// configuration, restores persisted state, serves the API and the WebSocket
// event stream, and archives the trade log on shutdown.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/paper-engine/internal/api"
	"github.com/atmx/paper-engine/internal/archive"
	"github.com/atmx/paper-engine/internal/config"
	"github.com/atmx/paper-engine/internal/engine"
	"github.com/atmx/paper-engine/internal/metrics"
	"github.com/atmx/paper-engine/internal/notify"
	"github.com/atmx/paper-engine/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to TOML configuration file (optional)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "path", *configPath, "err", err)
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("paper-engine exited with error", "err", err)
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	logger.Info("paper-engine stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// --- Initialize store ---
	st, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	// --- Domain tables ---
	tiers, err := cfg.Classifier()
	if err != nil {
		return err
	}
	costs, err := cfg.CostModel(tiers)
	if err != nil {
		return err
	}
	rules, err := cfg.Resolver(tiers)
	if err != nil {
		return err
	}

	// --- Notification sinks ---
	hub := notify.NewWSHub()
	var sinks notify.Multi
	if cfg.Notify.WebSocket {
		sinks = append(sinks, hub)
	}
	if cfg.Notify.Log {
		sinks = append(sinks, notify.NewLogSink(logger))
	}
	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithNotifier(sinks),
	}
	var auditor notify.Auditor
	if cfg.Notify.Audit {
		auditor = notify.NewSlogAuditor(logger)
		opts = append(opts, engine.WithAuditor(auditor))
	}

	// --- Engine ---
	guard := cfg.TrailingGuard()
	eng, err := engine.New(engine.Config{
		ID:             cfg.Engine.ID,
		InitialBalance: cfg.InitialBalance(),
		Costs:          costs,
		Rules:          rules,
		Limiter:        cfg.Limiter(),
		Store:          st,
		TrailingGuard:  &guard,
		MaxHold:        cfg.MaxHold(),
	}, opts...)
	if err != nil {
		return err
	}
	if err := eng.Load(ctx); err != nil {
		return err
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors(cfg.Server.CORSOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","service":"paper-engine","engine":%q}`, eng.ID())
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	svc := api.NewService(eng, logger)
	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket stream of position_opened / position_closed events.
		r.Get("/ws", hub.HandleWS)

		// The WebSocket route must not sit behind a timeout.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			svc.Routes(r)
		})
	})

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		logger.Info("paper-engine listening", "port", cfg.Server.Port, "engine", eng.ID())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Graceful shutdown.
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down paper-engine...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "err", err)
		}
		return nil
	})

	err = g.Wait()

	if cfg.Archive.Enabled {
		archiveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if aerr := archiveTrades(archiveCtx, cfg, eng, auditor, logger); aerr != nil {
			logger.Error("trade log archive failed", "err", aerr)
		}
	}
	return err
}

// openStore builds the configured persistence backend. The returned cleanup
// releases its connections.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, func(), error) {
	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	switch strings.ToLower(cfg.Store.Backend) {
	case "postgres":
		poolCfg, err := pgxpool.ParseConfig(cfg.Store.DSN)
		if err != nil {
			return nil, closeAll, fmt.Errorf("database config: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.Store.PoolMaxConns)
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, closeAll, fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)

		pg := store.NewPostgresStore(pool, cfg.Engine.ID)
		if err := pg.EnsureSchema(ctx); err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("database schema: %w", err)
		}
		logger.Info("connected to PostgreSQL")

		var st store.Store = pg
		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.Enabled {
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.RedisTTL(), cfg.Engine.ID)
			logger.Info("Redis cache enabled", "addr", cfg.Redis.Addr)
		}
		return st, closeAll, nil

	case "file":
		fs, err := store.NewFileStore(cfg.Store.Dir, cfg.Engine.ID)
		if err != nil {
			return nil, closeAll, err
		}
		cleanup = append(cleanup, func() { fs.Close() })
		logger.Info("using file store", "dir", cfg.Store.Dir)
		return fs, closeAll, nil

	default:
		logger.Warn("using in-memory store (data will not persist)")
		return store.NewMemoryStore(), closeAll, nil
	}
}

func archiveTrades(ctx context.Context, cfg *config.Config, eng *engine.Engine, auditor notify.Auditor, logger *slog.Logger) error {
	w, err := archive.NewS3Writer(ctx, archive.S3Config{
		Endpoint:       cfg.Archive.Endpoint,
		Region:         cfg.Archive.Region,
		Bucket:         cfg.Archive.Bucket,
		AccessKey:      cfg.Archive.AccessKey,
		SecretKey:      cfg.Archive.SecretKey,
		ForcePathStyle: cfg.Archive.ForcePathStyle,
	})
	if err != nil {
		return err
	}
	key, err := archive.NewArchiver(w, cfg.Archive.Prefix, auditor).Archive(ctx, eng.ID(), eng.Trades())
	if err != nil {
		return err
	}
	if key != "" {
		logger.Info("trade log archived", "bucket", cfg.Archive.Bucket, "key", key)
	}
	return nil
}

// cors allows cross-origin requests from the configured origins. "*" allows
// any origin.
func cors(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowed["*"]:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && allowed[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
