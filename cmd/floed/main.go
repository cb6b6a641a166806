// Package main is the entry point for the floe flow engine daemon.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/floe/internal/agent"
	"github.com/pitabwire/floe/internal/config"
	"github.com/pitabwire/floe/internal/definition"
	"github.com/pitabwire/floe/internal/flow"
	"github.com/pitabwire/floe/internal/handlers"
	"github.com/pitabwire/floe/internal/observability"
	"github.com/pitabwire/floe/internal/readiness"
	"github.com/pitabwire/floe/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Load flow definitions, validate bindings, build registry. Any
	// definition naming an unknown validator, handler, or readiness check
	// fails startup.
	table := handlers.NewTable()
	checks := readiness.NewRegistry()

	loader := definition.NewLoader()
	defs, err := loader.LoadAll(cfg.Definitions.Directories)
	if err != nil {
		logger.Error("definition loading failed", zap.Error(err))
		return 1
	}

	validator := definition.NewValidator()
	verrs := validator.Validate(defs, definition.Bindings{
		HasValidator:      table.HasValidator,
		HasHandler:        table.HasHandler,
		HasReadinessCheck: checks.Has,
	})
	if len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("definition validation error", zap.String("error", ve.Error()))
		}
		return 1
	}

	registry := definition.NewRegistry(defs)
	metrics.SetDefinitionsLoaded(float64(len(defs)))

	// Checkpoint store.
	store, storeHealth, storeCloser, err := buildCheckpointStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("checkpoint store initialization failed", zap.Error(err))
		return 1
	}

	// Per-flow lock manager.
	locker, lockHealth, lockCloser, err := buildLocker(ctx, cfg.Locks, logger)
	if err != nil {
		logger.Error("lock manager initialization failed", zap.Error(err))
		return 1
	}

	executor := agent.NewHTTPExecutor(cfg.Agent, metrics)
	syncer := flow.NewSynchronizer(store, registry, metrics, logger)
	controller := flow.NewController(registry, table, checks, executor, syncer, store, locker, metrics, logger)

	secret, err := transport.LoadSigningSecret(cfg.Identity)
	if err != nil {
		if !cfg.Identity.AllowHeaderTenancy {
			logger.Error("identity initialization failed", zap.Error(err))
			return 1
		}
		logger.Warn("signing secret not set, header tenancy only", zap.Error(err))
	}

	readinessChecks := observability.ReadinessChecks{
		DefinitionsLoaded: func() bool { return len(registry.FlowTypeNames()) > 0 },
		CheckpointStore:   storeHealth,
		LockStore:         lockHealth,
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Controller:   controller,
		Metrics:      metrics,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, secret),
		Readiness:    readinessChecks,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("definitions", len(defs)),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if storeCloser != nil {
		storeCloser()
	}
	if lockCloser != nil {
		lockCloser()
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildCheckpointStore creates the checkpoint store based on config.
func buildCheckpointStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (flow.CheckpointStore, observability.HealthChecker, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory checkpoint store")
		return flow.NewMemoryCheckpointStore(), nil, nil, nil
	case "postgres", "":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			if cfg.DSNEnv != "" {
				return nil, nil, nil, fmt.Errorf("checkpoint store: %s environment variable not set", cfg.DSNEnv)
			}
			logger.Warn("checkpoint store DSN not configured, using in-memory store")
			return flow.NewMemoryCheckpointStore(), nil, nil, nil
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("checkpoint store: parse DSN: %w", err)
		}
		if cfg.MaxOpenConns > 0 {
			poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
		}

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("checkpoint store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("checkpoint store: ping: %w", err)
		}

		health := observability.HealthCheckerFunc(pool.Ping)
		return flow.NewPgCheckpointStore(pool), health, pool.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported checkpoint store driver: %q", cfg.Driver)
	}
}

// buildLocker creates the per-flow lock manager based on config.
func buildLocker(ctx context.Context, cfg config.LocksConfig, logger *zap.Logger) (flow.Locker, observability.HealthChecker, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory flow locks")
		return flow.NewMemoryLocker(), nil, nil, nil
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, nil, fmt.Errorf("flow locks: %s environment variable not set", cfg.AddrEnv)
		}

		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, nil, fmt.Errorf("flow locks: ping: %w", err)
		}

		health := observability.HealthCheckerFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		closer := func() { client.Close() }
		return flow.NewRedisLocker(client, cfg.TTL), health, closer, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported lock driver: %q", cfg.Driver)
	}
}
