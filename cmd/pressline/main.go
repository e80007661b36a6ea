// Package main is the entry point for the pressline orchestrator. It wires
// persistence, the pipeline modules, and the HTTP server together.
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

	"github.com/osoko/pressline/internal/config"
	"github.com/osoko/pressline/internal/definition"
	"github.com/osoko/pressline/internal/eventbus"
	"github.com/osoko/pressline/internal/gateway"
	"github.com/osoko/pressline/internal/integrity"
	"github.com/osoko/pressline/internal/observability"
	"github.com/osoko/pressline/internal/pipeline"
	"github.com/osoko/pressline/internal/saga"
	"github.com/osoko/pressline/internal/transport"
	"github.com/osoko/pressline/model"
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

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "pressline", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Persistence: one driver backs the run store and every module gateway.
	store, gateways, storeCloser, err := buildStores(ctx, cfg.Store, metrics, logger)
	if err != nil {
		logger.Error("store initialization failed", zap.Error(err))
		return 1
	}
	if storeCloser != nil {
		defer storeCloser()
	}

	// Workflow definition: configured directory first, built-in fallback.
	def, registry, err := loadDefinition(cfg, logger)
	if err != nil {
		logger.Error("definition loading failed", zap.Error(err))
		return 1
	}

	steps := saga.NewStepRegistry()
	if err := pipeline.Register(steps, gateways, cfg.Pipeline, pipeline.Collaborators{}); err != nil {
		logger.Error("pipeline registration failed", zap.Error(err))
		return 1
	}

	validator := definition.NewValidator()
	if verrs := validator.Validate([]model.WorkflowDefinition{def}, steps.Names()); len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("definition validation error", zap.String("error", ve.Error()))
		}
		return 1
	}

	bus := eventbus.New()
	metrics.SubscribeToBus(bus)
	subscribeAuditLog(bus, logger)

	coord := saga.NewCoordinator(cfg.Pipeline, def, steps, store, gateways, bus, logger)
	coord.SetMetrics(metrics)

	cache, cacheCloser := buildOutcomeCache(cfg.Cache, logger)
	if cache != nil {
		coord.SetOutcomeCache(cache)
	}
	if cacheCloser != nil {
		defer cacheCloser()
	}

	// Background integrity audit.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	if cfg.Integrity.Enabled {
		checker := integrity.NewChecker(store, gateways, logger, metrics)
		go checker.RunPeriodic(bgCtx, cfg.Integrity.CheckInterval)
	}

	readiness := observability.ReadinessChecks{
		DefinitionLoaded: registry.Loaded,
	}
	if hc, ok := store.(observability.HealthChecker); ok {
		readiness.RunStore = hc
	}
	if hc := gatewayHealthChecker(gateways); hc != nil {
		readiness.Gateways = hc
	}
	if hc, ok := cache.(observability.HealthChecker); ok {
		readiness.OutcomeCache = hc
	}

	var metricsHandler http.Handler
	if cfg.Observability.Metrics.Enabled {
		metricsHandler = observability.Handler()
	}
	router := transport.NewRouter(transport.Dependencies{
		Runner:         coord,
		WorkflowNames:  registry.WorkflowNames,
		Logger:         logger,
		Readiness:      readiness,
		MetricsHandler: metricsHandler,
		HandlerTimeout: cfg.Server.WriteTimeout,
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
		zap.String("workflow", def.Name),
		zap.String("store_driver", cfg.Store.Driver),
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
	bgCancel()

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildStores creates the run store and the per-module gateway set backed
// by the configured driver.
func buildStores(ctx context.Context, cfg config.StoreConfig, metrics *observability.Metrics, logger *zap.Logger) (saga.RunStore, *gateway.Set, func(), error) {
	record := func(namespace, op string) {
		metrics.GatewayOpsTotal.WithLabelValues(namespace, op).Inc()
	}

	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory persistence")
		var gws []gateway.Gateway
		for _, ns := range pipeline.Namespaces() {
			gw, err := gateway.NewMemoryGateway(ns, record)
			if err != nil {
				return nil, nil, nil, err
			}
			gws = append(gws, gw)
		}
		return saga.NewMemoryRunStore(), gateway.NewSet(gws...), nil, nil

	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, nil, fmt.Errorf("store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("store: ping: %w", err)
		}

		if err := saga.EnsureRunSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		if err := gateway.EnsureSchema(ctx, pool, pipeline.Namespaces()...); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}

		var gws []gateway.Gateway
		for _, ns := range pipeline.Namespaces() {
			gw, err := gateway.NewPgGateway(pool, ns, cfg.Tombstone, record)
			if err != nil {
				pool.Close()
				return nil, nil, nil, err
			}
			gws = append(gws, gw)
		}
		logger.Info("using relational persistence", zap.Bool("tombstone", cfg.Tombstone))
		return saga.NewPgRunStore(pool), gateway.NewSet(gws...), pool.Close, nil

	default:
		return nil, nil, nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}
}

// loadDefinition returns the workflow definition to run plus the registry
// of everything loaded.
func loadDefinition(cfg *config.Config, logger *zap.Logger) (model.WorkflowDefinition, *definition.Registry, error) {
	builtin := pipeline.DefaultDefinition()

	dir := cfg.Definitions.Directory
	if dir == "" || !dirExists(dir) {
		logger.Info("no definitions directory, using built-in workflow",
			zap.String("workflow", builtin.Name))
		return builtin, definition.NewRegistry([]model.WorkflowDefinition{builtin}), nil
	}

	defs, err := definition.NewLoader().LoadAll([]string{dir})
	if err != nil {
		return model.WorkflowDefinition{}, nil, err
	}
	if len(defs) == 0 {
		logger.Info("definitions directory empty, using built-in workflow",
			zap.String("directory", dir))
		return builtin, definition.NewRegistry([]model.WorkflowDefinition{builtin}), nil
	}

	registry := definition.NewRegistry(defs)
	if def, ok := registry.GetWorkflow(pipeline.DefaultWorkflowName); ok {
		return def, registry, nil
	}
	return defs[0], registry, nil
}

// buildOutcomeCache creates the optional idempotency cache.
func buildOutcomeCache(cfg config.CacheConfig, logger *zap.Logger) (saga.OutcomeCache, func()) {
	switch cfg.Driver {
	case "none":
		return nil, nil
	case "memory":
		logger.Info("using in-memory outcome cache")
		return saga.NewMemoryOutcomeCache(cfg.DefaultTTL), nil
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			logger.Warn("redis address not configured, using in-memory outcome cache")
			return saga.NewMemoryOutcomeCache(cfg.DefaultTTL), nil
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		logger.Info("using redis outcome cache", zap.String("addr", addr))
		return saga.NewRedisOutcomeCache(client, cfg.DefaultTTL), func() { client.Close() }
	default:
		return nil, nil
	}
}

// subscribeAuditLog logs every bus event so operators can reconstruct a
// run's history from the process log alone.
func subscribeAuditLog(bus *eventbus.Bus, logger *zap.Logger) {
	audit := logger.Named("audit")
	bus.SubscribeAll(func(evt eventbus.Event) {
		audit.Info(string(evt.Topic),
			zap.String("run_id", evt.RunID),
			zap.String("workflow_name", evt.WorkflowName),
			zap.String("step_name", evt.StepName),
			zap.String("status", evt.Status),
			zap.String("error", evt.Error),
		)
	})
}

// gatewayHealthChecker returns one gateway that can ping the backing
// store, or nil in memory mode. All relational gateways share one pool, so
// checking any of them covers the set.
func gatewayHealthChecker(gws *gateway.Set) observability.HealthChecker {
	for _, ns := range gws.Namespaces() {
		gw, err := gws.For(ns)
		if err != nil {
			continue
		}
		if hc, ok := gw.(observability.HealthChecker); ok {
			return hc
		}
	}
	return nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
