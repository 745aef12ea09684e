// Package main is the entry point for the docflow workflow server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"errors"
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

	"github.com/pitabwire/docflow/internal/access"
	"github.com/pitabwire/docflow/internal/bulk"
	"github.com/pitabwire/docflow/internal/cache"
	"github.com/pitabwire/docflow/internal/condition"
	"github.com/pitabwire/docflow/internal/config"
	"github.com/pitabwire/docflow/internal/definition"
	"github.com/pitabwire/docflow/internal/observability"
	"github.com/pitabwire/docflow/internal/store"
	"github.com/pitabwire/docflow/internal/transport"
	"github.com/pitabwire/docflow/internal/workflow"
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
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "docflow", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	metrics := observability.InitMetrics(reg)

	// Definitions: load, validate, install.
	conditions := condition.NewEvaluator(cfg.Workflow.ConditionListLimit)
	loader := definition.NewLoader()
	validator := definition.NewValidator(conditions)
	bundles, err := loader.LoadAll(cfg.Definitions.Directories)
	if err != nil {
		logger.Error("definition loading failed", zap.Error(err))
		return 1
	}
	if verrs := validator.Validate(bundles); len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("definition validation error", zap.String("error", ve.Error()))
		}
		logger.Error("definition validation failed", zap.Int("errors", len(verrs)))
		return 1
	}
	registry := definition.NewRegistry(bundles)
	metrics.SetDefinitionsLoaded(float64(len(registry.Workflows())))

	readiness := observability.ReadinessChecks{
		DefinitionsLoaded: func() bool { return len(registry.Workflows()) > 0 },
	}

	lookupCache, cacheCloser, err := buildCache(cfg.Cache, logger)
	if err != nil {
		logger.Error("cache initialization failed", zap.Error(err))
		return 1
	}
	if hc, ok := lookupCache.(*cache.RedisCache); ok {
		readiness.Cache = observability.CheckFunc(hc.Ping)
	}

	docStore, storeCloser, err := buildStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("store initialization failed", zap.Error(err))
		return 1
	}
	if pg, ok := docStore.(*store.PgStore); ok {
		readiness.Store = observability.CheckFunc(pg.Ping)
	}

	checker, err := buildChecker(cfg.Access, cfg.Workflow.Administrator)
	if err != nil {
		logger.Error("access checker initialization failed", zap.Error(err))
		return 1
	}

	resolver := workflow.NewResolver(registry, lookupCache, conditions, logger, metrics)
	registry.OnReplace(func() {
		metrics.SetDefinitionsLoaded(float64(len(registry.Workflows())))
		if err := resolver.Invalidate(context.Background()); err != nil {
			logger.Warn("workflow cache invalidation failed", zap.Error(err))
		}
	})

	engine := workflow.NewEngine(resolver, conditions, checker, workflow.Config{
		Administrator: cfg.Workflow.Administrator,
		Logger:        logger,
		Recorder:      metrics,
	})

	bulkExec := bulk.NewExecutor(docStore, engine, bulk.ProgressFunc(func(percent float64, title, description string) {
		logger.Debug("bulk progress",
			zap.Float64("percent", percent),
			zap.String("title", title),
			zap.String("document", description),
		)
	}), bulk.Config{
		ProgressThreshold: cfg.Bulk.ProgressThreshold,
		Concurrency:       cfg.Bulk.Concurrency,
		Logger:            logger,
		Recorder:          metrics,
	})

	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)
	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks),
		Store:        docStore,
		Engine:       engine,
		Bulk:         bulkExec,
		Metrics:      metrics,
		Gatherer:     reg,
		Readiness:    readiness,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	if cfg.Definitions.HotReload {
		watcher := definition.NewWatcher(loader, validator, registry,
			cfg.Definitions.Directories, cfg.Definitions.ReloadDebounce, logger, metrics)
		go func() {
			if err := watcher.Run(bgCtx); err != nil {
				logger.Error("definition watcher stopped", zap.Error(err))
			}
		}()
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("workflows", len(registry.Workflows())),
		zap.String("store", cfg.Store.Driver),
		zap.String("cache", cfg.Cache.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

	if storeCloser != nil {
		storeCloser()
	}
	if cacheCloser != nil {
		cacheCloser()
	}
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildStore creates the document store based on config.
func buildStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.Transactor, func(), error) {
	switch cfg.Driver {
	case config.StoreMemory:
		logger.Info("using in-memory document store")
		return store.NewMemoryStore(), nil, nil
	case config.StorePostgres:
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("document store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("document store: parse DSN: %w", err)
		}
		if cfg.MaxConns > 0 {
			poolCfg.MaxConns = cfg.MaxConns
		}
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("document store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("document store: ping: %w", err)
		}

		pg := store.NewPgStore(pool)
		if cfg.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("document store: migrate: %w", err)
			}
			logger.Info("document store schema applied")
		}
		return pg, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}
}

// buildCache creates the workflow lookup cache based on config.
func buildCache(cfg config.CacheConfig, logger *zap.Logger) (cache.Cache, func(), error) {
	switch cfg.Driver {
	case config.CacheMemory:
		return cache.NewMemoryCache(cfg.TTL), nil, nil
	case config.CacheRedis:
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("cache: %s environment variable not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		logger.Info("using redis workflow cache", zap.String("addr", addr), zap.Int("db", cfg.DB))
		return cache.NewRedisCache(client, cfg.KeyPrefix, cfg.TTL), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported cache driver: %q", cfg.Driver)
	}
}

// buildChecker creates the document read-access checker based on config.
func buildChecker(cfg config.AccessConfig, administrator string) (access.Checker, error) {
	switch cfg.Evaluator {
	case config.AccessAllowAll:
		return access.AllowAll{}, nil
	case config.AccessStatic:
		policy, err := access.NewStaticPolicy(cfg.StaticPolicyFile)
		if err != nil {
			return nil, fmt.Errorf("static policy: %w", err)
		}
		return access.NewPolicyChecker(policy, administrator, cfg.CacheTTL), nil
	default:
		return nil, fmt.Errorf("unsupported access evaluator: %q", cfg.Evaluator)
	}
}
