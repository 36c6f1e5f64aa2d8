// Package main is the entrypoint for the CodeAgent API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/codeagent/internal/ai"
	"github.com/kiranshivaraju/codeagent/internal/api"
	"github.com/kiranshivaraju/codeagent/internal/api/handler"
	mw "github.com/kiranshivaraju/codeagent/internal/api/middleware"
	"github.com/kiranshivaraju/codeagent/internal/apikey"
	"github.com/kiranshivaraju/codeagent/internal/cache"
	"github.com/kiranshivaraju/codeagent/internal/config"
	"github.com/kiranshivaraju/codeagent/internal/jobs"
	"github.com/kiranshivaraju/codeagent/internal/logger"
	"github.com/kiranshivaraju/codeagent/internal/pipeline"
	"github.com/kiranshivaraju/codeagent/internal/queue"
	"github.com/kiranshivaraju/codeagent/internal/quota"
	"github.com/kiranshivaraju/codeagent/internal/ratelimit"
	"github.com/kiranshivaraju/codeagent/internal/store"
	"github.com/kiranshivaraju/codeagent/internal/worker"
	"github.com/kiranshivaraju/codeagent/pkg/models"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not read .env file", "error", err)
	}

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info("config loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("ai_provider", cfg.AI.Provider),
		slog.String("store", cfg.Store.Backend),
		slog.String("queue", cfg.Queue.Backend),
		slog.String("rate_limit", cfg.RateLimit.Backend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Storage, queue, limiters and cache
	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.close()

	// 3. Optional seed tenant
	if err := bootstrap(ctx, b.store, cfg.Bootstrap, log); err != nil {
		return fmt.Errorf("bootstrap tenant: %w", err)
	}

	// 4. Completion service
	completer, err := ai.NewProvider(cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI provider: %w", err)
	}
	log.Info("AI provider initialized", slog.String("provider", completer.Name()))

	// 5. Pipeline and workers
	executor := pipeline.NewExecutor(b.store, pipeline.DefaultStages(completer),
		pipeline.PolicyFromConfig(cfg.Pipeline), log, b.observers...)
	pool := worker.NewPool(b.queue, executor, log, worker.WithConcurrency(cfg.Worker.Concurrency))

	// 6. HTTP
	svc := jobs.NewService(jobs.Deps{
		Store:     b.store,
		Queue:     b.queue,
		Limiter:   b.submitLimiter,
		Quota:     quota.NewMonthly(b.store),
		Cache:     b.cache,
		Observers: b.observers,
		Logger:    log,
	})
	router := api.NewRouter(api.Dependencies{
		Logger: log,
		Auth:   mw.NewAuth(b.store, log),
		ReadLimit: mw.NewRateLimit(b.readLimiter, ratelimit.Limits{
			Capacity:     cfg.RateLimit.ReadCapacity,
			RefillPerSec: cfg.RateLimit.ReadPerSec,
		}, log),
		Jobs:    svc,
		Health:  b.health,
		Version: version,
	})
	srv := newHTTPServer(cfg.Server.Port, router)

	return serve(ctx, log, srv, pool, cfg.Worker.ShutdownTimeout)
}

func newHTTPServer(port int, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// serve runs the HTTP server and the worker pool until ctx is done or the
// server fails, then drains both.
func serve(ctx context.Context, log *slog.Logger, srv *http.Server, pool *worker.Pool, workerTimeout time.Duration) error {
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, draining connections...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		httpErr := srv.Shutdown(shutdownCtx)

		workerCtx, cancelWorkers := context.WithTimeout(context.Background(), workerTimeout)
		defer cancelWorkers()
		if err := pool.Stop(workerCtx); err != nil {
			return fmt.Errorf("stop workers: %w", err)
		}
		if httpErr != nil {
			return fmt.Errorf("server shutdown: %w", httpErr)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped gracefully")
	return nil
}

// backends bundles the selected implementations of each storage concern.
type backends struct {
	store         store.Store
	queue         queue.Queue
	submitLimiter ratelimit.Limiter
	readLimiter   ratelimit.Limiter
	cache         cache.Cache
	observers     jobs.Observers
	health        map[string]handler.Pinger
	closers       []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackends(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *backends, err error) {
	b := &backends{health: make(map[string]handler.Pinger)}
	defer func() {
		if err != nil {
			b.close()
		}
	}()

	switch cfg.Store.Backend {
	case "postgres":
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		b.closers = append(b.closers, pool.Close)
		log.Info("database connected")

		if err := store.RunMigrations(cfg.Database.URL); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		log.Info("database migrations applied")
		b.store = store.NewPostgresStore(pool)
	default:
		b.store = store.NewMemoryStore()
	}
	b.health["store"] = b.store

	var client *redis.Client
	if cfg.Redis.URL != "" {
		client, err = cache.NewClient(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("create redis client: %w", err)
		}
		b.closers = append(b.closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		log.Info("redis connected")

		statusCache := cache.NewRedisCache(client, cache.DefaultStatusTTL)
		b.cache = statusCache
		b.observers = append(b.observers, statusCache)
		b.health["cache"] = statusCache
	}

	switch cfg.Queue.Backend {
	case "redis":
		b.queue = queue.NewRedisQueue(client, cfg.Queue.Key)
	default:
		b.queue = queue.NewMemoryQueue()
	}
	b.closers = append(b.closers, func() { _ = b.queue.Close() })

	switch cfg.RateLimit.Backend {
	case "redis":
		b.submitLimiter = ratelimit.NewRedisLimiter(client, cache.RateLimitPrefix("submit"))
		b.readLimiter = ratelimit.NewRedisLimiter(client, cache.RateLimitPrefix("read"))
	default:
		b.submitLimiter = ratelimit.NewMemoryLimiter()
		b.readLimiter = ratelimit.NewMemoryLimiter()
	}
	return b, nil
}

// bootstrap makes sure the configured seed tenant and key exist. It is a
// no-op without BOOTSTRAP_API_KEY and safe to run on every start.
func bootstrap(ctx context.Context, s store.Store, cfg config.BootstrapConfig, log *slog.Logger) error {
	if cfg.APIKey == "" {
		return nil
	}

	tenant, err := s.GetTenantByName(ctx, cfg.Tenant)
	if errors.Is(err, store.ErrNotFound) {
		now := time.Now().UTC()
		tenant = &models.Tenant{ID: uuid.New(), Name: cfg.Tenant, Plan: cfg.Plan, CreatedAt: now, UpdatedAt: now}
		if err := s.CreateTenant(ctx, tenant); err != nil {
			return fmt.Errorf("create tenant: %w", err)
		}
		log.Info("bootstrap tenant created", slog.String("tenant", tenant.Name), slog.String("plan", tenant.Plan))
	} else if err != nil {
		return fmt.Errorf("get tenant: %w", err)
	}

	prefix, err := apikey.Prefix(cfg.APIKey)
	if err != nil {
		return fmt.Errorf("BOOTSTRAP_API_KEY: %w", err)
	}
	existing, err := s.GetAPIKeyByPrefix(ctx, prefix)
	if err != nil {
		return fmt.Errorf("look up api key: %w", err)
	}
	for _, k := range existing {
		if k.TenantID == tenant.ID && apikey.Matches(k.KeyHash, cfg.APIKey) {
			return nil
		}
	}

	issued, err := apikey.FromRaw(cfg.APIKey)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := s.CreateAPIKey(ctx, &models.APIKey{
		ID:        uuid.New(),
		TenantID:  tenant.ID,
		Name:      "bootstrap",
		KeyHash:   issued.Hash,
		KeyPrefix: issued.Prefix,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	log.Info("bootstrap api key registered", slog.String("tenant", tenant.Name), slog.String("key_prefix", issued.Prefix))
	return nil
}
