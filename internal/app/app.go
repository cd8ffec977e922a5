// Package app wires configuration, storage, the delivery queue and the ops
// HTTP surface into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/notification-queue/internal/config"
	"github.com/bissquit/notification-queue/internal/inbox"
	inboxpostgres "github.com/bissquit/notification-queue/internal/inbox/postgres"
	"github.com/bissquit/notification-queue/internal/pkg/clock"
	"github.com/bissquit/notification-queue/internal/pkg/httputil"
	"github.com/bissquit/notification-queue/internal/pkg/metrics"
	"github.com/bissquit/notification-queue/internal/pkg/postgres"
	"github.com/bissquit/notification-queue/internal/pkg/redis"
	"github.com/bissquit/notification-queue/internal/preferences"
	"github.com/bissquit/notification-queue/internal/preferences/cache"
	preferencespostgres "github.com/bissquit/notification-queue/internal/preferences/postgres"
	"github.com/bissquit/notification-queue/internal/queue"
	queuepostgres "github.com/bissquit/notification-queue/internal/queue/postgres"
	"github.com/bissquit/notification-queue/internal/schedule"
	userspostgres "github.com/bissquit/notification-queue/internal/users/postgres"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	goredis "github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsInterval = 15 * time.Second

// App represents the application instance.
type App struct {
	config *config.Config
	logger *slog.Logger
	db     *pgxpool.Pool
	redis  *goredis.Client

	server        *http.Server
	metricsServer *http.Server
	bgCancel      context.CancelFunc

	queueRepo    *queuepostgres.Repository
	queueService *queue.Service
	resolver     *preferences.Resolver
	inboxService *inbox.Service
	worker       *queue.Worker
	publisher    queue.Publisher
	closePublish func() error
}

// New connects to the backing stores and builds every component.
// The dispatch worker starts immediately; call Run to serve HTTP.
func New(cfg *config.Config) (*App, error) {
	logger := slog.Default()

	for _, warning := range cfg.Normalize() {
		logger.Warn("configuration adjusted", "detail", warning)
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(cfg.Database.MigrationsPath, cfg.Database.URL); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	app := &App{
		config: cfg,
		logger: logger,
		db:     db,
	}

	if cfg.Redis.Addr != "" {
		client, err := redis.Connect(connectCtx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		app.redis = client
	}

	publisher, closePublish, err := newPublisher(cfg.Publisher)
	if err != nil {
		_ = app.closeStores()
		return nil, fmt.Errorf("create publisher: %w", err)
	}
	app.publisher = publisher
	app.closePublish = closePublish

	app.buildQueue()

	bgCtx, bgCancel := context.WithCancel(context.Background())
	app.bgCancel = bgCancel

	go app.collectPoolMetrics(bgCtx)
	go app.collectQueueMetrics(bgCtx)

	app.worker.Start(bgCtx)

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           app.setupRouter(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

func (a *App) buildQueue() {
	cfg := a.config
	clk := clock.System{}

	var prefRepo preferences.Repository = preferencespostgres.NewRepository(a.db)
	if a.redis != nil {
		prefRepo = cache.NewRepository(prefRepo, redis.NewJSONCache(a.redis), cfg.Redis.CacheTTL)
	}
	a.resolver = preferences.NewResolver(prefRepo, clk)

	calculator := schedule.NewCalculator(schedule.DigestConfig{
		Enabled:     cfg.Digest.Enabled,
		DailyHour:   cfg.Digest.DailyHour,
		WeeklyDay:   cfg.Digest.Weekday(),
		WeeklyHour:  cfg.Digest.WeeklyHour,
		MonthlyDay:  cfg.Digest.MonthlyDay,
		MonthlyHour: cfg.Digest.MonthlyHour,
	})

	queueConfig := queue.Config{
		Enabled:            cfg.Queue.Enabled,
		BatchSize:          cfg.Queue.BatchSize,
		RetryInterval:      cfg.Queue.RetryInterval,
		MaxAttempts:        cfg.Queue.MaxAttempts,
		MaxPerUser:         cfg.Queue.MaxPerUser,
		ProcessingInterval: cfg.Queue.ProcessingInterval,
		PublishRateLimit:   cfg.Queue.PublishRateLimit,
		StuckTimeout:       cfg.Queue.StuckTimeout,
	}

	slog.Info("notification queue configured",
		"enabled", queueConfig.Enabled,
		"batch_size", queueConfig.BatchSize,
		"max_attempts", queueConfig.MaxAttempts,
		"max_per_user", queueConfig.MaxPerUser,
		"processing_interval", queueConfig.ProcessingInterval,
		"publisher", cfg.Publisher.Kind,
		"preference_cache", a.redis != nil,
	)

	a.queueRepo = queuepostgres.NewRepository(a.db)
	a.queueService = queue.NewService(queueConfig, a.queueRepo, userspostgres.NewRepository(a.db), a.resolver, calculator, clk)

	dispatcher := queue.NewDispatcher(queueConfig, a.queueRepo, clk, a.publisher)
	a.worker = queue.NewWorker(queueConfig, dispatcher)

	a.inboxService = inbox.NewService(inbox.Config{
		ReadAfterDays:   cfg.Retention.ReadAfterDays,
		DeleteAfterDays: cfg.Retention.DeleteAfterDays,
	}, inboxpostgres.NewRepository(a.db), a.queueService, clk)
}

// Run starts the HTTP servers and blocks until the main server stops.
func (a *App) Run() error {
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown stops the worker, drains the servers and releases connections.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	// Cancelling the background context aborts an in-flight dispatch cycle,
	// so Stop does not wait on a slow publish.
	a.bgCancel()
	a.worker.Stop()

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	for name, srv := range map[string]*http.Server{"server": a.server, "metrics server": a.metricsServer} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Shutdown(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("shutdown %s: %w", name, err))
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	if a.closePublish != nil {
		if err := a.closePublish(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}

	if err := a.closeStores(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (a *App) closeStores() error {
	var err error
	if a.redis != nil {
		if closeErr := a.redis.Close(); closeErr != nil {
			err = fmt.Errorf("close redis: %w", closeErr)
		}
	}
	a.db.Close()
	return err
}

// Router returns the ops HTTP handler.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// QueueService returns the enqueue service.
func (a *App) QueueService() *queue.Service {
	return a.queueService
}

// Preferences returns the preference resolver.
func (a *App) Preferences() *preferences.Resolver {
	return a.resolver
}

// Inbox returns the maintenance and count service.
func (a *App) Inbox() *inbox.Service {
	return a.inboxService
}

// Worker returns the dispatch worker.
func (a *App) Worker() *queue.Worker {
	return a.worker
}

func (a *App) collectPoolMetrics(ctx context.Context) {
	record := func() {
		metrics.RecordDBPoolMetrics(a.db)
		if a.redis != nil {
			metrics.RecordRedisPoolMetrics(a.redis)
		}
	}
	record()

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			record()
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) collectQueueMetrics(ctx context.Context) {
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats, err := a.queueRepo.GetQueueStats(ctx)
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("failed to get queue stats", "error", err)
				}
				continue
			}
			queue.RecordQueueStats(stats)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(httputil.MetricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	health := &healthHandler{checks: []readinessCheck{{name: "database", ping: a.db.Ping}}}
	if a.redis != nil {
		health.checks = append(health.checks, readinessCheck{
			name: "redis",
			ping: func(ctx context.Context) error { return a.redis.Ping(ctx).Err() },
		})
	}
	health.RegisterRoutes(r)

	ops := &opsHandler{
		dispatch:   a.worker,
		stats:      a.queueRepo,
		items:      a.queueService,
		notify:     a.queueService,
		counts:     a.inboxService,
		retryAfter: a.config.Queue.ProcessingInterval,
	}
	r.Route("/ops", ops.RegisterRoutes)

	return r
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
