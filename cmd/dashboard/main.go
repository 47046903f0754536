// Command dashboard serves the student academic dashboard: it signs the
// student in against the academic API or the backend database, keeps the
// session's records in memory and exposes grades, attendance, risk alerts
// and the academic path over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/academic-tracker/student-dashboard/config"
	"github.com/academic-tracker/student-dashboard/internal/application/command"
	"github.com/academic-tracker/student-dashboard/internal/application/eventhandler"
	"github.com/academic-tracker/student-dashboard/internal/application/session"
	"github.com/academic-tracker/student-dashboard/internal/domain/academic"
	"github.com/academic-tracker/student-dashboard/internal/domain/shared"
	"github.com/academic-tracker/student-dashboard/internal/infrastructure/external/academicapi"
	"github.com/academic-tracker/student-dashboard/internal/infrastructure/messaging"
	"github.com/academic-tracker/student-dashboard/internal/infrastructure/persistence/postgres"
	"github.com/academic-tracker/student-dashboard/internal/infrastructure/persistence/redis"
	"github.com/academic-tracker/student-dashboard/internal/infrastructure/scheduler"
	"github.com/academic-tracker/student-dashboard/internal/infrastructure/scheduler/jobs"
	httpserver "github.com/academic-tracker/student-dashboard/internal/interface/http"
	"github.com/academic-tracker/student-dashboard/internal/interface/http/handlers"
	"github.com/academic-tracker/student-dashboard/pkg/circuitbreaker"
	"github.com/academic-tracker/student-dashboard/pkg/logger"
	"github.com/academic-tracker/student-dashboard/pkg/retry"
	"github.com/academic-tracker/student-dashboard/pkg/timeutil"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

// eventBus is what both bus implementations offer.
type eventBus interface {
	shared.EventPublisher
	shared.EventSubscriber
	Close() error
	Metrics() *messaging.EventBusMetrics
}

func run() error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION & LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Options{
		Output: os.Stdout,
		Level:  logger.ParseLevel(cfg.Observability.LogLevel),
		Format: logger.ParseFormat(cfg.Observability.LogFormat),
	})
	log.Info("starting student dashboard",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("source", string(cfg.Source)),
		logger.String("timezone", cfg.App.Location.String()),
	)
	if err := timeutil.SetLocation(cfg.App.Timezone); err != nil {
		log.Warn("unknown timezone, keeping default", logger.Err(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	health := handlers.NewCompositeHealthChecker(cfg.App.Version)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. DATA SOURCE
	// ─────────────────────────────────────────────────────────────────────────
	backend, closeBackend, err := buildBackend(ctx, cfg, log, health)
	if err != nil {
		return err
	}
	defer closeBackend()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. SNAPSHOT CACHE & EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	cache, bus, closeRedis := buildRedis(ctx, cfg, log, health)
	defer closeRedis()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	sessions := session.NewManager(session.Config{
		Backend:  backend,
		Cache:    cache,
		CacheTTL: cfg.API.CacheTTL,
		Events:   bus,
		Flags:    cfg.Features,
		Logger:   log,
	})

	deps := httpserver.NewDependencies(sessions, command.Deps{
		Validator: command.NewValidator(),
		Events:    bus,
		Logger:    log,
	}, log)
	deps.HealthChecker = health
	deps.Version = cfg.App.Version

	onRecord := eventhandler.NewOnRecordChangedHandler(sessions, deps.GenerateAlerts, log)
	if err := eventhandler.Register(bus, eventhandler.NewAuditLogHandler(log), onRecord); err != nil {
		return fmt.Errorf("failed to register event handlers: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. BACKGROUND JOBS
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(scheduler.Config{Logger: log, Location: cfg.App.Location})
		sweep := jobs.NewAlertSweepJob(sessions, deps.GenerateAlerts, log)
		if err := sched.Register(sweep, scheduler.Every(cfg.Scheduler.AlertSweepInterval)); err != nil {
			return fmt.Errorf("failed to register jobs: %w", err)
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	server := httpserver.NewServer(httpserver.ConfigFrom(cfg.HTTP), deps)
	errCh := server.StartAsync()

	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err, ok := <-errCh:
		if ok && err != nil {
			return err
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("starting graceful shutdown", logger.Duration("timeout", cfg.App.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	var shutdownErr error
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", logger.Err(err))
		shutdownErr = err
	}

	if sched != nil {
		if err := sched.Stop(); err != nil {
			log.Warn("failed to stop scheduler", logger.Err(err))
		}
	}

	if sessions.IsAuthenticated() {
		if err := sessions.Logout(shutdownCtx); err != nil && !shared.IsUnauthorized(err) {
			log.Warn("failed to end session", logger.Err(err))
		}
	}

	if m := bus.Metrics(); m != nil {
		log.Info("event bus totals", logger.Any("metrics", m.Snapshot()))
	}

	if shutdownErr != nil {
		log.Warn("shutdown completed with errors")
		return shutdownErr
	}
	log.Info("shutdown completed")
	return nil
}

// buildBackend connects the configured data source and registers its health
// checks. The returned func releases its resources.
func buildBackend(ctx context.Context, cfg *config.Config, log *logger.Logger, health *handlers.CompositeHealthChecker) (academic.Backend, func(), error) {
	onStateChange := func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	}

	switch cfg.Source {
	case config.SourcePostgres:
		pgCfg := postgres.DefaultConfig(cfg.Database.URL)
		if cfg.Database.MaxOpenConns > 0 {
			pgCfg.MaxConns = int32(cfg.Database.MaxOpenConns)
		}
		if cfg.Database.MaxIdleConns >= 0 {
			pgCfg.MinConns = int32(cfg.Database.MaxIdleConns)
		}
		pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
		pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
		pgCfg.QueryTimeout = cfg.Database.QueryTimeout

		log.Info("connecting to database")
		conn, err := postgres.NewConnection(ctx, pgCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		if cfg.Database.AutoMigrate {
			if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
				conn.Close()
				return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info("development schema applied")
		}

		source := postgres.NewAcademicSource(conn,
			postgres.WithLocation(cfg.App.Location),
			postgres.WithLogger(log),
			postgres.WithBreaker(circuitbreaker.DatabaseBreaker(postgres.IsDatabaseFailure, onStateChange)),
		)
		health.AddCheck("postgres", handlers.NewPingCheck(conn))
		health.AddCheck("postgres_breaker", handlers.NewBreakerCheck(source.BreakerState))
		return source, conn.Close, nil

	case config.SourceAPI:
		apiCfg := academicapi.DefaultClientConfig(cfg.API.BaseURL)
		apiCfg.Timeout = cfg.API.RequestTimeout
		if cfg.API.RateLimit > 0 {
			apiCfg.RateLimiterConfig.RequestsPerSecond = float64(cfg.API.RateLimit)
		}
		if cfg.API.RateLimitBurst > 0 {
			apiCfg.RateLimiterConfig.BurstSize = cfg.API.RateLimitBurst
		}
		apiCfg.Retrier = retry.New(
			retry.WithMaxAttempts(max(cfg.API.MaxRetries, 1)),
			retry.WithInitialDelay(cfg.API.RetryBaseDelay),
			retry.WithMaxDelay(cfg.API.RetryMaxDelay),
			retry.WithMultiplier(2.0),
			retry.WithJitter(0.2),
		)
		apiCfg.Breaker = circuitbreaker.New("academic-api",
			circuitbreaker.WithFailureThreshold(cfg.API.CircuitBreakerThreshold),
			circuitbreaker.WithSuccessThreshold(2),
			circuitbreaker.WithTimeout(cfg.API.CircuitBreakerTimeout),
			circuitbreaker.WithMaxHalfOpenRequests(1),
			circuitbreaker.WithIsFailure(academicapi.IsBreakerFailure),
			circuitbreaker.WithOnStateChange(onStateChange),
		)
		apiCfg.Location = cfg.App.Location
		apiCfg.Logger = log
		apiCfg.Debug = cfg.App.Debug

		client := academicapi.NewClient(apiCfg)
		health.AddCheck("academic_api_breaker", handlers.NewBreakerCheck(func() string {
			return client.Status().CircuitBreaker
		}))
		health.AddOptionalCheck("academic_api", handlers.NewPingCheck(client))
		return client, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown data source %q", cfg.Source)
	}
}

// buildRedis returns the snapshot cache and the event bus. Without Redis the
// cache never hits and events stay in process.
func buildRedis(ctx context.Context, cfg *config.Config, log *logger.Logger, health *handlers.CompositeHealthChecker) (academic.SnapshotCache, eventBus, func()) {
	localBus := messaging.InMemoryEventBusConfig{
		AsyncMode:     false,
		Logger:        log,
		EnableMetrics: true,
	}
	inProcess := func() (academic.SnapshotCache, eventBus, func()) {
		bus := messaging.NewInMemoryEventBus(localBus)
		return redis.NoopSnapshotCache{}, bus, func() { _ = bus.Close() }
	}

	if cfg.Redis.Disabled {
		log.Info("redis disabled, snapshot cache off")
		return inProcess()
	}

	redisCfg := redis.DefaultConfig()
	redisCfg.URL = cfg.Redis.URL
	if cfg.Redis.Host != "" {
		redisCfg.Host = cfg.Redis.Host
	}
	if cfg.Redis.Port > 0 {
		redisCfg.Port = cfg.Redis.Port
	}
	redisCfg.Password = cfg.Redis.Password
	redisCfg.DB = cfg.Redis.DB
	if cfg.Redis.PoolSize > 0 {
		redisCfg.PoolSize = cfg.Redis.PoolSize
	}
	if cfg.Redis.MinIdleConns > 0 {
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
	}
	if cfg.Redis.DialTimeout > 0 {
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
	}
	if cfg.Redis.ReadTimeout > 0 {
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
	}
	if cfg.Redis.WriteTimeout > 0 {
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout
	}

	cache, err := redis.NewCache(ctx, redisCfg)
	if err != nil {
		log.Warn("redis unavailable, snapshot cache off", logger.Err(err))
		return inProcess()
	}

	bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
		Client:         cache.Client(),
		LocalBusConfig: localBus,
		WriteTimeout:   time.Second,
		Logger:         log,
	})
	if err != nil {
		_ = cache.Close()
		log.Warn("redis event mirror unavailable", logger.Err(err))
		return inProcess()
	}

	health.AddOptionalCheck("redis", handlers.NewPingCheck(cache))
	log.Info("redis connected", logger.String("channel", messaging.DefaultChannel))

	return redis.NewSnapshotCache(cache), bus, func() {
		_ = bus.Close()
		_ = cache.Close()
	}
}
