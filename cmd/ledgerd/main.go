package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"ledger/pkg/allocator"
	"ledger/pkg/api"
	"ledger/pkg/autotransfer"
	"ledger/pkg/clock"
	"ledger/pkg/config"
	"ledger/pkg/directory"
	"ledger/pkg/ledger"
	"ledger/pkg/lock/redis"
	"ledger/pkg/logging"
	promMetrics "ledger/pkg/metrics/prometheus"
	"ledger/pkg/resilience"
	"ledger/pkg/schedule"
	"ledger/pkg/storage"
	"ledger/pkg/storage/memory"
	"ledger/pkg/storage/postgres"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	logger.Info("starting ledgerd")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := promMetrics.NewPrometheusCollector("ledger")
	if err := collector.Register(registry); err != nil {
		logger.Fatal("Failed to register metrics", zap.Error(err))
	}

	// Storage: PostgreSQL when configured, otherwise in memory
	var (
		store  storage.Store
		owners directory.Directory
	)
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(cfg.Postgres)
		if err != nil {
			logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
		}
		store, owners = pg, postgres.NewOwners(pg)
		logger.Info("using PostgreSQL store")
	} else {
		store, owners = memory.New(), directory.NewStatic(cfg.Owners...)
		logger.Warn("DATABASE_URL not set, using in-memory store", zap.Int("owners", len(cfg.Owners)))
	}

	resilient := resilience.NewResilientStoreWithMetrics(store, cfg.Resilience.WithExpected(isBusinessError), collector)
	defer resilient.Close()

	cacheCfg := cfg.OwnerCache
	cacheCfg.Metrics = collector
	cacheCfg.Logger = logger
	cachedOwners := directory.NewCached(owners, cacheCfg)
	defer cachedOwners.Close()

	numbers := allocator.New(cfg.Allocator, allocator.WithLogger(logger))

	svc := ledger.NewService(resilient, cachedOwners, numbers,
		ledger.WithConfig(cfg.Ledger),
		ledger.WithMetrics(collector),
		ledger.WithLogger(logger),
	)
	schedules := autotransfer.NewRegistry(resilient, clock.System(), cfg.AutoTransfer.Location)

	var executor *autotransfer.Executor
	if cfg.AutoTransfer.Enabled {
		opts := []autotransfer.ExecutorOption{
			autotransfer.WithExecutorConfig(cfg.AutoTransfer.Executor),
			autotransfer.WithExecutorMetrics(collector),
			autotransfer.WithExecutorLogger(logger),
		}
		if cfg.RedisAddr != "" {
			locker, err := redis.NewLocker(cfg.Redis)
			if err != nil {
				logger.Fatal("Failed to connect to Redis", zap.Error(err))
			}
			defer locker.Close()
			opts = append(opts, autotransfer.WithLocker(locker))
			logger.Info("executor lock enabled", zap.String("redis", cfg.RedisAddr))
		}
		executor = autotransfer.NewExecutor(resilient, svc, opts...)
	}

	serverCfg := api.DefaultServerConfig()
	serverCfg.Address = cfg.HTTPAddr
	serverCfg.Registerer = registry
	serverCfg.Gatherer = registry
	server, err := api.NewServer(api.Deps{
		Ledger:   svc,
		Registry: schedules,
		Executor: executor,
		Store:    resilient,
	}, serverCfg)
	if err != nil {
		logger.Fatal("Failed to create API server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if executor != nil {
		executor.Start(ctx)
		logger.Info("auto-transfer executor started",
			zap.Duration("interval", cfg.AutoTransfer.Executor.Interval),
			zap.String("time_zone", cfg.AutoTransfer.TimeZone),
		)
	}
	server.Start()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if executor != nil {
		executor.Stop()
	}

	logger.Info("stopped gracefully")
}

// isBusinessError reports rejections that say nothing about store health
func isBusinessError(err error) bool {
	return ledger.IsDomainError(err) ||
		errors.Is(err, autotransfer.ErrNotOwner) ||
		errors.Is(err, autotransfer.ErrScheduleNotFound) ||
		errors.Is(err, schedule.ErrInvalidDayOfMonth) ||
		errors.Is(err, schedule.ErrInvalidRunTime) ||
		errors.Is(err, schedule.ErrInvalidMaxRetries)
}
