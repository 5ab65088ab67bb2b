package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/conduit-core/internal/adapters/driven/connectors"
	"github.com/custodia-labs/conduit-core/internal/adapters/driven/postgres"
	postgresqueue "github.com/custodia-labs/conduit-core/internal/adapters/driven/queue/postgres"
	redisqueue "github.com/custodia-labs/conduit-core/internal/adapters/driven/queue/redis"
	redisadapter "github.com/custodia-labs/conduit-core/internal/adapters/driven/redis"
	"github.com/custodia-labs/conduit-core/internal/config"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"
	"github.com/custodia-labs/conduit-core/internal/core/services"
	"github.com/custodia-labs/conduit-core/internal/pool"
	"github.com/custodia-labs/conduit-core/internal/processor"
	"github.com/custodia-labs/conduit-core/internal/worker"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Mode from command line overrides the environment
	if len(os.Args) > 1 {
		cfg.Mode = os.Args[1]
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("conduit-core starting", "version", version, "mode", cfg.Mode)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received, stopping")
		cancel()
	}()

	// ===== PostgreSQL =====
	db, err := postgres.Connect(ctx, postgres.DefaultConfig(cfg.DatabaseURL))
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}
	logger.Info("postgres connected, schema initialized")

	// ===== Redis (optional) =====
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to parse Redis URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		logger.Info("redis connected")
	}

	// ===== Queue and lock: Redis preferred, Postgres fallback =====
	var taskQueue driven.TaskQueue
	var distLock driven.DistributedLock
	if redisClient != nil {
		hostname, _ := os.Hostname()
		taskQueue, err = redisqueue.NewQueue(redisClient, fmt.Sprintf("worker-%s-%d", hostname, os.Getpid()))
		if err != nil {
			log.Fatalf("Failed to create Redis queue: %v", err)
		}
		distLock = redisadapter.NewLock(redisClient)
	} else {
		taskQueue = postgresqueue.NewQueue(db.DB)
		distLock = postgres.NewAdvisoryLock(db)
		logger.Info("redis not configured, using postgres queue and advisory lock")
	}
	defer taskQueue.Close()

	// ===== Stores, processors, engine =====
	sourceStore := postgres.NewSourceStore(db)
	recordStore := postgres.NewRecordStore(db)
	history := postgres.NewSyncHistoryStore(db)

	processors, err := processor.DefaultRegistry(cfg.Timezone)
	if err != nil {
		log.Fatalf("Failed to build processor registry: %v", err)
	}

	pools := pool.NewManager(cfg.Pool)
	engine := services.NewSyncEngine(services.SyncEngineConfig{
		SourceStore: sourceStore,
		RecordStore: recordStore,
		History:     history,
		Connectors:  connectors.NewFactory(),
		Processors:  processors,
		Pools:       pools,
		Retry:       cfg.Retry,
		BatchSize:   cfg.BatchSize,
		Logger:      logger,
	})

	// ===== Scheduler =====
	var scheduler *services.Scheduler
	if cfg.Mode == "scheduler" || cfg.Mode == "all" {
		scheduler = services.NewScheduler(services.SchedulerConfig{
			SourceStore:  sourceStore,
			History:      history,
			TaskQueue:    taskQueue,
			Lock:         distLock,
			Gates:        cfg.Gates,
			Logger:       logger,
			PollInterval: cfg.SchedulerInterval,
			LockTTL:      cfg.LockTTL,
			LockRequired: true,
		})
	}

	switch cfg.Mode {
	case "scheduler":
		if err := scheduler.Start(ctx); err != nil {
			log.Fatalf("Failed to start scheduler: %v", err)
		}
		startJanitor(ctx, cfg, history, taskQueue, pools, logger)
		<-ctx.Done()
		scheduler.Stop()

	case "worker", "all":
		w := worker.NewWorker(worker.WorkerConfig{
			TaskQueue:      taskQueue,
			Runner:         engine,
			Scheduler:      scheduler, // nil in worker mode
			Logger:         logger,
			Concurrency:    cfg.Concurrency,
			DequeueTimeout: cfg.DequeueTimeout,
		})
		if err := w.Start(ctx); err != nil {
			log.Fatalf("Failed to start worker: %v", err)
		}
		startJanitor(ctx, cfg, history, taskQueue, pools, logger)
		<-ctx.Done()
		w.Stop()
	}

	logger.Info("conduit-core stopped")
}

// startJanitor purges terminal runs and tasks past the retention window and
// drops connection pools that have sat idle.
func startJanitor(ctx context.Context, cfg *config.Config, history driven.SyncHistoryStore,
	taskQueue driven.TaskQueue, pools *pool.Manager, logger *slog.Logger) {

	if cfg.RunRetention <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-cfg.RunRetention)
				if n, err := history.PurgeRuns(ctx, cutoff); err != nil {
					logger.Warn("failed to purge sync runs", "error", err)
				} else if n > 0 {
					logger.Info("purged sync runs", "count", n)
				}
				if n, err := taskQueue.PurgeTasks(ctx, int(cfg.RunRetention.Seconds())); err != nil {
					logger.Warn("failed to purge tasks", "error", err)
				} else if n > 0 {
					logger.Info("purged tasks", "count", n)
				}
				if n := pools.ReapIdle(); n > 0 {
					logger.Info("reaped idle target pools", "count", n)
				}
			}
		}
	}()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
