package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"cvforge/internal/billing"
	"cvforge/internal/catalog"
	"cvforge/internal/config"
	"cvforge/internal/database"
	"cvforge/internal/draft"
	"cvforge/internal/logging"
	"cvforge/internal/notify"
	"cvforge/internal/repository"
	"cvforge/internal/tasks"
	"cvforge/internal/worker"
)

func main() {
	cfg := config.MustLoad()
	logger := logging.New(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		return err
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	defer redisClient.Close()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr()}
	queue := asynq.NewClient(redisOpt)
	defer queue.Close()

	subscriptions := repository.NewSubscriptionRepository(db)
	entitlements := billing.NewEntitlements(subscriptions, redisClient, cfg.Drafts.EntitlementCache, logger)
	drafts := draft.NewService(repository.NewDraftRepository(db), entitlements, catalog.Default(), logger, draft.Options{
		TTL:             cfg.Drafts.TTL,
		PermissiveClaim: cfg.Drafts.PermissiveClaim,
	})
	publisher := notify.NewPublisher(redisClient)
	activator := billing.NewActivator(entitlements, subscriptions, drafts, queue, publisher, logger, cfg.Drafts.ConvertMaxRetry)

	mux := worker.NewServeMux(
		worker.NewConvertTaskHandler(activator, publisher, logger),
		worker.NewPurgeTaskHandler(drafts, cfg.Drafts.PurgeRetention, logger),
	)

	// Every worker runs a scheduler; the uniqueness window collapses their ticks.
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Logger: asynqLogger{logger}})
	if _, err := scheduler.Register(cfg.Drafts.PurgeCronSpec, tasks.NewDraftPurgeTask(), asynq.Unique(5*time.Minute)); err != nil {
		return fmt.Errorf("register purge schedule: %w", err)
	}
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer scheduler.Shutdown()

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 10,
		Logger:      asynqLogger{logger},
	})

	logger.Info("worker started",
		slog.String("redis_addr", cfg.Redis.Addr()),
		slog.String("purge_spec", cfg.Drafts.PurgeCronSpec),
	)
	return server.Run(mux)
}

// asynqLogger routes asynq's internal logging through slog.
type asynqLogger struct {
	l *slog.Logger
}

func (a asynqLogger) Debug(args ...any) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...any)  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...any) { a.l.Error(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...any) {
	a.l.Error(fmt.Sprint(args...))
	os.Exit(1)
}
