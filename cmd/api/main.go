package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"cvforge/internal/api"
	"cvforge/internal/api/middleware"
	"cvforge/internal/auth"
	"cvforge/internal/billing"
	"cvforge/internal/catalog"
	"cvforge/internal/config"
	"cvforge/internal/database"
	"cvforge/internal/draft"
	"cvforge/internal/logging"
	"cvforge/internal/notify"
	"cvforge/internal/repository"
	"cvforge/internal/storage"
)

func main() {
	cfg := config.MustLoad()
	logger := logging.New(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("api stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}
	logger.Info("database ready",
		slog.String("host", cfg.Database.Host),
		slog.String("db", cfg.Database.Name),
	)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	queue := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr()})
	defer queue.Close()

	storageClient, err := storage.NewClient(ctx, cfg.MinIO)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	authService, err := auth.NewFromConfig(cfg.Auth)
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}

	templates := catalog.Default()
	subscriptions := repository.NewSubscriptionRepository(db)
	entitlements := billing.NewEntitlements(subscriptions, redisClient, cfg.Drafts.EntitlementCache, logger)
	drafts := draft.NewService(repository.NewDraftRepository(db), entitlements, templates, logger, draft.Options{
		TTL:             cfg.Drafts.TTL,
		PermissiveClaim: cfg.Drafts.PermissiveClaim,
	})
	activator := billing.NewActivator(
		entitlements,
		subscriptions,
		drafts,
		queue,
		notify.NewPublisher(redisClient),
		logger,
		cfg.Drafts.ConvertMaxRetry,
	)

	router := api.NewRouter(logger)
	api.RegisterRoutes(router, api.Handlers{
		Tokens: authService,
		AnonymousID: middleware.AnonymousIDOptions{
			CookieName: cfg.Drafts.CookieName,
			TTL:        cfg.Drafts.CookieTTL,
			Domain:     cfg.Drafts.CookieDomain,
			Secure:     cfg.Drafts.CookieSecure,
		},
		InternalSecret: cfg.API.InternalSecret,
		Drafts:         api.NewDraftHandler(drafts, redisClient, cfg.Drafts.WritesPerHour),
		CVs:            api.NewCVHandler(repository.NewCVRepository(db), entitlements, templates, storageClient),
		Templates:      api.NewTemplateHandler(templates),
		Billing:        api.NewBillingHandler(billing.NewStripeGateway(cfg.Billing.StripeSecretKey, cfg.Billing.StripeWebhookSecret), activator),
		Auth:           api.NewAuthHandler(repository.NewUserRepository(db), authService, redisClient, logger, cfg.Drafts.CookieDomain),
		Ws:             api.NewWsHandler(redisClient, authService, logger, cfg.API.AllowedOrigins),
		Internal:       api.NewInternalHandler(activator),
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", slog.String("addr", server.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down api")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
