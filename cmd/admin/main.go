package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"cvforge/internal/config"
	"cvforge/internal/database"
	"cvforge/internal/logging"
)

// env holds the handles a command works with.
type env struct {
	db     *gorm.DB
	redis  redis.UniversalClient
	logger *slog.Logger
	out    io.Writer
}

type opener func(ctx context.Context) (*env, func(), error)

func main() {
	if err := newRootCmd(openFromConfig).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:          "cvforge-admin",
		Short:        "Operator commands for cvforge",
		SilenceUsage: true,
	}
	root.AddCommand(
		newUserCmd(open),
		newSubscriptionCmd(open),
		newDraftsCmd(open),
	)
	return root
}

// openFromConfig connects to the database and redis described by the
// environment. Redis is optional; without it cached entitlements are left
// to expire on their own.
func openFromConfig(ctx context.Context) (*env, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.Log, os.Stderr)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, nil, err
	}

	e := &env{db: db, logger: logger}
	closers := []func(){}

	client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, entitlement cache will not be invalidated", slog.Any("error", err))
		_ = client.Close()
	} else {
		e.redis = client
		closers = append(closers, func() { _ = client.Close() })
	}

	if sqlDB, err := db.DB(); err == nil {
		closers = append(closers, func() { _ = sqlDB.Close() })
	}
	return e, func() {
		for _, c := range closers {
			c()
		}
	}, nil
}

// withEnv opens the environment for the duration of a command.
func withEnv(open opener, run func(cmd *cobra.Command, args []string, e *env) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, closeEnv, err := open(cmd.Context())
		if err != nil {
			return err
		}
		defer closeEnv()
		if e.out == nil {
			e.out = cmd.OutOrStdout()
		}
		return run(cmd, args, e)
	}
}
