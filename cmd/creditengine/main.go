package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cvforge/creditengine/internal/charge"
	"github.com/cvforge/creditengine/internal/clock"
	"github.com/cvforge/creditengine/internal/config"
	"github.com/cvforge/creditengine/internal/db"
	"github.com/cvforge/creditengine/internal/entitlement"
	"github.com/cvforge/creditengine/internal/ledger"
	"github.com/cvforge/creditengine/internal/metrics"
	"github.com/cvforge/creditengine/internal/migration"
	"github.com/cvforge/creditengine/internal/observability"
	"github.com/cvforge/creditengine/internal/payment"
	"github.com/cvforge/creditengine/internal/plan"
	"github.com/cvforge/creditengine/internal/pricing"
	"github.com/cvforge/creditengine/internal/quota"
	"github.com/cvforge/creditengine/internal/redis"
	"github.com/cvforge/creditengine/internal/seed"
	"github.com/cvforge/creditengine/internal/server"
	"github.com/cvforge/creditengine/internal/subscription"
	"github.com/cvforge/creditengine/internal/user"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "creditengine",
		Short:   "Credit ledger and entitlement engine",
		Version: readVersionFromEnv(),
	}
	root.AddCommand(newMigrateCmd(), newServeCmd(), newAllCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and seed defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			runServe()
			return nil
		},
	}
}

func newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run migrations, then start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runMigrate(); err != nil {
				return err
			}
			runServe()
			return nil
		},
	}
}

func runMigrate() error {
	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
		migration.Module,
		fx.Invoke(func(conn *gorm.DB) error {
			return seed.EnsureDefaults(conn)
		}),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("migrate failed: %w", err)
	}
	_ = app.Stop(context.Background())
	return nil
}

func runServe() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		redis.Module,
		metrics.Module,
		user.Module,
		pricing.Module,
		ledger.Module,
		plan.Module,
		subscription.Module,
		entitlement.Module,
		payment.Module,
		quota.Module,
		charge.Module,
		server.Module,
	)
	app.Run()
}

func registerSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

func readVersionFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("APP_VERSION")); v != "" {
		return v
	}
	return "dev"
}
