package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	ledgerdomain "github.com/cvforge/creditengine/internal/ledger/domain"
	paymentdomain "github.com/cvforge/creditengine/internal/payment/domain"
	plandomain "github.com/cvforge/creditengine/internal/plan/domain"
	pricingdomain "github.com/cvforge/creditengine/internal/pricing/domain"
	subscriptiondomain "github.com/cvforge/creditengine/internal/subscription/domain"
	userdomain "github.com/cvforge/creditengine/internal/user/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

const migrationsDir = "migrations"

// Run applies the schema. Postgres goes through versioned SQL migrations
// under an advisory lock; sqlite (dev and tests) auto-migrates the models
// since the SQL files use postgres-only constructs.
func Run(db *gorm.DB, driver string) error {
	if driver != "postgres" {
		return autoMigrate(db)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return runVersioned(sqlDB)
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&userdomain.User{},
		&ledgerdomain.CreditBalance{},
		&ledgerdomain.CreditTransaction{},
		&pricingdomain.PricingRule{},
		&plandomain.SubscriptionPlan{},
		&subscriptiondomain.Subscription{},
		&paymentdomain.EventRecord{},
	)
}

func runVersioned(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	unlock, err := acquireAdvisoryLock(ctx, db)
	if err != nil {
		return err
	}
	defer func() {
		_ = unlock(context.Background())
	}()

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	migrationDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", migrationDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := ensureNotDirty(migrator); err != nil {
		return err
	}

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return ensureNotDirty(migrator)
}

func ensureNotDirty(migrator *migrate.Migrate) error {
	version, dirty, err := migrator.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return nil
		}
		return fmt.Errorf("read migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("database migrations are dirty at version %d", version)
	}
	return nil
}
