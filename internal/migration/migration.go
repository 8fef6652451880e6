package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/smallbiznis/storetax/internal/cache"
	auditdomain "github.com/smallbiznis/storetax/internal/audit/domain"
	taxdomain "github.com/smallbiznis/storetax/internal/tax/domain"
	"github.com/smallbiznis/storetax/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationLockKey  = "storetax:migrations:lock"
	migrationLockTTL  = 2 * time.Minute
	migrationLockWait = 60 * time.Second
	migrationLockPoll = 500 * time.Millisecond
)

var ErrMigrationLockTimeout = errors.New("migration lock timeout")

// Run brings the schema up to date. Postgres uses the embedded SQL
// migrations; other dialects fall back to AutoMigrate on the models.
func Run(ctx context.Context, conn *gorm.DB, locker *cache.Locker, log *zap.Logger) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}

	token, err := acquire(ctx, locker)
	if err != nil {
		return err
	}
	defer func() {
		if err := locker.Release(context.Background(), migrationLockKey, token); err != nil {
			log.Warn("failed to release migration lock", zap.Error(err))
		}
	}()

	dialect := conn.Dialector.Name()
	log.Info("running migrations", zap.String("dialect", dialect))

	if dialect == db.DialectPostgres {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}
	return AutoMigrate(conn)
}

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(sqlDB *sql.DB) error {
	if sqlDB == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// AutoMigrate creates the schema from the gorm models. SQLite cannot diff
// the numeric(20,6) columns it already created, so there existing tables are
// left alone and only missing ones are created.
func AutoMigrate(conn *gorm.DB) error {
	models := []any{&taxdomain.TaxRule{}, &auditdomain.AuditLog{}}
	if conn.Dialector.Name() == "sqlite" {
		missing := make([]any, 0, len(models))
		for _, model := range models {
			if !conn.Migrator().HasTable(model) {
				missing = append(missing, model)
			}
		}
		models = missing
	}
	if len(models) == 0 {
		return nil
	}
	if err := conn.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func acquire(ctx context.Context, locker *cache.Locker) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, migrationLockWait)
	defer cancel()

	for {
		token, ok, err := locker.TryLock(ctx, migrationLockKey, migrationLockTTL)
		if err != nil {
			return "", fmt.Errorf("acquire migration lock: %w", err)
		}
		if ok {
			return token, nil
		}

		select {
		case <-ctx.Done():
			return "", ErrMigrationLockTimeout
		case <-time.After(migrationLockPoll):
		}
	}
}
