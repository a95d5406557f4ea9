package migrations

import (
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/uptrace/bun"

	"ms-fulfillment/internal/logger"
)

// Options configures the migration runner.
type Options struct {
	// MigrationsDir holds the numbered .up.sql/.down.sql files.
	MigrationsDir string
	// AutoMigrate runs pending migrations on startup.
	AutoMigrate bool
}

func DefaultOptions() Options {
	return Options{
		MigrationsDir: "./internal/database/migrations/sql",
		AutoMigrate:   true,
	}
}

// Runner applies schema migrations over the service's bun connection.
type Runner struct {
	bunDB    *bun.DB
	options  Options
	log      *logger.Logger
	migrator *migrate.Migrate
}

func NewRunner(bunDB *bun.DB, opts Options, log *logger.Logger) *Runner {
	return &Runner{bunDB: bunDB, options: opts, log: log}
}

func (r *Runner) initialize() error {
	driver, err := postgres.WithInstance(r.bunDB.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres migration driver: %w", err)
	}

	if _, err := os.Stat(r.options.MigrationsDir); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory does not exist: %s", r.options.MigrationsDir)
	}

	migrator, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", r.options.MigrationsDir),
		"postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	r.migrator = migrator
	return nil
}

// Up runs all pending migrations.
func (r *Runner) Up() error {
	if r.migrator == nil {
		if err := r.initialize(); err != nil {
			return err
		}
	}

	if err := r.migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	version, dirty, err := r.migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("schema is dirty at version %d, manual intervention required", version)
	}
	if err == nil {
		r.log.Info("DATABASE", fmt.Sprintf("Schema at version %d", version))
	}
	return nil
}

// Down rolls back all migrations. Used by tooling, never on startup.
func (r *Runner) Down() error {
	if r.migrator == nil {
		if err := r.initialize(); err != nil {
			return err
		}
	}
	if err := r.migrator.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

func (r *Runner) Close() error {
	if r.migrator == nil {
		return nil
	}
	sourceErr, databaseErr := r.migrator.Close()
	if sourceErr != nil {
		return fmt.Errorf("error closing migrator source: %w", sourceErr)
	}
	if databaseErr != nil {
		return fmt.Errorf("error closing migrator database: %w", databaseErr)
	}
	return nil
}
