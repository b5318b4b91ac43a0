package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/lewisedginton/chat_memory/pkg/logger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// RunMigrations brings the database at dsn up to the latest schema.
// It opens its own handle because the migrate driver closes it when done.
// Running it against an up to date database is a no-op.
func RunMigrations(dsn string, log logger.Logger) error {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return fmt.Errorf("open migration handle: %w", err)
	}

	sourceDriver, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("create embedded migration source: %w", err)
	}

	dbDriver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("create sqlite migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := migrator.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Debug("SQLite schema up to date")
			return nil
		}
		log.Error("Failed to run sqlite migrations", logger.ErrorField(err))
		return fmt.Errorf("run migrations: %w", err)
	}

	log.Info("Applied sqlite migrations")
	return nil
}
