package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v4/pgxpool"
)

type MigrationConfig struct {
	Direction      string
	MigrationsPath string
	Steps          int
}

// RunMigrations применяет миграции из каталога cfg.MigrationsPath. Steps == 0
// означает "до конца" в выбранном направлении.
func RunMigrations(ctx context.Context, cfg *MigrationConfig, pool *pgxpool.Pool) error {
	m, err := migrate.New("file://"+cfg.MigrationsPath, pool.Config().ConnString())
	if err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}
	defer m.Close()

	switch cfg.Direction {
	case "up":
		if cfg.Steps > 0 {
			err = m.Steps(cfg.Steps)
		} else {
			err = m.Up()
		}
	case "down":
		if cfg.Steps > 0 {
			err = m.Steps(-cfg.Steps)
		} else {
			err = m.Down()
		}
	default:
		return fmt.Errorf("unknown migration direction: %s", cfg.Direction)
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, verr := m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read migration version: %w", verr)
	}
	slog.Info("Migrations applied", "version", version, "dirty", dirty)
	return nil
}
