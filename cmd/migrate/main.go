// Command migrate applies the schema migrations under migrations/ to the
// configured Postgres database.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/tokenledger/activity-service/internal/infrastructure/config"
	"github.com/tokenledger/activity-service/internal/infrastructure/telemetry"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		dir        = flag.String("dir", "migrations", "Directory holding migration files")
		action     = flag.String("action", "up", "Migration action: up, down, version, force")
		steps      = flag.Int("steps", 0, "Number of migrations to apply (0 = all)")
		version    = flag.Int("version", -1, "Target version (for force action)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.LogLevel)

	if err := run(logger, cfg.Database.URL, *dir, *action, *steps, *version); err != nil {
		logger.Error("migration failed", "action", *action, "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, databaseURL, dir, action string, steps, target int) error {
	switch action {
	case "up", "down", "version", "force":
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	if action == "force" && target < 0 {
		return fmt.Errorf("force requires -version")
	}

	m, closeAll, err := newMigrator(databaseURL, dir)
	if err != nil {
		return err
	}
	defer closeAll()

	switch action {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	case "version":
		v, dirty, verr := m.Version()
		if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
			return verr
		}
		logger.Info("migration version", "version", v, "dirty", dirty)
		return nil
	case "force":
		err = m.Force(target)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("no migrations to apply")
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("migrations applied", "action", action)
	return nil
}

func newMigrator(databaseURL, dir string) (*migrate.Migrate, func(), error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("init migrate driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("init migrator: %w", err)
	}

	closeAll := func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			slog.Warn("migrator close", "source_error", srcErr, "database_error", dbErr)
		}
	}
	return m, closeAll, nil
}
