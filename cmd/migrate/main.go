package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/liamcoop/ruleng/internal/logger"
)

// migrateLogger adapts the application logger to migrate.Logger
type migrateLogger struct {
	verbose bool
}

func (l migrateLogger) Printf(format string, v ...any) {
	logger.Debug(fmt.Sprintf(format, v...), "component", "migrate")
}

func (l migrateLogger) Verbose() bool {
	return l.verbose
}

func main() {
	var databaseURL string
	var migrationsPath string
	var command string
	var verbose bool

	flag.StringVar(&databaseURL, "database", "", "Database URL (default: RULENG_DATABASE_URL or DATABASE_URL)")
	flag.StringVar(&migrationsPath, "path", "migrations", "Path to migrations directory")
	flag.StringVar(&command, "command", "up", "Migration command: up, down, steps, version, force")
	flag.BoolVar(&verbose, "verbose", false, "Log every migration step")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("RULENG_DATABASE_URL")
	}
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		logger.Fatal("Database URL is required. Use -database flag or RULENG_DATABASE_URL environment variable")
	}
	if verbose {
		logger.SetLevel(logger.LevelDebug)
	}

	logger.Info("Connecting to database...", "migrations_path", migrationsPath)

	m, err := migrate.New(
		fmt.Sprintf("file://%s", migrationsPath),
		databaseURL,
	)
	if err != nil {
		logger.Fatal("Failed to create migration instance", "error", err)
	}
	defer m.Close()
	m.Log = migrateLogger{verbose: verbose}

	switch command {
	case "up":
		logger.Info("Running migrations up...")
		err = m.Up()
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal("Failed to run migrations", "error", err)
		}
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("No migrations to run (database is up to date)")
		} else {
			logger.Info("Migrations completed successfully")
		}

	case "down":
		logger.Info("Rolling back migrations...")
		err = m.Down()
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal("Failed to rollback migrations", "error", err)
		}
		logger.Info("Rollback completed successfully")

	case "steps":
		n, err := versionArg()
		if err != nil {
			logger.Fatal("Steps command requires a step count: -command steps <n>", "error", err)
		}
		if err := m.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal("Failed to apply migration steps", "steps", n, "error", err)
		}
		logger.Info("Applied migration steps", "steps", n)

	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			logger.Info("No migrations applied yet")
			return
		}
		if err != nil {
			logger.Fatal("Failed to get version", "error", err)
		}
		logger.Info("Current version", "version", version, "dirty", dirty)

	case "force":
		version, err := versionArg()
		if err != nil {
			logger.Fatal("Force command requires a version number: -command force <version>", "error", err)
		}
		if err := m.Force(version); err != nil {
			logger.Fatal("Failed to force version", "error", err)
		}
		logger.Info("Forced version", "version", version)

	default:
		logger.Fatal("Unknown command (use: up, down, steps, version, force)", "command", command)
	}
}

func versionArg() (int, error) {
	if len(flag.Args()) < 1 {
		return 0, errors.New("missing argument")
	}
	return strconv.Atoi(flag.Arg(0))
}
