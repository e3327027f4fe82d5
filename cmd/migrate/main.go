// Command migrate applies or rolls back the embedded database schema.
//
// Usage:
//
//	DATABASE_URL=postgres://... go run ./cmd/migrate up
//	DATABASE_URL=postgres://... go run ./cmd/migrate down
//	DATABASE_URL=postgres://... go run ./cmd/migrate version
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/av-incident-etl/internal/config"
	"github.com/couchcryptid/av-incident-etl/internal/observability"
	"github.com/couchcryptid/av-incident-etl/migrations"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: migrate <up|down|version>")
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := observability.NewLogger(&config.Config{
		LogLevel:  sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
	})

	if err := run(flag.Arg(0), os.Getenv("DATABASE_URL"), logger); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
}

func run(command, databaseURL string, logger *slog.Logger) error {
	if command == "" {
		flag.Usage()
		return errors.New("missing command")
	}
	if databaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}

	runner, err := migrations.NewRunner(databaseURL, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := runner.Close(); err != nil {
			logger.Warn("close migration runner", "error", err)
		}
	}()

	switch command {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "version":
		version, dirty, err := runner.Version()
		if err != nil {
			return err
		}
		logger.Info("schema version", "version", version, "dirty", dirty)
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}
