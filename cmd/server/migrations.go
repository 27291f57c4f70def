package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pressly/goose/v3"
)

// migrationsRelPath is the migrations directory relative to the project root.
const migrationsRelPath = "internal/platform/postgres/migrations"

// runMigrations applies any pending goose migrations at startup. Goose
// serializes concurrent runners through its version table, so multiple
// instances starting at once is safe.
func runMigrations(db *sql.DB, log *slog.Logger) error {
	dir, err := findMigrationsDir()
	if err != nil {
		return err
	}

	goose.SetLogger(&slogGooseLogger{logger: log})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}

	before, err := goose.GetDBVersion(db)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}

	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	after, err := goose.GetDBVersion(db)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}

	log.Info("Migrations applied",
		slog.Int64("from_version", before),
		slog.Int64("to_version", after))
	return nil
}

// findMigrationsDir locates the migrations directory relative to the
// working directory, walking up so the binary also works when started from
// a subdirectory of the repo.
func findMigrationsDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to determine working directory: %w", err)
	}

	for {
		candidate := filepath.Join(dir, migrationsRelPath)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("migrations directory %s not found", migrationsRelPath)
		}
		dir = parent
	}
}

// slogGooseLogger adapts goose's logger interface to slog.
type slogGooseLogger struct {
	logger *slog.Logger
}

func (l *slogGooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
	os.Exit(1)
}

func (l *slogGooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
