// Package migrations wires golang-migrate execution for the persistence layer.
package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file" // file:// migrations loader
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	dbmigrations "github.com/coachpo/marketmaker/db/migrations"
	"github.com/coachpo/marketmaker/internal/observability"
)

var errNotDirectory = errors.New("migrations path must be a directory")

// Apply ensures the migrations located at migrationsDir are applied to the
// Postgres instance reachable via dsn.
func Apply(ctx context.Context, dsn, migrationsDir string) error {
	resolvedDir, err := resolveDir(migrationsDir)
	if err != nil {
		return err
	}
	return run(ctx, dsn, resolvedDir, func(m *migrate.Migrate) error { return m.Up() })
}

// Rollback reverts the given number of migration steps.
func Rollback(ctx context.Context, dsn, migrationsDir string, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("rollback steps must be > 0")
	}
	resolvedDir, err := resolveDir(migrationsDir)
	if err != nil {
		return err
	}
	return run(ctx, dsn, resolvedDir, func(m *migrate.Migrate) error { return m.Steps(-steps) })
}

// ApplyEmbedded applies the SQL migrations compiled into the binary. Used by
// the trading binary when database.runMigrations is set.
func ApplyEmbedded(ctx context.Context, dsn string) error {
	db, err := openAndPing(ctx, dsn)
	if err != nil {
		return err
	}
	defer closeDB(db)

	driver, err := pgxv5.WithInstance(db, &pgxv5.Config{})
	if err != nil {
		return fmt.Errorf("initialise pgx v5 driver: %w", err)
	}
	source, err := iofs.New(dbmigrations.Files, ".")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("initialise migrate instance: %w", err)
	}
	defer closeMigrate(m)
	return up(m, "embedded")
}

func run(ctx context.Context, dsn, dir string, op func(*migrate.Migrate) error) error {
	db, err := openAndPing(ctx, dsn)
	if err != nil {
		return err
	}
	defer closeDB(db)

	driver, err := pgxv5.WithInstance(db, &pgxv5.Config{})
	if err != nil {
		return fmt.Errorf("initialise pgx v5 driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(fileURL(dir), "pgx5", driver)
	if err != nil {
		return fmt.Errorf("initialise migrate instance: %w", err)
	}
	defer closeMigrate(m)

	observability.Log().Info("running database migrations", observability.F("path", dir))
	if err := op(m); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			observability.Log().Info("database migrations up-to-date")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}
	observability.Log().Info("database migrations applied")
	return nil
}

func up(m *migrate.Migrate, source string) error {
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			observability.Log().Info("database migrations up-to-date", observability.F("source", source))
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}
	observability.Log().Info("database migrations applied", observability.F("source", source))
	return nil
}

func openAndPing(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open migrations connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		closeDB(db)
		return nil, fmt.Errorf("ping migrations database: %w", err)
	}
	return db, nil
}

func closeDB(db *sql.DB) {
	if err := db.Close(); err != nil {
		observability.Log().Warn("database migrations close", observability.F("error", err))
	}
}

func closeMigrate(m *migrate.Migrate) {
	sourceErr, dbErr := m.Close()
	if sourceErr != nil {
		observability.Log().Warn("database migrations source close", observability.F("error", sourceErr))
	}
	if dbErr != nil {
		observability.Log().Warn("database migrations db close", observability.F("error", dbErr))
	}
}

func resolveDir(dir string) (string, error) {
	clean := strings.TrimSpace(dir)
	if clean == "" {
		return "", fmt.Errorf("migrations path required")
	}

	abs, err := filepath.Abs(clean)
	if err != nil {
		return "", fmt.Errorf("resolve migrations path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("migrations directory: %w", err)
		}
		return "", fmt.Errorf("stat migrations directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("migrations directory: %w", errNotDirectory)
	}
	return abs, nil
}

func fileURL(path string) string {
	slashed := filepath.ToSlash(path)
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	u := new(url.URL)
	u.Scheme = "file"
	u.Path = slashed
	return u.String()
}
