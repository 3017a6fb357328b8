package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"faceattend/internal/attendance"
)

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

//go:embed migrations
var migrationsFS embed.FS

// Open returns the record store for backend. dsn is a file path for
// sqlite and a connection URL for postgres; memory ignores it.
func Open(ctx context.Context, backend, dsn string, logger *zap.Logger) (attendance.Repository, error) {
	switch backend {
	case BackendMemory:
		return NewMemory(), nil
	case BackendSQLite:
		db, err := OpenSQLite(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if err := Migrate(db, backend, logger); err != nil {
			_ = db.Close()
			return nil, err
		}
		return NewSQLRepository(db, sqliteDialect), nil
	case BackendPostgres:
		db, err := OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if err := Migrate(db, backend, logger); err != nil {
			_ = db.Close()
			return nil, err
		}
		return NewSQLRepository(db, postgresDialect), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// OpenPostgres creates a Postgres connection through pgx with sane defaults.
func OpenPostgres(ctx context.Context, connString string) (*sql.DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// OpenSQLite opens (creating if needed) the database file at path. Write
// transactions take the lock up front so insert-if-absent cannot interleave.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

// Migrate applies the embedded schema migrations for backend.
func Migrate(db *sql.DB, backend string, logger *zap.Logger) error {
	src, err := iofs.New(migrationsFS, "migrations/"+backend)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	var m *migrate.Migrate
	switch backend {
	case BackendPostgres:
		driver, derr := migratepgx.WithInstance(db, &migratepgx.Config{})
		if derr != nil {
			return fmt.Errorf("migration driver: %w", derr)
		}
		m, err = migrate.NewWithInstance("iofs", src, "pgx5", driver)
	case BackendSQLite:
		driver, derr := migratesqlite.WithInstance(db, &migratesqlite.Config{})
		if derr != nil {
			return fmt.Errorf("migration driver: %w", derr)
		}
		m, err = migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	default:
		return fmt.Errorf("no migrations for backend %q", backend)
	}
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	if logger != nil {
		version, dirty, _ := m.Version()
		if dirty {
			logger.Warn("schema migration is dirty", zap.Uint("version", version))
		} else {
			logger.Info("schema migrated", zap.String("backend", backend), zap.Uint("version", version))
		}
	}
	return nil
}
