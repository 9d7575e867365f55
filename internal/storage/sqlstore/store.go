// Package sqlstore implements storage.Store on PostgreSQL (lib/pq) and SQLite
// (modernc.org/sqlite). Both dialects share the same SQL; the differences are
// row locks, which SQLite does not need because it serializes writers, and
// the way unique violations are reported.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fjod/go_store/internal/storage"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Store struct {
	db     *sql.DB
	driver string
	log    *slog.Logger
}

// Open connects to the database. For SQLite, dsn is a file path; the store
// keeps a single connection so units of work are serialized.
func Open(driver, dsn string, log *slog.Logger) (*Store, error) {
	switch driver {
	case DriverPostgres:
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(100)
		db.SetMaxIdleConns(10)
	}
	log.Info("connected to store", slog.String("driver", driver))
	return &Store{db: db, driver: driver, log: log}, nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "_pragma=") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

// RunMigrations applies the migrations found in dir, which must match the
// store's driver (migrations/postgres or migrations/sqlite).
func (s *Store) RunMigrations(dir string) error {
	var (
		driver database.Driver
		err    error
	)
	switch s.driver {
	case DriverPostgres:
		driver, err = postgres.WithInstance(s.db, &postgres.Config{MigrationsTable: "store_schema_migrations"})
	case DriverSQLite:
		driver, err = sqlite.WithInstance(s.db, &sqlite.Config{MigrationsTable: "store_schema_migrations"})
	}
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(fmt.Sprintf("file://%s", dir), s.driver, driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

// WithinTx runs fn in a database transaction, committing when fn returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.log.ErrorContext(ctx, "rollback failed", slog.String("error", rbErr.Error()))
			}
		}
	}()

	if err = fn(ctx, &tx{tx: sqlTx, driver: s.driver}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) Outbox() storage.OutboxReader {
	return outboxReader{db: s.db}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

type tx struct {
	tx     *sql.Tx
	driver string
}

func (t *tx) Carts() storage.CartRepository { return cartRepo{t} }
func (t *tx) Orders() storage.OrderRepository { return orderRepo{t} }
func (t *tx) Stock() storage.StockRepository { return stockRepo{t} }
func (t *tx) Events() storage.EventWriter { return eventWriter{t} }

// forUpdate locks selected rows until the transaction ends. SQLite has a
// single writer and no row locks.
func (t *tx) forUpdate() string {
	if t.driver == DriverPostgres {
		return " FOR UPDATE"
	}
	return ""
}
