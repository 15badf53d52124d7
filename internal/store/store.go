// Package store persists call logs, live call status and per-turn
// transcripts in SQLite or Postgres.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// timeLayout sorts lexically for UTC values.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

//go:embed migrations
var migrationsFS embed.FS

// ErrUnknownDriver is returned by Open for drivers other than sqlite and
// postgres.
var ErrUnknownDriver = errors.New("store: unknown driver")

// Store wraps a database connection with migration support.
type Store struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

// Open connects to the database and applies pending migrations. For sqlite
// the DSN is a file path; use ":memory:" in tests.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		db      *sql.DB
		dialect goose.Dialect
		err     error
	)
	switch driver {
	case DriverSQLite:
		db, err = openSQLite(dsn)
		dialect = goose.DialectSQLite3
	case DriverPostgres:
		db, err = sql.Open("pgx", dsn)
		dialect = goose.DialectPostgres
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s: %w", driver, err)
	}

	s := &Store{db: db, driver: driver, logger: logger.With(slog.String("component", "store"))}
	if err := s.migrate(ctx, dialect); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	s.logger.Info("Database opened", slog.String("driver", driver))
	return s, nil
}

func openSQLite(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	return db, nil
}

func (s *Store) migrate(ctx context.Context, dialect goose.Dialect) error {
	dir, err := fs.Sub(migrationsFS, "migrations/"+s.driver)
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(dialect, s.db, dir)
	if err != nil {
		return err
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return err
	}
	for _, r := range results {
		s.logger.Info("Applied migration",
			slog.String("source", r.Source.Path),
			slog.Duration("took", r.Duration))
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites "?" placeholders for drivers that number them.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
