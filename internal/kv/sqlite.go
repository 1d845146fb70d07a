package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mattn/go-sqlite3"

	"inkwell/internal/durable"
	"inkwell/internal/kv/migrations"
)

// SQLiteKV stores keys in a single SQLite table. A quota is enforced by the
// engine itself through max_page_count, and SQLITE_FULL is reported as
// durable.ErrQuotaExceeded.
type SQLiteKV struct {
	db       *sql.DB
	path     string
	quota    int64
	pageSize int64
}

var (
	_ durable.KV           = (*SQLiteKV)(nil)
	_ durable.Estimator    = (*SQLiteKV)(nil)
	_ durable.HealthProber = (*SQLiteKV)(nil)
)

// NewSQLiteKV opens (creating if needed) the database at path and brings its
// schema up to date. path can be ":memory:". quota <= 0 means the database
// may grow until the disk is full.
func NewSQLiteKV(path string, quota int64) (*SQLiteKV, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	s := &SQLiteKV{db: db, path: path, quota: quota}
	if err := db.QueryRow("PRAGMA page_size").Scan(&s.pageSize); err != nil {
		db.Close()
		return nil, fmt.Errorf("reading page size: %w", err)
	}
	if quota > 0 {
		pages := max(quota/s.pageSize, 1)
		if _, err := db.Exec("PRAGMA max_page_count = " + strconv.FormatInt(pages, 10)); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting max page count: %w", err)
		}
	}
	return s, nil
}

// OpenConnection opens and configures a SQLite connection. The pool is
// limited to one connection: connection-scoped pragmas such as
// max_page_count stay in force, and ":memory:" databases are not split
// across connections.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return db, nil
}

func (s *SQLiteKV) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading %q: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteKV) Set(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("writing %q: %w", key, mapSQLiteError(err))
	}
	return nil
}

func (s *SQLiteKV) Remove(key string) error {
	if _, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting %q: %w", key, mapSQLiteError(err))
	}
	return nil
}

func (s *SQLiteKV) Keys() ([]string, error) {
	rows, err := s.db.Query("SELECT key FROM kv ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scanning key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Estimate reports page accounting. Without a configured quota the capacity
// is the database size plus the free space on its volume.
func (s *SQLiteKV) Estimate(ctx context.Context) (durable.StorageEstimate, error) {
	var pages int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pages); err != nil {
		return durable.StorageEstimate{}, fmt.Errorf("reading page count: %w", err)
	}
	used := pages * s.pageSize
	if s.quota > 0 {
		return durable.StorageEstimate{Quota: s.quota, Usage: used}, nil
	}
	if s.path == ":memory:" {
		return durable.StorageEstimate{Usage: used}, nil
	}
	return diskEstimate(filepath.Dir(s.path), used)
}

// ProbeHealth creates, writes and deletes a throwaway database next to the
// real one, then checks that the real database's schema matches the
// embedded migrations.
func (s *SQLiteKV) ProbeHealth(ctx context.Context) error {
	probePath := ":memory:"
	if s.path != ":memory:" {
		probePath = filepath.Join(filepath.Dir(s.path),
			fmt.Sprintf(".inkwell-health-%d.db", time.Now().UnixNano()))
		defer os.Remove(probePath)
	}

	db, err := sql.Open("sqlite3", probePath)
	if err != nil {
		return fmt.Errorf("opening probe database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging probe database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE probe (v TEXT); INSERT INTO probe VALUES ('ok')"); err != nil {
		return fmt.Errorf("writing probe database: %w", err)
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	if err := migrations.CheckDBMigrationStatus(s.db); err != nil {
		return fmt.Errorf("checking schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteKV) Close() error {
	return s.db.Close()
}

// mapSQLiteError turns SQLITE_FULL into durable.ErrQuotaExceeded.
func mapSQLiteError(err error) error {
	var serr sqlite3.Error
	if errors.As(err, &serr) && serr.Code == sqlite3.ErrFull {
		return fmt.Errorf("%w: %v", durable.ErrQuotaExceeded, err)
	}
	return err
}
