// Package storage implements the embedded SQLite-backed log store: schema
// migrations, the bounded connection pool, batch ingestion, filtered and
// cursor-based reads, and index/vacuum maintenance.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-kit/log"
	_ "modernc.org/sqlite"
)

// Config configures a Storage instance.
type Config struct {
	// Path is the SQLite database file path. Use ":memory:" for an
	// in-process store (tests, short-lived tooling).
	Path string
	Pool PoolConfig
}

// Storage is the top-level handle the rest of the system uses to read and
// write ALB log records and their derived summaries.
type Storage struct {
	pool   *Pool
	logger log.Logger
}

// Open runs pending migrations and returns a ready Storage backed by a
// freshly primed connection pool.
func Open(ctx context.Context, cfg Config, logger log.Logger) (*Storage, error) {
	if cfg.Path == "" {
		return nil, connErr(fmt.Errorf("storage: empty database path"))
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, connErr(err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, connErr(err)
	}

	pool, err := NewPool(ctx, db, cfg.Pool, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Storage{pool: pool, logger: logger}, nil
}

// Close releases every pooled connection and closes the database.
func (s *Storage) Close() error {
	return s.pool.Close()
}

// PoolStats exposes current pool occupancy for metrics reporting.
func (s *Storage) PoolStats() Stats {
	return s.pool.Stats()
}

// WithConn acquires a pooled connection, hands it to fn, and releases it
// afterwards. It is the escape hatch used by the aggregation engine, which
// needs GROUP BY/upsert statements beyond Storage's own query surface but
// must still go through the same pool accounting and connection tuning.
func (s *Storage) WithConn(ctx context.Context, fn func(*sql.Conn) error) error {
	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(pc)
	return fn(pc.conn)
}
