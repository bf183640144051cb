package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// IndexInfo describes one SQLite index as listed in sqlite_master.
// ListIndexes does not populate Unique, so it is always false.
type IndexInfo struct {
	Name   string
	Table  string
	Unique bool
}

// CreateIndex creates an index on table(columns) if it does not already exist.
func (s *Storage) CreateIndex(ctx context.Context, name, table string, columns []string) error {
	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(pc)

	cols := join(columns, ", ")
	query := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", name, table, cols)
	if _, err := pc.conn.ExecContext(ctx, query); err != nil {
		return queryErr(query, err)
	}
	return nil
}

// DropIndex drops a named index.
func (s *Storage) DropIndex(ctx context.Context, name string) error {
	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(pc)

	query := fmt.Sprintf("DROP INDEX IF EXISTS %s", name)
	if _, err := pc.conn.ExecContext(ctx, query); err != nil {
		return queryErr(query, err)
	}
	return nil
}

// ListIndexes enumerates every index defined on the log_entries and
// summary tables.
func (s *Storage) ListIndexes(ctx context.Context) ([]IndexInfo, error) {
	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(pc)

	const query = `SELECT name, tbl_name FROM sqlite_master WHERE type = 'index' AND sql IS NOT NULL ORDER BY tbl_name, name`
	rows, err := pc.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, queryErr(query, err)
	}
	defer rows.Close()

	var out []IndexInfo
	for rows.Next() {
		var info IndexInfo
		if err := rows.Scan(&info.Name, &info.Table); err != nil {
			return nil, queryErr(query, err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// OptimizeIndexes runs SQLite's query planner statistics refresh
// (ANALYZE), used after large ingests or aggregation runs.
func (s *Storage) OptimizeIndexes(ctx context.Context) error {
	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(pc)

	if _, err := pc.conn.ExecContext(ctx, "ANALYZE"); err != nil {
		return queryErr("ANALYZE", err)
	}
	return nil
}

// Vacuum reclaims disk space freed by DeleteOlderThan/ClearData. It
// requires sole use of the connection, so it borrows its own connection
// directly from the pool rather than sharing with concurrent readers.
func (s *Storage) Vacuum(ctx context.Context) error {
	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(pc)

	if _, err := pc.conn.ExecContext(ctx, "VACUUM"); err != nil {
		return queryErr("VACUUM", err)
	}
	return nil
}

// StorageStats summarizes the store for operational reporting.
type StorageStats struct {
	LogEntryCount   int64
	OldestTimestamp time.Time
	NewestTimestamp time.Time
	DatabaseBytes   int64
	Pool            Stats
}

// GetStats reports row counts, time range, database size, and pool
// occupancy.
func (s *Storage) GetStats(ctx context.Context) (*StorageStats, error) {
	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(pc)

	stats := &StorageStats{Pool: s.pool.Stats()}

	const countQuery = `SELECT COUNT(*), MIN(timestamp), MAX(timestamp) FROM log_entries`
	var minTS, maxTS *time.Time
	if err := pc.conn.QueryRowContext(ctx, countQuery).Scan(&stats.LogEntryCount, &minTS, &maxTS); err != nil {
		return nil, queryErr(countQuery, err)
	}
	if minTS != nil {
		stats.OldestTimestamp = *minTS
	}
	if maxTS != nil {
		stats.NewestTimestamp = *maxTS
	}

	const sizeQuery = `SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()`
	if err := pc.conn.QueryRowContext(ctx, sizeQuery).Scan(&stats.DatabaseBytes); err != nil {
		return nil, queryErr(sizeQuery, err)
	}

	return stats, nil
}

// ClearData truncates log_entries and every summary table. Used by tests
// and by operator-invoked resets; it is never called from the ingestion
// or aggregation paths.
func (s *Storage) ClearData(ctx context.Context) error {
	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(pc)

	tables := []string{
		"log_entries", "hourly_summary", "url_pattern_summary",
		"session_summary", "error_pattern_summary",
	}
	for _, t := range tables {
		query := "DELETE FROM " + t
		if _, err := pc.conn.ExecContext(ctx, query); err != nil {
			return queryErr(query, err)
		}
	}
	return nil
}

// DeleteOlderThan removes log_entries rows older than cutoff, returning the
// number of rows removed. The summary tables are left unchanged.
func (s *Storage) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Release(pc)

	const query = `DELETE FROM log_entries WHERE timestamp < ?`
	res, err := pc.conn.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, queryErr(query, err)
	}
	return res.RowsAffected()
}

// GetFileCountByPrefix reports how many download_batches rows have a
// batch_name beginning with prefix.
func (s *Storage) GetFileCountByPrefix(ctx context.Context, prefix string) (int, error) {
	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Release(pc)

	const query = `SELECT COUNT(*) FROM download_batches WHERE batch_name LIKE ?`
	var n int
	if err := pc.conn.QueryRowContext(ctx, query, prefix+"%").Scan(&n); err != nil {
		return 0, queryErr(query, err)
	}
	return n, nil
}

// GetLastDownloadTime reports download_completed_at of the most recently
// completed download batch, or the zero time if none exist.
func (s *Storage) GetLastDownloadTime(ctx context.Context) (time.Time, error) {
	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return time.Time{}, err
	}
	defer s.pool.Release(pc)

	const query = `SELECT download_completed_at FROM download_batches WHERE status = 'processed' ORDER BY download_completed_at DESC LIMIT 1`
	var ts *time.Time
	err = pc.conn.QueryRowContext(ctx, query).Scan(&ts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, queryErr(query, err)
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return *ts, nil
}
