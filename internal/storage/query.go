package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 30 * time.Second
	}
	return context.WithTimeout(ctx, d)
}

// Query runs an offset-paginated read over log_entries.
func (s *Storage) Query(ctx context.Context, opts QueryOptions) ([]LogRecordRow, error) {
	cctx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()

	pc, err := s.pool.Acquire(cctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(pc)

	where, args := opts.Filter.clauses()
	query := "SELECT * FROM log_entries"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	dir := "ASC"
	if opts.Direction == SortDescending {
		dir = "DESC"
	}
	limit := opts.effectiveLimit()
	query += fmt.Sprintf(" ORDER BY %s %s LIMIT ? OFFSET ?", opts.sortColumn(), dir)
	args = append(args, limit, opts.Offset)

	rows, err := pc.conn.QueryContext(cctx, query, args...)
	if err != nil {
		if cctx.Err() != nil {
			return nil, timeoutErr()
		}
		return nil, queryErr(query, err)
	}
	defer rows.Close()

	var out []LogRecordRow
	for rows.Next() {
		var r LogRecordRow
		if err := sqlx.StructScan(rows, &r); err != nil {
			return nil, queryErr(query, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, queryErr(query, err)
	}
	return out, nil
}

// QueryPaginated runs a page/page_size read over log_entries, reporting
// TotalCount/TotalPages from a COUNT(*) alongside the page of rows.
func (s *Storage) QueryPaginated(ctx context.Context, opts PageOptions) (*Page, error) {
	cctx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()

	pc, err := s.pool.Acquire(cctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(pc)

	page := opts.effectivePage()
	pageSize := opts.effectivePageSize()
	offset := (page - 1) * pageSize

	where, countArgs := opts.Filter.clauses()
	countQuery := "SELECT COUNT(*) FROM log_entries"
	if len(where) > 0 {
		countQuery += " WHERE " + strings.Join(where, " AND ")
	}
	var total int64
	if err := pc.conn.QueryRowContext(cctx, countQuery, countArgs...).Scan(&total); err != nil {
		if cctx.Err() != nil {
			return nil, timeoutErr()
		}
		return nil, queryErr(countQuery, err)
	}

	where, args := opts.Filter.clauses()
	dir := "ASC"
	if opts.Direction == SortDescending {
		dir = "DESC"
	}
	query := "SELECT * FROM log_entries"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY %s %s LIMIT ? OFFSET ?", opts.sortColumn(), dir)
	args = append(args, pageSize, offset)

	rows, err := pc.conn.QueryContext(cctx, query, args...)
	if err != nil {
		if cctx.Err() != nil {
			return nil, timeoutErr()
		}
		return nil, queryErr(query, err)
	}
	defer rows.Close()

	var out []LogRecordRow
	for rows.Next() {
		var r LogRecordRow
		if err := sqlx.StructScan(rows, &r); err != nil {
			return nil, queryErr(query, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, queryErr(query, err)
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return &Page{
		Rows:       out,
		TotalCount: total,
		TotalPages: totalPages,
		Page:       page,
		PageSize:   pageSize,
		HasMore:    page < totalPages,
	}, nil
}

// encodeCursor/decodeCursor implement the opaque "<timestamp>|<id>" token.
func encodeCursor(ts time.Time, id int64) string {
	return ts.UTC().Format(time.RFC3339Nano) + "|" + strconv.FormatInt(id, 10)
}

func decodeCursor(cursor string) (time.Time, int64, error) {
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 {
		return time.Time{}, 0, fmt.Errorf("malformed cursor %q", cursor)
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("malformed cursor timestamp: %w", err)
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("malformed cursor id: %w", err)
	}
	return ts, id, nil
}

// QueryCursor walks log_entries using strict-inequality (timestamp, id)
// comparisons against an opaque cursor, in either direction.
func (s *Storage) QueryCursor(ctx context.Context, opts CursorOptions) (*Page, error) {
	cctx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()

	pc, err := s.pool.Acquire(cctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(pc)

	where, args := opts.Filter.clauses()

	var cursorTS time.Time
	var cursorID int64
	hasCursor := opts.Cursor != ""
	if hasCursor {
		cursorTS, cursorID, err = decodeCursor(opts.Cursor)
		if err != nil {
			return nil, cursorErr(err)
		}
	}

	forward := opts.Direction == CursorForward
	cmp := ">"
	orderDir := "ASC"
	if !forward {
		cmp = "<"
		orderDir = "DESC"
	}

	if hasCursor {
		where = append(where, fmt.Sprintf("(timestamp, id) %s (?, ?)", cmp))
		args = append(args, cursorTS, cursorID)
	}

	limit := opts.effectiveLimit()
	query := "SELECT * FROM log_entries"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY timestamp %s, id %s LIMIT ?", orderDir, orderDir)
	args = append(args, limit+1)

	rows, err := pc.conn.QueryContext(cctx, query, args...)
	if err != nil {
		if cctx.Err() != nil {
			return nil, timeoutErr()
		}
		return nil, queryErr(query, err)
	}
	defer rows.Close()

	var out []LogRecordRow
	for rows.Next() {
		var r LogRecordRow
		if err := sqlx.StructScan(rows, &r); err != nil {
			return nil, queryErr(query, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, queryErr(query, err)
	}

	page := &Page{}
	if len(out) > limit {
		page.HasMore = true
		out = out[:limit]
	}
	if !forward {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	page.Rows = out
	if len(out) > 0 {
		first, last := out[0], out[len(out)-1]
		page.PrevCursor = encodeCursor(first.Timestamp, first.ID)
		page.NextCursor = encodeCursor(last.Timestamp, last.ID)
	}
	return page, nil
}

// StreamHandler receives one row at a time from QueryStream.
type StreamHandler func(LogRecordRow) error

// QueryStream repeatedly issues LIMIT batch_size OFFSET k*batch_size reads
// against log_entries and invokes handle once per row, so the caller can
// scan arbitrarily many rows — far beyond MaxQueryRows — without
// materializing the full result set. The loop ends when a batch comes back
// shorter than batchSize.
func (s *Storage) QueryStream(ctx context.Context, filter FilterCriteria, batchSize int, handle StreamHandler) error {
	if batchSize <= 0 {
		batchSize = 5000
	}

	where, args := filter.clauses()
	base := "SELECT * FROM log_entries"
	if len(where) > 0 {
		base += " WHERE " + strings.Join(where, " AND ")
	}
	base += " ORDER BY timestamp ASC, id ASC LIMIT ? OFFSET ?"

	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := s.queryStreamBatch(ctx, base, args, batchSize, offset, handle)
		if err != nil {
			return err
		}
		offset += n
		if n < batchSize {
			return nil
		}
	}
}

// queryStreamBatch fetches one LIMIT/OFFSET page under its own pooled
// connection and returns the number of rows handled.
func (s *Storage) queryStreamBatch(ctx context.Context, base string, filterArgs []any, batchSize, offset int, handle StreamHandler) (int, error) {
	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Release(pc)

	args := append(append([]any{}, filterArgs...), batchSize, offset)
	rows, err := pc.conn.QueryContext(ctx, base, args...)
	if err != nil {
		return 0, queryErr(base, err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var r LogRecordRow
		if err := sqlx.StructScan(rows, &r); err != nil {
			return n, queryErr(base, err)
		}
		if err := handle(r); err != nil {
			return n, err
		}
		n++
	}
	return n, rows.Err()
}

// Count returns the number of log_entries rows matching filter.
func (s *Storage) Count(ctx context.Context, filter FilterCriteria) (int64, error) {
	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Release(pc)

	where, args := filter.clauses()
	query := "SELECT COUNT(*) FROM log_entries"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	var n int64
	if err := pc.conn.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, queryErr(query, err)
	}
	return n, nil
}

// QueryAggregated reads from hourly_summary for the given time range and
// domain. The analysis package's "aggregated" strategy does not call it.
func (s *Storage) QueryAggregated(ctx context.Context, start, end time.Time, domain string) ([]HourlyRow, error) {
	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(pc)

	query := "SELECT * FROM hourly_summary WHERE hour_timestamp >= ? AND hour_timestamp < ?"
	args := []any{start, end}
	if domain != "" {
		query += " AND domain_name = ?"
		args = append(args, domain)
	}
	query += " ORDER BY hour_timestamp ASC"

	rows, err := pc.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, queryErr(query, err)
	}
	defer rows.Close()

	var out []HourlyRow
	for rows.Next() {
		var r HourlyRow
		if err := sqlx.StructScan(rows, &r); err != nil {
			return nil, queryErr(query, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
