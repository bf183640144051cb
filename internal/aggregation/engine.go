package aggregation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/albops/logengine/internal/storage"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Schedule names which cadence triggered a run, carried through only for
// logging/metrics labelling.
type Schedule string

const (
	ScheduleHourly   Schedule = "hourly"
	ScheduleDaily    Schedule = "daily"
	ScheduleRealtime Schedule = "realtime"
)

// RunResult summarizes one Run call across all four sub-tasks.
type RunResult struct {
	Processed     int64
	Updated       int64
	Errors        []error
	ProcessingMs  int64
}

// Engine maintains the hourly, URL-pattern, session, and error-pattern
// summary tables.
type Engine struct {
	store  *storage.Storage
	logger log.Logger
}

// New returns an Engine backed by store.
func New(store *storage.Storage, logger log.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// Run executes the four idempotent upsert sub-tasks over log_entries rows
// at or after since. A zero since makes every sub-task scan all of
// log_entries; no watermark is read from the summary tables.
func (e *Engine) Run(ctx context.Context, since time.Time, schedule Schedule) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{}

	tasks := []struct {
		name string
		fn   func(context.Context, time.Time) (int64, error)
	}{
		{"hourly", e.runHourly},
		{"url_pattern", e.runURLPattern},
		{"session", e.runSession},
		{"error_pattern", e.runErrorPattern},
	}

	for _, t := range tasks {
		n, err := t.fn(ctx, since)
		if err != nil {
			level.Error(e.logger).Log("msg", "aggregation sub-task failed", "task", t.name, "err", err)
			result.Errors = append(result.Errors, fmt.Errorf("%s: %w", t.name, err))
			continue
		}
		result.Updated += n
	}

	result.ProcessingMs = time.Since(start).Milliseconds()
	return result, nil
}

func (e *Engine) runHourly(ctx context.Context, since time.Time) (int64, error) {
	var updated int64
	err := e.store.WithConn(ctx, func(conn *sql.Conn) error {
		where := ""
		args := []any{}
		if !since.IsZero() {
			where = "WHERE timestamp >= ?"
			args = append(args, since)
		}
		query := fmt.Sprintf(`
			SELECT
				strftime('%%Y-%%m-%%dT%%H:00:00Z', timestamp) AS hour_ts,
				domain_name,
				COUNT(*),
				SUM(CASE WHEN elb_status_code >= 400 THEN 1 ELSE 0 END),
				AVG(request_processing_time),
				AVG(target_processing_time),
				AVG(response_processing_time),
				SUM(received_bytes),
				SUM(sent_bytes),
				COUNT(DISTINCT client_ip),
				SUM(CASE WHEN elb_status_code BETWEEN 200 AND 299 THEN 1 ELSE 0 END),
				SUM(CASE WHEN elb_status_code BETWEEN 300 AND 399 THEN 1 ELSE 0 END),
				SUM(CASE WHEN elb_status_code BETWEEN 400 AND 499 THEN 1 ELSE 0 END),
				SUM(CASE WHEN elb_status_code BETWEEN 500 AND 599 THEN 1 ELSE 0 END)
			FROM log_entries %s
			GROUP BY hour_ts, domain_name`, where)

		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		const upsert = `
			INSERT INTO hourly_summary (
				hour_timestamp, domain_name, request_count, error_count,
				avg_request_time, avg_target_time, avg_response_time,
				received_bytes, sent_bytes, unique_clients,
				status_2xx, status_3xx, status_4xx, status_5xx, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(hour_timestamp, domain_name) DO UPDATE SET
				request_count = excluded.request_count,
				error_count = excluded.error_count,
				avg_request_time = excluded.avg_request_time,
				avg_target_time = excluded.avg_target_time,
				avg_response_time = excluded.avg_response_time,
				received_bytes = excluded.received_bytes,
				sent_bytes = excluded.sent_bytes,
				unique_clients = excluded.unique_clients,
				status_2xx = excluded.status_2xx,
				status_3xx = excluded.status_3xx,
				status_4xx = excluded.status_4xx,
				status_5xx = excluded.status_5xx,
				updated_at = CURRENT_TIMESTAMP`

		var hourTS, domain string
		var reqCount, errCount, recvBytes, sentBytes, uniqueClients, s2, s3, s4, s5 int64
		var avgReq, avgTarget, avgResp float64
		for rows.Next() {
			if err := rows.Scan(&hourTS, &domain, &reqCount, &errCount, &avgReq, &avgTarget, &avgResp,
				&recvBytes, &sentBytes, &uniqueClients, &s2, &s3, &s4, &s5); err != nil {
				return err
			}
			if _, err := conn.ExecContext(ctx, upsert, hourTS, domain, reqCount, errCount,
				avgReq, avgTarget, avgResp, recvBytes, sentBytes, uniqueClients, s2, s3, s4, s5); err != nil {
				return err
			}
			updated++
		}
		return rows.Err()
	})
	return updated, err
}

// urlPatternGroup accumulates merged-by-normalized-URL totals across one or
// more raw request_url values that collapse to the same pattern.
type urlPatternGroup struct {
	domain, verb, normalized   string
	count, errCount            int64
	sumLatencyMs, maxLatencyMs float64
	recvBytes, sentBytes       int64
	firstSeen, lastSeen        time.Time
}

// runURLPattern groups by the raw request_url in SQL (cheap: collapses
// per-row data to one row per distinct URL), then re-keys by NormalizeURL
// in Go before applying the request-count threshold — grouping on the raw
// URL and thresholding there would make a parameterized URL that never
// repeats verbatim (e.g. /api/users/<id> hit with 1000 distinct ids) never
// reach the threshold, defeating normalization entirely.
func (e *Engine) runURLPattern(ctx context.Context, since time.Time) (int64, error) {
	var updated int64
	err := e.store.WithConn(ctx, func(conn *sql.Conn) error {
		where := ""
		args := []any{}
		if !since.IsZero() {
			where = "WHERE timestamp >= ?"
			args = append(args, since)
		}
		query := fmt.Sprintf(`
			SELECT request_url, domain_name, request_verb,
				COUNT(*) AS cnt,
				SUM(CASE WHEN elb_status_code >= 400 THEN 1 ELSE 0 END),
				SUM(request_processing_time + target_processing_time + response_processing_time) * 1000,
				MAX(request_processing_time + target_processing_time + response_processing_time) * 1000,
				SUM(received_bytes), SUM(sent_bytes), MIN(timestamp), MAX(timestamp)
			FROM log_entries %s
			GROUP BY request_url, domain_name, request_verb`, where)

		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		groups := make(map[string]*urlPatternGroup)
		var url, domain, verb string
		var cnt, errCount, recvBytes, sentBytes int64
		var sumLatency, maxLatency float64
		var firstSeen, lastSeen time.Time
		for rows.Next() {
			if err := rows.Scan(&url, &domain, &verb, &cnt, &errCount, &sumLatency, &maxLatency,
				&recvBytes, &sentBytes, &firstSeen, &lastSeen); err != nil {
				return err
			}
			normalized := NormalizeURL(url)
			key := normalized + "\x00" + domain + "\x00" + verb
			g, ok := groups[key]
			if !ok {
				g = &urlPatternGroup{domain: domain, verb: verb, normalized: normalized, firstSeen: firstSeen, lastSeen: lastSeen}
				groups[key] = g
			}
			g.count += cnt
			g.errCount += errCount
			g.sumLatencyMs += sumLatency
			if maxLatency > g.maxLatencyMs {
				g.maxLatencyMs = maxLatency
			}
			g.recvBytes += recvBytes
			g.sentBytes += sentBytes
			if firstSeen.Before(g.firstSeen) {
				g.firstSeen = firstSeen
			}
			if lastSeen.After(g.lastSeen) {
				g.lastSeen = lastSeen
			}
		}
		if err := rows.Err(); err != nil {
			return err
		}

		const upsert = `
			INSERT INTO url_pattern_summary (
				normalized_url, domain_name, request_verb, request_count, error_count,
				avg_latency_ms, max_latency_ms, received_bytes, sent_bytes,
				first_seen, last_seen, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(normalized_url, domain_name, request_verb) DO UPDATE SET
				request_count = excluded.request_count,
				error_count = excluded.error_count,
				avg_latency_ms = excluded.avg_latency_ms,
				max_latency_ms = MAX(max_latency_ms, excluded.max_latency_ms),
				received_bytes = excluded.received_bytes,
				sent_bytes = excluded.sent_bytes,
				last_seen = excluded.last_seen,
				updated_at = CURRENT_TIMESTAMP`

		for _, g := range groups {
			if g.count < 10 {
				continue
			}
			avgLatency := g.sumLatencyMs / float64(g.count)
			if _, err := conn.ExecContext(ctx, upsert, g.normalized, g.domain, g.verb, g.count, g.errCount,
				avgLatency, g.maxLatencyMs, g.recvBytes, g.sentBytes, g.firstSeen, g.lastSeen); err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	return updated, err
}

func (e *Engine) runSession(ctx context.Context, since time.Time) (int64, error) {
	var updated int64
	err := e.store.WithConn(ctx, func(conn *sql.Conn) error {
		where := ""
		args := []any{}
		if !since.IsZero() {
			where = "WHERE timestamp >= ?"
			args = append(args, since)
		}
		query := fmt.Sprintf(`
			SELECT client_ip, substr(user_agent, 1, 32) AS ua_bucket, date(timestamp) AS session_date,
				COUNT(*) AS total,
				COUNT(DISTINCT request_url),
				(julianday(MAX(timestamp)) - julianday(MIN(timestamp))) * 86400.0,
				CAST(SUM(CASE WHEN elb_status_code >= 400 THEN 1 ELSE 0 END) AS REAL) / COUNT(*)
			FROM log_entries %s
			GROUP BY client_ip, ua_bucket, session_date
			HAVING total >= 5`, where)

		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		const upsert = `
			INSERT INTO session_summary (
				client_ip, ua_bucket, session_date, total_requests, unique_urls,
				duration_secs, error_rate, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(client_ip, ua_bucket, session_date) DO UPDATE SET
				total_requests = excluded.total_requests,
				unique_urls = excluded.unique_urls,
				duration_secs = excluded.duration_secs,
				error_rate = excluded.error_rate,
				updated_at = CURRENT_TIMESTAMP`

		var ip, ua, date string
		var total, uniqueURLs int64
		var duration, errRate float64
		for rows.Next() {
			if err := rows.Scan(&ip, &ua, &date, &total, &uniqueURLs, &duration, &errRate); err != nil {
				return err
			}
			if _, err := conn.ExecContext(ctx, upsert, ip, ua, date, total, uniqueURLs, duration, errRate); err != nil {
				return err
			}
			updated++
		}
		return rows.Err()
	})
	return updated, err
}

// errorPatternGroup accumulates merged-by-normalized-URL totals across raw
// request_url values sharing the same (reason, elb_status, target_status).
type errorPatternGroup struct {
	reason                  string
	elbStatus, targetStatus int
	normalized              string
	count                   int64
	firstSeen, lastSeen     time.Time
}

// runErrorPattern groups by the raw request_url in SQL, then re-keys by
// NormalizeURL in Go before applying the occurrence threshold, for the
// same reason as runURLPattern: thresholding on the raw URL would miss
// repeated errors against a parameterized path.
func (e *Engine) runErrorPattern(ctx context.Context, since time.Time) (int64, error) {
	var updated int64
	err := e.store.WithConn(ctx, func(conn *sql.Conn) error {
		where := "WHERE elb_status_code >= 400"
		args := []any{}
		if !since.IsZero() {
			where += " AND timestamp >= ?"
			args = append(args, since)
		}
		query := fmt.Sprintf(`
			SELECT error_reason, elb_status_code, target_status_code, request_url,
				COUNT(*) AS cnt, MIN(timestamp), MAX(timestamp)
			FROM log_entries %s
			GROUP BY error_reason, elb_status_code, target_status_code, request_url`, where)

		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		groups := make(map[string]*errorPatternGroup)
		var reason, url string
		var elbStatus, targetStatus int
		var cnt int64
		var firstSeen, lastSeen time.Time
		for rows.Next() {
			if err := rows.Scan(&reason, &elbStatus, &targetStatus, &url, &cnt, &firstSeen, &lastSeen); err != nil {
				return err
			}
			normalized := NormalizeURL(url)
			key := fmt.Sprintf("%s\x00%d\x00%d\x00%s", reason, elbStatus, targetStatus, normalized)
			g, ok := groups[key]
			if !ok {
				g = &errorPatternGroup{reason: reason, elbStatus: elbStatus, targetStatus: targetStatus, normalized: normalized, firstSeen: firstSeen, lastSeen: lastSeen}
				groups[key] = g
			}
			g.count += cnt
			if firstSeen.Before(g.firstSeen) {
				g.firstSeen = firstSeen
			}
			if lastSeen.After(g.lastSeen) {
				g.lastSeen = lastSeen
			}
		}
		if err := rows.Err(); err != nil {
			return err
		}

		const upsert = `
			INSERT INTO error_pattern_summary (
				error_key, elb_status_code, target_status_code, error_reason, normalized_url,
				occurrence_count, first_seen, last_seen, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(error_key, elb_status_code, target_status_code, error_reason, normalized_url) DO UPDATE SET
				occurrence_count = excluded.occurrence_count,
				last_seen = excluded.last_seen,
				updated_at = CURRENT_TIMESTAMP`

		for _, g := range groups {
			if g.count < 5 {
				continue
			}
			errorKey := fmt.Sprintf("%sHTTP_%d", g.reason, g.elbStatus) // error_reason || "HTTP_" + status, SQL-style concatenation
			if _, err := conn.ExecContext(ctx, upsert, errorKey, g.elbStatus, g.targetStatus, g.reason, g.normalized,
				g.count, g.firstSeen, g.lastSeen); err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	return updated, err
}

// Cleanup deletes hourly rows older than olderThan and session rows whose
// session_date predates it, returning the total rows removed.
func (e *Engine) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	var total int64
	err := e.store.WithConn(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `DELETE FROM hourly_summary WHERE hour_timestamp < ?`, olderThan)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		total += n

		res, err = conn.ExecContext(ctx, `DELETE FROM session_summary WHERE session_date < ?`, olderThan)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		total += n
		return nil
	})
	return total, err
}

// Stats reports current row counts across the four summary tables.
type Stats struct {
	HourlyRows       int64
	URLPatternRows   int64
	SessionRows      int64
	ErrorPatternRows int64
}

func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	err := e.store.WithConn(ctx, func(conn *sql.Conn) error {
		counts := []struct {
			table string
			dst   *int64
		}{
			{"hourly_summary", &s.HourlyRows},
			{"url_pattern_summary", &s.URLPatternRows},
			{"session_summary", &s.SessionRows},
			{"error_pattern_summary", &s.ErrorPatternRows},
		}
		for _, c := range counts {
			if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dst); err != nil {
				return err
			}
		}
		return nil
	})
	return &s, err
}
