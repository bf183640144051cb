package storage

import "time"

// SortDirection controls ordering for Query and QueryPaginated.
type SortDirection int

const (
	SortAscending SortDirection = iota
	SortDescending
)

// CursorDirection controls which way QueryCursor walks from its cursor.
type CursorDirection int

const (
	CursorForward CursorDirection = iota
	CursorBackward
)

// FilterCriteria narrows a log_entries query. Zero values mean "no
// constraint" for that field.
type FilterCriteria struct {
	StartTime      time.Time
	EndTime        time.Time
	ClientIP       string
	DomainName     string
	RequestVerb    string
	URLPattern     string // SQL LIKE pattern, matched against request_url
	ELBStatusCodes []int
	MinStatusCode  int
	MaxStatusCode  int
	TargetGroupARN string
}

func (f FilterCriteria) clauses() ([]string, []any) {
	var where []string
	var args []any

	if !f.StartTime.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, f.StartTime)
	}
	if !f.EndTime.IsZero() {
		where = append(where, "timestamp < ?")
		args = append(args, f.EndTime)
	}
	if f.ClientIP != "" {
		where = append(where, "client_ip = ?")
		args = append(args, f.ClientIP)
	}
	if f.DomainName != "" {
		where = append(where, "domain_name = ?")
		args = append(args, f.DomainName)
	}
	if f.RequestVerb != "" {
		where = append(where, "request_verb = ?")
		args = append(args, f.RequestVerb)
	}
	if f.URLPattern != "" {
		where = append(where, "request_url LIKE ?")
		args = append(args, f.URLPattern)
	}
	if f.TargetGroupARN != "" {
		where = append(where, "target_group_arn = ?")
		args = append(args, f.TargetGroupARN)
	}
	if len(f.ELBStatusCodes) > 0 {
		placeholders := make([]string, len(f.ELBStatusCodes))
		for i, code := range f.ELBStatusCodes {
			placeholders[i] = "?"
			args = append(args, code)
		}
		where = append(where, "elb_status_code IN ("+join(placeholders, ",")+")")
	}
	if f.MinStatusCode > 0 {
		where = append(where, "elb_status_code >= ?")
		args = append(args, f.MinStatusCode)
	}
	if f.MaxStatusCode > 0 {
		where = append(where, "elb_status_code <= ?")
		args = append(args, f.MaxStatusCode)
	}
	return where, args
}

func join(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

// Safety caps enforced by every read path, per §7.
const (
	MaxQueryRows   = 50000
	MaxPageSize    = 1000
	MaxCursorLimit = 1000
)

// QueryOptions configures offset-based reads via Query.
type QueryOptions struct {
	Filter    FilterCriteria
	SortBy    string // column name; defaults to "timestamp"
	Direction SortDirection
	Limit     int
	Offset    int
	Timeout   time.Duration
}

func (o QueryOptions) sortColumn() string {
	if o.SortBy == "" {
		return "timestamp"
	}
	return o.SortBy
}

// effectiveLimit clamps Limit to MAX_QUERY_ROWS per safety limit #1 — Query
// itself is not paginated, so its cap is the wide one, not the page size.
func (o QueryOptions) effectiveLimit() int {
	if o.Limit <= 0 || o.Limit > MaxQueryRows {
		return MaxQueryRows
	}
	return o.Limit
}

// PageOptions configures page-based reads via QueryPaginated, clamped to
// MaxPageSize per safety limit #2.
type PageOptions struct {
	Filter    FilterCriteria
	SortBy    string
	Direction SortDirection
	Page      int
	PageSize  int
	Timeout   time.Duration
}

func (o PageOptions) sortColumn() string {
	if o.SortBy == "" {
		return "timestamp"
	}
	return o.SortBy
}

func (o PageOptions) effectivePage() int {
	if o.Page < 1 {
		return 1
	}
	return o.Page
}

func (o PageOptions) effectivePageSize() int {
	if o.PageSize <= 0 || o.PageSize > MaxPageSize {
		return MaxPageSize
	}
	return o.PageSize
}

// CursorOptions configures cursor-based pagination via QueryCursor. Cursor
// is the opaque "<timestamp>|<id>" token produced by a previous page; empty
// starts from the beginning (or end, for CursorBackward).
type CursorOptions struct {
	Filter    FilterCriteria
	Cursor    string
	Direction CursorDirection
	Limit     int
	Timeout   time.Duration
}

func (o CursorOptions) effectiveLimit() int {
	if o.Limit <= 0 || o.Limit > MaxCursorLimit {
		return MaxCursorLimit
	}
	return o.Limit
}
