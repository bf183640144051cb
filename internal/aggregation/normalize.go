// Package aggregation maintains the hourly, URL-pattern, session, and
// error-pattern summary tables by idempotent upsert over log_entries.
package aggregation

import (
	"regexp"
	"strings"
)

// normalizeRules is the canonical, ordered regex chain used everywhere a
// URL must be normalised — aggregation upserts and session reconstruction
// alike. No best-effort string-replace substitute is used anywhere else;
// this is the single source of truth.
var normalizeRules = []struct {
	pattern *regexp.Regexp
	replace string
}{
	{regexp.MustCompile(`/[0-9]+\b`), "/{id}"},
	{regexp.MustCompile(`(?i)/[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`), "/{uuid}"},
	{regexp.MustCompile(`(?i)/[0-9a-f]{24}\b`), "/{objectId}"},
	{regexp.MustCompile(`(?i)/[^/]+\.(jpg|jpeg|png|gif|svg|webp|pdf|doc|docx|xls|xlsx)\b`), "/{file}"},
	{regexp.MustCompile(`(?i)/[0-9a-f]{64}\b`), "/{sha256}"},
	{regexp.MustCompile(`(?i)/[0-9a-f]{40}\b`), "/{sha1}"},
	{regexp.MustCompile(`(?i)/[0-9a-f]{32}\b`), "/{hash}"},
}

// NormalizeURL strips the query string then applies the canonical chain
// in order: numeric id, UUID, 24-char hex objectId, file-extension
// suffix, then 64/40/32-char hex (sha256/sha1/generic hash).
func NormalizeURL(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	for _, rule := range normalizeRules {
		raw = rule.pattern.ReplaceAllString(raw, rule.replace)
	}
	return raw
}
