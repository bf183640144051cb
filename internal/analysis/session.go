package analysis

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/albops/logengine/internal/aggregation"
	"github.com/albops/logengine/internal/storage"
)

// sessionTokenPatterns are tried in order, case-insensitively, against the
// raw request URL to extract a session-identifying token.
var sessionTokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)[?&]jsessionid=([^&]+)`),
	regexp.MustCompile(`(?i)[?&]sessionid=([^&]+)`),
	regexp.MustCompile(`(?i)[?&]sid=([^&]+)`),
	regexp.MustCompile(`(?i)[?&]session=([^&]+)`),
	regexp.MustCompile(`(?i);jsessionid=([^;&]+)`),
	regexp.MustCompile(`(?i)/sessions?/([a-zA-Z0-9_-]+)`),
}

func extractSessionToken(url string) string {
	for _, re := range sessionTokenPatterns {
		if m := re.FindStringSubmatch(url); len(m) == 2 {
			return m[1]
		}
	}
	return ""
}

// SessionOptions configures ReconstructSessions.
type SessionOptions struct {
	MaxInactivity         time.Duration
	MinRequestsPerSession int
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.MaxInactivity <= 0 {
		o.MaxInactivity = 30 * time.Minute
	}
	if o.MinRequestsPerSession <= 0 {
		o.MinRequestsPerSession = 1
	}
	return o
}

// ReconstructSessions groups rows by client_ip, sorts by timestamp, and
// splits into sessions on an inactivity gap or a session-token change.
func ReconstructSessions(rows []storage.LogRecordRow, opts SessionOptions) []Session {
	opts = opts.withDefaults()

	byIP := make(map[string][]storage.LogRecordRow)
	for _, r := range rows {
		byIP[r.ClientIP] = append(byIP[r.ClientIP], r)
	}

	var sessions []Session
	for ip, reqs := range byIP {
		sort.Slice(reqs, func(i, j int) bool { return reqs[i].Timestamp.Before(reqs[j].Timestamp) })

		var current *Session
		var currentToken string

		flush := func() {
			if current == nil {
				return
			}
			if len(current.Requests) >= opts.MinRequestsPerSession {
				current.Duration = current.End.Sub(current.Start)
				current.SessionID = fmt.Sprintf("%s-%d", current.ClientIP, current.Start.UnixNano())
				sessions = append(sessions, *current)
			}
			current = nil
		}

		for _, r := range reqs {
			token := extractSessionToken(r.RequestURL)
			newSession := current == nil ||
				r.Timestamp.Sub(current.End) > opts.MaxInactivity ||
				(token != "" && currentToken != "" && token != currentToken)

			if newSession {
				flush()
				current = &Session{ClientIP: ip, Start: r.Timestamp, SessionToken: token}
				currentToken = token
			}
			if token != "" {
				currentToken = token
			}

			responseTime := (r.RequestProcessingTime + r.TargetProcessingTime + r.ResponseProcessingTime) * 1000
			current.Requests = append(current.Requests, SessionRequest{
				Timestamp:     r.Timestamp,
				Endpoint:      aggregation.NormalizeURL(r.RequestURL),
				Verb:          r.RequestVerb,
				Status:        r.ELBStatusCode,
				ResponseTime:  responseTime,
				UserAgent:     r.UserAgent,
				ReceivedBytes: r.ReceivedBytes,
				SentBytes:     r.SentBytes,
			})
			current.End = r.Timestamp
			current.TotalBytes += r.ReceivedBytes + r.SentBytes
			if r.ELBStatusCode >= 400 {
				current.ErrorCount++
			}
		}
		flush()
	}

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Start.Before(sessions[j].Start) })
	return sessions
}

// CategorizeUserAgent buckets a user-agent string by substring rules.
func CategorizeUserAgent(ua string) UserAgentCategory {
	lower := strings.ToLower(ua)
	switch {
	case strings.Contains(lower, "bot") || strings.Contains(lower, "crawler") || strings.Contains(lower, "spider"):
		return CategoryBot
	case strings.Contains(lower, "mobile") || strings.Contains(lower, "android") || strings.Contains(lower, "iphone"):
		return CategoryMobile
	case strings.Contains(lower, "mozilla") || strings.Contains(lower, "chrome") || strings.Contains(lower, "safari") || strings.Contains(lower, "firefox"):
		return CategoryDesktop
	default:
		return CategoryOther
	}
}
