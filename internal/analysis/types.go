// Package analysis implements the adaptive workflow analysis orchestrator:
// strategy selection between full/aggregated/streaming-sampled paths,
// session reconstruction, contiguous-subsequence pattern discovery, and
// insight generation.
package analysis

import "time"

// SessionRequest is one request within a reconstructed Session.
type SessionRequest struct {
	Timestamp     time.Time
	Endpoint      string // normalized
	Verb          string
	Status        int
	ResponseTime  float64 // ms; sum of the three ALB processing times
	UserAgent     string
	ReceivedBytes int64
	SentBytes     int64
}

// Session is a reconstructed sequence of requests from one client.
type Session struct {
	SessionID    string
	ClientIP     string
	Requests     []SessionRequest
	Start        time.Time
	End          time.Time
	Duration     time.Duration
	ErrorCount   int
	TotalBytes   int64
	SessionToken string
}

// UserAgentCategory buckets sessions by coarse client type.
type UserAgentCategory string

const (
	CategoryMobile  UserAgentCategory = "mobile"
	CategoryBot     UserAgentCategory = "bot"
	CategoryDesktop UserAgentCategory = "desktop"
	CategoryOther   UserAgentCategory = "other"
)

// WorkflowPattern is a discovered contiguous subsequence of endpoints.
type WorkflowPattern struct {
	ID                string
	Steps             []string // normalized endpoints, in order
	Frequency         int
	SupportSessions   int
	AvgDurationMs     float64
	SuccessRate       float64
	UserAgentBuckets  map[UserAgentCategory]int
}

// TransitionMatrix maps each endpoint to its next-endpoint probabilities
// and average inter-request time.
type TransitionMatrix struct {
	Transitions map[string]map[string]float64
	AvgGapMs    map[string]map[string]float64
}

// DropOffPoint describes an endpoint sessions frequently exit from.
type DropOffPoint struct {
	Endpoint       string
	Occurrences    int
	DropOffRate    float64
	AvgTimeSpentMs float64
	Continuation   map[string]float64
}

// Insight is one human-readable finding surfaced in a WorkflowSummary.
type Insight struct {
	Kind     string // high_drop_off | common_pattern | error_prone_path | long_session
	Message  string
	Severity string // low | medium | high
	Patterns []string
}

// Funnel is a conversion funnel built from a top pattern.
type Funnel struct {
	Name            string
	Steps           []string
	ConversionRate  float64
}

// WorkflowSummary aggregates the findings of one analysis run.
type WorkflowSummary struct {
	TotalSessions    int
	EntryEndpoints   []string
	ExitEndpoints    []string
	DropOffPoints    []DropOffPoint
	Insights         []Insight
	Funnels          []Funnel
	SamplingApplied  bool
	SamplingRate     float64
}

// WorkflowAnalysis is the in-memory-only result of pattern discovery plus
// the transition matrix.
type WorkflowAnalysis struct {
	Patterns   []WorkflowPattern
	Transition TransitionMatrix
}

// Result is the full payload returned by Analyze.
type Result struct {
	Sessions       []Session
	Analysis       WorkflowAnalysis
	Summary        WorkflowSummary
	ProcessingMs   int64
	Timestamp      time.Time
	AppliedFilters Filter
	Partial        bool
}

// Filter narrows the log_entries rows an Analyze call reads. Start, End and
// StatusCodes are applied to the query; ClientIPs and DomainNames are
// applied only when they hold exactly one value. Endpoints,
// ExcludeEndpoints and UserAgentExclude are part of the cache key and are
// echoed in Result.AppliedFilters, but are not applied to the rows.
type Filter struct {
	Start, End       time.Time
	Endpoints        []string // exact endpoints; not applied to rows
	ExcludeEndpoints []string
	StatusCodes      []int
	ClientIPs        []string
	DomainNames      []string
	UserAgentExclude []string // case-insensitive substrings; not applied to rows
}
