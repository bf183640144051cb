package storage

import "time"

// LogRecordRow mirrors log_entries and is what Query/QueryPaginated/
// QueryCursor/QueryStream all scan into.
type LogRecordRow struct {
	ID                      int64     `db:"id"`
	Timestamp               time.Time `db:"timestamp"`
	ClientIP                string    `db:"client_ip"`
	ClientPort              int       `db:"client_port"`
	TargetIP                string    `db:"target_ip"`
	TargetPort              int       `db:"target_port"`
	RequestProcessingTime   float64   `db:"request_processing_time"`
	TargetProcessingTime    float64   `db:"target_processing_time"`
	ResponseProcessingTime  float64   `db:"response_processing_time"`
	ELBStatusCode           int       `db:"elb_status_code"`
	TargetStatusCode        int       `db:"target_status_code"`
	ReceivedBytes           int64     `db:"received_bytes"`
	SentBytes               int64     `db:"sent_bytes"`
	RequestVerb             string    `db:"request_verb"`
	RequestURL              string    `db:"request_url"`
	RequestProtocol         string    `db:"request_protocol"`
	UserAgent               string    `db:"user_agent"`
	SSLCipher               string    `db:"ssl_cipher"`
	SSLProtocol             string    `db:"ssl_protocol"`
	TargetGroupARN          string    `db:"target_group_arn"`
	TraceID                 string    `db:"trace_id"`
	DomainName              string    `db:"domain_name"`
	ChosenCertARN           string    `db:"chosen_cert_arn"`
	MatchedRulePriority     int       `db:"matched_rule_priority"`
	RequestCreationTime     time.Time `db:"request_creation_time"`
	ActionsExecuted         string    `db:"actions_executed"`
	RedirectURL             string    `db:"redirect_url"`
	ErrorReason             string    `db:"error_reason"`
	TargetPortList          string    `db:"target_port_list"`
	TargetStatusCodeList    string    `db:"target_status_code_list"`
	Classification          string    `db:"classification"`
	ClassificationReason    string    `db:"classification_reason"`
	ConnectionID            string    `db:"connection_id"`
	CreatedAt               time.Time `db:"created_at"`
}

// HourlyRow mirrors hourly_summary.
type HourlyRow struct {
	HourTimestamp   time.Time `db:"hour_timestamp"`
	DomainName      string    `db:"domain_name"`
	RequestCount    int64     `db:"request_count"`
	ErrorCount      int64     `db:"error_count"`
	AvgRequestTime  float64   `db:"avg_request_time"`
	AvgTargetTime   float64   `db:"avg_target_time"`
	AvgResponseTime float64   `db:"avg_response_time"`
	ReceivedBytes   int64     `db:"received_bytes"`
	SentBytes       int64     `db:"sent_bytes"`
	UniqueClients   int64     `db:"unique_clients"`
	Status2xx       int64     `db:"status_2xx"`
	Status3xx       int64     `db:"status_3xx"`
	Status4xx       int64     `db:"status_4xx"`
	Status5xx       int64     `db:"status_5xx"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// URLPatternRow mirrors url_pattern_summary.
type URLPatternRow struct {
	NormalizedURL string    `db:"normalized_url"`
	DomainName    string    `db:"domain_name"`
	RequestVerb   string    `db:"request_verb"`
	RequestCount  int64     `db:"request_count"`
	ErrorCount    int64     `db:"error_count"`
	AvgLatencyMs  float64   `db:"avg_latency_ms"`
	MaxLatencyMs  float64   `db:"max_latency_ms"`
	ReceivedBytes int64     `db:"received_bytes"`
	SentBytes     int64     `db:"sent_bytes"`
	FirstSeen     time.Time `db:"first_seen"`
	LastSeen      time.Time `db:"last_seen"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// SessionRow mirrors session_summary.
type SessionRow struct {
	ClientIP      string    `db:"client_ip"`
	UABucket      string    `db:"ua_bucket"`
	SessionDate   time.Time `db:"session_date"`
	TotalRequests int64     `db:"total_requests"`
	UniqueURLs    int64     `db:"unique_urls"`
	DurationSecs  float64   `db:"duration_secs"`
	ErrorRate     float64   `db:"error_rate"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// ErrorPatternRow mirrors error_pattern_summary.
type ErrorPatternRow struct {
	ErrorKey          string    `db:"error_key"`
	ELBStatusCode     int       `db:"elb_status_code"`
	TargetStatusCode  int       `db:"target_status_code"`
	ErrorReason       string    `db:"error_reason"`
	NormalizedURL     string    `db:"normalized_url"`
	OccurrenceCount   int64     `db:"occurrence_count"`
	FirstSeen         time.Time `db:"first_seen"`
	LastSeen          time.Time `db:"last_seen"`
	UpdatedAt         time.Time `db:"updated_at"`
}

// Page is the result of an offset-based or cursor-based page fetch.
// TotalCount/TotalPages/Page/PageSize are only populated by QueryPaginated;
// QueryCursor leaves them zero since cursor pagination has no total-count
// concept.
type Page struct {
	Rows       []LogRecordRow
	NextCursor string
	PrevCursor string
	HasMore    bool
	TotalCount int64
	TotalPages int
	Page       int
	PageSize   int
}
