// Package logrecord defines the canonical ALB access-log record and the
// invariants every successfully parsed and stored record must satisfy.
package logrecord

import "time"

// Record is a single ALB request, normalised from a raw access-log line.
type Record struct {
	ID        uint64    `db:"id"`
	Timestamp time.Time `db:"timestamp"`
	CreatedAt time.Time `db:"created_at"`

	ClientIP   string `db:"client_ip"`
	ClientPort uint16 `db:"client_port"`
	TargetIP   string `db:"target_ip"`
	TargetPort uint16 `db:"target_port"`

	RequestProcessingTime  float64 `db:"request_processing_time"`
	TargetProcessingTime   float64 `db:"target_processing_time"`
	ResponseProcessingTime float64 `db:"response_processing_time"`

	ELBStatusCode    int `db:"elb_status_code"`
	TargetStatusCode int `db:"target_status_code"`

	ReceivedBytes uint64 `db:"received_bytes"`
	SentBytes     uint64 `db:"sent_bytes"`

	RequestVerb     string `db:"request_verb"`
	RequestURL      string `db:"request_url"`
	RequestProtocol string `db:"request_protocol"`

	UserAgent   string `db:"user_agent"`
	SSLCipher   string `db:"ssl_cipher"`
	SSLProtocol string `db:"ssl_protocol"`

	TargetGroupARN string `db:"target_group_arn"`
	TraceID        string `db:"trace_id"`
	DomainName     string `db:"domain_name"`
	ChosenCertARN  string `db:"chosen_cert_arn"`

	MatchedRulePriority int32     `db:"matched_rule_priority"`
	RequestCreationTime time.Time `db:"request_creation_time"`

	ActionsExecuted string `db:"actions_executed"`
	RedirectURL     string `db:"redirect_url"`
	ErrorReason     string `db:"error_reason"`

	TargetPortList       string `db:"target_port_list"`
	TargetStatusCodeList string `db:"target_status_code_list"`

	Classification       string `db:"classification"`
	ClassificationReason string `db:"classification_reason"`

	ConnectionID string `db:"connection_id"`
}

// AcceptedVerbs is the set of HTTP methods ALB can log.
var AcceptedVerbs = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"HEAD": true, "OPTIONS": true, "PATCH": true, "TRACE": true, "CONNECT": true,
}

// Validate reports whether r satisfies every hard invariant from the spec:
// a valid timestamp, an in-range elb_status_code, a non-negative
// target_status_code, non-empty verb/url/protocol, and non-empty
// target_group_arn/trace_id.
func (r *Record) Validate() bool {
	if r.Timestamp.IsZero() {
		return false
	}
	if r.ELBStatusCode < 100 || r.ELBStatusCode > 599 {
		return false
	}
	if r.TargetStatusCode < 0 {
		return false
	}
	if r.RequestVerb == "" || r.RequestURL == "" || r.RequestProtocol == "" {
		return false
	}
	if r.TargetGroupARN == "" || r.TraceID == "" {
		return false
	}
	return true
}
