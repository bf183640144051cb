package parser

import "fmt"

// Kind classifies why a log line failed to parse.
type Kind int

const (
	// KindFieldCount means the line did not tokenize into 30 (v1) or 32+ (v2) fields.
	KindFieldCount Kind = iota
	// KindNumeric means an integer or float field failed strict parsing.
	KindNumeric
	// KindTimestamp means the timestamp field was not valid RFC-3339.
	KindTimestamp
	// KindAddressPort means a host:port field (client or target) was malformed.
	KindAddressPort
	// KindHTTPRequest means the quoted request field did not split into verb/url/protocol.
	KindHTTPRequest
	// KindValidation means every field tokenized and parsed but the record failed
	// a cross-field invariant (e.g. elb_status_code out of range).
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindFieldCount:
		return "FieldCount"
	case KindNumeric:
		return "Numeric"
	case KindTimestamp:
		return "Timestamp"
	case KindAddressPort:
		return "AddressPort"
	case KindHTTPRequest:
		return "HttpRequest"
	case KindValidation:
		return "Validation"
	default:
		return "Unknown"
	}
}

// Error is returned by Parse for any line that cannot be turned into a
// valid Record. It is a value, never a panic: Ingestion inspects Kind to
// decide whether to skip the line or abort.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
