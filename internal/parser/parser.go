// Package parser turns one ALB access-log line into a logrecord.Record.
//
// Parse is a pure function: no I/O, no shared state, safe to call from any
// number of goroutines concurrently. It never panics — every malformed
// line comes back as a typed *Error instead, so Ingestion can decide
// skip-vs-abort without any control-flow transfer.
package parser

import (
	"strings"

	"github.com/albops/logengine/internal/logrecord"
)

// baseFieldCount is the number of positional fields common to both the v1
// and v2 ALB line formats, before any version-specific trailing fields.
const baseFieldCount = 29

// AcceptedVerb reports whether verb is one of the HTTP methods ALB logs.
func AcceptedVerb(verb string) bool {
	return logrecord.AcceptedVerbs[verb]
}

// Parse converts a single raw ALB access-log line into a Record, or
// returns a typed *Error describing why the line was rejected.
func Parse(line string) (*logrecord.Record, error) {
	if strings.TrimSpace(line) == "" {
		return nil, newError(KindFieldCount, "empty line")
	}

	tokens := tokenize(line)
	connectionID, err := classifyVersion(tokens)
	if err != nil {
		return nil, err
	}

	f := tokens[:baseFieldCount]
	rec := &logrecord.Record{ConnectionID: connectionID}

	// f[0] is the ALB log-entry "type" (http/https/h2/ws/wss/tls); it has
	// no home in logrecord.Record and is intentionally discarded here.
	// f[2] is the load balancer resource identifier, likewise discarded.

	ts, err := parseTimestamp(unquote(f[1]))
	if err != nil {
		return nil, err
	}
	rec.Timestamp = ts

	client, err := parseHostPort(unquoteAbsent(f[3]))
	if err != nil {
		return nil, err
	}
	rec.ClientIP, rec.ClientPort = client.Host, client.Port

	target, err := parseHostPort(unquoteAbsent(f[4]))
	if err != nil {
		return nil, err
	}
	rec.TargetIP, rec.TargetPort = target.Host, target.Port

	if rec.RequestProcessingTime, err = parseFloatField(f[5]); err != nil {
		return nil, err
	}
	if rec.TargetProcessingTime, err = parseFloatField(f[6]); err != nil {
		return nil, err
	}
	if rec.ResponseProcessingTime, err = parseFloatField(f[7]); err != nil {
		return nil, err
	}

	elbStatus, err := parseIntField(f[8], 32)
	if err != nil {
		return nil, err
	}
	rec.ELBStatusCode = int(elbStatus)

	targetStatus, err := parseIntField(f[9], 32)
	if err != nil {
		return nil, err
	}
	rec.TargetStatusCode = int(targetStatus)

	if rec.ReceivedBytes, err = parseUintField(f[10], 64); err != nil {
		return nil, err
	}
	if rec.SentBytes, err = parseUintField(f[11], 64); err != nil {
		return nil, err
	}

	req, err := parseHTTPRequest(unquote(f[12]))
	if err != nil {
		return nil, err
	}
	rec.RequestVerb, rec.RequestURL, rec.RequestProtocol = req.Verb, req.URL, req.Protocol

	if !isAbsent(f[13]) {
		rec.UserAgent = unquote(f[13])
	}
	if !isAbsent(f[14]) {
		rec.SSLCipher = f[14]
	}
	if !isAbsent(f[15]) {
		rec.SSLProtocol = f[15]
	}
	if !isAbsent(f[16]) {
		rec.TargetGroupARN = f[16]
	}
	if !isAbsent(f[17]) {
		rec.TraceID = unquote(f[17])
	}
	if !isAbsent(f[18]) {
		rec.DomainName = unquote(f[18])
	}
	if !isAbsent(f[19]) {
		rec.ChosenCertARN = unquote(f[19])
	}

	matchedRule, err := parseIntField(f[20], 32)
	if err != nil {
		return nil, err
	}
	rec.MatchedRulePriority = int32(matchedRule)

	creation, err := parseTimestamp(unquote(f[21]))
	if err != nil {
		return nil, err
	}
	rec.RequestCreationTime = creation

	if !isAbsent(f[22]) {
		rec.ActionsExecuted = unquote(f[22])
	}
	if !isAbsent(f[23]) {
		rec.RedirectURL = unquote(f[23])
	}
	if !isAbsent(f[24]) {
		rec.ErrorReason = unquote(f[24])
	}
	if !isAbsent(f[25]) {
		rec.TargetPortList = unquote(f[25])
	}
	if !isAbsent(f[26]) {
		rec.TargetStatusCodeList = unquote(f[26])
	}
	if !isAbsent(f[27]) {
		rec.Classification = unquote(f[27])
	}
	if !isAbsent(f[28]) {
		rec.ClassificationReason = unquote(f[28])
	}

	if !rec.Validate() {
		return nil, newError(KindValidation, "record failed field invariants: elb_status_code=%d target_status_code=%d verb=%q url=%q protocol=%q target_group_arn=%q trace_id=%q",
			rec.ELBStatusCode, rec.TargetStatusCode, rec.RequestVerb, rec.RequestURL, rec.RequestProtocol, rec.TargetGroupARN, rec.TraceID)
	}
	return rec, nil
}

// classifyVersion validates the overall token count against the two
// accepted ALB formats and returns the connection_id for v2 lines (empty
// for v1). v1 lines carry exactly 30 tokens (29 base fields plus one
// trailing reserved field); v2 lines carry 32 or more (29 base fields,
// any number of additional reserved fields, then two reserved strings and
// a connection_id as the final three tokens).
func classifyVersion(tokens []string) (string, error) {
	switch n := len(tokens); {
	case n == 30:
		return "", nil
	case n >= 32:
		connID := unquote(tokens[n-1])
		if !strings.HasPrefix(connID, "TID_") {
			return "", newError(KindFieldCount, "v2 connection_id %q does not start with TID_", connID)
		}
		return connID, nil
	default:
		return "", newError(KindFieldCount, "unexpected field count %d (want 30 or >=32)", n)
	}
}

// unquoteAbsent is unquote composed with the "-" absence convention,
// returning "" for either a bare `-` or a quoted `"-"`.
func unquoteAbsent(tok string) string {
	if isAbsent(tok) {
		return ""
	}
	return unquote(tok)
}

// ValidateFormat reports whether at least half of the non-blank sample
// lines parse successfully, used to sniff whether a file is really ALB
// access-log content before a full ingest is attempted.
func ValidateFormat(sampleLines []string) bool {
	var total, ok int
	for _, line := range sampleLines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		total++
		if _, err := Parse(line); err == nil {
			ok++
		}
	}
	if total == 0 {
		return false
	}
	return float64(ok)/float64(total) >= 0.5
}
