package parser

import (
	"strconv"
	"strings"
	"time"
)

// parseFloatField parses a processing-time field. ALB emits the literal
// "-1" when a timing is not applicable (e.g. the connection never reached
// a target); the spec maps that to 0 rather than a negative duration.
func parseFloatField(tok string) (float64, error) {
	if isAbsent(tok) || tok == "-1" || tok == "-1.000" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, newError(KindNumeric, "invalid float %q: %v", tok, err)
	}
	if v == -1 {
		return 0, nil
	}
	return v, nil
}

func parseUintField(tok string, bits int) (uint64, error) {
	if isAbsent(tok) {
		return 0, nil
	}
	v, err := strconv.ParseUint(tok, 10, bits)
	if err != nil {
		return 0, newError(KindNumeric, "invalid unsigned integer %q: %v", tok, err)
	}
	return v, nil
}

func parseIntField(tok string, bits int) (int64, error) {
	if isAbsent(tok) {
		return 0, nil
	}
	v, err := strconv.ParseInt(tok, 10, bits)
	if err != nil {
		return 0, newError(KindNumeric, "invalid integer %q: %v", tok, err)
	}
	return v, nil
}

// parseTimestamp parses an ALB instant: RFC-3339 with optional subsecond
// precision.
func parseTimestamp(tok string) (time.Time, error) {
	if isAbsent(tok) {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, tok)
	if err != nil {
		return time.Time{}, newError(KindTimestamp, "invalid timestamp %q: %v", tok, err)
	}
	return t, nil
}

// hostPort is a parsed "host:port" or "[host]:port" field.
type hostPort struct {
	Host string
	Port uint16
}

// parseHostPort parses a client_ip:port or target_ip:port field. IPv6
// addresses must be bracketed ("[::1]:80"); a bare hyphen as the host is
// rejected rather than treated as absent (per the canonical resolution:
// only an empty/"-" whole field is absent, not a malformed host).
func parseHostPort(raw string) (hostPort, error) {
	if raw == "" {
		return hostPort{}, nil
	}

	var host, portStr string
	if strings.HasPrefix(raw, "[") {
		idx := strings.LastIndex(raw, "]:")
		if idx < 0 {
			return hostPort{}, newError(KindAddressPort, "missing port in bracketed address %q", raw)
		}
		host = raw[1:idx]
		portStr = raw[idx+2:]
	} else {
		idx := strings.LastIndex(raw, ":")
		if idx < 0 {
			return hostPort{}, newError(KindAddressPort, "missing ':' in address %q", raw)
		}
		host = raw[:idx]
		portStr = raw[idx+1:]
	}

	if host == "-" {
		return hostPort{}, newError(KindAddressPort, "bare '-' is not a valid host in %q", raw)
	}
	if host == "" {
		return hostPort{}, nil
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return hostPort{}, newError(KindAddressPort, "invalid port in %q: %v", raw, err)
	}
	return hostPort{Host: host, Port: uint16(port)}, nil
}

// httpRequest is the parsed contents of the quoted `"VERB url PROTOCOL"` field.
type httpRequest struct {
	Verb     string
	URL      string
	Protocol string
}

func parseHTTPRequest(raw string) (httpRequest, error) {
	parts := strings.Fields(raw)
	if len(parts) != 3 {
		return httpRequest{}, newError(KindHTTPRequest, "expected 3 tokens in request field, got %d: %q", len(parts), raw)
	}
	verb, url, protocol := parts[0], parts[1], parts[2]
	if !AcceptedVerb(verb) {
		return httpRequest{}, newError(KindHTTPRequest, "unrecognised HTTP verb %q", verb)
	}
	if !strings.HasPrefix(protocol, "HTTP/") {
		return httpRequest{}, newError(KindHTTPRequest, "protocol %q does not start with HTTP/", protocol)
	}
	return httpRequest{Verb: verb, URL: url, Protocol: protocol}, nil
}
