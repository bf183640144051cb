package parser

import (
	"strings"
	"testing"
	"time"
)

const v1Tail = ` "-"`                  // one trailing reserved field for a v1 (30-token) line
const v2Tail = ` "-" "-" TID_abc12345` // two reserved fields + connection_id for a v2 line

func baseLine() string {
	return `h2 2023-12-01T10:30:45.123456Z app/my-lb/50dc6c495c0c9188 203.0.113.12:54321 10.0.1.50:8080 ` +
		`0.001 0.045 0.002 200 200 1024 2048 ` +
		`"GET https://api.example.com/v1/users/123 HTTP/1.1" "curl/7.46.0" ` +
		`ECDHE-RSA-AES128-GCM-SHA256 TLSv1.2 ` +
		`arn:aws:elasticloadbalancing:us-east-2:123456789012:targetgroup/my-targets/73e2d6bc24d8a067 ` +
		`"Root=1-58337262-36d228ad5d99923122bbe354" "api.example.com" "-" 0 ` +
		`2023-12-01T10:30:44.900000Z "forward" "-" "-" "10.0.1.50:8080" "200" "-" "-"`
}

func TestParse_V2HappyPath(t *testing.T) {
	line := baseLine() + v2Tail
	rec, err := Parse(line)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if rec.RequestVerb != "GET" {
		t.Errorf("RequestVerb = %q, want GET", rec.RequestVerb)
	}
	if rec.RequestURL != "https://api.example.com/v1/users/123" {
		t.Errorf("RequestURL = %q", rec.RequestURL)
	}
	if rec.ELBStatusCode != 200 || rec.TargetStatusCode != 200 {
		t.Errorf("status codes = %d/%d, want 200/200", rec.ELBStatusCode, rec.TargetStatusCode)
	}
	if rec.ClientIP != "203.0.113.12" || rec.ClientPort != 54321 {
		t.Errorf("client = %s:%d", rec.ClientIP, rec.ClientPort)
	}
	if rec.TargetIP != "10.0.1.50" || rec.TargetPort != 8080 {
		t.Errorf("target = %s:%d", rec.TargetIP, rec.TargetPort)
	}
	if rec.ConnectionID != "TID_abc12345" {
		t.Errorf("ConnectionID = %q, want TID_abc12345", rec.ConnectionID)
	}
	wantTS := time.Date(2023, time.December, 1, 10, 30, 45, 123456000, time.UTC)
	if !rec.Timestamp.Equal(wantTS) {
		t.Errorf("Timestamp = %v, want %v", rec.Timestamp, wantTS)
	}
	if !rec.Validate() {
		t.Errorf("Validate() = false for a valid record")
	}
}

func TestParse_V1NoConnectionID(t *testing.T) {
	line := baseLine() + v1Tail
	rec, err := Parse(line)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if rec.ConnectionID != "" {
		t.Errorf("ConnectionID = %q, want empty for v1", rec.ConnectionID)
	}
}

func TestParse_BadStatusCode(t *testing.T) {
	line := strings.Replace(baseLine(), " 200 200 ", " 999 200 ", 1) + v2Tail
	_, err := Parse(line)
	if err == nil {
		t.Fatal("Parse() expected error for out-of-range elb_status_code")
	}
	perr, ok := err.(*Error)
	if !ok || perr.Kind != KindValidation {
		t.Errorf("err = %v, want KindValidation", err)
	}
}

func TestParse_BadTimestamp(t *testing.T) {
	line := strings.Replace(baseLine(), "2023-12-01T10:30:45.123456Z", "2023-99-99T10:30:45.123456Z", 1) + v2Tail
	_, err := Parse(line)
	if err == nil {
		t.Fatal("Parse() expected error for invalid timestamp")
	}
	perr, ok := err.(*Error)
	if !ok || perr.Kind != KindTimestamp {
		t.Errorf("err = %v, want KindTimestamp", err)
	}
}

func TestParse_EmptyLine(t *testing.T) {
	for _, line := range []string{"", "   ", "\t"} {
		if _, err := Parse(line); err == nil {
			t.Errorf("Parse(%q) expected error", line)
		}
	}
}

func TestParse_WrongFieldCount(t *testing.T) {
	line := "only a few fields here"
	_, err := Parse(line)
	if err == nil {
		t.Fatal("Parse() expected FieldCount error")
	}
	perr, ok := err.(*Error)
	if !ok || perr.Kind != KindFieldCount {
		t.Errorf("err = %v, want KindFieldCount", err)
	}
}

func TestParse_AbsentTarget(t *testing.T) {
	line := strings.Replace(baseLine(), "10.0.1.50:8080", "-", -1) + v2Tail
	rec, err := Parse(line)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if rec.TargetIP != "" || rec.TargetPort != 0 {
		t.Errorf("target = %s:%d, want absent", rec.TargetIP, rec.TargetPort)
	}
}

func TestParse_BareHyphenHostRejected(t *testing.T) {
	line := strings.Replace(baseLine(), "203.0.113.12:54321", "-:54321", 1) + v2Tail
	_, err := Parse(line)
	if err == nil {
		t.Fatal("Parse() expected AddressPort error for bare '-' host")
	}
	perr, ok := err.(*Error)
	if !ok || perr.Kind != KindAddressPort {
		t.Errorf("err = %v, want KindAddressPort", err)
	}
}

func TestParse_IPv6Bracketed(t *testing.T) {
	line := strings.Replace(baseLine(), "203.0.113.12:54321", "[2001:db8::1]:54321", 1) + v2Tail
	rec, err := Parse(line)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if rec.ClientIP != "2001:db8::1" || rec.ClientPort != 54321 {
		t.Errorf("client = %s:%d", rec.ClientIP, rec.ClientPort)
	}
}

func TestParse_NegativeOneProcessingTimeMapsToZero(t *testing.T) {
	line := strings.Replace(baseLine(), "0.001 0.045 0.002", "-1 -1 -1", 1) + v2Tail
	rec, err := Parse(line)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if rec.RequestProcessingTime != 0 || rec.TargetProcessingTime != 0 || rec.ResponseProcessingTime != 0 {
		t.Errorf("processing times = %v/%v/%v, want all 0", rec.RequestProcessingTime, rec.TargetProcessingTime, rec.ResponseProcessingTime)
	}
}

func TestParse_RejectedVerb(t *testing.T) {
	line := strings.Replace(baseLine(), `"GET https://api.example.com/v1/users/123 HTTP/1.1"`, `"FETCH https://api.example.com/v1/users/123 HTTP/1.1"`, 1) + v2Tail
	_, err := Parse(line)
	if err == nil {
		t.Fatal("Parse() expected HttpRequest error for unknown verb")
	}
	perr, ok := err.(*Error)
	if !ok || perr.Kind != KindHTTPRequest {
		t.Errorf("err = %v, want KindHttpRequest", err)
	}
}

func TestParse_NeverPanics(t *testing.T) {
	lines := []string{
		"",
		" ",
		`"unterminated`,
		"a b c",
		strings.Repeat("x ", 50),
		baseLine() + v2Tail,
		baseLine() + v1Tail,
	}
	for _, line := range lines {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("Parse(%q) panicked: %v", line, r)
				}
			}()
			Parse(line)
		}()
	}
}

func TestValidateFormat(t *testing.T) {
	good := baseLine() + v2Tail
	bad := "not a log line"

	if !ValidateFormat([]string{good, good, bad}) {
		t.Error("ValidateFormat() = false, want true (2/3 >= 50%)")
	}
	if ValidateFormat([]string{bad, bad, good}) {
		t.Error("ValidateFormat() = true, want false (1/3 < 50%)")
	}
	if ValidateFormat([]string{"", "   "}) {
		t.Error("ValidateFormat() = true for all-blank input, want false")
	}
}
