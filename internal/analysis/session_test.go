package analysis

import (
	"testing"
	"time"

	"github.com/albops/logengine/internal/storage"
	"github.com/stretchr/testify/require"
)

func row(ip, url string, status int, ts time.Time) storage.LogRecordRow {
	return storage.LogRecordRow{
		ClientIP:      ip,
		RequestURL:    url,
		ELBStatusCode: status,
		Timestamp:     ts,
		UserAgent:     "Mozilla/5.0 (Macintosh)",
		ReceivedBytes: 100,
		SentBytes:     200,
	}
}

func TestReconstructSessionsSplitsOnInactivity(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []storage.LogRecordRow{
		row("1.1.1.1", "http://x/a", 200, base),
		row("1.1.1.1", "http://x/b", 200, base.Add(1*time.Minute)),
		row("1.1.1.1", "http://x/c", 200, base.Add(1*time.Hour)),
	}

	sessions := ReconstructSessions(rows, SessionOptions{})
	require.Len(t, sessions, 2)
	require.Len(t, sessions[0].Requests, 2)
	require.Len(t, sessions[1].Requests, 1)
}

func TestReconstructSessionsSplitsOnTokenChange(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []storage.LogRecordRow{
		row("2.2.2.2", "http://x/a?jsessionid=AAA", 200, base),
		row("2.2.2.2", "http://x/b?jsessionid=AAA", 200, base.Add(time.Second)),
		row("2.2.2.2", "http://x/c?jsessionid=BBB", 200, base.Add(2*time.Second)),
	}

	sessions := ReconstructSessions(rows, SessionOptions{})
	require.Len(t, sessions, 2)
}

func TestCategorizeUserAgent(t *testing.T) {
	require.Equal(t, CategoryBot, CategorizeUserAgent("Googlebot/2.1"))
	require.Equal(t, CategoryMobile, CategorizeUserAgent("Mozilla/5.0 (iPhone; CPU iPhone OS)"))
	require.Equal(t, CategoryDesktop, CategorizeUserAgent("Mozilla/5.0 (Windows NT 10.0) Chrome/90"))
	require.Equal(t, CategoryOther, CategorizeUserAgent("curl/7.68.0"))
}
