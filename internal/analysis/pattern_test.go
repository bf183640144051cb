package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func reqAt(endpoint string, ts time.Time) SessionRequest {
	return SessionRequest{Endpoint: endpoint, Timestamp: ts, UserAgent: "Mozilla/5.0 (Macintosh)"}
}

func TestDiscoverPatternsFindsRepeatedSubsequence(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sessions := make([]Session, 0, 10)
	for i := 0; i < 10; i++ {
		start := base.Add(time.Duration(i) * time.Hour)
		sessions = append(sessions, Session{
			SessionID: string(rune('a' + i)),
			Start:     start,
			End:       start.Add(2 * time.Second),
			Requests: []SessionRequest{
				reqAt("/cart", start),
				reqAt("/checkout", start.Add(1*time.Second)),
				reqAt("/confirm", start.Add(2*time.Second)),
			},
		})
	}

	patterns := DiscoverPatterns(sessions, PatternOptions{MinSupport: 0.5})
	require.NotEmpty(t, patterns)

	found := false
	for _, p := range patterns {
		if len(p.Steps) == 3 && p.Steps[0] == "/cart" && p.Steps[2] == "/confirm" {
			found = true
			require.Equal(t, 10, p.Frequency)
			require.InDelta(t, 1.0, p.SuccessRate, 0.001)
		}
	}
	require.True(t, found)
}

func TestDiscoverPatternsRespectsMinSupport(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sessions := []Session{
		{SessionID: "only", Start: base, End: base.Add(time.Second), Requests: []SessionRequest{
			reqAt("/rare-a", base), reqAt("/rare-b", base.Add(time.Second)),
		}},
	}
	for i := 0; i < 20; i++ {
		start := base.Add(time.Duration(i+1) * time.Hour)
		sessions = append(sessions, Session{
			SessionID: string(rune('a' + i)),
			Start:     start,
			End:       start.Add(time.Second),
			Requests: []SessionRequest{
				reqAt("/common-a", start), reqAt("/common-b", start.Add(time.Second)),
			},
		})
	}

	patterns := DiscoverPatterns(sessions, PatternOptions{MinSupport: 0.1})
	for _, p := range patterns {
		require.NotEqual(t, "/rare-a", p.Steps[0])
	}
}

func TestBuildTransitionMatrix(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sessions := []Session{
		{Requests: []SessionRequest{reqAt("/a", base), reqAt("/b", base.Add(time.Second))}},
		{Requests: []SessionRequest{reqAt("/a", base), reqAt("/c", base.Add(2 * time.Second))}},
	}
	matrix := BuildTransitionMatrix(sessions)
	require.InDelta(t, 0.5, matrix.Transitions["/a"]["/b"], 0.001)
	require.InDelta(t, 0.5, matrix.Transitions["/a"]["/c"], 0.001)
}

func TestDropOffPoints(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var sessions []Session
	for i := 0; i < 12; i++ {
		sessions = append(sessions, Session{Requests: []SessionRequest{
			reqAt("/landing", base), reqAt("/exit", base.Add(time.Second)),
		}})
	}
	points := DropOffPoints(sessions)
	found := false
	for _, p := range points {
		if p.Endpoint == "/exit" {
			found = true
			require.InDelta(t, 1.0, p.DropOffRate, 0.001)
		}
	}
	require.True(t, found)
}
