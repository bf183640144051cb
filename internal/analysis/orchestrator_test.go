package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/albops/logengine/internal/config"
	"github.com/albops/logengine/internal/logrecord"
	"github.com/albops/logengine/internal/storage"
	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"
)

func testStorage(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.Open(context.Background(), storage.Config{
		Path: "file:" + t.Name() + "?mode=memory&cache=shared",
		Pool: storage.PoolConfig{MinConnections: 1, MaxConnections: 2},
	}, log.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedRecord(ip, url string, status int, ts time.Time) logrecord.Record {
	return logrecord.Record{
		Timestamp:        ts,
		ClientIP:         ip,
		ClientPort:       443,
		TargetIP:         "10.0.0.1",
		TargetPort:       8080,
		ELBStatusCode:    status,
		TargetStatusCode: status,
		RequestVerb:      "GET",
		RequestURL:       url,
		RequestProtocol:  "HTTP/1.1",
		TargetGroupARN:   "arn:aws:elasticloadbalancing:us-east-1:1:targetgroup/t/1",
		TraceID:          "Root=1-abc",
		DomainName:       "example.com",
		UserAgent:        "Mozilla/5.0 (Macintosh)",
	}
}

func TestAnalyzeFullStrategy(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var records []logrecord.Record
	for i := 0; i < 10; i++ {
		ip := "203.0.113.1"
		start := base.Add(time.Duration(i) * time.Hour)
		records = append(records,
			seedRecord(ip, "https://example.com/cart", 200, start),
			seedRecord(ip, "https://example.com/checkout", 200, start.Add(time.Second)),
		)
	}
	_, err := s.StoreBatch(ctx, records, storage.StoreBatchOptions{})
	require.NoError(t, err)

	orch := New(s, config.Default(), log.NewNopLogger())
	result, err := orch.Analyze(ctx, Filter{}, AnalyzeOptions{})
	require.NoError(t, err)
	require.Equal(t, 10, result.Summary.TotalSessions)
	require.NotEmpty(t, result.Analysis.Patterns)
}

func TestAnalyzeUsesCache(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	_, err := s.StoreBatch(ctx, []logrecord.Record{
		seedRecord("1.1.1.1", "https://example.com/a", 200, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	}, storage.StoreBatchOptions{})
	require.NoError(t, err)

	orch := New(s, config.Default(), log.NewNopLogger())
	first, err := orch.Analyze(ctx, Filter{}, AnalyzeOptions{})
	require.NoError(t, err)

	second, err := orch.Analyze(ctx, Filter{}, AnalyzeOptions{})
	require.NoError(t, err)
	require.Equal(t, first.Timestamp, second.Timestamp)

	orch.ClearCache()
}

func TestSelectStrategy(t *testing.T) {
	cfg := config.Default()
	cfg.Analysis.MaxSessionsForFullAnalysis = 5
	s := testStorage(t)
	orch := New(s, cfg, log.NewNopLogger())

	require.Equal(t, StrategyFull, orch.selectStrategy(5))
	require.Equal(t, StrategyAggregated, orch.selectStrategy(6))

	cfg.Analysis.UseAggregationTables = false
	orch2 := New(s, cfg, log.NewNopLogger())
	require.Equal(t, StrategyStreamingSampled, orch2.selectStrategy(6))
}
