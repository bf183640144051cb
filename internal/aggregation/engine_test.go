package aggregation

import (
	"context"
	"strconv"
	"testing"
	"time"

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

func genRecord(ts time.Time, status int) logrecord.Record {
	return logrecord.Record{
		Timestamp:        ts,
		ClientIP:         "203.0.113.5",
		ClientPort:       443,
		TargetIP:         "10.0.0.1",
		TargetPort:       8080,
		ELBStatusCode:    status,
		TargetStatusCode: status,
		RequestVerb:      "GET",
		RequestURL:       "https://example.com/orders/123",
		RequestProtocol:  "HTTP/1.1",
		TargetGroupARN:   "arn:aws:elasticloadbalancing:us-east-1:1:targetgroup/t/1",
		TraceID:          "Root=1-abc",
		DomainName:       "example.com",
		ErrorReason:      "TargetResponseTimeout",
		UserAgent:        "Mozilla/5.0 (Macintosh)",
	}
}

func TestEngineRunUpsertsAllSubTasks(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var records []logrecord.Record
	for i := 0; i < 12; i++ {
		records = append(records, genRecord(base.Add(time.Duration(i)*time.Second), 200))
	}
	for i := 0; i < 6; i++ {
		records = append(records, genRecord(base.Add(time.Duration(i)*time.Second), 500))
	}
	_, err := s.StoreBatch(ctx, records, storage.StoreBatchOptions{})
	require.NoError(t, err)

	engine := New(s, log.NewNopLogger())
	result, err := engine.Run(ctx, time.Time{}, ScheduleRealtime)
	require.NoError(t, err)
	require.Empty(t, result.Errors)
	require.Greater(t, result.Updated, int64(0))

	stats, err := engine.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.HourlyRows)
	require.EqualValues(t, 1, stats.URLPatternRows)
	require.EqualValues(t, 1, stats.SessionRows)
	require.EqualValues(t, 1, stats.ErrorPatternRows)
}

func TestEngineRunIsIdempotent(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var records []logrecord.Record
	for i := 0; i < 15; i++ {
		records = append(records, genRecord(base.Add(time.Duration(i)*time.Second), 200))
	}
	_, err := s.StoreBatch(ctx, records, storage.StoreBatchOptions{})
	require.NoError(t, err)

	engine := New(s, log.NewNopLogger())
	_, err = engine.Run(ctx, time.Time{}, ScheduleHourly)
	require.NoError(t, err)

	first, err := engine.Stats(ctx)
	require.NoError(t, err)

	_, err = engine.Run(ctx, time.Time{}, ScheduleHourly)
	require.NoError(t, err)

	second, err := engine.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, first.HourlyRows, second.HourlyRows)
}

func TestEngineURLPatternThresholdsOnNormalizedURL(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var records []logrecord.Record
	for i := 0; i < 12; i++ {
		rec := genRecord(base.Add(time.Duration(i)*time.Second), 200)
		rec.RequestURL = "https://example.com/api/users/" + strconv.Itoa(i+1)
		records = append(records, rec)
	}
	_, err := s.StoreBatch(ctx, records, storage.StoreBatchOptions{})
	require.NoError(t, err)

	engine := New(s, log.NewNopLogger())
	result, err := engine.Run(ctx, time.Time{}, ScheduleRealtime)
	require.NoError(t, err)
	require.Empty(t, result.Errors)

	stats, err := engine.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.URLPatternRows, "12 distinct raw URLs normalizing to /api/users/{id} must merge before the >=10 threshold is applied")
}

func TestEngineCleanup(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	var records []logrecord.Record
	for i := 0; i < 6; i++ {
		records = append(records, genRecord(old.Add(time.Duration(i)*time.Second), 200))
	}
	_, err := s.StoreBatch(ctx, records, storage.StoreBatchOptions{})
	require.NoError(t, err)

	engine := New(s, log.NewNopLogger())
	_, err = engine.Run(ctx, time.Time{}, ScheduleHourly)
	require.NoError(t, err)

	n, err := engine.Cleanup(ctx, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Greater(t, n, int64(0))
}
