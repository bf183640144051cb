package storage

import (
	"context"
	"testing"
	"time"

	"github.com/albops/logengine/internal/logrecord"
	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"
)

func testStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := Open(context.Background(), Config{
		Path: "file:" + t.Name() + "?mode=memory&cache=shared",
		Pool: PoolConfig{MinConnections: 1, MaxConnections: 2},
	}, log.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecord(ts time.Time) logrecord.Record {
	return logrecord.Record{
		Timestamp:        ts,
		ClientIP:         "203.0.113.1",
		ClientPort:       443,
		TargetIP:         "10.0.0.1",
		TargetPort:       8080,
		ELBStatusCode:    200,
		TargetStatusCode: 200,
		RequestVerb:      "GET",
		RequestURL:       "https://example.com/v1/items/42",
		RequestProtocol:  "HTTP/1.1",
		TargetGroupARN:   "arn:aws:elasticloadbalancing:us-east-1:1:targetgroup/t/1",
		TraceID:          "Root=1-abc",
		DomainName:       "example.com",
	}
}

func TestStoreBatchAndQuery(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	records := []logrecord.Record{
		sampleRecord(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		sampleRecord(time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC)),
	}
	result, err := s.StoreBatch(ctx, records, StoreBatchOptions{ReturnRecords: true})
	require.NoError(t, err)
	require.Equal(t, 2, result.Inserted)
	require.Len(t, result.Records, 2)

	rows, err := s.Query(ctx, QueryOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	count, err := s.Count(ctx, FilterCriteria{})
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
}

func TestQueryCursorPagination(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var records []logrecord.Record
	for i := 0; i < 5; i++ {
		records = append(records, sampleRecord(base.Add(time.Duration(i)*time.Minute)))
	}
	_, err := s.StoreBatch(ctx, records, StoreBatchOptions{})
	require.NoError(t, err)

	page, err := s.QueryCursor(ctx, CursorOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Rows, 2)
	require.True(t, page.HasMore)

	next, err := s.QueryCursor(ctx, CursorOptions{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, next.Rows, 2)
	require.NotEqual(t, page.Rows[0].ID, next.Rows[0].ID)
}

func TestDeleteOlderThan(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	old := sampleRecord(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	recent := sampleRecord(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	_, err := s.StoreBatch(ctx, []logrecord.Record{old, recent}, StoreBatchOptions{})
	require.NoError(t, err)

	n, err := s.DeleteOlderThan(ctx, time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	count, err := s.Count(ctx, FilterCriteria{})
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestQueryDefaultLimitIsMaxQueryRowsNotPageSize(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var records []logrecord.Record
	for i := 0; i < 1200; i++ {
		records = append(records, sampleRecord(base.Add(time.Duration(i)*time.Second)))
	}
	_, err := s.StoreBatch(ctx, records, StoreBatchOptions{})
	require.NoError(t, err)

	rows, err := s.Query(ctx, QueryOptions{Limit: 10_000_000})
	require.NoError(t, err)
	require.Len(t, rows, 1200, "Query must not clamp down to MaxPageSize (1000)")
}

func TestQueryPaginatedReportsTotals(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []logrecord.Record{
		sampleRecord(base),
		sampleRecord(base.Add(time.Minute)),
		sampleRecord(base.Add(2 * time.Minute)),
	}
	_, err := s.StoreBatch(ctx, records, StoreBatchOptions{})
	require.NoError(t, err)

	page1, err := s.QueryPaginated(ctx, PageOptions{Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page1.Rows, 2)
	require.EqualValues(t, 3, page1.TotalCount)
	require.Equal(t, 2, page1.TotalPages)
	require.True(t, page1.HasMore)

	page2, err := s.QueryPaginated(ctx, PageOptions{Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page2.Rows, 1)
	require.EqualValues(t, 3, page2.TotalCount)
	require.Equal(t, 2, page2.TotalPages)
	require.False(t, page2.HasMore)
}

func TestQueryStreamPaginatesPastBatchSize(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var records []logrecord.Record
	for i := 0; i < 7; i++ {
		records = append(records, sampleRecord(base.Add(time.Duration(i)*time.Second)))
	}
	_, err := s.StoreBatch(ctx, records, StoreBatchOptions{})
	require.NoError(t, err)

	var seen int
	err = s.QueryStream(ctx, FilterCriteria{}, 3, func(LogRecordRow) error {
		seen++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 7, seen, "QueryStream must keep paginating past the first batch")
}

func TestPoolAcquireRelease(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	pc, err := s.pool.Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, s.pool.Stats().InUse)
	s.pool.Release(pc)
	require.Equal(t, 0, s.pool.Stats().InUse)
}
