// Package metrics exposes Prometheus instrumentation for the connection
// pool, ingestion pipeline, and aggregation engine behind a single
// registry wired into the /metrics HTTP endpoint.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector this system registers.
type Metrics struct {
	Registry *prometheus.Registry

	PoolTotal     prometheus.Gauge
	PoolAvailable prometheus.Gauge
	PoolInUse     prometheus.Gauge
	PoolWaiters   prometheus.Gauge

	IngestFilesProcessed prometheus.Counter
	IngestRecordsStored  prometheus.Counter
	IngestErrorsTotal    *prometheus.CounterVec
	IngestDuration       prometheus.Histogram

	AggregationRunDuration prometheus.Histogram
	AggregationRowsUpdated prometheus.Counter
	AggregationRunErrors   prometheus.Counter

	QueryDuration *prometheus.HistogramVec
}

// New builds and registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	buckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

	m := &Metrics{
		Registry: reg,

		PoolTotal:     prometheus.NewGauge(prometheus.GaugeOpts{Name: "albanalytics_pool_connections_total", Help: "Connections currently tracked by the pool"}),
		PoolAvailable: prometheus.NewGauge(prometheus.GaugeOpts{Name: "albanalytics_pool_connections_available", Help: "Idle connections available for reuse"}),
		PoolInUse:     prometheus.NewGauge(prometheus.GaugeOpts{Name: "albanalytics_pool_connections_in_use", Help: "Connections currently checked out"}),
		PoolWaiters:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "albanalytics_pool_waiters", Help: "Goroutines blocked waiting for a connection"}),

		IngestFilesProcessed: prometheus.NewCounter(prometheus.CounterOpts{Name: "albanalytics_ingest_files_processed_total", Help: "Files successfully ingested"}),
		IngestRecordsStored:  prometheus.NewCounter(prometheus.CounterOpts{Name: "albanalytics_ingest_records_stored_total", Help: "Log records stored"}),
		IngestErrorsTotal:    prometheus.NewCounterVec(prometheus.CounterOpts{Name: "albanalytics_ingest_errors_total", Help: "Processing errors by severity"}, []string{"severity"}),
		IngestDuration:       prometheus.NewHistogram(prometheus.HistogramOpts{Name: "albanalytics_ingest_duration_seconds", Help: "Wall-clock duration of one ingest call", Buckets: buckets}),

		AggregationRunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Name: "albanalytics_aggregation_run_duration_seconds", Help: "Duration of one aggregation engine run", Buckets: buckets}),
		AggregationRowsUpdated: prometheus.NewCounter(prometheus.CounterOpts{Name: "albanalytics_aggregation_rows_updated_total", Help: "Summary rows upserted across all sub-tasks"}),
		AggregationRunErrors:   prometheus.NewCounter(prometheus.CounterOpts{Name: "albanalytics_aggregation_run_errors_total", Help: "Aggregation sub-task failures"}),

		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "albanalytics_query_duration_seconds", Help: "Duration of storage read paths", Buckets: buckets}, []string{"path"}),
	}

	reg.MustRegister(
		m.PoolTotal, m.PoolAvailable, m.PoolInUse, m.PoolWaiters,
		m.IngestFilesProcessed, m.IngestRecordsStored, m.IngestErrorsTotal, m.IngestDuration,
		m.AggregationRunDuration, m.AggregationRowsUpdated, m.AggregationRunErrors,
		m.QueryDuration,
	)
	return m
}

// PoolStats is the subset of storage.Stats needed to refresh the pool
// gauges, kept local to avoid an import of internal/storage here.
type PoolStats struct {
	Total     int
	Available int
	InUse     int
	Waiters   int
}

// ObservePool refreshes the pool gauges from a fresh stats snapshot.
func (m *Metrics) ObservePool(s PoolStats) {
	m.PoolTotal.Set(float64(s.Total))
	m.PoolAvailable.Set(float64(s.Available))
	m.PoolInUse.Set(float64(s.InUse))
	m.PoolWaiters.Set(float64(s.Waiters))
}
