package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/albops/logengine/internal/aggregation"
	"github.com/albops/logengine/internal/analysis"
	"github.com/albops/logengine/internal/config"
	"github.com/albops/logengine/internal/ingestion"
	"github.com/albops/logengine/internal/metrics"
	"github.com/albops/logengine/internal/parser"
	"github.com/albops/logengine/internal/storage"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"
	"github.com/spf13/pflag"
)

type options struct {
	ConfigPath string
	DBPath     string
	LogLevel   string
	Port       int
	Since      time.Duration
	BatchName  string
	IndexName  string
	IndexTable string
	IndexCols  []string
	Version    bool

	Bucket     string
	Prefix     string
	Region     string
	AssumeRole string
}

func main() {
	var opts options
	pflag.StringVar(&opts.ConfigPath, "config", "", "Path to YAML configuration file")
	pflag.StringVar(&opts.DBPath, "db", "", "Path to the SQLite database file (overrides config)")
	pflag.StringVar(&opts.LogLevel, "log-level", "info", "Log level (info, debug)")
	pflag.IntVar(&opts.Port, "port", 8080, "Port to expose /metrics on")
	pflag.DurationVar(&opts.Since, "since", 0, "Only aggregate/query rows at or after this duration ago")
	pflag.StringVar(&opts.BatchName, "batch-name", "", "Not read by any subcommand; download names its batch after --prefix, or --bucket when --prefix is empty")
	pflag.StringVar(&opts.IndexName, "index-name", "", "Index name, for create-index")
	pflag.StringVar(&opts.IndexTable, "index-table", "log_entries", "Table name, for create-index")
	pflag.StringSliceVar(&opts.IndexCols, "index-columns", nil, "Comma-separated columns, for create-index")
	pflag.BoolVar(&opts.Version, "version", false, "Show version and exit")
	pflag.StringVar(&opts.Bucket, "bucket", "", "S3 bucket to download ALB logs from, for the download subcommand")
	pflag.StringVar(&opts.Prefix, "prefix", "", "S3 key prefix to download, for the download subcommand")
	pflag.StringVar(&opts.Region, "region", "", "AWS region, for the download subcommand")
	pflag.StringVar(&opts.AssumeRole, "assume-role", "", "IAM role ARN to assume, for the download subcommand")
	pflag.Parse()

	if opts.Version {
		fmt.Println(version.Print("albanalytics"))
		os.Exit(0)
	}

	logger := log.NewLogfmtLogger(os.Stdout)
	logger = level.NewFilter(logger, level.Allow(level.ParseDefault(opts.LogLevel, level.InfoValue())))
	logger = log.With(logger, "caller", log.DefaultCaller)

	args := pflag.Args()
	cmd := "serve"
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		level.Error(logger).Log("msg", "failed to load config", "err", err)
		os.Exit(1)
	}
	if opts.DBPath != "" {
		cfg.Database.Filename = opts.DBPath
	}

	if cmd == "validate" {
		os.Exit(runValidate(logger, args))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.Open(ctx, storage.Config{
		Path: cfg.Database.Filename,
		Pool: storage.PoolConfig{
			MinConnections: cfg.Database.Pool.Min,
			MaxConnections: cfg.Database.Pool.Max,
			AcquireTimeout: cfg.Database.Pool.AcquireTimeout(),
			IdleTimeout:    cfg.Database.Pool.IdleTimeout(),
			TestOnBorrow:   cfg.Database.Pool.TestOnBorrow,
		},
	}, logger)
	if err != nil {
		level.Error(logger).Log("msg", "failed to open storage", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	switch cmd {
	case "list-indexes":
		os.Exit(runListIndexes(ctx, logger, store))
	case "create-index":
		os.Exit(runCreateIndex(ctx, logger, store, opts))
	case "optimize":
		os.Exit(runOptimize(ctx, logger, store))
	case "vacuum":
		os.Exit(runVacuum(ctx, logger, store))
	case "ingest":
		os.Exit(runIngest(ctx, logger, store, cfg, opts, args))
	case "download":
		os.Exit(runDownload(ctx, logger, store, cfg, downloadOptions{
			Bucket: opts.Bucket, Prefix: opts.Prefix, Region: opts.Region, AssumeRole: opts.AssumeRole,
		}))
	case "aggregate":
		os.Exit(runAggregate(ctx, logger, store, opts))
	case "analyze":
		os.Exit(runAnalyze(ctx, logger, store, cfg))
	case "serve":
		runServe(ctx, logger, store, cfg, opts.Port)
	default:
		level.Error(logger).Log("msg", "unknown subcommand", "cmd", cmd)
		os.Exit(1)
	}
}

// runServe starts the /metrics endpoint and blocks until SIGINT/SIGTERM.
func runServe(ctx context.Context, logger log.Logger, store *storage.Storage, cfg config.Config, port int) {
	m := metrics.New()

	sgnl := make(chan os.Signal, 1)
	signal.Notify(sgnl, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s := store.PoolStats()
				m.ObservePool(metrics.PoolStats{Total: s.Total, Available: s.Available, InUse: s.InUse, Waiters: s.Waiters})
			case <-ctx.Done():
				return
			}
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		<-sgnl
		level.Info(logger).Log("msg", "received SIGINT or SIGTERM, shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	level.Info(logger).Log("msg", "starting albanalytics", "version", version.Version, "metrics-port", port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		level.Error(logger).Log("msg", "metrics server failed", "err", err)
	}
}

func runValidate(logger log.Logger, args []string) int {
	if len(args) == 0 {
		level.Error(logger).Log("msg", "validate requires a file path argument")
		return 1
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		level.Error(logger).Log("msg", "failed to read file", "file", args[0], "err", err)
		return 1
	}
	lines := splitLines(string(data))
	ok := parser.ValidateFormat(lines)
	if ok {
		level.Info(logger).Log("msg", "format validation passed", "file", args[0], "lines", len(lines))
		return 0
	}
	level.Error(logger).Log("msg", "format validation failed", "file", args[0], "lines", len(lines))
	return 1
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func runListIndexes(ctx context.Context, logger log.Logger, store *storage.Storage) int {
	indexes, err := store.ListIndexes(ctx)
	if err != nil {
		level.Error(logger).Log("msg", "failed to list indexes", "err", err)
		return 1
	}
	for _, idx := range indexes {
		fmt.Printf("%s\t%s\tunique=%v\n", idx.Table, idx.Name, idx.Unique)
	}
	return 0
}

func runCreateIndex(ctx context.Context, logger log.Logger, store *storage.Storage, opts options) int {
	if opts.IndexName == "" || len(opts.IndexCols) == 0 {
		level.Error(logger).Log("msg", "create-index requires --index-name and --index-columns")
		return 1
	}
	if err := store.CreateIndex(ctx, opts.IndexName, opts.IndexTable, opts.IndexCols); err != nil {
		level.Error(logger).Log("msg", "failed to create index", "err", err)
		return 1
	}
	level.Info(logger).Log("msg", "index created", "name", opts.IndexName)
	return 0
}

func runOptimize(ctx context.Context, logger log.Logger, store *storage.Storage) int {
	if err := store.OptimizeIndexes(ctx); err != nil {
		level.Error(logger).Log("msg", "optimize failed", "err", err)
		return 1
	}
	level.Info(logger).Log("msg", "index statistics refreshed")
	return 0
}

func runVacuum(ctx context.Context, logger log.Logger, store *storage.Storage) int {
	if err := store.Vacuum(ctx); err != nil {
		level.Error(logger).Log("msg", "vacuum failed", "err", err)
		return 1
	}
	level.Info(logger).Log("msg", "vacuum complete")
	return 0
}

func runIngest(ctx context.Context, logger log.Logger, store *storage.Storage, cfg config.Config, opts options, paths []string) int {
	if len(paths) == 0 {
		level.Error(logger).Log("msg", "ingest requires at least one file path")
		return 1
	}
	pipeline := ingestion.New(store, logger)
	bar := newIngestProgressBar(paths)

	result, err := pipeline.IngestLocal(ctx, paths, ingestion.Options{
		BatchSize:          cfg.Ingestion.BatchSize,
		MaxConcurrentFiles: cfg.Ingestion.MaxConcurrentFiles,
		SkipMalformedLines: cfg.Ingestion.SkipMalformedLines,
		OnProgress: func(p ingestion.Progress) {
			if bar != nil {
				bar.Set64(p.ProcessedBytes)
			}
		},
	})
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		level.Error(logger).Log("msg", "ingest failed", "err", err)
		return 1
	}
	level.Info(logger).Log("msg", "ingest complete", "files", result.FilesProcessed, "records", result.RecordsStored, "errors", len(result.Errors), "success", result.Success)
	if !result.Success {
		return 1
	}
	return 0
}

func runAggregate(ctx context.Context, logger log.Logger, store *storage.Storage, opts options) int {
	engine := aggregation.New(store, logger)
	since := time.Time{}
	if opts.Since > 0 {
		since = time.Now().Add(-opts.Since)
	}
	result, err := engine.Run(ctx, since, aggregation.ScheduleRealtime)
	if err != nil {
		level.Error(logger).Log("msg", "aggregation failed", "err", err)
		return 1
	}
	level.Info(logger).Log("msg", "aggregation complete", "updated", result.Updated, "errors", len(result.Errors), "duration_ms", result.ProcessingMs)
	if len(result.Errors) > 0 {
		return 1
	}
	return 0
}

func runAnalyze(ctx context.Context, logger log.Logger, store *storage.Storage, cfg config.Config) int {
	orch := analysis.New(store, cfg, logger)
	result, err := orch.Analyze(ctx, analysis.Filter{}, analysis.AnalyzeOptions{})
	if err != nil {
		level.Error(logger).Log("msg", "analysis failed", "err", err)
		return 1
	}
	level.Info(logger).Log("msg", "analysis complete",
		"sessions", result.Summary.TotalSessions,
		"patterns", len(result.Analysis.Patterns),
		"insights", len(result.Summary.Insights),
		"processing_ms", result.ProcessingMs)
	return 0
}
