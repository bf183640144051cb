package main

import (
	"context"

	"github.com/albops/logengine/internal/config"
	"github.com/albops/logengine/internal/ingestion"
	"github.com/albops/logengine/internal/s3source"
	"github.com/albops/logengine/internal/storage"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
)

type downloadOptions struct {
	Bucket     string
	Prefix     string
	Region     string
	AssumeRole string
}

// runDownload lists objects under bucket/prefix, records a download batch
// keyed by a fresh UUID, fetches and ingests each object, then marks the
// batch processed or errored.
func runDownload(ctx context.Context, logger log.Logger, store *storage.Storage, cfg config.Config, dOpts downloadOptions) int {
	source, err := s3source.New(ctx, s3source.Config{
		Bucket:     dOpts.Bucket,
		Prefix:     dOpts.Prefix,
		Region:     dOpts.Region,
		AssumeRole: dOpts.AssumeRole,
	}, logger)
	if err != nil {
		level.Error(logger).Log("msg", "failed to create s3 source", "err", err)
		return 1
	}

	keys, err := source.List(ctx)
	if err != nil {
		level.Error(logger).Log("msg", "failed to list s3 objects", "err", err)
		return 1
	}
	if len(keys) == 0 {
		level.Info(logger).Log("msg", "no objects found", "bucket", dOpts.Bucket, "prefix", dOpts.Prefix)
		return 0
	}

	batchID := uuid.NewString()
	batchName := dOpts.Prefix
	if batchName == "" {
		batchName = dOpts.Bucket
	}
	if err := store.CreateDownloadBatch(ctx, batchID, batchName, keys, nil); err != nil {
		level.Error(logger).Log("msg", "failed to record download batch", "err", err)
		return 1
	}

	pipeline := ingestion.New(store, logger)
	result, err := pipeline.IngestS3(ctx, source, keys, ingestion.Options{
		BatchSize:          cfg.Ingestion.BatchSize,
		MaxConcurrentFiles: cfg.Ingestion.MaxConcurrentFiles,
		SkipMalformedLines: cfg.Ingestion.SkipMalformedLines,
	})
	status := "processed"
	errMsg := ""
	if err != nil {
		status, errMsg = "error", err.Error()
	} else if !result.Success {
		status, errMsg = "error", "one or more objects failed to ingest"
	}
	if setErr := store.SetDownloadBatchStatus(ctx, batchID, status, errMsg); setErr != nil {
		level.Error(logger).Log("msg", "failed to update download batch status", "err", setErr)
	}

	if err != nil {
		level.Error(logger).Log("msg", "download ingest failed", "batch_id", batchID, "err", err)
		return 1
	}
	level.Info(logger).Log("msg", "download complete", "batch_id", batchID, "files", result.FilesProcessed, "records", result.RecordsStored, "success", result.Success)
	if !result.Success {
		return 1
	}
	return 0
}
