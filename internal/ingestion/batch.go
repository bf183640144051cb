package ingestion

import (
	"context"
	"fmt"

	"github.com/albops/logengine/internal/storage"
)

// IngestBatch processes every file belonging to batchID, transitioning it
// through processing -> processed (or error).
func (p *Pipeline) IngestBatch(ctx context.Context, batches *storage.Storage, batchID string, opts Options) (*Result, error) {
	batch, err := batches.GetDownloadBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("ingestion: load batch %s: %w", batchID, err)
	}
	paths, err := batch.LocalPaths()
	if err != nil {
		return nil, fmt.Errorf("ingestion: decode local paths for batch %s: %w", batchID, err)
	}

	if err := batches.SetDownloadBatchStatus(ctx, batchID, "processing", ""); err != nil {
		return nil, err
	}

	result, err := p.IngestLocal(ctx, paths, opts)
	if err != nil {
		batches.SetDownloadBatchStatus(ctx, batchID, "error", err.Error())
		return result, err
	}

	if result.Success {
		batches.SetDownloadBatchStatus(ctx, batchID, "processed", "")
	} else {
		msg := "ingestion completed with errors"
		if len(result.Errors) > 0 {
			msg = result.Errors[0].Message
		}
		batches.SetDownloadBatchStatus(ctx, batchID, "error", msg)
	}
	return result, nil
}
