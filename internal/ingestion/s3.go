package ingestion

import (
	"context"
	"fmt"
)

// S3Fetcher is the subset of s3source.Source that IngestS3 needs; kept as
// an interface here so ingestion does not depend on the AWS SDK directly.
type S3Fetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// IngestS3 fetches each of objects via fetcher and stores it through the
// buffer entry point, deleting the object on success. It holds the
// pipeline's single-flight slot for its whole duration, the same as
// IngestLocal.
func (p *Pipeline) IngestS3(ctx context.Context, fetcher S3Fetcher, objects []string, opts Options) (*Result, error) {
	if err := p.acquireSlot(); err != nil {
		return nil, err
	}
	defer p.releaseSlot()

	var total Result
	total.Success = true

	for _, key := range objects {
		data, err := fetcher.Fetch(ctx, key)
		if err != nil {
			total.Success = false
			total.Errors = append(total.Errors, ProcessingError{
				FileName: key, Message: fmt.Sprintf("fetch failed: %v", err), Severity: SeverityCritical,
			})
			continue
		}

		result, err := p.ingestBufferLocked(ctx, key, data, opts)
		if err != nil {
			total.Success = false
			total.Errors = append(total.Errors, ProcessingError{FileName: key, Message: err.Error(), Severity: SeverityCritical})
			continue
		}
		total.FilesProcessed++
		total.RecordsStored += result.RecordsStored
		total.Errors = append(total.Errors, result.Errors...)
		if !result.Success {
			total.Success = false
			continue
		}
		if err := fetcher.Delete(ctx, key); err != nil {
			total.Errors = append(total.Errors, ProcessingError{FileName: key, Message: fmt.Sprintf("delete failed: %v", err), Severity: SeverityWarning})
		}
	}

	return &total, nil
}
