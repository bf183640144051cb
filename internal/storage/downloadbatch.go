package storage

import (
	"context"
	"encoding/json"
	"time"
)

// DownloadBatchRow mirrors one download_batches row.
type DownloadBatchRow struct {
	BatchID              string    `db:"batch_id"`
	BatchName            string    `db:"batch_name"`
	DownloadDate         time.Time `db:"download_date"`
	FileCount            int       `db:"file_count"`
	TotalSizeBytes        int64     `db:"total_size_bytes"`
	S3FilePaths          string    `db:"s3_file_paths"`
	LocalFilePaths       string    `db:"local_file_paths"`
	Status               string    `db:"status"`
	ErrorMessage         string    `db:"error_message"`
	DownloadStartedAt    time.Time `db:"download_started_at"`
	DownloadCompletedAt  time.Time `db:"download_completed_at"`
	EstimatedSizeBytes   int64     `db:"estimated_size_bytes"`
	ProgressPercentage   float64   `db:"progress_percentage"`
	CreatedAt            time.Time `db:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"`
}

// LocalPaths decodes the JSON-encoded local_file_paths column.
func (r DownloadBatchRow) LocalPaths() ([]string, error) {
	var paths []string
	if r.LocalFilePaths == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(r.LocalFilePaths), &paths); err != nil {
		return nil, err
	}
	return paths, nil
}

// CreateDownloadBatch inserts a new download_batches row in 'pending' status.
func (s *Storage) CreateDownloadBatch(ctx context.Context, batchID, name string, s3Paths, localPaths []string) error {
	s3JSON, err := json.Marshal(s3Paths)
	if err != nil {
		return err
	}
	localJSON, err := json.Marshal(localPaths)
	if err != nil {
		return err
	}

	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(pc)

	const query = `
		INSERT INTO download_batches (batch_id, batch_name, file_count, s3_file_paths, local_file_paths, status)
		VALUES (?, ?, ?, ?, ?, 'pending')`
	if _, err := pc.conn.ExecContext(ctx, query, batchID, name, len(localPaths), string(s3JSON), string(localJSON)); err != nil {
		return queryErr(query, err)
	}
	return nil
}

// GetDownloadBatch fetches one download_batches row by id.
func (s *Storage) GetDownloadBatch(ctx context.Context, batchID string) (*DownloadBatchRow, error) {
	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(pc)

	const query = `SELECT * FROM download_batches WHERE batch_id = ?`
	row := pc.conn.QueryRowContext(ctx, query, batchID)

	var r DownloadBatchRow
	if err := row.Scan(
		&r.BatchID, &r.BatchName, &r.DownloadDate, &r.FileCount, &r.TotalSizeBytes,
		&r.S3FilePaths, &r.LocalFilePaths, &r.Status, &r.ErrorMessage,
		&r.DownloadStartedAt, &r.DownloadCompletedAt, &r.EstimatedSizeBytes,
		&r.ProgressPercentage, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, queryErr(query, err)
	}
	return &r, nil
}

// SetDownloadBatchStatus transitions a batch's status, optionally
// recording an error message, and stamps download_completed_at when the
// batch leaves the processing state.
func (s *Storage) SetDownloadBatchStatus(ctx context.Context, batchID, status, errMsg string) error {
	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(pc)

	const query = `
		UPDATE download_batches
		SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP,
			download_completed_at = CASE WHEN ? IN ('processed', 'error') THEN CURRENT_TIMESTAMP ELSE download_completed_at END
		WHERE batch_id = ?`
	if _, err := pc.conn.ExecContext(ctx, query, status, errMsg, status, batchID); err != nil {
		return queryErr(query, err)
	}
	return nil
}
