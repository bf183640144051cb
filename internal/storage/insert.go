package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/albops/logengine/internal/logrecord"
	"github.com/jmoiron/sqlx"
)

// insertChunkSize is the default per-chunk transaction size when
// StoreBatchOptions.BatchSize is unset.
const insertChunkSize = 200

const insertColumnsSQL = `INSERT INTO log_entries (
	timestamp, client_ip, client_port, target_ip, target_port,
	request_processing_time, target_processing_time, response_processing_time,
	elb_status_code, target_status_code, received_bytes, sent_bytes,
	request_verb, request_url, request_protocol, user_agent,
	ssl_cipher, ssl_protocol, target_group_arn, trace_id, domain_name,
	chosen_cert_arn, matched_rule_priority, request_creation_time,
	actions_executed, redirect_url, error_reason, target_port_list,
	target_status_code_list, classification, classification_reason, connection_id
) VALUES `

// rowValuesSQL is the named-placeholder value group for a single row;
// storeChunk repeats it once per record to build one multi-row INSERT.
const rowValuesSQL = `(
	:timestamp, :client_ip, :client_port, :target_ip, :target_port,
	:request_processing_time, :target_processing_time, :response_processing_time,
	:elb_status_code, :target_status_code, :received_bytes, :sent_bytes,
	:request_verb, :request_url, :request_protocol, :user_agent,
	:ssl_cipher, :ssl_protocol, :target_group_arn, :trace_id, :domain_name,
	:chosen_cert_arn, :matched_rule_priority, :request_creation_time,
	:actions_executed, :redirect_url, :error_reason, :target_port_list,
	:target_status_code_list, :classification, :classification_reason, :connection_id
)`

// BatchInsertResult aggregates a StoreBatch call across its chunks.
// Records is populated only when the caller sets ReturnRecords, per
// SPEC_FULL.md's resolution of the double-store Open Question: the batch
// insert is the only write path and echoing rows back is opt-in, not a
// second store.
type BatchInsertResult struct {
	Inserted     int
	Failed       int
	Errors       []string
	ProcessingMs int64
	Records      []logrecord.Record
}

// StoreBatchOptions controls a StoreBatch call.
type StoreBatchOptions struct {
	BatchSize     int
	ReturnRecords bool
}

func (o StoreBatchOptions) effectiveBatchSize() int {
	if o.BatchSize <= 0 {
		return insertChunkSize
	}
	return o.BatchSize
}

// Store inserts a single record.
func (s *Storage) Store(ctx context.Context, rec *logrecord.Record) error {
	_, err := s.StoreBatch(ctx, []logrecord.Record{*rec}, StoreBatchOptions{})
	return err
}

// StoreBatch chunks records into BatchSize-sized groups, each inserted
// under its own transaction with one multi-row INSERT. A chunk that fails
// is rolled back and tallied as failed; the remaining chunks still
// attempt, so one bad chunk never sinks the whole call.
func (s *Storage) StoreBatch(ctx context.Context, records []logrecord.Record, opts StoreBatchOptions) (*BatchInsertResult, error) {
	start := time.Now()
	result := &BatchInsertResult{}
	if len(records) == 0 {
		return result, nil
	}

	chunkSize := opts.effectiveBatchSize()
	for from := 0; from < len(records); from += chunkSize {
		to := from + chunkSize
		if to > len(records) {
			to = len(records)
		}
		chunk := records[from:to]

		if err := s.storeChunk(ctx, chunk); err != nil {
			result.Failed += len(chunk)
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Inserted += len(chunk)
		if opts.ReturnRecords {
			result.Records = append(result.Records, chunk...)
		}
	}

	result.ProcessingMs = time.Since(start).Milliseconds()
	return result, nil
}

// storeChunk inserts one chunk of records as a single multi-row INSERT
// inside its own transaction.
func (s *Storage) storeChunk(ctx context.Context, chunk []logrecord.Record) error {
	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(pc)

	if pc.inTx {
		return connErr(fmt.Errorf("connection already has an open transaction"))
	}

	tx, err := pc.conn.BeginTx(ctx, nil)
	if err != nil {
		return connErr(err)
	}
	pc.inTx = true
	defer func() { pc.inTx = false }()

	valueGroups := make([]string, 0, len(chunk))
	var args []any
	for i := range chunk {
		clause, rowArgs, err := sqlx.Named(rowValuesSQL, &chunk[i])
		if err != nil {
			tx.Rollback()
			return queryErr(rowValuesSQL, err)
		}
		valueGroups = append(valueGroups, sqlx.Rebind(sqlx.QUESTION, clause))
		args = append(args, rowArgs...)
	}

	query := insertColumnsSQL + strings.Join(valueGroups, ",")
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		tx.Rollback()
		return queryErr(query, err)
	}
	if err := tx.Commit(); err != nil {
		return queryErr(query, err)
	}
	return nil
}
