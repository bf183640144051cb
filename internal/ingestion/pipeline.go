// Package ingestion implements the batched ALB log ingestion pipeline:
// file/S3/download-batch entry points, streaming gzip decompression,
// cooperative cancellation, progress reporting, and an error taxonomy
// distinguishing warnings from critical file failures.
package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/albops/logengine/internal/logrecord"
	"github.com/albops/logengine/internal/parser"
	"github.com/albops/logengine/internal/storage"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/klauspost/compress/gzip"
)

// Options configures one ingest call.
type Options struct {
	BatchSize          int
	MaxConcurrentFiles int
	SkipMalformedLines bool
	OnProgress         ProgressCallback
	OnError            ErrorCallback
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 1000
	}
	if o.MaxConcurrentFiles <= 0 {
		o.MaxConcurrentFiles = 1
	}
	return o
}

// Result is the outcome of one ingest call.
type Result struct {
	Success        bool
	FilesProcessed int
	RecordsStored  int64
	Errors         []ProcessingError
	Progress       Progress
}

// Pipeline is single-flight: at most one ingest call runs at a time per
// instance.
type Pipeline struct {
	store    *storage.Storage
	logger   log.Logger
	busy     atomic.Bool
	cancelFn atomic.Pointer[context.CancelFunc]
	tracker  atomic.Pointer[progressTracker]
}

// New returns a Pipeline storing parsed records through store.
func New(store *storage.Storage, logger log.Logger) *Pipeline {
	return &Pipeline{store: store, logger: logger}
}

// IsBusy reports whether an ingest call is currently active.
func (p *Pipeline) IsBusy() bool { return p.busy.Load() }

// Progress returns a snapshot of the currently active ingest's progress,
// or the zero value if none is active.
func (p *Pipeline) Progress() Progress {
	if t := p.tracker.Load(); t != nil {
		return t.snapshot()
	}
	return Progress{}
}

// Cancel requests cooperative cancellation of the active ingest, checked
// between files and between lines. It is a no-op if nothing is active.
func (p *Pipeline) Cancel() {
	if fn := p.cancelFn.Load(); fn != nil {
		(*fn)()
	}
}

func (p *Pipeline) acquireSlot() error {
	if !p.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	return nil
}

func (p *Pipeline) releaseSlot() {
	p.cancelFn.Store(nil)
	p.tracker.Store(nil)
	p.busy.Store(false)
}

// IngestLocal parses and stores every file in paths.
func (p *Pipeline) IngestLocal(ctx context.Context, paths []string, opts Options) (*Result, error) {
	if err := p.acquireSlot(); err != nil {
		return nil, err
	}
	defer p.releaseSlot()

	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(ctx)
	var cancelAny context.CancelFunc = cancel
	p.cancelFn.Store(&cancelAny)
	tracker := newProgressTracker(opts.OnProgress, opts.OnError)
	p.tracker.Store(tracker)

	tracker.progress.TotalFiles = len(paths)

	var stored int64
	anyUsableRecords := false
	success := true

	for _, path := range paths {
		select {
		case <-ctx.Done():
			success = false
			goto done
		default:
		}

		n, err := p.processLocalFile(ctx, path, opts, tracker)
		stored += n
		if n > 0 {
			anyUsableRecords = true
		}
		if err != nil {
			level.Warn(p.logger).Log("msg", "file processing failed", "file", path, "err", err)
			success = false
		}
		tracker.finishFile()
	}

done:
	final := tracker.complete()
	if ctx.Err() != nil && !anyUsableRecords {
		success = false
	}

	return &Result{
		Success:        success,
		FilesProcessed: final.ProcessedFiles,
		RecordsStored:  stored,
		Errors:         final.Errors,
		Progress:       final,
	}, nil
}

// IngestBuffer parses and stores a single in-memory file's contents under
// a logical filename — the S3-sourced entry point. The caller is expected
// to have already fetched the object (see internal/s3source).
func (p *Pipeline) IngestBuffer(ctx context.Context, filename string, data []byte, opts Options) (*Result, error) {
	if err := p.acquireSlot(); err != nil {
		return nil, err
	}
	defer p.releaseSlot()
	return p.ingestBufferLocked(ctx, filename, data, opts)
}

// ingestBufferLocked does the actual buffer-parse-and-store work assuming
// the caller already holds the single-flight slot.
func (p *Pipeline) ingestBufferLocked(ctx context.Context, filename string, data []byte, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(ctx)
	var cancelAny context.CancelFunc = cancel
	p.cancelFn.Store(&cancelAny)
	tracker := newProgressTracker(opts.OnProgress, opts.OnError)
	p.tracker.Store(tracker)
	tracker.progress.TotalFiles = 1

	reader, err := readerFor(filename, bytes.NewReader(data))
	if err != nil {
		tracker.recordError(ProcessingError{FileName: filename, Message: err.Error(), Instant: time.Now(), Severity: SeverityCritical})
		final := tracker.complete()
		return &Result{Success: false, Errors: final.Errors, Progress: final}, nil
	}
	tracker.startFile(filename, int64(len(data)))

	n, ferr := p.consumeLines(ctx, filename, reader, opts, tracker)
	tracker.finishFile()
	final := tracker.complete()

	return &Result{
		Success:        ferr == nil,
		FilesProcessed: final.ProcessedFiles,
		RecordsStored:  n,
		Errors:         final.Errors,
		Progress:       final,
	}, nil
}

func (p *Pipeline) processLocalFile(ctx context.Context, path string, opts Options, tracker *progressTracker) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		tracker.recordError(ProcessingError{FileName: path, Message: err.Error(), Instant: time.Now(), Severity: SeverityCritical})
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err == nil {
		tracker.startFile(path, info.Size())
	} else {
		tracker.startFile(path, 0)
	}

	reader, err := readerFor(path, f)
	if err != nil {
		tracker.recordError(ProcessingError{FileName: path, Message: err.Error(), Instant: time.Now(), Severity: SeverityCritical})
		return 0, err
	}

	return p.consumeLines(ctx, path, reader, opts, tracker)
}

// readerFor wraps r in a gzip decompressor when filename ends in
// .gz/.gzip, per the format contract.
func readerFor(filename string, r io.Reader) (io.Reader, error) {
	if strings.HasSuffix(filename, ".gz") || strings.HasSuffix(filename, ".gzip") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("decompress %s: %w", filename, err)
		}
		return gz, nil
	}
	return r, nil
}

// consumeLines scans lines from r, parses each, batches records into
// opts.BatchSize-sized transactional inserts, and returns the number of
// records stored.
func (p *Pipeline) consumeLines(ctx context.Context, filename string, r io.Reader, opts Options, tracker *progressTracker) (int64, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	batch := make([]logrecord.Record, 0, opts.BatchSize)
	var stored int64
	lineNo := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		result, err := p.store.StoreBatch(ctx, batch, storage.StoreBatchOptions{BatchSize: opts.BatchSize})
		if err != nil {
			tracker.recordError(ProcessingError{FileName: filename, Message: err.Error(), Instant: time.Now(), Severity: SeverityCritical})
			batch = batch[:0]
			return err
		}
		for _, msg := range result.Errors {
			tracker.recordError(ProcessingError{FileName: filename, Message: msg, Instant: time.Now(), Severity: SeverityCritical})
		}
		stored += int64(result.Inserted)
		batch = batch[:0]
		if result.Failed > 0 {
			return fmt.Errorf("%s: %d of %d records failed to store", filename, result.Failed, result.Failed+result.Inserted)
		}
		return nil
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			flush()
			return stored, ctx.Err()
		default:
		}

		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		rec, err := parser.Parse(line)
		if err != nil {
			severity := SeverityWarning
			if !opts.SkipMalformedLines {
				severity = SeverityError
			}
			tracker.recordError(ProcessingError{
				FileName: filename, LineNumber: lineNo, Message: err.Error(),
				Instant: time.Now(), Severity: severity,
			})
			tracker.recordLine(false, int64(len(line)))
			if !opts.SkipMalformedLines {
				return stored, fmt.Errorf("%s:%d: %w", filename, lineNo, err)
			}
			continue
		}

		batch = append(batch, *rec)
		tracker.recordLine(true, int64(len(line)))

		if len(batch) >= opts.BatchSize {
			if err := flush(); err != nil {
				return stored, err
			}
		}
	}

	if err := scanner.Err(); err != nil {
		tracker.recordError(ProcessingError{FileName: filename, Message: err.Error(), Instant: time.Now(), Severity: SeverityCritical})
		return stored, err
	}

	if err := flush(); err != nil {
		return stored, err
	}
	return stored, nil
}
