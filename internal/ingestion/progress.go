package ingestion

import (
	"sync"
	"time"
)

// Progress is the shared, periodically-published state of an in-flight
// ingest call.
type Progress struct {
	TotalFiles        int
	ProcessedFiles    int
	CurrentFile       string
	TotalBytes        int64
	ProcessedBytes    int64
	TotalLines        int64
	ProcessedLines    int64
	SuccessfulParsed  int64
	FailedLines       int64
	EstimatedRemainMs int64
	Errors            []ProcessingError
	StartTime         time.Time
	IsComplete        bool
}

// ProgressCallback is invoked at most every 100 lines, plus once on
// completion.
type ProgressCallback func(Progress)

// ErrorCallback is invoked once per recorded ProcessingError.
type ErrorCallback func(ProcessingError)

// progressTracker guards a Progress value shared between the ingest
// goroutine and progress()/callback observers.
type progressTracker struct {
	mu       sync.Mutex
	progress Progress
	onProg   ProgressCallback
	onErr    ErrorCallback
	linesSinceCallback int
}

func newProgressTracker(onProg ProgressCallback, onErr ErrorCallback) *progressTracker {
	return &progressTracker{
		progress: Progress{StartTime: time.Now()},
		onProg:   onProg,
		onErr:    onErr,
	}
}

func (t *progressTracker) snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

func (t *progressTracker) recordLine(success bool, bytes int64) {
	t.mu.Lock()
	t.progress.ProcessedLines++
	t.progress.TotalLines++
	t.progress.ProcessedBytes += bytes
	if success {
		t.progress.SuccessfulParsed++
	} else {
		t.progress.FailedLines++
	}
	t.estimateRemainingLocked()
	t.linesSinceCallback++
	fire := t.linesSinceCallback >= 100
	if fire {
		t.linesSinceCallback = 0
	}
	snap := t.progress
	t.mu.Unlock()

	if fire && t.onProg != nil {
		t.onProg(snap)
	}
}

func (t *progressTracker) estimateRemainingLocked() {
	elapsedMs := time.Since(t.progress.StartTime).Milliseconds()
	if t.progress.ProcessedBytes <= 0 || elapsedMs <= 0 || t.progress.TotalBytes <= 0 {
		return
	}
	bytesPerMs := float64(t.progress.ProcessedBytes) / float64(elapsedMs)
	if bytesPerMs <= 0 {
		return
	}
	remainingBytes := t.progress.TotalBytes - t.progress.ProcessedBytes
	if remainingBytes < 0 {
		remainingBytes = 0
	}
	t.progress.EstimatedRemainMs = int64(float64(remainingBytes) / bytesPerMs)
}

func (t *progressTracker) recordError(e ProcessingError) {
	t.mu.Lock()
	t.progress.Errors = append(t.progress.Errors, e)
	t.mu.Unlock()
	if t.onErr != nil {
		t.onErr(e)
	}
}

func (t *progressTracker) startFile(name string, size int64) {
	t.mu.Lock()
	t.progress.CurrentFile = name
	t.progress.TotalBytes += size
	t.mu.Unlock()
}

func (t *progressTracker) finishFile() {
	t.mu.Lock()
	t.progress.ProcessedFiles++
	t.mu.Unlock()
}

func (t *progressTracker) complete() Progress {
	t.mu.Lock()
	t.progress.IsComplete = true
	snap := t.progress
	t.mu.Unlock()
	if t.onProg != nil {
		t.onProg(snap)
	}
	return snap
}
