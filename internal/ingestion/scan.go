package ingestion

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/albops/logengine/internal/logrecord"
	"github.com/albops/logengine/internal/parser"
)

func newByteReader(data []byte) io.Reader { return bytes.NewReader(data) }

// parseAll reads every line from r, parsing each into a Record. Malformed
// lines are skipped and recorded as warnings; it never aborts early since
// the optimized path is only ever used on already-downloaded, presumed
// mostly-clean batches.
func parseAll(filename string, r io.Reader) ([]logrecord.Record, []ProcessingError) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var records []logrecord.Record
	var errs []ProcessingError
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, err := parser.Parse(line)
		if err != nil {
			errs = append(errs, ProcessingError{
				FileName: filename, LineNumber: lineNo, Message: err.Error(),
				Instant: time.Now(), Severity: SeverityWarning,
			})
			continue
		}
		records = append(records, *rec)
	}
	if err := scanner.Err(); err != nil {
		errs = append(errs, ProcessingError{FileName: filename, Message: err.Error(), Instant: time.Now(), Severity: SeverityCritical})
	}
	return records, errs
}
