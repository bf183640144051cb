package ingestion

import (
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/albops/logengine/internal/storage"
	"github.com/go-kit/log"
)

const sampleLine = `h2 2023-12-01T10:30:45.123456Z app/my-lb/50dc6c495c0c9188 203.0.113.12:54321 10.0.1.50:8080 ` +
	`0.001 0.045 0.002 200 200 1024 2048 ` +
	`"GET https://api.example.com/v1/users/123 HTTP/1.1" "curl/7.46.0" ` +
	`ECDHE-RSA-AES128-GCM-SHA256 TLSv1.2 ` +
	`arn:aws:elasticloadbalancing:us-east-2:123456789012:targetgroup/my-targets/73e2d6bc24d8a067 ` +
	`"Root=1-58337262-36d228ad5d99923122bbe354" "api.example.com" "-" 0 ` +
	`2023-12-01T10:30:44.900000Z "forward" "-" "-" "10.0.1.50:8080" "200" "-" "-" "-" "-" TID_abc12345`

func testPipeline(t *testing.T) (*Pipeline, *storage.Storage) {
	t.Helper()
	s, err := storage.Open(context.Background(), storage.Config{
		Path: "file:" + t.Name() + "?mode=memory&cache=shared",
		Pool: storage.PoolConfig{MinConnections: 1, MaxConnections: 2},
	}, log.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, log.NewNopLogger()), s
}

func TestIngestLocalPlainFile(t *testing.T) {
	p, s := testPipeline(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "access.log")
	content := sampleLine + "\n" + sampleLine + "\nnot a valid line\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := p.IngestLocal(context.Background(), []string{path}, Options{SkipMalformedLines: true})
	if err != nil {
		t.Fatalf("IngestLocal() error = %v", err)
	}
	if result.RecordsStored != 2 {
		t.Errorf("RecordsStored = %d, want 2", result.RecordsStored)
	}
	if len(result.Errors) != 1 {
		t.Errorf("Errors = %d, want 1", len(result.Errors))
	}

	count, err := s.Count(context.Background(), storage.FilterCriteria{})
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("stored count = %d, want 2", count)
	}
}

func TestIngestLocalGzipFile(t *testing.T) {
	p, _ := testPipeline(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "access.log.gz")

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	gz := gzip.NewWriter(f)
	gz.Write([]byte(sampleLine + "\n"))
	gz.Close()
	f.Close()

	result, err := p.IngestLocal(context.Background(), []string{path}, Options{})
	if err != nil {
		t.Fatalf("IngestLocal() error = %v", err)
	}
	if result.RecordsStored != 1 {
		t.Errorf("RecordsStored = %d, want 1", result.RecordsStored)
	}
}

func TestIngestBusyRejectsConcurrentCall(t *testing.T) {
	p, _ := testPipeline(t)
	p.busy.Store(true)
	defer p.busy.Store(false)

	_, err := p.IngestLocal(context.Background(), nil, Options{})
	if err != ErrBusy {
		t.Errorf("err = %v, want ErrBusy", err)
	}
}
