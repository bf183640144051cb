package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "database:\n  filename: custom.db\nanalysis:\n  sampling_rate: 0.25\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Filename != "custom.db" {
		t.Errorf("Filename = %q, want custom.db", cfg.Database.Filename)
	}
	if cfg.Analysis.SamplingRate != 0.25 {
		t.Errorf("SamplingRate = %v, want 0.25", cfg.Analysis.SamplingRate)
	}
	if cfg.Ingestion.BatchSize != 1000 {
		t.Errorf("BatchSize = %d, want default 1000", cfg.Ingestion.BatchSize)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Session.MaxInactivityMinutes != 30 {
		t.Errorf("MaxInactivityMinutes = %d, want 30", cfg.Session.MaxInactivityMinutes)
	}
}
