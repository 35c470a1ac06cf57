package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// snapshot saves the global instance and restores it after the test so
// tests can mutate it freely.
func snapshot(t *testing.T) {
	t.Helper()
	saved := *configInstance
	t.Cleanup(func() { *configInstance = saved })
}

func TestDefaults(t *testing.T) {
	cfg := GetConfig()
	if cfg.Batch.Size != 1024*8 {
		t.Errorf("Batch.Size = %d, want %d", cfg.Batch.Size, 1024*8)
	}
	if cfg.Query.EnableTrace {
		t.Error("EnableTrace should default to false")
	}
	if !cfg.Parallel.Enable {
		t.Error("Parallel.Enable should default to true")
	}
	if cfg.Parallel.Partitions != 0 {
		t.Errorf("Parallel.Partitions = %d, want 0", cfg.Parallel.Partitions)
	}
	if cfg.Ingest.MaxRows != 0 {
		t.Errorf("Ingest.MaxRows = %d, want 0 (unlimited)", cfg.Ingest.MaxRows)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

func TestDecodeMergesFile(t *testing.T) {
	snapshot(t)

	path := filepath.Join(t.TempDir(), "tabql.yaml")
	data := `
batch:
  size: 512
ingest:
  max_rows: 100000
query:
  enable_trace: true
parallel:
  partitions: 4
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Decode(path); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	cfg := GetConfig()
	if cfg.Batch.Size != 512 {
		t.Errorf("Batch.Size = %d, want 512", cfg.Batch.Size)
	}
	if cfg.Ingest.MaxRows != 100000 {
		t.Errorf("Ingest.MaxRows = %d, want 100000", cfg.Ingest.MaxRows)
	}
	if !cfg.Query.EnableTrace {
		t.Error("EnableTrace not merged")
	}
	if cfg.Parallel.Partitions != 4 {
		t.Errorf("Parallel.Partitions = %d, want 4", cfg.Parallel.Partitions)
	}
	// untouched sections keep their defaults
	if !cfg.Parallel.Enable {
		t.Error("Parallel.Enable should survive a partial merge")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestDecodeRejectsNonYaml(t *testing.T) {
	if err := Decode("config.json"); err == nil {
		t.Error("expected an error for a non-yaml suffix")
	}
}

func TestDecodeMissingFile(t *testing.T) {
	if err := Decode(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestBatchSizeClamps(t *testing.T) {
	snapshot(t)
	cfg := GetConfig()

	cfg.Batch.Size = 0
	if got := cfg.BatchSize(); got != 1 {
		t.Errorf("BatchSize() = %d, want 1", got)
	}
	cfg.Batch.Size = 1 << 20
	if got := cfg.BatchSize(); got != ^uint16(0) {
		t.Errorf("BatchSize() = %d, want %d", got, ^uint16(0))
	}
	cfg.Batch.Size = 4096
	if got := cfg.BatchSize(); got != 4096 {
		t.Errorf("BatchSize() = %d, want 4096", got)
	}
}

func TestWorkers(t *testing.T) {
	snapshot(t)
	cfg := GetConfig()

	cfg.Parallel.Enable = false
	if got := cfg.Workers(); got != 1 {
		t.Errorf("Workers() = %d, want 1 when disabled", got)
	}

	cfg.Parallel.Enable = true
	cfg.Parallel.Partitions = 3
	if got := cfg.Workers(); got != 3 {
		t.Errorf("Workers() = %d, want 3", got)
	}

	cfg.Parallel.Partitions = 0
	if got := cfg.Workers(); got != runtime.GOMAXPROCS(0) {
		t.Errorf("Workers() = %d, want GOMAXPROCS", got)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	snapshot(t)

	t.Setenv("TABQL_BATCH_SIZE", "256")
	t.Setenv("TABQL_MAX_ROWS", "5000")
	t.Setenv("TABQL_ENABLE_TRACE", "true")
	t.Setenv("TABQL_PARALLEL", "false")
	t.Setenv("TABQL_PARTITIONS", "8")
	t.Setenv("TABQL_LOG_LEVEL", "debug")
	LoadEnv()

	cfg := GetConfig()
	if cfg.Batch.Size != 256 {
		t.Errorf("Batch.Size = %d, want 256", cfg.Batch.Size)
	}
	if cfg.Ingest.MaxRows != 5000 {
		t.Errorf("Ingest.MaxRows = %d, want 5000", cfg.Ingest.MaxRows)
	}
	if !cfg.Query.EnableTrace {
		t.Error("EnableTrace not overridden")
	}
	if cfg.Parallel.Enable {
		t.Error("Parallel.Enable not overridden")
	}
	if cfg.Parallel.Partitions != 8 {
		t.Errorf("Parallel.Partitions = %d, want 8", cfg.Parallel.Partitions)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoadEnvIgnoresMalformedValues(t *testing.T) {
	snapshot(t)

	t.Setenv("TABQL_BATCH_SIZE", "lots")
	t.Setenv("TABQL_PARALLEL", "maybe")
	LoadEnv()

	cfg := GetConfig()
	if cfg.Batch.Size != 1024*8 {
		t.Errorf("Batch.Size = %d, want default kept", cfg.Batch.Size)
	}
	if !cfg.Parallel.Enable {
		t.Error("Parallel.Enable should keep its default")
	}
}
