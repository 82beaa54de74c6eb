package stratadb

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"stratadb/internal/retention"
	"stratadb/internal/value"
	"stratadb/internal/wal"
)

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	if o.DurabilityMode != wal.ModeBatched {
		t.Fatalf("expected default durability mode Batched, got %v", o.DurabilityMode)
	}
	if o.RetentionPolicy.Kind != retention.KeepAll {
		t.Fatalf("expected default retention KeepAll, got %v", o.RetentionPolicy.Kind)
	}
	if o.Limits != value.DefaultLimits() {
		t.Fatalf("expected default Limits, got %+v", o.Limits)
	}
}

func TestWithMaxKeyBytesOverridesOnlyKeyLimit(t *testing.T) {
	o := DefaultOptions()
	WithMaxKeyBytes(64)(&o)
	if o.Limits.MaxKeyBytes != 64 {
		t.Fatalf("expected MaxKeyBytes=64, got %d", o.Limits.MaxKeyBytes)
	}
	if o.Limits.MaxStringBytes != value.DefaultLimits().MaxStringBytes {
		t.Fatal("expected WithMaxKeyBytes to leave other Limits fields untouched")
	}
}

func TestWithLimitsReplacesWholeStruct(t *testing.T) {
	o := DefaultOptions()
	custom := value.Limits{MaxKeyBytes: 32, MaxNestingDepth: 4, MaxValueBytesEncoded: 1024}
	WithLimits(custom)(&o)
	if o.Limits != custom {
		t.Fatalf("expected Limits replaced wholesale, got %+v", o.Limits)
	}
}

func TestLoadOptionsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stratadb.yaml")
	yaml := []byte(`
durability: strict
batch_n: 50
flush_interval_ms: 10
retention_kind: keep_last
retention_count: 20
retention_cron: "*/30 * * * * *"
checkpoint_on_close: true
`)
	if err := os.WriteFile(path, yaml, 0o644); err != nil {
		t.Fatal(err)
	}

	opts, err := LoadOptionsFile(path)
	if err != nil {
		t.Fatalf("LoadOptionsFile: %v", err)
	}
	if opts.DurabilityMode != wal.ModeStrict {
		t.Fatalf("expected Strict, got %v", opts.DurabilityMode)
	}
	if opts.BatchN != 50 {
		t.Fatalf("expected BatchN=50, got %d", opts.BatchN)
	}
	if opts.FlushInterval != 10*time.Millisecond {
		t.Fatalf("expected 10ms flush interval, got %v", opts.FlushInterval)
	}
	if opts.RetentionPolicy.Kind != retention.KeepLast || opts.RetentionPolicy.Count != 20 {
		t.Fatalf("expected KeepLast(20), got %+v", opts.RetentionPolicy)
	}
	if opts.RetentionCron != "*/30 * * * * *" {
		t.Fatalf("expected retention cron preserved, got %q", opts.RetentionCron)
	}
	if !opts.CheckpointOnClose {
		t.Fatal("expected checkpoint_on_close: true to be honored")
	}
}

func TestLoadOptionsFileRejectsUnknownDurability(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("durability: sometimes\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOptionsFile(path); err == nil {
		t.Fatal("expected an error for an unrecognized durability mode")
	}
}

func TestLoadOptionsFileMissingIsError(t *testing.T) {
	if _, err := LoadOptionsFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
