package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault_Validates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() options failed validation: %v", err)
	}
}

func TestValidate_RejectsMissingRequiredFields(t *testing.T) {
	opts := Options{}
	if err := opts.Validate(); err == nil {
		t.Fatalf("expected validation error for zero-value Options")
	}
}

func TestValidate_RejectsInvertedL0Thresholds(t *testing.T) {
	opts := Default()
	opts.L0Slowdown = 4
	opts.L0Stop = 2
	if err := opts.Validate(); err == nil {
		t.Fatalf("expected error when l0_stop < l0_slowdown")
	}
}

func TestValidate_RejectsCompactionTriggerAboveSlowdown(t *testing.T) {
	opts := Default()
	opts.L0CompactionTrigger = 20
	opts.L0Slowdown = 8
	if err := opts.Validate(); err == nil {
		t.Fatalf("expected error when l0_slowdown < l0_compaction_trigger")
	}
}

func TestLoad_FallsBackToDefaultWhenFileMissing(t *testing.T) {
	opts, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load on missing file returned error: %v", err)
	}
	if opts.MemtableSizeBytes != Default().MemtableSizeBytes {
		t.Fatalf("expected default options when config file is absent")
	}
}

func TestLoad_ParsesYAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lsmdb.yaml")
	yamlBody := "logger:\n  level: DEBUG\n  json: true\nmemtable_size: 1048576\nbloom_filter_bits: 10\nmax_level: 5\nlevel0_size: 1048576\nsize_ratio: 10\nl0_compaction_trigger: 2\nl0_slowdown: 4\nl0_stop: 6\nblock_size: 4096\ntarget_sst_size: 2097152\nwal_sync_mode: always\nwal_sync_interval_ms: 0\ncreate_if_missing: true\nblock_cache_capacity: 100\nmanifest_compact_edit_threshold: 100\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}

	opts, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if opts.MaxLevel != 5 {
		t.Fatalf("MaxLevel = %d, want 5", opts.MaxLevel)
	}
	if opts.WALSyncMode != SyncAlways {
		t.Fatalf("WALSyncMode = %q, want %q", opts.WALSyncMode, SyncAlways)
	}
	if !opts.Logger.JSON {
		t.Fatalf("expected Logger.JSON to be true")
	}
}
