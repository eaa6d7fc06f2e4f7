// Package config defines the tunables consumed by every other package:
// memtable sizing, bloom filter shape, level geometry, block/file sizes,
// WAL sync policy, and open-time behavior. Options is YAML-decodable with
// github.com/goccy/go-yaml and validated with go-playground/validator
// struct tags, mirroring how the rest of the node configures itself.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
)

// SyncMode controls when a WAL append is fsync'd.
type SyncMode string

const (
	SyncAlways     SyncMode = "always"
	SyncBatch      SyncMode = "batch"
	SyncIntervalMs SyncMode = "interval_ms"
)

// Logger configures the process-wide slog.Logger the way cmd/lsmdb's
// initLogger does.
type Logger struct {
	Level string `yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// Options are the engine's configurable tunables (spec §6).
type Options struct {
	Logger Logger `yaml:"logger" validate:"required"`

	MemtableSizeBytes  int64 `yaml:"memtable_size" validate:"required,min=1"`
	BloomFilterBits    int   `yaml:"bloom_filter_bits" validate:"min=0,max=30"`
	MaxLevel           int   `yaml:"max_level" validate:"required,min=1,max=32"`
	Level0SizeBytes    int64 `yaml:"level0_size" validate:"required,min=1"`
	SizeRatio          int   `yaml:"size_ratio" validate:"required,min=2"`
	L0CompactionTrigger int  `yaml:"l0_compaction_trigger" validate:"required,min=1"`
	L0Slowdown         int   `yaml:"l0_slowdown" validate:"required,min=1"`
	L0Stop             int   `yaml:"l0_stop" validate:"required,min=1"`
	BlockSizeBytes     int   `yaml:"block_size" validate:"required,min=64"`
	TargetSSTSizeBytes int64 `yaml:"target_sst_size" validate:"required,min=1"`

	WALSyncMode     SyncMode `yaml:"wal_sync_mode" validate:"required,oneof=always batch interval_ms"`
	WALSyncInterval int      `yaml:"wal_sync_interval_ms" validate:"min=0"`

	ReadOnly        bool `yaml:"read_only"`
	CreateIfMissing bool `yaml:"create_if_missing"`
	ErrorIfExists   bool `yaml:"error_if_exists"`

	// VerifyChecksumsOnRead makes SSTable readers reject a data block
	// shorter than 4 bytes as it is read from disk. Data blocks carry no
	// CRC, so this is a length check only; it applies to reads and to
	// compaction inputs alike. Off by default (hot path).
	VerifyChecksumsOnRead bool `yaml:"verify_checksums_on_read"`

	// BlockCacheCapacity bounds the LRU of raw data block bytes shared by
	// every open SSTable reader.
	BlockCacheCapacity int `yaml:"block_cache_capacity" validate:"required,min=1"`

	// ManifestCompactEditThreshold rewrites the manifest log into a single
	// edit once it accumulates this many edits since the last rewrite.
	ManifestCompactEditThreshold int `yaml:"manifest_compact_edit_threshold" validate:"required,min=1"`
}

// Default returns the engine's documented defaults.
func Default() Options {
	return Options{
		Logger: Logger{
			Level: "INFO",
			JSON:  false,
		},
		MemtableSizeBytes:           4 * 1024 * 1024,
		BloomFilterBits:             10,
		MaxLevel:                    7,
		Level0SizeBytes:             4 * 1024 * 1024,
		SizeRatio:                   10,
		L0CompactionTrigger:         4,
		L0Slowdown:                  8,
		L0Stop:                      12,
		BlockSizeBytes:              4 * 1024,
		TargetSSTSizeBytes:          2 * 1024 * 1024,
		WALSyncMode:                 SyncBatch,
		WALSyncInterval:             0,
		ReadOnly:                    false,
		CreateIfMissing:             true,
		ErrorIfExists:               false,
		VerifyChecksumsOnRead:       false,
		BlockCacheCapacity:          4096,
		ManifestCompactEditThreshold: 1000,
	}
}

var validate = validator.New()

// Validate enforces the struct's validate tags.
func (o Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	if o.L0Stop < o.L0Slowdown {
		return fmt.Errorf("invalid options: l0_stop (%d) must be >= l0_slowdown (%d)", o.L0Stop, o.L0Slowdown)
	}
	if o.L0Slowdown < o.L0CompactionTrigger {
		return fmt.Errorf("invalid options: l0_slowdown (%d) must be >= l0_compaction_trigger (%d)", o.L0Slowdown, o.L0CompactionTrigger)
	}
	return nil
}

// Load reads YAML options from path, falling back to Default() if the file
// does not exist.
func Load(path string) (Options, error) {
	opts := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return opts, nil
		}
		return opts, fmt.Errorf("read options file: %w", err)
	}

	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("parse options file: %w", err)
	}

	if err := opts.Validate(); err != nil {
		return opts, err
	}

	return opts, nil
}
