package stratadb

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"stratadb/internal/retention"
	"stratadb/internal/value"
	"stratadb/internal/wal"
)

// Options configures Open. Assembled via functional options over
// DefaultOptions.
type Options struct {
	// DurabilityMode selects the WAL's fsync policy.
	DurabilityMode wal.Mode
	// BatchN is the commit count threshold for ModeBatched; 0 uses
	// wal.DefaultBatchN.
	BatchN int
	// FlushInterval is the time threshold for ModeBatched and the
	// background flush period for ModeAsync; 0 uses wal.DefaultFlushInterval.
	FlushInterval time.Duration
	// Limits bounds the size and shape of every value and key accepted at
	// the write boundary (Put, CAS, BeginTx-buffered writes). Violations
	// surface as ConstraintViolation.
	Limits value.Limits
	// RetentionPolicy governs version-chain trimming.
	RetentionPolicy retention.Policy
	// RetentionCron is a seconds-resolution cron expression for the
	// retention sweeper. Empty disables the background scheduler entirely
	// (a sweep can still be run on demand by calling DB.RunRetentionSweep).
	RetentionCron string
	// CheckpointOnClose writes a fresh checkpoint file during Close, so the
	// next Open has a shorter WAL tail to replay.
	CheckpointOnClose bool
	// Logger is the base logger every component derives its own
	// component-tagged child from.
	Logger zerolog.Logger
}

// DefaultOptions returns StrataDB's defaults: Batched durability, KeepAll
// retention with no scheduled sweeps, no checkpoint-on-close, and a no-op
// logger.
func DefaultOptions() Options {
	return Options{
		DurabilityMode:    wal.ModeBatched,
		BatchN:            wal.DefaultBatchN,
		FlushInterval:     wal.DefaultFlushInterval,
		Limits:            value.DefaultLimits(),
		RetentionPolicy:   retention.KeepAllPolicy(),
		RetentionCron:     "",
		CheckpointOnClose: false,
		Logger:            zerolog.Nop(),
	}
}

// Option mutates an Options in place, built via the With* constructors.
type Option func(*Options)

// WithDurabilityMode overrides the WAL's fsync policy.
func WithDurabilityMode(m wal.Mode) Option {
	return func(o *Options) { o.DurabilityMode = m }
}

// WithBatchWindow overrides ModeBatched's commit-count and time thresholds.
func WithBatchWindow(n int, interval time.Duration) Option {
	return func(o *Options) { o.BatchN = n; o.FlushInterval = interval }
}

// WithLimits overrides the full set of key and value-shape bounds enforced
// at the write boundary.
func WithLimits(l value.Limits) Option {
	return func(o *Options) { o.Limits = l }
}

// WithMaxKeyBytes overrides only the maximum encoded user-key length,
// leaving every other Limits field at its current value.
func WithMaxKeyBytes(n int) Option {
	return func(o *Options) { o.Limits.MaxKeyBytes = n }
}

// WithRetentionPolicy sets the version-chain retention rule.
func WithRetentionPolicy(p retention.Policy) Option {
	return func(o *Options) { o.RetentionPolicy = p }
}

// WithRetentionCron enables a background retention sweep on the given
// seconds-resolution cron schedule.
func WithRetentionCron(expr string) Option {
	return func(o *Options) { o.RetentionCron = expr }
}

// WithCheckpointOnClose enables writing a full checkpoint on Close.
func WithCheckpointOnClose(b bool) Option {
	return func(o *Options) { o.CheckpointOnClose = b }
}

// WithLogger overrides the base logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// fileOptions is the YAML shape accepted by LoadOptionsFile and the
// operator CLI's --config flag.
type fileOptions struct {
	Durability        string `yaml:"durability"`
	BatchN            int    `yaml:"batch_n"`
	FlushIntervalMs   int    `yaml:"flush_interval_ms"`
	MaxKeyBytes       int    `yaml:"max_key_bytes"`
	RetentionKind     string `yaml:"retention_kind"`
	RetentionCount    int    `yaml:"retention_count"`
	RetentionForSecs  int    `yaml:"retention_for_seconds"`
	RetentionCron     string `yaml:"retention_cron"`
	CheckpointOnClose bool   `yaml:"checkpoint_on_close"`
}

// LoadOptionsFile reads a YAML config file into an Options, starting from
// DefaultOptions for any field the file omits.
func LoadOptionsFile(path string) (Options, error) {
	opts := DefaultOptions()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("read config %q: %w", path, err)
	}

	var fo fileOptions
	if err := yaml.Unmarshal(raw, &fo); err != nil {
		return Options{}, fmt.Errorf("parse config %q: %w", path, err)
	}

	if fo.Durability != "" {
		mode, err := parseDurabilityMode(fo.Durability)
		if err != nil {
			return Options{}, err
		}
		opts.DurabilityMode = mode
	}
	if fo.BatchN > 0 {
		opts.BatchN = fo.BatchN
	}
	if fo.FlushIntervalMs > 0 {
		opts.FlushInterval = time.Duration(fo.FlushIntervalMs) * time.Millisecond
	}
	if fo.MaxKeyBytes > 0 {
		opts.Limits.MaxKeyBytes = fo.MaxKeyBytes
	}
	if fo.RetentionCron != "" {
		opts.RetentionCron = fo.RetentionCron
	}
	opts.CheckpointOnClose = fo.CheckpointOnClose

	policy, err := parseRetentionPolicy(fo)
	if err != nil {
		return Options{}, err
	}
	if policy != nil {
		opts.RetentionPolicy = *policy
	}

	return opts, nil
}

func parseDurabilityMode(s string) (wal.Mode, error) {
	switch s {
	case "strict":
		return wal.ModeStrict, nil
	case "batched":
		return wal.ModeBatched, nil
	case "async":
		return wal.ModeAsync, nil
	default:
		return 0, fmt.Errorf("unknown durability mode %q (want strict, batched, or async)", s)
	}
}

func parseRetentionPolicy(fo fileOptions) (*retention.Policy, error) {
	switch fo.RetentionKind {
	case "":
		return nil, nil
	case "keep_all":
		p := retention.KeepAllPolicy()
		return &p, nil
	case "keep_last":
		p := retention.KeepLastPolicy(fo.RetentionCount)
		return &p, nil
	case "keep_for":
		p := retention.KeepForPolicy(time.Duration(fo.RetentionForSecs) * time.Second)
		return &p, nil
	case "composite":
		p := retention.CompositePolicy(fo.RetentionCount, time.Duration(fo.RetentionForSecs)*time.Second)
		return &p, nil
	default:
		return nil, fmt.Errorf("unknown retention_kind %q", fo.RetentionKind)
	}
}
