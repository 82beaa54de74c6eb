// Package stratadb is the public embedding API for StrataDB: an
// in-process, single-writer, MVCC key/value substrate with OCC
// transactions, WAL durability, and time-travel reads.
//
// What: DB ties the Unified Store, the WAL, the Transaction Manager, crash
// recovery, the Facade Bridge, and the optional retention scheduler
// together behind one Open/Close lifecycle.
// How: Open loads the most recent checkpoint (if any), replays the WAL
// forward from that point, then constructs the WAL in append
// mode and a Coordinator seeded past every txn_id and commit_version
// already observed, so the next write is guaranteed not to collide with
// anything durable before the crash.
package stratadb

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"stratadb/internal/checkpoint"
	"stratadb/internal/coordinator"
	"stratadb/internal/errs"
	"stratadb/internal/facade"
	"stratadb/internal/recovery"
	"stratadb/internal/retention"
	"stratadb/internal/store"
	"stratadb/internal/txn"
	"stratadb/internal/value"
	"stratadb/internal/wal"
)

// ============================================================================
// Re-exported types, convenience aliases so callers need not import the
// internal packages directly.
// ============================================================================

// Value is StrataDB's canonical tagged value.
type Value = value.Value

// Key addresses one record: (Namespace, TypeTag, user key bytes).
type Key = value.Key

// Namespace scopes a Key to a tenant, application, agent, and run.
type Namespace = value.Namespace

// RunId identifies a logical scope within a namespace.
type RunId = value.RunId

// TypeTag distinguishes which primitive a Key belongs to.
type TypeTag = value.TypeTag

// Bound selects a GetAt time-travel target: a store version or a
// microsecond timestamp.
type Bound = store.Bound

// Tx is an explicit multi-operation transaction handle returned by
// BeginTx.
type Tx = txn.Context

// RetryConfig bounds TransactionWithRetry's backoff.
type RetryConfig = facade.RetryConfig

// Closure is the work a retrying or timed transaction performs.
type Closure = facade.Closure

// Metrics exposes the Coordinator's transaction counters.
type Metrics = coordinator.Metrics

// TypeTag constants, re-exported for callers constructing Keys directly.
const (
	TagKV          = value.TagKV
	TagEvent       = value.TagEvent
	TagState       = value.TagState
	TagTrace       = value.TagTrace
	TagRunMetadata = value.TagRunMetadata
	TagVector      = value.TagVector
	TagJSON        = value.TagJSON
)

// WAL durability modes, re-exported for WithDurabilityMode callers.
const (
	DurabilityStrict  = wal.ModeStrict
	DurabilityBatched = wal.ModeBatched
	DurabilityAsync   = wal.ModeAsync
)

// NewRunId generates a fresh run identifier.
func NewRunId() RunId { return value.NewRunId() }

// AtVersion builds a Bound targeting a specific store version.
func AtVersion(v uint64) Bound { return store.AtVersion(v) }

// AtTimestamp builds a Bound targeting a microsecond timestamp.
func AtTimestamp(us uint64) Bound { return store.AtTimestamp(us) }

// DefaultRetryConfig is the default backoff schedule for
// TransactionWithRetry.
func DefaultRetryConfig() RetryConfig { return facade.DefaultRetryConfig() }

// Value constructors, re-exported so callers can build Values without
// importing the internal value package.
func Bool(b bool) Value                    { return value.Bool(b) }
func Int(i int64) Value                    { return value.Int(i) }
func Float(f float64) Value                { return value.Float(f) }
func String(s string) Value                { return value.String(s) }
func Bytes(b []byte) Value                 { return value.Bytes(b) }
func Array(items []Value) Value            { return value.Array(items) }
func Object(fields map[string]Value) Value { return value.Object(fields) }

// ============================================================================
// DB
// ============================================================================

const (
	walDirName         = "wal"
	walFileName        = "current.wal"
	checkpointFileName = "checkpoint.gob.gz"
)

// WALPath returns the mandatory on-disk WAL location for a data directory:
// <dir>/wal/current.wal. Exposed for tools (the operator CLI's recover and
// inspect-wal subcommands) that read the WAL without a full Open.
func WALPath(dir string) string {
	return filepath.Join(dir, walDirName, walFileName)
}

// DB is an open StrataDB instance rooted at one data directory. The zero
// value is not usable; construct with Open.
type DB struct {
	dir     string
	opts    Options
	s       *store.Store
	w       *wal.WAL
	coord   *coordinator.Coordinator
	bridge  *facade.Bridge
	sweeper *retention.Sweeper
	log     zerolog.Logger
}

// Open opens (creating if necessary) a StrataDB data directory at dir.
//
// Recovery runs synchronously before Open returns: a checkpoint
// is loaded if present, the WAL is replayed forward from the checkpoint's
// watermark, and the Coordinator is seeded past the highest txn_id and
// commit_version observed. Only after that does Open construct the WAL in
// append mode, so no new write can be accepted until the substrate's state
// is fully reconstructed.
func Open(dir string, optFns ...Option) (*DB, error) {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	log := opts.Logger.With().Str("component", "stratadb").Str("dir", dir).Logger()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.StorageError, err, "create data directory %q", dir)
	}
	walDir := filepath.Join(dir, walDirName)
	if err := os.MkdirAll(walDir, 0o755); err != nil {
		return nil, errs.Wrap(errs.StorageError, err, "create WAL directory %q", walDir)
	}

	walPath := filepath.Join(walDir, walFileName)
	checkpointPath := filepath.Join(dir, checkpointFileName)

	s, meta, err := checkpoint.LoadFromFile(checkpointPath, log)
	if err != nil {
		return nil, errs.Wrap(errs.StorageError, err, "load checkpoint %q", checkpointPath)
	}

	result, err := recovery.ReplayFrom(walPath, s, meta.FinalVersion, log)
	if err != nil {
		return nil, err
	}
	if result.Corruption != nil {
		log.Warn().Int64("offset", result.Corruption.Offset).Str("reason", result.Corruption.Reason).
			Msg("WAL corruption detected during recovery; truncated tail discarded")
	}

	startTxnID := result.FinalTxnID
	if meta.FinalTxnID > startTxnID {
		startTxnID = meta.FinalTxnID
	}

	w, err := wal.Open(walPath, wal.Config{
		Mode:          opts.DurabilityMode,
		BatchN:        opts.BatchN,
		FlushInterval: opts.FlushInterval,
	}, log)
	if err != nil {
		return nil, err
	}

	coord := coordinator.New(s, w, startTxnID, opts.Limits, log)
	db := &DB{
		dir:    dir,
		opts:   opts,
		s:      s,
		w:      w,
		coord:  coord,
		bridge: facade.New(coord, s),
		log:    log,
	}

	if opts.RetentionCron != "" {
		sw := retention.NewSweeper(s, opts.RetentionPolicy, log)
		if err := sw.Start(opts.RetentionCron); err != nil {
			_ = w.Close()
			return nil, errs.Wrap(errs.InternalError, err, "start retention scheduler %q", opts.RetentionCron)
		}
		db.sweeper = sw
	}

	log.Info().
		Int("committed_txns", result.CommittedTxns).
		Int("incomplete_txns", result.IncompleteTxns).
		Int("orphan_mutations", result.OrphanMutations).
		Uint64("version", s.CurrentVersion()).
		Msg("opened")

	return db, nil
}

// Close stops the retention scheduler (if running), optionally writes a
// final checkpoint, and flushes and closes the WAL, always performing a
// mandatory final fsync.
func (db *DB) Close() error {
	if db.sweeper != nil {
		db.sweeper.Stop()
	}
	if db.opts.CheckpointOnClose {
		if err := db.Checkpoint(); err != nil {
			db.log.Error().Err(err).Msg("checkpoint on close failed; WAL replay alone will still recover state")
		}
	}
	return db.w.Close()
}

// Checkpoint writes a full-store snapshot to the data directory's
// checkpoint file, for shortening WAL replay on the next Open. It is never
// load-bearing for correctness: the WAL remains the single source of truth.
func (db *DB) Checkpoint() error {
	meta := checkpoint.Meta{
		FinalVersion: db.s.CurrentVersion(),
		FinalTxnID:   db.coord.LastTxnID(),
	}
	path := filepath.Join(db.dir, checkpointFileName)
	if err := checkpoint.SaveToFile(db.s, meta, path); err != nil {
		return errs.Wrap(errs.StorageError, err, "write checkpoint %q", path)
	}
	db.log.Info().Uint64("version", meta.FinalVersion).Msg("checkpoint written")
	return nil
}

// Metrics exposes the Coordinator's transaction counters.
func (db *DB) Metrics() *Metrics { return db.coord.Metrics() }

// RunRetentionSweep runs one retention pass immediately, regardless of
// whether a cron schedule is configured, returning the number of keys
// trimmed. Useful for tests and for the operator CLI.
func (db *DB) RunRetentionSweep() int {
	sw := retention.NewSweeper(db.s, db.opts.RetentionPolicy, db.log)
	return sw.Sweep()
}

// NewKey validates user against this DB's configured key-length limit and
// returns a Key. Use this instead of value.NewKey when WithLimits or
// WithMaxKeyBytes overrides the default.
func (db *DB) NewKey(ns Namespace, tag TypeTag, user []byte) (Key, error) {
	maxBytes := db.opts.Limits.MaxKeyBytes
	if maxBytes <= 0 {
		return value.NewKey(ns, tag, user)
	}
	if err := value.ValidateUserKeyWithLimit(user, maxBytes); err != nil {
		return Key{}, err
	}
	cp := make([]byte, len(user))
	copy(cp, user)
	return Key{Namespace: ns, Tag: tag, User: cp}, nil
}

// ============================================================================
// Facade Bridge delegation, implicit single-op transactions.
// ============================================================================

// Put desugars to a one-write transaction committed immediately.
func (db *DB) Put(runID RunId, key Key, v Value) error {
	return db.bridge.Put(runID, key, v)
}

// Get is a direct snapshot read, never buffered and never Conflict.
func (db *DB) Get(key Key) (Value, bool, error) {
	return db.bridge.Get(key)
}

// GetAt is a direct time-travel read bounded by bound.
func (db *DB) GetAt(key Key, bound Bound) (Value, bool, error) {
	return db.bridge.GetAt(key, bound)
}

// Delete desugars to a one-delete transaction committed immediately.
func (db *DB) Delete(runID RunId, key Key) error {
	return db.bridge.Delete(runID, key)
}

// CAS desugars to a one-compare-and-swap transaction committed immediately.
func (db *DB) CAS(runID RunId, key Key, expectedVersion uint64, newValue Value) error {
	return db.bridge.CAS(runID, key, expectedVersion, newValue)
}

// Incr performs an atomic read-modify-write, bypassing transaction
// buffering entirely.
func (db *DB) Incr(runID RunId, key Key, delta int64) (int64, error) {
	return db.bridge.Incr(runID, key, delta)
}

// TransactionWithRetry runs fn inside a fresh transaction, retrying
// Conflict with exponential backoff up to cfg.MaxRetries.
func (db *DB) TransactionWithRetry(runID RunId, cfg RetryConfig, fn Closure) error {
	return db.bridge.TransactionWithRetry(runID, cfg, fn)
}

// TransactionWithTimeout runs fn inside a fresh transaction, marking it
// Expired if deadline passes before commit.
func (db *DB) TransactionWithTimeout(runID RunId, deadline time.Time, fn Closure) error {
	return db.bridge.TransactionWithTimeout(runID, deadline, fn)
}

// ============================================================================
// Explicit multi-operation transactions.
// ============================================================================

// BeginTx allocates a txn_id and pins a snapshot for an explicit,
// multi-operation transaction. The caller must eventually call Commit or
// Abort.
func (db *DB) BeginTx(runID RunId) *Tx {
	return db.coord.Begin(runID)
}

// Commit runs the seven-step commit sequence against ctx.
func (db *DB) Commit(ctx *Tx) error {
	return db.coord.Commit(ctx)
}

// Abort discards ctx's buffered work without writing to the WAL.
func (db *DB) Abort(ctx *Tx) error {
	return db.coord.Abort(ctx)
}
