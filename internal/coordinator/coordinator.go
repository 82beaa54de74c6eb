// Package coordinator implements the Transaction Manager: txn_id and
// commit_version allocation, the exact seven-step commit sequence, abort
// handling, and atomic engine operations that bypass transaction
// buffering.
//
// What: a single serialization point through which every commit passes ,
// validate, allocate a commit version, append to the WAL, apply to the
// store, mark committed.
package coordinator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"

	"stratadb/internal/errs"
	"stratadb/internal/snapshot"
	"stratadb/internal/store"
	"stratadb/internal/txn"
	"stratadb/internal/validate"
	"stratadb/internal/value"
	"stratadb/internal/wal"
)

// Metrics tracks active, started, committed, and aborted transaction
// counts. Each Coordinator owns its own prometheus.Registry rather than
// registering into the global default registry, so multiple embedded
// databases in one process never collide on metric names.
type Metrics struct {
	Registry  *prometheus.Registry
	Started   prometheus.Counter
	Committed prometheus.Counter
	Aborted   prometheus.Counter
	Active    prometheus.Gauge
}

// NewMetrics builds a fresh, self-registered Metrics set.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Started: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stratadb_transactions_started_total",
			Help: "Total number of transactions started.",
		}),
		Committed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stratadb_transactions_committed_total",
			Help: "Total number of transactions committed.",
		}),
		Aborted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stratadb_transactions_aborted_total",
			Help: "Total number of transactions aborted, including validation conflicts.",
		}),
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stratadb_transactions_active",
			Help: "Number of transactions currently open.",
		}),
	}
	reg.MustRegister(m.Started, m.Committed, m.Aborted, m.Active)
	return m
}

// CommitRate returns committed / started, or 0 if no transaction has
// started yet.
func (m *Metrics) CommitRate() float64 {
	started := counterValue(m.Started)
	if started == 0 {
		return 0
	}
	return counterValue(m.Committed) / started
}

func counterValue(c prometheus.Counter) float64 {
	var out dto.Metric
	if err := c.Write(&out); err != nil {
		return 0
	}
	return out.GetCounter().GetValue()
}

// Coordinator allocates txn_id and commit_version, drives the commit
// sequence, and reports transaction metrics.
type Coordinator struct {
	s      *store.Store
	w      *wal.WAL
	limits value.Limits
	log    zerolog.Logger

	nextTxnID uint64 // atomic

	mu      sync.Mutex
	metrics *Metrics
}

// New builds a Coordinator over s and w. startTxnID lets Recovery seed the
// txn_id counter past any id already observed in the WAL. limits bounds the
// shape of every value buffered through a transaction Context this
// Coordinator hands out.
func New(s *store.Store, w *wal.WAL, startTxnID uint64, limits value.Limits, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		s:         s,
		w:         w,
		limits:    limits,
		log:       log.With().Str("component", "coordinator").Logger(),
		nextTxnID: startTxnID,
		metrics:   NewMetrics(),
	}
}

// Metrics exposes the Coordinator's metric set, e.g. for an HTTP /metrics
// handler in the operator CLI.
func (c *Coordinator) Metrics() *Metrics { return c.metrics }

// LastTxnID returns the highest txn_id allocated so far, for the checkpoint
// writer (internal/checkpoint) to persist as a watermark alongside the
// store's commit version.
func (c *Coordinator) LastTxnID() uint64 { return atomic.LoadUint64(&c.nextTxnID) }

// Begin allocates a txn_id and pins a Snapshot View at the store's current
// version, returning a fresh transaction Context.
func (c *Coordinator) Begin(runID value.RunId) *txn.Context {
	id := atomic.AddUint64(&c.nextTxnID, 1)
	snap := snapshot.New(c.s, c.s.CurrentVersion())
	c.metrics.Started.Inc()
	c.metrics.Active.Inc()
	return txn.New(id, runID, snap, c.limits)
}

// Commit runs the exact seven-step commit sequence. On any conflict the
// transaction is marked Aborted and a Conflict error is returned; on WAL
// failure, likewise aborted with StorageError.
func (c *Coordinator) Commit(ctx *txn.Context) error {
	defer c.metrics.Active.Dec()

	// Step 1: caller marks transaction Validating.
	if err := ctx.MarkValidating(); err != nil {
		c.metrics.Aborted.Inc()
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	buf := ctx.Buffered()

	// Step 2: validate against the live store.
	result := validate.Validate(c.s, buf)
	if !result.Valid() {
		_ = ctx.MarkAborted()
		c.metrics.Aborted.Inc()
		c.log.Warn().Uint64("txn_id", ctx.TxnID).Int("conflicts", len(result.Conflicts)).Msg("transaction failed validation")
		return errs.New(errs.Conflict, "transaction %d failed validation: %d conflict(s)", ctx.TxnID, len(result.Conflicts)).
			WithDetails("conflicts", result.Conflicts)
	}

	// Step 3: allocate commit_version.
	commitVersion := c.s.CurrentVersion() + 1
	c.s.AdvanceVersion(commitVersion)

	nowUs := uint64(time.Now().UnixMicro())

	// Step 4: build the WAL entry group, BeginTxn, Write/Delete per
	// buffered op (CAS contributes a Write), CommitTxn, all at
	// commit_version.
	entries := make([]wal.Entry, 0, 2+len(buf.WriteSet)+len(buf.DeleteSet)+len(buf.CASSet))
	entries = append(entries, wal.Entry{
		Tag:   wal.TagBeginTxn,
		Begin: &wal.BeginTxn{TxnID: ctx.TxnID, RunID: ctx.RunID, TimestampUs: nowUs},
	})
	for _, w := range buf.WriteSet {
		entries = append(entries, wal.Entry{
			Tag:   wal.TagWrite,
			Write: &wal.Write{RunID: ctx.RunID, Key: w.Key, Value: w.Value, Version: commitVersion},
		})
	}
	for _, k := range buf.DeleteSet {
		entries = append(entries, wal.Entry{
			Tag:    wal.TagDelete,
			Delete: &wal.Delete{RunID: ctx.RunID, Key: k, Version: commitVersion},
		})
	}
	for _, op := range buf.CASSet {
		entries = append(entries, wal.Entry{
			Tag:   wal.TagWrite,
			Write: &wal.Write{RunID: ctx.RunID, Key: op.Key, Value: op.NewValue, Version: commitVersion},
		})
	}
	entries = append(entries, wal.Entry{
		Tag:    wal.TagCommitTxn,
		Commit: &wal.CommitTxn{TxnID: ctx.TxnID, RunID: ctx.RunID, CommitVersion: commitVersion},
	})

	// Steps 4-5: append under one logical write, flushed per durability
	// mode.
	if err := c.w.Append(entries, true); err != nil {
		_ = ctx.MarkAborted()
		c.metrics.Aborted.Inc()
		return errs.Wrap(errs.StorageError, err, "WAL append failed for transaction %d", ctx.TxnID)
	}

	// Step 6: apply to store.
	for _, w := range buf.WriteSet {
		c.s.PutWithVersion(w.Key, w.Value, commitVersion, nowUs, nil)
	}
	for _, k := range buf.DeleteSet {
		c.s.DeleteWithVersion(k, commitVersion, nowUs)
	}
	for _, op := range buf.CASSet {
		c.s.PutWithVersion(op.Key, op.NewValue, commitVersion, nowUs, nil)
	}

	// Step 7: mark committed.
	if err := ctx.MarkCommitted(); err != nil {
		return err
	}
	c.metrics.Committed.Inc()
	return nil
}

// Abort discards the transaction's buffer without writing to the WAL, no
// AbortTxn entry is emitted; recovery infers abort from a
// missing CommitTxn.
func (c *Coordinator) Abort(ctx *txn.Context) error {
	defer c.metrics.Active.Dec()
	if err := ctx.MarkAborted(); err != nil {
		return err
	}
	c.metrics.Aborted.Inc()
	return nil
}

// Incr performs an atomic read-modify-write on key, bypassing transaction
// buffering entirely, and emits the implicit single-op WAL sequence
// directly.
func (c *Coordinator) Incr(runID value.RunId, key value.Key, delta int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	txnID := atomic.AddUint64(&c.nextTxnID, 1)
	nowUs := uint64(time.Now().UnixMicro())

	// Compute the new value against the store first, WrongType/Overflow
	// must surface before the WAL or version counter are touched.
	current, err := c.s.PeekInt(key)
	if err != nil {
		return 0, err
	}
	next, err := store.CheckedAdd(current, delta)
	if err != nil {
		return 0, err
	}

	commitVersion := c.s.CurrentVersion() + 1
	entries := []wal.Entry{
		{Tag: wal.TagBeginTxn, Begin: &wal.BeginTxn{TxnID: txnID, RunID: runID, TimestampUs: nowUs}},
		{Tag: wal.TagWrite, Write: &wal.Write{RunID: runID, Key: key, Value: value.Int(next), Version: commitVersion}},
		{Tag: wal.TagCommitTxn, Commit: &wal.CommitTxn{TxnID: txnID, RunID: runID, CommitVersion: commitVersion}},
	}
	if err := c.w.Append(entries, true); err != nil {
		return 0, errs.Wrap(errs.StorageError, err, "WAL append failed for incr on txn %d", txnID)
	}

	c.s.AdvanceVersion(commitVersion)
	c.s.PutWithVersion(key, value.Int(next), commitVersion, nowUs, nil)

	c.metrics.Started.Inc()
	c.metrics.Committed.Inc()
	return next, nil
}
