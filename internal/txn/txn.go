// Package txn implements the Transaction Context: a per-transaction buffer
// of reads, writes, deletes, and CAS ops, plus the transaction's lifecycle
// state machine.
//
// What: read-your-writes buffering over a pinned Snapshot View, with an
// explicit state field and guarded setters rather than scattered booleans.
package txn

import (
	"sync"

	"stratadb/internal/errs"
	"stratadb/internal/snapshot"
	"stratadb/internal/value"
)

// State is a transaction's lifecycle state. Transitions are enumerated in
// Context's guarded setters; any transition not listed there fails
// Conflict (stale) rather than silently succeeding.
type State uint8

const (
	StateActive State = iota
	StateValidating
	StateCommitted
	StateAborted
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateValidating:
		return "validating"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

func (s State) terminal() bool {
	return s == StateCommitted || s == StateAborted || s == StateExpired
}

// CASOp is one buffered compare-and-swap request. CASOps are kept in
// insertion order and are never added to ReadSet.
type CASOp struct {
	Key             value.Key
	ExpectedVersion uint64
	NewValue        value.Value
}

type readEntry struct {
	Key     value.Key
	Version uint64 // 0 if the key was absent when read
}

type writeEntry struct {
	Key   value.Key
	Value value.Value
}

// Context buffers one transaction's work. It is not safe for concurrent
// use by multiple goroutines issuing operations simultaneously, a single
// logical caller drives one Context under a per-transaction ownership
// model, but the lifecycle state is mutex-guarded so a concurrent
// timeout goroutine can call MarkExpired safely.
type Context struct {
	TxnID        uint64
	RunID        value.RunId
	snap         *snapshot.View
	StartVersion uint64
	limits       value.Limits

	mu          sync.Mutex
	state       State
	readSet     map[string]readEntry
	writeSet    map[string]writeEntry
	writeOrder  []string // encoded keys, in order of first entry into writeSet
	deleteSet   map[string]value.Key
	deleteOrder []string // encoded keys, in order of first entry into deleteSet
	casSet      []CASOp
}

// New starts a transaction buffer pinned at snap, enforcing limits on every
// buffered Put and CAS.
func New(txnID uint64, runID value.RunId, snap *snapshot.View, limits value.Limits) *Context {
	return &Context{
		TxnID:        txnID,
		RunID:        runID,
		snap:         snap,
		StartVersion: snap.Version(),
		limits:       limits,
		state:        StateActive,
		readSet:      make(map[string]readEntry),
		writeSet:     make(map[string]writeEntry),
		deleteSet:    make(map[string]value.Key),
	}
}

// State returns the current lifecycle state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Context) requireActiveLocked() error {
	if c.state != StateActive {
		return errs.New(errs.Conflict, "transaction %d is %s, not active", c.TxnID, c.state).
			WithDetails("reason", "stale")
	}
	return nil
}

// Get implements read-your-writes: write_set, then delete_set (returns
// none), else the pinned snapshot, recording the observed version into
// read_set.
func (c *Context) Get(key value.Key) (value.Value, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireActiveLocked(); err != nil {
		return value.Value{}, false, err
	}

	enc := string(key.Encode())
	if w, ok := c.writeSet[enc]; ok {
		return w.Value, true, nil
	}
	if _, ok := c.deleteSet[enc]; ok {
		return value.Value{}, false, nil
	}

	vv, ok, err := c.snap.Get(key)
	if err != nil {
		return value.Value{}, false, err
	}
	observed := uint64(0)
	if ok {
		observed = vv.Version
	}
	c.readSet[enc] = readEntry{Key: key, Version: observed}
	if !ok {
		return value.Value{}, false, nil
	}
	return vv.Value, true, nil
}

// Put buffers a write, removing any pending delete of the same key. v must
// satisfy the transaction's configured Limits or Put returns
// ConstraintViolation without buffering anything.
func (c *Context) Put(key value.Key, v value.Value) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireActiveLocked(); err != nil {
		return err
	}
	if err := c.limits.Validate(v); err != nil {
		return err
	}
	enc := string(key.Encode())
	c.removeFromDeleteSetLocked(enc)
	if _, existed := c.writeSet[enc]; !existed {
		c.writeOrder = append(c.writeOrder, enc)
	}
	c.writeSet[enc] = writeEntry{Key: key, Value: v}
	return nil
}

func (c *Context) removeFromDeleteSetLocked(enc string) bool {
	if _, ok := c.deleteSet[enc]; !ok {
		return false
	}
	delete(c.deleteSet, enc)
	for i, e := range c.deleteOrder {
		if e == enc {
			c.deleteOrder = append(c.deleteOrder[:i], c.deleteOrder[i+1:]...)
			break
		}
	}
	return true
}

func (c *Context) removeFromWriteSetLocked(enc string) bool {
	if _, ok := c.writeSet[enc]; !ok {
		return false
	}
	delete(c.writeSet, enc)
	for i, e := range c.writeOrder {
		if e == enc {
			c.writeOrder = append(c.writeOrder[:i], c.writeOrder[i+1:]...)
			break
		}
	}
	return true
}

// Delete buffers a delete, removing any pending write of the same key.
func (c *Context) Delete(key value.Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireActiveLocked(); err != nil {
		return err
	}
	enc := string(key.Encode())
	c.removeFromWriteSetLocked(enc)
	if _, existed := c.deleteSet[enc]; !existed {
		c.deleteOrder = append(c.deleteOrder, enc)
	}
	c.deleteSet[enc] = key
	return nil
}

// CAS buffers a compare-and-swap. It does not touch read_set: CAS
// conflicts are detected by the Validator comparing against the live
// store at commit time, not against the transaction's own reads.
func (c *Context) CAS(key value.Key, expectedVersion uint64, newValue value.Value) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireActiveLocked(); err != nil {
		return err
	}
	if err := c.limits.Validate(newValue); err != nil {
		return err
	}
	c.casSet = append(c.casSet, CASOp{Key: key, ExpectedVersion: expectedVersion, NewValue: newValue})
	return nil
}

// MarkValidating transitions Active -> Validating.
func (c *Context) MarkValidating() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return errs.New(errs.Conflict, "transaction %d is %s, cannot validate", c.TxnID, c.state).
			WithDetails("reason", "stale")
	}
	c.state = StateValidating
	return nil
}

// MarkCommitted transitions Validating -> Committed.
func (c *Context) MarkCommitted() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateValidating {
		return errs.New(errs.Conflict, "transaction %d is %s, cannot commit", c.TxnID, c.state).
			WithDetails("reason", "stale")
	}
	c.state = StateCommitted
	return nil
}

// MarkAborted transitions Active or Validating -> Aborted. Aborting an
// already-terminal transaction is a no-op success, matching idempotent
// abort semantics callers rely on during cleanup.
func (c *Context) MarkAborted() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.terminal() {
		return nil
	}
	c.state = StateAborted
	return nil
}

// MarkExpired transitions Active or Validating -> Expired, for
// transaction_with_timeout. Any operation after this returns
// Conflict:stale.
func (c *Context) MarkExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.terminal() {
		c.state = StateExpired
	}
}

// Snapshot returns a read-only copy of the buffered sets for the
// Validator and the commit applier. It does not mutate the Context.
type Snapshot struct {
	ReadSet   map[string]ReadRecord
	WriteSet  []WriteRecord
	DeleteSet []value.Key
	CASSet    []CASOp
}

type ReadRecord struct {
	Key     value.Key
	Version uint64
}

type WriteRecord struct {
	Key   value.Key
	Value value.Value
}

// Buffered returns the transaction's buffered work in the stable order
// WAL emission requires: writes and deletes appear in insertion order.
func (c *Context) Buffered() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	reads := make(map[string]ReadRecord, len(c.readSet))
	for enc, r := range c.readSet {
		reads[enc] = ReadRecord{Key: r.Key, Version: r.Version}
	}

	writes := make([]WriteRecord, 0, len(c.writeOrder))
	for _, enc := range c.writeOrder {
		w := c.writeSet[enc]
		writes = append(writes, WriteRecord{Key: w.Key, Value: w.Value})
	}

	deletes := make([]value.Key, 0, len(c.deleteOrder))
	for _, enc := range c.deleteOrder {
		deletes = append(deletes, c.deleteSet[enc])
	}

	cas := make([]CASOp, len(c.casSet))
	copy(cas, c.casSet)

	return Snapshot{ReadSet: reads, WriteSet: writes, DeleteSet: deletes, CASSet: cas}
}
