// Package store implements the Unified Store: the single, process-wide,
// versioned keyspace all six primitives are built on.
//
// What: a sorted map from Key to an append-only version chain, with
// RunId and TypeTag secondary indices, behind a monotonic global version
// counter.
// How: one exclusive writer path (sync.RWMutex) and lock-free-feeling
// readers that merely take the read lock briefly.
// Why: readers must never block each other, and the writer path must be
// the only place version numbers are assigned, or monotonic versions
// cannot be guaranteed.
package store

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"stratadb/internal/errs"
	"stratadb/internal/value"
)

// VersionedValue is a single entry in a key's version chain: either a live
// record or a tombstone.
type VersionedValue struct {
	Value       value.Value
	Version     uint64
	TimestampUs uint64
	TTL         *uint64 // optional, microsecond TTL relative to TimestampUs; nil means no expiry
	Deleted     bool
}

// chain is one key's append-only version history, oldest entry first.
// trimmedFloor is the floor of the most recent trim that removed entries:
// every version below it has been removed by retention. Zero means
// nothing has been trimmed, and time travel below the first entry simply
// means "didn't exist yet", not HistoryTrimmed.
type chain struct {
	entries      []VersionedValue
	trimmedFloor uint64
}

func (c *chain) newestLive() (VersionedValue, bool) {
	if len(c.entries) == 0 {
		return VersionedValue{}, false
	}
	last := c.entries[len(c.entries)-1]
	if last.Deleted {
		return VersionedValue{}, false
	}
	return last, true
}

// atOrBeforeVersion returns the newest entry with Version <= version, and whether
// the lookup fell below the retained floor (HistoryTrimmed territory).
func (c *chain) atOrBeforeVersion(version uint64) (VersionedValue, bool, bool) {
	i := sort.Search(len(c.entries), func(i int) bool { return c.entries[i].Version > version })
	if i == 0 {
		return VersionedValue{}, false, version < c.trimmedFloor && c.trimmedFloor > 0
	}
	return c.entries[i-1], true, false
}

func (c *chain) atOrBeforeTimestamp(tsUs uint64) (VersionedValue, bool, bool) {
	i := sort.Search(len(c.entries), func(i int) bool { return c.entries[i].TimestampUs > tsUs })
	if i == 0 {
		trimmed := c.trimmedFloor > 0 && len(c.entries) > 0 && tsUs < c.entries[0].TimestampUs
		return VersionedValue{}, false, trimmed
	}
	return c.entries[i-1], true, false
}

// Store is the Unified Store: the single source of truth for all live
// data. The zero value is not usable; construct with New.
type Store struct {
	mu        sync.RWMutex
	chains    map[string]*chain
	order     []string // encoded keys, sorted, see value.Key.Encode
	keys      map[string]value.Key
	runIndex  map[value.RunId]map[string]struct{}
	typeIndex map[value.TypeTag]map[string]struct{}
	version   uint64
	log       zerolog.Logger
}

// New creates an empty Unified Store.
func New(log zerolog.Logger) *Store {
	return &Store{
		chains:    make(map[string]*chain),
		keys:      make(map[string]value.Key),
		runIndex:  make(map[value.RunId]map[string]struct{}),
		typeIndex: make(map[value.TypeTag]map[string]struct{}),
		log:       log.With().Str("component", "store").Logger(),
	}
}

// CurrentVersion returns the current global commit-version counter.
func (s *Store) CurrentVersion() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// AdvanceVersion moves the global counter forward to at least `to`. Used by
// the Coordinator when allocating a commit version and by Recovery when
// seeding post-replay state.
func (s *Store) AdvanceVersion(to uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if to > s.version {
		s.version = to
	}
}

// Get returns the newest non-tombstone record for key, or ok=false if the
// key has never existed or is currently deleted.
func (s *Store) Get(key value.Key) (VersionedValue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chains[string(key.Encode())]
	if !ok {
		return VersionedValue{}, false
	}
	return c.newestLive()
}

// Bound selects the time-travel target for GetAt: either a store version
// or a microsecond timestamp.
type Bound struct {
	ByTimestamp bool
	Version     uint64
	TimestampUs uint64
}

func AtVersion(v uint64) Bound     { return Bound{Version: v} }
func AtTimestamp(us uint64) Bound { return Bound{ByTimestamp: true, TimestampUs: us} }

// GetAt returns the newest chain entry visible at bound. A tombstone
// entry yields ok=false with no error. A bound that precedes the oldest
// retained record yields HistoryTrimmed once retention has trimmed the
// chain; on an untrimmed chain it yields ok=false with no error.
func (s *Store) GetAt(key value.Key, bound Bound) (VersionedValue, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chains[string(key.Encode())]
	if !ok {
		return VersionedValue{}, false, nil
	}
	var entry VersionedValue
	var found, trimmed bool
	if bound.ByTimestamp {
		entry, found, trimmed = c.atOrBeforeTimestamp(bound.TimestampUs)
	} else {
		entry, found, trimmed = c.atOrBeforeVersion(bound.Version)
	}
	if trimmed {
		requested := bound.Version
		if bound.ByTimestamp {
			requested = bound.TimestampUs
		}
		return VersionedValue{}, false, errs.New(errs.HistoryTrimmed, "time-travel target precedes retained history").
			WithDetails("requested", requested, "earliest_retained", c.trimmedFloor)
	}
	if !found || entry.Deleted {
		return VersionedValue{}, false, nil
	}
	return entry, true, nil
}

// ScanResult is one (Key, VersionedValue) pair from an ordered scan.
type ScanResult struct {
	Key   value.Key
	Value VersionedValue
}

// ScanPrefix returns every live key whose encoding starts with prefix, in
// ascending encoded-key order. Only the newest entry of each
// chain is considered.
func (s *Store) ScanPrefix(prefix []byte) []ScanResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := sort.Search(len(s.order), func(i int) bool { return s.order[i] >= string(prefix) })
	var out []ScanResult
	for ; i < len(s.order); i++ {
		enc := s.order[i]
		if len(enc) < len(prefix) || enc[:len(prefix)] != string(prefix) {
			break
		}
		c := s.chains[enc]
		live, ok := c.newestLive()
		if !ok {
			continue
		}
		out = append(out, ScanResult{Key: s.keys[enc], Value: live})
	}
	return out
}

// AllKeys returns every key with a tracked chain, live or tombstoned, in
// ascending Key order. Used by the retention sweeper, which must trim a
// deleted key's history down to its policy's floor just like a live key's,
// rather than skipping it because its newest entry happens to be a
// tombstone.
func (s *Store) AllKeys() []value.Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]value.Key, 0, len(s.order))
	for _, enc := range s.order {
		out = append(out, s.keys[enc])
	}
	return out
}

// ScanAll returns every live key in the store, in ascending Key order.
// Used by callers that only care about current values, not the full
// chain, e.g. a future bulk-export of live state.
func (s *Store) ScanAll() []ScanResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ScanResult, 0, len(s.order))
	for _, enc := range s.order {
		c := s.chains[enc]
		live, ok := c.newestLive()
		if !ok {
			continue
		}
		out = append(out, ScanResult{Key: s.keys[enc], Value: live})
	}
	return out
}

// ChainVersions returns every retained entry of key's version chain,
// oldest first, including tombstones. Used by the retention sweeper, which
// must inspect history deeper than the single newest live entry ScanAll
// exposes. Returns nil for a key with no chain.
func (s *Store) ChainVersions(key value.Key) []VersionedValue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chains[string(key.Encode())]
	if !ok {
		return nil
	}
	out := make([]VersionedValue, len(c.entries))
	copy(out, c.entries)
	return out
}

// DumpAll returns every retained entry of every chain in the store,
// oldest-first within each chain, in ascending Key order across chains.
// Used by the checkpoint writer, which must persist full history
// (including tombstones) rather than just the newest live value.
func (s *Store) DumpAll() []ScanResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ScanResult, 0, len(s.order))
	for _, enc := range s.order {
		key := s.keys[enc]
		for _, e := range s.chains[enc].entries {
			out = append(out, ScanResult{Key: key, Value: e})
		}
	}
	return out
}

// ScanByRun returns every live key in the given run, in ascending Key
// order. Used by replay, retention, and GC.
func (s *Store) ScanByRun(run value.RunId) []ScanResult {
	return s.scanBySet(s.runIndex[run])
}

// ScanByType returns every live key carrying the given TypeTag.
func (s *Store) ScanByType(tag value.TypeTag) []ScanResult {
	return s.scanBySet(s.typeIndex[tag])
}

func (s *Store) scanBySet(set map[string]struct{}) []ScanResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	encs := make([]string, 0, len(set))
	for enc := range set {
		encs = append(encs, enc)
	}
	sort.Strings(encs)
	out := make([]ScanResult, 0, len(encs))
	for _, enc := range encs {
		c := s.chains[enc]
		live, ok := c.newestLive()
		if !ok {
			continue
		}
		out = append(out, ScanResult{Key: s.keys[enc], Value: live})
	}
	return out
}

// PutWithVersion appends a live record to key's chain at the given commit
// version. It is a write-path primitive invoked only by the commit
// applier (internal/coordinator), never called directly by a
// transaction.
func (s *Store) PutWithVersion(key value.Key, v value.Value, version uint64, timestampUs uint64, ttl *uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(key, VersionedValue{Value: v, Version: version, TimestampUs: timestampUs, TTL: ttl})
}

// DeleteWithVersion appends a tombstone to key's chain at the given commit
// version.
func (s *Store) DeleteWithVersion(key value.Key, version uint64, timestampUs uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(key, VersionedValue{Version: version, TimestampUs: timestampUs, Deleted: true})
}

// PeekInt returns the current Int value of key under the reader lock
// without mutating anything, for callers (the Coordinator's incr path)
// that must compute a new value before they are allowed to touch the WAL
// or the version counter. Absent keys read as 0; a non-Int current value
// is WrongType.
func (s *Store) PeekInt(key value.Key) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chains[string(key.Encode())]
	if !ok {
		return 0, nil
	}
	live, ok := c.newestLive()
	if !ok {
		return 0, nil
	}
	i, isInt := live.Value.AsInt()
	if !isInt {
		return 0, errs.New(errs.WrongType, "incr on non-Int value")
	}
	return i, nil
}

// CheckedAdd adds delta to current, returning Overflow if the signed
// 64-bit range would be breached.
func CheckedAdd(current, delta int64) (int64, error) {
	sum := current + delta
	if (delta > 0 && sum < current) || (delta < 0 && sum > current) {
		return 0, errs.New(errs.Overflow, "incr would overflow int64")
	}
	return sum, nil
}

// appendLocked appends vv to key's chain and updates secondary indices.
// Caller must hold s.mu for writing.
func (s *Store) appendLocked(key value.Key, vv VersionedValue) {
	enc := string(key.Encode())
	c, ok := s.chains[enc]
	if !ok {
		c = &chain{}
		s.chains[enc] = c
		s.keys[enc] = key
		s.insertOrderedLocked(enc)
		s.indexAddLocked(key, enc)
	}
	c.entries = append(c.entries, vv)
	if vv.Version > s.version {
		s.version = vv.Version
	}
}

func (s *Store) insertOrderedLocked(enc string) {
	i := sort.Search(len(s.order), func(i int) bool { return s.order[i] >= enc })
	s.order = append(s.order, "")
	copy(s.order[i+1:], s.order[i:])
	s.order[i] = enc
}

func (s *Store) indexAddLocked(key value.Key, enc string) {
	run := key.Namespace.Run
	if s.runIndex[run] == nil {
		s.runIndex[run] = make(map[string]struct{})
	}
	s.runIndex[run][enc] = struct{}{}

	if s.typeIndex[key.Tag] == nil {
		s.typeIndex[key.Tag] = make(map[string]struct{})
	}
	s.typeIndex[key.Tag][enc] = struct{}{}
}

// TrimChain removes every chain entry with Version < floor, for the
// retention subsystem (policy lives in internal/retention). Returns the
// count of entries removed. The newest entry is never removed even if its
// version is below floor, so Get never regresses to "never existed"
// purely from retention.
func (s *Store) TrimChain(key value.Key, floor uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc := string(key.Encode())
	c, ok := s.chains[enc]
	if !ok || len(c.entries) <= 1 {
		return 0
	}
	cut := sort.Search(len(c.entries)-1, func(i int) bool { return c.entries[i].Version >= floor })
	if cut == 0 {
		return 0
	}
	c.entries = append([]VersionedValue(nil), c.entries[cut:]...)
	c.trimmedFloor = floor
	return cut
}
