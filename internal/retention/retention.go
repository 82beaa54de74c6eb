// Package retention implements StrataDB's version-chain retention policy
// and the cron-driven scheduler that enforces it.
//
// What: four policies (KeepAll, KeepLast(N), KeepFor(duration), and a
// Composite that applies the tighter of a count and an age bound) plus a
// background job that periodically trims every key's version chain down
// to its policy's floor.
package retention

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"stratadb/internal/store"
)

// Kind identifies which retention rule a Policy applies.
type Kind uint8

const (
	// KeepAll retains every version forever; Sweep is a no-op.
	KeepAll Kind = iota
	// KeepLast retains only the N newest versions per key.
	KeepLast
	// KeepFor retains versions committed within the trailing duration.
	KeepFor
	// Composite retains whichever of an embedded KeepLast/KeepFor bound
	// discards more history for a given key at sweep time.
	Composite
)

// Policy configures one retention rule. Only the fields relevant to Kind
// are read.
type Policy struct {
	Kind     Kind
	Count    int           // KeepLast, Composite
	Duration time.Duration // KeepFor, Composite
}

// KeepAllPolicy never trims.
func KeepAllPolicy() Policy { return Policy{Kind: KeepAll} }

// KeepLastPolicy retains the newest n versions of every key.
func KeepLastPolicy(n int) Policy { return Policy{Kind: KeepLast, Count: n} }

// KeepForPolicy retains versions committed within d of the sweep time.
func KeepForPolicy(d time.Duration) Policy { return Policy{Kind: KeepFor, Duration: d} }

// CompositePolicy retains whichever of the count or duration bound keeps
// less history for a given key (the stricter of the two).
func CompositePolicy(n int, d time.Duration) Policy {
	return Policy{Kind: Composite, Count: n, Duration: d}
}

// Sweeper periodically trims every key's version chain per Policy. It
// wraps a Store directly rather than going through the Coordinator: trim
// is not a transactional mutation (it never touches the WAL; retained
// history is a storage-footprint decision, not a durability one) and does
// not bump the commit-version counter.
type Sweeper struct {
	s      *store.Store
	policy Policy
	log    zerolog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSweeper builds a Sweeper over s enforcing policy.
func NewSweeper(s *store.Store, policy Policy, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		s:      s,
		policy: policy,
		log:    log.With().Str("component", "retention").Logger(),
		cron:   cron.New(cron.WithSeconds()),
	}
}

// Start schedules a sweep on the given cron expression (seconds-resolution
// parser) and begins running it in the background.
func (sw *Sweeper) Start(cronExpr string) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if _, err := sw.cron.AddFunc(cronExpr, sw.runSweep); err != nil {
		return err
	}
	sw.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight sweep to finish.
func (sw *Sweeper) Stop() {
	ctx := sw.cron.Stop()
	<-ctx.Done()
}

func (sw *Sweeper) runSweep() {
	n := sw.Sweep()
	if n > 0 {
		sw.log.Debug().Int("trimmed_keys", n).Msg("retention sweep trimmed chain entries")
	}
}

// Sweep runs one trim pass over every key the Store currently tracks,
// returning the number of keys that had at least one entry trimmed.
func (sw *Sweeper) Sweep() int {
	if sw.policy.Kind == KeepAll {
		return 0
	}
	now := time.Now()
	trimmedKeys := 0
	for _, key := range sw.s.AllKeys() {
		entries := sw.s.ChainVersions(key)
		floor := sw.floorFor(entries, now)
		if sw.s.TrimChain(key, floor) > 0 {
			trimmedKeys++
		}
	}
	return trimmedKeys
}

// floorFor computes the minimum version to retain for key's chain entries
// (oldest first) under the active policy.
func (sw *Sweeper) floorFor(entries []store.VersionedValue, now time.Time) uint64 {
	switch sw.policy.Kind {
	case KeepLast:
		return countFloor(entries, sw.policy.Count)
	case KeepFor:
		return timeFloor(entries, now, sw.policy.Duration)
	case Composite:
		byCount := countFloor(entries, sw.policy.Count)
		byTime := timeFloor(entries, now, sw.policy.Duration)
		if byCount > byTime {
			return byCount
		}
		return byTime
	default:
		return 0
	}
}

// countFloor returns the version of the oldest entry to keep when
// retaining only the newest n entries, or 0 (keep everything) if the
// chain does not yet exceed n entries.
func countFloor(entries []store.VersionedValue, n int) uint64 {
	if n <= 0 || len(entries) <= n {
		return 0
	}
	return entries[len(entries)-n].Version
}

// timeFloor returns the version of the oldest entry whose timestamp still
// falls within the trailing window now-d. If every entry predates the
// window, it falls back to the newest entry's version: TrimChain never
// removes the newest entry regardless, so this still yields "keep only
// the newest" rather than "keep nothing".
func timeFloor(entries []store.VersionedValue, now time.Time, d time.Duration) uint64 {
	if len(entries) == 0 {
		return 0
	}
	cutoffUs := uint64(now.Add(-d).UnixMicro())
	for _, e := range entries {
		if e.TimestampUs >= cutoffUs {
			return e.Version
		}
	}
	return entries[len(entries)-1].Version
}
