package wal

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stratadb/internal/errs"
)

// Mode selects a durability policy.
type Mode uint8

const (
	// ModeStrict flushes and fsyncs after every append.
	ModeStrict Mode = iota
	// ModeBatched (default) flushes and fsyncs after BatchN commits or
	// FlushInterval elapsed, whichever comes first.
	ModeBatched
	// ModeAsync flushes and fsyncs on a fixed background interval; Close
	// always performs a final flush regardless of mode.
	ModeAsync
)

func (m Mode) String() string {
	switch m {
	case ModeStrict:
		return "strict"
	case ModeBatched:
		return "batched"
	case ModeAsync:
		return "async"
	default:
		return "unknown"
	}
}

// DefaultBatchN and DefaultFlushInterval are the Batched-mode defaults,
// also used as the Async background flush period.
const (
	DefaultBatchN        = 1000
	DefaultFlushInterval = 100 * time.Millisecond
)

// Config configures a WAL's durability behavior.
type Config struct {
	Mode          Mode
	BatchN        int           // Batched mode only; 0 means DefaultBatchN
	FlushInterval time.Duration // Batched and Async modes; 0 means DefaultFlushInterval
}

func (c Config) withDefaults() Config {
	if c.BatchN <= 0 {
		c.BatchN = DefaultBatchN
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	return c
}

// WAL is the append-only log every commit crosses before becoming
// durable. Appends are serialized through mu: every caller observes them
// in the order they were issued.
type WAL struct {
	mu   sync.Mutex
	f    *os.File
	path string
	cfg  Config
	log  zerolog.Logger

	commitsSinceFlush int
	lastFlush         time.Time

	closing chan struct{}
	wg      sync.WaitGroup
	closed  bool
}

// Open creates or opens the WAL file at path in append mode and starts the
// background flusher if cfg.Mode is ModeAsync or ModeBatched.
func Open(path string, cfg Config, log zerolog.Logger) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errs.Wrap(errs.StorageError, err, "open WAL %q", path)
	}
	w := &WAL{
		f:         f,
		path:      path,
		cfg:       cfg.withDefaults(),
		log:       log.With().Str("component", "wal").Logger(),
		lastFlush: time.Now(),
		closing:   make(chan struct{}),
	}
	if w.cfg.Mode == ModeAsync || w.cfg.Mode == ModeBatched {
		w.wg.Add(1)
		go w.backgroundFlush()
	}
	return w, nil
}

// Append writes entries as a single logical write (one append call covers
// BeginTxn, every Write/Delete, and CommitTxn together) and then applies
// the configured durability policy. isCommit should be true when entries
// includes a CommitTxn, since only commit boundaries count toward
// Batched mode's N-commit threshold.
func (w *WAL) Append(entries []Entry, isCommit bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errs.New(errs.StorageError, "WAL is closed")
	}

	for _, e := range entries {
		payload, err := encodePayload(e)
		if err != nil {
			return errs.Wrap(errs.SerializationError, err, "encode WAL entry %s", e.Tag)
		}
		frame := encodeFrame(e.Tag, payload)
		if _, err := w.f.Write(frame); err != nil {
			return errs.Wrap(errs.StorageError, err, "append WAL entry %s", e.Tag)
		}
	}

	if isCommit {
		w.commitsSinceFlush++
	}
	return w.applyDurabilityLocked(isCommit)
}

// applyDurabilityLocked decides whether to fsync now, under cfg.Mode.
// Caller holds w.mu.
func (w *WAL) applyDurabilityLocked(isCommit bool) error {
	switch w.cfg.Mode {
	case ModeStrict:
		return w.flushLocked()
	case ModeBatched:
		if isCommit && (w.commitsSinceFlush >= w.cfg.BatchN || time.Since(w.lastFlush) >= w.cfg.FlushInterval) {
			return w.flushLocked()
		}
		return nil
	case ModeAsync:
		// background goroutine owns periodic flush; nothing to do here.
		return nil
	default:
		return w.flushLocked()
	}
}

// flushLocked fsyncs the WAL file. Caller holds w.mu. Idempotent: calling
// it with nothing new written is a harmless no-op fsync.
func (w *WAL) flushLocked() error {
	if err := w.f.Sync(); err != nil {
		return errs.Wrap(errs.StorageError, err, "fsync WAL")
	}
	w.commitsSinceFlush = 0
	w.lastFlush = time.Now()
	return nil
}

// Flush fsyncs the WAL on demand, e.g. for an explicit checkpoint.
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *WAL) backgroundFlush() {
	defer w.wg.Done()
	t := time.NewTicker(w.cfg.FlushInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			w.mu.Lock()
			if err := w.flushLocked(); err != nil {
				w.log.Error().Err(err).Msg("async WAL flush failed")
			}
			w.mu.Unlock()
		case <-w.closing:
			return
		}
	}
}

// Close performs a mandatory final flush and fsync, regardless of
// durability mode, and closes the underlying file.
func (w *WAL) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	flushErr := w.flushLocked()
	w.mu.Unlock()

	if w.cfg.Mode == ModeAsync || w.cfg.Mode == ModeBatched {
		close(w.closing)
		w.wg.Wait()
	}

	closeErr := w.f.Close()
	if flushErr != nil {
		return flushErr
	}
	if closeErr != nil {
		return errs.Wrap(errs.StorageError, closeErr, "close WAL")
	}
	return nil
}

// Path returns the WAL's backing file path.
func (w *WAL) Path() string { return w.path }

// Reader scans a WAL file from the beginning, yielding entries in order and
// stopping at the first corrupt frame.
type Reader struct {
	f      *os.File
	offset int64
}

// OpenReader opens path for a forward scan starting at offset 0.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.StorageError, err, "open WAL %q for read", path)
	}
	return &Reader{f: f}, nil
}

// Next returns the next entry and its starting offset, io.EOF at a clean
// end of file, or a *CorruptionError at the first malformed frame.
func (r *Reader) Next() (Entry, int64, error) {
	start := r.offset
	tag, payload, err := readFrame(r.f, start)
	if err != nil {
		if err == io.EOF {
			return Entry{}, 0, io.EOF
		}
		return Entry{}, 0, err
	}
	e, err := decodePayload(tag, payload)
	if err != nil {
		return Entry{}, 0, &CorruptionError{Offset: start, Reason: "payload decode failed: " + err.Error()}
	}
	// 4 (length) + 1 (tag) + payload + 4 (crc)
	r.offset = start + 4 + 1 + int64(len(payload)) + 4
	return e, start, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error { return r.f.Close() }
