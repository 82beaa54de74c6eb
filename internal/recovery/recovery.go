// Package recovery implements the Recovery Coordinator: the WAL scan that
// runs once, before any new operation is accepted, to rebuild the Unified
// Store and seed the Transaction Manager.
//
// What: track the single currently-open transaction as the WAL is
// scanned. BeginTxn opens it, CommitTxn closes and replays it, any
// mutation outside an open transaction or any transaction left open at
// end-of-file is incomplete and discarded, stopping cleanly at the first
// corrupt frame.
// How: positional (not txn_id-tagged) grouping is possible because every
// commit's WAL entries are appended under one logical write
// (internal/wal, internal/coordinator): transactions' entries never
// interleave in a well-formed log.
package recovery

import (
	"io"

	"github.com/rs/zerolog"

	"stratadb/internal/store"
	"stratadb/internal/wal"
)

// Result reports what replay found, for callers that want recovery
// telemetry beyond "it worked".
type Result struct {
	// FinalVersion seeds the Coordinator's commit-version counter.
	FinalVersion uint64
	// FinalTxnID seeds the Coordinator's txn_id counter.
	FinalTxnID uint64
	// CommittedTxns counts transactions replayed into the store.
	CommittedTxns int
	// IncompleteTxns counts transactions discarded for lacking a
	// CommitTxn, including one left open at end of file.
	IncompleteTxns int
	// OrphanMutations counts Write/Delete entries seen with no open
	// transaction, only possible against a corrupted or hand-edited WAL.
	OrphanMutations int
	// Corruption is set if the scan stopped early due to a malformed
	// frame; nil means the WAL was read to a clean end of file.
	Corruption *wal.CorruptionError
}

type openTxn struct {
	txnID       uint64
	runID       string
	timestampUs uint64
	mutations   []wal.Entry // Write and Delete entries, in WAL order
}

// Replay scans the WAL at path end to end, applying committed
// transactions into s (which must be empty). It does not reopen the WAL
// for further appends; callers do that separately via wal.Open once
// replay completes.
func Replay(path string, s *store.Store, log zerolog.Logger) (Result, error) {
	return ReplayFrom(path, s, 0, log)
}

// ReplayFrom is Replay restricted to mutations with Version > afterVersion.
// It still scans the whole WAL and reports watermarks/corruption over every
// entry, but skips applying any write or delete already reflected in a
// loaded checkpoint (internal/checkpoint), so opening a database seeded
// from a checkpoint does not re-append duplicate chain entries for
// transactions the checkpoint already captured.
func ReplayFrom(path string, s *store.Store, afterVersion uint64, log zerolog.Logger) (Result, error) {
	log = log.With().Str("component", "recovery").Logger()

	r, err := wal.OpenReader(path)
	if err != nil {
		return Result{}, err
	}
	defer r.Close()

	var result Result
	var open *openTxn

	discardOpen := func() {
		if open != nil {
			result.IncompleteTxns++
			open = nil
		}
	}

	for {
		entry, _, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ce, ok := err.(*wal.CorruptionError); ok {
				log.Warn().Int64("offset", ce.Offset).Str("reason", ce.Reason).Msg("WAL corruption detected, stopping replay")
				result.Corruption = ce
				break
			}
			return Result{}, err
		}

		switch entry.Tag {
		case wal.TagBeginTxn:
			discardOpen() // an unterminated prior Begin is incomplete
			b := entry.Begin
			open = &openTxn{txnID: b.TxnID, runID: string(b.RunID), timestampUs: b.TimestampUs}
			if b.TxnID > result.FinalTxnID {
				result.FinalTxnID = b.TxnID
			}

		case wal.TagWrite:
			if open == nil {
				result.OrphanMutations++
				continue
			}
			open.mutations = append(open.mutations, entry)

		case wal.TagDelete:
			if open == nil {
				result.OrphanMutations++
				continue
			}
			open.mutations = append(open.mutations, entry)

		case wal.TagCommitTxn:
			c := entry.Commit
			if c.CommitVersion > result.FinalVersion {
				result.FinalVersion = c.CommitVersion
			}
			if c.TxnID > result.FinalTxnID {
				result.FinalTxnID = c.TxnID
			}
			if open == nil || open.txnID != c.TxnID {
				// A commit with no matching open Begin: nothing to
				// replay, but still counts toward the version/txn_id
				// watermarks above.
				discardOpen()
				continue
			}
			if c.CommitVersion > afterVersion {
				applyTxn(s, open)
			}
			result.CommittedTxns++
			open = nil

		case wal.TagCheckpoint:
			// Informational only: this WAL is never truncated at a
			// checkpoint, so replay continues unaffected.
		}
	}

	discardOpen() // a transaction open at EOF never committed

	s.AdvanceVersion(result.FinalVersion)
	return result, nil
}

// applyTxn emits tx's buffered writes and deletes into s in WAL order.
func applyTxn(s *store.Store, tx *openTxn) {
	for _, m := range tx.mutations {
		switch m.Tag {
		case wal.TagWrite:
			s.PutWithVersion(m.Write.Key, m.Write.Value, m.Write.Version, tx.timestampUs, nil)
		case wal.TagDelete:
			s.DeleteWithVersion(m.Delete.Key, m.Delete.Version, tx.timestampUs)
		}
	}
}
