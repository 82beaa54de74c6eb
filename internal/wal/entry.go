// Package wal implements the Write-Ahead Log: the durability boundary
// every commit crosses before it is visible to crash recovery.
//
// What: a bit-exact binary frame (length | type_tag | payload | crc32)
// wrapping gob-encoded entry payloads, plus three durability modes
// (Strict, Batched, Async) governing when a frame is guaranteed on disk.
// The CRC covers type_tag and payload only, not the length prefix.
package wal

import (
	"bytes"
	"encoding/gob"

	"stratadb/internal/value"
)

// TypeTag identifies the kind of WAL entry. The set is frozen.
type TypeTag uint8

const (
	TagBeginTxn   TypeTag = 1
	TagWrite      TypeTag = 2
	TagDelete     TypeTag = 3
	TagCommitTxn  TypeTag = 4
	TagAbortTxn   TypeTag = 5 // reserved; never emitted in current scope
	TagCheckpoint TypeTag = 6
)

func (t TypeTag) String() string {
	switch t {
	case TagBeginTxn:
		return "BeginTxn"
	case TagWrite:
		return "Write"
	case TagDelete:
		return "Delete"
	case TagCommitTxn:
		return "CommitTxn"
	case TagAbortTxn:
		return "AbortTxn"
	case TagCheckpoint:
		return "Checkpoint"
	default:
		return "Unknown"
	}
}

// BeginTxn opens a transaction's WAL record group.
type BeginTxn struct {
	TxnID       uint64
	RunID       value.RunId
	TimestampUs uint64
}

// Write is one committed key/value mutation.
type Write struct {
	RunID   value.RunId
	Key     value.Key
	Value   value.Value
	Version uint64
}

// Delete is one committed tombstone.
type Delete struct {
	RunID   value.RunId
	Key     value.Key
	Version uint64
}

// CommitTxn closes a transaction's WAL record group.
type CommitTxn struct {
	TxnID         uint64
	RunID         value.RunId
	CommitVersion uint64
}

// Checkpoint records the active runs and store version at a checkpoint.
// Recovery reads it as informational only and keeps replaying past it.
type Checkpoint struct {
	ActiveRuns []value.RunId
	Version    uint64
}

// Entry is a decoded WAL record: exactly one of the typed fields is set,
// matching Tag.
type Entry struct {
	Tag        TypeTag
	Begin      *BeginTxn
	Write      *Write
	Delete     *Delete
	Commit     *CommitTxn
	Checkpoint *Checkpoint
}

// encodePayload gob-encodes the active field of e.
func encodePayload(e Entry) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	var err error
	switch e.Tag {
	case TagBeginTxn:
		err = enc.Encode(e.Begin)
	case TagWrite:
		err = enc.Encode(e.Write)
	case TagDelete:
		err = enc.Encode(e.Delete)
	case TagCommitTxn:
		err = enc.Encode(e.Commit)
	case TagCheckpoint:
		err = enc.Encode(e.Checkpoint)
	default:
		return nil, errUnknownTag(e.Tag)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodePayload gob-decodes payload into the Entry field matching tag.
func decodePayload(tag TypeTag, payload []byte) (Entry, error) {
	dec := gob.NewDecoder(bytes.NewReader(payload))
	e := Entry{Tag: tag}
	var err error
	switch tag {
	case TagBeginTxn:
		e.Begin = &BeginTxn{}
		err = dec.Decode(e.Begin)
	case TagWrite:
		e.Write = &Write{}
		err = dec.Decode(e.Write)
	case TagDelete:
		e.Delete = &Delete{}
		err = dec.Decode(e.Delete)
	case TagCommitTxn:
		e.Commit = &CommitTxn{}
		err = dec.Decode(e.Commit)
	case TagCheckpoint:
		e.Checkpoint = &Checkpoint{}
		err = dec.Decode(e.Checkpoint)
	default:
		return Entry{}, errUnknownTag(tag)
	}
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}
