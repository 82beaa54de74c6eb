package wal

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"stratadb/internal/value"
)

func testRunID() value.RunId { return value.RunId("default") }

func TestFrameRoundTrip(t *testing.T) {
	e := Entry{Tag: TagCommitTxn, Commit: &CommitTxn{TxnID: 1, RunID: testRunID(), CommitVersion: 7}}
	payload, err := encodePayload(e)
	if err != nil {
		t.Fatalf("encodePayload: %v", err)
	}
	frame := encodeFrame(e.Tag, payload)

	tag, gotPayload, err := readFrame(bytes.NewReader(frame), 0)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if tag != TagCommitTxn {
		t.Fatalf("expected TagCommitTxn, got %v", tag)
	}
	got, err := decodePayload(tag, gotPayload)
	if err != nil {
		t.Fatalf("decodePayload: %v", err)
	}
	if got.Commit.TxnID != 1 || got.Commit.CommitVersion != 7 {
		t.Fatalf("unexpected decoded entry: %+v", got.Commit)
	}
}

func TestFrameCRCMismatchIsCorruption(t *testing.T) {
	e := Entry{Tag: TagBeginTxn, Begin: &BeginTxn{TxnID: 1, RunID: testRunID(), TimestampUs: 100}}
	payload, _ := encodePayload(e)
	frame := encodeFrame(e.Tag, payload)
	frame[len(frame)-1] ^= 0xFF // corrupt the CRC

	_, _, err := readFrame(bytes.NewReader(frame), 0)
	if err == nil {
		t.Fatal("expected corruption error on CRC mismatch")
	}
	if _, ok := err.(*CorruptionError); !ok {
		t.Fatalf("expected *CorruptionError, got %T: %v", err, err)
	}
}

func TestFrameImpossibleLengthIsCorruption(t *testing.T) {
	frame := []byte{0xFF, 0xFF, 0xFF, 0xFF} // declares a huge length but has no body
	_, _, err := readFrame(bytes.NewReader(frame), 0)
	if _, ok := err.(*CorruptionError); !ok {
		t.Fatalf("expected *CorruptionError, got %T: %v", err, err)
	}
}

func TestWALAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wal")

	w, err := Open(path, Config{Mode: ModeStrict}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ns := value.Namespace{Tenant: "t", App: "a", Agent: "ag", Run: testRunID()}
	k, err := value.NewKey(ns, value.TagKV, []byte("foo"))
	if err != nil {
		t.Fatal(err)
	}

	entries := []Entry{
		{Tag: TagBeginTxn, Begin: &BeginTxn{TxnID: 1, RunID: testRunID(), TimestampUs: 1}},
		{Tag: TagWrite, Write: &Write{RunID: testRunID(), Key: k, Value: value.Int(42), Version: 1}},
		{Tag: TagCommitTxn, Commit: &CommitTxn{TxnID: 1, RunID: testRunID(), CommitVersion: 1}},
	}
	if err := w.Append(entries, true); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	var got []Entry
	for {
		e, _, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, e)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 replayed entries, got %d", len(got))
	}
	if got[1].Tag != TagWrite || !got[1].Write.Value.Equal(value.Int(42)) {
		t.Fatalf("unexpected write entry: %+v", got[1])
	}
}

func TestWALStopsAtCorruptionPoint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wal")

	w, err := Open(path, Config{Mode: ModeStrict}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	entries := []Entry{
		{Tag: TagBeginTxn, Begin: &BeginTxn{TxnID: 1, RunID: testRunID(), TimestampUs: 1}},
		{Tag: TagCommitTxn, Commit: &CommitTxn{TxnID: 1, RunID: testRunID(), CommitVersion: 1}},
	}
	if err := w.Append(entries, true); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	// Append a deliberately corrupt trailing frame.
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte{1, 0, 0, 0, 9, 9, 9, 9, 9}); err != nil {
		t.Fatal(err)
	}
	f.Close()

	r, err := OpenReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	var count int
	var corruption *CorruptionError
	for {
		_, _, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			ce, ok := err.(*CorruptionError)
			if !ok {
				t.Fatalf("expected *CorruptionError, got %T", err)
			}
			corruption = ce
			break
		}
		count++
	}
	if count != 2 {
		t.Fatalf("expected 2 good entries before corruption, got %d", count)
	}
	if corruption == nil {
		t.Fatal("expected a corruption error to be reported")
	}
}
