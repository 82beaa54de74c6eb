package coordinator

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"stratadb/internal/errs"
	"stratadb/internal/store"
	"stratadb/internal/txn"
	"stratadb/internal/value"
	"stratadb/internal/wal"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	w, err := wal.Open(filepath.Join(dir, "test.wal"), wal.Config{Mode: wal.ModeStrict}, zerolog.Nop())
	if err != nil {
		t.Fatalf("wal.Open: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	s := store.New(zerolog.Nop())
	return New(s, w, 0, value.DefaultLimits(), zerolog.Nop()), s
}

func testKey(t *testing.T, user string) value.Key {
	t.Helper()
	ns := value.Namespace{Tenant: "t1", App: "a1", Agent: "ag1", Run: value.RunId("default")}
	k, err := value.NewKey(ns, value.TagKV, []byte(user))
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func TestCommitAppliesToStore(t *testing.T) {
	c, s := newTestCoordinator(t)
	k := testKey(t, "foo")

	ctx := c.Begin(value.RunId("default"))
	if err := ctx.Put(k, value.String("bar")); err != nil {
		t.Fatal(err)
	}
	if err := c.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, ok := s.Get(k)
	if !ok || !got.Value.Equal(value.String("bar")) {
		t.Fatalf("expected committed value to be visible, got %v ok=%v", got, ok)
	}
	if got.Version == 0 {
		t.Fatal("expected a non-zero commit version")
	}
}

func TestCommitConflictAbortsAndReturnsConflict(t *testing.T) {
	c, s := newTestCoordinator(t)
	k := testKey(t, "foo")
	s.PutWithVersion(k, value.Int(1), 1, 1, nil)
	s.AdvanceVersion(1)

	ctx := c.Begin(value.RunId("default"))
	if _, _, err := ctx.Get(k); err != nil {
		t.Fatal(err)
	}

	// Concurrent commit moves k forward before ctx commits.
	s.PutWithVersion(k, value.Int(2), 2, 2, nil)
	s.AdvanceVersion(2)

	err := c.Commit(ctx)
	if !errors.Is(err, errs.IsConflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
	if ctx.State() != txn.StateAborted {
		t.Fatalf("expected transaction to be Aborted, got state %v", ctx.State())
	}
}

func TestIncrAppliesAndPersists(t *testing.T) {
	c, s := newTestCoordinator(t)
	k := testKey(t, "counter")

	next, err := c.Incr(value.RunId("default"), k, 5)
	if err != nil {
		t.Fatalf("Incr: %v", err)
	}
	if next != 5 {
		t.Fatalf("expected 5, got %d", next)
	}

	next, err = c.Incr(value.RunId("default"), k, 3)
	if err != nil {
		t.Fatalf("Incr: %v", err)
	}
	if next != 8 {
		t.Fatalf("expected 8, got %d", next)
	}

	got, ok := s.Get(k)
	if !ok {
		t.Fatal("expected counter key to exist")
	}
	if i, _ := got.Value.AsInt(); i != 8 {
		t.Fatalf("expected stored value 8, got %d", i)
	}
}

func TestIncrOnNonIntIsWrongType(t *testing.T) {
	c, s := newTestCoordinator(t)
	k := testKey(t, "notint")
	s.PutWithVersion(k, value.String("hi"), 1, 1, nil)
	s.AdvanceVersion(1)

	_, err := c.Incr(value.RunId("default"), k, 1)
	if !errors.Is(err, errs.IsWrongType) {
		t.Fatalf("expected WrongType, got %v", err)
	}
}

