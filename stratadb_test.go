package stratadb

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"stratadb/internal/errs"
	"stratadb/internal/value"
)

func testNamespace() Namespace {
	return Namespace{Tenant: "acme", App: "agent-runner", Agent: "worker-1", Run: RunId("default")}
}

func openTest(t *testing.T, dir string, opts ...Option) *DB {
	t.Helper()
	db, err := Open(dir, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPutGetRoundTrip(t *testing.T) {
	db := openTest(t, t.TempDir())
	key, err := db.NewKey(testNamespace(), TagKV, []byte("greeting"))
	if err != nil {
		t.Fatal(err)
	}

	if err := db.Put(RunId("default"), key, String("hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := db.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || !got.Equal(String("hello")) {
		t.Fatalf("expected hello, got %v ok=%v", got, ok)
	}
}

func TestDeleteMakesKeyAbsent(t *testing.T) {
	db := openTest(t, t.TempDir())
	key, _ := db.NewKey(testNamespace(), TagKV, []byte("k"))

	if err := db.Put(RunId("default"), key, Int(1)); err != nil {
		t.Fatal(err)
	}
	if err := db.Delete(RunId("default"), key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, err := db.Get(key); ok || err != nil {
		t.Fatalf("expected absent after delete, got ok=%v err=%v", ok, err)
	}
}

func TestExplicitTransactionCommits(t *testing.T) {
	db := openTest(t, t.TempDir())
	k1, _ := db.NewKey(testNamespace(), TagKV, []byte("a"))
	k2, _ := db.NewKey(testNamespace(), TagKV, []byte("b"))

	ctx := db.BeginTx(RunId("default"))
	if err := ctx.Put(k1, Int(1)); err != nil {
		t.Fatal(err)
	}
	if err := ctx.Put(k2, Int(2)); err != nil {
		t.Fatal(err)
	}
	if err := db.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	v1, ok, _ := db.Get(k1)
	v2, ok2, _ := db.Get(k2)
	if !ok || !ok2 || !v1.Equal(Int(1)) || !v2.Equal(Int(2)) {
		t.Fatalf("expected both writes visible, got %v/%v %v/%v", v1, ok, v2, ok2)
	}
}

func TestIncrIsAtomicAndBypassesTransactions(t *testing.T) {
	db := openTest(t, t.TempDir())
	key, _ := db.NewKey(testNamespace(), TagKV, []byte("counter"))

	for i := 0; i < 5; i++ {
		if _, err := db.Incr(RunId("default"), key, 1); err != nil {
			t.Fatalf("Incr: %v", err)
		}
	}
	got, ok, err := db.Get(key)
	if err != nil || !ok || !got.Equal(Int(5)) {
		t.Fatalf("expected counter=5, got %v ok=%v err=%v", got, ok, err)
	}
}

func TestReopenRecoversFromWAL(t *testing.T) {
	dir := t.TempDir()

	db1, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	k, err := db1.NewKey(testNamespace(), TagKV, []byte("persisted"))
	if err != nil {
		t.Fatal(err)
	}
	if err := db1.Put(RunId("default"), k, String("durable")); err != nil {
		t.Fatal(err)
	}
	if err := db1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()

	got, ok, err := db2.Get(k)
	if err != nil || !ok || !got.Equal(String("durable")) {
		t.Fatalf("expected recovered value, got %v ok=%v err=%v", got, ok, err)
	}
}

func TestCheckpointThenReopenSkipsStaleReplay(t *testing.T) {
	dir := t.TempDir()
	db1 := openTest(t, dir)
	k, _ := db1.NewKey(testNamespace(), TagKV, []byte("chk"))
	if err := db1.Put(RunId("default"), k, Int(7)); err != nil {
		t.Fatal(err)
	}
	if err := db1.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if err := db1.Put(RunId("default"), k, Int(8)); err != nil {
		t.Fatal(err)
	}
	if err := db1.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, checkpointFileName)); err != nil {
		t.Fatalf("expected checkpoint file to exist: %v", err)
	}

	db2 := openTest(t, dir)
	got, ok, err := db2.Get(k)
	if err != nil || !ok || !got.Equal(Int(8)) {
		t.Fatalf("expected post-checkpoint write 8 to survive reopen, got %v ok=%v err=%v", got, ok, err)
	}
}

func TestOpenWritesWALUnderMandatoryPath(t *testing.T) {
	dir := t.TempDir()
	db := openTest(t, dir)
	k, _ := db.NewKey(testNamespace(), TagKV, []byte("x"))
	if err := db.Put(RunId("default"), k, Int(1)); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(WALPath(dir)); err != nil {
		t.Fatalf("expected WAL at %s: %v", WALPath(dir), err)
	}
	if WALPath(dir) != filepath.Join(dir, "wal", "current.wal") {
		t.Fatalf("expected WALPath to be <dir>/wal/current.wal, got %s", WALPath(dir))
	}
}

func TestPutRejectsValueOverConfiguredLimits(t *testing.T) {
	db := openTest(t, t.TempDir(), WithLimits(value.Limits{
		MaxKeyBytes:          value.MaxKeyBytes,
		MaxStringBytes:       4,
		MaxBytesLen:          1 << 20,
		MaxValueBytesEncoded: 1 << 20,
		MaxArrayLen:          1_000_000,
		MaxObjectEntries:     1_000_000,
		MaxNestingDepth:      128,
	}))
	k, _ := db.NewKey(testNamespace(), TagKV, []byte("oversized"))

	err := db.Put(RunId("default"), k, String(strings.Repeat("x", 64)))
	if !errors.Is(err, errs.IsConstraintViolation) {
		t.Fatalf("expected ConstraintViolation for oversized Put, got %v", err)
	}
	if _, ok, _ := db.Get(k); ok {
		t.Fatal("expected rejected Put to never become visible")
	}
}

func TestTransactionWithTimeoutExpiresPastDeadline(t *testing.T) {
	db := openTest(t, t.TempDir())
	k, _ := db.NewKey(testNamespace(), TagKV, []byte("late"))

	err := db.TransactionWithTimeout(RunId("default"), time.Now().Add(-time.Second), func(ctx *Tx) error {
		return ctx.Put(k, Int(1))
	})
	if err == nil {
		t.Fatal("expected expired transaction to return an error")
	}
}
