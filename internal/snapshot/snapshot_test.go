package snapshot

import (
	"testing"

	"github.com/rs/zerolog"

	"stratadb/internal/store"
	"stratadb/internal/value"
)

func testKey(t *testing.T, user string) value.Key {
	t.Helper()
	ns := value.Namespace{Tenant: "t", App: "a", Agent: "ag", Run: value.RunId("default")}
	k, err := value.NewKey(ns, value.TagKV, []byte(user))
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}
	return k
}

func TestGetHonorsPinVersion(t *testing.T) {
	s := store.New(zerolog.Nop())
	k := testKey(t, "widget")

	s.PutWithVersion(k, value.Int(1), 1, 100, nil)
	s.PutWithVersion(k, value.Int(2), 2, 200, nil)

	v1 := New(s, 1)
	vv, ok, err := v1.Get(k)
	if err != nil || !ok {
		t.Fatalf("expected a visible value at pin 1, got ok=%v err=%v", ok, err)
	}
	if got, _ := vv.Value.AsInt(); got != 1 {
		t.Fatalf("expected value 1 at pin 1, got %d", got)
	}

	v2 := New(s, 2)
	vv, ok, err = v2.Get(k)
	if err != nil || !ok {
		t.Fatalf("expected a visible value at pin 2, got ok=%v err=%v", ok, err)
	}
	if got, _ := vv.Value.AsInt(); got != 2 {
		t.Fatalf("expected value 2 at pin 2, got %d", got)
	}
}

func TestGetBeforeFirstWriteIsAbsent(t *testing.T) {
	s := store.New(zerolog.Nop())
	k := testKey(t, "widget")
	s.PutWithVersion(k, value.Int(1), 5, 100, nil)

	v := New(s, 1)
	if _, ok, _ := v.Get(k); ok {
		t.Fatal("expected key to be absent at a pin before its first write")
	}
}

func TestGetHonorsTombstone(t *testing.T) {
	s := store.New(zerolog.Nop())
	k := testKey(t, "widget")
	s.PutWithVersion(k, value.Int(1), 1, 100, nil)
	s.DeleteWithVersion(k, 2, 200)

	atBeforeDelete := New(s, 1)
	if _, ok, _ := atBeforeDelete.Get(k); !ok {
		t.Fatal("expected key visible before the delete's version")
	}

	atOrAfterDelete := New(s, 2)
	if _, ok, _ := atOrAfterDelete.Get(k); ok {
		t.Fatal("expected key absent at or after a tombstone's version")
	}
}

func TestScanPrefixFiltersByPinVersion(t *testing.T) {
	s := store.New(zerolog.Nop())
	k1 := testKey(t, "widget-1")
	k2 := testKey(t, "widget-2")
	s.PutWithVersion(k1, value.Int(1), 1, 100, nil)
	s.PutWithVersion(k2, value.Int(2), 2, 200, nil)

	v := New(s, 1)
	results := v.ScanPrefix(value.EncodeNamespacePrefix(k1.Namespace))
	if len(results) != 1 {
		t.Fatalf("expected exactly 1 key visible at pin 1, got %d", len(results))
	}
	if !results[0].Key.Equal(k1) {
		t.Fatalf("expected %v visible at pin 1, got %v", k1, results[0].Key)
	}
}

func TestVersionReturnsPin(t *testing.T) {
	v := New(store.New(zerolog.Nop()), 42)
	if v.Version() != 42 {
		t.Fatalf("expected Version() == 42, got %d", v.Version())
	}
}
