package value

import (
	"bytes"
	"errors"
	"testing"

	"stratadb/internal/errs"
)

func testNS(run RunId) Namespace {
	return Namespace{Tenant: "t", App: "a", Agent: "ag", Run: run}
}

func TestNewKeyRejectsReservedPrefix(t *testing.T) {
	_, err := NewKey(testNS(DefaultRun), TagKV, []byte(ReservedPrefix+"internal"))
	if !errors.Is(err, errs.IsInvalidKey) {
		t.Fatalf("expected InvalidKey, got %v", err)
	}
}

func TestNewKeyRejectsEmptyAndNUL(t *testing.T) {
	if _, err := NewKey(testNS(DefaultRun), TagKV, nil); !errors.Is(err, errs.IsInvalidKey) {
		t.Fatalf("expected InvalidKey for empty key, got %v", err)
	}
	if _, err := NewKey(testNS(DefaultRun), TagKV, []byte("a\x00b")); !errors.Is(err, errs.IsInvalidKey) {
		t.Fatalf("expected InvalidKey for NUL byte, got %v", err)
	}
}

func TestNewKeyRejectsOverLimit(t *testing.T) {
	_, err := NewKey(testNS(DefaultRun), TagKV, bytes.Repeat([]byte("x"), MaxKeyBytes+1))
	if !errors.Is(err, errs.IsInvalidKey) {
		t.Fatalf("expected InvalidKey for oversized key, got %v", err)
	}
}

func TestNewKeyCopiesUserBytes(t *testing.T) {
	user := []byte("widget")
	k, err := NewKey(testNS(DefaultRun), TagKV, user)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	user[0] = 'W'
	if k.User[0] != 'w' {
		t.Fatal("Key.User must be an independent copy of the caller's slice")
	}
}

func TestKeyLessOrdersByNamespaceThenTagThenUser(t *testing.T) {
	a, _ := NewKey(testNS(DefaultRun), TagKV, []byte("a"))
	b, _ := NewKey(testNS(DefaultRun), TagKV, []byte("b"))
	if !a.Less(b) || b.Less(a) {
		t.Fatal("expected a < b on user key bytes within the same namespace and tag")
	}

	kv, _ := NewKey(testNS(DefaultRun), TagKV, []byte("x"))
	event, _ := NewKey(testNS(DefaultRun), TagEvent, []byte("x"))
	if !kv.Less(event) {
		t.Fatal("expected TagKV < TagEvent to order first regardless of user key")
	}
}

func TestEncodeOrderingMatchesLess(t *testing.T) {
	a, _ := NewKey(testNS(DefaultRun), TagKV, []byte("alpha"))
	b, _ := NewKey(testNS(DefaultRun), TagKV, []byte("beta"))
	if bytes.Compare(a.Encode(), b.Encode()) >= 0 {
		t.Fatal("Encode ordering must agree with Less for a < b")
	}
}

func TestEncodeNamespaceBoundaryIsUnambiguous(t *testing.T) {
	// "ab"+"c" and "a"+"bc" must not collide once length-prefixed.
	ns1 := Namespace{Tenant: "ab", App: "c", Agent: "ag", Run: DefaultRun}
	ns2 := Namespace{Tenant: "a", App: "bc", Agent: "ag", Run: DefaultRun}
	k1, _ := NewKey(ns1, TagKV, []byte("x"))
	k2, _ := NewKey(ns2, TagKV, []byte("x"))
	if bytes.Equal(k1.Encode(), k2.Encode()) {
		t.Fatal("length-prefixed namespace fields must not collide across component boundaries")
	}
}

func TestRunIdValidate(t *testing.T) {
	if err := RunId(DefaultRun).Validate(); err != nil {
		t.Fatalf("default run must validate: %v", err)
	}
	if err := NewRunId().Validate(); err != nil {
		t.Fatalf("generated run id must validate: %v", err)
	}
	if err := RunId("Not-Lowercase-UUID").Validate(); err == nil {
		t.Fatal("expected validation error for non-lowercase, non-UUID run id")
	}
}

func TestEncodeNamespacePrefixIsKeyEncodePrefix(t *testing.T) {
	ns := testNS(DefaultRun)
	k, _ := NewKey(ns, TagKV, []byte("widget"))
	prefix := EncodeNamespacePrefix(ns)
	if !bytes.HasPrefix(k.Encode(), prefix) {
		t.Fatal("EncodeNamespacePrefix must be a prefix of every key encoded under that namespace")
	}
}
