package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesOnCodeOnly(t *testing.T) {
	err := New(Conflict, "commit_version 7 stale against current 9")
	if !errors.Is(err, IsConflict) {
		t.Fatal("errors.Is must match IsConflict regardless of message")
	}
	if errors.Is(err, IsNotFound) {
		t.Fatal("errors.Is must not match a different code's sentinel")
	}
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(StorageError, cause, "append frame")
	if !errors.Is(err, cause) {
		t.Fatal("errors.Is must reach the wrapped cause via Unwrap")
	}
}

func TestWithDetailsRoundTrips(t *testing.T) {
	err := New(ConstraintViolation, "key too long").WithDetails("reason", ReasonKeyTooLong)
	if err.Details["reason"] != ReasonKeyTooLong {
		t.Fatalf("expected reason detail %q, got %v", ReasonKeyTooLong, err.Details["reason"])
	}
}

func TestCodeOfExtractsCode(t *testing.T) {
	err := New(Overflow, "incr saturated")
	code, ok := CodeOf(err)
	if !ok || code != Overflow {
		t.Fatalf("expected (Overflow, true), got (%v, %v)", code, ok)
	}
	if _, ok := CodeOf(fmt.Errorf("plain error")); ok {
		t.Fatal("CodeOf must report false for a non-*Error")
	}
}

func TestErrorStringIncludesCodeAndMessage(t *testing.T) {
	err := New(WrongType, "incr on a String value")
	want := "WrongType: incr on a String value"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}
