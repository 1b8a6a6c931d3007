package waerrors

import (
	"errors"
	"testing"

	"waconnect/internal/domain/sessionkey"
)

func TestOpErrorUnwrap(t *testing.T) {
	key, err := sessionkey.New("user-1", "5511999999999")
	if err != nil {
		t.Fatalf("unexpected error building key: %v", err)
	}

	opErr := New(key, "attach", ErrSessionNotFound)
	if !errors.Is(opErr, ErrSessionNotFound) {
		t.Error("expected errors.Is to unwrap to ErrSessionNotFound")
	}

	want := "session user-1:5511999999999: attach: session not found"
	if opErr.Error() != want {
		t.Errorf("Error() = %q, want %q", opErr.Error(), want)
	}
}

func TestInternalUnwrap(t *testing.T) {
	cause := errors.New("boom")
	internal := NewInternal(cause)
	if !errors.Is(internal, cause) {
		t.Error("expected errors.Is to unwrap to the wrapped cause")
	}
}
