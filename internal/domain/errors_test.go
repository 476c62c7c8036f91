package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapOp(t *testing.T) {
	if WrapOp("client.stream", nil) != nil {
		t.Error("WrapOp(nil) should be nil")
	}

	err := WrapOp("client.stream", ErrNetwork)
	if !errors.Is(err, ErrNetwork) {
		t.Errorf("wrapped error lost its sentinel: %v", err)
	}
	if got := err.Error(); got != "client.stream: network failure" {
		t.Errorf("Error() = %q", got)
	}
}

func TestIsCancelled(t *testing.T) {
	if !IsCancelled(fmt.Errorf("aborted: %w", ErrCancelled)) {
		t.Error("wrapped ErrCancelled not detected")
	}
	if IsCancelled(ErrNetwork) {
		t.Error("ErrNetwork misclassified as cancelled")
	}
	if IsCancelled(nil) {
		t.Error("nil misclassified as cancelled")
	}
}
