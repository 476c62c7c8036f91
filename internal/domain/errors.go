package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the streaming core. All are terminal for the current
// request and surface as exactly one EventError; malformed frames are never
// errors here; they are recovered locally by the decoder.
var (
	ErrNetwork       = fmt.Errorf("network failure")
	ErrService       = fmt.Errorf("service error")
	ErrEmptyResponse = fmt.Errorf("empty response body")
	ErrCancelled     = fmt.Errorf("request cancelled")
	ErrNoContent     = fmt.Errorf("stream produced no content")

	// Status-derived categories, mapped from the HTTP response code.
	ErrRateLimit   = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid = fmt.Errorf("authentication failed")
)

// WrapOp adds operation context to an error. Returns nil if err is nil,
// enabling: return domain.WrapOp("client.stream", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsCancelled reports whether err stems from caller cancellation or timeout.
// Cancelled requests are an expected outcome of superseding a request and are
// suppressed from user-visible error UI.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
