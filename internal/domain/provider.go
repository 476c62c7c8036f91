package domain

import (
	"context"
	"time"
)

// CompletionRequest is one streaming completion call.
type CompletionRequest struct {
	Messages    []Message
	Model       string        // empty = provider default
	Timeout     time.Duration // 0 = no timeout
	MaxTokens   int
	Temperature float64
}

// Completer is the port the session layer uses to obtain streaming
// completions. The returned channel yields zero or more chunk events and
// exactly one terminal event, and is closed after the terminal event.
type Completer interface {
	Stream(ctx context.Context, req CompletionRequest) <-chan StreamEvent
}
