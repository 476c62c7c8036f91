package domain

// EventKind discriminates StreamEvent variants.
type EventKind int

const (
	// EventChunk carries one incremental piece of generated content.
	EventChunk EventKind = iota
	// EventDone marks clean end of stream. No events follow it.
	EventDone
	// EventError marks abnormal end of stream. No events follow it.
	EventError
)

// StreamEvent is one step of a streaming completion. Consumers receive zero
// or more EventChunk events in arrival order, then exactly one EventDone or
// EventError.
type StreamEvent struct {
	Kind    EventKind
	Content string // set for EventChunk
	Err     string // set for EventError
	// Cancelled is set on EventError when the stream was aborted by the
	// caller or by timeout rather than by a service fault.
	Cancelled bool
}

// Chunk returns a content event.
func Chunk(content string) StreamEvent {
	return StreamEvent{Kind: EventChunk, Content: content}
}

// Done returns the clean-termination event.
func Done() StreamEvent {
	return StreamEvent{Kind: EventDone}
}

// ErrorEvent returns an abnormal-termination event.
func ErrorEvent(msg string, cancelled bool) StreamEvent {
	return StreamEvent{Kind: EventError, Err: msg, Cancelled: cancelled}
}
