package domain

// PanelState is the display layer's lifecycle state for one explain session.
type PanelState int

const (
	StateIdle PanelState = iota
	StateLoading
	StateStreaming
	StateReady
	StateError
)

func (s PanelState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateStreaming:
		return "streaming"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// validTransitions is the full transition table. A new request may start from
// any settled state; streaming follows loading; both terminal outcomes settle
// back through idle or a fresh loading.
var validTransitions = map[PanelState][]PanelState{
	StateIdle:      {StateLoading},
	StateLoading:   {StateStreaming, StateReady, StateError, StateIdle, StateLoading},
	StateStreaming: {StateReady, StateError, StateLoading, StateIdle},
	StateReady:     {StateLoading, StateIdle},
	StateError:     {StateLoading, StateIdle},
}

// CanTransition reports whether moving from s to next is legal. Callers are
// expected to reject and log illegal transitions rather than apply them.
func (s PanelState) CanTransition(next PanelState) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
