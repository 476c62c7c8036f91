package domain

import "testing"

func TestPanelStateTransitions(t *testing.T) {
	legal := []struct{ from, to PanelState }{
		{StateIdle, StateLoading},
		{StateLoading, StateStreaming},
		{StateLoading, StateError},
		{StateLoading, StateLoading}, // superseded before first chunk
		{StateStreaming, StateReady},
		{StateStreaming, StateError},
		{StateStreaming, StateLoading}, // superseded mid-stream
		{StateReady, StateLoading},
		{StateError, StateLoading},
		{StateReady, StateIdle},
	}
	for _, tc := range legal {
		if !tc.from.CanTransition(tc.to) {
			t.Errorf("%v -> %v should be legal", tc.from, tc.to)
		}
	}

	illegal := []struct{ from, to PanelState }{
		{StateIdle, StateStreaming},
		{StateIdle, StateReady},
		{StateIdle, StateError},
		{StateReady, StateStreaming},
		{StateError, StateReady},
	}
	for _, tc := range illegal {
		if tc.from.CanTransition(tc.to) {
			t.Errorf("%v -> %v should be rejected", tc.from, tc.to)
		}
	}
}

func TestPanelStateString(t *testing.T) {
	if StateStreaming.String() != "streaming" {
		t.Errorf("got %q", StateStreaming.String())
	}
	if PanelState(99).String() != "unknown" {
		t.Errorf("got %q", PanelState(99).String())
	}
}
