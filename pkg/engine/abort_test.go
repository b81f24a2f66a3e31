package engine

import (
	"errors"
	"testing"
)

func TestAbortController(t *testing.T) {
	a := NewAbortController()
	if a.Requested() {
		t.Fatal("new controller already requested")
	}

	cause := errors.New("link lost")
	if !a.Request(cause) {
		t.Fatal("first Request should trigger")
	}
	if a.Request(errors.New("again")) {
		t.Error("second Request should be a no-op")
	}
	if !errors.Is(a.Cause(), cause) {
		t.Errorf("Cause() = %v, want %v", a.Cause(), cause)
	}

	select {
	case <-a.Done():
	default:
		t.Error("Done not closed after Request")
	}
}

func TestStateClassification(t *testing.T) {
	tests := []struct {
		state    State
		active   bool
		terminal bool
	}{
		{Idle, false, false},
		{RunningBlock, true, false},
		{AwaitingMoveAck, true, false},
		{AwaitingHapticExpiry, true, false},
		{Finished, false, true},
		{Aborted, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			if got := tt.state.Active(); got != tt.active {
				t.Errorf("Active() = %v, want %v", got, tt.active)
			}
			if got := tt.state.Terminal(); got != tt.terminal {
				t.Errorf("Terminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}
