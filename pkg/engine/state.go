package engine

import (
	"time"

	"github.com/gwillem/haptic/pkg/sequence"
)

// State is the execution state of a run.
type State int

const (
	Idle State = iota
	RunningBlock
	AwaitingMoveAck
	AwaitingHapticExpiry
	Finished
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case RunningBlock:
		return "running"
	case AwaitingMoveAck:
		return "awaiting ack"
	case AwaitingHapticExpiry:
		return "awaiting expiry"
	case Finished:
		return "finished"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Active reports whether a run is in progress.
func (s State) Active() bool {
	return s == RunningBlock || s == AwaitingMoveAck || s == AwaitingHapticExpiry
}

// Terminal reports whether the run has ended.
func (s State) Terminal() bool {
	return s == Finished || s == Aborted
}

// RunState is the mutable progress of one run. It is owned by the Engine and
// only touched with the engine lock held.
type RunState struct {
	ID      string
	State   State
	Started time.Time
	Ended   time.Time

	seq   sequence.Sequence
	block int // index of the block being executed
	leg   int // waypoint index of the move in flight

	// patches holds each patch's last known logical position. It changes
	// only when a Move block completes.
	patches map[sequence.PatchID]sequence.Waypoint

	acked         bool
	prepositioned bool // the pending ack belongs to a haptic pre-position move
	ackDeadline   time.Time
	expiresAt     time.Time
	presetOn      bool

	lastCompleted int
	trace         []BlockTrace
	abort         *AbortController
	err           error
}

func newRunState(id string, seq sequence.Sequence, now time.Time) *RunState {
	patches := make(map[sequence.PatchID]sequence.Waypoint, len(seq.Patches))
	for id, pos := range seq.Patches {
		patches[id] = pos
	}
	return &RunState{
		ID:            id,
		State:         RunningBlock,
		Started:       now,
		seq:           seq,
		patches:       patches,
		lastCompleted: -1,
		abort:         NewAbortController(),
	}
}

// transition moves the run to another state and reports whether it changed.
func (r *RunState) transition(to State) bool {
	if r.State == to {
		return false
	}
	r.State = to
	return true
}

func (r *RunState) current() (sequence.Block, bool) {
	if r.block >= len(r.seq.Blocks) {
		return sequence.Block{}, false
	}
	return r.seq.Blocks[r.block], true
}

func (r *RunState) beginBlock(now time.Time) BlockTrace {
	b := r.seq.Blocks[r.block]
	t := BlockTrace{
		Index:   r.block,
		Kind:    b.Kind,
		Patch:   b.Patch,
		Label:   b.Label(r.block),
		Started: now,
	}
	r.trace = append(r.trace, t)
	r.leg = 0
	r.acked = false
	r.prepositioned = false
	r.presetOn = false
	return t
}

func (r *RunState) record(cmd string) {
	if len(r.trace) == 0 {
		return
	}
	t := &r.trace[len(r.trace)-1]
	t.Commands = append(t.Commands, cmd)
}

func (r *RunState) completeBlock(now time.Time) BlockTrace {
	b := r.seq.Blocks[r.block]
	if dest, ok := b.Destination(); ok {
		r.patches[b.Patch] = dest
	}
	t := &r.trace[len(r.trace)-1]
	t.Completed = now
	r.lastCompleted = r.block
	r.block++
	return *t
}

// awaitAck arms the ack wait for a move that has just been sent.
func (r *RunState) awaitAck(now time.Time, timeout time.Duration) {
	r.acked = false
	r.ackDeadline = time.Time{}
	if timeout > 0 {
		r.ackDeadline = now.Add(timeout)
	}
}

func (r *RunState) ackTimedOut(now time.Time) bool {
	return !r.ackDeadline.IsZero() && !now.Before(r.ackDeadline)
}

// PatchPosition returns the last known logical position of a patch.
func (r *RunState) PatchPosition(id sequence.PatchID) (sequence.Waypoint, bool) {
	pos, ok := r.patches[id]
	return pos, ok
}

func (r *RunState) result() Result {
	trace := make([]BlockTrace, len(r.trace))
	for i, t := range r.trace {
		t.Commands = append([]string(nil), t.Commands...)
		trace[i] = t
	}
	return Result{
		RunID:         r.ID,
		State:         r.State,
		Blocks:        len(r.seq.Blocks),
		LastCompleted: r.lastCompleted,
		Trace:         trace,
		StartedAt:     r.Started,
		EndedAt:       r.Ended,
		Err:           r.err,
	}
}
