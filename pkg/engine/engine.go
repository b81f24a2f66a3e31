// Package engine executes haptic sequences against the transport and
// actuator controllers.
//
// A run is driven by a single loop that calls Step on every tick. Step never
// blocks: it drains both links, then advances the state machine as far as it
// can without waiting for an acknowledgment or a haptic timer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gwillem/haptic/pkg/clock"
	"github.com/gwillem/haptic/pkg/rig"
	"github.com/gwillem/haptic/pkg/sequence"
)

// ErrRunning is returned when a run is started while another is active.
var ErrRunning = errors.New("a sequence is already running")

// Default timing.
const (
	DefaultPollInterval = 10 * time.Millisecond
	DefaultAckTimeout   = 10 * time.Second
)

// Config holds configuration for the engine.
type Config struct {
	Calibration  rig.Calibration
	PollInterval time.Duration
	AckTimeout   time.Duration // zero waits for acks forever
	Clock        clock.Clock
}

// EventKind tells what an Event reports.
type EventKind int

const (
	EventState EventKind = iota + 1
	EventBlockStarted
	EventBlockCompleted
	EventPosition
)

// Event is a progress update for display.
type Event struct {
	Kind     EventKind
	State    State
	Block    int
	Label    string
	Position rig.PhysicalPoint
	Time     time.Time
}

// Engine drives one sequence at a time over the two controller links.
type Engine struct {
	transport  *rig.Client
	actuator   *rig.Client
	calib      rig.Calibration
	poll       time.Duration
	ackTimeout time.Duration
	clock      clock.Clock

	mu      sync.Mutex
	run     *RunState
	pos     rig.PhysicalPoint
	havePos bool

	eventCh chan Event
	logCh   chan string
}

// New creates an engine for the given links.
func New(transport, actuator *rig.Client, cfg Config) (*Engine, error) {
	if transport == nil || actuator == nil {
		return nil, errors.New("transport and actuator clients are required")
	}
	if cfg.Calibration == (rig.Calibration{}) {
		cfg.Calibration = rig.DefaultCalibration()
	}
	if err := cfg.Calibration.Validate(); err != nil {
		return nil, fmt.Errorf("calibration: %w", err)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.AckTimeout < 0 {
		cfg.AckTimeout = 0
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}

	return &Engine{
		transport:  transport,
		actuator:   actuator,
		calib:      cfg.Calibration,
		poll:       cfg.PollInterval,
		ackTimeout: cfg.AckTimeout,
		clock:      cfg.Clock,
		eventCh:    make(chan Event, 64),
		logCh:      make(chan string, 32),
	}, nil
}

// Events returns a channel that receives progress updates. When the reader
// falls behind the oldest update is dropped.
func (e *Engine) Events() <-chan Event {
	return e.eventCh
}

// Logs returns a channel that receives log messages.
func (e *Engine) Logs() <-chan string {
	return e.logCh
}

// PollInterval returns the tick interval used by Run.
func (e *Engine) PollInterval() time.Duration {
	return e.poll
}

func (e *Engine) log(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", e.clock.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case e.logCh <- msg:
	default:
		// Drop if channel full
	}
}

func (e *Engine) emit(ev Event) {
	ev.Time = e.clock.Now()
	select {
	case e.eventCh <- ev:
	default:
		// Drop the oldest event and retry
		select {
		case <-e.eventCh:
		default:
		}
		select {
		case e.eventCh <- ev:
		default:
		}
	}
}

func (e *Engine) transition(r *RunState, to State) {
	if r.transition(to) {
		e.emit(Event{Kind: EventState, State: to, Block: r.block})
	}
}

// Run executes seq and blocks until it finishes or is aborted. Cancelling
// ctx aborts the run. The returned error is the run's Err.
func (e *Engine) Run(ctx context.Context, seq sequence.Sequence) (Result, error) {
	if err := e.Start(seq); err != nil {
		return Result{State: Idle, LastCompleted: -1, Err: err}, err
	}

	e.mu.Lock()
	done := e.run.abort.Done()
	e.mu.Unlock()

	ticker := e.clock.NewTicker(e.poll)
	defer ticker.Stop()

	for !e.Step().Terminal() {
		select {
		case <-ctx.Done():
			e.abortWith(ctx.Err())
		case <-done:
		case <-ticker.C():
		}
	}

	res := e.Result()
	return res, res.Err
}

// Start validates seq, takes a snapshot of it and arms a new run. The run
// makes progress only when Step is called; Run does that on a ticker.
func (e *Engine) Start(seq sequence.Sequence) error {
	if err := sequence.Validate(seq); err != nil {
		return err
	}
	for _, c := range e.clients() {
		if !c.IsOpen() {
			return &rig.LinkError{Role: c.Role, Op: "run", Kind: rig.ErrLinkIO, Err: c.Link().Err()}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run != nil && e.run.State.Active() {
		return ErrRunning
	}

	r := newRunState(uuid.NewString(), seq.Clone(), e.clock.Now())
	e.run = r
	e.log("Run %s started with %d blocks", r.ID[:8], len(r.seq.Blocks))
	e.emit(Event{Kind: EventState, State: r.State})

	// Replies left over from before the run must not satisfy its first ack.
	e.drain(nil)
	return nil
}

// Step performs one poll tick and returns the resulting state.
func (e *Engine) Step() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.run
	if r == nil || !r.State.Active() {
		e.drain(nil)
		if r == nil {
			return Idle
		}
		return r.State
	}

	e.drain(r)
	e.advance(r)
	return r.State
}

// Abort stops the active run: it sends the abort frame on both links and
// moves the run to Aborted. It reports whether a run was aborted; calling it
// with no active run does nothing.
func (e *Engine) Abort() bool {
	return e.abortWith(nil)
}

func (e *Engine) abortWith(cause error) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run == nil {
		return false
	}
	return e.abortRun(e.run, cause)
}

// State returns the state of the current or most recent run.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run == nil {
		return Idle
	}
	return e.run.State
}

// Result returns the outcome of the current or most recent run.
func (e *Engine) Result() Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run == nil {
		return Result{State: Idle, LastCompleted: -1}
	}
	return e.run.result()
}

// Position returns the last physical position reported by the transport.
func (e *Engine) Position() (rig.PhysicalPoint, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos, e.havePos
}

// LogicalPosition returns Position mapped back to logical millimetres.
func (e *Engine) LogicalPosition() (sequence.Waypoint, bool) {
	p, ok := e.Position()
	if !ok {
		return sequence.Waypoint{}, false
	}
	return e.calib.ToLogical(p), true
}

// PatchPosition returns the last known logical position of a patch in the
// current or most recent run.
func (e *Engine) PatchPosition(id sequence.PatchID) (sequence.Waypoint, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run == nil {
		return sequence.Waypoint{}, false
	}
	return e.run.PatchPosition(id)
}

func (e *Engine) clients() []*rig.Client {
	return []*rig.Client{e.transport, e.actuator}
}

// drain consumes every pending line on both links. Position telemetry is
// always applied; an ack is consumed only while r waits for one.
func (e *Engine) drain(r *RunState) {
	for {
		resp, ok := e.transport.PollResponse()
		if !ok {
			break
		}
		switch resp.Kind {
		case rig.Position:
			e.pos, e.havePos = resp.Position, true
			e.emit(Event{Kind: EventPosition, Position: resp.Position})
		case rig.Ack:
			if r != nil && r.State == AwaitingMoveAck && !r.acked {
				r.acked = true
			} else {
				e.log("Ignoring unsolicited ack from transport")
			}
		default:
			e.log("transport: %s", resp.Text)
		}
	}
	for {
		resp, ok := e.actuator.PollResponse()
		if !ok {
			break
		}
		e.log("actuator: %s", resp.Text)
	}

	if r == nil {
		return
	}
	for _, c := range e.clients() {
		if !c.IsOpen() {
			e.abortRun(r, &rig.LinkError{Role: c.Role, Op: "receive", Kind: rig.ErrLinkIO, Err: c.Link().Err()})
			return
		}
	}
}

func (e *Engine) advance(r *RunState) {
	for r.State.Active() {
		now := e.clock.Now()

		switch r.State {
		case RunningBlock:
			b, ok := r.current()
			if !ok {
				e.finish(r, now)
				return
			}
			t := r.beginBlock(now)
			e.log("Block %s", t.Label)
			e.emit(Event{Kind: EventBlockStarted, Block: t.Index, Label: t.Label})

			switch b.Kind {
			case sequence.KindMove:
				r.leg = 1
				if !e.sendMove(r, b.Waypoints[r.leg], now) {
					return
				}
			case sequence.KindHaptic:
				if b.Config.WaitForPriorMove {
					pos, _ := r.PatchPosition(b.Patch)
					r.prepositioned = true
					if !e.sendMove(r, pos, now) {
						return
					}
				} else if !e.issueHaptic(r, b, now) {
					return
				}
			}

		case AwaitingMoveAck:
			if !r.acked {
				if r.ackTimedOut(now) {
					e.abortRun(r, &rig.LinkError{
						Role: rig.Transport,
						Op:   "move",
						Kind: rig.ErrLinkTimeout,
						Err:  fmt.Errorf("no ack within %s", e.ackTimeout),
					})
				}
				return
			}
			r.acked = false
			b, _ := r.current()

			if r.prepositioned {
				r.prepositioned = false
				if !e.issueHaptic(r, b, now) {
					return
				}
				continue
			}

			if r.leg == 1 && b.DuringMove != sequence.PresetNone {
				cmd, _ := rig.PresetCommand(b.DuringMove)
				if !e.sendHaptic(r, cmd) {
					return
				}
				r.presetOn = true
			}
			if r.leg < len(b.Waypoints)-1 {
				r.leg++
				if !e.sendMove(r, b.Waypoints[r.leg], now) {
					return
				}
				continue
			}
			if r.presetOn {
				if !e.sendHaptic(r, rig.ClearCommand()) {
					return
				}
				r.presetOn = false
			}
			e.completeBlock(r, now)

		case AwaitingHapticExpiry:
			if now.Before(r.expiresAt) {
				return
			}
			if !e.sendHaptic(r, rig.ClearCommand()) {
				return
			}
			e.completeBlock(r, now)
		}
	}
}

func (e *Engine) sendMove(r *RunState, w sequence.Waypoint, now time.Time) bool {
	p := e.calib.ToPhysical(w)
	r.record("move " + p.String())
	if err := e.transport.SendMove(p); err != nil {
		e.abortRun(r, err)
		return false
	}
	r.awaitAck(now, e.ackTimeout)
	e.transition(r, AwaitingMoveAck)
	return true
}

func (e *Engine) sendHaptic(r *RunState, cmd rig.HapticCommand) bool {
	r.record(cmd.String())
	if err := e.actuator.SendHaptic(cmd); err != nil {
		e.abortRun(r, err)
		return false
	}
	return true
}

func (e *Engine) issueHaptic(r *RunState, b sequence.Block, now time.Time) bool {
	if !e.sendHaptic(r, rig.CommandFromConfig(*b.Config)) {
		return false
	}
	r.expiresAt = now.Add(b.Config.Duration())
	e.transition(r, AwaitingHapticExpiry)
	return true
}

func (e *Engine) completeBlock(r *RunState, now time.Time) {
	t := r.completeBlock(now)
	e.emit(Event{Kind: EventBlockCompleted, Block: t.Index, Label: t.Label})
	e.transition(r, RunningBlock)
}

// finish ends a run whose blocks all completed and returns the rig to a
// safe state. Failures here are logged; the run has already succeeded.
func (e *Engine) finish(r *RunState, now time.Time) {
	r.Ended = now
	e.transition(r, Finished)
	e.log("Sequence finished: %d blocks in %s", len(r.seq.Blocks), now.Sub(r.Started).Round(time.Millisecond))

	if err := e.transport.SendMove(rig.Origin); err != nil {
		e.log("Warning: failed to return transport to origin: %v", err)
	}
	if err := e.actuator.SendHaptic(rig.ClearCommand()); err != nil {
		e.log("Warning: failed to clear actuator: %v", err)
	}
}

// abortRun sends the abort frame on both links and ends the run. Only the
// first call for a run has any effect.
func (e *Engine) abortRun(r *RunState, cause error) bool {
	if !r.State.Active() || !r.abort.Request(cause) {
		return false
	}

	for _, c := range e.clients() {
		if err := c.SendAbort(); err != nil {
			e.log("Warning: %s abort frame not sent: %v", c.Role, err)
		}
	}

	r.ackDeadline = time.Time{}
	r.expiresAt = time.Time{}
	r.err = &AbortedError{LastCompleted: r.lastCompleted, Cause: cause}
	r.Ended = e.clock.Now()
	e.transition(r, Aborted)

	if cause != nil {
		e.log("Run aborted: %v", cause)
	} else {
		e.log("Run aborted by request")
	}
	return true
}
