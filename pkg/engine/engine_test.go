package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/haptic/pkg/clock"
	"github.com/gwillem/haptic/pkg/rig"
	"github.com/gwillem/haptic/pkg/sequence"
)

func TestMain(m *testing.M) {
	rig.SetLogger(nil)
	m.Run()
}

type harness struct {
	transport *rig.MockLink
	actuator  *rig.MockLink
	tc        *rig.Client
	clk       *clock.Mock
	eng       *Engine
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		transport: rig.NewMockLink(),
		actuator:  rig.NewMockLink(),
		clk:       clock.NewMock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	h.tc = rig.NewClient(rig.Transport, h.transport)
	cfg.Clock = h.clk
	eng, err := New(h.tc, rig.NewClient(rig.Actuator, h.actuator), cfg)
	require.NoError(t, err)
	h.eng = eng
	return h
}

// ack delivers one transport acknowledgment and runs a tick.
func (h *harness) ack() State {
	h.transport.Feed("OK")
	return h.eng.Step()
}

func (h *harness) wait(d time.Duration) State {
	h.clk.Advance(d)
	return h.eng.Step()
}

func forceAttract(mag int, ms uint32, wait bool) sequence.HapticConfig {
	return sequence.HapticConfig{
		Force:            sequence.Force{Enabled: true, Mode: sequence.Attract, Magnitude: mag, DurationMS: ms},
		WaitForPriorMove: wait,
	}
}

func assertSent(t *testing.T, link *rig.MockLink, want ...string) {
	t.Helper()
	if diff := cmp.Diff(want, link.Sent()); diff != "" {
		t.Errorf("sent lines mismatch (-want +got):\n%s", diff)
	}
}

func count(lines []string, line string) int {
	n := 0
	for _, l := range lines {
		if l == line {
			n++
		}
	}
	return n
}

func TestSimpleMove(t *testing.T) {
	h := newHarness(t, Config{Calibration: rig.Calibration{ScaleX: 2, ScaleY: 0.5}})
	seq := sequence.Sequence{
		Blocks: []sequence.Block{
			sequence.NewMove(1, []sequence.Waypoint{{X: 0, Y: 0}, {X: 50, Y: 20}}, sequence.PresetNone),
		},
	}

	require.NoError(t, h.eng.Start(seq))
	assert.Equal(t, AwaitingMoveAck, h.eng.Step())
	assertSent(t, h.transport, "M,100.00,10.00")

	// nothing happens until the ack arrives
	assert.Equal(t, AwaitingMoveAck, h.wait(time.Second))
	assertSent(t, h.transport, "M,100.00,10.00")

	assert.Equal(t, Finished, h.ack())
	assertSent(t, h.transport, "M,100.00,10.00", "M,0.00,0.00")
	assertSent(t, h.actuator, "H,0,0,0,0,0,0,0")

	res := h.eng.Result()
	require.NoError(t, res.Err)
	assert.Equal(t, Finished, res.State)
	assert.Equal(t, 0, res.LastCompleted)
	require.Len(t, res.Trace, 1)
	assert.True(t, res.Trace[0].Done())
	assert.Equal(t, []string{"move (100.00, 10.00)"}, res.Trace[0].Commands)
	assert.NotEmpty(t, res.RunID)

	pos, ok := h.eng.PatchPosition(1)
	require.True(t, ok)
	assert.Equal(t, sequence.Waypoint{X: 50, Y: 20}, pos)
}

func TestHapticWithPrePosition(t *testing.T) {
	h := newHarness(t, Config{Calibration: rig.Calibration{ScaleX: 1.5, ScaleY: 2}})
	seq := sequence.Sequence{
		Patches: map[sequence.PatchID]sequence.Waypoint{2: {X: 30, Y: 10}},
		Blocks: []sequence.Block{
			sequence.NewHaptic(2, forceAttract(100, 2000, true)),
		},
	}

	require.NoError(t, h.eng.Start(seq))
	assert.Equal(t, AwaitingMoveAck, h.eng.Step())
	assertSent(t, h.transport, "M,45.00,20.00")
	assertSent(t, h.actuator)

	assert.Equal(t, AwaitingHapticExpiry, h.ack())
	assertSent(t, h.actuator, "H,1,255,0,0,0,2000,0")

	assert.Equal(t, AwaitingHapticExpiry, h.wait(1999*time.Millisecond))
	assert.Equal(t, Finished, h.wait(time.Millisecond))

	assertSent(t, h.transport, "M,45.00,20.00", "M,0.00,0.00")
	assertSent(t, h.actuator, "H,1,255,0,0,0,2000,0", "H,0,0,0,0,0,0,0", "H,0,0,0,0,0,0,0")
}

func TestHapticWithoutWaitIssuesImmediately(t *testing.T) {
	h := newHarness(t, Config{})
	seq := sequence.Sequence{
		Blocks: []sequence.Block{sequence.NewHaptic(3, forceAttract(50, 0, false))},
	}

	require.NoError(t, h.eng.Start(seq))
	// zero duration still issues and clears the command
	assert.Equal(t, Finished, h.eng.Step())
	assertSent(t, h.transport, "M,0.00,0.00")
	assertSent(t, h.actuator, "H,1,128,0,0,0,0,0", "H,0,0,0,0,0,0,0", "H,0,0,0,0,0,0,0")
}

func TestPrePositionUsesPositionAfterMove(t *testing.T) {
	h := newHarness(t, Config{})
	seq := sequence.Sequence{
		Patches: map[sequence.PatchID]sequence.Waypoint{1: {X: 5, Y: 5}},
		Blocks: []sequence.Block{
			sequence.NewMove(1, []sequence.Waypoint{{X: 5, Y: 5}, {X: 40, Y: 60}}, sequence.PresetNone),
			sequence.NewHaptic(1, forceAttract(100, 500, true)),
		},
	}

	require.NoError(t, h.eng.Start(seq))
	h.eng.Step()
	h.ack()
	assertSent(t, h.transport, "M,40.00,60.00", "M,40.00,60.00")
	assertSent(t, h.actuator)

	assert.Equal(t, AwaitingHapticExpiry, h.ack())
	assertSent(t, h.actuator, "H,1,255,0,0,0,500,0")
}

func TestAtMostOneOutstandingMove(t *testing.T) {
	h := newHarness(t, Config{})
	outstanding := 0
	h.transport.OnSend = func(line string) {
		if !strings.HasPrefix(line, "M,") {
			return
		}
		if outstanding > 0 {
			t.Errorf("%s sent while a move is unacknowledged", line)
		}
		outstanding++
	}

	seq := sequence.Sequence{
		Patches: map[sequence.PatchID]sequence.Waypoint{1: {}, 2: {X: 100, Y: 100}},
		Blocks: []sequence.Block{
			sequence.NewMove(1, []sequence.Waypoint{{}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 20, Y: 10}}, sequence.PresetVibrate),
			sequence.NewHaptic(2, forceAttract(80, 300, true)),
			sequence.NewMove(2, []sequence.Waypoint{{X: 100, Y: 100}, {X: 120, Y: 90}}, sequence.PresetNone),
		},
	}
	require.NoError(t, h.eng.Start(seq))

	for i := 0; i < 500 && !h.eng.State().Terminal(); i++ {
		// acks arrive late: only every fifth tick
		if i%5 == 4 && outstanding > 0 {
			h.transport.Feed("OK")
			outstanding--
		}
		h.wait(10 * time.Millisecond)
	}

	require.Equal(t, Finished, h.eng.State())
	assertSent(t, h.transport,
		"M,10.00,0.00", "M,10.00,10.00", "M,20.00,10.00",
		"M,100.00,100.00",
		"M,120.00,90.00",
		"M,0.00,0.00",
	)
}

func TestMovePresetSpansTraversal(t *testing.T) {
	h := newHarness(t, Config{})
	seq := sequence.Sequence{
		Blocks: []sequence.Block{
			sequence.NewMove(1, []sequence.Waypoint{{}, {X: 10}, {X: 20}, {X: 30}}, sequence.PresetAttract),
		},
	}
	require.NoError(t, h.eng.Start(seq))

	h.eng.Step()
	assertSent(t, h.actuator)

	h.ack()
	assertSent(t, h.actuator, "H,1,255,0,0,0,0,0")

	h.ack()
	assertSent(t, h.actuator, "H,1,255,0,0,0,0,0")

	assert.Equal(t, Finished, h.ack())
	// preset clear, then the clear sent when the run finishes
	assertSent(t, h.actuator, "H,1,255,0,0,0,0,0", "H,0,0,0,0,0,0,0", "H,0,0,0,0,0,0,0")
}

func TestHapticWaitsForLongestEnabledDuration(t *testing.T) {
	h := newHarness(t, Config{})
	cfg := sequence.HapticConfig{
		Force:     sequence.Force{Enabled: true, Mode: sequence.Attract, Magnitude: 40, DurationMS: 1000},
		Vibration: sequence.Vibration{Enabled: true, Mode: sequence.Repel, FrequencyHz: 80, Amplitude: 40, DurationMS: 3000},
		Heat:      sequence.Heat{Enabled: true, DurationMS: 0},
	}
	seq := sequence.Sequence{
		Blocks: []sequence.Block{
			sequence.NewHaptic(1, cfg),
			sequence.NewMove(1, []sequence.Waypoint{{}, {X: 1, Y: 1}}, sequence.PresetNone),
		},
	}

	var issued, advanced time.Time
	h.actuator.OnSend = func(line string) {
		if issued.IsZero() && line != rig.ClearCommand().String() {
			issued = h.clk.Now()
		}
	}
	h.transport.OnSend = func(line string) {
		if advanced.IsZero() && strings.HasPrefix(line, "M,") {
			advanced = h.clk.Now()
		}
	}

	require.NoError(t, h.eng.Start(seq))
	for i := 0; i < 100 && advanced.IsZero(); i++ {
		h.wait(100 * time.Millisecond)
	}

	require.False(t, issued.IsZero())
	require.False(t, advanced.IsZero())
	assert.GreaterOrEqual(t, advanced.Sub(issued), 3000*time.Millisecond)
	assert.Less(t, advanced.Sub(issued), 3200*time.Millisecond)
}

func TestDisabledModalityDurationIgnored(t *testing.T) {
	h := newHarness(t, Config{})
	cfg := forceAttract(60, 200, false)
	cfg.Heat = sequence.Heat{Enabled: false, DurationMS: 60000}
	seq := sequence.Sequence{Blocks: []sequence.Block{sequence.NewHaptic(1, cfg)}}

	require.NoError(t, h.eng.Start(seq))
	assert.Equal(t, AwaitingHapticExpiry, h.eng.Step())
	assert.Equal(t, Finished, h.wait(200*time.Millisecond))
}

func TestMalformedTelemetryIsIgnored(t *testing.T) {
	h := newHarness(t, Config{Calibration: rig.Calibration{ScaleX: 2, ScaleY: 0.5}})
	seq := sequence.Sequence{
		Blocks: []sequence.Block{
			sequence.NewMove(1, []sequence.Waypoint{{}, {X: 50, Y: 20}}, sequence.PresetNone),
		},
	}
	require.NoError(t, h.eng.Start(seq))
	h.eng.Step()

	h.transport.Feed("POS,100,10")
	assert.Equal(t, AwaitingMoveAck, h.eng.Step())
	pos, ok := h.eng.Position()
	require.True(t, ok)
	assert.Equal(t, rig.PhysicalPoint{X: 100, Y: 10}, pos)

	logical, ok := h.eng.LogicalPosition()
	require.True(t, ok)
	assert.Equal(t, sequence.Waypoint{X: 50, Y: 20}, logical)

	h.transport.Feed("POS,abc,12")
	assert.Equal(t, AwaitingMoveAck, h.eng.Step())
	pos, _ = h.eng.Position()
	assert.Equal(t, rig.PhysicalPoint{X: 100, Y: 10}, pos)
	assert.Equal(t, int64(1), h.tc.Dropped())

	// telemetry interleaved with the ack
	h.transport.Feed("POS,90,8", "OK", "POS,100,10")
	assert.Equal(t, Finished, h.eng.Step())
	require.NoError(t, h.eng.Result().Err)
}

func TestAbortMidMove(t *testing.T) {
	h := newHarness(t, Config{})
	seq := sequence.Sequence{
		Blocks: []sequence.Block{
			sequence.NewMove(1, []sequence.Waypoint{{}, {X: 10, Y: 10}}, sequence.PresetNone),
			sequence.NewMove(1, []sequence.Waypoint{{X: 10, Y: 10}, {X: 20, Y: 20}, {X: 30, Y: 30}}, sequence.PresetNone),
		},
	}
	require.NoError(t, h.eng.Start(seq))
	h.eng.Step()
	assert.Equal(t, AwaitingMoveAck, h.ack())
	assertSent(t, h.transport, "M,10.00,10.00", "M,20.00,20.00")

	require.True(t, h.eng.Abort())
	assert.Equal(t, Aborted, h.eng.State())
	assertSent(t, h.transport, "M,10.00,10.00", "M,20.00,20.00", "!")
	assertSent(t, h.actuator, "!")

	// a second abort is a no-op
	assert.False(t, h.eng.Abort())
	assert.Equal(t, 1, count(h.transport.Sent(), "!"))
	assert.Equal(t, 1, count(h.actuator.Sent(), "!"))

	// a late ack does not resume the run
	assert.Equal(t, Aborted, h.ack())
	assert.Len(t, h.transport.Sent(), 3)

	res := h.eng.Result()
	assert.Equal(t, Aborted, res.State)
	assert.Equal(t, 0, res.LastCompleted)
	require.ErrorIs(t, res.Err, ErrRunAborted)

	var aborted *AbortedError
	require.ErrorAs(t, res.Err, &aborted)
	assert.Equal(t, 0, aborted.LastCompleted)
	assert.NoError(t, aborted.Cause)

	require.Len(t, res.Trace, 2)
	assert.True(t, res.Trace[0].Done())
	assert.False(t, res.Trace[1].Done())

	transitions := 0
	for {
		select {
		case ev := <-h.eng.Events():
			if ev.Kind == EventState && ev.State == Aborted {
				transitions++
			}
			continue
		default:
		}
		break
	}
	assert.Equal(t, 1, transitions)
}

func TestAbortWithoutRunIsNoop(t *testing.T) {
	h := newHarness(t, Config{})
	assert.False(t, h.eng.Abort())
	assert.Equal(t, Idle, h.eng.State())
	assertSent(t, h.transport)
	assertSent(t, h.actuator)

	require.NoError(t, h.eng.Start(sequence.Sequence{}))
	assert.Equal(t, Finished, h.eng.Step())
	assert.False(t, h.eng.Abort())
	assert.Zero(t, count(h.transport.Sent(), "!"))
}

func TestAckTimeoutAbortsRun(t *testing.T) {
	h := newHarness(t, Config{AckTimeout: 5 * time.Second})
	seq := sequence.Sequence{
		Blocks: []sequence.Block{
			sequence.NewMove(1, []sequence.Waypoint{{}, {X: 10, Y: 10}}, sequence.PresetNone),
		},
	}
	require.NoError(t, h.eng.Start(seq))
	h.eng.Step()

	assert.Equal(t, AwaitingMoveAck, h.wait(4999*time.Millisecond))
	assert.Equal(t, Aborted, h.wait(time.Millisecond))

	err := h.eng.Result().Err
	assert.ErrorIs(t, err, ErrRunAborted)
	assert.ErrorIs(t, err, rig.ErrLinkTimeout)
	assert.Equal(t, 1, count(h.transport.Sent(), "!"))
	assert.Equal(t, 1, count(h.actuator.Sent(), "!"))
}

func TestNoAckTimeoutWaitsForever(t *testing.T) {
	h := newHarness(t, Config{})
	seq := sequence.Sequence{
		Blocks: []sequence.Block{
			sequence.NewMove(1, []sequence.Waypoint{{}, {X: 10, Y: 10}}, sequence.PresetNone),
		},
	}
	require.NoError(t, h.eng.Start(seq))
	h.eng.Step()
	assert.Equal(t, AwaitingMoveAck, h.wait(time.Hour))
	assert.Equal(t, Finished, h.ack())
}

func TestSendFailureAbortsRun(t *testing.T) {
	h := newHarness(t, Config{})
	h.actuator.FailSends(errors.New("write: input/output error"))
	seq := sequence.Sequence{
		Blocks: []sequence.Block{sequence.NewHaptic(1, forceAttract(100, 1000, false))},
	}
	require.NoError(t, h.eng.Start(seq))

	assert.Equal(t, Aborted, h.eng.Step())
	err := h.eng.Result().Err
	assert.ErrorIs(t, err, ErrRunAborted)
	assert.ErrorIs(t, err, rig.ErrLinkIO)
	assertSent(t, h.transport, "!")
	assert.Equal(t, -1, h.eng.Result().LastCompleted)
}

func TestLinkLostDuringRun(t *testing.T) {
	h := newHarness(t, Config{})
	seq := sequence.Sequence{
		Blocks: []sequence.Block{
			sequence.NewMove(1, []sequence.Waypoint{{}, {X: 10, Y: 10}}, sequence.PresetNone),
		},
	}
	require.NoError(t, h.eng.Start(seq))
	h.eng.Step()

	h.transport.Break(nil)
	assert.Equal(t, Aborted, h.eng.Step())
	assert.ErrorIs(t, h.eng.Result().Err, rig.ErrLinkIO)
	assertSent(t, h.actuator, "!")
}

func TestStartValidation(t *testing.T) {
	h := newHarness(t, Config{})

	err := h.eng.Start(sequence.Sequence{
		Blocks: []sequence.Block{sequence.NewMove(1, []sequence.Waypoint{{X: 1, Y: 1}}, sequence.PresetNone)},
	})
	assert.ErrorIs(t, err, sequence.ErrInvalidBlock)

	err = h.eng.Start(sequence.Sequence{
		Blocks: []sequence.Block{sequence.NewHaptic(1, sequence.HapticConfig{})},
	})
	assert.ErrorIs(t, err, sequence.ErrInvalidBlock)
	assertSent(t, h.transport)
	assert.Equal(t, Idle, h.eng.State())

	h.actuator.Break(nil)
	err = h.eng.Start(sequence.Sequence{})
	assert.ErrorIs(t, err, rig.ErrLinkIO)
}

func TestStartWhileRunning(t *testing.T) {
	h := newHarness(t, Config{})
	seq := sequence.Sequence{
		Blocks: []sequence.Block{
			sequence.NewMove(1, []sequence.Waypoint{{}, {X: 10, Y: 10}}, sequence.PresetNone),
		},
	}
	require.NoError(t, h.eng.Start(seq))
	h.eng.Step()
	assert.ErrorIs(t, h.eng.Start(seq), ErrRunning)
}

func TestStaleAckBeforeRunIsIgnored(t *testing.T) {
	h := newHarness(t, Config{})
	h.transport.Feed("OK", "POS,3,4")
	seq := sequence.Sequence{
		Blocks: []sequence.Block{
			sequence.NewMove(1, []sequence.Waypoint{{}, {X: 10, Y: 10}}, sequence.PresetNone),
		},
	}
	require.NoError(t, h.eng.Start(seq))
	assert.Equal(t, AwaitingMoveAck, h.eng.Step())

	pos, ok := h.eng.Position()
	require.True(t, ok)
	assert.Equal(t, rig.PhysicalPoint{X: 3, Y: 4}, pos)
}

func TestSnapshotIsolatesRunFromEdits(t *testing.T) {
	h := newHarness(t, Config{})
	seq := sequence.Sequence{
		Blocks: []sequence.Block{
			sequence.NewMove(1, []sequence.Waypoint{{}, {X: 10, Y: 10}}, sequence.PresetNone),
		},
	}
	require.NoError(t, h.eng.Start(seq))
	seq.Blocks[0].Waypoints[1] = sequence.Waypoint{X: 99, Y: 99}

	h.eng.Step()
	assertSent(t, h.transport, "M,10.00,10.00")
}

func TestRun(t *testing.T) {
	h := newHarness(t, Config{PollInterval: 10 * time.Millisecond})
	h.transport.OnSend = func(line string) {
		if strings.HasPrefix(line, "M,") {
			h.transport.Feed("OK")
		}
	}
	seq := sequence.Sequence{
		Patches: map[sequence.PatchID]sequence.Waypoint{1: {}},
		Blocks: []sequence.Block{
			sequence.NewMove(1, []sequence.Waypoint{{}, {X: 10, Y: 10}, {X: 20, Y: 0}}, sequence.PresetNone),
			sequence.NewHaptic(1, forceAttract(100, 100, true)),
		},
	}

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := h.eng.Run(context.Background(), seq)
		done <- outcome{res, err}
	}()

	var got outcome
	require.Eventually(t, func() bool {
		h.clk.Advance(10 * time.Millisecond)
		select {
		case got = <-done:
			return true
		default:
			return false
		}
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, got.err)
	assert.Equal(t, Finished, got.res.State)
	assert.Equal(t, 1, got.res.LastCompleted)
	assert.Equal(t, 2, got.res.Blocks)
}

func TestRunAgainstSimulator(t *testing.T) {
	transport, actuator := rig.NewSimulator(rig.SimOptions{Speed: 2000, Step: time.Millisecond})
	eng, err := New(transport, actuator, Config{
		Calibration:  rig.Calibration{ScaleX: 1, ScaleY: 1},
		PollInterval: time.Millisecond,
		AckTimeout:   time.Second,
	})
	require.NoError(t, err)

	seq := sequence.Sequence{
		Patches: map[sequence.PatchID]sequence.Waypoint{1: {X: 5, Y: 5}},
		Blocks: []sequence.Block{
			sequence.NewMove(1, []sequence.Waypoint{{X: 5, Y: 5}, {X: 20, Y: 10}}, sequence.PresetAttract),
			sequence.NewHaptic(1, forceAttract(50, 20, true)),
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := eng.Run(ctx, seq)
	require.NoError(t, err)
	assert.Equal(t, Finished, res.State)
	assert.Equal(t, 1, res.LastCompleted)

	pos, ok := eng.Position()
	require.True(t, ok)
	assert.Equal(t, rig.PhysicalPoint{X: 20, Y: 10}, pos)
}

func TestRunCancelledContextAborts(t *testing.T) {
	h := newHarness(t, Config{})
	seq := sequence.Sequence{
		Blocks: []sequence.Block{
			sequence.NewMove(1, []sequence.Waypoint{{}, {X: 10, Y: 10}}, sequence.PresetNone),
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.eng.Run(ctx, seq)
		done <- err
	}()

	require.Eventually(t, func() bool {
		return h.eng.State() == AwaitingMoveAck
	}, 5*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrRunAborted)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 1, count(h.transport.Sent(), "!"))
}

func TestRunRejectsInvalidSequence(t *testing.T) {
	h := newHarness(t, Config{})
	res, err := h.eng.Run(context.Background(), sequence.Sequence{
		Blocks: []sequence.Block{{Kind: sequence.KindHaptic, Patch: 1}},
	})
	assert.ErrorIs(t, err, sequence.ErrInvalidBlock)
	assert.Equal(t, Idle, res.State)
	assert.Equal(t, -1, res.LastCompleted)
}
