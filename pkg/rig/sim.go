package rig

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SimOptions tunes the simulated controllers.
type SimOptions struct {
	// Speed is the transport speed in controller units per second. Zero
	// moves instantly and replies from inside Send.
	Speed float64
	// Step is the interval between POS lines while moving.
	Step time.Duration
	// JogStep is how far one jog letter moves the transport.
	JogStep float64
}

// DefaultSimOptions is a transport moving 200 units/s reporting every 50ms.
func DefaultSimOptions() SimOptions {
	return SimOptions{Speed: 200, Step: 50 * time.Millisecond, JogStep: 5}
}

// simTransport answers like the transport firmware: Ready to R, a stream of
// POS lines while travelling and OK once a move has arrived.
type simTransport struct {
	link *MockLink
	opts SimOptions

	mu  sync.Mutex
	pos PhysicalPoint
	gen int
}

// NewSimulator returns transport and actuator clients backed by in-memory
// controllers, for dry runs without hardware.
func NewSimulator(opts SimOptions) (transport, actuator *Client) {
	if opts.Step <= 0 {
		opts.Step = DefaultSimOptions().Step
	}
	if opts.JogStep <= 0 {
		opts.JogStep = DefaultSimOptions().JogStep
	}

	st := &simTransport{link: NewMockLink(), opts: opts}
	st.link.OnSend = st.handle

	al := NewMockLink()
	al.OnSend = func(line string) {
		if line == cmdReady {
			al.Feed("Ready")
		}
	}

	return NewClient(Transport, st.link), NewClient(Actuator, al)
}

func (s *simTransport) handle(line string) {
	switch {
	case line == cmdReady:
		s.link.Feed("Ready")
	case line == cmdAbort, line == string(JogStop):
		s.stop()
	case line == cmdHome:
		s.start(PhysicalPoint{}, false)
	case strings.HasPrefix(line, "M,"):
		to, err := parseMove(line)
		if err != nil {
			s.link.Feed("ERR " + err.Error())
			return
		}
		s.start(to, true)
	default:
		s.jog(JogDirection(line))
	}
}

func parseMove(line string) (PhysicalPoint, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 3 {
		return PhysicalPoint{}, fmt.Errorf("bad move %q", line)
	}
	x, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return PhysicalPoint{}, err
	}
	y, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return PhysicalPoint{}, err
	}
	return PhysicalPoint{X: x, Y: y}, nil
}

func (s *simTransport) stop() {
	s.mu.Lock()
	s.gen++
	s.mu.Unlock()
}

func (s *simTransport) jog(d JogDirection) {
	s.mu.Lock()
	s.gen++
	switch d {
	case JogUp:
		s.pos.Y += s.opts.JogStep
	case JogDown:
		s.pos.Y -= s.opts.JogStep
	case JogLeft:
		s.pos.X -= s.opts.JogStep
	case JogRight:
		s.pos.X += s.opts.JogStep
	default:
		s.mu.Unlock()
		return
	}
	p := s.pos
	s.mu.Unlock()
	s.link.Feed(formatPos(p))
}

// start begins travel to `to`. A later move, jog or abort cancels it.
func (s *simTransport) start(to PhysicalPoint, ack bool) {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	from := s.pos
	s.mu.Unlock()

	if s.opts.Speed <= 0 {
		s.travel(gen, from, to, 1, ack)
		return
	}
	dist := math.Hypot(to.X-from.X, to.Y-from.Y)
	steps := int(math.Ceil(dist / s.opts.Speed / s.opts.Step.Seconds()))
	go s.travel(gen, from, to, max(steps, 1), ack)
}

func (s *simTransport) travel(gen int, from, to PhysicalPoint, steps int, ack bool) {
	for i := 1; i <= steps; i++ {
		if s.opts.Speed > 0 {
			time.Sleep(s.opts.Step)
		}
		f := float64(i) / float64(steps)
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.pos = PhysicalPoint{X: from.X + (to.X-from.X)*f, Y: from.Y + (to.Y-from.Y)*f}
		p := s.pos
		s.mu.Unlock()
		s.link.Feed(formatPos(p))
	}
	if ack {
		s.link.Feed("OK")
	}
}

func formatPos(p PhysicalPoint) string {
	return fmt.Sprintf("POS,%.2f,%.2f", p.X, p.Y)
}
