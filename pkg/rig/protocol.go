package rig

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Wire commands.
const (
	cmdReady = "R"
	cmdHome  = "H"
	cmdAbort = "!"
)

// ResponseKind classifies a line received from a controller.
type ResponseKind int

const (
	Ack ResponseKind = iota + 1
	Position
	ReadyNotice
	Other
)

func (k ResponseKind) String() string {
	switch k {
	case Ack:
		return "ack"
	case Position:
		return "position"
	case ReadyNotice:
		return "ready"
	case Other:
		return "other"
	default:
		return "unknown"
	}
}

// Response is one classified line. Position is set for Position responses and
// Text holds the raw line.
type Response struct {
	Kind     ResponseKind
	Position PhysicalPoint
	Text     string
}

// ParseResponse classifies a single line. Lines that are not recognised come
// back as Other; a POS line with bad fields is ErrMalformedTelemetry.
func ParseResponse(line string) (Response, error) {
	line = strings.TrimSpace(line)
	fields := strings.Split(line, ",")
	head := strings.TrimSpace(fields[0])

	switch {
	case head == "POS":
		if len(fields) != 3 {
			return Response{}, fmt.Errorf("%w: %q has %d fields, want 3", ErrMalformedTelemetry, line, len(fields))
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil {
			return Response{}, fmt.Errorf("%w: %q: bad x: %v", ErrMalformedTelemetry, line, err)
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
		if err != nil {
			return Response{}, fmt.Errorf("%w: %q: bad y: %v", ErrMalformedTelemetry, line, err)
		}
		return Response{Kind: Position, Position: PhysicalPoint{X: x, Y: y}, Text: line}, nil
	case head == "OK":
		return Response{Kind: Ack, Text: line}, nil
	case strings.HasPrefix(head, "Ready"):
		return Response{Kind: ReadyNotice, Text: line}, nil
	default:
		return Response{Kind: Other, Text: line}, nil
	}
}

// JogDirection is a manual transport jog command.
type JogDirection string

const (
	JogUp    JogDirection = "w"
	JogDown  JogDirection = "s"
	JogLeft  JogDirection = "a"
	JogRight JogDirection = "d"
	JogStop  JogDirection = "q"
)

// Client speaks the controller protocol over one link.
type Client struct {
	Role Role
	link Link

	dropped atomic.Int64
}

// NewClient wraps link for the controller playing role.
func NewClient(role Role, link Link) *Client {
	return &Client{Role: role, link: link}
}

// Link returns the underlying link.
func (c *Client) Link() Link {
	return c.link
}

// IsOpen reports whether the link is usable.
func (c *Client) IsOpen() bool {
	return c.link.IsOpen()
}

// Close closes the link.
func (c *Client) Close() error {
	return c.link.Close()
}

// Dropped returns how many malformed lines have been discarded.
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

func (c *Client) send(op, line string) error {
	if !c.link.IsOpen() {
		return linkError(c.Role, op, ErrLinkIO, c.link.Err())
	}
	if err := c.link.Send(line); err != nil {
		return linkError(c.Role, op, ErrLinkIO, err)
	}
	return nil
}

// SendMove commands the transport to a physical position. It does not wait
// for the acknowledgment.
func (c *Client) SendMove(p PhysicalPoint) error {
	return c.send("move", fmt.Sprintf("M,%.2f,%.2f", p.X, p.Y))
}

// SendHome asks the transport to run its homing routine.
func (c *Client) SendHome() error {
	return c.send("home", cmdHome)
}

// SendHaptic emits a composite haptic command.
func (c *Client) SendHaptic(cmd HapticCommand) error {
	return c.send("haptic", cmd.String())
}

// SendAbort emits the immediate stop frame.
func (c *Client) SendAbort() error {
	return c.send("abort", cmdAbort)
}

// SendJog emits a manual jog letter.
func (c *Client) SendJog(d JogDirection) error {
	return c.send("jog", string(d))
}

// PollResponse returns the next classified response without blocking.
// Malformed telemetry is logged and skipped.
func (c *Client) PollResponse() (Response, bool) {
	for {
		line, ok := c.link.TryReceive()
		if !ok {
			return Response{}, false
		}
		resp, err := ParseResponse(line)
		if err != nil {
			c.dropped.Add(1)
			Logf("%s: dropping line: %v", c.Role, err)
			continue
		}
		return resp, true
	}
}

// probeInterval is how often ProbeReady polls for the reply.
const probeInterval = 10 * time.Millisecond

// ProbeReady sends the readiness query and waits up to timeout for the
// controller to report that it is initialised. Position telemetry received
// meanwhile is ignored.
func (c *Client) ProbeReady(ctx context.Context, timeout time.Duration) error {
	if err := c.send("probe", cmdReady); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	for {
		for {
			resp, ok := c.PollResponse()
			if !ok {
				break
			}
			switch resp.Kind {
			case ReadyNotice:
				return nil
			case Position:
				continue
			default:
				return linkError(c.Role, "probe", ErrUnexpectedReply, fmt.Errorf("got %q", resp.Text))
			}
		}
		if !c.link.IsOpen() {
			return linkError(c.Role, "probe", ErrLinkIO, c.link.Err())
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return linkError(c.Role, "probe", ErrLinkTimeout, fmt.Errorf("no reply within %s", timeout))
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
