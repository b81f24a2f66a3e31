package rig

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.bug.st/serial"
)

// Link is a line-framed ASCII channel to one controller.
type Link interface {
	// Send writes one line; the newline terminator is added if missing.
	Send(line string) error
	// TryReceive returns the next complete line without blocking.
	TryReceive() (string, bool)
	// IsOpen reports whether the link can still be used.
	IsOpen() bool
	// Err returns the error that closed the link, if any.
	Err() error
	Close() error
}

// Port is the minimal interface of an opened serial device.
type Port interface {
	io.ReadWriter
	io.Closer
}

// lineBuffer bounds how many unread lines are kept. Position telemetry is
// streamed continuously, so a stalled reader must not grow without limit.
const lineBuffer = 256

// lineQueue holds received lines until they are polled. When full it evicts
// telemetry first, then other chatter. Acks and ready notices are never
// evicted, so a flood of POS lines cannot hide the reply to a command.
type lineQueue struct {
	mu    sync.Mutex
	lines []string
	limit int
}

func newLineQueue(limit int) *lineQueue {
	return &lineQueue{limit: limit}
}

// evictable ranks a line for eviction: 0 telemetry, 1 other, -1 never.
func evictable(line string) int {
	resp, err := ParseResponse(line)
	switch {
	case err != nil || resp.Kind == Position:
		return 0
	case resp.Kind == Ack || resp.Kind == ReadyNotice:
		return -1
	default:
		return 1
	}
}

func (q *lineQueue) push(line string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.lines) >= q.limit && !q.evictLocked() {
		if evictable(line) >= 0 {
			return
		}
	}
	q.lines = append(q.lines, line)
}

// evictLocked removes the oldest telemetry line, or failing that the oldest
// line that is not an ack. It reports whether a line was removed.
func (q *lineQueue) evictLocked() bool {
	for rank := 0; rank <= 1; rank++ {
		for i, l := range q.lines {
			if evictable(l) == rank {
				q.lines = append(q.lines[:i], q.lines[i+1:]...)
				return true
			}
		}
	}
	return false
}

func (q *lineQueue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.lines) == 0 {
		return "", false
	}
	line := q.lines[0]
	q.lines = q.lines[1:]
	return line, true
}

func (q *lineQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lines)
}

// SerialLink implements Link over a Port. A reader goroutine splits incoming
// bytes into lines so that TryReceive never blocks.
type SerialLink struct {
	port  Port
	lines *lineQueue

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
	err    error

	done      chan struct{}
	closeOnce sync.Once
}

// NewSerialLink wraps an already opened port and starts reading from it.
func NewSerialLink(port Port) *SerialLink {
	l := &SerialLink{
		port:  port,
		lines: newLineQueue(lineBuffer),
		done:  make(chan struct{}),
	}
	go l.readLoop()
	return l
}

// OpenSerial opens the serial device at path.
func OpenSerial(path string, opts PortOptions) (*SerialLink, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, errors.Join(ErrLinkIO, err))
	}
	return NewSerialLink(port), nil
}

// ListPorts returns the serial devices present on this machine.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	var out []string
	for _, p := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(p, "Bluetooth") {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (l *SerialLink) readLoop() {
	r := bufio.NewReader(l.port)
	for {
		line, err := r.ReadString('\n')
		if line = strings.TrimRight(line, "\r\n"); line != "" {
			l.lines.push(line)
		}
		if err != nil {
			l.fail(err)
			return
		}
		select {
		case <-l.done:
			return
		default:
		}
	}
}

func (l *SerialLink) fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	if errors.Is(err, io.EOF) {
		l.err = ErrLinkClosed
	} else {
		l.err = errors.Join(ErrLinkIO, err)
	}
}

// Send writes line to the port.
func (l *SerialLink) Send(line string) error {
	if !l.IsOpen() {
		return l.Err()
	}
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	n, err := l.port.Write([]byte(line))
	if err != nil {
		l.fail(err)
		return l.Err()
	}
	if n != len(line) {
		return ErrWriteFailed
	}
	return nil
}

// TryReceive returns the next buffered line, if any.
func (l *SerialLink) TryReceive() (string, bool) {
	return l.lines.pop()
}

// IsOpen reports whether the link has not failed or been closed.
func (l *SerialLink) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.closed
}

// Err returns the reason the link is no longer open.
func (l *SerialLink) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		return nil
	}
	if l.err == nil {
		return ErrLinkClosed
	}
	return l.err
}

// Close closes the underlying port. It is safe to call more than once.
func (l *SerialLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		close(l.done)
		err = l.port.Close()
	})
	return err
}
