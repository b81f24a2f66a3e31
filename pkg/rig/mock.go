package rig

import (
	"strings"
	"sync"
)

// MockLink is an in-memory Link used by tests and the simulator. Lines queued with Feed are
// returned by TryReceive in order; every sent line is recorded.
type MockLink struct {
	mu      sync.Mutex
	inbox   []string
	sent    []string
	closed  bool
	err     error
	sendErr error

	// OnSend, if set, is called after a line has been recorded. It runs
	// without the lock held so it may call Feed to script replies.
	OnSend func(line string)
}

// NewMockLink returns an open MockLink.
func NewMockLink() *MockLink {
	return &MockLink{}
}

// Feed queues lines to be received.
func (m *MockLink) Feed(lines ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbox = append(m.inbox, lines...)
}

// FailSends makes every following Send return err. Passing nil clears it.
func (m *MockLink) FailSends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// Break closes the link as if the device vanished.
func (m *MockLink) Break(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.err = err
}

func (m *MockLink) Send(line string) error {
	line = strings.TrimRight(line, "\n")
	m.mu.Lock()
	if m.closed {
		err := m.errLocked()
		m.mu.Unlock()
		return err
	}
	if m.sendErr != nil {
		err := m.sendErr
		m.mu.Unlock()
		return err
	}
	m.sent = append(m.sent, line)
	hook := m.OnSend
	m.mu.Unlock()

	if hook != nil {
		hook(line)
	}
	return nil
}

func (m *MockLink) TryReceive() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.inbox) == 0 {
		return "", false
	}
	line := m.inbox[0]
	m.inbox = m.inbox[1:]
	return line, true
}

func (m *MockLink) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}

func (m *MockLink) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		return nil
	}
	return m.errLocked()
}

func (m *MockLink) errLocked() error {
	if m.err == nil {
		return ErrLinkClosed
	}
	return m.err
}

func (m *MockLink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Sent returns a copy of every line sent so far.
func (m *MockLink) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

// Pending returns how many fed lines have not been received yet.
func (m *MockLink) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inbox)
}
