package engine

import "sync"

// AbortController latches a single abort request for a run. Only the first
// Request takes effect; later calls are no-ops.
type AbortController struct {
	mu        sync.Mutex
	requested bool
	cause     error
	done      chan struct{}
}

// NewAbortController returns a controller with no abort requested.
func NewAbortController() *AbortController {
	return &AbortController{done: make(chan struct{})}
}

// Request records the abort and its cause. It reports whether this call was
// the one that triggered the abort.
func (a *AbortController) Request(cause error) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.requested {
		return false
	}
	a.requested = true
	a.cause = cause
	close(a.done)
	return true
}

// Requested reports whether an abort has been requested.
func (a *AbortController) Requested() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requested
}

// Cause returns the error passed to the first Request.
func (a *AbortController) Cause() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cause
}

// Done is closed once an abort has been requested.
func (a *AbortController) Done() <-chan struct{} {
	return a.done
}
