package rig

import (
	"errors"
	"fmt"
)

// Link error kinds. Match them with errors.Is.
var (
	ErrLinkIO             = errors.New("link i/o failure")
	ErrLinkTimeout        = errors.New("link timeout")
	ErrUnexpectedReply    = errors.New("unexpected reply")
	ErrMalformedTelemetry = errors.New("malformed telemetry")

	ErrWriteFailed = fmt.Errorf("%w: short write to serial port", ErrLinkIO)
	ErrLinkClosed  = fmt.Errorf("%w: link closed", ErrLinkIO)
)

// LinkError describes a failed operation on one controller link.
type LinkError struct {
	Role Role
	Op   string
	Kind error // one of the Err* kinds above
	Err  error
}

func (e *LinkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v: %v", e.Role, e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Role, e.Op, e.Kind)
}

func (e *LinkError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func linkError(role Role, op string, kind, err error) error {
	return &LinkError{Role: role, Op: op, Kind: kind, Err: err}
}
