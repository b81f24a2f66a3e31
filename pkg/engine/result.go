package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/gwillem/haptic/pkg/sequence"
)

// ErrRunAborted marks a run that ended before its last block completed,
// whether by request or by failure.
var ErrRunAborted = errors.New("run aborted")

// AbortedError reports where an aborted run stopped. Cause is nil for a user
// abort and holds the failure otherwise.
type AbortedError struct {
	LastCompleted int
	Cause         error
}

func (e *AbortedError) Error() string {
	where := "before the first block completed"
	if e.LastCompleted >= 0 {
		where = fmt.Sprintf("after block %d", e.LastCompleted+1)
	}
	if e.Cause != nil {
		return fmt.Sprintf("run aborted %s: %v", where, e.Cause)
	}
	return fmt.Sprintf("run aborted %s", where)
}

func (e *AbortedError) Is(target error) bool {
	return target == ErrRunAborted
}

func (e *AbortedError) Unwrap() error {
	return e.Cause
}

// BlockTrace records the execution of one block.
type BlockTrace struct {
	Index     int
	Kind      sequence.BlockKind
	Patch     sequence.PatchID
	Label     string
	Started   time.Time
	Completed time.Time // zero if the block did not complete
	Commands  []string
}

// Done reports whether the block completed.
func (t BlockTrace) Done() bool {
	return !t.Completed.IsZero()
}

// Result is the outcome of a run.
type Result struct {
	RunID         string
	State         State
	Blocks        int
	LastCompleted int // -1 if no block completed
	Trace         []BlockTrace
	StartedAt     time.Time
	EndedAt       time.Time
	Err           error
}

// Duration returns how long the run took.
func (r Result) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}
