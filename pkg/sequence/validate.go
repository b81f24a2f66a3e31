package sequence

import (
	"errors"
	"fmt"
)

// ErrInvalidBlock marks a sequence that must not be run.
var ErrInvalidBlock = errors.New("invalid block")

// InvalidBlockError reports which block failed validation and why.
type InvalidBlockError struct {
	Index  int
	Reason string
}

func (e *InvalidBlockError) Error() string {
	return fmt.Sprintf("block %d: %s", e.Index+1, e.Reason)
}

func (e *InvalidBlockError) Is(target error) bool {
	return target == ErrInvalidBlock
}

func invalid(index int, format string, args ...any) error {
	return &InvalidBlockError{Index: index, Reason: fmt.Sprintf(format, args...)}
}

// ValidateBlock checks a single block in isolation.
func ValidateBlock(index int, b Block) error {
	switch b.Kind {
	case KindMove:
		if len(b.Waypoints) < 2 {
			return invalid(index, "move needs a start and at least one destination, got %d waypoint(s)", len(b.Waypoints))
		}
		if !b.DuringMove.Valid() {
			return invalid(index, "unknown move preset %q", b.DuringMove)
		}
		if b.Config != nil {
			return invalid(index, "move block carries a haptic config")
		}
	case KindHaptic:
		if b.Config == nil {
			return invalid(index, "haptic block has no config")
		}
		return validateConfig(index, *b.Config)
	default:
		return invalid(index, "unknown block kind %q", b.Kind)
	}
	return nil
}

func validateConfig(index int, c HapticConfig) error {
	if !c.AnyEnabled() {
		return invalid(index, "haptic block has no enabled modality")
	}
	if c.Force.Enabled {
		if c.Force.Mode.Code() == 0 {
			return invalid(index, "unknown force mode %q", c.Force.Mode)
		}
		if c.Force.Magnitude < 0 || c.Force.Magnitude > 100 {
			return invalid(index, "force magnitude %d outside 0-100", c.Force.Magnitude)
		}
	}
	if c.Vibration.Enabled {
		if c.Vibration.Mode.Code() == 0 {
			return invalid(index, "unknown vibration mode %q", c.Vibration.Mode)
		}
		if c.Vibration.Amplitude < 0 || c.Vibration.Amplitude > 100 {
			return invalid(index, "vibration amplitude %d outside 0-100", c.Vibration.Amplitude)
		}
		if c.Vibration.FrequencyHz < 0 {
			return invalid(index, "negative vibration frequency %d", c.Vibration.FrequencyHz)
		}
	}
	return nil
}

// Validate checks every block and that each pre-positioning haptic block
// targets a patch whose position is known at that point of the run.
func Validate(s Sequence) error {
	known := make(map[PatchID]bool, len(s.Patches))
	for id := range s.Patches {
		known[id] = true
	}
	for i, b := range s.Blocks {
		if err := ValidateBlock(i, b); err != nil {
			return err
		}
		switch b.Kind {
		case KindMove:
			known[b.Patch] = true
		case KindHaptic:
			if b.Config.WaitForPriorMove && !known[b.Patch] {
				return invalid(i, "patch %s has no known position to pre-position to", b.Patch)
			}
		}
	}
	return nil
}
