// Package sequence defines the authoring model for haptic runs: patches,
// waypoint trajectories and timed haptic blocks.
package sequence

import (
	"fmt"
	"strings"
)

// Waypoint is a point on the device surface in logical millimetres.
type Waypoint struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
}

// PatchID identifies a logical actuation target.
type PatchID int

func (p PatchID) String() string {
	return fmt.Sprintf("P%d", int(p))
}

// Surface size of the device in logical millimetres.
const (
	SurfaceWidthMM  = 350.0
	SurfaceHeightMM = 270.0
)

// InBounds reports whether the waypoint lies on the device surface.
func (w Waypoint) InBounds() bool {
	return w.X >= 0 && w.X <= SurfaceWidthMM && w.Y >= 0 && w.Y <= SurfaceHeightMM
}

// BlockKind tags the variant held by a Block.
type BlockKind string

const (
	KindMove   BlockKind = "move"
	KindHaptic BlockKind = "haptic"
)

// MoveHapticPreset selects the output held while the transport traverses a
// Move block. The zero value means no output during the move.
type MoveHapticPreset string

const (
	PresetNone    MoveHapticPreset = ""
	PresetAttract MoveHapticPreset = "attract"
	PresetRepel   MoveHapticPreset = "repel"
	PresetVibrate MoveHapticPreset = "vibrate"
	PresetHeat    MoveHapticPreset = "heat"
)

// AllPresets returns every non-empty preset.
func AllPresets() []MoveHapticPreset {
	return []MoveHapticPreset{PresetAttract, PresetRepel, PresetVibrate, PresetHeat}
}

// Valid reports whether p is a known preset or PresetNone.
func (p MoveHapticPreset) Valid() bool {
	if p == PresetNone {
		return true
	}
	for _, known := range AllPresets() {
		if p == known {
			return true
		}
	}
	return false
}

// Block is one unit of a sequence: a waypoint traversal or a timed actuation.
type Block struct {
	Kind  BlockKind `yaml:"kind" json:"kind"`
	Patch PatchID   `yaml:"patch" json:"patch"`

	// Move only. The first waypoint is the patch location captured when the
	// block was built.
	Waypoints  []Waypoint       `yaml:"waypoints,omitempty" json:"waypoints,omitempty"`
	DuringMove MoveHapticPreset `yaml:"during_move,omitempty" json:"during_move,omitempty"`

	// Haptic only.
	Config *HapticConfig `yaml:"config,omitempty" json:"config,omitempty"`
}

// NewMove returns a Move block over a copy of waypoints.
func NewMove(patch PatchID, waypoints []Waypoint, during MoveHapticPreset) Block {
	return Block{
		Kind:       KindMove,
		Patch:      patch,
		Waypoints:  append([]Waypoint(nil), waypoints...),
		DuringMove: during,
	}
}

// NewHaptic returns a Haptic block holding a copy of cfg.
func NewHaptic(patch PatchID, cfg HapticConfig) Block {
	return Block{
		Kind:   KindHaptic,
		Patch:  patch,
		Config: &cfg,
	}
}

// Destination returns the final waypoint of a Move block.
func (b Block) Destination() (Waypoint, bool) {
	if b.Kind != KindMove || len(b.Waypoints) == 0 {
		return Waypoint{}, false
	}
	return b.Waypoints[len(b.Waypoints)-1], true
}

// Clone returns a deep copy of the block.
func (b Block) Clone() Block {
	c := b
	c.Waypoints = append([]Waypoint(nil), b.Waypoints...)
	if b.Config != nil {
		cfg := *b.Config
		c.Config = &cfg
	}
	return c
}

// Label renders the block the way the sequence editor lists it.
func (b Block) Label(index int) string {
	switch b.Kind {
	case KindMove:
		label := fmt.Sprintf("%d. MOVE to %s Trajectory", index+1, b.Patch)
		if b.DuringMove != PresetNone {
			label += fmt.Sprintf(" (%s)", b.DuringMove)
		}
		return label
	case KindHaptic:
		var names []string
		if b.Config != nil {
			names = b.Config.EnabledNames()
		}
		return fmt.Sprintf("%d. HAPTIC on %s %s", index+1, b.Patch, strings.Join(names, " "))
	default:
		return fmt.Sprintf("%d. %s", index+1, b.Kind)
	}
}

// Sequence is an ordered list of blocks plus the authoring-time position of
// every patch. Block order is execution order.
type Sequence struct {
	Patches map[PatchID]Waypoint `yaml:"patches" json:"patches"`
	Blocks  []Block              `yaml:"blocks" json:"blocks"`
}

// Clone returns a deep copy suitable as an immutable run snapshot.
func (s Sequence) Clone() Sequence {
	c := Sequence{
		Patches: make(map[PatchID]Waypoint, len(s.Patches)),
		Blocks:  make([]Block, len(s.Blocks)),
	}
	for id, pos := range s.Patches {
		c.Patches[id] = pos
	}
	for i, b := range s.Blocks {
		c.Blocks[i] = b.Clone()
	}
	return c
}

// Len returns the number of blocks.
func (s Sequence) Len() int {
	return len(s.Blocks)
}
