package sequence

import (
	"errors"
	"fmt"
	"sort"
)

var ErrUnknownPatch = errors.New("unknown patch")

// Builder edits a sequence before it is handed to the engine. It mirrors the
// composer: patches are placed on the surface, trajectories are attached to
// the selected patch, and blocks can be deleted or dragged to a new slot.
//
// origins holds where each patch was placed. The current position of a patch
// is always derived by replaying its Move blocks in order, so deleting or
// reordering blocks never leaves a patch somewhere it was not moved to.
type Builder struct {
	origins map[PatchID]Waypoint
	blocks  []Block
	nextID  PatchID
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		origins: make(map[PatchID]Waypoint),
		nextID:  1,
	}
}

// BuilderFrom starts a builder from an existing sequence.
func BuilderFrom(s Sequence) *Builder {
	c := s.Clone()
	b := &Builder{origins: c.Patches, blocks: c.Blocks, nextID: 1}
	for id := range c.Patches {
		if id >= b.nextID {
			b.nextID = id + 1
		}
	}
	b.restitch()
	return b
}

// AddPatch places a new patch and returns its id.
func (b *Builder) AddPatch(pos Waypoint) PatchID {
	id := b.nextID
	b.nextID++
	b.origins[id] = pos
	return id
}

// SetPatch places an existing or new patch at pos before any of its
// trajectories. Trajectories already attached to it start from the new spot.
func (b *Builder) SetPatch(id PatchID, pos Waypoint) {
	b.origins[id] = pos
	if id >= b.nextID {
		b.nextID = id + 1
	}
	b.restitch()
}

// Patches returns the patch ids in ascending order.
func (b *Builder) Patches() []PatchID {
	ids := make([]PatchID, 0, len(b.origins))
	for id := range b.origins {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Position returns where patch is after every block added so far.
func (b *Builder) Position(patch PatchID) (Waypoint, bool) {
	pos, ok := b.origins[patch]
	if !ok {
		return Waypoint{}, false
	}
	for _, block := range b.blocks {
		if block.Patch != patch {
			continue
		}
		if dest, ok := block.Destination(); ok {
			pos = dest
		}
	}
	return pos, true
}

// AddMove appends a trajectory for patch. The patch's current position is
// captured as the first waypoint.
func (b *Builder) AddMove(patch PatchID, during MoveHapticPreset, destinations ...Waypoint) error {
	start, ok := b.Position(patch)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPatch, patch)
	}
	if len(destinations) == 0 {
		return invalid(len(b.blocks), "trajectory has no destination")
	}
	waypoints := append([]Waypoint{start}, destinations...)
	block := NewMove(patch, waypoints, during)
	if err := ValidateBlock(len(b.blocks), block); err != nil {
		return err
	}
	b.blocks = append(b.blocks, block)
	return nil
}

// AddHaptic appends a haptic block. All-disabled configs are rejected.
func (b *Builder) AddHaptic(patch PatchID, cfg HapticConfig) error {
	if _, ok := b.origins[patch]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPatch, patch)
	}
	block := NewHaptic(patch, cfg)
	if err := ValidateBlock(len(b.blocks), block); err != nil {
		return err
	}
	b.blocks = append(b.blocks, block)
	return nil
}

// Remove deletes the block at index i.
func (b *Builder) Remove(i int) error {
	if i < 0 || i >= len(b.blocks) {
		return fmt.Errorf("remove block %d: index out of range", i)
	}
	b.blocks = append(b.blocks[:i], b.blocks[i+1:]...)
	b.restitch()
	return nil
}

// MoveBlock moves the block at from so that it ends up at index to.
func (b *Builder) MoveBlock(from, to int) error {
	if from < 0 || from >= len(b.blocks) || to < 0 || to >= len(b.blocks) {
		return fmt.Errorf("move block %d to %d: index out of range", from, to)
	}
	block := b.blocks[from]
	b.blocks = append(b.blocks[:from], b.blocks[from+1:]...)
	b.blocks = append(b.blocks[:to], append([]Block{block}, b.blocks[to:]...)...)
	b.restitch()
	return nil
}

// restitch replays every Move block from the patch origins and rewrites each
// trajectory's first waypoint to where its patch actually is at that point.
func (b *Builder) restitch() {
	pos := make(map[PatchID]Waypoint, len(b.origins))
	for id, p := range b.origins {
		pos[id] = p
	}
	for i, block := range b.blocks {
		if block.Kind != KindMove || len(block.Waypoints) == 0 {
			continue
		}
		if start, ok := pos[block.Patch]; ok {
			b.blocks[i].Waypoints[0] = start
		}
		pos[block.Patch], _ = block.Destination()
	}
}

// Labels returns the editor list labels for every block.
func (b *Builder) Labels() []string {
	labels := make([]string, len(b.blocks))
	for i, block := range b.blocks {
		labels[i] = block.Label(i)
	}
	return labels
}

// Sequence returns a snapshot of the current sequence. Patch positions in the
// snapshot are the placed origins, so the engine replays the moves from the
// authored starting layout.
func (b *Builder) Sequence() Sequence {
	s := Sequence{
		Patches: make(map[PatchID]Waypoint, len(b.origins)),
		Blocks:  make([]Block, len(b.blocks)),
	}
	for id, pos := range b.origins {
		s.Patches[id] = pos
	}
	for i, block := range b.blocks {
		s.Blocks[i] = block.Clone()
	}
	return s
}
