package rig

import (
	"fmt"
	"math"

	"github.com/gwillem/haptic/pkg/sequence"
)

// PhysicalPoint is a position in transport controller units.
type PhysicalPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p PhysicalPoint) String() string {
	return fmt.Sprintf("(%.2f, %.2f)", p.X, p.Y)
}

// Origin is the physical home position.
var Origin = PhysicalPoint{}

// Calibration maps logical millimetres to transport units with one scale
// factor per axis. Both frames share their origin.
type Calibration struct {
	ScaleX float64 `json:"scale_x"`
	ScaleY float64 `json:"scale_y"`
}

// DefaultCalibration returns the factory scale of the transport stage.
func DefaultCalibration() Calibration {
	return Calibration{
		ScaleX: 1.0,
		ScaleY: 1.0,
	}
}

// Validate rejects scales that would make the mapping non-invertible.
func (c Calibration) Validate() error {
	for _, s := range []struct {
		axis  string
		value float64
	}{{"x", c.ScaleX}, {"y", c.ScaleY}} {
		if s.value == 0 || math.IsNaN(s.value) || math.IsInf(s.value, 0) {
			return fmt.Errorf("invalid %s scale %v", s.axis, s.value)
		}
	}
	return nil
}

// ToPhysical converts a logical waypoint to transport units.
func (c Calibration) ToPhysical(w sequence.Waypoint) PhysicalPoint {
	return PhysicalPoint{
		X: w.X * c.ScaleX,
		Y: w.Y * c.ScaleY,
	}
}

// ToLogical converts transport units back to logical millimetres.
func (c Calibration) ToLogical(p PhysicalPoint) sequence.Waypoint {
	if c.ScaleX == 0 || c.ScaleY == 0 {
		return sequence.Waypoint{}
	}
	return sequence.Waypoint{
		X: p.X / c.ScaleX,
		Y: p.Y / c.ScaleY,
	}
}
