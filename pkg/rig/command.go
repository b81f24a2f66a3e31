package rig

import (
	"fmt"

	"github.com/gwillem/haptic/pkg/sequence"
)

// HapticCommand is the composite actuator command. Magnitude and Amplitude
// are already in wire units (0-255).
type HapticCommand struct {
	ForceMode     int // 0 off, 1 attract, 2 repel
	Magnitude     int
	VibrationMode int // 0 off, 1 attract, 2 repel
	FrequencyHz   int
	Amplitude     int
	DurationMS    uint32
	Heat          bool
}

// String renders the wire line.
func (c HapticCommand) String() string {
	heat := 0
	if c.Heat {
		heat = 1
	}
	return fmt.Sprintf("H,%d,%d,%d,%d,%d,%d,%d",
		c.ForceMode, c.Magnitude, c.VibrationMode, c.FrequencyHz, c.Amplitude, c.DurationMS, heat)
}

// IsClear reports whether the command turns every output off.
func (c HapticCommand) IsClear() bool {
	return c == ClearCommand()
}

// ClearCommand disables all outputs.
func ClearCommand() HapticCommand {
	return HapticCommand{}
}

// PercentToWire scales a 0-100 authoring value to the 0-255 wire range,
// rounding half up. Integer arithmetic keeps 50% at 128.
func PercentToWire(pct int) int {
	if pct <= 0 {
		return 0
	}
	if pct >= 100 {
		return 255
	}
	return (pct*255 + 50) / 100
}

// CommandFromConfig builds the actuator command for a haptic block. Disabled
// modalities are sent as zero fields and the duration is the longest one over
// the enabled modalities.
func CommandFromConfig(cfg sequence.HapticConfig) HapticCommand {
	var cmd HapticCommand
	if cfg.Force.Enabled {
		cmd.ForceMode = cfg.Force.Mode.Code()
		cmd.Magnitude = PercentToWire(cfg.Force.Magnitude)
	}
	if cfg.Vibration.Enabled {
		cmd.VibrationMode = cfg.Vibration.Mode.Code()
		cmd.FrequencyHz = cfg.Vibration.FrequencyHz
		cmd.Amplitude = PercentToWire(cfg.Vibration.Amplitude)
	}
	cmd.Heat = cfg.Heat.Enabled
	cmd.DurationMS = cfg.DurationMS()
	return cmd
}

// PresetCommand returns the output held during a move. The duration is zero:
// the engine clears the output itself once the last waypoint is reached.
func PresetCommand(p sequence.MoveHapticPreset) (HapticCommand, bool) {
	switch p {
	case sequence.PresetAttract:
		return HapticCommand{ForceMode: 1, Magnitude: 255}, true
	case sequence.PresetRepel:
		return HapticCommand{ForceMode: 2, Magnitude: 255}, true
	case sequence.PresetVibrate:
		return HapticCommand{VibrationMode: 1, FrequencyHz: 100, Amplitude: PercentToWire(50)}, true
	case sequence.PresetHeat:
		return HapticCommand{Heat: true}, true
	default:
		return HapticCommand{}, false
	}
}
