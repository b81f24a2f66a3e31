package sequence

import "time"

// Mode is the polarity of a force or vibration output.
type Mode string

const (
	Attract Mode = "attract"
	Repel   Mode = "repel"
)

// Code returns the wire code for the mode: 1 attract, 2 repel, 0 unknown.
func (m Mode) Code() int {
	switch m {
	case Attract:
		return 1
	case Repel:
		return 2
	default:
		return 0
	}
}

// Force configures the magnetic force output.
type Force struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Mode       Mode   `yaml:"mode" json:"mode"`
	Magnitude  int    `yaml:"magnitude" json:"magnitude"` // percent
	DurationMS uint32 `yaml:"duration_ms" json:"duration_ms"`
}

// Vibration configures the vibrotactile output.
type Vibration struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Mode        Mode   `yaml:"mode" json:"mode"`
	FrequencyHz int    `yaml:"frequency_hz" json:"frequency_hz"`
	Amplitude   int    `yaml:"amplitude" json:"amplitude"` // percent
	DurationMS  uint32 `yaml:"duration_ms" json:"duration_ms"`
}

// Heat configures the thermal output.
type Heat struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	DurationMS uint32 `yaml:"duration_ms" json:"duration_ms"`
}

// HapticConfig holds the three modalities of a Haptic block.
type HapticConfig struct {
	Force     Force     `yaml:"force" json:"force"`
	Vibration Vibration `yaml:"vibration" json:"vibration"`
	Heat      Heat      `yaml:"heat" json:"heat"`

	// WaitForPriorMove pre-positions the transport over the patch and waits
	// for the move to be acknowledged before the haptic command is issued.
	WaitForPriorMove bool `yaml:"wait_for_prior_move" json:"wait_for_prior_move"`
}

// DefaultHapticConfig returns the composer defaults.
func DefaultHapticConfig() HapticConfig {
	return HapticConfig{
		Force: Force{
			Enabled:    true,
			Mode:       Attract,
			Magnitude:  80,
			DurationMS: 1500,
		},
		Vibration: Vibration{
			Mode:        Attract,
			FrequencyHz: 100,
			Amplitude:   50,
			DurationMS:  1500,
		},
		Heat: Heat{
			DurationMS: 3000,
		},
		WaitForPriorMove: true,
	}
}

// AnyEnabled reports whether at least one modality is enabled.
func (c HapticConfig) AnyEnabled() bool {
	return c.Force.Enabled || c.Vibration.Enabled || c.Heat.Enabled
}

// EnabledNames lists the enabled modalities in force, vibration, heat order.
func (c HapticConfig) EnabledNames() []string {
	var names []string
	if c.Force.Enabled {
		names = append(names, "force")
	}
	if c.Vibration.Enabled {
		names = append(names, "vibration")
	}
	if c.Heat.Enabled {
		names = append(names, "heat")
	}
	return names
}

// DurationMS is the longest duration over the enabled modalities.
func (c HapticConfig) DurationMS() uint32 {
	var d uint32
	if c.Force.Enabled && c.Force.DurationMS > d {
		d = c.Force.DurationMS
	}
	if c.Vibration.Enabled && c.Vibration.DurationMS > d {
		d = c.Vibration.DurationMS
	}
	if c.Heat.Enabled && c.Heat.DurationMS > d {
		d = c.Heat.DurationMS
	}
	return d
}

// Duration is DurationMS as a time.Duration.
func (c HapticConfig) Duration() time.Duration {
	return time.Duration(c.DurationMS()) * time.Millisecond
}
