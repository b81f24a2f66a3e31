// Package haptic sequences a two-controller haptic rig: a transport
// controller that positions the actuator over the device surface, and an
// actuator controller that drives force, vibration and heat output.
//
// Sequences of Move and Haptic blocks are executed with one unacknowledged
// move at a time, strictly in order, with abort and an ack timeout.
//
// # Installation
//
//	go install github.com/gwillem/haptic/cmd/haptic@latest
//
// # Usage
//
// First, run setup to find both controllers and set the axis scales:
//
//	haptic setup
//
// Then run a sequence file:
//
//	haptic run demo.yaml
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/haptic: CLI with setup, probe, run, jog and history commands
//   - pkg/sequence: Patches, blocks, validation and YAML sequence files
//   - pkg/rig: Serial links, controller protocol, calibration and configuration
//   - pkg/engine: Execution state machine
//   - pkg/history: SQLite run history
//   - pkg/clock: Time source used by the engine
package haptic
