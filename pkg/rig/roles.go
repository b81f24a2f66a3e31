// Package rig provides the serial links, wire protocol and calibration for the
// two controllers of the haptic rig.
package rig

// Role identifies which controller a link talks to.
type Role string

// Controllers of the rig.
const (
	Transport Role = "transport" // positions the actuator over the surface
	Actuator  Role = "actuator"  // force, vibration and heat output
)

// AllRoles returns both roles in wiring order.
func AllRoles() []Role {
	return []Role{
		Transport,
		Actuator,
	}
}
