package hardware

import (
	"fmt"

	"github.com/kbotics/kbot/onboard/canbus"
)

// Command is one setpoint triple. Units are fixed per actuator kind:
// radians / rad/s / Nm for joint servos, normalized 0-1 position for the
// hand (velocity and torque unused there).
type Command struct {
	Position float64
	Velocity float64
	Torque   float64
}

type Feedback struct {
	Position    float64
	Velocity    float64
	Torque      float64
	Temperature float64
	Faults      uint8
}

type Limits struct {
	MinPosition float64
	MaxPosition float64
	MaxVelocity float64
	MaxTorque   float64
}

// Driver translates the uniform command/feedback contract into one servo
// family's wire protocol. Implementations are stateless; the Actuator owns
// all mutable state.
type Driver interface {
	Kind() string

	// semver constraint the node firmware must satisfy before use
	FirmwareConstraint() string

	// Check validates a setpoint against the configured limits before any
	// transport access.
	Check(id int, cmd Command, limits Limits) error

	Enable(addr uint32) canbus.Frame
	Disable(addr uint32) canbus.Frame
	ClearFault(addr uint32) canbus.Frame
	Version(addr uint32) canbus.Frame
	Setpoint(addr uint32, cmd Command) canbus.Frame
	FeedbackReq(addr uint32) canbus.Frame

	DecodeFeedback(resp canbus.Frame) (Feedback, error)
}

// DriverFor is the closed dispatch table of supported servo families.
func DriverFor(kind string) (Driver, error) {
	switch kind {
	case "robstride":
		return robstrideDriver{}, nil
	case "rh56":
		return rh56Driver{}, nil
	default:
		return nil, fmt.Errorf("unknown actuator kind %q", kind)
	}
}
