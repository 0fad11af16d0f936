package hardware

import (
	"encoding/binary"

	"github.com/kbotics/kbot/onboard/canbus"
	derrors "github.com/kbotics/kbot/onboard/errors"
)

const (
	// finger position is commanded on a 0-1000 scale
	rhPosScale = 1000

	RH_FIRMWARE = "~1.0.0"
)

// rh56Driver speaks the hand servo protocol (ids 51-56, one per finger
// plus thumb rotation). Position only; velocity and torque setpoints are
// rejected rather than silently dropped.
type rh56Driver struct{}

func (rh56Driver) Kind() string               { return "rh56" }
func (rh56Driver) FirmwareConstraint() string { return RH_FIRMWARE }

func (rh56Driver) Check(id int, cmd Command, limits Limits) error {
	if cmd.Position < limits.MinPosition || cmd.Position > limits.MaxPosition {
		return derrors.OutOfRangeError{
			Actuator: id, Field: "position",
			Value: cmd.Position, Min: limits.MinPosition, Max: limits.MaxPosition,
		}
	}
	if cmd.Velocity != 0 {
		return derrors.OutOfRangeError{Actuator: id, Field: "velocity", Value: cmd.Velocity}
	}
	if cmd.Torque != 0 {
		return derrors.OutOfRangeError{Actuator: id, Field: "torque", Value: cmd.Torque}
	}
	return nil
}

func (rh56Driver) Enable(addr uint32) canbus.Frame {
	return canbus.Frame{ID: addr, Cmd: CMD_ENABLE}
}

func (rh56Driver) Disable(addr uint32) canbus.Frame {
	return canbus.Frame{ID: addr, Cmd: CMD_DISABLE}
}

func (rh56Driver) ClearFault(addr uint32) canbus.Frame {
	return canbus.Frame{ID: addr, Cmd: CMD_CLEAR_FAULT}
}

func (rh56Driver) Version(addr uint32) canbus.Frame {
	return canbus.Frame{ID: addr, Cmd: CMD_VERSION}
}

func (rh56Driver) Setpoint(addr uint32, cmd Command) canbus.Frame {
	data := make([]byte, 2)
	binary.BigEndian.PutUint16(data, uint16(scale16(cmd.Position, rhPosScale)))

	return canbus.Frame{ID: addr, Cmd: CMD_SET_TARGET, Data: data}
}

func (rh56Driver) FeedbackReq(addr uint32) canbus.Frame {
	return canbus.Frame{ID: addr, Cmd: CMD_FEEDBACK}
}

func (rh56Driver) DecodeFeedback(resp canbus.Frame) (fb Feedback, err error) {
	if len(resp.Data) < 4 {
		return fb, ERR_SHORT_FEEDBACK
	}

	fb.Position = unscale16(int16(binary.BigEndian.Uint16(resp.Data[0:2])), rhPosScale)
	fb.Temperature = float64(int8(resp.Data[2]))
	fb.Faults = resp.Data[3]

	return
}
