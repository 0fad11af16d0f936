package hardware

import (
	"encoding/binary"
	"errors"

	"github.com/kbotics/kbot/onboard/canbus"
	derrors "github.com/kbotics/kbot/onboard/errors"
)

const (
	// wire scaling for the joint servo protocol
	rsPosScale  = 1000 // 0.001 rad
	rsVelScale  = 100  // 0.01 rad/s
	rsTrqScale  = 100  // 0.01 Nm
	rsTempScale = 1    // 1 degC

	RS_FIRMWARE = "~0.2.0"
)

var ERR_SHORT_FEEDBACK = errors.New("feedback payload too short")

// robstrideDriver speaks the joint servo protocol used for ids 11-45
// (arms and legs). Setpoints are position/velocity/torque in SI units.
type robstrideDriver struct{}

func (robstrideDriver) Kind() string               { return "robstride" }
func (robstrideDriver) FirmwareConstraint() string { return RS_FIRMWARE }

func (robstrideDriver) Check(id int, cmd Command, limits Limits) error {
	if cmd.Position < limits.MinPosition || cmd.Position > limits.MaxPosition {
		return derrors.OutOfRangeError{
			Actuator: id, Field: "position",
			Value: cmd.Position, Min: limits.MinPosition, Max: limits.MaxPosition,
		}
	}
	if cmd.Velocity < -limits.MaxVelocity || cmd.Velocity > limits.MaxVelocity {
		return derrors.OutOfRangeError{
			Actuator: id, Field: "velocity",
			Value: cmd.Velocity, Min: -limits.MaxVelocity, Max: limits.MaxVelocity,
		}
	}
	if cmd.Torque < -limits.MaxTorque || cmd.Torque > limits.MaxTorque {
		return derrors.OutOfRangeError{
			Actuator: id, Field: "torque",
			Value: cmd.Torque, Min: -limits.MaxTorque, Max: limits.MaxTorque,
		}
	}
	return nil
}

func (robstrideDriver) Enable(addr uint32) canbus.Frame {
	return canbus.Frame{ID: addr, Cmd: CMD_ENABLE}
}

func (robstrideDriver) Disable(addr uint32) canbus.Frame {
	return canbus.Frame{ID: addr, Cmd: CMD_DISABLE}
}

func (robstrideDriver) ClearFault(addr uint32) canbus.Frame {
	return canbus.Frame{ID: addr, Cmd: CMD_CLEAR_FAULT}
}

func (robstrideDriver) Version(addr uint32) canbus.Frame {
	return canbus.Frame{ID: addr, Cmd: CMD_VERSION}
}

func (robstrideDriver) Setpoint(addr uint32, cmd Command) canbus.Frame {
	data := make([]byte, 6)
	binary.BigEndian.PutUint16(data[0:2], uint16(scale16(cmd.Position, rsPosScale)))
	binary.BigEndian.PutUint16(data[2:4], uint16(scale16(cmd.Velocity, rsVelScale)))
	binary.BigEndian.PutUint16(data[4:6], uint16(scale16(cmd.Torque, rsTrqScale)))

	return canbus.Frame{ID: addr, Cmd: CMD_SET_TARGET, Data: data}
}

func (robstrideDriver) FeedbackReq(addr uint32) canbus.Frame {
	return canbus.Frame{ID: addr, Cmd: CMD_FEEDBACK}
}

func (robstrideDriver) DecodeFeedback(resp canbus.Frame) (fb Feedback, err error) {
	if len(resp.Data) < 8 {
		return fb, ERR_SHORT_FEEDBACK
	}

	fb.Position = unscale16(int16(binary.BigEndian.Uint16(resp.Data[0:2])), rsPosScale)
	fb.Velocity = unscale16(int16(binary.BigEndian.Uint16(resp.Data[2:4])), rsVelScale)
	fb.Torque = unscale16(int16(binary.BigEndian.Uint16(resp.Data[4:6])), rsTrqScale)
	fb.Temperature = float64(int8(resp.Data[6])) * rsTempScale
	fb.Faults = resp.Data[7]

	return
}
