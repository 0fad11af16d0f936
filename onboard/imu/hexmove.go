package imu

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/kbotics/kbot/onboard/canbus"
)

// Hexmove reports Euler angles natively over CAN; the quaternion is
// derived. No runtime setup is required, the sensor streams whatever the
// last flashed configuration says.
const (
	HX_CMD_ANGLES = 0x0600
	HX_CMD_GYRO   = 0x0610
	HX_CMD_ACCEL  = 0x0620

	hxAngleScale = 1000 // 0.001 rad
	hxGyroScale  = 100
	hxAccelScale = 100

	hxStatusCalibrated = 1 << 0
	hxStatusCalFault   = 1 << 1
)

type hexmoveBackend struct{}

func (hexmoveBackend) name() string { return "hexmove" }

func (hexmoveBackend) setup(bus canbus.Exchanger, channel string, addr uint32) error {
	return nil
}

func (hexmoveBackend) poll(bus canbus.Exchanger, channel string, addr uint32) (s Sample, err error) {
	angles, err := bus.SendReceive(channel, canbus.Frame{ID: addr, Cmd: HX_CMD_ANGLES})
	if err != nil {
		return s, err
	}
	gyro, err := bus.SendReceive(channel, canbus.Frame{ID: addr, Cmd: HX_CMD_GYRO})
	if err != nil {
		return s, err
	}
	accel, err := bus.SendReceive(channel, canbus.Frame{ID: addr, Cmd: HX_CMD_ACCEL})
	if err != nil {
		return s, err
	}

	if len(angles.Data) < 8 || len(gyro.Data) < 6 || len(accel.Data) < 6 {
		return s, canbus.ERR_FRAME_SHORT
	}

	status := angles.Data[7]
	if status&hxStatusCalFault != 0 {
		return s, ERR_CALIBRATION
	}

	s.Euler = mgl64.Vec3{
		reg(angles.Data, 0, hxAngleScale),
		reg(angles.Data, 2, hxAngleScale),
		reg(angles.Data, 4, hxAngleScale),
	}
	s.Quat = mgl64.AnglesToQuat(s.Euler.X(), s.Euler.Y(), s.Euler.Z(), mgl64.XYZ)
	s.Gyro = mgl64.Vec3{
		reg(gyro.Data, 0, hxGyroScale),
		reg(gyro.Data, 2, hxGyroScale),
		reg(gyro.Data, 4, hxGyroScale),
	}
	s.Accel = mgl64.Vec3{
		reg(accel.Data, 0, hxAccelScale),
		reg(accel.Data, 2, hxAccelScale),
		reg(accel.Data, 4, hxAccelScale),
	}
	s.Calibrated = status&hxStatusCalibrated != 0
	s.Time = time.Now()

	return s, nil
}
