package imu

import (
	"encoding/binary"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/kbotics/kbot/onboard/canbus"
)

// Hiwonder register commands. The sensor hangs off a serial channel and
// answers one register block per request.
const (
	HW_CMD_OUTPUT_MODE = 0x0500
	HW_CMD_RATE        = 0x0510
	HW_CMD_QUAT        = 0x0520
	HW_CMD_GYRO        = 0x0530
	HW_CMD_ACCEL       = 0x0540

	// output mode bits
	HW_OUT_QUAT  = 1 << 0
	HW_OUT_GYRO  = 1 << 1
	HW_OUT_ACCEL = 1 << 2

	HW_RATE_100HZ = 100

	hwQuatScale  = 30000 // unit quaternion component
	hwGyroScale  = 100   // 0.01 rad/s
	hwAccelScale = 100   // 0.01 m/s^2

	// status bits in the accel block
	hwStatusCalibrated = 1 << 0
	hwStatusCalFault   = 1 << 1
)

type hiwonderBackend struct{}

func (hiwonderBackend) name() string { return "hiwonder" }

func (hiwonderBackend) setup(bus canbus.Exchanger, channel string, addr uint32) error {
	mode := canbus.Frame{
		ID:   addr,
		Cmd:  HW_CMD_OUTPUT_MODE,
		Data: []byte{HW_OUT_QUAT | HW_OUT_GYRO | HW_OUT_ACCEL},
	}
	if _, err := bus.SendReceive(channel, mode); err != nil {
		return err
	}

	rate := canbus.Frame{ID: addr, Cmd: HW_CMD_RATE, Data: []byte{HW_RATE_100HZ}}
	_, err := bus.SendReceive(channel, rate)
	return err
}

func (hiwonderBackend) poll(bus canbus.Exchanger, channel string, addr uint32) (s Sample, err error) {
	quat, err := bus.SendReceive(channel, canbus.Frame{ID: addr, Cmd: HW_CMD_QUAT})
	if err != nil {
		return s, err
	}
	gyro, err := bus.SendReceive(channel, canbus.Frame{ID: addr, Cmd: HW_CMD_GYRO})
	if err != nil {
		return s, err
	}
	accel, err := bus.SendReceive(channel, canbus.Frame{ID: addr, Cmd: HW_CMD_ACCEL})
	if err != nil {
		return s, err
	}

	if len(quat.Data) < 8 || len(gyro.Data) < 6 || len(accel.Data) < 8 {
		return s, canbus.ERR_FRAME_SHORT
	}

	status := accel.Data[7]
	if status&hwStatusCalFault != 0 {
		return s, ERR_CALIBRATION
	}

	s.Quat = mgl64.Quat{
		W: reg(quat.Data, 0, hwQuatScale),
		V: mgl64.Vec3{
			reg(quat.Data, 2, hwQuatScale),
			reg(quat.Data, 4, hwQuatScale),
			reg(quat.Data, 6, hwQuatScale),
		},
	}.Normalize()
	s.Euler = eulerFromQuat(s.Quat)
	s.Gyro = mgl64.Vec3{
		reg(gyro.Data, 0, hwGyroScale),
		reg(gyro.Data, 2, hwGyroScale),
		reg(gyro.Data, 4, hwGyroScale),
	}
	s.Accel = mgl64.Vec3{
		reg(accel.Data, 0, hwAccelScale),
		reg(accel.Data, 2, hwAccelScale),
		reg(accel.Data, 4, hwAccelScale),
	}
	s.Calibrated = status&hwStatusCalibrated != 0
	s.Time = time.Now()

	return s, nil
}

func reg(data []byte, off int, scale float64) float64 {
	return float64(int16(binary.BigEndian.Uint16(data[off:off+2]))) / scale
}
