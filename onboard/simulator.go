package onboard

import (
	"encoding/binary"
	"math/rand"
	"sync"
	"time"

	"github.com/kbotics/kbot/onboard/canbus"
	derrors "github.com/kbotics/kbot/onboard/errors"
	"github.com/kbotics/kbot/onboard/hardware"
	"github.com/kbotics/kbot/onboard/imu"
	"github.com/kbotics/kbot/onboard/power"
)

// wire scaling used when encoding simulated register blocks; these mirror
// the device protocols
const (
	simPosScale   = 1000
	simVelScale   = 100
	simTrqScale   = 100
	simQuatScale  = 30000
	simGyroScale  = 100
	simAccelScale = 100
	simVoltScale  = 100
	simCurScale   = 100
	simTempScale  = 10
)

const (
	simRobstrideVersion = "0.2.4"
	simRH56Version      = "1.0.2"

	simVoltage     = 48.2
	simCurrent     = 3.5
	simTemperature = 31.0
)

type simServo struct {
	kind    string
	enabled bool
	faults  byte

	position float64
	velocity float64
	torque   float64

	target float64
}

// SimChannel stands in for one physical wire. Every device the config
// places on the channel answers here, with a little noise on the readings
// so downstream consumers see values that actually move. Addresses the
// config never mentions time out, same as an unplugged servo would.
type SimChannel struct {
	name string

	mu     sync.Mutex
	servos map[uint32]*simServo
	rng    *rand.Rand

	imuBackend string
	imuAddr    uint32
	imuFault   bool

	hasPower  bool
	powerAddr uint32
	voltage   float64
	current   float64
	temp      float64
}

func NewSimChannel(config *KBotConfig, name string) *SimChannel {
	sc := &SimChannel{
		name:    name,
		servos:  make(map[uint32]*simServo),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		voltage: simVoltage,
		current: simCurrent,
		temp:    simTemperature,
	}

	for _, ac := range config.Actuators {
		if ac.Channel != name {
			continue
		}
		sc.servos[ac.Addr] = &simServo{kind: ac.Kind}
	}

	if config.IMU.Backend != "" && config.IMU.Channel == name {
		sc.imuBackend = config.IMU.Backend
		sc.imuAddr = config.IMU.Addr
	}

	if config.Power.Channel == name {
		sc.hasPower = true
		sc.powerAddr = config.Power.Addr
	}

	return sc
}

func (sc *SimChannel) Exchange(req canbus.Frame, timeout time.Duration) (canbus.Frame, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.hasPower && req.ID == sc.powerAddr && req.Cmd == power.PWR_CMD_STATUS {
		return sc.powerStatus(req), nil
	}

	if sc.imuBackend != "" && req.ID == sc.imuAddr {
		if resp, ok := sc.imuRegister(req); ok {
			return resp, nil
		}
	}

	if servo, ok := sc.servos[req.ID]; ok {
		if resp, ok := sc.servoCommand(req, servo); ok {
			return resp, nil
		}
	}

	return canbus.Frame{}, derrors.TimeoutError{Channel: sc.name, Elapsed: timeout}
}

func (sc *SimChannel) Close() error { return nil }

// FaultServo injects a hardware fault that the next feedback poll will
// report, for exercising the fault and clear paths on the bench.
func (sc *SimChannel) FaultServo(addr uint32, faults byte) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if servo, ok := sc.servos[addr]; ok {
		servo.faults = faults
	}
}

// SetPower overrides the reported supply readings so threshold behaviour
// can be exercised without a real battery.
func (sc *SimChannel) SetPower(voltage, temperature float64) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.voltage = voltage
	sc.temp = temperature
}

// SetIMUFault makes the simulated sensor report a calibration fault on the
// next poll.
func (sc *SimChannel) SetIMUFault(fault bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.imuFault = fault
}

func (sc *SimChannel) servoCommand(req canbus.Frame, servo *simServo) (resp canbus.Frame, ok bool) {
	resp = canbus.Frame{ID: req.ID, Cmd: req.Cmd}

	switch req.Cmd {
	case hardware.CMD_VERSION:
		if servo.kind == "rh56" {
			resp.Data = []byte(simRH56Version)
		} else {
			resp.Data = []byte(simRobstrideVersion)
		}

	case hardware.CMD_ENABLE:
		servo.enabled = true

	case hardware.CMD_DISABLE:
		servo.enabled = false

	case hardware.CMD_CLEAR_FAULT:
		servo.faults = 0

	case hardware.CMD_SET_TARGET:
		if len(req.Data) >= 2 {
			servo.target = sc.fromReg(req.Data, 0, simPosScale)
		}
		if len(req.Data) >= 6 {
			servo.velocity = sc.fromReg(req.Data, 2, simVelScale)
			servo.torque = sc.fromReg(req.Data, 4, simTrqScale)
		}

	case hardware.CMD_FEEDBACK:
		sc.stepServo(servo)
		resp.Data = sc.encodeFeedback(servo)

	default:
		return canbus.Frame{}, false
	}

	return resp, true
}

// stepServo moves the simulated position most of the way toward the
// target each poll, with a touch of encoder noise.
func (sc *SimChannel) stepServo(servo *simServo) {
	if servo.enabled {
		servo.position += (servo.target - servo.position) * 0.5
	}
	servo.position += sc.jitter(0.002)
}

func (sc *SimChannel) encodeFeedback(servo *simServo) []byte {
	temp := 35 + sc.jitter(1.5)

	if servo.kind == "rh56" {
		data := make([]byte, 4)
		putReg(data, 0, servo.position, simPosScale)
		data[2] = byte(int8(temp))
		data[3] = servo.faults
		return data
	}

	data := make([]byte, 8)
	putReg(data, 0, servo.position, simPosScale)
	putReg(data, 2, servo.velocity+sc.jitter(0.01), simVelScale)
	putReg(data, 4, servo.torque+sc.jitter(0.01), simTrqScale)
	data[6] = byte(int8(temp))
	data[7] = servo.faults
	return data
}

func (sc *SimChannel) imuRegister(req canbus.Frame) (resp canbus.Frame, ok bool) {
	resp = canbus.Frame{ID: req.ID, Cmd: req.Cmd}

	status := byte(1) // calibrated
	if sc.imuFault {
		status |= 1 << 1
	}

	switch req.Cmd {
	case imu.HW_CMD_OUTPUT_MODE, imu.HW_CMD_RATE:
		// configuration ack, no payload

	case imu.HW_CMD_QUAT:
		resp.Data = make([]byte, 8)
		putReg(resp.Data, 0, 1, simQuatScale) // close to identity orientation
		putReg(resp.Data, 2, sc.jitter(0.001), simQuatScale)
		putReg(resp.Data, 4, sc.jitter(0.001), simQuatScale)
		putReg(resp.Data, 6, sc.jitter(0.001), simQuatScale)

	case imu.HX_CMD_ANGLES:
		resp.Data = make([]byte, 8)
		putReg(resp.Data, 0, sc.jitter(0.005), simPosScale)
		putReg(resp.Data, 2, sc.jitter(0.005), simPosScale)
		putReg(resp.Data, 4, sc.jitter(0.005), simPosScale)
		resp.Data[7] = status

	case imu.HW_CMD_GYRO, imu.HX_CMD_GYRO:
		resp.Data = make([]byte, 6)
		putReg(resp.Data, 0, sc.jitter(0.02), simGyroScale)
		putReg(resp.Data, 2, sc.jitter(0.02), simGyroScale)
		putReg(resp.Data, 4, sc.jitter(0.02), simGyroScale)

	case imu.HW_CMD_ACCEL:
		resp.Data = make([]byte, 8)
		putReg(resp.Data, 0, sc.jitter(0.05), simAccelScale)
		putReg(resp.Data, 2, sc.jitter(0.05), simAccelScale)
		putReg(resp.Data, 4, 9.81+sc.jitter(0.05), simAccelScale)
		resp.Data[7] = status

	case imu.HX_CMD_ACCEL:
		resp.Data = make([]byte, 6)
		putReg(resp.Data, 0, sc.jitter(0.05), simAccelScale)
		putReg(resp.Data, 2, sc.jitter(0.05), simAccelScale)
		putReg(resp.Data, 4, 9.81+sc.jitter(0.05), simAccelScale)

	default:
		return canbus.Frame{}, false
	}

	return resp, true
}

func (sc *SimChannel) powerStatus(req canbus.Frame) canbus.Frame {
	data := make([]byte, 6)
	binary.BigEndian.PutUint16(data[0:2], uint16((sc.voltage+sc.jitter(0.05))*simVoltScale))
	putReg(data, 2, sc.current+sc.jitter(0.1), simCurScale)
	putReg(data, 4, sc.temp+sc.jitter(0.2), simTempScale)

	return canbus.Frame{ID: req.ID, Cmd: req.Cmd, Data: data}
}

func (sc *SimChannel) jitter(magnitude float64) float64 {
	return (sc.rng.Float64()*2 - 1) * magnitude
}

func (sc *SimChannel) fromReg(data []byte, off int, scale float64) float64 {
	return float64(int16(binary.BigEndian.Uint16(data[off:off+2]))) / scale
}

func putReg(data []byte, off int, value, scale float64) {
	binary.BigEndian.PutUint16(data[off:off+2], uint16(int16(value*scale)))
}
