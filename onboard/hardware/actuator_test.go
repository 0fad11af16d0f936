package hardware

import (
	"encoding/binary"
	"testing"

	"github.com/kbotics/kbot/onboard/canbus"
	derrors "github.com/kbotics/kbot/onboard/errors"
	. "github.com/smartystreets/goconvey/convey"
)

// mockBus answers like a well-behaved servo unless told to fail. Every
// request is logged so transport traffic can be asserted on.
type mockBus struct {
	calls    []uint16
	version  string
	feedback []byte

	// failNext injects this error for the next n exchanges
	failErr  error
	failNext int
}

func (b *mockBus) SendReceive(channel string, req canbus.Frame) (canbus.Frame, error) {
	b.calls = append(b.calls, req.Cmd)

	if b.failNext > 0 {
		b.failNext--
		return canbus.Frame{}, b.failErr
	}

	resp := canbus.Frame{ID: req.ID, Cmd: req.Cmd}
	switch req.Cmd {
	case CMD_VERSION:
		resp.Data = []byte(b.version)
	case CMD_FEEDBACK:
		resp.Data = b.feedback
	}
	return resp, nil
}

func (b *mockBus) count(cmd uint16) (n int) {
	for _, c := range b.calls {
		if c == cmd {
			n++
		}
	}
	return
}

func encodeFb(pos, vel, trq float64, temp int8, faults byte) []byte {
	data := make([]byte, 8)
	binary.BigEndian.PutUint16(data[0:2], uint16(int16(pos*rsPosScale)))
	binary.BigEndian.PutUint16(data[2:4], uint16(int16(vel*rsVelScale)))
	binary.BigEndian.PutUint16(data[4:6], uint16(int16(trq*rsTrqScale)))
	data[6] = byte(temp)
	data[7] = faults
	return data
}

func testActuator(bus *mockBus) *Actuator {
	limits := Limits{MinPosition: -1.5, MaxPosition: 1.5, MaxVelocity: 2, MaxTorque: 10}
	a, err := NewActuator(11, "can1", 11, "robstride", limits, bus)
	So(err, ShouldBeNil)
	return a
}

func TestActuatorInit(t *testing.T) {
	Convey("a compatible firmware passes the handshake", t, func() {
		bus := &mockBus{version: "0.2.4"}
		a := testActuator(bus)
		So(a.Init(), ShouldBeNil)
		So(a.State(), ShouldEqual, STATE_DISABLED)
	})

	Convey("a DEV build is accepted for bench work", t, func() {
		bus := &mockBus{version: "DEV"}
		a := testActuator(bus)
		So(a.Init(), ShouldBeNil)
		So(a.State(), ShouldEqual, STATE_DISABLED)
	})

	Convey("an incompatible firmware is refused", t, func() {
		bus := &mockBus{version: "0.9.0"}
		a := testActuator(bus)
		So(a.Init(), ShouldNotBeNil)
		So(a.State(), ShouldEqual, STATE_UNINITIALIZED)
	})

	Convey("garbage in the version field is an error", t, func() {
		bus := &mockBus{version: "banana"}
		a := testActuator(bus)
		So(a.Init(), ShouldNotBeNil)
	})

	Convey("init is a no-op once out of Uninitialized", t, func() {
		bus := &mockBus{version: "0.2.4"}
		a := testActuator(bus)
		So(a.Init(), ShouldBeNil)
		So(a.Init(), ShouldBeNil)
		So(bus.count(CMD_VERSION), ShouldEqual, 1)
	})
}

func TestActuatorTransitions(t *testing.T) {
	Convey("with a responsive servo", t, func() {
		bus := &mockBus{version: "0.2.4", feedback: encodeFb(0.5, 0, 0, 35, 0)}
		a := testActuator(bus)

		Convey("enable from Uninitialized runs the handshake first", func() {
			So(a.Enable(), ShouldBeNil)
			So(a.State(), ShouldEqual, STATE_ENABLED)
			So(bus.calls[0], ShouldEqual, CMD_VERSION)
			So(bus.calls[1], ShouldEqual, CMD_ENABLE)

			Convey("and is idempotent", func() {
				So(a.Enable(), ShouldBeNil)
				So(bus.count(CMD_ENABLE), ShouldEqual, 1)
			})
		})

		Convey("disable from Uninitialized is refused", func() {
			err := a.Disable()
			So(err, ShouldHaveSameTypeAs, derrors.InvalidTransitionError{})
		})

		Convey("clearing a fault that does not exist is refused", func() {
			So(a.Init(), ShouldBeNil)
			err := a.ClearFault()
			So(err, ShouldHaveSameTypeAs, derrors.InvalidTransitionError{})
		})

		Convey("a reported hardware fault moves the state machine", func() {
			So(a.Enable(), ShouldBeNil)
			bus.feedback = encodeFb(0.5, 0, 0, 35, FAULT_OVERTEMP)

			fb, err := a.PollFeedback()
			So(err, ShouldBeNil)
			So(fb.Faults, ShouldEqual, FAULT_OVERTEMP)
			So(a.State(), ShouldEqual, STATE_FAULTED)

			Convey("enable is refused until the fault is cleared", func() {
				So(a.Enable(), ShouldHaveSameTypeAs, derrors.InvalidTransitionError{})
				So(a.ClearFault(), ShouldBeNil)
				So(a.State(), ShouldEqual, STATE_DISABLED)
				So(a.Enable(), ShouldBeNil)
			})
		})
	})
}

func TestActuatorSetCommand(t *testing.T) {
	Convey("with an enabled actuator", t, func() {
		bus := &mockBus{version: "0.2.4", feedback: encodeFb(0, 0, 0, 35, 0)}
		a := testActuator(bus)
		So(a.Enable(), ShouldBeNil)
		wireBefore := len(bus.calls)

		Convey("a valid setpoint reaches the wire once", func() {
			So(a.SetCommand(Command{Position: 1.0}), ShouldBeNil)
			So(bus.count(CMD_SET_TARGET), ShouldEqual, 1)
		})

		Convey("an out of range setpoint never touches the wire", func() {
			err := a.SetCommand(Command{Position: 2.0})
			So(err, ShouldHaveSameTypeAs, derrors.OutOfRangeError{})
			So(len(bus.calls), ShouldEqual, wireBefore)
		})

		Convey("a transport failure is not retried", func() {
			bus.failErr = derrors.TransportError{Channel: "can1"}
			bus.failNext = 1
			err := a.SetCommand(Command{Position: 1.0})
			So(derrors.IsTransport(err), ShouldBeTrue)
			So(bus.count(CMD_SET_TARGET), ShouldEqual, 1)
		})

		Convey("a timeout is not retried either", func() {
			bus.failErr = derrors.TimeoutError{Channel: "can1"}
			bus.failNext = 1
			err := a.SetCommand(Command{Position: 1.0})
			So(derrors.IsTimeout(err), ShouldBeTrue)
			So(bus.count(CMD_SET_TARGET), ShouldEqual, 1)
		})
	})

	Convey("commanding a disabled actuator is refused without traffic", t, func() {
		bus := &mockBus{version: "0.2.4"}
		a := testActuator(bus)
		So(a.Init(), ShouldBeNil)
		wireBefore := len(bus.calls)

		err := a.SetCommand(Command{Position: 1.0})
		So(err, ShouldHaveSameTypeAs, derrors.InvalidTransitionError{})
		So(len(bus.calls), ShouldEqual, wireBefore)
	})
}

func TestActuatorPollFeedback(t *testing.T) {
	Convey("with an enabled actuator", t, func() {
		bus := &mockBus{version: "0.2.4", feedback: encodeFb(1.25, 0.5, -0.1, 42, 0)}
		a := testActuator(bus)
		So(a.Enable(), ShouldBeNil)

		Convey("feedback decodes to SI units", func() {
			fb, err := a.PollFeedback()
			So(err, ShouldBeNil)
			So(fb.Position, ShouldAlmostEqual, 1.25, 0.001)
			So(fb.Velocity, ShouldAlmostEqual, 0.5, 0.01)
			So(fb.Torque, ShouldAlmostEqual, -0.1, 0.01)
			So(fb.Temperature, ShouldEqual, 42)
		})

		Convey("a transport error is retried exactly once", func() {
			bus.failErr = derrors.TransportError{Channel: "can1"}
			bus.failNext = 1
			before := bus.count(CMD_FEEDBACK)

			fb, err := a.PollFeedback()
			So(err, ShouldBeNil)
			So(fb.Position, ShouldAlmostEqual, 1.25, 0.001)
			So(bus.count(CMD_FEEDBACK), ShouldEqual, before+2)
		})

		Convey("a second transport error surfaces", func() {
			bus.failErr = derrors.TransportError{Channel: "can1"}
			bus.failNext = 2

			_, err := a.PollFeedback()
			So(derrors.IsTransport(err), ShouldBeTrue)
		})

		Convey("a timeout is not retried", func() {
			bus.failErr = derrors.TimeoutError{Channel: "can1"}
			bus.failNext = 1
			before := bus.count(CMD_FEEDBACK)

			_, err := a.PollFeedback()
			So(derrors.IsTimeout(err), ShouldBeTrue)
			So(bus.count(CMD_FEEDBACK), ShouldEqual, before+1)
		})
	})

	Convey("polling an Uninitialized actuator is refused", t, func() {
		bus := &mockBus{version: "0.2.4"}
		a := testActuator(bus)
		_, err := a.PollFeedback()
		So(err, ShouldHaveSameTypeAs, derrors.InvalidTransitionError{})
		So(bus.calls, ShouldBeEmpty)
	})
}

func TestActuatorZero(t *testing.T) {
	Convey("zeroing shifts subsequent readings and setpoints", t, func() {
		bus := &mockBus{version: "0.2.4", feedback: encodeFb(0.75, 0, 0, 35, 0)}
		a := testActuator(bus)
		So(a.Enable(), ShouldBeNil)

		offset, err := a.Zero()
		So(err, ShouldBeNil)
		So(offset, ShouldAlmostEqual, 0.75, 0.001)

		Convey("the same raw position now reads as zero", func() {
			fb, err := a.PollFeedback()
			So(err, ShouldBeNil)
			So(fb.Position, ShouldAlmostEqual, 0, 0.001)
		})

		Convey("a stored offset survives reconstruction", func() {
			b := testActuator(bus)
			b.SetZero(offset)
			So(b.Enable(), ShouldBeNil)
			fb, err := b.PollFeedback()
			So(err, ShouldBeNil)
			So(fb.Position, ShouldAlmostEqual, 0, 0.001)
		})
	})
}

func TestDrivers(t *testing.T) {
	Convey("unknown kinds are refused at construction", t, func() {
		_, err := NewActuator(1, "can1", 1, "stepper", Limits{}, &mockBus{})
		So(err, ShouldNotBeNil)
	})

	Convey("the hand servo takes position only", t, func() {
		d, err := DriverFor("rh56")
		So(err, ShouldBeNil)
		limits := Limits{MinPosition: 0, MaxPosition: 1}

		So(d.Check(51, Command{Position: 0.5}, limits), ShouldBeNil)
		So(d.Check(51, Command{Position: 0.5, Velocity: 1}, limits), ShouldHaveSameTypeAs, derrors.OutOfRangeError{})
		So(d.Check(51, Command{Position: 0.5, Torque: 1}, limits), ShouldHaveSameTypeAs, derrors.OutOfRangeError{})

		Convey("and its feedback decodes", func() {
			data := make([]byte, 4)
			binary.BigEndian.PutUint16(data[0:2], uint16(int16(0.5*rhPosScale)))
			data[2] = 30
			data[3] = 0

			fb, err := d.DecodeFeedback(canbus.Frame{Cmd: CMD_FEEDBACK, Data: data})
			So(err, ShouldBeNil)
			So(fb.Position, ShouldAlmostEqual, 0.5, 0.001)
			So(fb.Temperature, ShouldEqual, 30)
		})
	})

	Convey("short feedback payloads are refused", t, func() {
		d, _ := DriverFor("robstride")
		_, err := d.DecodeFeedback(canbus.Frame{Cmd: CMD_FEEDBACK, Data: []byte{1, 2, 3}})
		So(err, ShouldEqual, ERR_SHORT_FEEDBACK)
	})
}
