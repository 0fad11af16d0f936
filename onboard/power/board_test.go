package power

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/kbotics/kbot/onboard/canbus"
	derrors "github.com/kbotics/kbot/onboard/errors"
	. "github.com/smartystreets/goconvey/convey"
)

type powerBus struct {
	mu      sync.Mutex
	voltage float64
	current float64
	temp    float64
	fail    error
}

func (b *powerBus) SendReceive(channel string, req canbus.Frame) (canbus.Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.fail != nil {
		return canbus.Frame{}, b.fail
	}

	data := make([]byte, 6)
	binary.BigEndian.PutUint16(data[0:2], uint16(b.voltage*pwrVoltScale))
	binary.BigEndian.PutUint16(data[2:4], uint16(int16(b.current*pwrCurScale)))
	binary.BigEndian.PutUint16(data[4:6], uint16(int16(b.temp*pwrTempScale)))

	return canbus.Frame{ID: req.ID, Cmd: req.Cmd, Data: data}, nil
}

type faultRecorder struct {
	mu     sync.Mutex
	faults []derrors.PowerFaultError
}

func (r *faultRecorder) handle(fault derrors.PowerFaultError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults = append(r.faults, fault)
}

func (r *faultRecorder) all() []derrors.PowerFaultError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]derrors.PowerFaultError(nil), r.faults...)
}

type shortBus struct{}

func (shortBus) SendReceive(channel string, req canbus.Frame) (canbus.Frame, error) {
	return canbus.Frame{ID: req.ID, Cmd: req.Cmd, Data: []byte{0x12, 0xC0}}, nil
}

func TestBoard(t *testing.T) {
	thresholds := Thresholds{MinVoltage: 40, MaxTemperature: 60}

	Convey("a nominal reading decodes and raises nothing", t, func() {
		bus := &powerBus{voltage: 48.2, current: 3.5, temp: 31}
		rec := &faultRecorder{}
		b := NewBoard(bus, "can0", 1, thresholds, rec.handle)

		s, err := b.Poll()
		So(err, ShouldBeNil)
		So(s.Voltage, ShouldAlmostEqual, 48.2, 0.01)
		So(s.Current, ShouldAlmostEqual, 3.5, 0.01)
		So(s.Temperature, ShouldAlmostEqual, 31, 0.1)
		So(s.Undervoltage, ShouldBeFalse)
		So(s.Overtemperature, ShouldBeFalse)
		So(rec.all(), ShouldBeEmpty)

		Convey("and becomes the latest sample", func() {
			So(b.Latest().Voltage, ShouldAlmostEqual, 48.2, 0.01)
		})
	})

	Convey("crossing the voltage floor fires the handler immediately", t, func() {
		bus := &powerBus{voltage: 39.5, temp: 31}
		rec := &faultRecorder{}
		b := NewBoard(bus, "can0", 1, thresholds, rec.handle)

		s, err := b.Poll()
		So(err, ShouldBeNil)
		So(s.Undervoltage, ShouldBeTrue)

		faults := rec.all()
		So(faults, ShouldHaveLength, 1)
		So(faults[0].Reason, ShouldEqual, "undervoltage")
		So(faults[0].Limit, ShouldAlmostEqual, 40, 0.001)
	})

	Convey("overtemperature is its own fault", t, func() {
		bus := &powerBus{voltage: 48, temp: 65}
		rec := &faultRecorder{}
		b := NewBoard(bus, "can0", 1, thresholds, rec.handle)

		s, err := b.Poll()
		So(err, ShouldBeNil)
		So(s.Overtemperature, ShouldBeTrue)
		So(rec.all()[0].Reason, ShouldEqual, "overtemperature")
	})

	Convey("a failed poll keeps the previous sample", t, func() {
		bus := &powerBus{voltage: 48.2, temp: 31}
		b := NewBoard(bus, "can0", 1, thresholds, nil)

		_, err := b.Poll()
		So(err, ShouldBeNil)

		bus.mu.Lock()
		bus.fail = derrors.TimeoutError{Channel: "can0", Elapsed: 7 * time.Millisecond}
		bus.mu.Unlock()

		s, err := b.Poll()
		So(err, ShouldNotBeNil)
		So(s.Voltage, ShouldAlmostEqual, 48.2, 0.01)
	})

	Convey("short payloads are refused", t, func() {
		b := NewBoard(shortBus{}, "can0", 1, thresholds, nil)
		_, err := b.Poll()
		So(err, ShouldEqual, ERR_SHORT_STATUS)
	})

	Convey("the poll loop runs until closed", t, func() {
		bus := &powerBus{voltage: 48.2, temp: 31}
		b := NewBoard(bus, "can0", 1, thresholds, nil)

		b.Start(time.Millisecond)
		b.Start(time.Millisecond) // second start is a no-op
		time.Sleep(20 * time.Millisecond)
		So(b.Latest().Voltage, ShouldAlmostEqual, 48.2, 0.01)
		So(b.Close(), ShouldBeNil)
	})

	Convey("closing an unstarted board does not hang", t, func() {
		b := NewBoard(&powerBus{}, "can0", 1, thresholds, nil)
		So(b.Close(), ShouldBeNil)
	})
}
