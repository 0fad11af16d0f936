package onboard

import (
	"testing"

	derrors "github.com/kbotics/kbot/onboard/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func TestHealthMonitor(t *testing.T) {
	Convey("classification follows the consecutive failure streak", t, func() {
		for threshold := 1; threshold <= 5; threshold++ {
			m := NewHealthMonitor(threshold)
			m.Register(1)

			So(m.Classify(1), ShouldEqual, HEALTH_HEALTHY)

			for i := 1; i < threshold; i++ {
				m.Failure(1)
				So(m.Classify(1), ShouldEqual, HEALTH_DEGRADED)
			}

			m.Failure(1)
			So(m.Classify(1), ShouldEqual, HEALTH_UNREACHABLE)

			// recovery is instant, not gradual
			m.Success(1)
			So(m.Classify(1), ShouldEqual, HEALTH_HEALTHY)
			So(m.Snapshot()[1].Streak, ShouldEqual, 0)
		}
	})

	Convey("an unregistered device classifies as unreachable", t, func() {
		m := NewHealthMonitor(3)
		So(m.Classify(99), ShouldEqual, HEALTH_UNREACHABLE)
	})

	Convey("a nonsense threshold falls back to the default", t, func() {
		m := NewHealthMonitor(0)
		m.Register(1)
		for i := 0; i < DEFAULT_FAILURE_THRESHOLD-1; i++ {
			m.Failure(1)
		}
		So(m.Classify(1), ShouldEqual, HEALTH_DEGRADED)
		m.Failure(1)
		So(m.Classify(1), ShouldEqual, HEALTH_UNREACHABLE)
	})

	Convey("a power fault latches everything unreachable", t, func() {
		m := NewHealthMonitor(3)
		m.Register(1)
		m.Register(2)
		m.Success(1)

		m.PowerFault(derrors.PowerFaultError{Reason: "undervoltage", Value: 39.5, Limit: 40})

		So(m.Classify(1), ShouldEqual, HEALTH_UNREACHABLE)
		So(m.Classify(2), ShouldEqual, HEALTH_UNREACHABLE)
		for _, d := range m.Snapshot() {
			So(d.Class, ShouldEqual, HEALTH_UNREACHABLE)
		}

		Convey("the first fault wins", func() {
			m.PowerFault(derrors.PowerFaultError{Reason: "overtemperature", Value: 70, Limit: 60})
			fault, down := m.Faulted()
			So(down, ShouldBeTrue)
			So(fault.Reason, ShouldEqual, "undervoltage")
		})

		Convey("successes while latched do not unlatch", func() {
			m.Success(1)
			So(m.Classify(1), ShouldEqual, HEALTH_UNREACHABLE)
		})

		Convey("rearm restores the underlying classification", func() {
			m.Rearm()
			_, down := m.Faulted()
			So(down, ShouldBeFalse)
			So(m.Classify(1), ShouldEqual, HEALTH_HEALTHY)
		})
	})
}
