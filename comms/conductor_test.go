package comms

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kbotics/kbot/onboard"
	"github.com/kbotics/kbot/onboard/hardware"
	. "github.com/smartystreets/goconvey/convey"
)

type mockDevice struct {
	mu     sync.Mutex
	ops    []string
	queued map[int]hardware.Command
}

func newMockDevice() *mockDevice {
	return &mockDevice{queued: make(map[int]hardware.Command)}
}

func (d *mockDevice) record(op string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ops = append(d.ops, op)
}

func (d *mockDevice) QueueCommand(id int, cmd hardware.Command) {
	d.mu.Lock()
	d.queued[id] = cmd
	d.mu.Unlock()
	d.record("queue")
}

func (d *mockDevice) Enable(id int) error     { d.record("enable"); return nil }
func (d *mockDevice) Disable(id int) error    { d.record("disable"); return nil }
func (d *mockDevice) ClearFault(id int) error { d.record("clear"); return nil }
func (d *mockDevice) Zero(id int) error       { d.record("zero"); return nil }
func (d *mockDevice) Rearm()                  { d.record("rearm") }
func (d *mockDevice) Channels() []string      { return []string{"can1", "hand"} }

func (d *mockDevice) lastOps() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ops...)
}

func TestProcessCommand(t *testing.T) {
	Convey("commands dispatch onto the device", t, func() {
		device := newMockDevice()
		c := NewConductor(device)

		c.ProcessCommand(Cmd{Cmd: "set_command", Actuator: 11, Position: 0.5, Velocity: 0.1})
		c.ProcessCommand(Cmd{Cmd: "enable", Actuator: 11})
		c.ProcessCommand(Cmd{Cmd: "disable", Actuator: 11})
		c.ProcessCommand(Cmd{Cmd: "clear_fault", Actuator: 11})
		c.ProcessCommand(Cmd{Cmd: "zero", Actuator: 11})
		c.ProcessCommand(Cmd{Cmd: "rearm"})
		c.ProcessCommand(Cmd{Cmd: "self_destruct"}) // unknown, logged and dropped

		So(device.lastOps(), ShouldResemble,
			[]string{"queue", "enable", "disable", "clear", "zero", "rearm"})

		device.mu.Lock()
		So(device.queued[11].Position, ShouldAlmostEqual, 0.5, 1e-9)
		So(device.queued[11].Velocity, ShouldAlmostEqual, 0.1, 1e-9)
		device.mu.Unlock()
	})
}

func TestConductorFeed(t *testing.T) {
	Convey("with a connected websocket client", t, func() {
		device := newMockDevice()
		c := NewConductor(device)

		srv := httptest.NewServer(http.HandlerFunc(c.ServeWS))
		defer srv.Close()
		defer c.CloseAll()

		url := "ws" + strings.TrimPrefix(srv.URL, "http")
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		So(err, ShouldBeNil)
		defer conn.Close()

		// registration races the dial returning; give it a beat
		time.Sleep(10 * time.Millisecond)

		Convey("snapshots arrive as state payloads", func() {
			c.Record(onboard.Snapshot{Tick: 42})

			var payload StatePayload
			conn.SetReadDeadline(time.Now().Add(time.Second))
			So(conn.ReadJSON(&payload), ShouldBeNil)
			So(payload.Tick, ShouldEqual, 42)
			So(payload.Channels, ShouldResemble, []string{"can1", "hand"})
		})

		Convey("client commands come back through the device", func() {
			err := conn.WriteJSON(Cmd{Cmd: "enable", Actuator: 11})
			So(err, ShouldBeNil)

			deadline := time.Now().Add(time.Second)
			for len(device.lastOps()) == 0 && time.Now().Before(deadline) {
				time.Sleep(time.Millisecond)
			}
			So(device.lastOps(), ShouldResemble, []string{"enable"})
		})

		Convey("recording never blocks on a stalled client", func() {
			// the client is not reading; saturate its buffer and then some
			done := make(chan struct{})
			go func() {
				for i := 0; i < clientSendBuffer*10; i++ {
					c.Record(onboard.Snapshot{Tick: uint64(i)})
				}
				close(done)
			}()

			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("Record blocked on a slow client")
			}
		})
	})
}
