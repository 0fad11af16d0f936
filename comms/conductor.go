package comms

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/kbotics/kbot/onboard"
	"github.com/kbotics/kbot/onboard/hardware"
)

const clientSendBuffer = 4

// Device is the surface the conductor drives on behalf of remote clients.
// Setpoints are queued for the next tick rather than hitting the wire
// directly.
type Device interface {
	QueueCommand(id int, cmd hardware.Command)
	Enable(id int) error
	Disable(id int) error
	ClearFault(id int) error
	Zero(id int) error
	Rearm()
	Channels() []string
}

type wsClient struct {
	conn *websocket.Conn
	send chan StatePayload
}

// Conductor fans tick snapshots out to websocket clients and feeds their
// commands back to the device. It satisfies onboard.Recorder; a slow or
// stalled client loses frames, it never stalls the tick.
type Conductor struct {
	Device Device

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

func NewConductor(device Device) *Conductor {
	return &Conductor{
		Device:   device,
		upgrader: websocket.Upgrader{},
		clients:  make(map[*wsClient]struct{}),
	}
}

// Record implements onboard.Recorder. Frames are dropped per client when
// their send buffer is full.
func (c *Conductor) Record(snap onboard.Snapshot) {
	payload := StatePayload{
		Snapshot: snap,
		Channels: c.Device.Channels(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for client := range c.clients {
		select {
		case client.send <- payload:
		default:
		}
	}
}

// ServeWS upgrades the request and attaches the client to the state feed.
func (c *Conductor) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan StatePayload, clientSendBuffer),
	}

	c.mu.Lock()
	c.clients[client] = struct{}{}
	c.mu.Unlock()

	go c.writePump(client)
	go c.readPump(client)
}

func (c *Conductor) writePump(client *wsClient) {
	for payload := range client.send {
		if err := client.conn.WriteJSON(payload); err != nil {
			return
		}
	}
}

func (c *Conductor) readPump(client *wsClient) {
	defer c.dropClient(client)

	for {
		var cmd Cmd
		if err := client.conn.ReadJSON(&cmd); err != nil {
			return
		}
		c.ProcessCommand(cmd)
	}
}

func (c *Conductor) dropClient(client *wsClient) {
	c.mu.Lock()
	if _, ok := c.clients[client]; ok {
		delete(c.clients, client)
		close(client.send)
	}
	c.mu.Unlock()

	client.conn.Close()
}

// ProcessCommand applies one client instruction. Failures are logged, not
// returned; the next state frame shows the client what actually happened.
func (c *Conductor) ProcessCommand(cmd Cmd) {
	var err error

	switch cmd.Cmd {
	case "set_command":
		c.Device.QueueCommand(cmd.Actuator, hardware.Command{
			Position: cmd.Position,
			Velocity: cmd.Velocity,
			Torque:   cmd.Torque,
		})

	case "enable":
		err = c.Device.Enable(cmd.Actuator)

	case "disable":
		err = c.Device.Disable(cmd.Actuator)

	case "clear_fault":
		err = c.Device.ClearFault(cmd.Actuator)

	case "zero":
		err = c.Device.Zero(cmd.Actuator)

	case "rearm":
		c.Device.Rearm()

	default:
		log.Printf("unable to process command %v", cmd)
		return
	}

	if err != nil {
		log.Printf("command %s on actuator %d failed: %v", cmd.Cmd, cmd.Actuator, err)
	}
}

// CloseAll disconnects every client, for shutdown.
func (c *Conductor) CloseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for client := range c.clients {
		delete(c.clients, client)
		close(client.send)
		client.conn.Close()
	}
}
