package comms

import (
	"github.com/kbotics/kbot/onboard"
)

// StatePayload is the wire form of one tick pushed to connected clients.
type StatePayload struct {
	onboard.Snapshot
	Channels []string `json:"channels"`
}

// Cmd is one client instruction. Value fields are ignored for commands
// that do not take them.
type Cmd struct {
	Cmd      string  `json:"cmd"`
	Actuator int     `json:"actuator"`
	Position float64 `json:"position"`
	Velocity float64 `json:"velocity"`
	Torque   float64 `json:"torque"`
}
