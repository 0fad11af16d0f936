package onboard

import (
	"time"

	"github.com/kbotics/kbot/onboard/hardware"
	"github.com/kbotics/kbot/onboard/imu"
	"github.com/kbotics/kbot/onboard/power"
)

// ActuatorStatus is one actuator's slice of a tick snapshot.
type ActuatorStatus struct {
	ID              int               `json:"id"`
	State           string            `json:"state"`
	Health          string            `json:"health"`
	Feedback        hardware.Feedback `json:"feedback"`
	Stale           bool              `json:"stale"`
	CommandAccepted bool              `json:"command_accepted"`
}

// Snapshot is the consistent per-tick aggregate returned to the caller.
// It always carries exactly one entry per configured actuator, however
// many of them failed during the tick.
type Snapshot struct {
	Tick      uint64                  `json:"tick"`
	Time      time.Time               `json:"time"`
	Actuators map[int]*ActuatorStatus `json:"actuators"`
	Inertial  imu.Sample              `json:"inertial"`
	Power     power.Sample            `json:"power"`
	Errors    map[int][]string        `json:"errors,omitempty"`

	// PowerFault is set when the session is latched down; commands are
	// suppressed until an explicit re-arm.
	PowerFault string `json:"power_fault,omitempty"`
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Actuators = make(map[int]*ActuatorStatus, len(s.Actuators))
	for id, st := range s.Actuators {
		cp := *st
		out.Actuators[id] = &cp
	}
	out.Errors = make(map[int][]string, len(s.Errors))
	for id, errs := range s.Errors {
		out.Errors[id] = append([]string(nil), errs...)
	}
	return out
}

// Recorder receives snapshots on a best-effort basis. Implementations
// must never block the tick; drop rather than wait.
type Recorder interface {
	Record(snap Snapshot)
}
