package onboard

import (
	"sort"
	"sync"
	"time"

	derrors "github.com/kbotics/kbot/onboard/errors"
	"github.com/kbotics/kbot/onboard/hardware"
	"github.com/kbotics/kbot/onboard/imu"
	"github.com/kbotics/kbot/onboard/power"
	"golang.org/x/sync/errgroup"
)

// PowerSource is the non-blocking view of the power board the coordinator
// merges into each snapshot.
type PowerSource interface {
	Latest() power.Sample
}

// Coordinator owns the actuator bank. Once per control tick it fans
// commands out across channels, collects feedback, merges the freshest
// sensor samples and returns one consistent snapshot. Actuators on
// distinct channels proceed concurrently; the mux serializes within a
// channel.
type Coordinator struct {
	actuators map[int]*hardware.Actuator
	byChannel map[string][]*hardware.Actuator
	health    *HealthMonitor

	imu      imu.Reader
	power    PowerSource
	recorder Recorder

	// tickMu guarantees tick N fully resolves before tick N+1 dispatches
	tickMu sync.Mutex
	tick   uint64

	stateMu sync.RWMutex
	last    Snapshot
}

func NewCoordinator(actuators []*hardware.Actuator, health *HealthMonitor) *Coordinator {
	c := &Coordinator{
		actuators: make(map[int]*hardware.Actuator, len(actuators)),
		byChannel: make(map[string][]*hardware.Actuator),
		health:    health,
	}

	for _, a := range actuators {
		c.actuators[a.ID] = a
		c.byChannel[a.Channel] = append(c.byChannel[a.Channel], a)
		health.Register(a.ID)
	}

	// stable dispatch order within a channel
	for _, acts := range c.byChannel {
		sort.Slice(acts, func(i, j int) bool { return acts[i].ID < acts[j].ID })
	}

	return c
}

func (c *Coordinator) AttachIMU(r imu.Reader)      { c.imu = r }
func (c *Coordinator) AttachPower(p PowerSource)   { c.power = p }
func (c *Coordinator) AttachRecorder(rec Recorder) { c.recorder = rec }

func (c *Coordinator) Actuator(id int) (*hardware.Actuator, bool) {
	a, ok := c.actuators[id]
	return a, ok
}

func (c *Coordinator) ActuatorIDs() []int {
	ids := make([]int, 0, len(c.actuators))
	for id := range c.actuators {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (c *Coordinator) Health() *HealthMonitor { return c.health }

// Tick runs one control cycle. Commands for unknown ids are ignored; a
// failing actuator contributes an error entry but never aborts the batch.
// The returned snapshot always has one entry per configured actuator.
func (c *Coordinator) Tick(commands map[int]hardware.Command) Snapshot {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	c.tick++

	snap := Snapshot{
		Tick:      c.tick,
		Time:      time.Now(),
		Actuators: make(map[int]*ActuatorStatus, len(c.actuators)),
		Errors:    make(map[int][]string),
	}

	var errMu sync.Mutex
	record := func(id int, err error) {
		errMu.Lock()
		snap.Errors[id] = append(snap.Errors[id], err.Error())
		errMu.Unlock()
	}

	// prefill so goroutines only touch their own entries
	for id := range c.actuators {
		snap.Actuators[id] = &ActuatorStatus{ID: id}
	}

	var g errgroup.Group
	for _, acts := range c.byChannel {
		acts := acts
		g.Go(func() error {
			for _, a := range acts {
				st := snap.Actuators[a.ID]

				cmd, hasCmd := commands[a.ID]
				_, powerDown := c.health.Faulted()

				if hasCmd && !powerDown && c.health.Classify(a.ID) != HEALTH_UNREACHABLE {
					if err := a.SetCommand(cmd); err != nil {
						record(a.ID, err)
						if derrors.IsTimeout(err) || derrors.IsTransport(err) {
							c.health.Failure(a.ID)
						}
					} else {
						st.CommandAccepted = true
					}
				}

				// feedback is collected regardless of command outcome
				fb, err := a.PollFeedback()
				if err != nil {
					record(a.ID, err)
					fb, _ = a.LastFeedback()
					st.Stale = true
					// only transport-level failures feed the streak;
					// state-machine misuse says nothing about the wire
					if derrors.IsTimeout(err) || derrors.IsTransport(err) {
						c.health.Failure(a.ID)
					}
				} else {
					c.health.Success(a.ID)
				}

				st.Feedback = fb
				st.State = a.State().String()
			}
			return nil
		})
	}
	g.Wait()

	if c.imu != nil {
		snap.Inertial = c.imu.Latest()
	}
	if c.power != nil {
		snap.Power = c.power.Latest()
	}

	if fault, down := c.health.Faulted(); down {
		snap.PowerFault = fault.Error()
	}
	for id, st := range snap.Actuators {
		st.Health = c.health.Classify(id).String()
	}

	c.stateMu.Lock()
	c.last = snap.clone()
	c.stateMu.Unlock()

	if c.recorder != nil {
		c.recorder.Record(snap.clone())
	}

	return snap
}

// LastSnapshot is safe for concurrent readers; it never observes a
// half-built tick.
func (c *Coordinator) LastSnapshot() Snapshot {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.last.clone()
}
