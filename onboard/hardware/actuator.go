package hardware

import (
	"fmt"
	"sync"
	"time"

	"github.com/Masterminds/semver"
	"github.com/kbotics/kbot/onboard/canbus"
	derrors "github.com/kbotics/kbot/onboard/errors"
)

type State int

const (
	STATE_UNINITIALIZED State = iota
	STATE_ENABLED
	STATE_DISABLED
	STATE_FAULTED
)

func (s State) String() string {
	switch s {
	case STATE_UNINITIALIZED:
		return "Uninitialized"
	case STATE_ENABLED:
		return "Enabled"
	case STATE_DISABLED:
		return "Disabled"
	case STATE_FAULTED:
		return "Faulted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Actuator is one servo's state machine. All transport access goes through
// the shared Exchanger; transitions are guarded so a fault can never be
// cleared implicitly by a successful read.
type Actuator struct {
	ID      int
	Channel string
	Addr    uint32

	driver Driver
	limits Limits
	bus    canbus.Exchanger

	mu       sync.Mutex
	state    State
	zero     float64
	lastCmd  Command
	feedback Feedback
	fbTime   time.Time
}

func NewActuator(id int, channel string, addr uint32, kind string, limits Limits, bus canbus.Exchanger) (*Actuator, error) {
	driver, err := DriverFor(kind)
	if err != nil {
		return nil, err
	}

	return &Actuator{
		ID:      id,
		Channel: channel,
		Addr:    addr,
		driver:  driver,
		limits:  limits,
		bus:     bus,
	}, nil
}

func (a *Actuator) Kind() string { return a.driver.Kind() }

func (a *Actuator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// LastFeedback returns the most recent decoded feedback and when it was
// observed. The zero offset has already been applied.
func (a *Actuator) LastFeedback() (Feedback, time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.feedback, a.fbTime
}

func (a *Actuator) SetZero(offset float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.zero = offset
}

// Init performs the firmware handshake and moves the actuator from
// Uninitialized to Disabled. The reported version must satisfy the
// driver's semver constraint; a bare "DEV" build is accepted for bench
// work.
func (a *Actuator) Init() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.initLocked()
}

func (a *Actuator) initLocked() error {
	if a.state != STATE_UNINITIALIZED {
		return nil
	}

	resp, err := a.bus.SendReceive(a.Channel, a.driver.Version(a.Addr))
	if err != nil {
		return err
	}

	versionString := string(resp.Data)
	if versionString != "DEV" {
		ver, err := semver.NewVersion(versionString)
		if err != nil {
			return fmt.Errorf("actuator %d: unparseable firmware version %q: %w", a.ID, versionString, err)
		}

		constraint, err := semver.NewConstraint(a.driver.FirmwareConstraint())
		if err != nil {
			return err
		}

		if !constraint.Check(ver) {
			return fmt.Errorf("unable to use actuator %d: received version %s - require %s",
				a.ID, versionString, a.driver.FirmwareConstraint())
		}
	}

	a.state = STATE_DISABLED
	return nil
}

// Enable is idempotent. Enabling from Faulted is refused; the fault must
// be cleared explicitly first. Enabling an Uninitialized actuator runs the
// firmware handshake first.
func (a *Actuator) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.state {
	case STATE_ENABLED:
		return nil
	case STATE_FAULTED:
		return derrors.InvalidTransitionError{Actuator: a.ID, From: a.state.String(), Op: "enable"}
	case STATE_UNINITIALIZED:
		if err := a.initLocked(); err != nil {
			return err
		}
	}

	if _, err := a.bus.SendReceive(a.Channel, a.driver.Enable(a.Addr)); err != nil {
		return err
	}

	a.state = STATE_ENABLED
	return nil
}

func (a *Actuator) Disable() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.state {
	case STATE_DISABLED:
		return nil
	case STATE_FAULTED, STATE_UNINITIALIZED:
		return derrors.InvalidTransitionError{Actuator: a.ID, From: a.state.String(), Op: "disable"}
	}

	if _, err := a.bus.SendReceive(a.Channel, a.driver.Disable(a.Addr)); err != nil {
		return err
	}

	a.state = STATE_DISABLED
	return nil
}

// ClearFault acknowledges a hardware fault and returns the actuator to
// Disabled. This is the only exit from Faulted.
func (a *Actuator) ClearFault() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != STATE_FAULTED {
		return derrors.InvalidTransitionError{Actuator: a.ID, From: a.state.String(), Op: "clear fault"}
	}

	if _, err := a.bus.SendReceive(a.Channel, a.driver.ClearFault(a.Addr)); err != nil {
		return err
	}

	a.state = STATE_DISABLED
	return nil
}

// SetCommand validates and dispatches one setpoint. Validation happens
// before any transport traffic so a rejected command leaves the wire
// untouched. Never retried: a lost setpoint must surface to the caller
// rather than risk applying it twice out of order.
func (a *Actuator) SetCommand(cmd Command) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != STATE_ENABLED {
		return derrors.InvalidTransitionError{Actuator: a.ID, From: a.state.String(), Op: "set command"}
	}

	if err := a.driver.Check(a.ID, cmd, a.limits); err != nil {
		return err
	}

	wire := cmd
	wire.Position += a.zero

	if _, err := a.bus.SendReceive(a.Channel, a.driver.Setpoint(a.Addr, wire)); err != nil {
		return err
	}

	a.lastCmd = cmd
	return nil
}

// PollFeedback reads the servo's current state. Valid in any state but
// Uninitialized. A TransportError is retried once (reads are idempotent);
// a Timeout already used up the channel's wait and is not.
func (a *Actuator) PollFeedback() (Feedback, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == STATE_UNINITIALIZED {
		return Feedback{}, derrors.InvalidTransitionError{Actuator: a.ID, From: a.state.String(), Op: "poll feedback"}
	}

	resp, err := a.bus.SendReceive(a.Channel, a.driver.FeedbackReq(a.Addr))
	if derrors.IsTransport(err) {
		resp, err = a.bus.SendReceive(a.Channel, a.driver.FeedbackReq(a.Addr))
	}
	if err != nil {
		return Feedback{}, err
	}

	fb, err := a.driver.DecodeFeedback(resp)
	if err != nil {
		return Feedback{}, derrors.TransportError{Channel: a.Channel, Cause: err}
	}

	fb.Position -= a.zero

	a.feedback = fb
	a.fbTime = time.Now()

	if fb.Faults != 0 {
		a.state = STATE_FAULTED
	}

	return fb, nil
}

// Zero records the current raw position as the new zero offset and
// returns it. The caller persists the offset.
func (a *Actuator) Zero() (float64, error) {
	fb, err := a.PollFeedback()
	if err != nil {
		return 0, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.zero += fb.Position
	a.feedback.Position = 0
	return a.zero, nil
}
