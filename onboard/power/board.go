package power

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/kbotics/kbot/onboard/canbus"
	derrors "github.com/kbotics/kbot/onboard/errors"
)

const (
	PWR_CMD_STATUS = 0x0200

	pwrVoltScale = 100 // 0.01 V
	pwrCurScale  = 100 // 0.01 A
	pwrTempScale = 10  // 0.1 degC

	DEFAULT_POLL_INTERVAL = time.Second
)

var ERR_SHORT_STATUS = errors.New("power status payload too short")

// Sample is one power board reading. Superseded by the next poll; no
// history is kept at this layer.
type Sample struct {
	Time            time.Time `json:"time"`
	Voltage         float64   `json:"voltage"`
	Current         float64   `json:"current"`
	Temperature     float64   `json:"temperature"`
	Undervoltage    bool      `json:"undervoltage"`
	Overtemperature bool      `json:"overtemperature"`
}

type Thresholds struct {
	MinVoltage     float64
	MaxTemperature float64
}

// FaultHandler is invoked the moment a threshold is crossed, outside the
// regular poll cadence consumers see. It must not block.
type FaultHandler func(fault derrors.PowerFaultError)

// Board polls the battery management board at a low rate and raises
// threshold faults immediately.
type Board struct {
	bus        canbus.Exchanger
	channel    string
	addr       uint32
	thresholds Thresholds
	onFault    FaultHandler

	mu      sync.RWMutex
	latest  Sample
	started bool

	stop chan struct{}
	done chan struct{}
}

func NewBoard(bus canbus.Exchanger, channel string, addr uint32, thresholds Thresholds, onFault FaultHandler) *Board {
	return &Board{
		bus:        bus,
		channel:    channel,
		addr:       addr,
		thresholds: thresholds,
		onFault:    onFault,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the poll loop. Poll errors are tolerated; the previous
// sample simply stays current until the board answers again.
func (b *Board) Start(interval time.Duration) {
	if interval <= 0 {
		interval = DEFAULT_POLL_INTERVAL
	}

	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	go b.run(interval)
}

func (b *Board) run(interval time.Duration) {
	defer close(b.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.Poll()
		}
	}
}

// Poll performs one status exchange, updates the latest sample and fires
// the fault handler on a threshold breach.
func (b *Board) Poll() (Sample, error) {
	resp, err := b.bus.SendReceive(b.channel, canbus.Frame{ID: b.addr, Cmd: PWR_CMD_STATUS})
	if err != nil {
		return b.Latest(), err
	}

	if len(resp.Data) < 6 {
		return b.Latest(), ERR_SHORT_STATUS
	}

	s := Sample{
		Time:        time.Now(),
		Voltage:     float64(binary.BigEndian.Uint16(resp.Data[0:2])) / pwrVoltScale,
		Current:     float64(int16(binary.BigEndian.Uint16(resp.Data[2:4]))) / pwrCurScale,
		Temperature: float64(int16(binary.BigEndian.Uint16(resp.Data[4:6]))) / pwrTempScale,
	}

	if s.Voltage < b.thresholds.MinVoltage {
		s.Undervoltage = true
	}
	if s.Temperature > b.thresholds.MaxTemperature {
		s.Overtemperature = true
	}

	b.mu.Lock()
	b.latest = s
	b.mu.Unlock()

	if s.Undervoltage && b.onFault != nil {
		b.onFault(derrors.PowerFaultError{
			Reason: "undervoltage", Value: s.Voltage, Limit: b.thresholds.MinVoltage,
		})
	}
	if s.Overtemperature && b.onFault != nil {
		b.onFault(derrors.PowerFaultError{
			Reason: "overtemperature", Value: s.Temperature, Limit: b.thresholds.MaxTemperature,
		})
	}

	return s, nil
}

// Latest never blocks.
func (b *Board) Latest() Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest
}

func (b *Board) Close() error {
	b.mu.RLock()
	started := b.started
	b.mu.RUnlock()

	if !started {
		return nil
	}

	select {
	case <-b.done:
	default:
		close(b.stop)
		<-b.done
	}
	return nil
}
