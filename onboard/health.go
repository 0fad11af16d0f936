package onboard

import (
	"fmt"
	"sync"
	"time"

	derrors "github.com/kbotics/kbot/onboard/errors"
)

type HealthClass int

const (
	HEALTH_HEALTHY HealthClass = iota
	HEALTH_DEGRADED
	HEALTH_UNREACHABLE
)

func (h HealthClass) String() string {
	switch h {
	case HEALTH_HEALTHY:
		return "Healthy"
	case HEALTH_DEGRADED:
		return "Degraded"
	case HEALTH_UNREACHABLE:
		return "Unreachable"
	default:
		return fmt.Sprintf("HealthClass(%d)", int(h))
	}
}

const DEFAULT_FAILURE_THRESHOLD = 3

type DeviceHealth struct {
	LastSuccess time.Time
	Streak      int
	Class       HealthClass
}

// HealthMonitor classifies devices by consecutive-failure streak. Descent
// is gradual (Healthy -> Degraded -> Unreachable at the threshold); a
// single success restores Healthy immediately. A power fault latches every
// device Unreachable until an explicit re-arm.
type HealthMonitor struct {
	mu        sync.RWMutex
	threshold int
	devices   map[int]*DeviceHealth

	powerFault *derrors.PowerFaultError
}

func NewHealthMonitor(threshold int) *HealthMonitor {
	if threshold < 1 {
		threshold = DEFAULT_FAILURE_THRESHOLD
	}
	return &HealthMonitor{
		threshold: threshold,
		devices:   make(map[int]*DeviceHealth),
	}
}

func (m *HealthMonitor) Register(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.devices[id]; !ok {
		m.devices[id] = &DeviceHealth{Class: HEALTH_HEALTHY}
	}
}

func (m *HealthMonitor) Success(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[id]
	if !ok {
		return
	}
	d.Streak = 0
	d.Class = HEALTH_HEALTHY
	d.LastSuccess = time.Now()
}

func (m *HealthMonitor) Failure(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[id]
	if !ok {
		return
	}
	d.Streak++
	if d.Streak >= m.threshold {
		d.Class = HEALTH_UNREACHABLE
	} else {
		d.Class = HEALTH_DEGRADED
	}
}

func (m *HealthMonitor) Classify(id int) HealthClass {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.powerFault != nil {
		return HEALTH_UNREACHABLE
	}

	d, ok := m.devices[id]
	if !ok {
		return HEALTH_UNREACHABLE
	}
	return d.Class
}

// PowerFault latches the monitor into its terminal state. All devices
// classify as Unreachable and commands are suppressed until Rearm.
func (m *HealthMonitor) PowerFault(fault derrors.PowerFaultError) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.powerFault == nil {
		m.powerFault = &fault
	}
}

func (m *HealthMonitor) Faulted() (derrors.PowerFaultError, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.powerFault == nil {
		return derrors.PowerFaultError{}, false
	}
	return *m.powerFault, true
}

// Rearm clears a latched power fault. Requires an explicit operator or
// runtime action; nothing in the tick path calls this.
func (m *HealthMonitor) Rearm() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.powerFault = nil
}

// Snapshot returns a copy of every device's health record.
func (m *HealthMonitor) Snapshot() map[int]DeviceHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[int]DeviceHealth, len(m.devices))
	for id, d := range m.devices {
		h := *d
		if m.powerFault != nil {
			h.Class = HEALTH_UNREACHABLE
		}
		out[id] = h
	}
	return out
}
