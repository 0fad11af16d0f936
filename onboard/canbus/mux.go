package canbus

import (
	"fmt"
	"sync"
	"time"
)

// Channel is a single physical wire capable of one command/response
// exchange at a time. Implementations must return within the supplied
// timeout; they do not retry.
type Channel interface {
	Exchange(req Frame, timeout time.Duration) (Frame, error)
	Close() error
}

// Exchanger is the transport surface handed to device adapters. Callers
// targeting the same channel are serialized; distinct channels proceed
// independently.
type Exchanger interface {
	SendReceive(channel string, req Frame) (Frame, error)
}

type muxChannel struct {
	ch      Channel
	lock    sync.Mutex
	timeout time.Duration
}

type Mux struct {
	mu       sync.RWMutex
	channels map[string]*muxChannel
}

func NewMux() *Mux {
	return &Mux{
		channels: make(map[string]*muxChannel),
	}
}

func (m *Mux) AddChannel(name string, ch Channel, timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.channels[name]; ok {
		return fmt.Errorf("channel %s already registered", name)
	}
	m.channels[name] = &muxChannel{ch: ch, timeout: timeout}
	return nil
}

// SendReceive performs one exclusive exchange on the named channel. The
// per-channel lock guarantees request N fully completes before request N+1
// touches the wire.
func (m *Mux) SendReceive(channel string, req Frame) (Frame, error) {
	m.mu.RLock()
	mc, ok := m.channels[channel]
	m.mu.RUnlock()

	if !ok {
		return Frame{}, fmt.Errorf("no such channel %s", channel)
	}

	mc.lock.Lock()
	defer mc.lock.Unlock()

	return mc.ch.Exchange(req, mc.timeout)
}

func (m *Mux) Channels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

func (m *Mux) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, mc := range m.channels {
		mc.ch.Close()
	}
	m.channels = make(map[string]*muxChannel)
}
