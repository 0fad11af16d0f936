package canbus

import (
	"errors"
	"time"
)

var ERR_NO_SOCKETCAN = errors.New("socketcan is only available on linux")

// SocketCAN stub so development builds work off-robot; use the simulator.
type SocketCAN struct {
	name string
}

func NewSocketCAN(ifname string) (*SocketCAN, error) {
	return nil, ERR_NO_SOCKETCAN
}

func (c *SocketCAN) Exchange(req Frame, timeout time.Duration) (Frame, error) {
	return Frame{}, ERR_NO_SOCKETCAN
}

func (c *SocketCAN) Close() error {
	return nil
}
