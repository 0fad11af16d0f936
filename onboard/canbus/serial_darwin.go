package canbus

import (
	"errors"
	"time"
)

var ERR_NO_SERIAL = errors.New("serial channels are only available on linux")

type SerialChannel struct {
	name string
}

func NewSerialChannel(device string, baud uint32) (*SerialChannel, error) {
	return nil, ERR_NO_SERIAL
}

func (c *SerialChannel) Exchange(req Frame, timeout time.Duration) (Frame, error) {
	return Frame{}, ERR_NO_SERIAL
}

func (c *SerialChannel) Close() error {
	return nil
}
