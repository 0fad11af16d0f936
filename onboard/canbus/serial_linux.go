package canbus

import (
	"fmt"
	"time"

	derrors "github.com/kbotics/kbot/onboard/errors"
	"golang.org/x/sys/unix"
)

const (
	serSOF1 = 0x55
	serSOF2 = 0xAA

	// SOF1 SOF2 ADDR CMDL CMDH DLC [data] SUM
	serOverhead = 7
)

// SerialChannel frames command/response exchanges over a tty (RS485/TTL
// adapters for the hand bus and the serial IMU). Same exclusive-exchange
// contract as SocketCAN; the mux provides the serialization.
type SerialChannel struct {
	name string
	fd   int
}

func NewSerialChannel(device string, baud uint32) (ch *SerialChannel, err error) {
	fd, err := unix.Open(device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	speed, err := baudFlag(baud)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	// raw 8N1
	t.Iflag = 0
	t.Oflag = 0
	t.Lflag = 0
	t.Cflag = unix.CS8 | unix.CREAD | unix.CLOCAL | speed
	t.Ispeed = speed
	t.Ospeed = speed
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0

	if err = unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		unix.Close(fd)
		return nil, err
	}

	return &SerialChannel{name: device, fd: fd}, nil
}

func (c *SerialChannel) Exchange(req Frame, timeout time.Duration) (Frame, error) {
	if len(req.Data) > MAX_DATA {
		return Frame{}, ERR_DATA_TOO_LONG
	}
	raw := c.encode(req)

	if _, err := unix.Write(c.fd, raw); err != nil {
		return Frame{}, derrors.TransportError{Channel: c.name, Cause: err}
	}

	deadline := time.Now().Add(timeout)
	buf := make([]byte, 0, serOverhead+MAX_DATA)
	b := make([]byte, 16)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Frame{}, derrors.TimeoutError{Channel: c.name, Elapsed: timeout}
		}

		fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, int(remaining.Milliseconds())+1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return Frame{}, derrors.TransportError{Channel: c.name, Cause: err}
		}
		if n == 0 {
			return Frame{}, derrors.TimeoutError{Channel: c.name, Elapsed: timeout}
		}

		n, err = unix.Read(c.fd, b)
		if err != nil && err != unix.EAGAIN {
			return Frame{}, derrors.TransportError{Channel: c.name, Cause: err}
		}
		buf = append(buf, b[:n]...)

		if resp, ok := c.decode(&buf); ok {
			if resp.ID == req.ID&ADDR_MASK && resp.Cmd == req.Cmd {
				return resp, nil
			}
			// response for a different node, keep listening
		}
	}
}

func (c *SerialChannel) Close() error {
	return unix.Close(c.fd)
}

func (c *SerialChannel) encode(f Frame) []byte {
	raw := make([]byte, 0, serOverhead+len(f.Data))
	raw = append(raw, serSOF1, serSOF2, byte(f.ID), byte(f.Cmd), byte(f.Cmd>>8), byte(len(f.Data)))
	raw = append(raw, f.Data...)

	var sum byte
	for _, v := range raw[2:] {
		sum += v
	}
	return append(raw, sum)
}

// decode pops one complete frame off the front of buf if present,
// discarding noise ahead of the start bytes.
func (c *SerialChannel) decode(buf *[]byte) (f Frame, ok bool) {
	b := *buf
	for len(b) >= 2 && !(b[0] == serSOF1 && b[1] == serSOF2) {
		b = b[1:]
	}
	*buf = b

	if len(b) < serOverhead {
		return
	}

	dlc := int(b[5])
	if dlc > MAX_DATA {
		// corrupt length, resync past this SOF
		*buf = b[2:]
		return
	}
	if len(b) < serOverhead+dlc {
		return
	}

	var sum byte
	for _, v := range b[2 : 6+dlc] {
		sum += v
	}
	if sum != b[6+dlc] {
		*buf = b[2:]
		return
	}

	f.ID = uint32(b[2])
	f.Cmd = uint16(b[3]) | uint16(b[4])<<8
	f.Data = make([]byte, dlc)
	copy(f.Data, b[6:6+dlc])

	*buf = b[serOverhead+dlc:]
	return f, true
}

func baudFlag(baud uint32) (uint32, error) {
	switch baud {
	case 9600:
		return unix.B9600, nil
	case 115200:
		return unix.B115200, nil
	case 921600:
		return unix.B921600, nil
	default:
		return 0, fmt.Errorf("unsupported baud rate %d", baud)
	}
}
