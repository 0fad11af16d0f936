package canbus

import (
	"net"
	"time"

	derrors "github.com/kbotics/kbot/onboard/errors"
	"golang.org/x/sys/unix"
)

// SocketCAN owns one raw CAN socket bound to a named interface (can0...).
// Exchange writes a single frame and waits for the matching response from
// the addressed node, discarding unrelated traffic on the wire.
type SocketCAN struct {
	name string
	fd   int
}

func NewSocketCAN(ifname string) (bus *SocketCAN, err error) {
	iface, err := net.InterfaceByName(ifname)
	if err != nil {
		return
	}

	bus = &SocketCAN{name: ifname}

	bus.fd, err = unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, err
	}

	addr := &unix.SockaddrCAN{Ifindex: iface.Index}
	if err = unix.Bind(bus.fd, addr); err != nil {
		unix.Close(bus.fd)
		return nil, err
	}

	return
}

func (c *SocketCAN) Exchange(req Frame, timeout time.Duration) (Frame, error) {
	raw, err := req.toByteArray()
	if err != nil {
		return Frame{}, err
	}

	deadline := time.Now().Add(timeout)

	if err = c.setReadTimeout(timeout); err != nil {
		return Frame{}, derrors.TransportError{Channel: c.name, Cause: err}
	}

	if _, err = unix.Write(c.fd, raw); err != nil {
		return Frame{}, derrors.TransportError{Channel: c.name, Cause: err}
	}

	buf := make([]byte, FRAME_SIZE)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Frame{}, derrors.TimeoutError{Channel: c.name, Elapsed: timeout}
		}
		if err = c.setReadTimeout(remaining); err != nil {
			return Frame{}, derrors.TransportError{Channel: c.name, Cause: err}
		}

		n, err := unix.Read(c.fd, buf)
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return Frame{}, derrors.TimeoutError{Channel: c.name, Elapsed: timeout}
		}
		if err != nil {
			return Frame{}, derrors.TransportError{Channel: c.name, Cause: err}
		}

		resp, err := frameFromByteArray(buf[:n])
		if err != nil {
			// runt frame, keep listening until the deadline
			continue
		}

		// nodes acknowledge with the originating address and command word
		if resp.ID == req.ID&ADDR_MASK && resp.Cmd == req.Cmd {
			return resp, nil
		}
	}
}

func (c *SocketCAN) Close() error {
	return unix.Close(c.fd)
}

func (c *SocketCAN) setReadTimeout(d time.Duration) error {
	tv := unix.NsecToTimeval(d.Nanoseconds())
	return unix.SetsockoptTimeval(c.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
}
