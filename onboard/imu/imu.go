package imu

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/kbotics/kbot/onboard/canbus"
)

// Sample is one inertial reading. Immutable once produced; the reader
// retains only the most recent one.
type Sample struct {
	Time       time.Time  `json:"time"`
	Quat       mgl64.Quat `json:"quat"`
	Euler      mgl64.Vec3 `json:"euler"` // roll, pitch, yaw in radians
	Gyro       mgl64.Vec3 `json:"gyro"`  // rad/s
	Accel      mgl64.Vec3 `json:"accel"` // m/s^2
	Calibrated bool       `json:"calibrated"`
	Stale      bool       `json:"stale"`
}

type Reader interface {
	// Latest never blocks; it returns the most recent sample, marked
	// stale if the sensor missed its last poll window.
	Latest() Sample
	Close() error
}

// ERR_CALIBRATION is fatal: the sample sequence stops and the reader must
// be reinitialized.
var ERR_CALIBRATION = errors.New("imu calibration failure")

// backend is the closed set of sensor protocols. Each poll may perform
// several exchanges on the transport; every one is bounded by the mux
// timeout.
type backend interface {
	name() string
	setup(bus canbus.Exchanger, channel string, addr uint32) error
	poll(bus canbus.Exchanger, channel string, addr uint32) (Sample, error)
}

// PolledReader drives a backend at a fixed rate and exposes the latest
// sample without blocking its consumers.
type PolledReader struct {
	bus     canbus.Exchanger
	channel string
	addr    uint32
	be      backend

	mu     sync.RWMutex
	latest Sample
	fatal  bool

	stop chan struct{}
	done chan struct{}
}

// New builds a reader for the configured backend ("hiwonder" or
// "hexmove") and starts its poll loop.
func New(backendName string, bus canbus.Exchanger, channel string, addr uint32, interval time.Duration) (*PolledReader, error) {
	var be backend
	switch backendName {
	case "hiwonder":
		be = hiwonderBackend{}
	case "hexmove":
		be = hexmoveBackend{}
	default:
		return nil, errors.New("unknown imu backend " + backendName)
	}

	if err := be.setup(bus, channel, addr); err != nil {
		return nil, err
	}

	r := &PolledReader{
		bus:     bus,
		channel: channel,
		addr:    addr,
		be:      be,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	go r.run(interval)
	return r, nil
}

func (r *PolledReader) run(interval time.Duration) {
	defer close(r.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
		}

		s, err := r.be.poll(r.bus, r.channel, r.addr)

		r.mu.Lock()
		switch {
		case err == nil:
			r.latest = s
		case errors.Is(err, ERR_CALIBRATION):
			// terminal: keep re-issuing the last sample as stale and
			// uncalibrated until the reader is rebuilt
			r.latest.Calibrated = false
			r.latest.Stale = true
			r.fatal = true
		default:
			// inertial continuity beats strict freshness: keep the
			// previous values, just flag them
			r.latest.Stale = true
		}
		fatal := r.fatal
		r.mu.Unlock()

		if fatal {
			return
		}
	}
}

func (r *PolledReader) Latest() Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest
}

func (r *PolledReader) Close() error {
	select {
	case <-r.done:
	default:
		close(r.stop)
		<-r.done
	}
	return nil
}

// eulerFromQuat converts to intrinsic roll/pitch/yaw.
func eulerFromQuat(q mgl64.Quat) mgl64.Vec3 {
	w, x, y, z := q.W, q.X(), q.Y(), q.Z()

	roll := math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y))

	sinp := 2 * (w*y - z*x)
	var pitch float64
	if math.Abs(sinp) >= 1 {
		pitch = math.Copysign(math.Pi/2, sinp)
	} else {
		pitch = math.Asin(sinp)
	}

	yaw := math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))

	return mgl64.Vec3{roll, pitch, yaw}
}
