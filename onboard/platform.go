package onboard

import (
	"fmt"
	"log"
	"sort"

	"github.com/kbotics/kbot/onboard/canbus"
	"github.com/kbotics/kbot/onboard/hardware"
	"github.com/kbotics/kbot/onboard/imu"
	"github.com/kbotics/kbot/onboard/power"
)

// KBot bundles the assembled platform: the transport mux, the actuator
// bank coordinator and the sensor adapters, wired per the device config.
type KBot struct {
	Coordinator *Coordinator
	Mux         *canbus.Mux
	Health      *HealthMonitor
	IMU         imu.Reader
	Power       *power.Board

	store  *CalibrationStore
	config *KBotConfig
}

type channelFactory func(name string, cfg ChannelConfig) (canbus.Channel, error)

// NewKBot builds the platform against real hardware channels.
func NewKBot(config *KBotConfig, store *CalibrationStore) (*KBot, error) {
	return newKBot(config, store, openChannel)
}

// NewSimulatedKBot builds the platform against simulated channels so the
// full stack can run on a bench with no robot attached.
func NewSimulatedKBot(config *KBotConfig, store *CalibrationStore) (*KBot, error) {
	return newKBot(config, store, func(name string, cfg ChannelConfig) (canbus.Channel, error) {
		return NewSimChannel(config, name), nil
	})
}

func newKBot(config *KBotConfig, store *CalibrationStore, open channelFactory) (k *KBot, err error) {
	switch config.Version {
	case 1:
		// fallthrough to assembly below
	default:
		return nil, fmt.Errorf("unable to work with config version %d", config.Version)
	}

	k = &KBot{
		Mux:    canbus.NewMux(),
		Health: NewHealthMonitor(config.FailureThreshold),
		store:  store,
		config: config,
	}

	for name, cc := range config.Channels {
		ch, err := open(name, cc)
		if err != nil {
			return nil, fmt.Errorf("unable to open channel %s: %w", name, err)
		}
		if err = k.Mux.AddChannel(name, ch, cc.Timeout()); err != nil {
			return nil, err
		}
	}

	ids := make([]int, 0, len(config.Actuators))
	for id := range config.Actuators {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	actuators := make([]*hardware.Actuator, 0, len(ids))
	for _, id := range ids {
		ac := config.Actuators[id]

		a, err := hardware.NewActuator(id, ac.Channel, ac.Addr, ac.Kind, ac.Limits(), k.Mux)
		if err != nil {
			return nil, err
		}

		if store != nil {
			offset, err := store.Offset(id)
			if err != nil {
				return nil, err
			}
			a.SetZero(offset)
		}

		// a missing servo is a warning, not a startup failure; the health
		// monitor will classify it once ticks begin
		if err := a.Init(); err != nil {
			log.Printf("configured actuator not found - id: %d, kind: %s: %v", id, ac.Kind, err)
		}

		actuators = append(actuators, a)
	}

	k.Coordinator = NewCoordinator(actuators, k.Health)

	if config.IMU.Backend != "" {
		k.IMU, err = imu.New(config.IMU.Backend, k.Mux, config.IMU.Channel, config.IMU.Addr, config.IMU.Interval())
		if err != nil {
			return nil, fmt.Errorf("unable to initialize imu: %w", err)
		}
		k.Coordinator.AttachIMU(k.IMU)
	}

	if config.Power.Channel != "" {
		k.Power = power.NewBoard(k.Mux, config.Power.Channel, config.Power.Addr,
			config.Power.Thresholds(), k.Health.PowerFault)
		k.Power.Start(config.Power.Interval())
		k.Coordinator.AttachPower(k.Power)
	}

	return k, nil
}

func openChannel(name string, cfg ChannelConfig) (canbus.Channel, error) {
	switch cfg.Interface {
	case "can":
		return canbus.NewSocketCAN(cfg.Device)
	case "serial":
		return canbus.NewSerialChannel(cfg.Device, cfg.Baud)
	default:
		return nil, fmt.Errorf("unknown channel interface %q on %s", cfg.Interface, name)
	}
}

// ZeroActuator records the current position as the actuator's zero and
// persists the offset.
func (k *KBot) ZeroActuator(id int) error {
	a, ok := k.Coordinator.Actuator(id)
	if !ok {
		return fmt.Errorf("no such actuator %d", id)
	}

	offset, err := a.Zero()
	if err != nil {
		return err
	}

	if k.store != nil {
		return k.store.SetOffset(id, offset)
	}
	return nil
}

func (k *KBot) Close() {
	if k.IMU != nil {
		k.IMU.Close()
	}
	if k.Power != nil {
		k.Power.Close()
	}
	k.Mux.Close()
}
