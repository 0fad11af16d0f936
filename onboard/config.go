package onboard

import (
	"fmt"
	"io/ioutil"
	"time"

	"github.com/kbotics/kbot/onboard/hardware"
	"github.com/kbotics/kbot/onboard/power"
	"gopkg.in/yaml.v2"
)

const (
	DEFAULT_TICK_INTERVAL   = 10 * time.Millisecond
	DEFAULT_CHANNEL_TIMEOUT = 7 * time.Millisecond
	DEFAULT_IMU_INTERVAL    = 10 * time.Millisecond
	DEFAULT_POWER_INTERVAL  = time.Second
)

type ChannelConfig struct {
	Interface string `yaml:"interface"` // "can" or "serial"
	Device    string `yaml:"device"`
	Baud      uint32 `yaml:"baud"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

func (c ChannelConfig) Timeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return DEFAULT_CHANNEL_TIMEOUT
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

type ActuatorConfig struct {
	Channel     string
	Addr        uint32
	Kind        string
	Range       [2]float64 // position limits, units fixed per kind
	MaxVelocity float64
	MaxTorque   float64
}

type yamlActuator struct {
	Channel     string    `yaml:"channel"`
	Addr        uint32    `yaml:"addr"`
	Kind        string    `yaml:"kind"`
	Range       []float64 `yaml:"range,flow"`
	MaxVelocity float64   `yaml:"max_velocity"`
	MaxTorque   float64   `yaml:"max_torque"`
}

func (ac ActuatorConfig) MarshalYAML() (interface{}, error) {
	return &yamlActuator{
		Channel:     ac.Channel,
		Addr:        ac.Addr,
		Kind:        ac.Kind,
		Range:       []float64{ac.Range[0], ac.Range[1]},
		MaxVelocity: ac.MaxVelocity,
		MaxTorque:   ac.MaxTorque,
	}, nil
}

func (ac *ActuatorConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var ya yamlActuator
	if err := unmarshal(&ya); err != nil {
		return err
	}
	if len(ya.Range) != 2 {
		return fmt.Errorf("actuator range must be [min, max], got %v", ya.Range)
	}
	if ya.Range[0] >= ya.Range[1] {
		return fmt.Errorf("actuator range min %g not below max %g", ya.Range[0], ya.Range[1])
	}

	ac.Channel = ya.Channel
	ac.Addr = ya.Addr
	ac.Kind = ya.Kind
	ac.Range = [2]float64{ya.Range[0], ya.Range[1]}
	ac.MaxVelocity = ya.MaxVelocity
	ac.MaxTorque = ya.MaxTorque
	return nil
}

func (ac ActuatorConfig) Limits() hardware.Limits {
	return hardware.Limits{
		MinPosition: ac.Range[0],
		MaxPosition: ac.Range[1],
		MaxVelocity: ac.MaxVelocity,
		MaxTorque:   ac.MaxTorque,
	}
}

type IMUConfig struct {
	Backend    string `yaml:"backend"`
	Channel    string `yaml:"channel"`
	Addr       uint32 `yaml:"addr"`
	IntervalMS int    `yaml:"interval_ms"`
}

func (c IMUConfig) Interval() time.Duration {
	if c.IntervalMS <= 0 {
		return DEFAULT_IMU_INTERVAL
	}
	return time.Duration(c.IntervalMS) * time.Millisecond
}

type PowerConfig struct {
	Channel        string  `yaml:"channel"`
	Addr           uint32  `yaml:"addr"`
	MinVoltage     float64 `yaml:"min_voltage"`
	MaxTemperature float64 `yaml:"max_temperature"`
	IntervalMS     int     `yaml:"interval_ms"`
}

func (c PowerConfig) Interval() time.Duration {
	if c.IntervalMS <= 0 {
		return DEFAULT_POWER_INTERVAL
	}
	return time.Duration(c.IntervalMS) * time.Millisecond
}

func (c PowerConfig) Thresholds() power.Thresholds {
	return power.Thresholds{
		MinVoltage:     c.MinVoltage,
		MaxTemperature: c.MaxTemperature,
	}
}

type KBotConfig struct {
	Version          int                      `yaml:"version"`
	TickMS           int                      `yaml:"tick_ms"`
	FailureThreshold int                      `yaml:"failure_threshold"`
	Channels         map[string]ChannelConfig `yaml:"channels"`
	Actuators        map[int]ActuatorConfig   `yaml:"actuators"`
	IMU              IMUConfig                `yaml:"imu"`
	Power            PowerConfig              `yaml:"power"`
}

func (c KBotConfig) TickInterval() time.Duration {
	if c.TickMS <= 0 {
		return DEFAULT_TICK_INTERVAL
	}
	return time.Duration(c.TickMS) * time.Millisecond
}

// Validate does the cross-referencing the yaml layer can't: every device
// must sit on a configured channel.
func (c *KBotConfig) Validate() error {
	for id, ac := range c.Actuators {
		if _, ok := c.Channels[ac.Channel]; !ok {
			return fmt.Errorf("actuator %d references unknown channel %q", id, ac.Channel)
		}
		if _, err := hardware.DriverFor(ac.Kind); err != nil {
			return fmt.Errorf("actuator %d: %w", id, err)
		}
	}
	if c.IMU.Backend != "" {
		if _, ok := c.Channels[c.IMU.Channel]; !ok {
			return fmt.Errorf("imu references unknown channel %q", c.IMU.Channel)
		}
	}
	if c.Power.Channel != "" {
		if _, ok := c.Channels[c.Power.Channel]; !ok {
			return fmt.Errorf("power board references unknown channel %q", c.Power.Channel)
		}
	}
	return nil
}

func ReadConfig(path string) (*KBotConfig, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read config file: %w", err)
	}

	var config KBotConfig
	if err := yaml.Unmarshal(raw, &config); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}
