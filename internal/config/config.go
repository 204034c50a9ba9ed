// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads dmxstat settings. Values are layered as command
// line flags over DMXSTAT_* environment variables over an optional config
// file over built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Thermoquad/dmxstat/pkg/dmx"
	"github.com/Thermoquad/dmxstat/pkg/rdm"
)

// EnvPrefix is prepended to environment variable names, e.g.
// DMXSTAT_LOG_LEVEL for log.level.
const EnvPrefix = "DMXSTAT"

// Config is the complete dmxstat configuration.
type Config struct {
	Port    string       `mapstructure:"port"`
	Ports   []string     `mapstructure:"ports"`
	Sim     string       `mapstructure:"sim"`
	Workers int          `mapstructure:"workers"`
	Log     LogConfig    `mapstructure:"log"`
	DMX     DMXConfig    `mapstructure:"dmx"`
	RDM     RDMConfig    `mapstructure:"rdm"`
	MQTT    MQTTConfig   `mapstructure:"mqtt"`
	Stream  StreamConfig `mapstructure:"stream"`
}

// LogConfig selects the log level.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DMXConfig holds the transmit timing. A non-zero unit count takes
// precedence over the matching microsecond value.
type DMXConfig struct {
	BreakUnits   int `mapstructure:"break_units"`
	BreakUS      int `mapstructure:"break_us"`
	MABUnits     int `mapstructure:"mab_units"`
	MABUS        int `mapstructure:"mab_us"`
	RefreshRate  int `mapstructure:"refresh_rate"`
	Slots        int `mapstructure:"slots"`
	GuardDelayUS int `mapstructure:"guard_delay_us"`
}

// RDMConfig holds the controller identity and reply windows.
type RDMConfig struct {
	UID                string `mapstructure:"uid"`
	ResponseTimeoutUS  int    `mapstructure:"response_timeout_us"`
	DiscoveryTimeoutUS int    `mapstructure:"discovery_timeout_us"`
}

// MQTTConfig configures the statistics publisher. An empty broker disables
// publishing.
type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         int    `mapstructure:"qos"`
}

// StreamConfig configures the websocket snapshot server.
type StreamConfig struct {
	Listen string `mapstructure:"listen"`
	Rate   int    `mapstructure:"rate"`
}

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", "")
	v.SetDefault("ports", []string{})
	v.SetDefault("sim", "")
	v.SetDefault("workers", 4)
	v.SetDefault("log.level", "info")

	v.SetDefault("dmx.break_units", 0)
	v.SetDefault("dmx.break_us", int(dmx.DefaultBreak/time.Microsecond))
	v.SetDefault("dmx.mab_units", 0)
	v.SetDefault("dmx.mab_us", int(dmx.DefaultMAB/time.Microsecond))
	v.SetDefault("dmx.refresh_rate", dmx.DefaultRefreshRate)
	v.SetDefault("dmx.slots", dmx.MaxSlots)
	v.SetDefault("dmx.guard_delay_us", int(dmx.DefaultGuardDelay/time.Microsecond))

	v.SetDefault("rdm.uid", "7FF0:00000001")
	v.SetDefault("rdm.response_timeout_us", int(rdm.ResponseTimeout/time.Microsecond))
	v.SetDefault("rdm.discovery_timeout_us", int(rdm.DiscoveryTimeout/time.Microsecond))

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", "dmxstat")
	v.SetDefault("mqtt.qos", 0)

	v.SetDefault("stream.listen", ":8081")
	v.SetDefault("stream.rate", 30)
}

// New returns a viper instance with defaults and environment binding set
// up. flags, when non-nil, are bound so that a flag named like a key
// (e.g. "log.level") overrides every other layer.
func New(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}
	return v, nil
}

// Load reads the config file, if any, and decodes v into a Config. A
// missing file named explicitly is an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that can be checked without opening a port.
func (c *Config) Validate() error {
	if _, err := c.Timing(); err != nil {
		return err
	}
	if _, err := c.ControllerUID(); err != nil {
		return err
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.Stream.Rate < 1 {
		return fmt.Errorf("stream.rate must be at least 1, got %d", c.Stream.Rate)
	}
	return nil
}

// PortNames returns port followed by ports, without duplicates.
func (c *Config) PortNames() []string {
	var names []string
	seen := make(map[string]bool)
	for _, n := range append([]string{c.Port}, c.Ports...) {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		names = append(names, n)
	}
	return names
}

// Timing returns the validated transmit timing.
func (c *Config) Timing() (dmx.Timing, error) {
	t := dmx.DefaultTiming()

	if c.DMX.BreakUnits != 0 {
		if c.DMX.BreakUnits < dmx.MinBreakUnits || c.DMX.BreakUnits > dmx.MaxBreakUnits {
			return t, fmt.Errorf("%w: dmx.break_units %d (valid %d-%d)",
				dmx.ErrInvalidTiming, c.DMX.BreakUnits, dmx.MinBreakUnits, dmx.MaxBreakUnits)
		}
		t.Break = dmx.UnitsToDuration(c.DMX.BreakUnits)
	} else {
		t.Break = time.Duration(c.DMX.BreakUS) * time.Microsecond
	}

	if c.DMX.MABUnits != 0 {
		if c.DMX.MABUnits < dmx.MinMABUnits || c.DMX.MABUnits > dmx.MaxMABUnits {
			return t, fmt.Errorf("%w: dmx.mab_units %d (valid %d-%d)",
				dmx.ErrInvalidTiming, c.DMX.MABUnits, dmx.MinMABUnits, dmx.MaxMABUnits)
		}
		t.MAB = dmx.UnitsToDuration(c.DMX.MABUnits)
	} else {
		if c.DMX.MABUS < int(dmx.MinMABTime/time.Microsecond) {
			return t, fmt.Errorf("%w: dmx.mab_us %d (minimum %v)", dmx.ErrInvalidTiming, c.DMX.MABUS, dmx.MinMABTime)
		}
		t.MAB = time.Duration(c.DMX.MABUS) * time.Microsecond
	}

	if c.DMX.RefreshRate < 1 || c.DMX.RefreshRate > dmx.MaxRefreshRate {
		return t, fmt.Errorf("%w: dmx.refresh_rate %d (valid 1-%d)", dmx.ErrInvalidTiming, c.DMX.RefreshRate, dmx.MaxRefreshRate)
	}
	t.Period = time.Second / time.Duration(c.DMX.RefreshRate)
	t.Slots = c.DMX.Slots

	return t, t.Validate()
}

// GuardDelay returns the delay between enabling the driver and the first
// break.
func (c *Config) GuardDelay() time.Duration {
	return time.Duration(c.DMX.GuardDelayUS) * time.Microsecond
}

// ControllerUID parses rdm.uid.
func (c *Config) ControllerUID() (rdm.UID, error) {
	uid, err := rdm.ParseUID(c.RDM.UID)
	if err != nil {
		return 0, fmt.Errorf("invalid rdm.uid: %w", err)
	}
	if uid.IsBroadcast() || !uid.Valid() {
		return 0, errors.New("invalid rdm.uid: must be a unicast UID")
	}
	return uid, nil
}

// ResponseTimeout returns the RDM reply window.
func (c *Config) ResponseTimeout() time.Duration {
	return time.Duration(c.RDM.ResponseTimeoutUS) * time.Microsecond
}

// DiscoveryTimeout returns the DISC_UNIQUE_BRANCH reply window.
func (c *Config) DiscoveryTimeout() time.Duration {
	return time.Duration(c.RDM.DiscoveryTimeoutUS) * time.Microsecond
}
