// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Thermoquad/dmxstat/internal/config"
	"github.com/Thermoquad/dmxstat/internal/logger"
)

var (
	configFile string

	v   *viper.Viper
	cfg *config.Config
	log *logger.Log
)

var rootCmd = &cobra.Command{
	Use:   "dmxstat",
	Short: "DMX512 / RDM port controller and analyzer",
	Long: `dmxstat - A CLI tool for driving and analyzing DMX512 lines with RDM.

Transmits DMX frames, captures and checks incoming frames and RDM traffic,
discovers RDM responders and reads or writes their parameters.

Line selection:
  Serial:    --port /dev/ttyUSB0 (repeat --port for several lines)
  Simulated: --sim bus.toml (a TOML bus fixture with virtual responders)

Settings are read from flags, then DMXSTAT_* environment variables (for
example DMXSTAT_LOG_LEVEL or DMXSTAT_DMX_REFRESH_RATE), then the file given
with --config, then built-in defaults.

The MQTT password is read from the DMXSTAT_MQTT_PASSWORD environment
variable, or prompted interactively if not set.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Config file (TOML or YAML)")
	pf.StringArrayP("port", "p", nil, "Serial port device (repeatable)")
	pf.String("sim", "", "Simulated bus fixture (TOML)")
	pf.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	pf.String("uid", "", "Controller UID (MMMM:DDDDDDDD)")
	pf.Int("refresh-rate", 0, "DMX refresh rate in Hz (1-44)")
	pf.Int("slots", 0, "DMX slots per frame (24-512)")
	pf.Int("break-units", 0, "Break length in 10.67µs units (9-127)")
	pf.Int("mab-units", 0, "Mark after break in 10.67µs units (1-127)")
}

// flagKeys maps persistent flag names to config keys.
var flagKeys = map[string]string{
	"port":         "ports",
	"sim":          "sim",
	"log-level":    "log.level",
	"uid":          "rdm.uid",
	"refresh-rate": "dmx.refresh_rate",
	"slots":        "dmx.slots",
	"break-units":  "dmx.break_units",
	"mab-units":    "dmx.mab_units",
}

func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	v, err = config.New(nil)
	if err != nil {
		return err
	}
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("failed to bind --%s: %w", name, err)
			}
		}
	}

	cfg, err = config.Load(v, configFile)
	if err != nil {
		return err
	}
	log, err = logger.New(logger.Config{Level: cfg.Log.Level, Color: stderrIsTerminal()})
	if err != nil {
		return err
	}
	log.WithField("ports", cfg.PortNames()).Debug("configuration loaded")
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
