// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/dmxstat/pkg/dmx"
)

var (
	outputLevel     int
	outputSet       []string
	outputStartCode int
	outputDuration  int
)

var outputCmd = &cobra.Command{
	Use:   "output",
	Short: "Transmit DMX frames continuously",
	Long: `Transmit DMX512 frames at the configured refresh rate.

All slots start at --level. Individual channels or ranges are set with
--set, which may be repeated:

  dmxstat output --port /dev/ttyUSB0 --level 0 --set 1=255 --set 10-20=128

Frame timing comes from the configuration (break, mark after break,
refresh rate and slot count). The statistics line shows frames sent and
transmit errors once per second.`,
	RunE: runOutput,
}

func init() {
	rootCmd.AddCommand(outputCmd)
	outputCmd.Flags().IntVar(&outputLevel, "level", 0, "Initial level for every slot (0-255)")
	outputCmd.Flags().StringArrayVar(&outputSet, "set", nil, "Channel assignment CH=VALUE or FROM-TO=VALUE (repeatable)")
	outputCmd.Flags().IntVar(&outputStartCode, "start-code", dmx.NullStartCode, "Start code")
	outputCmd.Flags().IntVar(&outputDuration, "duration", 0, "Stop after this many seconds (0 = until Ctrl+C)")
}

// channelAssignment sets channels from..to (1-based, inclusive) to value.
type channelAssignment struct {
	from, to int
	value    byte
}

func parseAssignment(s string) (channelAssignment, error) {
	var a channelAssignment
	channels, value, ok := strings.Cut(s, "=")
	if !ok {
		return a, fmt.Errorf("invalid assignment %q (want CH=VALUE)", s)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(value), 0, 8)
	if err != nil {
		return a, fmt.Errorf("invalid value in %q: %v", s, err)
	}
	a.value = byte(v)

	from, to, isRange := strings.Cut(channels, "-")
	if a.from, err = strconv.Atoi(strings.TrimSpace(from)); err != nil {
		return a, fmt.Errorf("invalid channel in %q: %v", s, err)
	}
	a.to = a.from
	if isRange {
		if a.to, err = strconv.Atoi(strings.TrimSpace(to)); err != nil {
			return a, fmt.Errorf("invalid channel in %q: %v", s, err)
		}
	}
	if a.from < 1 || a.to > dmx.MaxSlots || a.from > a.to {
		return a, fmt.Errorf("channel range %d-%d outside 1-%d", a.from, a.to, dmx.MaxSlots)
	}
	return a, nil
}

func (a channelAssignment) apply(port *dmx.Port) error {
	for ch := a.from; ch <= a.to; ch++ {
		if err := port.SetSlot(ch, a.value); err != nil {
			return err
		}
	}
	return nil
}

func runOutput(cmd *cobra.Command, args []string) error {
	if outputLevel < 0 || outputLevel > 255 {
		return fmt.Errorf("--level must be 0-255")
	}
	if outputStartCode < 0 || outputStartCode > 255 {
		return fmt.Errorf("--start-code must be 0-255")
	}
	var assignments []channelAssignment
	for _, s := range outputSet {
		a, err := parseAssignment(s)
		if err != nil {
			return err
		}
		assignments = append(assignments, a)
	}

	b, err := openLine()
	if err != nil {
		return err
	}
	defer b.Close()
	port := b.port

	slots := make([]byte, dmx.MaxSlots)
	for i := range slots {
		slots[i] = byte(outputLevel)
	}
	port.SetOutput(slots)
	port.SetStartCode(byte(outputStartCode))
	for _, a := range assignments {
		if err := a.apply(port); err != nil {
			return err
		}
	}

	fmt.Printf("dmxstat - DMX Output\n")
	fmt.Printf("Connection: %s\n", b.Info())
	fmt.Printf("Timing: %s\n", port.Timing())
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if outputDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(outputDuration)*time.Second)
		defer cancel()
	}

	if err := port.StartOutput(); err != nil {
		return err
	}
	defer port.StopOutput()
	log.WithField("port", b.name).Info("output started")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s := port.Statistics()
			fmt.Printf("\nSent %d frames (%d errors)\n", s.TxFrames, s.TxErrors)
			return nil
		case <-ticker.C:
			s := port.Statistics()
			fmt.Printf("\rFrames: %8d  Errors: %4d", s.TxFrames, s.TxErrors)
		}
	}
}
