// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/dmxstat/internal/logger"
	"github.com/Thermoquad/dmxstat/internal/publish"
	"github.com/Thermoquad/dmxstat/pkg/discovery"
	"github.com/Thermoquad/dmxstat/pkg/dmx"
)

var (
	discoverTimeout int
	discoverRepeat  int
	discoverPublish bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover RDM responders on one or more lines",
	Long: `Run RDM discovery and print the table of devices (TOD) of each line.

The first pass is a full discovery: every responder is un-muted, then the
UID space is searched with DISC_UNIQUE_BRANCH, and every UID found is
confirmed with GET DEVICE_INFO and muted.

With --repeat, further passes run every N seconds as incremental
discovery: known devices are re-muted (those that no longer answer are
dropped) and only new devices are searched for.

Several --port lines are discovered in parallel on a pool of --workers
(config key workers) goroutines.

Examples:
  # One line
  dmxstat discover --port /dev/ttyUSB0

  # Two lines, rescan every 30 seconds, publish the TOD to MQTT
  dmxstat discover -p /dev/ttyUSB0 -p /dev/ttyUSB1 --repeat 30 --publish

  # Simulated bus
  dmxstat discover --sim bus.toml

Exit codes:
  0 - Discovery successful (at least one device found)
  1 - Discovery failed (no devices or timeout)
  2 - Connection error`,
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	discoverCmd.Flags().IntVar(&discoverTimeout, "timeout", 60, "Timeout in seconds for each pass")
	discoverCmd.Flags().IntVar(&discoverRepeat, "repeat", 0, "Repeat incremental discovery every N seconds (0 = once)")
	discoverCmd.Flags().BoolVar(&discoverPublish, "publish", false, "Publish each TOD to MQTT")
}

// lineDiscovery is the discovery state of one line across passes.
type lineDiscovery struct {
	line   *busLine
	engine *discovery.Engine
	tod    *discovery.TOD
	err    error
}

func runDiscover(cmd *cobra.Command, args []string) error {
	lines, err := openLines()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer func() {
		for _, b := range lines {
			b.Close()
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var pub *publish.Publisher
	if discoverPublish {
		pub, err = openPublisher(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "MQTT error: %v\n", err)
			os.Exit(2)
		}
		defer pub.Close()
	}

	fmt.Printf("dmxstat - RDM Discovery\n")
	for _, b := range lines {
		fmt.Printf("Connection: %s\n", b.Info())
	}
	fmt.Printf("Timeout: %d seconds per pass\n\n", discoverTimeout)

	states := make([]*lineDiscovery, len(lines))
	for i, b := range lines {
		m, err := newManager(b)
		if err != nil {
			return err
		}
		lineLog := log.With(logger.Fields{"module": "discovery", "port": b.name})
		states[i] = &lineDiscovery{
			line: b,
			engine: discovery.New(m,
				discovery.WithLogger(lineLog),
				discovery.WithTimeout(cfg.DiscoveryTimeout()),
				discovery.WithClock(b.port.Clock().Now),
				discovery.OnDevice(func(d discovery.Device) {
					fmt.Printf("Device found on %s: %s (model 0x%04X, footprint %d)\n",
						b.name, d.UID, d.Info.DeviceModelID, d.Info.DMXFootprint)
				}),
			),
		}
	}

	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return err
	}
	defer pool.Release()

	incremental := false
	for {
		if err := discoverAll(ctx, pool, states, incremental); err != nil {
			return err
		}
		for _, s := range states {
			printDiscovery(s)
			if pub != nil && s.err == nil {
				m := publish.NewTODMessage(s.line.name, s.tod.Devices(), s.engine.Statistics(), time.Now())
				if err := pub.PublishTOD(ctx, m); err != nil {
					log.WithError(err).Warn("TOD not published")
				}
			}
		}

		if discoverRepeat <= 0 {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Duration(discoverRepeat) * time.Second):
		}
		incremental = true
	}

	// Summary
	total := 0
	failed := false
	for _, s := range states {
		if s.err != nil {
			failed = true
			continue
		}
		total += s.tod.Len()
	}
	fmt.Printf("\n--- Discovery summary ---\n")
	fmt.Printf("Devices found: %d\n", total)
	if total == 0 || failed {
		if total == 0 {
			fmt.Printf("No devices discovered. Check termination, wiring and device power.\n")
		}
		os.Exit(1)
	}
	return nil
}

// discoverAll runs one pass on every line, in parallel on the pool.
func discoverAll(ctx context.Context, pool *ants.Pool, states []*lineDiscovery, incremental bool) error {
	var wg sync.WaitGroup
	for _, s := range states {
		s := s
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			s.tod, s.err = discoverLine(ctx, s, incremental)
		})
		if err != nil {
			wg.Done()
			return fmt.Errorf("failed to schedule discovery on %s: %w", s.line.name, err)
		}
	}
	wg.Wait()
	return nil
}

func discoverLine(ctx context.Context, s *lineDiscovery, incremental bool) (*discovery.TOD, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(discoverTimeout)*time.Second)
	defer cancel()

	// Discovery runs with DMX input off; the port is left idle afterwards
	if err := s.line.port.SetDirection(dmx.DirectionIdle, false); err != nil {
		return nil, err
	}
	run := s.engine.Full
	if incremental {
		run = s.engine.Incremental
	}
	tod, err := run(ctx)
	if errors.Is(err, discovery.ErrAborted) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = context.DeadlineExceeded
	}
	return tod, err
}

func printDiscovery(s *lineDiscovery) {
	fmt.Printf("\n[%s]\n", s.line.name)
	if s.err != nil {
		switch {
		case errors.Is(s.err, context.DeadlineExceeded):
			fmt.Printf("TIMEOUT: pass did not finish in %ds\n", discoverTimeout)
		case errors.Is(s.err, context.Canceled), errors.Is(s.err, discovery.ErrAborted):
			fmt.Printf("Aborted\n")
		default:
			fmt.Printf("FAILED: %v\n", s.err)
		}
		if s.tod != nil {
			fmt.Print(s.tod.String())
		}
		return
	}
	fmt.Print(s.tod.String())
	fmt.Print(s.engine.Statistics().String())
}
