// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/dmxstat/internal/publish"
	"github.com/Thermoquad/dmxstat/pkg/dmx"
	"github.com/Thermoquad/dmxstat/pkg/rdm"
)

var (
	showAll        bool
	statsInterval  int
	useTUI         bool
	monitorFirst   int
	monitorCount   int
	monitorPublish bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Track line errors, frame rate and RDM anomalies",
	Long: `Watch a DMX line and report timing problems, overruns and RDM errors with statistics.

This command receives on the port and detects:
  - Breaks or marks after break shorter than the receive minimum
  - Frames lost because the consumer fell behind (overruns)
  - RDM checksum and length errors, corrupt discovery replies
  - Well-formed but suspicious RDM traffic (length mismatches, NACKs)
  - Loss of signal (no frame within 1.5 frame periods)

By default, only errors are displayed. Use --show-all to display RDM packets too.

The terminal UI shows live levels for a window of channels; it is used
when stdout is a terminal unless --tui=false is given. With --publish,
port statistics are sent to the MQTT broker every --stats-interval seconds.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all RDM packets (not just errors)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
	monitorCmd.Flags().IntVar(&monitorFirst, "first", 1, "First channel shown in the level view")
	monitorCmd.Flags().IntVar(&monitorCount, "channels", 16, "Number of channels shown in the level view")
	monitorCmd.Flags().BoolVar(&monitorPublish, "publish", false, "Publish statistics to MQTT")
}

// lineEvent is a change worth logging between two statistics snapshots.
type lineEvent struct {
	message string
	isError bool
}

// diffStatistics compares two snapshots and describes what happened.
func diffStatistics(prev, cur dmx.Statistics) []lineEvent {
	var events []lineEvent
	if n := cur.TimingViolations - prev.TimingViolations; cur.TimingViolations > prev.TimingViolations {
		events = append(events, lineEvent{fmt.Sprintf("TIMING: %d frame(s) with short break or MAB", n), true})
	}
	if n := cur.Overruns - prev.Overruns; cur.Overruns > prev.Overruns {
		events = append(events, lineEvent{fmt.Sprintf("OVERRUN: %d frame(s) dropped", n), true})
	}
	switch {
	case cur.Active && !prev.Active:
		events = append(events, lineEvent{fmt.Sprintf("Signal acquired (%d slots)", cur.SlotsInLastPacket), false})
	case !cur.Active && prev.Active:
		events = append(events, lineEvent{"SIGNAL LOST: no frame within 1.5 periods", true})
	}
	if cur.Active && prev.Active && prev.SlotsInLastPacket != 0 && cur.SlotsInLastPacket != prev.SlotsInLastPacket {
		events = append(events, lineEvent{fmt.Sprintf("Slot count changed %d -> %d", prev.SlotsInLastPacket, cur.SlotsInLastPacket), false})
	}
	return events
}

// captureEvents turns a decoded RDM capture into log entries and updates
// the traffic statistics.
func captureEvents(c capture, stats *rdm.Statistics, all bool) []lineEvent {
	if c.dub {
		stats.UpdateDUB(c.err)
		if c.err != nil {
			return []lineEvent{{fmt.Sprintf("DUB: %v", c.err), true}}
		}
		if all {
			return []lineEvent{{fmt.Sprintf("DUB reply from %s", c.uid), false}}
		}
		return nil
	}
	if c.err != nil {
		stats.Update(nil, c.err, nil)
		return []lineEvent{{fmt.Sprintf("RDM: %v", c.err), true}}
	}

	issues := rdm.ValidateCommand(c.command)
	stats.Update(c.command, nil, issues)
	name := rdm.ParameterName(c.command.ParameterID)
	var events []lineEvent
	for _, v := range issues {
		events = append(events, lineEvent{fmt.Sprintf("%s %s: %s", rdm.FormatCommandClass(c.command.CommandClass), name, v.Message), v.Type != rdm.AnomalyNack})
	}
	if len(events) == 0 && all {
		events = append(events, lineEvent{fmt.Sprintf("%s %s %s -> %s", rdm.FormatCommandClass(c.command.CommandClass), name, c.command.Source, c.command.Destination), false})
	}
	return events
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if monitorFirst < 1 || monitorFirst > dmx.MaxSlots || monitorCount < 1 {
		return fmt.Errorf("channel window %d+%d outside 1-%d", monitorFirst, monitorCount, dmx.MaxSlots)
	}

	b, err := openLine()
	if err != nil {
		return err
	}
	defer b.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var pub *publish.Publisher
	if monitorPublish {
		pub, err = openPublisher(ctx)
		if err != nil {
			return err
		}
		defer pub.Close()
		go publishStatistics(ctx, pub, b)
	}

	if err := b.port.StartInput(); err != nil {
		return err
	}
	go simulateTraffic(ctx, b)

	if useTUI && stdoutIsTerminal() {
		return runTUIMode(ctx, b)
	}
	return runTextMode(ctx, b)
}

func publishStatistics(ctx context.Context, pub *publish.Publisher, b *busLine) {
	ticker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := publish.NewStatisticsMessage(b.name, b.port.Statistics(), time.Now())
			if err := pub.PublishStatistics(ctx, m); err != nil {
				log.WithError(err).Warn("statistics not published")
			}
		}
	}
}

// pollPort feeds frames, captures and statistics from the port to the
// callbacks until ctx is done. Frames are delivered at most every
// frameEvery; captures as they arrive.
func pollPort(ctx context.Context, port *dmx.Port, frameEvery time.Duration,
	onFrame func(f *dmx.Frame), onCapture func(c capture, raw []byte), onStats func(s dmx.Statistics)) {
	poll := time.NewTicker(time.Millisecond)
	defer poll.Stop()
	var lastFrame, lastStats time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
		}

		now := time.Now()
		if f, _, ok := port.GetDmxAvailable(); ok && now.Sub(lastFrame) >= frameEvery {
			lastFrame = now
			onFrame(f)
		}
		for {
			data, ok := port.RdmReceive()
			if !ok {
				break
			}
			onCapture(decodeCapture(data), data)
		}
		if now.Sub(lastStats) >= 100*time.Millisecond {
			lastStats = now
			onStats(port.Statistics())
		}
	}
}

// runTUIMode runs the monitor in TUI mode
func runTUIMode(ctx context.Context, b *busLine) error {
	m := initialModel(b.Info(), statsInterval, showAll, monitorFirst, monitorCount)
	p := tea.NewProgram(m, tea.WithContext(ctx))

	go pollPort(ctx, b.port, 50*time.Millisecond,
		func(f *dmx.Frame) {
			p.Send(frameMsg{startCode: f.StartCode(), slots: append([]byte(nil), f.Slots()...)})
		},
		func(c capture, _ []byte) {
			p.Send(captureMsg{c})
		},
		func(s dmx.Statistics) {
			p.Send(statsMsg{s})
		})

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// runTextMode runs the monitor in text mode
func runTextMode(ctx context.Context, b *busLine) error {
	fmt.Printf("dmxstat - Line Monitor\n")
	fmt.Printf("Connection: %s\n", b.Info())
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All packets\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	var mu sync.Mutex
	rdmStats := rdm.NewStatistics()
	var prev dmx.Statistics
	printEvents := func(events []lineEvent) {
		timestamp := time.Now().Format("15:04:05.000")
		for _, e := range events {
			if e.isError {
				fmt.Printf("[%s] \033[1;31m%s\033[0m\n", timestamp, e.message)
			} else {
				fmt.Printf("[%s] %s\n", timestamp, e.message)
			}
		}
	}

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-statsTicker.C:
				fmt.Println()
				fmt.Print(b.port.Statistics().String())
				mu.Lock()
				if rdmStats.TotalPackets > 0 {
					fmt.Print(rdmStats.String())
				}
				mu.Unlock()
				fmt.Println()
			}
		}
	}()

	pollPort(ctx, b.port, time.Second,
		func(*dmx.Frame) {},
		func(c capture, _ []byte) {
			mu.Lock()
			events := captureEvents(c, rdmStats, showAll)
			mu.Unlock()
			printEvents(events)
		},
		func(s dmx.Statistics) {
			printEvents(diffStatistics(prev, s))
			prev = s
		})
	return nil
}
