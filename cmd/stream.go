// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/dmxstat/internal/stream"
)

var (
	streamListen   string
	streamConnect  string
	streamDuration int
	streamChannels int
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Stream received DMX over WebSocket",
	Long: `Serve the DMX input of a port to WebSocket clients, or watch such a stream.

In server mode the port is put in input mode and every client connecting to
--listen (config key stream.listen) receives a hello message followed by
CBOR snapshots of the port: the last frame, its start code, updates per
second and the receive counters. Snapshots are sent at most stream.rate
times per second and only when something changed.

With --connect the command is a client instead: it prints every snapshot it
receives from a dmxstat stream server.

Examples:
  # Serve /dev/ttyUSB0 on port 9120
  dmxstat stream -p /dev/ttyUSB0 --listen :9120

  # Watch it from another machine for a minute
  dmxstat stream --connect ws://analyzer:9120/ --duration 60

Exit codes:
  0 - Stream ended normally
  1 - Stream failed
  2 - Connection error`,
	RunE: runStream,
}

func init() {
	rootCmd.AddCommand(streamCmd)
	streamCmd.Flags().StringVar(&streamListen, "listen", "", "Listen address (overrides stream.listen)")
	streamCmd.Flags().StringVar(&streamConnect, "connect", "", "Connect to a stream server URL instead of serving")
	streamCmd.Flags().IntVar(&streamDuration, "duration", 0, "Client mode: stop after N seconds (0 = until interrupted)")
	streamCmd.Flags().IntVar(&streamChannels, "channels", 16, "Client mode: channels to print per snapshot")
}

func runStream(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if streamConnect != "" {
		return runStreamClient(ctx)
	}
	return runStreamServer(ctx)
}

func runStreamServer(ctx context.Context) error {
	b, err := openLine()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer b.Close()

	addr := cfg.Stream.Listen
	if streamListen != "" {
		addr = streamListen
	}

	if err := b.port.StartInput(); err != nil {
		return fmt.Errorf("failed to start input on %s: %w", b.name, err)
	}
	go simulateTraffic(ctx, b)

	fmt.Printf("dmxstat - DMX Stream\n")
	fmt.Printf("Connection: %s\n", b.Info())
	fmt.Printf("Listening: %s (%d snapshots/s max)\n", addr, cfg.Stream.Rate)
	fmt.Printf("Press Ctrl+C to stop\n\n")

	srv := stream.NewServer(log.Module("stream"), b.name, stream.NewPortSource(b.port), cfg.Stream.Rate)
	return srv.ListenAndServe(ctx, addr)
}

func runStreamClient(ctx context.Context) error {
	if streamDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(streamDuration)*time.Second)
		defer cancel()
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	c, err := stream.Dial(dialCtx, streamConnect)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer c.Close()

	hello := c.Hello()
	fmt.Printf("Connected: %s\n", streamConnect)
	fmt.Printf("Session: %s\n", hello.Session)
	fmt.Printf("Port: %s (%d snapshots/s max)\n\n", hello.Port, hello.Rate)

	// Next blocks on the socket, so closing it is what ends the read
	go func() {
		<-ctx.Done()
		c.Close()
	}()

	received := 0
	start := time.Now()
	for {
		s, err := c.Next()
		if err != nil {
			fmt.Printf("\n--- Stream Results ---\n")
			fmt.Printf("Duration: %v\n", time.Since(start).Round(time.Second))
			fmt.Printf("Snapshots received: %d\n", received)
			if ctx.Err() != nil {
				fmt.Printf("Result: PASSED\n")
				return nil
			}
			fmt.Printf("Result: FAILED (%v)\n", err)
			os.Exit(1)
		}
		received++
		fmt.Println(formatSnapshot(s, streamChannels))
	}
}

// formatSnapshot renders one snapshot on a single line.
func formatSnapshot(s stream.Snapshot, channels int) string {
	ts := time.Now().Format("15:04:05.000")
	if !s.Active {
		return fmt.Sprintf("[%s] #%d no signal (frames %d, timing violations %d, overruns %d)",
			ts, s.Sequence, s.Frames, s.TimingViolations, s.Overruns)
	}
	return fmt.Sprintf("[%s] #%d %s %d/s", ts, s.Sequence,
		formatSlots(s.StartCode, s.Slots, channels), s.UpdatesPerSecond)
}
