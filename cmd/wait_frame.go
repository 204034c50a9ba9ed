// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	waitFrameTimeout   int
	waitFrameStartCode int
)

var waitFrameCmd = &cobra.Command{
	Use:   "wait_frame",
	Short: "Test a line by waiting for a valid DMX frame",
	Long: `Wait for a valid DMX frame on the line until timeout.

The port is put in input mode and the command waits for the first frame
that was captured with a valid break and mark after break. Frames with
timing violations are counted but do not end the wait.

With --start-code the frame must also carry that start code (0 for
dimmer data, -1 for any).

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error

Useful for checking cabling and controller output in scripts.`,
	RunE: runWaitFrame,
}

func init() {
	rootCmd.AddCommand(waitFrameCmd)
	waitFrameCmd.Flags().IntVar(&waitFrameTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
	waitFrameCmd.Flags().IntVar(&waitFrameStartCode, "start-code", -1, "Required start code (-1 = any)")
}

func runWaitFrame(cmd *cobra.Command, args []string) error {
	b, err := openLine()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer b.Close()

	fmt.Printf("dmxstat - Frame Test\n")
	fmt.Printf("Connection: %s\n", b.Info())
	fmt.Printf("Timeout: %d seconds\n", waitFrameTimeout)
	fmt.Printf("Waiting for valid DMX frame...\n\n")

	if err := b.port.StartInput(); err != nil {
		fmt.Fprintf(os.Stderr, "Input error: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(waitFrameTimeout)*time.Second)
	defer cancel()
	go simulateTraffic(ctx, b)

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			stats := b.port.Statistics()
			fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", waitFrameTimeout)
			if stats.TimingViolations > 0 || stats.Overruns > 0 {
				fmt.Fprintf(os.Stderr, "  (%d timing violations, %d overruns)\n", stats.TimingViolations, stats.Overruns)
			}
			os.Exit(1)

		case <-ticker.C:
			frame, stats, ok := b.port.GetDmxAvailable()
			if !ok {
				continue
			}
			if waitFrameStartCode >= 0 && int(frame.StartCode()) != waitFrameStartCode {
				continue
			}
			fmt.Printf("SUCCESS: Received valid frame\n")
			fmt.Printf("  Start Code: 0x%02X\n", frame.StartCode())
			fmt.Printf("  Slots: %d\n", len(frame.Slots()))
			fmt.Printf("  Updates: %d/s\n", stats.UpdatesPerSecond)
			if stats.TimingViolations > 0 {
				fmt.Printf("  (%d frames with timing violations before it)\n", stats.TimingViolations)
			}
			os.Exit(0)
		}
	}
}
