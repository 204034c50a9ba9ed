// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/dmxstat/pkg/dmx"
	"github.com/Thermoquad/dmxstat/pkg/rdm"
)

var (
	sniffAllFrames bool
	sniffSlots     int
	sniffReplay    string
)

var sniffCmd = &cobra.Command{
	Use:   "sniff",
	Short: "Display captured DMX frames and RDM packets",
	Long: `Continuously capture and display DMX frames and RDM traffic as it arrives.

DMX frames are shown when their contents change (or every frame with
--all), with the start code, slot count and the first --slots slot values.
RDM packets and discovery replies are decoded and shown with parameter
names and decoded parameter data.

With --replay, a raw byte capture file is decoded with the RDM stream
decoder instead of opening a port.`,
	RunE: runSniff,
}

func init() {
	rootCmd.AddCommand(sniffCmd)
	sniffCmd.Flags().BoolVar(&sniffAllFrames, "all", false, "Show every DMX frame, not just changes")
	sniffCmd.Flags().IntVar(&sniffSlots, "slots", 16, "Number of slot values to show per frame")
	sniffCmd.Flags().StringVar(&sniffReplay, "replay", "", "Decode RDM packets from a raw capture file")
}

// capture is a decoded RDM buffer: a command, a discovery reply UID or an
// error.
type capture struct {
	command *rdm.Command
	uid     rdm.UID
	dub     bool
	err     error
}

func decodeCapture(data []byte) capture {
	if len(data) > 0 && data[0] == rdm.StartCode {
		c, err := rdm.Decode(data)
		return capture{command: c, err: err}
	}
	uid, err := rdm.DecodeDUBReply(data)
	return capture{uid: uid, dub: true, err: err}
}

func formatFrame(f *dmx.Frame, n int) string {
	return "[DMX] " + formatSlots(f.StartCode(), f.Slots(), n) + "\n"
}

// formatSlots prints the start code, slot count and the first n slots.
func formatSlots(startCode byte, slots []byte, n int) string {
	shown := slots
	if len(shown) > n {
		shown = shown[:n]
	}
	result := fmt.Sprintf("sc=0x%02X slots=%d  % X", startCode, len(slots), shown)
	if len(slots) > len(shown) {
		result += " ..."
	}
	return result
}

func runSniff(cmd *cobra.Command, args []string) error {
	if sniffReplay != "" {
		return replayCapture(sniffReplay)
	}

	b, err := openLine()
	if err != nil {
		return err
	}
	defer b.Close()

	fmt.Printf("dmxstat - Sniffer\n")
	fmt.Printf("Connection: %s\n", b.Info())
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := b.port.StartInput(); err != nil {
		return err
	}
	go simulateTraffic(ctx, b)

	var last []byte
	poll := time.NewTicker(time.Millisecond)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			fmt.Print(b.port.Statistics().String())
			return nil
		case <-poll.C:
		}

		if f, _, ok := b.port.GetDmxAvailable(); ok {
			if sniffAllFrames || !bytes.Equal(f.Bytes(), last) {
				last = append(last[:0], f.Bytes()...)
				fmt.Print(formatFrame(f, sniffSlots))
			}
		}

		for {
			data, ok := b.port.RdmReceive()
			if !ok {
				break
			}
			printCapture(decodeCapture(data), data)
		}
	}
}

func printCapture(c capture, raw []byte) {
	timestamp := time.Now().Format("15:04:05.000")
	switch {
	case c.err != nil:
		fmt.Printf("[%s] [ERROR] %v\n  raw: %s\n", timestamp, c.err, rdm.FormatHex(raw))
	case c.dub:
		fmt.Printf("[%s] [DUB] reply from %s\n", timestamp, c.uid)
	default:
		fmt.Printf("[%s] [RDM] %s", timestamp, rdm.FormatCommand(c.command))
		for _, v := range rdm.ValidateCommand(c.command) {
			fmt.Printf("  ! %s: %s\n", v.Type, v.Message)
		}
	}
}

func replayCapture(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	fmt.Printf("dmxstat - Replay\n")
	fmt.Printf("File: %s (%d bytes)\n\n", path, len(data))

	decoder := rdm.NewDecoder()
	stats := rdm.NewStatistics()
	for _, v := range data {
		c, err := decoder.DecodeByte(v)
		if err != nil {
			stats.Update(nil, err, nil)
			printCapture(capture{err: err}, decoder.GetRawBytes())
			continue
		}
		if c != nil {
			issues := rdm.ValidateCommand(c)
			stats.Update(c, nil, issues)
			printCapture(capture{command: c}, nil)
		}
	}
	fmt.Println()
	fmt.Print(stats.String())
	return nil
}
