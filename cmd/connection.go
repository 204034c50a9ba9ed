// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/Thermoquad/dmxstat/driver/sim"
	"github.com/Thermoquad/dmxstat/driver/uart"
	"github.com/Thermoquad/dmxstat/internal/logger"
	"github.com/Thermoquad/dmxstat/internal/publish"
	"github.com/Thermoquad/dmxstat/pkg/dmx"
	"github.com/Thermoquad/dmxstat/pkg/rdm"
	"github.com/Thermoquad/dmxstat/pkg/responder"
	"github.com/Thermoquad/dmxstat/pkg/transaction"
)

// busLine is an opened port together with what sits behind it.
type busLine struct {
	name       string
	port       *dmx.Port
	sim        *sim.Line // nil for a serial adapter
	responders []*responder.Responder
}

// Close releases the port and stops simulated responders.
func (b *busLine) Close() error {
	err := b.port.Close()
	for _, r := range b.responders {
		r.Stop()
	}
	return err
}

// Info describes the line for headers.
func (b *busLine) Info() string {
	if b.sim != nil {
		return fmt.Sprintf("Simulated: %s (%d responders)", b.name, len(b.responders))
	}
	return fmt.Sprintf("Serial: %s @ %d baud 8N2", b.name, dmx.BaudRate)
}

func portOptions() ([]dmx.Option, error) {
	timing, err := cfg.Timing()
	if err != nil {
		return nil, err
	}
	return []dmx.Option{
		dmx.WithTiming(timing),
		dmx.WithGuardDelay(cfg.GuardDelay()),
	}, nil
}

// openLines opens every configured port, or the simulated bus. Port IDs
// start at 1.
func openLines() ([]*busLine, error) {
	if cfg.Sim != "" {
		b, err := openSimLine(cfg.Sim, 1)
		if err != nil {
			return nil, err
		}
		return []*busLine{b}, nil
	}

	names := cfg.PortNames()
	if len(names) == 0 {
		return nil, errors.New("either --port or --sim must be specified")
	}
	var lines []*busLine
	for i, name := range names {
		b, err := openSerialLine(name, i+1)
		if err != nil {
			for _, l := range lines {
				l.Close()
			}
			return nil, err
		}
		lines = append(lines, b)
	}
	return lines, nil
}

// openLine opens the first configured line.
func openLine() (*busLine, error) {
	lines, err := openLines()
	if err != nil {
		return nil, err
	}
	for _, l := range lines[1:] {
		l.Close()
	}
	return lines[0], nil
}

func openSerialLine(name string, id int) (*busLine, error) {
	opts, err := portOptions()
	if err != nil {
		return nil, err
	}
	line := uart.New(name)
	if err := line.Open(); err != nil {
		return nil, err
	}
	return &busLine{
		name: name,
		port: dmx.NewPort(id, line, dmx.NewSystemClock(), opts...),
	}, nil
}

func openSimLine(path string, id int) (*busLine, error) {
	opts, err := portOptions()
	if err != nil {
		return nil, err
	}
	fixture, err := sim.LoadFixture(path)
	if err != nil {
		return nil, err
	}
	clock := sim.NewPacedClock(time.Millisecond)
	line, responders, err := sim.NewBus(fixture, clock)
	if err != nil {
		return nil, err
	}
	for _, r := range responders {
		r.Start()
	}
	log.With(logger.Fields{"fixture": path, "responders": len(responders)}).Debug("simulated bus ready")
	return &busLine{
		name:       path,
		port:       dmx.NewPort(id, line, clock, opts...),
		sim:        line,
		responders: responders,
	}, nil
}

// newManager creates an RDM transaction manager for a line.
func newManager(b *busLine) (*transaction.Manager, error) {
	uid, err := cfg.ControllerUID()
	if err != nil {
		return nil, err
	}
	return transaction.New(b.port, uid,
		transaction.WithLogger(log.With(logger.Fields{"module": "rdm", "port": b.name})),
		transaction.WithResponseTimeout(cfg.ResponseTimeout()),
		transaction.WithDiscoveryTimeout(cfg.DiscoveryTimeout()),
	), nil
}

// simulateTraffic plays DMX frames into a simulated line at the configured
// refresh rate, with an RDM request every second, until ctx is done. It
// stands in for a controller upstream of the analyzer.
func simulateTraffic(ctx context.Context, b *busLine) {
	if b.sim == nil {
		return
	}
	timing := b.port.Timing()
	frame := make([]byte, 1+timing.Slots)
	ticker := time.NewTicker(timing.Period)
	defer ticker.Stop()

	controller := rdm.NewUID(0x7FF0, 0xFFFFFF00)
	clock := b.sim.Clock()
	start, base := time.Now(), clock.Now()
	var n uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		// Keep virtual time in step with the wall clock between frames
		if lag := time.Since(start) - (clock.Now() - base); lag > 0 {
			clock.Advance(lag)
		}
		n++
		for i := 1; i < len(frame); i++ {
			frame[i] = byte(uint64(i) + n)
		}
		b.sim.InjectFrame(timing.Break, timing.MAB, frame)

		if len(b.responders) > 0 && n%uint64(timing.RefreshRate()+1) == 0 {
			r := b.responders[int(n)%len(b.responders)]
			req := rdm.NewGet(r.UID(), rdm.RootDevice, rdm.PIDDeviceInfo, nil)
			req.Source = controller
			req.TransactionNumber = uint8(n)
			if pkt, err := rdm.Encode(req); err == nil {
				b.sim.InjectFrame(dmx.DefaultBreak, dmx.DefaultMAB, pkt)
			}
		}
	}
}

func stderrIsTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// getMQTTPassword retrieves the broker password from config, environment
// or an interactive prompt.
func getMQTTPassword() (string, error) {
	if cfg.MQTT.Password != "" {
		return cfg.MQTT.Password, nil
	}
	if pw := os.Getenv("DMXSTAT_MQTT_PASSWORD"); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "MQTT password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// openPublisher connects to the configured MQTT broker.
func openPublisher(ctx context.Context) (*publish.Publisher, error) {
	if cfg.MQTT.Broker == "" {
		return nil, errors.New("--publish needs mqtt.broker (DMXSTAT_MQTT_BROKER)")
	}
	password := ""
	if cfg.MQTT.Username != "" {
		var err error
		password, err = getMQTTPassword()
		if err != nil {
			return nil, err
		}
	}
	p := publish.New(log, publish.Config{
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID,
		Username:    cfg.MQTT.Username,
		Password:    password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		QoS:         byte(cfg.MQTT.QoS),
	})

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := p.Connect(connectCtx); err != nil {
		return nil, err
	}
	return p, nil
}
