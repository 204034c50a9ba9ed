// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package uart implements dmx.Line on an RS-485 adapter behind a serial
// port (FTDI and similar USB adapters, or a native UART with a transceiver).
//
// The port runs at 250000 baud 8N2. RTS drives the transceiver's driver
// enable. Breaks are generated with the serial driver's break call and
// received as the single 0x00 byte the tty layer reports for a framing
// error; a read gap marks the start of a new frame. Break and MAB
// durations cannot be measured through a tty, so received frames report
// them as zero.
package uart

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/Thermoquad/dmxstat/pkg/dmx"
)

// DefaultGap is the idle time that separates two received frames.
const DefaultGap = time.Millisecond

// ErrNotOpen is returned when the line is used before Open.
var ErrNotOpen = errors.New("uart: port not open")

// Line is a dmx.Line on a serial port.
type Line struct {
	name  string
	gap   time.Duration
	clock dmx.Clock

	mu     sync.Mutex
	port   serial.Port
	rxStop chan struct{}
	rxDone chan struct{}
}

// Option configures a Line.
type Option func(*Line)

// WithGap sets the read gap that starts a new frame.
func WithGap(d time.Duration) Option {
	return func(l *Line) {
		if d > 0 {
			l.gap = d
		}
	}
}

// WithClock sets the clock used to time the mark after break.
func WithClock(c dmx.Clock) Option {
	return func(l *Line) {
		if c != nil {
			l.clock = c
		}
	}
}

// New creates a line for the serial device name, e.g. /dev/ttyUSB0. The
// device is opened by Open.
func New(name string, opts ...Option) *Line {
	l := &Line{
		name:  name,
		gap:   DefaultGap,
		clock: dmx.NewSystemClock(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the serial device name.
func (l *Line) Name() string {
	return l.name
}

// Ports lists the serial devices present on the system.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}

// Open implements dmx.Line.
func (l *Line) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port != nil {
		return nil
	}

	mode := &serial.Mode{
		BaudRate: dmx.BaudRate,
		DataBits: dmx.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.TwoStopBits,
	}
	port, err := serial.Open(l.name, mode)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", l.name, err)
	}
	if err := port.SetRTS(false); err != nil {
		port.Close()
		return fmt.Errorf("failed to release driver enable on %s: %w", l.name, err)
	}
	l.port = port
	return nil
}

// Close implements dmx.Line.
func (l *Line) Close() error {
	l.StopReceive()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	return err
}

func (l *Line) current() (serial.Port, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return nil, ErrNotOpen
	}
	return l.port, nil
}

// SetDriveEnable implements dmx.Line.
func (l *Line) SetDriveEnable(on bool) error {
	p, err := l.current()
	if err != nil {
		return err
	}
	return p.SetRTS(on)
}

// SendBreak implements dmx.Line.
func (l *Line) SendBreak(d time.Duration) error {
	p, err := l.current()
	if err != nil {
		return err
	}
	return p.Break(d)
}

// SendMark implements dmx.Line. The line idles high after a break, so the
// mark is a timed wait.
func (l *Line) SendMark(d time.Duration) error {
	if _, err := l.current(); err != nil {
		return err
	}
	l.clock.Delay(d)
	return nil
}

// Write implements dmx.Line. It returns once the bytes have left the
// transmitter, so the caller may release drive enable right after.
func (l *Line) Write(b []byte) error {
	p, err := l.current()
	if err != nil {
		return err
	}
	for len(b) > 0 {
		n, err := p.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return p.Drain()
}

// StartReceive implements dmx.Line.
func (l *Line) StartReceive(h dmx.ReceiveHandler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return ErrNotOpen
	}
	if l.rxStop != nil {
		return nil
	}
	if err := l.port.ResetInputBuffer(); err != nil {
		return err
	}
	if err := l.port.SetReadTimeout(l.gap); err != nil {
		return err
	}
	l.rxStop = make(chan struct{})
	l.rxDone = make(chan struct{})
	go l.receive(l.port, h, l.rxStop, l.rxDone)
	return nil
}

// StopReceive implements dmx.Line. It waits for the receive goroutine,
// which notices the stop within one read gap.
func (l *Line) StopReceive() error {
	l.mu.Lock()
	stop, done := l.rxStop, l.rxDone
	l.rxStop, l.rxDone = nil, nil
	l.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}

func (l *Line) receive(p serial.Port, h dmx.ReceiveHandler, stop, done chan struct{}) {
	defer close(done)
	var s splitter
	buf := make([]byte, dmx.FrameSize+1)
	for {
		select {
		case <-stop:
			return
		default:
		}
		n, err := p.Read(buf)
		if err != nil {
			return
		}
		s.feed(h, buf[:n])
	}
}

// splitter turns the tty byte stream into break and byte events. A read
// that returns nothing means the line was idle for a gap. The first byte
// after a gap is a break if it is 0x00; any other byte (a discovery reply
// has no break) is data.
type splitter struct {
	inFrame bool
}

func (s *splitter) feed(h dmx.ReceiveHandler, b []byte) {
	if len(b) == 0 {
		s.inFrame = false
		return
	}
	if !s.inFrame {
		s.inFrame = true
		if b[0] == 0x00 {
			h.HandleBreak(0, 0)
			b = b[1:]
		}
	}
	for _, v := range b {
		h.HandleByte(v)
	}
}
