// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dmx

import (
	"runtime"
	"time"
)

// Line is the physical side of one DMX port: a UART behind an RS-485
// transceiver with a drive-enable pin.
type Line interface {
	Open() error
	Close() error

	// SetDriveEnable asserts or releases the transceiver driver.
	SetDriveEnable(on bool) error

	// SendBreak holds the line low for d.
	SendBreak(d time.Duration) error
	// SendMark holds the line idle (high) for d.
	SendMark(d time.Duration) error
	// Write transmits p at 250000 8N2 and returns once it is on the wire.
	Write(p []byte) error

	// StartReceive begins delivering line events to h. Events are delivered
	// from a single goroutine, in arrival order.
	StartReceive(h ReceiveHandler) error
	// StopReceive stops delivery. No handler call is in flight once it returns.
	StopReceive() error
}

// ReceiveHandler consumes receive-side line events. It is the interrupt
// path of a port and must not block.
type ReceiveHandler interface {
	// HandleBreak reports a detected break and the mark that followed it.
	// Zero durations mean the line could not measure them.
	HandleBreak(breakLen, mab time.Duration)
	// HandleByte reports one received byte.
	HandleByte(b byte)
}

// Clock is the microsecond time base of a port.
type Clock interface {
	// Now returns the time elapsed since an arbitrary fixed origin.
	Now() time.Duration
	// Delay blocks for d.
	Delay(d time.Duration)
}

// SystemClock is a Clock backed by the monotonic wall clock. Delays shorter
// than a millisecond busy-wait; longer ones sleep.
type SystemClock struct {
	origin time.Time
}

// NewSystemClock creates a clock whose origin is now.
func NewSystemClock() *SystemClock {
	return &SystemClock{origin: time.Now()}
}

// Now returns the time since the clock was created.
func (c *SystemClock) Now() time.Duration {
	return time.Since(c.origin)
}

// Delay waits for d.
func (c *SystemClock) Delay(d time.Duration) {
	if d <= 0 {
		return
	}
	if d >= time.Millisecond {
		time.Sleep(d)
		return
	}
	deadline := c.Now() + d
	for c.Now() < deadline {
		runtime.Gosched()
	}
}
