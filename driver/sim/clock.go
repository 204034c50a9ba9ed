// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sim

import (
	"sync/atomic"
	"time"
)

// Clock is a virtual dmx.Clock. Delay advances it instantly, so simulated
// exchanges run without sleeping and with exact timing.
type Clock struct {
	now   atomic.Int64
	paced time.Duration
}

// NewClock creates a clock at zero.
func NewClock() *Clock {
	return &Clock{}
}

// NewPacedClock creates a clock whose delays of at least min also sleep
// for real, so loops paced by frame periods run at wall-clock speed while
// sub-frame timing stays instant.
func NewPacedClock(min time.Duration) *Clock {
	return &Clock{paced: min}
}

// Now returns the virtual time.
func (c *Clock) Now() time.Duration {
	return time.Duration(c.now.Load())
}

// Delay advances the virtual time by d.
func (c *Clock) Delay(d time.Duration) {
	if d > 0 {
		c.now.Add(int64(d))
		if c.paced > 0 && d >= c.paced {
			time.Sleep(d)
		}
	}
}

// Advance moves the virtual time forward by d without pacing.
func (c *Clock) Advance(d time.Duration) {
	if d > 0 {
		c.now.Add(int64(d))
	}
}
