// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dmx

import (
	"fmt"
	"time"
)

// Timing holds the transmit parameters of a port. A port reads it once at
// the start of each output cycle, so changes never apply mid-frame.
type Timing struct {
	Break  time.Duration // line low
	MAB    time.Duration // mark after break
	Period time.Duration // minimum start-to-start frame time
	Slots  int           // data slots sent after the start code
}

// DefaultTiming returns 176µs break, 12µs MAB, 40Hz and 512 slots.
func DefaultTiming() Timing {
	return Timing{
		Break:  DefaultBreak,
		MAB:    DefaultMAB,
		Period: time.Second / DefaultRefreshRate,
		Slots:  MaxSlots,
	}
}

// Validate checks every field against the transmit limits.
func (t Timing) Validate() error {
	if t.Break < MinBreakTime || t.Break > MaxBreakTime {
		return fmt.Errorf("%w: break %v (valid %v-%v)", ErrInvalidTiming, t.Break, MinBreakTime, MaxBreakTime)
	}
	if t.MAB < MinMABUnits*TimingUnit || t.MAB > MaxMABTime {
		return fmt.Errorf("%w: mark after break %v (valid %v-%v)", ErrInvalidTiming, t.MAB, MinMABUnits*TimingUnit, MaxMABTime)
	}
	if t.Period < time.Second/MaxRefreshRate || t.Period > time.Second {
		return fmt.Errorf("%w: period %v (refresh rate 1-%d Hz)", ErrInvalidTiming, t.Period, MaxRefreshRate)
	}
	if t.Slots < MinSlots || t.Slots > MaxSlots {
		return fmt.Errorf("%w: slot count %d (valid %d-%d)", ErrInvalidTiming, t.Slots, MinSlots, MaxSlots)
	}
	return nil
}

// RefreshRate returns the frame rate implied by Period, rounded down.
func (t Timing) RefreshRate() int {
	if t.Period <= 0 {
		return 0
	}
	return int(time.Second / t.Period)
}

// FrameTime returns how long one frame occupies the line.
func (t Timing) FrameTime() time.Duration {
	return t.Break + t.MAB + time.Duration(1+t.Slots)*SlotTime
}

// String formats the timing for logs.
func (t Timing) String() string {
	return fmt.Sprintf("break=%v (%d units) mab=%v (%d units) rate=%dHz slots=%d",
		t.Break, DurationToUnits(t.Break), t.MAB, DurationToUnits(t.MAB), t.RefreshRate(), t.Slots)
}

// UnitsToDuration converts a count of 10.67µs units to a duration.
func UnitsToDuration(units int) time.Duration {
	return time.Duration(units) * TimingUnit
}

// DurationToUnits converts a duration to the nearest count of 10.67µs units.
func DurationToUnits(d time.Duration) int {
	return int((d + TimingUnit/2) / TimingUnit)
}
