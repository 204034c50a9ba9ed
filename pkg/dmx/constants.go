// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package dmx implements the DMX512 transport for one RS-485 line: the
// timing engine that generates and detects break, mark-after-break and
// slot stream, the half-duplex direction controller, and the slot buffers
// and statistics shared between the receive path and its consumers.
//
// Hardware access goes through the Line and Clock interfaces; see
// driver/uart for a real adapter and driver/sim for a simulated bus.
package dmx

import "time"

// Serial framing
const (
	BaudRate = 250000
	DataBits = 8
	StopBits = 2
	SlotTime = 44 * time.Microsecond // start bit, 8 data bits, 2 stop bits
)

// Frame layout
const (
	FrameSize     = 513 // start code + 512 slots
	MaxSlots      = 512
	MinSlots      = 24
	NullStartCode = 0x00
	RDMStartCode  = 0xCC
)

// TimingUnit is the resolution of break and mark-after-break settings.
const TimingUnit = 10670 * time.Nanosecond

// TimingTolerance is the allowed deviation of a generated break or MAB
// from its configured value.
const TimingTolerance = TimingUnit / 2

// Transmit timing limits
const (
	MinBreakUnits = 9
	MaxBreakUnits = 127
	MinMABUnits   = 1
	MaxMABUnits   = 127

	MinBreakTime = 92 * time.Microsecond
	MaxBreakTime = MaxBreakUnits * TimingUnit
	MinMABTime   = 12 * time.Microsecond
	MaxMABTime   = MaxMABUnits * TimingUnit
)

// Receive timing limits; shorter breaks or MABs are flagged as violations.
const (
	MinRxBreak = 88 * time.Microsecond
	MinRxMAB   = 8 * time.Microsecond
)

// Defaults
const (
	DefaultBreak       = 176 * time.Microsecond
	DefaultMAB         = 12 * time.Microsecond
	DefaultRefreshRate = 40
	MaxRefreshRate     = 44
	DefaultGuardDelay  = 4 * time.Microsecond
)

// rdmPollInterval is how often RdmReceiveTimeout checks the reply buffer.
const rdmPollInterval = 10 * time.Microsecond
