// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dmx

import "errors"

var (
	ErrHardwareInit   = errors.New("dmx: hardware initialization failed")
	ErrPortFailed     = errors.New("dmx: port failed initialization")
	ErrInvalidTiming  = errors.New("dmx: invalid timing parameter")
	ErrInvalidSlot    = errors.New("dmx: slot number out of range")
	ErrWrongDirection = errors.New("dmx: port is not in the required direction")
	ErrOutputRunning  = errors.New("dmx: output already running")
)
