// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rdm

import "errors"

var (
	ErrLength        = errors.New("rdm: invalid message length")
	ErrChecksum      = errors.New("rdm: checksum mismatch")
	ErrStartCode     = errors.New("rdm: invalid start code")
	ErrParameterData = errors.New("rdm: parameter data too large")
	ErrDUBPreamble   = errors.New("rdm: malformed discovery preamble")
	ErrDUBEncoding   = errors.New("rdm: malformed discovery uid encoding")
)
