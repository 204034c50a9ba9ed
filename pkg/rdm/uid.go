// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rdm

import (
	"fmt"
	"strconv"
	"strings"
)

// UID is a 48-bit RDM unique identifier held in the low bits of a uint64.
// The upper 16 bits of the 48 are the manufacturer ID, the lower 32 the
// device ID. UIDs order as unsigned integers.
type UID uint64

// UIDSize is the wire size of a UID.
const UIDSize = 6

// Special UIDs
const (
	MinUID       UID = 0x000000000000
	MaxUID       UID = 0xFFFFFFFFFFFF
	BroadcastUID UID = 0xFFFFFFFFFFFF // all devices, all manufacturers
	uidMask          = 0xFFFFFFFFFFFF
	deviceIDMask     = 0xFFFFFFFF
)

// NewUID builds a UID from its manufacturer and device parts.
func NewUID(manufacturer uint16, device uint32) UID {
	return UID(uint64(manufacturer)<<32 | uint64(device))
}

// ManufacturerBroadcast returns the UID addressing every device of a manufacturer.
func ManufacturerBroadcast(manufacturer uint16) UID {
	return NewUID(manufacturer, deviceIDMask)
}

// Manufacturer returns the 16-bit ESTA manufacturer ID.
func (u UID) Manufacturer() uint16 {
	return uint16(u >> 32)
}

// Device returns the 32-bit device ID.
func (u UID) Device() uint32 {
	return uint32(u & deviceIDMask)
}

// Valid reports whether the value fits in 48 bits.
func (u UID) Valid() bool {
	return u&^uidMask == 0
}

// IsBroadcast reports whether u is the all-devices or a manufacturer broadcast address.
func (u UID) IsBroadcast() bool {
	return u.Device() == deviceIDMask
}

// Matches reports whether a message addressed to dest should be accepted by
// a responder with UID u.
func (u UID) Matches(dest UID) bool {
	if dest == u || dest == BroadcastUID {
		return true
	}
	return dest.IsBroadcast() && dest.Manufacturer() == u.Manufacturer()
}

// String formats the UID as MMMM:DDDDDDDD.
func (u UID) String() string {
	return fmt.Sprintf("%04X:%08X", u.Manufacturer(), u.Device())
}

// PutUID writes u big-endian into the first six bytes of b.
func PutUID(b []byte, u UID) {
	_ = b[5]
	b[0] = byte(u >> 40)
	b[1] = byte(u >> 32)
	b[2] = byte(u >> 24)
	b[3] = byte(u >> 16)
	b[4] = byte(u >> 8)
	b[5] = byte(u)
}

// ReadUID reads a big-endian UID from the first six bytes of b.
func ReadUID(b []byte) UID {
	_ = b[5]
	return UID(uint64(b[0])<<40 | uint64(b[1])<<32 | uint64(b[2])<<24 |
		uint64(b[3])<<16 | uint64(b[4])<<8 | uint64(b[5]))
}

// ParseUID parses "MMMM:DDDDDDDD" or a plain hexadecimal 48-bit value.
func ParseUID(s string) (UID, error) {
	s = strings.TrimSpace(s)
	if manu, dev, ok := strings.Cut(s, ":"); ok {
		m, err := strconv.ParseUint(manu, 16, 16)
		if err != nil {
			return 0, fmt.Errorf("invalid manufacturer id %q: %w", manu, err)
		}
		d, err := strconv.ParseUint(dev, 16, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid device id %q: %w", dev, err)
		}
		return NewUID(uint16(m), uint32(d)), nil
	}

	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid uid %q: %w", s, err)
	}
	if v > uidMask {
		return 0, fmt.Errorf("invalid uid %q: exceeds 48 bits", s)
	}
	return UID(v), nil
}
