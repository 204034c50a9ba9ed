// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rdm

import "fmt"

// Encoded UID bytes are OR-ed with these masks so a receiver can detect
// bits that were driven by more than one responder.
const (
	dubMaskHigh = 0xAA
	dubMaskLow  = 0x55
)

// EncodeDUBReply builds the discovery response a responder with UID u sends
// to a DISC_UNIQUE_BRANCH request: seven preamble bytes, the separator,
// twelve encoded UID bytes and four encoded checksum bytes.
func EncodeDUBReply(u UID) [DUBReplySize]byte {
	var out [DUBReplySize]byte
	for i := 0; i < DUBMaxPreamble; i++ {
		out[i] = DUBPreambleByte
	}
	out[DUBMaxPreamble] = DUBSeparatorByte

	var raw [UIDSize]byte
	PutUID(raw[:], u)

	euid := out[DUBMaxPreamble+1:]
	for i, b := range raw {
		euid[2*i] = b | dubMaskHigh
		euid[2*i+1] = b | dubMaskLow
	}

	sum := CalculateChecksum(euid[:DUBEncodedUIDSize])
	cs := euid[DUBEncodedUIDSize:]
	cs[0] = byte(sum>>8) | dubMaskHigh
	cs[1] = byte(sum>>8) | dubMaskLow
	cs[2] = byte(sum) | dubMaskHigh
	cs[3] = byte(sum) | dubMaskLow
	return out
}

// DecodeDUBReply extracts the UID from a discovery response.
//
// Responders may shorten the preamble, so zero to seven 0xFE bytes are
// accepted before the 0xAA separator. Every encoded byte must carry its
// mask bits and the checksum over the twelve encoded UID bytes must match;
// a reply produced by colliding responders fails one of those checks.
func DecodeDUBReply(b []byte) (UID, error) {
	i := 0
	for i < len(b) && b[i] == DUBPreambleByte {
		i++
	}
	if i > DUBMaxPreamble {
		return 0, fmt.Errorf("%w: %d preamble bytes (max %d)", ErrDUBPreamble, i, DUBMaxPreamble)
	}
	if i >= len(b) || b[i] != DUBSeparatorByte {
		return 0, fmt.Errorf("%w: separator missing at offset %d", ErrDUBPreamble, i)
	}
	i++

	body := b[i:]
	if len(body) < DUBEncodedUIDSize+DUBChecksumSize {
		return 0, fmt.Errorf("%w: %d bytes after separator (need %d)", ErrLength, len(body), DUBEncodedUIDSize+DUBChecksumSize)
	}
	body = body[:DUBEncodedUIDSize+DUBChecksumSize]

	for j := 0; j < len(body); j += 2 {
		if body[j]&dubMaskHigh != dubMaskHigh || body[j+1]&dubMaskLow != dubMaskLow {
			return 0, fmt.Errorf("%w: mask bits missing at offset %d", ErrDUBEncoding, i+j)
		}
	}

	var raw [UIDSize]byte
	for j := range raw {
		raw[j] = body[2*j] & body[2*j+1]
	}

	cs := body[DUBEncodedUIDSize:]
	received := uint16(cs[0]&cs[1])<<8 | uint16(cs[2]&cs[3])
	calculated := CalculateChecksum(body[:DUBEncodedUIDSize])
	if received != calculated {
		return 0, fmt.Errorf("%w: discovery reply expected 0x%04X, got 0x%04X", ErrChecksum, calculated, received)
	}
	return ReadUID(raw[:]), nil
}

// DUBComplete reports whether b holds a full discovery response, i.e. a
// separator followed by sixteen bytes. It is used by receivers that capture
// discovery replies without a preceding break.
func DUBComplete(b []byte) bool {
	for i, v := range b {
		if v == DUBSeparatorByte {
			return len(b)-i-1 >= DUBEncodedUIDSize+DUBChecksumSize
		}
		if v != DUBPreambleByte {
			return false
		}
	}
	return false
}
