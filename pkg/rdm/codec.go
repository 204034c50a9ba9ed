// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rdm

import (
	"encoding/binary"
	"fmt"
)

// Encode serializes c to its wire form, start code through checksum.
func Encode(c *Command) ([]byte, error) {
	buf := make([]byte, MaxPacketSize)
	n, err := EncodeInto(buf, c)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// EncodeInto serializes c into dst and returns the number of bytes written.
// It does not allocate, so it is safe to use from transmit paths.
func EncodeInto(dst []byte, c *Command) (int, error) {
	pdl := len(c.ParameterData)
	if pdl > MaxParameterDataSize {
		return 0, fmt.Errorf("%w: %d bytes (max %d)", ErrParameterData, pdl, MaxParameterDataSize)
	}
	msgLen := HeaderSize + pdl
	total := msgLen + ChecksumSize
	if len(dst) < total {
		return 0, fmt.Errorf("%w: buffer holds %d bytes, need %d", ErrLength, len(dst), total)
	}

	dst[offStartCode] = StartCode
	dst[offSubStartCode] = SubStartCode
	dst[offLength] = uint8(msgLen)
	PutUID(dst[offDestination:], c.Destination)
	PutUID(dst[offSource:], c.Source)
	dst[offTransaction] = c.TransactionNumber
	dst[offPortID] = c.PortID
	dst[offMessageCount] = c.MessageCount
	binary.BigEndian.PutUint16(dst[offSubDevice:], c.SubDevice)
	dst[offCommandClass] = uint8(c.CommandClass)
	binary.BigEndian.PutUint16(dst[offParameterID:], uint16(c.ParameterID))
	dst[offPDL] = uint8(pdl)
	copy(dst[offParamData:], c.ParameterData)

	binary.BigEndian.PutUint16(dst[msgLen:], CalculateChecksum(dst[:msgLen]))
	return total, nil
}

// Decode parses and validates a complete RDM packet.
//
// The checksum is verified before any header field is trusted, so a
// corrupted length byte is reported as ErrChecksum. A packet whose checksum
// is intact but whose declared length disagrees with the buffer, or exceeds
// the maximum, is reported as ErrLength, as is a valid packet followed by
// extra bytes.
func Decode(b []byte) (*Command, error) {
	if len(b) < MinPacketSize || len(b) > MaxPacketSize {
		return nil, fmt.Errorf("%w: %d bytes (valid %d-%d)", ErrLength, len(b), MinPacketSize, MaxPacketSize)
	}

	// A packet intact up to its declared length but followed by extra bytes
	// is a length error. The PDL must agree, so no single bit flip of a
	// valid packet can take this path.
	if msgLen := int(b[offLength]); msgLen >= HeaderSize && msgLen+ChecksumSize < len(b) &&
		HeaderSize+int(b[offPDL]) == msgLen &&
		binary.BigEndian.Uint16(b[msgLen:]) == CalculateChecksum(b[:msgLen]) {
		return nil, fmt.Errorf("%w: declared %d, buffer carries %d", ErrLength, msgLen, len(b)-ChecksumSize)
	}

	body := len(b) - ChecksumSize
	received := binary.BigEndian.Uint16(b[body:])
	calculated := CalculateChecksum(b[:body])
	if received != calculated {
		return nil, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrChecksum, calculated, received)
	}

	if b[offStartCode] != StartCode || b[offSubStartCode] != SubStartCode {
		return nil, fmt.Errorf("%w: 0x%02X/0x%02X", ErrStartCode, b[offStartCode], b[offSubStartCode])
	}

	msgLen := int(b[offLength])
	if msgLen != body || msgLen > MaxMessageLength {
		return nil, fmt.Errorf("%w: declared %d, buffer carries %d", ErrLength, msgLen, body)
	}
	pdl := int(b[offPDL])
	if HeaderSize+pdl != msgLen {
		return nil, fmt.Errorf("%w: parameter data length %d does not fit message length %d", ErrLength, pdl, msgLen)
	}

	c := &Command{
		Destination:       ReadUID(b[offDestination:]),
		Source:            ReadUID(b[offSource:]),
		TransactionNumber: b[offTransaction],
		PortID:            b[offPortID],
		MessageCount:      b[offMessageCount],
		SubDevice:         binary.BigEndian.Uint16(b[offSubDevice:]),
		CommandClass:      CommandClass(b[offCommandClass]),
		ParameterID:       ParameterID(binary.BigEndian.Uint16(b[offParameterID:])),
	}
	if pdl > 0 {
		c.ParameterData = make([]byte, pdl)
		copy(c.ParameterData, b[offParamData:offParamData+pdl])
	}
	return c, nil
}

// PacketLength reports the total wire length announced by a partial packet
// holding at least the first three bytes, or 0 if it cannot be known yet.
func PacketLength(b []byte) int {
	if len(b) <= offLength {
		return 0
	}
	return int(b[offLength]) + ChecksumSize
}
