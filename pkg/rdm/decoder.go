// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rdm

import "fmt"

// Decoder states (internal)
const (
	stateIdle = iota
	stateSubStart
	stateLength
	stateBody
)

// Decoder reassembles RDM packets from a raw byte stream, such as the
// output of a line sniffer that cannot see breaks. It resynchronises on
// the 0xCC 0x01 start code pair.
type Decoder struct {
	state     int
	buffer    [MaxPacketSize]byte
	index     int
	expected  int
	rawBuffer []byte // Accumulate raw bytes since the last packet
}

// NewDecoder creates a new stream decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:     stateIdle,
		rawBuffer: make([]byte, 0, MaxPacketSize*2),
	}
}

// Reset resets the decoder state to idle
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.index = 0
	d.expected = 0
	d.rawBuffer = d.rawBuffer[:0]
}

// GetRawBytes returns the accumulated raw bytes since the last packet
func (d *Decoder) GetRawBytes() []byte {
	return d.rawBuffer
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns a completed command, or nil if the packet is incomplete.
// Returns an error if a packet completed but failed validation.
func (d *Decoder) DecodeByte(b byte) (*Command, error) {
	d.rawBuffer = append(d.rawBuffer, b)

	switch d.state {
	case stateIdle:
		if b == StartCode {
			d.rawBuffer = append(d.rawBuffer[:0], b)
			d.buffer[0] = b
			d.index = 1
			d.state = stateSubStart
		}
		return nil, nil

	case stateSubStart:
		if b != SubStartCode {
			d.Reset()
			if b == StartCode {
				return d.DecodeByte(b)
			}
			return nil, nil
		}
		d.buffer[d.index] = b
		d.index++
		d.state = stateLength
		return nil, nil

	case stateLength:
		if int(b) < HeaderSize || int(b) > MaxMessageLength {
			d.Reset()
			return nil, fmt.Errorf("%w: message length %d (valid %d-%d)", ErrLength, b, HeaderSize, MaxMessageLength)
		}
		d.buffer[d.index] = b
		d.index++
		d.expected = int(b) + ChecksumSize
		d.state = stateBody
		return nil, nil

	case stateBody:
		d.buffer[d.index] = b
		d.index++
		if d.index < d.expected {
			return nil, nil
		}
		c, err := Decode(d.buffer[:d.index])
		d.state = stateIdle
		d.index = 0
		d.expected = 0
		return c, err

	default:
		d.Reset()
		return nil, fmt.Errorf("invalid state: %d", d.state)
	}
}
