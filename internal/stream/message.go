// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package stream serves live DMX frame snapshots over a websocket.
//
// Every websocket message is a binary CBOR array [msg_type, payload_map]
// with integer map keys. A session starts with one Hello, then Snapshots
// follow at the configured rate whenever the port has new data or its
// state changed.
package stream

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Message types
const (
	MsgHello    uint8 = 0x01
	MsgSnapshot uint8 = 0x02
)

// Hello identifies the session and the port being streamed.
type Hello struct {
	Session string `cbor:"0,keyasint"`
	Port    string `cbor:"1,keyasint"`
	Rate    int    `cbor:"2,keyasint"`
}

// Snapshot is the state of a port at one instant. Slots holds the last
// captured frame without its start code.
type Snapshot struct {
	Sequence         uint64 `cbor:"0,keyasint"`
	Active           bool   `cbor:"1,keyasint"`
	StartCode        uint8  `cbor:"2,keyasint"`
	Slots            []byte `cbor:"3,keyasint"`
	UpdatesPerSecond int    `cbor:"4,keyasint"`
	Frames           uint64 `cbor:"5,keyasint"`
	TimingViolations uint64 `cbor:"6,keyasint"`
	Overruns         uint64 `cbor:"7,keyasint"`
	RDMFrames        uint64 `cbor:"8,keyasint"`
}

// Encode wraps a Hello or Snapshot in the message envelope.
func Encode(v interface{}) ([]byte, error) {
	var t uint8
	switch v.(type) {
	case Hello, *Hello:
		t = MsgHello
	case Snapshot, *Snapshot:
		t = MsgSnapshot
	default:
		return nil, fmt.Errorf("unsupported stream message %T", v)
	}
	return cbor.Marshal([]interface{}{t, v})
}

// Decode parses a message envelope and returns a Hello or a Snapshot.
func Decode(data []byte) (interface{}, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty CBOR payload")
	}
	var msg []cbor.RawMessage
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode CBOR: %w", err)
	}
	if len(msg) != 2 {
		return nil, fmt.Errorf("expected 2-element array, got %d elements", len(msg))
	}

	var t uint8
	if err := cbor.Unmarshal(msg[0], &t); err != nil {
		return nil, fmt.Errorf("invalid message type: %w", err)
	}
	switch t {
	case MsgHello:
		var h Hello
		if err := cbor.Unmarshal(msg[1], &h); err != nil {
			return nil, fmt.Errorf("invalid hello: %w", err)
		}
		return h, nil
	case MsgSnapshot:
		var s Snapshot
		if err := cbor.Unmarshal(msg[1], &s); err != nil {
			return nil, fmt.Errorf("invalid snapshot: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown message type 0x%02X", t)
	}
}
