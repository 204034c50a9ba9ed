// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stream

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/dmxstat/driver/sim"
	"github.com/Thermoquad/dmxstat/internal/logger"
	"github.com/Thermoquad/dmxstat/pkg/dmx"
)

func TestEncodeDecode(t *testing.T) {
	snap := Snapshot{Sequence: 9, Active: true, Slots: []byte{1, 2, 3}, UpdatesPerSecond: 40, Frames: 100}
	data, err := Encode(snap)
	if err != nil {
		t.Fatal(err)
	}

	// Integer keys on the wire
	var raw []interface{}
	if err := cbor.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	m, ok := raw[1].(map[interface{}]interface{})
	if !ok {
		t.Fatalf("payload is %T", raw[1])
	}
	if _, ok := m[uint64(3)]; !ok {
		t.Errorf("slots not under key 3: %v", m)
	}

	msg, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := msg.(Snapshot)
	if !ok {
		t.Fatalf("decoded %T", msg)
	}
	if got.Sequence != 9 || !got.Active || !bytes.Equal(got.Slots, snap.Slots) || got.Frames != 100 {
		t.Errorf("got %+v", got)
	}

	data, _ = Encode(&Hello{Session: "abc", Port: "p", Rate: 30})
	msg, err = Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if h, ok := msg.(Hello); !ok || h.Session != "abc" || h.Rate != 30 {
		t.Errorf("hello = %+v", msg)
	}
}

func TestDecode_Errors(t *testing.T) {
	unknown, _ := cbor.Marshal([]interface{}{uint8(9), map[int]int{}})
	single, _ := cbor.Marshal([]interface{}{uint8(1)})

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"empty", nil, "empty"},
		{"not cbor", []byte{0xFF, 0x00}, "failed to decode"},
		{"one element", single, "2-element"},
		{"unknown type", unknown, "unknown message type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}

	if _, err := Encode(42); err == nil {
		t.Error("Encode accepted an int")
	}
}

func TestPortSource(t *testing.T) {
	clock := sim.NewClock()
	line := sim.NewLine(clock)
	port := dmx.NewPort(1, line, clock)
	if err := port.StartInput(); err != nil {
		t.Fatal(err)
	}
	src := NewPortSource(port)

	if s, changed := src.Snapshot(); changed || s.Slots != nil {
		t.Errorf("snapshot before any frame: %+v changed=%v", s, changed)
	}

	frame := make([]byte, dmx.FrameSize)
	frame[1], frame[512] = 0x11, 0xEE
	if !line.InjectFrame(dmx.DefaultBreak, dmx.DefaultMAB, frame) {
		t.Fatal("frame not delivered")
	}
	s, changed := src.Snapshot()
	if !changed || !s.Active || s.Sequence != 1 {
		t.Errorf("snapshot after frame: seq=%d active=%v changed=%v", s.Sequence, s.Active, changed)
	}
	if len(s.Slots) != dmx.MaxSlots || s.Slots[0] != 0x11 || s.Slots[511] != 0xEE {
		t.Errorf("slots len=%d", len(s.Slots))
	}

	if _, changed := src.Snapshot(); changed {
		t.Error("unchanged port reported a change")
	}

	clock.Advance(time.Second)
	s, changed = src.Snapshot()
	if !changed || s.Active || s.Sequence != 2 {
		t.Errorf("snapshot after timeout: seq=%d active=%v changed=%v", s.Sequence, s.Active, changed)
	}
	if len(s.Slots) != dmx.MaxSlots {
		t.Error("last frame dropped when port went inactive")
	}
}

type counterSource struct {
	mu sync.Mutex
	n  uint64
}

func (c *counterSource) Snapshot() (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return Snapshot{Sequence: c.n, Active: true, Slots: []byte{byte(c.n)}}, true
}

func TestServer_Stream(t *testing.T) {
	srv := NewServer(logger.Discard(), "/dev/ttyUSB0", &counterSource{}, 200)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http"))
	if err != nil {
		t.Fatal(err)
	}

	h := client.Hello()
	if h.Port != "/dev/ttyUSB0" || h.Rate != 200 || len(h.Session) != 36 {
		t.Errorf("hello = %+v", h)
	}

	var last uint64
	for i := 0; i < 3; i++ {
		s, err := client.Next()
		if err != nil {
			t.Fatal(err)
		}
		if s.Sequence <= last {
			t.Errorf("sequence %d after %d", s.Sequence, last)
		}
		last = s.Sequence
	}
	if srv.Sessions() != 1 {
		t.Errorf("sessions = %d", srv.Sessions())
	}

	client.Close()
	deadline := time.Now().Add(2 * time.Second)
	for srv.Sessions() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if srv.Sessions() != 0 {
		t.Error("session not released after client close")
	}
}

func TestDial_BadScheme(t *testing.T) {
	if _, err := Dial(context.Background(), "http://localhost:1"); err == nil {
		t.Error("expected error")
	}
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	srv := NewServer(logger.Discard(), "p", &counterSource{}, 10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("err = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
