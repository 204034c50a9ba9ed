// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sim

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/dmxstat/pkg/dmx"
	"github.com/Thermoquad/dmxstat/pkg/rdm"
	"github.com/Thermoquad/dmxstat/pkg/responder"
)

const testFixture = `
[[responder]]
uid = "4D41:00000002"
label = "Wash"
footprint = 8
start_address = 20

[[responder]]
uid = "4D41:00000001"
label = "Spot"
manufacturer_label = "Thermoquad"
model_id = 0x0102
footprint = 16
start_address = 1

[generate]
count = 5
manufacturer = 0x7A70
seed = 3
footprint = 4
`

// ============================================================
// Fixture Tests
// ============================================================

func TestParseFixture(t *testing.T) {
	f, err := ParseFixture(testFixture)
	if err != nil {
		t.Fatalf("ParseFixture failed: %v", err)
	}
	if len(f.Responders) != 2 || f.Generate == nil || f.Generate.Count != 5 {
		t.Fatalf("fixture %+v", f)
	}

	rs, err := f.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(rs) != 7 {
		t.Fatalf("got %d responders, want 7", len(rs))
	}
	for i := 1; i < len(rs); i++ {
		if rs[i-1].UID() >= rs[i].UID() {
			t.Errorf("responders not sorted at %d", i)
		}
	}
	if rs[0].UID() != rdm.NewUID(0x4D41, 1) || rs[0].Label() != "Spot" {
		t.Errorf("first responder %s %q", rs[0].UID(), rs[0].Label())
	}
	if rs[0].DeviceInfo().DMXFootprint != 16 {
		t.Errorf("footprint %d", rs[0].DeviceInfo().DMXFootprint)
	}
}

func TestParseFixture_UnknownKey(t *testing.T) {
	_, err := ParseFixture("[[responder]]\nuid = \"4D41:00000001\"\nlabell = \"typo\"\n")
	if err == nil || !strings.Contains(err.Error(), "labell") {
		t.Errorf("err = %v, want unknown key error", err)
	}
}

func TestFixture_BuildErrors(t *testing.T) {
	tests := []struct {
		name    string
		fixture string
	}{
		{"bad uid", "[[responder]]\nuid = \"nope\"\n"},
		{"broadcast", "[[responder]]\nuid = \"FFFF:FFFFFFFF\"\n"},
		{"duplicate", "[[responder]]\nuid = \"4D41:00000001\"\n[[responder]]\nuid = \"4D41:00000001\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFixture(tt.fixture)
			if err != nil {
				t.Fatalf("ParseFixture failed: %v", err)
			}
			if _, err := f.Build(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadFixture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bus.toml")
	if err := os.WriteFile(path, []byte(testFixture), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := LoadFixture(path)
	if err != nil {
		t.Fatalf("LoadFixture failed: %v", err)
	}
	line, rs, err := NewBus(f, NewClock())
	if err != nil {
		t.Fatal(err)
	}
	if len(rs) != 7 || line.Clock() == nil {
		t.Errorf("bus with %d responders", len(rs))
	}

	if _, err := LoadFixture(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRandomUIDs(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	exclude := map[rdm.UID]bool{}
	uids := RandomUIDs(rng, 0x7A70, 200, exclude)
	if len(uids) != 200 {
		t.Fatalf("got %d uids", len(uids))
	}
	seen := map[rdm.UID]bool{}
	for _, u := range uids {
		if seen[u] || u.Manufacturer() != 0x7A70 || u.IsBroadcast() {
			t.Errorf("bad uid %s", u)
		}
		seen[u] = true
	}
}

// ============================================================
// Line Tests
// ============================================================

func newTestResponder(uid rdm.UID) *responder.Responder {
	return responder.New(responder.Config{
		UID:  uid,
		Info: rdm.DeviceInfo{DMXFootprint: 4, DMXStartAddress: 1},
	})
}

func TestLine_TransmitRequiresDrive(t *testing.T) {
	line := NewLine(nil)
	if err := line.SendBreak(dmx.DefaultBreak); !errors.Is(err, ErrNotDriving) {
		t.Errorf("err = %v, want ErrNotDriving", err)
	}
	if err := line.Write([]byte{0}); !errors.Is(err, ErrNotDriving) {
		t.Errorf("err = %v, want ErrNotDriving", err)
	}
}

func TestLine_FailOpen(t *testing.T) {
	line := NewLine(nil)
	line.FailOpen(errors.New("unplugged"))
	p := dmx.NewPort(1, line, line.Clock())
	if err := p.StartInput(); !errors.Is(err, dmx.ErrHardwareInit) {
		t.Errorf("err = %v, want ErrHardwareInit", err)
	}
}

func TestLine_TxLogTiming(t *testing.T) {
	clock := NewClock()
	line := NewLine(clock)
	p := dmx.NewPort(1, line, clock)
	if err := p.SetSlotCount(24); err != nil {
		t.Fatal(err)
	}
	if err := p.SetDirection(dmx.DirectionOutput, false); err != nil {
		t.Fatal(err)
	}
	if err := p.OutputCycle(); err != nil {
		t.Fatal(err)
	}

	var kinds []string
	for _, e := range line.TxLog() {
		kinds = append(kinds, e.Kind.String())
	}
	if got := strings.Join(kinds, ","); got != "DRIVE_ON,BREAK,MARK,DATA" {
		t.Fatalf("log %s", got)
	}
	log := line.TxLog()
	if log[2].At-log[1].At != dmx.DefaultBreak {
		t.Errorf("break lasted %v", log[2].At-log[1].At)
	}
	if log[3].At-log[2].At != dmx.DefaultMAB {
		t.Errorf("mab lasted %v", log[3].At-log[2].At)
	}
	if log[3].Duration != 25*dmx.SlotTime {
		t.Errorf("data lasted %v", log[3].Duration)
	}
	if line.FramesSent() != 1 {
		t.Errorf("frames %d", line.FramesSent())
	}

	line.ClearTxLog()
	if len(line.TxLog()) != 0 {
		t.Error("log not cleared")
	}
}

func TestLine_ResponderReply(t *testing.T) {
	clock := NewClock()
	uid := rdm.NewUID(0x4D41, 1)
	line := NewLine(clock, newTestResponder(uid))
	p := dmx.NewPort(1, line, clock)
	p.SetDirection(dmx.DirectionOutput, false)

	req, _ := rdm.Encode(rdm.NewGet(uid, rdm.RootDevice, rdm.PIDDeviceInfo, nil))
	if err := p.RdmSendRaw(req); err != nil {
		t.Fatal(err)
	}
	p.SetDirection(dmx.DirectionInput, false)

	b, ok := p.RdmReceiveTimeout(rdm.ResponseTimeout)
	if !ok {
		t.Fatal("no reply")
	}
	resp, err := rdm.Decode(b)
	if err != nil || !resp.IsAck() || resp.Source != uid {
		t.Errorf("reply %v, %v", resp, err)
	}
}

func TestLine_DUBCollision(t *testing.T) {
	clock := NewClock()
	// Not every wired-OR of two replies is detectable, but this pair's is
	a, b := rdm.NewUID(0x4D41, 0x01020304), rdm.NewUID(0x4D41, 0x0A0B0C0D)
	line := NewLine(clock, newTestResponder(a), newTestResponder(b))
	p := dmx.NewPort(1, line, clock)
	p.SetDirection(dmx.DirectionOutput, false)

	req, _ := rdm.Encode(rdm.NewDiscUniqueBranch(rdm.MinUID, rdm.MaxUID))
	p.RdmSendRaw(req)
	p.SetDirection(dmx.DirectionInput, false)

	reply, ok := p.RdmReceiveTimeout(rdm.ResponseTimeout)
	if !ok {
		t.Fatal("collision produced no signal")
	}
	if _, err := rdm.DecodeDUBReply(reply); err == nil {
		t.Error("colliding replies decoded as valid")
	}
}

func TestLine_DUBSingle(t *testing.T) {
	clock := NewClock()
	uid := rdm.NewUID(0x4D41, 0x00ABCDEF)
	line := NewLine(clock, newTestResponder(uid))
	p := dmx.NewPort(1, line, clock)
	p.SetDirection(dmx.DirectionOutput, false)

	req, _ := rdm.Encode(rdm.NewDiscUniqueBranch(rdm.MinUID, rdm.MaxUID))
	p.RdmSendRaw(req)
	p.SetDirection(dmx.DirectionInput, false)

	reply, ok := p.RdmReceiveTimeout(rdm.ResponseTimeout)
	if !ok {
		t.Fatal("no reply")
	}
	got, err := rdm.DecodeDUBReply(reply)
	if err != nil || got != uid {
		t.Errorf("got %s, %v", got, err)
	}
}

func TestLine_InjectFrame(t *testing.T) {
	clock := NewClock()
	line := NewLine(clock)
	p := dmx.NewPort(1, line, clock)

	frame := make([]byte, 513)
	if line.InjectFrame(dmx.DefaultBreak, dmx.DefaultMAB, frame) {
		t.Error("frame delivered to an idle port")
	}

	p.StartInput()
	frame[1] = 0x80
	if !line.InjectFrame(dmx.DefaultBreak, dmx.DefaultMAB, frame) {
		t.Fatal("frame not delivered")
	}
	f, _, ok := p.GetDmxAvailable()
	if !ok || f.Slot(1) != 0x80 {
		t.Error("injected frame not captured")
	}

	reply := rdm.EncodeDUBReply(rdm.NewUID(1, 2))
	p.SetDirection(dmx.DirectionIdle, false)
	p.SetDirection(dmx.DirectionInput, false)
	if !line.InjectBytes(reply[:]) {
		t.Fatal("bytes not delivered")
	}
	if _, ok := p.RdmReceive(); !ok {
		t.Error("injected discovery reply not captured")
	}
}

func TestLine_DriveAndReceiveExclusive(t *testing.T) {
	clock := NewClock()
	line := NewLine(clock)
	p := dmx.NewPort(1, line, clock)

	for i := 0; i < 10; i++ {
		dir := dmx.DirectionOutput
		if i%2 == 1 {
			dir = dmx.DirectionInput
		}
		if err := p.SetDirection(dir, true); err != nil {
			t.Fatal(err)
		}
		if line.Driving() && line.Receiving() {
			t.Fatalf("driving and receiving at step %d", i)
		}
	}
}

func TestClock(t *testing.T) {
	c := NewClock()
	c.Delay(-time.Second)
	if c.Now() != 0 {
		t.Error("negative delay moved the clock")
	}
	c.Advance(5 * time.Millisecond)
	if c.Now() != 5*time.Millisecond {
		t.Errorf("now %v", c.Now())
	}
}

func TestPacedClock(t *testing.T) {
	c := NewPacedClock(10 * time.Millisecond)
	start := time.Now()
	c.Delay(time.Millisecond)
	if time.Since(start) > 5*time.Millisecond {
		t.Error("short delay slept")
	}
	c.Delay(20 * time.Millisecond)
	if time.Since(start) < 20*time.Millisecond {
		t.Error("long delay did not sleep")
	}
	if c.Now() != 21*time.Millisecond {
		t.Errorf("now %v", c.Now())
	}
}
