// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rdm

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// ============================================================
// Test Helpers
// ============================================================

func sampleCommand() *Command {
	return &Command{
		Destination:       NewUID(0x4D41, 0x12345678),
		Source:            NewUID(0x7FF0, 0x00000001),
		TransactionNumber: 7,
		PortID:            1,
		SubDevice:         RootDevice,
		CommandClass:      SetCommand,
		ParameterID:       PIDDMXStartAddress,
		ParameterData:     Uint16Data(42),
	}
}

func mustEncode(t *testing.T, c *Command) []byte {
	t.Helper()
	b, err := Encode(c)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return b
}

// ============================================================
// Checksum Tests
// ============================================================

func TestCalculateChecksum(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected uint16
	}{
		{"empty", nil, 0},
		{"single", []byte{0xCC}, 0x00CC},
		{"wraps", bytes.Repeat([]byte{0xFF}, 258), uint16((258 * 0xFF) & 0xFFFF)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateChecksum(tt.data); got != tt.expected {
				t.Errorf("CalculateChecksum() = 0x%04X, want 0x%04X", got, tt.expected)
			}
		})
	}
}

// ============================================================
// UID Tests
// ============================================================

func TestUID_Parts(t *testing.T) {
	u := NewUID(0x4D41, 0xDEADBEEF)
	if u.Manufacturer() != 0x4D41 {
		t.Errorf("Manufacturer = 0x%04X", u.Manufacturer())
	}
	if u.Device() != 0xDEADBEEF {
		t.Errorf("Device = 0x%08X", u.Device())
	}
	if u.String() != "4D41:DEADBEEF" {
		t.Errorf("String = %s", u.String())
	}
	if !u.Valid() {
		t.Error("48-bit UID reported invalid")
	}
	if UID(1 << 48).Valid() {
		t.Error("49-bit value reported valid")
	}
}

func TestUID_WireRoundTrip(t *testing.T) {
	u := NewUID(0x0102, 0x03040506)
	var b [UIDSize]byte
	PutUID(b[:], u)
	if !bytes.Equal(b[:], []byte{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("PutUID wrote % X", b)
	}
	if got := ReadUID(b[:]); got != u {
		t.Errorf("ReadUID = %s, want %s", got, u)
	}
}

func TestUID_Matches(t *testing.T) {
	u := NewUID(0x4D41, 0x00000010)
	tests := []struct {
		dest UID
		want bool
	}{
		{u, true},
		{BroadcastUID, true},
		{ManufacturerBroadcast(0x4D41), true},
		{ManufacturerBroadcast(0x4D42), false},
		{NewUID(0x4D41, 0x00000011), false},
	}
	for _, tt := range tests {
		if got := u.Matches(tt.dest); got != tt.want {
			t.Errorf("Matches(%s) = %v, want %v", tt.dest, got, tt.want)
		}
	}
}

func TestParseUID(t *testing.T) {
	tests := []struct {
		in      string
		want    UID
		wantErr bool
	}{
		{"7FF0:00000001", NewUID(0x7FF0, 1), false},
		{"7ff0:1", NewUID(0x7FF0, 1), false},
		{"0x7FF000000001", NewUID(0x7FF0, 1), false},
		{"FFFFFFFFFFFF", BroadcastUID, false},
		{"1FFFFFFFFFFFF", 0, true},
		{"zz:1", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseUID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseUID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseUID(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

// ============================================================
// Codec Tests
// ============================================================

func TestEncode_Layout(t *testing.T) {
	b := mustEncode(t, sampleCommand())

	if len(b) != MinPacketSize+2 {
		t.Fatalf("length = %d, want %d", len(b), MinPacketSize+2)
	}
	if b[0] != StartCode || b[1] != SubStartCode {
		t.Errorf("start codes = 0x%02X 0x%02X", b[0], b[1])
	}
	if b[2] != HeaderSize+2 {
		t.Errorf("message length = %d", b[2])
	}
	if b[20] != uint8(SetCommand) {
		t.Errorf("command class = 0x%02X", b[20])
	}
	if b[21] != 0x00 || b[22] != 0xF0 {
		t.Errorf("pid = 0x%02X%02X", b[21], b[22])
	}
	if b[23] != 2 || b[24] != 0 || b[25] != 42 {
		t.Errorf("pdl/data = % X", b[23:26])
	}
	sum := CalculateChecksum(b[:len(b)-2])
	if b[len(b)-2] != byte(sum>>8) || b[len(b)-1] != byte(sum) {
		t.Errorf("checksum bytes % X, want 0x%04X", b[len(b)-2:], sum)
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	commands := []*Command{
		sampleCommand(),
		NewDiscUniqueBranch(MinUID, MaxUID),
		NewDiscMute(NewUID(1, 2)),
		NewGet(NewUID(1, 2), 3, PIDDeviceInfo, nil),
		sampleCommand().Nack(NewUID(0x4D41, 0x12345678), NackDataOutOfRange),
		{CommandClass: GetCommandResponse, ParameterID: PIDDeviceLabel, ParameterData: bytes.Repeat([]byte{'x'}, MaxParameterDataSize)},
	}
	for _, c := range commands {
		got, err := Decode(mustEncode(t, c))
		if err != nil {
			t.Fatalf("Decode(%s) failed: %v", ParameterName(c.ParameterID), err)
		}
		if !got.Equal(c) {
			t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, c)
		}
	}
}

func TestDecode_EmptyParameterDataIsNil(t *testing.T) {
	got, err := Decode(mustEncode(t, NewGet(NewUID(1, 2), 0, PIDDeviceInfo, []byte{})))
	if err != nil {
		t.Fatal(err)
	}
	if got.ParameterData != nil {
		t.Errorf("ParameterData = %v, want nil", got.ParameterData)
	}
}

func TestEncode_ParameterDataTooLarge(t *testing.T) {
	c := sampleCommand()
	c.ParameterData = make([]byte, MaxParameterDataSize+1)
	if _, err := Encode(c); !errors.Is(err, ErrParameterData) {
		t.Errorf("err = %v, want ErrParameterData", err)
	}
}

func TestEncodeInto_ShortBuffer(t *testing.T) {
	var dst [MinPacketSize]byte
	if _, err := EncodeInto(dst[:], sampleCommand()); !errors.Is(err, ErrLength) {
		t.Errorf("err = %v, want ErrLength", err)
	}
}

func TestDecode_EveryBitFlipIsChecksumError(t *testing.T) {
	good := mustEncode(t, sampleCommand())
	for i := range good {
		for bit := 0; bit < 8; bit++ {
			b := append([]byte(nil), good...)
			b[i] ^= 1 << bit
			_, err := Decode(b)
			if !errors.Is(err, ErrChecksum) {
				t.Fatalf("flip byte %d bit %d: err = %v, want ErrChecksum", i, bit, err)
			}
		}
	}
}

func TestDecode_LengthErrors(t *testing.T) {
	if _, err := Decode(make([]byte, MinPacketSize-1)); !errors.Is(err, ErrLength) {
		t.Errorf("short: err = %v", err)
	}
	if _, err := Decode(make([]byte, MaxPacketSize+1)); !errors.Is(err, ErrLength) {
		t.Errorf("long: err = %v", err)
	}

	// Consistent checksum but a message length byte that disagrees with the buffer
	b := mustEncode(t, sampleCommand())
	b[offLength]++
	b[offPDL]--
	body := len(b) - ChecksumSize
	sum := CalculateChecksum(b[:body])
	b[body], b[body+1] = byte(sum>>8), byte(sum)
	if _, err := Decode(b); !errors.Is(err, ErrLength) {
		t.Errorf("mismatched length: err = %v, want ErrLength", err)
	}

	// Valid packet with trailing bytes
	for _, extra := range [][]byte{{0x00}, {0xCC, 0x01, 0x02}} {
		b := append(mustEncode(t, sampleCommand()), extra...)
		if _, err := Decode(b); !errors.Is(err, ErrLength) {
			t.Errorf("%d trailing bytes: err = %v, want ErrLength", len(extra), err)
		}
	}
}

func TestDecode_StartCodeError(t *testing.T) {
	b := mustEncode(t, sampleCommand())
	b[offSubStartCode] = 0x02
	b[offStartCode] = StartCode - 1
	body := len(b) - ChecksumSize
	sum := CalculateChecksum(b[:body])
	b[body], b[body+1] = byte(sum>>8), byte(sum)
	if _, err := Decode(b); !errors.Is(err, ErrStartCode) {
		t.Errorf("err = %v, want ErrStartCode", err)
	}
}

func TestPacketLength(t *testing.T) {
	b := mustEncode(t, sampleCommand())
	if PacketLength(b[:2]) != 0 {
		t.Error("length known from two bytes")
	}
	if PacketLength(b[:3]) != len(b) {
		t.Errorf("PacketLength = %d, want %d", PacketLength(b[:3]), len(b))
	}
}

// ============================================================
// Discovery Reply Tests
// ============================================================

func TestDUBReply_RoundTrip(t *testing.T) {
	for _, u := range []UID{MinUID, NewUID(0x4D41, 0x12345678), MaxUID - 1} {
		reply := EncodeDUBReply(u)
		got, err := DecodeDUBReply(reply[:])
		if err != nil {
			t.Fatalf("DecodeDUBReply(%s) failed: %v", u, err)
		}
		if got != u {
			t.Errorf("got %s, want %s", got, u)
		}
		if !DUBComplete(reply[:]) {
			t.Errorf("DUBComplete false for full reply of %s", u)
		}
	}
}

func TestDUBReply_ShortPreamble(t *testing.T) {
	u := NewUID(0x1234, 0x5678)
	reply := EncodeDUBReply(u)
	for skip := 0; skip <= DUBMaxPreamble; skip++ {
		got, err := DecodeDUBReply(reply[skip:])
		if err != nil || got != u {
			t.Errorf("preamble %d: got %s, %v", DUBMaxPreamble-skip, got, err)
		}
	}
}

func TestDUBReply_Errors(t *testing.T) {
	reply := EncodeDUBReply(NewUID(0x1234, 0x5678))

	long := append([]byte{DUBPreambleByte}, reply[:]...)
	if _, err := DecodeDUBReply(long); !errors.Is(err, ErrDUBPreamble) {
		t.Errorf("eight preamble bytes: err = %v", err)
	}

	noSep := append([]byte(nil), reply[:]...)
	noSep[DUBMaxPreamble] = 0x00
	if _, err := DecodeDUBReply(noSep); !errors.Is(err, ErrDUBPreamble) {
		t.Errorf("missing separator: err = %v", err)
	}

	if _, err := DecodeDUBReply(reply[:DUBReplySize-1]); !errors.Is(err, ErrLength) {
		t.Errorf("truncated: err = %v", err)
	}
	if DUBComplete(reply[:DUBReplySize-1]) {
		t.Error("DUBComplete true for truncated reply")
	}

	unmasked := append([]byte(nil), reply[:]...)
	unmasked[DUBMaxPreamble+1] &^= dubMaskHigh
	if _, err := DecodeDUBReply(unmasked); !errors.Is(err, ErrDUBEncoding) {
		t.Errorf("missing mask bits: err = %v", err)
	}
}

func TestDUBReply_CollisionDetected(t *testing.T) {
	a := EncodeDUBReply(NewUID(0x0001, 0x00000001))
	b := EncodeDUBReply(NewUID(0x0001, 0x00000002))
	var merged [DUBReplySize]byte
	for i := range merged {
		merged[i] = a[i] | b[i]
	}
	if _, err := DecodeDUBReply(merged[:]); err == nil {
		t.Error("wired-OR of two replies decoded without error")
	}
}

func TestDUBReply_WireFormat(t *testing.T) {
	// The checksum is the sum of the twelve encoded UID bytes, masks
	// included, and is itself split and masked.
	want := []byte{
		0xFE, 0xFE, 0xFE, 0xFE, 0xFE, 0xFE, 0xFE, 0xAA,
		0xBA, 0x57, 0xBE, 0x75, 0xFE, 0x57, 0xFA, 0x7D, 0xBA, 0xDF, 0xBE, 0xFD,
		0xAA, 0x5D, 0xEE, 0x75,
	}
	got := EncodeDUBReply(NewUID(0x1234, 0x56789ABC))
	if !bytes.Equal(got[:], want) {
		t.Fatalf("EncodeDUBReply = % X\nwant            % X", got[:], want)
	}

	// A checksum over the unmasked UID bytes is rejected.
	raw := append([]byte(nil), want...)
	raw[20], raw[21], raw[22], raw[23] = 0x02|dubMaskHigh, 0x02|dubMaskLow, 0x6A|dubMaskHigh, 0x6A|dubMaskLow
	if _, err := DecodeDUBReply(raw); !errors.Is(err, ErrChecksum) {
		t.Errorf("unmasked checksum: err = %v, want ErrChecksum", err)
	}
}

// ============================================================
// Command Helper Tests
// ============================================================

func TestCommand_RespondAndNack(t *testing.T) {
	req := sampleCommand()
	me := req.Destination

	ack := req.Respond(me, ResponseAck, nil)
	if ack.CommandClass != SetCommandResponse || ack.Destination != req.Source || ack.Source != me {
		t.Errorf("unexpected ack %+v", ack)
	}
	if !ack.IsAck() || ack.TransactionNumber != req.TransactionNumber {
		t.Error("ack fields not carried")
	}

	nack := req.Nack(me, NackWriteProtect)
	reason, ok := nack.NackReason()
	if !ok || reason != NackWriteProtect {
		t.Errorf("NackReason = %v, %v", reason, ok)
	}
	if _, ok := req.NackReason(); ok {
		t.Error("request reported a NACK reason")
	}
}

func TestDiscoveryBounds(t *testing.T) {
	lo, hi := NewUID(1, 0), NewUID(2, 0)
	c := NewDiscUniqueBranch(lo, hi)
	if c.Destination != BroadcastUID {
		t.Errorf("destination %s", c.Destination)
	}
	gotLo, gotHi, ok := DiscoveryBounds(c)
	if !ok || gotLo != lo || gotHi != hi {
		t.Errorf("DiscoveryBounds = %s %s %v", gotLo, gotHi, ok)
	}
	if _, _, ok := DiscoveryBounds(NewDiscMute(lo)); ok {
		t.Error("bounds reported for DISC_MUTE")
	}
}

// ============================================================
// Parameter Tests
// ============================================================

func TestDeviceInfo_Binary(t *testing.T) {
	in := DeviceInfo{
		ProtocolVersion:    DefaultProtocolVersion,
		DeviceModelID:      0x0102,
		ProductCategory:    0x0101,
		SoftwareVersionID:  0x01020304,
		DMXFootprint:       16,
		CurrentPersonality: 1,
		PersonalityCount:   3,
		DMXStartAddress:    100,
		SubDeviceCount:     0,
		SensorCount:        2,
	}
	b, err := in.MarshalBinary()
	if err != nil || len(b) != DeviceInfoSize {
		t.Fatalf("MarshalBinary = %d bytes, %v", len(b), err)
	}
	var out DeviceInfo
	if err := out.UnmarshalBinary(b); err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Errorf("got %+v, want %+v", out, in)
	}
	if err := out.UnmarshalBinary(b[:18]); !errors.Is(err, ErrLength) {
		t.Errorf("short: err = %v", err)
	}
}

func TestLabel(t *testing.T) {
	if got := ParseLabel([]byte("fixture\x00\x00")); got != "fixture" {
		t.Errorf("ParseLabel = %q", got)
	}
	if got := LabelData(strings.Repeat("a", 40)); len(got) != MaxLabelSize {
		t.Errorf("LabelData length %d", len(got))
	}
}

func TestSupportedParameters(t *testing.T) {
	pids := []ParameterID{PIDDeviceInfo, PIDDeviceLabel, 0x8001}
	got, err := ParseSupportedParameters(SupportedParametersData(pids))
	if err != nil || len(got) != 3 || got[2] != 0x8001 {
		t.Errorf("got %v, %v", got, err)
	}
	if _, err := ParseSupportedParameters([]byte{1}); err == nil {
		t.Error("odd length accepted")
	}
}

func TestParameterName(t *testing.T) {
	if ParameterName(PIDDeviceInfo) != "DEVICE_INFO" {
		t.Errorf("got %s", ParameterName(PIDDeviceInfo))
	}
	if ParameterName(0x8123) != "MANUFACTURER_PID_0x8123" {
		t.Errorf("got %s", ParameterName(0x8123))
	}
	pid, ok := ParseParameterName("DMX_START_ADDRESS")
	if !ok || pid != PIDDMXStartAddress {
		t.Errorf("ParseParameterName = 0x%04X, %v", uint16(pid), ok)
	}
}

// ============================================================
// Stream Decoder Tests
// ============================================================

func TestDecoder_Stream(t *testing.T) {
	a := mustEncode(t, sampleCommand())
	b := mustEncode(t, NewGet(NewUID(1, 2), 0, PIDDeviceInfo, nil))

	stream := append([]byte{0x00, 0x11, StartCode, 0x22}, a...)
	stream = append(stream, 0x55)
	stream = append(stream, b...)

	d := NewDecoder()
	var got []*Command
	for _, v := range stream {
		c, err := d.DecodeByte(v)
		if err != nil {
			t.Fatalf("DecodeByte: %v", err)
		}
		if c != nil {
			got = append(got, c)
		}
	}
	if len(got) != 2 {
		t.Fatalf("decoded %d commands, want 2", len(got))
	}
	if got[0].ParameterID != PIDDMXStartAddress || got[1].ParameterID != PIDDeviceInfo {
		t.Errorf("decoded %s, %s", ParameterName(got[0].ParameterID), ParameterName(got[1].ParameterID))
	}
}

func TestDecoder_ChecksumError(t *testing.T) {
	b := mustEncode(t, sampleCommand())
	b[len(b)-1] ^= 0xFF

	d := NewDecoder()
	var lastErr error
	for _, v := range b {
		if _, err := d.DecodeByte(v); err != nil {
			lastErr = err
		}
	}
	if !errors.Is(lastErr, ErrChecksum) {
		t.Errorf("err = %v, want ErrChecksum", lastErr)
	}
}

func TestDecoder_BadLength(t *testing.T) {
	d := NewDecoder()
	d.DecodeByte(StartCode)
	d.DecodeByte(SubStartCode)
	if _, err := d.DecodeByte(5); !errors.Is(err, ErrLength) {
		t.Errorf("err = %v, want ErrLength", err)
	}
}

// ============================================================
// Validator Tests
// ============================================================

func hasAnomaly(errs []ValidationError, typ AnomalyType) bool {
	for _, e := range errs {
		if e.Type == typ {
			return true
		}
	}
	return false
}

func TestValidateCommand_Valid(t *testing.T) {
	if errs := ValidateCommand(sampleCommand()); len(errs) != 0 {
		t.Errorf("unexpected anomalies: %v", errs)
	}
	if errs := ValidateCommand(NewDiscUniqueBranch(MinUID, MaxUID)); len(errs) != 0 {
		t.Errorf("unexpected anomalies: %v", errs)
	}
}

func TestValidateCommand_Anomalies(t *testing.T) {
	tests := []struct {
		name string
		cmd  *Command
		want AnomalyType
	}{
		{"bad class", &Command{CommandClass: 0x40}, AnomalyInvalidCommandClass},
		{"inverted bounds", NewDiscUniqueBranch(MaxUID, MinUID), AnomalyInvalidValue},
		{"short bounds", &Command{CommandClass: DiscoveryCommand, ParameterID: PIDDiscUniqueBranch, ParameterData: []byte{1}}, AnomalyLengthMismatch},
		{"sub-device", NewGet(NewUID(1, 2), 0x0300, PIDDeviceInfo, nil), AnomalySubDeviceRange},
		{"get all sub-devices", NewGet(NewUID(1, 2), AllSubDevices, PIDDeviceInfo, nil), AnomalySubDeviceRange},
		{"start address zero", NewSet(NewUID(1, 2), 0, PIDDMXStartAddress, Uint16Data(0)), AnomalyInvalidValue},
		{"identify value", NewSet(NewUID(1, 2), 0, PIDIdentifyDevice, []byte{2}), AnomalyInvalidValue},
		{"pdl", NewSet(NewUID(1, 2), 0, PIDIdentifyDevice, []byte{1, 0}), AnomalyLengthMismatch},
		{"nack", sampleCommand().Nack(NewUID(1, 2), NackUnknownPID), AnomalyNack},
		{"broadcast response", sampleCommand().Respond(BroadcastUID, ResponseAck, nil), AnomalyBroadcastResponse},
		{"response type", sampleCommand().Respond(NewUID(1, 2), 0x09, nil), AnomalyInvalidResponseType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.name == "broadcast response" {
				tt.cmd.Destination = BroadcastUID
			}
			errs := ValidateCommand(tt.cmd)
			if !hasAnomaly(errs, tt.want) {
				t.Errorf("anomalies %v do not include %s", errs, tt.want)
			}
		})
	}
}

// ============================================================
// Formatter Tests
// ============================================================

func TestFormatCommand(t *testing.T) {
	out := FormatCommand(sampleCommand())
	for _, want := range []string{"SET", "DMX_START_ADDRESS", "4D41:12345678", "Start Address: 42"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	nack := FormatCommand(sampleCommand().Nack(NewUID(1, 2), NackWriteProtect))
	if !strings.Contains(nack, "NACK_REASON") || !strings.Contains(nack, "WRITE_PROTECT") {
		t.Errorf("nack output:\n%s", nack)
	}

	info, _ := DeviceInfo{DMXStartAddress: NoStartAddress}.MarshalBinary()
	resp := NewGet(NewUID(1, 2), 0, PIDDeviceInfo, nil).Respond(NewUID(1, 2), ResponseAck, info)
	if !strings.Contains(FormatCommand(resp), "Start: none") {
		t.Errorf("device info output:\n%s", FormatCommand(resp))
	}
}

func TestFormatHex(t *testing.T) {
	out := FormatHex(make([]byte, 17))
	if strings.Count(out, "00") != 17 || !strings.Contains(out, "\n        ") {
		t.Errorf("FormatHex output %q", out)
	}
}
