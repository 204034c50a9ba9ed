// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package responder implements the device side of RDM: discovery
// participation, mute state and the GET/SET parameters of a simple fixture.
// The fixture's behaviour is supplied through the Device interface.
package responder

import (
	"sync"

	"github.com/Thermoquad/dmxstat/pkg/dmx"
	"github.com/Thermoquad/dmxstat/pkg/rdm"
)

// Device is the capability a responder drives: it is started and stopped
// with the responder and receives its footprint of every DMX frame.
type Device interface {
	Start()
	Stop()
	Output(data []byte)
}

// Config describes a responder.
type Config struct {
	UID                  rdm.UID
	Info                 rdm.DeviceInfo
	Label                string
	ManufacturerLabel    string
	ModelDescription     string
	SoftwareVersionLabel string
	Device               Device // optional
}

// Responder answers RDM requests addressed to one UID. It is safe for
// concurrent use.
type Responder struct {
	mu                   sync.Mutex
	uid                  rdm.UID
	info                 rdm.DeviceInfo
	label                string
	manufacturerLabel    string
	modelDescription     string
	softwareVersionLabel string
	muted                bool
	identify             bool
	running              bool
	device               Device
	buf                  [rdm.MaxPacketSize]byte
}

// New creates a responder. A zero protocol version is filled in, and a
// zero footprint reports no start address.
func New(cfg Config) *Responder {
	info := cfg.Info
	if info.ProtocolVersion == 0 {
		info.ProtocolVersion = rdm.DefaultProtocolVersion
	}
	if info.DMXFootprint == 0 {
		info.DMXStartAddress = rdm.NoStartAddress
	} else if info.DMXStartAddress == 0 || info.DMXStartAddress > dmx.MaxSlots {
		info.DMXStartAddress = 1
	}
	if info.PersonalityCount == 0 {
		info.PersonalityCount = 1
		info.CurrentPersonality = 1
	}
	return &Responder{
		uid:                  cfg.UID,
		info:                 info,
		label:                truncate(cfg.Label),
		manufacturerLabel:    truncate(cfg.ManufacturerLabel),
		modelDescription:     truncate(cfg.ModelDescription),
		softwareVersionLabel: truncate(cfg.SoftwareVersionLabel),
		device:               cfg.Device,
	}
}

func truncate(s string) string {
	if len(s) > rdm.MaxLabelSize {
		return s[:rdm.MaxLabelSize]
	}
	return s
}

// UID returns the responder's UID.
func (r *Responder) UID() rdm.UID {
	return r.uid
}

// Muted reports whether the responder is muted for discovery.
func (r *Responder) Muted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.muted
}

// Identify reports whether identify mode is on.
func (r *Responder) Identify() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.identify
}

// Label returns the device label.
func (r *Responder) Label() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.label
}

// DeviceInfo returns the current DEVICE_INFO contents.
func (r *Responder) DeviceInfo() rdm.DeviceInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info
}

// Start starts the attached device.
func (r *Responder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	if r.device != nil {
		r.device.Start()
	}
}

// Stop stops the attached device.
func (r *Responder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.running = false
	if r.device != nil {
		r.device.Stop()
	}
}

// HandleFrame processes one frame seen on the line, start code first. It
// returns the bytes to send back, if any, and whether they are a discovery
// reply (sent without a break). DMX frames are passed to the device.
func (r *Responder) HandleFrame(frame []byte) (reply []byte, dub bool) {
	if len(frame) == 0 {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	switch frame[0] {
	case dmx.NullStartCode:
		r.outputLocked(frame[1:])
		return nil, false
	case rdm.StartCode:
	default:
		return nil, false
	}

	c, err := rdm.Decode(frame)
	if err != nil || c.IsResponse() || !r.uid.Matches(c.Destination) {
		return nil, false
	}

	if c.CommandClass == rdm.DiscoveryCommand {
		return r.handleDiscoveryLocked(c)
	}

	resp := r.handleParameterLocked(c)
	if resp == nil || c.Destination != r.uid {
		// Broadcasts are applied without a reply
		return nil, false
	}
	n, err := rdm.EncodeInto(r.buf[:], resp)
	if err != nil {
		return nil, false
	}
	out := make([]byte, n)
	copy(out, r.buf[:n])
	return out, false
}

func (r *Responder) outputLocked(slots []byte) {
	if r.device == nil || !r.running || r.info.DMXFootprint == 0 {
		return
	}
	start := int(r.info.DMXStartAddress) - 1
	if start < 0 || start >= len(slots) {
		return
	}
	end := start + int(r.info.DMXFootprint)
	if end > len(slots) {
		end = len(slots)
	}
	r.device.Output(slots[start:end])
}

func (r *Responder) handleDiscoveryLocked(c *rdm.Command) ([]byte, bool) {
	switch c.ParameterID {
	case rdm.PIDDiscUniqueBranch:
		if r.muted {
			return nil, false
		}
		lower, upper, ok := rdm.DiscoveryBounds(c)
		if !ok || r.uid < lower || r.uid > upper {
			return nil, false
		}
		reply := rdm.EncodeDUBReply(r.uid)
		return reply[:], true

	case rdm.PIDDiscMute, rdm.PIDDiscUnMute:
		r.muted = c.ParameterID == rdm.PIDDiscMute
		if c.Destination != r.uid {
			return nil, false
		}
		b, err := rdm.Encode(c.Respond(r.uid, rdm.ResponseAck, rdm.Uint16Data(0)))
		if err != nil {
			return nil, false
		}
		return b, false
	}
	return nil, false
}
