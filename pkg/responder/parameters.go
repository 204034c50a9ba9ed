// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package responder

import (
	"github.com/Thermoquad/dmxstat/pkg/dmx"
	"github.com/Thermoquad/dmxstat/pkg/rdm"
)

// parameter handles GET and/or SET of one PID. A nil handler means the
// command class is not supported.
type parameter struct {
	get func(r *Responder) []byte
	set func(r *Responder, data []byte) (rdm.NackReason, bool)
}

var parameters = map[rdm.ParameterID]parameter{
	rdm.PIDSupportedParameters: {
		get: func(r *Responder) []byte {
			return rdm.SupportedParametersData(optionalParameters)
		},
	},
	rdm.PIDDeviceInfo: {
		get: func(r *Responder) []byte {
			b, _ := r.info.MarshalBinary()
			return b
		},
	},
	rdm.PIDDeviceLabel: {
		get: func(r *Responder) []byte { return rdm.LabelData(r.label) },
		set: func(r *Responder, data []byte) (rdm.NackReason, bool) {
			if len(data) > rdm.MaxLabelSize {
				return rdm.NackFormatError, false
			}
			r.label = rdm.ParseLabel(data)
			return 0, true
		},
	},
	rdm.PIDManufacturerLabel: {
		get: func(r *Responder) []byte { return rdm.LabelData(r.manufacturerLabel) },
	},
	rdm.PIDDeviceModelDescription: {
		get: func(r *Responder) []byte { return rdm.LabelData(r.modelDescription) },
	},
	rdm.PIDSoftwareVersionLabel: {
		get: func(r *Responder) []byte { return rdm.LabelData(r.softwareVersionLabel) },
	},
	rdm.PIDDMXStartAddress: {
		get: func(r *Responder) []byte { return rdm.Uint16Data(r.info.DMXStartAddress) },
		set: func(r *Responder, data []byte) (rdm.NackReason, bool) {
			addr, err := rdm.ParseUint16Data(data)
			if err != nil {
				return rdm.NackFormatError, false
			}
			if addr < 1 || addr > dmx.MaxSlots || r.info.DMXFootprint == 0 {
				return rdm.NackDataOutOfRange, false
			}
			r.info.DMXStartAddress = addr
			return 0, true
		},
	},
	rdm.PIDIdentifyDevice: {
		get: func(r *Responder) []byte {
			if r.identify {
				return []byte{1}
			}
			return []byte{0}
		},
		set: func(r *Responder, data []byte) (rdm.NackReason, bool) {
			if len(data) != 1 {
				return rdm.NackFormatError, false
			}
			if data[0] > 1 {
				return rdm.NackDataOutOfRange, false
			}
			r.identify = data[0] == 1
			return 0, true
		},
	},
}

// optionalParameters are listed by SUPPORTED_PARAMETERS; the PIDs every
// responder must implement are left out.
var optionalParameters = []rdm.ParameterID{
	rdm.PIDDeviceLabel,
	rdm.PIDManufacturerLabel,
	rdm.PIDDeviceModelDescription,
}

// handleParameterLocked answers a GET or SET. It returns nil for requests
// that get no response at all.
func (r *Responder) handleParameterLocked(c *rdm.Command) *rdm.Command {
	if c.CommandClass != rdm.GetCommand && c.CommandClass != rdm.SetCommand {
		return nil
	}

	// No sub-devices are implemented; a SET to all sub-devices applies to the root
	if c.SubDevice != rdm.RootDevice && !(c.SubDevice == rdm.AllSubDevices && c.CommandClass == rdm.SetCommand) {
		return c.Nack(r.uid, rdm.NackSubDeviceOutOfRange)
	}

	p, ok := parameters[c.ParameterID]
	if !ok {
		return c.Nack(r.uid, rdm.NackUnknownPID)
	}

	if c.CommandClass == rdm.GetCommand {
		if p.get == nil {
			return c.Nack(r.uid, rdm.NackUnsupportedCmdClass)
		}
		if len(c.ParameterData) != 0 {
			return c.Nack(r.uid, rdm.NackFormatError)
		}
		return c.Respond(r.uid, rdm.ResponseAck, p.get(r))
	}

	if p.set == nil {
		return c.Nack(r.uid, rdm.NackUnsupportedCmdClass)
	}
	if reason, ok := p.set(r, c.ParameterData); !ok {
		return c.Nack(r.uid, reason)
	}
	return c.Respond(r.uid, rdm.ResponseAck, nil)
}
