// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rdm

import (
	"fmt"
	"strings"
)

// FormatCommand formats a command into a human-readable string
func FormatCommand(c *Command) string {
	result := fmt.Sprintf("%s %s (0x%04X) %s -> %s tn=%d sub=%d",
		FormatCommandClass(c.CommandClass), ParameterName(c.ParameterID), uint16(c.ParameterID),
		c.Source, c.Destination, c.TransactionNumber, c.SubDevice)

	if c.IsResponse() && c.CommandClass != DiscoveryCommandResponse {
		result += " " + FormatResponseType(c.ResponseType())
		if c.MessageCount > 0 {
			result += fmt.Sprintf(" queued=%d", c.MessageCount)
		}
	} else if !c.IsResponse() {
		result += fmt.Sprintf(" port=%d", c.PortID)
	}
	result += fmt.Sprintf(" pdl=%d\n", len(c.ParameterData))

	if len(c.ParameterData) > 0 {
		result += FormatParameterData(c)
	}
	return result
}

// FormatCommandClass returns the human-readable name for a command class
func FormatCommandClass(cc CommandClass) string {
	switch cc {
	case DiscoveryCommand:
		return "DISCOVERY"
	case DiscoveryCommandResponse:
		return "DISCOVERY_RESPONSE"
	case GetCommand:
		return "GET"
	case GetCommandResponse:
		return "GET_RESPONSE"
	case SetCommand:
		return "SET"
	case SetCommandResponse:
		return "SET_RESPONSE"
	default:
		return fmt.Sprintf("CC_0x%02X", uint8(cc))
	}
}

// FormatResponseType returns the human-readable name for a response type
func FormatResponseType(rt ResponseType) string {
	switch rt {
	case ResponseAck:
		return "ACK"
	case ResponseAckTimer:
		return "ACK_TIMER"
	case ResponseNackReason:
		return "NACK_REASON"
	case ResponseAckOverflow:
		return "ACK_OVERFLOW"
	default:
		return fmt.Sprintf("RESPONSE_0x%02X", uint8(rt))
	}
}

// FormatNackReason returns the human-readable name for a NACK reason
func FormatNackReason(r NackReason) string {
	switch r {
	case NackUnknownPID:
		return "UNKNOWN_PID"
	case NackFormatError:
		return "FORMAT_ERROR"
	case NackHardwareFault:
		return "HARDWARE_FAULT"
	case NackProxyReject:
		return "PROXY_REJECT"
	case NackWriteProtect:
		return "WRITE_PROTECT"
	case NackUnsupportedCmdClass:
		return "UNSUPPORTED_COMMAND_CLASS"
	case NackDataOutOfRange:
		return "DATA_OUT_OF_RANGE"
	case NackBufferFull:
		return "BUFFER_FULL"
	case NackPacketSizeUnsupported:
		return "PACKET_SIZE_UNSUPPORTED"
	case NackSubDeviceOutOfRange:
		return "SUB_DEVICE_OUT_OF_RANGE"
	case NackProxyBufferFull:
		return "PROXY_BUFFER_FULL"
	default:
		return fmt.Sprintf("NACK_0x%04X", uint16(r))
	}
}

// FormatParameterData decodes the parameter data of known PIDs
func FormatParameterData(c *Command) string {
	pd := c.ParameterData

	if reason, ok := c.NackReason(); ok {
		return fmt.Sprintf("  Reason: %s\n", FormatNackReason(reason))
	}

	switch c.ParameterID {
	case PIDDiscUniqueBranch:
		if lower, upper, ok := DiscoveryBounds(c); ok {
			return fmt.Sprintf("  Range: %s - %s\n", lower, upper)
		}

	case PIDDiscMute, PIDDiscUnMute:
		if control, ok := MuteControl(c); ok {
			result := fmt.Sprintf("  Control: 0x%04X%s\n", control, formatMuteControl(control))
			if len(pd) == 8 {
				result += fmt.Sprintf("  Binding UID: %s\n", ReadUID(pd[2:]))
			}
			return result
		}

	case PIDDeviceInfo:
		var info DeviceInfo
		if err := info.UnmarshalBinary(pd); err == nil {
			return FormatDeviceInfo(info)
		}

	case PIDDeviceLabel, PIDManufacturerLabel, PIDDeviceModelDescription, PIDSoftwareVersionLabel:
		return fmt.Sprintf("  Label: %q\n", ParseLabel(pd))

	case PIDDMXStartAddress:
		if addr, err := ParseUint16Data(pd); err == nil {
			return fmt.Sprintf("  Start Address: %d\n", addr)
		}

	case PIDIdentifyDevice:
		if len(pd) == 1 {
			state := "off"
			if pd[0] != 0 {
				state = "on"
			}
			return fmt.Sprintf("  Identify: %s\n", state)
		}

	case PIDSupportedParameters:
		if pids, err := ParseSupportedParameters(pd); err == nil {
			names := make([]string, len(pids))
			for i, p := range pids {
				names[i] = ParameterName(p)
			}
			return fmt.Sprintf("  Parameters: %s\n", strings.Join(names, ", "))
		}
	}

	return FormatHex(pd)
}

// FormatDeviceInfo formats a DEVICE_INFO parameter
func FormatDeviceInfo(d DeviceInfo) string {
	var s strings.Builder
	fmt.Fprintf(&s, "  Protocol: %d.%d  Model: 0x%04X  Category: 0x%04X  Software: 0x%08X\n",
		d.ProtocolVersion>>8, d.ProtocolVersion&0xFF, d.DeviceModelID, d.ProductCategory, d.SoftwareVersionID)
	start := fmt.Sprintf("%d", d.DMXStartAddress)
	if d.DMXStartAddress == NoStartAddress {
		start = "none"
	}
	fmt.Fprintf(&s, "  Footprint: %d  Start: %s  Personality: %d/%d  Sub-devices: %d  Sensors: %d\n",
		d.DMXFootprint, start, d.CurrentPersonality, d.PersonalityCount, d.SubDeviceCount, d.SensorCount)
	return s.String()
}

// FormatHex renders raw bytes as a hex dump, 16 per row
func FormatHex(data []byte) string {
	result := "  Data: "
	for i, b := range data {
		if i > 0 && i%16 == 0 {
			result += "\n        "
		}
		result += fmt.Sprintf("%02X ", b)
	}
	return result + "\n"
}

func formatMuteControl(control uint16) string {
	var flags []string
	if control&MuteControlManagedProxy != 0 {
		flags = append(flags, "managed-proxy")
	}
	if control&MuteControlSubDevice != 0 {
		flags = append(flags, "sub-device")
	}
	if control&MuteControlBootLoader != 0 {
		flags = append(flags, "boot-loader")
	}
	if control&MuteControlProxied != 0 {
		flags = append(flags, "proxied")
	}
	if len(flags) == 0 {
		return ""
	}
	return " (" + strings.Join(flags, ", ") + ")"
}
