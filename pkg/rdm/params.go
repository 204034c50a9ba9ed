// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rdm

import (
	"encoding/binary"
	"fmt"
)

// DeviceInfo is the DEVICE_INFO parameter (E1.20 section 10.5.1).
type DeviceInfo struct {
	ProtocolVersion    uint16
	DeviceModelID      uint16
	ProductCategory    uint16
	SoftwareVersionID  uint32
	DMXFootprint       uint16
	CurrentPersonality uint8
	PersonalityCount   uint8
	DMXStartAddress    uint16
	SubDeviceCount     uint16
	SensorCount        uint8
}

// DefaultProtocolVersion is RDM protocol 1.0.
const DefaultProtocolVersion uint16 = 0x0100

// NoStartAddress is reported by devices without a DMX footprint.
const NoStartAddress uint16 = 0xFFFF

// MarshalBinary encodes the device info to its 19 byte wire form.
func (d DeviceInfo) MarshalBinary() ([]byte, error) {
	b := make([]byte, DeviceInfoSize)
	binary.BigEndian.PutUint16(b[0:], d.ProtocolVersion)
	binary.BigEndian.PutUint16(b[2:], d.DeviceModelID)
	binary.BigEndian.PutUint16(b[4:], d.ProductCategory)
	binary.BigEndian.PutUint32(b[6:], d.SoftwareVersionID)
	binary.BigEndian.PutUint16(b[10:], d.DMXFootprint)
	b[12] = d.CurrentPersonality
	b[13] = d.PersonalityCount
	binary.BigEndian.PutUint16(b[14:], d.DMXStartAddress)
	binary.BigEndian.PutUint16(b[16:], d.SubDeviceCount)
	b[18] = d.SensorCount
	return b, nil
}

// UnmarshalBinary decodes a DEVICE_INFO parameter.
func (d *DeviceInfo) UnmarshalBinary(b []byte) error {
	if len(b) != DeviceInfoSize {
		return fmt.Errorf("%w: DEVICE_INFO is %d bytes, expected %d", ErrLength, len(b), DeviceInfoSize)
	}
	d.ProtocolVersion = binary.BigEndian.Uint16(b[0:])
	d.DeviceModelID = binary.BigEndian.Uint16(b[2:])
	d.ProductCategory = binary.BigEndian.Uint16(b[4:])
	d.SoftwareVersionID = binary.BigEndian.Uint32(b[6:])
	d.DMXFootprint = binary.BigEndian.Uint16(b[10:])
	d.CurrentPersonality = b[12]
	d.PersonalityCount = b[13]
	d.DMXStartAddress = binary.BigEndian.Uint16(b[14:])
	d.SubDeviceCount = binary.BigEndian.Uint16(b[16:])
	d.SensorCount = b[18]
	return nil
}

// Uint16Data encodes a single big-endian uint16 parameter.
func Uint16Data(v uint16) []byte {
	return []byte{byte(v >> 8), byte(v)}
}

// ParseUint16Data decodes a single big-endian uint16 parameter.
func ParseUint16Data(b []byte) (uint16, error) {
	if len(b) != 2 {
		return 0, fmt.Errorf("%w: expected 2 bytes, got %d", ErrLength, len(b))
	}
	return binary.BigEndian.Uint16(b), nil
}

// LabelData encodes a text label, truncated to MaxLabelSize.
func LabelData(s string) []byte {
	if len(s) > MaxLabelSize {
		s = s[:MaxLabelSize]
	}
	return []byte(s)
}

// ParseLabel decodes a text label, dropping trailing NUL padding.
func ParseLabel(b []byte) string {
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	if len(b) > MaxLabelSize {
		b = b[:MaxLabelSize]
	}
	return string(b)
}

// SupportedParametersData encodes a SUPPORTED_PARAMETERS list.
func SupportedParametersData(pids []ParameterID) []byte {
	b := make([]byte, 0, 2*len(pids))
	for _, p := range pids {
		b = append(b, byte(p>>8), byte(p))
	}
	return b
}

// ParseSupportedParameters decodes a SUPPORTED_PARAMETERS list.
func ParseSupportedParameters(b []byte) ([]ParameterID, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("%w: odd parameter list length %d", ErrLength, len(b))
	}
	pids := make([]ParameterID, 0, len(b)/2)
	for i := 0; i < len(b); i += 2 {
		pids = append(pids, ParameterID(binary.BigEndian.Uint16(b[i:])))
	}
	return pids, nil
}

// pidInfo describes how a parameter is named and sized for the formatter
// and validator. A negative length means variable.
type pidInfo struct {
	name      string
	getPDL    int // request PDL for GET
	getRespPD int // response PDL for GET
	setPDL    int // request PDL for SET
}

var pidTable = map[ParameterID]pidInfo{
	PIDDiscUniqueBranch:          {"DISC_UNIQUE_BRANCH", -1, -1, -1},
	PIDDiscMute:                  {"DISC_MUTE", -1, -1, -1},
	PIDDiscUnMute:                {"DISC_UN_MUTE", -1, -1, -1},
	PIDProxiedDevices:            {"PROXIED_DEVICES", 0, -1, -1},
	PIDProxiedDeviceCount:        {"PROXIED_DEVICE_COUNT", 0, 3, -1},
	PIDCommsStatus:               {"COMMS_STATUS", 0, 6, 0},
	PIDQueuedMessage:             {"QUEUED_MESSAGE", 1, -1, -1},
	PIDStatusMessages:            {"STATUS_MESSAGES", 1, -1, -1},
	PIDSupportedParameters:       {"SUPPORTED_PARAMETERS", 0, -1, -1},
	PIDParameterDescription:      {"PARAMETER_DESCRIPTION", 2, -1, -1},
	PIDDeviceInfo:                {"DEVICE_INFO", 0, DeviceInfoSize, -1},
	PIDProductDetailIDList:       {"PRODUCT_DETAIL_ID_LIST", 0, -1, -1},
	PIDDeviceModelDescription:    {"DEVICE_MODEL_DESCRIPTION", 0, -1, -1},
	PIDManufacturerLabel:         {"MANUFACTURER_LABEL", 0, -1, -1},
	PIDDeviceLabel:               {"DEVICE_LABEL", 0, -1, -1},
	PIDFactoryDefaults:           {"FACTORY_DEFAULTS", 0, 1, 0},
	PIDSoftwareVersionLabel:      {"SOFTWARE_VERSION_LABEL", 0, -1, -1},
	PIDBootSoftwareVersionID:     {"BOOT_SOFTWARE_VERSION_ID", 0, 4, -1},
	PIDDMXPersonality:            {"DMX_PERSONALITY", 0, 2, 1},
	PIDDMXPersonalityDescription: {"DMX_PERSONALITY_DESCRIPTION", 1, -1, -1},
	PIDDMXStartAddress:           {"DMX_START_ADDRESS", 0, 2, 2},
	PIDSlotInfo:                  {"SLOT_INFO", 0, -1, -1},
	PIDSensorDefinition:          {"SENSOR_DEFINITION", 1, -1, -1},
	PIDSensorValue:               {"SENSOR_VALUE", 1, 9, 1},
	PIDDeviceHours:               {"DEVICE_HOURS", 0, 4, 4},
	PIDIdentifyDevice:            {"IDENTIFY_DEVICE", 0, 1, 1},
	PIDResetDevice:               {"RESET_DEVICE", -1, -1, 1},
}

// ParameterName returns the E1.20 name of a parameter, or a hex fallback.
func ParameterName(pid ParameterID) string {
	if info, ok := pidTable[pid]; ok {
		return info.name
	}
	if pid >= 0x8000 && pid <= 0xFFDF {
		return fmt.Sprintf("MANUFACTURER_PID_0x%04X", uint16(pid))
	}
	return fmt.Sprintf("PID_0x%04X", uint16(pid))
}

// ParseParameterName resolves a parameter by its E1.20 name.
func ParseParameterName(name string) (ParameterID, bool) {
	for pid, info := range pidTable {
		if info.name == name {
			return pid, true
		}
	}
	return 0, false
}
