// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package rdm implements the ANSI E1.20 Remote Device Management message
// layer that rides on a DMX512 line.
//
// It provides packet encoding/decoding with checksum validation, the
// Discovery Unique Branch reply codec, UID handling, parameter data helpers
// and payload formatting. It has no knowledge of timing or bus direction.
package rdm

import "time"

// Start codes
const (
	StartCode    = 0xCC
	SubStartCode = 0x01
)

// Packet size limits
const (
	HeaderSize           = 24  // start code through parameter data length
	ChecksumSize         = 2   // trailing 16-bit sum
	MaxParameterDataSize = 231 // PDL upper bound
	MinPacketSize        = HeaderSize + ChecksumSize
	MaxMessageLength     = HeaderSize + MaxParameterDataSize // value of the message length field
	MaxPacketSize        = MaxMessageLength + ChecksumSize
)

// Header field offsets
const (
	offStartCode    = 0
	offSubStartCode = 1
	offLength       = 2
	offDestination  = 3
	offSource       = 9
	offTransaction  = 15
	offPortID       = 16
	offMessageCount = 17
	offSubDevice    = 18
	offCommandClass = 20
	offParameterID  = 21
	offPDL          = 23
	offParamData    = 24
)

// Discovery Unique Branch reply layout
const (
	DUBPreambleByte   = 0xFE
	DUBSeparatorByte  = 0xAA
	DUBMaxPreamble    = 7
	DUBEncodedUIDSize = 12
	DUBChecksumSize   = 4
	DUBReplySize      = DUBMaxPreamble + 1 + DUBEncodedUIDSize + DUBChecksumSize
)

// Controller timing (E1.20 table 3-2)
const (
	ResponseTimeout  = 2800 * time.Microsecond
	DiscoveryTimeout = 5800 * time.Microsecond
	BroadcastGap     = 176 * time.Microsecond
)

// RootDevice is the sub-device number of the root device.
const RootDevice uint16 = 0x0000

// AllSubDevices addresses every sub-device of a responder.
const AllSubDevices uint16 = 0xFFFF

// MaxSubDevice is the highest addressable sub-device number.
const MaxSubDevice uint16 = 0x0200

// CommandClass identifies the kind of RDM message.
type CommandClass uint8

// Command class values
const (
	DiscoveryCommand         CommandClass = 0x10
	DiscoveryCommandResponse CommandClass = 0x11
	GetCommand               CommandClass = 0x20
	GetCommandResponse       CommandClass = 0x21
	SetCommand               CommandClass = 0x30
	SetCommandResponse       CommandClass = 0x31
)

// IsResponse reports whether the class is one of the *_RESPONSE variants.
func (c CommandClass) IsResponse() bool {
	return c == DiscoveryCommandResponse || c == GetCommandResponse || c == SetCommandResponse
}

// Response returns the matching response class for a request class.
func (c CommandClass) Response() CommandClass {
	if c.IsResponse() {
		return c
	}
	return c + 1
}

// ResponseType is carried in the port ID slot of a response.
type ResponseType uint8

// Response type values
const (
	ResponseAck         ResponseType = 0x00
	ResponseAckTimer    ResponseType = 0x01
	ResponseNackReason  ResponseType = 0x02
	ResponseAckOverflow ResponseType = 0x03
)

// NackReason is the two byte reason code of a NACK_REASON response.
type NackReason uint16

// NACK reason codes
const (
	NackUnknownPID            NackReason = 0x0000
	NackFormatError           NackReason = 0x0001
	NackHardwareFault         NackReason = 0x0002
	NackProxyReject           NackReason = 0x0003
	NackWriteProtect          NackReason = 0x0004
	NackUnsupportedCmdClass   NackReason = 0x0005
	NackDataOutOfRange        NackReason = 0x0006
	NackBufferFull            NackReason = 0x0007
	NackPacketSizeUnsupported NackReason = 0x0008
	NackSubDeviceOutOfRange   NackReason = 0x0009
	NackProxyBufferFull       NackReason = 0x000A
)

// ParameterID identifies the parameter a message refers to.
type ParameterID uint16

// Discovery parameters
const (
	PIDDiscUniqueBranch ParameterID = 0x0001
	PIDDiscMute         ParameterID = 0x0002
	PIDDiscUnMute       ParameterID = 0x0003
)

// Network management and status parameters
const (
	PIDProxiedDevices     ParameterID = 0x0010
	PIDProxiedDeviceCount ParameterID = 0x0011
	PIDCommsStatus        ParameterID = 0x0015
	PIDQueuedMessage      ParameterID = 0x0020
	PIDStatusMessages     ParameterID = 0x0030
)

// Product information parameters
const (
	PIDSupportedParameters       ParameterID = 0x0050
	PIDParameterDescription      ParameterID = 0x0051
	PIDDeviceInfo                ParameterID = 0x0060
	PIDProductDetailIDList       ParameterID = 0x0070
	PIDDeviceModelDescription    ParameterID = 0x0080
	PIDManufacturerLabel         ParameterID = 0x0081
	PIDDeviceLabel               ParameterID = 0x0082
	PIDFactoryDefaults           ParameterID = 0x0090
	PIDSoftwareVersionLabel      ParameterID = 0x00C0
	PIDBootSoftwareVersionID     ParameterID = 0x00C1
	PIDDMXPersonality            ParameterID = 0x00E0
	PIDDMXPersonalityDescription ParameterID = 0x00E1
	PIDDMXStartAddress           ParameterID = 0x00F0
	PIDSlotInfo                  ParameterID = 0x0120
	PIDSensorDefinition          ParameterID = 0x0200
	PIDSensorValue               ParameterID = 0x0201
	PIDDeviceHours               ParameterID = 0x0400
	PIDIdentifyDevice            ParameterID = 0x1000
	PIDResetDevice               ParameterID = 0x1001
)

// Discovery mute control field bits
const (
	MuteControlManagedProxy uint16 = 0x0001
	MuteControlSubDevice    uint16 = 0x0002
	MuteControlBootLoader   uint16 = 0x0004
	MuteControlProxied      uint16 = 0x0008
)

// DeviceInfoSize is the parameter data length of a DEVICE_INFO response.
const DeviceInfoSize = 19

// MaxLabelSize bounds text labels such as DEVICE_LABEL.
const MaxLabelSize = 32
