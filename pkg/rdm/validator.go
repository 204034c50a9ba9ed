// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rdm

import "fmt"

// AnomalyType represents different types of message anomalies
type AnomalyType int

const (
	AnomalyLengthMismatch AnomalyType = iota
	AnomalyInvalidValue
	AnomalyInvalidCommandClass
	AnomalyInvalidResponseType
	AnomalySubDeviceRange
	AnomalyBroadcastResponse
	AnomalyNack
	AnomalyChecksumError
	AnomalyDecodeError
)

// String returns a short label for the anomaly type
func (a AnomalyType) String() string {
	switch a {
	case AnomalyLengthMismatch:
		return "length mismatch"
	case AnomalyInvalidValue:
		return "invalid value"
	case AnomalyInvalidCommandClass:
		return "invalid command class"
	case AnomalyInvalidResponseType:
		return "invalid response type"
	case AnomalySubDeviceRange:
		return "sub-device out of range"
	case AnomalyBroadcastResponse:
		return "broadcast response"
	case AnomalyNack:
		return "nack"
	case AnomalyChecksumError:
		return "checksum error"
	case AnomalyDecodeError:
		return "decode error"
	default:
		return "unknown"
	}
}

// ValidationError represents a message validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateCommand checks a decoded command for protocol anomalies.
// Returns a slice of validation errors (empty if the command is valid)
func ValidateCommand(c *Command) []ValidationError {
	errors := []ValidationError{}

	switch c.CommandClass {
	case DiscoveryCommand, DiscoveryCommandResponse:
		errors = append(errors, validateDiscovery(c)...)
	case GetCommand, GetCommandResponse, SetCommand, SetCommandResponse:
		errors = append(errors, validateSubDevice(c)...)
		errors = append(errors, validateParameterLength(c)...)
		errors = append(errors, validateParameterValue(c)...)
	default:
		return []ValidationError{{
			Type:    AnomalyInvalidCommandClass,
			Message: fmt.Sprintf("Invalid command class 0x%02X", uint8(c.CommandClass)),
			Details: map[string]interface{}{"command_class": uint8(c.CommandClass)},
		}}
	}

	if c.IsResponse() {
		errors = append(errors, validateResponse(c)...)
	}

	return errors
}

// validateDiscovery validates discovery class messages
func validateDiscovery(c *Command) []ValidationError {
	errors := []ValidationError{}

	if c.SubDevice != RootDevice {
		errors = append(errors, ValidationError{
			Type:    AnomalySubDeviceRange,
			Message: fmt.Sprintf("Discovery message addressed to sub-device %d (must be root)", c.SubDevice),
			Details: map[string]interface{}{"sub_device": c.SubDevice},
		})
	}

	if c.ParameterID == PIDDiscUniqueBranch && c.CommandClass == DiscoveryCommand {
		lower, upper, ok := DiscoveryBounds(c)
		if !ok {
			errors = append(errors, ValidationError{
				Type:    AnomalyLengthMismatch,
				Message: fmt.Sprintf("DISC_UNIQUE_BRANCH parameter data is %d bytes (expected 12)", len(c.ParameterData)),
				Details: map[string]interface{}{"length": len(c.ParameterData), "expected": 2 * UIDSize},
			})
		} else if lower > upper {
			errors = append(errors, ValidationError{
				Type:    AnomalyInvalidValue,
				Message: fmt.Sprintf("DISC_UNIQUE_BRANCH lower bound %s above upper bound %s", lower, upper),
				Details: map[string]interface{}{"lower": lower, "upper": upper},
			})
		}
	}

	if (c.ParameterID == PIDDiscMute || c.ParameterID == PIDDiscUnMute) && c.CommandClass == DiscoveryCommandResponse {
		if n := len(c.ParameterData); n != 2 && n != 8 {
			errors = append(errors, ValidationError{
				Type:    AnomalyLengthMismatch,
				Message: fmt.Sprintf("%s response parameter data is %d bytes (expected 2 or 8)", ParameterName(c.ParameterID), n),
				Details: map[string]interface{}{"length": n},
			})
		}
	}

	return errors
}

// validateSubDevice checks the sub-device field of GET/SET messages
func validateSubDevice(c *Command) []ValidationError {
	if c.SubDevice == AllSubDevices {
		if c.CommandClass == GetCommand {
			return []ValidationError{{
				Type:    AnomalySubDeviceRange,
				Message: "GET addressed to all sub-devices",
				Details: map[string]interface{}{"sub_device": c.SubDevice},
			}}
		}
		return nil
	}
	if c.SubDevice > MaxSubDevice {
		return []ValidationError{{
			Type:    AnomalySubDeviceRange,
			Message: fmt.Sprintf("Sub-device %d out of range (max %d)", c.SubDevice, MaxSubDevice),
			Details: map[string]interface{}{"sub_device": c.SubDevice, "max": MaxSubDevice},
		}}
	}
	return nil
}

// validateParameterLength compares the PDL against fixed sizes of known PIDs
func validateParameterLength(c *Command) []ValidationError {
	info, ok := pidTable[c.ParameterID]
	if !ok {
		return nil
	}

	expected := -1
	switch c.CommandClass {
	case GetCommand:
		expected = info.getPDL
	case SetCommand:
		expected = info.setPDL
	case GetCommandResponse:
		if c.ResponseType() == ResponseAck {
			expected = info.getRespPD
		}
	}
	if expected < 0 || len(c.ParameterData) == expected {
		return nil
	}

	return []ValidationError{{
		Type: AnomalyLengthMismatch,
		Message: fmt.Sprintf("%s parameter data length mismatch: received=%d, expected=%d",
			ParameterName(c.ParameterID), len(c.ParameterData), expected),
		Details: map[string]interface{}{
			"pid":      uint16(c.ParameterID),
			"received": len(c.ParameterData),
			"expected": expected,
		},
	}}
}

// validateParameterValue checks values with a defined legal range
func validateParameterValue(c *Command) []ValidationError {
	carriesValue := c.CommandClass == SetCommand ||
		(c.CommandClass == GetCommandResponse && c.ResponseType() == ResponseAck)
	if !carriesValue {
		return nil
	}

	switch c.ParameterID {
	case PIDDMXStartAddress:
		addr, err := ParseUint16Data(c.ParameterData)
		if err != nil {
			return nil
		}
		if (addr < 1 || addr > 512) && !(addr == NoStartAddress && c.IsResponse()) {
			return []ValidationError{{
				Type:    AnomalyInvalidValue,
				Message: fmt.Sprintf("DMX start address %d out of range (1-512)", addr),
				Details: map[string]interface{}{"value": addr, "min": 1, "max": 512},
			}}
		}
	case PIDIdentifyDevice:
		if len(c.ParameterData) == 1 && c.ParameterData[0] > 1 {
			return []ValidationError{{
				Type:    AnomalyInvalidValue,
				Message: fmt.Sprintf("IDENTIFY_DEVICE value %d (valid 0-1)", c.ParameterData[0]),
				Details: map[string]interface{}{"value": c.ParameterData[0]},
			}}
		}
	}
	return nil
}

// validateResponse checks fields that only apply to responses
func validateResponse(c *Command) []ValidationError {
	errors := []ValidationError{}

	if c.Destination.IsBroadcast() {
		errors = append(errors, ValidationError{
			Type:    AnomalyBroadcastResponse,
			Message: fmt.Sprintf("Response from %s addressed to broadcast %s", c.Source, c.Destination),
			Details: map[string]interface{}{"source": c.Source, "destination": c.Destination},
		})
	}

	if c.CommandClass == DiscoveryCommandResponse {
		return errors
	}

	switch c.ResponseType() {
	case ResponseAck, ResponseAckTimer, ResponseAckOverflow:
	case ResponseNackReason:
		reason, ok := c.NackReason()
		if !ok {
			errors = append(errors, ValidationError{
				Type:    AnomalyLengthMismatch,
				Message: "NACK_REASON response without reason code",
				Details: map[string]interface{}{"length": len(c.ParameterData)},
			})
			break
		}
		errors = append(errors, ValidationError{
			Type:    AnomalyNack,
			Message: fmt.Sprintf("%s NACK: %s", ParameterName(c.ParameterID), FormatNackReason(reason)),
			Details: map[string]interface{}{"reason": uint16(reason)},
		})
	default:
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidResponseType,
			Message: fmt.Sprintf("Invalid response type 0x%02X", c.PortID),
			Details: map[string]interface{}{"response_type": c.PortID},
		})
	}

	return errors
}
