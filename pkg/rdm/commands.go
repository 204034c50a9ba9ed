// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rdm

// Command constructors for the requests a controller issues. Source,
// transaction number and port ID are filled in by the transaction layer.

// NewDiscUniqueBranch creates a DISC_UNIQUE_BRANCH request for [lower, upper].
func NewDiscUniqueBranch(lower, upper UID) *Command {
	data := make([]byte, 2*UIDSize)
	PutUID(data[0:], lower)
	PutUID(data[UIDSize:], upper)
	return &Command{
		Destination:   BroadcastUID,
		CommandClass:  DiscoveryCommand,
		ParameterID:   PIDDiscUniqueBranch,
		ParameterData: data,
	}
}

// DiscoveryBounds returns the range carried by a DISC_UNIQUE_BRANCH request.
func DiscoveryBounds(c *Command) (lower, upper UID, ok bool) {
	if c.ParameterID != PIDDiscUniqueBranch || len(c.ParameterData) != 2*UIDSize {
		return 0, 0, false
	}
	return ReadUID(c.ParameterData[0:]), ReadUID(c.ParameterData[UIDSize:]), true
}

// NewDiscMute creates a DISC_MUTE request for dest.
func NewDiscMute(dest UID) *Command {
	return &Command{
		Destination:  dest,
		CommandClass: DiscoveryCommand,
		ParameterID:  PIDDiscMute,
	}
}

// NewDiscUnMute creates a DISC_UN_MUTE request for dest.
func NewDiscUnMute(dest UID) *Command {
	return &Command{
		Destination:  dest,
		CommandClass: DiscoveryCommand,
		ParameterID:  PIDDiscUnMute,
	}
}

// NewGet creates a GET request.
func NewGet(dest UID, subDevice uint16, pid ParameterID, data []byte) *Command {
	return &Command{
		Destination:   dest,
		SubDevice:     subDevice,
		CommandClass:  GetCommand,
		ParameterID:   pid,
		ParameterData: data,
	}
}

// NewSet creates a SET request.
func NewSet(dest UID, subDevice uint16, pid ParameterID, data []byte) *Command {
	return &Command{
		Destination:   dest,
		SubDevice:     subDevice,
		CommandClass:  SetCommand,
		ParameterID:   pid,
		ParameterData: data,
	}
}

// MuteControl returns the control field of a DISC_MUTE/DISC_UN_MUTE response.
func MuteControl(c *Command) (uint16, bool) {
	if c.ParameterID != PIDDiscMute && c.ParameterID != PIDDiscUnMute {
		return 0, false
	}
	if len(c.ParameterData) < 2 {
		return 0, false
	}
	return uint16(c.ParameterData[0])<<8 | uint16(c.ParameterData[1]), true
}
