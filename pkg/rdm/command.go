// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rdm

import "bytes"

// Command is a single RDM request or response.
//
// PortID carries the controller port number on requests and the
// ResponseType on responses. The checksum is not stored; it is computed by
// Encode and verified by Decode.
type Command struct {
	Destination       UID
	Source            UID
	TransactionNumber uint8
	PortID            uint8
	MessageCount      uint8
	SubDevice         uint16
	CommandClass      CommandClass
	ParameterID       ParameterID
	ParameterData     []byte
}

// ResponseType interprets the port ID slot of a response.
func (c *Command) ResponseType() ResponseType {
	return ResponseType(c.PortID)
}

// IsResponse reports whether the command class is a response class.
func (c *Command) IsResponse() bool {
	return c.CommandClass.IsResponse()
}

// IsAck reports whether c is an ACK response.
func (c *Command) IsAck() bool {
	return c.IsResponse() && c.ResponseType() == ResponseAck
}

// NackReason returns the reason code of a NACK_REASON response.
func (c *Command) NackReason() (NackReason, bool) {
	if !c.IsResponse() || c.ResponseType() != ResponseNackReason || len(c.ParameterData) < 2 {
		return 0, false
	}
	return NackReason(uint16(c.ParameterData[0])<<8 | uint16(c.ParameterData[1])), true
}

// MessageLength returns the value of the message length field for c.
func (c *Command) MessageLength() int {
	return HeaderSize + len(c.ParameterData)
}

// Equal reports whether two commands carry the same fields. A nil and an
// empty parameter data slice compare equal.
func (c *Command) Equal(o *Command) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.Destination == o.Destination &&
		c.Source == o.Source &&
		c.TransactionNumber == o.TransactionNumber &&
		c.PortID == o.PortID &&
		c.MessageCount == o.MessageCount &&
		c.SubDevice == o.SubDevice &&
		c.CommandClass == o.CommandClass &&
		c.ParameterID == o.ParameterID &&
		bytes.Equal(c.ParameterData, o.ParameterData)
}

// Respond builds a response skeleton for request c sent by responder uid.
func (c *Command) Respond(uid UID, rt ResponseType, data []byte) *Command {
	return &Command{
		Destination:       c.Source,
		Source:            uid,
		TransactionNumber: c.TransactionNumber,
		PortID:            uint8(rt),
		SubDevice:         c.SubDevice,
		CommandClass:      c.CommandClass.Response(),
		ParameterID:       c.ParameterID,
		ParameterData:     data,
	}
}

// Nack builds a NACK_REASON response to request c.
func (c *Command) Nack(uid UID, reason NackReason) *Command {
	return c.Respond(uid, ResponseNackReason, []byte{byte(reason >> 8), byte(reason)})
}
