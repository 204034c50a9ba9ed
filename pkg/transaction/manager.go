// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transaction drives RDM request/response exchanges on a DMX port.
//
// Every exchange holds the port's bus for its whole duration: the port is
// switched to output, the request is sent, the port is switched to input
// with DMX capture disabled, a reply is awaited for a bounded time and the
// port is returned to the direction it had before. There is no retry at
// this layer.
package transaction

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/dmxstat/pkg/dmx"
	"github.com/Thermoquad/dmxstat/pkg/rdm"
)

var (
	// ErrTimeout means nothing was captured within the reply window.
	ErrTimeout = errors.New("transaction: no reply")
	// ErrMismatch means a reply was captured but does not answer the request.
	ErrMismatch = errors.New("transaction: reply does not match request")
	// ErrResponseType means the reply was ACK_TIMER or ACK_OVERFLOW, which
	// Get and Set do not follow up.
	ErrResponseType = errors.New("transaction: unsupported response type")
)

// NackError is returned by Get and Set when the responder NACKs.
type NackError struct {
	Reason rdm.NackReason
}

func (e *NackError) Error() string {
	return fmt.Sprintf("transaction: NACK %s", rdm.FormatNackReason(e.Reason))
}

// Statistics counts the exchanges a Manager performed.
type Statistics struct {
	Sent           uint64
	Answered       uint64
	Timeouts       uint64
	ChecksumErrors uint64
	LengthErrors   uint64
	DecodeErrors   uint64
}

// String returns a formatted statistics summary
func (s Statistics) String() string {
	result := "=== RDM Transactions ===\n"
	result += fmt.Sprintf("Sent:            %8d\n", s.Sent)
	result += fmt.Sprintf("Answered:        %8d\n", s.Answered)
	result += fmt.Sprintf("Timeouts:        %8d\n", s.Timeouts)
	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d\n", s.ChecksumErrors)
	}
	if s.LengthErrors > 0 {
		result += fmt.Sprintf("Length Errors:   %8d\n", s.LengthErrors)
	}
	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d\n", s.DecodeErrors)
	}
	result += "========================\n"
	return result
}

// Manager runs RDM exchanges on one port as one controller UID. A Manager
// is safe for concurrent use; exchanges are serialized by the port.
type Manager struct {
	port             *dmx.Port
	uid              rdm.UID
	log              logrus.FieldLogger
	responseTimeout  time.Duration
	discoveryTimeout time.Duration

	mu    sync.Mutex
	tn    uint8
	stats Statistics
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Exchanges are logged at trace level.
func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithResponseTimeout sets the reply window used when a call passes zero.
func WithResponseTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.responseTimeout = d
		}
	}
}

// WithDiscoveryTimeout sets the DISC_UNIQUE_BRANCH reply window used when a
// call passes zero.
func WithDiscoveryTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.discoveryTimeout = d
		}
	}
}

// New creates a manager sending as uid on port.
func New(port *dmx.Port, uid rdm.UID, opts ...Option) *Manager {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	m := &Manager{
		port:             port,
		uid:              uid,
		log:              discard,
		responseTimeout:  rdm.ResponseTimeout,
		discoveryTimeout: rdm.DiscoveryTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// UID returns the controller UID requests are sent from.
func (m *Manager) UID() rdm.UID {
	return m.uid
}

// Port returns the port the manager drives.
func (m *Manager) Port() *dmx.Port {
	return m.port
}

// Statistics returns a snapshot of the exchange counters.
func (m *Manager) Statistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// stamp fills in the controller fields of a request and takes the next
// transaction number.
func (m *Manager) stamp(c *rdm.Command) {
	m.mu.Lock()
	c.TransactionNumber = m.tn
	m.tn++
	m.stats.Sent++
	m.mu.Unlock()

	c.Source = m.uid
	c.PortID = uint8(m.port.ID())
	c.MessageCount = 0
}

func (m *Manager) count(fn func(s *Statistics)) {
	m.mu.Lock()
	fn(&m.stats)
	m.mu.Unlock()
}

// SendAndWait sends a request and returns the decoded reply. A zero timeout
// uses the manager's response timeout. Requests to a broadcast address are
// sent without waiting and return a nil command.
//
// The reply is whatever was captured in the window; its transaction number
// and source are not checked. Corrupt replies return the codec error.
func (m *Manager) SendAndWait(c *rdm.Command, timeout time.Duration) (*rdm.Command, error) {
	if c.Destination.IsBroadcast() {
		return nil, m.Broadcast(c)
	}
	if timeout <= 0 {
		timeout = m.responseTimeout
	}
	m.stamp(c)

	pkt, err := rdm.Encode(c)
	if err != nil {
		return nil, err
	}
	log := m.log.WithFields(logrus.Fields{
		"port": m.port.ID(),
		"dest": c.Destination.String(),
		"pid":  rdm.ParameterName(c.ParameterID),
		"tn":   c.TransactionNumber,
	})

	reply, err := m.exchange(pkt, timeout, true)
	if err != nil {
		return nil, err
	}
	if reply == nil {
		m.count(func(s *Statistics) { s.Timeouts++ })
		log.Trace("rdm request timed out")
		return nil, fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}

	resp, err := rdm.Decode(reply)
	if err != nil {
		m.count(func(s *Statistics) {
			switch {
			case errors.Is(err, rdm.ErrChecksum):
				s.ChecksumErrors++
			case errors.Is(err, rdm.ErrLength):
				s.LengthErrors++
			default:
				s.DecodeErrors++
			}
		})
		log.WithError(err).Trace("rdm reply discarded")
		return nil, err
	}
	m.count(func(s *Statistics) { s.Answered++ })
	log.WithField("response", rdm.FormatResponseType(resp.ResponseType())).Trace("rdm reply")
	return resp, nil
}

// SendDiscovery sends a DISC_UNIQUE_BRANCH request and returns the raw
// reply bytes. A zero timeout uses the manager's discovery timeout. The
// reply is not validated; colliding responders produce bytes that fail
// rdm.DecodeDUBReply.
func (m *Manager) SendDiscovery(c *rdm.Command, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = m.discoveryTimeout
	}
	m.stamp(c)

	pkt, err := rdm.Encode(c)
	if err != nil {
		return nil, err
	}
	reply, err := m.exchange(pkt, timeout, true)
	if err != nil {
		return nil, err
	}
	if reply == nil {
		m.count(func(s *Statistics) { s.Timeouts++ })
		return nil, ErrTimeout
	}
	m.count(func(s *Statistics) { s.Answered++ })
	return reply, nil
}

// Broadcast sends a request that expects no reply.
func (m *Manager) Broadcast(c *rdm.Command) error {
	m.stamp(c)
	pkt, err := rdm.Encode(c)
	if err != nil {
		return err
	}
	m.log.WithFields(logrus.Fields{
		"port": m.port.ID(),
		"dest": c.Destination.String(),
		"pid":  rdm.ParameterName(c.ParameterID),
	}).Trace("rdm broadcast")
	_, err = m.exchange(pkt, 0, false)
	return err
}

// exchange performs one bus turnaround. A nil reply with a nil error is a
// timeout. The port is returned to its prior direction on every path.
func (m *Manager) exchange(pkt []byte, timeout time.Duration, wait bool) ([]byte, error) {
	var reply []byte
	err := m.port.Exchange(func(b *dmx.Bus) (err error) {
		prior, priorData := b.Direction(), b.DataEnabled()
		defer func() {
			if rerr := b.SetDirection(prior, priorData); rerr != nil {
				err = errors.Join(err, fmt.Errorf("restore %s: %w", prior, rerr))
			}
		}()

		if err := b.SetDirection(dmx.DirectionOutput, false); err != nil {
			return err
		}
		if err := b.Send(pkt); err != nil {
			return err
		}
		if !wait {
			return nil
		}
		if err := b.SetDirection(dmx.DirectionInput, false); err != nil {
			return err
		}
		if data, ok := b.Receive(timeout); ok {
			reply = append([]byte(nil), data...)
		}
		return nil
	})
	return reply, err
}

// ============================================================
// Parameter Helpers
// ============================================================

// Get sends a GET and returns the ACK's parameter data. NACKs are returned
// as *NackError; replies from another UID or for another parameter as
// ErrMismatch.
func (m *Manager) Get(dest rdm.UID, subDevice uint16, pid rdm.ParameterID, data []byte) ([]byte, error) {
	return m.request(rdm.NewGet(dest, subDevice, pid, data))
}

// Set sends a SET and returns the ACK's parameter data. A broadcast SET
// returns nil data.
func (m *Manager) Set(dest rdm.UID, subDevice uint16, pid rdm.ParameterID, data []byte) ([]byte, error) {
	return m.request(rdm.NewSet(dest, subDevice, pid, data))
}

func (m *Manager) request(c *rdm.Command) ([]byte, error) {
	resp, err := m.SendAndWait(c, 0)
	if err != nil || resp == nil {
		return nil, err
	}
	if resp.Source != c.Destination || resp.ParameterID != c.ParameterID ||
		resp.CommandClass != c.CommandClass.Response() || resp.TransactionNumber != c.TransactionNumber {
		return nil, fmt.Errorf("%w: %s", ErrMismatch, rdm.FormatCommand(resp))
	}
	if reason, ok := resp.NackReason(); ok {
		return nil, &NackError{Reason: reason}
	}
	if resp.ResponseType() != rdm.ResponseAck {
		return nil, fmt.Errorf("%w %s", ErrResponseType, rdm.FormatResponseType(resp.ResponseType()))
	}
	return resp.ParameterData, nil
}

// DeviceInfo reads DEVICE_INFO from the root device of dest.
func (m *Manager) DeviceInfo(dest rdm.UID) (rdm.DeviceInfo, error) {
	var info rdm.DeviceInfo
	data, err := m.Get(dest, rdm.RootDevice, rdm.PIDDeviceInfo, nil)
	if err != nil {
		return info, err
	}
	err = info.UnmarshalBinary(data)
	return info, err
}

// Mute sends DISC_MUTE to dest and waits for its acknowledgement.
func (m *Manager) Mute(dest rdm.UID) error {
	return m.discoveryControl(rdm.NewDiscMute(dest))
}

// UnMute sends DISC_UN_MUTE to dest. Broadcast addresses are not answered.
func (m *Manager) UnMute(dest rdm.UID) error {
	return m.discoveryControl(rdm.NewDiscUnMute(dest))
}

func (m *Manager) discoveryControl(c *rdm.Command) error {
	resp, err := m.SendAndWait(c, 0)
	if err != nil || resp == nil {
		return err
	}
	if resp.Source != c.Destination || resp.ParameterID != c.ParameterID {
		return fmt.Errorf("%w: %s", ErrMismatch, rdm.FormatCommand(resp))
	}
	return nil
}
