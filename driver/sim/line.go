// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sim provides a simulated DMX bus for host-side testing and the
// --sim mode of the CLI: a dmx.Line with attached RDM responders, a
// virtual clock, and TOML bus fixtures.
package sim

import (
	"errors"
	"sync"
	"time"

	"github.com/Thermoquad/dmxstat/pkg/dmx"
)

// Node is anything attached to the bus that sees every frame the
// controller sends. responder.Responder satisfies it.
type Node interface {
	HandleFrame(frame []byte) (reply []byte, dub bool)
}

// EventKind identifies a transmit log entry.
type EventKind int

const (
	EventBreak EventKind = iota
	EventMark
	EventData
	EventDriveOn
	EventDriveOff
)

// String returns the event name.
func (k EventKind) String() string {
	switch k {
	case EventBreak:
		return "BREAK"
	case EventMark:
		return "MARK"
	case EventData:
		return "DATA"
	case EventDriveOn:
		return "DRIVE_ON"
	case EventDriveOff:
		return "DRIVE_OFF"
	default:
		return "UNKNOWN"
	}
}

// Event is one entry of the transmit log.
type Event struct {
	Kind     EventKind
	At       time.Duration
	Duration time.Duration
	Data     []byte
}

// ErrNotDriving is returned when the port transmits with drive enable off.
var ErrNotDriving = errors.New("sim: transmit while driver disabled")

const logCapacity = 4096

// Line is a simulated RS-485 line. Frames written after a break are
// delivered to every attached node; replies from several nodes are merged
// as a wired-OR, the way a real bus corrupts simultaneous answers. Replies
// are delivered to the port when it next starts receiving.
type Line struct {
	mu        sync.Mutex
	clock     *Clock
	nodes     []Node
	openErr   error
	opened    bool
	driveOn   bool
	afterMark bool
	handler   dmx.ReceiveHandler
	pending   []byte
	pendingDU bool
	log       []Event
	frames    uint64

	deliverMu sync.Mutex
}

// NewLine creates a line on clock with the given nodes attached.
func NewLine(clock *Clock, nodes ...Node) *Line {
	if clock == nil {
		clock = NewClock()
	}
	return &Line{clock: clock, nodes: nodes}
}

// Clock returns the line's virtual clock.
func (l *Line) Clock() *Clock {
	return l.clock
}

// Attach adds a node to the bus.
func (l *Line) Attach(n Node) {
	l.mu.Lock()
	l.nodes = append(l.nodes, n)
	l.mu.Unlock()
}

// FailOpen makes the next Open return err.
func (l *Line) FailOpen(err error) {
	l.mu.Lock()
	l.openErr = err
	l.mu.Unlock()
}

// Open implements dmx.Line.
func (l *Line) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.openErr != nil {
		return l.openErr
	}
	l.opened = true
	return nil
}

// Close implements dmx.Line.
func (l *Line) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opened = false
	l.handler = nil
	return nil
}

// SetDriveEnable implements dmx.Line.
func (l *Line) SetDriveEnable(on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.driveOn = on
	kind := EventDriveOff
	if on {
		kind = EventDriveOn
	}
	l.record(Event{Kind: kind, At: l.clock.Now()})
	return nil
}

// SendBreak implements dmx.Line.
func (l *Line) SendBreak(d time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.driveOn {
		return ErrNotDriving
	}
	l.record(Event{Kind: EventBreak, At: l.clock.Now(), Duration: d})
	l.clock.Delay(d)
	l.afterMark = false
	return nil
}

// SendMark implements dmx.Line.
func (l *Line) SendMark(d time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.driveOn {
		return ErrNotDriving
	}
	l.record(Event{Kind: EventMark, At: l.clock.Now(), Duration: d})
	l.clock.Delay(d)
	l.afterMark = true
	return nil
}

// Write implements dmx.Line. A write that follows break and mark is a frame
// and is shown to every node.
func (l *Line) Write(p []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.driveOn {
		return ErrNotDriving
	}
	data := append([]byte(nil), p...)
	l.record(Event{Kind: EventData, At: l.clock.Now(), Duration: time.Duration(len(p)) * dmx.SlotTime, Data: data})
	l.clock.Delay(time.Duration(len(p)) * dmx.SlotTime)

	if !l.afterMark {
		return nil
	}
	l.afterMark = false
	l.frames++

	var merged []byte
	dub := false
	for _, n := range l.nodes {
		reply, isDUB := n.HandleFrame(data)
		if reply == nil {
			continue
		}
		dub = dub || isDUB
		merged = wiredOR(merged, reply)
	}
	l.pending = merged
	l.pendingDU = dub
	return nil
}

// wiredOR merges two transmissions bit by bit; the longer one sets the length.
func wiredOR(a, b []byte) []byte {
	if len(b) > len(a) {
		a, b = b, a
	}
	out := append([]byte(nil), a...)
	for i := range b {
		out[i] |= b[i]
	}
	return out
}

// StartReceive implements dmx.Line. A reply produced by the last frame is
// delivered before it returns.
func (l *Line) StartReceive(h dmx.ReceiveHandler) error {
	l.mu.Lock()
	l.handler = h
	reply, dub := l.pending, l.pendingDU
	l.pending = nil
	l.mu.Unlock()

	if reply != nil {
		l.deliver(h, reply, !dub)
	}
	return nil
}

// StopReceive implements dmx.Line.
func (l *Line) StopReceive() error {
	l.deliverMu.Lock()
	defer l.deliverMu.Unlock()
	l.mu.Lock()
	l.handler = nil
	l.pending = nil
	l.mu.Unlock()
	return nil
}

func (l *Line) deliver(h dmx.ReceiveHandler, data []byte, withBreak bool) {
	l.deliverMu.Lock()
	defer l.deliverMu.Unlock()
	if withBreak {
		h.HandleBreak(dmx.DefaultBreak, dmx.DefaultMAB)
		l.clock.Delay(dmx.DefaultBreak + dmx.DefaultMAB)
	}
	for _, b := range data {
		h.HandleByte(b)
	}
	l.clock.Delay(time.Duration(len(data)) * dmx.SlotTime)
}

// InjectFrame plays a frame from another transmitter into the receiving
// port: a break of breakLen, a mark of mab, then data. It is dropped if the
// port is not receiving.
func (l *Line) InjectFrame(breakLen, mab time.Duration, data []byte) bool {
	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()
	if h == nil {
		return false
	}
	l.deliverMu.Lock()
	defer l.deliverMu.Unlock()
	h.HandleBreak(breakLen, mab)
	l.clock.Delay(breakLen + mab)
	for _, b := range data {
		h.HandleByte(b)
	}
	l.clock.Delay(time.Duration(len(data)) * dmx.SlotTime)
	return true
}

// InjectBytes plays raw bytes with no break, such as a discovery reply.
func (l *Line) InjectBytes(data []byte) bool {
	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()
	if h == nil {
		return false
	}
	l.deliverMu.Lock()
	defer l.deliverMu.Unlock()
	for _, b := range data {
		h.HandleByte(b)
	}
	return true
}

// Receiving reports whether a handler is attached.
func (l *Line) Receiving() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handler != nil
}

// Driving reports whether drive enable is asserted.
func (l *Line) Driving() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.driveOn
}

// FramesSent returns how many break-framed writes the line carried.
func (l *Line) FramesSent() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frames
}

func (l *Line) record(e Event) {
	if len(l.log) == logCapacity {
		copy(l.log, l.log[1:])
		l.log = l.log[:logCapacity-1]
	}
	l.log = append(l.log, e)
}

// TxLog returns a copy of the transmit log, oldest first.
func (l *Line) TxLog() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.log...)
}

// ClearTxLog empties the transmit log.
func (l *Line) ClearTxLog() {
	l.mu.Lock()
	l.log = l.log[:0]
	l.mu.Unlock()
}
