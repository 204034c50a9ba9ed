// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dmx

import (
	"time"

	"github.com/Thermoquad/dmxstat/pkg/rdm"
)

// Receive states (internal)
const (
	rxIdle    = iota // input just armed, no break seen
	rxBreak          // break seen, waiting for the start code
	rxDMX            // capturing a slot frame
	rxRDM            // capturing an RDM packet
	rxDUB            // capturing a discovery reply (no break)
	rxOverrun        // frame full, next byte is an overrun
	rxDiscard        // ignore bytes until the next break
)

// receiver is the receive path of a port. It runs on the line's receive
// goroutine under the port's rxMu, writes only the back frames of the
// port's buffers and never allocates.
type receiver struct {
	port     *Port
	state    int
	dmx      *Frame
	rdm      *Frame
	index    int
	expected int
}

func (r *receiver) reset() {
	r.state = rxIdle
	r.index = 0
	r.expected = 0
	r.dmx = r.port.dmxIn.producer()
	r.rdm = r.port.rdmIn.producer()
}

// HandleBreak ends any capture in progress and arms start code detection.
func (r *receiver) HandleBreak(breakLen, mab time.Duration) {
	p := r.port
	p.rxMu.Lock()
	defer p.rxMu.Unlock()
	if r.state == rxDMX && r.index > 0 {
		r.publishDMX()
	}

	if (breakLen > 0 && breakLen < p.rxMinBreak) || (mab > 0 && mab < p.rxMinMAB) {
		p.stats.addTimingViolation()
	}

	r.state = rxBreak
	r.index = 0
	r.expected = 0
}

// HandleByte stores one received byte according to the current state.
func (r *receiver) HandleByte(b byte) {
	r.port.rxMu.Lock()
	defer r.port.rxMu.Unlock()

	switch r.state {
	case rxIdle:
		// Discovery replies arrive without a break. While DMX capture is off
		// the port only waits for replies, so any byte starts one: colliding
		// responders can garble the lead-in.
		if !r.port.enableData.Load() || b == rdm.DUBPreambleByte || b == rdm.DUBSeparatorByte {
			r.state = rxDUB
			r.rdm.Data[0] = b
			r.index = 1
			r.completeDUB()
		}

	case rxBreak:
		if b == RDMStartCode {
			r.state = rxRDM
			r.rdm.Data[0] = b
			r.index = 1
			return
		}
		if !r.port.enableData.Load() {
			r.state = rxDiscard
			return
		}
		r.state = rxDMX
		r.dmx.Data[0] = b
		r.index = 1

	case rxDMX:
		r.dmx.Data[r.index] = b
		r.index++
		if r.index == FrameSize {
			r.publishDMX()
			r.state = rxOverrun
		}

	case rxOverrun:
		r.port.stats.addOverrun()
		r.state = rxDiscard

	case rxRDM:
		r.rdm.Data[r.index] = b
		r.index++
		if r.index == 3 {
			r.expected = rdm.PacketLength(r.rdm.Data[:r.index])
			if r.expected < rdm.MinPacketSize || r.expected > rdm.MaxPacketSize {
				r.state = rxDiscard
				return
			}
		}
		if r.expected > 0 && r.index == r.expected {
			r.publishRDM()
			r.state = rxDiscard
		}

	case rxDUB:
		r.rdm.Data[r.index] = b
		r.index++
		r.completeDUB()

	case rxDiscard:
	}
}

// completeDUB publishes a discovery reply once it is complete or once it
// reaches full size without parsing, so a garbled reply still shows that
// something answered.
func (r *receiver) completeDUB() {
	if rdm.DUBComplete(r.rdm.Data[:r.index]) || r.index >= rdm.DUBReplySize {
		r.publishRDM()
		r.state = rxDiscard
	}
}

// flushDUB publishes a partial discovery reply.
func (r *receiver) flushDUB() {
	if r.state == rxDUB && r.index > 0 {
		r.publishRDM()
		r.state = rxDiscard
	}
}

func (r *receiver) publishDMX() {
	now := r.port.clock.Now()
	r.dmx.Length = r.index
	r.dmx.Timestamp = now
	length := r.index
	r.dmx = r.port.dmxIn.publish()
	r.index = 0
	r.port.stats.recordFrame(now, length)
}

func (r *receiver) publishRDM() {
	r.rdm.Length = r.index
	r.rdm.Timestamp = r.port.clock.Now()
	r.rdm = r.port.rdmIn.publish()
	r.index = 0
	r.port.stats.addRDMFrame()
}
