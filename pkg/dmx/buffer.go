// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dmx

import (
	"sync/atomic"
	"time"
)

// Frame is one captured or outgoing slot frame.
type Frame struct {
	Data      [FrameSize]byte
	Length    int           // bytes used, start code included
	Timestamp time.Duration // clock time the frame completed
}

// StartCode returns slot 0.
func (f *Frame) StartCode() byte {
	return f.Data[0]
}

// Slots returns the data slots that were received, without the start code.
func (f *Frame) Slots() []byte {
	if f.Length <= 1 {
		return nil
	}
	return f.Data[1:f.Length]
}

// Bytes returns the used part of the frame, start code included.
func (f *Frame) Bytes() []byte {
	return f.Data[:f.Length]
}

// Slot returns the value of channel n (1-512), or 0 if it was not received.
func (f *Frame) Slot(n int) byte {
	if n < 1 || n >= f.Length {
		return 0
	}
	return f.Data[n]
}

const (
	bufferIndexMask = 0x3
	bufferFresh     = 0x4
)

// frameBuffer hands frames from one producer (the receive path) to one
// consumer without locks. The producer fills back, the consumer reads
// front, and the third frame sits between them in state. Publishing swaps
// back into the middle and sets the fresh bit; consuming swaps the middle
// into front. Neither side ever touches a frame the other side owns.
type frameBuffer struct {
	frames [3]Frame
	state  atomic.Uint32 // middle index | fresh bit
	back   int           // producer owned
	front  int           // consumer owned
}

func (b *frameBuffer) init() {
	b.back = 0
	b.state.Store(1)
	b.front = 2
}

// producer returns the frame being filled.
func (b *frameBuffer) producer() *Frame {
	return &b.frames[b.back]
}

// publish hands the back frame to the consumer and returns the next frame
// to fill. An unconsumed frame in the middle is overwritten.
func (b *frameBuffer) publish() *Frame {
	old := b.state.Swap(uint32(b.back) | bufferFresh)
	b.back = int(old & bufferIndexMask)
	return &b.frames[b.back]
}

// consume returns the most recently published frame, or nil if nothing
// new was published since the last call.
func (b *frameBuffer) consume() *Frame {
	if b.state.Load()&bufferFresh == 0 {
		return nil
	}
	old := b.state.Swap(uint32(b.front))
	b.front = int(old & bufferIndexMask)
	return &b.frames[b.front]
}

// pending reports whether an unconsumed frame is waiting.
func (b *frameBuffer) pending() bool {
	return b.state.Load()&bufferFresh != 0
}
