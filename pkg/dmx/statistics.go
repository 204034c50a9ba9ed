// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dmx

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
)

// Statistics is a snapshot of a port's receive counters.
type Statistics struct {
	SlotsInLastPacket int
	UpdatesPerSecond  int
	LastReceived      time.Duration // clock time of the last frame
	LastPeriod        time.Duration // start-to-start time of the last two frames
	Active            bool

	// Counters
	Frames           uint64
	RDMFrames        uint64
	TimingViolations uint64
	Overruns         uint64
	TxFrames         uint64
	TxErrors         uint64
}

// String returns a formatted statistics summary
func (s Statistics) String() string {
	state := "inactive"
	if s.Active {
		state = "active"
	}
	result := fmt.Sprintf("=== Port Statistics (%s) ===\n", state)
	result += fmt.Sprintf("Frames:          %8d\n", s.Frames)
	result += fmt.Sprintf("Updates/sec:     %8d\n", s.UpdatesPerSecond)
	result += fmt.Sprintf("Slots:           %8d\n", s.SlotsInLastPacket)
	if s.LastPeriod > 0 {
		result += fmt.Sprintf("Frame Period:    %8.2f ms\n", float64(s.LastPeriod)/float64(time.Millisecond))
	}
	if s.RDMFrames > 0 {
		result += fmt.Sprintf("RDM Frames:      %8d\n", s.RDMFrames)
	}
	if s.TimingViolations > 0 {
		result += fmt.Sprintf("Timing Errors:   %8d\n", s.TimingViolations)
	}
	if s.Overruns > 0 {
		result += fmt.Sprintf("Overruns:        %8d\n", s.Overruns)
	}
	if s.TxFrames > 0 || s.TxErrors > 0 {
		result += fmt.Sprintf("Sent Frames:     %8d\n", s.TxFrames)
	}
	if s.TxErrors > 0 {
		result += fmt.Sprintf("Send Errors:     %8d\n", s.TxErrors)
	}
	result += "==============================\n"
	return result
}

const (
	upsBuckets      = 10
	upsBucketLength = 100 * time.Millisecond
)

// portStats is written by the receive path and read by consumers. The
// receive values form one record guarded by a sequence counter: the
// receive path (serialized by the port's rxMu) bumps seq to odd, stores,
// and bumps it back to even; readers retry until they see the same even
// seq on both sides, so a snapshot never mixes two frames. The transmit
// counters are independent and read on their own.
type portStats struct {
	seq              atomic.Uint64
	slots            atomic.Int64
	ups              atomic.Int64
	lastReceived     atomic.Int64
	lastPeriod       atomic.Int64
	frames           atomic.Uint64
	rdmFrames        atomic.Uint64
	timingViolations atomic.Uint64
	overruns         atomic.Uint64

	txFrames atomic.Uint64
	txErrors atomic.Uint64

	// updates-per-second window (producer owned)
	buckets     [upsBuckets]uint32
	bucketEpoch [upsBuckets]int64
	lastFrame   time.Duration
	haveFrame   bool
}

// beginWrite and endWrite bracket every change to the receive record.
func (s *portStats) beginWrite() { s.seq.Add(1) }
func (s *portStats) endWrite() { s.seq.Add(1) }

func (s *portStats) addRDMFrame() {
	s.beginWrite()
	s.rdmFrames.Add(1)
	s.endWrite()
}

func (s *portStats) addTimingViolation() {
	s.beginWrite()
	s.timingViolations.Add(1)
	s.endWrite()
}

func (s *portStats) addOverrun() {
	s.beginWrite()
	s.overruns.Add(1)
	s.endWrite()
}

// recordFrame updates the counters for a DMX frame completed at now.
func (s *portStats) recordFrame(now time.Duration, length int) {
	s.beginWrite()
	defer s.endWrite()
	if s.haveFrame {
		s.lastPeriod.Store(int64(now - s.lastFrame))
	}
	s.lastFrame = now
	s.haveFrame = true

	epoch := int64(now / upsBucketLength)
	i := epoch % upsBuckets
	if s.bucketEpoch[i] != epoch {
		s.bucketEpoch[i] = epoch
		s.buckets[i] = 0
	}
	s.buckets[i]++

	var total int64
	for j := range s.buckets {
		if epoch-s.bucketEpoch[j] < upsBuckets {
			total += int64(s.buckets[j])
		}
	}

	s.slots.Store(int64(length - 1))
	s.ups.Store(total)
	s.lastReceived.Store(int64(now))
	s.frames.Add(1)
}

// snapshot builds a Statistics value. A port that has not published a
// frame within 1.5 frame periods is reported inactive with zero updates;
// its last frame stays available.
func (s *portStats) snapshot(now, fallbackPeriod time.Duration) Statistics {
	var st Statistics
	for {
		seq := s.seq.Load()
		if seq&1 != 0 {
			runtime.Gosched()
			continue
		}
		st = Statistics{
			SlotsInLastPacket: int(s.slots.Load()),
			UpdatesPerSecond:  int(s.ups.Load()),
			LastReceived:      time.Duration(s.lastReceived.Load()),
			LastPeriod:        time.Duration(s.lastPeriod.Load()),
			Frames:            s.frames.Load(),
			RDMFrames:         s.rdmFrames.Load(),
			TimingViolations:  s.timingViolations.Load(),
			Overruns:          s.overruns.Load(),
		}
		if s.seq.Load() == seq {
			break
		}
	}
	st.TxFrames = s.txFrames.Load()
	st.TxErrors = s.txErrors.Load()

	period := st.LastPeriod
	if period <= 0 {
		period = fallbackPeriod
	}
	st.Active = st.Frames > 0 && now-st.LastReceived <= period*3/2
	if !st.Active {
		st.UpdatesPerSecond = 0
	}
	return st
}

// reset clears the exported counters. The window buckets age out on their
// own. Callers hold the port's rxMu.
func (s *portStats) reset() {
	s.beginWrite()
	defer s.endWrite()
	s.slots.Store(0)
	s.ups.Store(0)
	s.lastPeriod.Store(0)
	s.frames.Store(0)
	s.rdmFrames.Store(0)
	s.timingViolations.Store(0)
	s.overruns.Store(0)
	s.txFrames.Store(0)
	s.txErrors.Store(0)
}
