// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package discovery enumerates the RDM responders on a port with a binary
// search over the 48-bit UID space.
//
// Pending ranges live on a fixed-capacity stack rather than in recursion.
// A DISC_UNIQUE_BRANCH that draws no reply drops its range. A reply that
// fails validation means several responders answered at once, and the
// range is split at its midpoint. A valid reply is confirmed with a
// directed GET DEVICE_INFO, the responder is muted, and the same range is
// probed again since the muted responder no longer answers.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/dmxstat/pkg/rdm"
	"github.com/Thermoquad/dmxstat/pkg/transaction"
)

// Depth-first splitting leaves at most one pending sibling per level of
// the 48-bit space.
const stackSize = 64

var (
	// ErrAborted is returned when Abort or context cancellation ends a pass
	// early. Devices found so far stay in the TOD.
	ErrAborted = errors.New("discovery: aborted")
	// ErrBusy is returned when a pass is started while one is running.
	ErrBusy = errors.New("discovery: already running")
	// ErrStackOverflow means the range stack is full, which a correct split
	// never causes.
	ErrStackOverflow = errors.New("discovery: range stack overflow")
)

// Transport performs the bus exchanges discovery needs.
// *transaction.Manager implements it.
type Transport interface {
	SendDiscovery(c *rdm.Command, timeout time.Duration) ([]byte, error)
	DeviceInfo(uid rdm.UID) (rdm.DeviceInfo, error)
	Mute(uid rdm.UID) error
	UnMute(uid rdm.UID) error
}

// Range is a pending [Low, High] UID interval. Low <= High.
type Range struct {
	Low  rdm.UID
	High rdm.UID
}

// Split returns the two halves of r.
func (r Range) Split() (Range, Range) {
	mid := r.Low + (r.High-r.Low)/2
	return Range{r.Low, mid}, Range{mid + 1, r.High}
}

func (r Range) String() string {
	return fmt.Sprintf("[%s, %s]", r.Low, r.High)
}

// Statistics counts the exchanges of the last pass.
type Statistics struct {
	DUBs          int // DISC_UNIQUE_BRANCH requests sent
	Collisions    int // replies that did not resolve to one confirmed UID
	Confirmations int // GET DEVICE_INFO requests sent
	Mutes         int // DISC_MUTE requests acknowledged
	Found         int // devices added in this pass
	Lost          int // known devices dropped by an incremental pass
	MaxDepth      int // deepest range stack seen
	Duration      time.Duration
}

// String returns a formatted statistics summary
func (s Statistics) String() string {
	result := "=== Discovery Statistics ===\n"
	result += fmt.Sprintf("Found:           %8d\n", s.Found)
	if s.Lost > 0 {
		result += fmt.Sprintf("Lost:            %8d\n", s.Lost)
	}
	result += fmt.Sprintf("DUB Requests:    %8d\n", s.DUBs)
	result += fmt.Sprintf("Collisions:      %8d\n", s.Collisions)
	result += fmt.Sprintf("Confirmations:   %8d\n", s.Confirmations)
	result += fmt.Sprintf("Mutes:           %8d\n", s.Mutes)
	result += fmt.Sprintf("Stack Depth:     %8d\n", s.MaxDepth)
	result += fmt.Sprintf("Duration:        %8.1f ms\n", float64(s.Duration)/float64(time.Millisecond))
	result += "============================\n"
	return result
}

// Engine runs discovery passes for one port. Only one pass runs at a time.
type Engine struct {
	t        Transport
	log      logrus.FieldLogger
	timeout  time.Duration
	now      func() time.Duration
	onDevice func(Device)

	running atomic.Bool
	abort   atomic.Bool

	mu    sync.Mutex // guards tod and stats for readers during a pass
	tod   TOD
	stats Statistics

	stack [stackSize]Range
	depth int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Found and lost devices are logged at info,
// probes at trace.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithTimeout sets the DISC_UNIQUE_BRANCH reply window. Zero uses the
// transport's default.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.timeout = d
	}
}

// WithClock sets the time source used for Statistics.Duration.
func WithClock(now func() time.Duration) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// OnDevice registers a callback run for every device added to the TOD.
// It runs on the discovery goroutine.
func OnDevice(fn func(Device)) Option {
	return func(e *Engine) {
		e.onDevice = fn
	}
}

// New creates an engine over t.
func New(t Transport, opts ...Option) *Engine {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	start := time.Now()
	e := &Engine{
		t:   t,
		log: discard,
		now: func() time.Duration { return time.Since(start) },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TOD returns a copy of the table of devices.
func (e *Engine) TOD() *TOD {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tod.Clone()
}

// Statistics returns the counters of the current or last pass.
func (e *Engine) Statistics() Statistics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Running reports whether a pass is in progress.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Abort asks a running pass to stop before its next probe. The exchange in
// progress, if any, completes first.
func (e *Engine) Abort() {
	e.abort.Store(true)
}

// Full clears the TOD, un-mutes every responder and searches the whole UID
// space. It returns the new TOD.
func (e *Engine) Full(ctx context.Context) (*TOD, error) {
	return e.run(ctx, false)
}

// Incremental keeps the TOD, un-mutes every responder, re-mutes the known
// ones (dropping any that no longer answer) and searches for new devices.
func (e *Engine) Incremental(ctx context.Context) (*TOD, error) {
	return e.run(ctx, true)
}

func (e *Engine) run(ctx context.Context, incremental bool) (*TOD, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer e.running.Store(false)
	e.abort.Store(false)

	start := e.now()
	e.mu.Lock()
	e.stats = Statistics{}
	if !incremental {
		e.tod.Clear()
	}
	e.mu.Unlock()

	err := e.pass(ctx, incremental)

	e.mu.Lock()
	e.stats.Duration = e.now() - start
	stats := e.stats
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"found":      stats.Found,
		"lost":       stats.Lost,
		"dubs":       stats.DUBs,
		"collisions": stats.Collisions,
	}).Debug("discovery pass finished")
	return e.TOD(), err
}

func (e *Engine) pass(ctx context.Context, incremental bool) error {
	if err := e.t.UnMute(rdm.BroadcastUID); err != nil {
		return fmt.Errorf("discovery: un-mute all: %w", err)
	}

	if incremental {
		for _, uid := range e.TOD().UIDs() {
			if err := e.checkAbort(ctx); err != nil {
				return err
			}
			if err := e.t.Mute(uid); err != nil {
				if !isAbsent(err) {
					return err
				}
				e.mu.Lock()
				e.tod.Remove(uid)
				e.stats.Lost++
				e.mu.Unlock()
				e.log.WithField("uid", uid.String()).Info("device lost")
				continue
			}
			e.count(func(s *Statistics) { s.Mutes++ })
		}
	}

	return e.search(ctx, Range{rdm.MinUID, rdm.MaxUID})
}

func (e *Engine) search(ctx context.Context, full Range) error {
	e.depth = 0
	if err := e.push(full); err != nil {
		return err
	}

	for e.depth > 0 {
		if err := e.checkAbort(ctx); err != nil {
			return err
		}
		r := e.pop()

		if r.Low == r.High {
			if err := e.probeSingle(r.Low); err != nil {
				return err
			}
			continue
		}

		e.count(func(s *Statistics) { s.DUBs++ })
		reply, err := e.t.SendDiscovery(rdm.NewDiscUniqueBranch(r.Low, r.High), e.timeout)
		if err != nil {
			if isAbsent(err) {
				e.log.WithField("range", r.String()).Trace("empty range")
				continue
			}
			return err
		}

		uid, derr := rdm.DecodeDUBReply(reply)
		if derr == nil && uid >= r.Low && uid <= r.High && !e.known(uid) {
			found, err := e.confirm(uid)
			if err != nil {
				return err
			}
			if found {
				// Re-probe: the muted device no longer answers this range
				if err := e.push(r); err != nil {
					return err
				}
				continue
			}
		}

		e.count(func(s *Statistics) { s.Collisions++ })
		e.log.WithField("range", r.String()).Trace("collision, splitting")
		lo, hi := r.Split()
		if err := e.push(hi); err != nil {
			return err
		}
		if err := e.push(lo); err != nil {
			return err
		}
	}
	return nil
}

// probeSingle checks a range of one UID with a directed request instead of
// a DISC_UNIQUE_BRANCH.
func (e *Engine) probeSingle(uid rdm.UID) error {
	if uid.IsBroadcast() || e.known(uid) {
		return nil
	}
	_, err := e.confirm(uid)
	return err
}

// confirm reads DEVICE_INFO from uid and, if it answers, adds it to the TOD
// and mutes it. found is false when the device does not answer or does
// not acknowledge the mute; err is only set for bus failures.
func (e *Engine) confirm(uid rdm.UID) (found bool, err error) {
	e.count(func(s *Statistics) { s.Confirmations++ })
	info, err := e.t.DeviceInfo(uid)
	if err != nil {
		if isAbsent(err) {
			return false, nil
		}
		return false, err
	}
	if err := e.t.Mute(uid); err != nil {
		if isAbsent(err) {
			return false, nil
		}
		return false, err
	}

	d := Device{UID: uid, Info: info}
	e.mu.Lock()
	added := e.tod.Add(d)
	e.stats.Mutes++
	if added {
		e.stats.Found++
	}
	e.mu.Unlock()

	if added {
		e.log.WithFields(logrus.Fields{
			"uid":       uid.String(),
			"model":     fmt.Sprintf("0x%04X", info.DeviceModelID),
			"footprint": info.DMXFootprint,
		}).Info("device found")
		if e.onDevice != nil {
			e.onDevice(d)
		}
	}
	return true, nil
}

func (e *Engine) known(uid rdm.UID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tod.Contains(uid)
}

func (e *Engine) count(fn func(s *Statistics)) {
	e.mu.Lock()
	fn(&e.stats)
	e.mu.Unlock()
}

func (e *Engine) checkAbort(ctx context.Context) error {
	if e.abort.Load() {
		return ErrAborted
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrAborted, err)
	}
	return nil
}

func (e *Engine) push(r Range) error {
	if e.depth == len(e.stack) {
		return ErrStackOverflow
	}
	e.stack[e.depth] = r
	e.depth++
	if e.depth > e.stats.MaxDepth {
		e.count(func(s *Statistics) { s.MaxDepth = e.depth })
	}
	return nil
}

func (e *Engine) pop() Range {
	e.depth--
	return e.stack[e.depth]
}

// isAbsent reports whether err means nobody (valid) answered: a timeout or
// a reply that failed to decode. Anything else is a bus failure.
func isAbsent(err error) bool {
	var nack *transaction.NackError
	return errors.Is(err, transaction.ErrTimeout) ||
		errors.Is(err, transaction.ErrMismatch) ||
		errors.Is(err, transaction.ErrResponseType) ||
		errors.Is(err, rdm.ErrChecksum) ||
		errors.Is(err, rdm.ErrLength) ||
		errors.Is(err, rdm.ErrStartCode) ||
		errors.Is(err, rdm.ErrDUBPreamble) ||
		errors.Is(err, rdm.ErrDUBEncoding) ||
		errors.As(err, &nack)
}
