// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dmx

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/dmxstat/pkg/rdm"
)

// Direction is the state of a port's direction controller.
type Direction uint32

const (
	DirectionIdle Direction = iota
	DirectionInput
	DirectionOutput
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIdle:
		return "IDLE"
	case DirectionInput:
		return "INPUT"
	case DirectionOutput:
		return "OUTPUT"
	default:
		return fmt.Sprintf("DIRECTION_%d", uint32(d))
	}
}

// Port is the context of one DMX line. Every engine operation goes through
// a Port; there is no package level state. A Port is safe for concurrent
// use, but only one RDM exchange can hold the bus at a time.
type Port struct {
	id    int
	line  Line
	clock Clock

	timing     atomic.Pointer[Timing]
	timingMu   sync.Mutex // serializes timing setters
	guardDelay time.Duration
	rxMinBreak time.Duration
	rxMinMAB   time.Duration

	direction  atomic.Uint32
	enableData atomic.Bool
	failed     atomic.Bool

	bus    sync.Mutex // held for a whole frame or RDM exchange
	opened bool       // guarded by bus

	dmxIn frameBuffer
	rdmIn frameBuffer
	rxMu  sync.Mutex // serializes the receive path with flushReply
	rx    receiver
	stats portStats

	outMu sync.Mutex
	out   Frame
	tx    [FrameSize]byte // guarded by bus

	loopMu     sync.Mutex
	outputStop chan struct{}
	outputDone chan struct{}
}

// Option configures a Port.
type Option func(*Port)

// WithTiming sets the initial transmit timing. Invalid timing is ignored.
func WithTiming(t Timing) Option {
	return func(p *Port) {
		if t.Validate() == nil {
			p.timing.Store(&t)
		}
	}
}

// WithGuardDelay sets the pause between releasing one direction and
// asserting the other.
func WithGuardDelay(d time.Duration) Option {
	return func(p *Port) {
		if d >= 0 {
			p.guardDelay = d
		}
	}
}

// WithRxLimits sets the shortest break and MAB accepted without counting a
// timing violation.
func WithRxLimits(minBreak, minMAB time.Duration) Option {
	return func(p *Port) {
		p.rxMinBreak = minBreak
		p.rxMinMAB = minMAB
	}
}

// NewPort creates a port on line. A nil clock uses the system clock. The
// line is opened on first use.
func NewPort(id int, line Line, clock Clock, opts ...Option) *Port {
	if clock == nil {
		clock = NewSystemClock()
	}
	p := &Port{
		id:         id,
		line:       line,
		clock:      clock,
		guardDelay: DefaultGuardDelay,
		rxMinBreak: MinRxBreak,
		rxMinMAB:   MinRxMAB,
	}
	t := DefaultTiming()
	p.timing.Store(&t)
	p.dmxIn.init()
	p.rdmIn.init()
	p.rx.port = p
	p.rx.reset()
	p.out.Length = 1 + MaxSlots
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ID returns the port number given to NewPort.
func (p *Port) ID() int {
	return p.id
}

// Clock returns the port's time base.
func (p *Port) Clock() Clock {
	return p.clock
}

// Direction returns the current direction.
func (p *Port) Direction() Direction {
	return Direction(p.direction.Load())
}

// DataEnabled reports whether DMX frames are captured while receiving.
func (p *Port) DataEnabled() bool {
	return p.enableData.Load()
}

// Failed reports whether hardware initialization failed. A failed port
// refuses all further use.
func (p *Port) Failed() bool {
	return p.failed.Load()
}

// openLocked opens the line once. The caller holds the bus.
func (p *Port) openLocked() error {
	if p.failed.Load() {
		return ErrPortFailed
	}
	if p.opened {
		return nil
	}
	if err := p.line.Open(); err != nil {
		p.failed.Store(true)
		return fmt.Errorf("%w: port %d: %v", ErrHardwareInit, p.id, err)
	}
	p.opened = true
	return nil
}

// ============================================================
// Direction Controller
// ============================================================

// SetDirection switches the port between input and output.
//
// Switching to output stops input capture, drops any received frames not
// yet consumed, waits the guard delay and asserts drive enable. Switching
// to input releases drive enable, waits the guard delay and re-arms break
// detection. enableData selects whether received DMX frames are captured
// while in input; RDM replies are always captured.
func (p *Port) SetDirection(dir Direction, enableData bool) error {
	p.bus.Lock()
	defer p.bus.Unlock()
	return p.setDirectionLocked(dir, enableData)
}

// SetPortDirection is SetDirection for external collaborators.
func (p *Port) SetPortDirection(dir Direction, enableData bool) error {
	return p.SetDirection(dir, enableData)
}

func (p *Port) setDirectionLocked(dir Direction, enableData bool) error {
	if err := p.openLocked(); err != nil {
		return err
	}
	p.enableData.Store(enableData)

	cur := p.Direction()
	if cur == dir {
		return nil
	}

	switch dir {
	case DirectionOutput:
		if cur == DirectionInput {
			if err := p.line.StopReceive(); err != nil {
				return err
			}
		}
		p.discardInput()
		p.clock.Delay(p.guardDelay)
		if err := p.line.SetDriveEnable(true); err != nil {
			return err
		}

	case DirectionInput:
		if cur == DirectionOutput {
			if err := p.line.SetDriveEnable(false); err != nil {
				return err
			}
			p.clock.Delay(p.guardDelay)
		}
		p.discardInput()
		p.direction.Store(uint32(dir))
		if err := p.line.StartReceive(&p.rx); err != nil {
			// driver already released
			p.direction.Store(uint32(DirectionIdle))
			return err
		}
		return nil

	case DirectionIdle:
		if cur == DirectionInput {
			if err := p.line.StopReceive(); err != nil {
				return err
			}
		}
		if err := p.line.SetDriveEnable(false); err != nil {
			return err
		}

	default:
		return fmt.Errorf("dmx: invalid direction %d", uint32(dir))
	}

	p.direction.Store(uint32(dir))
	return nil
}

// discardInput drops unconsumed frames and resets the receive state. It is
// only called while receive is stopped.
func (p *Port) discardInput() {
	p.rxMu.Lock()
	defer p.rxMu.Unlock()
	p.dmxIn.consume()
	p.rdmIn.consume()
	p.rx.reset()
}

// flushReply publishes a discovery reply still being captured, so a short
// or garbled reply is seen as an answer when the reply window closes.
func (p *Port) flushReply() {
	p.rxMu.Lock()
	defer p.rxMu.Unlock()
	p.rx.flushDUB()
}

// ============================================================
// Timing Engine
// ============================================================

// Timing returns the current transmit timing.
func (p *Port) Timing() Timing {
	return *p.timing.Load()
}

// SetTiming replaces the transmit timing. It takes effect on the next cycle.
func (p *Port) SetTiming(t Timing) error {
	return p.updateTiming(func(cur *Timing) error {
		*cur = t
		return nil
	})
}

func (p *Port) updateTiming(fn func(*Timing) error) error {
	p.timingMu.Lock()
	defer p.timingMu.Unlock()
	t := *p.timing.Load()
	if err := fn(&t); err != nil {
		return err
	}
	if err := t.Validate(); err != nil {
		return err
	}
	p.timing.Store(&t)
	return nil
}

// SetBreakUnits sets the break to units × 10.67µs (9-127).
func (p *Port) SetBreakUnits(units int) error {
	return p.updateTiming(func(t *Timing) error {
		if units < MinBreakUnits || units > MaxBreakUnits {
			return fmt.Errorf("%w: break %d units (valid %d-%d)", ErrInvalidTiming, units, MinBreakUnits, MaxBreakUnits)
		}
		t.Break = UnitsToDuration(units)
		return nil
	})
}

// SetMABUnits sets the mark after break to units × 10.67µs (1-127).
func (p *Port) SetMABUnits(units int) error {
	return p.updateTiming(func(t *Timing) error {
		if units < MinMABUnits || units > MaxMABUnits {
			return fmt.Errorf("%w: mark after break %d units (valid %d-%d)", ErrInvalidTiming, units, MinMABUnits, MaxMABUnits)
		}
		t.MAB = UnitsToDuration(units)
		return nil
	})
}

// SetBreakTime sets the break duration (92µs up to 127 units).
func (p *Port) SetBreakTime(d time.Duration) error {
	return p.updateTiming(func(t *Timing) error {
		t.Break = d
		return nil
	})
}

// SetMABTime sets the mark after break duration (12µs up to 127 units).
func (p *Port) SetMABTime(d time.Duration) error {
	return p.updateTiming(func(t *Timing) error {
		if d < MinMABTime {
			return fmt.Errorf("%w: mark after break %v (min %v)", ErrInvalidTiming, d, MinMABTime)
		}
		t.MAB = d
		return nil
	})
}

// SetRefreshRate sets the output frame rate in Hz (1-44).
func (p *Port) SetRefreshRate(hz int) error {
	return p.updateTiming(func(t *Timing) error {
		if hz < 1 || hz > MaxRefreshRate {
			return fmt.Errorf("%w: refresh rate %d Hz (valid 1-%d)", ErrInvalidTiming, hz, MaxRefreshRate)
		}
		t.Period = time.Second / time.Duration(hz)
		return nil
	})
}

// SetSlotCount sets how many data slots each output frame carries (24-512).
func (p *Port) SetSlotCount(n int) error {
	return p.updateTiming(func(t *Timing) error {
		t.Slots = n
		return nil
	})
}

// ============================================================
// Output Buffer
// ============================================================

// SetOutput copies slots into the output buffer starting at channel 1.
// Slots beyond 512 are ignored.
func (p *Port) SetOutput(slots []byte) {
	p.outMu.Lock()
	copy(p.out.Data[1:], slots)
	p.outMu.Unlock()
}

// SetSlot sets one output channel (1-512).
func (p *Port) SetSlot(channel int, value byte) error {
	if channel < 1 || channel > MaxSlots {
		return fmt.Errorf("%w: %d", ErrInvalidSlot, channel)
	}
	p.outMu.Lock()
	p.out.Data[channel] = value
	p.outMu.Unlock()
	return nil
}

// SetStartCode sets slot 0 of output frames.
func (p *Port) SetStartCode(code byte) {
	p.outMu.Lock()
	p.out.Data[0] = code
	p.outMu.Unlock()
}

// OutputFrame returns a copy of the output buffer sized to the current
// slot count.
func (p *Port) OutputFrame() Frame {
	p.outMu.Lock()
	f := p.out
	p.outMu.Unlock()
	f.Length = 1 + p.Timing().Slots
	return f
}

// StartOutput switches the port to output and starts the transmit loop.
// Hardware initialization errors are returned here and leave the port
// failed.
func (p *Port) StartOutput() error {
	p.loopMu.Lock()
	defer p.loopMu.Unlock()
	if p.outputStop != nil {
		return ErrOutputRunning
	}
	if err := p.SetDirection(DirectionOutput, false); err != nil {
		return err
	}
	p.outputStop = make(chan struct{})
	p.outputDone = make(chan struct{})
	go p.runOutput(p.outputStop, p.outputDone)
	return nil
}

// StopOutput stops the transmit loop after the current cycle. The port
// stays in output direction.
func (p *Port) StopOutput() {
	p.loopMu.Lock()
	defer p.loopMu.Unlock()
	if p.outputStop == nil {
		return
	}
	close(p.outputStop)
	<-p.outputDone
	p.outputStop = nil
	p.outputDone = nil
}

func (p *Port) runOutput(stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}

		start := p.clock.Now()
		// Cycles skipped while an RDM exchange holds the line are not errors
		if err := p.OutputCycle(); err != nil && !errors.Is(err, ErrWrongDirection) {
			p.stats.txErrors.Add(1)
		}
		period := p.timing.Load().Period
		if rest := period - (p.clock.Now() - start); rest > 0 {
			p.clock.Delay(rest)
		}
	}
}

// OutputCycle transmits one frame: break, mark after break, start code and
// slots, using the timing current at the start of the cycle. It does not
// wait out the frame period.
func (p *Port) OutputCycle() error {
	t := p.timing.Load()

	p.bus.Lock()
	defer p.bus.Unlock()
	if p.Direction() != DirectionOutput {
		return ErrWrongDirection
	}

	n := 1 + t.Slots
	p.outMu.Lock()
	copy(p.tx[:n], p.out.Data[:n])
	p.outMu.Unlock()

	if err := p.sendFrameLocked(t, p.tx[:n]); err != nil {
		return err
	}
	p.stats.txFrames.Add(1)
	return nil
}

func (p *Port) sendFrameLocked(t *Timing, frame []byte) error {
	if err := p.line.SendBreak(t.Break); err != nil {
		return err
	}
	if err := p.line.SendMark(t.MAB); err != nil {
		return err
	}
	return p.line.Write(frame)
}

// StartInput switches the port to input with DMX capture enabled.
func (p *Port) StartInput() error {
	return p.SetDirection(DirectionInput, true)
}

// Close stops output and input, releases the line and returns to idle.
func (p *Port) Close() error {
	p.StopOutput()
	p.bus.Lock()
	defer p.bus.Unlock()
	if !p.opened {
		return nil
	}
	if err := p.setDirectionLocked(DirectionIdle, false); err != nil {
		return err
	}
	p.opened = false
	return p.line.Close()
}

// ============================================================
// Collaborator Interface
// ============================================================

// GetDmxAvailable returns the most recent DMX frame captured since the last
// call together with a statistics snapshot. The frame stays valid until the
// next call. ok is false when no new frame was published.
func (p *Port) GetDmxAvailable() (frame *Frame, stats Statistics, ok bool) {
	stats = p.Statistics()
	frame = p.dmxIn.consume()
	return frame, stats, frame != nil
}

// Statistics returns a snapshot of the receive counters.
func (p *Port) Statistics() Statistics {
	return p.stats.snapshot(p.clock.Now(), p.timing.Load().Period)
}

// ResetStatistics clears the receive counters.
func (p *Port) ResetStatistics() {
	p.rxMu.Lock()
	defer p.rxMu.Unlock()
	p.stats.reset()
}

// RdmSendRaw transmits an RDM packet or discovery reply. Packets get a
// break and mark after break first; discovery replies, recognised by their
// 0xFE/0xAA lead-in, are sent without one. The port must be in output.
func (p *Port) RdmSendRaw(b []byte) error {
	p.bus.Lock()
	defer p.bus.Unlock()
	return p.rdmSendRawLocked(b)
}

func (p *Port) rdmSendRawLocked(b []byte) error {
	if p.Direction() != DirectionOutput {
		return fmt.Errorf("%w: send requires OUTPUT, port is %s", ErrWrongDirection, p.Direction())
	}
	if len(b) == 0 {
		return nil
	}
	if b[0] == rdm.DUBPreambleByte || b[0] == rdm.DUBSeparatorByte {
		return p.line.Write(b)
	}
	return p.sendFrameLocked(p.timing.Load(), b)
}

// RdmReceive returns a captured RDM packet or discovery reply, if one
// arrived. The slice stays valid until the next receive call.
func (p *Port) RdmReceive() ([]byte, bool) {
	f := p.rdmIn.consume()
	if f == nil {
		return nil, false
	}
	return f.Bytes(), true
}

// RdmReceiveTimeout polls for a captured reply until timeout elapses. A
// discovery reply that is still incomplete when the window closes is
// returned as captured.
func (p *Port) RdmReceiveTimeout(timeout time.Duration) ([]byte, bool) {
	deadline := p.clock.Now() + timeout
	for {
		if b, ok := p.RdmReceive(); ok {
			return b, true
		}
		if p.clock.Now() >= deadline {
			p.flushReply()
			return p.RdmReceive()
		}
		p.clock.Delay(rdmPollInterval)
	}
}

// ============================================================
// Bus Exchange
// ============================================================

// Bus is exclusive access to a port's line for the duration of an Exchange.
type Bus struct {
	p *Port
}

// Exchange runs fn with the bus held, so the output loop cannot transmit
// between the steps of a multi-step RDM exchange.
func (p *Port) Exchange(fn func(b *Bus) error) error {
	p.bus.Lock()
	defer p.bus.Unlock()
	if err := p.openLocked(); err != nil {
		return err
	}
	return fn(&Bus{p: p})
}

// Direction returns the current direction.
func (b *Bus) Direction() Direction {
	return b.p.Direction()
}

// DataEnabled reports whether DMX capture is enabled while in input.
func (b *Bus) DataEnabled() bool {
	return b.p.DataEnabled()
}

// SetDirection switches direction; see Port.SetDirection.
func (b *Bus) SetDirection(dir Direction, enableData bool) error {
	return b.p.setDirectionLocked(dir, enableData)
}

// Send transmits raw bytes; see Port.RdmSendRaw.
func (b *Bus) Send(data []byte) error {
	return b.p.rdmSendRawLocked(data)
}

// Receive waits for a reply; see Port.RdmReceiveTimeout.
func (b *Bus) Receive(timeout time.Duration) ([]byte, bool) {
	return b.p.RdmReceiveTimeout(timeout)
}
