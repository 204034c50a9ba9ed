// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package discovery

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/Thermoquad/dmxstat/driver/sim"
	"github.com/Thermoquad/dmxstat/pkg/dmx"
	"github.com/Thermoquad/dmxstat/pkg/rdm"
	"github.com/Thermoquad/dmxstat/pkg/responder"
	"github.com/Thermoquad/dmxstat/pkg/transaction"
)

// switchNode lets a test take a responder off the bus
type switchNode struct {
	r   *responder.Responder
	off bool
}

func (n *switchNode) HandleFrame(frame []byte) ([]byte, bool) {
	if n.off {
		return nil, false
	}
	return n.r.HandleFrame(frame)
}

type testBus struct {
	line   *sim.Line
	port   *dmx.Port
	tm     *transaction.Manager
	engine *Engine
	nodes  map[rdm.UID]*switchNode
}

func newTestBus(t *testing.T, uids []rdm.UID, opts ...Option) *testBus {
	t.Helper()
	clock := sim.NewClock()
	b := &testBus{
		line:  sim.NewLine(clock),
		nodes: make(map[rdm.UID]*switchNode),
	}
	for _, uid := range uids {
		b.attach(uid)
	}
	b.port = dmx.NewPort(1, b.line, clock)
	b.tm = transaction.New(b.port, rdm.NewUID(0x7FF0, 1))
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	b.engine = New(b.tm, opts...)
	return b
}

func (b *testBus) attach(uid rdm.UID) {
	n := &switchNode{r: responder.New(responder.Config{
		UID:  uid,
		Info: rdm.DeviceInfo{DeviceModelID: uint16(uid), DMXFootprint: 4, DMXStartAddress: 1},
	})}
	b.nodes[uid] = n
	b.line.Attach(n)
}

func getFuzzSeed(t *testing.T) int64 {
	if s := os.Getenv("FUZZ_SEED"); s != "" {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return v
		}
	}
	seed := time.Now().UnixNano()
	t.Logf("FUZZ_SEED=%d", seed)
	return seed
}

func expectTOD(t *testing.T, tod *TOD, want []rdm.UID) {
	t.Helper()
	got := tod.UIDs()
	if len(got) != len(want) {
		t.Fatalf("TOD has %d devices, want %d", len(got), len(want))
	}
	wantSet := make(map[rdm.UID]bool, len(want))
	for _, u := range want {
		wantSet[u] = true
	}
	for _, u := range got {
		if !wantSet[u] {
			t.Errorf("unexpected device %s", u)
		}
	}
}

// ============================================================
// Completeness Tests
// ============================================================

func TestFull_Completeness(t *testing.T) {
	seed := getFuzzSeed(t)
	for _, n := range []int{0, 1, 2, 16, 200} {
		t.Run(fmt.Sprintf("N=%d", n), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed + int64(n)))
			uids := sim.RandomUIDs(rng, 0x7A70, n, nil)
			b := newTestBus(t, uids)

			tod, err := b.engine.Full(context.Background())
			if err != nil {
				t.Fatalf("Full failed: %v", err)
			}
			expectTOD(t, tod, uids)

			st := b.engine.Statistics()
			bound := 3 * max(n, 1) * 48
			if st.DUBs > bound {
				t.Errorf("%d DUB requests for %d responders, bound %d", st.DUBs, n, bound)
			}
			if st.Found != n {
				t.Errorf("found %d", st.Found)
			}
			if st.MaxDepth > stackSize {
				t.Errorf("stack depth %d", st.MaxDepth)
			}
		})
	}
}

func TestFull_SingleResponder(t *testing.T) {
	uid := rdm.UID(0x000000000001)
	b := newTestBus(t, []rdm.UID{uid})

	tod, err := b.engine.Full(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	expectTOD(t, tod, []rdm.UID{uid})

	// One answered DUB, one confirmation, then the repeat DUB of the same
	// range that finds it empty.
	st := b.engine.Statistics()
	if st.DUBs != 2 || st.Confirmations != 1 || st.Collisions != 0 {
		t.Errorf("stats %+v", st)
	}
	if d, ok := tod.Lookup(uid); !ok || d.Info.DeviceModelID != 1 {
		t.Errorf("device info not captured: %+v", d)
	}
}

func TestFull_TwoResponders(t *testing.T) {
	uids := []rdm.UID{0x000000000001, 0x000000000002}
	b := newTestBus(t, uids)

	tod, err := b.engine.Full(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	expectTOD(t, tod, uids)
	if st := b.engine.Statistics(); st.Collisions < 1 {
		t.Errorf("resolved without a collision split: %+v", st)
	}
}

// garbledPair puts two responders on one node. When both answer a DUB the
// line carries a short, corrupted reply with no valid lead-in, as
// responders with skewed start bits do.
type garbledPair struct {
	a, b *responder.Responder
}

func (n *garbledPair) HandleFrame(frame []byte) ([]byte, bool) {
	ra, dubA := n.a.HandleFrame(frame)
	rb, dubB := n.b.HandleFrame(frame)
	switch {
	case ra != nil && rb != nil && dubA && dubB:
		reply := []byte{0xEE}
		for i := len(ra) - rdm.DUBEncodedUIDSize - rdm.DUBChecksumSize; i < len(ra); i++ {
			reply = append(reply, (ra[i]|rb[i])^0x11)
		}
		return reply, true
	case ra != nil:
		return ra, dubA
	default:
		return rb, dubB
	}
}

func TestFull_GarbledCollisionIsSplit(t *testing.T) {
	uids := []rdm.UID{rdm.NewUID(0x7A70, 0x10), rdm.NewUID(0x7A70, 0x11)}
	b := newTestBus(t, nil)
	pair := &garbledPair{}
	for i, uid := range uids {
		r := responder.New(responder.Config{
			UID:  uid,
			Info: rdm.DeviceInfo{DeviceModelID: uint16(i + 1), DMXFootprint: 4, DMXStartAddress: 1},
		})
		if i == 0 {
			pair.a = r
		} else {
			pair.b = r
		}
	}
	b.line.Attach(pair)

	tod, err := b.engine.Full(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	expectTOD(t, tod, uids)
	if st := b.engine.Statistics(); st.Collisions < 1 {
		t.Errorf("garbled reply not treated as a collision: %+v", st)
	}
}

func TestFull_Idempotent(t *testing.T) {
	uids := sim.RandomUIDs(rand.New(rand.NewSource(7)), 0x4D41, 16, nil)
	b := newTestBus(t, uids)

	first, err := b.engine.Full(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	second, err := b.engine.Full(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	a, c := first.UIDs(), second.UIDs()
	if len(a) != len(c) {
		t.Fatalf("%d then %d devices", len(a), len(c))
	}
	for i := range a {
		if a[i] != c[i] {
			t.Errorf("device %d: %s then %s", i, a[i], c[i])
		}
	}
}

func TestFull_AdjacentUIDs(t *testing.T) {
	uids := []rdm.UID{
		rdm.NewUID(0x4D41, 0x00000000),
		rdm.NewUID(0x4D41, 0x00000001),
		rdm.NewUID(0x4D41, 0x00000002),
		rdm.NewUID(0x4D41, 0x00000003),
		rdm.NewUID(0x4D41, 0xFFFFFFFE),
		rdm.NewUID(0x4D42, 0x00000000),
	}
	b := newTestBus(t, uids)
	tod, err := b.engine.Full(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	expectTOD(t, tod, uids)
}

func TestFull_LeavesPortDirection(t *testing.T) {
	b := newTestBus(t, []rdm.UID{rdm.NewUID(0x4D41, 5)})
	if err := b.port.SetDirection(dmx.DirectionOutput, false); err != nil {
		t.Fatal(err)
	}
	if _, err := b.engine.Full(context.Background()); err != nil {
		t.Fatal(err)
	}
	if b.port.Direction() != dmx.DirectionOutput {
		t.Errorf("direction %s", b.port.Direction())
	}
}

// ============================================================
// Incremental Tests
// ============================================================

func TestIncremental(t *testing.T) {
	uids := []rdm.UID{rdm.NewUID(0x4D41, 1), rdm.NewUID(0x4D41, 2), rdm.NewUID(0x4D41, 3)}
	b := newTestBus(t, uids)
	if _, err := b.engine.Full(context.Background()); err != nil {
		t.Fatal(err)
	}

	b.nodes[uids[1]].off = true
	added := rdm.NewUID(0x5A5A, 0x12345678)
	b.attach(added)

	tod, err := b.engine.Incremental(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	expectTOD(t, tod, []rdm.UID{uids[0], uids[2], added})

	st := b.engine.Statistics()
	if st.Lost != 1 || st.Found != 1 {
		t.Errorf("stats %+v", st)
	}
}

// ============================================================
// Cancellation Tests
// ============================================================

func TestAbort(t *testing.T) {
	uids := sim.RandomUIDs(rand.New(rand.NewSource(11)), 0x4D41, 16, nil)
	var engine *Engine
	b := newTestBus(t, uids, OnDevice(func(d Device) {
		engine.Abort()
	}))
	engine = b.engine

	tod, err := engine.Full(context.Background())
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("err = %v, want ErrAborted", err)
	}
	if tod.Len() != 1 {
		t.Errorf("TOD has %d devices after abort", tod.Len())
	}
	if engine.Running() {
		t.Error("still running")
	}
	if b.line.Driving() && b.line.Receiving() {
		t.Error("bus left mid-exchange")
	}
}

func TestContextCancel(t *testing.T) {
	b := newTestBus(t, []rdm.UID{rdm.NewUID(0x4D41, 1)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.engine.Full(ctx); !errors.Is(err, ErrAborted) {
		t.Errorf("err = %v, want ErrAborted", err)
	}
}

// blockingTransport holds the first un-mute until released
type blockingTransport struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingTransport) SendDiscovery(c *rdm.Command, timeout time.Duration) ([]byte, error) {
	return nil, transaction.ErrTimeout
}

func (b *blockingTransport) DeviceInfo(uid rdm.UID) (rdm.DeviceInfo, error) {
	return rdm.DeviceInfo{}, transaction.ErrTimeout
}

func (b *blockingTransport) Mute(uid rdm.UID) error {
	return transaction.ErrTimeout
}

func (b *blockingTransport) UnMute(uid rdm.UID) error {
	close(b.entered)
	<-b.release
	return nil
}

func TestFull_NotReentrant(t *testing.T) {
	bt := &blockingTransport{entered: make(chan struct{}), release: make(chan struct{})}
	e := New(bt)

	done := make(chan error, 1)
	go func() {
		_, err := e.Full(context.Background())
		done <- err
	}()
	<-bt.entered

	if _, err := e.Full(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("err = %v, want ErrBusy", err)
	}
	close(bt.release)
	if err := <-done; err != nil {
		t.Errorf("first pass: %v", err)
	}
}

// failingTransport reports a bus failure on every exchange
type failingTransport struct{ blockingTransport }

var errBus = errors.New("bus failure")

func (f *failingTransport) UnMute(uid rdm.UID) error { return nil }

func (f *failingTransport) SendDiscovery(c *rdm.Command, timeout time.Duration) ([]byte, error) {
	return nil, errBus
}

func TestFull_BusFailure(t *testing.T) {
	e := New(&failingTransport{})
	if _, err := e.Full(context.Background()); !errors.Is(err, errBus) {
		t.Errorf("err = %v, want bus failure", err)
	}
}

// ============================================================
// Range and TOD Tests
// ============================================================

func TestRange_Split(t *testing.T) {
	tests := []struct {
		r      Range
		lo, hi Range
	}{
		{Range{0, rdm.MaxUID}, Range{0, 0x7FFFFFFFFFFF}, Range{0x800000000000, rdm.MaxUID}},
		{Range{4, 5}, Range{4, 4}, Range{5, 5}},
		{Range{4, 6}, Range{4, 5}, Range{6, 6}},
	}
	for _, tt := range tests {
		lo, hi := tt.r.Split()
		if lo != tt.lo || hi != tt.hi {
			t.Errorf("%s split into %s %s", tt.r, lo, hi)
		}
	}
}

func TestTOD(t *testing.T) {
	var tod TOD
	for _, u := range []rdm.UID{5, 1, 3, 1} {
		tod.Add(Device{UID: u})
	}
	if tod.Len() != 3 {
		t.Fatalf("len %d", tod.Len())
	}
	uids := tod.UIDs()
	if uids[0] != 1 || uids[1] != 3 || uids[2] != 5 {
		t.Errorf("order %v", uids)
	}
	if tod.Add(Device{UID: 3, Info: rdm.DeviceInfo{DMXFootprint: 9}}) {
		t.Error("duplicate added")
	}
	if d, _ := tod.Lookup(3); d.Info.DMXFootprint != 9 {
		t.Error("info not updated")
	}
	if !tod.Remove(3) || tod.Remove(3) || tod.Contains(3) {
		t.Error("remove")
	}
	clone := tod.Clone()
	tod.Clear()
	if clone.Len() != 2 || tod.Len() != 0 {
		t.Errorf("clone %d, tod %d", clone.Len(), tod.Len())
	}
	if clone.String() == "" {
		t.Error("empty table output")
	}
}
