// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package responder

import "sync"

// Recorder is a Device that keeps the last levels it was given. It stands in
// for real fixtures on a simulated bus.
type Recorder struct {
	mu      sync.Mutex
	running bool
	levels  []byte
	updates uint64
}

// NewRecorder creates a stopped recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Start implements Device.
func (d *Recorder) Start() {
	d.mu.Lock()
	d.running = true
	d.mu.Unlock()
}

// Stop implements Device.
func (d *Recorder) Stop() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Output implements Device.
func (d *Recorder) Output(data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	d.levels = append(d.levels[:0], data...)
	d.updates++
}

// Levels returns a copy of the last levels received.
func (d *Recorder) Levels() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.levels...)
}

// Updates returns how many frames were received while running.
func (d *Recorder) Updates() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.updates
}

// Running reports whether the device is started.
func (d *Recorder) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}
