// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sim

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/Thermoquad/dmxstat/pkg/rdm"
	"github.com/Thermoquad/dmxstat/pkg/responder"
)

// Fixture describes a simulated bus.
//
//	[[responder]]
//	uid = "4D41:00000001"
//	label = "Spot 1"
//	footprint = 16
//	start_address = 1
//
//	[generate]
//	count = 200
//	manufacturer = 0x7A70
//	seed = 1
type Fixture struct {
	Responders []ResponderFixture `toml:"responder"`
	Generate   *GenerateFixture   `toml:"generate"`
}

// ResponderFixture is one explicitly listed responder.
type ResponderFixture struct {
	UID                  string `toml:"uid"`
	Label                string `toml:"label"`
	ManufacturerLabel    string `toml:"manufacturer_label"`
	ModelDescription     string `toml:"model_description"`
	SoftwareVersionLabel string `toml:"software_version_label"`
	ModelID              uint16 `toml:"model_id"`
	Category             uint16 `toml:"category"`
	SoftwareVersion      uint32 `toml:"software_version"`
	Footprint            uint16 `toml:"footprint"`
	StartAddress         uint16 `toml:"start_address"`
}

// GenerateFixture adds count responders with random device IDs.
type GenerateFixture struct {
	Count        int    `toml:"count"`
	Manufacturer uint16 `toml:"manufacturer"`
	Seed         int64  `toml:"seed"`
	Footprint    uint16 `toml:"footprint"`
}

// LoadFixture reads a fixture file. Unknown keys are an error.
func LoadFixture(path string) (*Fixture, error) {
	var f Fixture
	meta, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("failed to read bus fixture %s: %w", path, err)
	}
	if err := checkUndecoded(meta); err != nil {
		return nil, fmt.Errorf("bus fixture %s: %w", path, err)
	}
	return &f, nil
}

// ParseFixture decodes a fixture from TOML text.
func ParseFixture(data string) (*Fixture, error) {
	var f Fixture
	meta, err := toml.Decode(data, &f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bus fixture: %w", err)
	}
	if err := checkUndecoded(meta); err != nil {
		return nil, err
	}
	return &f, nil
}

func checkUndecoded(meta toml.MetaData) error {
	keys := meta.Undecoded()
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}
	return fmt.Errorf("unknown keys: %s", strings.Join(names, ", "))
}

// Build creates the responders the fixture describes, sorted by UID.
func (f *Fixture) Build() ([]*responder.Responder, error) {
	seen := make(map[rdm.UID]bool)
	var out []*responder.Responder

	for i, rf := range f.Responders {
		uid, err := rdm.ParseUID(rf.UID)
		if err != nil {
			return nil, fmt.Errorf("responder %d: %w", i, err)
		}
		if uid.IsBroadcast() {
			return nil, fmt.Errorf("responder %d: %s is a broadcast address", i, uid)
		}
		if seen[uid] {
			return nil, fmt.Errorf("responder %d: duplicate uid %s", i, uid)
		}
		seen[uid] = true
		out = append(out, responder.New(responder.Config{
			UID: uid,
			Info: rdm.DeviceInfo{
				DeviceModelID:     rf.ModelID,
				ProductCategory:   rf.Category,
				SoftwareVersionID: rf.SoftwareVersion,
				DMXFootprint:      rf.Footprint,
				DMXStartAddress:   rf.StartAddress,
			},
			Label:                rf.Label,
			ManufacturerLabel:    rf.ManufacturerLabel,
			ModelDescription:     rf.ModelDescription,
			SoftwareVersionLabel: rf.SoftwareVersionLabel,
		}))
	}

	if g := f.Generate; g != nil && g.Count > 0 {
		for _, uid := range RandomUIDs(rand.New(rand.NewSource(g.Seed)), g.Manufacturer, g.Count, seen) {
			out = append(out, responder.New(responder.Config{
				UID:   uid,
				Info:  rdm.DeviceInfo{DMXFootprint: g.Footprint, DMXStartAddress: 1},
				Label: fmt.Sprintf("sim %s", uid),
			}))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UID() < out[j].UID() })
	return out, nil
}

// RandomUIDs returns n distinct UIDs of one manufacturer that are not in
// exclude. Device IDs avoid the broadcast value.
func RandomUIDs(rng *rand.Rand, manufacturer uint16, n int, exclude map[rdm.UID]bool) []rdm.UID {
	seen := make(map[rdm.UID]bool, n)
	out := make([]rdm.UID, 0, n)
	for len(out) < n {
		uid := rdm.NewUID(manufacturer, rng.Uint32())
		if uid.IsBroadcast() || seen[uid] || exclude[uid] {
			continue
		}
		seen[uid] = true
		out = append(out, uid)
	}
	return out
}

// NewBus builds a line with the fixture's responders attached.
func NewBus(f *Fixture, clock *Clock) (*Line, []*responder.Responder, error) {
	rs, err := f.Build()
	if err != nil {
		return nil, nil, err
	}
	line := NewLine(clock)
	for _, r := range rs {
		line.Attach(r)
	}
	return line, rs, nil
}
