// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package discovery

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Thermoquad/dmxstat/pkg/rdm"
)

// Device is one TOD entry: a responder UID and the DEVICE_INFO it returned
// when it was confirmed.
type Device struct {
	UID  rdm.UID
	Info rdm.DeviceInfo
}

// TOD is a table of devices kept sorted by UID. It never holds the same
// UID twice. The zero value is empty and ready to use.
type TOD struct {
	devices []Device
}

func (t *TOD) search(uid rdm.UID) int {
	return sort.Search(len(t.devices), func(i int) bool { return t.devices[i].UID >= uid })
}

// Add inserts d and reports whether its UID was new. An existing entry
// keeps its position but takes the new device info.
func (t *TOD) Add(d Device) bool {
	i := t.search(d.UID)
	if i < len(t.devices) && t.devices[i].UID == d.UID {
		t.devices[i].Info = d.Info
		return false
	}
	t.devices = append(t.devices, Device{})
	copy(t.devices[i+1:], t.devices[i:])
	t.devices[i] = d
	return true
}

// Remove deletes uid and reports whether it was present.
func (t *TOD) Remove(uid rdm.UID) bool {
	i := t.search(uid)
	if i == len(t.devices) || t.devices[i].UID != uid {
		return false
	}
	t.devices = append(t.devices[:i], t.devices[i+1:]...)
	return true
}

// Contains reports whether uid is in the table.
func (t *TOD) Contains(uid rdm.UID) bool {
	i := t.search(uid)
	return i < len(t.devices) && t.devices[i].UID == uid
}

// Lookup returns the entry for uid.
func (t *TOD) Lookup(uid rdm.UID) (Device, bool) {
	i := t.search(uid)
	if i < len(t.devices) && t.devices[i].UID == uid {
		return t.devices[i], true
	}
	return Device{}, false
}

// Len returns the number of devices.
func (t *TOD) Len() int {
	return len(t.devices)
}

// Clear empties the table.
func (t *TOD) Clear() {
	t.devices = t.devices[:0]
}

// UIDs returns the UIDs in ascending order.
func (t *TOD) UIDs() []rdm.UID {
	out := make([]rdm.UID, len(t.devices))
	for i, d := range t.devices {
		out[i] = d.UID
	}
	return out
}

// Devices returns a copy of the entries in ascending UID order.
func (t *TOD) Devices() []Device {
	return append([]Device(nil), t.devices...)
}

// Clone returns an independent copy.
func (t *TOD) Clone() *TOD {
	return &TOD{devices: t.Devices()}
}

// String formats the table for terminal output.
func (t *TOD) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== Table of Devices (%d) ===\n", len(t.devices))
	for _, d := range t.devices {
		start := "none"
		if d.Info.DMXStartAddress != rdm.NoStartAddress {
			start = fmt.Sprintf("%d", d.Info.DMXStartAddress)
		}
		fmt.Fprintf(&sb, "%s  model=0x%04X  footprint=%-3d start=%s\n",
			d.UID, d.Info.DeviceModelID, d.Info.DMXFootprint, start)
	}
	return sb.String()
}
