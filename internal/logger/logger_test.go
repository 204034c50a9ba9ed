// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level   string
		wantErr bool
	}{
		{"trace", false},
		{"debug", false},
		{"info", false},
		{"warn", false},
		{"error", false},
		{"verbose", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			l, err := New(Config{Level: tt.level, Output: &bytes.Buffer{}})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && l.GetLevel() != tt.level && !(tt.level == "warn" && l.GetLevel() == "warning") {
				t.Errorf("level = %s, want %s", l.GetLevel(), tt.level)
			}
		})
	}
}

func TestWith_AddsFields(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	l.Module("discovery").With(Fields{"port": 1}).Info("device found")
	l.Debug("hidden")

	out := buf.String()
	for _, want := range []string{"module=discovery", "port=1", `msg="device found"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("debug entry written at info level")
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.With(Fields{"a": 1}).Error("dropped")
}
