// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package logger is the logrus setup shared by the dmxstat commands.
package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Fields are structured fields attached to a log entry.
type Fields map[string]interface{}

// Log is a logrus entry with a fixed set of fields. It satisfies
// logrus.FieldLogger, so it can be handed to the library packages.
type Log struct {
	*logrus.Entry
}

// Config selects the level and destination of a Log.
type Config struct {
	Level  string
	Output io.Writer
	Color  bool
}

// New creates a logger. The level is one of trace, debug, info, warn,
// error, fatal or panic.
func New(cfg Config) (*Log, error) {
	l := logrus.New()

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	l.SetOutput(out)
	l.Formatter = &logrus.TextFormatter{
		TimestampFormat:  "2006-01-02 15:04:05.0000",
		DisableColors:    !cfg.Color,
		FullTimestamp:    true,
		QuoteEmptyFields: true,
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	l.SetLevel(level)

	return &Log{Entry: l.WithFields(nil)}, nil
}

// Discard returns a logger that drops everything.
func Discard() *Log {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Log{Entry: l.WithFields(nil)}
}

// With returns a logger that adds fields to every entry.
func (l *Log) With(fields Fields) *Log {
	return &Log{Entry: l.WithFields(logrus.Fields(fields))}
}

// Module is shorthand for With(Fields{"module": name}).
func (l *Log) Module(name string) *Log {
	return l.With(Fields{"module": name})
}

// GetLevel returns the current level name.
func (l *Log) GetLevel() string {
	return l.Logger.GetLevel().String()
}
