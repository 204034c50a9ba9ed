// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rdm

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks RDM traffic seen by a sniffer and its error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalPackets     uint64
	ValidPackets     uint64
	ChecksumErrors   uint64
	LengthErrors     uint64
	DecodeErrors     uint64
	MalformedPackets uint64
	LengthMismatches uint64
	AnomalousValues  uint64
	Nacks            uint64
	DUBReplies       uint64

	// Rates (calculated)
	PacketRate float64 // packets/sec
	ErrorRate  float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update updates statistics based on a command and its errors
func (s *Statistics) Update(c *Command, decodeErr error, validationErrors []ValidationError) {
	s.TotalPackets++

	if decodeErr != nil {
		switch {
		case errors.Is(decodeErr, ErrChecksum):
			s.ChecksumErrors++
		case errors.Is(decodeErr, ErrLength):
			s.LengthErrors++
		default:
			s.DecodeErrors++
		}
		return
	}

	if len(validationErrors) > 0 {
		for _, err := range validationErrors {
			switch err.Type {
			case AnomalyLengthMismatch:
				s.LengthMismatches++
				s.MalformedPackets++
			case AnomalyInvalidCommandClass, AnomalyInvalidResponseType, AnomalySubDeviceRange, AnomalyBroadcastResponse:
				s.MalformedPackets++
			case AnomalyInvalidValue:
				s.AnomalousValues++
			case AnomalyNack:
				s.Nacks++
			}
		}
	} else {
		s.ValidPackets++
	}

	s.LastUpdateTime = time.Now()
}

// UpdateDUB records a captured discovery reply
func (s *Statistics) UpdateDUB(decodeErr error) {
	s.TotalPackets++
	if decodeErr != nil {
		s.DecodeErrors++
		return
	}
	s.DUBReplies++
	s.ValidPackets++
	s.LastUpdateTime = time.Now()
}

// CalculateRates calculates packet and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.PacketRate = float64(s.TotalPackets) / elapsed
		s.ErrorRate = float64(s.ErrorCount()) / elapsed
	}
}

// ErrorCount returns the number of packets that failed decoding or validation
func (s *Statistics) ErrorCount() uint64 {
	return s.ChecksumErrors + s.LengthErrors + s.DecodeErrors + s.MalformedPackets + s.AnomalousValues
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	percent := func(n uint64) float64 {
		if s.TotalPackets == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.TotalPackets)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== RDM Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Packets:   %8d\n", s.TotalPackets)
	result += fmt.Sprintf("Valid Packets:   %8d (%.1f%%)\n", s.ValidPackets, percent(s.ValidPackets))

	if s.DUBReplies > 0 {
		result += fmt.Sprintf("DUB Replies:     %8d\n", s.DUBReplies)
	}
	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d (%.1f%%)\n", s.ChecksumErrors, percent(s.ChecksumErrors))
	}
	if s.LengthErrors > 0 {
		result += fmt.Sprintf("Length Errors:   %8d (%.1f%%)\n", s.LengthErrors, percent(s.LengthErrors))
	}
	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d (%.1f%%)\n", s.DecodeErrors, percent(s.DecodeErrors))
	}
	if s.MalformedPackets > 0 {
		result += fmt.Sprintf("Malformed Pkts:  %8d (%.1f%%)\n", s.MalformedPackets, percent(s.MalformedPackets))
		if s.LengthMismatches > 0 {
			result += fmt.Sprintf("  Length Mismatch:  %5d\n", s.LengthMismatches)
		}
	}
	if s.AnomalousValues > 0 {
		result += fmt.Sprintf("Anomalous Values:%8d (%.1f%%)\n", s.AnomalousValues, percent(s.AnomalousValues))
	}
	if s.Nacks > 0 {
		result += fmt.Sprintf("NACK Responses:  %8d\n", s.Nacks)
	}

	result += fmt.Sprintf("Packet Rate:     %8.1f pkts/sec\n", s.PacketRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "====================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = Statistics{}
	now := time.Now()
	s.StartTime = now
	s.LastUpdateTime = now
}
