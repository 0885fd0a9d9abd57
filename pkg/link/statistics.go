// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"fmt"
	"time"
)

// Statistics tracks link traffic and error counts for one session
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Reception
	FramesReceived  uint64
	ValidFrames     uint64
	ChecksumErrors  uint64
	TruncatedFrames uint64
	MalformedFrames uint64
	DesyncBytes     uint64
	FlushedBytes    uint64

	// Transmission
	FramesSent        uint64
	Commands          uint64
	Retries           uint64
	Undelivered       uint64
	HandshakeTimeouts uint64
	NAKs              uint64
	CANs              uint64
	ProbeAcks         uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec, both directions
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

func (s *Statistics) touch() {
	s.LastUpdateTime = time.Now()
}

// errorCount is every reception or handshake problem seen
func (s *Statistics) errorCount() uint64 {
	return s.ChecksumErrors + s.TruncatedFrames + s.MalformedFrames +
		s.HandshakeTimeouts + s.NAKs + s.CANs
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.FramesReceived+s.FramesSent) / elapsed
		s.ErrorRate = float64(s.errorCount()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent float64
	if s.FramesReceived > 0 {
		validPercent = float64(s.ValidFrames) * 100.0 / float64(s.FramesReceived)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Link Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Frames Received: %8d\n", s.FramesReceived)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, validPercent)

	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d\n", s.ChecksumErrors)
	}
	if s.TruncatedFrames > 0 {
		result += fmt.Sprintf("Truncated:       %8d\n", s.TruncatedFrames)
	}
	if s.MalformedFrames > 0 {
		result += fmt.Sprintf("Malformed:       %8d\n", s.MalformedFrames)
	}
	if s.DesyncBytes > 0 {
		result += fmt.Sprintf("Desync Bytes:    %8d\n", s.DesyncBytes)
	}
	if s.FlushedBytes > 0 {
		result += fmt.Sprintf("Flushed Bytes:   %8d\n", s.FlushedBytes)
	}

	result += fmt.Sprintf("Commands:        %8d\n", s.Commands)
	result += fmt.Sprintf("Frames Sent:     %8d\n", s.FramesSent)
	if s.Retries > 0 {
		result += fmt.Sprintf("  Retries:          %5d\n", s.Retries)
	}
	if s.HandshakeTimeouts > 0 {
		result += fmt.Sprintf("  No Reply:         %5d\n", s.HandshakeTimeouts)
	}
	if s.NAKs > 0 {
		result += fmt.Sprintf("  NAK:              %5d\n", s.NAKs)
	}
	if s.CANs > 0 {
		result += fmt.Sprintf("  CAN:              %5d\n", s.CANs)
	}
	if s.Undelivered > 0 {
		result += fmt.Sprintf("  Undelivered:      %5d\n", s.Undelivered)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "======================================\n"

	return result
}

