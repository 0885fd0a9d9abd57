// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import "time"

// Attempt budgets. The range tool historically gave up after three
// transmissions; the RSSI tool allowed a fourth.
const (
	LegacyAttempts  = 3
	DefaultAttempts = 4
)

// Config holds the transport timing and retry parameters. It is built once
// and never modified while an Engine uses it.
type Config struct {
	// HandshakeWait bounds the wait for ACK/NAK/CAN after a transmission.
	HandshakeWait time.Duration

	// ByteWait bounds the wait for each byte inside a frame.
	ByteWait time.Duration

	// ByteStallRetries is the number of extra ByteWait periods granted to a
	// stalled byte before the frame is abandoned.
	ByteStallRetries int

	// MaxAttempts is the number of transmissions per command.
	MaxAttempts int

	// HandleCancel enables the CAN recovery sequence (ACK, drain, ACK, drain).
	// When false a CAN is treated like any other unexpected reply.
	HandleCancel bool

	// ProbeAcks is the maximum number of ACKs sent to unstick the radio when
	// a transmission gets no handshake reply. Negative disables probing.
	ProbeAcks int

	// ProbeSpacing is the minimum gap between probe ACKs, so a reply to an
	// early ACK is seen before the budget is spent. Negative sends them back
	// to back.
	ProbeSpacing time.Duration
}

// DefaultConfig returns the timing used in the field.
//
// Zero fields of a Config handed to NewEngine take these values, except
// HandleCancel and ByteStallRetries, whose zero values are meaningful.
func DefaultConfig() Config {
	return Config{
		HandshakeWait:    500 * time.Millisecond,
		ByteWait:         100 * time.Millisecond,
		ByteStallRetries: 10,
		MaxAttempts:      DefaultAttempts,
		HandleCancel:     true,
		ProbeAcks:        32,
		ProbeSpacing:     time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HandshakeWait <= 0 {
		c.HandshakeWait = d.HandshakeWait
	}
	if c.ByteWait <= 0 {
		c.ByteWait = d.ByteWait
	}
	if c.ByteStallRetries < 0 {
		c.ByteStallRetries = 0
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	switch {
	case c.ProbeAcks == 0:
		c.ProbeAcks = d.ProbeAcks
	case c.ProbeAcks < 0:
		c.ProbeAcks = 0
	}
	if c.ProbeSpacing == 0 {
		c.ProbeSpacing = d.ProbeSpacing
	}
	return c
}
