// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package serialapi

import (
	"errors"
	"fmt"
	"time"
)

// Codec errors
var (
	ErrPayloadTooLarge    = errors.New("serialapi: payload too large")
	ErrShortFrame         = errors.New("serialapi: short frame")
	ErrBadStartByte       = errors.New("serialapi: missing start of frame")
	ErrChecksum           = errors.New("serialapi: checksum mismatch")
	ErrUnexpectedFunction = errors.New("serialapi: unexpected function id")
)

// Frame is a SerialAPI frame with the start marker, length, type and
// checksum bytes removed. Data starts with the function id.
//
// A Frame returned by the link layer is never modified afterwards.
type Frame struct {
	Direction  byte
	Data       []byte
	ChecksumOK bool
	Truncated  bool
	Timestamp  time.Time
}

// FuncID returns the function id, or 0 for an empty or nil frame.
func (f *Frame) FuncID() byte {
	if f == nil || len(f.Data) == 0 {
		return 0
	}
	return f.Data[0]
}

// Args returns the bytes following the function id.
func (f *Frame) Args() []byte {
	if f == nil || len(f.Data) < 2 {
		return nil
	}
	return f.Data[1:]
}

// Byte returns Data[i] and whether the frame is long enough to carry it.
func (f *Frame) Byte(i int) (byte, bool) {
	if f == nil || i < 0 || i >= len(f.Data) {
		return 0, false
	}
	return f.Data[i], true
}

// Len returns the number of data bytes, treating a nil frame as empty.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Data)
}

// EncodeFrame wraps a host command (function id followed by arguments) into
// a request frame ready for transmission:
// SOF, length, REQUEST, cmd..., checksum.
func EncodeFrame(cmd []byte) ([]byte, error) {
	if len(cmd) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(cmd), MaxPayloadSize)
	}

	frame := make([]byte, 0, len(cmd)+frameOverhead)
	frame = append(frame, SOF, byte(len(cmd)+2), Request)
	frame = append(frame, cmd...)

	// The checksum covers everything after SOF
	frame = append(frame, Checksum(frame[1:]))
	return frame, nil
}

// MustEncodeFrame is EncodeFrame for commands built by this package, which
// are always within size limits. Panics on error.
func MustEncodeFrame(cmd []byte) []byte {
	frame, err := EncodeFrame(cmd)
	if err != nil {
		panic(fmt.Sprintf("serialapi: encode error: %v", err))
	}
	return frame
}

// DecodeFrame parses a complete wire frame starting with SOF.
//
// A checksum mismatch still yields the decoded frame (with ChecksumOK false)
// together with ErrChecksum, so the caller can decide whether to trust it.
func DecodeFrame(wire []byte) (*Frame, error) {
	if len(wire) < 2 {
		return nil, ErrShortFrame
	}
	if wire[0] != SOF {
		return nil, fmt.Errorf("%w: got 0x%02X", ErrBadStartByte, wire[0])
	}

	length := int(wire[1])
	if length < 2 || len(wire) < 2+length {
		return nil, fmt.Errorf("%w: length byte %d, have %d bytes", ErrShortFrame, length, len(wire)-2)
	}

	return FrameFromBody(wire[1], wire[2:2+length])
}

// FrameFromBody builds a Frame from the bytes that followed the length byte:
// type, payload, checksum. Used by DecodeFrame and by the link layer, which
// reads the body incrementally.
func FrameFromBody(length byte, body []byte) (*Frame, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("%w: body of %d bytes", ErrShortFrame, len(body))
	}

	data := make([]byte, len(body)-2)
	copy(data, body[1:len(body)-1])

	f := &Frame{
		Direction:  body[0],
		Data:       data,
		ChecksumOK: VerifyChecksum(length, body),
		Timestamp:  time.Now(),
	}
	if !f.ChecksumOK {
		return f, fmt.Errorf("%w: residue 0x%02X", ErrChecksum, Checksum(body)^length)
	}
	return f, nil
}
