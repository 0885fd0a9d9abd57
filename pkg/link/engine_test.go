// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/zwrange/pkg/serialapi"
)

// scriptedSource is a ByteSource whose input is scripted by the test. Reads
// never block: an empty input times out immediately.
type scriptedSource struct {
	mu       sync.Mutex
	in       []byte
	writes   [][]byte
	onWrite  func(s *scriptedSource, p []byte)
	writeErr error
}

func (s *scriptedSource) NextByte(time.Duration) (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.in) == 0 {
		return 0, ErrTimeout
	}
	b := s.in[0]
	s.in = s.in[1:]
	return b, nil
}

func (s *scriptedSource) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.in)
}

func (s *scriptedSource) Drain() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.in)
	s.in = nil
	return n
}

func (s *scriptedSource) Write(p []byte) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	s.mu.Lock()
	s.writes = append(s.writes, append([]byte(nil), p...))
	s.mu.Unlock()
	if s.onWrite != nil {
		s.onWrite(s, p)
	}
	return len(p), nil
}

// push appends bytes to the input; called from onWrite hooks
func (s *scriptedSource) push(p ...byte) {
	s.mu.Lock()
	s.in = append(s.in, p...)
	s.mu.Unlock()
}

func isFrame(p []byte) bool {
	return len(p) > 1 && p[0] == serialapi.SOF
}

// frameWrites counts transmitted frames
func (s *scriptedSource) frameWrites() int {
	n := 0
	for _, w := range s.writes {
		if isFrame(w) {
			n++
		}
	}
	return n
}

// ackWrites counts single ACK bytes written
func (s *scriptedSource) ackWrites() int {
	n := 0
	for _, w := range s.writes {
		if bytes.Equal(w, []byte{serialapi.ACK}) {
			n++
		}
	}
	return n
}

// responseFrame builds a RESPONSE wire frame carrying data
func responseFrame(data ...byte) []byte {
	wire := []byte{serialapi.SOF, byte(len(data) + 2), serialapi.Response}
	wire = append(wire, data...)
	return append(wire, serialapi.Checksum(wire[1:]))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HandshakeWait = time.Millisecond
	cfg.ByteWait = time.Millisecond
	cfg.ByteStallRetries = 2
	return cfg
}

// ============================================================
// ReadFrame Tests
// ============================================================

func TestReadFrame_AcknowledgesValidFrame(t *testing.T) {
	src := &scriptedSource{in: responseFrame(0x13, 0x01)}
	e := NewEngine(src, testConfig())

	f, err := e.ReadFrame(time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x13, 0x01}, f.Data)
	assert.Equal(t, byte(serialapi.Response), f.Direction)
	assert.True(t, f.ChecksumOK)
	assert.Equal(t, [][]byte{{serialapi.ACK}}, src.writes)

	stats := e.Statistics()
	assert.Equal(t, uint64(1), stats.FramesReceived)
	assert.Equal(t, uint64(1), stats.ValidFrames)
}

func TestReadFrame_AcknowledgesBadChecksum(t *testing.T) {
	wire := responseFrame(0x4A, 0x98, 0x01, 0x00)
	wire[len(wire)-1] ^= 0x5A
	src := &scriptedSource{in: wire}
	e := NewEngine(src, testConfig())

	f, err := e.ReadFrame(time.Millisecond)
	require.NoError(t, err)
	assert.False(t, f.ChecksumOK)
	assert.Equal(t, []byte{0x4A, 0x98, 0x01, 0x00}, f.Data)
	assert.Equal(t, 1, src.ackWrites(), "a corrupted frame must still be acknowledged")
	assert.Equal(t, uint64(1), e.Statistics().ChecksumErrors)
}

func TestReadFrame_DiscardsBytesBeforeStart(t *testing.T) {
	in := append([]byte{0x00, 0xFF, serialapi.NAK}, responseFrame(0x15, 0x00)...)
	src := &scriptedSource{in: in}
	e := NewEngine(src, testConfig())

	f, err := e.ReadFrame(time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x15, 0x00}, f.Data)
	assert.Equal(t, uint64(3), e.Statistics().DesyncBytes)
}

func TestReadFrame_NoFrame(t *testing.T) {
	src := &scriptedSource{}
	e := NewEngine(src, testConfig())

	f, err := e.ReadFrame(time.Millisecond)
	assert.Nil(t, f)
	assert.ErrorIs(t, err, ErrNoFrame)
	assert.Empty(t, src.writes)
}

func TestReadFrame_GarbageOnlyIsNoFrame(t *testing.T) {
	src := &scriptedSource{in: []byte{0x55, 0xAA}}
	e := NewEngine(src, testConfig())

	_, err := e.ReadFrame(time.Millisecond)
	assert.ErrorIs(t, err, ErrNoFrame)
	assert.Equal(t, uint64(2), e.Statistics().DesyncBytes)
}

func TestReadFrame_Truncated(t *testing.T) {
	wire := responseFrame(0x13, 0x44, 0x00, 0x00, 0x03)
	src := &scriptedSource{in: wire[:len(wire)-2]}
	e := NewEngine(src, testConfig())

	f, err := e.ReadFrame(time.Millisecond)
	assert.ErrorIs(t, err, ErrTruncatedFrame)
	require.NotNil(t, f)
	assert.True(t, f.Truncated)
	assert.Equal(t, []byte{0x13, 0x44, 0x00, 0x00}, f.Data)
	assert.Zero(t, src.ackWrites(), "a truncated frame must not be acknowledged")
	assert.Equal(t, uint64(1), e.Statistics().TruncatedFrames)
}

func TestReadFrame_MissingLength(t *testing.T) {
	src := &scriptedSource{in: []byte{serialapi.SOF}}
	e := NewEngine(src, testConfig())

	f, err := e.ReadFrame(time.Millisecond)
	assert.ErrorIs(t, err, ErrTruncatedFrame)
	require.NotNil(t, f)
	assert.Empty(t, f.Data)
}

func TestReadFrame_MalformedLengthIsAcknowledged(t *testing.T) {
	src := &scriptedSource{in: []byte{serialapi.SOF, 0x01, 0x00}}
	e := NewEngine(src, testConfig())

	f, err := e.ReadFrame(time.Millisecond)
	assert.Nil(t, f)
	assert.ErrorIs(t, err, ErrMalformedFrame)
	assert.ErrorIs(t, err, serialapi.ErrShortFrame)
	assert.Equal(t, 1, src.ackWrites())
	assert.Equal(t, uint64(1), e.Statistics().MalformedFrames)
}

func TestReadFrame_FrameAfterStrayStartByte(t *testing.T) {
	in := []byte{serialapi.SOF, 0x01, 0x00}
	in = append(in, responseFrame(0x15, 0x01)...)
	src := &scriptedSource{in: in}
	e := NewEngine(src, testConfig())

	_, err := e.ReadFrame(time.Millisecond)
	require.ErrorIs(t, err, ErrMalformedFrame)

	f, err := e.ReadFrame(time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, byte(0x15), f.FuncID())
	assert.Equal(t, 2, src.ackWrites())
}

// ============================================================
// SendCommand Tests
// ============================================================

func ackEveryFrame(s *scriptedSource, p []byte) {
	if isFrame(p) {
		s.push(serialapi.ACK)
	}
}

func TestSendCommand_SingleTransmissionOnACK(t *testing.T) {
	src := &scriptedSource{onWrite: ackEveryFrame}
	e := NewEngine(src, testConfig())

	ex, err := e.SendCommand(serialapi.GetVersion(), false, 0)
	require.NoError(t, err)
	assert.True(t, ex.Delivered)
	assert.Equal(t, 1, ex.Attempts)
	assert.Equal(t, 1, src.frameWrites())
	assert.Equal(t, serialapi.MustEncodeFrame(serialapi.GetVersion()), src.writes[0])
	assert.Nil(t, ex.Response)
}

func TestSendCommand_SilenceExhaustsAttempts(t *testing.T) {
	for _, attempts := range []int{LegacyAttempts, DefaultAttempts} {
		cfg := testConfig()
		cfg.MaxAttempts = attempts
		src := &scriptedSource{}
		e := NewEngine(src, cfg)

		ex, err := e.SendCommand(serialapi.GetVersion(), false, 0)
		require.NoError(t, err, "an undelivered command is not an error")
		assert.False(t, ex.Delivered)
		assert.Equal(t, attempts, ex.Attempts)
		assert.Equal(t, attempts, src.frameWrites())
		assert.Equal(t, attempts*cfg.ProbeAcks, src.ackWrites())

		stats := e.Statistics()
		assert.Equal(t, uint64(attempts), stats.HandshakeTimeouts)
		assert.Equal(t, uint64(attempts-1), stats.Retries)
		assert.Equal(t, uint64(1), stats.Undelivered)
	}
}

func TestSendCommand_ProbeStopsWhenRadioResponds(t *testing.T) {
	probed := false
	src := &scriptedSource{onWrite: func(s *scriptedSource, p []byte) {
		if !probed && bytes.Equal(p, []byte{serialapi.ACK}) {
			probed = true
			s.push(serialapi.ACK)
		}
	}}
	e := NewEngine(src, testConfig())

	ex, err := e.SendCommand(serialapi.GetVersion(), false, 0)
	require.NoError(t, err)
	assert.True(t, ex.Delivered)
	assert.Equal(t, 2, ex.Attempts)
	assert.Equal(t, 1, src.ackWrites())
}

func TestSendCommand_CANRecovery(t *testing.T) {
	frames := 0
	src := &scriptedSource{onWrite: func(s *scriptedSource, p []byte) {
		if !isFrame(p) {
			return
		}
		frames++
		if frames == 1 {
			s.push(serialapi.CAN, 0x01, 0x05)
			return
		}
		s.push(serialapi.ACK)
	}}
	e := NewEngine(src, testConfig())

	ex, err := e.SendCommand(serialapi.GetVersion(), false, 0)
	require.NoError(t, err)
	assert.True(t, ex.Delivered)
	assert.Equal(t, 2, ex.Attempts)

	frame := serialapi.MustEncodeFrame(serialapi.GetVersion())
	ack := []byte{serialapi.ACK}
	assert.Equal(t, [][]byte{frame, ack, ack, frame}, src.writes)
	assert.Equal(t, uint64(1), e.Statistics().CANs)
	assert.Equal(t, uint64(2), e.Statistics().FlushedBytes)
}

func TestSendCommand_CANWithoutRecovery(t *testing.T) {
	frames := 0
	src := &scriptedSource{onWrite: func(s *scriptedSource, p []byte) {
		if !isFrame(p) {
			return
		}
		frames++
		if frames == 1 {
			s.push(serialapi.CAN)
			return
		}
		s.push(serialapi.ACK)
	}}
	cfg := testConfig()
	cfg.HandleCancel = false
	e := NewEngine(src, cfg)

	ex, err := e.SendCommand(serialapi.GetVersion(), false, 0)
	require.NoError(t, err)
	assert.True(t, ex.Delivered)

	frame := serialapi.MustEncodeFrame(serialapi.GetVersion())
	assert.Equal(t, [][]byte{frame, {serialapi.ACK}, frame}, src.writes)
}

func TestSendCommand_NAKRetransmits(t *testing.T) {
	frames := 0
	src := &scriptedSource{onWrite: func(s *scriptedSource, p []byte) {
		if !isFrame(p) {
			return
		}
		frames++
		if frames < 3 {
			s.push(serialapi.NAK)
			return
		}
		s.push(serialapi.ACK)
	}}
	e := NewEngine(src, testConfig())

	ex, err := e.SendCommand(serialapi.GetVersion(), false, 0)
	require.NoError(t, err)
	assert.True(t, ex.Delivered)
	assert.Equal(t, 3, ex.Attempts)
	assert.Equal(t, uint64(2), e.Statistics().NAKs)
}

func TestSendCommand_FlushesPendingInput(t *testing.T) {
	src := &scriptedSource{in: []byte{0x01, 0x09, 0x00}, onWrite: ackEveryFrame}
	e := NewEngine(src, testConfig())

	ex, err := e.SendCommand(serialapi.GetVersion(), false, 0)
	require.NoError(t, err)
	assert.True(t, ex.Delivered)
	require.Len(t, src.writes, 2)
	assert.Equal(t, []byte{serialapi.ACK}, src.writes[0])
	assert.True(t, isFrame(src.writes[1]))
	assert.Equal(t, uint64(3), e.Statistics().FlushedBytes)
}

func TestSendCommand_ReadsResponse(t *testing.T) {
	src := &scriptedSource{onWrite: func(s *scriptedSource, p []byte) {
		if isFrame(p) {
			s.push(serialapi.ACK)
			s.push(responseFrame(0x13, 0x01)...)
		}
	}}
	e := NewEngine(src, testConfig())

	cmd := serialapi.SendData(3, serialapi.ZWavePlusInfoProbe(), serialapi.DefaultTxOptions, 0x44)
	ex, err := e.SendCommand(cmd, true, time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, ex.Response)
	assert.True(t, serialapi.SendDataAccepted(ex.Response))
	assert.Equal(t, 1, src.ackWrites(), "response frame is acknowledged once")
}

func TestSendCommand_MissingResponse(t *testing.T) {
	src := &scriptedSource{onWrite: ackEveryFrame}
	e := NewEngine(src, testConfig())

	ex, err := e.SendCommand(serialapi.GetVersion(), true, time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ex.Delivered)
	assert.Nil(t, ex.Response)
}

func TestSendCommand_PayloadTooLarge(t *testing.T) {
	src := &scriptedSource{}
	e := NewEngine(src, testConfig())

	_, err := e.SendCommand(make([]byte, serialapi.MaxPayloadSize+1), false, 0)
	assert.ErrorIs(t, err, serialapi.ErrPayloadTooLarge)
	assert.Empty(t, src.writes)
}

func TestSendCommand_EmptyCommand(t *testing.T) {
	src := &scriptedSource{}
	e := NewEngine(src, testConfig())

	ex, err := e.SendCommand([]byte{}, true, time.Millisecond)
	assert.ErrorIs(t, err, ErrEmptyCommand)
	assert.Nil(t, ex)
	assert.Empty(t, src.writes)

	_, err = e.SendCommand(nil, false, 0)
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

func TestSendCommand_MalformedResponseIsMissing(t *testing.T) {
	src := &scriptedSource{onWrite: func(s *scriptedSource, p []byte) {
		if isFrame(p) {
			s.push(serialapi.ACK, serialapi.SOF, 0x00)
		}
	}}
	e := NewEngine(src, testConfig())

	ex, err := e.SendCommand(serialapi.GetVersion(), true, time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ex.Delivered)
	assert.Nil(t, ex.Response)
}

func TestSendCommand_ProbeSpacing(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 1
	cfg.ProbeAcks = 5
	cfg.ProbeSpacing = 10 * time.Millisecond
	src := &scriptedSource{}
	e := NewEngine(src, cfg)

	start := time.Now()
	_, err := e.SendCommand(serialapi.GetVersion(), false, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, src.ackWrites())
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond,
		"four gaps between five probe ACKs")
}

func TestSendCommand_SpacedProbesSeeLateReply(t *testing.T) {
	cfg := testConfig()
	cfg.ProbeSpacing = 20 * time.Millisecond
	var once sync.Once
	src := &scriptedSource{onWrite: func(s *scriptedSource, p []byte) {
		if bytes.Equal(p, []byte{serialapi.ACK}) {
			once.Do(func() {
				go func() {
					time.Sleep(2 * time.Millisecond)
					s.push(serialapi.ACK)
				}()
			})
		}
	}}
	e := NewEngine(src, cfg)

	ex, err := e.SendCommand(serialapi.GetVersion(), false, 0)
	require.NoError(t, err)
	assert.True(t, ex.Delivered)
	assert.Equal(t, 2, ex.Attempts)
	assert.Less(t, src.ackWrites(), cfg.ProbeAcks, "probing stops once the radio replies")
}

func TestSendCommand_WriteFailure(t *testing.T) {
	broken := errors.New("port gone")
	src := &scriptedSource{writeErr: broken}
	e := NewEngine(src, testConfig())

	_, err := e.SendCommand(serialapi.GetVersion(), false, 0)
	assert.ErrorIs(t, err, broken)
}

func TestNewEngine_Defaults(t *testing.T) {
	e := NewEngine(&scriptedSource{}, Config{})
	cfg := e.Config()
	assert.Equal(t, 500*time.Millisecond, cfg.HandshakeWait)
	assert.Equal(t, 100*time.Millisecond, cfg.ByteWait)
	assert.Equal(t, DefaultAttempts, cfg.MaxAttempts)
	assert.Equal(t, 32, cfg.ProbeAcks)
	assert.Equal(t, time.Millisecond, cfg.ProbeSpacing)
}

func TestNewEngine_ProbeOverrides(t *testing.T) {
	e := NewEngine(&scriptedSource{}, Config{ProbeAcks: -1, ProbeSpacing: -1})
	assert.Equal(t, 0, e.Config().ProbeAcks)
	assert.Negative(t, e.Config().ProbeSpacing)

	src := &scriptedSource{}
	e = NewEngine(src, Config{ProbeAcks: -1, MaxAttempts: 1, HandshakeWait: time.Millisecond})
	_, err := e.SendCommand(serialapi.GetVersion(), false, 0)
	require.NoError(t, err)
	assert.Zero(t, src.ackWrites())
}
