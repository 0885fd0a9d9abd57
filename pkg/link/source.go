// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link implements the SerialAPI transport: byte sources, frame
// reception with resynchronisation, and the ACK/NAK/CAN handshake with
// bounded retransmission.
package link

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// Byte source errors
var (
	ErrTimeout      = errors.New("link: read timeout")
	ErrSourceClosed = errors.New("link: byte source closed")
)

// ByteSource is a duplex byte channel to the radio.
type ByteSource interface {
	// NextByte waits up to timeout for one byte. It returns ErrTimeout when
	// nothing arrived. A non-positive timeout polls without blocking.
	NextByte(timeout time.Duration) (byte, error)

	// Buffered returns the number of bytes received but not yet consumed.
	Buffered() int

	// Drain discards every buffered byte and returns how many were dropped.
	Drain() int

	// Write sends raw bytes.
	Write(p []byte) (int, error)
}

// sourceBufferSize bounds the bytes queued between the reader goroutine
// and the engine.
const sourceBufferSize = 4096

// StreamSource adapts a blocking io.ReadWriteCloser (a serial port or a
// websocket bridge) into a ByteSource. A single goroutine copies incoming
// bytes into a bounded queue.
type StreamSource struct {
	rw io.ReadWriteCloser

	queue   chan byte
	stopped chan struct{} // closed by Close
	dead    chan struct{} // closed when the reader goroutine exits

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

// NewStreamSource starts reading from rw. The source owns rw and closes it
// on Close.
func NewStreamSource(rw io.ReadWriteCloser) *StreamSource {
	s := &StreamSource{
		rw:      rw,
		queue:   make(chan byte, sourceBufferSize),
		stopped: make(chan struct{}),
		dead:    make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *StreamSource) pump() {
	defer close(s.dead)

	buf := make([]byte, 256)
	for {
		n, err := s.rw.Read(buf)
		for i := 0; i < n; i++ {
			select {
			case s.queue <- buf[i]:
			case <-s.stopped:
				return
			}
		}
		if err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return
		}
		// A serial port read timeout returns (0, nil); keep polling
		select {
		case <-s.stopped:
			return
		default:
		}
	}
}

// Err returns the error that stopped the reader, if any.
func (s *StreamSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *StreamSource) closedError() error {
	if err := s.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrSourceClosed, err)
	}
	return ErrSourceClosed
}

// NextByte implements ByteSource.
func (s *StreamSource) NextByte(timeout time.Duration) (byte, error) {
	select {
	case b := <-s.queue:
		return b, nil
	default:
	}
	if timeout <= 0 {
		select {
		case <-s.dead:
			return 0, s.closedError()
		default:
			return 0, ErrTimeout
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case b := <-s.queue:
		return b, nil
	case <-s.dead:
		// Bytes queued before the reader stopped are still delivered
		select {
		case b := <-s.queue:
			return b, nil
		default:
			return 0, s.closedError()
		}
	case <-timer.C:
		return 0, ErrTimeout
	}
}

// Buffered implements ByteSource.
func (s *StreamSource) Buffered() int {
	return len(s.queue)
}

// Drain implements ByteSource.
func (s *StreamSource) Drain() int {
	n := 0
	for {
		select {
		case <-s.queue:
			n++
		default:
			return n
		}
	}
}

// Write implements ByteSource.
func (s *StreamSource) Write(p []byte) (int, error) {
	select {
	case <-s.stopped:
		return 0, ErrSourceClosed
	default:
	}
	return s.rw.Write(p)
}

// Close stops the reader and closes the underlying stream.
func (s *StreamSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopped)
		err = s.rw.Close()
	})
	return err
}
