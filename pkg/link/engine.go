// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Thermoquad/zwrange/pkg/serialapi"
)

// Reception errors
var (
	ErrNoFrame        = errors.New("link: no frame received")
	ErrTruncatedFrame = errors.New("link: frame truncated")

	// ErrMalformedFrame marks a complete but unusable frame, typically a
	// stray 0x01 taken for a start of frame. It wraps the codec error.
	ErrMalformedFrame = errors.New("link: malformed frame")
)

// ErrEmptyCommand is returned by SendCommand for a command without a
// function id.
var ErrEmptyCommand = errors.New("link: empty command")

// Exchange is the outcome of SendCommand.
type Exchange struct {
	// Attempts is the number of times the frame was transmitted.
	Attempts int

	// Delivered is true when the radio acknowledged the frame.
	Delivered bool

	// Response is the frame read after delivery when one was requested and
	// arrived. It may carry ChecksumOK=false.
	Response *serialapi.Frame
}

// Engine runs the SerialAPI handshake over a ByteSource. All operations are
// serialised; an Engine owns its source exclusively.
type Engine struct {
	mu      sync.Mutex
	src     ByteSource
	cfg     Config
	log     *zap.Logger
	stats   *Statistics
	metrics *Metrics
	probes  *rate.Limiter
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetrics attaches Prometheus counters
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine driving src with cfg. Unset fields of cfg
// take their DefaultConfig values.
func NewEngine(src ByteSource, cfg Config, opts ...Option) *Engine {
	cfg = cfg.withDefaults()

	limit := rate.Inf
	if cfg.ProbeSpacing > 0 {
		limit = rate.Every(cfg.ProbeSpacing)
	}

	e := &Engine{
		src:    src,
		cfg:    cfg,
		log:    zap.NewNop(),
		stats:  NewStatistics(),
		probes: rate.NewLimiter(limit, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration
func (e *Engine) Config() Config {
	return e.cfg
}

// Statistics returns a copy of the link counters
func (e *Engine) Statistics() Statistics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.stats
}

// ReadFrame waits up to timeout for the start of a frame, reads it, and
// acknowledges it. Bytes preceding the start of frame are discarded.
//
// A frame whose checksum does not verify is still acknowledged and returned
// with ChecksumOK=false. A frame whose bytes stop arriving is returned
// partially filled together with ErrTruncatedFrame and is not acknowledged.
// A complete frame too short to carry a type and checksum is acknowledged
// and reported as ErrMalformedFrame. ErrNoFrame is returned when nothing
// starts within timeout.
func (e *Engine) ReadFrame(timeout time.Duration) (*serialapi.Frame, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.readFrame(timeout)
}

func (e *Engine) readFrame(timeout time.Duration) (*serialapi.Frame, error) {
	b, err := e.src.NextByte(timeout)
	for err == nil && b != serialapi.SOF {
		e.stats.DesyncBytes++
		e.metrics.desync()
		e.log.Debug("discarding byte outside frame", zap.Uint8("byte", b))
		b, err = e.src.NextByte(timeout)
	}
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			return nil, ErrNoFrame
		}
		return nil, err
	}

	length, err := e.frameByte()
	if err != nil {
		return e.truncated(nil, 0, err)
	}

	body := make([]byte, 0, length)
	for len(body) < int(length) {
		b, err := e.frameByte()
		if err != nil {
			return e.truncated(body, length, err)
		}
		body = append(body, b)
	}

	e.stats.FramesReceived++
	e.stats.touch()

	f, err := serialapi.FrameFromBody(length, body)
	switch {
	case errors.Is(err, serialapi.ErrChecksum):
		e.stats.ChecksumErrors++
		e.metrics.frameReceived("checksum")
		e.log.Warn("checksum mismatch on received frame",
			zap.Binary("body", body), zap.Error(err))
	case err != nil:
		e.stats.MalformedFrames++
		e.metrics.frameReceived("malformed")
		e.log.Warn("malformed frame", zap.Uint8("length", length), zap.Error(err))
	default:
		e.stats.ValidFrames++
		e.metrics.frameReceived("ok")
	}

	// Every complete frame is acknowledged, valid or not
	if werr := e.writeControl(serialapi.ACK); werr != nil {
		return nil, werr
	}

	if f == nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	e.log.Debug("frame received",
		zap.Uint8("func", f.FuncID()),
		zap.Binary("data", f.Data),
		zap.Bool("checksum_ok", f.ChecksumOK))
	return f, nil
}

// frameByte reads one byte inside a frame, tolerating a short stall
func (e *Engine) frameByte() (byte, error) {
	var err error
	for try := 0; try <= e.cfg.ByteStallRetries; try++ {
		var b byte
		b, err = e.src.NextByte(e.cfg.ByteWait)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, ErrTimeout) {
			return 0, err
		}
	}
	return 0, err
}

func (e *Engine) truncated(body []byte, length byte, cause error) (*serialapi.Frame, error) {
	if !errors.Is(cause, ErrTimeout) {
		return nil, cause
	}

	e.stats.TruncatedFrames++
	e.stats.touch()
	e.metrics.frameReceived("truncated")
	e.log.Warn("frame truncated",
		zap.Uint8("length", length),
		zap.Int("received", len(body)))

	f := &serialapi.Frame{Truncated: true, Timestamp: time.Now()}
	if len(body) > 0 {
		f.Direction = body[0]
		f.Data = append([]byte(nil), body[1:]...)
	}
	return f, fmt.Errorf("%w: %d of %d bytes", ErrTruncatedFrame, len(body), length)
}

func (e *Engine) writeControl(b byte) error {
	if _, err := e.src.Write([]byte{b}); err != nil {
		return fmt.Errorf("link: write 0x%02X: %w", b, err)
	}
	return nil
}

// flush acknowledges whatever the radio left pending and discards it
func (e *Engine) flush() error {
	if err := e.writeControl(serialapi.ACK); err != nil {
		return err
	}
	n := e.src.Drain()
	e.stats.FlushedBytes += uint64(n)
	return nil
}

// SendCommand transmits cmd (function id followed by arguments) and waits
// for the radio's acknowledgment, retransmitting up to MaxAttempts times.
// When wantResponse is set, one frame is then read with the given timeout.
//
// Failing to deliver or to receive a response is reported through the
// Exchange. Only byte source failures are returned as errors.
func (e *Engine) SendCommand(cmd []byte, wantResponse bool, timeout time.Duration) (*Exchange, error) {
	if len(cmd) == 0 {
		return nil, ErrEmptyCommand
	}
	wire, err := serialapi.EncodeFrame(cmd)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.Commands++
	fn := zap.Uint8("func", cmd[0])

	if e.src.Buffered() > 0 {
		e.log.Debug("flushing pending input before send", fn, zap.Int("bytes", e.src.Buffered()))
		if err := e.flush(); err != nil {
			return nil, err
		}
	}

	ex := &Exchange{}
	for ex.Attempts < e.cfg.MaxAttempts && !ex.Delivered {
		if ex.Attempts > 0 {
			e.stats.Retries++
			e.metrics.retry()
		}
		ex.Attempts++

		if _, err := e.src.Write(wire); err != nil {
			return ex, fmt.Errorf("link: write frame: %w", err)
		}
		e.stats.FramesSent++
		e.metrics.frameSent()

		reply, err := e.src.NextByte(e.cfg.HandshakeWait)
		if errors.Is(err, ErrTimeout) {
			e.stats.HandshakeTimeouts++
			e.metrics.handshake("timeout")
			e.log.Warn("no ACK", fn, zap.Int("try", ex.Attempts))
			if err := e.probe(); err != nil {
				return ex, err
			}
			continue
		}
		if err != nil {
			return ex, err
		}

		switch reply {
		case serialapi.ACK:
			e.metrics.handshake("ack")
			ex.Delivered = true

		case serialapi.CAN:
			e.stats.CANs++
			e.metrics.handshake("can")
			e.log.Warn("CAN received", fn, zap.Int("try", ex.Attempts))
			if err := e.flush(); err != nil {
				return ex, err
			}
			if e.cfg.HandleCancel {
				if err := e.flush(); err != nil {
					return ex, err
				}
			}

		case serialapi.NAK:
			e.stats.NAKs++
			e.metrics.handshake("nak")
			e.log.Warn("NAK received", fn, zap.Int("try", ex.Attempts))
			if err := e.flush(); err != nil {
				return ex, err
			}

		default:
			e.metrics.handshake("other")
			e.log.Warn("unexpected handshake byte", fn,
				zap.Uint8("byte", reply), zap.Int("try", ex.Attempts))
			if err := e.flush(); err != nil {
				return ex, err
			}
		}
	}

	if !ex.Delivered {
		e.stats.Undelivered++
		e.metrics.undelivered()
		e.log.Warn("command not acknowledged", fn, zap.Int("attempts", ex.Attempts))
	}

	if !wantResponse {
		return ex, nil
	}

	f, err := e.readFrame(timeout)
	switch {
	case err == nil:
		ex.Response = f
	case errors.Is(err, ErrNoFrame):
		e.log.Debug("no response", fn, zap.Duration("timeout", timeout))
	case errors.Is(err, ErrTruncatedFrame), errors.Is(err, ErrMalformedFrame):
		e.log.Debug("response unusable", fn, zap.Error(err))
	default:
		return ex, err
	}
	return ex, nil
}

// probe sends ACKs until the radio starts talking or the budget runs out.
// Some radios hold a pending frame until the host acknowledges again.
func (e *Engine) probe() error {
	for i := 0; i < e.cfg.ProbeAcks; i++ {
		if err := e.probes.Wait(context.Background()); err != nil {
			return err
		}
		if err := e.writeControl(serialapi.ACK); err != nil {
			return err
		}
		e.stats.ProbeAcks++
		if e.src.Buffered() > 0 {
			return nil
		}
	}
	return nil
}
