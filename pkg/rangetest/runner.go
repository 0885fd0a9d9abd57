// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package rangetest measures the radio link between a helper node and a
// device under test (DUT).
//
// The helper is asked, through the Powerlevel command class, to send a burst
// of test frames to the DUT at a given transmit power and to report how many
// were acknowledged. Stepping the power down finds the weakest level at
// which the DUT is still reliably heard.
//
//	host --TEST_NODE_SET--> helper --test frames--> DUT
//	host <-TEST_NODE_REPORT- helper <-----ACKs----- DUT
package rangetest

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/zwrange/pkg/link"
	"github.com/Thermoquad/zwrange/pkg/serialapi"
)

// Test termination errors
var (
	ErrSendRejected   = errors.New("rangetest: radio rejected the send")
	ErrHelperNoAck    = errors.New("rangetest: helper did not acknowledge")
	ErrDUTUnreachable = errors.New("rangetest: DUT unreachable at full power")
)

// Callback ids distinguishing the exchanges in a capture
const (
	preflightCallbackID = 44
	rampCallbackID      = 33
	lifelineCallbackID  = 78
	probeCallbackID     = 0x44
)

// Transport is the subset of the link engine the runner needs.
type Transport interface {
	SendCommand(cmd []byte, wantResponse bool, timeout time.Duration) (*link.Exchange, error)
	ReadFrame(timeout time.Duration) (*serialapi.Frame, error)
}

// Config describes one range test. It is not modified by the runner.
type Config struct {
	Helper serialapi.NodeID
	DUT    serialapi.NodeID

	// RemoveLifeline asks the DUT to drop its lifeline association first,
	// which keeps its reports from competing with the test traffic.
	RemoveLifeline bool

	// Levels are tested in order, strongest first.
	Levels []serialapi.PowerLevel

	// PreflightProbes is the burst size of the full power reachability check.
	PreflightProbes uint16

	// Probes is the burst size per ramp level.
	Probes uint16

	// PassAcks is the minimum acknowledged count for a level to pass.
	PassAcks uint16

	TxOptions byte

	// FrameWait bounds the wait for the send response and the helper
	// transmit callback.
	FrameWait time.Duration

	// ReportWait bounds the wait for the test report, which arrives only
	// after the whole burst.
	ReportWait time.Duration

	// ProbeWait bounds the wait for the transmit callback of an RSSI probe.
	ProbeWait time.Duration
}

// DefaultConfig returns the standard ramp for the given helper and DUT.
func DefaultConfig(helper, dut serialapi.NodeID) Config {
	return Config{
		Helper:          helper,
		DUT:             dut,
		Levels:          append([]serialapi.PowerLevel(nil), serialapi.RampLevels...),
		PreflightProbes: 3,
		Probes:          10,
		PassAcks:        5,
		TxOptions:       serialapi.DefaultTxOptions,
		FrameWait:       5 * time.Second,
		ReportWait:      10 * time.Second,
		ProbeWait:       time.Second,
	}
}

// LevelResult is the outcome of one burst.
type LevelResult struct {
	Level serialapi.PowerLevel

	// Accepted is true when the local radio queued the command.
	Accepted bool

	// HelperAcked is true when the helper acknowledged the command.
	HelperAcked bool
	HelperTx    serialapi.TxStatus

	// HasReport is true when a test report arrived; Acks is its count.
	HasReport bool
	Acks      uint16

	Passed bool
}

// Result is the outcome of a range test.
type Result struct {
	Helper serialapi.NodeID
	DUT    serialapi.NodeID

	LifelineRemoved bool

	Preflight LevelResult
	Levels    []LevelResult

	// MinLevel is the weakest passing level, or normal power when none
	// passed.
	MinLevel serialapi.PowerLevel

	// Acks is the count reported at MinLevel.
	Acks   uint16
	Probes uint16

	// YieldPercent is Acks as a percentage of Probes.
	YieldPercent int

	// Usable is true when at least one level passed.
	Usable bool
}

// EventKind classifies observer events.
type EventKind int

const (
	EventLifeline EventKind = iota
	EventPreflight
	EventLevelStart
	EventLevelDone
)

// Event is a progress notification. Level is set for level events, Result
// for completed bursts.
type Event struct {
	Kind   EventKind
	Index  int
	Total  int
	Level  serialapi.PowerLevel
	Result *LevelResult
	OK     bool
}

// Observer receives progress events. It is called synchronously.
type Observer func(Event)

// Runner executes range tests and RSSI probes over a Transport.
type Runner struct {
	t       Transport
	cfg     Config
	log     *zap.Logger
	metrics *Metrics
	observe Observer
}

// Option configures a Runner
type Option func(*Runner)

// WithLogger sets the runner logger
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// WithObserver installs a progress observer
func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observe = o }
}

// WithMetrics attaches Prometheus metrics
func WithMetrics(m *Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// NewRunner creates a runner for cfg.
func NewRunner(t Transport, cfg Config, opts ...Option) *Runner {
	r := &Runner{
		t:   t,
		cfg: cfg,
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(
		zap.Uint8("helper", uint8(cfg.Helper)),
		zap.Uint8("dut", uint8(cfg.DUT)))
	return r
}

func (r *Runner) emit(ev Event) {
	if r.observe != nil {
		r.observe(ev)
	}
}

// Run performs the optional lifeline removal, the full power preflight and
// the power ramp.
//
// A preflight failure ends the test with ErrSendRejected, ErrHelperNoAck or
// ErrDUTUnreachable and a Result holding the preflight outcome. Other
// errors come from the transport.
func (r *Runner) Run() (*Result, error) {
	res := &Result{
		Helper:   r.cfg.Helper,
		DUT:      r.cfg.DUT,
		MinLevel: serialapi.PowerNormal,
		Probes:   r.cfg.Probes,
	}

	if r.cfg.RemoveLifeline {
		removed, err := r.RemoveLifeline(r.cfg.DUT)
		if err != nil {
			return res, err
		}
		res.LifelineRemoved = removed
		r.emit(Event{Kind: EventLifeline, OK: removed})
	}

	if err := r.preflight(res); err != nil {
		r.metrics.observe(res, err)
		return res, err
	}

	total := len(r.cfg.Levels)
	for i, level := range r.cfg.Levels {
		r.emit(Event{Kind: EventLevelStart, Index: i, Total: total, Level: level})

		lr := LevelResult{Level: level}
		if err := r.burst(&lr, r.cfg.Probes, rampCallbackID); err != nil {
			return res, err
		}
		lr.Passed = lr.HasReport && lr.Acks >= r.cfg.PassAcks
		res.Levels = append(res.Levels, lr)

		r.log.Info("level tested",
			zap.Stringer("level", level),
			zap.Uint16("acks", lr.Acks),
			zap.Bool("report", lr.HasReport),
			zap.Bool("passed", lr.Passed))
		r.emit(Event{Kind: EventLevelDone, Index: i, Total: total, Level: level, Result: &lr, OK: lr.Passed})

		if !lr.Passed {
			break
		}
		res.MinLevel = level
		res.Acks = lr.Acks
		res.Usable = true
	}

	if res.Probes > 0 {
		res.YieldPercent = int(res.Acks) * 100 / int(res.Probes)
	}
	r.metrics.observe(res, nil)
	return res, nil
}

func (r *Runner) preflight(res *Result) error {
	lr := &res.Preflight
	lr.Level = serialapi.PowerNormal

	accepted, err := r.send(lr.Level, r.cfg.PreflightProbes, preflightCallbackID)
	if err != nil {
		return err
	}
	lr.Accepted = accepted
	if !accepted {
		r.emit(Event{Kind: EventPreflight, Result: lr})
		return fmt.Errorf("%w: test node set to helper %d", ErrSendRejected, r.cfg.Helper)
	}

	if err := r.helperCallback(lr); err != nil {
		return err
	}
	if !lr.HelperAcked {
		r.emit(Event{Kind: EventPreflight, Result: lr})
		return fmt.Errorf("%w: node %d (%s), check the helper node id",
			ErrHelperNoAck, r.cfg.Helper, lr.HelperTx)
	}

	if err := r.report(lr); err != nil {
		return err
	}
	lr.Passed = lr.HasReport && lr.Acks >= 1
	r.emit(Event{Kind: EventPreflight, Result: lr, OK: lr.Passed})
	if !lr.Passed {
		return fmt.Errorf("%w: %d of %d acknowledged, move the DUT closer to the helper",
			ErrDUTUnreachable, lr.Acks, r.cfg.PreflightProbes)
	}
	return nil
}

// burst runs one complete TEST_NODE_SET exchange, reading the callback and
// the report whether or not the earlier steps succeeded
func (r *Runner) burst(lr *LevelResult, count uint16, callbackID byte) error {
	accepted, err := r.send(lr.Level, count, callbackID)
	if err != nil {
		return err
	}
	lr.Accepted = accepted
	if err := r.helperCallback(lr); err != nil {
		return err
	}
	return r.report(lr)
}

func (r *Runner) send(level serialapi.PowerLevel, count uint16, callbackID byte) (bool, error) {
	cmd := serialapi.SendData(r.cfg.Helper,
		serialapi.PowerlevelTestNode(r.cfg.DUT, level, count),
		r.cfg.TxOptions, callbackID)

	ex, err := r.t.SendCommand(cmd, true, r.cfg.FrameWait)
	if err != nil {
		return false, err
	}
	accepted := serialapi.SendDataAccepted(ex.Response)
	if !accepted {
		r.log.Warn("send data rejected",
			zap.Stringer("level", level),
			zap.Bool("delivered", ex.Delivered),
			zap.Bool("response", ex.Response != nil))
	}
	return accepted, nil
}

// readFrame treats a missing or cut off frame as absent. Malformed frames
// are line noise; reading goes on until timeout has elapsed.
func (r *Runner) readFrame(timeout time.Duration) (*serialapi.Frame, error) {
	deadline := time.Now().Add(timeout)
	for {
		f, err := r.t.ReadFrame(timeout)
		switch {
		case errors.Is(err, link.ErrMalformedFrame):
			r.log.Debug("skipping malformed frame", zap.Error(err))
			if timeout = time.Until(deadline); timeout <= 0 {
				return nil, nil
			}
		case errors.Is(err, link.ErrNoFrame), errors.Is(err, link.ErrTruncatedFrame):
			return nil, nil
		default:
			return f, err
		}
	}
}

func (r *Runner) helperCallback(lr *LevelResult) error {
	f, err := r.readFrame(r.cfg.FrameWait)
	if err != nil {
		return err
	}
	tx, perr := serialapi.ParseTransmitReport(f)
	if perr != nil {
		r.log.Debug("no helper transmit callback", zap.Error(perr))
		lr.HelperTx = serialapi.TransmitCompleteFail
		return nil
	}
	lr.HelperTx = tx.Status
	lr.HelperAcked = tx.Status == serialapi.TransmitCompleteOK
	return nil
}

func (r *Runner) report(lr *LevelResult) error {
	f, err := r.readFrame(r.cfg.ReportWait)
	if err != nil {
		return err
	}
	rep, perr := serialapi.ParseTestNodeReport(f)
	if perr != nil {
		r.log.Debug("no test node report", zap.Error(perr))
		return nil
	}
	if rep.Source != r.cfg.Helper || rep.TestNode != r.cfg.DUT {
		r.log.Debug("test report for another pair",
			zap.Uint8("source", uint8(rep.Source)),
			zap.Uint8("test_node", uint8(rep.TestNode)))
	}
	lr.HasReport = true
	lr.Acks = rep.Acks
	return nil
}

// RemoveLifeline removes association group 1 (the lifeline to the
// controller) from node. It reports whether the node acknowledged; only
// transport failures are returned as errors.
func (r *Runner) RemoveLifeline(node serialapi.NodeID) (bool, error) {
	cmd := serialapi.SendData(node, serialapi.AssociationRemoveNode(1, 1), r.cfg.TxOptions, lifelineCallbackID)
	if _, err := r.t.SendCommand(cmd, true, r.cfg.FrameWait); err != nil {
		return false, err
	}

	f, err := r.readFrame(r.cfg.ReportWait)
	if err != nil {
		return false, err
	}
	tx, perr := serialapi.ParseTransmitReport(f)
	if perr != nil || tx.Status != serialapi.TransmitCompleteOK {
		r.log.Warn("failed to remove lifeline", zap.Uint8("node", uint8(node)))
		return false, nil
	}
	r.log.Info("lifeline removed", zap.Uint8("node", uint8(node)))
	return true, nil
}
