// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package netmgmt drives network membership changes on the controller
// radio: adding a node, removing a node, and erasing the network.
package netmgmt

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/zwrange/pkg/link"
	"github.com/Thermoquad/zwrange/pkg/serialapi"
)

// ErrInclusionFailed is returned when an add or remove session ends without
// a node joining or leaving.
var ErrInclusionFailed = errors.New("netmgmt: inclusion failed")

// Callback ids distinguishing the sessions in a capture
const (
	IncludeCallbackID = 0x98
	ExcludeCallbackID = 0x99
	stopCallbackID    = 0x00
)

// Transport is the subset of the link engine the controller needs.
type Transport interface {
	SendCommand(cmd []byte, wantResponse bool, timeout time.Duration) (*link.Exchange, error)
	ReadFrame(timeout time.Duration) (*serialapi.Frame, error)
}

// Mode selects adding or removing a node.
type Mode int

const (
	ModeInclude Mode = iota
	ModeExclude
)

func (m Mode) String() string {
	if m == ModeExclude {
		return "exclude"
	}
	return "include"
}

// Config holds the controller timing.
type Config struct {
	// CallbackWait bounds the wait for the start response and the first
	// status callback, which only arrives once the user presses the button.
	CallbackWait time.Duration

	// FrameWait bounds the wait for each later status callback.
	FrameWait time.Duration

	// MaxPolls is the number of status callbacks read after the first one.
	MaxPolls int

	// ResetSettle is the pause after erasing the network.
	ResetSettle time.Duration
}

// DefaultConfig returns the timing used in the field.
func DefaultConfig() Config {
	return Config{
		CallbackWait: 10 * time.Second,
		FrameWait:    5 * time.Second,
		MaxPolls:     5,
		ResetSettle:  2 * time.Second,
	}
}

// EventKind classifies observer events.
type EventKind int

const (
	// EventReady means the radio is listening; the user should press the
	// button on the device now.
	EventReady EventKind = iota
	// EventStatus reports a status callback.
	EventStatus
	// EventNode reports the id of the node joining or leaving.
	EventNode
)

// Event is a progress notification for the user interface.
type Event struct {
	Kind   EventKind
	Mode   Mode
	Status serialapi.NodeStatus
	NodeID serialapi.NodeID
}

// Observer receives progress events. It is called synchronously.
type Observer func(Event)

// Result is the outcome of an add or remove session.
type Result struct {
	Mode Mode

	// Ready is true when the radio reported LEARN_READY on start.
	Ready bool

	// FellBack is true when the session was restarted with a remove-node
	// command because the radio did not report ready.
	FellBack bool

	// Statuses lists every status callback in arrival order.
	Statuses []serialapi.NodeStatus

	// Final is the last status seen.
	Final serialapi.NodeStatus

	NodeID  serialapi.NodeID
	HasNode bool

	Success bool

	// Stopped is true when the radio acknowledged the stop command.
	Stopped bool
}

// Controller runs add/remove sessions over a Transport.
type Controller struct {
	t       Transport
	cfg     Config
	log     *zap.Logger
	observe Observer
	sleep   func(time.Duration)
}

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the controller logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithObserver installs a progress observer
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observe = o }
}

// NewController creates a controller using t.
func NewController(t Transport, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		t:     t,
		cfg:   cfg,
		log:   zap.NewNop(),
		sleep: time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) emit(ev Event) {
	if c.observe != nil {
		c.observe(ev)
	}
}

// Include adds one node to the network.
func (c *Controller) Include() (*Result, error) {
	return c.run(ModeInclude)
}

// Exclude removes one node from the network.
func (c *Controller) Exclude() (*Result, error) {
	return c.run(ModeExclude)
}

func (c *Controller) run(mode Mode) (res *Result, err error) {
	res = &Result{Mode: mode}
	log := c.log.With(zap.Stringer("mode", mode))

	// The stop command goes out however the session ends
	defer func() {
		stopped, stopErr := c.stop(mode)
		res.Stopped = stopped
		if err == nil && stopErr != nil {
			err = stopErr
		}
	}()

	start := serialapi.AddNodeToNetwork(serialapi.AddNodeMode, IncludeCallbackID)
	if mode == ModeExclude {
		start = serialapi.RemoveNodeFromNetwork(serialapi.AddNodeMode, ExcludeCallbackID)
	}

	ex, err := c.t.SendCommand(start, true, c.cfg.CallbackWait)
	if err != nil {
		return res, err
	}

	res.Ready = learnReady(ex.Response)
	if !res.Ready {
		// Remove node also closes a session left open on the radio
		log.Warn("radio not ready, retrying with remove node")
		res.FellBack = true
		ex, err = c.t.SendCommand(
			serialapi.RemoveNodeFromNetwork(serialapi.AddNodeMode, ExcludeCallbackID),
			true, c.cfg.CallbackWait)
		if err != nil {
			return res, err
		}
		res.Ready = learnReady(ex.Response)
	}

	c.emit(Event{Kind: EventReady, Mode: mode})

	wait := c.cfg.CallbackWait
	for poll := 0; poll <= c.cfg.MaxPolls; poll++ {
		f, err := c.readCallback(wait, log)
		wait = c.cfg.FrameWait

		if errors.Is(err, link.ErrNoFrame) || errors.Is(err, link.ErrTruncatedFrame) {
			log.Debug("no status callback", zap.Int("poll", poll), zap.Error(err))
			break
		}
		if err != nil {
			return res, err
		}

		report, perr := serialapi.ParseNodeStatus(f)
		if perr != nil {
			log.Debug("ignoring unrelated frame", zap.Uint8("func", f.FuncID()), zap.Error(perr))
			continue
		}

		c.record(res, report, log)
		if report.Status.Terminal() {
			break
		}
	}

	res.Success = succeeded(res)
	if !res.Success {
		return res, fmt.Errorf("%w: %s ended with %s", ErrInclusionFailed, mode, res.Final)
	}
	return res, nil
}

// readCallback reads one frame, skipping malformed frames until timeout
// has elapsed
func (c *Controller) readCallback(timeout time.Duration, log *zap.Logger) (*serialapi.Frame, error) {
	deadline := time.Now().Add(timeout)
	for {
		f, err := c.t.ReadFrame(timeout)
		if !errors.Is(err, link.ErrMalformedFrame) {
			return f, err
		}
		log.Debug("skipping malformed frame", zap.Error(err))
		if timeout = time.Until(deadline); timeout <= 0 {
			return nil, link.ErrNoFrame
		}
	}
}

func (c *Controller) record(res *Result, report *serialapi.NodeStatusReport, log *zap.Logger) {
	res.Statuses = append(res.Statuses, report.Status)
	res.Final = report.Status
	log.Info("node status", zap.Stringer("status", report.Status))
	c.emit(Event{Kind: EventStatus, Mode: res.Mode, Status: report.Status})

	if !report.HasNode || report.NodeID == 0 {
		return
	}
	switch report.Status {
	case serialapi.StatusAddingSlave, serialapi.StatusAddingController,
		serialapi.StatusProtocolDone, serialapi.StatusDone:
		if !res.HasNode || res.NodeID != report.NodeID {
			res.NodeID = report.NodeID
			res.HasNode = true
			log.Info("node identified", zap.Uint8("node_id", uint8(report.NodeID)))
			c.emit(Event{Kind: EventNode, Mode: res.Mode, Status: report.Status, NodeID: report.NodeID})
		}
	}
}

func (c *Controller) stop(mode Mode) (bool, error) {
	cmd := serialapi.AddNodeToNetwork(serialapi.AddNodeStop, stopCallbackID)
	if mode == ModeExclude {
		cmd = serialapi.RemoveNodeFromNetwork(serialapi.AddNodeStop, stopCallbackID)
	}
	ex, err := c.t.SendCommand(cmd, false, 0)
	if err != nil {
		return false, err
	}
	return ex.Delivered, nil
}

func learnReady(f *serialapi.Frame) bool {
	status, ok := f.Byte(2)
	return ok && serialapi.NodeStatus(status) == serialapi.StatusLearnReady
}

func succeeded(res *Result) bool {
	failed := false
	for _, s := range res.Statuses {
		switch s {
		case serialapi.StatusDone, serialapi.StatusProtocolDone:
			return true
		case serialapi.StatusFailed, serialapi.StatusNotPrimary:
			failed = true
		}
	}
	return res.HasNode && !failed
}

// ResetNetwork erases the network held by the radio and waits for it to
// restart. The radio sends no response to the reset.
func (c *Controller) ResetNetwork() error {
	ex, err := c.t.SendCommand(serialapi.SetDefault(), false, 0)
	if err != nil {
		return err
	}
	if !ex.Delivered {
		c.log.Warn("reset not acknowledged", zap.Int("attempts", ex.Attempts))
	}
	c.sleep(c.cfg.ResetSettle)
	return nil
}
