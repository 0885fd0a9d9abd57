// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package netmgmt

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/zwrange/pkg/link"
	"github.com/Thermoquad/zwrange/pkg/serialapi"
)

type sentCommand struct {
	cmd          []byte
	wantResponse bool
	timeout      time.Duration
}

// scriptedTransport answers commands from a queue of responses and reads
// from a queue of callback frames. An exhausted queue behaves like silence.
type scriptedTransport struct {
	responses []*serialapi.Frame
	callbacks []*serialapi.Frame
	sendErr   error

	sent  []sentCommand
	reads []time.Duration
}

func (s *scriptedTransport) SendCommand(cmd []byte, wantResponse bool, timeout time.Duration) (*link.Exchange, error) {
	s.sent = append(s.sent, sentCommand{cmd: cmd, wantResponse: wantResponse, timeout: timeout})
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	ex := &link.Exchange{Attempts: 1, Delivered: true}
	if wantResponse && len(s.responses) > 0 {
		ex.Response = s.responses[0]
		s.responses = s.responses[1:]
	}
	return ex, nil
}

func (s *scriptedTransport) ReadFrame(timeout time.Duration) (*serialapi.Frame, error) {
	s.reads = append(s.reads, timeout)
	if len(s.callbacks) == 0 {
		return nil, link.ErrNoFrame
	}
	f := s.callbacks[0]
	s.callbacks = s.callbacks[1:]
	if f == lineNoise {
		return nil, fmt.Errorf("%w: %w", link.ErrMalformedFrame, serialapi.ErrShortFrame)
	}
	return f, nil
}

// lineNoise in the callback queue reads as a malformed frame
var lineNoise = &serialapi.Frame{}

func status(fn, cb byte, st serialapi.NodeStatus, node byte) *serialapi.Frame {
	return &serialapi.Frame{Data: []byte{fn, cb, byte(st), node}, ChecksumOK: true}
}

func addStatus(st serialapi.NodeStatus, node byte) *serialapi.Frame {
	return status(serialapi.FuncAddNodeToNetwork, IncludeCallbackID, st, node)
}

func removeStatus(st serialapi.NodeStatus, node byte) *serialapi.Frame {
	return status(serialapi.FuncRemoveNodeFromNetwork, ExcludeCallbackID, st, node)
}

func testConfig() Config {
	return Config{
		CallbackWait: 10 * time.Second,
		FrameWait:    5 * time.Second,
		MaxPolls:     5,
	}
}

func lastCommand(tr *scriptedTransport) []byte {
	return tr.sent[len(tr.sent)-1].cmd
}

func TestInclude_DoneBeforeBudget(t *testing.T) {
	tr := &scriptedTransport{
		responses: []*serialapi.Frame{addStatus(serialapi.StatusLearnReady, 0)},
		callbacks: []*serialapi.Frame{
			addStatus(serialapi.StatusNodeFound, 0),
			addStatus(serialapi.StatusAddingSlave, 7),
			addStatus(serialapi.StatusProtocolDone, 7),
			addStatus(serialapi.StatusDone, 7),
		},
	}

	var events []Event
	c := NewController(tr, testConfig(), WithObserver(func(ev Event) { events = append(events, ev) }))

	res, err := c.Include()
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Ready)
	assert.False(t, res.FellBack)
	assert.Equal(t, serialapi.NodeID(7), res.NodeID)
	assert.Equal(t, serialapi.StatusProtocolDone, res.Final)
	assert.Len(t, tr.reads, 3, "polling stops at the first terminal status")
	assert.Len(t, tr.callbacks, 1, "the DONE callback is left unread")

	// Start command, then stop without waiting for a response
	require.Len(t, tr.sent, 2)
	assert.Equal(t, []byte{0x4A, 0xC1, 0x98}, tr.sent[0].cmd)
	assert.True(t, tr.sent[0].wantResponse)
	assert.Equal(t, 10*time.Second, tr.sent[0].timeout)
	assert.Equal(t, []byte{0x4A, 0x05, 0x00}, lastCommand(tr))
	assert.False(t, tr.sent[1].wantResponse)
	assert.True(t, res.Stopped)

	// First callback waits for the button press, the rest use the frame wait
	assert.Equal(t, []time.Duration{10 * time.Second, 5 * time.Second, 5 * time.Second}, tr.reads)

	require.NotEmpty(t, events)
	assert.Equal(t, EventReady, events[0].Kind)
	var nodeEvents int
	for _, ev := range events {
		if ev.Kind == EventNode {
			nodeEvents++
			assert.Equal(t, serialapi.NodeID(7), ev.NodeID)
		}
	}
	assert.Equal(t, 1, nodeEvents)
}

func TestInclude_SkipsMalformedFrames(t *testing.T) {
	tr := &scriptedTransport{
		responses: []*serialapi.Frame{addStatus(serialapi.StatusLearnReady, 0)},
		callbacks: []*serialapi.Frame{
			lineNoise,
			addStatus(serialapi.StatusNodeFound, 0),
			lineNoise,
			lineNoise,
			addStatus(serialapi.StatusAddingSlave, 9),
			addStatus(serialapi.StatusDone, 9),
		},
	}
	c := NewController(tr, testConfig())

	res, err := c.Include()
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, serialapi.NodeID(9), res.NodeID)
	assert.Equal(t, serialapi.StatusDone, res.Final)
	assert.Empty(t, tr.callbacks)
	assert.True(t, res.Stopped)
}

func TestExclude_NoiseOnlyEndsSession(t *testing.T) {
	tr := &scriptedTransport{
		responses: []*serialapi.Frame{removeStatus(serialapi.StatusLearnReady, 0)},
		callbacks: []*serialapi.Frame{lineNoise},
	}
	c := NewController(tr, testConfig())

	res, err := c.Exclude()
	assert.ErrorIs(t, err, ErrInclusionFailed)
	assert.Empty(t, res.Statuses)
	assert.Equal(t, []byte{0x4B, 0x05, 0x00}, lastCommand(tr))
}

func TestInclude_FallsBackToRemoveWhenNotReady(t *testing.T) {
	tr := &scriptedTransport{
		responses: []*serialapi.Frame{
			addStatus(serialapi.StatusFailed, 0),
			removeStatus(serialapi.StatusLearnReady, 0),
		},
		callbacks: []*serialapi.Frame{addStatus(serialapi.StatusDone, 4)},
	}
	c := NewController(tr, testConfig())

	res, err := c.Include()
	require.NoError(t, err)
	assert.True(t, res.FellBack)
	assert.True(t, res.Ready)
	require.Len(t, tr.sent, 3)
	assert.Equal(t, []byte{0x4B, 0xC1, 0x99}, tr.sent[1].cmd)
	assert.Equal(t, []byte{0x4A, 0x05, 0x00}, lastCommand(tr))
}

func TestInclude_FallsBackWhenNoResponse(t *testing.T) {
	tr := &scriptedTransport{}
	c := NewController(tr, testConfig())

	res, err := c.Include()
	assert.ErrorIs(t, err, ErrInclusionFailed)
	assert.True(t, res.FellBack)
	assert.False(t, res.Success)
	require.Len(t, tr.sent, 3)
	assert.Equal(t, []byte{0x4A, 0x05, 0x00}, lastCommand(tr))
}

func TestInclude_Failed(t *testing.T) {
	tr := &scriptedTransport{
		responses: []*serialapi.Frame{addStatus(serialapi.StatusLearnReady, 0)},
		callbacks: []*serialapi.Frame{
			addStatus(serialapi.StatusNodeFound, 0),
			addStatus(serialapi.StatusFailed, 0),
			addStatus(serialapi.StatusDone, 3),
		},
	}
	c := NewController(tr, testConfig())

	res, err := c.Include()
	assert.ErrorIs(t, err, ErrInclusionFailed)
	assert.False(t, res.Success)
	assert.Equal(t, serialapi.StatusFailed, res.Final)
	assert.Len(t, tr.reads, 2)
	assert.Equal(t, []byte{0x4A, 0x05, 0x00}, lastCommand(tr))
}

func TestInclude_NotPrimary(t *testing.T) {
	tr := &scriptedTransport{
		responses: []*serialapi.Frame{addStatus(serialapi.StatusLearnReady, 0)},
		callbacks: []*serialapi.Frame{addStatus(serialapi.StatusNotPrimary, 0)},
	}
	c := NewController(tr, testConfig())

	res, err := c.Include()
	assert.ErrorIs(t, err, ErrInclusionFailed)
	assert.Equal(t, serialapi.StatusNotPrimary, res.Final)
	assert.Len(t, tr.reads, 1)
}

func TestInclude_PollBudget(t *testing.T) {
	callbacks := make([]*serialapi.Frame, 10)
	for i := range callbacks {
		callbacks[i] = addStatus(serialapi.StatusNodeFound, 0)
	}
	tr := &scriptedTransport{
		responses: []*serialapi.Frame{addStatus(serialapi.StatusLearnReady, 0)},
		callbacks: callbacks,
	}
	c := NewController(tr, testConfig())

	_, err := c.Include()
	assert.ErrorIs(t, err, ErrInclusionFailed)
	assert.Len(t, tr.reads, 6, "first callback plus five polls")
	assert.Equal(t, []byte{0x4A, 0x05, 0x00}, lastCommand(tr))
}

func TestInclude_NodeWithoutDoneSucceeds(t *testing.T) {
	tr := &scriptedTransport{
		responses: []*serialapi.Frame{addStatus(serialapi.StatusLearnReady, 0)},
		callbacks: []*serialapi.Frame{
			addStatus(serialapi.StatusNodeFound, 0),
			addStatus(serialapi.StatusAddingController, 9),
		},
	}
	c := NewController(tr, testConfig())

	res, err := c.Include()
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, serialapi.NodeID(9), res.NodeID)
}

func TestInclude_IgnoresUnrelatedFrames(t *testing.T) {
	tr := &scriptedTransport{
		responses: []*serialapi.Frame{addStatus(serialapi.StatusLearnReady, 0)},
		callbacks: []*serialapi.Frame{
			{Data: []byte{serialapi.FuncApplicationCommandHandler, 0x00, 0x05, 0x02, 0x20, 0x03}},
			addStatus(serialapi.StatusDone, 5),
		},
	}
	c := NewController(tr, testConfig())

	res, err := c.Include()
	require.NoError(t, err)
	assert.Equal(t, []serialapi.NodeStatus{serialapi.StatusDone}, res.Statuses)
}

func TestExclude(t *testing.T) {
	tr := &scriptedTransport{
		responses: []*serialapi.Frame{removeStatus(serialapi.StatusLearnReady, 0)},
		callbacks: []*serialapi.Frame{
			removeStatus(serialapi.StatusNodeFound, 0),
			removeStatus(serialapi.StatusAddingSlave, 12),
			removeStatus(serialapi.StatusDone, 12),
		},
	}
	c := NewController(tr, testConfig())

	res, err := c.Exclude()
	require.NoError(t, err)
	assert.Equal(t, ModeExclude, res.Mode)
	assert.Equal(t, serialapi.NodeID(12), res.NodeID)
	assert.Equal(t, []byte{0x4B, 0xC1, 0x99}, tr.sent[0].cmd)
	assert.Equal(t, []byte{0x4B, 0x05, 0x00}, lastCommand(tr))
}

func TestInclude_TransportFailureStillStops(t *testing.T) {
	broken := errors.New("port gone")
	tr := &scriptedTransport{sendErr: broken}
	c := NewController(tr, testConfig())

	res, err := c.Include()
	assert.ErrorIs(t, err, broken)
	assert.False(t, res.Stopped)
	require.Len(t, tr.sent, 2, "stop is attempted after the failed start")
	assert.Equal(t, []byte{0x4A, 0x05, 0x00}, lastCommand(tr))
}

func TestResetNetwork(t *testing.T) {
	tr := &scriptedTransport{}
	c := NewController(tr, Config{ResetSettle: 2 * time.Second})
	var slept time.Duration
	c.sleep = func(d time.Duration) { slept = d }

	require.NoError(t, c.ResetNetwork())
	require.Len(t, tr.sent, 1)
	assert.Equal(t, []byte{serialapi.FuncSetDefault}, tr.sent[0].cmd)
	assert.False(t, tr.sent[0].wantResponse)
	assert.Equal(t, 2*time.Second, slept)
}

func TestInfo(t *testing.T) {
	caps := append([]byte{0x07, 0x01, 0x02, 0x00, 0x00, 0x01, 0x02, 0x00, 0x03}, make([]byte, 32)...)
	version := append([]byte{0x15}, []byte("Z-Wave 7.13\x00")...)
	version = append(version, byte(serialapi.LibControllerStatic))
	mask := make([]byte, 29)
	mask[0] = 0x03
	initData := append([]byte{0x02, 0x08, 0x00, 29}, mask...)

	tr := &scriptedTransport{responses: []*serialapi.Frame{
		{Data: caps, Direction: serialapi.Response, ChecksumOK: true},
		{Data: version, Direction: serialapi.Response, ChecksumOK: true},
		{Data: initData, Direction: serialapi.Response, ChecksumOK: true},
	}}
	c := NewController(tr, testConfig())

	info, err := c.Info()
	require.NoError(t, err)
	require.NotNil(t, info.Capabilities)
	assert.True(t, info.Capabilities.SiliconLabs())
	require.NotNil(t, info.Version)
	assert.Equal(t, "7.13", info.Version.ProtocolVersion())
	require.NotNil(t, info.InitData)
	assert.Equal(t, []serialapi.NodeID{1, 2}, info.InitData.Nodes)
}

func TestInfo_SilentRadio(t *testing.T) {
	c := NewController(&scriptedTransport{}, testConfig())

	info, err := c.Info()
	require.NoError(t, err)
	assert.Nil(t, info.Capabilities)
	assert.Nil(t, info.Version)
	assert.Nil(t, info.InitData)
}
