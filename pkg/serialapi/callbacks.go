// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package serialapi

import "fmt"

// SendDataAccepted reports whether a ZW_SendData response frame says the
// radio queued the transmission (return value 0x01).
func SendDataAccepted(f *Frame) bool {
	fn, ok := f.Byte(0)
	if !ok || fn != FuncSendData {
		return false
	}
	ret, ok := f.Byte(1)
	return ok && ret == 0x01
}

// TransmitReport is the decoded ZW_SendData completion callback.
//
// Layout: funcID | callbackID | txStatus | ticksMSB | ticksLSB | repeaters |
// rssi[0..4] | ackChannel | lastTxChannel | ...
type TransmitReport struct {
	CallbackID    byte
	Status        TxStatus
	TransmitTicks uint16
	Repeaters     uint8
	RSSI          RSSI
	HasRSSI       bool
}

// ParseTransmitReport decodes a ZW_SendData callback. Firmware without
// extended transmit reports stops after the status byte.
func ParseTransmitReport(f *Frame) (*TransmitReport, error) {
	if f.Len() < 3 {
		return nil, fmt.Errorf("%w: transmit callback of %d bytes", ErrShortFrame, f.Len())
	}
	if f.Data[0] != FuncSendData {
		return nil, fmt.Errorf("%w: 0x%02X in transmit callback", ErrUnexpectedFunction, f.Data[0])
	}

	r := &TransmitReport{
		CallbackID: f.Data[1],
		Status:     TxStatus(f.Data[2]),
	}
	if f.Len() > 5 {
		r.TransmitTicks = uint16(f.Data[3])<<8 | uint16(f.Data[4])
		r.Repeaters = f.Data[5]
	}
	if f.Len() > 6 {
		r.RSSI = RSSI(f.Data[6])
		r.HasRSSI = true
	}
	return r, nil
}

// NodeStatusReport is an add/remove node callback.
type NodeStatusReport struct {
	Function   byte
	CallbackID byte
	Status     NodeStatus
	NodeID     NodeID
	HasNode    bool
}

// ParseNodeStatus decodes an add/remove node callback or response. The
// status lives in Data[2]; a node id follows in Data[3] when present.
func ParseNodeStatus(f *Frame) (*NodeStatusReport, error) {
	if f.Len() < 3 {
		return nil, fmt.Errorf("%w: node status of %d bytes", ErrShortFrame, f.Len())
	}
	fn := f.Data[0]
	if fn != FuncAddNodeToNetwork && fn != FuncRemoveNodeFromNetwork {
		return nil, fmt.Errorf("%w: 0x%02X in node status", ErrUnexpectedFunction, fn)
	}

	r := &NodeStatusReport{
		Function:   fn,
		CallbackID: f.Data[1],
		Status:     NodeStatus(f.Data[2]),
	}
	if f.Len() > 3 {
		r.NodeID = NodeID(f.Data[3])
		r.HasNode = true
	}
	return r, nil
}

// Powerlevel test status values carried in a TEST_NODE_REPORT
const (
	TestNodeFailed     = 0x00
	TestNodeSuccess    = 0x01
	TestNodeInProgress = 0x02
)

// TestNodeReport is a POWERLEVEL_TEST_NODE_REPORT delivered through the
// application command handler.
type TestNodeReport struct {
	Source   NodeID
	TestNode NodeID
	Status   byte
	Acks     uint16
}

// testNodeReportLength is the frame length of an application command handler
// frame carrying a TEST_NODE_REPORT:
// funcID | rxStatus | source | cmdLength | CC | cmd | testNode | status | countMSB | countLSB
const testNodeReportLength = 10

// ParseTestNodeReport decodes a POWERLEVEL_TEST_NODE_REPORT frame.
func ParseTestNodeReport(f *Frame) (*TestNodeReport, error) {
	if f.Len() < testNodeReportLength {
		return nil, fmt.Errorf("%w: test node report of %d bytes", ErrShortFrame, f.Len())
	}
	if f.Data[0] != FuncApplicationCommandHandler {
		return nil, fmt.Errorf("%w: 0x%02X in test node report", ErrUnexpectedFunction, f.Data[0])
	}
	if f.Data[4] != CommandClassPowerlevel || f.Data[5] != PowerlevelTestNodeReport {
		return nil, fmt.Errorf("%w: command 0x%02X/0x%02X is not a test node report",
			ErrUnexpectedFunction, f.Data[4], f.Data[5])
	}

	return &TestNodeReport{
		Source:   NodeID(f.Data[2]),
		TestNode: NodeID(f.Data[6]),
		Status:   f.Data[7],
		Acks:     uint16(f.Data[8])<<8 | uint16(f.Data[9]),
	}, nil
}
