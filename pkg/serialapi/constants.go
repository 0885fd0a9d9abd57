// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package serialapi implements the Z-Wave SerialAPI host protocol spoken over
// the UART to a mesh-network radio.
//
// The package is pure: frame encoding and decoding, checksum calculation,
// command builders, and parsers for the responses and callbacks the range
// test tools care about. Link-level I/O lives in package link.
package serialapi

// Frame markers and link-level control bytes
const (
	SOF = 0x01 // start of frame
	ACK = 0x06
	NAK = 0x15
	CAN = 0x18
)

// Frame direction (type byte)
const (
	Request  = 0x00
	Response = 0x01
)

// Frame size limits
const (
	MaxFrameLength = 255                // length byte value: type + payload + checksum
	MaxPayloadSize = MaxFrameLength - 2 // function id + arguments
	frameOverhead  = 4                  // SOF, length, type, checksum
)

// Function identifiers
const (
	FuncSerialAPIGetInitData      = 0x02
	FuncApplicationCommandHandler = 0x04
	FuncSerialAPIGetCapabilities  = 0x07
	FuncSerialAPISoftReset        = 0x08
	FuncGetProtocolVersion        = 0x09
	FuncSerialAPIStarted          = 0x0A
	FuncSetRFReceiveMode          = 0x10
	FuncSendData                  = 0x13
	FuncGetVersion                = 0x15
	FuncGetNodeProtocolInfo       = 0x41
	FuncSetDefault                = 0x42
	FuncAssignReturnRoute         = 0x46
	FuncRequestNodeNeighborUpdate = 0x48
	FuncAddNodeToNetwork          = 0x4A
	FuncRemoveNodeFromNetwork     = 0x4B
	FuncRequestNodeInfo           = 0x60
	FuncFirmwareUpdateNVM         = 0x78
)

// Command classes and commands used by the test tools
const (
	CommandClassBasic         = 0x20
	CommandClassZWavePlusInfo = 0x5E
	CommandClassPowerlevel    = 0x73
	CommandClassAssociation   = 0x85

	BasicGet = 0x02

	ZWavePlusInfoGet    = 0x01
	ZWavePlusInfoReport = 0x02

	PowerlevelSet            = 0x01
	PowerlevelGet            = 0x02
	PowerlevelReport         = 0x03
	PowerlevelTestNodeSet    = 0x04
	PowerlevelTestNodeGet    = 0x05
	PowerlevelTestNodeReport = 0x06

	AssociationRemove = 0x04
)

// Add/remove node modes and options
const (
	AddNodeAny               = 0x01
	AddNodeController        = 0x02
	AddNodeSlave             = 0x03
	AddNodeExisting          = 0x04
	AddNodeStop              = 0x05
	AddNodeSmartStart        = 0x09
	AddNodeOptionNetworkWide = 0x40
	AddNodeOptionNormalPower = 0x80

	// AddNodeMode selects any node, network-wide, at normal power.
	AddNodeMode = AddNodeAny | AddNodeOptionNetworkWide | AddNodeOptionNormalPower
)

// Transmit options
const (
	TransmitOptionACK       = 0x01
	TransmitOptionAutoRoute = 0x04
	TransmitOptionNoRoute   = 0x10
	TransmitOptionExplore   = 0x20

	// DefaultTxOptions uses normal routing without explorer frames.
	DefaultTxOptions = TransmitOptionAutoRoute | TransmitOptionACK
)

// TxStatus is the transmit status carried in a SEND_DATA callback.
type TxStatus uint8

// Transmit status values
const (
	TransmitCompleteOK     TxStatus = 0x00
	TransmitCompleteNoAck  TxStatus = 0x01
	TransmitCompleteFail   TxStatus = 0x02
	TransmitRoutingNotIdle TxStatus = 0x03
)

// NodeStatus is the status byte of an add/remove node callback.
type NodeStatus uint8

// Add/remove node callback status values
const (
	StatusLearnReady       NodeStatus = 0x01
	StatusNodeFound        NodeStatus = 0x02
	StatusAddingSlave      NodeStatus = 0x03
	StatusAddingController NodeStatus = 0x04
	StatusProtocolDone     NodeStatus = 0x05
	StatusDone             NodeStatus = 0x06
	StatusFailed           NodeStatus = 0x07
	StatusNotPrimary       NodeStatus = 0x23
)

// Terminal reports whether no further callbacks are expected after s.
func (s NodeStatus) Terminal() bool {
	switch s {
	case StatusProtocolDone, StatusDone, StatusFailed, StatusNotPrimary:
		return true
	}
	return false
}

// Adding reports whether s carries the id of a node joining or leaving.
func (s NodeStatus) Adding() bool {
	return s == StatusAddingSlave || s == StatusAddingController
}

// NodeID names a participant of the mesh network.
type NodeID uint8

// Node id range of this network family
const (
	MinNodeID NodeID = 1
	MaxNodeID NodeID = 232
)

// Valid reports whether id is inside the assignable node id range.
func (id NodeID) Valid() bool {
	return id >= MinNodeID && id <= MaxNodeID
}

// LibraryType identifies the protocol library flavour of the radio firmware.
type LibraryType uint8

// Library type values
const (
	LibControllerStatic LibraryType = 0x01
	LibController       LibraryType = 0x02
	LibSlaveEnhanced    LibraryType = 0x03
	LibSlave            LibraryType = 0x04
	LibInstaller        LibraryType = 0x05
	LibSlaveRouting     LibraryType = 0x06
	LibControllerBridge LibraryType = 0x07
	LibDUT              LibraryType = 0x08
	LibAVRemote         LibraryType = 0x0A
	LibAVDevice         LibraryType = 0x0B
)
