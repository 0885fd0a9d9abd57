// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package serialapi

// Command builders return the function id followed by its arguments, ready
// for EncodeFrame. Callback ids are chosen by the caller so that callbacks
// can be told apart in a capture.

// AddNodeToNetwork builds ZW_AddNodeToNetwork(mode, callbackID).
func AddNodeToNetwork(mode, callbackID byte) []byte {
	return []byte{FuncAddNodeToNetwork, mode, callbackID}
}

// RemoveNodeFromNetwork builds ZW_RemoveNodeFromNetwork(mode, callbackID).
func RemoveNodeFromNetwork(mode, callbackID byte) []byte {
	return []byte{FuncRemoveNodeFromNetwork, mode, callbackID}
}

// SendData builds ZW_SendData carrying a command class payload to dest.
func SendData(dest NodeID, payload []byte, txOptions, callbackID byte) []byte {
	cmd := make([]byte, 0, len(payload)+5)
	cmd = append(cmd, FuncSendData, byte(dest), byte(len(payload)))
	cmd = append(cmd, payload...)
	return append(cmd, txOptions, callbackID)
}

// PowerlevelTestNode builds a POWERLEVEL_TEST_NODE_SET command. The receiving
// node sends count test frames to testNode at the given level and reports
// how many were acknowledged.
func PowerlevelTestNode(testNode NodeID, level PowerLevel, count uint16) []byte {
	return []byte{
		CommandClassPowerlevel,
		PowerlevelTestNodeSet,
		byte(testNode),
		byte(level),
		byte(count >> 8),
		byte(count),
	}
}

// AssociationRemoveNode builds ASSOCIATION_REMOVE for one node of a group.
// Group 1 to node 1 is the lifeline to the controller.
func AssociationRemoveNode(group byte, node NodeID) []byte {
	return []byte{CommandClassAssociation, AssociationRemove, group, byte(node)}
}

// ZWavePlusInfoProbe builds a deliberately invalid Z-Wave Plus Info command.
// Only the protocol-level acknowledgment matters, so the receiving
// application ignores it.
func ZWavePlusInfoProbe() []byte {
	return []byte{CommandClassZWavePlusInfo, 0x88}
}

// SetDefault builds ZW_SetDefault, which erases the network of the radio.
func SetDefault() []byte {
	return []byte{FuncSetDefault}
}

// GetCapabilities builds SERIAL_API_GET_CAPABILITIES.
func GetCapabilities() []byte {
	return []byte{FuncSerialAPIGetCapabilities}
}

// GetVersion builds ZW_GetVersion.
func GetVersion() []byte {
	return []byte{FuncGetVersion}
}

// GetInitData builds SERIAL_API_GET_INIT_DATA.
func GetInitData() []byte {
	return []byte{FuncSerialAPIGetInitData}
}
