// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package serialapi

import (
	"fmt"
	"strings"
)

// FormatFrame formats a frame into a human-readable line for logs and the
// monitor command.
func FormatFrame(f *Frame) string {
	timestamp := f.Timestamp.Format("15:04:05.000")
	dir := "REQ"
	if f.Direction == Response {
		dir = "RES"
	}

	result := fmt.Sprintf("[%s] %s %s (0x%02X) len=%d", timestamp, dir, FormatFunction(f.FuncID()), f.FuncID(), len(f.Data))
	if !f.ChecksumOK {
		result += " CHECKSUM-FAIL"
	}
	if f.Truncated {
		result += " TRUNCATED"
	}
	result += "\n"

	if detail := formatDetail(f); detail != "" {
		return result + detail
	}
	return result + FormatHex(f.Args())
}

// FormatFunction returns the human-readable name for a function id
func FormatFunction(fn byte) string {
	switch fn {
	case FuncSerialAPIGetInitData:
		return "SERIAL_API_GET_INIT_DATA"
	case FuncApplicationCommandHandler:
		return "APPLICATION_COMMAND_HANDLER"
	case FuncSerialAPIGetCapabilities:
		return "SERIAL_API_GET_CAPABILITIES"
	case FuncSerialAPISoftReset:
		return "SERIAL_API_SOFT_RESET"
	case FuncGetProtocolVersion:
		return "ZW_GET_PROTOCOL_VERSION"
	case FuncSerialAPIStarted:
		return "SERIAL_API_STARTED"
	case FuncSetRFReceiveMode:
		return "ZW_SET_RF_RECEIVE_MODE"
	case FuncSendData:
		return "ZW_SEND_DATA"
	case FuncGetVersion:
		return "ZW_GET_VERSION"
	case FuncGetNodeProtocolInfo:
		return "ZW_GET_NODE_PROTOCOL_INFO"
	case FuncSetDefault:
		return "ZW_SET_DEFAULT"
	case FuncAssignReturnRoute:
		return "ZW_ASSIGN_RETURN_ROUTE"
	case FuncRequestNodeNeighborUpdate:
		return "ZW_REQUEST_NODE_NEIGHBOR_UPDATE"
	case FuncAddNodeToNetwork:
		return "ZW_ADD_NODE_TO_NETWORK"
	case FuncRemoveNodeFromNetwork:
		return "ZW_REMOVE_NODE_FROM_NETWORK"
	case FuncRequestNodeInfo:
		return "ZW_REQUEST_NODE_INFO"
	case FuncFirmwareUpdateNVM:
		return "ZW_FIRMWARE_UPDATE_NVM"
	default:
		return "UNKNOWN"
	}
}

// FormatNodeStatus returns the name of an add/remove node status.
func FormatNodeStatus(s NodeStatus) string {
	switch s {
	case StatusLearnReady:
		return "LEARN_READY"
	case StatusNodeFound:
		return "NODE_FOUND"
	case StatusAddingSlave:
		return "ADDING_SLAVE"
	case StatusAddingController:
		return "ADDING_CONTROLLER"
	case StatusProtocolDone:
		return "PROTOCOL_DONE"
	case StatusDone:
		return "DONE"
	case StatusFailed:
		return "FAILED"
	case StatusNotPrimary:
		return "NOT_PRIMARY"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(s))
	}
}

func (s NodeStatus) String() string {
	return FormatNodeStatus(s)
}

func (s TxStatus) String() string {
	switch s {
	case TransmitCompleteOK:
		return "COMPLETE_OK"
	case TransmitCompleteNoAck:
		return "COMPLETE_NO_ACK"
	case TransmitCompleteFail:
		return "COMPLETE_FAIL"
	case TransmitRoutingNotIdle:
		return "ROUTING_NOT_IDLE"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(s))
	}
}

// formatDetail decodes the frames the test tools understand
func formatDetail(f *Frame) string {
	switch f.FuncID() {
	case FuncSendData:
		if f.Len() == 2 {
			return fmt.Sprintf("  Accepted: %v\n", SendDataAccepted(f))
		}
		if r, err := ParseTransmitReport(f); err == nil {
			s := fmt.Sprintf("  Callback: 0x%02X, Status: %s\n", r.CallbackID, r.Status)
			if r.HasRSSI {
				s += fmt.Sprintf("  RSSI: %s\n", r.RSSI)
			}
			return s
		}

	case FuncAddNodeToNetwork, FuncRemoveNodeFromNetwork:
		if r, err := ParseNodeStatus(f); err == nil {
			s := fmt.Sprintf("  Status: %s", r.Status)
			if r.HasNode {
				s += fmt.Sprintf(", NodeID: %d", r.NodeID)
			}
			return s + "\n"
		}

	case FuncApplicationCommandHandler:
		if r, err := ParseTestNodeReport(f); err == nil {
			return fmt.Sprintf("  Test node report from %d: node=%d status=%d acks=%d\n",
				r.Source, r.TestNode, r.Status, r.Acks)
		}
	}
	return ""
}

// FormatHex returns a hex dump of data, 16 bytes per line
func FormatHex(data []byte) string {
	if len(data) == 0 {
		return "  (no payload)\n"
	}

	var sb strings.Builder
	sb.WriteString("  Payload: ")
	for i, b := range data {
		if i > 0 && i%16 == 0 {
			sb.WriteString("\n           ")
		}
		fmt.Fprintf(&sb, "%02X ", b)
	}
	sb.WriteString("\n")
	return sb.String()
}
