// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package serialapi

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Capabilities is the SERIAL_API_GET_CAPABILITIES response.
type Capabilities struct {
	SerialAPIVersion  uint8
	SerialAPIRevision uint8
	ManufacturerID    uint16
	ProductType       uint16
	ProductID         uint16
	SupportedMask     []byte
}

// ParseCapabilities decodes a capabilities response frame.
func ParseCapabilities(f *Frame) (*Capabilities, error) {
	if f.Len() < 9 {
		return nil, fmt.Errorf("%w: capabilities of %d bytes", ErrShortFrame, f.Len())
	}
	if f.Data[0] != FuncSerialAPIGetCapabilities {
		return nil, fmt.Errorf("%w: 0x%02X in capabilities", ErrUnexpectedFunction, f.Data[0])
	}

	mask := make([]byte, len(f.Data)-9)
	copy(mask, f.Data[9:])

	return &Capabilities{
		SerialAPIVersion:  f.Data[1],
		SerialAPIRevision: f.Data[2],
		ManufacturerID:    binary.BigEndian.Uint16(f.Data[3:5]),
		ProductType:       binary.BigEndian.Uint16(f.Data[5:7]),
		ProductID:         binary.BigEndian.Uint16(f.Data[7:9]),
		SupportedMask:     mask,
	}, nil
}

// Supports reports whether the radio implements function id fn.
func (c *Capabilities) Supports(fn byte) bool {
	if fn == 0 {
		return false
	}
	idx := int(fn-1) / 8
	if idx >= len(c.SupportedMask) {
		return false
	}
	return c.SupportedMask[idx]&(1<<((fn-1)%8)) != 0
}

// SiliconLabs reports whether the manufacturer id is the chip vendor's own.
func (c *Capabilities) SiliconLabs() bool {
	return c.ManufacturerID == 0
}

// Version is the ZW_GetVersion response.
type Version struct {
	Library string // e.g. "Z-Wave 6.04"
	Type    LibraryType
}

const versionStringLength = 12

// ParseVersion decodes a ZW_GetVersion response frame.
func ParseVersion(f *Frame) (*Version, error) {
	if f.Len() < 2+versionStringLength {
		return nil, fmt.Errorf("%w: version of %d bytes", ErrShortFrame, f.Len())
	}
	if f.Data[0] != FuncGetVersion {
		return nil, fmt.Errorf("%w: 0x%02X in version", ErrUnexpectedFunction, f.Data[0])
	}

	raw := f.Data[1 : 1+versionStringLength]
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return &Version{
		Library: string(raw),
		Type:    LibraryType(f.Data[1+versionStringLength]),
	}, nil
}

// ProtocolVersion returns the trailing "major.minor" of the library string,
// which identifies the SDK release.
func (v *Version) ProtocolVersion() string {
	if len(v.Library) < 4 {
		return v.Library
	}
	return v.Library[len(v.Library)-4:]
}

var libraryTypeNames = map[LibraryType]string{
	LibControllerStatic: "Static Controller",
	LibController:       "Controller",
	LibSlaveEnhanced:    "Slave Enhanced",
	LibSlave:            "Slave",
	LibInstaller:        "Installer",
	LibSlaveRouting:     "Slave Routing",
	LibControllerBridge: "Bridge Controller",
	LibDUT:              "DUT",
	LibAVRemote:         "AVREMOTE",
	LibAVDevice:         "AVDEVICE",
}

func (t LibraryType) String() string {
	if name, ok := libraryTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", uint8(t))
}

// InitData is the SERIAL_API_GET_INIT_DATA response.
type InitData struct {
	Version      uint8
	Capabilities uint8
	Nodes        []NodeID
}

// ParseInitData decodes the init data response, expanding the node bitmask.
func ParseInitData(f *Frame) (*InitData, error) {
	if f.Len() < 4 {
		return nil, fmt.Errorf("%w: init data of %d bytes", ErrShortFrame, f.Len())
	}
	if f.Data[0] != FuncSerialAPIGetInitData {
		return nil, fmt.Errorf("%w: 0x%02X in init data", ErrUnexpectedFunction, f.Data[0])
	}

	maskLen := int(f.Data[3])
	if f.Len() < 4+maskLen {
		return nil, fmt.Errorf("%w: node mask of %d bytes, have %d", ErrShortFrame, maskLen, f.Len()-4)
	}

	d := &InitData{
		Version:      f.Data[1],
		Capabilities: f.Data[2],
	}
	for i, b := range f.Data[4 : 4+maskLen] {
		for bit := 0; bit < 8; bit++ {
			if b&(1<<bit) != 0 {
				d.Nodes = append(d.Nodes, NodeID(i*8+bit+1))
			}
		}
	}
	return d, nil
}
