// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package serialapi

import "fmt"

// PowerLevel is an RF transmit power setting of the Powerlevel command class.
type PowerLevel uint8

// Power levels, normal power down to the lowest attenuation step.
// PowerMinus9dBm is actually a -10 dBm offset on the air.
const (
	PowerNormal    PowerLevel = 0x00
	PowerMinus1dBm PowerLevel = 0x01
	PowerMinus2dBm PowerLevel = 0x02
	PowerMinus3dBm PowerLevel = 0x03
	PowerMinus4dBm PowerLevel = 0x04
	PowerMinus5dBm PowerLevel = 0x05
	PowerMinus6dBm PowerLevel = 0x06
	PowerMinus7dBm PowerLevel = 0x07
	PowerMinus8dBm PowerLevel = 0x08
	PowerMinus9dBm PowerLevel = 0x09
)

// RampLevels are the levels exercised by the range test, strongest first.
var RampLevels = []PowerLevel{PowerNormal, PowerMinus4dBm, PowerMinus8dBm, PowerMinus9dBm}

var powerLevelNames = map[PowerLevel]string{
	PowerNormal:    "full",
	PowerMinus1dBm: "-1dBm",
	PowerMinus2dBm: "-2dBm",
	PowerMinus3dBm: "-3dBm",
	PowerMinus4dBm: "-4dBm",
	PowerMinus5dBm: "-5dBm",
	PowerMinus6dBm: "-6dBm",
	PowerMinus7dBm: "-7dBm",
	PowerMinus8dBm: "-8dBm",
	PowerMinus9dBm: "-10dBm",
}

// String returns the level as printed in test results.
func (p PowerLevel) String() string {
	if name, ok := powerLevelNames[p]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(p))
}

// Valid reports whether p is a defined power level.
func (p PowerLevel) Valid() bool {
	return p <= PowerMinus9dBm
}
