// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package serialapi

import "fmt"

// RSSI is a raw received signal strength byte from a transmit report.
type RSSI uint8

// Reserved RSSI codes. These never carry a power reading.
const (
	RSSIBelowSensitivity  RSSI = 0x7D
	RSSIMaxPowerSaturated RSSI = 0x7E
	RSSINotAvailable      RSSI = 0x7F
)

// Sentinel reports whether r is one of the reserved codes.
func (r RSSI) Sentinel() bool {
	return r == RSSINotAvailable || r == RSSIMaxPowerSaturated || r == RSSIBelowSensitivity
}

// DBm returns the power reading, 256 minus the raw value. ok is false for
// the reserved codes.
func (r RSSI) DBm() (dbm int, ok bool) {
	if r.Sentinel() {
		return 0, false
	}
	return 256 - int(r), true
}

// String decodes r for diagnostics.
func (r RSSI) String() string {
	switch r {
	case RSSINotAvailable:
		return "RSSI_NOT_AVAILABLE"
	case RSSIMaxPowerSaturated:
		return "RSSI_MAX_POWER_SATURATED"
	case RSSIBelowSensitivity:
		return "RSSI_BELOW_SENSITIVITY"
	}
	dbm, _ := r.DBm()
	return fmt.Sprintf("%ddbm", dbm)
}

// DecodeRSSI maps a raw RSSI byte to its diagnostic string.
func DecodeRSSI(b byte) string {
	return RSSI(b).String()
}
