// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// zwrange - Z-Wave SerialAPI range and RSSI test tool
//
// A CLI tool that drives a Z-Wave controller over its serial link to measure
// how well a device under test can be heard.

package main

import (
	"os"

	"github.com/Thermoquad/zwrange/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
