// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.bug.st/serial/enumerator"
)

var portsAll bool

// Known USB bridges found on Z-Wave controller sticks.
var controllerUSBIDs = map[string]string{
	"0658:0200": "Sigma Designs Z-Wave controller",
	"10C4:EA60": "Silicon Labs CP210x bridge",
	"1A86:55D4": "WCH CH9102 bridge",
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports that may host a controller",
	Long: `Enumerate the serial ports of this machine and flag the ones whose USB
bridge is commonly used by Z-Wave controller sticks.

By default only USB ports are listed. Use --all to include every port the
operating system reports.`,
	RunE: runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
	portsCmd.Flags().BoolVar(&portsAll, "all", false, "Include ports without USB information")
}

func usbID(p *enumerator.PortDetails) string {
	return strings.ToUpper(p.VID) + ":" + strings.ToUpper(p.PID)
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return fmt.Errorf("failed to enumerate ports: %w", err)
	}

	found := 0
	for _, p := range ports {
		if !p.IsUSB {
			if portsAll {
				fmt.Printf("%s\n", p.Name)
				found++
			}
			continue
		}

		id := usbID(p)
		fmt.Printf("%s  [%s]", p.Name, id)
		if p.Product != "" {
			fmt.Printf(" %s", p.Product)
		}
		if p.SerialNumber != "" {
			fmt.Printf(" serial=%s", p.SerialNumber)
		}
		if name, ok := controllerUSBIDs[id]; ok {
			fmt.Printf("  \033[1;32m<- %s\033[0m", name)
		}
		fmt.Printf("\n")
		found++
	}

	if found == 0 {
		fmt.Printf("No serial ports found\n")
	}
	return nil
}
