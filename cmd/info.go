// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/zwrange/pkg/netmgmt"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print controller version and network nodes",
	Long: `Query the controller radio for its SerialAPI capabilities, protocol
library version and the ids of the nodes in its network.`,
	RunE: runInfo,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Erase the network and start fresh",
	Long: `Reset the controller to factory defaults. Every node is forgotten and
the controller starts a new network with a new home id. Devices still joined
to the old network must be excluded before they can join again.`,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(resetCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	return printInfo(newController(s))
}

func runReset(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctrl := newController(s)
	fmt.Printf("Resetting the network to factory defaults, please wait\n")
	if err := ctrl.ResetNetwork(); err != nil {
		return err
	}
	return printInfo(ctrl)
}

func newController(s *session) *netmgmt.Controller {
	return netmgmt.NewController(s.engine, cfg.NetMgmt(), netmgmt.WithLogger(logger.Named("netmgmt")))
}

func printInfo(ctrl *netmgmt.Controller) error {
	info, err := ctrl.Info()
	if err != nil {
		return err
	}

	if c := info.Capabilities; c != nil {
		fmt.Printf("SerialAPI Ver=%d.%d\n", c.SerialAPIVersion, c.SerialAPIRevision)
		fmt.Printf("Mfg=%04X", c.ManufacturerID)
		if c.SiliconLabs() {
			fmt.Printf(" Silicon Labs")
		}
		fmt.Printf("\nProdID/TypeID=%04X:%04X\n", c.ProductType, c.ProductID)
	} else {
		fmt.Printf("Capabilities unavailable\n")
	}

	if v := info.Version; v != nil {
		fmt.Printf("%s (SDK %s)\n", v.Library, v.ProtocolVersion())
		fmt.Printf("Library=%d %s\n", uint8(v.Type), v.Type)
	} else {
		fmt.Printf("Version unavailable\n")
	}

	if d := info.InitData; d != nil {
		ids := make([]string, 0, len(d.Nodes))
		for _, id := range d.Nodes {
			ids = append(ids, fmt.Sprintf("%d", id))
		}
		fmt.Printf("NodeIDs=%s\n", strings.Join(ids, ","))
	} else {
		fmt.Printf("Node list unavailable\n")
	}
	return nil
}
