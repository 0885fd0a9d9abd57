// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/zwrange/pkg/netmgmt"
)

var includeCmd = &cobra.Command{
	Use:   "include",
	Short: "Add a node to the network",
	Long: `Put the controller into inclusion mode and wait for a device to join.

Press the inclusion button on the device when prompted. The id assigned to the
new node is printed when the inclusion completes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMembership(netmgmt.ModeInclude)
	},
}

var excludeCmd = &cobra.Command{
	Use:   "exclude",
	Short: "Remove a node from the network",
	Long: `Put the controller into exclusion mode and wait for a device to leave.

Press the inclusion button on the device when prompted. Exclusion also resets
a device that still believes it belongs to another network.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMembership(netmgmt.ModeExclude)
	},
}

func init() {
	rootCmd.AddCommand(includeCmd)
	rootCmd.AddCommand(excludeCmd)
}

func printMembershipEvent(ev netmgmt.Event) {
	switch ev.Kind {
	case netmgmt.EventReady:
		if ev.Mode == netmgmt.ModeInclude {
			fmt.Printf("Press button on device to be included now\n")
		} else {
			fmt.Printf("Press button on device to be excluded now\n")
		}
	case netmgmt.EventStatus:
		logger.Sugar().Debugf("%s status %s", ev.Mode, ev.Status)
	case netmgmt.EventNode:
		if ev.Mode == netmgmt.ModeInclude {
			fmt.Printf("Adding node id %d\n", ev.NodeID)
		} else {
			fmt.Printf("Excluding node id %d\n", ev.NodeID)
		}
	}
}

func runMembership(mode netmgmt.Mode) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctrl := netmgmt.NewController(s.engine, cfg.NetMgmt(),
		netmgmt.WithLogger(logger.Named("netmgmt")),
		netmgmt.WithObserver(printMembershipEvent))

	var res *netmgmt.Result
	if mode == netmgmt.ModeInclude {
		res, err = ctrl.Include()
	} else {
		res, err = ctrl.Exclude()
	}

	switch {
	case errors.Is(err, netmgmt.ErrInclusionFailed):
		fmt.Printf("\033[1;31m%s failed\033[0m (last status %s)\n", mode, res.Final)
		return err
	case err != nil:
		return err
	}

	if res.HasNode {
		fmt.Printf("%s complete: node id %d\n", mode, res.NodeID)
	} else {
		fmt.Printf("%s complete\n", mode)
	}
	if !res.Stopped {
		fmt.Printf("Warning: the controller did not acknowledge the stop command\n")
	}
	return nil
}
