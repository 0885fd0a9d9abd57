// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/zwrange/pkg/link"
	"github.com/Thermoquad/zwrange/pkg/serialapi"
)

var showStats bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Display unsolicited frames from the controller",
	Long: `Continuously receive and display SerialAPI frames as they arrive,
acknowledging each one. Useful to watch node reports and application updates
while a device is exercised by hand.

Supports both serial and WebSocket connections.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showStats, "stats", false, "Print link statistics on exit")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("zwrange - Frame Monitor\n")
	fmt.Printf("Connection: %s\n", s.desc)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx := cmd.Context()
	for ctx.Err() == nil {
		frame, err := s.engine.ReadFrame(500 * time.Millisecond)
		switch {
		case errors.Is(err, link.ErrNoFrame):
			continue
		case errors.Is(err, link.ErrSourceClosed):
			fmt.Printf("Connection closed\n")
			return nil
		case errors.Is(err, link.ErrTruncatedFrame), errors.Is(err, link.ErrMalformedFrame):
			fmt.Printf("[ERROR] %v\n", err)
			if frame != nil {
				fmt.Print(serialapi.FormatFrame(frame))
			}
			continue
		case err != nil:
			return err
		}
		fmt.Print(serialapi.FormatFrame(frame))
	}

	if showStats {
		stats := s.engine.Statistics()
		fmt.Printf("\n%s", stats.String())
	}
	return nil
}
