// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/zwrange/pkg/serialapi"
)

var (
	pingTimeout time.Duration
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check the link by asking the controller for its version",
	Long: `Send ZW_GetVersion to the controller and wait for the response.

This command exercises the complete host link: framing, checksum and the
ACK handshake in both directions. Each ping reports how many transmissions
were needed and the round-trip time up to the response frame.

This is useful for verifying:
  - The serial port or WebSocket bridge is working
  - The controller firmware answers SerialAPI requests
  - Retransmissions are not needed on an idle link`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().DurationVar(&pingTimeout, "timeout", 2*time.Second, "Response timeout for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	if pingCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("zwrange - Link Ping\n")
	fmt.Printf("Connection: %s\n", s.desc)
	fmt.Printf("Timeout: %s per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	ctx := cmd.Context()
	sent := 0
	received := 0
	var total time.Duration

	for i := 1; i <= pingCount && ctx.Err() == nil; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)
		sent++

		start := time.Now()
		ex, err := s.engine.SendCommand(serialapi.GetVersion(), true, pingTimeout)
		if err != nil {
			fmt.Printf("LINK FAILED: %v\n", err)
			break
		}
		rtt := time.Since(start)

		switch {
		case !ex.Delivered:
			fmt.Printf("NO ACK after %d attempts\n", ex.Attempts)
		case ex.Response == nil:
			fmt.Printf("TIMEOUT (no response in %s)\n", pingTimeout)
		case ex.Response.FuncID() != serialapi.FuncGetVersion:
			fmt.Printf("UNEXPECTED %s\n", serialapi.FormatFunction(ex.Response.FuncID()))
		default:
			v, err := serialapi.ParseVersion(ex.Response)
			if err != nil {
				fmt.Printf("BAD RESPONSE: %v\n", err)
				break
			}
			fmt.Printf("%s, attempts=%d, rtt=%v\n", v.Library, ex.Attempts, rtt.Round(time.Millisecond))
			received++
			total += rtt
		}

		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% packet loss\n",
		sent, received, float64(sent-received)/float64(sent)*100)
	if received > 0 {
		fmt.Printf("average rtt=%v\n", (total / time.Duration(received)).Round(time.Millisecond))
	}

	if received < sent {
		return fmt.Errorf("%d of %d pings failed", sent-received, sent)
	}
	return nil
}
