// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/Thermoquad/zwrange/pkg/rangetest"
	"github.com/Thermoquad/zwrange/pkg/report"
)

var (
	probeCount    int
	probeInterval time.Duration
)

var rssiCmd = &cobra.Command{
	Use:   "rssi",
	Short: "Measure the signal strength of the DUT's acknowledgments",
	Long: `Send keep-alive probes to the DUT and print the RSSI of each
acknowledgment as measured by the controller radio.

The probe is a command the DUT acknowledges at protocol level and otherwise
ignores, so it can be repeated without side effects. Readings are printed as
256 minus the raw value, e.g. 0xB5 prints as 75dbm.`,
	RunE: runRSSI,
}

func init() {
	rootCmd.AddCommand(rssiCmd)
	rssiCmd.Flags().Uint8Var(&dutNode, "dut", 0, "Device under test node id")
	rssiCmd.Flags().IntVar(&probeCount, "count", 1, "Number of probes (0 probes until interrupted)")
	rssiCmd.Flags().DurationVar(&probeInterval, "interval", time.Second, "Time between probes")
	rssiCmd.Flags().StringVar(&recordPath, "record", "", "Write probe records to this file")
	rssiCmd.Flags().StringVar(&recordFormat, "record-format", "json", "Record format (json, yaml, cbor)")
	_ = rssiCmd.MarkFlagRequired("dut")
}

func runRSSI(cmd *cobra.Command, args []string) error {
	dut, err := nodeArg("dut", dutNode)
	if err != nil {
		return err
	}

	var format report.Format
	if recordPath != "" {
		if format, err = report.ParseFormat(recordFormat); err != nil {
			return err
		}
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	runner := rangetest.NewRunner(s.engine, cfg.RangeTest(0, dut),
		rangetest.WithLogger(logger.Named("rssi")),
		rangetest.WithMetrics(rangetest.NewMetrics(registry)))

	fmt.Printf("zwrange - RSSI Test\n")
	fmt.Printf("Connection: %s\n", s.desc)
	fmt.Printf("DUT: %d\n\n", dut)

	pace := rate.NewLimiter(rate.Every(probeInterval), 1)
	ctx := cmd.Context()

	var records []*report.Record
	for i := 1; probeCount <= 0 || i <= probeCount; i++ {
		if err := pace.Wait(ctx); err != nil {
			break
		}

		started := time.Now()
		res, err := runner.Probe()
		records = append(records, report.FromProbe(started, dut, res, err).WithLink(s.desc, s.engine.Statistics()))

		timestamp := started.Format("15:04:05.000")
		switch {
		case errors.Is(err, rangetest.ErrSendRejected):
			fmt.Printf("[%s] SerialAPI rejected the probe\n", timestamp)
		case err != nil:
			_ = saveRecords(format, records)
			return err
		case !res.Acked:
			fmt.Printf("[%s] DUT did not ACK (%s)\n", timestamp, res.TxStatus)
		case res.HasRSSI:
			fmt.Printf("[%s] RSSI of the DUT is %s\n", timestamp, res.RSSI)
		default:
			fmt.Printf("[%s] DUT ACKed, radio reported no RSSI\n", timestamp)
		}
	}

	return saveRecords(format, records)
}
