// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Thermoquad/zwrange/pkg/logging"
	"github.com/Thermoquad/zwrange/pkg/rangetest"
	"github.com/Thermoquad/zwrange/pkg/report"
	"github.com/Thermoquad/zwrange/pkg/serialapi"
)

var (
	helperNode     uint8
	dutNode        uint8
	removeLifeline bool
	repeatCount    int
	repeatInterval time.Duration
	rangeTUI       bool
	recordPath     string
	recordFormat   string
)

var rangeCmd = &cobra.Command{
	Use:   "range",
	Short: "Find the weakest transmit power the DUT still hears",
	Long: `Run a power ramp range test between a helper node and the DUT.

The helper is asked to send bursts of test frames to the DUT, first three at
full power as a reachability check, then ten at each of full, -4dBm, -8dBm and
-10dBm. A level passes when the DUT acknowledges at least half of its burst.
The test stops at the first failing level and reports the weakest passing
level and its yield.

Node ids are decimal or 0x-prefixed hex.

Use --repeat and --interval for soak runs, and --record to keep every run in a
JSON, YAML or CBOR file.`,
	RunE: runRange,
}

func init() {
	rootCmd.AddCommand(rangeCmd)
	rangeCmd.Flags().Uint8Var(&helperNode, "helper", 0, "Helper node id (the node that sends the test frames)")
	rangeCmd.Flags().Uint8Var(&dutNode, "dut", 0, "Device under test node id")
	rangeCmd.Flags().BoolVar(&removeLifeline, "remove-lifeline", false, "Remove the DUT's lifeline association first")
	rangeCmd.Flags().IntVar(&repeatCount, "repeat", 1, "Number of runs (0 runs until interrupted)")
	rangeCmd.Flags().DurationVar(&repeatInterval, "interval", 0, "Minimum time between run starts")
	rangeCmd.Flags().BoolVar(&rangeTUI, "tui", false, "Use terminal UI")
	rangeCmd.Flags().StringVar(&recordPath, "record", "", "Write run records to this file")
	rangeCmd.Flags().StringVar(&recordFormat, "record-format", "json", "Record format (json, yaml, cbor)")
	_ = rangeCmd.MarkFlagRequired("helper")
	_ = rangeCmd.MarkFlagRequired("dut")
}

func nodeArg(name string, v uint8) (serialapi.NodeID, error) {
	id := serialapi.NodeID(v)
	if !id.Valid() {
		return 0, fmt.Errorf("--%s %d is not a valid node id (%d-%d)", name, v, serialapi.MinNodeID, serialapi.MaxNodeID)
	}
	return id, nil
}

// isTestVerdict reports whether err is a test outcome rather than a link
// failure
func isTestVerdict(err error) bool {
	return errors.Is(err, rangetest.ErrSendRejected) ||
		errors.Is(err, rangetest.ErrHelperNoAck) ||
		errors.Is(err, rangetest.ErrDUTUnreachable)
}

func runRange(cmd *cobra.Command, args []string) error {
	helper, err := nodeArg("helper", helperNode)
	if err != nil {
		return err
	}
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

	if rangeTUI {
		// The terminal belongs to the TUI; keep logging to the file only
		if logger, err = logging.New(cfg.Logging, nil); err != nil {
			return err
		}
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	rc := cfg.RangeTest(helper, dut)
	rc.RemoveLifeline = removeLifeline
	metrics := rangetest.NewMetrics(registry)

	if rangeTUI {
		records, err := runRangeTUI(cmd, s, rc, metrics)
		if saveErr := saveRecords(format, records); saveErr != nil && err == nil {
			err = saveErr
		}
		return err
	}

	fmt.Printf("zwrange - Range Test\n")
	fmt.Printf("Connection: %s\n", s.desc)
	fmt.Printf("Helper: %d, DUT: %d\n\n", helper, dut)

	var records []*report.Record
	err = rangeLoop(cmd.Context(), s, rc, metrics, runHooks{
		start: func(run int) {
			if repeatCount != 1 {
				fmt.Printf("--- Run %d ---\n", run)
			}
		},
		observe: printRangeEvent,
		done: func(res *rangetest.Result, err error, rec *report.Record) {
			printRangeResult(res, err)
			records = append(records, rec)
		},
	})
	if saveErr := saveRecords(format, records); saveErr != nil {
		if err != nil {
			logger.Error("failed to save records", zap.Error(saveErr))
			return err
		}
		return saveErr
	}
	return err
}

// runHooks receive the progress of a sequence of range test runs
type runHooks struct {
	start   func(run int)
	observe rangetest.Observer
	done    func(res *rangetest.Result, err error, rec *report.Record)
}

// rangeLoop runs the range test repeatCount times (forever when zero), at
// most once per repeatInterval. Test verdicts are reported through the hooks;
// only link failures end the loop with an error.
func rangeLoop(ctx context.Context, s *session, rc rangetest.Config, metrics *rangetest.Metrics, hooks runHooks) error {
	var pace *rate.Limiter
	if repeatInterval > 0 {
		pace = rate.NewLimiter(rate.Every(repeatInterval), 1)
	}

	for run := 1; repeatCount <= 0 || run <= repeatCount; run++ {
		if pace != nil {
			if err := pace.Wait(ctx); err != nil {
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		if hooks.start != nil {
			hooks.start(run)
		}

		started := time.Now()
		runner := rangetest.NewRunner(s.engine, rc,
			rangetest.WithLogger(logger.Named("range")),
			rangetest.WithObserver(hooks.observe),
			rangetest.WithMetrics(metrics))
		res, err := runner.Run()

		rec := report.FromRange(started, res, err).WithLink(s.desc, s.engine.Statistics())
		if hooks.done != nil {
			hooks.done(res, err, rec)
		}
		if err != nil && !isTestVerdict(err) {
			return err
		}
	}
	return nil
}

func saveRecords(format report.Format, records []*report.Record) error {
	if recordPath == "" || len(records) == 0 {
		return nil
	}
	if err := report.Save(recordPath, format, records); err != nil {
		return err
	}
	logger.Info("records saved", zap.String("path", recordPath), zap.Int("runs", len(records)))
	return nil
}

func printRangeEvent(ev rangetest.Event) {
	switch ev.Kind {
	case rangetest.EventLifeline:
		if ev.OK {
			fmt.Printf("Lifeline removed\n")
		} else {
			fmt.Printf("Failed to remove lifeline\n")
		}
	case rangetest.EventPreflight:
		if ev.OK {
			fmt.Printf("DUT reachable at full power (%d acks)\n", ev.Result.Acks)
		}
	case rangetest.EventLevelDone:
		mark := "\033[1;32mPASS\033[0m"
		if !ev.Result.Passed {
			mark = "\033[1;31mFAIL\033[0m"
		}
		fmt.Printf("[%d/%d] Acks=%d at power=%s %s\n", ev.Index+1, ev.Total, ev.Result.Acks, ev.Level, mark)
	}
}

func printRangeResult(res *rangetest.Result, err error) {
	switch {
	case errors.Is(err, rangetest.ErrSendRejected):
		fmt.Printf("\033[1;31mSerialAPI rejected the send:\033[0m %v\n\n", err)
		return
	case errors.Is(err, rangetest.ErrHelperNoAck):
		fmt.Printf("\033[1;31mHelper did not ACK the command.\033[0m Is %d the correct node id?\n\n", helperNode)
		return
	case errors.Is(err, rangetest.ErrDUTUnreachable):
		fmt.Printf("\033[1;31mHelper cannot reach the DUT.\033[0m Move the DUT closer to the helper.\n\n")
		return
	case err != nil:
		fmt.Printf("\033[1;31mRange test failed:\033[0m %v\n\n", err)
		return
	}

	if !res.Usable {
		fmt.Printf("DUT %d: no power level passed\n\n", res.DUT)
		return
	}
	fmt.Printf("DUT %d: ACK=%d%%, Min power level=%s\n\n", res.DUT, res.YieldPercent, res.MinLevel)
}
