// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/zwrange/pkg/config"
	"github.com/Thermoquad/zwrange/pkg/link"
	"github.com/Thermoquad/zwrange/pkg/logging"
	"github.com/Thermoquad/zwrange/pkg/netmgmt"
	"github.com/Thermoquad/zwrange/pkg/rangetest"
)

var (
	cfgFile string

	// Resolved before every command runs
	cfg      *config.Config
	logger   = zap.NewNop()
	registry *prometheus.Registry
)

var rootCmd = &cobra.Command{
	Use:   "zwrange",
	Short: "Z-Wave SerialAPI range and RSSI test tool",
	Long: `zwrange - Field range and signal tests for Z-Wave devices.

Drives a Z-Wave controller stick over its SerialAPI link to measure how far a
device under test (DUT) can be heard. The range test asks a helper node to
send bursts of test frames to the DUT at decreasing transmit power and reports
the weakest power the DUT still acknowledges.

Connection modes:
  Serial:    --port /dev/ttyACM0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

Every flag can also come from a YAML file (--config, or ./zwrange.yaml) or a
ZWRANGE_* environment variable, e.g. ZWRANGE_LINK_PORT=/dev/ttyACM0.

For WebSocket authentication, the password is read from the ZWRANGE_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: teardown,
}

func init() {
	lc := link.DefaultConfig()
	nc := netmgmt.DefaultConfig()
	rc := rangetest.DefaultConfig(0, 0)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default ./zwrange.yaml if present)")

	// Serial connection flags
	pf.StringP("port", "p", "", "Serial port device")
	pf.IntP("baud", "b", 115200, "Baud rate (serial only)")
	pf.Duration("read-timeout", defaultReadTimeout, "Serial port read timeout")

	// WebSocket connection flags
	pf.StringP("url", "u", "", "WebSocket URL (ws:// or wss://)")
	pf.String("username", "", "Username for HTTP Basic auth")
	pf.Bool("no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Transport tuning
	pf.Int("attempts", lc.MaxAttempts, "Transmissions per command before giving up")
	pf.Bool("handle-cancel", lc.HandleCancel, "Run the CAN recovery sequence on a collision")
	pf.Duration("handshake-wait", lc.HandshakeWait, "Wait for ACK/NAK/CAN after a transmission")
	pf.Duration("byte-wait", lc.ByteWait, "Wait for each byte inside a frame")
	pf.Int("byte-stall-retries", lc.ByteStallRetries, "Extra byte waits before a frame is abandoned")
	pf.Int("probe-acks", lc.ProbeAcks, "ACKs sent to unstick a silent radio (negative disables)")
	pf.Duration("probe-spacing", lc.ProbeSpacing, "Gap between probe ACKs (negative sends them back to back)")
	pf.Duration("frame-wait", nc.FrameWait, "Wait for a callback frame")
	pf.Duration("callback-wait", nc.CallbackWait, "Wait for the first inclusion callback")
	pf.Duration("report-wait", rc.ReportWait, "Wait for a power level test report")

	// Ambient
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.String("log-format", "console", "Log format (console, json)")
	pf.String("log-file", "", "Also write JSON logs to this rotating file")
	pf.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9101)")
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err = logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}

	registry = newRegistry()
	if cfg.Metrics.Addr != "" {
		startMetricsServer(cfg.Metrics, registry)
	}
	return nil
}

func teardown(cmd *cobra.Command, args []string) {
	stopMetricsServer()
	_ = logger.Sync()
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
