// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rangetest

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Thermoquad/zwrange/pkg/serialapi"
)

// ProbeResult is the outcome of a keep-alive probe.
type ProbeResult struct {
	// Accepted is true when the local radio queued the probe.
	Accepted bool

	// Acked is true when the DUT acknowledged it.
	Acked    bool
	TxStatus serialapi.TxStatus

	// RSSI is the signal strength of the DUT's acknowledgment as measured
	// by the local radio. Only meaningful when HasRSSI is set.
	RSSI    serialapi.RSSI
	HasRSSI bool
}

// Probe sends a frame the DUT acknowledges at protocol level but ignores at
// application level, and returns the RSSI of the acknowledgment.
func (r *Runner) Probe() (*ProbeResult, error) {
	res := &ProbeResult{}

	cmd := serialapi.SendData(r.cfg.DUT, serialapi.ZWavePlusInfoProbe(), r.cfg.TxOptions, probeCallbackID)
	ex, err := r.t.SendCommand(cmd, true, r.cfg.FrameWait)
	if err != nil {
		return res, err
	}
	res.Accepted = serialapi.SendDataAccepted(ex.Response)
	if !res.Accepted {
		return res, fmt.Errorf("%w: probe to node %d", ErrSendRejected, r.cfg.DUT)
	}

	f, err := r.readFrame(r.cfg.ProbeWait)
	if err != nil {
		return res, err
	}
	tx, perr := serialapi.ParseTransmitReport(f)
	if perr != nil || tx.CallbackID != probeCallbackID {
		r.log.Debug("no probe callback", zap.Error(perr))
		res.TxStatus = serialapi.TransmitCompleteFail
		r.metrics.probed(res)
		return res, nil
	}

	res.TxStatus = tx.Status
	res.Acked = tx.Status == serialapi.TransmitCompleteOK
	res.RSSI = tx.RSSI
	res.HasRSSI = tx.HasRSSI
	r.log.Debug("probe callback",
		zap.Stringer("tx_status", tx.Status),
		zap.Stringer("rssi", tx.RSSI),
		zap.Uint16("ticks", tx.TransmitTicks))
	r.metrics.probed(res)
	return res, nil
}
