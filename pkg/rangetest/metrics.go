// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rangetest

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus series of range tests and probes. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Runs         *prometheus.CounterVec // labels: outcome
	YieldPercent prometheus.Gauge
	MinLevel     prometheus.Gauge
	Probes       *prometheus.CounterVec // labels: result=acked|no_ack
	ProbeRSSI    prometheus.Gauge
}

// NewMetrics registers and returns the range test metrics
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zwrange_range_runs_total",
			Help: "Completed range tests by outcome.",
		}, []string{"outcome"}),
		YieldPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zwrange_range_yield_percent",
			Help: "Acknowledged percentage at the weakest passing level of the last test.",
		}),
		MinLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zwrange_range_min_power_level",
			Help: "Weakest passing power level step of the last test (0 is normal power).",
		}),
		Probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zwrange_probe_total",
			Help: "Keep-alive probes by result.",
		}, []string{"result"}),
		ProbeRSSI: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zwrange_probe_rssi_dbm",
			Help: "Last RSSI reading of a probe acknowledgment.",
		}),
	}
	reg.MustRegister(m.Runs, m.YieldPercent, m.MinLevel, m.Probes, m.ProbeRSSI)
	return m
}

func outcome(res *Result, err error) string {
	switch {
	case errors.Is(err, ErrSendRejected):
		return "rejected"
	case errors.Is(err, ErrHelperNoAck):
		return "helper_no_ack"
	case errors.Is(err, ErrDUTUnreachable):
		return "unreachable"
	case err != nil:
		return "error"
	case !res.Usable:
		return "unusable"
	default:
		return "ok"
	}
}

func (m *Metrics) observe(res *Result, err error) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(outcome(res, err)).Inc()
	if err == nil {
		m.YieldPercent.Set(float64(res.YieldPercent))
		m.MinLevel.Set(float64(res.MinLevel))
	}
}

func (m *Metrics) probed(res *ProbeResult) {
	if m == nil {
		return
	}
	if !res.Acked {
		m.Probes.WithLabelValues("no_ack").Inc()
		return
	}
	m.Probes.WithLabelValues("acked").Inc()
	if dbm, ok := res.RSSI.DBm(); ok && res.HasRSSI {
		m.ProbeRSSI.Set(float64(dbm))
	}
}
