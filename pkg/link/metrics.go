// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the Prometheus counters of a link. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	FramesSent     prometheus.Counter
	FramesReceived *prometheus.CounterVec // labels: result=ok|checksum|truncated|malformed
	Handshakes     *prometheus.CounterVec // labels: reply=ack|nak|can|timeout|other
	Retries        prometheus.Counter
	Undelivered    prometheus.Counter
	DesyncBytes    prometheus.Counter
}

// NewMetrics registers and returns the link metrics
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zwrange_link_frames_sent_total",
			Help: "Frames transmitted to the radio, retransmissions included.",
		}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zwrange_link_frames_received_total",
			Help: "Frames received from the radio by result.",
		}, []string{"result"}),
		Handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zwrange_link_handshakes_total",
			Help: "Handshake replies to transmitted frames.",
		}, []string{"reply"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zwrange_link_retries_total",
			Help: "Retransmissions after a missing or negative handshake.",
		}),
		Undelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zwrange_link_undelivered_total",
			Help: "Commands that exhausted their attempt budget.",
		}),
		DesyncBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zwrange_link_desync_bytes_total",
			Help: "Bytes discarded while hunting for a start of frame.",
		}),
	}
	reg.MustRegister(m.FramesSent, m.FramesReceived, m.Handshakes, m.Retries, m.Undelivered, m.DesyncBytes)
	return m
}

func (m *Metrics) frameSent() {
	if m != nil {
		m.FramesSent.Inc()
	}
}

func (m *Metrics) frameReceived(result string) {
	if m != nil {
		m.FramesReceived.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) handshake(reply string) {
	if m != nil {
		m.Handshakes.WithLabelValues(reply).Inc()
	}
}

func (m *Metrics) retry() {
	if m != nil {
		m.Retries.Inc()
	}
}

func (m *Metrics) undelivered() {
	if m != nil {
		m.Undelivered.Inc()
	}
}

func (m *Metrics) desync() {
	if m != nil {
		m.DesyncBytes.Inc()
	}
}
