// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package report turns range test and probe results into records for field
// logs, in JSON, YAML or CBOR.
package report

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Thermoquad/zwrange/pkg/link"
	"github.com/Thermoquad/zwrange/pkg/rangetest"
	"github.com/Thermoquad/zwrange/pkg/serialapi"
)

// Record kinds
const (
	KindRange = "range"
	KindProbe = "rssi"
)

// Record outcomes
const (
	OutcomeOK          = "ok"
	OutcomeUnusable    = "unusable"
	OutcomeRejected    = "rejected"
	OutcomeHelperNoAck = "helper_no_ack"
	OutcomeUnreachable = "unreachable"
	OutcomeNoAck       = "no_ack"
	OutcomeError       = "error"
)

// Record is one test run.
type Record struct {
	ID       string    `json:"id" yaml:"id" cbor:"1,keyasint"`
	Kind     string    `json:"kind" yaml:"kind" cbor:"2,keyasint"`
	Started  time.Time `json:"started" yaml:"started" cbor:"3,keyasint"`
	Finished time.Time `json:"finished" yaml:"finished" cbor:"4,keyasint"`
	Link     string    `json:"link,omitempty" yaml:"link,omitempty" cbor:"5,keyasint,omitempty"`
	Helper   uint8     `json:"helper,omitempty" yaml:"helper,omitempty" cbor:"6,keyasint,omitempty"`
	DUT      uint8     `json:"dut" yaml:"dut" cbor:"7,keyasint"`
	Outcome  string    `json:"outcome" yaml:"outcome" cbor:"8,keyasint"`
	Error    string    `json:"error,omitempty" yaml:"error,omitempty" cbor:"9,keyasint,omitempty"`

	Range *RangeRecord `json:"range,omitempty" yaml:"range,omitempty" cbor:"10,keyasint,omitempty"`
	Probe *ProbeRecord `json:"probe,omitempty" yaml:"probe,omitempty" cbor:"11,keyasint,omitempty"`
	Stats *LinkRecord  `json:"stats,omitempty" yaml:"stats,omitempty" cbor:"12,keyasint,omitempty"`
}

// RangeRecord is the power ramp part of a record.
type RangeRecord struct {
	MinLevel        string        `json:"min_level" yaml:"min_level" cbor:"1,keyasint"`
	Acks            uint16        `json:"acks" yaml:"acks" cbor:"2,keyasint"`
	Probes          uint16        `json:"probes" yaml:"probes" cbor:"3,keyasint"`
	YieldPercent    int           `json:"yield_percent" yaml:"yield_percent" cbor:"4,keyasint"`
	Usable          bool          `json:"usable" yaml:"usable" cbor:"5,keyasint"`
	LifelineRemoved bool          `json:"lifeline_removed,omitempty" yaml:"lifeline_removed,omitempty" cbor:"6,keyasint,omitempty"`
	Preflight       LevelRecord   `json:"preflight" yaml:"preflight" cbor:"7,keyasint"`
	Levels          []LevelRecord `json:"levels" yaml:"levels" cbor:"8,keyasint"`
}

// LevelRecord is one burst.
type LevelRecord struct {
	Level    string `json:"level" yaml:"level" cbor:"1,keyasint"`
	Step     uint8  `json:"step" yaml:"step" cbor:"2,keyasint"`
	Accepted bool   `json:"accepted" yaml:"accepted" cbor:"3,keyasint"`
	HelperTx string `json:"helper_tx" yaml:"helper_tx" cbor:"4,keyasint"`
	Report   bool   `json:"report" yaml:"report" cbor:"5,keyasint"`
	Acks     uint16 `json:"acks" yaml:"acks" cbor:"6,keyasint"`
	Passed   bool   `json:"passed" yaml:"passed" cbor:"7,keyasint"`
}

// ProbeRecord is an RSSI probe.
type ProbeRecord struct {
	Accepted bool   `json:"accepted" yaml:"accepted" cbor:"1,keyasint"`
	Acked    bool   `json:"acked" yaml:"acked" cbor:"2,keyasint"`
	TxStatus string `json:"tx_status" yaml:"tx_status" cbor:"3,keyasint"`
	RSSI     string `json:"rssi,omitempty" yaml:"rssi,omitempty" cbor:"4,keyasint,omitempty"`
	RSSIRaw  uint8  `json:"rssi_raw,omitempty" yaml:"rssi_raw,omitempty" cbor:"5,keyasint,omitempty"`
}

// LinkRecord is a snapshot of the link counters at the end of a run.
type LinkRecord struct {
	FramesSent      uint64 `json:"frames_sent" yaml:"frames_sent" cbor:"1,keyasint"`
	FramesReceived  uint64 `json:"frames_received" yaml:"frames_received" cbor:"2,keyasint"`
	Retries         uint64 `json:"retries" yaml:"retries" cbor:"3,keyasint"`
	Undelivered     uint64 `json:"undelivered" yaml:"undelivered" cbor:"4,keyasint"`
	ChecksumErrors  uint64 `json:"checksum_errors" yaml:"checksum_errors" cbor:"5,keyasint"`
	TruncatedFrames uint64 `json:"truncated_frames" yaml:"truncated_frames" cbor:"6,keyasint"`
	DesyncBytes     uint64 `json:"desync_bytes" yaml:"desync_bytes" cbor:"7,keyasint"`
}

func newRecord(kind string, started time.Time) *Record {
	return &Record{
		ID:       uuid.NewString(),
		Kind:     kind,
		Started:  started,
		Finished: time.Now(),
	}
}

func errorOutcome(err error) string {
	switch {
	case errors.Is(err, rangetest.ErrSendRejected):
		return OutcomeRejected
	case errors.Is(err, rangetest.ErrHelperNoAck):
		return OutcomeHelperNoAck
	case errors.Is(err, rangetest.ErrDUTUnreachable):
		return OutcomeUnreachable
	default:
		return OutcomeError
	}
}

func levelRecord(lr rangetest.LevelResult) LevelRecord {
	return LevelRecord{
		Level:    lr.Level.String(),
		Step:     uint8(lr.Level),
		Accepted: lr.Accepted,
		HelperTx: lr.HelperTx.String(),
		Report:   lr.HasReport,
		Acks:     lr.Acks,
		Passed:   lr.Passed,
	}
}

// FromRange builds a record of a range test that started at started and
// ended with res and err.
func FromRange(started time.Time, res *rangetest.Result, err error) *Record {
	rec := newRecord(KindRange, started)
	if res != nil {
		rec.Helper = uint8(res.Helper)
		rec.DUT = uint8(res.DUT)

		rr := &RangeRecord{
			MinLevel:        res.MinLevel.String(),
			Acks:            res.Acks,
			Probes:          res.Probes,
			YieldPercent:    res.YieldPercent,
			Usable:          res.Usable,
			LifelineRemoved: res.LifelineRemoved,
			Preflight:       levelRecord(res.Preflight),
			Levels:          make([]LevelRecord, 0, len(res.Levels)),
		}
		for _, lr := range res.Levels {
			rr.Levels = append(rr.Levels, levelRecord(lr))
		}
		rec.Range = rr
	}

	switch {
	case err != nil:
		rec.Outcome = errorOutcome(err)
		rec.Error = err.Error()
	case res != nil && res.Usable:
		rec.Outcome = OutcomeOK
	default:
		rec.Outcome = OutcomeUnusable
	}
	return rec
}

// FromProbe builds a record of an RSSI probe of dut.
func FromProbe(started time.Time, dut serialapi.NodeID, res *rangetest.ProbeResult, err error) *Record {
	rec := newRecord(KindProbe, started)
	rec.DUT = uint8(dut)

	if res != nil {
		pr := &ProbeRecord{
			Accepted: res.Accepted,
			Acked:    res.Acked,
			TxStatus: res.TxStatus.String(),
		}
		if res.HasRSSI {
			pr.RSSI = res.RSSI.String()
			pr.RSSIRaw = uint8(res.RSSI)
		}
		rec.Probe = pr
	}

	switch {
	case err != nil:
		rec.Outcome = errorOutcome(err)
		rec.Error = err.Error()
	case res != nil && res.Acked:
		rec.Outcome = OutcomeOK
	default:
		rec.Outcome = OutcomeNoAck
	}
	return rec
}

// WithLink attaches the link description and counters.
func (r *Record) WithLink(desc string, stats link.Statistics) *Record {
	r.Link = desc
	r.Stats = &LinkRecord{
		FramesSent:      stats.FramesSent,
		FramesReceived:  stats.FramesReceived,
		Retries:         stats.Retries,
		Undelivered:     stats.Undelivered,
		ChecksumErrors:  stats.ChecksumErrors,
		TruncatedFrames: stats.TruncatedFrames,
		DesyncBytes:     stats.DesyncBytes,
	}
	return r
}
