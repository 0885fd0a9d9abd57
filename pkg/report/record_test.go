// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package report

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/zwrange/pkg/link"
	"github.com/Thermoquad/zwrange/pkg/rangetest"
	"github.com/Thermoquad/zwrange/pkg/serialapi"
)

func sampleRange() *rangetest.Result {
	return &rangetest.Result{
		Helper: 2,
		DUT:    3,
		Preflight: rangetest.LevelResult{
			Level: serialapi.PowerNormal, Accepted: true, HelperAcked: true,
			HasReport: true, Acks: 3, Passed: true,
		},
		Levels: []rangetest.LevelResult{
			{Level: serialapi.PowerNormal, Accepted: true, HelperAcked: true, HasReport: true, Acks: 10, Passed: true},
			{Level: serialapi.PowerMinus4dBm, Accepted: true, HelperAcked: true, HasReport: true, Acks: 10, Passed: true},
			{Level: serialapi.PowerMinus8dBm, Accepted: true, HelperAcked: true, HasReport: true, Acks: 10, Passed: true},
			{Level: serialapi.PowerMinus9dBm, Accepted: true, HelperAcked: true, HasReport: true, Acks: 3},
		},
		MinLevel:     serialapi.PowerMinus8dBm,
		Acks:         10,
		Probes:       10,
		YieldPercent: 100,
		Usable:       true,
	}
}

func TestFromRange(t *testing.T) {
	started := time.Now().Add(-time.Minute)
	rec := FromRange(started, sampleRange(), nil)

	_, err := uuid.Parse(rec.ID)
	require.NoError(t, err, "record id is a uuid")
	assert.Equal(t, KindRange, rec.Kind)
	assert.Equal(t, OutcomeOK, rec.Outcome)
	assert.Equal(t, uint8(2), rec.Helper)
	assert.Equal(t, uint8(3), rec.DUT)
	assert.False(t, rec.Finished.Before(started))

	require.NotNil(t, rec.Range)
	assert.Equal(t, "-8dBm", rec.Range.MinLevel)
	assert.Equal(t, 100, rec.Range.YieldPercent)
	require.Len(t, rec.Range.Levels, 4)
	assert.Equal(t, "-10dBm", rec.Range.Levels[3].Level)
	assert.Equal(t, uint8(9), rec.Range.Levels[3].Step)
	assert.Equal(t, "COMPLETE_OK", rec.Range.Levels[3].HelperTx)
}

func TestFromRange_Outcomes(t *testing.T) {
	tests := []struct {
		name string
		res  *rangetest.Result
		err  error
		want string
	}{
		{"usable", sampleRange(), nil, OutcomeOK},
		{"unusable", &rangetest.Result{}, nil, OutcomeUnusable},
		{"rejected", &rangetest.Result{}, fmt.Errorf("%w: x", rangetest.ErrSendRejected), OutcomeRejected},
		{"helper", &rangetest.Result{}, rangetest.ErrHelperNoAck, OutcomeHelperNoAck},
		{"unreachable", &rangetest.Result{}, rangetest.ErrDUTUnreachable, OutcomeUnreachable},
		{"transport", nil, errors.New("port gone"), OutcomeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := FromRange(time.Now(), tt.res, tt.err)
			assert.Equal(t, tt.want, rec.Outcome)
			if tt.err != nil {
				assert.Equal(t, tt.err.Error(), rec.Error)
			}
		})
	}
}

func TestFromProbe(t *testing.T) {
	res := &rangetest.ProbeResult{
		Accepted: true, Acked: true,
		TxStatus: serialapi.TransmitCompleteOK,
		RSSI:     0x20, HasRSSI: true,
	}
	rec := FromProbe(time.Now(), 5, res, nil)
	assert.Equal(t, KindProbe, rec.Kind)
	assert.Equal(t, OutcomeOK, rec.Outcome)
	require.NotNil(t, rec.Probe)
	assert.Equal(t, "224dbm", rec.Probe.RSSI)
	assert.Equal(t, uint8(0x20), rec.Probe.RSSIRaw)

	rec = FromProbe(time.Now(), 5, &rangetest.ProbeResult{Accepted: true}, nil)
	assert.Equal(t, OutcomeNoAck, rec.Outcome)
	assert.Empty(t, rec.Probe.RSSI)
}

func TestWithLink(t *testing.T) {
	stats := link.Statistics{FramesSent: 12, Retries: 2, ChecksumErrors: 1}
	rec := FromRange(time.Now(), sampleRange(), nil).WithLink("Serial: /dev/ttyACM0 @ 115200 baud", stats)

	require.NotNil(t, rec.Stats)
	assert.Equal(t, uint64(12), rec.Stats.FramesSent)
	assert.Equal(t, uint64(2), rec.Stats.Retries)
	assert.Equal(t, uint64(1), rec.Stats.ChecksumErrors)
	assert.Contains(t, rec.Link, "ttyACM0")
}

func TestEncodeDecode(t *testing.T) {
	started := time.Date(2025, 6, 23, 10, 0, 0, 0, time.UTC)
	records := []*Record{
		FromRange(started, sampleRange(), nil),
		FromRange(started, &rangetest.Result{Helper: 2, DUT: 3}, rangetest.ErrDUTUnreachable),
	}
	for _, r := range records {
		r.Finished = started.Add(90 * time.Second)
	}

	for _, format := range []Format{FormatJSON, FormatYAML, FormatCBOR} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Encode(&buf, format, records))

			got, err := Decode(&buf, format)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, records[0].ID, got[0].ID)
			assert.True(t, records[0].Finished.Equal(got[0].Finished))
			assert.Equal(t, records[0].Range.Levels, got[0].Range.Levels)
			assert.Equal(t, OutcomeUnreachable, got[1].Outcome)
		})
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"json": FormatJSON, "YAML": FormatYAML, "yml": FormatYAML, "cbor": FormatCBOR} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.json")
	require.NoError(t, Save(path, FormatJSON, []*Record{FromRange(time.Now(), sampleRange(), nil)}))
	assert.FileExists(t, path)
}
