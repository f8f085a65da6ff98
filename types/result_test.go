package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectiveTimeout(t *testing.T) {
	suiteDefault := 10 * time.Minute

	c := Case{Name: "boot"}
	assert.Equal(t, suiteDefault, c.EffectiveTimeout(suiteDefault))

	c.Timeout = 5 * time.Second
	assert.Equal(t, 5*time.Second, c.EffectiveTimeout(suiteDefault))
}

func TestDetermineRunStatus(t *testing.T) {
	tests := []struct {
		name    string
		results []CaseResult
		want    RunStatus
	}{
		{
			name:    "empty run passes",
			results: nil,
			want:    RunStatusPass,
		},
		{
			name: "all pass",
			results: []CaseResult{
				{Name: "a", Status: CaseStatusPass},
				{Name: "b", Status: CaseStatusPass},
			},
			want: RunStatusPass,
		},
		{
			name: "hard failure fails the run",
			results: []CaseResult{
				{Name: "a", Status: CaseStatusPass},
				{Name: "b", Status: CaseStatusFail},
			},
			want: RunStatusFail,
		},
		{
			name: "error counts as failure",
			results: []CaseResult{
				{Name: "a", Status: CaseStatusError},
			},
			want: RunStatusFail,
		},
		{
			name: "timeout counts as failure",
			results: []CaseResult{
				{Name: "a", Status: CaseStatusTimeout},
			},
			want: RunStatusFail,
		},
		{
			name: "soft fail never blocks",
			results: []CaseResult{
				{Name: "a", Status: CaseStatusFail, SoftFail: true},
				{Name: "b", Status: CaseStatusTimeout, SoftFail: true},
				{Name: "c", Status: CaseStatusPass},
			},
			want: RunStatusPass,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetermineRunStatus(tt.results))
		})
	}
}

func TestRunStatsAdd(t *testing.T) {
	var stats RunStats
	stats.Add(CaseResult{Status: CaseStatusPass})
	stats.Add(CaseResult{Status: CaseStatusFail})
	stats.Add(CaseResult{Status: CaseStatusFail, SoftFail: true})
	stats.Add(CaseResult{Status: CaseStatusError})
	stats.Add(CaseResult{Status: CaseStatusTimeout})

	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 1, stats.Passed)
	assert.Equal(t, 2, stats.Failed)
	assert.Equal(t, 1, stats.Errored)
	assert.Equal(t, 1, stats.TimedOut)
	assert.Equal(t, 1, stats.SoftFail)
}

func TestRunRecordRoundTrip(t *testing.T) {
	exitCode := 3
	record := RunRecord{
		SuiteID:    "ci",
		RunID:      "b2f6f9e2-7a6c-4d2f-8f3e-0c9f6f1a2b3c",
		StartedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC),
		Results: []CaseResult{
			{Name: "boot", Status: CaseStatusPass, Duration: time.Second, LogPath: "cases/boot.log"},
			{Name: "stress", Status: CaseStatusFail, SoftFail: true, ExitCode: &exitCode},
			{Name: "net", Status: CaseStatusError, Error: "no verdict payload found"},
		},
		Status:   RunStatusFail,
		Duration: 5 * time.Minute,
	}
	for _, r := range record.Results {
		record.Stats.Add(r)
	}

	data, err := json.Marshal(record)
	require.NoError(t, err)

	var decoded RunRecord
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, record.Status, decoded.Status)
	require.Len(t, decoded.Results, len(record.Results))
	for i := range record.Results {
		assert.Equal(t, record.Results[i].Status, decoded.Results[i].Status)
		assert.Equal(t, record.Results[i].Name, decoded.Results[i].Name)
		assert.Equal(t, record.Results[i].SoftFail, decoded.Results[i].SoftFail)
	}
	assert.Equal(t, record.Stats, decoded.Stats)
}
