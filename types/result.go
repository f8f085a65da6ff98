package types

import (
	"fmt"
	"time"
)

// CaseResult captures the outcome of a single case execution
type CaseResult struct {
	Name     string        `json:"name"`
	Status   CaseStatus    `json:"status"`
	SoftFail bool          `json:"soft_fail"`
	Duration time.Duration `json:"duration"`
	LogPath  string        `json:"log_path,omitempty"`
	ExitCode *int          `json:"exit_code,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Blocking reports whether this result should fail the overall run.
// Soft-failing cases are recorded but never block.
func (r CaseResult) Blocking() bool {
	return !r.SoftFail && r.Status.IsTerminalFailure()
}

// RunStats tracks case counts by status for one run
type RunStats struct {
	Total    int `json:"total"`
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	Errored  int `json:"errored"`
	TimedOut int `json:"timed_out"`
	SoftFail int `json:"soft_failed"`
}

// Add updates the stats with one case result
func (s *RunStats) Add(r CaseResult) {
	s.Total++
	switch r.Status {
	case CaseStatusPass:
		s.Passed++
	case CaseStatusFail:
		s.Failed++
	case CaseStatusError:
		s.Errored++
	case CaseStatusTimeout:
		s.TimedOut++
	}
	if r.SoftFail && r.Status != CaseStatusPass {
		s.SoftFail++
	}
}

// RunRecord is the finalized, persistable record of one suite run.
// Case results are kept in manifest declaration order.
type RunRecord struct {
	SuiteID    string        `json:"suite_id"`
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Results    []CaseResult  `json:"results"`
	Status     RunStatus     `json:"status"`
	Stats      RunStats      `json:"stats"`
	Duration   time.Duration `json:"duration"`
	Published  bool          `json:"published,omitempty"`
	// InfraError carries the diagnostic when Status is RunStatusError.
	InfraError string `json:"infra_error,omitempty"`
}

// String returns a one-line human-readable summary of the run.
func (r *RunRecord) String() string {
	return fmt.Sprintf("Suite %s run %s: %s (%d cases: %d passed, %d failed, %d errored, %d timed out, %d soft failures) in %s",
		r.SuiteID, r.RunID, r.Status,
		r.Stats.Total, r.Stats.Passed, r.Stats.Failed, r.Stats.Errored, r.Stats.TimedOut, r.Stats.SoftFail,
		r.Duration.Round(time.Millisecond))
}

// DetermineRunStatus derives the overall status from the accumulated results.
// A run fails iff any non-soft-fail case did not pass.
func DetermineRunStatus(results []CaseResult) RunStatus {
	for _, r := range results {
		if r.Blocking() {
			return RunStatusFail
		}
	}
	return RunStatusPass
}
