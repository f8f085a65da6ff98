package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/starry-os/infra/os-acceptor/types"
)

// TextSummaryFilename is the human-readable companion to the JSON summary.
const TextSummaryFilename = "summary.txt"

// TextSummarySink renders a plain-text run summary as results arrive. It
// implements the logging.ResultSink interface; results reach it in manifest
// order, so the rendered summary is a deterministic function of the results.
type TextSummarySink struct {
	runDir  string
	suiteID string
	results []types.CaseResult
}

// NewTextSummarySink creates a text summary sink for one run.
func NewTextSummarySink(runDir, suiteID string) *TextSummarySink {
	return &TextSummarySink{runDir: runDir, suiteID: suiteID}
}

// Consume buffers a case result for the final summary.
func (s *TextSummarySink) Consume(result types.CaseResult, _ string) error {
	s.results = append(s.results, result)
	return nil
}

// Complete writes the accumulated summary to disk.
func (s *TextSummarySink) Complete(runID string) error {
	path := filepath.Join(s.runDir, TextSummaryFilename)
	return os.WriteFile(path, []byte(s.render(runID)), 0644)
}

func (s *TextSummarySink) render(runID string) string {
	var stats types.RunStats
	for _, r := range s.results {
		stats.Add(r)
	}
	overall := types.DetermineRunStatus(s.results)

	var b strings.Builder
	fmt.Fprintf(&b, "Suite: %s\n", s.suiteID)
	fmt.Fprintf(&b, "Run:   %s\n", runID)
	fmt.Fprintf(&b, "Cases: %d total, %d passed, %d failed, %d errored, %d timed out (%d soft failures)\n\n",
		stats.Total, stats.Passed, stats.Failed, stats.Errored, stats.TimedOut, stats.SoftFail)

	for _, r := range s.results {
		marker := "✓"
		if r.Status != types.CaseStatusPass {
			marker = "✗"
		}
		soft := ""
		if r.SoftFail && r.Status != types.CaseStatusPass {
			soft = " (soft)"
		}
		fmt.Fprintf(&b, "%s %-30s %-8s%s %s\n", marker, r.Name, r.Status, soft, r.Duration.Round(time.Millisecond))
		if r.Error != "" {
			fmt.Fprintf(&b, "    %s\n", r.Error)
		}
	}

	fmt.Fprintf(&b, "\nOverall: %s\n", overall)
	return b.String()
}
