package oat

import (
	"fmt"
	"time"

	"github.com/starry-os/infra/os-acceptor/types"
)

// Helper function to convert bool to int
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// getResultString returns a colored string representing the case result
func getResultString(status types.CaseStatus) string {
	switch status {
	case types.CaseStatusPass:
		return "✓ pass"
	case types.CaseStatusFail:
		return "✗ fail"
	case types.CaseStatusTimeout:
		return "✗ timeout"
	default:
		return "✗ error"
	}
}

// getRunStatusString returns a string representing the overall run result
func getRunStatusString(status types.RunStatus) string {
	switch status {
	case types.RunStatusPass:
		return "✓ pass"
	case types.RunStatusError:
		return "✗ error"
	default:
		return "✗ fail"
	}
}

// Helper function to format duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
