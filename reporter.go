package oat

import (
	"github.com/starry-os/infra/os-acceptor/metrics"
	"github.com/starry-os/infra/os-acceptor/types"
)

// MetricsReporter is responsible for reporting metrics from run results.
type MetricsReporter interface {
	ReportResults(runID string, record *types.RunRecord)
}

// DefaultMetricsReporter implements the MetricsReporter interface.
type DefaultMetricsReporter struct{}

// NewDefaultMetricsReporter creates a new DefaultMetricsReporter.
func NewDefaultMetricsReporter() *DefaultMetricsReporter {
	return &DefaultMetricsReporter{}
}

// ReportResults reports the run results to metrics systems.
func (r *DefaultMetricsReporter) ReportResults(runID string, record *types.RunRecord) {
	metrics.RecordRun(
		record.SuiteID,
		runID,
		string(record.Status),
		record.Stats.Total,
		record.Stats.Passed,
		record.Duration,
	)
}
