package metrics

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "oat"
)

var (
	Debug                bool = true
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	caseResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "case_results_total",
		Help:      "Count of case executions by outcome",
	}, []string{
		"suite",
		"run_id",
		"case",
		"status",
		"soft_fail",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Outcome of suite runs",
	}, []string{
		"suite",
		"run_id",
		"status",
	})

	runCasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_cases_total",
		Help:      "Total number of cases executed per run",
	}, []string{
		"suite",
		"run_id",
	})

	runCasesPassed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_cases_passed",
		Help:      "Number of passed cases per run",
	}, []string{
		"suite",
		"run_id",
	})

	runCasesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_cases_failed",
		Help:      "Number of non-passing cases per run",
	}, []string{
		"suite",
		"run_id",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of suite runs",
	}, []string{
		"suite",
		"run_id",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordCase(suite string, runID string, caseName string, status string, softFail bool) {
	if Debug {
		log.Debug("metric inc",
			"m", "case_results_total",
			"suite", suite,
			"run_id", runID,
			"case", caseName,
			"status", status,
			"soft_fail", softFail)
	}
	caseResultsTotal.WithLabelValues(suite, runID, caseName, status, fmt.Sprintf("%t", softFail)).Inc()
}

func RecordRun(
	suite string,
	runID string,
	status string,
	total int,
	passed int,
	duration time.Duration,
) {
	runResults.WithLabelValues(suite, runID, status).Set(1)
	runCasesTotal.WithLabelValues(suite, runID).Add(float64(total))
	runCasesPassed.WithLabelValues(suite, runID).Add(float64(passed))
	runCasesFailed.WithLabelValues(suite, runID).Add(float64(total - passed))
	runDuration.WithLabelValues(suite, runID).Set(duration.Seconds())
}
