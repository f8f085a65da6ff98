package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/starry-os/infra/os-acceptor/logging"
	"github.com/starry-os/infra/os-acceptor/metrics"
	"github.com/starry-os/infra/os-acceptor/session"
	"github.com/starry-os/infra/os-acceptor/types"
)

// CaseSession is the runner's view of one provisioned execution environment.
type CaseSession interface {
	Run(ctx context.Context, command []string, timeout time.Duration) (session.RunResult, error)
	Close() error
}

// Provisioner produces exactly one disposable session per case invocation.
type Provisioner interface {
	Provision(ctx context.Context, c types.Case, artifactPath string) (CaseSession, error)
	Destination(c types.Case) string
}

// SuiteRunner executes a loaded suite and produces its run record.
type SuiteRunner interface {
	RunSuite(ctx context.Context) (*types.RunRecord, error)
}

// Config holds configuration for creating a new runner
type Config struct {
	Suite       *types.Suite
	Provisioner Provisioner
	// ArtifactPath resolves a case's executable reference to a host path.
	ArtifactPath func(c types.Case) string
	FileLogger   *logging.FileLogger
	Log          log.Logger
	// Concurrency bounds how many cases may execute at once. Zero or one means
	// strictly sequential execution in manifest order.
	Concurrency int
}

type runner struct {
	suite        *types.Suite
	provisioner  Provisioner
	artifactPath func(c types.Case) string
	fileLogger   *logging.FileLogger
	log          log.Logger
	concurrency  int
	runID        string
	tracer       trace.Tracer
}

// NewSuiteRunner creates a new suite runner instance
func NewSuiteRunner(cfg Config) (SuiteRunner, error) {
	if cfg.Suite == nil {
		return nil, fmt.Errorf("suite is required")
	}
	if cfg.Provisioner == nil {
		return nil, fmt.Errorf("provisioner is required")
	}
	if cfg.ArtifactPath == nil {
		return nil, fmt.Errorf("artifact path resolver is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	return &runner{
		suite:        cfg.Suite,
		provisioner:  cfg.Provisioner,
		artifactPath: cfg.ArtifactPath,
		fileLogger:   cfg.FileLogger,
		log:          cfg.Log,
		concurrency:  cfg.Concurrency,
		tracer:       otel.Tracer("suite runner"),
	}, nil
}

// RunSuite implements the SuiteRunner interface. It drives every case in
// manifest order and returns the finalized run record. A fatal provisioning
// failure aborts the remaining cases; the record then carries the distinct
// infrastructure-error status, and the error is returned alongside it.
func (r *runner) RunSuite(ctx context.Context) (*types.RunRecord, error) {
	if r.fileLogger != nil {
		r.runID = r.fileLogger.GetRunID()
	} else {
		r.runID = uuid.New().String()
	}

	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("suite %s", r.suite.ID))
	defer span.End()

	start := time.Now()
	r.log.Info("Running suite", "suite", r.suite.ID, "cases", len(r.suite.Cases), "run_id", r.runID)

	record := &types.RunRecord{
		SuiteID:   r.suite.ID,
		RunID:     r.runID,
		StartedAt: start,
	}
	collector := newResultCollector(len(r.suite.Cases))

	var fatal error
	if r.concurrency <= 1 {
		fatal = r.runSequential(ctx, collector)
	} else {
		fatal = r.runBounded(ctx, collector)
	}

	record.Results = collector.Ordered()
	for _, res := range record.Results {
		record.Stats.Add(res)
		metrics.RecordCase(r.suite.ID, r.runID, res.Name, string(res.Status), res.SoftFail)
	}

	record.FinishedAt = time.Now()
	record.Duration = record.FinishedAt.Sub(start)

	if fatal != nil {
		record.Status = types.RunStatusError
		record.InfraError = fatal.Error()
		r.log.Error("Suite run aborted by infrastructure error", "suite", r.suite.ID, "error", fatal)
		return record, fatal
	}

	record.Status = types.DetermineRunStatus(record.Results)
	r.log.Info("Suite run completed", "suite", r.suite.ID, "run_id", r.runID,
		"status", record.Status, "duration", record.Duration)
	return record, nil
}

// runSequential executes cases one at a time in manifest order.
func (r *runner) runSequential(ctx context.Context, collector *resultCollector) error {
	for i, c := range r.suite.Cases {
		result, fatal := r.runCase(ctx, c)
		if fatal != nil {
			return fatal
		}
		collector.Add(i, result)
	}
	return nil
}

// runBounded executes cases under a bounded worker pool. Each case still owns
// its session exclusively; the collector restores manifest order before the
// results reach the aggregator. A fatal provisioning error cancels the pool.
func (r *runner) runBounded(ctx context.Context, collector *resultCollector) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.log.Info("Running cases with bounded concurrency", "workers", r.concurrency)

	indexes := make(chan int)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var fatal error

	for w := 0; w < r.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				result, err := r.runCase(ctx, r.suite.Cases[i])
				if err != nil {
					mu.Lock()
					if fatal == nil {
						fatal = err
					}
					mu.Unlock()
					cancel()
					return
				}
				collector.Add(i, result)
			}
		}()
	}

dispatch:
	for i := range r.suite.Cases {
		select {
		case indexes <- i:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(indexes)
	wg.Wait()

	return fatal
}

// runCase runs a single case inside a freshly provisioned session. The second
// return value is non-nil only for fatal infrastructure errors; everything
// else is folded into the case result and the run continues.
func (r *runner) runCase(ctx context.Context, c types.Case) (types.CaseResult, error) {
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("case %s", c.Name))
	defer span.End()

	timeout := c.EffectiveTimeout(r.suite.DefaultTimeout)
	start := time.Now()
	result := types.CaseResult{
		Name:     c.Name,
		SoftFail: c.AllowFailure,
	}

	r.log.Info("Running case", "case", c.Name, "timeout", timeout, "protocol", c.Protocol)

	sess, err := r.provisioner.Provision(ctx, c, r.artifactPath(c))
	if err != nil {
		var perr *session.ProvisioningError
		if errors.As(err, &perr) {
			return result, err
		}
		// Case-level provisioning failure: record and continue with the run.
		result.Status = types.CaseStatusError
		result.Error = err.Error()
		result.Duration = time.Since(start)
		r.log.Error("Case provisioning failed", "case", c.Name, "error", err)
		return result, nil
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			r.log.Error("Session teardown reported an error", "case", c.Name, "error", cerr)
		}
	}()

	caseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	command := append([]string{r.provisioner.Destination(c)}, c.Args...)
	res, runErr := sess.Run(caseCtx, command, timeout)
	result.Duration = time.Since(start)

	// Output captured up to any cancellation point is retained for postmortems.
	if r.fileLogger != nil {
		logPath, logErr := r.fileLogger.WriteCaseOutput(c.Name, res.Output)
		if logErr != nil {
			r.log.Error("Failed to persist case output", "case", c.Name, "error", logErr)
		} else {
			result.LogPath = logPath
		}
	}

	switch {
	case caseCtx.Err() == context.DeadlineExceeded || errors.Is(runErr, context.DeadlineExceeded):
		// Never pass on timeout, regardless of partial output content.
		result.Status = types.CaseStatusTimeout
		result.Error = fmt.Sprintf("case exceeded %s timeout", timeout)
	case runErr != nil:
		result.Status = types.CaseStatusError
		result.Error = runErr.Error()
	default:
		result.ExitCode = &res.ExitCode
		result.Status, result.Error = ExtractVerdict(c.Protocol, res.Output, res.ExitCode)
	}

	r.log.Info("Case finished", "case", c.Name, "status", result.Status,
		"soft_fail", result.SoftFail, "duration", result.Duration)
	return result, nil
}

// Make sure the runner type implements the interface
var _ SuiteRunner = &runner{}
