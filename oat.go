package oat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/starry-os/infra/os-acceptor/exitcodes"
	"github.com/starry-os/infra/os-acceptor/logging"
	"github.com/starry-os/infra/os-acceptor/manifest"
	"github.com/starry-os/infra/os-acceptor/reporting"
	"github.com/starry-os/infra/os-acceptor/runner"
	"github.com/starry-os/infra/os-acceptor/session"
	"github.com/starry-os/infra/os-acceptor/types"
)

// oat is an OS Acceptance Tester that runs suites of cases against disposable
// copies of a built OS image.
type oat struct {
	ctx       context.Context
	config    *Config
	version   string
	loader    *manifest.Loader
	formatter ResultFormatter
	reporter  MetricsReporter
	record    *types.RunRecord
	runFn     func() error

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*oat, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	config.Log.Debug("Creating OAT with config",
		"testDir", config.TestDir,
		"suite", config.Suite,
		"templateDir", config.TemplateDir,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce)

	loader, err := manifest.NewLoader(manifest.Config{
		Log:            config.Log,
		TestDir:        config.TestDir,
		DefaultTimeout: config.DefaultTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create manifest loader: %w", err)
	}
	config.Log.Info("oat.New: created manifest loader")

	o := &oat{
		ctx:              ctx,
		config:           config,
		version:          version,
		loader:           loader,
		formatter:        NewConsoleResultFormatter(config.Log),
		reporter:         NewDefaultMetricsReporter(),
		done:             make(chan struct{}),
		shutdownCallback: shutdownCallback,
	}
	o.runFn = o.runSuite
	return o, nil
}

// Start runs the suite periodically at the configured interval, or once in
// run-once mode.
func (o *oat) Start(ctx context.Context) error {
	// Set up panic recovery to ensure we exit with code 2 for runtime errors
	defer func() {
		if r := recover(); r != nil {
			o.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	o.ctx = ctx
	o.done = make(chan struct{})
	o.running.Store(true)

	if o.config.RunOnce {
		o.config.Log.Info("Starting os-acceptor in run-once mode", "suite", o.config.Suite)
	} else {
		o.config.Log.Info("Starting os-acceptor in continuous mode",
			"suite", o.config.Suite, "interval", o.config.RunInterval)
	}

	// Run the suite immediately on startup
	err := o.runFn()
	if err != nil {
		o.config.Log.Error("Runtime error running suite", "error", err)
		return NewRuntimeError(err)
	}

	// If in run-once mode, trigger shutdown and return
	if o.config.RunOnce {
		o.config.Log.Info("Run completed, exiting (run-once mode)")

		if o.record != nil && o.record.Status != types.RunStatusPass {
			o.config.Log.Warn("Run-once suite run completed with failures, returning exit code 1")
			return NewSuiteFailureError(o.record.String())
		}

		// Only need to call this when we're in run-once mode and the run passed
		go func() {
			o.shutdownCallback(nil)
		}()
		return nil // Success (exit code 0)
	}

	// Start a goroutine for periodic suite runs
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.config.Log.Debug("Starting periodic run goroutine", "interval", o.config.RunInterval)

		for {
			select {
			case <-time.After(o.config.RunInterval):
				// Check if we should still be running
				if !o.running.Load() {
					o.config.Log.Debug("Service stopped, exiting periodic runner")
					return
				}

				o.config.Log.Info("Running periodic suite run")
				if err := o.runFn(); err != nil {
					o.config.Log.Error("Error running periodic suite run", "error", err)
				}
				o.config.Log.Info("Run interval", "interval", o.config.RunInterval)

			case <-o.done:
				o.config.Log.Debug("Done signal received, stopping periodic runner")
				return

			case <-ctx.Done():
				o.config.Log.Debug("Context canceled, stopping periodic runner")
				o.running.Store(false)
				return
			}
		}
	}()
	o.config.Log.Debug("os-acceptor started successfully")
	return nil
}

// runSuite executes one full suite run and processes the results.
func (o *oat) runSuite() error {
	suite, err := o.loader.Load(o.config.Suite)
	if err != nil {
		return fmt.Errorf("failed to load suite %q: %w", o.config.Suite, err)
	}
	if len(o.config.CaseFilter) > 0 {
		suite, err = manifest.FilterCases(suite, o.config.CaseFilter)
		if err != nil {
			return fmt.Errorf("failed to filter cases: %w", err)
		}
	}

	runID := uuid.New().String()
	fileLogger, err := logging.NewFileLogger(o.config.LogDir, runID, suite.ID)
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	fileLogger.AddSink(reporting.NewTextSummarySink(fileLogger.RunDir(), suite.ID))

	provisioner, err := session.NewProvisioner(session.Config{
		Log:      o.config.Log,
		Template: session.TemplateHandle{Dir: o.config.TemplateDir},
		NewCtrl: session.NewQEMUController(session.QEMUConfig{
			MakeBinary:  o.config.MakeBinary,
			Arch:        o.config.Arch,
			Port:        o.config.SerialPort,
			BootTimeout: o.config.BootTimeout,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create provisioner: %w", err)
	}

	suiteRunner, err := runner.NewSuiteRunner(runner.Config{
		Suite:       suite,
		Provisioner: runner.NewProvisionerAdapter(provisioner),
		ArtifactPath: func(c types.Case) string {
			return o.loader.ArtifactPath(suite.ID, c)
		},
		FileLogger:  fileLogger,
		Log:         o.config.Log,
		Concurrency: o.config.Concurrency,
	})
	if err != nil {
		return fmt.Errorf("failed to create suite runner: %w", err)
	}

	o.config.Log.Info("Running suite...", "suite", suite.ID, "run_id", runID)
	record, runErr := suiteRunner.RunSuite(o.ctx)
	if record == nil {
		return runErr
	}
	o.record = record

	// Persist and publish whatever we have, even after an aborted run.
	record.Published = o.config.ArchiveDir != ""
	if err := o.finalizeRun(record, fileLogger); err != nil {
		o.config.Log.Error("Failed to finalize run", "run_id", runID, "error", err)
		if runErr == nil {
			runErr = err
		}
	}

	if err := o.formatter.FormatResults(record); err != nil {
		o.config.Log.Error("Failed to format results", "error", err)
	}
	o.reporter.ReportResults(runID, record)

	if runErr != nil {
		return runErr
	}
	o.config.Log.Info("Run completed", "run_id", record.RunID, "status", record.Status)
	return nil
}

// finalizeRun feeds the sinks, writes the JSON summary, and publishes it.
func (o *oat) finalizeRun(record *types.RunRecord, fileLogger *logging.FileLogger) error {
	for _, result := range record.Results {
		if err := fileLogger.LogCaseResult(result); err != nil {
			return fmt.Errorf("failed to log case result: %w", err)
		}
	}
	if err := fileLogger.Complete(); err != nil {
		return fmt.Errorf("failed to complete file logger: %w", err)
	}

	aggregator, err := reporting.NewAggregator(fileLogger.RunDir(), o.config.Log)
	if err != nil {
		return err
	}
	summaryPath, err := aggregator.WriteSummary(record)
	if err != nil {
		return fmt.Errorf("failed to write run summary: %w", err)
	}

	if o.config.ArchiveDir != "" {
		publisher, err := reporting.NewPublisher(o.config.ArchiveDir, o.config.Log)
		if err != nil {
			return err
		}
		if _, err := publisher.Publish(summaryPath, record.RunID); err != nil {
			return fmt.Errorf("failed to publish run summary: %w", err)
		}
	}
	return nil
}

// Stop stops the os-acceptor service.
func (o *oat) Stop(ctx context.Context) error {
	o.config.Log.Info("Stopping os-acceptor")

	// Check if we're already stopped
	if !o.running.Load() {
		o.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}

	// Update running state first to prevent new runs
	o.running.Store(false)

	// Signal goroutines to exit
	o.config.Log.Debug("Sending done signal to goroutines")
	close(o.done)

	o.config.Log.Info("os-acceptor stopped successfully")
	return nil
}

// Stopped returns true if the os-acceptor service is stopped.
func (o *oat) Stopped() bool {
	return !o.running.Load()
}

// WaitForShutdown blocks until all goroutines have terminated.
// This is useful in tests to ensure complete cleanup before moving to the next test.
func (o *oat) WaitForShutdown(ctx context.Context) error {
	o.config.Log.Debug("Waiting for all goroutines to terminate")

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.config.Log.Debug("All goroutines terminated successfully")
		return nil
	case <-ctx.Done():
		o.config.Log.Warn("Timed out waiting for goroutines to terminate", "error", ctx.Err())
		return ctx.Err()
	}
}
