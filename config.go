package oat

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ethereum/go-ethereum/log"
	"github.com/starry-os/infra/os-acceptor/flags"
)

// Config holds the application configuration
type Config struct {
	TestDir        string
	Suite          string
	TemplateDir    string
	LogDir         string        // Directory to store run directories and case logs
	ArchiveDir     string        // Directory to publish run summaries into; empty disables publishing
	RunInterval    time.Duration // Interval between suite runs
	RunOnce        bool          // Indicates if the service should exit after one run
	CaseFilter     []string      // Run only these cases; empty runs the whole suite
	Concurrency    int           // Number of cases to execute at once (1 = manifest order)
	DefaultTimeout time.Duration // Per-case timeout when neither case nor manifest sets one
	Arch           string        // Target architecture for the image's run target
	SerialPort     int           // TCP port the target exposes its serial console on
	BootTimeout    time.Duration // How long to wait for the runtime to become ready
	MakeBinary     string        // Path to the make binary used to boot the image
	Log            log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, logger log.Logger, testDir, suite, templateDir string) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}
	if testDir == "" {
		return nil, errors.New("test directory is required")
	}
	if suite == "" {
		return nil, errors.New("suite is required")
	}
	if templateDir == "" {
		return nil, errors.New("template directory is required")
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)
	runOnce := runInterval == 0

	logDir := ctx.String(flags.LogDir.Name)
	if logDir == "" {
		logDir = "logs"
	}

	// Resolve the absolute paths
	absTestDir, err := filepath.Abs(testDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for test directory '%s': %w", testDir, err)
	}
	absTemplateDir, err := filepath.Abs(templateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for template directory '%s': %w", templateDir, err)
	}
	logDir, err = filepath.Abs(logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for log directory '%s': %w", logDir, err)
	}
	archiveDir := ctx.String(flags.ArchiveDir.Name)
	if archiveDir != "" {
		archiveDir, err = filepath.Abs(archiveDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for archive directory '%s': %w", archiveDir, err)
		}
	}

	return &Config{
		TestDir:        absTestDir,
		Suite:          suite,
		TemplateDir:    absTemplateDir,
		LogDir:         logDir,
		ArchiveDir:     archiveDir,
		RunInterval:    runInterval,
		RunOnce:        runOnce,
		CaseFilter:     ctx.StringSlice(flags.Cases.Name),
		Concurrency:    ctx.Int(flags.Concurrency.Name),
		DefaultTimeout: ctx.Duration(flags.DefaultTimeout.Name),
		Arch:           ctx.String(flags.Arch.Name),
		SerialPort:     ctx.Int(flags.SerialPort.Name),
		BootTimeout:    ctx.Duration(flags.BootTimeout.Name),
		MakeBinary:     ctx.String(flags.MakeBinary.Name),
		Log:            logger,
	}, nil
}
