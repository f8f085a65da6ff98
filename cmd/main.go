package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	oat "github.com/starry-os/infra/os-acceptor"
	"github.com/starry-os/infra/os-acceptor/exitcodes"
	"github.com/starry-os/infra/os-acceptor/flags"
	"github.com/starry-os/infra/os-acceptor/service"
)

// shutdownGrace bounds how long teardown may take after a signal.
const shutdownGrace = 30 * time.Second

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "os-acceptor"
	app.Usage = "OS Acceptance Tester Service"
	app.Description = "os-acceptor runs test suites against disposable copies of a built OS image"
	app.Flags = flags.Flags
	app.Action = run
	app.ExitErrHandler = func(c *cli.Context, err error) {
		if err == nil {
			return
		}
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
			return
		}
		cli.HandleExitCoder(cli.Exit(err.Error(), exitCodeForError(err)))
	}

	// Start telemetry
	shutdown, err := otelconfig.ConfigureOpenTelemetry(
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	// Start healthz and metrics servers
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := service.New()
	svc.Start(ctx)
	defer svc.Shutdown()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Crit("Application failed", "message", err)
	}
}

// exitCodeForError maps typed errors to the process exit code: suite failures
// exit 1, runtime and infrastructure errors exit 2.
func exitCodeForError(err error) int {
	if oat.IsRuntimeError(err) {
		return exitcodes.RuntimeErr
	}
	if oat.IsSuiteFailureError(err) {
		return exitcodes.SuiteFailure
	}
	return exitcodes.SuiteFailure
}

func run(ctx *cli.Context) error {
	logger := newLogger(ctx.String(flags.LogLevel.Name))
	log.SetDefault(logger)

	cfg, err := oat.NewConfig(
		ctx,
		logger,
		ctx.String(flags.TestDir.Name),
		ctx.String(flags.Suite.Name),
		ctx.String(flags.TemplateDir.Name),
	)
	if err != nil {
		// Wrap in RuntimeError to signal this should exit with code 2
		return oat.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}

	cfg.Log.Debug("Config", "config", cfg)

	done := make(chan error, 1)
	acceptor, err := oat.New(ctx.Context, cfg, Version, func(cause error) {
		done <- cause
	})
	if err != nil {
		return oat.NewRuntimeError(fmt.Errorf("failed to create oat: %w", err))
	}

	if err := acceptor.Start(ctx.Context); err != nil {
		return err
	}

	// Block until the service finishes or the process is signaled.
	select {
	case cause := <-done:
		return cause
	case <-ctx.Context.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := acceptor.Stop(stopCtx); err != nil {
			return oat.NewRuntimeError(fmt.Errorf("failed to stop oat: %w", err))
		}
		return acceptor.WaitForShutdown(stopCtx)
	}
}

func newLogger(level string) log.Logger {
	return log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, parseLogLevel(level), true))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "trace":
		return log.LevelTrace
	case "debug":
		return log.LevelDebug
	case "warn":
		return log.LevelWarn
	case "error":
		return log.LevelError
	case "crit":
		return log.LevelCrit
	default:
		return log.LevelInfo
	}
}
