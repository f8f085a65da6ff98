package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
)

const EnvVarPrefix = "OS_ACCEPTOR"

// prefixEnvVars names the environment variable for a flag.
func prefixEnvVars(name string) []string {
	return []string{EnvVarPrefix + "_" + name}
}

var (
	TestDir = &cli.StringFlag{
		Name:     "testdir",
		Value:    "",
		Required: true,
		EnvVars:  prefixEnvVars("TESTDIR"),
		Usage:    "Path to the directory containing one subdirectory per suite",
	}
	Suite = &cli.StringFlag{
		Name:     "suite",
		Value:    "",
		Required: true,
		EnvVars:  prefixEnvVars("SUITE"),
		Usage:    "Suite to run (eg. 'ci')",
	}
	TemplateDir = &cli.StringFlag{
		Name:     "template-dir",
		Value:    "",
		Required: true,
		EnvVars:  prefixEnvVars("TEMPLATE_DIR"),
		Usage:    "Path to the built golden template cloned for each case",
	}
	LogDir = &cli.StringFlag{
		Name:    "log-dir",
		Value:   "logs",
		EnvVars: prefixEnvVars("LOG_DIR"),
		Usage:   "Directory to store run directories and case logs",
	}
	ArchiveDir = &cli.StringFlag{
		Name:    "archive-dir",
		Value:   "",
		EnvVars: prefixEnvVars("ARCHIVE_DIR"),
		Usage:   "Directory to publish run summaries into. Omit to disable publishing.",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: prefixEnvVars("RUN_INTERVAL"),
		Usage:   "Interval between suite runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	Cases = &cli.StringSliceFlag{
		Name:    "case",
		EnvVars: prefixEnvVars("CASES"),
		Usage:   "Run only the named cases. Repeatable. Omit to run the whole suite.",
	}
	Concurrency = &cli.IntFlag{
		Name:    "concurrency",
		Value:   1,
		EnvVars: prefixEnvVars("CONCURRENCY"),
		Usage:   "Number of cases to execute at once. 1 runs strictly in manifest order.",
	}
	DefaultTimeout = &cli.DurationFlag{
		Name:    "default-timeout",
		Value:   0,
		EnvVars: prefixEnvVars("DEFAULT_TIMEOUT"),
		Usage:   "Per-case timeout when neither the case nor the manifest sets one",
	}
	Arch = &cli.StringFlag{
		Name:    "arch",
		Value:   "aarch64",
		EnvVars: prefixEnvVars("ARCH"),
		Usage:   "Target architecture passed to the image's run target",
	}
	SerialPort = &cli.IntFlag{
		Name:    "serial-port",
		Value:   4444,
		EnvVars: prefixEnvVars("SERIAL_PORT"),
		Usage:   "TCP port the target exposes its serial console on",
	}
	BootTimeout = &cli.DurationFlag{
		Name:    "boot-timeout",
		Value:   60 * time.Second,
		EnvVars: prefixEnvVars("BOOT_TIMEOUT"),
		Usage:   "How long to wait for the runtime to become ready",
	}
	MakeBinary = &cli.StringFlag{
		Name:    "make-binary",
		Value:   "make",
		EnvVars: prefixEnvVars("MAKE_BINARY"),
		Usage:   "Path to the make binary used to boot the image",
	}
	LogLevel = &cli.StringFlag{
		Name:    "log-level",
		Value:   "info",
		EnvVars: prefixEnvVars("LOG_LEVEL"),
		Usage:   "Log level (trace, debug, info, warn, error, crit)",
	}
)

var requiredFlags = []cli.Flag{
	TestDir,
	Suite,
	TemplateDir,
}

var optionalFlags = []cli.Flag{
	LogDir,
	ArchiveDir,
	RunInterval,
	Cases,
	Concurrency,
	DefaultTimeout,
	Arch,
	SerialPort,
	BootTimeout,
	MakeBinary,
	LogLevel,
}

var Flags []cli.Flag

func init() {
	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
