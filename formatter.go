package oat

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/starry-os/infra/os-acceptor/types"
)

// ResultFormatter is responsible for formatting and displaying run results.
type ResultFormatter interface {
	FormatResults(record *types.RunRecord) error
}

// ConsoleResultFormatter implements the ResultFormatter interface.
type ConsoleResultFormatter struct {
	logger log.Logger
}

// NewConsoleResultFormatter creates a new ConsoleResultFormatter.
func NewConsoleResultFormatter(logger log.Logger) *ConsoleResultFormatter {
	return &ConsoleResultFormatter{
		logger: logger,
	}
}

// FormatResults formats and displays the run results.
func (f *ConsoleResultFormatter) FormatResults(record *types.RunRecord) error {
	f.logger.Info("Printing results...")
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("Suite %s Results (%s)", record.SuiteID, formatDuration(record.Duration)))

	t.AppendHeader(table.Row{
		"Case", "Duration", "Passed", "Failed", "Soft", "Exit", "Status", "Error",
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Case", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Soft", Align: text.AlignRight},
		{Name: "Exit", Align: text.AlignRight},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, result := range record.Results {
		exitCode := "-"
		if result.ExitCode != nil {
			exitCode = fmt.Sprintf("%d", *result.ExitCode)
		}
		t.AppendRow(table.Row{
			result.Name,
			formatDuration(result.Duration),
			boolToInt(result.Status == types.CaseStatusPass),
			boolToInt(result.Status != types.CaseStatusPass),
			boolToInt(result.SoftFail && result.Status != types.CaseStatusPass),
			exitCode,
			getResultString(result.Status),
			result.Error,
		})
	}
	t.AppendSeparator()

	// Update the table style setting based on the run status
	if record.Status == types.RunStatusPass {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	} else if record.Status == types.RunStatusError {
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		formatDuration(record.Duration),
		record.Stats.Passed,
		record.Stats.Total - record.Stats.Passed,
		record.Stats.SoftFail,
		"",
		getRunStatusString(record.Status),
		record.InfraError,
	})

	t.Render()

	fmt.Println(record.String())

	return nil
}
