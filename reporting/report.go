// Package reporting finalizes run records: it writes the suite-level
// structured summary, renders the human-readable text summary, and archives
// published summaries under timestamp keys.
package reporting

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/starry-os/infra/os-acceptor/types"
)

// SummaryFilename is the structured summary written into every run directory.
const SummaryFilename = "summary.json"

// Aggregator persists finalized run records. Summary content is a
// deterministic function of the case results, aside from timestamps and ids.
type Aggregator struct {
	runDir string
	log    log.Logger
}

// NewAggregator creates an aggregator writing into the given run directory.
func NewAggregator(runDir string, logger log.Logger) (*Aggregator, error) {
	if runDir == "" {
		return nil, fmt.Errorf("run directory is required")
	}
	if logger == nil {
		logger = log.New()
	}
	return &Aggregator{runDir: runDir, log: logger}, nil
}

// WriteSummary serializes the finalized record into the run directory and
// returns the summary path. The write is atomic so a crashed run never leaves
// a truncated summary behind.
func (a *Aggregator) WriteSummary(record *types.RunRecord) (string, error) {
	if record == nil {
		return "", fmt.Errorf("record is required")
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("serializing run record: %w", err)
	}

	path := filepath.Join(a.runDir, SummaryFilename)
	if err := writeFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("writing summary: %w", err)
	}

	a.log.Info("Run summary written", "suite", record.SuiteID, "run_id", record.RunID, "path", path)
	return path, nil
}

// ReadSummary parses a previously written summary back into a run record.
func ReadSummary(path string) (*types.RunRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading summary %s: %w", path, err)
	}
	var record types.RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("parsing summary %s: %w", path, err)
	}
	return &record, nil
}

// writeFileAtomic writes via a temp file and rename so readers never observe a
// partial summary.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	tmp := fmt.Sprintf("%s.tmp-%d", path, time.Now().UnixNano())
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(tmp)
	}()

	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
