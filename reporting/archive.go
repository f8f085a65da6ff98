package reporting

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// archiveTimestampLayout keys archive entries by publish time.
const archiveTimestampLayout = "20060102-150405"

// Publisher copies finalized summaries into a timestamp-keyed archive.
// Publishing is append-only: a prior archive entry is never overwritten, and
// re-publishing the same run yields a new entry.
type Publisher struct {
	archiveDir string
	log        log.Logger
	now        func() time.Time
}

// NewPublisher creates a publisher writing into archiveDir.
func NewPublisher(archiveDir string, logger log.Logger) (*Publisher, error) {
	if archiveDir == "" {
		return nil, fmt.Errorf("archive directory is required")
	}
	if logger == nil {
		logger = log.New()
	}
	return &Publisher{archiveDir: archiveDir, log: logger, now: time.Now}, nil
}

// Publish copies the finalized summary at summaryPath into the archive and
// returns the archive entry path.
func (p *Publisher) Publish(summaryPath, runID string) (string, error) {
	src, err := os.Open(summaryPath)
	if err != nil {
		return "", fmt.Errorf("opening summary %s: %w", summaryPath, err)
	}
	defer src.Close()

	if err := os.MkdirAll(p.archiveDir, 0755); err != nil {
		return "", fmt.Errorf("creating archive directory: %w", err)
	}

	key := p.now().UTC().Format(archiveTimestampLayout)
	base := fmt.Sprintf("%s-%s", key, runID)

	// O_EXCL guarantees append-only semantics; on a key collision the entry
	// gets a numeric suffix rather than clobbering history.
	for attempt := 0; ; attempt++ {
		name := base + ".json"
		if attempt > 0 {
			name = fmt.Sprintf("%s.%d.json", base, attempt)
		}
		entry := filepath.Join(p.archiveDir, name)

		dst, err := os.OpenFile(entry, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("creating archive entry %s: %w", entry, err)
		}

		if _, err := io.Copy(dst, src); err != nil {
			dst.Close()
			return "", fmt.Errorf("copying summary into archive: %w", err)
		}
		if err := dst.Close(); err != nil {
			return "", fmt.Errorf("closing archive entry: %w", err)
		}

		p.log.Info("Run summary published", "run_id", runID, "entry", entry)
		return entry, nil
	}
}
