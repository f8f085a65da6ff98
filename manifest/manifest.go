// Package manifest loads and validates suite manifests. A manifest declares the
// ordered list of cases a suite runs; declaration order is execution order.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"

	"github.com/starry-os/infra/os-acceptor/types"
)

// ManifestFilename is the expected manifest file name inside a suite directory.
const ManifestFilename = "suite.yaml"

// DefaultTimeout applies when a manifest declares no suite-level default.
const DefaultTimeout = 10 * time.Minute

// ValidationError reports a malformed manifest. Loading stops at the first
// violation and no case executes.
type ValidationError struct {
	Suite  string
	Case   string // empty for suite-level violations
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Case == "" {
		return fmt.Sprintf("invalid manifest for suite %q: %s", e.Suite, e.Reason)
	}
	return fmt.Sprintf("invalid manifest for suite %q: case %q: %s", e.Suite, e.Case, e.Reason)
}

// Config contains loader configuration
type Config struct {
	Log log.Logger
	// TestDir is the root directory containing one subdirectory per suite.
	TestDir string
	// DefaultTimeout overrides the built-in default when the manifest carries none.
	DefaultTimeout time.Duration
}

// Loader resolves suite identifiers to validated, immutable suites.
type Loader struct {
	cfg Config
}

// NewLoader creates a new manifest loader
func NewLoader(cfg Config) (*Loader, error) {
	if cfg.TestDir == "" {
		return nil, fmt.Errorf("test directory is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	return &Loader{cfg: cfg}, nil
}

// Path returns the manifest path for a suite identifier.
func (l *Loader) Path(suiteID string) string {
	return filepath.Join(l.cfg.TestDir, suiteID, ManifestFilename)
}

// Load reads, parses and validates the manifest for the given suite identifier.
func (l *Loader) Load(suiteID string) (*types.Suite, error) {
	path := l.Path(suiteID)
	l.cfg.Log.Debug("Reading suite manifest", "suite", suiteID, "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	var suite types.Suite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}

	if suite.ID == "" {
		suite.ID = suiteID
	}
	if suite.DefaultTimeout == 0 {
		suite.DefaultTimeout = l.cfg.DefaultTimeout
	}
	for i := range suite.Cases {
		if suite.Cases[i].Protocol == "" {
			suite.Cases[i].Protocol = types.ProtocolPayload
		}
	}

	if err := l.validate(&suite); err != nil {
		return nil, err
	}

	l.cfg.Log.Debug("Manifest loaded", "suite", suite.ID, "cases", len(suite.Cases))
	return &suite, nil
}

// validate checks the suite against the manifest rules. It returns a
// *ValidationError naming the first offending case.
func (l *Loader) validate(suite *types.Suite) error {
	if suite.DefaultTimeout <= 0 {
		return &ValidationError{Suite: suite.ID, Reason: "default_timeout must be positive"}
	}

	seen := make(map[string]bool, len(suite.Cases))
	for _, c := range suite.Cases {
		if c.Name == "" {
			return &ValidationError{Suite: suite.ID, Reason: "case with empty name"}
		}
		if seen[c.Name] {
			return &ValidationError{Suite: suite.ID, Case: c.Name, Reason: "duplicate case name"}
		}
		seen[c.Name] = true

		if c.Path == "" {
			return &ValidationError{Suite: suite.ID, Case: c.Name, Reason: "missing executable path"}
		}
		artifact := filepath.Join(l.cfg.TestDir, suite.ID, c.Path)
		if _, err := os.Stat(artifact); err != nil {
			return &ValidationError{Suite: suite.ID, Case: c.Name,
				Reason: fmt.Sprintf("executable %s not resolvable: %v", c.Path, err)}
		}
		if c.Timeout < 0 {
			return &ValidationError{Suite: suite.ID, Case: c.Name, Reason: "timeout must be positive"}
		}
		if !c.Protocol.Valid() {
			return &ValidationError{Suite: suite.ID, Case: c.Name,
				Reason: fmt.Sprintf("unknown verdict protocol %q", c.Protocol)}
		}
	}
	return nil
}

// ArtifactPath resolves a case's executable reference against the suite directory.
func (l *Loader) ArtifactPath(suiteID string, c types.Case) string {
	return filepath.Join(l.cfg.TestDir, suiteID, c.Path)
}

// FilterCases restricts a suite to the named cases without reordering. Unknown
// names are an error; an empty filter returns the suite unchanged.
func FilterCases(suite *types.Suite, names []string) (*types.Suite, error) {
	if len(names) == 0 {
		return suite, nil
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := suite.Case(n); !ok {
			return nil, fmt.Errorf("case %q not found in suite %s", n, suite.ID)
		}
		wanted[n] = true
	}

	filtered := *suite
	filtered.Cases = nil
	for _, c := range suite.Cases {
		if wanted[c.Name] {
			filtered.Cases = append(filtered.Cases, c)
		}
	}
	return &filtered, nil
}
