// Package session provisions and destroys the disposable execution environments
// cases run in. Every case invocation gets exactly one session: a private writable
// copy of the read-only golden template plus the injected case artifact and a
// running target-runtime handle. Sessions are never reused or shared.
package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/starry-os/infra/os-acceptor/types"
)

// DefaultArtifactRoot is the conventional injection directory inside the target
// runtime when a case declares no explicit destination.
const DefaultArtifactRoot = "/tests"

// ProvisioningError is a fatal infrastructure error: the provisioner cannot
// produce sessions at all (e.g. the golden template is unavailable). It aborts
// the remaining run, unlike case-level errors.
type ProvisioningError struct {
	Err error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

// NewProvisioningError creates a new ProvisioningError
func NewProvisioningError(err error) *ProvisioningError {
	return &ProvisioningError{Err: err}
}

// TemplateHandle identifies a built, read-only golden template environment.
type TemplateHandle struct {
	// Dir is the root of the template tree. It is only ever read, so concurrent
	// provisioning operations may share it.
	Dir string
}

// TemplateBuilder produces the golden template the provisioner clones.
// The image build pipeline behind it is out of scope for this service.
type TemplateBuilder interface {
	BuildTemplate(ctx context.Context) (TemplateHandle, error)
}

// RunResult is the captured outcome of one command run inside a session.
type RunResult struct {
	Output   []byte
	ExitCode int
}

// Controller drives the target runtime for one session's private copy.
// Implementations wrap the low-level VM/serial transport.
type Controller interface {
	// Start boots the target runtime against the session directory.
	Start(ctx context.Context, dir string) error
	// Run executes a command inside the runtime under the given timeout and
	// returns whatever output was captured, even on timeout or crash.
	Run(ctx context.Context, command []string, timeout time.Duration) (RunResult, error)
	// Destroy terminates the runtime process tree. It must be safe to call
	// after a failed Start and more than once.
	Destroy() error
}

// ControllerFactory produces a fresh controller per session.
type ControllerFactory func(logger log.Logger) Controller

// Config contains provisioner configuration
type Config struct {
	Log          log.Logger
	Template     TemplateHandle
	NewCtrl      ControllerFactory
	ArtifactRoot string
}

// Provisioner clones the golden template into per-case writable copies.
type Provisioner struct {
	cfg Config
}

// NewProvisioner creates a new provisioner. The template directory must exist;
// a missing template is a fatal ProvisioningError at first use.
func NewProvisioner(cfg Config) (*Provisioner, error) {
	if cfg.Template.Dir == "" {
		return nil, fmt.Errorf("template directory is required")
	}
	if cfg.NewCtrl == nil {
		return nil, fmt.Errorf("controller factory is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.ArtifactRoot == "" {
		cfg.ArtifactRoot = DefaultArtifactRoot
	}
	return &Provisioner{cfg: cfg}, nil
}

// Destination computes where a case's artifact lands inside the target runtime.
func (p *Provisioner) Destination(c types.Case) string {
	if c.Destination != "" {
		return c.Destination
	}
	return filepath.Join(p.cfg.ArtifactRoot, c.Name)
}

// Provision produces one isolated writable session for the given case.
// Template failures are fatal (*ProvisioningError); artifact injection and
// runtime boot failures are case-level errors. On any error the partially
// provisioned state is torn down before returning.
func (p *Provisioner) Provision(ctx context.Context, c types.Case, artifactPath string) (*Session, error) {
	if _, err := os.Stat(p.cfg.Template.Dir); err != nil {
		return nil, NewProvisioningError(fmt.Errorf("golden template unavailable: %w", err))
	}

	dir, err := os.MkdirTemp("", "oat-session-"+sanitize(c.Name)+"-")
	if err != nil {
		return nil, NewProvisioningError(fmt.Errorf("creating session directory: %w", err))
	}

	s := &Session{
		CaseName:    c.Name,
		Dir:         dir,
		Destination: p.Destination(c),
		log:         p.cfg.Log,
	}

	if err := cloneTree(p.cfg.Template.Dir, dir); err != nil {
		s.Close()
		return nil, NewProvisioningError(fmt.Errorf("cloning golden template: %w", err))
	}

	if err := s.inject(artifactPath); err != nil {
		s.Close()
		return nil, fmt.Errorf("injecting artifact for case %s: %w", c.Name, err)
	}

	s.ctrl = p.cfg.NewCtrl(p.cfg.Log.New("case", c.Name))
	if err := s.ctrl.Start(ctx, dir); err != nil {
		s.Close()
		return nil, fmt.Errorf("starting target runtime for case %s: %w", c.Name, err)
	}

	p.cfg.Log.Debug("Session provisioned", "case", c.Name, "dir", dir, "destination", s.Destination)
	return s, nil
}

// Session is the disposable, exclusively-owned execution environment for one
// case invocation.
type Session struct {
	CaseName    string
	Dir         string
	Destination string

	ctrl      Controller
	log       log.Logger
	closeOnce sync.Once
	closeErr  error
}

// inject writes the case artifact into the private copy at the destination
// path, creating parent directories as needed.
func (s *Session) inject(artifactPath string) error {
	src, err := os.Open(artifactPath)
	if err != nil {
		return fmt.Errorf("opening artifact %s: %w", artifactPath, err)
	}
	defer src.Close()

	target := filepath.Join(s.Dir, filepath.FromSlash(s.Destination))
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0755)
	if err != nil {
		return fmt.Errorf("writing artifact to %s: %w", target, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copying artifact: %w", err)
	}
	return nil
}

// Run executes the case command inside the session's runtime.
func (s *Session) Run(ctx context.Context, command []string, timeout time.Duration) (RunResult, error) {
	if s.ctrl == nil {
		return RunResult{}, fmt.Errorf("session %s has no running runtime", s.CaseName)
	}
	return s.ctrl.Run(ctx, command, timeout)
}

// Close tears the session down: it terminates any running runtime tree and
// deletes all session-private temporary state. Close is idempotent and runs on
// every exit path, including partial provisioning, timeout and crash.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.ctrl != nil {
			if err := s.ctrl.Destroy(); err != nil {
				s.log.Error("Failed to destroy session runtime", "case", s.CaseName, "error", err)
				s.closeErr = err
			}
		}
		if s.Dir != "" {
			if err := os.RemoveAll(s.Dir); err != nil {
				s.log.Error("Failed to remove session directory", "case", s.CaseName, "dir", s.Dir, "error", err)
				if s.closeErr == nil {
					s.closeErr = err
				}
			}
		}
	})
	return s.closeErr
}

// cloneTree copies the template tree into the session directory. Symlinks are
// preserved; everything else is copied byte for byte.
func cloneTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0755)
		case d.Type()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			return copyFile(path, target)
		}
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

func sanitize(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '-')
		}
	}
	return string(out)
}
