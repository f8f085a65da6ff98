package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starry-os/infra/os-acceptor/types"
)

// fakeController records lifecycle calls and serves canned run results.
type fakeController struct {
	startErr  error
	runResult RunResult
	runErr    error

	started   bool
	startDir  string
	destroyed int
}

func (f *fakeController) Start(_ context.Context, dir string) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	f.startDir = dir
	return nil
}

func (f *fakeController) Run(_ context.Context, _ []string, _ time.Duration) (RunResult, error) {
	return f.runResult, f.runErr
}

func (f *fakeController) Destroy() error {
	f.destroyed++
	return nil
}

func newTestProvisioner(t *testing.T, ctrl *fakeController) (*Provisioner, string) {
	t.Helper()

	template := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(template, "etc"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(template, "etc", "hostname"), []byte("starry\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(template, "kernel.img"), []byte("kernel"), 0644))

	p, err := NewProvisioner(Config{
		Log:      log.New(),
		Template: TemplateHandle{Dir: template},
		NewCtrl:  func(log.Logger) Controller { return ctrl },
	})
	require.NoError(t, err)
	return p, template
}

func writeArtifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "case-bin")
	require.NoError(t, os.WriteFile(path, []byte("ELF"), 0755))
	return path
}

func TestProvisionClonesTemplateAndInjectsArtifact(t *testing.T) {
	ctrl := &fakeController{}
	p, template := newTestProvisioner(t, ctrl)

	s, err := p.Provision(context.Background(), types.Case{Name: "boot"}, writeArtifact(t))
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, ctrl.started)
	assert.Equal(t, s.Dir, ctrl.startDir)
	assert.NotEqual(t, template, s.Dir, "session must not run against the golden template")

	// Template content was cloned into the private copy.
	cloned, err := os.ReadFile(filepath.Join(s.Dir, "etc", "hostname"))
	require.NoError(t, err)
	assert.Equal(t, "starry\n", string(cloned))

	// Artifact landed at the default convention path, keyed by case name.
	assert.Equal(t, "/tests/boot", s.Destination)
	injected, err := os.ReadFile(filepath.Join(s.Dir, "tests", "boot"))
	require.NoError(t, err)
	assert.Equal(t, "ELF", string(injected))

	// The golden template itself was not written to.
	_, err = os.Stat(filepath.Join(template, "tests"))
	assert.True(t, os.IsNotExist(err))
}

func TestProvisionHonorsExplicitDestination(t *testing.T) {
	ctrl := &fakeController{}
	p, _ := newTestProvisioner(t, ctrl)

	s, err := p.Provision(context.Background(),
		types.Case{Name: "spawn", Destination: "/opt/custom/spawn-bin"}, writeArtifact(t))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "/opt/custom/spawn-bin", s.Destination)
	_, err = os.Stat(filepath.Join(s.Dir, "opt", "custom", "spawn-bin"))
	require.NoError(t, err)
}

func TestProvisionMissingTemplateIsFatal(t *testing.T) {
	p, err := NewProvisioner(Config{
		Log:      log.New(),
		Template: TemplateHandle{Dir: filepath.Join(t.TempDir(), "nonexistent")},
		NewCtrl:  func(log.Logger) Controller { return &fakeController{} },
	})
	require.NoError(t, err)

	_, err = p.Provision(context.Background(), types.Case{Name: "boot"}, writeArtifact(t))
	require.Error(t, err)

	var perr *ProvisioningError
	assert.True(t, errors.As(err, &perr), "missing template must be a fatal ProvisioningError")
}

func TestProvisionArtifactFailureIsCaseLevel(t *testing.T) {
	ctrl := &fakeController{}
	p, _ := newTestProvisioner(t, ctrl)

	_, err := p.Provision(context.Background(), types.Case{Name: "boot"},
		filepath.Join(t.TempDir(), "no-such-artifact"))
	require.Error(t, err)

	var perr *ProvisioningError
	assert.False(t, errors.As(err, &perr), "artifact write failure must not abort the run")
}

func TestProvisionBootFailureTearsDown(t *testing.T) {
	ctrl := &fakeController{startErr: fmt.Errorf("qemu exited prematurely")}
	p, _ := newTestProvisioner(t, ctrl)

	_, err := p.Provision(context.Background(), types.Case{Name: "boot"}, writeArtifact(t))
	require.Error(t, err)

	var perr *ProvisioningError
	assert.False(t, errors.As(err, &perr), "boot failure is case-level")
	assert.Equal(t, 1, ctrl.destroyed, "partially provisioned session must be destroyed")
	assertNoLeakedSessions(t, "boot")
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	ctrl := &fakeController{}
	p, _ := newTestProvisioner(t, ctrl)

	s, err := p.Provision(context.Background(), types.Case{Name: "boot"}, writeArtifact(t))
	require.NoError(t, err)

	dir := s.Dir
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.Equal(t, 1, ctrl.destroyed, "Destroy must run exactly once")
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "session directory must be removed")
}

func TestSessionRun(t *testing.T) {
	ctrl := &fakeController{runResult: RunResult{Output: []byte(`{"status":"pass"}`), ExitCode: 0}}
	p, _ := newTestProvisioner(t, ctrl)

	s, err := p.Provision(context.Background(), types.Case{Name: "boot"}, writeArtifact(t))
	require.NoError(t, err)
	defer s.Close()

	res, err := s.Run(context.Background(), []string{"/tests/boot"}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, string(res.Output), `"status":"pass"`)
}

// assertNoLeakedSessions fails if any session temp directory for the case is
// left behind.
func assertNoLeakedSessions(t *testing.T, caseName string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(os.TempDir(), "oat-session-"+caseName+"-*"))
	require.NoError(t, err)
	assert.Empty(t, matches, "leaked session directories: %v", matches)
}

func TestSanitizeOutput(t *testing.T) {
	raw := "starry:~# /tests/boot; echo __EXIT:$?__\r\nbanner noise\r\n{\"status\":\"pass\"}\r\n__EXIT:0__\r\nstarry:~#"
	got := sanitizeOutput([]byte(raw), "/tests/boot", "/tests/boot; echo __EXIT:$?__")
	assert.Equal(t, "banner noise\n{\"status\":\"pass\"}", string(got))
}
