package runner

import (
	"context"

	"github.com/starry-os/infra/os-acceptor/session"
	"github.com/starry-os/infra/os-acceptor/types"
)

// provisionerAdapter adapts the concrete session.Provisioner to the runner's
// Provisioner interface.
type provisionerAdapter struct {
	inner *session.Provisioner
}

// NewProvisionerAdapter wraps a session.Provisioner for use by the runner.
func NewProvisionerAdapter(p *session.Provisioner) Provisioner {
	if p == nil {
		return nil
	}
	return &provisionerAdapter{inner: p}
}

func (a *provisionerAdapter) Provision(ctx context.Context, c types.Case, artifactPath string) (CaseSession, error) {
	s, err := a.inner.Provision(ctx, c, artifactPath)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (a *provisionerAdapter) Destination(c types.Case) string {
	return a.inner.Destination(c)
}
