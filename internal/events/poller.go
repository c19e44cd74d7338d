package events

import (
	"context"

	"prevant/internal/domain"
	"prevant/internal/infra"
)

// BackendPoller adapts an infra.Backend into a Poller: every tick it lists
// all apps' observed services and owner sets and assembles a Snapshot.
// Apps currently backed up (no live services, per the BackedUp state)
// are not visible to FetchApps and so do not appear here. The Apps Service
// records BackedUp status in its own cache, but GET /apps/ serves this
// broadcast snapshot, so backed-up apps are absent from its response.
type BackendPoller struct {
	backend infra.Backend
}

// NewBackendPoller builds a Poller bound to backend.
func NewBackendPoller(backend infra.Backend) *BackendPoller {
	return &BackendPoller{backend: backend}
}

// Poll implements Poller.
func (p *BackendPoller) Poll(ctx context.Context) (Snapshot, error) {
	apps, err := p.backend.FetchApps(ctx)
	if err != nil {
		return nil, err
	}
	snap := make(Snapshot, len(apps))
	for name, services := range apps {
		owners, err := p.backend.FetchAppOwners(ctx, name)
		if err != nil {
			return nil, err
		}
		snap[name] = AppView{
			Status:   domain.AppDeployed,
			Services: services,
			Owners:   owners,
		}
	}
	return snap, nil
}
