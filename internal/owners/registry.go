// Package owners implements the Owner Registry: a thin helper over a
// backend's native label/annotation storage, with no separate persistence
// layer of its own. Follows an adapter-interface pattern: a thin interface
// wrapping backend-native storage.
package owners

import (
	"context"

	"prevant/internal/domain"
	"prevant/internal/infra"
)

// Registry reads and unions app owner sets through the active backend.
type Registry struct {
	backend infra.Backend
}

// New builds a Registry bound to backend.
func New(backend infra.Backend) *Registry {
	return &Registry{backend: backend}
}

// Fetch returns app's current owner set.
func (r *Registry) Fetch(ctx context.Context, app domain.AppName) ([]domain.Owner, error) {
	return r.backend.FetchAppOwners(ctx, app)
}

// Union adds owner to app's owner set (idempotent on Owner.Key) and
// persists the result through the backend.
func (r *Registry) Union(ctx context.Context, app domain.AppName, owner domain.Owner) ([]domain.Owner, error) {
	existing, err := r.backend.FetchAppOwners(ctx, app)
	if err != nil {
		return nil, err
	}
	updated := domain.UnionOwners(existing, owner)
	if len(updated) == len(existing) {
		return existing, nil
	}
	if err := r.backend.WriteAppOwners(ctx, app, updated); err != nil {
		return nil, err
	}
	return updated, nil
}
