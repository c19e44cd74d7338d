package apps

import (
	"context"
	"sync"

	"prevant/internal/apierr"
	"prevant/internal/config"
	"prevant/internal/domain"
	"prevant/internal/events"
	"prevant/internal/hooks"
	"prevant/internal/infra"
	"prevant/internal/owners"
	"prevant/internal/resolver"
	"prevant/internal/statuschange"
)

// CreateOrUpdateRequest bundles one POST /apps/{appName} payload.
type CreateOrUpdateRequest struct {
	ReplicateFrom *domain.AppName
	Configs       []domain.ServiceConfig
	UserDefined   interface{}
	BaseURL       string
	OwnerClaims   map[string]interface{}
}

// Service is the Apps Service: it holds the per-app guard registry, the
// status-change registry, a backend handle, the resolver, and the config,
// and exposes its create-or-update, delete, backup, restore, and
// fetch operations.
type Service struct {
	cfg       config.Config
	backend   infra.Backend
	resolver  *resolver.Resolver
	status    *statuschange.Registry
	ownerReg  *owners.Registry
	hookRT    *hooks.Runtime
	guards    *guardRegistry

	mu   sync.RWMutex
	apps map[domain.AppName]*domain.App
}

// New builds a Service. cfg is copied once and read for applications.max,
// the replicationCondition, and the deployment/owner hook scripts on every
// call; later changes to the caller's config value do not reach the Service.
func New(cfg config.Config, backend infra.Backend, res *resolver.Resolver, status *statuschange.Registry, ownerReg *owners.Registry, hookRT *hooks.Runtime) *Service {
	return &Service{
		cfg:      cfg,
		backend:  backend,
		resolver: res,
		status:   status,
		ownerReg: ownerReg,
		hookRT:   hookRT,
		guards:   newGuardRegistry(),
		apps:     make(map[domain.AppName]*domain.App),
	}
}

// enterGuard resolves the (current, next) transition either immediately
// (a direct synchronous caller gets Conflict right away) or by blocking
// until it is legal (a task-queue worker waits its turn instead).
func enterGuard(ctx context.Context, g *guard, app domain.AppName, next State, viaQueue bool) error {
	if viaQueue {
		return g.enter(ctx, app, next)
	}
	return g.tryEnter(app, next)
}

// CreateOrUpdate runs the createOrUpdate steps to completion and registers
// the outcome under statusID. It is for direct synchronous callers (an HTTP
// goroutine answering a non-async request): if the app is already busy it
// returns Conflict immediately. Task-queue workers call CreateOrUpdateViaQueue
// instead.
func (s *Service) CreateOrUpdate(ctx context.Context, statusID string, app domain.AppName, req CreateOrUpdateRequest) ([]domain.Service, error) {
	return s.createOrUpdateEntry(ctx, statusID, app, req, false)
}

// CreateOrUpdateViaQueue is CreateOrUpdate for a task-queue worker: the
// caller already serialized through the queue, so it blocks on the app's
// guard rather than returning Conflict, giving queue-routed requests the
// documented wait-your-turn behavior against a concurrent direct caller.
func (s *Service) CreateOrUpdateViaQueue(ctx context.Context, statusID string, app domain.AppName, req CreateOrUpdateRequest) ([]domain.Service, error) {
	return s.createOrUpdateEntry(ctx, statusID, app, req, true)
}

func (s *Service) createOrUpdateEntry(ctx context.Context, statusID string, app domain.AppName, req CreateOrUpdateRequest, viaQueue bool) ([]domain.Service, error) {
	g := s.guards.get(app)
	if err := enterGuard(ctx, g, app, StateDeploying, viaQueue); err != nil {
		s.status.Fail(statusID, err)
		return nil, err
	}
	defer g.leave(StateIdle)

	result, err := s.createOrUpdate(ctx, app, req)
	if err != nil {
		s.status.Fail(statusID, err)
		return nil, err
	}
	s.status.Resolve(statusID, result)
	return result, nil
}

func (s *Service) createOrUpdate(ctx context.Context, app domain.AppName, req CreateOrUpdateRequest) ([]domain.Service, error) {
	existing, isNew := s.snapshot(app)
	if isNew {
		if max := s.cfg.Applications.Max; max > 0 && s.appCount() >= max {
			return nil, apierr.New(apierr.KindLimitExceeded, "applications.max reached")
		}
	}

	var replicateSrc []domain.ServiceConfig
	if req.ReplicateFrom != nil {
		if src, ok := s.snapshotByName(*req.ReplicateFrom); ok {
			replicateSrc = src.DeclaredConfigs
		}
	}

	dctx := buildDeploymentContext(app, req)

	resolved, err := s.resolver.Resolve(ctx, s.cfg, resolver.Input{
		AppName:              app,
		RequestedConfigs:     req.Configs,
		ReplicateFrom:        req.ReplicateFrom,
		ReplicationCondition: s.cfg.Applications.ReplicationCondition,
		UserDefined:          req.UserDefined,
		CurrentlyDeployedSrc: replicateSrc,
		CurrentlyDeployedDst: existing.DeclaredConfigs,
		Context:              dctx,
	})
	if err != nil {
		return nil, err
	}

	observed, err := s.backend.DeployServices(ctx, app, resolved, infra.DeployContext{BaseURL: req.BaseURL})
	if err != nil {
		return nil, err
	}

	ownerSet := existing.Owners
	if req.OwnerClaims != nil && s.cfg.Hooks.IDTokenClaimsToOwner != "" {
		owner, err := s.hookRT.RunOwnerHook(ctx, s.cfg.Hooks.IDTokenClaimsToOwner, req.OwnerClaims)
		if err != nil {
			return nil, err
		}
		ownerSet, err = s.ownerReg.Union(ctx, app, owner)
		if err != nil {
			return nil, err
		}
	}

	s.store(app, &domain.App{
		Name:            app,
		Status:          domain.AppDeployed,
		Owners:          ownerSet,
		Services:        observed,
		DeclaredConfigs: resolved,
	})

	return observed, nil
}

// DeleteApp runs "deleteApp", symmetric to createOrUpdate — acquire guard,
// call Infrastructure.deleteApp, drop the app from the cache. It emits no
// event itself; the event stream picks the change up on its next backend
// poll. Direct synchronous callers get Conflict immediately; task-queue
// workers call DeleteAppViaQueue instead.
func (s *Service) DeleteApp(ctx context.Context, statusID string, app domain.AppName) ([]domain.Service, error) {
	return s.deleteAppEntry(ctx, statusID, app, false)
}

// DeleteAppViaQueue is DeleteApp for a task-queue worker: it blocks on the
// app's guard instead of returning Conflict.
func (s *Service) DeleteAppViaQueue(ctx context.Context, statusID string, app domain.AppName) ([]domain.Service, error) {
	return s.deleteAppEntry(ctx, statusID, app, true)
}

func (s *Service) deleteAppEntry(ctx context.Context, statusID string, app domain.AppName, viaQueue bool) ([]domain.Service, error) {
	g := s.guards.get(app)
	if err := enterGuard(ctx, g, app, StateDeleting, viaQueue); err != nil {
		s.status.Fail(statusID, err)
		return nil, err
	}

	result, err := s.backend.DeleteApp(ctx, app)
	if err != nil {
		g.leave(StateIdle)
		s.status.Fail(statusID, err)
		return nil, err
	}

	g.leave(StateDeleted)
	s.guards.forget(app)
	s.remove(app)
	s.status.Resolve(statusID, result)
	return result, nil
}

// ChangeServiceState implements "changeServiceState": it does not move the
// app through the Deploying/Deleting/BackingUp/Restoring state machine (it
// isn't one of the named transitions), but it still refuses to run while
// the app is mid-operation.
func (s *Service) ChangeServiceState(ctx context.Context, app domain.AppName, service string, target domain.ServiceState) error {
	g := s.guards.get(app)
	if g.current() != StateIdle {
		return &ErrConflict{App: string(app), State: g.current()}
	}
	return s.backend.ChangeServiceStatus(ctx, app, service, target)
}

// BackupApp runs the Idle -> BackingUp -> BackedUp transition (Kubernetes
// only; backend.BackupApp returns apierr.KindNotSupported on Docker). The
// returned payload is the opaque
// blob the caller persists into the app_backup table alongside the app's
// DeclaredConfigs; this package holds no database handle of its own.
func (s *Service) BackupApp(ctx context.Context, statusID string, app domain.AppName) ([]byte, error) {
	g := s.guards.get(app)
	if err := g.tryEnter(app, StateBackingUp); err != nil {
		s.status.Fail(statusID, err)
		return nil, err
	}

	payload, err := s.backend.BackupApp(ctx, app)
	if err != nil {
		g.leave(StateIdle)
		s.status.Fail(statusID, err)
		return nil, err
	}

	g.leave(StateBackedUp)
	if existing, ok := s.snapshotByName(app); ok {
		existing.Status = domain.AppBackedUp
		existing.Services = nil
		s.store(app, &existing)
	}
	s.status.Resolve(statusID, nil)
	return payload, nil
}

// RestoreApp runs the BackedUp -> Restoring -> Idle transition. Direct
// synchronous callers get Conflict immediately; task-queue workers call
// RestoreAppViaQueue instead.
func (s *Service) RestoreApp(ctx context.Context, statusID string, app domain.AppName, payload []byte) ([]domain.Service, error) {
	return s.restoreAppEntry(ctx, statusID, app, payload, false)
}

// RestoreAppViaQueue is RestoreApp for a task-queue worker: it blocks on the
// app's guard instead of returning Conflict.
func (s *Service) RestoreAppViaQueue(ctx context.Context, statusID string, app domain.AppName, payload []byte) ([]domain.Service, error) {
	return s.restoreAppEntry(ctx, statusID, app, payload, true)
}

func (s *Service) restoreAppEntry(ctx context.Context, statusID string, app domain.AppName, payload []byte, viaQueue bool) ([]domain.Service, error) {
	g := s.guards.get(app)
	if err := enterGuard(ctx, g, app, StateRestoring, viaQueue); err != nil {
		s.status.Fail(statusID, err)
		return nil, err
	}
	defer g.leave(StateIdle)

	result, err := s.backend.RestoreApp(ctx, app, payload)
	if err != nil {
		s.status.Fail(statusID, err)
		return nil, err
	}

	if existing, ok := s.snapshotByName(app); ok {
		existing.Status = domain.AppDeployed
		existing.Services = result
		s.store(app, &existing)
	}
	s.status.Resolve(statusID, result)
	return result, nil
}

// DeclaredConfigs returns app's last-resolved ServiceConfig list, as
// needed by the backup responder to persist alongside BackupApp's opaque
// payload: the app_backup row stores both.
func (s *Service) DeclaredConfigs(app domain.AppName) []domain.ServiceConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	existing, ok := s.apps[app]
	if !ok {
		return nil
	}
	return existing.DeclaredConfigs
}

// FetchApps returns the cached inventory. The cache is kept current by
// RunCacheSync subscribing to an
// events.Broadcaster.
func (s *Service) FetchApps() map[domain.AppName][]domain.Service {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.AppName][]domain.Service, len(s.apps))
	for name, app := range s.apps {
		out[name] = app.Services
	}
	return out
}

// FetchAppNames returns the set of known app names.
func (s *Service) FetchAppNames() []domain.AppName {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]domain.AppName, 0, len(s.apps))
	for name := range s.apps {
		names = append(names, name)
	}
	return names
}

// RunCacheSync subscribes to broadcaster and overlays every coalesced
// snapshot onto the cache, preserving each app's DeclaredConfigs (the
// broadcaster's poller only ever observes domain.Service, never the
// declared shape — see DESIGN.md's Open Question decision). It returns
// once ctx is done.
func (s *Service) RunCacheSync(ctx context.Context, broadcaster *events.Broadcaster) {
	ch, unsubscribe := broadcaster.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			s.overlay(snap)
		}
	}
}

func (s *Service) overlay(snap events.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, view := range snap {
		existing, ok := s.apps[name]
		if !ok {
			existing = &domain.App{Name: name}
			s.apps[name] = existing
		}
		existing.Status = view.Status
		existing.Services = view.Services
		existing.Owners = view.Owners
	}
	for name, existing := range s.apps {
		if existing.Status == domain.AppBackedUp {
			continue // backed-up apps never appear in a backend poll
		}
		if _, stillPresent := snap[name]; !stillPresent {
			delete(s.apps, name)
		}
	}
}

func (s *Service) snapshot(app domain.AppName) (domain.App, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	existing, ok := s.apps[app]
	if !ok {
		return domain.App{Name: app}, true
	}
	return *existing, false
}

func (s *Service) snapshotByName(app domain.AppName) (domain.App, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	existing, ok := s.apps[app]
	if !ok {
		return domain.App{}, false
	}
	return *existing, true
}

func (s *Service) appCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.apps)
}

func (s *Service) store(app domain.AppName, a *domain.App) {
	s.mu.Lock()
	s.apps[app] = a
	s.mu.Unlock()
}

func (s *Service) remove(app domain.AppName) {
	s.mu.Lock()
	delete(s.apps, app)
	s.mu.Unlock()
}

func buildDeploymentContext(app domain.AppName, req CreateOrUpdateRequest) domain.DeploymentContext {
	svcCtx := make([]domain.ServiceContext, 0, len(req.Configs))
	for _, c := range req.Configs {
		port := 0
		if len(c.Ports) > 0 {
			port = c.Ports[0].Number
		}
		svcCtx = append(svcCtx, domain.ServiceContext{Name: c.ServiceName, Port: port, Type: c.Type})
	}
	return domain.DeploymentContext{
		Application: domain.ApplicationContext{Name: string(app), BaseURL: req.BaseURL},
		Services:    svcCtx,
		UserDefined: req.UserDefined,
	}
}
