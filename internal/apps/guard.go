package apps

import (
	"context"
	"sync"
	"time"

	"prevant/internal/domain"
)

// guardPollInterval is how often a blocking enter re-checks the guard.
const guardPollInterval = 20 * time.Millisecond

// guard is one app's exclusive-entry lock plus current State. The zero
// value starts StateIdle, matching a never-before-seen app name.
type guard struct {
	mu    sync.Mutex
	state State
}

// tryEnter attempts the (current, next) transition. It returns ErrConflict
// without blocking if the app is mid-operation. Direct callers use it and
// get Conflict immediately; queue-entered calls go through enter, which
// retries tryEnter until the transition succeeds.
func (g *guard) tryEnter(app domain.AppName, next State) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == "" {
		g.state = StateIdle
	}
	if !g.state.canTransitionTo(next) {
		return &ErrConflict{App: string(app), State: g.state}
	}
	g.state = next
	return nil
}

// enter blocks until the (current, next) transition becomes legal or ctx is
// done, polling at guardPollInterval instead of failing with ErrConflict.
// Callers that already serialized through the task queue use this instead
// of tryEnter: a queue-claimed task waits its turn behind whatever is
// currently busy on the app rather than dying with Conflict.
func (g *guard) enter(ctx context.Context, app domain.AppName, next State) error {
	ticker := time.NewTicker(guardPollInterval)
	defer ticker.Stop()
	for {
		err := g.tryEnter(app, next)
		if err == nil {
			return nil
		}
		if _, isConflict := err.(*ErrConflict); !isConflict {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// leave completes the transition into final, ignoring legality checks: a
// guard always has a direct edge back out of every in-progress state in
// the table, so the caller that successfully entered owns the exit too.
func (g *guard) leave(final State) {
	g.mu.Lock()
	g.state = final
	g.mu.Unlock()
}

func (g *guard) current() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == "" {
		return StateIdle
	}
	return g.state
}

// guardRegistry is a mutex-guarded map of per-app guards, following the
// same registration-pattern idiom used for other per-key resource maps
// throughout this codebase.
type guardRegistry struct {
	mu     sync.Mutex
	guards map[domain.AppName]*guard
}

func newGuardRegistry() *guardRegistry {
	return &guardRegistry{guards: make(map[domain.AppName]*guard)}
}

func (r *guardRegistry) get(app domain.AppName) *guard {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.guards[app]
	if !ok {
		g = &guard{state: StateIdle}
		r.guards[app] = g
	}
	return g
}

// forget drops a guard entirely, used after a successful delete so a
// reused app name starts clean rather than carrying a stale StateDeleted
// sentinel forever.
func (r *guardRegistry) forget(app domain.AppName) {
	r.mu.Lock()
	delete(r.guards, app)
	r.mu.Unlock()
}
