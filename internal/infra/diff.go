package infra

import (
	"context"

	"golang.org/x/sync/errgroup"

	"prevant/internal/domain"
)

// Plan is the outcome of diffing a desired ServiceConfig list against the
// backend's current observed Services.
type Plan struct {
	Remove []domain.Service
	Add    []domain.ServiceConfig
	Update []Change
}

// Change pairs a desired ServiceConfig with the current observation it
// replaces in place. Diff emits one only when the images differ (see
// serviceChanged).
type Change struct {
	Desired domain.ServiceConfig
	Current domain.Service
}

// Diff computes the remove/add/update phases. A service is a "stay" with
// no Change entry when the current and desired images are equal.
func Diff(desired []domain.ServiceConfig, current []domain.Service) Plan {
	desiredByName := make(map[string]domain.ServiceConfig, len(desired))
	for _, d := range desired {
		desiredByName[d.ServiceName] = d
	}
	currentByName := make(map[string]domain.Service, len(current))
	for _, c := range current {
		currentByName[c.Name] = c
	}

	var plan Plan
	for name, d := range desiredByName {
		c, exists := currentByName[name]
		if !exists {
			plan.Add = append(plan.Add, d)
			continue
		}
		if serviceChanged(d, c) {
			plan.Update = append(plan.Update, Change{Desired: d, Current: c})
		}
	}
	for name, c := range currentByName {
		if _, stillDesired := desiredByName[name]; !stillDesired {
			plan.Remove = append(plan.Remove, c)
		}
	}
	return plan
}

// serviceChanged reports whether the declared ServiceConfig differs from
// the backend's current observation in a way that requires an update.
// Only Image is compared: Service (the observed shape) carries only
// image/type/state/url, and neither backend inspects its native objects
// for label, env, file or routing drift, so a change to those fields alone
// produces no update.
func serviceChanged(desired domain.ServiceConfig, current domain.Service) bool {
	return desired.Image != current.Image
}

// RunPhased executes remove, then add, then update, in that fixed order;
// operations within a phase run concurrently up to maxParallel, bounded by
// an errgroup semaphore so a backend's own rate limit (e.g. the Docker
// daemon socket, the Kubernetes API server) is never exceeded, the same
// way a bounded worker pool caps fan-out elsewhere in this codebase.
func RunPhased(ctx context.Context, plan Plan, maxParallel int, removeFn func(context.Context, domain.Service) error, addFn func(context.Context, domain.ServiceConfig) error, updateFn func(context.Context, Change) error) error {
	if maxParallel <= 0 {
		maxParallel = 1
	}

	if err := runPhase(ctx, maxParallel, len(plan.Remove), func(i int) error {
		return removeFn(ctx, plan.Remove[i])
	}); err != nil {
		return err
	}
	if err := runPhase(ctx, maxParallel, len(plan.Add), func(i int) error {
		return addFn(ctx, plan.Add[i])
	}); err != nil {
		return err
	}
	return runPhase(ctx, maxParallel, len(plan.Update), func(i int) error {
		return updateFn(ctx, plan.Update[i])
	})
}

func runPhase(ctx context.Context, maxParallel, n int, op func(i int) error) error {
	if n == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			return op(i)
		})
	}
	return g.Wait()
}
