// Package queue defines the Task Queue contract: two modes
// (internal/queue/memqueue, internal/queue/pgqueue) selected by whether
// config.Config.Database is set, both guaranteeing at most one running
// task per app at any time. Follows a queue interface shape of
// Add/Get/Done/Shutdown, generalized to Enqueue/Claim/Complete/Shutdown.
package queue

import (
	"context"

	"prevant/internal/apierr"
	"prevant/internal/domain"
)

// Queue is the shared contract both modes implement. Claim blocks until a
// runnable task is available (one whose app has no other task currently
// running) or ctx is done. Complete records the outcome and releases the
// app for its next queued task.
type Queue interface {
	Enqueue(ctx context.Context, task domain.Task) error
	Claim(ctx context.Context) (*domain.Task, error)
	Complete(ctx context.Context, taskID string, resultSuccess []byte, resultError string) error
	Len(ctx context.Context) (int, error)
	Shutdown()
}

// Handler processes one claimed task and returns the JSON-encoded success
// payload, or a non-nil error whose message becomes ResultError.
type Handler func(ctx context.Context, task domain.Task) ([]byte, error)

// Run claims tasks from q in a loop, invoking handler for each and
// recording the outcome via Complete, until ctx is done. A handler error
// of kind BackendTransient or TaskQueueError is retried with exponential
// backoff up to a bounded retry budget before the task is recorded failed.
func Run(ctx context.Context, q Queue, handler Handler) {
	for {
		task, err := q.Claim(ctx)
		if err != nil {
			return
		}
		if task == nil {
			continue
		}

		var result []byte
		runErr := apierr.Retry(ctx, apierr.DefaultBackendRetryBudget, func() error {
			r, err := handler(ctx, *task)
			result = r
			return err
		})
		if runErr != nil {
			_ = q.Complete(ctx, task.ID, nil, runErr.Error())
			continue
		}
		_ = q.Complete(ctx, task.ID, result, "")
	}
}
