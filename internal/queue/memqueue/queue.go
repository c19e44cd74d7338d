// Package memqueue is the in-memory Task Queue mode: a FIFO per app, single
// worker per app, lost on process exit. Follows a sync.Cond-blocked FIFO
// with a "processing" set preventing the same key from running twice
// concurrently, generalized from deduplicating a work key to excluding the
// whole app while one of its tasks runs.
package memqueue

import (
	"context"
	"fmt"
	"sync"

	"prevant/internal/domain"
)

// Queue is an in-memory queue.Queue.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	pending      []domain.Task
	runningApp   map[domain.AppName]bool
	active       map[string]*domain.Task // claimed, not yet completed
	shuttingDown bool
}

// New builds an empty Queue.
func New() *Queue {
	q := &Queue{
		runningApp: make(map[domain.AppName]bool),
		active:     make(map[string]*domain.Task),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends task to its app's FIFO. task.ID must already be set by
// the caller.
func (q *Queue) Enqueue(ctx context.Context, task domain.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.shuttingDown {
		return fmt.Errorf("queue is shutting down")
	}
	task.Status = domain.TaskQueued
	q.pending = append(q.pending, task)
	q.cond.Signal()
	return nil
}

// Claim blocks until a task whose app has no other task running becomes
// available, or ctx is done.
func (q *Queue) Claim(ctx context.Context) (*domain.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if idx := q.nextRunnableLocked(); idx >= 0 {
			task := q.pending[idx]
			q.pending = append(q.pending[:idx], q.pending[idx+1:]...)
			task.Status = domain.TaskRunning
			q.runningApp[task.AppName] = true
			q.active[task.ID] = &task
			return &task, nil
		}
		if q.shuttingDown {
			return nil, fmt.Errorf("queue is shutting down")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				q.mu.Lock()
				q.cond.Broadcast()
				q.mu.Unlock()
			case <-done:
			}
		}()
		q.cond.Wait()
		close(done)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
}

// nextRunnableLocked returns the index of the first pending task whose app
// is not already running, or -1. Must be called with q.mu held.
func (q *Queue) nextRunnableLocked() int {
	for i, t := range q.pending {
		if !q.runningApp[t.AppName] {
			return i
		}
	}
	return -1
}

// Complete records the outcome of a claimed task and frees its app for the
// next queued task.
func (q *Queue) Complete(ctx context.Context, taskID string, resultSuccess []byte, resultError string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.active[taskID]
	if !ok {
		return fmt.Errorf("task %s is not active", taskID)
	}
	delete(q.active, taskID)
	delete(q.runningApp, task.AppName)
	task.Status = domain.TaskDone
	task.ResultSuccess = resultSuccess
	task.ResultError = resultError
	q.cond.Signal()
	return nil
}

// Len returns the number of pending (not yet claimed) tasks.
func (q *Queue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), nil
}

// Shutdown stops the queue; any blocked Claim returns an error.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	q.shuttingDown = true
	q.cond.Broadcast()
	q.mu.Unlock()
}
