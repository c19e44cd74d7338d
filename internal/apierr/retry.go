package apierr

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultBackendRetryBudget is the total wall clock a
// BackendTransient/TaskQueueError is retried before surfacing.
const DefaultBackendRetryBudget = 60 * time.Second

// Retry runs op with exponential backoff while its error is Retryable,
// giving up after budget elapses (or ctx is done) and returning the last
// error. A zero budget selects DefaultBackendRetryBudget.
func Retry(ctx context.Context, budget time.Duration, op func() error) error {
	if budget <= 0 {
		budget = DefaultBackendRetryBudget
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		opErr := op()
		if opErr != nil && !Retryable(opErr) {
			return struct{}{}, backoff.Permanent(opErr)
		}
		return struct{}{}, opErr
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(budget))
	return err
}
