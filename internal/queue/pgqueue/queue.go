// Package pgqueue is the durable Task Queue mode: a PostgreSQL-backed
// `app_task` table claimed via `SELECT ... FOR UPDATE SKIP LOCKED`,
// guaranteeing at most one `running` row per app_name across every prevant
// replica sharing the database. Uses github.com/jackc/pgx/v5 and pgxpool.
// The claim-loop/lease-expiry shape follows a timer-based reclaim idiom,
// adapted from an in-process timer to a SQL lease column since ownership
// must survive a process restart.
package pgqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"prevant/internal/domain"
)

// Schema is the DDL this package expects to already be applied. prevant
// does not embed a migration runner; operators apply it once per
// deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS app_task (
	id               text PRIMARY KEY,
	app_name         text NOT NULL,
	kind             text NOT NULL,
	payload          jsonb NOT NULL,
	status           text NOT NULL DEFAULT 'queued',
	claimed_by       text,
	lease_expires_at timestamptz,
	created_at       timestamptz NOT NULL DEFAULT now(),
	result_success   jsonb,
	result_error     text
);
CREATE INDEX IF NOT EXISTS app_task_status_idx ON app_task (status, app_name);
`

const defaultLeaseTTL = 5 * time.Minute

// Query text is named so a query-shape test can assert on it without a
// live Postgres connection (there is none in this exercise).
const (
	reclaimOwnedSQL = `
		UPDATE app_task
		SET status = 'queued', claimed_by = NULL, lease_expires_at = NULL
		WHERE status = 'running' AND claimed_by = $1`

	expireStaleLeasesSQL = `
		UPDATE app_task
		SET status = 'queued', claimed_by = NULL, lease_expires_at = NULL
		WHERE status = 'running' AND lease_expires_at < now()`

	enqueueSQL = `
		INSERT INTO app_task (id, app_name, kind, payload, status, created_at)
		VALUES ($1, $2, $3, $4, 'queued', $5)`

	selectClaimableSQL = `
		SELECT id FROM app_task
		WHERE status = 'queued'
		  AND app_name NOT IN (SELECT app_name FROM app_task WHERE status = 'running')
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`

	claimUpdateSQL = `
		UPDATE app_task
		SET status = 'running', claimed_by = $2, lease_expires_at = now() + $3::interval
		WHERE id = $1
		RETURNING id, app_name, kind, payload, created_at`

	completeSQL = `
		UPDATE app_task
		SET status = 'done', result_success = $2, result_error = $3
		WHERE id = $1`

	countQueuedSQL = `SELECT count(*) FROM app_task WHERE status = 'queued'`
)

// DB is the subset of *pgxpool.Pool this package needs. Declaring it
// narrows Queue's dependency to something a query-shape test can fake
// without a live Postgres (*pgxpool.Pool satisfies it as-is).
type DB interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Queue is a PostgreSQL-backed queue.Queue.
type Queue struct {
	pool       DB
	instanceID string
	leaseTTL   time.Duration
	pollEvery  time.Duration
}

// New builds a Queue. instanceID identifies this process across restarts
// (e.g. a stable hostname or pod name) so Reclaim can distinguish "this
// instance crashed and came back" from "a different instance died".
func New(pool DB, instanceID string, leaseTTL time.Duration) *Queue {
	if leaseTTL <= 0 {
		leaseTTL = defaultLeaseTTL
	}
	return &Queue{pool: pool, instanceID: instanceID, leaseTTL: leaseTTL, pollEvery: 200 * time.Millisecond}
}

// Reclaim runs on process start: rows left `running` and
// claimed by this same instanceID are requeued (there is no in-memory
// checkpoint to resume from, so "resumed" means "retried from scratch").
// Rows claimed by a different, presumably dead, instance are left alone
// here; ExpireStaleLeases handles those once their lease passes.
func (q *Queue) Reclaim(ctx context.Context) error {
	_, err := q.pool.Exec(ctx, reclaimOwnedSQL, q.instanceID)
	if err != nil {
		return fmt.Errorf("reclaim owned tasks: %w", err)
	}
	return nil
}

// ExpireStaleLeases requeues any `running` row whose lease has passed,
// freeing work abandoned by a dead instance. Callers run this
// periodically (e.g. alongside the event poll loop).
func (q *Queue) ExpireStaleLeases(ctx context.Context) error {
	_, err := q.pool.Exec(ctx, expireStaleLeasesSQL)
	if err != nil {
		return fmt.Errorf("expire stale leases: %w", err)
	}
	return nil
}

// Enqueue inserts task in status queued. task.ID must already be set.
func (q *Queue) Enqueue(ctx context.Context, task domain.Task) error {
	_, err := q.pool.Exec(ctx, enqueueSQL,
		task.ID, string(task.AppName), string(task.Kind), task.Payload, task.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueue task %s: %w", task.ID, err)
	}
	return nil
}

// claimRow is the shape scanned back after an UPDATE ... RETURNING.
type claimRow struct {
	id        string
	appName   string
	kind      string
	payload   []byte
	createdAt time.Time
}

// Claim polls until a runnable task (queued, whose app has no row
// currently running) is available, claiming it with
// SELECT ... FOR UPDATE SKIP LOCKED so concurrent instances never claim
// the same row.
func (q *Queue) Claim(ctx context.Context) (*domain.Task, error) {
	ticker := time.NewTicker(q.pollEvery)
	defer ticker.Stop()
	for {
		row, err := q.tryClaimOnce(ctx)
		if err != nil {
			return nil, err
		}
		if row != nil {
			return &domain.Task{
				ID:        row.id,
				AppName:   domain.AppName(row.appName),
				Kind:      domain.TaskKind(row.kind),
				Payload:   row.payload,
				Status:    domain.TaskRunning,
				CreatedAt: row.createdAt,
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q *Queue) tryClaimOnce(ctx context.Context) (*claimRow, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var id string
	err = tx.QueryRow(ctx, selectClaimableSQL).Scan(&id)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select claimable task: %w", err)
	}

	var row claimRow
	err = tx.QueryRow(ctx, claimUpdateSQL,
		id, q.instanceID, fmt.Sprintf("%d milliseconds", q.leaseTTL.Milliseconds()),
	).Scan(&row.id, &row.appName, &row.kind, &row.payload, &row.createdAt)
	if err != nil {
		return nil, fmt.Errorf("claim task %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}
	return &row, nil
}

// Complete records the task's outcome.
func (q *Queue) Complete(ctx context.Context, taskID string, resultSuccess []byte, resultError string) error {
	var resultErrorArg interface{}
	if resultError != "" {
		resultErrorArg = resultError
	}
	_, err := q.pool.Exec(ctx, completeSQL, taskID, nullableJSON(resultSuccess), resultErrorArg)
	if err != nil {
		return fmt.Errorf("complete task %s: %w", taskID, err)
	}
	return nil
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return json.RawMessage(raw)
}

// Len returns the number of queued (not yet claimed) tasks.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.pool.QueryRow(ctx, countQueuedSQL).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count queued tasks: %w", err)
	}
	return n, nil
}

// Shutdown closes the underlying pool. Claim/Enqueue/Complete calls
// in flight when Shutdown runs will return a pool-closed error.
func (q *Queue) Shutdown() {
	q.pool.Close()
}
