// Package backupstore persists the opaque infrastructure payload produced by
// backing up an app, plus the app's DeclaredConfigs at the time of backup,
// in the `app_backup` table — or, in in-memory mode, in a process-local map
// mirroring the same shape.
// Grounded on internal/queue/pgqueue's DB-interface-over-pgxpool pattern
// (the same narrowing keeps this package testable without a live
// Postgres).
package backupstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"prevant/internal/domain"
)

// Record is one app's stored backup.
type Record struct {
	AppName             domain.AppName
	DeclaredConfigs     []domain.ServiceConfig
	InfrastructurePayload []byte
	CreatedAt           time.Time
}

// Store persists and retrieves backup records.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Load(ctx context.Context, app domain.AppName) (Record, bool, error)
	Delete(ctx context.Context, app domain.AppName) error
}

// Memory is an in-process Store, used when no database is configured.
// Backups do not survive a restart in this mode, matching the task
// queue's memqueue tradeoff.
type Memory struct {
	mu      sync.Mutex
	records map[domain.AppName]Record
}

// NewMemory builds an empty Memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[domain.AppName]Record)}
}

func (m *Memory) Save(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.AppName] = rec
	return nil
}

func (m *Memory) Load(_ context.Context, app domain.AppName) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[app]
	return rec, ok, nil
}

func (m *Memory) Delete(_ context.Context, app domain.AppName) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, app)
	return nil
}

// Schema is the DDL this package expects already applied when backed by
// Postgres.
const Schema = `
CREATE TABLE IF NOT EXISTS app_backup (
	app_name                text PRIMARY KEY,
	app                     jsonb NOT NULL,
	infrastructure_payload  bytea NOT NULL,
	created_at              timestamptz NOT NULL DEFAULT now()
);
`

const (
	upsertSQL = `
		INSERT INTO app_backup (app_name, app, infrastructure_payload, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (app_name) DO UPDATE
		SET app = EXCLUDED.app, infrastructure_payload = EXCLUDED.infrastructure_payload, created_at = EXCLUDED.created_at`

	selectSQL = `SELECT app, infrastructure_payload, created_at FROM app_backup WHERE app_name = $1`

	deleteSQL = `DELETE FROM app_backup WHERE app_name = $1`
)

// DB is the subset of *pgxpool.Pool this package needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Postgres is a Store backed by the app_backup table.
type Postgres struct {
	pool DB
}

// NewPostgres builds a Postgres-backed Store.
func NewPostgres(pool DB) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Save(ctx context.Context, rec Record) error {
	configsJSON, err := json.Marshal(rec.DeclaredConfigs)
	if err != nil {
		return fmt.Errorf("marshal declared configs for %s: %w", rec.AppName, err)
	}
	_, err = p.pool.Exec(ctx, upsertSQL, string(rec.AppName), configsJSON, rec.InfrastructurePayload, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("save backup for %s: %w", rec.AppName, err)
	}
	return nil
}

func (p *Postgres) Load(ctx context.Context, app domain.AppName) (Record, bool, error) {
	var configsJSON []byte
	rec := Record{AppName: app}
	err := p.pool.QueryRow(ctx, selectSQL, string(app)).Scan(&configsJSON, &rec.InfrastructurePayload, &rec.CreatedAt)
	if err == pgx.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("load backup for %s: %w", app, err)
	}
	if err := json.Unmarshal(configsJSON, &rec.DeclaredConfigs); err != nil {
		return Record{}, false, fmt.Errorf("unmarshal declared configs for %s: %w", app, err)
	}
	return rec, true, nil
}

func (p *Postgres) Delete(ctx context.Context, app domain.AppName) error {
	_, err := p.pool.Exec(ctx, deleteSQL, string(app))
	if err != nil {
		return fmt.Errorf("delete backup for %s: %w", app, err)
	}
	return nil
}
