// Package infra defines the capability contract backends implement and the
// reconciliation engine shared by all of them. Follows a separation
// between a backend-agnostic manager and backend-specific detectors: here
// the Apps Service never sees a backend-specific type, only Backend and
// the domain package.
package infra

import (
	"context"
	"time"

	"prevant/internal/domain"
)

// LogLine is one entry of a streamed log.
type LogLine struct {
	Timestamp time.Time
	Line      string
}

// DeployContext carries the per-request values a backend needs beyond the
// resolved ServiceConfigs: the base URL used to build routing rules and
// any backend-specific extras already folded into the DeploymentContext.
type DeployContext struct {
	BaseURL string
	Extras  map[string]interface{}
}

// Backend is the capability contract both backends satisfy. Both
// dockerinfra and k8sinfra implement it; the Apps Service and companion
// resolver never import either concrete package.
type Backend interface {
	FetchApps(ctx context.Context) (map[domain.AppName][]domain.Service, error)
	FetchAppOwners(ctx context.Context, app domain.AppName) ([]domain.Owner, error)
	WriteAppOwners(ctx context.Context, app domain.AppName, owners []domain.Owner) error
	DeployServices(ctx context.Context, app domain.AppName, desired []domain.ServiceConfig, dctx DeployContext) ([]domain.Service, error)
	DeleteApp(ctx context.Context, app domain.AppName) ([]domain.Service, error)
	ChangeServiceStatus(ctx context.Context, app domain.AppName, service string, target domain.ServiceState) error
	StreamLogs(ctx context.Context, app domain.AppName, service string, since *time.Time, follow bool) (<-chan LogLine, error)
	BackupApp(ctx context.Context, app domain.AppName) ([]byte, error)
	RestoreApp(ctx context.Context, app domain.AppName, payload []byte) ([]domain.Service, error)
}
