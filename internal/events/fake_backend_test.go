package events

import (
	"context"
	"time"

	"prevant/internal/domain"
	"prevant/internal/infra"
)

// fakeBackendForPoller implements infra.Backend with just enough behavior
// to exercise BackendPoller.Poll.
type fakeBackendForPoller struct {
	apps   map[domain.AppName][]domain.Service
	owners []domain.Owner
}

func (f *fakeBackendForPoller) FetchApps(ctx context.Context) (map[domain.AppName][]domain.Service, error) {
	return f.apps, nil
}

func (f *fakeBackendForPoller) FetchAppOwners(ctx context.Context, app domain.AppName) ([]domain.Owner, error) {
	return f.owners, nil
}

func (f *fakeBackendForPoller) WriteAppOwners(ctx context.Context, app domain.AppName, owners []domain.Owner) error {
	f.owners = owners
	return nil
}

func (f *fakeBackendForPoller) DeployServices(ctx context.Context, app domain.AppName, desired []domain.ServiceConfig, dctx infra.DeployContext) ([]domain.Service, error) {
	return nil, nil
}

func (f *fakeBackendForPoller) DeleteApp(ctx context.Context, app domain.AppName) ([]domain.Service, error) {
	return nil, nil
}

func (f *fakeBackendForPoller) ChangeServiceStatus(ctx context.Context, app domain.AppName, service string, target domain.ServiceState) error {
	return nil
}

func (f *fakeBackendForPoller) StreamLogs(ctx context.Context, app domain.AppName, service string, since *time.Time, follow bool) (<-chan infra.LogLine, error) {
	return nil, nil
}

func (f *fakeBackendForPoller) BackupApp(ctx context.Context, app domain.AppName) ([]byte, error) {
	return nil, nil
}

func (f *fakeBackendForPoller) RestoreApp(ctx context.Context, app domain.AppName, payload []byte) ([]domain.Service, error) {
	return nil, nil
}
