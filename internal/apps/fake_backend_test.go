package apps

import (
	"context"
	"time"

	"prevant/internal/domain"
	"prevant/internal/infra"
)

// fakeBackend is a minimal infra.Backend double for exercising Service's
// orchestration logic without a live Docker or Kubernetes cluster.
type fakeBackend struct {
	deployErr error
	deleteErr error

	deployCalls int
	deleteCalls int

	lastDeployed []domain.ServiceConfig

	owners map[domain.AppName][]domain.Owner
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{owners: make(map[domain.AppName][]domain.Owner)}
}

func (f *fakeBackend) FetchApps(ctx context.Context) (map[domain.AppName][]domain.Service, error) {
	return nil, nil
}

func (f *fakeBackend) FetchAppOwners(ctx context.Context, app domain.AppName) ([]domain.Owner, error) {
	return f.owners[app], nil
}

func (f *fakeBackend) WriteAppOwners(ctx context.Context, app domain.AppName, owners []domain.Owner) error {
	f.owners[app] = owners
	return nil
}

func (f *fakeBackend) DeployServices(ctx context.Context, app domain.AppName, desired []domain.ServiceConfig, dctx infra.DeployContext) ([]domain.Service, error) {
	f.deployCalls++
	f.lastDeployed = desired
	if f.deployErr != nil {
		return nil, f.deployErr
	}
	out := make([]domain.Service, 0, len(desired))
	for _, d := range desired {
		out = append(out, domain.Service{Name: d.ServiceName, Type: d.Type, Image: d.Image, State: domain.StateRunning})
	}
	return out, nil
}

func (f *fakeBackend) DeleteApp(ctx context.Context, app domain.AppName) ([]domain.Service, error) {
	f.deleteCalls++
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	return nil, nil
}

func (f *fakeBackend) ChangeServiceStatus(ctx context.Context, app domain.AppName, service string, target domain.ServiceState) error {
	return nil
}

func (f *fakeBackend) StreamLogs(ctx context.Context, app domain.AppName, service string, since *time.Time, follow bool) (<-chan infra.LogLine, error) {
	return nil, nil
}

func (f *fakeBackend) BackupApp(ctx context.Context, app domain.AppName) ([]byte, error) {
	return []byte("backup"), nil
}

func (f *fakeBackend) RestoreApp(ctx context.Context, app domain.AppName, payload []byte) ([]domain.Service, error) {
	return nil, nil
}
