package httpapi

import (
	"context"
	"time"

	"prevant/internal/domain"
	"prevant/internal/infra"
)

// fakeBackend is a minimal infra.Backend double, mirroring
// internal/apps's fake of the same name (unexported in both packages, so
// duplicated rather than shared across package boundaries).
type fakeBackend struct {
	deployErr error
	logLines  []infra.LogLine
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{}
}

func (f *fakeBackend) FetchApps(ctx context.Context) (map[domain.AppName][]domain.Service, error) {
	return nil, nil
}

func (f *fakeBackend) FetchAppOwners(ctx context.Context, app domain.AppName) ([]domain.Owner, error) {
	return nil, nil
}

func (f *fakeBackend) WriteAppOwners(ctx context.Context, app domain.AppName, owners []domain.Owner) error {
	return nil
}

func (f *fakeBackend) DeployServices(ctx context.Context, app domain.AppName, desired []domain.ServiceConfig, dctx infra.DeployContext) ([]domain.Service, error) {
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
	return nil, nil
}

func (f *fakeBackend) ChangeServiceStatus(ctx context.Context, app domain.AppName, service string, target domain.ServiceState) error {
	return nil
}

func (f *fakeBackend) StreamLogs(ctx context.Context, app domain.AppName, service string, since *time.Time, follow bool) (<-chan infra.LogLine, error) {
	ch := make(chan infra.LogLine, len(f.logLines))
	for _, l := range f.logLines {
		ch <- l
	}
	close(ch)
	return ch, nil
}

func (f *fakeBackend) BackupApp(ctx context.Context, app domain.AppName) ([]byte, error) {
	return []byte("backup-blob"), nil
}

func (f *fakeBackend) RestoreApp(ctx context.Context, app domain.AppName, payload []byte) ([]domain.Service, error) {
	return []domain.Service{{Name: "web", State: domain.StateRunning}}, nil
}
