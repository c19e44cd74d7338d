// Package dockerinfra implements internal/infra.Backend on top of the
// Docker Engine API. Grounded on docker-compose/local/containers.go's
// client.Client usage (ContainerList/ContainerCreate/ContainerRemove) and
// docker-compose/local/compose.go's label-based object tagging, adapted
// from compose-project labels to prevant's (app, service, type) labels and
// Traefik Docker-provider routing labels instead of compose-cli's own
// proxy.
package dockerinfra

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/distribution/reference"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"prevant/internal/apierr"
	"prevant/internal/domain"
	"prevant/internal/infra"
)

const (
	labelApp     = "prevant.app"
	labelService = "prevant.service"
	labelType    = "prevant.type"
	labelOwners  = "prevant.owners"

	ownerNetworkPrefix = "prevant-owners-"
)

// Backend implements infra.Backend against a single Docker daemon.
type Backend struct {
	cli              *client.Client
	mirrors          map[string]string
	memoryLimitBytes int64
}

// New wraps an already-configured Docker client. mirrors maps a registry
// host to a mirror host, honored when pulling images.
func New(cli *client.Client, mirrors map[string]string, memoryLimitBytes int64) *Backend {
	return &Backend{cli: cli, mirrors: mirrors, memoryLimitBytes: memoryLimitBytes}
}

func (b *Backend) appFilter(app domain.AppName) filters.Args {
	f := filters.NewArgs()
	f.Add("label", labelApp+"="+string(app))
	return f
}

// FetchApps lists every container prevant manages, grouped by app label.
func (b *Backend) FetchApps(ctx context.Context) (map[domain.AppName][]domain.Service, error) {
	f := filters.NewArgs()
	f.Add("label", labelApp)
	containers, err := b.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, wrapDockerErr(err)
	}

	out := make(map[domain.AppName][]domain.Service)
	for _, c := range containers {
		app := domain.AppName(c.Labels[labelApp])
		out[app] = append(out[app], domain.Service{
			Name:  c.Labels[labelService],
			Type:  domain.ServiceType(c.Labels[labelType]),
			Image: c.Image,
			State: dockerStateToServiceState(c.State),
		})
	}
	return out, nil
}

func dockerStateToServiceState(state string) domain.ServiceState {
	switch state {
	case "running":
		return domain.StateRunning
	case "paused":
		return domain.StatePaused
	case "created", "restarting":
		return domain.StateStarting
	case "exited", "dead", "removing":
		return domain.StateTerminated
	default:
		return domain.StateUnknown
	}
}

// FetchAppOwners reads the owner set from the sentinel owners network's
// label, since a bare container label can't be attached to the app as a
// whole once every service container is removed during an update.
func (b *Backend) FetchAppOwners(ctx context.Context, app domain.AppName) ([]domain.Owner, error) {
	net, err := b.cli.NetworkInspect(ctx, ownerNetworkPrefix+string(app), network.InspectOptions{})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, nil
		}
		return nil, wrapDockerErr(err)
	}
	raw, ok := net.Labels[labelOwners]
	if !ok || raw == "" {
		return nil, nil
	}
	var owners []domain.Owner
	if err := json.Unmarshal([]byte(raw), &owners); err != nil {
		return nil, apierr.Wrap(apierr.KindBackendPermanent, "owner label is not valid JSON", err)
	}
	return owners, nil
}

// WriteAppOwners replaces the app's owner-set network label.
func (b *Backend) WriteAppOwners(ctx context.Context, app domain.AppName, owners []domain.Owner) error {
	encoded, err := json.Marshal(owners)
	if err != nil {
		return apierr.Wrap(apierr.KindBackendPermanent, "failed to encode owners", err)
	}
	netName := ownerNetworkPrefix + string(app)
	if existing, err := b.cli.NetworkInspect(ctx, netName, network.InspectOptions{}); err == nil {
		if err := b.cli.NetworkRemove(ctx, existing.ID); err != nil {
			return wrapDockerErr(err)
		}
	}
	if _, err := b.cli.NetworkCreate(ctx, netName, network.CreateOptions{
		Labels: map[string]string{labelApp: string(app), labelOwners: string(encoded)},
	}); err != nil {
		return wrapDockerErr(err)
	}
	return nil
}

// DeployServices reconciles desired against the app's current containers
// following a fixed remove/add/update ordering.
func (b *Backend) DeployServices(ctx context.Context, app domain.AppName, desired []domain.ServiceConfig, dctx infra.DeployContext) ([]domain.Service, error) {
	current, err := b.fetchAppServices(ctx, app)
	if err != nil {
		return nil, err
	}

	plan := infra.Diff(desired, current)
	if err := infra.RunPhased(ctx, plan, 4,
		func(ctx context.Context, svc domain.Service) error { return b.removeContainer(ctx, app, svc) },
		func(ctx context.Context, cfg domain.ServiceConfig) error { return b.createContainer(ctx, app, cfg, dctx) },
		func(ctx context.Context, c infra.Change) error { return b.updateContainer(ctx, app, c.Desired, dctx) },
	); err != nil {
		return nil, err
	}

	return b.fetchAppServices(ctx, app)
}

func (b *Backend) fetchAppServices(ctx context.Context, app domain.AppName) ([]domain.Service, error) {
	containers, err := b.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: b.appFilter(app)})
	if err != nil {
		return nil, wrapDockerErr(err)
	}
	out := make([]domain.Service, 0, len(containers))
	for _, c := range containers {
		out = append(out, domain.Service{
			Name:  c.Labels[labelService],
			Type:  domain.ServiceType(c.Labels[labelType]),
			Image: c.Image,
			State: dockerStateToServiceState(c.State),
			URL:   routingURL(app, c.Labels[labelService]),
		})
	}
	return out, nil
}

func routingURL(app domain.AppName, service string) string {
	return fmt.Sprintf("/%s/%s/", app, service)
}

func (b *Backend) removeContainer(ctx context.Context, app domain.AppName, svc domain.Service) error {
	id, err := b.findContainerID(ctx, app, svc.Name)
	if err != nil {
		return err
	}
	if id == "" {
		return nil
	}
	if err := b.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		return wrapDockerErr(err)
	}
	return nil
}

func (b *Backend) findContainerID(ctx context.Context, app domain.AppName, service string) (string, error) {
	f := b.appFilter(app)
	f.Add("label", labelService+"="+service)
	list, err := b.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return "", wrapDockerErr(err)
	}
	if len(list) == 0 {
		return "", nil
	}
	return list[0].ID, nil
}

func (b *Backend) createContainer(ctx context.Context, app domain.AppName, cfg domain.ServiceConfig, dctx infra.DeployContext) error {
	if err := b.pullImage(ctx, cfg.Image); err != nil {
		return err
	}

	exposed, bindings, err := portBindings(cfg.Ports)
	if err != nil {
		return apierr.Wrap(apierr.KindInvalidPayload, "invalid port spec", err)
	}

	labels := make(map[string]string, len(cfg.Labels)+4)
	for k, v := range cfg.Labels {
		labels[k] = v
	}
	labels[labelApp] = string(app)
	labels[labelService] = cfg.ServiceName
	labels[labelType] = string(cfg.Type)
	addRoutingLabels(labels, app, cfg, dctx)

	containerCfg := &container.Config{
		Image:        cfg.Image,
		Env:          envSlice(cfg.Env),
		Labels:       labels,
		ExposedPorts: exposed,
	}
	hostCfg := &container.HostConfig{
		PortBindings: bindings,
		Resources:    container.Resources{Memory: resolveMemory(cfg.MemoryLimitBytes, b.memoryLimitBytes)},
	}

	name := fmt.Sprintf("%s-%s", app, cfg.ServiceName)
	created, err := b.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if err != nil {
		return wrapDockerErr(err)
	}
	if len(cfg.Files) > 0 {
		if err := b.copyFilesToContainer(ctx, created.ID, cfg.Files); err != nil {
			return err
		}
	}
	if err := b.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return wrapDockerErr(err)
	}
	return nil
}

// copyFilesToContainer writes cfg.Files into the not-yet-started container
// as a single tar archive, each entry named by its absolute mount path.
func (b *Backend) copyFilesToContainer(ctx context.Context, containerID string, files map[string]string) error {
	buf, err := buildFilesTar(files)
	if err != nil {
		return err
	}
	if err := b.cli.CopyToContainer(ctx, containerID, "/", buf, container.CopyToContainerOptions{}); err != nil {
		return wrapDockerErr(err)
	}
	return nil
}

// buildFilesTar packs files (mount path -> content) into a tar archive
// suitable for CopyToContainer, each entry mode 0400 (read-only by the
// owner, matching a secret-file's expected permissions).
func buildFilesTar(files map[string]string) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for path, content := range files {
		header := &tar.Header{
			Name:    path,
			Size:    int64(len(content)),
			Mode:    0o400,
			ModTime: time.Now(),
		}
		if err := tw.WriteHeader(header); err != nil {
			return nil, apierr.Wrap(apierr.KindBackendPermanent, "build file tar entry", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			return nil, apierr.Wrap(apierr.KindBackendPermanent, "write file tar entry", err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, apierr.Wrap(apierr.KindBackendPermanent, "close file tar archive", err)
	}
	return &buf, nil
}

func (b *Backend) updateContainer(ctx context.Context, app domain.AppName, cfg domain.ServiceConfig, dctx infra.DeployContext) error {
	if err := b.removeContainer(ctx, app, domain.Service{Name: cfg.ServiceName}); err != nil {
		return err
	}
	return b.createContainer(ctx, app, cfg, dctx)
}

func resolveMemory(serviceLimit, defaultLimit int64) int64 {
	if serviceLimit > 0 {
		return serviceLimit
	}
	return defaultLimit
}

func addRoutingLabels(labels map[string]string, app domain.AppName, cfg domain.ServiceConfig, dctx infra.DeployContext) {
	rule := fmt.Sprintf("PathPrefix(`/%s/%s/`)", app, cfg.ServiceName)
	if cfg.Routing != nil && cfg.Routing.Rule != "" {
		rule = cfg.Routing.Rule
	}
	routerName := fmt.Sprintf("%s-%s", app, cfg.ServiceName)
	prefix := fmt.Sprintf("/%s/%s", app, cfg.ServiceName)

	labels["traefik.enable"] = "true"
	labels[fmt.Sprintf("traefik.http.routers.%s.rule", routerName)] = rule
	labels[fmt.Sprintf("traefik.http.middlewares.%s-stripprefix.stripprefix.prefixes", routerName)] = prefix
	// stripprefix drops the path prefix before it reaches the service;
	// restore it as X-Forwarded-Prefix so the service can still build
	// prefix-correct links (e.g. for its OpenAPI/AsyncAPI documents).
	labels[fmt.Sprintf("traefik.http.middlewares.%s-forwardedprefix.headers.customrequestheaders.X-Forwarded-Prefix", routerName)] = prefix
	labels[fmt.Sprintf("traefik.http.routers.%s.middlewares", routerName)] = routerName + "-stripprefix," + routerName + "-forwardedprefix"
}

func envSlice(env map[string]domain.EnvVar) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v.Value)
	}
	return out
}

func portBindings(ports []domain.PortSpec) (map[nat.Port]struct{}, map[nat.Port][]nat.PortBinding, error) {
	exposed := make(map[nat.Port]struct{}, len(ports))
	bindings := make(map[nat.Port][]nat.PortBinding, len(ports))
	for _, p := range ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		port, err := nat.NewPort(proto, fmt.Sprintf("%d", p.Number))
		if err != nil {
			return nil, nil, err
		}
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{HostIP: "0.0.0.0"}}
	}
	return exposed, bindings, nil
}

func (b *Backend) pullImage(ctx context.Context, img string) error {
	ref := mirrorImage(img, b.mirrors)
	if _, err := reference.ParseNormalizedNamed(ref); err != nil {
		return apierr.Wrap(apierr.KindInvalidPayload, "invalid image reference", err)
	}
	rc, err := b.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return wrapDockerErr(err)
	}
	defer rc.Close()
	_, _ = io.Copy(io.Discard, rc)
	return nil
}

func mirrorImage(img string, mirrors map[string]string) string {
	for host, mirror := range mirrors {
		if strings.HasPrefix(img, host+"/") {
			return mirror + strings.TrimPrefix(img, host)
		}
	}
	return img
}

// DeleteApp removes every container and the owners network for app.
func (b *Backend) DeleteApp(ctx context.Context, app domain.AppName) ([]domain.Service, error) {
	current, err := b.fetchAppServices(ctx, app)
	if err != nil {
		return nil, err
	}
	for _, svc := range current {
		if err := b.removeContainer(ctx, app, svc); err != nil {
			return nil, err
		}
	}
	netName := ownerNetworkPrefix + string(app)
	if net, err := b.cli.NetworkInspect(ctx, netName, network.InspectOptions{}); err == nil {
		_ = b.cli.NetworkRemove(ctx, net.ID)
	}
	return current, nil
}

// ChangeServiceStatus pauses or unpauses the named service's container.
func (b *Backend) ChangeServiceStatus(ctx context.Context, app domain.AppName, service string, target domain.ServiceState) error {
	id, err := b.findContainerID(ctx, app, service)
	if err != nil {
		return err
	}
	if id == "" {
		return apierr.New(apierr.KindInvalidPayload, fmt.Sprintf("service %q not found in app %q", service, app))
	}
	switch target {
	case domain.StateRunning:
		return wrapDockerErr(b.cli.ContainerUnpause(ctx, id))
	case domain.StatePaused:
		return wrapDockerErr(b.cli.ContainerPause(ctx, id))
	default:
		return apierr.New(apierr.KindInvalidPayload, fmt.Sprintf("unsupported target state %q", target))
	}
}

// StreamLogs tails the named service's container log.
func (b *Backend) StreamLogs(ctx context.Context, app domain.AppName, service string, since *time.Time, follow bool) (<-chan infra.LogLine, error) {
	id, err := b.findContainerID(ctx, app, service)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, apierr.New(apierr.KindInvalidPayload, fmt.Sprintf("service %q not found in app %q", service, app))
	}

	opts := container.LogsOptions{ShowStdout: true, ShowStderr: true, Follow: follow, Timestamps: true}
	if since != nil {
		opts.Since = since.Format(time.RFC3339Nano)
	}
	rc, err := b.cli.ContainerLogs(ctx, id, opts)
	if err != nil {
		return nil, wrapDockerErr(err)
	}

	out := make(chan infra.LogLine)
	go func() {
		defer close(out)
		defer rc.Close()
		demuxOut := &lineWriter{ch: out}
		demuxErr := &lineWriter{ch: out}
		_, _ = stdcopy.StdCopy(demuxOut, demuxErr, rc)
	}()
	return out, nil
}

type lineWriter struct {
	ch  chan<- infra.LogLine
	buf strings.Builder
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		s := w.buf.String()
		idx := strings.IndexByte(s, '\n')
		if idx < 0 {
			break
		}
		line := s[:idx]
		w.buf.Reset()
		w.buf.WriteString(s[idx+1:])
		ts := time.Now()
		if sp := strings.IndexByte(line, ' '); sp > 0 {
			if parsed, err := time.Parse(time.RFC3339Nano, line[:sp]); err == nil {
				ts = parsed
				line = strings.TrimSpace(line[sp+1:])
			}
		}
		w.ch <- infra.LogLine{Timestamp: ts, Line: line}
	}
	return len(p), nil
}

// BackupApp is unsupported on the Docker backend.
func (b *Backend) BackupApp(ctx context.Context, app domain.AppName) ([]byte, error) {
	return nil, apierr.New(apierr.KindNotSupported, "backup/restore is not supported on the Docker backend")
}

// RestoreApp is unsupported on the Docker backend.
func (b *Backend) RestoreApp(ctx context.Context, app domain.AppName, payload []byte) ([]domain.Service, error) {
	return nil, apierr.New(apierr.KindNotSupported, "backup/restore is not supported on the Docker backend")
}

func wrapDockerErr(err error) error {
	if err == nil {
		return nil
	}
	if client.IsErrNotFound(err) {
		return apierr.Wrap(apierr.KindInvalidPayload, "resource not found", err)
	}
	if client.IsErrConnectionFailed(err) {
		return apierr.Wrap(apierr.KindBackendTransient, "docker daemon connection failed", err)
	}
	return apierr.Wrap(apierr.KindBackendPermanent, "docker API error", err)
}
