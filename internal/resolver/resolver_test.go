package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prevant/internal/config"
	"prevant/internal/domain"
	"prevant/internal/hooks"
	"prevant/internal/template"
)

type fakeDigests struct {
	byImage map[string]string
}

func (f *fakeDigests) Digest(ctx context.Context, image string) (string, error) {
	if d, ok := f.byImage[image]; ok {
		return d, nil
	}
	return "sha256:" + image, nil
}

type fakeBootstrap struct {
	produced []domain.ServiceConfig
	err      error
}

func (f *fakeBootstrap) Run(ctx context.Context, containers []config.BootstrapContainer, templateCtx map[string]interface{}) ([]domain.ServiceConfig, error) {
	return f.produced, f.err
}

func newTestResolver(digests DigestResolver, bootstrap BootstrapRunner) *Resolver {
	return New(template.New(), hooks.New(hooks.DefaultTimeout), digests, bootstrap)
}

func baseCfg() config.Config {
	return config.Config{
		Companions: config.CompanionsConfig{
			Definitions: map[string]config.CompanionSpec{},
		},
	}
}

func TestResolve_InstancesOnly(t *testing.T) {
	r := newTestResolver(&fakeDigests{}, nil)
	in := Input{
		AppName: "myapp",
		RequestedConfigs: []domain.ServiceConfig{
			{ServiceName: "web", Image: "web:1"},
		},
	}
	out, err := r.Resolve(context.Background(), baseCfg(), in)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, domain.ServiceTypeInstance, out[0].Type)
	assert.Equal(t, "web", out[0].ServiceName)
}

func TestResolve_ReplicationCarriesOverOnlyReplicateFlaggedEnv(t *testing.T) {
	r := newTestResolver(&fakeDigests{}, nil)
	src := domain.AppName("prod")
	in := Input{
		AppName:              "pr-42",
		ReplicateFrom:        &src,
		ReplicationCondition: config.ReplicateOnlyWhenRequested,
		CurrentlyDeployedSrc: []domain.ServiceConfig{
			{
				ServiceName: "db",
				Image:       "postgres:16",
				Env: map[string]domain.EnvVar{
					"SHARED_SECRET": {Value: "x", Replicate: true},
					"LOCAL_ONLY":    {Value: "y", Replicate: false},
				},
			},
		},
	}
	out, err := r.Resolve(context.Background(), baseCfg(), in)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, domain.ServiceTypeReplica, out[0].Type)
	_, hasShared := out[0].Env["SHARED_SECRET"]
	_, hasLocal := out[0].Env["LOCAL_ONLY"]
	assert.True(t, hasShared)
	assert.False(t, hasLocal)
}

func TestResolve_ReplicationSkippedWhenRequestAlreadyDeclaresService(t *testing.T) {
	r := newTestResolver(&fakeDigests{}, nil)
	src := domain.AppName("prod")
	in := Input{
		AppName:              "pr-42",
		ReplicateFrom:        &src,
		ReplicationCondition: config.ReplicateOnlyWhenRequested,
		RequestedConfigs: []domain.ServiceConfig{
			{ServiceName: "db", Image: "postgres:17"},
		},
		CurrentlyDeployedSrc: []domain.ServiceConfig{
			{ServiceName: "db", Image: "postgres:16"},
		},
	}
	out, err := r.Resolve(context.Background(), baseCfg(), in)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, domain.ServiceTypeInstance, out[0].Type)
	assert.Equal(t, "postgres:17", out[0].Image)
}

func TestResolve_AppCompanionAdded(t *testing.T) {
	cfg := baseCfg()
	cfg.Companions.Definitions["sidecar"] = config.CompanionSpec{
		Type:  "application",
		Image: "sidecar:1",
	}
	r := newTestResolver(&fakeDigests{}, nil)
	in := Input{
		AppName: "myapp",
		RequestedConfigs: []domain.ServiceConfig{
			{ServiceName: "web", Image: "web:1"},
		},
	}
	out, err := r.Resolve(context.Background(), cfg, in)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "web", out[0].ServiceName)
	assert.Equal(t, "sidecar", out[1].ServiceName)
	assert.Equal(t, domain.ServiceTypeAppCompanion, out[1].Type)
}

func TestResolve_ServiceCompanionAttachedPerInstance(t *testing.T) {
	cfg := baseCfg()
	cfg.Companions.Definitions["logshipper"] = config.CompanionSpec{
		Type:        "service",
		ServiceName: "{{.service.name}}-logs",
		Image:       "logshipper:1",
	}
	r := newTestResolver(&fakeDigests{}, nil)
	in := Input{
		AppName: "myapp",
		RequestedConfigs: []domain.ServiceConfig{
			{ServiceName: "web", Image: "web:1"},
			{ServiceName: "worker", Image: "worker:1"},
		},
	}
	out, err := r.Resolve(context.Background(), cfg, in)
	require.NoError(t, err)
	require.Len(t, out, 4)
	names := map[string]domain.ServiceType{}
	for _, svc := range out {
		names[svc.ServiceName] = svc.Type
	}
	assert.Equal(t, domain.ServiceTypeServiceCompanion, names["web-logs"])
	assert.Equal(t, domain.ServiceTypeServiceCompanion, names["worker-logs"])
}

func TestResolve_CompanionCollisionIdenticalIsRetagged(t *testing.T) {
	cfg := baseCfg()
	cfg.Companions.Definitions["sidecar"] = config.CompanionSpec{
		Type:  "application",
		Image: "sidecar:1",
	}
	r := newTestResolver(&fakeDigests{}, nil)
	in := Input{
		AppName: "myapp",
		RequestedConfigs: []domain.ServiceConfig{
			{ServiceName: "sidecar", Image: "sidecar:1"},
		},
	}
	out, err := r.Resolve(context.Background(), cfg, in)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, domain.ServiceTypeAppCompanion, out[0].Type)
}

func TestResolve_CompanionCollisionDifferingMergesUnderInstance(t *testing.T) {
	cfg := baseCfg()
	cfg.Companions.Definitions["sidecar"] = config.CompanionSpec{
		Type:  "application",
		Image: "sidecar:1",
		Env: map[string]domain.EnvVar{
			"EXTRA": {Value: "added-by-companion"},
		},
	}
	r := newTestResolver(&fakeDigests{}, nil)
	in := Input{
		AppName: "myapp",
		RequestedConfigs: []domain.ServiceConfig{
			{ServiceName: "sidecar", Image: "sidecar:2"},
		},
	}
	out, err := r.Resolve(context.Background(), cfg, in)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, domain.ServiceTypeInstance, out[0].Type)
	assert.Equal(t, "sidecar:2", out[0].Image)
	assert.Equal(t, "added-by-companion", out[0].Env["EXTRA"].Value)
}

func TestResolve_RedeployNeverKeepsDeployedImage(t *testing.T) {
	cfg := baseCfg()
	cfg.Companions.Definitions["sidecar"] = config.CompanionSpec{
		Type:               "application",
		Image:              "sidecar:2",
		DeploymentStrategy: domain.DeployNever,
	}
	r := newTestResolver(&fakeDigests{}, nil)
	in := Input{
		AppName: "myapp",
		CurrentlyDeployedDst: []domain.ServiceConfig{
			{ServiceName: "sidecar", Image: "sidecar:1", Type: domain.ServiceTypeAppCompanion},
		},
	}
	out, err := r.Resolve(context.Background(), cfg, in)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "sidecar:1", out[0].Image)
}

func TestResolve_RedeployOnImageUpdateSkipsWhenDigestUnchanged(t *testing.T) {
	cfg := baseCfg()
	cfg.Companions.Definitions["sidecar"] = config.CompanionSpec{
		Type:               "application",
		Image:              "sidecar:latest",
		DeploymentStrategy: domain.DeployOnImageUpdate,
	}
	digests := &fakeDigests{byImage: map[string]string{
		"sidecar:latest": "sha256:same",
		"sidecar:1":      "sha256:same",
	}}
	r := newTestResolver(digests, nil)
	in := Input{
		AppName: "myapp",
		CurrentlyDeployedDst: []domain.ServiceConfig{
			{ServiceName: "sidecar", Image: "sidecar:1", Type: domain.ServiceTypeAppCompanion},
		},
	}
	out, err := r.Resolve(context.Background(), cfg, in)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "sidecar:1", out[0].Image, "digest unchanged, must keep deployed image")
}

func TestResolve_RedeployOnImageUpdateAppliesWhenDigestChanged(t *testing.T) {
	cfg := baseCfg()
	cfg.Companions.Definitions["sidecar"] = config.CompanionSpec{
		Type:               "application",
		Image:              "sidecar:latest",
		DeploymentStrategy: domain.DeployOnImageUpdate,
	}
	digests := &fakeDigests{byImage: map[string]string{
		"sidecar:latest": "sha256:new",
		"sidecar:1":      "sha256:old",
	}}
	r := newTestResolver(digests, nil)
	in := Input{
		AppName: "myapp",
		CurrentlyDeployedDst: []domain.ServiceConfig{
			{ServiceName: "sidecar", Image: "sidecar:1", Type: domain.ServiceTypeAppCompanion},
		},
	}
	out, err := r.Resolve(context.Background(), cfg, in)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "sidecar:latest", out[0].Image)
}

func TestResolve_SecretsMergedWhenAppSelectorMatches(t *testing.T) {
	cfg := baseCfg()
	cfg.Services = map[string]config.ServiceSecrets{
		"web": {
			Secrets: map[string]config.SecretSpec{
				"tls": {AppSelector: "^myapp$", Path: "/etc/tls/cert.pem", Data: "cert-bytes"},
			},
		},
	}
	r := newTestResolver(&fakeDigests{}, nil)
	in := Input{
		AppName: "myapp",
		RequestedConfigs: []domain.ServiceConfig{
			{ServiceName: "web", Image: "web:1"},
		},
	}
	out, err := r.Resolve(context.Background(), cfg, in)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "cert-bytes", out[0].Files["/etc/tls/cert.pem"])
}

func TestResolve_SecretsNotMergedWhenAppSelectorMismatches(t *testing.T) {
	cfg := baseCfg()
	cfg.Services = map[string]config.ServiceSecrets{
		"web": {
			Secrets: map[string]config.SecretSpec{
				"tls": {AppSelector: "^otherapp$", Path: "/etc/tls/cert.pem", Data: "cert-bytes"},
			},
		},
	}
	r := newTestResolver(&fakeDigests{}, nil)
	in := Input{
		AppName: "myapp",
		RequestedConfigs: []domain.ServiceConfig{
			{ServiceName: "web", Image: "web:1"},
		},
	}
	out, err := r.Resolve(context.Background(), cfg, in)
	require.NoError(t, err)
	require.Len(t, out, 1)
	_, ok := out[0].Files["/etc/tls/cert.pem"]
	assert.False(t, ok)
}

func TestResolve_BootstrapOutputExpandsAsAppCompanion(t *testing.T) {
	cfg := baseCfg()
	cfg.Companions.Bootstrapping.Containers = []config.BootstrapContainer{{Image: "bootstrapper:1"}}
	bootstrap := &fakeBootstrap{produced: []domain.ServiceConfig{
		{ServiceName: "generated", Image: "generated:1"},
	}}
	r := newTestResolver(&fakeDigests{}, bootstrap)
	in := Input{
		AppName: "myapp",
		RequestedConfigs: []domain.ServiceConfig{
			{ServiceName: "web", Image: "web:1"},
		},
	}
	out, err := r.Resolve(context.Background(), cfg, in)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "web", out[0].ServiceName)
	assert.Equal(t, domain.ServiceTypeAppCompanion, out[1].Type)
	assert.Equal(t, "generated", out[1].ServiceName)
}

func TestResolve_MissingBootstrapRunnerIsAnError(t *testing.T) {
	cfg := baseCfg()
	cfg.Companions.Bootstrapping.Containers = []config.BootstrapContainer{{Image: "bootstrapper:1"}}
	r := newTestResolver(&fakeDigests{}, nil)
	_, err := r.Resolve(context.Background(), cfg, Input{AppName: "myapp"})
	require.Error(t, err)
}

func TestResolve_FinalOrderingIsDeterministic(t *testing.T) {
	cfg := baseCfg()
	cfg.Companions.Definitions["sidecar"] = config.CompanionSpec{Type: "application", Image: "sidecar:1"}
	cfg.Companions.Definitions["logs"] = config.CompanionSpec{Type: "service", ServiceName: "{{.service.name}}-logs", Image: "logs:1"}
	r := newTestResolver(&fakeDigests{}, nil)
	in := Input{
		AppName: "myapp",
		RequestedConfigs: []domain.ServiceConfig{
			{ServiceName: "zeta", Image: "zeta:1"},
			{ServiceName: "alpha", Image: "alpha:1"},
		},
	}
	out1, err := r.Resolve(context.Background(), cfg, in)
	require.NoError(t, err)
	out2, err := r.Resolve(context.Background(), cfg, in)
	require.NoError(t, err)
	require.Equal(t, len(out1), len(out2))
	for i := range out1 {
		assert.Equal(t, out1[i].ServiceName, out2[i].ServiceName)
	}
	// instances (priority 0) sort before companions, alphabetically within type.
	assert.Equal(t, "alpha", out1[0].ServiceName)
	assert.Equal(t, "zeta", out1[1].ServiceName)
}

func TestResolve_InvalidUserDefinedRejected(t *testing.T) {
	cfg := baseCfg()
	cfg.Companions.Templating.UserDefinedSchema = map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"tier"},
	}
	r := newTestResolver(&fakeDigests{}, nil)
	in := Input{
		AppName:     "myapp",
		UserDefined: map[string]interface{}{},
	}
	_, err := r.Resolve(context.Background(), cfg, in)
	require.Error(t, err)
}
