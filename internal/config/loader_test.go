package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, "Docker", cfg.Runtime.Type)
	assert.Equal(t, ReplicateOnlyWhenRequested, cfg.Applications.ReplicationCondition)
	assert.Equal(t, 2, cfg.Hooks.TimeoutSeconds)
}

func TestLoad_DecodesCompanionSubtables(t *testing.T) {
	path := writeConfig(t, `
[runtime]
type = "Kubernetes"
namespace = "staging"

[applications]
max = 10

[companions.openid]
type = "application"
image = "oidc:1"

[companions.bootstrapping]
containers = [{ image = "bootstrap:1", args = ["--discover"] }]

[companions.templating]
userDefinedSchema = { type = "object" }
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Kubernetes", cfg.Runtime.Type)
	assert.Equal(t, "staging", cfg.Runtime.Namespace)
	assert.Equal(t, 10, cfg.Applications.Max)

	require.Contains(t, cfg.Companions.Definitions, "openid")
	assert.Equal(t, "application", cfg.Companions.Definitions["openid"].Type)
	assert.Equal(t, "oidc:1", cfg.Companions.Definitions["openid"].Image)
	assert.Equal(t, "openid", cfg.Companions.Definitions["openid"].ServiceName)

	require.Len(t, cfg.Companions.Bootstrapping.Containers, 1)
	assert.Equal(t, "bootstrap:1", cfg.Companions.Bootstrapping.Containers[0].Image)

	require.NotNil(t, cfg.Companions.Templating.UserDefinedSchema)
}

func TestLoad_DecodesRegistries(t *testing.T) {
	path := writeConfig(t, `
[registries."docker.io"]
username = "svc"
password = "secret"
mirror = "mirror.internal"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Contains(t, cfg.Registries.Entries, "docker.io")
	assert.Equal(t, "mirror.internal", cfg.Registries.Entries["docker.io"].Mirror)
}

func TestLoad_EnvOverlay(t *testing.T) {
	t.Setenv("PREVANT_RUNTIME_TYPE", "Kubernetes")
	t.Setenv("PREVANT_APPLICATIONS_MAX", "42")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, "Kubernetes", cfg.Runtime.Type)
	assert.Equal(t, 42, cfg.Applications.Max)
}

func TestLoad_MalformedTOML(t *testing.T) {
	path := writeConfig(t, `this is not valid toml {{{`)
	_, err := Load(path)
	require.Error(t, err)
}
