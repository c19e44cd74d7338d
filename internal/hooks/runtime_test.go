package hooks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prevant/internal/apierr"
	"prevant/internal/domain"
)

func sampleServices() []domain.ServiceConfig {
	return []domain.ServiceConfig{
		{
			ServiceName: "web",
			Image:       "registry.example.com/app/web:1.0",
			Type:        domain.ServiceTypeInstance,
			Env:         map[string]domain.EnvVar{"PORT": {Value: "8080", Replicate: true}},
		},
	}
}

func TestRunDeploymentHook_NoScript(t *testing.T) {
	r := New(0)
	out, err := r.RunDeploymentHook(context.Background(), "", "shop", sampleServices())
	require.NoError(t, err)
	assert.Equal(t, sampleServices(), out)
}

func TestRunDeploymentHook_AddsEnv(t *testing.T) {
	r := New(0)
	script := `function(appName, services) {
		return services.map(function(s) {
			s.env["EXTRA"] = appName;
			return s;
		});
	}`

	out, err := r.RunDeploymentHook(context.Background(), script, "shop", sampleServices())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "shop", out[0].Env["EXTRA"].Value)
	assert.Equal(t, "8080", out[0].Env["PORT"].Value)
	assert.True(t, out[0].Env["PORT"].Replicate, "preexisting env flags survive a hook round-trip")
}

func TestRunDeploymentHook_ReadOnlyFieldsDiscarded(t *testing.T) {
	r := New(0)
	script := `function(appName, services) {
		return services.map(function(s) {
			s.image = "evil/image:latest";
			s.type = "app-companion";
			return s;
		});
	}`

	out, err := r.RunDeploymentHook(context.Background(), script, "shop", sampleServices())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "registry.example.com/app/web:1.0", out[0].Image)
	assert.Equal(t, domain.ServiceTypeInstance, out[0].Type)
}

func TestRunDeploymentHook_SyntaxError(t *testing.T) {
	r := New(0)
	_, err := r.RunDeploymentHook(context.Background(), "function(", "shop", sampleServices())
	require.Error(t, err)
	assert.Equal(t, apierr.KindHookError, apierr.KindOf(err))
}

func TestRunDeploymentHook_Timeout(t *testing.T) {
	r := New(20 * time.Millisecond)
	script := `function(appName, services) { while (true) {} }`

	_, err := r.RunDeploymentHook(context.Background(), script, "shop", sampleServices())
	require.Error(t, err)
	assert.Equal(t, apierr.KindHookError, apierr.KindOf(err))
}

func TestRunDeploymentHook_NoHostIO(t *testing.T) {
	r := New(0)
	script := `function(appName, services) {
		if (typeof require !== "undefined" || typeof fetch !== "undefined" || typeof process !== "undefined") {
			throw new Error("host binding leaked into sandbox");
		}
		return services;
	}`

	_, err := r.RunDeploymentHook(context.Background(), script, "shop", sampleServices())
	require.NoError(t, err)
}

func TestRunOwnerHook(t *testing.T) {
	r := New(0)
	script := `function(claims) { return {sub: claims.sub, iss: claims.iss, name: claims.name}; }`

	owner, err := r.RunOwnerHook(context.Background(), script, map[string]interface{}{
		"sub": "user-123", "iss": "https://issuer.example.com", "name": "Jane",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.Owner{Sub: "user-123", Iss: "https://issuer.example.com", Name: "Jane"}, owner)
}

func TestRunOwnerHook_MissingFields(t *testing.T) {
	r := New(0)
	script := `function(claims) { return {name: "incomplete"}; }`

	_, err := r.RunOwnerHook(context.Background(), script, map[string]interface{}{"sub": "x"})
	require.Error(t, err)
	assert.Equal(t, apierr.KindHookError, apierr.KindOf(err))
}
