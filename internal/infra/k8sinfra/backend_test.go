package k8sinfra

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"prevant/internal/domain"
)

func TestBuildFilesSecret_NoFilesReturnsNil(t *testing.T) {
	secret, mounts, volumes := buildFilesSecret("demo", "demo-ns", domain.ServiceConfig{ServiceName: "web"})
	assert.Nil(t, secret)
	assert.Nil(t, mounts)
	assert.Nil(t, volumes)
}

func TestBuildFilesSecret_EveryFileGetsAMountAndSecretKey(t *testing.T) {
	cfg := domain.ServiceConfig{
		ServiceName: "web",
		Files: map[string]string{
			"/etc/tls/cert.pem":   "cert-bytes",
			"/etc/app/config.yml": "key: value",
		},
	}

	secret, mounts, volumes := buildFilesSecret("demo", "demo-ns", cfg)
	require.NotNil(t, secret)
	assert.Equal(t, "web-files", secret.Name)
	assert.Equal(t, "demo-ns", secret.Namespace)
	assert.Equal(t, "demo", secret.Labels[labelApp])
	assert.Equal(t, "web", secret.Labels[labelService])
	require.Len(t, secret.Data, 2)

	require.Len(t, mounts, 2)
	require.Len(t, volumes, 1)
	assert.Equal(t, filesVolumeName, volumes[0].Name)
	require.NotNil(t, volumes[0].VolumeSource.Secret)
	assert.Equal(t, "web-files", volumes[0].VolumeSource.Secret.SecretName)

	seen := map[string]string{}
	for _, m := range mounts {
		assert.Equal(t, filesVolumeName, m.Name)
		assert.True(t, m.ReadOnly)
		content, ok := secret.Data[m.SubPath]
		require.True(t, ok, "no secret key for mount %s", m.MountPath)
		seen[m.MountPath] = string(content)
	}
	assert.Equal(t, cfg.Files, seen)
}

func TestBuildFilesSecret_DeterministicAcrossCalls(t *testing.T) {
	cfg := domain.ServiceConfig{
		ServiceName: "web",
		Files: map[string]string{
			"/etc/tls/cert.pem":   "cert-bytes",
			"/etc/app/config.yml": "key: value",
			"/etc/app/extra.yml":  "more: data",
		},
	}

	secretA, mountsA, _ := buildFilesSecret("demo", "demo-ns", cfg)
	secretB, mountsB, _ := buildFilesSecret("demo", "demo-ns", cfg)
	assert.Equal(t, secretA.Data, secretB.Data)

	pathToKeyA := map[string]string{}
	for _, m := range mountsA {
		pathToKeyA[m.MountPath] = m.SubPath
	}
	for _, m := range mountsB {
		assert.Equal(t, pathToKeyA[m.MountPath], m.SubPath)
	}
}

func TestToEnvVars_CarriesValueThrough(t *testing.T) {
	out := toEnvVars(map[string]domain.EnvVar{"FOO": {Value: "bar"}})
	require.Len(t, out, 1)
	assert.Equal(t, "FOO", out[0].Name)
	assert.Equal(t, "bar", out[0].Value)
}

func TestToContainerPorts_ExposesDeclaredPorts(t *testing.T) {
	ports := toContainerPorts([]domain.PortSpec{{Number: 8080, Protocol: "tcp"}})
	require.Len(t, ports, 1)
	assert.Equal(t, int32(8080), ports[0].ContainerPort)
	assert.Equal(t, corev1.ProtocolTCP, ports[0].Protocol)
}

func TestBuildVolumeClaims_NoneWithoutStorageStrategy(t *testing.T) {
	cfg := domain.ServiceConfig{
		ServiceName: "web",
		Volumes:     []domain.VolumeSpec{{Name: "data", MountPath: "/data"}},
	}
	claims, mounts, volumes := buildVolumeClaims("demo", "demo-ns", cfg)
	assert.Nil(t, claims)
	assert.Nil(t, mounts)
	assert.Nil(t, volumes)
}

func TestBuildVolumeClaims_OnePerDeclaredVolume(t *testing.T) {
	cfg := domain.ServiceConfig{
		ServiceName:     "web",
		StorageStrategy: domain.StorageMountDeclaredImageVols,
		Volumes: []domain.VolumeSpec{
			{Name: "data", MountPath: "/var/lib/data"},
			{Name: "cache", MountPath: "/var/cache/app", SubPath: "app"},
		},
	}
	claims, mounts, volumes := buildVolumeClaims("demo", "demo-ns", cfg)
	require.Len(t, claims, 2)
	require.Len(t, mounts, 2)
	require.Len(t, volumes, 2)

	assert.Equal(t, "web-data", claims[0].Name)
	assert.Equal(t, "demo-ns", claims[0].Namespace)
	assert.Equal(t, "web-cache", claims[1].Name)

	assert.Equal(t, "data", mounts[0].Name)
	assert.Equal(t, "/var/lib/data", mounts[0].MountPath)
	assert.Equal(t, "cache", mounts[1].Name)
	assert.Equal(t, "app", mounts[1].SubPath)

	assert.Equal(t, "web-data", volumes[0].VolumeSource.PersistentVolumeClaim.ClaimName)
}

func TestBuildTraefikMiddlewares_StripAndForwardedPrefix(t *testing.T) {
	cfg := domain.ServiceConfig{ServiceName: "web"}
	mws := buildTraefikMiddlewares("demo", "demo-ns", cfg)
	require.Len(t, mws, 2)

	assert.Equal(t, "demo-web-stripprefix", mws[0].GetName())
	prefixes, found, err := unstructured.NestedSlice(mws[0].Object, "spec", "stripPrefix", "prefixes")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []interface{}{"/demo/web"}, prefixes)

	assert.Equal(t, "demo-web-forwardedprefix", mws[1].GetName())
}

func TestBuildTraefikIngressRoute_DefaultRuleAndMiddlewareChain(t *testing.T) {
	cfg := domain.ServiceConfig{ServiceName: "web", Ports: []domain.PortSpec{{Number: 8080}}}
	route := buildTraefikIngressRoute("demo", "demo-ns", cfg)
	assert.Equal(t, "demo-web", route.GetName())
	assert.Equal(t, "IngressRoute", route.GetKind())
}

func TestBuildTraefikIngressRoute_CustomRuleOverridesDefault(t *testing.T) {
	cfg := domain.ServiceConfig{
		ServiceName: "web",
		Routing:     &domain.RoutingConfig{Rule: "Host(`demo.example.com`)"},
	}
	route := buildTraefikIngressRoute("demo", "demo-ns", cfg)
	routes, found, err := unstructured.NestedSlice(route.Object, "spec", "routes")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, routes, 1)
	match := routes[0].(map[string]interface{})["match"]
	assert.Equal(t, "Host(`demo.example.com`)", match)
}
