package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prevant/internal/apierr"
)

func ctxFor(appName string) map[string]interface{} {
	return map[string]interface{}{
		"application": map[string]interface{}{
			"name":    appName,
			"baseUrl": "https://" + appName + ".example.com",
		},
		"services": []interface{}{
			map[string]interface{}{"name": "db", "port": 5432, "type": "service-companion"},
		},
	}
}

func TestRender_Substitution(t *testing.T) {
	e := New()
	out, err := e.Render("postgres://{{ .application.name }}:5432", ctxFor("shop"))
	require.NoError(t, err)
	assert.Equal(t, "postgres://shop:5432", out)
}

func TestRender_MissingVariable(t *testing.T) {
	e := New()
	_, err := e.Render("{{ .application.missing }}", ctxFor("shop"))
	require.Error(t, err)
	assert.Equal(t, apierr.KindTemplateError, apierr.KindOf(err))
}

func TestRender_Conditional(t *testing.T) {
	e := New()
	out, err := e.Render(`{{ range .services }}{{ if isCompanion .type }}companion:{{ .name }}{{ end }}{{ end }}`, ctxFor("shop"))
	require.NoError(t, err)
	assert.Equal(t, "companion:db", out)
}

func TestRender_IsNotCompanion(t *testing.T) {
	e := New()
	out, err := e.Render(`{{ if isNotCompanion "instance" }}yes{{ else }}no{{ end }}`, nil)
	require.NoError(t, err)
	assert.Equal(t, "yes", out)
}

func TestRender_SyntaxError(t *testing.T) {
	e := New()
	_, err := e.Render("{{ .unterminated", ctxFor("shop"))
	require.Error(t, err)
	assert.Equal(t, apierr.KindTemplateError, apierr.KindOf(err))
}

func TestRenderValue_Deterministic(t *testing.T) {
	e := New()
	value := map[string]interface{}{
		"url":   "{{ .application.baseUrl }}/health",
		"count": 3,
	}
	ctx := ctxFor("api")

	first, err := e.RenderValue(value, ctx)
	require.NoError(t, err)
	second, err := e.RenderValue(value, ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRenderMap(t *testing.T) {
	e := New()
	out, err := e.RenderMap(map[string]string{"HOST": "{{ .application.name }}"}, ctxFor("api"))
	require.NoError(t, err)
	assert.Equal(t, "api", out["HOST"])
}
