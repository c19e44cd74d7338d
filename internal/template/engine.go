// Package template implements the template engine: variable substitution
// and conditional/iteration blocks over a DeploymentContext, plus two
// companion-aware helper functions. Follows a RenderGoTemplate pattern
// (text/template + sprig), generalized into the primary rendering path to
// support control-flow blocks, not just substitution.
package template

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"prevant/internal/apierr"
	"prevant/internal/domain"
)

// Engine renders template strings and structured values against a
// DeploymentContext. Rendering is a pure function of its inputs: it
// performs no I/O and holds no state across calls.
type Engine struct {
	funcs template.FuncMap
}

// New creates a template engine with sprig's function library plus the
// companion-type helpers.
func New() *Engine {
	funcs := sprig.TxtFuncMap()
	funcs["isCompanion"] = isCompanion
	funcs["isNotCompanion"] = func(t interface{}) bool { return !isCompanion(t) }
	return &Engine{funcs: funcs}
}

func isCompanion(t interface{}) bool {
	switch v := t.(type) {
	case domain.ServiceType:
		return v.IsCompanion()
	case string:
		return domain.ServiceType(v).IsCompanion()
	case fmt.Stringer:
		return domain.ServiceType(v.String()).IsCompanion()
	default:
		return false
	}
}

// Render expands a single template string against ctx. Unknown variables
// and syntax errors both surface as a TemplateError; the caller treats
// this as fatal to the operation.
func (e *Engine) Render(tmplStr string, ctx map[string]interface{}) (string, error) {
	tmpl, err := template.New("render").Funcs(e.funcs).Option("missingkey=error").Parse(tmplStr)
	if err != nil {
		return "", apierr.Wrap(apierr.KindTemplateError, "invalid template syntax", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", apierr.Wrap(apierr.KindTemplateError, "template evaluation failed", err)
	}
	return buf.String(), nil
}

// RenderValue walks a value (as decoded from JSON: string, map[string]any,
// []any, or a scalar) and renders every string leaf through Render. Maps
// and slices are rebuilt rather than mutated in place.
func (e *Engine) RenderValue(value interface{}, ctx map[string]interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return e.Render(v, ctx)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			rendered, err := e.RenderValue(val, ctx)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = rendered
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			rendered, err := e.RenderValue(val, ctx)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return value, nil
	}
}

// RenderMap is a convenience for the common case of rendering a
// map[string]string (e.g. an EnvVar value, a file's content) where the
// result must also be a plain string.
func (e *Engine) RenderMap(m map[string]string, ctx map[string]interface{}) (map[string]string, error) {
	out := make(map[string]string, len(m))
	for k, v := range m {
		rendered, err := e.Render(v, ctx)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = rendered
	}
	return out, nil
}
