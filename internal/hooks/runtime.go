// Package hooks implements the sandboxed script evaluator backing the
// deployment hook and the id-token-claims-to-owner hook: both run as pure
// functions of (script, input) with no host I/O and a wall-clock budget.
// The embedded evaluator uses github.com/dop251/goja; the per-call timeout
// is a time.AfterFunc that interrupts the VM.
package hooks

import (
	"context"
	"time"

	"github.com/dop251/goja"

	"prevant/internal/apierr"
	"prevant/internal/domain"
)

// DefaultTimeout is the wall-clock budget for a single hook invocation.
const DefaultTimeout = 2 * time.Second

// Runtime evaluates hook scripts. It holds no state between calls: every
// invocation gets a fresh goja.Runtime, so one tenant's script can never
// observe another's globals (invariant: scripts have no access to secrets,
// and no host I/O is ever registered on the VM).
type Runtime struct {
	timeout time.Duration
}

// New builds a Runtime with the given per-call timeout. A zero timeout
// selects DefaultTimeout.
func New(timeout time.Duration) *Runtime {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runtime{timeout: timeout}
}

// ServiceView is the read/write shape of a service config as seen by the
// deployment hook: name/image/type are visible but discarded on return —
// changes to these read-only fields are silently discarded — only Env and
// Files are writable.
type ServiceView struct {
	Name  string            `json:"name"`
	Image string            `json:"image"`
	Type  string            `json:"type"`
	Env   map[string]string `json:"env"`
	Files map[string]string `json:"files"`
}

func toServiceView(s domain.ServiceConfig) ServiceView {
	env := make(map[string]string, len(s.Env))
	for k, v := range s.Env {
		env[k] = v.Value
	}
	files := make(map[string]string, len(s.Files))
	for k, v := range s.Files {
		files[k] = v
	}
	return ServiceView{Name: s.ServiceName, Image: s.Image, Type: string(s.Type), Env: env, Files: files}
}

// applyServiceView rebuilds a ServiceConfig from original, overwriting only
// Env and Files from view. Replicate/Templated flags on pre-existing env
// keys are preserved; a hook-introduced key gets the zero value for both.
func applyServiceView(original domain.ServiceConfig, view ServiceView) domain.ServiceConfig {
	out := original.Clone()

	env := make(map[string]domain.EnvVar, len(view.Env))
	for k, v := range view.Env {
		ev := out.Env[k]
		ev.Value = v
		env[k] = ev
	}
	out.Env = env

	files := make(map[string]string, len(view.Files))
	for k, v := range view.Files {
		files[k] = v
	}
	out.Files = files

	return out
}

// RunDeploymentHook evaluates script with (appName, serviceConfigs) and
// returns the services list to use from that point on. script must
// evaluate to a JavaScript function expression, e.g.
// "function(appName, services) { return services }".
func (r *Runtime) RunDeploymentHook(ctx context.Context, script string, appName domain.AppName, services []domain.ServiceConfig) ([]domain.ServiceConfig, error) {
	if script == "" {
		return services, nil
	}

	byName := make(map[string]domain.ServiceConfig, len(services))
	views := make([]ServiceView, len(services))
	for i, s := range services {
		views[i] = toServiceView(s)
		byName[s.ServiceName] = s
	}

	result, err := r.call(ctx, "deployment", script, string(appName), views)
	if err != nil {
		return nil, err
	}

	var returned []ServiceView
	if err := result.vm.ExportTo(result.value, &returned); err != nil {
		return nil, apierr.Wrap(apierr.KindHookError, "deployment hook must return an array of services", err)
	}

	out := make([]domain.ServiceConfig, 0, len(returned))
	for _, rv := range returned {
		original, ok := byName[rv.Name]
		if !ok {
			return nil, apierr.New(apierr.KindHookError, "deployment hook returned unknown service "+rv.Name)
		}
		out = append(out, applyServiceView(original, rv))
	}
	return out, nil
}

// RunOwnerHook evaluates script with claims and returns the resulting
// Owner. script must evaluate to a JavaScript function expression, e.g.
// "function(claims) { return {sub: claims.sub, iss: claims.iss} }".
func (r *Runtime) RunOwnerHook(ctx context.Context, script string, claims map[string]interface{}) (domain.Owner, error) {
	result, err := r.call(ctx, "id-token-claims-to-owner", script, claims)
	if err != nil {
		return domain.Owner{}, err
	}

	var owner domain.Owner
	if err := result.vm.ExportTo(result.value, &owner); err != nil {
		return domain.Owner{}, apierr.Wrap(apierr.KindHookError, "owner hook must return {sub, iss, name?}", err)
	}
	if owner.Sub == "" || owner.Iss == "" {
		return domain.Owner{}, apierr.New(apierr.KindHookError, "owner hook result missing sub or iss")
	}
	return owner, nil
}

type callResult struct {
	vm    *goja.Runtime
	value goja.Value
}

// call compiles script as a single function expression, invokes it with
// args, and enforces the wall-clock timeout via goja's cooperative
// interrupt mechanism. The VM is fresh per call and registers no host
// bindings, so scripts have no filesystem, network, or wall-clock access
// beyond their own arguments.
func (r *Runtime) call(ctx context.Context, phase, script string, args ...interface{}) (*callResult, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	fnValue, err := vm.RunString("(" + script + ")")
	if err != nil {
		return nil, apierr.Wrap(apierr.KindHookError, phase+" hook script is not valid", err)
	}
	fn, ok := goja.AssertFunction(fnValue)
	if !ok {
		return nil, apierr.New(apierr.KindHookError, phase+" hook script must evaluate to a function")
	}

	jsArgs := make([]goja.Value, len(args))
	for i, a := range args {
		jsArgs[i] = vm.ToValue(a)
	}

	timer := time.AfterFunc(r.timeout, func() {
		vm.Interrupt(phase + " hook timed out after " + r.timeout.String())
	})
	defer timer.Stop()

	result, err := fn(goja.Undefined(), jsArgs...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apierr.Wrap(apierr.KindHookError, phase+" hook aborted: request canceled", ctx.Err())
		}
		return nil, apierr.Wrap(apierr.KindHookError, phase+" hook execution failed", err)
	}

	return &callResult{vm: vm, value: result}, nil
}
