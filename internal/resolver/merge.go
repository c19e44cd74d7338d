package resolver

import "prevant/internal/domain"

// companionDiffersFromRequest reports whether a rendered companion's
// templated fields (image, env values, files) differ from the request
// entry it collides with. A "no" means the companion is redundant with
// what the request already declares, so it can simply be retagged; a
// "yes" means the companion contributes something the request didn't, so
// its fields must be merged in.
func companionDiffersFromRequest(request, companion domain.ServiceConfig) bool {
	if request.Image != companion.Image {
		return true
	}
	if len(request.Env) != len(companion.Env) {
		return true
	}
	for k, v := range companion.Env {
		rv, ok := request.Env[k]
		if !ok || rv.Value != v.Value {
			return true
		}
	}
	if len(request.Files) != len(companion.Files) {
		return true
	}
	for k, v := range companion.Files {
		if rv, ok := request.Files[k]; !ok || rv != v {
			return true
		}
	}
	return false
}

// mergeCompanionIntoInstance merges a companion's definition under an
// existing request/instance entry: env and files are request-wins (the
// instance's keys are never overwritten, only extended); labels are a
// union; everything else the instance leaves unset falls back to the
// companion's value.
func mergeCompanionIntoInstance(instance, companion domain.ServiceConfig) domain.ServiceConfig {
	out := instance.Clone()

	if out.Env == nil {
		out.Env = make(map[string]domain.EnvVar, len(companion.Env))
	}
	for k, v := range companion.Env {
		if _, exists := out.Env[k]; !exists {
			out.Env[k] = v
		}
	}

	if out.Files == nil {
		out.Files = make(map[string]string, len(companion.Files))
	}
	for k, v := range companion.Files {
		if _, exists := out.Files[k]; !exists {
			out.Files[k] = v
		}
	}

	if out.Labels == nil {
		out.Labels = make(map[string]string, len(companion.Labels))
	}
	for k, v := range companion.Labels {
		if _, exists := out.Labels[k]; !exists {
			out.Labels[k] = v
		}
	}

	if out.Routing == nil {
		out.Routing = companion.Routing
	}
	if len(out.Volumes) == 0 {
		out.Volumes = companion.Volumes
	}
	if out.DeploymentStrategy == "" {
		out.DeploymentStrategy = companion.DeploymentStrategy
	}
	if out.StorageStrategy == "" {
		out.StorageStrategy = companion.StorageStrategy
	}
	if out.MemoryLimitBytes == 0 {
		out.MemoryLimitBytes = companion.MemoryLimitBytes
	}
	if len(out.Ports) == 0 {
		out.Ports = companion.Ports
	}

	return out
}
