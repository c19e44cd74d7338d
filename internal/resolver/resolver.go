// Package resolver implements the Companion Resolver: it turns a raw
// deploy request plus configuration templates plus bootstrap output into
// the final, ordered list of ServiceConfigs an Infrastructure backend
// reconciles against. Follows a definition-lookup + availability-check +
// converter pipeline shape, generalized into the
// instance/replica/app-companion/service-companion expansion pipeline.
package resolver

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"prevant/internal/apierr"
	"prevant/internal/config"
	"prevant/internal/domain"
	"prevant/internal/hooks"
	"prevant/internal/registry"
	"prevant/internal/template"
)

// BootstrapRunner runs the configured bootstrap containers and returns the
// application-companion candidates they produced. Declared
// as an interface here, implemented by internal/bootstrap, so this package
// never imports the backend-aware bootstrap runner directly.
type BootstrapRunner interface {
	Run(ctx context.Context, containers []config.BootstrapContainer, templateCtx map[string]interface{}) ([]domain.ServiceConfig, error)
}

// DigestResolver resolves an image reference to a content digest
// (implemented by *registry.Resolver).
type DigestResolver interface {
	Digest(ctx context.Context, image string) (string, error)
}

// Resolver runs the ten-step companion expansion algorithm.
type Resolver struct {
	engine    *template.Engine
	hooks     *hooks.Runtime
	digests   DigestResolver
	bootstrap BootstrapRunner
}

// New builds a Resolver. bootstrap may be nil if no deployment ever
// configures `companions.bootstrapping.containers`; a nil bootstrap with a
// non-empty bootstrap config is a programmer error surfaced by Resolve.
func New(engine *template.Engine, hookRuntime *hooks.Runtime, digests DigestResolver, bootstrap BootstrapRunner) *Resolver {
	return &Resolver{engine: engine, hooks: hookRuntime, digests: digests, bootstrap: bootstrap}
}

// Input bundles everything step 1-10 needs. CurrentlyDeployedSrc/Dst carry
// the *declared* ServiceConfig of each app's last successful reconciliation
// (not just the observed domain.Service), since replication and the
// redeploy-never/redeploy-on-image-update filters both need fields
// (Env.Replicate, the deployed image reference) that an observed Service
// does not retain. See DESIGN.md's Open Question decisions.
type Input struct {
	AppName              domain.AppName
	RequestedConfigs     []domain.ServiceConfig
	ReplicateFrom        *domain.AppName
	ReplicationCondition config.ReplicationCondition
	UserDefined          interface{}
	CurrentlyDeployedSrc []domain.ServiceConfig
	CurrentlyDeployedDst []domain.ServiceConfig
	Context              domain.DeploymentContext
}

// Resolve runs the full companion resolution pipeline. Any step failure is
// fatal: nothing from a failed resolution is ever applied to a backend.
func (r *Resolver) Resolve(ctx context.Context, cfg config.Config, in Input) ([]domain.ServiceConfig, error) {
	// Step 1: userDefined validation.
	if err := validateUserDefined(cfg.Companions.Templating.UserDefinedSchema, in.UserDefined); err != nil {
		return nil, err
	}

	tmplCtx := in.Context.ToMap()
	byName := make(map[string]domain.ServiceConfig, len(in.RequestedConfigs))

	// Step 2: instance set. The request always wins.
	for _, rc := range in.RequestedConfigs {
		svc := rc.Clone()
		svc.Type = domain.ServiceTypeInstance
		byName[svc.ServiceName] = svc
	}

	// Step 3: replication.
	if in.ReplicateFrom != nil && replicationApplies(in.ReplicationCondition, in.ReplicateFrom != nil) {
		for _, src := range in.CurrentlyDeployedSrc {
			if _, collides := byName[src.ServiceName]; collides {
				continue
			}
			byName[src.ServiceName] = replicaFrom(src)
		}
	}

	// Step 4: app companions.
	for key, spec := range cfg.Companions.Definitions {
		if spec.Type != "application" {
			continue
		}
		if err := r.applyCompanionSpec(byName, key, spec, domain.ServiceTypeAppCompanion, tmplCtx); err != nil {
			return nil, fmt.Errorf("app companion %q: %w", key, err)
		}
	}

	// Step 6 (performed before step 5, so a bootstrap candidate that merges
	// into an instance also gets its service companions; candidates that
	// stay app companions get none, since step 5 covers instances and
	// replicas only): bootstrap runner output, treated as additional
	// application companions.
	if len(cfg.Companions.Bootstrapping.Containers) > 0 {
		if r.bootstrap == nil {
			return nil, apierr.New(apierr.KindBootstrapError, "bootstrap containers configured but no bootstrap runner is wired")
		}
		produced, err := r.bootstrap.Run(ctx, cfg.Companions.Bootstrapping.Containers, tmplCtx)
		if err != nil {
			return nil, err
		}
		for _, candidate := range produced {
			applyResolvedCompanion(byName, candidate, domain.ServiceTypeAppCompanion)
		}
	}

	// Step 5: service companions, rendered against each instance/replica's
	// own per-service context.
	targets := instanceAndReplicaNames(byName)
	for _, name := range targets {
		target := byName[name]
		serviceCtx := serviceScopedContext(tmplCtx, target)
		for key, spec := range cfg.Companions.Definitions {
			if spec.Type != "service" {
				continue
			}
			if err := r.applyCompanionSpec(byName, key, spec, domain.ServiceTypeServiceCompanion, serviceCtx); err != nil {
				return nil, fmt.Errorf("service companion %q for %q: %w", key, name, err)
			}
		}
	}

	// Step 7: deployment-strategy filter (companions only).
	dstByName := make(map[string]domain.ServiceConfig, len(in.CurrentlyDeployedDst))
	for _, d := range in.CurrentlyDeployedDst {
		dstByName[d.ServiceName] = d
	}
	if err := r.applyDeploymentStrategies(ctx, byName, dstByName); err != nil {
		return nil, err
	}

	// Step 8: secrets merge.
	applySecrets(byName, cfg.Services, in.AppName)

	// Build the final slice before handing to the hook, since the hook
	// operates on the whole list.
	final := make([]domain.ServiceConfig, 0, len(byName))
	for _, svc := range byName {
		final = append(final, svc)
	}
	sortByPriorityThenName(final)

	// Step 9: hook application.
	if cfg.Hooks.Deployment != "" {
		hooked, err := r.hooks.RunDeploymentHook(ctx, cfg.Hooks.Deployment, in.AppName, final)
		if err != nil {
			return nil, err
		}
		final = hooked
	}

	// Step 10: deterministic ordering (re-sorted in case the hook reordered
	// or the hook path was skipped above without sorting its own output).
	sortByPriorityThenName(final)
	return final, nil
}

func replicationApplies(condition config.ReplicationCondition, requested bool) bool {
	switch condition {
	case config.ReplicateAlwaysFromDefaultApp, config.ReplicateOnlyWhenRequested:
		return requested
	default:
		return false
	}
}

func replicaFrom(src domain.ServiceConfig) domain.ServiceConfig {
	out := src.Clone()
	out.Type = domain.ServiceTypeReplica
	env := make(map[string]domain.EnvVar, len(src.Env))
	for k, v := range src.Env {
		if v.Replicate {
			env[k] = v
		}
	}
	out.Env = env
	return out
}

func instanceAndReplicaNames(byName map[string]domain.ServiceConfig) []string {
	names := make([]string, 0, len(byName))
	for name, svc := range byName {
		if svc.Type == domain.ServiceTypeInstance || svc.Type == domain.ServiceTypeReplica {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func serviceScopedContext(base map[string]interface{}, target domain.ServiceConfig) map[string]interface{} {
	overlay := map[string]interface{}{
		"service": map[string]interface{}{
			"name": target.ServiceName,
			"type": string(target.Type),
		},
	}
	return template.MergeContexts(base, overlay)
}

// applyCompanionSpec renders spec against ctxMap and folds it into byName,
// implementing the collision/upgrade rule common to steps 4 and 5.
func (r *Resolver) applyCompanionSpec(byName map[string]domain.ServiceConfig, key string, spec config.CompanionSpec, companionType domain.ServiceType, ctxMap map[string]interface{}) error {
	name := spec.ServiceName
	if name == "" {
		name = key
	}
	renderedName, err := r.engine.Render(name, ctxMap)
	if err != nil {
		return err
	}
	renderedImage, err := r.engine.Render(spec.Image, ctxMap)
	if err != nil {
		return err
	}

	env, err := renderEnv(r.engine, spec.Env, ctxMap)
	if err != nil {
		return err
	}
	files, err := r.engine.RenderMap(spec.Files, ctxMap)
	if err != nil {
		return err
	}

	companion := domain.ServiceConfig{
		ServiceName:        renderedName,
		Image:              renderedImage,
		Env:                env,
		Files:              files,
		Labels:             spec.Labels,
		DeploymentStrategy: spec.DeploymentStrategy,
		StorageStrategy:    spec.StorageStrategy,
	}
	applyResolvedCompanion(byName, companion, companionType)
	return nil
}

// applyResolvedCompanion folds an already-rendered companion ServiceConfig
// into byName (used both by applyCompanionSpec and by bootstrap output,
// which arrives pre-rendered).
func applyResolvedCompanion(byName map[string]domain.ServiceConfig, companion domain.ServiceConfig, companionType domain.ServiceType) {
	existing, collides := byName[companion.ServiceName]
	if !collides {
		companion.Type = companionType
		byName[companion.ServiceName] = companion
		return
	}

	if companionDiffersFromRequest(existing, companion) {
		merged := mergeCompanionIntoInstance(existing, companion)
		merged.Type = domain.ServiceTypeInstance
		byName[companion.ServiceName] = merged
		return
	}

	existing.Type = companionType
	byName[companion.ServiceName] = existing
}

func renderEnv(engine *template.Engine, env map[string]domain.EnvVar, ctxMap map[string]interface{}) (map[string]domain.EnvVar, error) {
	out := make(map[string]domain.EnvVar, len(env))
	for k, v := range env {
		if v.Templated {
			rendered, err := engine.Render(v.Value, ctxMap)
			if err != nil {
				return nil, fmt.Errorf("env %q: %w", k, err)
			}
			v.Value = rendered
		}
		out[k] = v
	}
	return out, nil
}

// applyDeploymentStrategies implements step 7: only companions are
// filtered; instances always apply as the request specified.
func (r *Resolver) applyDeploymentStrategies(ctx context.Context, byName, dstByName map[string]domain.ServiceConfig) error {
	for name, svc := range byName {
		if !svc.Type.IsCompanion() {
			continue
		}
		deployed, exists := dstByName[name]

		switch svc.DeploymentStrategy {
		case domain.DeployNever:
			if exists {
				byName[name] = deployed
			}
		case domain.DeployOnImageUpdate:
			if !exists {
				continue
			}
			newDigest, err := r.digests.Digest(ctx, svc.Image)
			if err != nil {
				return err
			}
			oldDigest, err := r.digests.Digest(ctx, deployed.Image)
			if err != nil {
				return err
			}
			if newDigest == oldDigest {
				byName[name] = deployed
			}
		case domain.DeployAlways, "":
			// include as resolved
		}
	}
	return nil
}

func applySecrets(byName map[string]domain.ServiceConfig, services map[string]config.ServiceSecrets, appName domain.AppName) {
	for name, svc := range byName {
		secretSet, ok := services[name]
		if !ok {
			continue
		}
		files := svc.Files
		if files == nil {
			files = map[string]string{}
		}
		for _, secret := range secretSet.Secrets {
			matched, err := regexp.MatchString(secret.AppSelector, string(appName))
			if err != nil || !matched {
				continue
			}
			files[secret.Path] = secret.Data
		}
		svc.Files = files
		byName[name] = svc
	}
}

func sortByPriorityThenName(services []domain.ServiceConfig) {
	sort.Slice(services, func(i, j int) bool {
		pi, pj := services[i].Type.Priority(), services[j].Type.Priority()
		if pi != pj {
			return pi < pj
		}
		return services[i].ServiceName < services[j].ServiceName
	})
}
