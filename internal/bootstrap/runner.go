// Package bootstrap implements the Bootstrap Runner: it runs short-lived
// containers through the active infra.Backend, captures their stdout, and
// decodes it into application-companion ServiceConfig candidates. Follows
// a one-shot object creation + watch-for-completion pattern, combined with
// gopkg.in/yaml.v3 document splitting and sigs.k8s.io/yaml for converting
// each document into typed k8s.io/api objects.
package bootstrap

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/yaml"

	"prevant/internal/apierr"
	"prevant/internal/config"
	"prevant/internal/domain"
	"prevant/internal/template"
)

// ContainerRunner is the minimal capability the bootstrap runner needs
// from the active infra.Backend: run one short-lived container to
// completion and return its captured stdout plus exit code. Backends
// implement this in addition to infra.Backend so the resolver package
// never has to import a concrete backend.
type ContainerRunner interface {
	RunToCompletion(ctx context.Context, image string, args []string) (stdout string, exitCode int, stderrSnippet string, err error)
}

// Runner implements resolver.BootstrapRunner.
type Runner struct {
	containers ContainerRunner
	engine     *template.Engine
}

// New builds a bootstrap Runner bound to a ContainerRunner implementation.
func New(containers ContainerRunner, engine *template.Engine) *Runner {
	return &Runner{containers: containers, engine: engine}
}

// Run executes every configured bootstrap container sequentially,
// templates args against templateCtx, and decodes each container's stdout
// into application-companion ServiceConfig candidates.
func (r *Runner) Run(ctx context.Context, containers []config.BootstrapContainer, templateCtx map[string]interface{}) ([]domain.ServiceConfig, error) {
	var candidates []domain.ServiceConfig
	for _, c := range containers {
		renderedArgs := make([]string, len(c.Args))
		for i, a := range c.Args {
			rendered, err := r.engine.Render(a, templateCtx)
			if err != nil {
				return nil, fmt.Errorf("bootstrap container %q arg %d: %w", c.Image, i, err)
			}
			renderedArgs[i] = rendered
		}

		stdout, exitCode, stderrSnippet, err := r.containers.RunToCompletion(ctx, c.Image, renderedArgs)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindBootstrapError, fmt.Sprintf("bootstrap container %q failed to run", c.Image), err)
		}
		if exitCode != 0 {
			return nil, apierr.New(apierr.KindBootstrapError, fmt.Sprintf("bootstrap container %q exited %d: %s", c.Image, exitCode, stderrSnippet))
		}

		decoded, err := decodeManifests(stdout)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindBootstrapError, fmt.Sprintf("bootstrap container %q produced undecodable output", c.Image), err)
		}
		candidates = append(candidates, decoded...)
	}
	return candidates, nil
}

// splitYAMLDocuments splits a multi-document YAML stream on "---" markers,
// discarding blank documents the way a kubectl-apply-style client would.
func splitYAMLDocuments(stream string) []string {
	var docs []string
	var current strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(stream))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "---" {
			if strings.TrimSpace(current.String()) != "" {
				docs = append(docs, current.String())
			}
			current.Reset()
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
	}
	if strings.TrimSpace(current.String()) != "" {
		docs = append(docs, current.String())
	}
	return docs
}

type typeMeta struct {
	Kind string `json:"kind"`
}

// decodeManifests parses a YAML document stream into ServiceConfig
// candidates, one per Deployment-shaped document. Services contribute
// ports, Ingresses and Traefik IngressRoutes contribute routing rules, and
// ConfigMaps contribute files to the candidate they describe rather than
// becoming candidates of their own. Secret documents are parsed but not
// applied to any candidate, and Middleware documents change nothing
// because only spec.routes entries are read.
func decodeManifests(stream string) ([]domain.ServiceConfig, error) {
	docs := splitYAMLDocuments(stream)

	candidates := map[string]*domain.ServiceConfig{}
	var order []string
	auxiliary := map[string][]byte{}

	for _, doc := range docs {
		jsonDoc, err := yaml.YAMLToJSON([]byte(doc))
		if err != nil {
			return nil, fmt.Errorf("invalid YAML document: %w", err)
		}
		var meta typeMeta
		if err := yamlUnmarshalJSON(jsonDoc, &meta); err != nil {
			return nil, err
		}

		switch meta.Kind {
		case "Deployment":
			var d appsv1.Deployment
			if err := yamlUnmarshalJSON(jsonDoc, &d); err != nil {
				return nil, err
			}
			svc := deploymentToServiceConfig(d)
			candidates[svc.ServiceName] = &svc
			order = append(order, svc.ServiceName)
		case "Service":
			var s corev1.Service
			if err := yamlUnmarshalJSON(jsonDoc, &s); err != nil {
				return nil, err
			}
			applyServicePorts(candidates, s)
		case "Ingress":
			var ing networkingv1.Ingress
			if err := yamlUnmarshalJSON(jsonDoc, &ing); err != nil {
				return nil, err
			}
			applyIngressRouting(candidates, ing)
		case "ConfigMap":
			var cm corev1.ConfigMap
			if err := yamlUnmarshalJSON(jsonDoc, &cm); err != nil {
				return nil, err
			}
			applyConfigMapFiles(candidates, cm)
		case "Secret":
			auxiliary["secret"] = jsonDoc
		case "IngressRoute", "Middleware":
			var u unstructured.Unstructured
			if err := u.UnmarshalJSON(jsonDoc); err != nil {
				return nil, err
			}
			applyTraefikRouting(candidates, u)
		}
	}

	out := make([]domain.ServiceConfig, 0, len(order))
	for _, name := range order {
		out = append(out, *candidates[name])
	}
	return out, nil
}

func yamlUnmarshalJSON(jsonDoc []byte, out interface{}) error {
	return yaml.Unmarshal(jsonDoc, out)
}

func deploymentToServiceConfig(d appsv1.Deployment) domain.ServiceConfig {
	svc := domain.ServiceConfig{ServiceName: d.Name, Labels: d.Labels}
	if len(d.Spec.Template.Spec.Containers) > 0 {
		c := d.Spec.Template.Spec.Containers[0]
		svc.Image = c.Image
		if len(c.Env) > 0 {
			svc.Env = make(map[string]domain.EnvVar, len(c.Env))
			for _, e := range c.Env {
				svc.Env[e.Name] = domain.EnvVar{Value: e.Value}
			}
		}
		for _, p := range c.Ports {
			svc.Ports = append(svc.Ports, domain.PortSpec{Number: int(p.ContainerPort), Protocol: strings.ToLower(string(p.Protocol))})
		}
	}
	return svc
}

func applyServicePorts(candidates map[string]*domain.ServiceConfig, s corev1.Service) {
	svc, ok := candidates[s.Name]
	if !ok {
		return
	}
	if len(svc.Ports) > 0 {
		return
	}
	for _, p := range s.Spec.Ports {
		svc.Ports = append(svc.Ports, domain.PortSpec{Number: int(p.Port), Protocol: strings.ToLower(string(p.Protocol))})
	}
}

func applyIngressRouting(candidates map[string]*domain.ServiceConfig, ing networkingv1.Ingress) {
	for _, rule := range ing.Spec.Rules {
		for _, path := range rule.HTTP.Paths {
			if path.Backend.Service == nil {
				continue
			}
			svc, ok := candidates[path.Backend.Service.Name]
			if !ok {
				continue
			}
			svc.Routing = &domain.RoutingConfig{Rule: fmt.Sprintf("Host(`%s`) && PathPrefix(`%s`)", rule.Host, path.Path)}
		}
	}
}

func applyConfigMapFiles(candidates map[string]*domain.ServiceConfig, cm corev1.ConfigMap) {
	owner := cm.Labels["app"]
	svc, ok := candidates[owner]
	if !ok {
		return
	}
	if svc.Files == nil {
		svc.Files = make(map[string]string, len(cm.Data))
	}
	for k, v := range cm.Data {
		svc.Files[k] = v
	}
}

func applyTraefikRouting(candidates map[string]*domain.ServiceConfig, u unstructured.Unstructured) {
	services, found, _ := unstructured.NestedSlice(u.Object, "spec", "routes")
	if !found {
		return
	}
	for _, raw := range services {
		route, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		rule, _ := route["match"].(string)
		backends, _ := route["services"].([]interface{})
		for _, b := range backends {
			backend, ok := b.(map[string]interface{})
			if !ok {
				continue
			}
			name, _ := backend["name"].(string)
			svc, ok := candidates[name]
			if !ok {
				continue
			}
			svc.Routing = &domain.RoutingConfig{Rule: rule}
		}
	}
}
