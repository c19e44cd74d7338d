// Package domain holds prevant's core data model: the declarative and
// observed shapes shared by the companion resolver, the infrastructure
// backends, the apps service, and the task queue.
package domain

import (
	"regexp"
	"time"
)

// AppNamePattern is the validation pattern for AppName.
var AppNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// AppName is an opaque application identifier, unique within the process.
type AppName string

// Valid reports whether the name matches AppNamePattern.
func (n AppName) Valid() bool {
	return n != "" && AppNamePattern.MatchString(string(n))
}

func (n AppName) String() string { return string(n) }

// ServiceType classifies how a ServiceConfig entered the desired state.
// The resolver is the only component permitted to assign it.
type ServiceType string

const (
	ServiceTypeInstance        ServiceType = "instance"
	ServiceTypeReplica         ServiceType = "replica"
	ServiceTypeAppCompanion    ServiceType = "app-companion"
	ServiceTypeServiceCompanion ServiceType = "service-companion"
)

// typePriority orders ServiceTypes for the resolver's final, deterministic
// sort.
var typePriority = map[ServiceType]int{
	ServiceTypeInstance:         0,
	ServiceTypeReplica:          1,
	ServiceTypeAppCompanion:     2,
	ServiceTypeServiceCompanion: 3,
}

// Priority returns the sort priority of a ServiceType; unknown types sort
// last.
func (t ServiceType) Priority() int {
	if p, ok := typePriority[t]; ok {
		return p
	}
	return len(typePriority)
}

// IsCompanion reports whether t is one of the companion kinds. Exposed to
// the template engine as the isCompanion/isNotCompanion helpers.
func (t ServiceType) IsCompanion() bool {
	return t == ServiceTypeAppCompanion || t == ServiceTypeServiceCompanion
}

// DeploymentStrategy controls whether an existing deployed service is
// replaced when a companion is re-resolved.
type DeploymentStrategy string

const (
	DeployAlways          DeploymentStrategy = "redeploy-always"
	DeployOnImageUpdate   DeploymentStrategy = "redeploy-on-image-update"
	DeployNever           DeploymentStrategy = "redeploy-never"
)

// StorageStrategy controls whether a service's declared image volumes are
// backed by persistent storage.
type StorageStrategy string

const (
	StorageNone                   StorageStrategy = "none"
	StorageMountDeclaredImageVols StorageStrategy = "mount-declared-image-volumes"
)

// EnvVar is one environment variable entry. Replicate controls whether the
// variable carries over to a replica; Templated marks the value as
// eligible for template expansion against the DeploymentContext.
type EnvVar struct {
	Value     string `json:"value"`
	Replicate bool   `json:"replicate,omitempty"`
	Templated bool   `json:"templated,omitempty"`
}

// RoutingConfig overrides the default PathPrefix routing rule for a service.
type RoutingConfig struct {
	Rule                  string   `json:"rule,omitempty"`
	AdditionalMiddlewares []string `json:"additionalMiddlewares,omitempty"`
}

// VolumeSpec describes one volume attachment.
type VolumeSpec struct {
	Name      string `json:"name"`
	MountPath string `json:"mountPath"`
	SubPath   string `json:"subPath,omitempty"`
}

// PortSpec describes one published port.
type PortSpec struct {
	Number   int    `json:"number"`
	Protocol string `json:"protocol,omitempty"` // "tcp" (default) or "udp"
}

// ServiceConfig is the declarative unit the companion resolver produces and
// the infrastructure backends reconcile against. (AppName, ServiceName) is
// unique within a deployment.
type ServiceConfig struct {
	ServiceName string `json:"serviceName"`
	Image       string `json:"image"`

	// Type is assigned by the resolver; a client-supplied value is ignored.
	Type ServiceType `json:"type"`

	Env    map[string]EnvVar `json:"env,omitempty"`
	Files  map[string]string `json:"files,omitempty"`
	Labels map[string]string `json:"labels,omitempty"`

	Routing *RoutingConfig `json:"routing,omitempty"`
	Volumes []VolumeSpec   `json:"volumes,omitempty"`

	DeploymentStrategy DeploymentStrategy `json:"deploymentStrategy,omitempty"`
	StorageStrategy    StorageStrategy    `json:"storageStrategy,omitempty"`

	MemoryLimitBytes int64      `json:"memoryLimit,omitempty"`
	Ports            []PortSpec `json:"ports,omitempty"`
}

// Clone returns a deep, independent copy. Used when materializing replicas
// (invariant I3: a replica never back-writes to its source app).
func (s ServiceConfig) Clone() ServiceConfig {
	out := s
	if s.Env != nil {
		out.Env = make(map[string]EnvVar, len(s.Env))
		for k, v := range s.Env {
			out.Env[k] = v
		}
	}
	if s.Files != nil {
		out.Files = make(map[string]string, len(s.Files))
		for k, v := range s.Files {
			out.Files[k] = v
		}
	}
	if s.Labels != nil {
		out.Labels = make(map[string]string, len(s.Labels))
		for k, v := range s.Labels {
			out.Labels[k] = v
		}
	}
	if s.Volumes != nil {
		out.Volumes = append([]VolumeSpec(nil), s.Volumes...)
	}
	if s.Ports != nil {
		out.Ports = append([]PortSpec(nil), s.Ports...)
	}
	if s.Routing != nil {
		r := *s.Routing
		r.AdditionalMiddlewares = append([]string(nil), s.Routing.AdditionalMiddlewares...)
		out.Routing = &r
	}
	return out
}

// ServiceState is the observed runtime state of a deployed service.
type ServiceState string

const (
	StateRunning    ServiceState = "running"
	StatePaused     ServiceState = "paused"
	StateStarting   ServiceState = "starting"
	StateUnknown    ServiceState = "unknown"
	StateTerminated ServiceState = "terminated"
)

// Service is a deployed observation, derived by a backend from its native
// objects.
type Service struct {
	Name         string       `json:"name"`
	Type         ServiceType  `json:"type"`
	Image        string       `json:"image"`
	State        ServiceState `json:"state"`
	URL          string       `json:"url,omitempty"`
	OpenAPIURL   string       `json:"openApiUrl,omitempty"`
	AsyncAPIURL  string       `json:"asyncApiUrl,omitempty"`
	Version      string       `json:"version,omitempty"`
}

// AppStatus is the lifecycle status of an App.
type AppStatus string

const (
	AppDeployed AppStatus = "deployed"
	AppBackedUp AppStatus = "backed-up"
)

// Owner identifies the authenticated principal that created or last
// modified an app, computed from the requester's id-token via the owner
// hook.
type Owner struct {
	Sub  string `json:"sub"`
	Iss  string `json:"iss"`
	Name string `json:"name,omitempty"`
}

// Key returns the (sub, iss) identity used for set membership/dedup.
func (o Owner) Key() string { return o.Iss + "|" + o.Sub }

// App is the aggregate root: a named set of services managed as a unit.
// DeclaredConfigs is the resolver's last-resolved ServiceConfig list: it is
// the input to replication and the redeploy-never/redeploy-on-image-update
// filter on the next resolution, since Services (the observed shape) does
// not retain per-env Replicate flags or declared image references.
type App struct {
	Name            AppName
	Status          AppStatus
	Owners          []Owner
	Services        []Service
	DeclaredConfigs []ServiceConfig
}

// UnionOwners adds owner to the app's owner set if not already present
// (keyed by Owner.Key), returning the possibly-extended slice.
func UnionOwners(existing []Owner, add Owner) []Owner {
	for _, o := range existing {
		if o.Key() == add.Key() {
			return existing
		}
	}
	return append(existing, add)
}

// TaskKind enumerates the mutating operations the task queue carries.
type TaskKind string

const (
	TaskCreate  TaskKind = "create"
	TaskDelete  TaskKind = "delete"
	TaskRestore TaskKind = "restore"
)

// TaskStatus is the lifecycle status of a queued Task.
type TaskStatus string

const (
	TaskQueued  TaskStatus = "queued"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
)

// Task is a durable (when a database is attached) or in-memory unit of
// work processed by the task queue.
type Task struct {
	ID        string
	AppName   AppName
	Kind      TaskKind
	Payload   []byte // JSON-encoded operation payload
	Status    TaskStatus
	CreatedAt time.Time

	ResultSuccess []byte // JSON-encoded []Service, set iff Status==TaskDone and no error
	ResultError   string // sanitized error message, set iff Status==TaskDone and failed
}

// ApplicationContext is the "application" fragment of a DeploymentContext.
type ApplicationContext struct {
	Name    string `json:"name"`
	BaseURL string `json:"baseUrl"`
}

// ServiceContext is one entry of the "services" fragment of a
// DeploymentContext: the minimal shape templates may reference for
// cross-service lookups by name.
type ServiceContext struct {
	Name string      `json:"name"`
	Port int         `json:"port"`
	Type ServiceType `json:"type"`
}

// DeploymentContext is built once per operation and fed to the template
// engine. InfrastructureExtras carries backend-specific values (e.g.
// {"namespace": "..."} for Kubernetes).
type DeploymentContext struct {
	Application          ApplicationContext    `json:"application"`
	Services              []ServiceContext       `json:"services"`
	UserDefined           interface{}            `json:"userDefined,omitempty"`
	InfrastructureExtras  map[string]interface{} `json:"infrastructure,omitempty"`
}

// ToMap renders the context into the generic map[string]interface{} shape
// the template engine operates on.
func (c DeploymentContext) ToMap() map[string]interface{} {
	services := make([]interface{}, 0, len(c.Services))
	for _, s := range c.Services {
		services = append(services, map[string]interface{}{
			"name": s.Name,
			"port": s.Port,
			"type": string(s.Type),
		})
	}

	m := map[string]interface{}{
		"application": map[string]interface{}{
			"name":    c.Application.Name,
			"baseUrl": c.Application.BaseURL,
		},
		"services": services,
	}
	if c.UserDefined != nil {
		m["userDefined"] = c.UserDefined
	}
	if c.InfrastructureExtras != nil {
		m["infrastructure"] = c.InfrastructureExtras
	}
	return m
}
