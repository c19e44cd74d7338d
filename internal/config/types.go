// Package config decodes prevant's TOML configuration file into its
// constituent tables: runtime, applications, containers, companions, hooks,
// registries, API access, and an optional database. Follows a
// plain-struct-plus-tags shape, using TOML tags rather than YAML.
package config

import "prevant/internal/domain"

// Config is the top-level decoded configuration.
type Config struct {
	Runtime        RuntimeConfig             `toml:"runtime"`
	Applications   ApplicationsConfig        `toml:"applications"`
	Containers     ContainersConfig          `toml:"containers"`
	Jira           *JiraConfig               `toml:"jira"`
	Services       map[string]ServiceSecrets `toml:"services"`
	Companions     CompanionsConfig          `toml:"companions"`
	Hooks          HooksConfig               `toml:"hooks"`
	Registries     RegistriesConfig          `toml:"registries"`
	APIAccess      APIAccessConfig           `toml:"apiAccess"`
	StaticHostMeta map[string]string         `toml:"staticHostMeta"`
	Frontend       FrontendConfig            `toml:"frontend"`
	Database       *DatabaseConfig           `toml:"database"`
}

// RuntimeConfig selects and configures the active Infrastructure backend.
type RuntimeConfig struct {
	Type      string `toml:"type"` // "Docker" or "Kubernetes"
	Namespace string `toml:"namespace,omitempty"`
}

// ReplicationCondition controls when companion replication applies.
type ReplicationCondition string

const (
	ReplicateAlwaysFromDefaultApp ReplicationCondition = "always-from-default-app"
	ReplicateOnlyWhenRequested    ReplicationCondition = "replicate-only-when-requested"
)

// ApplicationsConfig is the applications-policy table.
type ApplicationsConfig struct {
	Max                  int                   `toml:"max,omitempty"`
	DefaultApp           string                `toml:"defaultApp,omitempty"`
	ReplicationCondition ReplicationCondition  `toml:"replicationCondition,omitempty"`
}

// ContainersConfig holds default resource limits for created workloads.
type ContainersConfig struct {
	MemoryLimitBytes int64 `toml:"memoryLimit,omitempty"`
}

// JiraConfig configures the external issue-tracker client (out of core
// scope; carried only so the config table round-trips).
type JiraConfig struct {
	URL      string `toml:"url,omitempty"`
	Username string `toml:"username,omitempty"`
	Password string `toml:"password,omitempty"`
}

// SecretSpec mounts one secret file into matching apps. Data is the secret
// content itself, read from the TOML file; there is no environment
// override for it.
type SecretSpec struct {
	AppSelector string `toml:"appSelector"` // regex matched against AppName
	Path        string `toml:"path"`
	Data        string `toml:"data,omitempty"`
}

// ServiceSecrets is one `[services.<name>.secrets]` table.
type ServiceSecrets struct {
	Secrets map[string]SecretSpec `toml:"secrets"`
}

// CompanionSpec is one `[companions.*]` entry (app- or service-scoped).
type CompanionSpec struct {
	Type               string                    `toml:"type"` // "application" or "service"
	ServiceName        string                    `toml:"serviceName,omitempty"`
	Image              string                    `toml:"image"`
	Env                map[string]domain.EnvVar  `toml:"env,omitempty"`
	Files              map[string]string         `toml:"files,omitempty"`
	Labels             map[string]string         `toml:"labels,omitempty"`
	DeploymentStrategy domain.DeploymentStrategy `toml:"deploymentStrategy,omitempty"`
	StorageStrategy    domain.StorageStrategy    `toml:"storageStrategy,omitempty"`
}

// BootstrappingConfig lists containers the Bootstrap Runner executes.
type BootstrappingConfig struct {
	Containers []BootstrapContainer `toml:"containers"`
}

// BootstrapContainer is one short-lived container run by the bootstrap
// runner.
type BootstrapContainer struct {
	Image string   `toml:"image"`
	Args  []string `toml:"args,omitempty"`
}

// TemplatingConfig holds the schema validating `userDefined` request
// payloads.
type TemplatingConfig struct {
	UserDefinedSchema map[string]interface{} `toml:"userDefinedSchema,omitempty"`
}

// CompanionsConfig is the `[companions.*]` table family. Definitions is
// populated by the loader from the TOML document's arbitrary subtables
// (every key under `[companions.*]` that isn't `bootstrapping` or
// `templating`), since BurntSushi/toml cannot decode an open-ended map
// alongside named sibling fields in one pass.
type CompanionsConfig struct {
	Definitions   map[string]CompanionSpec `toml:"-"`
	Bootstrapping BootstrappingConfig      `toml:"bootstrapping"`
	Templating    TemplatingConfig         `toml:"templating"`
}

// HooksConfig names the two optional hook scripts.
type HooksConfig struct {
	Deployment           string `toml:"deployment,omitempty"`
	IDTokenClaimsToOwner string `toml:"idTokenClaimsToOwner,omitempty"`
	TimeoutSeconds       int    `toml:"timeoutSeconds,omitempty"`
}

// RegistryConfig is one configured registry's credentials and mirror.
type RegistryConfig struct {
	Username string `toml:"username,omitempty"`
	Password string `toml:"password,omitempty"`
	Mirror   string `toml:"mirror,omitempty"`
}

// RegistriesConfig maps a registry host to its credentials/mirror.
// Entries is populated by the loader the same way as
// CompanionsConfig.Definitions.
type RegistriesConfig struct {
	Entries map[string]RegistryConfig `toml:"-"`
}

// OpenIDProvider describes one external OIDC issuer (token exchange itself
// is an external collaborator, out of core scope here).
type OpenIDProvider struct {
	Issuer   string `toml:"issuer"`
	ClientID string `toml:"clientId"`
	JWKSURL  string `toml:"jwksUrl,omitempty"`
}

// APIAccessConfig is the `[apiAccess.openidProviders]` table.
type APIAccessConfig struct {
	OpenIDProviders map[string]OpenIDProvider `toml:"openidProviders"`
}

// FrontendConfig configures the external single-page app (out of core
// scope; carried for config round-trip completeness).
type FrontendConfig struct {
	Path string `toml:"path,omitempty"`
}

// DatabaseConfig selects durable task-queue/backup persistence. A nil
// *DatabaseConfig on Config means in-memory mode.
type DatabaseConfig struct {
	DSN             string `toml:"dsn"`
	MaxOpenConns    int    `toml:"maxOpenConns,omitempty"`
	LeaseTTLSeconds int    `toml:"leaseTtlSeconds,omitempty"`
}
