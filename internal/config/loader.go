package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"

	"prevant/pkg/logging"
)

// Default returns the baseline configuration used when no config file is
// present and as the starting point before decoding one.
func Default() Config {
	return Config{
		Runtime: RuntimeConfig{Type: "Docker"},
		Applications: ApplicationsConfig{
			ReplicationCondition: ReplicateOnlyWhenRequested,
		},
		Hooks: HooksConfig{TimeoutSeconds: 2},
		Companions: CompanionsConfig{
			Definitions: map[string]CompanionSpec{},
		},
		Registries: RegistriesConfig{
			Entries: map[string]RegistryConfig{},
		},
	}
}

// rawDocument mirrors Config but leaves the open-ended `[companions.*]` and
// `[registries.*]` tables as toml.Primitive, since BurntSushi/toml cannot
// decode an arbitrary-keyed map alongside named sibling keys
// (`bootstrapping`, `templating`) in a single struct field.
type rawDocument struct {
	Runtime        RuntimeConfig                `toml:"runtime"`
	Applications   ApplicationsConfig           `toml:"applications"`
	Containers     ContainersConfig             `toml:"containers"`
	Jira           *JiraConfig                  `toml:"jira"`
	Services       map[string]ServiceSecrets    `toml:"services"`
	Companions     map[string]toml.Primitive    `toml:"companions"`
	Hooks          HooksConfig                  `toml:"hooks"`
	Registries     map[string]toml.Primitive    `toml:"registries"`
	APIAccess      APIAccessConfig              `toml:"apiAccess"`
	StaticHostMeta map[string]string            `toml:"staticHostMeta"`
	Frontend       FrontendConfig               `toml:"frontend"`
	Database       *DatabaseConfig              `toml:"database"`
}

// Load reads and decodes the TOML file at path, overlays PREVANT_-prefixed
// environment variables, and returns the merged configuration. A missing
// file is not an error: Default() is returned as-is.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "no config file at %s, using defaults", path)
			overlayEnv(&cfg)
			return cfg, nil
		}
		return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	}

	raw := rawDocument{Runtime: cfg.Runtime, Applications: cfg.Applications}
	meta, err := toml.Decode(string(data), &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg.Runtime = raw.Runtime
	cfg.Applications = raw.Applications
	cfg.Containers = raw.Containers
	cfg.Jira = raw.Jira
	cfg.Services = raw.Services
	cfg.Hooks = mergeHooks(cfg.Hooks, raw.Hooks)
	cfg.APIAccess = raw.APIAccess
	cfg.StaticHostMeta = raw.StaticHostMeta
	cfg.Frontend = raw.Frontend
	cfg.Database = raw.Database

	if err := decodeCompanions(meta, raw.Companions, &cfg.Companions); err != nil {
		return Config{}, fmt.Errorf("decoding [companions.*] in %s: %w", path, err)
	}
	if err := decodeRegistries(meta, raw.Registries, &cfg.Registries); err != nil {
		return Config{}, fmt.Errorf("decoding [registries.*] in %s: %w", path, err)
	}

	logging.Info("ConfigLoader", "loaded configuration from %s", path)
	overlayEnv(&cfg)
	return cfg, nil
}

func mergeHooks(defaults, decoded HooksConfig) HooksConfig {
	if decoded.TimeoutSeconds == 0 {
		decoded.TimeoutSeconds = defaults.TimeoutSeconds
	}
	return decoded
}

func decodeCompanions(meta toml.MetaData, raw map[string]toml.Primitive, out *CompanionsConfig) error {
	out.Definitions = make(map[string]CompanionSpec, len(raw))
	for key, prim := range raw {
		switch key {
		case "bootstrapping":
			if err := meta.PrimitiveDecode(prim, &out.Bootstrapping); err != nil {
				return err
			}
		case "templating":
			if err := meta.PrimitiveDecode(prim, &out.Templating); err != nil {
				return err
			}
		default:
			var spec CompanionSpec
			if err := meta.PrimitiveDecode(prim, &spec); err != nil {
				return fmt.Errorf("companion %q: %w", key, err)
			}
			if spec.ServiceName == "" {
				spec.ServiceName = key
			}
			out.Definitions[key] = spec
		}
	}
	return nil
}

func decodeRegistries(meta toml.MetaData, raw map[string]toml.Primitive, out *RegistriesConfig) error {
	out.Entries = make(map[string]RegistryConfig, len(raw))
	for host, prim := range raw {
		if host == "mirrors" {
			continue
		}
		var rc RegistryConfig
		if err := meta.PrimitiveDecode(prim, &rc); err != nil {
			return fmt.Errorf("registry %q: %w", host, err)
		}
		out.Entries[host] = rc
	}
	return nil
}

// overlayEnv applies the small set of PREVANT_-prefixed overrides: runtime
// type and namespace, database DSN, and applications max. No other field,
// secret-bearing or not, has an environment override.
func overlayEnv(cfg *Config) {
	if v, ok := os.LookupEnv("PREVANT_RUNTIME_TYPE"); ok {
		cfg.Runtime.Type = v
	}
	if v, ok := os.LookupEnv("PREVANT_RUNTIME_NAMESPACE"); ok {
		cfg.Runtime.Namespace = v
	}
	if v, ok := os.LookupEnv("PREVANT_DATABASE_DSN"); ok {
		if cfg.Database == nil {
			cfg.Database = &DatabaseConfig{}
		}
		cfg.Database.DSN = v
	}
	if v, ok := os.LookupEnv("PREVANT_APPLICATIONS_MAX"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Applications.Max = n
		} else {
			logging.Warn("ConfigLoader", "ignoring malformed PREVANT_APPLICATIONS_MAX=%q: %s", v, err)
		}
	}
}
