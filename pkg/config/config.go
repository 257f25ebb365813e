// Package config loads msc's top-level configuration: profiles, cache,
// opentelemetry, and path_mapping, from the config search path, rclone
// config merge, and environment variable overrides.
package config

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v2"
)

// ValidProviderTypes is the closed set storage_provider.type must be
// one of.
var ValidProviderTypes = map[string]bool{
	"file":  true,
	"s3":    true,
	"s8k":   true,
	"azure": true,
	"gcs":   true,
	"oci":   true,
	"ais":   true,
}

// Config is the top-level configuration document.
type Config struct {
	Profiles      map[string]Profile     `yaml:"profiles" json:"profiles"`
	Cache         CacheSection           `yaml:"cache" json:"cache"`
	OpenTelemetry map[string]interface{} `yaml:"opentelemetry" json:"opentelemetry"`
	PathMapping   map[string]string      `yaml:"path_mapping" json:"path_mapping"`
	Runtime       Runtime                `yaml:"-" json:"-"`
}

// Runtime holds the settings sourced from the environment
// rather than the config file: worker-pool sizing and the default
// metric attributes attached to telemetry emitted by this process.
type Runtime struct {
	MaxWorkers           int
	NumProcesses         int
	NumThreadsPerProcess int
	TelemetryAddress     string
	JobID                string
	JobName              string
	JobUser              string
	NodeID               string
	ClusterName          string
}

// Profile configures one named storage profile. Exactly one of
// StorageProvider or ProviderBundle should be set.
type Profile struct {
	StorageProvider     *NamedConfig `yaml:"storage_provider,omitempty" json:"storage_provider,omitempty"`
	ProviderBundle      *NamedConfig `yaml:"provider_bundle,omitempty" json:"provider_bundle,omitempty"`
	CredentialsProvider *NamedConfig `yaml:"credentials_provider,omitempty" json:"credentials_provider,omitempty"`
	MetadataProvider    *NamedConfig `yaml:"metadata_provider,omitempty" json:"metadata_provider,omitempty"`
	Retry               *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty"`
}

// NamedConfig is the {type, options} shape shared by storage_provider,
// provider_bundle, credentials_provider, and metadata_provider.
type NamedConfig struct {
	Type    string                 `yaml:"type" json:"type"`
	Options map[string]interface{} `yaml:"options" json:"options"`
}

// RetryConfig mirrors pkg/retry.Config in the configuration schema.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts" json:"max_attempts"`
	Delay       Duration `yaml:"delay" json:"delay"`
}

// ErrNoConfig is returned by Load when no config file exists on the
// search path and MSC_CONFIG is unset.
var ErrNoConfig = stderrors.New("config: no config file found")

// SearchPaths returns the config search path in priority order: YAML
// variants first, then the equivalent JSON paths.
func SearchPaths() []string {
	home, _ := os.UserHomeDir()
	paths := []string{
		"/etc/msc_config.yaml",
		filepath.Join(home, ".config", "msc", "config.yaml"),
		filepath.Join(home, ".msc_config.yaml"),
		"/etc/msc_config.json",
		filepath.Join(home, ".config", "msc", "config.json"),
		filepath.Join(home, ".msc_config.json"),
	}
	return paths
}

// Load resolves a config file by checking MSC_CONFIG first, then
// SearchPaths in order, parses it, merges any rclone config found
// alongside it, applies environment variable overrides, and validates
// the result.
func Load() (*Config, error) {
	path := os.Getenv("MSC_CONFIG")
	if path == "" {
		for _, candidate := range SearchPaths() {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path == "" {
		return nil, fmt.Errorf("%w (searched %v; set MSC_CONFIG to override)", ErrNoConfig, SearchPaths())
	}
	return LoadFile(path)
}

// Empty returns a config with no profiles but the environment's
// Runtime settings applied, for callers (like the CLI's bare-path
// forms) that can operate without a config file.
func Empty() *Config {
	cfg := &Config{Profiles: map[string]Profile{}}
	applyEnvOverrides(cfg)
	return cfg
}

// LoadFile parses a single config file, merges rclone config, applies
// env overrides, and validates.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := &Config{}
	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := mergeRclone(cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides populates cfg.Runtime from the environment.
// MSC_CONFIG itself is handled by Load before a path is ever
// chosen, so it has no effect here.
func applyEnvOverrides(cfg *Config) {
	cfg.Runtime = Runtime{
		MaxWorkers:           envInt("MSC_MAX_WORKERS", 8),
		NumProcesses:         envInt("MSC_NUM_PROCESSES", 1),
		NumThreadsPerProcess: envInt("MSC_NUM_THREADS_PER_PROCESS", 1),
		TelemetryAddress:     os.Getenv("MSC_TELEMETRY_ADDRESS"),
		JobID:                os.Getenv("MSC_JOB_ID"),
		JobName:              os.Getenv("MSC_JOB_NAME"),
		JobUser:              os.Getenv("MSC_JOB_USER"),
		NodeID:               os.Getenv("MSC_NODEID"),
		ClusterName:          os.Getenv("MSC_CLUSTER_NAME"),
	}
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// mergeRclone merges profiles from rclone's own config file
// ($HOME/.config/rclone/rclone.conf), when present, into cfg.Profiles.
// Merging never overwrites an existing key; a conflicting
// profile name is an error.
func mergeRclone(cfg *Config) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	rclonePath := filepath.Join(home, ".config", "rclone", "rclone.conf")
	if _, err := os.Stat(rclonePath); err != nil {
		return nil
	}

	file, err := ini.Load(rclonePath)
	if err != nil {
		return fmt.Errorf("config: parse rclone config %s: %w", rclonePath, err)
	}

	if cfg.Profiles == nil {
		cfg.Profiles = map[string]Profile{}
	}

	for _, section := range file.Sections() {
		name := section.Name()
		if name == ini.DefaultSection {
			continue
		}
		if _, exists := cfg.Profiles[name]; exists {
			return fmt.Errorf("config: rclone remote %q conflicts with an existing profile", name)
		}
		options := map[string]interface{}{}
		for _, key := range section.Keys() {
			if key.Name() == "type" {
				continue
			}
			options[key.Name()] = key.Value()
		}
		cfg.Profiles[name] = Profile{
			StorageProvider: &NamedConfig{
				Type:    section.Key("type").String(),
				Options: options,
			},
		}
	}
	return nil
}

// Validate checks the closed storage_provider.type set, the
// underscore-prefix profile name restriction, and cache config
// consistency.
func (c *Config) Validate() error {
	for name, profile := range c.Profiles {
		if strings.HasPrefix(name, "_") {
			return fmt.Errorf("config: profile name %q cannot start with an underscore", name)
		}
		if profile.StorageProvider == nil && profile.ProviderBundle == nil {
			return fmt.Errorf("config: profile %q needs a storage_provider or provider_bundle", name)
		}
		if profile.StorageProvider != nil && !ValidProviderTypes[profile.StorageProvider.Type] {
			return fmt.Errorf("config: profile %q has unsupported storage_provider.type %q", name, profile.StorageProvider.Type)
		}
	}
	return c.Cache.Validate()
}
