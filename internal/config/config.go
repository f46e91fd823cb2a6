package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/moolen/ordo/internal/logging"
)

// Config holds the host configuration for ordo.
//
// Example YAML structure:
//
//	logLevel: info
//	logFormat: text
//	manifest: ordo.yaml
//	entrypoints: [http]
//	stopTimeout: 30s
//	metrics: true
//	watch: false
//	watchDebounce: 500ms
type Config struct {
	// LogLevel is the default log level (debug, info, warn, error)
	LogLevel string `yaml:"logLevel"`

	// PackageLogLevels overrides the level per logger name, e.g. {"builtin.*": "warn"}
	PackageLogLevels map[string]string `yaml:"packageLogLevels"`

	// LogFormat is "text" or "json"
	LogFormat string `yaml:"logFormat"`

	// Manifest is the path of the component manifest. A relative path is
	// resolved against the directory of the config file.
	Manifest string `yaml:"manifest"`

	// Entrypoints overrides the entrypoints declared in the manifest
	Entrypoints []string `yaml:"entrypoints"`

	// StopTimeout bounds each component's stop hook; zero disables the bound
	StopTimeout time.Duration `yaml:"stopTimeout"`

	// Metrics registers orchestrator metrics on the default Prometheus registry
	Metrics bool `yaml:"metrics"`

	// Watch restarts the system when the manifest changes
	Watch bool `yaml:"watch"`

	// WatchDebounce coalesces manifest change events
	WatchDebounce time.Duration `yaml:"watchDebounce"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel:      "info",
		LogFormat:     logging.FormatText,
		Manifest:      "ordo.yaml",
		Metrics:       true,
		WatchDebounce: 500 * time.Millisecond,
	}
}

// Load reads path over Default and validates the result. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	// Logger names contain dots, so keys are split on "::" instead.
	k := koanf.New("::")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config from %q: %w", path, err)
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to parse config from %q: %w", path, err)
	}

	if cfg.Manifest != "" && !filepath.IsAbs(cfg.Manifest) {
		cfg.Manifest = filepath.Join(filepath.Dir(path), cfg.Manifest)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed for %q: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return NewConfigError(fmt.Sprintf("logLevel: %v", err))
	}

	for pkg, level := range c.PackageLogLevels {
		if _, err := logging.ParseLevel(level); err != nil {
			return NewConfigError(fmt.Sprintf("packageLogLevels[%s]: %v", pkg, err))
		}
	}

	if err := logging.ValidateFormat(c.LogFormat); err != nil {
		return NewConfigError(fmt.Sprintf("logFormat: %v", err))
	}

	if strings.TrimSpace(c.Manifest) == "" {
		return NewConfigError("manifest must not be empty")
	}

	seen := make(map[string]struct{}, len(c.Entrypoints))
	for i, e := range c.Entrypoints {
		if strings.TrimSpace(e) == "" {
			return NewConfigError(fmt.Sprintf("entrypoints[%d] must not be empty", i))
		}
		if _, dup := seen[e]; dup {
			return NewConfigError(fmt.Sprintf("entrypoints[%d]: duplicate entrypoint %q", i, e))
		}
		seen[e] = struct{}{}
	}

	if c.StopTimeout < 0 {
		return NewConfigError("stopTimeout must not be negative")
	}

	if c.Watch && c.WatchDebounce <= 0 {
		return NewConfigError("watchDebounce must be positive when watch is enabled")
	}

	return nil
}

// ManifestExists reports whether the manifest path points at a regular file.
func (c *Config) ManifestExists() bool {
	info, err := os.Stat(c.Manifest)
	return err == nil && info.Mode().IsRegular()
}

// ConfigError represents a configuration error
type ConfigError struct {
	message string
}

// NewConfigError creates a new configuration error
func NewConfigError(message string) *ConfigError {
	return &ConfigError{message: message}
}

// Error returns the error message
func (e *ConfigError) Error() string {
	return e.message
}
