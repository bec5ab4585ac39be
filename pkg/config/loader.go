package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// yamlConfig is the on-disk shape of agentcompany.yaml.
type yamlConfig struct {
	System    *SystemConfig      `yaml:"system"`
	Pool      *PoolConfig        `yaml:"pool"`
	Quality   *QualityConfig     `yaml:"quality"`
	Retention *RetentionConfig   `yaml:"retention"`
	Isolation *IsolationDefaults `yaml:"isolation"`
}

// ConfigFileName is the expected file inside the config directory.
const ConfigFileName = "agentcompany.yaml"

// Initialize loads, merges, and validates configuration from configDir.
// A missing config file is not an error: built-in defaults apply.
//
// Steps performed:
//  1. Read agentcompany.yaml (if present)
//  2. Expand ${ENV_VAR} references
//  3. Merge user values over built-in defaults
//  4. Validate the result
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized",
		"adapter", stats.Adapter,
		"container_runtime", stats.Runtime,
		"max_workers", stats.MaxWorkers)

	return cfg, nil
}

func load(configDir string) (*Config, error) {
	cfg := &Config{
		System:    DefaultSystemConfig(),
		Pool:      DefaultPoolConfig(),
		Quality:   DefaultQualityConfig(),
		Retention: DefaultRetentionConfig(),
		Isolation: DefaultIsolationDefaults(),
	}

	path := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("No configuration file found, using defaults", "path", path)
			return cfg, nil
		}
		return nil, NewLoadError(ConfigFileName, err)
	}

	expanded := expandEnvVars(string(data))

	var user yamlConfig
	if err := yaml.Unmarshal([]byte(expanded), &user); err != nil {
		return nil, NewLoadError(ConfigFileName, fmt.Errorf("%w: %w", ErrInvalidYAML, err))
	}

	// User values override defaults field by field.
	if user.System != nil {
		if err := mergo.Merge(cfg.System, user.System, mergo.WithOverride); err != nil {
			return nil, NewLoadError(ConfigFileName, err)
		}
	}
	if user.Pool != nil {
		if err := mergo.Merge(cfg.Pool, user.Pool, mergo.WithOverride); err != nil {
			return nil, NewLoadError(ConfigFileName, err)
		}
	}
	if user.Quality != nil {
		if err := mergo.Merge(cfg.Quality, user.Quality, mergo.WithOverride); err != nil {
			return nil, NewLoadError(ConfigFileName, err)
		}
	}
	if user.Retention != nil {
		if err := mergo.Merge(cfg.Retention, user.Retention, mergo.WithOverride); err != nil {
			return nil, NewLoadError(ConfigFileName, err)
		}
	}
	if user.Isolation != nil {
		cfg.Isolation = user.Isolation
	}

	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} references with environment values.
// Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}
