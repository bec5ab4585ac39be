// Package config loads, merges, and validates system configuration for the
// orchestration engine.
package config

import "time"

// Config is the fully merged and validated runtime configuration.
type Config struct {
	System    *SystemConfig
	Pool      *PoolConfig
	Quality   *QualityConfig
	Retention *RetentionConfig
	Isolation *IsolationDefaults
}

// SystemConfig holds the recognized system-wide options.
type SystemConfig struct {
	// MaxConcurrentWorkers is the worker pool ceiling.
	MaxConcurrentWorkers int `yaml:"max_concurrent_workers" json:"maxConcurrentWorkers"`

	// DefaultTimeout is the default per-operation timeout in seconds.
	DefaultTimeout int `yaml:"default_timeout" json:"defaultTimeout"`

	// DefaultAIAdapter must be on the closed adapter list.
	DefaultAIAdapter string `yaml:"default_ai_adapter" json:"defaultAiAdapter"`

	// DefaultModel is the model identifier passed to the adapter.
	DefaultModel string `yaml:"default_model" json:"defaultModel"`

	// ContainerRuntime selects the runtime mode: host-socket, rootless, nested.
	ContainerRuntime string `yaml:"container_runtime" json:"containerRuntime"`

	// AllowedDockerCommands overrides the allow set. Subcommands in the
	// deny-always set stay denied even when listed here.
	AllowedDockerCommands []string `yaml:"allowed_docker_commands" json:"allowedDockerCommands,omitempty"`

	// DockerSocketPath is the socket used in host-socket mode.
	DockerSocketPath string `yaml:"docker_socket_path" json:"dockerSocketPath,omitempty"`

	// WorkerCPULimit and WorkerMemoryLimit cap per-worker resources
	// (docker --cpus / --memory syntax).
	WorkerCPULimit    string `yaml:"worker_cpu_limit" json:"workerCpuLimit,omitempty"`
	WorkerMemoryLimit string `yaml:"worker_memory_limit" json:"workerMemoryLimit,omitempty"`

	// RuntimeBasePath is the root for tickets/, runs/ and config.json.
	RuntimeBasePath string `yaml:"runtime_base_path" json:"runtimeBasePath"`
}

// PoolConfig controls worker acquisition behavior.
type PoolConfig struct {
	// AcquirePollInterval is how often acquireWorker re-checks availability.
	AcquirePollInterval time.Duration `yaml:"acquire_poll_interval"`

	// AcquireTimeout bounds a blocking acquireWorker call.
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`

	// UseContainers wraps each worker in an isolated container.
	UseContainers bool `yaml:"use_containers"`

	// AllowCapabilityFallback permits releaseWorker to hand a worker the
	// first pending task even when no pending task matches its
	// capabilities. Off by default: it can violate capability contracts.
	AllowCapabilityFallback bool `yaml:"allow_capability_fallback"`

	// MaxIterations caps one worker conversation loop.
	MaxIterations int `yaml:"max_iterations"`
}

// QualityConfig controls the lint → test sequencer.
type QualityConfig struct {
	LintCommand      string        `yaml:"lint_command"`
	TestCommand      string        `yaml:"test_command"`
	SkipLint         bool          `yaml:"skip_lint"`
	SkipTest         bool          `yaml:"skip_test"`
	CheckTimeout     time.Duration `yaml:"check_timeout"`
	TestFilePatterns []string      `yaml:"test_file_patterns"`
}

// RetentionConfig controls run-record cleanup.
type RetentionConfig struct {
	RunRetentionDays int           `yaml:"run_retention_days"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval"`
}

// IsolationDefaults overrides worker container isolation options.
type IsolationDefaults struct {
	NetworkMode  string `yaml:"network_mode"`
	PidsLimit    int    `yaml:"pids_limit"`
	ReadOnlyRoot bool   `yaml:"read_only_root"`
}

// ConfigStats summarizes loaded configuration for startup logging.
type ConfigStats struct {
	Adapter     string
	Runtime     string
	MaxWorkers  int
	AllowedCmds int
}

// Stats returns summary counts for logging.
func (c *Config) Stats() ConfigStats {
	return ConfigStats{
		Adapter:     c.System.DefaultAIAdapter,
		Runtime:     c.System.ContainerRuntime,
		MaxWorkers:  c.System.MaxConcurrentWorkers,
		AllowedCmds: len(c.System.AllowedDockerCommands),
	}
}
