package config

import "time"

// Runtime mode names recognized by ContainerRuntime.
const (
	RuntimeHostSocket = "host-socket"
	RuntimeRootless   = "rootless"
	RuntimeNested     = "nested"
)

// DefaultSystemConfig returns the built-in system defaults.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		MaxConcurrentWorkers: 3,
		DefaultTimeout:       300,
		DefaultAIAdapter:     "anthropic",
		DefaultModel:         "claude-sonnet-4-20250514",
		ContainerRuntime:     RuntimeHostSocket,
		DockerSocketPath:     "/var/run/docker.sock",
		RuntimeBasePath:      "runtime/state",
	}
}

// DefaultPoolConfig returns the built-in pool defaults.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		AcquirePollInterval: 200 * time.Millisecond,
		AcquireTimeout:      2 * time.Minute,
		UseContainers:       true,
		MaxIterations:       30,
	}
}

// DefaultQualityConfig returns the built-in quality gate defaults.
func DefaultQualityConfig() *QualityConfig {
	return &QualityConfig{
		LintCommand:  "npm run lint",
		TestCommand:  "npm test",
		CheckTimeout: 5 * time.Minute,
		TestFilePatterns: []string{
			"*_test.go",
			"*.test.ts",
			"*.test.js",
			"*.spec.ts",
			"test_*.py",
		},
	}
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		RunRetentionDays: 7,
		CleanupInterval:  1 * time.Hour,
	}
}

// DefaultIsolationDefaults returns the built-in isolation overrides
// (zero values defer to the container package defaults).
func DefaultIsolationDefaults() *IsolationDefaults {
	return &IsolationDefaults{}
}
