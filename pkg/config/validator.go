package config

import "fmt"

// knownAdapters is the closed list of AI adapter names.
var knownAdapters = map[string]bool{
	"anthropic": true,
	"openai":    true,
	"mock":      true,
}

// knownRuntimes is the closed list of container runtime modes.
var knownRuntimes = map[string]bool{
	RuntimeHostSocket: true,
	RuntimeRootless:   true,
	RuntimeNested:     true,
}

func validate(cfg *Config) error {
	sys := cfg.System

	if sys.MaxConcurrentWorkers < 1 {
		return NewValidationError("max_concurrent_workers",
			fmt.Errorf("%w: must be >= 1, got %d", ErrInvalidValue, sys.MaxConcurrentWorkers))
	}
	if sys.DefaultTimeout < 1 {
		return NewValidationError("default_timeout",
			fmt.Errorf("%w: must be >= 1 second, got %d", ErrInvalidValue, sys.DefaultTimeout))
	}
	if !knownAdapters[sys.DefaultAIAdapter] {
		return NewValidationError("default_ai_adapter",
			fmt.Errorf("%w: unknown adapter %q", ErrInvalidValue, sys.DefaultAIAdapter))
	}
	if sys.DefaultModel == "" {
		return NewValidationError("default_model", ErrMissingRequiredField)
	}
	if !knownRuntimes[sys.ContainerRuntime] {
		return NewValidationError("container_runtime",
			fmt.Errorf("%w: unknown runtime %q", ErrInvalidValue, sys.ContainerRuntime))
	}
	if sys.RuntimeBasePath == "" {
		return NewValidationError("runtime_base_path", ErrMissingRequiredField)
	}
	if cfg.Pool.MaxIterations < 1 {
		return NewValidationError("max_iterations",
			fmt.Errorf("%w: must be >= 1, got %d", ErrInvalidValue, cfg.Pool.MaxIterations))
	}
	return nil
}
