package container

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kawanishi0117/agent-company-sub001/pkg/execrun"
)

// CreateOptions describes a container to create. The runtime starts the
// container immediately (docker run -d); the caller tracks the logical
// created/running distinction.
type CreateOptions struct {
	Name        string
	Image       string
	WorkDir     string
	Env         map[string]string
	Volumes     []string // "host:container[:mode]"
	NetworkMode string
	SecurityOpts []string
	CapDrop      []string
	PidsLimit    int
	Tmpfs        map[string]string // mount point -> options
	ReadOnlyRoot bool
	CPULimit     string
	MemoryLimit  string
	Command      []string
}

// LogOptions controls log retrieval.
type LogOptions struct {
	Tail int
}

// Runtime is the narrow capability surface over a container engine.
type Runtime interface {
	CreateContainer(ctx context.Context, opts CreateOptions) (string, error)
	StopContainer(ctx context.Context, id string) error
	RemoveContainer(ctx context.Context, id string, force bool) error
	ContainerLogs(ctx context.Context, id string, opts LogOptions) (string, error)
	InspectContainer(ctx context.Context, id string) (string, error)
}

// RuntimeFactory builds a Runtime from its configuration.
type RuntimeFactory func(cfg RuntimeConfig) (Runtime, error)

// RuntimeConfig carries runtime construction parameters.
type RuntimeConfig struct {
	SocketPath      string
	AllowedCommands []string
	Runner          execrun.Runner
}

var runtimeFactories = map[string]RuntimeFactory{}

// RegisterRuntime adds a named runtime factory. Later registrations replace
// earlier ones.
func RegisterRuntime(name string, factory RuntimeFactory) {
	runtimeFactories[name] = factory
}

// NewRuntime builds the runtime registered under name.
func NewRuntime(name string, cfg RuntimeConfig) (Runtime, error) {
	factory, ok := runtimeFactories[name]
	if !ok {
		known := make([]string, 0, len(runtimeFactories))
		for k := range runtimeFactories {
			known = append(known, k)
		}
		sort.Strings(known)
		return nil, fmt.Errorf("unknown container runtime %q (known: %s)", name, strings.Join(known, ", "))
	}
	return factory(cfg)
}

func init() {
	RegisterRuntime("host-socket", func(cfg RuntimeConfig) (Runtime, error) {
		return newCLIRuntime(cfg, true), nil
	})
	// Rootless and nested engines are their own sandbox; command validation
	// is bypassed for them.
	RegisterRuntime("rootless", func(cfg RuntimeConfig) (Runtime, error) {
		return newCLIRuntime(cfg, false), nil
	})
	RegisterRuntime("nested", func(cfg RuntimeConfig) (Runtime, error) {
		return newCLIRuntime(cfg, false), nil
	})
}

// cliRuntime shells out to the docker CLI. In host-socket mode every
// composed command is validated against the allow set before execution.
type cliRuntime struct {
	socketPath string
	allowed    []string
	validate   bool
	runner     execrun.Runner
}

func newCLIRuntime(cfg RuntimeConfig, validate bool) *cliRuntime {
	runner := cfg.Runner
	if runner == nil {
		runner = execrun.NewLocalRunner()
	}
	allowed := cfg.AllowedCommands
	if len(allowed) == 0 {
		allowed = DefaultAllowedCommands
	}
	return &cliRuntime{
		socketPath: cfg.SocketPath,
		allowed:    allowed,
		validate:   validate,
		runner:     runner,
	}
}

func (r *cliRuntime) globalArgs() []string {
	if r.socketPath == "" {
		return nil
	}
	return []string{"-H", "unix://" + r.socketPath}
}

// execute validates and runs one docker command built from args.
func (r *cliRuntime) execute(ctx context.Context, args []string) (*execrun.Result, error) {
	full := append(r.globalArgs(), args...)
	command := "docker " + strings.Join(full, " ")

	if r.validate {
		if v := ValidateCommand(command, r.allowed); !v.Valid {
			return nil, fmt.Errorf("%w: %s", ErrDisallowedCommand, v.Error)
		}
	}

	result, err := r.runner.Run(ctx, "", "docker", full...)
	if err != nil {
		return nil, fmt.Errorf("running %q: %w", command, err)
	}
	if result.ExitCode != 0 {
		return nil, &CommandError{
			Command:  command,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
			ExitCode: result.ExitCode,
		}
	}
	return result, nil
}

// CreateContainer composes and runs `docker run -d`, returning the new
// container ID printed by the CLI.
func (r *cliRuntime) CreateContainer(ctx context.Context, opts CreateOptions) (string, error) {
	if opts.Image == "" {
		return "", fmt.Errorf("container image is required")
	}

	args := []string{"run", "-d"}
	if opts.Name != "" {
		args = append(args, "--name", opts.Name)
	}
	if opts.NetworkMode != "" {
		args = append(args, "--network", opts.NetworkMode)
	}
	for _, opt := range opts.SecurityOpts {
		args = append(args, "--security-opt", opt)
	}
	for _, c := range opts.CapDrop {
		args = append(args, "--cap-drop", c)
	}
	if opts.PidsLimit > 0 {
		args = append(args, "--pids-limit", fmt.Sprintf("%d", opts.PidsLimit))
	}
	for _, mount := range sortedKeys(opts.Tmpfs) {
		args = append(args, "--tmpfs", mount+":"+opts.Tmpfs[mount])
	}
	if opts.ReadOnlyRoot {
		args = append(args, "--read-only")
	}
	if opts.CPULimit != "" {
		args = append(args, "--cpus", opts.CPULimit)
	}
	if opts.MemoryLimit != "" {
		args = append(args, "--memory", opts.MemoryLimit)
	}
	if opts.WorkDir != "" {
		args = append(args, "--workdir", opts.WorkDir)
	}
	for _, key := range sortedKeys(opts.Env) {
		args = append(args, "-e", key+"="+opts.Env[key])
	}
	for _, volume := range opts.Volumes {
		args = append(args, "-v", volume)
	}
	args = append(args, opts.Image)
	args = append(args, opts.Command...)

	result, err := r.execute(ctx, args)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Stdout), nil
}

func (r *cliRuntime) StopContainer(ctx context.Context, id string) error {
	_, err := r.execute(ctx, []string{"stop", id})
	return err
}

func (r *cliRuntime) RemoveContainer(ctx context.Context, id string, force bool) error {
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, id)
	_, err := r.execute(ctx, args)
	return err
}

func (r *cliRuntime) ContainerLogs(ctx context.Context, id string, opts LogOptions) (string, error) {
	args := []string{"logs"}
	if opts.Tail > 0 {
		args = append(args, "--tail", fmt.Sprintf("%d", opts.Tail))
	}
	args = append(args, id)
	result, err := r.execute(ctx, args)
	if err != nil {
		return "", err
	}
	return result.Combined(), nil
}

func (r *cliRuntime) InspectContainer(ctx context.Context, id string) (string, error) {
	result, err := r.execute(ctx, []string{"inspect", id})
	if err != nil {
		return "", err
	}
	return result.Stdout, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
