// Package container provides the sandboxed worker container layer: a narrow
// runtime interface over the container CLI, allow-set command validation for
// host-socket mode, and the per-worker container lifecycle.
package container

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// State is the logical lifecycle state of a worker container.
type State string

// Lifecycle states. StateNone is the zero value before the first create.
const (
	StateNone      State = ""
	StateCreated   State = "created"
	StateRunning   State = "running"
	StateStopped   State = "stopped"
	StateDestroyed State = "destroyed"
)

// WorkerOptions configures the container created for one worker.
type WorkerOptions struct {
	Image       string
	RunID       string
	ResultsDir  string // host directory mounted read-only at /results
	GitRepoURL  string
	GitBranch   string
	GitToken    string
	Env         map[string]string
	CPULimit    string
	MemoryLimit string
}

// WorkerContainer owns one container for one worker and enforces its
// lifecycle state machine.
type WorkerContainer struct {
	mu        sync.Mutex
	workerID  string
	name      string
	id        string
	state     State
	runtime   Runtime
	isolation IsolationConfig
	opts      WorkerOptions
}

// NewWorkerContainer builds a container handle for the worker. Nothing is
// created until Create is called.
func NewWorkerContainer(workerID string, runtime Runtime, isolation IsolationConfig, opts WorkerOptions) *WorkerContainer {
	return &WorkerContainer{
		workerID:  workerID,
		runtime:   runtime,
		isolation: isolation,
		opts:      opts,
	}
}

// WorkerID returns the owning worker's ID.
func (w *WorkerContainer) WorkerID() string {
	return w.workerID
}

// Name returns the generated container name, empty before the first create.
func (w *WorkerContainer) Name() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.name
}

// ContainerID returns the runtime-assigned container ID, empty before create.
func (w *WorkerContainer) ContainerID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.id
}

// CurrentState returns the logical lifecycle state.
func (w *WorkerContainer) CurrentState() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// SetNetworkMode overrides the network mode before creation. Used to relax
// isolation for workers that need registry access.
func (w *WorkerContainer) SetNetworkMode(mode string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.isolation.NetworkMode = mode
}

// volumes composes the host volume bindings. The repository is cloned inside
// the container from GIT_REPO_URL; there is no host workspace bind.
func (w *WorkerContainer) volumes() []string {
	if w.opts.ResultsDir == "" {
		return nil
	}
	return []string{w.opts.ResultsDir + ":/results:ro"}
}

// env composes the worker environment, caller-provided entries merged last.
func (w *WorkerContainer) env() map[string]string {
	env := map[string]string{
		"WORKER_ID":      w.workerID,
		"WORKSPACE_PATH": "/workspace",
	}
	if w.opts.RunID != "" {
		env["RUN_ID"] = w.opts.RunID
	}
	if w.opts.GitRepoURL != "" {
		env["GIT_REPO_URL"] = w.opts.GitRepoURL
	}
	if w.opts.GitBranch != "" {
		env["GIT_BRANCH"] = w.opts.GitBranch
	}
	if w.opts.GitToken != "" {
		env["GIT_TOKEN"] = w.opts.GitToken
	}
	for k, v := range w.opts.Env {
		env[k] = v
	}
	return env
}

// Create provisions the container. Rejected when one already exists
// (created, running or stopped); allowed from the initial and destroyed
// states.
func (w *WorkerContainer) Create(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case StateCreated, StateRunning, StateStopped:
		return fmt.Errorf("%w: cannot create container in state %q", ErrInvalidState, w.state)
	}

	name := GenerateContainerName(w.workerID)
	opts := CreateOptions{
		Name:        name,
		Image:       w.opts.Image,
		WorkDir:     "/workspace",
		Env:         w.env(),
		Volumes:     w.volumes(),
		NetworkMode: w.isolation.NetworkMode,
		CPULimit:    w.opts.CPULimit,
		MemoryLimit: w.opts.MemoryLimit,
	}
	if w.isolation.NoNewPrivileges {
		opts.SecurityOpts = append(opts.SecurityOpts, "no-new-privileges:true")
	}
	if w.isolation.DropAllCapabilities {
		opts.CapDrop = append(opts.CapDrop, "ALL")
	}
	if w.isolation.PidsLimit > 0 {
		opts.PidsLimit = w.isolation.PidsLimit
	}
	if len(w.isolation.TmpfsMounts) > 0 {
		opts.Tmpfs = make(map[string]string, len(w.isolation.TmpfsMounts))
		for _, mount := range w.isolation.TmpfsMounts {
			opts.Tmpfs[mount] = w.isolation.TmpfsOptions
		}
	}
	if w.isolation.ReadOnlyRoot {
		opts.ReadOnlyRoot = true
		if opts.Tmpfs == nil {
			opts.Tmpfs = map[string]string{}
		}
		opts.Tmpfs["/workspace"] = "rw,size=512m"
	}

	id, err := w.runtime.CreateContainer(ctx, opts)
	if err != nil {
		return fmt.Errorf("creating container for worker %s: %w", w.workerID, err)
	}

	w.name = name
	w.id = id
	w.state = StateCreated
	slog.Info("Worker container created", "worker_id", w.workerID, "container", name)
	return nil
}

// Start marks the container running. The runtime starts containers at
// creation, so this is a logical transition: it requires created, is
// idempotent on running, and is rejected after destroy.
func (w *WorkerContainer) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case StateRunning:
		return nil
	case StateCreated:
		w.state = StateRunning
		return nil
	case StateDestroyed:
		return fmt.Errorf("%w: cannot start destroyed container", ErrInvalidState)
	default:
		return fmt.Errorf("%w: cannot start container in state %q", ErrInvalidState, w.state)
	}
}

// Stop stops a running container. Idempotent on stopped and destroyed.
func (w *WorkerContainer) Stop(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case StateStopped, StateDestroyed:
		return nil
	case StateRunning:
	default:
		return fmt.Errorf("%w: cannot stop container in state %q", ErrInvalidState, w.state)
	}

	if err := w.runtime.StopContainer(ctx, w.id); err != nil {
		return fmt.Errorf("stopping container %s: %w", w.name, err)
	}
	w.state = StateStopped
	slog.Info("Worker container stopped", "worker_id", w.workerID, "container", w.name)
	return nil
}

// Destroy stops (best effort) and removes the container. With force, stop
// errors are ignored; without it they are logged but removal proceeds
// anyway. Idempotent on destroyed and on never-created.
func (w *WorkerContainer) Destroy(ctx context.Context, force bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case StateDestroyed, StateNone:
		return nil
	}

	if w.state == StateRunning {
		if err := w.runtime.StopContainer(ctx, w.id); err != nil && !force {
			slog.Warn("Stop before destroy failed, force-removing",
				"worker_id", w.workerID, "container", w.name, "error", err)
		}
	}

	if err := w.runtime.RemoveContainer(ctx, w.id, true); err != nil {
		return fmt.Errorf("removing container %s: %w", w.name, err)
	}
	w.state = StateDestroyed
	slog.Info("Worker container destroyed", "worker_id", w.workerID, "container", w.name)
	return nil
}

// Logs fetches the container log tail.
func (w *WorkerContainer) Logs(ctx context.Context, tail int) (string, error) {
	w.mu.Lock()
	id := w.id
	state := w.state
	w.mu.Unlock()

	if state == StateNone || state == StateDestroyed {
		return "", fmt.Errorf("%w: no container to read logs from", ErrInvalidState)
	}
	return w.runtime.ContainerLogs(ctx, id, LogOptions{Tail: tail})
}
