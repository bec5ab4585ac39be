// Package orchestrator is the top-level façade: task submission, global
// pause/resume/emergency-stop, restart recovery, and the retry/fallback
// helpers used around flaky backends.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kawanishi0117/agent-company-sub001/pkg/agent"
	"github.com/kawanishi0117/agent-company-sub001/pkg/events"
	"github.com/kawanishi0117/agent-company-sub001/pkg/execrun"
	"github.com/kawanishi0117/agent-company-sub001/pkg/llm"
	"github.com/kawanishi0117/agent-company-sub001/pkg/manager"
	"github.com/kawanishi0117/agent-company-sub001/pkg/models"
	"github.com/kawanishi0117/agent-company-sub001/pkg/pool"
	"github.com/kawanishi0117/agent-company-sub001/pkg/qualitygate"
	"github.com/kawanishi0117/agent-company-sub001/pkg/store"
	"github.com/kawanishi0117/agent-company-sub001/pkg/ticket"
	"github.com/kawanishi0117/agent-company-sub001/pkg/workflow"
)

var (
	// ErrEmergencyStopped rejects submissions and resumes after an
	// emergency stop. The stop is absorbing: there is no way back.
	ErrEmergencyStopped = errors.New("system is emergency-stopped")

	// ErrUnknownTask is returned for lookups of task IDs never submitted.
	ErrUnknownTask = errors.New("unknown task")
)

// Config assembles the orchestrator's collaborators.
type Config struct {
	Store  *store.Store
	Pool   *pool.Pool
	Bus    *events.Bus
	Client llm.Client
	Model  string

	// Reviewer reviews QA output in workflows; nil disables review.
	Reviewer      llm.Client
	ReviewerModel string

	GateConfig qualitygate.Config
	GateRunner execrun.Runner

	// WorkspaceBase is the directory holding per-run workspaces.
	WorkspaceBase string

	// Health reports AI backend availability; nil disables degradation
	// reporting.
	Health *llm.HealthChecker
}

// SubmitOptions carries optional per-task settings.
type SubmitOptions struct {
	Workspace string

	// AutoDecompose controls whether the workflow starts immediately.
	// Nil means true. When false the task is only filed: the descriptor
	// persists with status pending and no workflow runs until a later
	// submission picks it up.
	AutoDecompose *bool
}

// TaskView is the public view of one submitted task.
type TaskView struct {
	Descriptor models.TaskDescriptor `json:"descriptor"`
	Workflow   models.WorkflowState  `json:"workflow"`
}

// Orchestrator owns the running workflows and the global control state.
type Orchestrator struct {
	cfg Config

	mu               sync.Mutex
	paused           bool
	emergencyStopped bool
	workflows        map[string]*workflow.Engine
	cancels          map[string]context.CancelFunc
	wg               sync.WaitGroup
}

// New builds an orchestrator.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		workflows: map[string]*workflow.Engine{},
		cancels:   map[string]context.CancelFunc{},
	}
}

// SubmitTask validates the request, persists a task descriptor, and hands
// the workflow off asynchronously. The task ID returns immediately; AI
// unavailability never blocks submission.
func (o *Orchestrator) SubmitTask(ctx context.Context, instruction, projectID string, opts SubmitOptions) (string, error) {
	if instruction == "" {
		return "", fmt.Errorf("%w: instruction must not be empty", store.ErrInvalidInput)
	}
	if projectID == "" {
		return "", fmt.Errorf("%w: project ID must not be empty", store.ErrInvalidInput)
	}

	o.mu.Lock()
	if o.emergencyStopped {
		o.mu.Unlock()
		return "", ErrEmergencyStopped
	}
	o.mu.Unlock()

	autoDecompose := opts.AutoDecompose == nil || *opts.AutoDecompose

	taskID := "task-" + uuid.NewString()
	status := "submitted"
	if !autoDecompose {
		status = "pending"
	}
	descriptor := &models.TaskDescriptor{
		TaskID:      taskID,
		ProjectID:   projectID,
		Instruction: instruction,
		Status:      status,
		CreatedAt:   time.Now().UTC(),
	}
	if err := o.cfg.Store.SaveTaskDescriptor(taskID, descriptor); err != nil {
		return "", fmt.Errorf("persist task descriptor: %w", err)
	}

	if !autoDecompose {
		slog.Info("Task filed without decomposition", "task_id", taskID, "project_id", projectID)
		return taskID, nil
	}

	engine, err := o.buildWorkflow(taskID, projectID, instruction, opts)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.workflows[taskID] = engine
	o.cancels[taskID] = cancel
	o.mu.Unlock()

	if health := o.HealthStatus(); health != nil && !health.Available {
		slog.Warn("AI backend degraded at submission; execution will use fallbacks",
			"task_id", taskID, "error", health.Error)
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		if err := engine.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Workflow run failed", "task_id", taskID, "error", err)
		}
	}()

	slog.Info("Task submitted", "task_id", taskID, "project_id", projectID)
	return taskID, nil
}

func (o *Orchestrator) buildWorkflow(taskID, projectID, instruction string, opts SubmitOptions) (*workflow.Engine, error) {
	hierarchy, err := ticket.LoadHierarchy(projectID, o.cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("load ticket hierarchy: %w", err)
	}

	workspace := opts.Workspace
	if workspace == "" {
		workspace = o.cfg.WorkspaceBase
	}

	mgr := manager.New(manager.Config{
		Client:    o.cfg.Client,
		Model:     o.cfg.Model,
		Hierarchy: hierarchy,
	})

	return workflow.New(workflow.Config{
		WorkflowID:    taskID,
		RunID:         taskID,
		ProjectID:     projectID,
		Instruction:   instruction,
		Workspace:     workspace,
		Manager:       mgr,
		Hierarchy:     hierarchy,
		Pool:          o.cfg.Pool,
		Gate:          qualitygate.New(o.cfg.GateConfig, o.cfg.GateRunner),
		Store:         o.cfg.Store,
		Bus:           o.cfg.Bus,
		Reviewer:      o.cfg.Reviewer,
		ReviewerModel: o.cfg.ReviewerModel,
	}), nil
}

// GetTask returns the descriptor and workflow state for a task.
func (o *Orchestrator) GetTask(taskID string) (*TaskView, error) {
	descriptor, ok, err := o.cfg.Store.LoadTaskDescriptor(taskID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}

	view := &TaskView{Descriptor: *descriptor}
	o.mu.Lock()
	engine := o.workflows[taskID]
	o.mu.Unlock()
	if engine != nil {
		view.Workflow = engine.State()
	}
	return view, nil
}

// Workflow returns the live engine behind a task, for approval decisions.
func (o *Orchestrator) Workflow(taskID string) (*workflow.Engine, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	engine, ok := o.workflows[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	return engine, nil
}

// PauseAllAgents pauses the system: working agents flip to paused and their
// histories persist so a restart can resume them.
func (o *Orchestrator) PauseAllAgents() error {
	o.mu.Lock()
	o.paused = true
	taskIDs := make([]string, 0, len(o.workflows))
	for taskID := range o.workflows {
		taskIDs = append(taskIDs, taskID)
	}
	o.mu.Unlock()

	for _, worker := range o.cfg.Pool.Workers() {
		if worker.Status() == agent.StatusWorking {
			if err := worker.Pause(""); err != nil {
				slog.Warn("Failed to pause worker", "worker_id", worker.ID(), "error", err)
			}
		}
	}
	for _, taskID := range taskIDs {
		if err := o.cfg.Store.PauseExecution(taskID); err != nil && !errors.Is(err, store.ErrNotFound) {
			slog.Warn("Failed to pause run", "run_id", taskID, "error", err)
		}
	}
	slog.Info("All agents paused")
	return nil
}

// ResumeAllAgents clears the pause. Rejected after an emergency stop.
func (o *Orchestrator) ResumeAllAgents() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.emergencyStopped {
		return ErrEmergencyStopped
	}
	o.paused = false
	for _, worker := range o.cfg.Pool.Workers() {
		if worker.Status() == agent.StatusPaused {
			if err := worker.Resume(); err != nil {
				slog.Warn("Failed to resume worker", "worker_id", worker.ID(), "error", err)
			}
		}
	}
	slog.Info("All agents resumed")
	return nil
}

// EmergencyStop is the terminal sink: everything pauses, every agent
// terminates, containers are destroyed, and no future submission is
// accepted.
func (o *Orchestrator) EmergencyStop(ctx context.Context) error {
	o.mu.Lock()
	if o.emergencyStopped {
		o.mu.Unlock()
		return nil
	}
	o.paused = true
	o.emergencyStopped = true
	cancels := make([]context.CancelFunc, 0, len(o.cancels))
	for _, cancel := range o.cancels {
		cancels = append(cancels, cancel)
	}
	o.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if err := o.cfg.Pool.Stop(ctx); err != nil {
		slog.Error("Failed to destroy worker containers", "error", err)
	}
	slog.Warn("Emergency stop engaged")
	return nil
}

// IsPaused reports the global pause flag.
func (o *Orchestrator) IsPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

// IsEmergencyStopped reports whether the terminal stop has been engaged.
func (o *Orchestrator) IsEmergencyStopped() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.emergencyStopped
}

// GetActiveAgents snapshots every worker. Under a global pause, agents that
// have not yet observed it are still reported paused.
func (o *Orchestrator) GetActiveAgents() []models.WorkerState {
	o.mu.Lock()
	paused := o.paused
	stopped := o.emergencyStopped
	o.mu.Unlock()

	states := o.cfg.Pool.WorkerStates()
	out := make([]models.WorkerState, 0, len(states))
	for _, state := range states {
		switch {
		case stopped:
			state.Status = string(agent.StatusTerminated)
		case paused && state.Status != string(agent.StatusTerminated):
			state.Status = string(agent.StatusPaused)
		}
		out = append(out, state)
	}
	return out
}

// HealthStatus returns the AI backend health, nil when unmonitored.
func (o *Orchestrator) HealthStatus() *llm.HealthStatus {
	if o.cfg.Health == nil {
		return nil
	}
	status := o.cfg.Health.Current()
	return &status
}

// RecoverRuns finds runs left in progress by a previous process and loads
// their conversation histories back onto fresh workers, paused and ready
// for ResumeAllAgents.
func (o *Orchestrator) RecoverRuns(ctx context.Context) ([]string, error) {
	records, err := o.cfg.Store.FindInProgressExecutions()
	if err != nil {
		return nil, err
	}

	recovered := make([]string, 0, len(records))
	for _, record := range records {
		history, ok, err := o.cfg.Store.LoadConversation(record.RunID)
		if err != nil || !ok {
			slog.Warn("Run has no recoverable conversation", "run_id", record.RunID, "error", err)
			continue
		}
		worker, err := o.cfg.Pool.AcquireWorker(ctx, nil)
		if err != nil {
			return recovered, fmt.Errorf("acquire worker for recovery of %s: %w", record.RunID, err)
		}
		worker.RestoreHistory(history)
		recovered = append(recovered, record.RunID)
		slog.Info("Recovered run", "run_id", record.RunID, "worker_id", worker.ID())
	}
	return recovered, nil
}

// Shutdown cancels running workflows and waits for them to settle.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	for _, cancel := range o.cancels {
		cancel()
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
