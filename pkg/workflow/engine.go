// Package workflow drives one task through the phase machine: proposal,
// approval, development, quality assurance, delivery. Phase and status are
// orthogonal; approval gates and escalations park the workflow in
// waiting_approval until an external decision arrives.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kawanishi0117/agent-company-sub001/pkg/agent"
	"github.com/kawanishi0117/agent-company-sub001/pkg/events"
	"github.com/kawanishi0117/agent-company-sub001/pkg/llm"
	"github.com/kawanishi0117/agent-company-sub001/pkg/manager"
	"github.com/kawanishi0117/agent-company-sub001/pkg/models"
	"github.com/kawanishi0117/agent-company-sub001/pkg/pool"
	"github.com/kawanishi0117/agent-company-sub001/pkg/qualitygate"
	"github.com/kawanishi0117/agent-company-sub001/pkg/store"
	"github.com/kawanishi0117/agent-company-sub001/pkg/ticket"
)

// Reviewer verdicts.
const (
	VerdictApproved      = "APPROVED"
	VerdictNeedsRevision = "NEEDS_REVISION"
)

var (
	// ErrNotWaitingApproval rejects decisions when no gate is open.
	ErrNotWaitingApproval = errors.New("workflow is not waiting for approval")

	// ErrNoEscalation rejects escalation handling without an open escalation.
	ErrNoEscalation = errors.New("no open escalation")
)

// Config assembles one workflow engine instance.
type Config struct {
	WorkflowID  string
	RunID       string
	ProjectID   string
	Instruction string
	Workspace   string

	Manager   manager.Manager
	Hierarchy *ticket.Hierarchy
	Pool      *pool.Pool
	Gate      *qualitygate.Gate
	Store     *store.Store
	Bus       *events.Bus

	// Reviewer reviews QA output; nil skips the review step.
	Reviewer      llm.Client
	ReviewerModel string
}

// Engine runs one workflow instance. Run drives the phase machine; decisions
// arrive through SubmitApprovalDecision and HandleEscalation.
type Engine struct {
	cfg Config

	mu        sync.Mutex
	state     *models.WorkflowState
	parentID  string
	results   map[string]*agent.ExecutionResult
	histories map[string]models.ConversationHistory

	decisionCh chan models.ApprovalDecision
}

// New builds an engine in the proposal phase.
func New(cfg Config) *Engine {
	now := time.Now().UTC()
	return &Engine{
		cfg: cfg,
		state: &models.WorkflowState{
			WorkflowID:   cfg.WorkflowID,
			ProjectID:    cfg.ProjectID,
			Instruction:  cfg.Instruction,
			CurrentPhase: models.PhaseProposal,
			Status:       models.WorkflowStatusRunning,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		results:    map[string]*agent.ExecutionResult{},
		histories:  map[string]models.ConversationHistory{},
		decisionCh: make(chan models.ApprovalDecision, 1),
	}
}

// State snapshots the workflow state.
func (e *Engine) State() models.WorkflowState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.state
}

// Results returns the per-ticket execution results collected so far.
func (e *Engine) Results() map[string]*agent.ExecutionResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]*agent.ExecutionResult, len(e.results))
	for id, r := range e.results {
		out[id] = r
	}
	return out
}

// Run drives the workflow until a terminal status or context cancellation.
func (e *Engine) Run(ctx context.Context) error {
	defer e.cfg.Manager.StopProgressMonitoring()
	for {
		state := e.State()
		switch state.Status {
		case models.WorkflowStatusCompleted, models.WorkflowStatusTerminated, models.WorkflowStatusFailed:
			return nil
		case models.WorkflowStatusWaitingApproval:
			if err := e.awaitDecision(ctx); err != nil {
				return err
			}
			continue
		}

		var err error
		switch state.CurrentPhase {
		case models.PhaseProposal:
			err = e.runProposal(ctx)
		case models.PhaseApproval:
			// Approval with status running means the gate was just passed.
			e.setPhase(models.PhaseDevelopment)
		case models.PhaseDevelopment:
			err = e.runDevelopment(ctx)
		case models.PhaseQualityAssurance:
			err = e.runQualityAssurance(ctx)
		case models.PhaseDelivery:
			e.setStatus(models.WorkflowStatusWaitingApproval)
		default:
			return fmt.Errorf("unknown workflow phase %q", state.CurrentPhase)
		}
		if err != nil {
			return err
		}
	}
}

// SubmitApprovalDecision records an external decision for the open gate.
func (e *Engine) SubmitApprovalDecision(decision models.ApprovalDecision) error {
	e.mu.Lock()
	if e.state.Status != models.WorkflowStatusWaitingApproval {
		e.mu.Unlock()
		return fmt.Errorf("%w: status is %s", ErrNotWaitingApproval, e.state.Status)
	}
	if decision.DecidedAt.IsZero() {
		decision.DecidedAt = time.Now().UTC()
	}
	e.state.Approvals = append(e.state.Approvals, decision)
	e.state.UpdatedAt = time.Now().UTC()
	e.mu.Unlock()

	select {
	case e.decisionCh <- decision:
		return nil
	default:
		return fmt.Errorf("%w: a decision is already pending", ErrNotWaitingApproval)
	}
}

// awaitDecision parks the workflow until a decision arrives, then applies it
// according to the open gate: escalation actions when an escalation exists,
// approval actions otherwise.
func (e *Engine) awaitDecision(ctx context.Context) error {
	var decision models.ApprovalDecision
	select {
	case <-ctx.Done():
		return ctx.Err()
	case decision = <-e.decisionCh:
	}

	if e.State().Escalation != nil {
		return e.applyEscalationDecision(decision)
	}
	return e.applyApprovalDecision(decision)
}

func (e *Engine) applyApprovalDecision(decision models.ApprovalDecision) error {
	state := e.State()
	switch state.CurrentPhase {
	case models.PhaseApproval:
		switch decision.Action {
		case models.ApprovalActionApprove:
			e.setPhase(models.PhaseDevelopment)
			e.setStatus(models.WorkflowStatusRunning)
		case models.ApprovalActionReject:
			e.setStatus(models.WorkflowStatusTerminated)
		case models.ApprovalActionRequestChanges:
			e.setPhase(models.PhaseProposal)
			e.setStatus(models.WorkflowStatusRunning)
		default:
			return fmt.Errorf("action %q is not valid at the approval gate", decision.Action)
		}
	case models.PhaseDelivery:
		switch decision.Action {
		case models.ApprovalActionApprove:
			e.setStatus(models.WorkflowStatusCompleted)
			e.updateParentStatus(models.TicketStatusCompleted)
		case models.ApprovalActionReject:
			e.setStatus(models.WorkflowStatusTerminated)
		default:
			return fmt.Errorf("action %q is not valid at the delivery gate", decision.Action)
		}
	default:
		return fmt.Errorf("no approval gate open in phase %s", state.CurrentPhase)
	}
	e.persist()
	return nil
}

// applyEscalationDecision maps retry/skip/abort onto the open escalation.
func (e *Engine) applyEscalationDecision(decision models.ApprovalDecision) error {
	e.mu.Lock()
	escalation := e.state.Escalation
	e.mu.Unlock()
	if escalation == nil {
		return ErrNoEscalation
	}

	switch decision.Action {
	case models.ApprovalActionRetry:
		if err := e.cfg.Hierarchy.UpdateTicketStatus(escalation.TicketID, models.TicketStatusPending); err != nil {
			return err
		}
		// Detach the worker so the retry acquires a fresh one.
		if err := e.cfg.Hierarchy.AssignWorker(escalation.TicketID, "", ""); err != nil {
			slog.Warn("Failed to detach worker on retry", "ticket_id", escalation.TicketID, "error", err)
		}
		e.mu.Lock()
		delete(e.results, escalation.TicketID)
		e.state.Escalation = nil
		e.state.Status = models.WorkflowStatusRunning
		e.state.UpdatedAt = time.Now().UTC()
		e.mu.Unlock()
	case models.ApprovalActionSkip:
		if err := e.cfg.Hierarchy.UpdateTicketStatus(escalation.TicketID, models.TicketStatusSkipped); err != nil {
			return err
		}
		e.mu.Lock()
		delete(e.results, escalation.TicketID)
		e.state.Escalation = nil
		e.state.Status = models.WorkflowStatusRunning
		e.state.UpdatedAt = time.Now().UTC()
		e.mu.Unlock()
	case models.ApprovalActionAbort:
		e.mu.Lock()
		e.state.Escalation = nil
		e.state.Status = models.WorkflowStatusTerminated
		e.state.UpdatedAt = time.Now().UTC()
		e.mu.Unlock()
	default:
		return fmt.Errorf("action %q is not valid for an escalation", decision.Action)
	}
	e.persist()
	return nil
}

// runProposal files the task, decomposes it, and opens the approval gate.
// A re-proposal after request_changes keeps the original parent ticket and
// supersedes the previous plan: its child tickets are marked skipped before
// the fresh decomposition is filed.
func (e *Engine) runProposal(ctx context.Context) error {
	e.mu.Lock()
	parentID := e.parentID
	e.mu.Unlock()

	if parentID == "" {
		parent, err := e.cfg.Manager.ReceiveTask(ctx, e.cfg.Instruction)
		if err != nil {
			return fmt.Errorf("receive task: %w", err)
		}
		parentID = parent.ID
		e.mu.Lock()
		e.parentID = parentID
		e.mu.Unlock()
	} else if err := e.supersedePlan(parentID); err != nil {
		return fmt.Errorf("supersede previous plan: %w", err)
	}

	subtasks, err := e.cfg.Manager.DecomposeTask(ctx, e.cfg.Instruction)
	if err != nil {
		return fmt.Errorf("decompose task: %w", err)
	}

	progress := make([]models.SubtaskProgress, 0, len(subtasks))
	for _, subtask := range subtasks {
		child, err := e.cfg.Manager.AssignTask(ctx, parentID, subtask)
		if err != nil {
			return fmt.Errorf("assign subtask %q: %w", subtask.Title, err)
		}
		progress = append(progress, models.SubtaskProgress{
			TicketID:   child.ID,
			Title:      child.Title,
			WorkerType: child.WorkerType,
			Status:     child.Status,
		})
	}

	e.mu.Lock()
	e.state.Progress = models.WorkflowProgress{Subtasks: progress}
	e.state.CurrentPhase = models.PhaseApproval
	e.state.Status = models.WorkflowStatusWaitingApproval
	e.state.UpdatedAt = time.Now().UTC()
	e.mu.Unlock()

	e.publish(events.TypeWorkflowPhase, string(models.PhaseApproval), "plan proposed")
	e.persist()
	return nil
}

// supersedePlan marks every unfinished ticket of the previous decomposition
// skipped so a re-proposal does not leave orphaned pending work behind.
func (e *Engine) supersedePlan(parentID string) error {
	children, err := e.cfg.Hierarchy.ListChildTickets(parentID)
	if err != nil {
		return err
	}
	for _, child := range children {
		leaves, err := e.cfg.Hierarchy.ListGrandchildTickets(child.ID)
		if err != nil {
			return err
		}
		for _, leaf := range leaves {
			if !isDoneStatus(leaf.Status) {
				if err := e.cfg.Hierarchy.UpdateTicketStatus(leaf.ID, models.TicketStatusSkipped); err != nil {
					return err
				}
			}
		}
		if !isDoneStatus(child.Status) {
			if err := e.cfg.Hierarchy.UpdateTicketStatus(child.ID, models.TicketStatusSkipped); err != nil {
				return err
			}
		}
	}
	e.mu.Lock()
	e.results = map[string]*agent.ExecutionResult{}
	e.mu.Unlock()
	return nil
}

// runDevelopment executes every leaf ticket, one worker per child ticket,
// and waits for all results before finalizing. A failing worker does not
// abort its siblings; failures are judged only after everything resolves.
func (e *Engine) runDevelopment(ctx context.Context) error {
	e.cfg.Manager.StartProgressMonitoring(30 * time.Second)

	e.mu.Lock()
	parentID := e.parentID
	e.mu.Unlock()

	children, err := e.cfg.Hierarchy.ListChildTickets(parentID)
	if err != nil {
		return fmt.Errorf("list child tickets: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, child := range children {
		if isDoneStatus(child.Status) {
			continue
		}
		child := child
		g.Go(func() error {
			return e.executeChild(gctx, child)
		})
	}
	// finalize runs strictly after every per-ticket result has resolved.
	if err := g.Wait(); err != nil {
		return err
	}
	return e.finalizeTaskExecution()
}

// executeChild drives every leaf under one child ticket on one worker.
func (e *Engine) executeChild(ctx context.Context, child *models.ChildTicket) error {
	worker, err := e.cfg.Pool.GetWorkerByType(ctx, child.WorkerType)
	if errors.Is(err, pool.ErrNoWorkerAvailable) {
		worker, err = e.cfg.Pool.AcquireWorker(ctx, nil)
	}
	if err != nil {
		e.recordResult(child.ID, &agent.ExecutionResult{
			TicketID: child.ID,
			Status:   agent.ResultFailed,
			Errors: []models.ExecutionError{{
				Code:      models.CodeContainerError,
				Message:   fmt.Sprintf("no worker for ticket %s: %v", child.ID, err),
				Timestamp: time.Now().UTC(),
			}},
		})
		return nil
	}

	defer func() {
		if task, releaseErr := e.cfg.Pool.ReleaseWorker(worker.ID()); releaseErr == nil && task != nil {
			slog.Debug("Worker picked up pending task", "worker_id", worker.ID(), "ticket_id", task.TicketID)
		}
	}()

	if err := e.cfg.Hierarchy.UpdateTicketStatus(child.ID, models.TicketStatusInProgress); err != nil {
		return err
	}

	leaves, err := e.cfg.Hierarchy.ListGrandchildTickets(child.ID)
	if err != nil {
		return err
	}
	for _, leaf := range leaves {
		if isDoneStatus(leaf.Status) {
			continue
		}
		if err := e.cfg.Hierarchy.AssignWorker(leaf.ID, worker.ID(), e.branchFor(leaf.ID)); err != nil {
			return err
		}
		_ = e.cfg.Hierarchy.UpdateTicketStatus(leaf.ID, models.TicketStatusInProgress)

		result := worker.ExecuteTicket(ctx, e.cfg.RunID, leaf)
		e.recordResult(leaf.ID, result)
		e.recordHistory(worker)

		status := models.TicketStatusCompleted
		if result.Status != agent.ResultCompleted {
			status = models.TicketStatusFailed
		}
		if err := e.cfg.Hierarchy.UpdateTicketStatus(leaf.ID, status); err != nil {
			return err
		}
		if len(result.Artifacts) > 0 {
			_ = e.cfg.Hierarchy.AddArtifacts(leaf.ID, result.Artifacts)
		}
		e.publish(events.TypeTicketStatus, string(status), leaf.ID)
	}
	return nil
}

// finalizeTaskExecution records the collected state and decides the phase
// outcome: any failed worker fails the workflow and opens an escalation.
func (e *Engine) finalizeTaskExecution() error {
	e.saveExecutionRecord()

	var failed *agent.ExecutionResult
	e.mu.Lock()
	for _, result := range e.results {
		if result.Status == agent.ResultFailed || result.Status == agent.ResultCancelled {
			failed = result
			break
		}
	}
	e.mu.Unlock()

	if failed != nil {
		e.mu.Lock()
		e.state.Status = models.WorkflowStatusFailed
		e.state.UpdatedAt = time.Now().UTC()
		e.mu.Unlock()
		e.raiseEscalation(failed.TicketID, failureDetails(failed))
		return nil
	}

	e.setPhase(models.PhaseQualityAssurance)
	e.publish(events.TypeWorkflowPhase, string(models.PhaseQualityAssurance), "development finished")
	e.persist()
	return nil
}

// runQualityAssurance gates the workspace and optionally asks a reviewer.
// A lint failure routes the executed tickets back to development as
// revision_required; a reviewer NEEDS_REVISION verdict opens an escalation.
func (e *Engine) runQualityAssurance(ctx context.Context) error {
	gateResult := e.cfg.Gate.Execute(ctx, e.cfg.RunID, e.cfg.Workspace)
	record := qualitygate.ToRecord(gateResult)
	record.Timestamp = time.Now().UTC()
	if e.cfg.Store != nil {
		if err := e.cfg.Store.SaveQualityRecord(record); err != nil {
			slog.Error("Failed to persist quality record", "run_id", e.cfg.RunID, "error", err)
		}
	}
	e.mu.Lock()
	e.state.QualityResults = record
	e.mu.Unlock()

	if !gateResult.Success {
		for _, ticketID := range e.executedTicketIDs() {
			_ = e.cfg.Hierarchy.UpdateTicketStatus(ticketID, models.TicketStatusRevisionRequired)
		}
		e.setPhase(models.PhaseDevelopment)
		e.publish(events.TypeWorkflowPhase, string(models.PhaseDevelopment), "quality gate failed")
		e.persist()
		return nil
	}

	if e.cfg.Reviewer != nil {
		verdict, err := e.review(ctx)
		if err != nil {
			slog.Warn("Reviewer unavailable, skipping review", "error", err)
		} else if verdict == VerdictNeedsRevision {
			e.raiseEscalation(e.parentTicketID(), "reviewer requested revisions")
			return nil
		}
	}

	e.setPhase(models.PhaseDelivery)
	e.publish(events.TypeWorkflowPhase, string(models.PhaseDelivery), "quality assurance passed")
	e.persist()
	return nil
}

// review asks the reviewer model for a verdict on the collected results.
func (e *Engine) review(ctx context.Context) (string, error) {
	var b strings.Builder
	b.WriteString("Review the completed work below. Reply with exactly APPROVED or NEEDS_REVISION on the first line, then your reasoning.\n\n")
	for ticketID, result := range e.Results() {
		fmt.Fprintf(&b, "Ticket %s (%s): %s\n", ticketID, result.Status, result.Summary)
		for _, artifact := range result.Artifacts {
			fmt.Fprintf(&b, "  %s %s\n", artifact.Action, artifact.Path)
		}
	}

	resp, err := e.cfg.Reviewer.Chat(ctx, &llm.ChatRequest{
		Model:    e.cfg.ReviewerModel,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: b.String()}},
	})
	if err != nil {
		return "", err
	}
	if strings.Contains(resp.Content, VerdictNeedsRevision) {
		return VerdictNeedsRevision, nil
	}
	return VerdictApproved, nil
}

// raiseEscalation records the escalation and opens the decision gate.
func (e *Engine) raiseEscalation(ticketID, details string) {
	e.mu.Lock()
	e.state.Escalation = &models.Escalation{
		TicketID:       ticketID,
		FailureDetails: details,
		CreatedAt:      time.Now().UTC(),
	}
	e.state.Status = models.WorkflowStatusWaitingApproval
	e.state.UpdatedAt = time.Now().UTC()
	e.mu.Unlock()

	e.publish(events.TypeEscalation, string(models.WorkflowStatusWaitingApproval), details)
	e.persist()
}

func (e *Engine) recordResult(ticketID string, result *agent.ExecutionResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results[ticketID] = result
}

// recordHistory snapshots the worker's conversation for the execution
// record. Keyed by agent ID so every participant survives persistence.
func (e *Engine) recordHistory(worker *agent.Worker) {
	history := worker.History()
	if history == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.histories[worker.ID()] = *history
}

func (e *Engine) executedTicketIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.results))
	for id := range e.results {
		ids = append(ids, id)
	}
	return ids
}

func (e *Engine) parentTicketID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.parentID
}

func (e *Engine) branchFor(ticketID string) string {
	return fmt.Sprintf("feature/%s", ticketID)
}

func (e *Engine) updateParentStatus(status models.TicketStatus) {
	if id := e.parentTicketID(); id != "" {
		_ = e.cfg.Hierarchy.UpdateTicketStatus(id, status)
	}
}

func (e *Engine) setPhase(phase models.WorkflowPhase) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.CurrentPhase = phase
	e.state.UpdatedAt = time.Now().UTC()
}

func (e *Engine) setStatus(status models.WorkflowStatus) {
	e.mu.Lock()
	e.state.Status = status
	e.state.UpdatedAt = time.Now().UTC()
	e.mu.Unlock()
	e.publish(events.TypeWorkflowStatus, string(status), "")
}

// saveExecutionRecord persists worker states and conversation histories for
// the run backing this workflow.
func (e *Engine) saveExecutionRecord() {
	if e.cfg.Store == nil {
		return
	}
	record := &models.ExecutionRecord{
		RunID:                 e.cfg.RunID,
		TicketID:              e.parentTicketID(),
		Status:                models.RunStatusRunning,
		ConversationHistories: map[string]models.ConversationHistory{},
		GitBranches:           map[string]string{},
		LastUpdated:           time.Now().UTC(),
	}
	if e.cfg.Pool != nil {
		record.WorkerStates = e.cfg.Pool.WorkerStates()
	}
	e.mu.Lock()
	for agentID, history := range e.histories {
		record.ConversationHistories[agentID] = history
	}
	e.mu.Unlock()
	for ticketID := range e.Results() {
		record.GitBranches[ticketID] = e.branchFor(ticketID)
	}
	if err := e.cfg.Store.SaveExecutionData(record); err != nil {
		slog.Error("Failed to persist execution record", "run_id", e.cfg.RunID, "error", err)
	}
}

// persist mirrors the workflow status into the run's execution record so a
// restart can find and resume it.
func (e *Engine) persist() {
	if e.cfg.Store == nil {
		return
	}
	record, ok, err := e.cfg.Store.LoadExecutionData(e.cfg.RunID)
	if err != nil || !ok {
		record = &models.ExecutionRecord{RunID: e.cfg.RunID}
	}
	record.TicketID = e.parentTicketID()
	record.Status = runStatusFor(e.State().Status)
	if err := e.cfg.Store.SaveExecutionData(record); err != nil {
		slog.Error("Failed to persist run status", "run_id", e.cfg.RunID, "error", err)
	}
}

// runStatusFor maps a workflow status onto the run record's status field.
func runStatusFor(status models.WorkflowStatus) models.RunStatus {
	switch status {
	case models.WorkflowStatusCompleted:
		return models.RunStatusCompleted
	case models.WorkflowStatusTerminated:
		return models.RunStatusTerminated
	case models.WorkflowStatusFailed:
		return models.RunStatusFailed
	default:
		return models.RunStatusRunning
	}
}

func (e *Engine) publish(eventType, status, detail string) {
	if e.cfg.Bus == nil {
		return
	}
	e.cfg.Bus.Publish(events.Event{
		Type:       eventType,
		WorkflowID: e.cfg.WorkflowID,
		RunID:      e.cfg.RunID,
		Status:     status,
		Detail:     detail,
	})
}

func isDoneStatus(status models.TicketStatus) bool {
	switch status {
	case models.TicketStatusCompleted, models.TicketStatusSkipped, models.TicketStatusPRCreated:
		return true
	}
	return false
}

func failureDetails(result *agent.ExecutionResult) string {
	if len(result.Errors) > 0 {
		return result.Errors[0].Message
	}
	return fmt.Sprintf("ticket %s finished with status %s", result.TicketID, result.Status)
}
