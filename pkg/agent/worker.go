// Package agent implements the worker conversation loop: one Worker drives
// one leaf ticket to completion by iterating AI chat calls and dispatching
// the model's tool requests, recording everything it does into the
// conversation history persisted per run.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kawanishi0117/agent-company-sub001/pkg/llm"
	"github.com/kawanishi0117/agent-company-sub001/pkg/models"
	"github.com/kawanishi0117/agent-company-sub001/pkg/store"
	"github.com/kawanishi0117/agent-company-sub001/pkg/tools"
)

// DefaultMaxIterations caps the conversation loop.
const DefaultMaxIterations = 30

// completionSignals end the loop when any appears, case-insensitively, as a
// substring of the assistant reply.
var completionSignals = []string{
	"TASK_COMPLETE",
	"タスク完了",
	"作業完了",
	"DONE",
	"完了しました",
}

// Status is a worker's lifecycle state.
type Status string

// Worker statuses.
const (
	StatusIdle       Status = "idle"
	StatusWorking    Status = "working"
	StatusPaused     Status = "paused"
	StatusTerminated Status = "terminated"
)

// Execution outcome statuses.
const (
	ResultCompleted = "completed"
	ResultPartial   = "partial"
	ResultFailed    = "failed"
	ResultCancelled = "cancelled"
)

// ExecutionResult is what one ticket execution produced. Failures are data:
// the loop itself never returns an error.
type ExecutionResult struct {
	TicketID   string                  `json:"ticketId"`
	Status     string                  `json:"status"`
	Summary    string                  `json:"summary,omitempty"`
	Artifacts  []models.Artifact       `json:"artifacts,omitempty"`
	Errors     []models.ExecutionError `json:"errors,omitempty"`
	Iterations int                     `json:"iterations"`
}

// Config assembles a worker's dependencies.
type Config struct {
	WorkerID      string
	WorkerType    models.WorkerType
	Capabilities  []string
	Client        llm.Client
	Model         string
	Tools         *tools.Set
	Store         *store.Store
	MaxIterations int
}

// Worker drives leaf tickets through the conversation loop. One ticket at a
// time; the loop is strictly sequential within a worker.
type Worker struct {
	id            string
	workerType    models.WorkerType
	capabilities  []string
	client        llm.Client
	model         string
	tools         *tools.Set
	store         *store.Store
	maxIterations int

	mu       sync.Mutex
	status   Status
	ticketID string
	history  *models.ConversationHistory
}

// NewWorker builds an idle worker.
func NewWorker(cfg Config) *Worker {
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	return &Worker{
		id:            cfg.WorkerID,
		workerType:    cfg.WorkerType,
		capabilities:  cfg.Capabilities,
		client:        cfg.Client,
		model:         cfg.Model,
		tools:         cfg.Tools,
		store:         cfg.Store,
		maxIterations: maxIter,
		status:        StatusIdle,
	}
}

// ID returns the worker's identifier.
func (w *Worker) ID() string { return w.id }

// Type returns the worker's role.
func (w *Worker) Type() models.WorkerType { return w.workerType }

// Capabilities returns the worker's capability tags.
func (w *Worker) Capabilities() []string { return w.capabilities }

// Status returns the current lifecycle state.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// CurrentTicket returns the ticket being executed, empty when idle.
func (w *Worker) CurrentTicket() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ticketID
}

// State snapshots the worker for the execution record.
func (w *Worker) State() models.WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return models.WorkerState{
		WorkerID:     w.id,
		WorkerType:   w.workerType,
		Status:       string(w.status),
		TicketID:     w.ticketID,
		Capabilities: w.capabilities,
		UpdatedAt:    time.Now().UTC(),
	}
}

// ExecuteTicket runs the conversation loop for one leaf ticket. The history
// is persisted on every exit path, including early failures.
func (w *Worker) ExecuteTicket(ctx context.Context, runID string, ticket *models.GrandchildTicket) *ExecutionResult {
	w.mu.Lock()
	w.status = StatusWorking
	w.ticketID = ticket.ID
	w.history = &models.ConversationHistory{AgentID: w.id}
	w.mu.Unlock()

	result := &ExecutionResult{TicketID: ticket.ID}
	artifacts := newArtifactTracker()

	defer func() {
		result.Artifacts = artifacts.list()
		w.persistHistory(runID)
		w.mu.Lock()
		if w.status == StatusWorking {
			w.status = StatusIdle
		}
		w.ticketID = ""
		w.mu.Unlock()
	}()

	w.appendMessage(llm.RoleSystem, w.systemPrompt())
	w.appendMessage(llm.RoleUser, taskPrompt(ticket))

	for iteration := 1; iteration <= w.maxIterations; iteration++ {
		result.Iterations = iteration

		if err := ctx.Err(); err != nil {
			result.Status = ResultCancelled
			result.Errors = append(result.Errors, executionError(models.CodeCancelled,
				"execution cancelled", true))
			return result
		}

		resp, err := w.client.Chat(ctx, &llm.ChatRequest{
			Model:    w.model,
			System:   w.systemPrompt(),
			Messages: w.messages(),
			Tools:    w.tools.Definitions(),
		})
		if err != nil {
			result.Status = ResultFailed
			result.Errors = append(result.Errors, executionError(models.CodeAIUnavailable,
				fmt.Sprintf("AI chat call failed: %v", err), true))
			return result
		}

		w.appendMessage(llm.RoleAssistant, resp.Content)
		w.addTokens(resp.Usage.TotalTokens)

		if signal := matchCompletionSignal(resp.Content); signal != "" {
			slog.Debug("Completion signal observed", "worker_id", w.id, "signal", signal)
			result.Status = ResultCompleted
			result.Summary = resp.Content
			return result
		}

		if len(resp.ToolCalls) > 0 {
			done, summary := w.dispatchToolCalls(ctx, resp.ToolCalls, artifacts)
			if done {
				result.Status = ResultCompleted
				result.Summary = summary
				return result
			}
			continue
		}

		if resp.IsComplete {
			result.Status = ResultCompleted
			result.Summary = resp.Content
			return result
		}
	}

	// Iteration cap reached without a completion signal.
	result.Status = ResultPartial
	return result
}

// dispatchToolCalls executes the calls in response order and appends one user
// message carrying all formatted results. Reports whether task_complete ran.
func (w *Worker) dispatchToolCalls(ctx context.Context, calls []llm.ToolCall, artifacts *artifactTracker) (bool, string) {
	var formatted strings.Builder
	formatted.WriteString("Tool results:\n")

	done := false
	summary := ""
	for i, call := range calls {
		record := models.ToolCallRecord{
			ID:        call.ID,
			Name:      call.Name,
			Arguments: string(call.Arguments),
			Timestamp: time.Now().UTC(),
		}

		start := time.Now()
		toolResult := w.executeTool(ctx, call)
		record.DurationMs = time.Since(start).Milliseconds()

		if toolResult.IsError {
			record.Error = toolResult.Content
		} else {
			record.Result = toolResult.Content
		}
		w.recordToolCall(record)

		artifacts.observe(call, toolResult)
		if toolResult.Done {
			done = true
			summary = toolResult.Content
		}

		fmt.Fprintf(&formatted, "[%d] %s: ", i+1, call.Name)
		if toolResult.IsError {
			fmt.Fprintf(&formatted, "ERROR: %s\n", toolResult.Content)
		} else {
			fmt.Fprintf(&formatted, "%s\n", toolResult.Content)
		}
	}

	w.appendMessage(llm.RoleUser, formatted.String())
	return done, summary
}

// executeTool resolves and runs one tool call. Unknown tools and bad
// arguments come back as error results, not loop failures.
func (w *Worker) executeTool(ctx context.Context, call llm.ToolCall) *tools.Result {
	tool, ok := w.tools.Get(call.Name)
	if !ok {
		return tools.ErrorResult(fmt.Sprintf("unknown tool %q", call.Name))
	}

	args := map[string]any{}
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return tools.ErrorResult(fmt.Sprintf("malformed arguments for %s: %v", call.Name, err))
		}
	}
	return tool.Execute(ctx, args)
}

// MarkWorking reserves an idle worker for an assignment. The pool calls it
// under its own lock so no two acquirers can be handed the same worker.
func (w *Worker) MarkWorking() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status != StatusIdle {
		return fmt.Errorf("%w: cannot mark worker working in status %s", store.ErrInvalidState, w.status)
	}
	w.status = StatusWorking
	return nil
}

// MarkIdle returns a released worker to the idle set. Paused and terminated
// workers are left alone.
func (w *Worker) MarkIdle() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status == StatusWorking {
		w.status = StatusIdle
	}
}

// Pause flips a working worker to paused and persists its history.
func (w *Worker) Pause(runID string) error {
	w.mu.Lock()
	if w.status != StatusWorking {
		w.mu.Unlock()
		return fmt.Errorf("%w: cannot pause worker in status %s", store.ErrInvalidState, w.status)
	}
	w.status = StatusPaused
	w.mu.Unlock()

	w.persistHistory(runID)
	return nil
}

// Resume requires a loaded history and flips the worker back to working.
func (w *Worker) Resume() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status != StatusPaused {
		return fmt.Errorf("%w: cannot resume worker in status %s", store.ErrInvalidState, w.status)
	}
	if w.history == nil {
		return fmt.Errorf("%w: no conversation history loaded", store.ErrInvalidState)
	}
	w.status = StatusWorking
	return nil
}

// RestoreHistory loads a persisted conversation into the worker for resume.
func (w *Worker) RestoreHistory(history *models.ConversationHistory) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.history = history
	w.status = StatusPaused
}

// Terminate marks the worker terminated. Used on emergency stop.
func (w *Worker) Terminate() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = StatusTerminated
}

// History returns the current conversation history.
func (w *Worker) History() *models.ConversationHistory {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.history
}

func (w *Worker) systemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s worker agent. You complete one ticket at a time using the tools available to you.\n\n", w.workerType)
	b.WriteString("Available tools:\n")
	for _, def := range w.tools.Definitions() {
		fmt.Fprintf(&b, "- %s: %s\n", def.Name, def.Description)
	}
	b.WriteString("\nWhen the ticket is finished, call task_complete or reply with TASK_COMPLETE.")
	return b.String()
}

func taskPrompt(ticket *models.GrandchildTicket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticket %s: %s\n", ticket.ID, ticket.Title)
	if ticket.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", ticket.Description)
	}
	if len(ticket.AcceptanceCriteria) > 0 {
		b.WriteString("\nAcceptance criteria:\n")
		for _, criterion := range ticket.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", criterion)
		}
	}
	return b.String()
}

// matchCompletionSignal returns the first signal found in the reply, or "".
func matchCompletionSignal(content string) string {
	lowered := strings.ToLower(content)
	for _, signal := range completionSignals {
		if strings.Contains(lowered, strings.ToLower(signal)) {
			return signal
		}
	}
	return ""
}

func (w *Worker) appendMessage(role, content string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.history.Messages = append(w.history.Messages, models.Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
}

func (w *Worker) recordToolCall(record models.ToolCallRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.history.ToolCalls = append(w.history.ToolCalls, record)
}

func (w *Worker) addTokens(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.history.TotalTokens += n
}

func (w *Worker) messages() []llm.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]llm.Message, 0, len(w.history.Messages))
	for _, m := range w.history.Messages {
		if m.Role == llm.RoleSystem {
			continue
		}
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

func (w *Worker) persistHistory(runID string) {
	if w.store == nil || runID == "" {
		return
	}
	w.mu.Lock()
	history := w.history
	w.mu.Unlock()
	if history == nil {
		return
	}
	if err := w.store.SaveConversation(runID, history); err != nil {
		slog.Error("Failed to persist conversation history",
			"worker_id", w.id, "run_id", runID, "error", err)
	}
}

func executionError(code models.ErrorCode, message string, recoverable bool) models.ExecutionError {
	return models.ExecutionError{
		Code:        code,
		Message:     message,
		Timestamp:   time.Now().UTC(),
		Recoverable: recoverable,
	}
}
