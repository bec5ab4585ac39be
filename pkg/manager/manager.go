// Package manager implements the planning agent: it receives a task,
// decomposes the instruction into typed subtasks, and files them into the
// ticket hierarchy. The workflow engine treats decomposition as opaque and
// only consumes its output.
package manager

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
	"github.com/kawanishi0117/agent-company-sub001/pkg/ticket"
)

// DefaultMaxSubtasks caps one decomposition.
const DefaultMaxSubtasks = 5

// SubTask is one unit of decomposed work.
type SubTask struct {
	Title              string            `json:"title"`
	Description        string            `json:"description"`
	WorkerType         models.WorkerType `json:"workerType"`
	AcceptanceCriteria []string          `json:"acceptanceCriteria,omitempty"`
}

// Manager is the planning contract consumed by the workflow engine.
type Manager interface {
	ReceiveTask(ctx context.Context, instruction string) (*models.ParentTicket, error)
	DecomposeTask(ctx context.Context, instruction string) ([]SubTask, error)
	AssignTask(ctx context.Context, parentID string, subtask SubTask) (*models.ChildTicket, error)
	StartProgressMonitoring(interval time.Duration)
	StopProgressMonitoring()
}

// Config assembles an AI-backed manager.
type Config struct {
	Client      llm.Client
	Model       string
	Hierarchy   *ticket.Hierarchy
	MaxSubtasks int
}

// AIManager decomposes instructions with an AI adapter and falls back to a
// deterministic plan when the adapter is unavailable.
type AIManager struct {
	client      llm.Client
	model       string
	hierarchy   *ticket.Hierarchy
	maxSubtasks int

	monitorOnce sync.Once
	stopCh      chan struct{}
}

// New builds an AIManager.
func New(cfg Config) *AIManager {
	maxSubtasks := cfg.MaxSubtasks
	if maxSubtasks <= 0 {
		maxSubtasks = DefaultMaxSubtasks
	}
	return &AIManager{
		client:      cfg.Client,
		model:       cfg.Model,
		hierarchy:   cfg.Hierarchy,
		maxSubtasks: maxSubtasks,
		stopCh:      make(chan struct{}),
	}
}

// ReceiveTask files the instruction as a new parent ticket.
func (m *AIManager) ReceiveTask(ctx context.Context, instruction string) (*models.ParentTicket, error) {
	_ = ctx
	return m.hierarchy.CreateParentTicket(titleFromInstruction(instruction), instruction)
}

// DecomposeTask asks the AI for a subtask plan. Adapter failures and
// unparseable replies degrade to the deterministic fallback plan rather
// than failing the workflow.
func (m *AIManager) DecomposeTask(ctx context.Context, instruction string) ([]SubTask, error) {
	if instruction == "" {
		return nil, fmt.Errorf("instruction must not be empty")
	}
	if m.client == nil {
		return fallbackDecomposition(instruction), nil
	}

	resp, err := m.client.Chat(ctx, &llm.ChatRequest{
		Model:  m.model,
		System: decompositionSystemPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: decompositionPrompt(instruction)},
		},
	})
	if err != nil {
		slog.Warn("AI decomposition unavailable, using fallback plan", "error", err)
		return fallbackDecomposition(instruction), nil
	}

	subtasks, err := parseSubtasks(resp.Content)
	if err != nil {
		slog.Warn("AI decomposition unparseable, using fallback plan", "error", err)
		return fallbackDecomposition(instruction), nil
	}
	if len(subtasks) > m.maxSubtasks {
		subtasks = subtasks[:m.maxSubtasks]
	}
	return subtasks, nil
}

// AssignTask files a subtask as a child ticket with one leaf ticket that a
// worker can execute directly.
func (m *AIManager) AssignTask(ctx context.Context, parentID string, subtask SubTask) (*models.ChildTicket, error) {
	_ = ctx
	child, err := m.hierarchy.CreateChildTicket(parentID, subtask.Title, subtask.Description, subtask.WorkerType)
	if err != nil {
		return nil, err
	}
	_, err = m.hierarchy.CreateGrandchildTicket(child.ID, subtask.Title, subtask.Description, subtask.AcceptanceCriteria)
	if err != nil {
		return nil, err
	}
	return child, nil
}

// StartProgressMonitoring logs a periodic snapshot of ticket progress.
func (m *AIManager) StartProgressMonitoring(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	m.monitorOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-m.stopCh:
					return
				case <-ticker.C:
					m.logProgress()
				}
			}
		}()
	})
}

// StopProgressMonitoring stops the monitor goroutine.
func (m *AIManager) StopProgressMonitoring() {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
}

func (m *AIManager) logProgress() {
	counts := map[models.TicketStatus]int{}
	for _, parent := range m.hierarchy.ListParentTickets() {
		for _, child := range parent.Children {
			counts[child.Status]++
		}
	}
	attrs := make([]any, 0, len(counts)*2)
	for status, n := range counts {
		attrs = append(attrs, string(status), n)
	}
	slog.Info("Ticket progress", attrs...)
}

const decompositionSystemPrompt = `You are a project manager agent. Decompose the given task into subtasks.
Respond with a JSON array only, no prose. Each element:
{"title": string, "description": string, "workerType": one of research|design|developer|test|reviewer|designer, "acceptanceCriteria": [string]}`

func decompositionPrompt(instruction string) string {
	return fmt.Sprintf("Task:\n%s\n\nDecompose this into at most 5 subtasks as a JSON array.", instruction)
}

// parseSubtasks extracts the first JSON array from the reply and validates
// each entry. Unknown worker types default to developer.
func parseSubtasks(content string) ([]SubTask, error) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in reply")
	}

	var subtasks []SubTask
	if err := json.Unmarshal([]byte(content[start:end+1]), &subtasks); err != nil {
		return nil, fmt.Errorf("parse subtasks: %w", err)
	}
	if len(subtasks) == 0 {
		return nil, fmt.Errorf("empty subtask list")
	}
	for i := range subtasks {
		if subtasks[i].Title == "" {
			return nil, fmt.Errorf("subtask %d has no title", i)
		}
		if !subtasks[i].WorkerType.Valid() {
			subtasks[i].WorkerType = models.WorkerTypeDeveloper
		}
	}
	return subtasks, nil
}

// fallbackDecomposition is the deterministic plan used when the AI cannot
// help: implement, then verify.
func fallbackDecomposition(instruction string) []SubTask {
	title := titleFromInstruction(instruction)
	return []SubTask{
		{
			Title:       fmt.Sprintf("Implement: %s", title),
			Description: instruction,
			WorkerType:  models.WorkerTypeDeveloper,
			AcceptanceCriteria: []string{
				"The requested change is implemented",
			},
		},
		{
			Title:       fmt.Sprintf("Verify: %s", title),
			Description: fmt.Sprintf("Verify the implementation of: %s", instruction),
			WorkerType:  models.WorkerTypeTest,
			AcceptanceCriteria: []string{
				"The implementation passes its tests",
			},
		},
	}
}

// titleFromInstruction derives a short ticket title from the first line.
func titleFromInstruction(instruction string) string {
	title := strings.TrimSpace(instruction)
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = strings.TrimSpace(title[:idx])
	}
	const maxTitle = 80
	if len(title) > maxTitle {
		title = title[:maxTitle]
	}
	return title
}
