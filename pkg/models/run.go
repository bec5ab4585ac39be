package models

import "time"

// RunStatus is the persisted status of one task run.
type RunStatus string

// Run status constants.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"

	// RunStatusTerminated marks runs whose workflow was rejected or aborted.
	RunStatusTerminated RunStatus = "terminated"
)

// WorkerState is the persisted view of one worker participating in a run.
type WorkerState struct {
	WorkerID     string     `json:"workerId"`
	WorkerType   WorkerType `json:"workerType,omitempty"`
	Status       string     `json:"status"`
	TicketID     string     `json:"ticketId,omitempty"`
	ContainerID  string     `json:"containerId,omitempty"`
	Capabilities []string   `json:"capabilities,omitempty"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Message is one conversation entry.
type Message struct {
	Role      string    `json:"role"` // "system", "user", "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ToolCallRecord captures one tool invocation made during a conversation.
type ToolCallRecord struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Arguments  string    `json:"arguments"`
	Result     string    `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"durationMs"`
}

// ConversationHistory is the ordered record of one agent's conversation,
// with a parallel ordered record of its tool calls.
type ConversationHistory struct {
	AgentID     string           `json:"agentId,omitempty"`
	Messages    []Message        `json:"messages"`
	ToolCalls   []ToolCallRecord `json:"toolCalls,omitempty"`
	TotalTokens int              `json:"totalTokens"`
}

// ExecutionRecord is the per-run execution state persisted to
// runs/<runId>/state.json. It is the unit of pause/resume and restart
// recovery.
type ExecutionRecord struct {
	RunID                 string                         `json:"runId"`
	TicketID              string                         `json:"ticketId"`
	Status                RunStatus                      `json:"status"`
	WorkerStates          map[string]WorkerState         `json:"workerStates"`
	ConversationHistories map[string]ConversationHistory `json:"conversationHistories"`
	GitBranches           map[string]string              `json:"gitBranches"`
	LastUpdated           time.Time                      `json:"lastUpdated"`
}

// ExecutionError is a structured error recorded on an execution result.
// Errors are data: they never unwind the conversation loop.
type ExecutionError struct {
	Code        ErrorCode `json:"code"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	Recoverable bool      `json:"recoverable"`
}

// TaskDescriptor is the run-directory descriptor written on task submission
// (task.json).
type TaskDescriptor struct {
	TaskID      string    `json:"taskId"`
	ProjectID   string    `json:"projectId"`
	Instruction string    `json:"instruction"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}
