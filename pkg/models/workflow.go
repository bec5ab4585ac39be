package models

import "time"

// WorkflowPhase is the current stage of a workflow.
type WorkflowPhase string

// Workflow phase constants.
const (
	PhaseProposal         WorkflowPhase = "proposal"
	PhaseApproval         WorkflowPhase = "approval"
	PhaseDevelopment      WorkflowPhase = "development"
	PhaseQualityAssurance WorkflowPhase = "quality_assurance"
	PhaseDelivery         WorkflowPhase = "delivery"
)

// WorkflowStatus is orthogonal to the phase: a workflow in any phase may be
// running, waiting for approval, or terminal.
type WorkflowStatus string

// Workflow status constants.
const (
	WorkflowStatusRunning         WorkflowStatus = "running"
	WorkflowStatusWaitingApproval WorkflowStatus = "waiting_approval"
	WorkflowStatusCompleted       WorkflowStatus = "completed"
	WorkflowStatusTerminated      WorkflowStatus = "terminated"
	WorkflowStatusFailed          WorkflowStatus = "failed"
)

// ApprovalAction is a decision submitted at an approval or escalation gate.
type ApprovalAction string

// Approval action constants.
const (
	ApprovalActionApprove        ApprovalAction = "approve"
	ApprovalActionReject         ApprovalAction = "reject"
	ApprovalActionRequestChanges ApprovalAction = "request_changes"
	ApprovalActionRetry          ApprovalAction = "retry"
	ApprovalActionSkip           ApprovalAction = "skip"
	ApprovalActionAbort          ApprovalAction = "abort"
)

// ApprovalDecision is an external party's decision on a gate.
type ApprovalDecision struct {
	Action    ApprovalAction `json:"action"`
	DecidedBy string         `json:"decidedBy"`
	DecidedAt time.Time      `json:"decidedAt"`
	Reason    string         `json:"reason,omitempty"`
}

// Escalation is a persisted request for a human decision when the workflow
// cannot recover on its own.
type Escalation struct {
	TicketID       string    `json:"ticketId"`
	FailureDetails string    `json:"failureDetails"`
	CreatedAt      time.Time `json:"createdAt"`
}

// SubtaskProgress tracks one decomposed subtask through the workflow.
type SubtaskProgress struct {
	TicketID   string       `json:"ticketId"`
	Title      string       `json:"title"`
	WorkerType WorkerType   `json:"workerType"`
	Status     TicketStatus `json:"status"`
	AgentID    string       `json:"agentId,omitempty"`
}

// WorkflowProgress aggregates the per-subtask view.
type WorkflowProgress struct {
	Subtasks []SubtaskProgress `json:"subtasks"`
}

// WorkflowState is the full state of one workflow instance.
type WorkflowState struct {
	WorkflowID     string             `json:"workflowId"`
	ProjectID      string             `json:"projectId"`
	Instruction    string             `json:"instruction"`
	CurrentPhase   WorkflowPhase      `json:"currentPhase"`
	Status         WorkflowStatus     `json:"status"`
	Progress       WorkflowProgress   `json:"progress"`
	QualityResults *QualityGateRecord `json:"qualityResults,omitempty"`
	Escalation     *Escalation        `json:"escalation,omitempty"`
	Approvals      []ApprovalDecision `json:"approvals,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}
