// Package models defines the shared data structures persisted by the state
// store and exchanged between the orchestrator, workflow engine, pool, and
// worker agents.
package models

import "time"

// TicketStatus represents the lifecycle state of any ticket in the hierarchy.
type TicketStatus string

// Ticket status constants.
const (
	TicketStatusPending          TicketStatus = "pending"
	TicketStatusDecomposing      TicketStatus = "decomposing"
	TicketStatusInProgress       TicketStatus = "in_progress"
	TicketStatusReviewRequested  TicketStatus = "review_requested"
	TicketStatusRevisionRequired TicketStatus = "revision_required"
	TicketStatusCompleted        TicketStatus = "completed"
	TicketStatusFailed           TicketStatus = "failed"
	TicketStatusPRCreated        TicketStatus = "pr_created"
	TicketStatusSkipped          TicketStatus = "skipped"
)

// WorkerType is the role tag carried by child tickets. Each type maps to a
// capability set and AI adapter preferences via the worker type registry.
type WorkerType string

// Worker type constants.
const (
	WorkerTypeResearch  WorkerType = "research"
	WorkerTypeDesign    WorkerType = "design"
	WorkerTypeDeveloper WorkerType = "developer"
	WorkerTypeTest      WorkerType = "test"
	WorkerTypeReviewer  WorkerType = "reviewer"
	WorkerTypeDesigner  WorkerType = "designer"
)

// ValidWorkerTypes is the closed set of recognized worker types.
var ValidWorkerTypes = map[WorkerType]bool{
	WorkerTypeResearch:  true,
	WorkerTypeDesign:    true,
	WorkerTypeDeveloper: true,
	WorkerTypeTest:      true,
	WorkerTypeReviewer:  true,
	WorkerTypeDesigner:  true,
}

// Valid reports whether the worker type is one of the recognized roles.
func (w WorkerType) Valid() bool {
	return ValidWorkerTypes[w]
}

// Valid reports whether the status is one of the defined lifecycle states.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusPending, TicketStatusDecomposing, TicketStatusInProgress,
		TicketStatusReviewRequested, TicketStatusRevisionRequired,
		TicketStatusCompleted, TicketStatusFailed, TicketStatusPRCreated,
		TicketStatusSkipped:
		return true
	}
	return false
}

// ParentTicket is the root of a three-level ticket tree. Its ID has the shape
// <project>-NNNN.
type ParentTicket struct {
	ID          string         `json:"id"`
	ProjectID   string         `json:"projectId"`
	Title       string         `json:"title"`
	Instruction string         `json:"instruction"`
	Status      TicketStatus   `json:"status"`
	Children    []*ChildTicket `json:"children"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// ChildTicket is a second-level ticket (<parent-id>-NN) carrying the worker
// role responsible for it.
type ChildTicket struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	WorkerType  WorkerType          `json:"workerType"`
	Status      TicketStatus        `json:"status"`
	Children    []*GrandchildTicket `json:"children"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

// GrandchildTicket is a leaf ticket (<child-id>-NNN) executed by a single
// worker agent.
type GrandchildTicket struct {
	ID                 string        `json:"id"`
	Title              string        `json:"title"`
	Description        string        `json:"description,omitempty"`
	AcceptanceCriteria []string      `json:"acceptanceCriteria,omitempty"`
	Assignee           string        `json:"assignee,omitempty"`
	GitBranch          string        `json:"gitBranch,omitempty"`
	Artifacts          []Artifact    `json:"artifacts,omitempty"`
	ReviewResult       *ReviewResult `json:"reviewResult,omitempty"`
	Status             TicketStatus  `json:"status"`
	CreatedAt          time.Time     `json:"createdAt"`
	UpdatedAt          time.Time     `json:"updatedAt"`
}

// Artifact records a file a worker produced or changed while executing a
// leaf ticket. Action is "created" or "modified"; duplicate paths collapse
// to the last action.
type Artifact struct {
	Path   string `json:"path"`
	Action string `json:"action"`
}

// ReviewResult is the reviewer verdict for a leaf ticket. A retried ticket
// overwrites the previous result (last write wins).
type ReviewResult struct {
	Verdict    string    `json:"verdict"` // "APPROVED" or "NEEDS_REVISION"
	Feedback   string    `json:"feedback,omitempty"`
	ReviewedBy string    `json:"reviewedBy,omitempty"`
	ReviewedAt time.Time `json:"reviewedAt"`
}

// TicketSnapshot is the persisted hierarchy for one project
// (tickets/<projectId>.json).
type TicketSnapshot struct {
	ProjectID     string          `json:"projectId"`
	ParentTickets []*ParentTicket `json:"parentTickets"`
	LastUpdated   time.Time       `json:"lastUpdated"`
}
