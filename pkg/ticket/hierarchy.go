// Package ticket maintains the three-level ticket hierarchy for a project:
// parent tickets (features), child tickets (worker assignments) and
// grandchild tickets (atomic work items). IDs are positional and
// deterministic, so a ticket's level is recoverable from its ID alone.
package ticket

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/kawanishi0117/agent-company-sub001/pkg/models"
	"github.com/kawanishi0117/agent-company-sub001/pkg/store"
)

// ID shapes per level, relative to the project ID prefix.
var (
	parentIDPattern     = regexp.MustCompile(`^(.+)-(\d{4})$`)
	childIDPattern      = regexp.MustCompile(`^(.+)-(\d{4})-(\d{2})$`)
	grandchildIDPattern = regexp.MustCompile(`^(.+)-(\d{4})-(\d{2})-(\d{3})$`)
)

// parentIDOf strips the last positional segment from a ticket ID.
func parentIDOf(id string) string {
	idx := strings.LastIndex(id, "-")
	if idx <= 0 {
		return ""
	}
	return id[:idx]
}

// Hierarchy manages the ticket tree for one project and persists every
// mutation as a full snapshot.
type Hierarchy struct {
	mu        sync.RWMutex
	projectID string
	parents   []*models.ParentTicket
	store     *store.Store
}

// NewHierarchy creates an empty hierarchy for the project.
func NewHierarchy(projectID string, st *store.Store) (*Hierarchy, error) {
	if projectID == "" {
		return nil, fmt.Errorf("%w: missing project ID", store.ErrInvalidInput)
	}
	return &Hierarchy{projectID: projectID, store: st}, nil
}

// LoadHierarchy restores a hierarchy from its persisted snapshot. Returns an
// empty hierarchy when no snapshot exists yet.
func LoadHierarchy(projectID string, st *store.Store) (*Hierarchy, error) {
	h, err := NewHierarchy(projectID, st)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return h, nil
	}
	snapshot, ok, err := st.LoadTicketSnapshot(projectID)
	if err != nil {
		return nil, fmt.Errorf("loading ticket snapshot for %s: %w", projectID, err)
	}
	if ok {
		h.parents = snapshot.ParentTickets
	}
	return h, nil
}

// ProjectID returns the project this hierarchy belongs to.
func (h *Hierarchy) ProjectID() string {
	return h.projectID
}

// CreateParentTicket appends a new top-level ticket in pending status.
func (h *Hierarchy) CreateParentTicket(title, instruction string) (*models.ParentTicket, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("%w: parent ticket title is required", store.ErrInvalidInput)
	}
	if strings.TrimSpace(instruction) == "" {
		return nil, fmt.Errorf("%w: parent ticket instruction is required", store.ErrInvalidInput)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now().UTC()
	ticket := &models.ParentTicket{
		ID:          fmt.Sprintf("%s-%04d", h.projectID, len(h.parents)+1),
		ProjectID:   h.projectID,
		Title:       title,
		Instruction: instruction,
		Status:      models.TicketStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	h.parents = append(h.parents, ticket)

	if err := h.persistLocked(); err != nil {
		h.parents = h.parents[:len(h.parents)-1]
		return nil, err
	}
	slog.Debug("Created parent ticket", "ticket_id", ticket.ID, "title", title)
	return ticket, nil
}

// CreateChildTicket appends a worker-assignment ticket under a parent.
func (h *Hierarchy) CreateChildTicket(parentID, title, description string, workerType models.WorkerType) (*models.ChildTicket, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("%w: child ticket title is required", store.ErrInvalidInput)
	}
	if !workerType.Valid() {
		return nil, fmt.Errorf("%w: unknown worker type %q", store.ErrInvalidInput, workerType)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	parent := h.findParentLocked(parentID)
	if parent == nil {
		return nil, fmt.Errorf("%w: parent ticket %s", store.ErrNotFound, parentID)
	}

	now := time.Now().UTC()
	ticket := &models.ChildTicket{
		ID:          fmt.Sprintf("%s-%02d", parent.ID, len(parent.Children)+1),
		Title:       title,
		Description: description,
		WorkerType:  workerType,
		Status:      models.TicketStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	parent.Children = append(parent.Children, ticket)

	if err := h.persistLocked(); err != nil {
		parent.Children = parent.Children[:len(parent.Children)-1]
		return nil, err
	}
	slog.Debug("Created child ticket", "ticket_id", ticket.ID, "worker_type", workerType)
	return ticket, nil
}

// CreateGrandchildTicket appends an atomic work item under a child ticket.
func (h *Hierarchy) CreateGrandchildTicket(childID, title, description string, acceptanceCriteria []string) (*models.GrandchildTicket, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("%w: grandchild ticket title is required", store.ErrInvalidInput)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	child := h.findChildLocked(childID)
	if child == nil {
		return nil, fmt.Errorf("%w: child ticket %s", store.ErrNotFound, childID)
	}

	now := time.Now().UTC()
	ticket := &models.GrandchildTicket{
		ID:                 fmt.Sprintf("%s-%03d", child.ID, len(child.Children)+1),
		Title:              title,
		Description:        description,
		AcceptanceCriteria: acceptanceCriteria,
		Status:             models.TicketStatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	child.Children = append(child.Children, ticket)

	if err := h.persistLocked(); err != nil {
		child.Children = child.Children[:len(child.Children)-1]
		return nil, err
	}
	slog.Debug("Created grandchild ticket", "ticket_id", ticket.ID)
	return ticket, nil
}

// GetParentTicket returns the parent ticket with the given ID.
func (h *Hierarchy) GetParentTicket(id string) (*models.ParentTicket, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ticket := h.findParentLocked(id)
	return ticket, ticket != nil
}

// GetChildTicket returns the child ticket with the given ID.
func (h *Hierarchy) GetChildTicket(id string) (*models.ChildTicket, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ticket := h.findChildLocked(id)
	return ticket, ticket != nil
}

// GetGrandchildTicket returns the grandchild ticket with the given ID.
func (h *Hierarchy) GetGrandchildTicket(id string) (*models.GrandchildTicket, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ticket := h.findGrandchildLocked(id)
	return ticket, ticket != nil
}

// ListParentTickets returns all top-level tickets in creation order.
func (h *Hierarchy) ListParentTickets() []*models.ParentTicket {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*models.ParentTicket, len(h.parents))
	copy(out, h.parents)
	return out
}

// ListChildTickets returns the children of a parent in creation order.
func (h *Hierarchy) ListChildTickets(parentID string) ([]*models.ChildTicket, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	parent := h.findParentLocked(parentID)
	if parent == nil {
		return nil, fmt.Errorf("%w: parent ticket %s", store.ErrNotFound, parentID)
	}
	out := make([]*models.ChildTicket, len(parent.Children))
	copy(out, parent.Children)
	return out, nil
}

// ListGrandchildTickets returns the grandchildren of a child in creation order.
func (h *Hierarchy) ListGrandchildTickets(childID string) ([]*models.GrandchildTicket, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	child := h.findChildLocked(childID)
	if child == nil {
		return nil, fmt.Errorf("%w: child ticket %s", store.ErrNotFound, childID)
	}
	out := make([]*models.GrandchildTicket, len(child.Children))
	copy(out, child.Children)
	return out, nil
}

// UpdateTicketStatus sets the status of the ticket at any level and then
// recomputes ancestor statuses bottom-up until they stop changing.
func (h *Hierarchy) UpdateTicketStatus(id string, status models.TicketStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown ticket status %q", store.ErrInvalidInput, status)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now().UTC()
	switch {
	case grandchildIDPattern.MatchString(id):
		ticket := h.findGrandchildLocked(id)
		if ticket == nil {
			return fmt.Errorf("%w: grandchild ticket %s", store.ErrNotFound, id)
		}
		ticket.Status = status
		ticket.UpdatedAt = now
		h.propagateLocked(parentIDOf(id))
	case childIDPattern.MatchString(id):
		ticket := h.findChildLocked(id)
		if ticket == nil {
			return fmt.Errorf("%w: child ticket %s", store.ErrNotFound, id)
		}
		ticket.Status = status
		ticket.UpdatedAt = now
		h.propagateLocked(parentIDOf(id))
	case parentIDPattern.MatchString(id):
		ticket := h.findParentLocked(id)
		if ticket == nil {
			return fmt.Errorf("%w: parent ticket %s", store.ErrNotFound, id)
		}
		ticket.Status = status
		ticket.UpdatedAt = now
	default:
		return fmt.Errorf("%w: malformed ticket ID %q", store.ErrInvalidInput, id)
	}

	return h.persistLocked()
}

// SetReviewResult records a review verdict on a leaf ticket. Concurrent
// reviews resolve last-write-wins.
func (h *Hierarchy) SetReviewResult(grandchildID string, result *models.ReviewResult) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ticket := h.findGrandchildLocked(grandchildID)
	if ticket == nil {
		return fmt.Errorf("%w: grandchild ticket %s", store.ErrNotFound, grandchildID)
	}
	ticket.ReviewResult = result
	ticket.UpdatedAt = time.Now().UTC()
	return h.persistLocked()
}

// AssignWorker records the worker and git branch executing a leaf ticket.
func (h *Hierarchy) AssignWorker(grandchildID, workerID, branch string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ticket := h.findGrandchildLocked(grandchildID)
	if ticket == nil {
		return fmt.Errorf("%w: grandchild ticket %s", store.ErrNotFound, grandchildID)
	}
	ticket.Assignee = workerID
	ticket.GitBranch = branch
	ticket.UpdatedAt = time.Now().UTC()
	return h.persistLocked()
}

// AddArtifacts merges produced artifacts into a leaf ticket. Duplicate paths
// collapse to the most recent action.
func (h *Hierarchy) AddArtifacts(grandchildID string, artifacts []models.Artifact) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ticket := h.findGrandchildLocked(grandchildID)
	if ticket == nil {
		return fmt.Errorf("%w: grandchild ticket %s", store.ErrNotFound, grandchildID)
	}
	for _, artifact := range artifacts {
		replaced := false
		for i := range ticket.Artifacts {
			if ticket.Artifacts[i].Path == artifact.Path {
				ticket.Artifacts[i].Action = artifact.Action
				replaced = true
				break
			}
		}
		if !replaced {
			ticket.Artifacts = append(ticket.Artifacts, artifact)
		}
	}
	ticket.UpdatedAt = time.Now().UTC()
	return h.persistLocked()
}

// Snapshot returns a persistable copy of the current tree.
func (h *Hierarchy) Snapshot() *models.TicketSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	parents := make([]*models.ParentTicket, len(h.parents))
	copy(parents, h.parents)
	return &models.TicketSnapshot{ProjectID: h.projectID, ParentTickets: parents}
}

// propagateLocked recomputes derived statuses from the given ticket upward.
// Each level is recomputed from its children; the climb stops when a level's
// status is unchanged or the root is reached.
func (h *Hierarchy) propagateLocked(id string) {
	for id != "" {
		var changed bool
		switch {
		case childIDPattern.MatchString(id):
			child := h.findChildLocked(id)
			if child == nil {
				return
			}
			derived := deriveChildStatus(child)
			changed = derived != child.Status
			if changed {
				child.Status = derived
				child.UpdatedAt = time.Now().UTC()
			}
			id = parentIDOf(id)
		case parentIDPattern.MatchString(id):
			parent := h.findParentLocked(id)
			if parent == nil {
				return
			}
			derived := deriveParentStatus(parent)
			changed = derived != parent.Status
			if changed {
				parent.Status = derived
				parent.UpdatedAt = time.Now().UTC()
			}
			id = ""
		default:
			return
		}
		if !changed {
			return
		}
	}
}

// deriveChildStatus computes a child ticket's status from its grandchildren.
// Priority: all done > any failed > any active > any decomposing; otherwise
// the current status is kept.
func deriveChildStatus(child *models.ChildTicket) models.TicketStatus {
	if len(child.Children) == 0 {
		return child.Status
	}
	statuses := make([]models.TicketStatus, 0, len(child.Children))
	for _, g := range child.Children {
		statuses = append(statuses, g.Status)
	}
	return deriveFromStatuses(child.Status, statuses)
}

// deriveParentStatus computes a parent ticket's status from its children.
func deriveParentStatus(parent *models.ParentTicket) models.TicketStatus {
	if len(parent.Children) == 0 {
		return parent.Status
	}
	statuses := make([]models.TicketStatus, 0, len(parent.Children))
	for _, c := range parent.Children {
		statuses = append(statuses, c.Status)
	}
	return deriveFromStatuses(parent.Status, statuses)
}

func deriveFromStatuses(current models.TicketStatus, statuses []models.TicketStatus) models.TicketStatus {
	allDone := true
	anyFailed := false
	anyActive := false
	anyDecomposing := false
	for _, st := range statuses {
		switch st {
		case models.TicketStatusCompleted, models.TicketStatusSkipped, models.TicketStatusPRCreated:
		default:
			allDone = false
		}
		switch st {
		case models.TicketStatusFailed:
			anyFailed = true
		case models.TicketStatusInProgress, models.TicketStatusReviewRequested, models.TicketStatusRevisionRequired:
			anyActive = true
		case models.TicketStatusDecomposing:
			anyDecomposing = true
		}
	}

	switch {
	case allDone:
		return models.TicketStatusCompleted
	case anyFailed:
		return models.TicketStatusFailed
	case anyActive:
		return models.TicketStatusInProgress
	case anyDecomposing:
		return models.TicketStatusDecomposing
	default:
		return current
	}
}

func (h *Hierarchy) findParentLocked(id string) *models.ParentTicket {
	for _, p := range h.parents {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (h *Hierarchy) findChildLocked(id string) *models.ChildTicket {
	for _, p := range h.parents {
		for _, c := range p.Children {
			if c.ID == id {
				return c
			}
		}
	}
	return nil
}

func (h *Hierarchy) findGrandchildLocked(id string) *models.GrandchildTicket {
	for _, p := range h.parents {
		for _, c := range p.Children {
			for _, g := range c.Children {
				if g.ID == id {
					return g
				}
			}
		}
	}
	return nil
}

func (h *Hierarchy) persistLocked() error {
	if h.store == nil {
		return nil
	}
	snapshot := &models.TicketSnapshot{
		ProjectID:     h.projectID,
		ParentTickets: h.parents,
	}
	if err := h.store.SaveTicketSnapshot(snapshot); err != nil {
		return fmt.Errorf("persisting ticket snapshot for %s: %w", h.projectID, err)
	}
	return nil
}
