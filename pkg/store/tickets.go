package store

import (
	"fmt"
	"time"

	"github.com/kawanishi0117/agent-company-sub001/pkg/models"
)

// SaveTicketSnapshot persists the full hierarchy for one project.
func (s *Store) SaveTicketSnapshot(snapshot *models.TicketSnapshot) error {
	if snapshot == nil || snapshot.ProjectID == "" {
		return fmt.Errorf("%w: missing project ID", ErrInvalidInput)
	}
	snapshot.LastUpdated = time.Now().UTC()
	return writeJSON(s.ticketsPath(snapshot.ProjectID), snapshot)
}

// LoadTicketSnapshot loads the hierarchy for one project.
// Returns (nil, false, nil) when no snapshot exists.
func (s *Store) LoadTicketSnapshot(projectID string) (*models.TicketSnapshot, bool, error) {
	if projectID == "" {
		return nil, false, fmt.Errorf("%w: missing project ID", ErrInvalidInput)
	}
	var snapshot models.TicketSnapshot
	ok, err := readJSON(s.ticketsPath(projectID), &snapshot)
	if err != nil || !ok {
		return nil, false, err
	}
	return &snapshot, true, nil
}
