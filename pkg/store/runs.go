package store

import (
	"fmt"
	"time"

	"github.com/kawanishi0117/agent-company-sub001/pkg/models"
)

// SaveExecutionData persists the execution record for a run
// (runs/<runId>/state.json).
func (s *Store) SaveExecutionData(record *models.ExecutionRecord) error {
	if record == nil || record.RunID == "" {
		return fmt.Errorf("%w: missing run ID", ErrInvalidInput)
	}
	lock := s.runLock(record.RunID)
	lock.Lock()
	defer lock.Unlock()

	record.LastUpdated = time.Now().UTC()
	return writeJSON(s.runFile(record.RunID, "state.json"), record)
}

// LoadExecutionData loads the execution record for a run.
// Returns (nil, false, nil) when the run has no persisted state.
func (s *Store) LoadExecutionData(runID string) (*models.ExecutionRecord, bool, error) {
	if runID == "" {
		return nil, false, fmt.Errorf("%w: missing run ID", ErrInvalidInput)
	}
	var record models.ExecutionRecord
	ok, err := readJSON(s.runFile(runID, "state.json"), &record)
	if err != nil || !ok {
		return nil, false, err
	}
	return &record, true, nil
}

// SaveConversation persists the full conversation history for the run
// (runs/<runId>/conversation.json).
func (s *Store) SaveConversation(runID string, history *models.ConversationHistory) error {
	if runID == "" {
		return fmt.Errorf("%w: missing run ID", ErrInvalidInput)
	}
	lock := s.runLock(runID)
	lock.Lock()
	defer lock.Unlock()
	return writeJSON(s.runFile(runID, "conversation.json"), history)
}

// LoadConversation loads the conversation history for a run.
func (s *Store) LoadConversation(runID string) (*models.ConversationHistory, bool, error) {
	if runID == "" {
		return nil, false, fmt.Errorf("%w: missing run ID", ErrInvalidInput)
	}
	var history models.ConversationHistory
	ok, err := readJSON(s.runFile(runID, "conversation.json"), &history)
	if err != nil || !ok {
		return nil, false, err
	}
	return &history, true, nil
}

// SaveQualityRecord persists a quality gate result (runs/<runId>/quality.json).
func (s *Store) SaveQualityRecord(record *models.QualityGateRecord) error {
	if record == nil || record.RunID == "" {
		return fmt.Errorf("%w: missing run ID", ErrInvalidInput)
	}
	lock := s.runLock(record.RunID)
	lock.Lock()
	defer lock.Unlock()
	return writeJSON(s.runFile(record.RunID, "quality.json"), record)
}

// LoadQualityRecord loads the persisted gate result for a run.
func (s *Store) LoadQualityRecord(runID string) (*models.QualityGateRecord, bool, error) {
	var record models.QualityGateRecord
	ok, err := readJSON(s.runFile(runID, "quality.json"), &record)
	if err != nil || !ok {
		return nil, false, err
	}
	return &record, true, nil
}

// SaveTaskDescriptor writes the run-directory descriptor created on task
// submission (runs/<runId>/task.json).
func (s *Store) SaveTaskDescriptor(runID string, desc *models.TaskDescriptor) error {
	if runID == "" {
		return fmt.Errorf("%w: missing run ID", ErrInvalidInput)
	}
	lock := s.runLock(runID)
	lock.Lock()
	defer lock.Unlock()
	return writeJSON(s.runFile(runID, "task.json"), desc)
}

// LoadTaskDescriptor loads the run-directory descriptor for a run.
func (s *Store) LoadTaskDescriptor(runID string) (*models.TaskDescriptor, bool, error) {
	var desc models.TaskDescriptor
	ok, err := readJSON(s.runFile(runID, "task.json"), &desc)
	if err != nil || !ok {
		return nil, false, err
	}
	return &desc, true, nil
}

// PauseExecution transitions a run to paused. A no-op when already paused;
// fails with ErrInvalidState when the run is completed or failed.
func (s *Store) PauseExecution(runID string) error {
	lock := s.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	record, ok, err := s.loadRecordLocked(runID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}

	switch record.Status {
	case models.RunStatusPaused:
		return nil
	case models.RunStatusCompleted, models.RunStatusFailed:
		return fmt.Errorf("%w: cannot pause run %s in status %s", ErrInvalidState, runID, record.Status)
	}

	record.Status = models.RunStatusPaused
	record.LastUpdated = time.Now().UTC()
	return writeJSON(s.runFile(runID, "state.json"), record)
}

// ResumeExecution transitions a paused run back to running and returns the
// worker and agent IDs the caller must rehydrate.
func (s *Store) ResumeExecution(runID string) (workerIDs, agentIDs []string, err error) {
	lock := s.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	record, ok, err := s.loadRecordLocked(runID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}
	if record.Status != models.RunStatusPaused {
		return nil, nil, fmt.Errorf("%w: cannot resume run %s in status %s", ErrInvalidState, runID, record.Status)
	}

	record.Status = models.RunStatusRunning
	record.LastUpdated = time.Now().UTC()
	if err := writeJSON(s.runFile(runID, "state.json"), record); err != nil {
		return nil, nil, err
	}

	for id := range record.WorkerStates {
		workerIDs = append(workerIDs, id)
	}
	for id := range record.ConversationHistories {
		agentIDs = append(agentIDs, id)
	}
	return workerIDs, agentIDs, nil
}

// PauseTicketExecution writes a paused execution record for a ticket run,
// capturing the supplied worker and conversation snapshots.
func (s *Store) PauseTicketExecution(
	runID, ticketID string,
	workerStates map[string]models.WorkerState,
	histories map[string]models.ConversationHistory,
) error {
	if runID == "" || ticketID == "" {
		return fmt.Errorf("%w: missing run or ticket ID", ErrInvalidInput)
	}
	lock := s.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	record := &models.ExecutionRecord{
		RunID:                 runID,
		TicketID:              ticketID,
		Status:                models.RunStatusPaused,
		WorkerStates:          workerStates,
		ConversationHistories: histories,
		GitBranches:           map[string]string{},
		LastUpdated:           time.Now().UTC(),
	}
	return writeJSON(s.runFile(runID, "state.json"), record)
}

// loadRecordLocked reads state.json without taking the run lock.
// Callers must hold the run lock.
func (s *Store) loadRecordLocked(runID string) (*models.ExecutionRecord, bool, error) {
	var record models.ExecutionRecord
	ok, err := readJSON(s.runFile(runID, "state.json"), &record)
	if err != nil || !ok {
		return nil, false, err
	}
	return &record, true, nil
}
