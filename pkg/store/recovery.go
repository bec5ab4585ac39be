package store

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/kawanishi0117/agent-company-sub001/pkg/models"
)

// FindInProgressExecutions enumerates runs/ and returns the records whose
// status is running or paused, ordered by lastUpdated descending. Runs with
// missing or unreadable state files are skipped with a warning: restart
// recovery should not fail because one record is damaged.
func (s *Store) FindInProgressExecutions() ([]*models.ExecutionRecord, error) {
	runsDir := filepath.Join(s.base, "runs")
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var records []*models.ExecutionRecord
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		runID := entry.Name()
		record, ok, err := s.LoadExecutionData(runID)
		if err != nil {
			slog.Warn("Skipping unreadable run record during recovery scan",
				"run_id", runID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		if record.Status == models.RunStatusRunning || record.Status == models.RunStatusPaused {
			records = append(records, record)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].LastUpdated.After(records[j].LastUpdated)
	})
	return records, nil
}
