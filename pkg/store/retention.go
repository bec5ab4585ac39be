package store

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// DefaultRetentionDays is the default run-record retention period.
const DefaultRetentionDays = 7

// CleanupOldRuns deletes run records whose lastUpdated is older than the
// cutoff and returns the deleted run IDs. days <= 0 applies the default.
func (s *Store) CleanupOldRuns(days int) ([]string, error) {
	if days <= 0 {
		days = DefaultRetentionDays
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	runsDir := filepath.Join(s.base, "runs")
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var deleted []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		runID := entry.Name()
		record, ok, err := s.LoadExecutionData(runID)
		if err != nil || !ok {
			continue
		}
		if record.LastUpdated.After(cutoff) {
			continue
		}

		lock := s.runLock(runID)
		lock.Lock()
		rmErr := os.RemoveAll(s.runDir(runID))
		lock.Unlock()
		if rmErr != nil {
			slog.Error("Retention: failed to delete run record", "run_id", runID, "error", rmErr)
			continue
		}
		deleted = append(deleted, runID)
	}
	return deleted, nil
}
