// Package cleanup removes run directories older than the retention window
// on a fixed interval.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/kawanishi0117/agent-company-sub001/pkg/store"
)

// Defaults for the retention service.
const (
	DefaultRetentionDays   = 7
	DefaultCleanupInterval = 6 * time.Hour
)

// Service prunes old runs from the state store.
type Service struct {
	store         *store.Store
	retentionDays int
	interval      time.Duration
	stopCh        chan struct{}
}

// NewService builds a retention service. Non-positive settings fall back to
// the defaults.
func NewService(st *store.Store, retentionDays int, interval time.Duration) *Service {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	return &Service{
		store:         st,
		retentionDays: retentionDays,
		interval:      interval,
		stopCh:        make(chan struct{}),
	}
}

// RunOnce performs a single cleanup pass and returns the removed run IDs.
func (s *Service) RunOnce() ([]string, error) {
	removed, err := s.store.CleanupOldRuns(s.retentionDays)
	if err != nil {
		return nil, err
	}
	if len(removed) > 0 {
		slog.Info("Cleaned up old runs", "count", len(removed), "retention_days", s.retentionDays)
	}
	return removed, nil
}

// Start launches the periodic cleanup loop. Returns immediately.
func (s *Service) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				if _, err := s.RunOnce(); err != nil {
					slog.Error("Run cleanup failed", "error", err)
				}
			}
		}
	}()
}

// Stop ends the cleanup loop.
func (s *Service) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}
