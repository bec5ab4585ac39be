package cleanup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kawanishi0117/agent-company-sub001/pkg/models"
	"github.com/kawanishi0117/agent-company-sub001/pkg/store"
)

func TestRunOnceRemovesOnlyStaleRuns(t *testing.T) {
	st := store.New(t.TempDir())

	require.NoError(t, st.SaveExecutionData(&models.ExecutionRecord{
		RunID:  "run-fresh",
		Status: models.RunStatusCompleted,
	}))
	// A record saved now is inside any positive retention window, so a
	// single pass removes nothing.
	service := NewService(st, 7, time.Hour)
	removed, err := service.RunOnce()
	require.NoError(t, err)
	assert.Empty(t, removed)

	_, ok, err := st.LoadExecutionData("run-fresh")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewServiceDefaults(t *testing.T) {
	service := NewService(store.New(t.TempDir()), 0, 0)
	assert.Equal(t, DefaultRetentionDays, service.retentionDays)
	assert.Equal(t, DefaultCleanupInterval, service.interval)
}

func TestStopIsIdempotent(t *testing.T) {
	service := NewService(store.New(t.TempDir()), 1, time.Minute)
	service.Stop()
	service.Stop()
}
