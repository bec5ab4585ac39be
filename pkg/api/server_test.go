package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kawanishi0117/agent-company-sub001/pkg/agent"
	"github.com/kawanishi0117/agent-company-sub001/pkg/events"
	"github.com/kawanishi0117/agent-company-sub001/pkg/llm"
	"github.com/kawanishi0117/agent-company-sub001/pkg/models"
	"github.com/kawanishi0117/agent-company-sub001/pkg/orchestrator"
	"github.com/kawanishi0117/agent-company-sub001/pkg/pool"
	"github.com/kawanishi0117/agent-company-sub001/pkg/qualitygate"
	"github.com/kawanishi0117/agent-company-sub001/pkg/store"
	"github.com/kawanishi0117/agent-company-sub001/pkg/tools"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st := store.New(t.TempDir())
	workerPool := pool.New(pool.Config{
		Registry: pool.DefaultTypeRegistry("mock", "m", "img"),
		NewWorker: func(workerID string, workerType models.WorkerType, spec pool.TypeSpec) (*agent.Worker, error) {
			return agent.NewWorker(agent.Config{
				WorkerID:     workerID,
				WorkerType:   workerType,
				Capabilities: spec.Capabilities,
				Client:       llm.NewMockClient(),
				Tools:        tools.DefaultSet(t.TempDir(), true, nil, nil),
				Store:        st,
			}), nil
		},
	})
	orch := orchestrator.New(orchestrator.Config{
		Store:         st,
		Pool:          workerPool,
		Bus:           events.NewBus(),
		Client:        llm.NewMockClient(),
		GateConfig:    qualitygate.Config{SkipLint: true, SkipTest: true},
		WorkspaceBase: t.TempDir(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})
	return NewServer(orch)
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSubmitTaskEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/tasks",
		`{"instruction": "Build the login page", "projectId": "proj"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp["taskId"], "task-"))

	// The task is retrievable.
	get := doJSON(t, s, http.MethodGet, "/api/v1/tasks/"+resp["taskId"], "")
	require.Equal(t, http.StatusOK, get.Code)
	assert.Contains(t, get.Body.String(), `"projectId":"proj"`)
}

func TestSubmitTaskRejectsMissingFields(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/v1/tasks", `{"projectId": "proj"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTaskNotFound(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/v1/tasks/task-ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApprovalEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/tasks",
		`{"instruction": "Build it", "projectId": "proj"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	taskID := resp["taskId"]

	engine, err := s.orch.Workflow(taskID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return engine.State().Status == models.WorkflowStatusWaitingApproval
	}, 5*time.Second, 5*time.Millisecond)

	approve := doJSON(t, s, http.MethodPost, "/api/v1/tasks/"+taskID+"/approval",
		`{"action": "reject", "decidedBy": "alice"}`)
	assert.Equal(t, http.StatusNoContent, approve.Code)

	// A second decision has no open gate: conflict.
	require.Eventually(t, func() bool {
		again := doJSON(t, s, http.MethodPost, "/api/v1/tasks/"+taskID+"/approval",
			`{"action": "approve", "decidedBy": "alice"}`)
		return again.Code == http.StatusConflict
	}, 5*time.Second, 5*time.Millisecond)
}

func TestControlEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/control/pause", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/control/resume", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/control/emergency-stop", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Resume after emergency stop is a conflict.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/control/resume", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Submission after emergency stop is a conflict.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/tasks",
		`{"instruction": "late work", "projectId": "proj"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWorkersAndHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/workers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "workers")

	rec = doJSON(t, s, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}
