package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kawanishi0117/agent-company-sub001/pkg/llm"
	"github.com/kawanishi0117/agent-company-sub001/pkg/models"
	"github.com/kawanishi0117/agent-company-sub001/pkg/store"
	"github.com/kawanishi0117/agent-company-sub001/pkg/ticket"
)

func newTestManager(t *testing.T, client llm.Client) *AIManager {
	t.Helper()
	hierarchy, err := ticket.NewHierarchy("proj", store.New(t.TempDir()))
	require.NoError(t, err)
	return New(Config{Client: client, Hierarchy: hierarchy})
}

func TestReceiveTaskFilesParentTicket(t *testing.T) {
	m := newTestManager(t, llm.NewMockClient())

	parent, err := m.ReceiveTask(context.Background(), "Build a login page\nwith OAuth support")
	require.NoError(t, err)
	assert.Equal(t, "proj-0001", parent.ID)
	assert.Equal(t, "Build a login page", parent.Title)
	assert.Equal(t, "Build a login page\nwith OAuth support", parent.Instruction)
}

func TestDecomposeTaskParsesPlan(t *testing.T) {
	mock := llm.NewMockClient().Enqueue(&llm.ChatResponse{
		Content: `Here is the plan:
[
  {"title": "Design schema", "description": "Design the user table", "workerType": "design"},
  {"title": "Implement login", "description": "Build the handler", "workerType": "developer",
   "acceptanceCriteria": ["login succeeds with valid credentials"]}
]`,
	})
	m := newTestManager(t, mock)

	subtasks, err := m.DecomposeTask(context.Background(), "Build a login page")
	require.NoError(t, err)
	require.Len(t, subtasks, 2)
	assert.Equal(t, models.WorkerTypeDesign, subtasks[0].WorkerType)
	assert.Equal(t, "Implement login", subtasks[1].Title)
	assert.Equal(t, []string{"login succeeds with valid credentials"}, subtasks[1].AcceptanceCriteria)
}

func TestDecomposeTaskUnknownWorkerTypeDefaults(t *testing.T) {
	mock := llm.NewMockClient().Enqueue(&llm.ChatResponse{
		Content: `[{"title": "Do it", "description": "x", "workerType": "wizard"}]`,
	})
	m := newTestManager(t, mock)

	subtasks, err := m.DecomposeTask(context.Background(), "Do the thing")
	require.NoError(t, err)
	require.Len(t, subtasks, 1)
	assert.Equal(t, models.WorkerTypeDeveloper, subtasks[0].WorkerType)
}

func TestDecomposeTaskFallbackOnAIFailure(t *testing.T) {
	mock := llm.NewMockClient().FailWith(errors.New("connection refused"))
	m := newTestManager(t, mock)

	subtasks, err := m.DecomposeTask(context.Background(), "Build a login page")
	require.NoError(t, err)
	require.Len(t, subtasks, 2)
	assert.Equal(t, models.WorkerTypeDeveloper, subtasks[0].WorkerType)
	assert.Equal(t, models.WorkerTypeTest, subtasks[1].WorkerType)
	assert.Contains(t, subtasks[0].Title, "Build a login page")
}

func TestDecomposeTaskFallbackOnGarbage(t *testing.T) {
	mock := llm.NewMockClient().Enqueue(&llm.ChatResponse{Content: "I cannot help with that."})
	m := newTestManager(t, mock)

	subtasks, err := m.DecomposeTask(context.Background(), "Build a login page")
	require.NoError(t, err)
	assert.Len(t, subtasks, 2)
}

func TestDecomposeTaskCapsSubtasks(t *testing.T) {
	mock := llm.NewMockClient().Enqueue(&llm.ChatResponse{
		Content: `[{"title":"a"},{"title":"b"},{"title":"c"},{"title":"d"}]`,
	})
	hierarchy, err := ticket.NewHierarchy("proj", store.New(t.TempDir()))
	require.NoError(t, err)
	m := New(Config{Client: mock, Hierarchy: hierarchy, MaxSubtasks: 2})

	subtasks, err := m.DecomposeTask(context.Background(), "lots of work")
	require.NoError(t, err)
	assert.Len(t, subtasks, 2)
}

func TestDecomposeTaskRejectsEmptyInstruction(t *testing.T) {
	m := newTestManager(t, llm.NewMockClient())
	_, err := m.DecomposeTask(context.Background(), "")
	require.Error(t, err)
}

func TestAssignTaskFilesChildAndLeaf(t *testing.T) {
	m := newTestManager(t, llm.NewMockClient())
	parent, err := m.ReceiveTask(context.Background(), "Build a login page")
	require.NoError(t, err)

	child, err := m.AssignTask(context.Background(), parent.ID, SubTask{
		Title:              "Implement login",
		Description:        "Build the handler",
		WorkerType:         models.WorkerTypeDeveloper,
		AcceptanceCriteria: []string{"login works"},
	})
	require.NoError(t, err)
	assert.Equal(t, "proj-0001-01", child.ID)
	require.Len(t, child.Children, 1)
	assert.Equal(t, "proj-0001-01-001", child.Children[0].ID)
	assert.Equal(t, []string{"login works"}, child.Children[0].AcceptanceCriteria)
}

func TestProgressMonitoringStopIsIdempotent(t *testing.T) {
	m := newTestManager(t, llm.NewMockClient())
	m.StartProgressMonitoring(time.Millisecond)
	m.StartProgressMonitoring(time.Millisecond)
	m.StopProgressMonitoring()
	m.StopProgressMonitoring()
}

func TestParseSubtasksErrors(t *testing.T) {
	_, err := parseSubtasks("no array here")
	require.Error(t, err)

	_, err = parseSubtasks("[]")
	require.Error(t, err)

	_, err = parseSubtasks(`[{"description": "missing title"}]`)
	require.Error(t, err)
}
