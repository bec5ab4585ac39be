package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kawanishi0117/agent-company-sub001/pkg/llm"
	"github.com/kawanishi0117/agent-company-sub001/pkg/models"
	"github.com/kawanishi0117/agent-company-sub001/pkg/store"
	"github.com/kawanishi0117/agent-company-sub001/pkg/tools"
)

func testTicket() *models.GrandchildTicket {
	return &models.GrandchildTicket{
		ID:                 "proj-0001-01-001",
		Title:              "Write the parser",
		Description:        "Implement the config parser",
		AcceptanceCriteria: []string{"A", "B"},
		Status:             models.TicketStatusInProgress,
	}
}

func newTestWorker(t *testing.T, client llm.Client, st *store.Store) *Worker {
	t.Helper()
	return NewWorker(Config{
		WorkerID:     "worker-a",
		WorkerType:   models.WorkerTypeDeveloper,
		Capabilities: []string{"code"},
		Client:       client,
		Tools:        tools.DefaultSet(t.TempDir(), true, nil, nil),
		Store:        st,
	})
}

func TestExecuteTicketCompletionSignal(t *testing.T) {
	mock := llm.NewMockClient().Enqueue(
		&llm.ChatResponse{Content: "Starting work on the parser."},
		&llm.ChatResponse{Content: "All criteria satisfied. TASK_COMPLETE"},
	)
	w := newTestWorker(t, mock, nil)

	result := w.ExecuteTicket(context.Background(), "", testTicket())
	assert.Equal(t, ResultCompleted, result.Status)
	assert.Equal(t, 2, result.Iterations)
	assert.Equal(t, StatusIdle, w.Status())
}

func TestExecuteTicketJapaneseSignal(t *testing.T) {
	mock := llm.NewMockClient().Enqueue(
		&llm.ChatResponse{Content: "実装が終わりました。タスク完了"},
	)
	w := newTestWorker(t, mock, nil)

	result := w.ExecuteTicket(context.Background(), "", testTicket())
	assert.Equal(t, ResultCompleted, result.Status)
	assert.Equal(t, 1, result.Iterations)
}

func TestExecuteTicketToolDispatch(t *testing.T) {
	writeArgs, _ := json.Marshal(map[string]any{"path": "src/parser.go", "content": "package parser\n"})
	completeArgs, _ := json.Marshal(map[string]any{
		"summary":   "parser implemented",
		"artifacts": []string{"src/parser.go"},
	})

	mock := llm.NewMockClient().Enqueue(
		&llm.ChatResponse{
			Content:   "Writing the file now.",
			ToolCalls: []llm.ToolCall{{ID: "c1", Name: "write_file", Arguments: writeArgs}},
		},
		&llm.ChatResponse{
			Content:   "Finishing up.",
			ToolCalls: []llm.ToolCall{{ID: "c2", Name: "task_complete", Arguments: completeArgs}},
		},
	)
	w := newTestWorker(t, mock, nil)

	result := w.ExecuteTicket(context.Background(), "", testTicket())
	assert.Equal(t, ResultCompleted, result.Status)
	assert.Equal(t, 2, result.Iterations)

	// write_file marks created; the task_complete duplicate stays collapsed
	// to the last action.
	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, "src/parser.go", result.Artifacts[0].Path)
	assert.Equal(t, "created", result.Artifacts[0].Action)

	history := w.History()
	require.Len(t, history.ToolCalls, 2)
	assert.Equal(t, "write_file", history.ToolCalls[0].Name)
	assert.NotEmpty(t, history.ToolCalls[0].Result)

	// Tool results are appended as one user message after the assistant turn.
	roles := make([]string, 0, len(history.Messages))
	for _, m := range history.Messages {
		roles = append(roles, m.Role)
	}
	assert.Equal(t, []string{"system", "user", "assistant", "user", "assistant", "user"}, roles)
	assert.Contains(t, history.Messages[3].Content, "Tool results:")
	assert.Contains(t, history.Messages[3].Content, "[1] write_file")
}

func TestExecuteTicketIterationCap(t *testing.T) {
	mock := llm.NewMockClient()
	for i := 0; i < 10; i++ {
		mock.Enqueue(&llm.ChatResponse{Content: "still thinking"})
	}
	w := NewWorker(Config{
		WorkerID:      "worker-a",
		WorkerType:    models.WorkerTypeDeveloper,
		Client:        mock,
		Tools:         tools.DefaultSet(t.TempDir(), true, nil, nil),
		MaxIterations: 5,
	})

	result := w.ExecuteTicket(context.Background(), "", testTicket())
	assert.Equal(t, ResultPartial, result.Status)
	assert.Equal(t, 5, result.Iterations)
	assert.Empty(t, result.Errors)
}

func TestExecuteTicketAIFailureIsData(t *testing.T) {
	mock := llm.NewMockClient().FailWith(errors.New("connection refused"))
	st := store.New(t.TempDir())
	w := newTestWorker(t, mock, st)

	result := w.ExecuteTicket(context.Background(), "run-1", testTicket())
	assert.Equal(t, ResultFailed, result.Status)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, models.CodeAIUnavailable, result.Errors[0].Code)
	assert.True(t, result.Errors[0].Recoverable)

	// History is persisted even on the failure path.
	history, ok, err := st.LoadConversation("run-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, history.Messages)
}

func TestExecuteTicketCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := newTestWorker(t, llm.NewMockClient(), nil)
	result := w.ExecuteTicket(ctx, "", testTicket())
	assert.Equal(t, ResultCancelled, result.Status)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, models.CodeCancelled, result.Errors[0].Code)
}

func TestExecuteTicketUnknownToolIsData(t *testing.T) {
	mock := llm.NewMockClient().Enqueue(
		&llm.ChatResponse{
			Content:   "Trying something odd.",
			ToolCalls: []llm.ToolCall{{ID: "c1", Name: "teleport", Arguments: json.RawMessage(`{}`)}},
		},
		&llm.ChatResponse{Content: "TASK_COMPLETE"},
	)
	w := newTestWorker(t, mock, nil)

	result := w.ExecuteTicket(context.Background(), "", testTicket())
	assert.Equal(t, ResultCompleted, result.Status)

	history := w.History()
	require.Len(t, history.ToolCalls, 1)
	assert.Contains(t, history.ToolCalls[0].Error, "unknown tool")
}

func TestPauseResume(t *testing.T) {
	w := newTestWorker(t, llm.NewMockClient(), store.New(t.TempDir()))

	// Pause requires a working worker.
	assert.ErrorIs(t, w.Pause("run-1"), store.ErrInvalidState)

	w.RestoreHistory(&models.ConversationHistory{AgentID: "worker-a"})
	assert.Equal(t, StatusPaused, w.Status())

	require.NoError(t, w.Resume())
	assert.Equal(t, StatusWorking, w.Status())

	require.NoError(t, w.Pause("run-1"))
	assert.Equal(t, StatusPaused, w.Status())
}

func TestResumeRequiresHistory(t *testing.T) {
	w := newTestWorker(t, llm.NewMockClient(), nil)
	assert.ErrorIs(t, w.Resume(), store.ErrInvalidState)
}

func TestMatchCompletionSignal(t *testing.T) {
	assert.NotEmpty(t, matchCompletionSignal("task_complete executed, we are done"))
	assert.NotEmpty(t, matchCompletionSignal("finished: 完了しました"))
	assert.NotEmpty(t, matchCompletionSignal("all work is DONE"))
	assert.Empty(t, matchCompletionSignal("still working on the next step"))
}
