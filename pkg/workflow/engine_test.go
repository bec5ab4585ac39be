package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kawanishi0117/agent-company-sub001/pkg/agent"
	"github.com/kawanishi0117/agent-company-sub001/pkg/events"
	"github.com/kawanishi0117/agent-company-sub001/pkg/execrun"
	"github.com/kawanishi0117/agent-company-sub001/pkg/llm"
	"github.com/kawanishi0117/agent-company-sub001/pkg/manager"
	"github.com/kawanishi0117/agent-company-sub001/pkg/models"
	"github.com/kawanishi0117/agent-company-sub001/pkg/pool"
	"github.com/kawanishi0117/agent-company-sub001/pkg/qualitygate"
	"github.com/kawanishi0117/agent-company-sub001/pkg/store"
	"github.com/kawanishi0117/agent-company-sub001/pkg/ticket"
	"github.com/kawanishi0117/agent-company-sub001/pkg/tools"
)

// flakyClient fails chat calls until recovered, then completes immediately.
type flakyClient struct {
	mu   sync.Mutex
	fail bool
}

func (c *flakyClient) Name() string { return "flaky" }

func (c *flakyClient) Chat(_ context.Context, _ *llm.ChatRequest) (*llm.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return nil, contextError("backend unavailable")
	}
	return &llm.ChatResponse{Content: "TASK_COMPLETE", IsComplete: true}, nil
}

func (c *flakyClient) recover() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = false
}

type contextError string

func (e contextError) Error() string { return string(e) }

type engineFixture struct {
	engine    *Engine
	hierarchy *ticket.Hierarchy
	store     *store.Store
	worker    *flakyClient
	done      chan error
}

// singleSubtaskPlan scripts the manager to decompose into one developer task.
const singleSubtaskPlan = `[{"title": "Implement feature", "description": "Build it", "workerType": "developer", "acceptanceCriteria": ["works"]}]`

func newFixture(t *testing.T, workerFails bool, plan string, gateCfg qualitygate.Config, gateRunner execrun.Runner) *engineFixture {
	t.Helper()
	st := store.New(t.TempDir())
	hierarchy, err := ticket.NewHierarchy("proj", st)
	require.NoError(t, err)

	workerClient := &flakyClient{fail: workerFails}
	workerPool := pool.New(pool.Config{
		Registry: pool.DefaultTypeRegistry("mock", "m", "img"),
		NewWorker: func(workerID string, workerType models.WorkerType, spec pool.TypeSpec) (*agent.Worker, error) {
			return agent.NewWorker(agent.Config{
				WorkerID:     workerID,
				WorkerType:   workerType,
				Capabilities: spec.Capabilities,
				Client:       workerClient,
				Tools:        tools.DefaultSet(t.TempDir(), true, nil, nil),
				Store:        st,
			}), nil
		},
	})

	mgr := manager.New(manager.Config{
		Client:    llm.NewMockClient().Enqueue(&llm.ChatResponse{Content: plan}),
		Hierarchy: hierarchy,
	})

	engine := New(Config{
		WorkflowID:  "wf-1",
		RunID:       "run-1",
		ProjectID:   "proj",
		Instruction: "Implement the feature",
		Workspace:   t.TempDir(),
		Manager:     mgr,
		Hierarchy:   hierarchy,
		Pool:        workerPool,
		Gate:        qualitygate.New(gateCfg, gateRunner),
		Store:       st,
		Bus:         events.NewBus(),
	})

	return &engineFixture{
		engine:    engine,
		hierarchy: hierarchy,
		store:     st,
		worker:    workerClient,
		done:      make(chan error, 1),
	}
}

func skipAllGate() qualitygate.Config {
	return qualitygate.Config{SkipLint: true, SkipTest: true}
}

func (f *engineFixture) start(ctx context.Context) {
	go func() { f.done <- f.engine.Run(ctx) }()
}

func (f *engineFixture) waitStatus(t *testing.T, status models.WorkflowStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.engine.State().Status == status
	}, 5*time.Second, 5*time.Millisecond, "waiting for status %s, at %+v", status, f.engine.State())
}

// waitGate waits for an open approval gate in the given phase. Waiting on
// the status alone is not enough right after a decision: the old gate's
// status is still waiting_approval until the engine applies the decision.
func (f *engineFixture) waitGate(t *testing.T, phase models.WorkflowPhase) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := f.engine.State()
		return s.Status == models.WorkflowStatusWaitingApproval && s.CurrentPhase == phase
	}, 5*time.Second, 5*time.Millisecond, "waiting for gate in phase %s, at %+v", phase, f.engine.State())
}

func (f *engineFixture) decide(t *testing.T, action models.ApprovalAction) {
	t.Helper()
	require.NoError(t, f.engine.SubmitApprovalDecision(models.ApprovalDecision{
		Action:    action,
		DecidedBy: "tester",
	}))
}

func (f *engineFixture) waitDone(t *testing.T) {
	t.Helper()
	select {
	case err := <-f.done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("workflow did not finish, state %+v", f.engine.State())
	}
}

func TestWorkflowHappyPath(t *testing.T) {
	f := newFixture(t, false, singleSubtaskPlan, skipAllGate(), nil)
	f.start(context.Background())

	// Proposal files the plan and opens the approval gate.
	f.waitGate(t, models.PhaseApproval)
	state := f.engine.State()
	require.Len(t, state.Progress.Subtasks, 1)
	assert.Equal(t, "proj-0001-01", state.Progress.Subtasks[0].TicketID)

	// Approve: development runs the leaf, the gate passes, delivery opens.
	f.decide(t, models.ApprovalActionApprove)
	f.waitGate(t, models.PhaseDelivery)

	// Second approval completes the workflow.
	f.decide(t, models.ApprovalActionApprove)
	f.waitDone(t)
	assert.Equal(t, models.WorkflowStatusCompleted, f.engine.State().Status)

	// The ticket tree propagated to completed.
	parent, ok := f.hierarchy.GetParentTicket("proj-0001")
	require.True(t, ok)
	assert.Equal(t, models.TicketStatusCompleted, parent.Status)

	// Both approvals were recorded.
	assert.Len(t, f.engine.State().Approvals, 2)
}

func TestWorkflowReject(t *testing.T) {
	f := newFixture(t, false, singleSubtaskPlan, skipAllGate(), nil)
	f.start(context.Background())

	f.waitStatus(t, models.WorkflowStatusWaitingApproval)
	f.decide(t, models.ApprovalActionReject)
	f.waitDone(t)
	assert.Equal(t, models.WorkflowStatusTerminated, f.engine.State().Status)
}

func TestWorkflowRequestChanges(t *testing.T) {
	f := newFixture(t, false, singleSubtaskPlan, skipAllGate(), nil)
	f.start(context.Background())

	f.waitGate(t, models.PhaseApproval)
	f.decide(t, models.ApprovalActionRequestChanges)

	// A fresh plan opens a new approval gate under the same parent; the
	// first child set is superseded, not orphaned.
	require.Eventually(t, func() bool {
		s := f.engine.State()
		return s.Status == models.WorkflowStatusWaitingApproval &&
			len(s.Progress.Subtasks) > 0 &&
			s.Progress.Subtasks[0].TicketID != "proj-0001-01"
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, models.PhaseApproval, f.engine.State().CurrentPhase)
	assert.Equal(t, "proj-0001-02", f.engine.State().Progress.Subtasks[0].TicketID)

	superseded, ok := f.hierarchy.GetChildTicket("proj-0001-01")
	require.True(t, ok)
	assert.Equal(t, models.TicketStatusSkipped, superseded.Status)

	// No second parent was filed.
	assert.Len(t, f.hierarchy.ListParentTickets(), 1)
}

func TestWorkflowEscalationRetry(t *testing.T) {
	f := newFixture(t, true, singleSubtaskPlan, skipAllGate(), nil)
	f.start(context.Background())

	f.waitGate(t, models.PhaseApproval)
	f.decide(t, models.ApprovalActionApprove)

	// The worker fails; an escalation opens.
	require.Eventually(t, func() bool {
		return f.engine.State().Escalation != nil
	}, 5*time.Second, 5*time.Millisecond)
	escalation := f.engine.State().Escalation
	assert.Equal(t, "proj-0001-01-001", escalation.TicketID)
	assert.NotEmpty(t, escalation.FailureDetails)

	// Retry with a recovered backend drives the workflow to delivery.
	f.worker.recover()
	f.decide(t, models.ApprovalActionRetry)
	f.waitGate(t, models.PhaseDelivery)
	assert.Nil(t, f.engine.State().Escalation)

	f.decide(t, models.ApprovalActionApprove)
	f.waitDone(t)
	assert.Equal(t, models.WorkflowStatusCompleted, f.engine.State().Status)
}

func TestWorkflowEscalationSkip(t *testing.T) {
	f := newFixture(t, true, singleSubtaskPlan, skipAllGate(), nil)
	f.start(context.Background())

	f.waitGate(t, models.PhaseApproval)
	f.decide(t, models.ApprovalActionApprove)

	require.Eventually(t, func() bool {
		return f.engine.State().Escalation != nil
	}, 5*time.Second, 5*time.Millisecond)

	f.decide(t, models.ApprovalActionSkip)

	// The leaf is skipped; development has nothing left and QA passes.
	f.waitGate(t, models.PhaseDelivery)

	leaf, ok := f.hierarchy.GetGrandchildTicket("proj-0001-01-001")
	require.True(t, ok)
	assert.Equal(t, models.TicketStatusSkipped, leaf.Status)
}

func TestWorkflowEscalationAbort(t *testing.T) {
	f := newFixture(t, true, singleSubtaskPlan, skipAllGate(), nil)
	f.start(context.Background())

	f.waitGate(t, models.PhaseApproval)
	f.decide(t, models.ApprovalActionApprove)

	require.Eventually(t, func() bool {
		return f.engine.State().Escalation != nil
	}, 5*time.Second, 5*time.Millisecond)

	f.decide(t, models.ApprovalActionAbort)
	f.waitDone(t)
	assert.Equal(t, models.WorkflowStatusTerminated, f.engine.State().Status)
}

// lintOnceRunner fails the lint command on its first invocation only.
type lintOnceRunner struct {
	mu    sync.Mutex
	calls int
}

func (r *lintOnceRunner) Run(_ context.Context, _ string, _ string, args ...string) (*execrun.Result, error) {
	command := args[len(args)-1]
	if command != "lint" {
		return &execrun.Result{}, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls == 1 {
		return &execrun.Result{Stderr: "ESLint: 3 errors", ExitCode: 1}, nil
	}
	return &execrun.Result{}, nil
}

func TestWorkflowLintFailureRoutesBackToDevelopment(t *testing.T) {
	f := newFixture(t, false, singleSubtaskPlan, qualitygate.Config{LintCommand: "lint", SkipTest: true}, &lintOnceRunner{})
	f.start(context.Background())

	f.waitGate(t, models.PhaseApproval)
	f.decide(t, models.ApprovalActionApprove)

	// First gate fails, tickets route back, the rerun passes the gate.
	f.waitGate(t, models.PhaseDelivery)

	state := f.engine.State()
	require.NotNil(t, state.QualityResults)
	assert.True(t, state.QualityResults.Overall)

	f.decide(t, models.ApprovalActionApprove)
	f.waitDone(t)
}

func TestWorkflowReviewerNeedsRevisionEscalates(t *testing.T) {
	f := newFixture(t, false, singleSubtaskPlan, skipAllGate(), nil)
	f.engine.cfg.Reviewer = llm.NewMockClient().Enqueue(
		&llm.ChatResponse{Content: "NEEDS_REVISION\nThe error handling is missing."},
	)
	f.start(context.Background())

	f.waitGate(t, models.PhaseApproval)
	f.decide(t, models.ApprovalActionApprove)

	require.Eventually(t, func() bool {
		return f.engine.State().Escalation != nil
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, "proj-0001", f.engine.State().Escalation.TicketID)
}

func TestSubmitDecisionWithoutOpenGate(t *testing.T) {
	f := newFixture(t, false, singleSubtaskPlan, skipAllGate(), nil)
	err := f.engine.SubmitApprovalDecision(models.ApprovalDecision{Action: models.ApprovalActionApprove})
	assert.ErrorIs(t, err, ErrNotWaitingApproval)
}

func TestWorkflowPersistsRunStatus(t *testing.T) {
	f := newFixture(t, false, singleSubtaskPlan, skipAllGate(), nil)
	f.start(context.Background())

	f.waitGate(t, models.PhaseApproval)
	f.decide(t, models.ApprovalActionApprove)
	f.waitGate(t, models.PhaseDelivery)
	f.decide(t, models.ApprovalActionApprove)
	f.waitDone(t)

	record, ok, err := f.store.LoadExecutionData("run-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.RunStatusCompleted, record.Status)
	assert.Equal(t, "proj-0001", record.TicketID)
}

// twoSubtaskPlan scripts a decomposition across two worker types.
const twoSubtaskPlan = `[
  {"title": "Implement feature", "description": "Build it", "workerType": "developer"},
  {"title": "Verify feature", "description": "Test it", "workerType": "test"}]`

func TestWorkflowRecordsConversationHistories(t *testing.T) {
	f := newFixture(t, false, twoSubtaskPlan, skipAllGate(), nil)
	f.start(context.Background())

	f.waitGate(t, models.PhaseApproval)
	f.decide(t, models.ApprovalActionApprove)
	f.waitGate(t, models.PhaseDelivery)

	record, ok, err := f.store.LoadExecutionData("run-1")
	require.NoError(t, err)
	require.True(t, ok)

	// Every agent that worked the run keeps its own conversation.
	require.Len(t, record.ConversationHistories, 2)
	assert.Contains(t, record.ConversationHistories, "developer-1")
	assert.Contains(t, record.ConversationHistories, "test-1")
	for agentID, history := range record.ConversationHistories {
		assert.Equal(t, agentID, history.AgentID)
		assert.NotEmpty(t, history.Messages)
	}
}
