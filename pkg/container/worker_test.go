package container

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRuntime records calls and returns scripted results.
type fakeRuntime struct {
	created   []CreateOptions
	stopped   []string
	removed   []string
	stopErr   error
	createErr error
	removeErr error
}

func (f *fakeRuntime) CreateContainer(_ context.Context, opts CreateOptions) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, opts)
	return fmt.Sprintf("cid-%d", len(f.created)), nil
}

func (f *fakeRuntime) StopContainer(_ context.Context, id string) error {
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeRuntime) RemoveContainer(_ context.Context, id string, _ bool) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeRuntime) ContainerLogs(_ context.Context, _ string, _ LogOptions) (string, error) {
	return "log output", nil
}

func (f *fakeRuntime) InspectContainer(_ context.Context, _ string) (string, error) {
	return "{}", nil
}

func newTestContainer(rt Runtime) *WorkerContainer {
	return NewWorkerContainer("worker-a", rt, DefaultIsolationConfig(), WorkerOptions{
		Image: "agentcompany/worker:latest",
		RunID: "run-1",
	})
}

func TestLifecycleHappyPath(t *testing.T) {
	rt := &fakeRuntime{}
	wc := newTestContainer(rt)
	ctx := context.Background()

	assert.Equal(t, StateNone, wc.CurrentState())

	require.NoError(t, wc.Create(ctx))
	assert.Equal(t, StateCreated, wc.CurrentState())
	assert.Equal(t, "cid-1", wc.ContainerID())

	require.NoError(t, wc.Start(ctx))
	assert.Equal(t, StateRunning, wc.CurrentState())

	require.NoError(t, wc.Stop(ctx))
	assert.Equal(t, StateStopped, wc.CurrentState())
	assert.Equal(t, []string{"cid-1"}, rt.stopped)

	require.NoError(t, wc.Destroy(ctx, false))
	assert.Equal(t, StateDestroyed, wc.CurrentState())
	assert.Equal(t, []string{"cid-1"}, rt.removed)
}

func TestCreateRejectsExisting(t *testing.T) {
	rt := &fakeRuntime{}
	wc := newTestContainer(rt)
	ctx := context.Background()

	require.NoError(t, wc.Create(ctx))
	assert.ErrorIs(t, wc.Create(ctx), ErrInvalidState)

	require.NoError(t, wc.Start(ctx))
	assert.ErrorIs(t, wc.Create(ctx), ErrInvalidState)

	require.NoError(t, wc.Stop(ctx))
	assert.ErrorIs(t, wc.Create(ctx), ErrInvalidState)

	// Re-create after destroy is allowed.
	require.NoError(t, wc.Destroy(ctx, false))
	assert.NoError(t, wc.Create(ctx))
}

func TestStartTransitions(t *testing.T) {
	rt := &fakeRuntime{}
	wc := newTestContainer(rt)
	ctx := context.Background()

	// Start before create is rejected.
	assert.ErrorIs(t, wc.Start(ctx), ErrInvalidState)

	require.NoError(t, wc.Create(ctx))
	require.NoError(t, wc.Start(ctx))
	// Idempotent on running.
	assert.NoError(t, wc.Start(ctx))

	require.NoError(t, wc.Destroy(ctx, false))
	assert.ErrorIs(t, wc.Start(ctx), ErrInvalidState)
}

func TestStopTransitions(t *testing.T) {
	rt := &fakeRuntime{}
	wc := newTestContainer(rt)
	ctx := context.Background()

	require.NoError(t, wc.Create(ctx))
	// Stop from created is rejected: the state machine requires running.
	assert.ErrorIs(t, wc.Stop(ctx), ErrInvalidState)

	require.NoError(t, wc.Start(ctx))
	require.NoError(t, wc.Stop(ctx))
	// Idempotent on stopped and destroyed.
	assert.NoError(t, wc.Stop(ctx))
	require.NoError(t, wc.Destroy(ctx, false))
	assert.NoError(t, wc.Stop(ctx))
}

func TestDestroyIdempotentAndNeverCreated(t *testing.T) {
	rt := &fakeRuntime{}
	wc := newTestContainer(rt)
	ctx := context.Background()

	// Never created: destroy is a no-op.
	assert.NoError(t, wc.Destroy(ctx, false))
	assert.Empty(t, rt.removed)

	require.NoError(t, wc.Create(ctx))
	require.NoError(t, wc.Destroy(ctx, false))
	require.NoError(t, wc.Destroy(ctx, true))
	assert.Len(t, rt.removed, 1)
}

func TestDestroyForceIgnoresStopFailure(t *testing.T) {
	rt := &fakeRuntime{stopErr: errors.New("stop timeout")}
	wc := newTestContainer(rt)
	ctx := context.Background()

	require.NoError(t, wc.Create(ctx))
	require.NoError(t, wc.Start(ctx))

	// Both force modes proceed to removal despite the stop failure.
	require.NoError(t, wc.Destroy(ctx, true))
	assert.Equal(t, StateDestroyed, wc.CurrentState())
	assert.Len(t, rt.removed, 1)
}

func TestCreateComposesIsolationOptions(t *testing.T) {
	rt := &fakeRuntime{}
	wc := NewWorkerContainer("worker-a", rt, DefaultIsolationConfig(), WorkerOptions{
		Image:      "agentcompany/worker:latest",
		RunID:      "run-9",
		ResultsDir: "/host/results",
		GitRepoURL: "https://example.com/repo.git",
		GitBranch:  "task/proj-0001-01-001",
	})
	require.NoError(t, wc.Create(context.Background()))

	require.Len(t, rt.created, 1)
	opts := rt.created[0]
	assert.Equal(t, "none", opts.NetworkMode)
	assert.Contains(t, opts.SecurityOpts, "no-new-privileges:true")
	assert.Contains(t, opts.CapDrop, "ALL")
	assert.Equal(t, 256, opts.PidsLimit)
	assert.Equal(t, "rw,noexec,nosuid,size=256m", opts.Tmpfs["/tmp"])
	assert.Equal(t, "rw,noexec,nosuid,size=256m", opts.Tmpfs["/var/tmp"])
	assert.Equal(t, "/workspace", opts.WorkDir)
	assert.Equal(t, []string{"/host/results:/results:ro"}, opts.Volumes)

	assert.Equal(t, "worker-a", opts.Env["WORKER_ID"])
	assert.Equal(t, "/workspace", opts.Env["WORKSPACE_PATH"])
	assert.Equal(t, "run-9", opts.Env["RUN_ID"])
	assert.Equal(t, "https://example.com/repo.git", opts.Env["GIT_REPO_URL"])
	assert.Equal(t, "task/proj-0001-01-001", opts.Env["GIT_BRANCH"])
}

func TestVerifyIsolationDefaults(t *testing.T) {
	a := NewWorkerContainer("worker-a", &fakeRuntime{}, DefaultIsolationConfig(), WorkerOptions{Image: "img"})
	b := NewWorkerContainer("worker-b", &fakeRuntime{}, DefaultIsolationConfig(), WorkerOptions{Image: "img"})

	report := VerifyContainerIsolation(a, b)
	assert.True(t, report.Isolated)
	assert.True(t, report.NetworkIsolated)
	assert.True(t, report.FilesystemIsolated)
	assert.Empty(t, report.Errors)
}

func TestVerifyIsolationBridgeNetwork(t *testing.T) {
	a := NewWorkerContainer("worker-a", &fakeRuntime{}, DefaultIsolationConfig(), WorkerOptions{Image: "img"})
	b := NewWorkerContainer("worker-b", &fakeRuntime{}, DefaultIsolationConfig(), WorkerOptions{Image: "img"})
	b.SetNetworkMode("bridge")

	report := VerifyContainerIsolation(a, b)
	assert.False(t, report.Isolated)
	assert.False(t, report.NetworkIsolated)
	require.NotEmpty(t, report.Errors)
	assert.Contains(t, report.Errors[0], "Network")
}

func TestVerifyIsolationSameWorkerID(t *testing.T) {
	a := NewWorkerContainer("worker-a", &fakeRuntime{}, DefaultIsolationConfig(), WorkerOptions{Image: "img"})
	b := NewWorkerContainer("worker-a", &fakeRuntime{}, DefaultIsolationConfig(), WorkerOptions{Image: "img"})

	report := VerifyContainerIsolation(a, b)
	assert.False(t, report.Isolated)
	assert.NotEmpty(t, report.Errors)
}

func TestContainerNameRoundTrip(t *testing.T) {
	name := GenerateContainerName("worker-a")
	assert.Contains(t, name, "agentcompany-worker-worker-a-")

	workerID, ok := WorkerIDFromContainerName(name)
	require.True(t, ok)
	assert.Equal(t, "worker-a", workerID)

	// Hyphenated worker IDs survive extraction.
	name = GenerateContainerName("dev-team-07")
	workerID, ok = WorkerIDFromContainerName(name)
	require.True(t, ok)
	assert.Equal(t, "dev-team-07", workerID)

	_, ok = WorkerIDFromContainerName("unrelated-container")
	assert.False(t, ok)
}
