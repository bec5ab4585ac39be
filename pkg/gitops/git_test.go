package gitops

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kawanishi0117/agent-company-sub001/pkg/execrun"
)

// fakeGitRunner maps the joined arg string to a scripted result.
type fakeGitRunner struct {
	results map[string]*execrun.Result
	calls   []string
}

func (f *fakeGitRunner) Run(_ context.Context, _ string, name string, args ...string) (*execrun.Result, error) {
	call := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, call)
	if r, ok := f.results[call]; ok {
		return r, nil
	}
	return &execrun.Result{}, nil
}

func TestParsePorcelain(t *testing.T) {
	out := strings.Join([]string{
		"## task/proj-0001-01-001...origin/task/proj-0001-01-001 [ahead 2]",
		"M  staged.go",
		" M modified.go",
		"MM both.go",
		"?? untracked.go",
		"R  old.go -> renamed.go",
		"",
	}, "\n")

	status := parsePorcelain(out)
	assert.Equal(t, "task/proj-0001-01-001", status.Branch)
	assert.Equal(t, []string{"staged.go", "both.go", "renamed.go"}, status.Staged)
	assert.Equal(t, []string{"modified.go", "both.go"}, status.Modified)
	assert.Equal(t, []string{"untracked.go"}, status.Untracked)
	assert.False(t, status.Clean())
}

func TestParsePorcelainCleanTree(t *testing.T) {
	status := parsePorcelain("## main\n")
	assert.Equal(t, "main", status.Branch)
	assert.True(t, status.Clean())
}

func TestStatusRunsPorcelain(t *testing.T) {
	runner := &fakeGitRunner{results: map[string]*execrun.Result{
		"git status --porcelain --branch": {Stdout: "## main\n?? new.go\n"},
	}}
	client := NewClient("/repo", runner)

	status, err := client.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "main", status.Branch)
	assert.Equal(t, []string{"new.go"}, status.Untracked)
}

func TestCommitStagesAndCommits(t *testing.T) {
	runner := &fakeGitRunner{results: map[string]*execrun.Result{
		"git rev-parse HEAD": {Stdout: "abc1234\n"},
	}}
	client := NewClient("/repo", runner)

	hash, err := client.Commit(context.Background(), "Add feature", []string{"a.go", "b.go"})
	require.NoError(t, err)
	assert.Equal(t, "abc1234", hash)
	assert.Equal(t, []string{
		"git add -- a.go b.go",
		"git commit -m Add feature",
		"git rev-parse HEAD",
	}, runner.calls)
}

func TestCommitAllWhenNoFiles(t *testing.T) {
	runner := &fakeGitRunner{results: map[string]*execrun.Result{
		"git rev-parse HEAD": {Stdout: "def5678\n"},
	}}
	client := NewClient("/repo", runner)

	_, err := client.Commit(context.Background(), "Checkpoint", nil)
	require.NoError(t, err)
	assert.Equal(t, "git add -A", runner.calls[0])
}

func TestCommitRequiresMessage(t *testing.T) {
	client := NewClient("/repo", &fakeGitRunner{})
	_, err := client.Commit(context.Background(), "  ", nil)
	assert.Error(t, err)
}

func TestCommitSurfacesGitFailure(t *testing.T) {
	runner := &fakeGitRunner{results: map[string]*execrun.Result{
		"git commit -m msg": {Stderr: "nothing to commit", ExitCode: 1},
	}}
	client := NewClient("/repo", runner)

	_, err := client.Commit(context.Background(), "msg", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to commit")
}

func TestCheckoutBranch(t *testing.T) {
	runner := &fakeGitRunner{}
	client := NewClient("/repo", runner)

	require.NoError(t, client.CheckoutBranch(context.Background(), "task/t-1", true))
	require.NoError(t, client.CheckoutBranch(context.Background(), "main", false))
	assert.Equal(t, []string{
		"git checkout -b task/t-1",
		"git checkout main",
	}, runner.calls)
}
