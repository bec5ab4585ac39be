package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kawanishi0117/agent-company-sub001/pkg/gitops"
)

// GitCommitTool commits workspace changes.
type GitCommitTool struct {
	git gitops.Git
}

// NewGitCommitTool builds the git_commit tool over the given client.
func NewGitCommitTool(git gitops.Git) *GitCommitTool {
	return &GitCommitTool{git: git}
}

func (t *GitCommitTool) Name() string        { return "git_commit" }
func (t *GitCommitTool) Description() string { return "Stage and commit changes in the workspace" }
func (t *GitCommitTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "Commit message",
			},
			"files": map[string]any{
				"type":        "array",
				"description": "Files to stage; all changes when omitted",
				"items":       map[string]any{"type": "string"},
			},
		},
		"required": []string{"message"},
	}
}

func (t *GitCommitTool) Execute(ctx context.Context, args map[string]any) *Result {
	message, _ := args["message"].(string)
	var files []string
	if raw, ok := args["files"].([]any); ok {
		for _, f := range raw {
			if s, ok := f.(string); ok {
				files = append(files, s)
			}
		}
	}

	hash, err := t.git.Commit(ctx, message, files)
	if err != nil {
		return ErrorResult(fmt.Sprintf("commit failed: %v", err))
	}
	return NewResult(fmt.Sprintf(`{"commitHash":%q}`, hash))
}

// GitStatusTool reports the working-tree state.
type GitStatusTool struct {
	git gitops.Git
}

// NewGitStatusTool builds the git_status tool over the given client.
func NewGitStatusTool(git gitops.Git) *GitStatusTool {
	return &GitStatusTool{git: git}
}

func (t *GitStatusTool) Name() string        { return "git_status" }
func (t *GitStatusTool) Description() string { return "Show the current branch and pending changes" }
func (t *GitStatusTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *GitStatusTool) Execute(ctx context.Context, _ map[string]any) *Result {
	status, err := t.git.Status(ctx)
	if err != nil {
		return ErrorResult(fmt.Sprintf("status failed: %v", err))
	}
	payload, err := json.Marshal(status)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to encode status: %v", err))
	}
	return NewResult(string(payload))
}
