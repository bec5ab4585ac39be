package tools

import (
	"github.com/kawanishi0117/agent-company-sub001/pkg/execrun"
	"github.com/kawanishi0117/agent-company-sub001/pkg/gitops"
)

// DefaultSet assembles the full worker tool set rooted at workspace. A nil
// runner uses the host; a nil git client drops the git tools.
func DefaultSet(workspace string, restrict bool, runner execrun.Runner, git gitops.Git) *Set {
	set := NewSet(
		NewReadFileTool(workspace, restrict),
		NewWriteFileTool(workspace, restrict),
		NewEditFileTool(workspace, restrict),
		NewListDirectoryTool(workspace, restrict),
		NewRunCommandTool(workspace, runner),
	)
	if git != nil {
		set.Add(NewGitCommitTool(git))
		set.Add(NewGitStatusTool(git))
	}
	set.Add(NewTaskCompleteTool())
	return set
}
