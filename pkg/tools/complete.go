package tools

import (
	"context"
	"fmt"
)

// TaskCompleteTool lets the model end the conversation loop explicitly and
// report what it produced.
type TaskCompleteTool struct{}

// NewTaskCompleteTool builds the task_complete tool.
func NewTaskCompleteTool() *TaskCompleteTool {
	return &TaskCompleteTool{}
}

func (t *TaskCompleteTool) Name() string { return "task_complete" }
func (t *TaskCompleteTool) Description() string {
	return "Declare the task finished, with a summary and the files produced"
}
func (t *TaskCompleteTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary": map[string]any{
				"type":        "string",
				"description": "What was accomplished",
			},
			"artifacts": map[string]any{
				"type":        "array",
				"description": "Paths of files created or changed",
				"items":       map[string]any{"type": "string"},
			},
		},
		"required": []string{"summary"},
	}
}

func (t *TaskCompleteTool) Execute(_ context.Context, args map[string]any) *Result {
	summary, _ := args["summary"].(string)
	if summary == "" {
		return ErrorResult("summary is required")
	}

	var artifacts []string
	if raw, ok := args["artifacts"].([]any); ok {
		for _, a := range raw {
			if s, ok := a.(string); ok {
				artifacts = append(artifacts, s)
			}
		}
	}

	return &Result{
		Content:   fmt.Sprintf("task marked complete: %s", summary),
		Done:      true,
		Artifacts: artifacts,
	}
}
