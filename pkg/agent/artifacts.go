package agent

import (
	"encoding/json"

	"github.com/kawanishi0117/agent-company-sub001/pkg/llm"
	"github.com/kawanishi0117/agent-company-sub001/pkg/models"
	"github.com/kawanishi0117/agent-company-sub001/pkg/tools"
)

// artifactTracker collects the files a worker produced. write_file marks
// created, edit_file marks modified, task_complete artifacts count as
// created. Duplicate paths collapse to the last action.
type artifactTracker struct {
	order   []string
	actions map[string]string
}

func newArtifactTracker() *artifactTracker {
	return &artifactTracker{actions: map[string]string{}}
}

func (t *artifactTracker) mark(path, action string) {
	if path == "" {
		return
	}
	if _, seen := t.actions[path]; !seen {
		t.order = append(t.order, path)
	}
	t.actions[path] = action
}

// observe derives artifact updates from one executed tool call. Failed calls
// contribute nothing.
func (t *artifactTracker) observe(call llm.ToolCall, result *tools.Result) {
	if result.IsError {
		return
	}
	switch call.Name {
	case "write_file":
		t.mark(pathArgument(call.Arguments), "created")
	case "edit_file":
		t.mark(pathArgument(call.Arguments), "modified")
	case "task_complete":
		for _, path := range result.Artifacts {
			t.mark(path, "created")
		}
	}
}

func (t *artifactTracker) list() []models.Artifact {
	if len(t.order) == 0 {
		return nil
	}
	out := make([]models.Artifact, 0, len(t.order))
	for _, path := range t.order {
		out = append(out, models.Artifact{Path: path, Action: t.actions[path]})
	}
	return out
}

func pathArgument(raw json.RawMessage) string {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return ""
	}
	return args.Path
}
