package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kawanishi0117/agent-company-sub001/pkg/execrun"
)

const defaultCommandTimeout = 60 * time.Second

// denyPatterns blocks obviously destructive shell commands regardless of the
// sandbox. Matched as substrings of the normalized command.
var denyPatterns = []string{
	"rm -rf /",
	"rm -rf ~",
	"mkfs",
	"dd if=",
	"shutdown",
	"reboot",
	":(){",
	"sudo ",
}

// RunCommandTool executes a shell command in the workspace.
type RunCommandTool struct {
	workspace string
	runner    execrun.Runner
}

// NewRunCommandTool builds the run_command tool. A nil runner uses the host.
func NewRunCommandTool(workspace string, runner execrun.Runner) *RunCommandTool {
	if runner == nil {
		runner = execrun.NewLocalRunner()
	}
	return &RunCommandTool{workspace: workspace, runner: runner}
}

func (t *RunCommandTool) Name() string        { return "run_command" }
func (t *RunCommandTool) Description() string { return "Run a shell command in the workspace" }
func (t *RunCommandTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "Shell command to execute",
			},
			"timeout": map[string]any{
				"type":        "number",
				"description": "Timeout in seconds (default 60)",
			},
		},
		"required": []string{"command"},
	}
}

func (t *RunCommandTool) Execute(ctx context.Context, args map[string]any) *Result {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return ErrorResult("command is required")
	}

	normalized := strings.ToLower(strings.Join(strings.Fields(command), " "))
	for _, pattern := range denyPatterns {
		if strings.Contains(normalized, pattern) {
			return ErrorResult(fmt.Sprintf("command rejected: matches blocked pattern %q", pattern))
		}
	}

	timeout := defaultCommandTimeout
	if seconds, ok := args["timeout"].(float64); ok && seconds > 0 {
		timeout = time.Duration(seconds * float64(time.Second))
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := t.runner.Run(runCtx, t.workspace, "sh", "-c", command)
	if result == nil {
		return ErrorResult(fmt.Sprintf("failed to run command: %v", err))
	}

	payload, marshalErr := json.Marshal(map[string]any{
		"stdout":   result.Stdout,
		"stderr":   result.Stderr,
		"exitCode": result.ExitCode,
		"timedOut": result.TimedOut,
	})
	if marshalErr != nil {
		return ErrorResult(fmt.Sprintf("failed to encode command result: %v", marshalErr))
	}
	if result.TimedOut {
		return &Result{Content: string(payload), IsError: true}
	}
	return NewResult(string(payload))
}
