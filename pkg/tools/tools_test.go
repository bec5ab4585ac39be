package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadWriteRoundTrip(t *testing.T) {
	ws := t.TempDir()
	ctx := context.Background()

	write := NewWriteFileTool(ws, true)
	result := write.Execute(ctx, map[string]any{
		"path":    "src/main.go",
		"content": "package main\n",
	})
	require.False(t, result.IsError, result.Content)

	read := NewReadFileTool(ws, true)
	result = read.Execute(ctx, map[string]any{"path": "src/main.go"})
	require.False(t, result.IsError)
	assert.Equal(t, "package main\n", result.Content)
}

func TestWorkspaceRestriction(t *testing.T) {
	ws := t.TempDir()
	ctx := context.Background()

	for _, path := range []string{"../outside.txt", "/etc/passwd", "a/../../escape"} {
		result := NewReadFileTool(ws, true).Execute(ctx, map[string]any{"path": path})
		assert.True(t, result.IsError, "path %q must be rejected", path)
		assert.Contains(t, result.Content, "workspace")
	}

	// Unrestricted mode allows absolute paths.
	target := filepath.Join(t.TempDir(), "free.txt")
	require.NoError(t, os.WriteFile(target, []byte("ok"), 0o644))
	result := NewReadFileTool(ws, false).Execute(ctx, map[string]any{"path": target})
	assert.False(t, result.IsError)
	assert.Equal(t, "ok", result.Content)
}

func TestEditFileAppliesEditsInOrder(t *testing.T) {
	ws := t.TempDir()
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(ws, "f.txt"), []byte("alpha beta gamma"), 0o644))

	edit := NewEditFileTool(ws, true)
	result := edit.Execute(ctx, map[string]any{
		"path": "f.txt",
		"edits": []any{
			map[string]any{"oldText": "alpha", "newText": "one"},
			map[string]any{"oldText": "gamma", "newText": "three"},
		},
	})
	require.False(t, result.IsError, result.Content)

	data, err := os.ReadFile(filepath.Join(ws, "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "one beta three", string(data))
}

func TestEditFileMissingText(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ws, "f.txt"), []byte("content"), 0o644))

	result := NewEditFileTool(ws, true).Execute(context.Background(), map[string]any{
		"path":  "f.txt",
		"edits": []any{map[string]any{"oldText": "absent", "newText": "x"}},
	})
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "not found")
}

func TestListDirectory(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(ws, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ws, "b.txt"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ws, "a.txt"), nil, 0o644))

	result := NewListDirectoryTool(ws, true).Execute(context.Background(), map[string]any{})
	require.False(t, result.IsError)
	assert.Equal(t, "a.txt\nb.txt\nsub/", result.Content)
}

func TestRunCommand(t *testing.T) {
	ws := t.TempDir()
	tool := NewRunCommandTool(ws, nil)

	result := tool.Execute(context.Background(), map[string]any{"command": "echo hi"})
	require.False(t, result.IsError, result.Content)

	var payload struct {
		Stdout   string `json:"stdout"`
		ExitCode int    `json:"exitCode"`
		TimedOut bool   `json:"timedOut"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.Content), &payload))
	assert.Equal(t, "hi\n", payload.Stdout)
	assert.Equal(t, 0, payload.ExitCode)
	assert.False(t, payload.TimedOut)
}

func TestRunCommandNonZeroExitIsData(t *testing.T) {
	result := NewRunCommandTool(t.TempDir(), nil).Execute(context.Background(), map[string]any{
		"command": "exit 2",
	})
	require.False(t, result.IsError)

	var payload struct {
		ExitCode int `json:"exitCode"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.Content), &payload))
	assert.Equal(t, 2, payload.ExitCode)
}

func TestRunCommandDenyPatterns(t *testing.T) {
	tool := NewRunCommandTool(t.TempDir(), nil)
	for _, cmd := range []string{"rm -rf /", "sudo apt install x", "shutdown now"} {
		result := tool.Execute(context.Background(), map[string]any{"command": cmd})
		assert.True(t, result.IsError, "command %q must be rejected", cmd)
		assert.Contains(t, result.Content, "rejected")
	}
}

func TestTaskComplete(t *testing.T) {
	tool := NewTaskCompleteTool()

	result := tool.Execute(context.Background(), map[string]any{
		"summary":   "implemented the feature",
		"artifacts": []any{"src/main.go", "src/main_test.go"},
	})
	assert.True(t, result.Done)
	assert.Equal(t, []string{"src/main.go", "src/main_test.go"}, result.Artifacts)

	result = tool.Execute(context.Background(), map[string]any{})
	assert.True(t, result.IsError)
	assert.False(t, result.Done)
}

func TestDefaultSetOrderAndDefinitions(t *testing.T) {
	set := DefaultSet(t.TempDir(), true, nil, nil)
	assert.Equal(t, []string{
		"read_file", "write_file", "edit_file", "list_directory",
		"run_command", "task_complete",
	}, set.Names())

	defs := set.Definitions()
	require.Len(t, defs, 6)
	assert.Equal(t, "read_file", defs[0].Name)
	assert.NotEmpty(t, defs[0].Description)
	assert.Equal(t, "object", defs[0].InputSchema["type"])

	_, ok := set.Get("run_command")
	assert.True(t, ok)
	_, ok = set.Get("git_commit")
	assert.False(t, ok)
}
