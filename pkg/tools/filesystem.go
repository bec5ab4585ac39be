package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// resolvePath joins a tool-supplied path with the workspace and, when
// restriction is on, rejects anything that escapes it.
func resolvePath(path, workspace string, restrict bool) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(workspace, resolved)
	}
	resolved = filepath.Clean(resolved)

	if restrict {
		root := filepath.Clean(workspace)
		if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
			return "", fmt.Errorf("path %q is outside the workspace", path)
		}
	}
	return resolved, nil
}

// ReadFileTool reads file contents from the workspace.
type ReadFileTool struct {
	workspace string
	restrict  bool
}

// NewReadFileTool builds the read_file tool rooted at workspace.
func NewReadFileTool(workspace string, restrict bool) *ReadFileTool {
	return &ReadFileTool{workspace: workspace, restrict: restrict}
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read the contents of a file" }
func (t *ReadFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file to read",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(_ context.Context, args map[string]any) *Result {
	path, _ := args["path"].(string)
	resolved, err := resolvePath(path, t.workspace, t.restrict)
	if err != nil {
		return ErrorResult(err.Error())
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to read %s: %v", path, err))
	}
	return NewResult(string(data))
}

// WriteFileTool writes file contents, creating parent directories.
type WriteFileTool struct {
	workspace string
	restrict  bool
}

// NewWriteFileTool builds the write_file tool rooted at workspace.
func NewWriteFileTool(workspace string, restrict bool) *WriteFileTool {
	return &WriteFileTool{workspace: workspace, restrict: restrict}
}

func (t *WriteFileTool) Name() string        { return "write_file" }
func (t *WriteFileTool) Description() string { return "Write content to a file, creating it if needed" }
func (t *WriteFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file to write",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Full content to write",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(_ context.Context, args map[string]any) *Result {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	resolved, err := resolvePath(path, t.workspace, t.restrict)
	if err != nil {
		return ErrorResult(err.Error())
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return ErrorResult(fmt.Sprintf("failed to create directories for %s: %v", path, err))
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("failed to write %s: %v", path, err))
	}
	return NewResult(fmt.Sprintf("wrote %d bytes to %s", len(content), path))
}

// EditFileTool applies exact-match text replacements to a file.
type EditFileTool struct {
	workspace string
	restrict  bool
}

// NewEditFileTool builds the edit_file tool rooted at workspace.
func NewEditFileTool(workspace string, restrict bool) *EditFileTool {
	return &EditFileTool{workspace: workspace, restrict: restrict}
}

func (t *EditFileTool) Name() string { return "edit_file" }
func (t *EditFileTool) Description() string {
	return "Apply text replacements to an existing file"
}
func (t *EditFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file to edit",
			},
			"edits": map[string]any{
				"type":        "array",
				"description": "Replacements applied in order",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"oldText": map[string]any{"type": "string"},
						"newText": map[string]any{"type": "string"},
					},
					"required": []string{"oldText", "newText"},
				},
			},
		},
		"required": []string{"path", "edits"},
	}
}

func (t *EditFileTool) Execute(_ context.Context, args map[string]any) *Result {
	path, _ := args["path"].(string)
	resolved, err := resolvePath(path, t.workspace, t.restrict)
	if err != nil {
		return ErrorResult(err.Error())
	}
	rawEdits, _ := args["edits"].([]any)
	if len(rawEdits) == 0 {
		return ErrorResult("edits are required")
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to read %s: %v", path, err))
	}
	content := string(data)

	for i, raw := range rawEdits {
		edit, ok := raw.(map[string]any)
		if !ok {
			return ErrorResult(fmt.Sprintf("edit %d is malformed", i+1))
		}
		oldText, _ := edit["oldText"].(string)
		newText, _ := edit["newText"].(string)
		if oldText == "" {
			return ErrorResult(fmt.Sprintf("edit %d has empty oldText", i+1))
		}
		if !strings.Contains(content, oldText) {
			return ErrorResult(fmt.Sprintf("edit %d: text not found in %s", i+1, path))
		}
		content = strings.Replace(content, oldText, newText, 1)
	}

	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("failed to write %s: %v", path, err))
	}
	return NewResult(fmt.Sprintf("applied %d edits to %s", len(rawEdits), path))
}

// ListDirectoryTool lists directory entries.
type ListDirectoryTool struct {
	workspace string
	restrict  bool
}

// NewListDirectoryTool builds the list_directory tool rooted at workspace.
func NewListDirectoryTool(workspace string, restrict bool) *ListDirectoryTool {
	return &ListDirectoryTool{workspace: workspace, restrict: restrict}
}

func (t *ListDirectoryTool) Name() string        { return "list_directory" }
func (t *ListDirectoryTool) Description() string { return "List the entries of a directory" }
func (t *ListDirectoryTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Directory to list; defaults to the workspace root",
			},
		},
	}
}

func (t *ListDirectoryTool) Execute(_ context.Context, args map[string]any) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}
	resolved, err := resolvePath(path, t.workspace, t.restrict)
	if err != nil {
		return ErrorResult(err.Error())
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to list %s: %v", path, err))
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return NewResult(strings.Join(names, "\n"))
}
