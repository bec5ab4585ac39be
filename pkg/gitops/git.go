// Package gitops wraps the git CLI behind a small typed interface used by
// the worker tools (git_status, git_commit) and the workflow's branch
// management.
package gitops

import (
	"context"
	"fmt"
	"strings"

	"github.com/kawanishi0117/agent-company-sub001/pkg/execrun"
)

// Status is the parsed working-tree state.
type Status struct {
	Branch    string   `json:"branch"`
	Modified  []string `json:"modified"`
	Staged    []string `json:"staged"`
	Untracked []string `json:"untracked"`
}

// Clean reports whether the working tree has no pending changes.
func (s *Status) Clean() bool {
	return len(s.Modified) == 0 && len(s.Staged) == 0 && len(s.Untracked) == 0
}

// Git is the version-control surface the rest of the system depends on.
type Git interface {
	Status(ctx context.Context) (*Status, error)
	Commit(ctx context.Context, message string, files []string) (string, error)
	CheckoutBranch(ctx context.Context, name string, create bool) error
	CurrentBranch(ctx context.Context) (string, error)
}

// Client runs git in a fixed repository directory.
type Client struct {
	dir    string
	runner execrun.Runner
}

// NewClient builds a git client for the repository at dir.
func NewClient(dir string, runner execrun.Runner) *Client {
	if runner == nil {
		runner = execrun.NewLocalRunner()
	}
	return &Client{dir: dir, runner: runner}
}

func (c *Client) git(ctx context.Context, args ...string) (*execrun.Result, error) {
	result, err := c.runner.Run(ctx, c.dir, "git", args...)
	if err != nil {
		return nil, fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("git %s failed (exit %d): %s",
			strings.Join(args, " "), result.ExitCode, strings.TrimSpace(result.Combined()))
	}
	return result, nil
}

// Status parses `git status --porcelain --branch`.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	result, err := c.git(ctx, "status", "--porcelain", "--branch")
	if err != nil {
		return nil, err
	}
	return parsePorcelain(result.Stdout), nil
}

// Commit stages the given files (or everything when files is empty) and
// commits. Returns the new commit hash.
func (c *Client) Commit(ctx context.Context, message string, files []string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("commit message is required")
	}

	addArgs := []string{"add"}
	if len(files) == 0 {
		addArgs = append(addArgs, "-A")
	} else {
		addArgs = append(addArgs, "--")
		addArgs = append(addArgs, files...)
	}
	if _, err := c.git(ctx, addArgs...); err != nil {
		return "", err
	}

	if _, err := c.git(ctx, "commit", "-m", message); err != nil {
		return "", err
	}

	hash, err := c.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(hash.Stdout), nil
}

// CheckoutBranch switches to the named branch, creating it when asked.
func (c *Client) CheckoutBranch(ctx context.Context, name string, create bool) error {
	args := []string{"checkout"}
	if create {
		args = append(args, "-b")
	}
	args = append(args, name)
	_, err := c.git(ctx, args...)
	return err
}

// CurrentBranch returns the checked-out branch name.
func (c *Client) CurrentBranch(ctx context.Context) (string, error) {
	result, err := c.git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Stdout), nil
}

// parsePorcelain reads `git status --porcelain --branch` output. The first
// line carries the branch header; each following line is "XY path" where X
// is the index state and Y the working-tree state.
func parsePorcelain(out string) *Status {
	status := &Status{}
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "## ") {
			branch := strings.TrimPrefix(line, "## ")
			// "main...origin/main [ahead 1]" -> "main"
			if idx := strings.Index(branch, "..."); idx >= 0 {
				branch = branch[:idx]
			}
			if idx := strings.Index(branch, " "); idx >= 0 {
				branch = branch[:idx]
			}
			status.Branch = branch
			continue
		}
		if len(line) < 4 {
			continue
		}
		index, tree := line[0], line[1]
		path := strings.TrimSpace(line[3:])
		// Renames carry "old -> new"; report the new path.
		if idx := strings.Index(path, " -> "); idx >= 0 {
			path = path[idx+4:]
		}
		switch {
		case index == '?' && tree == '?':
			status.Untracked = append(status.Untracked, path)
		default:
			if index != ' ' && index != '?' {
				status.Staged = append(status.Staged, path)
			}
			if tree != ' ' && tree != '?' {
				status.Modified = append(status.Modified, path)
			}
		}
	}
	return status
}
