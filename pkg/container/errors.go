package container

import (
	"errors"
	"fmt"
)

// Sentinel errors for container lifecycle misuse.
var (
	// ErrInvalidState indicates an operation forbidden in the container's
	// current lifecycle state.
	ErrInvalidState = errors.New("invalid container state")

	// ErrDisallowedCommand indicates a container CLI command outside the
	// allow set.
	ErrDisallowedCommand = errors.New("disallowed container command")
)

// CommandError reports a container CLI invocation that ran but exited
// non-zero. Captured output is carried so callers can surface it.
type CommandError struct {
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("container command %q failed with exit code %d: %s", e.Command, e.ExitCode, e.Stderr)
}
