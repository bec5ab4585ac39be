// Package tools implements the worker agent's tool set. Each tool exposes a
// name, a description and a JSON-schema parameter object for advertising to
// the AI adapter, plus an Execute method whose errors are data on the result,
// never panics or returned errors — the conversation loop must not unwind.
package tools

import (
	"context"

	"github.com/kawanishi0117/agent-company-sub001/pkg/llm"
)

// Result is the unified return type from tool execution.
type Result struct {
	Content   string   `json:"content"`
	IsError   bool     `json:"isError"`
	Done      bool     `json:"done"`                // set by task_complete
	Artifacts []string `json:"artifacts,omitempty"` // reported by task_complete
}

// NewResult returns a successful result.
func NewResult(content string) *Result {
	return &Result{Content: content}
}

// ErrorResult returns a failed result carrying the message for the model.
func ErrorResult(message string) *Result {
	return &Result{Content: message, IsError: true}
}

// Tool is one callable capability advertised to the model.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) *Result
}

// Set is an ordered tool collection with name lookup.
type Set struct {
	order []Tool
	byName map[string]Tool
}

// NewSet builds a set from the given tools in order.
func NewSet(tools ...Tool) *Set {
	s := &Set{byName: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		s.Add(t)
	}
	return s
}

// Add appends a tool, replacing any previous tool with the same name.
func (s *Set) Add(t Tool) {
	if _, exists := s.byName[t.Name()]; !exists {
		s.order = append(s.order, t)
	} else {
		for i, existing := range s.order {
			if existing.Name() == t.Name() {
				s.order[i] = t
				break
			}
		}
	}
	s.byName[t.Name()] = t
}

// Get looks a tool up by name.
func (s *Set) Get(name string) (Tool, bool) {
	t, ok := s.byName[name]
	return t, ok
}

// Definitions renders the set as adapter tool definitions, in order.
func (s *Set) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(s.order))
	for _, t := range s.order {
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Parameters(),
		})
	}
	return defs
}

// Names returns the tool names in order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.order))
	for _, t := range s.order {
		names = append(names, t.Name())
	}
	return names
}
