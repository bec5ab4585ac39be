package llm

import (
	"context"
	"sync"
)

// MockClient is a scripted adapter for tests and offline runs. Responses are
// returned in order; when the script is exhausted it answers with a fixed
// completion signal so conversation loops terminate.
type MockClient struct {
	mu        sync.Mutex
	responses []*ChatResponse
	requests  []*ChatRequest
	err       error
}

// NewMockClient returns an empty mock.
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) Name() string { return "mock" }

// Enqueue appends scripted responses.
func (m *MockClient) Enqueue(responses ...*ChatResponse) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, responses...)
	return m
}

// FailWith makes every subsequent Chat call return err.
func (m *MockClient) FailWith(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Requests returns the requests observed so far.
func (m *MockClient) Requests() []*ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ChatRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// Chat pops the next scripted response.
func (m *MockClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return &ChatResponse{Content: "TASK_COMPLETE", IsComplete: true}, nil
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}
