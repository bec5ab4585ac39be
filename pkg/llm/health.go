package llm

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// HealthStatus reports the last observed availability of an AI backend.
type HealthStatus struct {
	Available bool      `json:"available"`
	Adapter   string    `json:"adapter"`
	CheckedAt time.Time `json:"checkedAt"`
	Error     string    `json:"error,omitempty"`
}

// HealthChecker probes an adapter periodically. Task submission does not
// depend on it; execution consults Current to report degradation instead of
// failing outright.
type HealthChecker struct {
	client   Client
	interval time.Duration
	timeout  time.Duration

	mu     sync.RWMutex
	status HealthStatus

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewHealthChecker builds a checker for the adapter. Until the first probe
// completes the backend is assumed available.
func NewHealthChecker(client Client, interval time.Duration) *HealthChecker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &HealthChecker{
		client:   client,
		interval: interval,
		timeout:  15 * time.Second,
		status:   HealthStatus{Available: true, Adapter: client.Name()},
		stopCh:   make(chan struct{}),
	}
}

// Current returns the last observed status.
func (h *HealthChecker) Current() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// Check probes the backend once and records the result.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	probeCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	_, err := h.client.Chat(probeCtx, &ChatRequest{
		Messages:  []Message{{Role: RoleUser, Content: "ping"}},
		MaxTokens: 1,
	})

	status := HealthStatus{
		Available: err == nil,
		Adapter:   h.client.Name(),
		CheckedAt: time.Now().UTC(),
	}
	if err != nil {
		status.Error = err.Error()
		slog.Warn("AI backend health check failed", "adapter", h.client.Name(), "error", err)
	}

	h.mu.Lock()
	h.status = status
	h.mu.Unlock()
	return status
}

// Start launches the periodic probe loop. Returns immediately.
func (h *HealthChecker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		h.Check(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stopCh:
				return
			case <-ticker.C:
				h.Check(ctx)
			}
		}
	}()
}

// Stop ends the probe loop. Safe to call more than once.
func (h *HealthChecker) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}
