// Package pool manages the shared set of worker agents: capability-based
// acquisition with a hard ceiling, a FIFO queue of pending work, and the
// container lifecycle behind each worker.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kawanishi0117/agent-company-sub001/pkg/agent"
	"github.com/kawanishi0117/agent-company-sub001/pkg/container"
	"github.com/kawanishi0117/agent-company-sub001/pkg/models"
)

// DefaultMaxWorkers is the pool ceiling when none is configured.
const DefaultMaxWorkers = 3

const (
	defaultAcquirePollInterval = 100 * time.Millisecond
	defaultAcquireTimeout      = 30 * time.Second
)

var (
	// ErrNoWorkerAvailable means every worker is busy and the pool is at
	// its ceiling. Callers queue the task or block on AcquireWorker.
	ErrNoWorkerAvailable = errors.New("no worker available")

	// ErrAcquireTimeout means AcquireWorker hit its deadline.
	ErrAcquireTimeout = errors.New("timed out waiting for a worker")

	// ErrPoolStopped rejects operations after Stop.
	ErrPoolStopped = errors.New("worker pool is stopped")
)

// WorkerFactory builds the agent behind a pool slot.
type WorkerFactory func(workerID string, workerType models.WorkerType, spec TypeSpec) (*agent.Worker, error)

// ContainerProvisioner creates and starts the isolated container for one
// worker. Nil disables containers (in-process workers).
type ContainerProvisioner func(ctx context.Context, workerID string, spec TypeSpec) (*container.WorkerContainer, error)

// PendingTask is a unit of work waiting for a worker.
type PendingTask struct {
	TicketID             string
	RequiredCapabilities []string
	EnqueuedAt           time.Time
}

// Config assembles the pool's collaborators and limits.
type Config struct {
	MaxWorkers              int
	Registry                *TypeRegistry
	NewWorker               WorkerFactory
	Provision               ContainerProvisioner
	AcquirePollInterval     time.Duration
	AcquireTimeout          time.Duration
	AllowCapabilityFallback bool
}

type poolEntry struct {
	worker    *agent.Worker
	container *container.WorkerContainer

	// reserved marks a worker handed to an acquirer and not yet released.
	// Guarded by Pool.mu.
	reserved bool
}

// Pool owns the worker set. All mutation happens under one mutex; the
// conversation loops themselves run outside it.
type Pool struct {
	cfg Config

	mu      sync.Mutex
	workers []*poolEntry
	byID    map[string]*poolEntry
	pending []*PendingTask
	nextSeq map[models.WorkerType]int
	stopped bool
}

// New builds an empty pool.
func New(cfg Config) *Pool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.AcquirePollInterval <= 0 {
		cfg.AcquirePollInterval = defaultAcquirePollInterval
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = defaultAcquireTimeout
	}
	return &Pool{
		cfg:     cfg,
		byID:    map[string]*poolEntry{},
		nextSeq: map[models.WorkerType]int{},
	}
}

// GetAvailableWorker returns an idle worker whose capabilities cover the
// required tags, creating one when the pool is under its ceiling. The worker
// is marked working before it is returned; it stays owned by the caller
// until ReleaseWorker. Returns ErrNoWorkerAvailable when every slot is busy.
func (p *Pool) GetAvailableWorker(ctx context.Context, required []string) (*agent.Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.availableWorkerLocked(ctx, required)
}

func (p *Pool) availableWorkerLocked(ctx context.Context, required []string) (*agent.Worker, error) {
	if p.stopped {
		return nil, ErrPoolStopped
	}
	for _, entry := range p.workers {
		if entry.reserved || !coversCapabilities(entry.worker.Capabilities(), required) {
			continue
		}
		if err := entry.worker.MarkWorking(); err != nil {
			continue
		}
		entry.reserved = true
		return entry.worker, nil
	}
	if len(p.workers) >= p.cfg.MaxWorkers {
		return nil, ErrNoWorkerAvailable
	}

	workerType, spec, ok := p.cfg.Registry.TypeForCapabilities(required)
	if !ok {
		return nil, fmt.Errorf("no worker type covers capabilities %v", required)
	}
	return p.spawnLocked(ctx, workerType, spec)
}

// AcquireWorker blocks until a worker is available or the deadline passes.
func (p *Pool) AcquireWorker(ctx context.Context, required []string) (*agent.Worker, error) {
	deadline := time.Now().Add(p.cfg.AcquireTimeout)
	for {
		worker, err := p.GetAvailableWorker(ctx, required)
		if err == nil {
			return worker, nil
		}
		if !errors.Is(err, ErrNoWorkerAvailable) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, ErrAcquireTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.cfg.AcquirePollInterval):
		}
	}
}

// GetWorkerByType returns an idle worker of the given type, spawning one
// when the pool has room.
func (p *Pool) GetWorkerByType(ctx context.Context, workerType models.WorkerType) (*agent.Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil, ErrPoolStopped
	}

	spec, err := p.cfg.Registry.Lookup(workerType)
	if err != nil {
		return nil, err
	}
	for _, entry := range p.workers {
		if entry.reserved || entry.worker.Type() != workerType {
			continue
		}
		if err := entry.worker.MarkWorking(); err != nil {
			continue
		}
		entry.reserved = true
		return entry.worker, nil
	}
	if len(p.workers) >= p.cfg.MaxWorkers {
		return nil, ErrNoWorkerAvailable
	}
	return p.spawnLocked(ctx, workerType, spec)
}

// spawnLocked creates a worker and, when a provisioner is configured, its
// container. Container provisioning is retried once before giving up.
func (p *Pool) spawnLocked(ctx context.Context, workerType models.WorkerType, spec TypeSpec) (*agent.Worker, error) {
	p.nextSeq[workerType]++
	workerID := fmt.Sprintf("%s-%d", workerType, p.nextSeq[workerType])

	worker, err := p.cfg.NewWorker(workerID, workerType, spec)
	if err != nil {
		return nil, fmt.Errorf("create worker %s: %w", workerID, err)
	}

	entry := &poolEntry{worker: worker, reserved: true}
	if p.cfg.Provision != nil {
		wc, err := p.cfg.Provision(ctx, workerID, spec)
		if err != nil {
			slog.Warn("Container provisioning failed, retrying once",
				"worker_id", workerID, "error", err)
			wc, err = p.cfg.Provision(ctx, workerID, spec)
		}
		if err != nil {
			return nil, fmt.Errorf("provision container for %s: %w", workerID, err)
		}
		entry.container = wc
	}

	if err := worker.MarkWorking(); err != nil {
		return nil, err
	}
	p.workers = append(p.workers, entry)
	p.byID[workerID] = entry
	slog.Info("Worker spawned", "worker_id", workerID, "worker_type", workerType,
		"pool_size", len(p.workers))
	return worker, nil
}

// EnqueuePending appends a task to the FIFO pending queue.
func (p *Pool) EnqueuePending(task *PendingTask) {
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, task)
}

// PendingCount returns the number of queued tasks.
func (p *Pool) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// ReleaseWorker hands a finished worker its next task: the first pending
// task its capabilities cover, in queue order. A worker handed a pending
// task stays reserved by its caller; when nothing matches, the reservation
// clears and the worker goes idle — unless capability fallback is enabled,
// in which case it takes the queue head regardless of capabilities.
func (p *Pool) ReleaseWorker(workerID string) (*PendingTask, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.byID[workerID]
	if !ok {
		return nil, fmt.Errorf("unknown worker %q", workerID)
	}

	for i, task := range p.pending {
		if coversCapabilities(entry.worker.Capabilities(), task.RequiredCapabilities) {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			slog.Debug("Worker reassigned from pending queue",
				"worker_id", workerID, "ticket_id", task.TicketID)
			return task, nil
		}
	}
	if p.cfg.AllowCapabilityFallback && len(p.pending) > 0 {
		task := p.pending[0]
		p.pending = p.pending[1:]
		slog.Warn("Worker reassigned without capability match",
			"worker_id", workerID, "ticket_id", task.TicketID)
		return task, nil
	}
	entry.reserved = false
	entry.worker.MarkIdle()
	return nil, nil
}

// ContainerFor returns the container behind a worker, nil when the pool
// runs in-process workers.
func (p *Pool) ContainerFor(workerID string) *container.WorkerContainer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.byID[workerID]; ok {
		return entry.container
	}
	return nil
}

// WorkerStates snapshots every worker for the execution record.
func (p *Pool) WorkerStates() map[string]models.WorkerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]models.WorkerState, len(p.workers))
	for _, entry := range p.workers {
		state := entry.worker.State()
		if entry.container != nil {
			state.ContainerID = entry.container.ContainerID()
		}
		out[state.WorkerID] = state
	}
	return out
}

// Workers returns the live worker handles in spawn order.
func (p *Pool) Workers() []*agent.Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*agent.Worker, 0, len(p.workers))
	for _, entry := range p.workers {
		out = append(out, entry.worker)
	}
	return out
}

// Size returns the number of live workers.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Stop terminates every worker and destroys their containers concurrently.
// The pool rejects further acquisitions afterwards.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	entries := make([]*poolEntry, len(p.workers))
	copy(entries, p.workers)
	p.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, entry := range entries {
		entry.worker.Terminate()
		if entry.container == nil {
			continue
		}
		wc := entry.container
		g.Go(func() error {
			return wc.Destroy(gctx, true)
		})
	}
	return g.Wait()
}

// Reset clears all workers and pending tasks. Used by tests and after an
// emergency stop once containers are gone.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.workers = nil
	p.byID = map[string]*poolEntry{}
	p.pending = nil
	p.nextSeq = map[models.WorkerType]int{}
	p.stopped = false
}
