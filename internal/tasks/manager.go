package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dohr-michael/magpie/internal/drivers"
	"github.com/dohr-michael/magpie/internal/events"
	"github.com/dohr-michael/magpie/internal/records"
)

// ErrManagerClosed is returned by Submit after Shutdown.
var ErrManagerClosed = errors.New("task manager is shut down")

// ManagerConfig tunes the scheduling loop.
type ManagerConfig struct {
	// MaxWorkers caps concurrently executing tasks.
	MaxWorkers int
	// PollInterval is the wait between driver checkout attempts.
	PollInterval time.Duration
	// TickInterval paces the fallback scheduling tick.
	TickInterval time.Duration
	// CheckoutTimeout bounds the total wait for a driver. Zero waits forever.
	CheckoutTimeout time.Duration
}

// runner tracks one submitted task from queue to worker goroutine.
type runner struct {
	taskID    string
	query     records.Query
	createdAt time.Time
	sig       *drivers.CancelSignal
	started   bool
	done      chan struct{}
}

// Manager owns the task registry, admits queued tasks into worker slots,
// and drives each task through checkout, search, and exactly-once
// finalization. Killed tasks detach immediately; their goroutines keep a
// worker slot on the trash list until they unwind.
type Manager struct {
	registry *Registry
	pool     *drivers.Pool
	bus      *events.Bus

	maxWorkers      int
	pollInterval    time.Duration
	tickInterval    time.Duration
	checkoutTimeout time.Duration

	mu      sync.Mutex
	runners map[string]*runner
	trash   []*runner
	closed  bool

	scheduleCh chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewManager wires a manager over its registry and driver pool. The bus may
// be nil in tests.
func NewManager(registry *Registry, pool *drivers.Pool, bus *events.Bus, cfg ManagerConfig) *Manager {
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 500 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		registry:        registry,
		pool:            pool,
		bus:             bus,
		maxWorkers:      cfg.MaxWorkers,
		pollInterval:    cfg.PollInterval,
		tickInterval:    cfg.TickInterval,
		checkoutTimeout: cfg.CheckoutTimeout,
		runners:         make(map[string]*runner),
		scheduleCh:      make(chan struct{}, 1),
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Start launches the scheduling loop. Callers start the driver pool first.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.scheduleLoop()
}

// Submit registers a new scrape task and queues it for a worker slot. The
// returned snapshot has already moved to Pending.
func (m *Manager) Submit(q records.Query) (Task, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Task{}, ErrManagerClosed
	}
	id := GenerateTaskID()
	t := m.registry.Add(Task{
		ID:        id,
		Status:    StatusCreated,
		CreatedAt: time.Now(),
		Input:     q,
	})
	m.runners[id] = &runner{
		taskID:    id,
		query:     q,
		createdAt: t.CreatedAt,
		sig:       drivers.NewCancelSignal(),
		done:      make(chan struct{}),
	}
	m.mu.Unlock()

	m.publishTask(t)
	pending, ok := m.registry.MarkPending(id)
	if ok {
		m.publishTask(pending)
	}
	m.wake()
	slog.Info("task submitted", "task", id, "street", q.Address.Street)
	return pending, nil
}

// GetStatus returns the lifecycle snapshot for one task.
func (m *Manager) GetStatus(id string) (Task, error) {
	t, ok := m.registry.Get(id)
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return t, nil
}

// List returns task snapshots oldest first, optionally filtered by status.
func (m *Manager) List(statuses ...Status) []Task {
	return m.registry.List(statuses...)
}

// Cancel requests a cooperative stop. Queued tasks cancel immediately;
// started tasks move to Stopping until the worker observes the signal.
// Cancelling a terminal or already-stopping task is a no-op.
func (m *Manager) Cancel(id string) (Task, error) {
	t, ok := m.registry.Get(id)
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	if t.Status.Terminal() || t.Status == StatusStopping {
		return t, nil
	}

	m.mu.Lock()
	r, live := m.runners[id]
	if live && !r.started {
		delete(m.runners, id)
		r.sig.Set()
		close(r.done)
		m.mu.Unlock()
		if ft, changed := m.registry.FinalizeCancelled(id, nil); changed {
			m.publishTask(ft)
			slog.Info("queued task cancelled", "task", id)
			return ft, nil
		}
		t, _ = m.registry.Get(id)
		return t, nil
	}
	if live {
		r.sig.Set()
	}
	m.mu.Unlock()

	if st, changed := m.registry.MarkStopping(id); changed {
		m.publishTask(st)
		slog.Info("running task stopping", "task", id)
		return st, nil
	}
	t, _ = m.registry.Get(id)
	return t, nil
}

// Kill forcibly finalizes a task. The runner detaches immediately; a
// started worker keeps its slot on the trash list until its goroutine
// unwinds. Killing a terminal task is a no-op.
func (m *Manager) Kill(id string) (Task, error) {
	t, ok := m.registry.Get(id)
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	if t.Status.Terminal() {
		return t, nil
	}

	m.mu.Lock()
	if r, live := m.runners[id]; live {
		r.sig.Set()
		delete(m.runners, id)
		if r.started {
			m.trash = append(m.trash, r)
		} else {
			close(r.done)
		}
	}
	m.mu.Unlock()

	ft, changed := m.registry.FinalizeKilled(id)
	if changed {
		m.publishTask(ft)
		slog.Warn("task killed", "task", id)
	}
	m.wake()
	return ft, nil
}

// PruneTrash drops trash entries whose goroutines have unwound. Returns
// how many were pruned.
func (m *Manager) PruneTrash() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.trash[:0]
	pruned := 0
	for _, r := range m.trash {
		select {
		case <-r.done:
			pruned++
		default:
			kept = append(kept, r)
		}
	}
	m.trash = kept
	return pruned
}

// ReapRogues kills pool checkouts whose tasks are gone or already terminal,
// forcing the pool to respawn each seat. Returns the number killed.
func (m *Manager) ReapRogues() int {
	reaped := 0
	for _, taskID := range m.pool.ActiveTaskIDs() {
		t, ok := m.registry.Get(taskID)
		if ok && !t.Status.Terminal() {
			continue
		}
		slog.Warn("reaping rogue driver checkout", "task", taskID)
		if err := m.pool.Kill(taskID); err == nil {
			reaped++
		}
	}
	return reaped
}

// EvictFinished removes terminal tasks that finished more than keep ago.
// Returns the number evicted.
func (m *Manager) EvictFinished(keep time.Duration) int {
	cutoff := time.Now().Add(-keep)
	evicted := 0
	for _, t := range m.registry.List() {
		if !t.Status.Terminal() || t.FinishedAt == nil || t.FinishedAt.After(cutoff) {
			continue
		}
		if err := m.registry.Evict(t.ID); err != nil {
			continue
		}
		evicted++
		if m.bus != nil {
			m.bus.Publish(events.NewTypedEventForTask(events.SourceMaintenance, events.TaskEvictedPayload{TaskID: t.ID}, t.ID))
		}
	}
	return evicted
}

// WorkerStats reports worker slot occupancy.
type WorkerStats struct {
	Max   int `json:"max"`
	Busy  int `json:"busy"`
	Trash int `json:"trash"`
}

// Stats is a point-in-time view of the manager and its driver pool.
type Stats struct {
	Tasks   map[Status]int `json:"tasks"`
	Workers WorkerStats    `json:"workers"`
	Pool    drivers.Stats  `json:"driver_pool"`
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	busy := m.busyLocked()
	trash := len(m.trash)
	m.mu.Unlock()
	return Stats{
		Tasks:   m.registry.CountByStatus(),
		Workers: WorkerStats{Max: m.maxWorkers, Busy: busy, Trash: trash},
		Pool:    m.pool.Stats(),
	}
}

// Shutdown stops scheduling, kills every live task, and tears down the
// pool. It waits for worker goroutines until ctx expires.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	for _, t := range m.registry.List() {
		if !t.Status.Terminal() {
			m.Kill(t.ID)
		}
	}
	m.pool.Shutdown()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// wake nudges the scheduling loop without blocking.
func (m *Manager) wake() {
	select {
	case m.scheduleCh <- struct{}{}:
	default:
	}
}

func (m *Manager) scheduleLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.scheduleCh:
		case <-ticker.C:
		}
		m.schedule()
	}
}

// schedule admits queued tasks into free worker slots, oldest first.
func (m *Manager) schedule() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	free := m.maxWorkers - m.busyLocked()
	for _, r := range m.queuedLocked() {
		if free <= 0 {
			return
		}
		t, ok := m.registry.Get(r.taskID)
		if !ok || t.Status != StatusPending {
			continue
		}
		m.startRunner(r)
		free--
	}
}

// queuedLocked returns unstarted runners oldest first. Caller must hold m.mu.
func (m *Manager) queuedLocked() []*runner {
	out := make([]*runner, 0, len(m.runners))
	for _, r := range m.runners {
		if !r.started {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].createdAt.Before(out[j].createdAt) })
	return out
}

// busyLocked counts occupied worker slots, including killed tasks whose
// goroutines have not unwound yet. Caller must hold m.mu.
func (m *Manager) busyLocked() int {
	n := 0
	for _, r := range m.runners {
		if r.started {
			n++
		}
	}
	for _, r := range m.trash {
		select {
		case <-r.done:
		default:
			n++
		}
	}
	return n
}

// startRunner hands the runner to a worker goroutine. Caller must hold m.mu.
func (m *Manager) startRunner(r *runner) {
	r.started = true
	m.wg.Add(1)
	go m.execute(r)
}

func (m *Manager) execute(r *runner) {
	defer m.wg.Done()
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("task worker panicked", "task", r.taskID, "panic", rec)
			if ft, changed := m.registry.FinalizeFailed(r.taskID, Errorf(KindInternal, "worker panic: %v", rec)); changed {
				m.publishTask(ft)
			}
		}
		close(r.done)
		m.mu.Lock()
		delete(m.runners, r.taskID)
		m.mu.Unlock()
		m.wake()
	}()

	result, taskErr := m.runTask(r)
	m.finalize(r, result, taskErr)
}

// runTask checks out a driver, runs the search, and classifies errors. The
// driver goes back to the pool on every path before finalization.
func (m *Manager) runTask(r *runner) ([]records.Record, *TaskError) {
	drv, taskErr := m.checkout(r)
	if taskErr != nil {
		return nil, taskErr
	}
	if drv == nil {
		// cancelled while waiting, nothing scraped
		return []records.Record{}, nil
	}
	defer func() {
		if err := m.pool.Return(r.taskID); err != nil {
			slog.Debug("driver already detached from task", "task", r.taskID, "error", err)
		}
	}()

	if t, ok := m.registry.MarkRunning(r.taskID); ok {
		m.publishTask(t)
	}

	result, err := drv.Search(r.query, r.sig)
	if err != nil {
		return nil, Errorf(KindExternalFailure, "search failed: %v", err)
	}
	if result == nil {
		result = []records.Record{}
	}
	return result, nil
}

// checkout polls the pool until a driver frees up, the task is cancelled,
// or the manager shuts down. A nil driver with nil error means the cancel
// signal fired while waiting.
func (m *Manager) checkout(r *runner) (drivers.Driver, *TaskError) {
	var deadline <-chan time.Time
	if m.checkoutTimeout > 0 {
		timer := time.NewTimer(m.checkoutTimeout)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		if r.sig.IsSet() {
			return nil, nil
		}
		drv, err := m.pool.TryCheckout(r.taskID)
		switch {
		case err == nil:
			return drv, nil
		case errors.Is(err, drivers.ErrNoIdleDriver):
		case errors.Is(err, drivers.ErrPoolClosed):
			return nil, Errorf(KindExternalFailure, "driver pool is closed")
		default:
			return nil, Errorf(KindInternal, "driver checkout: %v", err)
		}
		select {
		case <-time.After(m.pollInterval):
		case <-r.sig.Done():
			return nil, nil
		case <-deadline:
			return nil, Errorf(KindPoolExhausted, "no driver became free within %s", m.checkoutTimeout)
		case <-m.ctx.Done():
			return nil, Errorf(KindInternal, "manager shutting down")
		}
	}
}

// finalize records the task outcome. Kill beats everything, then errors,
// then an observed cancel signal, then success. Afterwards it verifies the
// driver really came back to the pool.
func (m *Manager) finalize(r *runner, result []records.Record, taskErr *TaskError) {
	t, ok := m.registry.Get(r.taskID)
	if !ok {
		slog.Error("finished task missing from registry", "task", r.taskID)
		return
	}
	switch {
	case t.Status == StatusKilled:
		slog.Info("killed task unwound", "task", r.taskID, "records", len(result))
	case taskErr != nil:
		if ft, changed := m.registry.FinalizeFailed(r.taskID, taskErr); changed {
			m.publishTask(ft)
			slog.Error("task failed", "task", r.taskID, "kind", taskErr.Kind, "error", taskErr.Message)
		}
	case r.sig.IsSet():
		if ft, changed := m.registry.FinalizeCancelled(r.taskID, result); changed {
			m.publishTask(ft)
			slog.Info("task cancelled", "task", r.taskID, "records", len(result))
		}
	default:
		if ft, changed := m.registry.FinalizeCompleted(r.taskID, result); changed {
			m.publishTask(ft)
			slog.Info("task completed", "task", r.taskID, "records", len(result))
		}
	}
	m.verifyReturned(r.taskID)
}

// verifyReturned asserts the worker's deferred return actually freed the
// driver. A leftover active entry is a rogue; kill it so the pool respawns.
func (m *Manager) verifyReturned(taskID string) {
	for _, active := range m.pool.ActiveTaskIDs() {
		if active != taskID {
			continue
		}
		slog.Error("driver still checked out after task finished, killing it", "task", taskID)
		m.pool.Kill(taskID)
		return
	}
}

func (m *Manager) publishTask(t Task) {
	if m.bus == nil {
		return
	}
	payload := events.TaskPayload{
		TaskID:     t.ID,
		Status:     string(t.Status),
		StatusCode: t.StatusCode,
		Street:     t.Input.Address.Street,
		Records:    len(t.Result),
	}
	if t.Error != nil {
		payload.ErrorKind = string(t.Error.Kind)
		payload.ErrorMsg = t.Error.Message
	}
	m.bus.Publish(events.NewTypedEventForTask(events.SourceManager, payload, t.ID))
}
