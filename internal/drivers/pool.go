package drivers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dohr-michael/magpie/internal/events"
)

// Checkout errors. ErrNoIdleDriver is retryable; the others are final for
// the requesting task.
var (
	ErrNoIdleDriver  = errors.New("no idle driver available")
	ErrTaskHasDriver = errors.New("task already holds a driver")
	ErrPoolClosed    = errors.New("driver pool is closed")
)

// Pool owns a fixed set of drivers and leases them to tasks, one per task.
// |idle| + |active| == capacity except transiently while a destroyed
// driver's replacement is being built.
type Pool struct {
	factory  Factory
	capacity int
	bus      *events.Bus

	mu     sync.Mutex
	idle   []Driver
	active map[string]Driver // taskID → leased driver
	closed bool

	wg sync.WaitGroup // respawn goroutines
}

// NewPool creates a pool. Drivers are not built until Start.
func NewPool(factory Factory, capacity int, bus *events.Bus) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	return &Pool{
		factory:  factory,
		capacity: capacity,
		bus:      bus,
		active:   make(map[string]Driver),
	}
}

// Capacity returns the configured driver count.
func (p *Pool) Capacity() int { return p.capacity }

// Start eagerly builds the full driver set. The first factory error aborts
// the start and destroys any drivers already built.
func (p *Pool) Start(ctx context.Context) error {
	built := make([]Driver, 0, p.capacity)
	for i := 0; i < p.capacity; i++ {
		d, err := p.factory.New(ctx)
		if err != nil {
			for _, b := range built {
				b.Destroy()
			}
			return fmt.Errorf("build driver %d/%d: %w", i+1, p.capacity, err)
		}
		built = append(built, d)
		p.publish(events.DriverPayload{Op: events.DriverOpCreated, DriverID: d.ID()}, "")
	}

	p.mu.Lock()
	p.idle = built
	p.mu.Unlock()

	slog.Info("driver pool started", "capacity", p.capacity)
	return nil
}

// TryCheckout leases an idle driver to taskID without blocking.
func (p *Pool) TryCheckout(taskID string) (Driver, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}
	if _, ok := p.active[taskID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskHasDriver, taskID)
	}
	if len(p.idle) == 0 {
		return nil, ErrNoIdleDriver
	}

	d := p.idle[len(p.idle)-1]
	p.idle = p.idle[:len(p.idle)-1]
	p.active[taskID] = d

	slog.Debug("driver checked out", "driver_id", d.ID(), "task_id", taskID)
	p.publish(events.DriverPayload{Op: events.DriverOpCheckout, DriverID: d.ID(), TaskID: taskID}, taskID)
	return d, nil
}

// Return gives the task's driver back to the idle set. The driver is reset
// first; a failed reset destroys it and a replacement is built in the
// background. If the idle set has already been refilled (a kill respawn
// raced this return) the surplus driver is destroyed without replacement.
func (p *Pool) Return(taskID string) error {
	p.mu.Lock()
	d, ok := p.active[taskID]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("no driver checked out for task %s", taskID)
	}
	delete(p.active, taskID)
	closed := p.closed
	p.mu.Unlock()

	if closed {
		d.Destroy()
		return nil
	}

	if err := d.Reset(); err != nil {
		slog.Warn("driver reset failed, replacing", "driver_id", d.ID(), "error", err)
		p.destroyAndRespawn(d)
		return nil
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		d.Destroy()
		return nil
	}
	if len(p.idle)+len(p.active) >= p.capacity {
		p.mu.Unlock()
		slog.Warn("pool already full on return, destroying surplus driver", "driver_id", d.ID())
		d.Destroy()
		p.publish(events.DriverPayload{Op: events.DriverOpDestroyed, DriverID: d.ID()}, "")
		return nil
	}
	p.idle = append(p.idle, d)
	p.mu.Unlock()

	slog.Debug("driver returned", "driver_id", d.ID(), "task_id", taskID)
	p.publish(events.DriverPayload{Op: events.DriverOpReturned, DriverID: d.ID(), TaskID: taskID, Searches: d.Health().Searches}, taskID)
	return nil
}

// Kill forcibly reclaims the driver leased to taskID. Bookkeeping updates
// immediately; browser teardown and the replacement build run in the
// background so callers never wait on a hung session.
func (p *Pool) Kill(taskID string) error {
	p.mu.Lock()
	d, ok := p.active[taskID]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("no driver checked out for task %s", taskID)
	}
	delete(p.active, taskID)
	closed := p.closed
	p.mu.Unlock()

	slog.Info("driver killed", "driver_id", d.ID(), "task_id", taskID)
	p.publish(events.DriverPayload{Op: events.DriverOpKilled, DriverID: d.ID(), TaskID: taskID}, taskID)

	if closed {
		d.Destroy()
		return nil
	}
	p.destroyAndRespawn(d)
	return nil
}

// destroyAndRespawn tears a driver down and builds its replacement off the
// caller's goroutine.
func (p *Pool) destroyAndRespawn(d Driver) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		d.Destroy()
		p.publish(events.DriverPayload{Op: events.DriverOpDestroyed, DriverID: d.ID()}, "")

		nd, err := p.factory.New(context.Background())
		if err != nil {
			slog.Error("driver respawn failed", "error", err)
			return
		}

		p.mu.Lock()
		if p.closed || len(p.idle)+len(p.active) >= p.capacity {
			p.mu.Unlock()
			nd.Destroy()
			return
		}
		p.idle = append(p.idle, nd)
		p.mu.Unlock()

		slog.Info("driver respawned", "driver_id", nd.ID())
		p.publish(events.DriverPayload{Op: events.DriverOpCreated, DriverID: nd.ID()}, "")
	}()
}

// Stats is a pool occupancy snapshot.
type Stats struct {
	Capacity int               `json:"capacity"`
	Idle     int               `json:"idle"`
	Active   int               `json:"active"`
	Drivers  map[string]Health `json:"drivers,omitempty"` // taskID → leased driver health
}

// Stats snapshots occupancy and the health of every leased driver.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	idle := len(p.idle)
	active := make(map[string]Driver, len(p.active))
	for taskID, d := range p.active {
		active[taskID] = d
	}
	p.mu.Unlock()

	st := Stats{Capacity: p.capacity, Idle: idle, Active: len(active)}
	if len(active) > 0 {
		st.Drivers = make(map[string]Health, len(active))
		for taskID, d := range active {
			st.Drivers[taskID] = d.Health()
		}
	}
	return st
}

// ActiveTaskIDs returns the ids of tasks currently holding drivers.
func (p *Pool) ActiveTaskIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.active))
	for id := range p.active {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown destroys every driver and rejects further checkouts. It waits
// for in-flight respawns to settle.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	active := p.active
	p.idle = nil
	p.active = make(map[string]Driver)
	p.mu.Unlock()

	for _, d := range idle {
		d.Destroy()
	}
	for _, d := range active {
		d.Destroy()
	}
	p.wg.Wait()
	slog.Info("driver pool shut down")
}

func (p *Pool) publish(payload events.EventPayload, taskID string) {
	if p.bus == nil {
		return
	}
	if taskID != "" {
		p.bus.Publish(events.NewTypedEventForTask(events.SourcePool, payload, taskID))
	} else {
		p.bus.Publish(events.NewTypedEvent(events.SourcePool, payload))
	}
}
