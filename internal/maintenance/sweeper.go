// Package maintenance runs the periodic housekeeping pass: pruning dead
// worker trash, reaping rogue driver checkouts, and evicting old terminal
// tasks from the registry.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/dohr-michael/magpie/internal/events"
	"github.com/dohr-michael/magpie/internal/tasks"
)

// Manager is the slice of the task manager the sweeper drives.
type Manager interface {
	PruneTrash() int
	ReapRogues() int
	EvictFinished(keep time.Duration) int
	Stats() tasks.Stats
}

// Sweeper runs one maintenance pass on every schedule-matching minute.
type Sweeper struct {
	manager    Manager
	bus        *events.Bus
	schedule   *CronExpr
	evictAfter time.Duration
}

// NewSweeper parses the cron schedule and builds a sweeper. The bus may be
// nil in tests.
func NewSweeper(manager Manager, bus *events.Bus, schedule string, evictAfter time.Duration) (*Sweeper, error) {
	expr, err := ParseCron(schedule)
	if err != nil {
		return nil, err
	}
	if evictAfter <= 0 {
		evictAfter = 24 * time.Hour
	}
	return &Sweeper{
		manager:    manager,
		bus:        bus,
		schedule:   expr,
		evictAfter: evictAfter,
	}, nil
}

// Run ticks once a minute and sweeps whenever the schedule matches. It
// returns when ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	slog.Info("maintenance sweeper started", "schedule", s.schedule.String(), "evict_after", s.evictAfter)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if s.schedule.Matches(now) {
				s.RunOnce()
			}
		}
	}
}

// RunOnce performs a single maintenance pass and publishes its summary
// along with a fresh pool occupancy snapshot.
func (s *Sweeper) RunOnce() events.SweepPayload {
	start := time.Now()
	pruned := s.manager.PruneTrash()
	rogues := s.manager.ReapRogues()
	evicted := s.manager.EvictFinished(s.evictAfter)

	payload := events.SweepPayload{
		TrashPruned:  pruned,
		RoguesKilled: rogues,
		TasksEvicted: evicted,
		Duration:     time.Since(start),
	}
	if s.bus != nil {
		s.bus.Publish(events.NewTypedEvent(events.SourceMaintenance, payload))
		st := s.manager.Stats()
		s.bus.Publish(events.NewTypedEvent(events.SourceMaintenance, events.PoolStatsPayload{
			Capacity: st.Pool.Capacity,
			Idle:     st.Pool.Idle,
			Active:   st.Pool.Active,
		}))
	}
	if pruned+rogues+evicted > 0 {
		slog.Info("maintenance sweep",
			"trash_pruned", pruned,
			"rogues_killed", rogues,
			"tasks_evicted", evicted,
			"duration", payload.Duration)
	}
	return payload
}
