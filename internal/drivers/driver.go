// Package drivers manages browser sessions for county record scraping: the
// Driver abstraction over one session, the rod-based production driver, and
// the fixed-capacity Pool that leases drivers to tasks.
package drivers

import (
	"context"
	"time"

	"github.com/dohr-michael/magpie/internal/records"
)

// Driver is one browser session able to run record searches. Implementations
// are not safe for concurrent use; the pool hands each driver to at most one
// task at a time.
type Driver interface {
	// ID identifies the driver in logs, events, and pool stats.
	ID() string

	// Search runs the address search for q and scrapes up to q.NumResults
	// records. It checks sig between records and stops early with the
	// partial slice collected so far when the signal trips. A site timeout
	// likewise yields the partial slice with no error; any other failure
	// returns a nil slice and the error. The returned slice is never nil
	// on success, even when empty.
	Search(q records.Query, sig *CancelSignal) ([]records.Record, error)

	// Reset returns the driver to the search page, ready for a new task.
	Reset() error

	// Health reports liveness and usage counters.
	Health() Health

	// Destroy tears the session down. Idempotent; teardown errors are
	// swallowed.
	Destroy()
}

// Health is a point-in-time driver status snapshot.
type Health struct {
	DriverID  string    `json:"driver_id"`
	Alive     bool      `json:"alive"`
	Searches  int       `json:"searches"`
	StartedAt time.Time `json:"started_at"`
}

// Factory builds drivers for the pool. The rod factory is the production
// implementation; tests substitute stubs.
type Factory interface {
	New(ctx context.Context) (Driver, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context) (Driver, error)

func (f FactoryFunc) New(ctx context.Context) (Driver, error) { return f(ctx) }
