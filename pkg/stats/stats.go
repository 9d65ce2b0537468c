// Package stats holds the small in-process counters the core exposes for
// a single run of the download orchestrator: downloads completed, skipped,
// and failed, and total bytes transferred. It mirrors the teacher's
// ContentStats shape (plain atomic counters, no metrics server), since
// observability surfaces themselves are out of scope (§1 Non-goals), but
// the ambient counters backing them are not.
package stats

import "sync/atomic"

// Counters tracks one download run's outcome tallies.
type Counters struct {
	completed atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
	bytes     atomic.Int64
}

// New returns a zeroed Counters.
func New() *Counters {
	return &Counters{}
}

// IncCompleted records one successfully completed download.
func (c *Counters) IncCompleted(bytes int64) {
	c.completed.Add(1)
	c.bytes.Add(bytes)
}

// IncSkipped records one skipped (already-cached) download.
func (c *Counters) IncSkipped() {
	c.skipped.Add(1)
}

// IncFailed records one failed download.
func (c *Counters) IncFailed() {
	c.failed.Add(1)
}

// Snapshot is a point-in-time read of the counters.
type Snapshot struct {
	Completed        int64
	Skipped          int64
	Failed           int64
	BytesTransferred int64
}

// Snapshot returns the current counter values.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Completed:        c.completed.Load(),
		Skipped:          c.skipped.Load(),
		Failed:           c.failed.Load(),
		BytesTransferred: c.bytes.Load(),
	}
}
