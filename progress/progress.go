// Package progress derives normalized progress reports from the raw unit
// counters an execution capability emits. Estimators smooth over provisional
// totals: when the precise total isn't known at job start the percentage is
// flagged as estimated, and once corrected the reported percentage never
// moves backward
package progress

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// NowFunc is an overridable function for getting datestamps, tests can swap
// it out to create determinism
var NowFunc = time.Now

// Snapshot is one normalized view of progress at an instant
type Snapshot struct {
	Done    int `json:"done"`
	Total   int `json:"total"`
	Percent int `json:"percent"` // 0-100
	// Estimated is true while Total is a provisional figure that may still
	// be corrected
	Estimated bool          `json:"estimated"`
	Elapsed   time.Duration `json:"elapsed"`
	// Remaining is an advisory ETA, never a guarantee. negative means
	// unknown
	Remaining time.Duration `json:"remaining"`
}

// String summarizes a snapshot for humans
func (s Snapshot) String() string {
	summary := fmt.Sprintf("%d%% (%s of %s units)", s.Percent, humanize.Comma(int64(s.Done)), humanize.Comma(int64(s.Total)))
	if s.Estimated {
		summary += " est."
	}
	if s.Remaining >= 0 {
		now := NowFunc()
		summary += ", " + humanize.RelTime(now, now.Add(s.Remaining), "remaining", "")
	}
	return summary
}

// Estimator converts (unitsDone, unitsTotal) callbacks into monotonic
// percentage snapshots for a single execution attempt. Estimators must not
// be reused across attempts: retry & resume boundaries get a fresh one.
// Estimator is safe for concurrent use
type Estimator struct {
	mu          sync.Mutex
	start       time.Time
	done        int
	total       int
	provisional bool
	reported    int // percentage high-water mark
}

// NewEstimator creates an estimator for an attempt starting now. A non-zero
// provisionalTotal seeds the total with an initial count that later precise
// totals correct
func NewEstimator(provisionalTotal int) *Estimator {
	return &Estimator{
		start:       NowFunc(),
		total:       provisionalTotal,
		provisional: true,
	}
}

// Update records a progress callback & returns the normalized view. A
// total <= 0 means the capability still doesn't know the precise figure &
// the provisional total stands. The first positive total locks the estimate
func (e *Estimator) Update(done, total int) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	if done > e.done {
		e.done = done
	}
	if total > 0 {
		e.total = total
		e.provisional = false
	}
	return e.snapshot()
}

// Snapshot returns the current normalized view without recording new
// counters
func (e *Estimator) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot()
}

// snapshot must be called with the estimator lock held
func (e *Estimator) snapshot() Snapshot {
	percent := 0
	if e.total > 0 {
		percent = int(math.Round(100 * float64(e.done) / float64(e.total)))
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	// correcting a provisional total must never walk the report backward
	if percent < e.reported {
		percent = e.reported
	}
	e.reported = percent

	elapsed := NowFunc().Sub(e.start)
	return Snapshot{
		Done:      e.done,
		Total:     e.total,
		Percent:   percent,
		Estimated: e.provisional,
		Elapsed:   elapsed,
		Remaining: eta(elapsed, e.done, e.total),
	}
}

// eta returns elapsed * (total - done) / max(done, 1), or -1 when the total
// is unknown
func eta(elapsed time.Duration, done, total int) time.Duration {
	if total <= 0 || done > total {
		return -1
	}
	divisor := done
	if divisor < 1 {
		divisor = 1
	}
	return time.Duration(int64(elapsed) * int64(total-done) / int64(divisor))
}
