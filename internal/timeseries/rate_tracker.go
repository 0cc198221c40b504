// Package timeseries tracks event counts over rolling time windows.
//
// A RateTracker is fed with Add from any goroutine and sampled once per
// second; rates are computed from the cumulative count at the sample that
// best matches the start of each window.
package timeseries

import (
	"sync"
	"sync/atomic"
	"time"
)

// maxSamples retains five minutes of history at one sample per second.
const maxSamples = 300

// Rolling windows reported by Stats.
const (
	Window10s  = 10 * time.Second
	Window60s  = 60 * time.Second
	Window300s = 300 * time.Second
)

// Clock returns the current time. Tests substitute a fake.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type point struct {
	at    time.Time
	total int64
}

// RateTracker counts events and reports per-second rates.
//
//	tracker := timeseries.NewRateTracker()
//	tracker.Add(1)       // per event, lock-free
//	tracker.Sample()     // once per second
//	stats := tracker.Stats()
type RateTracker struct {
	total atomic.Int64

	mu     sync.RWMutex
	points []point // ring, oldest at head once full
	head   int
	start  time.Time
	clock  Clock
}

// RateStats is a point-in-time view of a RateTracker.
type RateStats struct {
	Total int64

	// Events per second over each window.
	Rate10s  float64
	Rate60s  float64
	Rate300s float64

	// Overall is the average since the tracker was created or reset.
	Overall float64
}

// NewRateTracker creates a tracker using the system clock.
func NewRateTracker() *RateTracker {
	return NewRateTrackerWithClock(systemClock{})
}

// NewRateTrackerWithClock creates a tracker reading time from clock.
func NewRateTrackerWithClock(clock Clock) *RateTracker {
	t := &RateTracker{
		points: make([]point, 0, maxSamples),
		clock:  clock,
	}
	t.resetLocked(clock.Now())
	return t
}

// Add counts n events. Non-positive n is ignored.
func (t *RateTracker) Add(n int64) {
	if n > 0 {
		t.total.Add(n)
	}
}

// Sample records the current total. Call it periodically.
func (t *RateTracker) Sample() {
	p := point{at: t.clock.Now(), total: t.total.Load()}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.points) < maxSamples {
		t.points = append(t.points, p)
		return
	}
	t.points[t.head] = p
	t.head = (t.head + 1) % maxSamples
}

// Stats computes the current rates. Windows longer than the recorded
// history use the oldest sample.
func (t *RateTracker) Stats() RateStats {
	now := t.clock.Now()
	total := t.total.Load()

	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := RateStats{
		Total:    total,
		Rate10s:  t.rateSince(now, total, Window10s),
		Rate60s:  t.rateSince(now, total, Window60s),
		Rate300s: t.rateSince(now, total, Window300s),
	}
	if elapsed := now.Sub(t.start).Seconds(); elapsed > 0 {
		stats.Overall = float64(total) / elapsed
	}
	return stats
}

// rateSince uses the newest sample taken at or before now-window.
// Must be called with mu held.
func (t *RateTracker) rateSince(now time.Time, total int64, window time.Duration) float64 {
	if len(t.points) == 0 {
		return 0
	}
	cutoff := now.Add(-window)

	base := t.points[t.head] // oldest
	for i := range t.points {
		p := t.points[(t.head+i)%len(t.points)]
		if p.at.After(cutoff) {
			break
		}
		base = p
	}

	elapsed := now.Sub(base.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(total-base.total) / elapsed
}

// Reset zeroes the count and discards history.
func (t *RateTracker) Reset() {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total.Store(0)
	t.resetLocked(now)
}

func (t *RateTracker) resetLocked(now time.Time) {
	t.points = append(t.points[:0], point{at: now})
	t.head = 0
	t.start = now
}

// Samples returns the number of retained samples.
func (t *RateTracker) Samples() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.points)
}
