package traffic

import (
	"sync"
	"time"
)

// Outcome classifies a finished weather request.
type Outcome int

const (
	Success Outcome = iota
	Error
	Denied
)

// DefaultRetention bounds how long timestamps are kept.
const DefaultRetention = 30 * time.Minute

// Tracker maintains sliding windows of outcome timestamps. It is the single source for
// the health checks: load and denials (overloaded), error rate (degraded) and request
// volume (idle). Safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	now       func() time.Time
	retention time.Duration

	successTimes []time.Time
	errorTimes   []time.Time
	deniedTimes  []time.Time
}

// NewTracker returns a Tracker keeping timestamps for retention (DefaultRetention if <= 0).
func NewTracker(retention time.Duration) *Tracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Tracker{now: time.Now, retention: retention}
}

// Record appends one outcome at the current time.
func (t *Tracker) Record(o Outcome) {
	t.RecordN(o, 1)
}

// RecordN appends n outcomes at the current time.
func (t *Tracker) RecordN(o Outcome, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	slice := t.sliceFor(o)
	for i := 0; i < n; i++ {
		*slice = append(*slice, now)
	}
	t.pruneLocked(now)
}

func (t *Tracker) sliceFor(o Outcome) *[]time.Time {
	switch o {
	case Error:
		return &t.errorTimes
	case Denied:
		return &t.deniedTimes
	default:
		return &t.successTimes
	}
}

// RequestCount returns successes + errors + denials within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	return countSince(t.successTimes, cutoff) + countSince(t.errorTimes, cutoff) + countSince(t.deniedTimes, cutoff)
}

// ServedCount returns successes + errors within the window; denied requests never reached a handler.
func (t *Tracker) ServedCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	return countSince(t.successTimes, cutoff) + countSince(t.errorTimes, cutoff)
}

// DenialCount returns the number of rate-limit denials within the window.
func (t *Tracker) DenialCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.deniedTimes, t.now().Add(-window))
}

// ErrorRate returns (errorCount, totalCount) within the window. Denials are excluded.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	errCount := countSince(t.errorTimes, cutoff)
	return errCount, errCount + countSince(t.successTimes, cutoff)
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successTimes = nil
	t.errorTimes = nil
	t.deniedTimes = nil
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than the retention. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.retention)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.successTimes)
	prune(&t.errorTimes)
	prune(&t.deniedTimes)
}
