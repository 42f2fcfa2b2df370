package service

import (
	"sync"
)

// missTracker counts in-flight upstream fetches per cache key. Concurrent misses
// for one key are not coalesced; the tracker only makes them visible in metrics.
type missTracker struct {
	mu       sync.Mutex
	inFlight map[string]int
}

func newMissTracker() *missTracker {
	return &missTracker{inFlight: make(map[string]int)}
}

// begin registers a fetch for key and returns the number of fetches now in flight
// for it, including this one. Call done exactly once when the fetch completes.
func (t *missTracker) begin(key string) (n int, done func()) {
	t.mu.Lock()
	t.inFlight[key]++
	n = t.inFlight[key]
	t.mu.Unlock()

	var once sync.Once
	return n, func() {
		once.Do(func() { t.end(key) })
	}
}

func (t *missTracker) end(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inFlight[key] <= 1 {
		delete(t.inFlight, key)
		return
	}
	t.inFlight[key]--
}
