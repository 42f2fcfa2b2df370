package lifecycle

import (
	"sync/atomic"
	"time"
)

// State tracks process start time and the draining flag consulted by the health handler.
type State struct {
	started      time.Time
	shuttingDown atomic.Bool
}

// New returns a State started now.
func New() *State {
	return &State{started: time.Now()}
}

// SetShuttingDown sets the draining flag. Call when SIGTERM/SIGINT is received.
// The health handler reports 503 shutting-down while it is true.
func (s *State) SetShuttingDown(v bool) {
	s.shuttingDown.Store(v)
}

// IsShuttingDown reports whether the process is draining.
func (s *State) IsShuttingDown() bool {
	return s.shuttingDown.Load()
}

// StartedAt returns the process start time.
func (s *State) StartedAt() time.Time {
	return s.started
}

// Uptime returns the time since start.
func (s *State) Uptime() time.Duration {
	return time.Since(s.started)
}
