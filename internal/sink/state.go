package sink

import (
	"maps"
	"sync"
	"time"
)

// State is the scheduling state of one sink. Every read-modify-write happens
// under the sink's own mutex; reactive and periodic generations may overlap.
type State struct {
	name    string
	options map[string]any

	mu              sync.Mutex
	lastAttempt     time.Time
	pending         int
	defaultInterval time.Duration
	currentInterval time.Duration
	epoch           uint64

	loopAlive bool
	lastBeat  time.Time
	lastError error
}

// Snapshot is a point-in-time copy of a sink's state.
type Snapshot struct {
	Name            string        `json:"name"`
	LastAttempt     time.Time     `json:"last_attempt"`
	Pending         int           `json:"pending"`
	DefaultInterval time.Duration `json:"default_interval"`
	CurrentInterval time.Duration `json:"current_interval"`
	Epoch           uint64        `json:"epoch"`
	LoopAlive       bool          `json:"loop_alive"`
	LastBeat        time.Time     `json:"last_beat"`
	LastError       string        `json:"last_error,omitempty"`
}

// Name returns the sink name.
func (s *State) Name() string { return s.name }

// Options returns a copy of the generator options.
func (s *State) Options() map[string]any { return maps.Clone(s.options) }

// Begin records an attempt at now: sets lastAttempt, increments pending and
// resets the current interval to the default.
func (s *State) Begin(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAttempt = now
	s.pending++
	s.currentInterval = s.defaultInterval
}

// End decrements pending. Call exactly once per Begin.
func (s *State) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending > 0 {
		s.pending--
	}
}

// Pending returns the number of in-flight generations.
func (s *State) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// LastAttempt returns the time of the most recent attempt.
func (s *State) LastAttempt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAttempt
}

// SetCurrentInterval overrides the interval governing the next periodic wake.
func (s *State) SetCurrentInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentInterval = d
}

// CurrentInterval returns the interval governing the next periodic wake.
func (s *State) CurrentInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentInterval
}

// DefaultInterval returns the steady-state periodic cadence, zero if unset.
func (s *State) DefaultInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defaultInterval
}

// StartEpoch installs interval as the default cadence, seeds the current
// interval if unset, and returns the new epoch.
func (s *State) StartEpoch(interval time.Duration) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultInterval = interval
	if s.currentInterval <= 0 {
		s.currentInterval = interval
	}
	s.epoch++
	s.loopAlive = true
	s.lastError = nil
	return s.epoch
}

// NextEpoch bumps the epoch without touching intervals.
func (s *State) NextEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.loopAlive = true
	s.lastError = nil
	return s.epoch
}

// Epoch returns the live epoch.
func (s *State) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// Due reports whether a periodic wake is due at now. When it is not, wait is
// the remaining time until it will be.
func (s *State) Due(now time.Time) (due bool, wait time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	elapsed := now.Sub(s.lastAttempt)
	if elapsed >= s.currentInterval {
		return true, 0
	}
	return false, s.currentInterval - elapsed
}

// Beat records a heartbeat from the loop bound to epoch.
func (s *State) Beat(epoch uint64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch == epoch {
		s.lastBeat = now
	}
}

// LoopDied marks the loop bound to epoch as dead with err. A superseded loop
// does not overwrite the liveness of its successor.
func (s *State) LoopDied(epoch uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch == epoch {
		s.loopAlive = false
		s.lastError = err
	}
}

// LoopAlive reports whether the most recently started loop is still running.
func (s *State) LoopAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loopAlive
}

// LastError returns the error that ended the most recent loop, if any.
func (s *State) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// Snapshot returns a copy of the state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Name:            s.name,
		LastAttempt:     s.lastAttempt,
		Pending:         s.pending,
		DefaultInterval: s.defaultInterval,
		CurrentInterval: s.currentInterval,
		Epoch:           s.epoch,
		LoopAlive:       s.loopAlive,
		LastBeat:        s.lastBeat,
	}
	if s.lastError != nil {
		snap.LastError = s.lastError.Error()
	}
	return snap
}
