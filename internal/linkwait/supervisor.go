package linkwait

import (
	"log/slog"
	"sync"
	"time"
)

// State of the link wait flow.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// DefaultTimeout bounds how long a login from the expected service is
// awaited before the flow flips to failed.
const DefaultTimeout = 10 * time.Second

// Supervisor races an expected inbound login against a single-shot timer.
// Expect arms the timer; a matching Observe cancels it; if the timer wins,
// the state turns failed and Retry re-arms the same flow.
type Supervisor struct {
	mu       sync.Mutex
	state    State
	expected string
	timer    *time.Timer
	seq      int // invalidates timers from earlier arms
	timeout  time.Duration
	onChange func(State, string)
	log      *slog.Logger
}

// New creates a supervisor. A non-positive timeout falls back to
// DefaultTimeout.
func New(timeout time.Duration, log *slog.Logger) *Supervisor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Supervisor{
		timeout: timeout,
		log:     log,
	}
}

// SetOnChange registers a callback invoked (outside the lock) whenever the
// state flips. The second argument is the expected service key.
func (s *Supervisor) SetOnChange(fn func(State, string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Expect starts waiting for a login from the given service key. Any armed
// timer is cleared first.
func (s *Supervisor) Expect(serviceKey string) {
	s.mu.Lock()
	s.stopTimerLocked()
	s.expected = serviceKey
	s.state = StateLoading
	s.armLocked()
	fn, st, key := s.onChange, s.state, s.expected
	s.mu.Unlock()

	s.log.Info("awaiting login", "service_key", serviceKey, "timeout", s.timeout)
	if fn != nil {
		fn(st, key)
	}
}

// Observe reports an arriving request's embedded key. On a match while
// loading, the timer is cancelled and the flow completes; returns true in
// that case.
func (s *Supervisor) Observe(serviceKey string) bool {
	s.mu.Lock()
	if s.state != StateLoading || serviceKey != s.expected {
		s.mu.Unlock()
		return false
	}
	s.stopTimerLocked()
	s.state = StateIdle
	fn, st, key := s.onChange, s.state, s.expected
	s.expected = ""
	s.mu.Unlock()

	s.log.Info("expected login arrived", "service_key", serviceKey)
	if fn != nil {
		fn(st, key)
	}
	return true
}

// Retry re-arms the flow after a timeout. No-op unless the state is failed.
func (s *Supervisor) Retry() {
	s.mu.Lock()
	if s.state != StateFailed || s.expected == "" {
		s.mu.Unlock()
		return
	}
	s.state = StateLoading
	s.armLocked()
	fn, st, key := s.onChange, s.state, s.expected
	s.mu.Unlock()

	s.log.Info("retrying link", "service_key", key)
	if fn != nil {
		fn(st, key)
	}
}

// State returns the current state and the expected service key, if any.
func (s *Supervisor) State() (State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.expected
}

func (s *Supervisor) armLocked() {
	s.seq++
	seq := s.seq
	s.timer = time.AfterFunc(s.timeout, func() {
		s.expire(seq)
	})
}

func (s *Supervisor) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.seq++ // a stopped timer that already fired must not flip state
}

func (s *Supervisor) expire(seq int) {
	s.mu.Lock()
	if seq != s.seq || s.state != StateLoading {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.state = StateFailed
	fn, st, key := s.onChange, s.state, s.expected
	s.mu.Unlock()

	s.log.Warn("login wait timed out", "service_key", key)
	if fn != nil {
		fn(st, key)
	}
}
