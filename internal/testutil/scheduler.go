package testutil

import (
	"sync"
	"time"

	"inkwell/internal/durable"
)

// ManualScheduler holds scheduled callbacks until the test fires them.
type ManualScheduler struct {
	mu      sync.Mutex
	pending []*manualTimer
}

var _ durable.Scheduler = (*ManualScheduler)(nil)

type manualTimer struct {
	s       *ManualScheduler
	delay   time.Duration
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	return t.s.remove(t)
}

func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) durable.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{s: s, delay: d, f: f}
	s.pending = append(s.pending, t)
	return t
}

// Pending returns the delays of callbacks that have not fired or been stopped.
func (s *ManualScheduler) Pending() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.pending))
	for i, t := range s.pending {
		out[i] = t.delay
	}
	return out
}

// FireNext runs the oldest pending callback on the calling goroutine.
// It reports false when nothing is pending.
func (s *ManualScheduler) FireNext() bool {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return false
	}
	t := s.pending[0]
	s.pending = s.pending[1:]
	t.stopped = true
	s.mu.Unlock()

	t.f()
	return true
}

// FireAll runs callbacks that were pending at the time of the call. Callbacks
// they schedule stay pending. Returns how many ran.
func (s *ManualScheduler) FireAll() int {
	s.mu.Lock()
	n := len(s.pending)
	s.mu.Unlock()

	fired := 0
	for i := 0; i < n; i++ {
		if !s.FireNext() {
			break
		}
		fired++
	}
	return fired
}

func (s *ManualScheduler) remove(t *manualTimer) bool {
	for i, p := range s.pending {
		if p == t {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return true
		}
	}
	return false
}
