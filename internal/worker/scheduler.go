package worker

import (
	"sync"
	"time"
)

// Token identifies one scheduled task. The zero Token is never issued.
type Token uint64

// Scheduler runs functions after a delay and lets callers cancel them
// before they fire.
type Scheduler struct {
	pool *Pool

	mu      sync.Mutex
	next    Token
	pending map[Token]*time.Timer
	stopped bool
}

// NewScheduler builds a scheduler. Fired tasks run on pool when it is
// non-nil, otherwise on the timer goroutine.
func NewScheduler(pool *Pool) *Scheduler {
	return &Scheduler{pool: pool, pending: make(map[Token]*time.Timer)}
}

// After schedules fn to run once after d.
func (s *Scheduler) After(d time.Duration, fn func()) Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return 0
	}

	s.next++
	token := s.next
	s.pending[token] = time.AfterFunc(d, func() { s.fire(token, fn) })
	return token
}

// Cancel prevents a pending task from running. It reports false when the
// task already fired or was cancelled before.
func (s *Scheduler) Cancel(token Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer, ok := s.pending[token]
	if !ok {
		return false
	}
	delete(s.pending, token)
	timer.Stop()
	return true
}

// Pending reports whether token is still waiting to fire.
func (s *Scheduler) Pending(token Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[token]
	return ok
}

// Stop cancels every pending task and rejects new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for token, timer := range s.pending {
		timer.Stop()
		delete(s.pending, token)
	}
}

func (s *Scheduler) fire(token Token, fn func()) {
	s.mu.Lock()
	_, ok := s.pending[token]
	delete(s.pending, token)
	s.mu.Unlock()
	if !ok {
		return
	}

	if s.pool != nil {
		if err := s.pool.Submit(fn); err == nil {
			return
		}
	}
	fn()
}
