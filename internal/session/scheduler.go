package session

import (
	"sync"
	"time"
)

// Scheduler keeps one sliding expiry timer per pending session. The fire
// callback runs on the timer's own goroutine.
type Scheduler struct {
	mu     sync.Mutex
	timers map[int64]*time.Timer
	fire   func(userID int64)
}

func NewScheduler(fire func(userID int64)) *Scheduler {
	return &Scheduler{
		timers: make(map[int64]*time.Timer),
		fire:   fire,
	}
}

// Arm schedules a one-shot expiry for the user, replacing any earlier timer.
func (s *Scheduler) Arm(userID int64, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[userID]; ok {
		t.Stop()
		delete(s.timers, userID)
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		// The entry may have been replaced or cancelled between this timer
		// firing and the lock being taken; only the current owner fires.
		if s.timers[userID] != t {
			s.mu.Unlock()
			return
		}
		delete(s.timers, userID)
		s.mu.Unlock()

		s.fire(userID)
	})
	s.timers[userID] = t
}

// Reschedule moves an existing timer's fire time forward. A missing timer,
// for instance after a restart, is a no-op.
func (s *Scheduler) Reschedule(userID int64, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[userID]
	if !ok {
		return
	}

	if !t.Stop() {
		// Already fired; the in-flight callback still owns the entry and
		// will run the expiry. Resetting here would resurrect the timer.
		return
	}
	t.Reset(d)
}

// Cancel drops the user's timer. Tolerates a timer that already fired or
// never existed; a fired callback that lost its entry does not run.
func (s *Scheduler) Cancel(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[userID]; ok {
		t.Stop()
		delete(s.timers, userID)
	}
}
