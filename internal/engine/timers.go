package engine

import (
	"sync"
	"time"
)

// timerSet manages one cancellable delayed task per deviation record,
// used to re-evaluate a record when its grace period expires even if no
// position report or sweep happens to land at that moment.
//
// Cancellation and firing can race: the callback must itself no-op when the
// record is no longer in the expected state.
type timerSet struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newTimerSet() *timerSet {
	return &timerSet{timers: make(map[string]*time.Timer)}
}

// Schedule arms (or re-arms) the timer for id to run fn after d.
func (s *timerSet) Schedule(id string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[id]; ok {
		old.Stop()
	}
	s.timers[id] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		fn()
	})
}

// Cancel stops and removes the timer for id, if any.
func (s *timerSet) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

// Stop cancels every pending timer. Used on shutdown.
func (s *timerSet) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
