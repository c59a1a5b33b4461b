package scheduler

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler arms one-shot delayed actions keyed by an opaque string,
// at most one pending action per key. Cancellation and firing are
// mutually exclusive: for any scheduled action exactly one occurs.
type Scheduler struct {
	logger zerolog.Logger
	mx     *sync.Mutex
	db     map[string]*Handle
}

// Handle identifies one scheduled action.
type Handle struct {
	key   string
	timer *time.Timer
	spent bool
}

func New(logger *zerolog.Logger) *Scheduler {
	return &Scheduler{
		logger: logger.With().Str("component", "scheduler").Logger(),
		mx:     &sync.Mutex{},
		db:     make(map[string]*Handle),
	}
}

// Schedule arms action to run after delay unless cancelled first.
// Scheduling over a key with a live entry cancels the old entry.
// The action runs on the timer goroutine, outside the scheduler lock.
func (s *Scheduler) Schedule(key string, delay time.Duration, action func()) *Handle {
	s.mx.Lock()
	defer s.mx.Unlock()

	if old, ok := s.db[key]; ok {
		s.cancelLocked(old)
	}

	h := &Handle{key: key}
	h.timer = time.AfterFunc(delay, func() {
		s.mx.Lock()
		if h.spent {
			s.mx.Unlock()
			return
		}
		h.spent = true
		delete(s.db, key)
		s.mx.Unlock()
		action()
	})
	s.db[key] = h
	s.logger.Debug().Str("key", key).Dur("delay", delay).Msg("action scheduled")
	return h
}

// Cancel prevents the action from running if it has not yet fired.
// It reports whether this call was the one that stopped the action.
func (s *Scheduler) Cancel(h *Handle) bool {
	if h == nil {
		return false
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.cancelLocked(h)
}

// CancelKey cancels whatever action is pending for key, if any.
func (s *Scheduler) CancelKey(key string) bool {
	s.mx.Lock()
	defer s.mx.Unlock()

	h, ok := s.db[key]
	if !ok {
		return false
	}
	return s.cancelLocked(h)
}

func (s *Scheduler) cancelLocked(h *Handle) bool {
	if h.spent {
		return false
	}
	h.spent = true
	h.timer.Stop()
	if cur, ok := s.db[h.key]; ok && cur == h {
		delete(s.db, h.key)
	}
	s.logger.Debug().Str("key", h.key).Msg("action cancelled")
	return true
}

// Pending reports whether an action is still armed for key.
func (s *Scheduler) Pending(key string) bool {
	s.mx.Lock()
	defer s.mx.Unlock()

	_, ok := s.db[key]
	return ok
}
