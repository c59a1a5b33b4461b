package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScheduler() *Scheduler {
	logger := zerolog.Nop()
	return New(&logger)
}

func TestScheduler_Fires(t *testing.T) {
	s := newScheduler()
	fired := make(chan struct{})

	s.Schedule("room", 10*time.Millisecond, func() {
		close(fired)
	})
	require.True(t, s.Pending("room"))

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("action did not fire")
	}
	assert.False(t, s.Pending("room"))
}

func TestScheduler_Cancel(t *testing.T) {
	s := newScheduler()
	var fired atomic.Bool

	h := s.Schedule("room", 20*time.Millisecond, func() {
		fired.Store(true)
	})
	assert.True(t, s.Cancel(h))
	assert.False(t, s.Pending("room"))

	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired.Load())

	// cancelling twice is a no-op
	assert.False(t, s.Cancel(h))
	assert.False(t, s.Cancel(nil))
}

func TestScheduler_CancelKey(t *testing.T) {
	s := newScheduler()
	var fired atomic.Bool

	s.Schedule("room", 20*time.Millisecond, func() {
		fired.Store(true)
	})
	assert.True(t, s.CancelKey("room"))
	assert.False(t, s.CancelKey("room"))
	assert.False(t, s.CancelKey("other"))

	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestScheduler_RescheduleReplacesPending(t *testing.T) {
	s := newScheduler()
	var first, second atomic.Bool

	s.Schedule("room", 10*time.Millisecond, func() {
		first.Store(true)
	})
	s.Schedule("room", 10*time.Millisecond, func() {
		second.Store(true)
	})

	time.Sleep(50 * time.Millisecond)
	assert.False(t, first.Load(), "replaced action must never run")
	assert.True(t, second.Load())
}

func TestScheduler_CancelAndFireExclusive(t *testing.T) {
	s := newScheduler()

	// hammer the cancel-vs-fire race: for every round exactly one of
	// {action ran, cancel succeeded} must hold
	for i := 0; i < 200; i++ {
		var fired atomic.Int32
		h := s.Schedule("room", time.Millisecond, func() {
			fired.Add(1)
		})

		var wg sync.WaitGroup
		var cancelled atomic.Bool
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			cancelled.Store(s.Cancel(h))
		}()
		wg.Wait()

		time.Sleep(5 * time.Millisecond)
		if cancelled.Load() {
			require.EqualValues(t, 0, fired.Load(), "round %d: both cancel and fire happened", i)
		} else {
			require.EqualValues(t, 1, fired.Load(), "round %d: neither cancel nor fire happened", i)
		}
	}
}
