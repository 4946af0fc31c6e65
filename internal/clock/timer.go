package clock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// CancelHandle cancels a single armed timer. Cancel is idempotent.
type CancelHandle interface {
	Cancel()
}

// TimerService arms callbacks to fire at a future instant, on top of a
// Clock. Production code drives it from a SystemClock; tests drive it from
// a VirtualClock so deadlines fire in deterministic order.
//
// Fired callbacks are delivered on their own goroutine and do their own
// locking; the coordinator's timer callbacks take the alarm's mutex
// before touching its state.
type TimerService struct {
	clock  Clock
	wg     sync.WaitGroup
	closed int32
}

// NewTimerService creates a TimerService bound to clock.
func NewTimerService(clock Clock) *TimerService {
	return &TimerService{clock: clock}
}

type handle struct {
	cancel context.CancelFunc
	fired  int32
}

// Cancel stops the timer if it has not already fired. Safe to call more
// than once and safe to call after the timer has already fired.
func (h *handle) Cancel() {
	h.cancel()
}

// ArmAt schedules fn to run once the clock reaches t. Returns a
// CancelHandle; cancelling before t is reached suppresses fn.
func (s *TimerService) ArmAt(ctx context.Context, t time.Time, fn func()) CancelHandle {
	childCtx, cancel := context.WithCancel(ctx)
	h := &handle{cancel: cancel}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.clock.SleepUntil(childCtx, t); err != nil {
			return // cancelled
		}
		if childCtx.Err() != nil {
			return // cancelled after t had already passed
		}
		if atomic.CompareAndSwapInt32(&h.fired, 0, 1) {
			fn()
		}
	}()

	return h
}

// Wait blocks until every timer armed through this service has either
// fired or been cancelled. Intended for orderly shutdown.
func (s *TimerService) Wait() {
	s.wg.Wait()
}
