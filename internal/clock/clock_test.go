package clock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVirtualClockNowReflectsAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	vc := NewVirtualClock(start)
	assert.True(t, vc.Now().Equal(start))

	vc.Advance(time.Hour)
	assert.True(t, vc.Now().Equal(start.Add(time.Hour)))
}

func TestVirtualClockAdvanceToIsNoOpForPastTime(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	vc := NewVirtualClock(start)
	vc.AdvanceTo(start.Add(-time.Hour))
	assert.True(t, vc.Now().Equal(start))
}

func TestSleepUntilReturnsImmediatelyForPastDeadline(t *testing.T) {
	vc := NewVirtualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	err := vc.SleepUntil(context.Background(), vc.Now().Add(-time.Minute))
	assert.NoError(t, err)
}

func TestSleepUntilWakesOnAdvance(t *testing.T) {
	vc := NewVirtualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	done := make(chan error, 1)
	go func() {
		done <- vc.SleepUntil(context.Background(), vc.Now().Add(time.Minute))
	}()

	select {
	case <-done:
		t.Fatal("SleepUntil returned before the deadline was reached")
	case <-time.After(20 * time.Millisecond):
	}

	vc.Advance(2 * time.Minute)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("SleepUntil did not wake after Advance")
	}
}

func TestSleepUntilHonorsContextCancellation(t *testing.T) {
	vc := NewVirtualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- vc.SleepUntil(ctx, vc.Now().Add(time.Hour))
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("SleepUntil did not honor cancellation")
	}
}

func TestVirtualClockWakesWaitersInDeadlineOrder(t *testing.T) {
	vc := NewVirtualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup

	wait := func(label string, d time.Duration) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = vc.SleepUntil(context.Background(), vc.Now().Add(d))
			mu.Lock()
			order = append(order, label)
			mu.Unlock()
		}()
	}
	wait("late", 3*time.Minute)
	wait("early", 1*time.Minute)
	wait("mid", 2*time.Minute)
	time.Sleep(20 * time.Millisecond) // let goroutines register their waiters

	vc.Advance(4 * time.Minute)
	wg.Wait()

	assert.Equal(t, []string{"early", "mid", "late"}, order)
}

func TestTimerServiceArmAtFiresOnAdvance(t *testing.T) {
	vc := NewVirtualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := NewTimerService(vc)
	var fired atomicBool

	svc.ArmAt(context.Background(), vc.Now().Add(time.Minute), func() { fired.set(true) })
	vc.Advance(2 * time.Minute)
	svc.Wait()

	assert.True(t, fired.get())
}

func TestTimerServiceCancelBeforeFireSuppressesCallback(t *testing.T) {
	vc := NewVirtualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := NewTimerService(vc)
	var fired atomicBool

	h := svc.ArmAt(context.Background(), vc.Now().Add(time.Minute), func() { fired.set(true) })
	h.Cancel()
	vc.Advance(2 * time.Minute)
	svc.Wait()

	assert.False(t, fired.get())
}

func TestTimerServiceCancelAfterFireIsSafe(t *testing.T) {
	vc := NewVirtualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := NewTimerService(vc)
	var fired atomicBool

	h := svc.ArmAt(context.Background(), vc.Now().Add(time.Minute), func() { fired.set(true) })
	vc.Advance(2 * time.Minute)
	svc.Wait()
	require.True(t, fired.get())

	assert.NotPanics(t, func() { h.Cancel() })
}

type atomicBool struct {
	mu sync.Mutex
	v  bool
}

func (a *atomicBool) set(v bool) {
	a.mu.Lock()
	a.v = v
	a.mu.Unlock()
}

func (a *atomicBool) get() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.v
}
