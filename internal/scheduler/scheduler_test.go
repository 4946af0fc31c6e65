package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alarmhost/internal/clock"
	"alarmhost/internal/model"
)

func mustLoc(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	return loc
}

func TestNextTriggerPicksEarliestFutureDay(t *testing.T) {
	loc := mustLoc(t)
	// Friday 2026-07-31 07:00
	now := time.Date(2026, 7, 31, 7, 0, 0, 0, loc)
	days := model.NewDaySet(model.Monday, model.Wednesday, model.Friday)

	got, ok := NextTrigger(now, 6, 30, days, loc)
	require.True(t, ok)
	// 06:30 already passed today (Friday), so next is Monday 2026-08-03.
	want := time.Date(2026, 8, 3, 6, 30, 0, 0, loc)
	assert.True(t, got.Equal(want), "got %v want %v", got, want)
}

func TestNextTriggerSameDayIfStillFuture(t *testing.T) {
	loc := mustLoc(t)
	now := time.Date(2026, 7, 31, 5, 0, 0, 0, loc)
	days := model.NewDaySet(model.Friday)

	got, ok := NextTrigger(now, 6, 30, days, loc)
	require.True(t, ok)
	want := time.Date(2026, 7, 31, 6, 30, 0, 0, loc)
	assert.True(t, got.Equal(want))
}

func TestNextTriggerEmptyDaysNotFound(t *testing.T) {
	loc := mustLoc(t)
	_, ok := NextTrigger(time.Now(), 6, 0, 0, loc)
	assert.False(t, ok)
}

func TestNextTriggerSkippingAdvancesOneOccurrence(t *testing.T) {
	loc := mustLoc(t)
	now := time.Date(2026, 7, 31, 5, 0, 0, 0, loc) // Friday
	days := model.NewDaySet(model.Friday)

	first, ok := NextTrigger(now, 6, 30, days, loc)
	require.True(t, ok)

	skipped, ok := NextTriggerSkipping(now, 6, 30, days, loc)
	require.True(t, ok)
	assert.True(t, skipped.After(first))
	// with only Friday armed, skipping one occurrence lands a week later
	assert.True(t, skipped.Equal(first.AddDate(0, 0, 7)))
}

func TestMostRecentPastFindsYesterday(t *testing.T) {
	loc := mustLoc(t)
	now := time.Date(2026, 7, 31, 5, 0, 0, 0, loc) // Friday 05:00
	days := model.NewDaySet(model.Thursday)

	past, ok := MostRecentPast(now, 6, 30, days, loc)
	require.True(t, ok)
	want := time.Date(2026, 7, 30, 6, 30, 0, 0, loc)
	assert.True(t, past.Equal(want))
}

func TestMostRecentPastLooksBackAcrossTheWeek(t *testing.T) {
	loc := mustLoc(t)
	now := time.Date(2026, 7, 31, 5, 0, 0, 0, loc) // Friday 05:00
	days := model.NewDaySet(model.Saturday)

	past, ok := MostRecentPast(now, 6, 30, days, loc)
	require.True(t, ok)
	// the previous Saturday, six days back
	want := time.Date(2026, 7, 25, 6, 30, 0, 0, loc)
	assert.True(t, past.Equal(want))
}

// DST spring-forward: Europe/Berlin jumps 02:00 -> 03:00 on the last
// Sunday of March. A 02:30 alarm on that day moves forward to the first
// valid local time, per spec.md's documented DST handling.
func TestNextTriggerSpringForwardGap(t *testing.T) {
	loc := mustLoc(t)
	now := time.Date(2026, 3, 28, 0, 0, 0, 0, loc) // the DST-transition Saturday->Sunday week
	days := model.NewDaySet(model.Sunday)

	got, ok := NextTrigger(now, 2, 30, days, loc)
	require.True(t, ok)
	assert.True(t, got.After(now))
	// time.Date never panics or errors on a nonexistent wall-clock time;
	// it normalizes into a valid instant.
	assert.NotEqual(t, 2, got.In(loc).Hour()," gap time must be normalized away from 02:30")
}

func TestHandlesArmCancelIdempotent(t *testing.T) {
	vc := clock.NewVirtualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := clock.NewTimerService(vc)
	h := NewHandles()
	ctx := context.Background()

	var mu sync.Mutex
	fired := 0
	h.Arm(ctx, svc, KindMain, vc.Now().Add(time.Minute), func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	assert.True(t, h.Armed(KindMain))

	h.Cancel(KindMain)
	assert.False(t, h.Armed(KindMain))
	h.Cancel(KindMain) // idempotent, no panic

	vc.Advance(2 * time.Minute)
	svc.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, fired, "cancelled timer must not fire")
}

func TestHandlesArmReplacesPrior(t *testing.T) {
	vc := clock.NewVirtualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := clock.NewTimerService(vc)
	h := NewHandles()
	ctx := context.Background()

	var mu sync.Mutex
	var lastFired string
	h.Arm(ctx, svc, KindMain, vc.Now().Add(time.Minute), func() {
		mu.Lock()
		lastFired = "first"
		mu.Unlock()
	})
	h.Arm(ctx, svc, KindMain, vc.Now().Add(2*time.Minute), func() {
		mu.Lock()
		lastFired = "second"
		mu.Unlock()
	})

	vc.Advance(3 * time.Minute)
	svc.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "second", lastFired)
}
