// Package scheduler computes next-trigger instants for recurring weekday
// schedules and owns timer registration for the four timer kinds an alarm
// needs: Main, PreAlarm, SnoozeEnd and AutoDismiss (spec.md §4.2).
package scheduler

import (
	"context"
	"time"

	"alarmhost/internal/clock"
	"alarmhost/internal/model"
)

// DuplicateFireWindow is the idempotence defense against overlapping Main
// timers after recovery (spec.md §4.2 "Duplicate-fire guard").
const DuplicateFireWindow = 60 * time.Second

// NextTrigger computes the earliest instant, strictly after now, at which
// an alarm with the given local time-of-day and day set should fire. It
// returns ok=false if days is empty (no recurring occurrence exists).
//
// DST handling (spec.md §4.2 "DST / wall-clock jumps"): candidates are
// built with time.Date in loc. A time-of-day inside a spring-forward gap
// resolves to the zone transition, the first valid local time after it;
// a time-of-day that occurs twice on a fall-back day resolves to the
// earlier occurrence.
func NextTrigger(now time.Time, hour, minute int, days model.DaySet, loc *time.Location) (time.Time, bool) {
	if days.Empty() {
		return time.Time{}, false
	}
	for d := 0; d <= 7; d++ {
		day := now.AddDate(0, 0, d)
		candidate := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
		if candidate.Hour() != hour || candidate.Minute() != minute {
			// spring-forward gap: time.Date shifted past it by the gap size
			candidate, _ = candidate.ZoneBounds()
		} else if earlier := candidate.Add(-time.Hour); earlier.Hour() == hour && earlier.Minute() == minute {
			// fall-back overlap: time.Date picked the later occurrence
			candidate = earlier
		}
		if days.Has(model.FromTime(candidate.Weekday())) && candidate.After(now) {
			return candidate, true
		}
	}
	return time.Time{}, false
}

// NextTriggerSkipping computes NextTrigger, then re-computes starting one
// minute after the first candidate, per spec.md §4.2 step 4 ("If skip_next
// is true, compute the result as above, then recompute starting from
// candidate + 1 minute"). The caller clears skip_next at emission time,
// not here.
func NextTriggerSkipping(now time.Time, hour, minute int, days model.DaySet, loc *time.Location) (time.Time, bool) {
	first, ok := NextTrigger(now, hour, minute, days, loc)
	if !ok {
		return time.Time{}, false
	}
	return NextTrigger(first.Add(time.Minute), hour, minute, days, loc)
}

// MostRecentPast computes the most recent in-the-past candidate occurrence
// relative to now (spec.md §4.4 step 5, missed-alarm scan), looking back
// up to seven days. Returns ok=false only if days is empty; for any
// non-empty days an occurrence at or before now exists in that range.
func MostRecentPast(now time.Time, hour, minute int, days model.DaySet, loc *time.Location) (time.Time, bool) {
	if days.Empty() {
		return time.Time{}, false
	}
	for d := 0; d <= 7; d++ {
		day := now.AddDate(0, 0, -d)
		candidate := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
		if days.Has(model.FromTime(candidate.Weekday())) && !candidate.After(now) {
			return candidate, true
		}
	}
	return time.Time{}, false
}

// Kind identifies which of the four timer kinds a registration is for;
// invariant I3 requires at most one pending timer of each kind per alarm.
type Kind string

const (
	KindMain        Kind = "main"
	KindPreAlarm    Kind = "pre_alarm"
	KindSnoozeEnd   Kind = "snooze_end"
	KindAutoDismiss Kind = "auto_dismiss"
)

// Handles tracks the cancel handle for each of the four timer kinds
// currently armed for one alarm. A kind with no entry is not armed. Cancel is idempotent (spec.md §5).
type Handles struct {
	byKind map[Kind]clock.CancelHandle
}

// NewHandles creates an empty Handles set.
func NewHandles() *Handles {
	return &Handles{byKind: make(map[Kind]clock.CancelHandle)}
}

// Arm cancels any existing timer of kind and arms a new one via svc,
// enforcing I3 (exactly one pending timer of each kind).
func (h *Handles) Arm(ctx context.Context, svc *clock.TimerService, kind Kind, at time.Time, fn func()) {
	h.Cancel(kind)
	h.byKind[kind] = svc.ArmAt(ctx, at, fn)
}

// Armed reports whether a timer of kind is currently registered.
func (h *Handles) Armed(kind Kind) bool {
	_, ok := h.byKind[kind]
	return ok
}

// Cancel cancels the timer of kind if armed. Idempotent.
func (h *Handles) Cancel(kind Kind) {
	if existing, ok := h.byKind[kind]; ok && existing != nil {
		existing.Cancel()
	}
	delete(h.byKind, kind)
}

// CancelAll cancels every armed timer kind, used by the (cancel, persist,
// re-arm) critical section (spec.md §4.2 "Reschedule atomicity").
func (h *Handles) CancelAll() {
	for k := range h.byKind {
		h.Cancel(k)
	}
}
