package coordinator

import (
	"time"

	"github.com/google/uuid"

	"alarmhost/internal/alarmerr"
	"alarmhost/internal/eventbus"
	"alarmhost/internal/model"
	"alarmhost/internal/scheduler"
	"alarmhost/internal/statemachine"
)

// checkAccepting returns a StateConflictError once Shutdown has run (or
// before Start); the Coordinator refuses new commands per spec.md §4.4
// shutdown step 1.
func (c *Coordinator) checkAccepting() error {
	if !c.accepting.Load() {
		return alarmerr.StateConflict("", "coordinator is shutting down or not yet started")
	}
	return nil
}

// AddAlarm validates, persists, and schedules a new alarm (spec.md §4.4
// add_alarm). If alarm.ID is empty, one is generated with google/uuid.
func (c *Coordinator) AddAlarm(alarm model.Alarm) (string, error) {
	if err := c.checkAccepting(); err != nil {
		return "", err
	}
	if alarm.ID == "" {
		alarm.ID = uuid.NewString()
	}
	alarm.Sanitize()
	if errs := alarm.Validate(); len(errs) > 0 {
		return "", alarmerr.ValidationFields(alarm.ID, errs)
	}

	if err := c.store.AddAlarm(alarm); err != nil {
		return "", alarmerr.Persistence(alarm.ID, err)
	}

	initial := model.StateDisabled
	if alarm.Enabled {
		initial = model.StateArmed
	}
	rt := model.RuntimeState{State: model.StateDisabled}
	h := newAlarmHandle(alarm, rt, c.onTransition, c.onTransitionPanic)

	c.mu.Lock()
	c.alarms[alarm.ID] = h
	c.mu.Unlock()

	h.mu.Lock()
	if initial == model.StateArmed {
		_ = h.machine.Transition(model.StateArmed, statemachine.TransitionOpts{Now: c.clock.Now()})
		c.scheduleAlarm(h)
	}
	snap := h.machine.Snapshot()
	h.mu.Unlock()

	if initial == model.StateArmed {
		c.publish(eventbus.KindArmed, alarm, snap)
	}
	return alarm.ID, nil
}

// UpdateAlarm implements spec.md §4.4 update_alarm: cancel timers,
// persist, re-evaluate state, and re-schedule, all within the per-alarm
// critical section. skip_next is left untouched (SPEC_FULL.md F.1).
func (c *Coordinator) UpdateAlarm(alarm model.Alarm) error {
	if err := c.checkAccepting(); err != nil {
		return err
	}
	h, ok := c.handle(alarm.ID)
	if !ok {
		return alarmerr.NotFound(alarm.ID)
	}

	alarm.Sanitize()
	if errs := alarm.Validate(); len(errs) > 0 {
		return alarmerr.ValidationFields(alarm.ID, errs)
	}

	h.mu.Lock()
	alarm.SkipNext = h.alarm.SkipNext
	h.timers.CancelAll()
	h.alarm = alarm
	if err := c.store.UpdateAlarm(alarm); err != nil {
		h.mu.Unlock()
		return alarmerr.Persistence(alarm.ID, err)
	}

	current := h.machine.State()
	switch {
	case alarm.Enabled && current == model.StateDisabled:
		_ = h.machine.Transition(model.StateArmed, statemachine.TransitionOpts{Now: c.clock.Now()})
		c.scheduleAlarm(h)
	case !alarm.Enabled && current != model.StateDisabled:
		_ = h.machine.Transition(model.StateDisabled, statemachine.TransitionOpts{Now: c.clock.Now()})
	case alarm.Enabled && current == model.StateArmed:
		c.scheduleAlarm(h)
	}
	h.mu.Unlock()
	return nil
}

// RemoveAlarm implements spec.md §4.4 remove_alarm: cancel timers, delete
// persisted data (satisfying P3). External entity de-registration is the
// host's responsibility (out of scope, spec.md §1).
func (c *Coordinator) RemoveAlarm(id string) error {
	if err := c.checkAccepting(); err != nil {
		return err
	}
	h, ok := c.handle(id)
	if !ok {
		return alarmerr.NotFound(id)
	}

	h.mu.Lock()
	h.timers.CancelAll()
	h.mu.Unlock()

	c.mu.Lock()
	delete(c.alarms, id)
	c.mu.Unlock()

	if err := c.store.RemoveAlarm(id); err != nil {
		return alarmerr.Persistence(id, err)
	}
	return nil
}

// SetEnabled implements spec.md §4.4 set_enabled: Disabled<->Armed,
// running on_arm or on_cancel.
func (c *Coordinator) SetEnabled(id string, enabled bool) error {
	if err := c.checkAccepting(); err != nil {
		return err
	}
	h, ok := c.handle(id)
	if !ok {
		return alarmerr.NotFound(id)
	}

	h.mu.Lock()
	current := h.machine.State()
	h.alarm.Enabled = enabled
	alarm := h.alarm
	if err := c.store.UpdateAlarm(alarm); err != nil {
		h.mu.Unlock()
		return alarmerr.Persistence(id, err)
	}

	var slot model.SlotName
	var evKind eventbus.Kind
	switch {
	case enabled && current == model.StateDisabled:
		_ = h.machine.Transition(model.StateArmed, statemachine.TransitionOpts{Now: c.clock.Now()})
		c.scheduleAlarm(h)
		slot, evKind = model.SlotOnArm, eventbus.KindArmed
	case !enabled && current != model.StateDisabled:
		h.timers.CancelAll()
		_ = h.machine.Transition(model.StateDisabled, statemachine.TransitionOpts{Now: c.clock.Now()})
		slot, evKind = model.SlotOnCancel, eventbus.KindDisarmed
	default:
		h.mu.Unlock()
		return nil
	}
	snap := h.machine.Snapshot()
	h.mu.Unlock()

	c.publish(evKind, alarm, snap)
	c.runScript(&alarm, slot, model.TriggerScheduled, snap.SnoozeCount)
	return nil
}

// SetTime implements spec.md §4.4 set_time: validate, reschedule if
// Armed, emit TimeChanged.
func (c *Coordinator) SetTime(id, hhmm string) error {
	if err := c.checkAccepting(); err != nil {
		return err
	}
	h, ok := c.handle(id)
	if !ok {
		return alarmerr.NotFound(id)
	}
	if errs := model.ValidateTime(hhmm); len(errs) > 0 {
		return alarmerr.ValidationFields(id, errs)
	}

	h.mu.Lock()
	oldTime := h.alarm.Time
	h.timers.CancelAll()
	h.alarm.Time = hhmm
	alarm := h.alarm
	if err := c.store.UpdateAlarm(alarm); err != nil {
		h.mu.Unlock()
		return alarmerr.Persistence(id, err)
	}
	if h.machine.State() == model.StateArmed {
		c.scheduleAlarm(h)
	}
	snap := h.machine.Snapshot()
	h.mu.Unlock()

	c.bus.Publish(eventbus.Event{
		Kind: eventbus.KindTimeChanged, Timestamp: c.clock.Now(),
		AlarmID: alarm.ID, AlarmName: alarm.Name, AlarmTime: alarm.Time,
		AlarmState: string(snap.State), SnoozeCount: snap.SnoozeCount,
		IsOneTime: alarm.OneTime, TriggerKind: string(snap.CurrentTriggerKind),
		OldTime: oldTime,
	})
	return nil
}

// SetDays implements spec.md §4.4 set_days: validate non-empty (for
// non-one-time alarms), reschedule.
func (c *Coordinator) SetDays(id string, days model.DaySet) error {
	if err := c.checkAccepting(); err != nil {
		return err
	}
	h, ok := c.handle(id)
	if !ok {
		return alarmerr.NotFound(id)
	}

	h.mu.Lock()
	oneTime := h.alarm.OneTime
	h.mu.Unlock()
	if errs := model.ValidateDays(days, oneTime); len(errs) > 0 {
		return alarmerr.ValidationFields(id, errs)
	}

	h.mu.Lock()
	h.timers.CancelAll()
	h.alarm.Days = days
	alarm := h.alarm
	if err := c.store.UpdateAlarm(alarm); err != nil {
		h.mu.Unlock()
		return alarmerr.Persistence(id, err)
	}
	if h.machine.State() == model.StateArmed {
		c.scheduleAlarm(h)
	}
	h.mu.Unlock()
	return nil
}

// Snooze implements spec.md §4.4 snooze: only from Ringing, refused at
// cap (spec.md S2). duration, if zero, defaults to the alarm's configured
// snooze_duration_min.
func (c *Coordinator) Snooze(id string, durationMin int) error {
	if err := c.checkAccepting(); err != nil {
		return err
	}
	h, ok := c.handle(id)
	if !ok {
		return alarmerr.NotFound(id)
	}

	h.mu.Lock()
	if h.machine.State() != model.StateRinging {
		h.mu.Unlock()
		return alarmerr.StateConflict(id, "cannot snooze: not ringing")
	}
	if durationMin <= 0 {
		durationMin = h.alarm.SnoozeDurationMin
	}
	alarm := h.alarm

	err := h.machine.Transition(model.StateSnoozed, statemachine.TransitionOpts{
		Now: c.clock.Now(), MaxSnoozeCount: alarm.MaxSnoozeCount,
	})
	if err != nil {
		h.mu.Unlock()
		return err
	}
	h.timers.Cancel(scheduler.KindAutoDismiss)
	snoozeEnd := c.clock.Now().Add(time.Duration(durationMin) * time.Minute)
	h.machine.SetSnoozeEndAt(snoozeEnd)
	h.timers.Arm(c.ctx, c.timers, scheduler.KindSnoozeEnd, snoozeEnd, func() { c.fireSnoozeEnd(h) })
	snap := h.machine.Snapshot()
	h.mu.Unlock()

	if err := c.store.SaveRuntimeState(id, snap); err != nil {
		c.log.Errorf("Snooze: persist runtime state %s: %v", id, err)
	}

	ev := eventbus.Event{
		Kind: eventbus.KindSnoozed, Timestamp: c.clock.Now(),
		AlarmID: alarm.ID, AlarmName: alarm.Name, AlarmTime: alarm.Time,
		AlarmState: string(snap.State), SnoozeCount: snap.SnoozeCount,
		IsOneTime: alarm.OneTime, TriggerKind: string(snap.CurrentTriggerKind),
		Duration: time.Duration(durationMin) * time.Minute,
	}
	c.bus.Publish(ev)
	c.runScript(&alarm, model.SlotOnSnooze, snap.CurrentTriggerKind, snap.SnoozeCount)
	return nil
}

// Dismiss implements spec.md §4.4 dismiss: from Ringing/Snoozed/PreAlarm,
// running on_dismiss and post_alarm, then one_time-disable or re-arm.
func (c *Coordinator) Dismiss(id string) error {
	if err := c.checkAccepting(); err != nil {
		return err
	}
	h, ok := c.handle(id)
	if !ok {
		return alarmerr.NotFound(id)
	}

	h.mu.Lock()
	state := h.machine.State()
	if state != model.StateRinging && state != model.StateSnoozed && state != model.StatePreAlarm {
		h.mu.Unlock()
		return alarmerr.StateConflict(id, "cannot dismiss from state %s", state)
	}
	alarm := h.alarm
	h.timers.Cancel(scheduler.KindAutoDismiss)
	h.timers.Cancel(scheduler.KindSnoozeEnd)
	err := h.machine.Transition(model.StateDismissed, statemachine.TransitionOpts{Now: c.clock.Now()})
	rt := h.machine.Snapshot()
	h.mu.Unlock()
	if err != nil {
		return err
	}

	if err := c.store.SaveRuntimeState(id, rt); err != nil {
		c.log.Errorf("Dismiss: persist runtime state %s: %v", id, err)
	}
	c.publish(eventbus.KindDismissed, alarm, rt)
	c.runScript(&alarm, model.SlotOnDismiss, rt.CurrentTriggerKind, rt.SnoozeCount)
	c.runScript(&alarm, model.SlotPostAlarm, rt.CurrentTriggerKind, rt.SnoozeCount)

	c.rearmOrDisable(h, alarm)
	return nil
}

// SkipNext implements spec.md §4.4 skip_next: sets skip_next, cancels
// pending timers, runs on_skip.
func (c *Coordinator) SkipNext(id string) error {
	if err := c.checkAccepting(); err != nil {
		return err
	}
	h, ok := c.handle(id)
	if !ok {
		return alarmerr.NotFound(id)
	}

	h.mu.Lock()
	h.alarm.SkipNext = true
	alarm := h.alarm
	h.timers.Cancel(scheduler.KindMain)
	h.timers.Cancel(scheduler.KindPreAlarm)
	if err := c.store.UpdateAlarm(alarm); err != nil {
		h.mu.Unlock()
		return alarmerr.Persistence(id, err)
	}
	if h.machine.State() == model.StateArmed {
		c.scheduleAlarm(h)
	}
	snap := h.machine.Snapshot()
	h.mu.Unlock()

	c.publish(eventbus.KindSkipped, alarm, snap)
	c.runScript(&alarm, model.SlotOnSkip, snap.CurrentTriggerKind, snap.SnoozeCount)
	return nil
}

// CancelSkip implements spec.md §4.4 cancel_skip: clears skip_next,
// reschedules.
func (c *Coordinator) CancelSkip(id string) error {
	if err := c.checkAccepting(); err != nil {
		return err
	}
	h, ok := c.handle(id)
	if !ok {
		return alarmerr.NotFound(id)
	}

	h.mu.Lock()
	h.alarm.SkipNext = false
	alarm := h.alarm
	h.timers.CancelAll()
	if err := c.store.UpdateAlarm(alarm); err != nil {
		h.mu.Unlock()
		return alarmerr.Persistence(id, err)
	}
	if h.machine.State() == model.StateArmed {
		c.scheduleAlarm(h)
	}
	h.mu.Unlock()
	return nil
}

// UpdateSettings persists new GlobalSettings and applies them to
// subsequent missed-alarm recovery scans. A changed WatchdogTimeoutS
// only takes effect for the HealthMonitor on the next Coordinator
// restart, since the ticker interval is fixed at Start.
func (c *Coordinator) UpdateSettings(settings model.GlobalSettings) error {
	if err := c.checkAccepting(); err != nil {
		return err
	}
	if err := c.store.UpdateSettings(settings); err != nil {
		return alarmerr.Persistence("", err)
	}
	c.setSettings(settings)
	return nil
}

// TestAlarm implements spec.md §4.4 test_alarm: drives to Ringing with
// trigger_kind=ManualTest only if not already active.
func (c *Coordinator) TestAlarm(id string) error {
	if err := c.checkAccepting(); err != nil {
		return err
	}
	h, ok := c.handle(id)
	if !ok {
		return alarmerr.NotFound(id)
	}

	h.mu.Lock()
	state := h.machine.State()
	h.mu.Unlock()
	if state == model.StateRinging || state == model.StateSnoozed || state == model.StatePreAlarm {
		return alarmerr.StateConflict(id, "alarm already active (state %s)", state)
	}

	c.fireRinging(h, model.TriggerManualTest, 0)
	return nil
}
