package coordinator

import (
	"time"

	"alarmhost/internal/alarmerr"
	"alarmhost/internal/eventbus"
	"alarmhost/internal/model"
	"alarmhost/internal/scheduler"
	"alarmhost/internal/statemachine"
)

// runScript drives one slot through the ExecutionPipeline and, on final
// failure (fallback exhausted too), logs an alarmerr.ScriptExecution so
// the failure is observable beyond the discarded Outcome (spec.md §7).
// The alarm's own state is never reverted because of a script failure.
func (c *Coordinator) runScript(alarm *model.Alarm, slot model.SlotName, triggerKind model.TriggerKind, snoozeCount int) {
	out := c.pipeline.Run(c.ctx, alarm, c.defaults, slot, triggerKind, snoozeCount)
	if out.Ran && !out.Success {
		c.log.Errorf("%v", alarmerr.ScriptExecution(alarm.ID, string(slot), out.LastErr))
	}
}

// scheduleAlarm implements spec.md §4.2 "Timer arming" plus the
// "Past-trigger scheduling" edge policy, and must be called with h.mu
// held by the caller's critical section (cancel, persist, re-arm).
//
// If skip_next is set, the computed candidate already accounts for it
// (NextTriggerSkipping); skip_next itself is cleared at emission time by
// fireMain, not here (spec.md §4.2 step 4).
func (c *Coordinator) scheduleAlarm(h *alarmHandle) {
	alarm := h.alarm
	if !alarm.Enabled {
		return
	}
	hour, minute, ok := model.ParseTimeOfDay(alarm.Time)
	if !ok {
		return
	}

	now := c.clock.Now()
	var candidate time.Time
	var found bool
	if alarm.SkipNext {
		candidate, found = scheduler.NextTriggerSkipping(now, hour, minute, alarm.Days, c.loc)
	} else {
		candidate, found = scheduler.NextTrigger(now, hour, minute, alarm.Days, c.loc)
	}
	if !found {
		return
	}

	if !candidate.After(now) {
		// Past-trigger scheduling: never arm a timer at or before now.
		c.fireMain(h)
		return
	}

	h.machine.SetNextTriggerAt(&candidate)

	if alarm.PreAlarmDurationMin > 0 {
		preAt := candidate.Add(-time.Duration(alarm.PreAlarmDurationMin) * time.Minute)
		if preAt.After(now) {
			h.timers.Arm(c.ctx, c.timers, scheduler.KindPreAlarm, preAt, func() { c.firePreAlarm(h) })
		}
	}
	h.timers.Arm(c.ctx, c.timers, scheduler.KindMain, candidate, func() { c.fireMain(h) })
}

// firePreAlarm drives Armed -> PreAlarm and runs the pre_alarm script.
func (c *Coordinator) firePreAlarm(h *alarmHandle) {
	h.mu.Lock()
	if h.machine.State() != model.StateArmed {
		h.mu.Unlock()
		return
	}
	alarm := h.alarm
	err := h.machine.Transition(model.StatePreAlarm, statemachine.TransitionOpts{Now: c.clock.Now()})
	h.mu.Unlock()
	if err != nil {
		return
	}

	c.publish(eventbus.KindPreAlarm, alarm, h.machine.Snapshot())
	c.runScript(&alarm, model.SlotPreAlarm, model.TriggerScheduled, 0)
}

// fireMain drives Armed/PreAlarm -> Ringing, applying the duplicate-fire
// guard of spec.md §4.2 (exempting ManualTest, per spec.md's resolution
// of the corresponding Open Question), clears skip_next at the moment of
// emission, arms AutoDismiss, and runs the alarm script.
func (c *Coordinator) fireMain(h *alarmHandle) {
	c.fireRinging(h, model.TriggerScheduled, 0)
}

// fireMissed drives a recovered alarm straight to Ringing with
// trigger_kind=MissedRecovery and emits Missed before Triggered (spec.md
// §4.4 step 5, §8 S4).
func (c *Coordinator) fireMissed(h *alarmHandle, missedBy time.Duration) {
	h.mu.Lock()
	alarm := h.alarm
	h.mu.Unlock()

	c.publishMissed(alarm, missedBy)
	c.fireRinging(h, model.TriggerMissedRecover, 0)
}

func (c *Coordinator) fireRinging(h *alarmHandle, kind model.TriggerKind, preSnoozeCount int) {
	h.mu.Lock()
	state := h.machine.State()
	if state != model.StateArmed && state != model.StatePreAlarm {
		h.mu.Unlock()
		return
	}

	if kind != model.TriggerManualTest {
		if last := h.machine.Snapshot().LastTriggered; last != nil {
			if c.clock.Now().Sub(*last) < scheduler.DuplicateFireWindow {
				h.mu.Unlock()
				return
			}
		}
	}

	alarm := h.alarm
	if alarm.SkipNext {
		alarm.SkipNext = false
		h.alarm.SkipNext = false
	}

	h.timers.Cancel(scheduler.KindMain)
	h.timers.Cancel(scheduler.KindPreAlarm)

	err := h.machine.Transition(model.StateRinging, statemachine.TransitionOpts{Now: c.clock.Now(), TriggerKind: kind})
	rt := h.machine.Snapshot()
	h.mu.Unlock()
	if err != nil {
		return
	}

	if err := c.store.UpdateAlarm(alarm); err != nil {
		c.log.Errorf("fireRinging: persist alarm %s: %v", alarm.ID, err)
	}
	if err := c.store.SaveRuntimeState(alarm.ID, rt); err != nil {
		c.log.Errorf("fireRinging: persist runtime state %s: %v", alarm.ID, err)
	}

	c.armAutoDismiss(h, alarm)
	c.publish(eventbus.KindTriggered, alarm, rt)
	c.runScript(&alarm, model.SlotAlarm, kind, rt.SnoozeCount)
}

func (c *Coordinator) armAutoDismiss(h *alarmHandle, alarm model.Alarm) {
	at := c.clock.Now().Add(time.Duration(alarm.AutoDismissTimeoutMin) * time.Minute)
	h.mu.Lock()
	h.timers.Arm(c.ctx, c.timers, scheduler.KindAutoDismiss, at, func() { c.fireAutoDismiss(h) })
	h.mu.Unlock()
}

// fireAutoDismiss implements spec.md §4.4 AutoDismiss timeout: Ringing ->
// AutoDismissed, post_alarm runs, then one_time disables or the alarm
// re-arms.
func (c *Coordinator) fireAutoDismiss(h *alarmHandle) {
	h.mu.Lock()
	if h.machine.State() != model.StateRinging {
		h.mu.Unlock()
		return
	}
	alarm := h.alarm
	err := h.machine.Transition(model.StateAutoDismissed, statemachine.TransitionOpts{Now: c.clock.Now()})
	rt := h.machine.Snapshot()
	h.mu.Unlock()
	if err != nil {
		return
	}

	if err := c.store.SaveRuntimeState(alarm.ID, rt); err != nil {
		c.log.Errorf("fireAutoDismiss: persist runtime state %s: %v", alarm.ID, err)
	}
	c.publish(eventbus.KindAutoDismissed, alarm, rt)
	c.runScript(&alarm, model.SlotPostAlarm, rt.CurrentTriggerKind, rt.SnoozeCount)

	c.rearmOrDisable(h, alarm)
}

// rearmOrDisable implements the one_time/else branch shared by dismiss
// and auto-dismiss.
func (c *Coordinator) rearmOrDisable(h *alarmHandle, alarm model.Alarm) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if alarm.OneTime {
		alarm.Enabled = false
		h.alarm = alarm
		if err := c.store.UpdateAlarm(alarm); err != nil {
			c.log.Errorf("rearmOrDisable: persist alarm %s: %v", alarm.ID, err)
		}
		_ = h.machine.Transition(model.StateDisabled, statemachine.TransitionOpts{Now: c.clock.Now()})
		c.publish(eventbus.KindDisarmed, alarm, h.machine.Snapshot())
		return
	}

	h.alarm = alarm
	_ = h.machine.Transition(model.StateArmed, statemachine.TransitionOpts{Now: c.clock.Now()})
	c.scheduleAlarm(h)
}

// armSnoozeEnd arms the SnoozeEnd timer at `at`.
func (c *Coordinator) armSnoozeEnd(h *alarmHandle, at time.Time) {
	h.mu.Lock()
	h.timers.Arm(c.ctx, c.timers, scheduler.KindSnoozeEnd, at, func() { c.fireSnoozeEnd(h) })
	h.mu.Unlock()
}

// fireSnoozeEnd drives Snoozed -> Ringing again, re-arming AutoDismiss
// (spec.md §4.2 "When SnoozeEnd fires").
func (c *Coordinator) fireSnoozeEnd(h *alarmHandle) {
	h.mu.Lock()
	if h.machine.State() != model.StateSnoozed {
		h.mu.Unlock()
		return
	}
	alarm := h.alarm
	kind := h.machine.Snapshot().CurrentTriggerKind
	err := h.machine.Transition(model.StateRinging, statemachine.TransitionOpts{Now: c.clock.Now(), TriggerKind: kind})
	rt := h.machine.Snapshot()
	h.mu.Unlock()
	if err != nil {
		return
	}

	if err := c.store.SaveRuntimeState(alarm.ID, rt); err != nil {
		c.log.Errorf("fireSnoozeEnd: persist runtime state %s: %v", alarm.ID, err)
	}
	c.armAutoDismiss(h, alarm)
	c.publish(eventbus.KindTriggered, alarm, rt)
	c.runScript(&alarm, model.SlotAlarm, kind, rt.SnoozeCount)
}

// publish fills the common event envelope from alarm+runtime state.
func (c *Coordinator) publish(kind eventbus.Kind, alarm model.Alarm, rt model.RuntimeState) {
	c.bus.Publish(eventbus.Event{
		Kind:        kind,
		Timestamp:   c.clock.Now(),
		AlarmID:     alarm.ID,
		AlarmName:   alarm.Name,
		AlarmTime:   alarm.Time,
		AlarmState:  string(rt.State),
		SnoozeCount: rt.SnoozeCount,
		IsOneTime:   alarm.OneTime,
		TriggerKind: string(rt.CurrentTriggerKind),
	})
}

func (c *Coordinator) publishMissed(alarm model.Alarm, missedBy time.Duration) {
	c.bus.Publish(eventbus.Event{
		Kind:            eventbus.KindMissed,
		Timestamp:       c.clock.Now(),
		AlarmID:         alarm.ID,
		AlarmName:       alarm.Name,
		AlarmTime:       alarm.Time,
		IsOneTime:       alarm.OneTime,
		TriggerKind:     string(model.TriggerMissedRecover),
		MissedBySeconds: int(missedBy.Seconds()),
	})
}
