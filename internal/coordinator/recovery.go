package coordinator

import (
	"time"

	"alarmhost/internal/model"
	"alarmhost/internal/scheduler"
)

// sanitizeRuntimeState implements spec.md §4.4 step 3: any persisted
// state other than Armed/Disabled/Snoozed is non-durable and downgrades
// to Armed (if the alarm is enabled) or Disabled (otherwise).
func sanitizeRuntimeState(rt model.RuntimeState, alarm model.Alarm) model.RuntimeState {
	switch rt.State {
	case model.StateArmed, model.StateDisabled, model.StateSnoozed:
		return rt
	default:
		if alarm.Enabled {
			rt.State = model.StateArmed
		} else {
			rt.State = model.StateDisabled
		}
		rt.SnoozeCount = 0
		rt.RingingStartedAt = nil
		rt.SnoozeEndAt = nil
		rt.CurrentTriggerKind = ""
		return rt
	}
}

// recoverOne implements spec.md §4.4 steps 4-5 for one alarm: re-arm a
// persisted Snoozed alarm's SnoozeEnd timer (or drive it straight to
// Ringing if that deadline already passed), then, for an Armed alarm,
// scan for a missed occurrence within the grace period before falling
// back to normal scheduling.
func (c *Coordinator) recoverOne(h *alarmHandle, now time.Time) {
	h.mu.Lock()
	alarm := h.alarm
	state := h.machine.State()
	rt := h.machine.Snapshot()
	h.mu.Unlock()

	switch state {
	case model.StateSnoozed:
		if rt.SnoozeEndAt != nil && rt.SnoozeEndAt.After(now) {
			c.armSnoozeEnd(h, *rt.SnoozeEndAt)
		} else {
			c.fireSnoozeEnd(h)
		}
		return

	case model.StateArmed:
		if !alarm.Enabled {
			return
		}
		settings := c.getSettings()
		hour, minute, ok := model.ParseTimeOfDay(alarm.Time)
		if !ok {
			return
		}
		if past, found := scheduler.MostRecentPast(now, hour, minute, alarm.Days, c.loc); found {
			missedBy := now.Sub(past)
			grace := time.Duration(settings.MissedAlarmGracePeriodMin) * time.Minute
			if missedBy <= grace {
				switch settings.MissedAlarmAction {
				case model.MissedSkip:
					c.scheduleAlarm(h)
					return
				case model.MissedNotifyOnly:
					c.publishMissed(alarm, missedBy)
					c.scheduleAlarm(h)
					return
				default: // MissedTriggerAnyway
					c.fireMissed(h, missedBy)
					return
				}
			}
		}
		c.scheduleAlarm(h)

	case model.StateDisabled:
		// nothing to arm
	}
}
