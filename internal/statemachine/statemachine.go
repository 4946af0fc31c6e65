// Package statemachine implements the per-alarm finite state machine:
// guarded transitions over model.State, runtime counters, and the
// per-alarm serialization spec.md §5 requires. The transition table is a
// static lookup, not runtime attribute dispatch (spec.md design notes).
package statemachine

import (
	"sync"
	"time"

	"alarmhost/internal/alarmerr"
	"alarmhost/internal/model"
)

// transitions is the closed table of valid (from -> to) moves. Anything
// not listed here is rejected unless the caller passes Force (reserved
// for startup recovery, spec.md §4.1).
var transitions = map[model.State]map[model.State]bool{
	model.StateDisabled: {
		model.StateArmed: true,
	},
	model.StateArmed: {
		model.StateDisabled: true,
		model.StatePreAlarm: true,
		model.StateRinging:  true,
		model.StateMissed:   true,
	},
	model.StatePreAlarm: {
		model.StateRinging:  true,
		model.StateDisabled: true,
		model.StateMissed:   true,
	},
	model.StateRinging: {
		model.StateSnoozed:       true,
		model.StateDismissed:    true,
		model.StateAutoDismissed: true,
		model.StateDisabled:     true,
	},
	model.StateSnoozed: {
		model.StateRinging:  true,
		model.StateDismissed: true,
		model.StateDisabled: true,
	},
	model.StateDismissed: {
		model.StateArmed:    true,
		model.StateDisabled: true,
	},
	model.StateAutoDismissed: {
		model.StateArmed:    true,
		model.StateDisabled: true,
	},
	model.StateMissed: {
		model.StateArmed:    true,
		model.StateDisabled: true,
	},
}

// Allowed reports whether from -> to is a valid unforced transition.
func Allowed(from, to model.State) bool {
	return transitions[from][to]
}

// TransitionCallback is invoked after every successful transition with
// (old, new). A panic inside the callback is recovered and logged by the
// Machine; it never rolls back the transition (spec.md §4.1).
type TransitionCallback func(alarmID string, old, new model.State)

// Machine owns one alarm's RuntimeState and serializes all mutation to it
// behind a per-alarm mutex (spec.md §5 "state transitions ... are totally
// ordered by that alarm's mutex").
type Machine struct {
	mu       sync.Mutex
	alarmID  string
	rt       model.RuntimeState
	onTrans  TransitionCallback
	onPanic  func(alarmID string, recovered interface{})
}

// New creates a Machine for alarmID, seeded from an existing RuntimeState
// (as restored from the Store) or a zero-value one for a brand new alarm.
func New(alarmID string, rt model.RuntimeState, onTrans TransitionCallback, onPanic func(string, interface{})) *Machine {
	return &Machine{alarmID: alarmID, rt: rt, onTrans: onTrans, onPanic: onPanic}
}

// Snapshot returns a copy of the current RuntimeState.
func (m *Machine) Snapshot() model.RuntimeState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rt
}

// State returns the current state only.
func (m *Machine) State() model.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rt.State
}

// SetNextTriggerAt records the derived next-trigger instant for
// diagnostics (spec.md §3 RuntimeState.next_trigger_at). It has no effect
// on transition validity.
func (m *Machine) SetNextTriggerAt(t *time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rt.NextTriggerAt = t
}

// SetSnoozeEndAt records when the current snooze period ends, for the
// Coordinator to call immediately after a successful Transition to
// Snoozed (the duration is alarm-specific and not known to the machine).
func (m *Machine) SetSnoozeEndAt(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rt.SnoozeEndAt = &t
}

// TransitionOpts configures a single Transition call.
type TransitionOpts struct {
	// Force bypasses the transition table; reserved for startup recovery
	// (spec.md §4.1 "reserved for recovery").
	Force bool
	// TriggerKind is recorded when transitioning into Ringing.
	TriggerKind model.TriggerKind
	// Now is the instant to stamp on time-bearing fields; callers pass
	// their Clock's Now() so tests stay deterministic.
	Now time.Time
	// MaxSnoozeCount bounds SnoozeCount when transitioning into Snoozed
	// (spec.md I2, "snooze refused at cap").
	MaxSnoozeCount int
}

// Transition attempts to move the machine from its current state to to,
// applying the state-entry side effects of spec.md §4.1. Returns a
// StateConflictError if the move is not in the transition table (and
// Force is false), or if a Snoozed transition would exceed MaxSnoozeCount.
func (m *Machine) Transition(to model.State, opts TransitionOpts) error {
	m.mu.Lock()
	from := m.rt.State

	if !opts.Force && !Allowed(from, to) {
		m.mu.Unlock()
		return alarmerr.StateConflict(m.alarmID, "invalid transition %s -> %s", from, to)
	}

	if to == model.StateSnoozed && m.rt.SnoozeCount >= opts.MaxSnoozeCount {
		m.mu.Unlock()
		return alarmerr.StateConflict(m.alarmID, "snooze refused at cap (%d)", opts.MaxSnoozeCount)
	}

	m.applyEntry(to, opts)
	m.rt.State = to
	m.mu.Unlock()

	m.notify(from, to)
	return nil
}

// applyEntry performs the state-entry side effects of spec.md §4.1. Must
// be called with mu held.
func (m *Machine) applyEntry(to model.State, opts TransitionOpts) {
	now := opts.Now
	switch to {
	case model.StateRinging:
		m.rt.RingingStartedAt = &now
		m.rt.LastTriggered = &now
		m.rt.CurrentTriggerKind = opts.TriggerKind
	case model.StateSnoozed:
		m.rt.SnoozeCount++
		// SnoozeEndAt is set by the caller via SetSnoozeEndAt once the
		// snooze duration (alarm-specific, unknown to the machine) is
		// known; see coordinator.Coordinator.Snooze.
	case model.StatePreAlarm:
		m.rt.PreAlarmStartedAt = &now
	case model.StateArmed:
		m.resetTransient()
	default:
		if to.Terminal() || to == model.StateDisabled {
			m.resetTransient()
		}
	}
}

// resetTransient clears snooze count and transient timestamps, per
// spec.md §4.1 "-> Armed or any terminal".
func (m *Machine) resetTransient() {
	m.rt.SnoozeCount = 0
	m.rt.RingingStartedAt = nil
	m.rt.SnoozeEndAt = nil
	m.rt.CurrentTriggerKind = ""
}

func (m *Machine) notify(old, new model.State) {
	if m.onTrans == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil && m.onPanic != nil {
			m.onPanic(m.alarmID, r)
		}
	}()
	m.onTrans(m.alarmID, old, new)
}

