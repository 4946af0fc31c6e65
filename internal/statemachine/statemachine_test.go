package statemachine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alarmhost/internal/alarmerr"
	"alarmhost/internal/model"
)

func TestAllowed(t *testing.T) {
	assert.True(t, Allowed(model.StateDisabled, model.StateArmed))
	assert.True(t, Allowed(model.StateArmed, model.StateRinging))
	assert.True(t, Allowed(model.StateRinging, model.StateSnoozed))
	assert.True(t, Allowed(model.StateSnoozed, model.StateRinging))
	assert.False(t, Allowed(model.StateArmed, model.StateSnoozed))
	assert.False(t, Allowed(model.StateDisabled, model.StateRinging))
	assert.False(t, Allowed(model.StateDismissed, model.StateRinging))
}

func TestTransitionRejectsInvalidMove(t *testing.T) {
	m := New("a1", model.RuntimeState{State: model.StateDisabled}, nil, nil)
	err := m.Transition(model.StateRinging, TransitionOpts{Now: time.Now()})
	require.Error(t, err)
	assert.Equal(t, alarmerr.KindStateConflict, alarmerr.KindOf(err))
	assert.Equal(t, model.StateDisabled, m.State())
}

func TestTransitionAppliesEntrySideEffects(t *testing.T) {
	now := time.Date(2026, 7, 31, 6, 30, 0, 0, time.UTC)
	m := New("a1", model.RuntimeState{State: model.StateArmed}, nil, nil)

	require.NoError(t, m.Transition(model.StateRinging, TransitionOpts{Now: now, TriggerKind: model.TriggerScheduled}))
	snap := m.Snapshot()
	require.NotNil(t, snap.RingingStartedAt)
	assert.True(t, snap.RingingStartedAt.Equal(now))
	require.NotNil(t, snap.LastTriggered)
	assert.Equal(t, model.TriggerScheduled, snap.CurrentTriggerKind)
}

func TestSnoozeCapEnforced(t *testing.T) {
	m := New("a1", model.RuntimeState{State: model.StateRinging, SnoozeCount: 2}, nil, nil)
	err := m.Transition(model.StateSnoozed, TransitionOpts{Now: time.Now(), MaxSnoozeCount: 2})
	require.Error(t, err)
	assert.Equal(t, alarmerr.KindStateConflict, alarmerr.KindOf(err))
	assert.Equal(t, 2, m.Snapshot().SnoozeCount)
}

func TestSnoozeIncrementsUnderCap(t *testing.T) {
	m := New("a1", model.RuntimeState{State: model.StateRinging, SnoozeCount: 1}, nil, nil)
	require.NoError(t, m.Transition(model.StateSnoozed, TransitionOpts{Now: time.Now(), MaxSnoozeCount: 5}))
	assert.Equal(t, 2, m.Snapshot().SnoozeCount)
}

func TestResetTransientOnArmed(t *testing.T) {
	rt := model.RuntimeState{State: model.StateDismissed, SnoozeCount: 3, CurrentTriggerKind: model.TriggerScheduled}
	m := New("a1", rt, nil, nil)
	require.NoError(t, m.Transition(model.StateArmed, TransitionOpts{Now: time.Now()}))
	snap := m.Snapshot()
	assert.Equal(t, 0, snap.SnoozeCount)
	assert.Empty(t, snap.CurrentTriggerKind)
	assert.Nil(t, snap.RingingStartedAt)
}

func TestNotifyCallbackPanicRecovered(t *testing.T) {
	var panicked bool
	onPanic := func(alarmID string, recovered interface{}) { panicked = true }
	onTrans := func(alarmID string, old, new model.State) { panic("boom") }

	m := New("a1", model.RuntimeState{State: model.StateDisabled}, onTrans, onPanic)
	require.NoError(t, m.Transition(model.StateArmed, TransitionOpts{Now: time.Now()}))
	assert.True(t, panicked)
	assert.Equal(t, model.StateArmed, m.State())
}

func TestSetNextTriggerAtAndSnoozeEndAt(t *testing.T) {
	m := New("a1", model.RuntimeState{State: model.StateArmed}, nil, nil)
	next := time.Now().Add(time.Hour)
	m.SetNextTriggerAt(&next)
	assert.True(t, m.Snapshot().NextTriggerAt.Equal(next))

	end := time.Now().Add(9 * time.Minute)
	m.SetSnoozeEndAt(end)
	assert.True(t, m.Snapshot().SnoozeEndAt.Equal(end))
}

func TestForceBypassesTable(t *testing.T) {
	m := New("a1", model.RuntimeState{State: model.StateRinging}, nil, nil)
	require.NoError(t, m.Transition(model.StateArmed, TransitionOpts{Now: time.Now(), Force: true}))
	assert.Equal(t, model.StateArmed, m.State())
}
