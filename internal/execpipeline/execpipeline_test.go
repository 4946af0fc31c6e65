package execpipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alarmhost/internal/alarmlog"
	"alarmhost/internal/eventbus"
	"alarmhost/internal/model"
	"alarmhost/internal/scriptrunner"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	// fail reports whether routine should fail on its nth (0-indexed) call.
	fail func(routine string, call int) bool
}

func (f *fakeRunner) Run(ctx context.Context, routine string, payload scriptrunner.Context) error {
	f.mu.Lock()
	f.calls = append(f.calls, routine)
	n := 0
	for _, c := range f.calls {
		if c == routine {
			n++
		}
	}
	f.mu.Unlock()
	if f.fail != nil && f.fail(routine, n-1) {
		return errors.New("routine failed")
	}
	return nil
}

func newAlarm() *model.Alarm {
	return &model.Alarm{
		ID: "a1", Name: "wake", Time: "06:30", Enabled: true,
		Days:             model.NewDaySet(model.Monday),
		ScriptTimeoutS:   1,
		ScriptRetryCount: 2,
		Scripts:          model.ScriptSlots{Alarm: "routine.alarm", Fallback: "routine.fallback"},
	}
}

func TestRunNoOpWhenSlotUnset(t *testing.T) {
	runner := &fakeRunner{}
	p := New(runner, eventbus.New(), alarmlog.NewRecording())
	alarm := newAlarm()
	alarm.Scripts.OnArm = ""

	out := p.Run(context.Background(), alarm, nil, model.SlotOnArm, model.TriggerScheduled, 0)
	assert.False(t, out.Ran)
	assert.True(t, out.Success)
	assert.Empty(t, runner.calls)
}

func TestRunSucceedsFirstAttempt(t *testing.T) {
	runner := &fakeRunner{}
	p := New(runner, eventbus.New(), alarmlog.NewRecording())
	alarm := newAlarm()

	out := p.Run(context.Background(), alarm, nil, model.SlotAlarm, model.TriggerScheduled, 0)
	assert.True(t, out.Ran)
	assert.True(t, out.Success)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, []string{"routine.alarm"}, runner.calls)
}

func TestRunRetriesThenSucceeds(t *testing.T) {
	runner := &fakeRunner{fail: func(routine string, call int) bool {
		return routine == "routine.alarm" && call < 2
	}}
	p := New(runner, eventbus.New(), alarmlog.NewRecording())
	alarm := newAlarm()

	out := p.Run(context.Background(), alarm, nil, model.SlotAlarm, model.TriggerScheduled, 0)
	assert.True(t, out.Success)
	assert.Equal(t, 3, out.Attempts)
}

func TestRunFallsBackOnceAfterExhaustion(t *testing.T) {
	runner := &fakeRunner{fail: func(routine string, call int) bool {
		return routine == "routine.alarm"
	}}
	bus := eventbus.New()
	var events []eventbus.Event
	bus.Subscribe(func(ev eventbus.Event) { events = append(events, ev) })

	p := New(runner, bus, alarmlog.NewRecording())
	alarm := newAlarm()

	out := p.Run(context.Background(), alarm, nil, model.SlotAlarm, model.TriggerScheduled, 0)
	require.True(t, out.Ran)
	assert.True(t, out.Success, "fallback should have succeeded")

	var sawScriptFailed bool
	for _, ev := range events {
		if ev.Kind == eventbus.KindScriptFailed {
			sawScriptFailed = true
			assert.Equal(t, string(model.SlotAlarm), ev.Slot)
		}
	}
	assert.True(t, sawScriptFailed)
	assert.Contains(t, runner.calls, "routine.fallback")
}

func TestRunFallbackItselfFailing(t *testing.T) {
	runner := &fakeRunner{fail: func(routine string, call int) bool { return true }}
	p := New(runner, eventbus.New(), alarmlog.NewRecording())
	alarm := newAlarm()

	out := p.Run(context.Background(), alarm, nil, model.SlotAlarm, model.TriggerScheduled, 0)
	assert.True(t, out.Ran)
	assert.False(t, out.Success)
	assert.Error(t, out.LastErr)
}

func TestRunUsesDeviceDefaultsWhenOptedIn(t *testing.T) {
	runner := &fakeRunner{}
	p := New(runner, eventbus.New(), alarmlog.NewRecording())
	alarm := newAlarm()
	alarm.Scripts.OnSnooze = ""
	alarm.UseDeviceDefaults = true
	defaults := &model.DeviceDefaults{Scripts: model.ScriptSlots{OnSnooze: "defaults.on_snooze"}}

	out := p.Run(context.Background(), alarm, defaults, model.SlotOnSnooze, model.TriggerScheduled, 1)
	assert.True(t, out.Ran)
	assert.Contains(t, runner.calls, "defaults.on_snooze")
}

// TestRunUsesDeviceDefaultRetryCount proves ResolvedScriptRetryCount's
// fallback actually reaches the pipeline's retry loop: the alarm opts
// into device defaults with its own retry count left at the zero
// sentinel, so the device default's higher budget is what governs how
// many times a failing attempt is retried.
func TestRunUsesDeviceDefaultRetryCount(t *testing.T) {
	runner := &fakeRunner{fail: func(routine string, call int) bool {
		return routine == "routine.alarm" && call < 3
	}}
	p := New(runner, eventbus.New(), alarmlog.NewRecording())
	alarm := newAlarm()
	alarm.ScriptRetryCount = 0
	alarm.UseDeviceDefaults = true
	defaults := &model.DeviceDefaults{ScriptRetryCount: 3}

	out := p.Run(context.Background(), alarm, defaults, model.SlotAlarm, model.TriggerScheduled, 0)
	assert.True(t, out.Success)
	assert.Equal(t, 4, out.Attempts)
}

// TestRunUsesDeviceDefaultTimeout proves ResolvedScriptTimeoutS's
// fallback reaches the per-attempt context deadline: with the alarm's
// own timeout at the zero sentinel and a device default too short for
// the routine to return in time, the attempt is canceled.
func TestRunUsesDeviceDefaultTimeout(t *testing.T) {
	blocked := make(chan struct{})
	runner := &fakeRunner{}
	p := New(&blockingRunner{inner: runner, block: blocked}, eventbus.New(), alarmlog.NewRecording())
	alarm := newAlarm()
	alarm.ScriptTimeoutS = 0
	alarm.ScriptRetryCount = 0
	alarm.UseDeviceDefaults = true
	defaults := &model.DeviceDefaults{ScriptTimeoutS: 1}

	out := p.Run(context.Background(), alarm, defaults, model.SlotAlarm, model.TriggerScheduled, 0)
	close(blocked)
	assert.False(t, out.Success)
	assert.Error(t, out.LastErr)
}

// blockingRunner wraps a Runner but blocks until either its context is
// canceled (the timeout under test) or the test releases it, isolating
// this test from the inner runner's own pass/fail bookkeeping.
type blockingRunner struct {
	inner *fakeRunner
	block chan struct{}
}

func (b *blockingRunner) Run(ctx context.Context, routine string, payload scriptrunner.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.block:
		return b.inner.Run(ctx, routine, payload)
	}
}
