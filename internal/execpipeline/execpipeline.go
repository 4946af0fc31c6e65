// Package execpipeline wraps scriptrunner.Runner with per-attempt
// timeout, bounded exponential-backoff retry, and fallback-slot
// invocation (spec.md §4.3).
package execpipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"alarmhost/internal/alarmlog"
	"alarmhost/internal/eventbus"
	"alarmhost/internal/model"
	"alarmhost/internal/scriptrunner"
)

// powersOfTwoBackOff implements backoff.BackOff with the exact 2^i second
// sequence spec.md §4.3 mandates (1s, 2s, 4s, ...), not the library's
// default jittered exponential curve, so retry timing stays deterministic
// and testable (spec.md S5).
type powersOfTwoBackOff struct {
	attempt int
}

func (b *powersOfTwoBackOff) NextBackOff() time.Duration {
	d := time.Duration(1<<uint(b.attempt)) * time.Second
	b.attempt++
	return d
}

func (b *powersOfTwoBackOff) Reset() {
	b.attempt = 0
}

// Pipeline runs scripts through timeout + retry + fallback.
type Pipeline struct {
	runner scriptrunner.Runner
	bus    *eventbus.Bus
	log    alarmlog.Logger
}

// New creates a Pipeline.
func New(runner scriptrunner.Runner, bus *eventbus.Bus, log alarmlog.Logger) *Pipeline {
	return &Pipeline{runner: runner, bus: bus, log: log}
}

// Runner exposes the underlying scriptrunner.Runner, so callers outside
// the pipeline (the coordinator's script-reference health check) can
// probe it for the optional scriptrunner.Resolver capability.
func (p *Pipeline) Runner() scriptrunner.Runner {
	return p.runner
}

// Outcome describes how a slot invocation (including any fallback)
// resolved, for the Coordinator to fold into an event.
type Outcome struct {
	Ran      bool // false if the slot was absent (no-op success)
	Success  bool
	Attempts int
	LastErr  error
}

// Run resolves the slot for alarm, invokes it with timeout+retry, and on
// exhaustion emits ScriptFailed and (unless slot is already fallback)
// recursively runs the fallback slot once (spec.md §4.3 step 3).
func (p *Pipeline) Run(ctx context.Context, alarm *model.Alarm, defaults *model.DeviceDefaults, slot model.SlotName, triggerKind model.TriggerKind, snoozeCount int) Outcome {
	routine := model.ResolvedSlot(alarm, defaults, slot)
	if routine == "" {
		return Outcome{Ran: false, Success: true}
	}

	timeoutS := model.ResolvedScriptTimeoutS(alarm, defaults)
	retryCount := model.ResolvedScriptRetryCount(alarm, defaults)
	payload := contextPayload(alarm, triggerKind, snoozeCount)

	attempts := 0
	var lastErr error
	op := func() error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutS)*time.Second)
		defer cancel()
		err := p.runner.Run(attemptCtx, routine, payload)
		if err != nil {
			p.log.Warnf("script %s (slot=%s alarm=%s) attempt %d failed: %v", routine, slot, alarm.ID, attempts-1, err)
			lastErr = err
		}
		return err
	}

	bo := backoff.WithMaxRetries(&powersOfTwoBackOff{}, uint64(retryCount))
	err := backoff.Retry(op, bo)

	if err == nil {
		return Outcome{Ran: true, Success: true, Attempts: attempts}
	}

	p.bus.Publish(eventbus.Event{
		Kind:      eventbus.KindScriptFailed,
		Timestamp: time.Now(),
		AlarmID:   alarm.ID,
		AlarmName: alarm.Name,
		AlarmTime: alarm.Time,
		Slot:      string(slot),
		Routine:   routine,
		Error:     err.Error(),
	})

	if slot != model.SlotFallback {
		if fb := model.ResolvedSlot(alarm, defaults, model.SlotFallback); fb != "" {
			fbOutcome := p.Run(ctx, alarm, defaults, model.SlotFallback, triggerKind, snoozeCount)
			attempts += fbOutcome.Attempts
			if fbOutcome.Success {
				return Outcome{Ran: true, Success: true, Attempts: attempts}
			}
			lastErr = fbOutcome.LastErr
		}
	}

	return Outcome{Ran: true, Success: false, Attempts: attempts, LastErr: lastErr}
}

func contextPayload(alarm *model.Alarm, triggerKind model.TriggerKind, snoozeCount int) scriptrunner.Context {
	var days []string
	for _, d := range model.AllWeekdays {
		if alarm.Days.Has(d) {
			days = append(days, d.String())
		}
	}
	return scriptrunner.Context{
		AlarmID:     alarm.ID,
		AlarmName:   alarm.Name,
		AlarmTime:   alarm.Time,
		TriggerType: string(triggerKind),
		SnoozeCount: snoozeCount,
		IsOneTime:   alarm.OneTime,
		Days:        days,
	}
}
