package coordinator

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"alarmhost/internal/alarmerr"
	"alarmhost/internal/model"
	"alarmhost/internal/scheduler"
	"alarmhost/internal/scriptrunner"
)

// CheckAlarms implements health.Checker: for every alarm, verify the
// timers implied by its current state are actually armed, self-healing
// by re-scheduling or re-driving the state forward where it safely can
// (spec.md §4.5). It never rolls back state; a mismatch it cannot repair
// is reported as an issue. It also verifies every configured script slot
// resolves to a routine the Runner recognizes.
func (c *Coordinator) CheckAlarms(now time.Time) []string {
	var issues []string
	for _, h := range c.snapshotHandles() {
		h.mu.Lock()
		state := h.machine.State()
		alarm := h.alarm
		hasMain := h.timers.Armed(scheduler.KindMain)
		hasSnoozeEnd := h.timers.Armed(scheduler.KindSnoozeEnd)
		hasAutoDismiss := h.timers.Armed(scheduler.KindAutoDismiss)
		h.mu.Unlock()

		switch state {
		case model.StateArmed:
			if alarm.Enabled && !hasMain {
				h.mu.Lock()
				c.scheduleAlarm(h)
				h.mu.Unlock()
				issues = append(issues, fmt.Sprintf("alarm %s: Armed with no Main timer, rescheduled", alarm.ID))
			}
		case model.StateSnoozed:
			if !hasSnoozeEnd {
				// fireSnoozeEnd re-locks h.mu itself; must not be
				// called while the lock above is still held.
				c.fireSnoozeEnd(h)
				issues = append(issues, fmt.Sprintf("alarm %s: Snoozed with no SnoozeEnd timer, driven to Ringing", alarm.ID))
			}
		case model.StateRinging:
			if !hasAutoDismiss {
				// armAutoDismiss re-locks h.mu itself, same as above.
				c.armAutoDismiss(h, alarm)
				issues = append(issues, fmt.Sprintf("alarm %s: Ringing with no AutoDismiss timer, re-armed", alarm.ID))
			}
		}

		issues = append(issues, c.checkScriptReferences(alarm)...)
	}
	return issues
}

// checkScriptReferences implements spec.md §4.5 "persistable entity
// references (script names) resolve": every non-empty script slot must
// name a routine the Runner recognizes. An unresolved reference is
// reported but never disables the alarm. Runners that don't implement
// scriptrunner.Resolver can't be probed and are silently skipped.
func (c *Coordinator) checkScriptReferences(alarm model.Alarm) []string {
	resolver, ok := c.pipeline.Runner().(scriptrunner.Resolver)
	if !ok {
		return nil
	}

	var issues []string
	for _, slot := range model.AllSlotNames {
		routine := model.ResolvedSlot(&alarm, c.defaults, slot)
		if routine == "" {
			continue
		}
		if !resolver.Resolve(routine) {
			issues = append(issues, fmt.Sprintf("alarm %s: slot %s references unresolved routine %q", alarm.ID, slot, routine))
		}
	}
	return issues
}

// alarmDiagnostic is the per-alarm shape of the diagnostics dump
// (SPEC_FULL.md D.1), structured for a human or downstream tool to
// inspect the live in-memory view alongside what's on disk.
type alarmDiagnostic struct {
	Alarm   model.Alarm        `yaml:"alarm"`
	Runtime model.RuntimeState `yaml:"runtime"`
}

// diagnosticsDoc is the top-level diagnostics document.
type diagnosticsDoc struct {
	GeneratedAt time.Time         `yaml:"generated_at"`
	Settings    model.GlobalSettings `yaml:"settings"`
	Alarms      []alarmDiagnostic `yaml:"alarms"`
	Health      healthDiagnostic  `yaml:"health"`
}

type healthDiagnostic struct {
	LastCheck time.Time `yaml:"last_check"`
	Healthy   bool      `yaml:"healthy"`
	Issues    []string  `yaml:"issues,omitempty"`
}

// Diagnostics renders the full in-memory state as YAML (SPEC_FULL.md
// D.1), for an operator or alarmctl to dump alongside the on-disk store.
func (c *Coordinator) Diagnostics() ([]byte, error) {
	report := c.Health()
	doc := diagnosticsDoc{
		GeneratedAt: c.clock.Now(),
		Settings:    c.getSettings(),
		Health: healthDiagnostic{
			LastCheck: report.LastCheck,
			Healthy:   report.Healthy,
			Issues:    report.Issues,
		},
	}

	for _, h := range c.snapshotHandles() {
		h.mu.Lock()
		doc.Alarms = append(doc.Alarms, alarmDiagnostic{
			Alarm:   h.alarm,
			Runtime: h.machine.Snapshot(),
		})
		h.mu.Unlock()
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, alarmerr.Internal("", err)
	}
	return out, nil
}
