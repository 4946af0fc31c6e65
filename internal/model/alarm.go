// Package model holds the persisted data types for alarmhost: Alarm
// configuration, RuntimeState, DeviceDefaults and GlobalSettings, along
// with their validation rules.
package model

import (
	"strings"
	"time"
	"unicode"
)

// Weekday is a day-of-week bit, Mon..Sun, independent of time.Weekday's
// Sunday-first numbering so the wire format reads naturally.
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// AllWeekdays lists every Weekday in order, handy for iteration.
var AllWeekdays = [7]Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

// ToTime converts a Weekday to the standard library's Sunday-first time.Weekday.
func (d Weekday) ToTime() time.Weekday {
	return time.Weekday((int(d) + 1) % 7)
}

// FromTime converts a standard library time.Weekday to a Weekday.
func FromTime(w time.Weekday) Weekday {
	return Weekday((int(w) + 6) % 7)
}

func (d Weekday) String() string {
	names := [...]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}
	if d < Monday || d > Sunday {
		return "Invalid"
	}
	return names[d]
}

// DaySet is a non-ordered subset of the week, stored as a bitmask.
type DaySet uint8

// NewDaySet builds a DaySet from individual weekdays.
func NewDaySet(days ...Weekday) DaySet {
	var s DaySet
	for _, d := range days {
		s |= 1 << uint(d)
	}
	return s
}

// Has reports whether d is a member of the set.
func (s DaySet) Has(d Weekday) bool {
	return s&(1<<uint(d)) != 0
}

// Empty reports whether the set has no days.
func (s DaySet) Empty() bool {
	return s == 0
}

// TriggerKind identifies why an alarm is ringing.
type TriggerKind string

const (
	TriggerScheduled     TriggerKind = "scheduled"
	TriggerManualTest    TriggerKind = "manual_test"
	TriggerMissedRecover TriggerKind = "missed_recovery"
)

// ScriptSlots are the nine named automation hooks an Alarm may reference.
type ScriptSlots struct {
	PreAlarm  string `json:"pre_alarm,omitempty"`
	Alarm     string `json:"alarm,omitempty"`
	PostAlarm string `json:"post_alarm,omitempty"`
	OnSnooze  string `json:"on_snooze,omitempty"`
	OnDismiss string `json:"on_dismiss,omitempty"`
	OnArm     string `json:"on_arm,omitempty"`
	OnCancel  string `json:"on_cancel,omitempty"`
	OnSkip    string `json:"on_skip,omitempty"`
	Fallback  string `json:"fallback,omitempty"`
}

// Slot returns the named slot's configured routine, empty if unset.
func (s ScriptSlots) Slot(name SlotName) string {
	switch name {
	case SlotPreAlarm:
		return s.PreAlarm
	case SlotAlarm:
		return s.Alarm
	case SlotPostAlarm:
		return s.PostAlarm
	case SlotOnSnooze:
		return s.OnSnooze
	case SlotOnDismiss:
		return s.OnDismiss
	case SlotOnArm:
		return s.OnArm
	case SlotOnCancel:
		return s.OnCancel
	case SlotOnSkip:
		return s.OnSkip
	case SlotFallback:
		return s.Fallback
	default:
		return ""
	}
}

// SlotName identifies one of the nine script slots.
type SlotName string

const (
	SlotPreAlarm  SlotName = "pre_alarm"
	SlotAlarm     SlotName = "alarm"
	SlotPostAlarm SlotName = "post_alarm"
	SlotOnSnooze  SlotName = "on_snooze"
	SlotOnDismiss SlotName = "on_dismiss"
	SlotOnArm     SlotName = "on_arm"
	SlotOnCancel  SlotName = "on_cancel"
	SlotOnSkip    SlotName = "on_skip"
	SlotFallback  SlotName = "fallback"
)

// AllSlotNames lists every script slot, handy for iteration (e.g.
// reference-resolution health checks).
var AllSlotNames = []SlotName{
	SlotPreAlarm, SlotAlarm, SlotPostAlarm, SlotOnSnooze, SlotOnDismiss,
	SlotOnArm, SlotOnCancel, SlotOnSkip, SlotFallback,
}

// Alarm is the persisted configuration of one alarm.
type Alarm struct {
	ID                    string      `json:"id"`
	Name                  string      `json:"name"`
	Time                  string      `json:"time"` // "HH:MM", 24h
	Enabled               bool        `json:"enabled"`
	Days                  DaySet      `json:"days"`
	OneTime               bool        `json:"one_time"`
	SkipNext              bool        `json:"skip_next"`
	SnoozeDurationMin      int         `json:"snooze_duration_min"`
	MaxSnoozeCount        int         `json:"max_snooze_count"`
	AutoDismissTimeoutMin int         `json:"auto_dismiss_timeout_min"`
	PreAlarmDurationMin   int         `json:"pre_alarm_duration_min"`
	UseDeviceDefaults     bool        `json:"use_device_defaults"`
	Scripts               ScriptSlots `json:"scripts"`
	ScriptTimeoutS        int         `json:"script_timeout_s"`
	ScriptRetryCount      int         `json:"script_retry_count"`
}

// sanitizeName strips control characters and clamps to 50 graphemes
// (approximated here by runes, since no grapheme-cluster library is
// pulled in for this one check).
func sanitizeName(name string) string {
	var b strings.Builder
	count := 0
	for _, r := range name {
		if unicode.IsControl(r) {
			continue
		}
		if count >= 50 {
			break
		}
		b.WriteRune(r)
		count++
	}
	return b.String()
}

// Sanitize mutates a's Name in place per spec: control characters
// stripped, clamped to at most 50 graphemes. An empty result stays empty
// and is rejected by Validate. Call before Validate.
func (a *Alarm) Sanitize() {
	a.Name = sanitizeName(a.Name)
}

// ParseTimeOfDay parses "HH:MM" into hour, minute, returning false if malformed.
func ParseTimeOfDay(s string) (hour, minute int, ok bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, false
	}
	return t.Hour(), t.Minute(), true
}

// RuntimeState is the rebuilt-on-load, persisted-on-transition snapshot of
// an alarm's lifecycle.
type RuntimeState struct {
	State              State       `json:"state"`
	SnoozeCount        int         `json:"snooze_count"`
	LastTriggered      *time.Time  `json:"last_triggered,omitempty"`
	SnoozeEndAt        *time.Time  `json:"snooze_end_at,omitempty"`
	RingingStartedAt   *time.Time  `json:"ringing_started_at,omitempty"`
	PreAlarmStartedAt  *time.Time  `json:"pre_alarm_started_at,omitempty"`
	CurrentTriggerKind TriggerKind `json:"current_trigger_kind,omitempty"`
	NextTriggerAt      *time.Time  `json:"next_trigger_at,omitempty"`
}

// DeviceDefaults are host-level fallback values, read-only to the core.
type DeviceDefaults struct {
	Scripts          ScriptSlots `json:"scripts"`
	ScriptTimeoutS   int         `json:"script_timeout_s"`
	ScriptRetryCount int         `json:"script_retry_count"`
}

// MissedAlarmAction controls startup missed-alarm handling. spec.md §4.4
// step 5 only specifies TriggerAnyway; the other two modes are an
// additive configuration surface (see SPEC_FULL.md D.4) and default to
// TriggerAnyway.
type MissedAlarmAction string

const (
	MissedNotifyOnly   MissedAlarmAction = "notify_only"
	MissedTriggerAnyway MissedAlarmAction = "trigger_anyway"
	MissedSkip         MissedAlarmAction = "skip"
)

// GlobalSettings are store-wide, host-configurable defaults.
type GlobalSettings struct {
	WatchdogTimeoutS         int               `json:"watchdog_timeout_s"`
	MissedAlarmGracePeriodMin int              `json:"missed_alarm_grace_period_min"`
	MissedAlarmAction        MissedAlarmAction `json:"missed_alarm_action"`
}

// DefaultGlobalSettings returns the spec-mandated defaults.
func DefaultGlobalSettings() GlobalSettings {
	return GlobalSettings{
		WatchdogTimeoutS:          60,
		MissedAlarmGracePeriodMin: 5,
		MissedAlarmAction:         MissedTriggerAnyway,
	}
}

// ResolvedSlot resolves use_device_defaults fallback per component
// (§4.3 "Slot selection").
func ResolvedSlot(a *Alarm, d *DeviceDefaults, slot SlotName) string {
	own := a.Scripts.Slot(slot)
	if !a.UseDeviceDefaults || own != "" || d == nil {
		return own
	}
	return d.Scripts.Slot(slot)
}

// ResolvedScriptTimeoutS resolves the effective per-attempt timeout.
func ResolvedScriptTimeoutS(a *Alarm, d *DeviceDefaults) int {
	if !a.UseDeviceDefaults || a.ScriptTimeoutS != 0 || d == nil {
		return a.ScriptTimeoutS
	}
	return d.ScriptTimeoutS
}

// ResolvedScriptRetryCount resolves the effective retry budget.
func ResolvedScriptRetryCount(a *Alarm, d *DeviceDefaults) int {
	if !a.UseDeviceDefaults || a.ScriptRetryCount != 0 || d == nil {
		return a.ScriptRetryCount
	}
	return d.ScriptRetryCount
}
