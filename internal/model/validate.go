package model

import "fmt"

// Validate checks an Alarm's field constraints (spec.md §3) and returns
// every violation found, for aggregation by alarmerr.ValidationFields.
// Call Sanitize first so the name check sees stripped/clamped content.
func (a *Alarm) Validate() []string {
	var errs []string

	if n := len([]rune(a.Name)); n < 1 || n > 50 {
		errs = append(errs, fmt.Sprintf("name must be 1-50 characters, got %d", n))
	}

	if _, _, ok := ParseTimeOfDay(a.Time); !ok {
		errs = append(errs, fmt.Sprintf("time %q is not a valid HH:MM", a.Time))
	}

	if !a.OneTime && a.Days.Empty() {
		errs = append(errs, "days must be a non-empty subset of Mon..Sun for a non-one-time alarm")
	}

	if a.SnoozeDurationMin < 1 || a.SnoozeDurationMin > 60 {
		errs = append(errs, fmt.Sprintf("snooze_duration_min must be 1-60, got %d", a.SnoozeDurationMin))
	}

	if a.MaxSnoozeCount < 0 || a.MaxSnoozeCount > 10 {
		errs = append(errs, fmt.Sprintf("max_snooze_count must be 0-10, got %d", a.MaxSnoozeCount))
	}

	if a.AutoDismissTimeoutMin < 1 || a.AutoDismissTimeoutMin > 180 {
		errs = append(errs, fmt.Sprintf("auto_dismiss_timeout_min must be 1-180, got %d", a.AutoDismissTimeoutMin))
	}

	if a.PreAlarmDurationMin < 0 || a.PreAlarmDurationMin > 60 {
		errs = append(errs, fmt.Sprintf("pre_alarm_duration_min must be 0-60, got %d", a.PreAlarmDurationMin))
	}

	// A zero script_timeout_s is only valid when use_device_defaults will
	// supply one (ResolvedScriptTimeoutS's fallback, spec.md §4.3); it is
	// otherwise out of range same as any other value outside 1-300.
	if !(a.UseDeviceDefaults && a.ScriptTimeoutS == 0) && (a.ScriptTimeoutS < 1 || a.ScriptTimeoutS > 300) {
		errs = append(errs, fmt.Sprintf("script_timeout_s must be 1-300, got %d", a.ScriptTimeoutS))
	}

	if a.ScriptRetryCount < 0 || a.ScriptRetryCount > 10 {
		errs = append(errs, fmt.Sprintf("script_retry_count must be 0-10, got %d", a.ScriptRetryCount))
	}

	return errs
}

// ValidateTime validates a standalone "HH:MM" string, used by set_time.
func ValidateTime(s string) []string {
	if _, _, ok := ParseTimeOfDay(s); !ok {
		return []string{fmt.Sprintf("time %q is not a valid HH:MM", s)}
	}
	return nil
}

// ValidateDays validates a standalone DaySet for a non-one-time alarm,
// used by set_days.
func ValidateDays(days DaySet, oneTime bool) []string {
	if !oneTime && days.Empty() {
		return []string{"days must be a non-empty subset of Mon..Sun for a non-one-time alarm"}
	}
	return nil
}
