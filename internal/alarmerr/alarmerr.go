// Package alarmerr is the typed error taxonomy of spec.md §7: Validation,
// NotFound, StateConflict, Persistence, ScriptExecution and Internal
// errors, plus wrap/append helpers adapted from purpleidea-mgmt's
// util/errwrap package onto the same pkg/errors + go-multierror pairing.
package alarmerr

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Kind identifies which branch of the taxonomy an error belongs to.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindStateConflict  Kind = "state_conflict"
	KindPersistence    Kind = "persistence"
	KindScriptExecution Kind = "script_execution"
	KindInternal       Kind = "internal"
)

// Error is the common shape of every taxonomy member. Callers type-switch
// on Kind or use the Is* helpers below.
type Error struct {
	Kind    Kind
	AlarmID string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.AlarmID != "" {
		return string(e.Kind) + ": " + e.AlarmID + ": " + e.Message
	}
	return string(e.Kind) + ": " + e.Message
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Validation reports malformed input: bad time, empty days, out-of-range
// durations. No state change has occurred.
func Validation(alarmID, format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, AlarmID: alarmID, Message: fmt.Sprintf(format, args...)}
}

// ValidationFields aggregates multiple field-level validation failures for
// one alarm into a single error, per SPEC_FULL.md D.2.
func ValidationFields(alarmID string, fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	var merr *multierror.Error
	for _, f := range fields {
		merr = multierror.Append(merr, errors.New(f))
	}
	return &Error{Kind: KindValidation, AlarmID: alarmID, Message: merr.Error(), Cause: merr.ErrorOrNil()}
}

// NotFound reports an operation on an unknown alarm id.
func NotFound(alarmID string) error {
	return &Error{Kind: KindNotFound, AlarmID: alarmID, Message: "alarm not found"}
}

// StateConflict reports a transition that is not valid from the current
// state (snooze while Armed, snooze at cap, etc).
func StateConflict(alarmID, format string, args ...interface{}) error {
	return &Error{Kind: KindStateConflict, AlarmID: alarmID, Message: fmt.Sprintf(format, args...)}
}

// Persistence wraps a Store write failure.
func Persistence(alarmID string, cause error) error {
	return &Error{Kind: KindPersistence, AlarmID: alarmID, Message: "store write failed", Cause: cause}
}

// ScriptExecution reports retry exhaustion from the ExecutionPipeline. The
// alarm's own state is never reverted because of this error.
func ScriptExecution(alarmID, slot string, cause error) error {
	return &Error{Kind: KindScriptExecution, AlarmID: alarmID, Message: "script execution failed: " + slot, Cause: cause}
}

// Internal wraps any unexpected failure; callers log it with full context.
func Internal(alarmID string, cause error) error {
	return &Error{Kind: KindInternal, AlarmID: alarmID, Message: "internal error", Cause: cause}
}

// KindOf extracts the Kind of err, or "" if err is not one of ours.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Wrap adapts purpleidea-mgmt/util/errwrap.Wrapf: adds context onto an
// existing error chain, returning nil unchanged if err is nil.
func Wrap(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// Append adapts purpleidea-mgmt/util/errwrap.Append: safely merges a new
// error onto an existing one, tolerating either side being nil.
func Append(reterr, err error) error {
	if reterr == nil {
		return err
	}
	if err == nil {
		return reterr
	}
	return multierror.Append(reterr, err)
}
