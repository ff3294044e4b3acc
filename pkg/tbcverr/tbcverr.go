// Package tbcverr defines the stable, machine-readable error kinds returned
// across the engine's component boundaries.
package tbcverr

import (
	"errors"
	"fmt"
)

// Kind is a stable, machine-readable error identifier. Kinds are never
// renumbered or reused; callers compare against the Kind constants with
// errors.Is, never against string message text.
type Kind string

const (
	// InvalidArgument marks malformed or missing required input, local to
	// the caller.
	InvalidArgument Kind = "InvalidArgument"
	// NotFound marks a referenced entity that does not exist.
	NotFound Kind = "NotFound"
	// Conflict marks a state transition forbidden by a state machine.
	// Details should include the current state.
	Conflict Kind = "Conflict"
	// StaleRecord marks a content_hash mismatch on enhancement.
	StaleRecord Kind = "StaleRecord"
	// LanguageRejected marks a language-gate failure. Details should
	// include the rejected path and the rule that triggered.
	LanguageRejected Kind = "LanguageRejected"
	// TruthDataInvalid marks a malformed truth manifest; the family is
	// unavailable until the manifest is fixed.
	TruthDataInvalid Kind = "TruthDataInvalid"
	// ValidatorError marks an internal failure of one validator. The
	// router converts these into synthetic issues rather than surfacing
	// them as method failures, unless every validator fails.
	ValidatorError Kind = "ValidatorError"
	// Timeout marks a step or request that exceeded its budget.
	Timeout Kind = "Timeout"
	// Cancelled marks a cooperative cancel observed at a suspension point.
	Cancelled Kind = "Cancelled"
	// SafetyRejected marks an enhancement gate that refused an edit.
	// Details carry the recommendation id and the gate that failed.
	SafetyRejected Kind = "SafetyRejected"
	// StorageUnavailable marks a persistence backend that exhausted its
	// retry budget.
	StorageUnavailable Kind = "StorageUnavailable"
	// AccessDenied marks a boundary guard that blocked a direct call.
	AccessDenied Kind = "AccessDenied"
	// MaintenanceMode marks a mutating operation rejected while the
	// maintenance flag is set.
	MaintenanceMode Kind = "MaintenanceMode"
)

// Error is the single error type returned across every component boundary.
// User-visible failures always carry a stable Kind, a human-readable
// Message, and optional structured Details — never a stack trace.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is a *Error with the same Kind, so callers can
// write errors.Is(err, tbcverr.New(tbcverr.NotFound, "")) or, more simply,
// check via Kind of.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error of the given kind with no details or cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error that preserves cause for errors.Unwrap/errors.Is
// chains while still carrying a stable Kind at this boundary.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Wrapf constructs an *Error with a formatted message that preserves
// cause for errors.Unwrap/errors.Is chains.
func Wrapf(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithDetails returns a copy of e with Details merged in.
func (e *Error) WithDetails(details map[string]any) *Error {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &Error{Kind: e.Kind, Message: e.Message, Details: merged, cause: e.cause}
}

// KindOf returns the Kind of err if it is, or wraps, a *Error, and false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err is, or wraps, a *Error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
