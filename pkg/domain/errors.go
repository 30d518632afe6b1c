package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorKind is the stable classification surfaced to callers.
type ErrorKind string

// Error kinds.
const (
	ErrKindPermissionDenied ErrorKind = "permission_denied"
	ErrKindInvalidState     ErrorKind = "invalid_state"
	ErrKindValidationFailed ErrorKind = "validation_failed"
	ErrKindConflict         ErrorKind = "conflict"
	ErrKindBusy             ErrorKind = "busy"
	ErrKindNotFound         ErrorKind = "not_found"
	ErrKindUnknownSubject   ErrorKind = "unknown_subject"
	ErrKindIntegrity        ErrorKind = "integrity"
)

// FieldErrors maps a field path to the reasons it failed validation.
type FieldErrors map[string][]string

// Add appends a reason for field.
func (f FieldErrors) Add(field, reason string) {
	f[field] = append(f[field], reason)
}

// Merge copies every reason from other.
func (f FieldErrors) Merge(other FieldErrors) {
	for field, reasons := range other {
		f[field] = append(f[field], reasons...)
	}
}

// Empty reports whether no field failed.
func (f FieldErrors) Empty() bool { return len(f) == 0 }

func (f FieldErrors) String() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(f[k], "; ")))
	}
	return strings.Join(parts, ", ")
}

// Error is the single error type returned across the domain boundary.
type Error struct {
	Kind    ErrorKind
	Op      string
	Ref     Ref
	Message string
	Fields  FieldErrors
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		b.WriteString(" (")
		b.WriteString(e.Fields.String())
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// WithRef returns a copy bound to ref.
func (e *Error) WithRef(ref Ref) *Error {
	cp := *e
	cp.Ref = ref
	return &cp
}

// PermissionDenied reports that the caller lacks the required right.
func PermissionDenied(op, message string) *Error {
	return &Error{Kind: ErrKindPermissionDenied, Op: op, Message: message}
}

// InvalidState reports a transition fired from a status outside its sources.
func InvalidState(op, message string) *Error {
	return &Error{Kind: ErrKindInvalidState, Op: op, Message: message}
}

// ValidationFailed carries the per-field reasons of a failed check.
func ValidationFailed(op string, fields FieldErrors) *Error {
	return &Error{Kind: ErrKindValidationFailed, Op: op, Message: "validation failed", Fields: fields}
}

// Conflict reports a stale expected version.
func Conflict(op string, expected, actual int64) *Error {
	return &Error{Kind: ErrKindConflict, Op: op, Message: fmt.Sprintf("expected version %d, current version %d", expected, actual)}
}

// Busy reports a lock acquisition timeout.
func Busy(op, message string) *Error {
	return &Error{Kind: ErrKindBusy, Op: op, Message: message}
}

// NotFound reports a missing document or child.
func NotFound(op string, ref Ref) *Error {
	return &Error{Kind: ErrKindNotFound, Op: op, Ref: ref, Message: fmt.Sprintf("%s %s not found", ref.Kind, ref.ID)}
}

// UnknownSubject reports an unknown role, status, kind, field or transition.
func UnknownSubject(op, message string) *Error {
	return &Error{Kind: ErrKindUnknownSubject, Op: op, Message: message}
}

// Integrity reports a mutation that violates an aggregate invariant.
func Integrity(op, message string) *Error {
	return &Error{Kind: ErrKindIntegrity, Op: op, Message: message}
}

// AsError extracts the domain error from err.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	de, ok := AsError(err)
	return ok && de.Kind == kind
}

// KindOf returns the error kind or an empty string for foreign errors.
func KindOf(err error) ErrorKind {
	if de, ok := AsError(err); ok {
		return de.Kind
	}
	return ""
}

// ChildNotFound reports a missing child record inside a document.
func ChildNotFound(op, grouping, id string) *Error {
	return &Error{Kind: ErrKindNotFound, Op: op, Message: fmt.Sprintf("%s %s not found", grouping, id)}
}
