// Package errors implements the error taxonomy shared by every component:
// ingestors, the build orchestrator, the graph store, and the simulation
// workflow all classify failures into one of the closed Kind values instead
// of returning bare errors, so callers can decide fatal-vs-recoverable
// without string matching.
package errors

import "fmt"

// Kind is one of the closed set of error categories.
type Kind string

const (
	KindAuth      Kind = "auth"
	KindRateLimit Kind = "rate-limit"
	KindNetwork   Kind = "network"
	KindParse     Kind = "parse"
	KindNotFound  Kind = "not-found"
	KindDatabase  Kind = "database"
	KindSandbox   Kind = "sandbox"
	KindCancelled Kind = "cancelled"
)

// Error is a structured, classified error. Every surfaced Error carries a
// Details map with at least "source" and "operation" so the failure can be
// reproduced.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is match on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithDetail attaches a key/value pair to Details and returns the receiver
// for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a fresh classified error.
func New(kind Kind, source, operation, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Details: map[string]any{"source": source, "operation": operation},
	}
}

// Wrap classifies an existing error, preserving it as Cause.
func Wrap(err error, kind Kind, source, operation, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:    kind,
		Message: message,
		Cause:   err,
		Details: map[string]any{"source": source, "operation": operation},
	}
}

// KindOf returns the Kind of err, or "" if err is not a *Error.
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return ""
}

// IsFatal reports whether a plugin should treat err as unrecoverable to
// itself: per the cross-cutting ingestor rules, only auth failures stop an
// ingestor outright; everything else is recovered, retried, or skipped
// per-item.
func IsFatal(err error) bool {
	return KindOf(err) == KindAuth
}
