// Package errors provides a structured error system for cuba operations:
// error kinds, retryability, and enough context for a CLI or GUI frontend to
// render something actionable without depending on the engine's internals.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind is one of the error kinds named in the engine design.
type Kind string

const (
	KindConfig      Kind = "CONFIG"
	KindNotFound    Kind = "NOT_FOUND"
	KindIO          Kind = "IO"
	KindAuth        Kind = "AUTH"
	KindIntegrity   Kind = "INTEGRITY"
	KindTransform   Kind = "TRANSFORM"
	KindCancelled   Kind = "CANCELLED"
	KindBusyProfile Kind = "BUSY_PROFILE"
	KindInternal    Kind = "INTERNAL"
)

// retryableByDefault mirrors the transient/permanent split in the
// filesystem retry policy: network and timeout-shaped failures are
// retryable, everything else is not.
var retryableByDefault = map[Kind]bool{
	KindIO: true,
}

// Error is cuba's structured error type. It wraps a cause, carries the
// profile/path/operation it happened under, and knows whether it is
// retryable so pkg/retry doesn't need to special-case driver errors.
type Error struct {
	Kind      Kind   `json:"kind"`
	Message   string `json:"message"`
	Profile   string `json:"profile,omitempty"`
	Path      string `json:"path,omitempty"`
	Operation string `json:"operation,omitempty"`
	Component string `json:"component,omitempty"`

	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
	Cause     error     `json:"-"`
}

// New creates a cuba Error with the retryable default for its kind.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		Retryable: retryableByDefault[kind],
		Timestamp: time.Now(),
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Component != "" {
		fmt.Fprintf(&b, "[%s", e.Component)
		if e.Operation != "" {
			fmt.Fprintf(&b, ":%s", e.Operation)
		}
		b.WriteString("] ")
	}
	if e.Profile != "" {
		fmt.Fprintf(&b, "profile=%s ", e.Profile)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, "path=%s ", e.Path)
	}
	fmt.Fprintf(&b, "%s: %s", e.Kind, e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %s", e.Cause.Error())
	}
	return b.String()
}

// Unwrap makes Error compatible with errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a cuba Error of the same kind.
func (e *Error) Is(target error) bool {
	if other, ok := target.(*Error); ok {
		return e.Kind == other.Kind
	}
	return false
}

// JSON renders the error for structured log sinks.
func (e *Error) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

func (e *Error) WithProfile(profile string) *Error     { e.Profile = profile; return e }
func (e *Error) WithPath(path string) *Error           { e.Path = path; return e }
func (e *Error) WithOperation(operation string) *Error { e.Operation = operation; return e }
func (e *Error) WithComponent(component string) *Error { e.Component = component; return e }
func (e *Error) WithCause(cause error) *Error          { e.Cause = cause; return e }

// WithRetryable overrides the kind's default retryability, for drivers that
// can tell a permanent 4xx from a transient 5xx/timeout within the same
// error kind (e.g. IO: a rejected request is not retryable, a 503 is).
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// Fatal reports whether an error kind always terminates the run rather
// than being localized to a single file job (spec §7 propagation policy).
func Fatal(kind Kind) bool {
	switch kind {
	case KindConfig, KindAuth, KindBusyProfile, KindInternal:
		return true
	default:
		return false
	}
}
