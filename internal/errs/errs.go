// Package errs defines the typed error taxonomy shared by the Reply
// Orchestrator, Tool Dispatcher, Provider Gateway, and Compaction Engine
// (spec.md §7), so callers can branch on errors.As/errors.Is instead of
// string-matching messages.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies one of the taxonomy's error classes.
type Kind string

const (
	ProviderContextLengthExceeded Kind = "provider_context_length_exceeded"
	ProviderTransient             Kind = "provider_transient"
	ProviderFatal                 Kind = "provider_fatal"
	ToolTimeout                   Kind = "tool_timeout"
	ToolExecutionFailure          Kind = "tool_execution_failure"
	ToolDenied                    Kind = "tool_denied"
	CompactionFailed              Kind = "compaction_failed"
	PortalTaskIncomplete          Kind = "portal_task_incomplete"
	SessionStoreError             Kind = "session_store_error"
)

// Error wraps an underlying cause with a Kind so middle layers can inspect
// failure class without parsing message text.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, errs.New(kind, "")) to match on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error that wraps cause, preserving its stack via
// github.com/pkg/errors when cause doesn't already carry one.
func Wrap(kind Kind, message string, cause error) *Error {
	if cause == nil {
		return New(kind, message)
	}
	return &Error{Kind: kind, Message: message, Cause: errors.WithStack(cause)}
}

// KindOf extracts the Kind from err, walking its Unwrap chain. Returns ""
// if err (or nothing in its chain) is an *Error.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ""
}

// IsRetryable reports whether err's Kind is one the Provider Gateway's
// backoff loop (internal/provider, cenkalti/backoff) should retry rather
// than surface immediately.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case ProviderTransient:
		return true
	default:
		return false
	}
}
