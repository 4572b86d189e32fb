package provider

import (
	"strings"

	"github.com/jsjm1986/agime/internal/errs"
)

// ClassifyError maps a raw error from a streaming/completion call into the
// typed taxonomy of spec.md §4.3/§7, so the reply loop can decide whether to
// retry with backoff, trigger recovery compaction, or fail the turn
// outright. Eino's provider clients (claude/openai/ark) surface upstream
// HTTP/SDK errors as plain errors with no structured status, so this works
// off the message text — the same approach the SDKs' own retry helpers use
// when they don't expose typed error codes.
func ClassifyError(err error) *errs.Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*errs.Error); ok {
		return e
	}

	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg,
		"context length", "context_length_exceeded", "maximum context length",
		"prompt is too long", "too many tokens", "input is too long"):
		return errs.Wrap(errs.ProviderContextLengthExceeded, "context length exceeded", err)

	case containsAny(msg,
		"rate limit", "rate_limit", "429", "too many requests", "overloaded",
		"timeout", "timed out", "connection reset", "connection refused",
		"eof", "502", "503", "504", "temporarily unavailable", "stream ended"):
		return errs.Wrap(errs.ProviderTransient, "transient provider error", err)

	default:
		return errs.Wrap(errs.ProviderFatal, "provider error", err)
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
