// Package memory implements the CFPM (Contextual Fact Persistence &
// Maintenance) subsystem described in SPEC_FULL.md §4.5: extracting durable
// facts from a conversation, validating and merging them against a
// session's existing fact set, pruning a session back under the per-session
// cap, and rewriting facts when a path is renamed mid-session.
//
// The package is storage-agnostic: every operation takes the caller's
// current []types.MemoryFact and returns the next one, plus an audit trail
// of accepted/rejected candidates and a summary report. The Session Store
// (internal/storage) owns persistence; this package owns the policy.
package memory
