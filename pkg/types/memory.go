package types

// MemoryFactStatus is the lifecycle status of a CFPM memory fact.
type MemoryFactStatus string

const (
	MemoryFactActive     MemoryFactStatus = "active"
	MemoryFactStale      MemoryFactStatus = "stale"
	MemoryFactForgotten  MemoryFactStatus = "forgotten"
	MemoryFactSuperseded MemoryFactStatus = "superseded"
)

// MemoryFactSource distinguishes user-authored facts from CFPM-extracted ones.
type MemoryFactSource string

const (
	MemorySourceUser     MemoryFactSource = "user"
	MemorySourceCFPMAuto MemoryFactSource = "cfpm_auto"
)

// MemoryFactCategory enumerates the normalized (snake_case) fact categories.
type MemoryFactCategory string

const (
	CategoryGoal           MemoryFactCategory = "goal"
	CategoryVerifiedAction MemoryFactCategory = "verified_action"
	CategoryArtifact       MemoryFactCategory = "artifact"
	CategoryArtifactPath   MemoryFactCategory = "artifact_path"
	CategoryInvalidPath    MemoryFactCategory = "invalid_path"
	CategoryOpenItem       MemoryFactCategory = "open_item"
	CategoryNote           MemoryFactCategory = "note"
)

// MaxMemoryFactContentLen is the §3 invariant cap on MemoryFact.Content.
const MaxMemoryFactContentLen = 320

// MaxCFPMAutoFacts is the global per-session cap on cfpm_auto facts (§4.5).
const MaxCFPMAutoFacts = 120

// MaxMemoryCandidates is the per-session cap on the candidate audit trail (§3/§4.5).
const MaxMemoryCandidates = 800

// MemoryFact is a durable conversational fact persisted by the CFPM subsystem.
type MemoryFact struct {
	ID                string             `json:"id"`
	SessionID         string             `json:"sessionID"`
	Category          MemoryFactCategory `json:"category"`
	Content           string             `json:"content"`
	Status            MemoryFactStatus   `json:"status"`
	Pinned            bool               `json:"pinned"`
	Source            MemoryFactSource   `json:"source"`
	Confidence        float64            `json:"confidence"`
	EvidenceCount     int                `json:"evidenceCount"`
	LastValidatedAt   *int64             `json:"lastValidatedAt,omitempty"`
	ValidationCommand string             `json:"validationCommand,omitempty"`
	CreatedAt         int64              `json:"createdAt"`
	UpdatedAt         int64              `json:"updatedAt"`
}

// Key returns the (category, lowercased content) dedup key used throughout
// merge/prune per §4.5.
func (f *MemoryFact) Key() MemoryFactKey {
	return MemoryFactKey{Category: f.Category, ContentLower: normalizeKey(f.Content)}
}

// MemoryFactKey is the merge/dedup identity of a fact.
type MemoryFactKey struct {
	Category     MemoryFactCategory
	ContentLower string
}

func normalizeKey(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			r = r - 'A' + 'a'
		}
		out = append(out, r)
	}
	return string(out)
}

// MemoryCandidateDecision is the merge-time accept/reject verdict recorded
// in the audit trail.
type MemoryCandidateDecision string

const (
	CandidateAccepted MemoryCandidateDecision = "accepted"
	CandidateRejected MemoryCandidateDecision = "rejected"
)

// Rejection reason codes (§3/§4.5), stable strings consumed by callers.
const (
	ReasonEmptyContent           = "empty_content"
	ReasonDuplicate              = "duplicate"
	ReasonArtifactUnhelpful      = "artifact_unhelpful"
	ReasonArtifactMarkedInvalid  = "artifact_marked_invalid"
	ReasonValidationFailed       = "validation_failed"
	ReasonContentTooLong         = "content_too_long"
	ReasonControlCharacters      = "control_characters"
	ReasonWeakLabel              = "weak_label"
	ReasonSymbolicPath           = "symbolic_path"
	ReasonTransientDump          = "transient_dump"
	ReasonCapExceeded            = "cap_exceeded"
)

// MemoryCandidate is the audit-trail record of every draft fact considered,
// whether accepted or rejected, per §3/§4.5/§9.
type MemoryCandidate struct {
	ID        string                   `json:"id"`
	SessionID string                   `json:"sessionID"`
	Category  MemoryFactCategory       `json:"category"`
	Content   string                   `json:"content"`
	Source    MemoryFactSource         `json:"source"`
	Decision  MemoryCandidateDecision  `json:"decision"`
	Reason    string                   `json:"reason,omitempty"`
	CreatedAt int64                    `json:"createdAt"`
}

// MemorySnapshot is a point-in-time serialized copy of a session's memory
// facts, written before any bulk rewrite so rollback is possible.
type MemorySnapshot struct {
	ID        int64        `json:"id"`
	SessionID string       `json:"sessionID"`
	Reason    string       `json:"reason"`
	FactCount int          `json:"factCount"`
	Facts     []MemoryFact `json:"facts"`
	CreatedAt int64        `json:"createdAt"`
}

// MemoryEditLogEntry is an append-only record of a single fact mutation.
type MemoryEditLogEntry struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	FactID    string `json:"factID"`
	Before    string `json:"before,omitempty"` // JSON
	After     string `json:"after,omitempty"`  // JSON
	Reason    string `json:"reason,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

// MemoryMergeReport summarizes one merge/prune pass, returned to the caller
// per §4.6's `merge_cfpm_memory_facts` contract.
type MemoryMergeReport struct {
	Reason                  string         `json:"reason"`
	Mode                    string         `json:"mode"` // noop|merge|prune|merge+prune|candidate_only
	Accepted                int            `json:"accepted"`
	Rejected                int            `json:"rejected"`
	RejectedReasonBreakdown map[string]int `json:"rejectedReasonBreakdown,omitempty"`
	Pruned                  int            `json:"pruned"`
	FactCount               int            `json:"factCount"`
}

// TopRejectedReasons returns up to the top-5 reason codes by frequency in
// this report, sorted by descending count then reason string for stability.
func (r *MemoryMergeReport) TopRejectedReasons() []string {
	type kv struct {
		reason string
		count  int
	}
	kvs := make([]kv, 0, len(r.RejectedReasonBreakdown))
	for k, v := range r.RejectedReasonBreakdown {
		kvs = append(kvs, kv{k, v})
	}
	for i := 1; i < len(kvs); i++ {
		for j := i; j > 0; j-- {
			if kvs[j].count > kvs[j-1].count || (kvs[j].count == kvs[j-1].count && kvs[j].reason < kvs[j-1].reason) {
				kvs[j], kvs[j-1] = kvs[j-1], kvs[j]
			} else {
				break
			}
		}
	}
	if len(kvs) > 5 {
		kvs = kvs[:5]
	}
	out := make([]string, len(kvs))
	for i, e := range kvs {
		out[i] = e.reason
	}
	return out
}
