package memory

import (
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/oklog/ulid/v2"

	"github.com/jsjm1986/agime/pkg/types"
)

// mergedFact is the mutable accumulator merge uses before it is frozen into
// a types.MemoryFact; it mirrors the tuple the original threads through its
// merge loop.
type mergedFact struct {
	category          types.MemoryFactCategory
	content           string
	status            types.MemoryFactStatus
	pinned            bool
	confidence        float64
	evidenceCount     int
	lastValidatedAt   *int64
	validationCommand string
}

// fuzzyFoldThreshold bounds the Levenshtein distance (relative to the
// shorter string's length) under which two same-category candidate
// contents are folded into one fact instead of kept as near-duplicates.
// Grounded on the original's exact-key-only dedup, extended here since
// spec.md has no stance on near-duplicates and agnivade/levenshtein is in
// the domain stack specifically for this purpose (see SPEC_FULL.md).
const fuzzyFoldThreshold = 0.15

// MergeCFPMFacts implements the original's merge_cfpm_memory_facts:
// validate every incoming draft against existing cfpm_auto facts,
// reject invalid-path conflicts, dedup-and-weight-merge by category+content
// (folding close near-duplicates via Levenshtein distance), and cap the
// result at types.MaxCFPMAutoFacts. Returns the new full set of cfpm_auto
// facts (the caller is responsible for combining these with the session's
// user-sourced facts), the candidate audit trail, and a summary report.
func MergeCFPMFacts(existing []types.MemoryFact, drafts []FactDraft, reason string) ([]types.MemoryFact, []types.MemoryCandidate, types.MemoryMergeReport) {
	now := time.Now().Unix()

	var incomingCandidates []FactDraft
	var candidates []types.MemoryCandidate
	incomingDedupe := map[string]bool{}

	recordCandidate := func(category types.MemoryFactCategory, content string, decision types.MemoryCandidateDecision, reason string) {
		candidates = append(candidates, types.MemoryCandidate{
			ID:        "cand_" + ulid.Make().String(),
			Category:  category,
			Content:   content,
			Source:    types.MemorySourceCFPMAuto,
			Decision:  decision,
			Reason:    reason,
			CreatedAt: now,
		})
	}

	for _, draft := range drafts {
		category := normalizeCategory(draft.Category)
		content := normalizeContent(draft.Content)
		if content == "" {
			recordCandidate(category, content, types.CandidateRejected, types.ReasonEmptyContent)
			continue
		}
		if rejectReason, ok := evaluateAutoCandidate(category, content); !ok {
			recordCandidate(category, content, types.CandidateRejected, rejectReason)
			continue
		}
		key := factKey(category, content)
		if incomingDedupe[key] {
			recordCandidate(category, content, types.CandidateRejected, types.ReasonDuplicate)
			continue
		}
		incomingDedupe[key] = true

		confidence, evidenceCount, lastValidatedAt, validationCommand := resolveFactMetadata(
			types.MemorySourceCFPMAuto, category, draft.Confidence, draft.EvidenceCount, draft.LastValidatedAt, draft.ValidationCommand, now,
		)
		incomingCandidates = append(incomingCandidates, FactDraft{
			Category:          category,
			Content:           content,
			Source:            types.MemorySourceCFPMAuto,
			Pinned:            draft.Pinned,
			Confidence:        &confidence,
			EvidenceCount:     &evidenceCount,
			LastValidatedAt:   lastValidatedAt,
			ValidationCommand: validationCommand,
		})
	}

	var existingAuto []types.MemoryFact
	for _, fact := range existing {
		if fact.Source == types.MemorySourceCFPMAuto {
			existingAuto = append(existingAuto, fact)
		}
	}

	invalidPaths := collectInvalidPathCanonicalsFromFacts(existingAuto)
	for canonical := range collectInvalidPathCanonicalsFromDrafts(incomingCandidates) {
		invalidPaths[canonical] = true
	}

	var incoming []FactDraft
	for _, draft := range incomingCandidates {
		if artifactConflictsWithInvalidPaths(draft.Category, draft.Content, invalidPaths) {
			recordCandidate(draft.Category, draft.Content, types.CandidateRejected, types.ReasonArtifactMarkedInvalid)
			continue
		}
		recordCandidate(draft.Category, draft.Content, types.CandidateAccepted, "accepted")
		incoming = append(incoming, draft)
	}

	acceptedCount, rejectedCount, reasonBreakdown := summarizeCandidates(candidates)

	if len(incoming) == 0 {
		return existing, candidates, types.MemoryMergeReport{
			Reason:                  reason,
			Mode:                    "candidate_only",
			Accepted:                acceptedCount,
			Rejected:                rejectedCount,
			RejectedReasonBreakdown: reasonBreakdown,
			Pruned:                  0,
			FactCount:               countActive(existingAuto),
		}
	}

	var merged []mergedFact
	dedupe := map[string]int{}
	fuzzyIndex := map[types.MemoryFactCategory][]int{}

	appendOrFold := func(category types.MemoryFactCategory, content string) (int, bool) {
		key := factKey(category, content)
		if idx, ok := dedupe[key]; ok {
			return idx, true
		}
		for _, idx := range fuzzyIndex[category] {
			if isFuzzyDuplicate(merged[idx].content, content) {
				return idx, true
			}
		}
		return -1, false
	}

	for _, fact := range existingAuto {
		category := normalizeCategory(fact.Category)
		content := normalizeContent(fact.Content)
		if content == "" {
			continue
		}
		if _, ok := evaluateAutoCandidate(category, content); !ok {
			continue
		}
		if artifactConflictsWithInvalidPaths(category, content, invalidPaths) {
			continue
		}
		if _, folded := appendOrFold(category, content); folded {
			continue
		}
		idx := len(merged)
		dedupe[factKey(category, content)] = idx
		fuzzyIndex[category] = append(fuzzyIndex[category], idx)
		merged = append(merged, mergedFact{
			category:           category,
			content:            content,
			status:             fact.Status,
			pinned:             fact.Pinned,
			confidence:         clampConfidence(fact.Confidence),
			evidenceCount:      normalizeEvidenceCount(fact.EvidenceCount),
			lastValidatedAt:    fact.LastValidatedAt,
			validationCommand: normalizeValidationCommand(fact.ValidationCommand),
		})
		if len(merged) >= types.MaxCFPMAutoFacts {
			break
		}
	}

	for _, draft := range incoming {
		idx, folded := appendOrFold(draft.Category, draft.Content)
		if folded {
			existingFact := &merged[idx]
			incomingConfidence := clampConfidence(valueOr(draft.Confidence, defaultConfidenceFor(types.MemorySourceCFPMAuto, draft.Category)))
			incomingEvidence := normalizeEvidenceCount(valueOrInt(draft.EvidenceCount, 1))
			totalEvidence := normalizeEvidenceCount(existingFact.evidenceCount + incomingEvidence)
			weighted := (existingFact.confidence*float64(existingFact.evidenceCount) + incomingConfidence*float64(incomingEvidence)) / float64(totalEvidence)
			existingFact.confidence = clampConfidence(weighted)
			existingFact.evidenceCount = totalEvidence
			existingFact.status = types.MemoryFactActive
			existingFact.pinned = existingFact.pinned || draft.Pinned
			existingFact.lastValidatedAt = mergeValidationTimestamp(existingFact.lastValidatedAt, draft.LastValidatedAt)
			if strings.TrimSpace(draft.ValidationCommand) != "" {
				existingFact.validationCommand = normalizeValidationCommand(draft.ValidationCommand)
			}
			continue
		}

		if len(merged) >= types.MaxCFPMAutoFacts {
			continue
		}
		newIdx := len(merged)
		dedupe[factKey(draft.Category, draft.Content)] = newIdx
		fuzzyIndex[draft.Category] = append(fuzzyIndex[draft.Category], newIdx)
		merged = append(merged, mergedFact{
			category:           draft.Category,
			content:            draft.Content,
			status:             types.MemoryFactActive,
			pinned:             draft.Pinned,
			confidence:         clampConfidence(valueOr(draft.Confidence, defaultConfidenceFor(types.MemorySourceCFPMAuto, draft.Category))),
			evidenceCount:      normalizeEvidenceCount(valueOrInt(draft.EvidenceCount, 1)),
			lastValidatedAt:    draft.LastValidatedAt,
			validationCommand: normalizeValidationCommand(draft.ValidationCommand),
		})
	}

	result := make([]types.MemoryFact, 0, len(existing)-len(existingAuto)+len(merged))
	for _, fact := range existing {
		if fact.Source != types.MemorySourceCFPMAuto {
			result = append(result, fact)
		}
	}
	for _, m := range merged {
		result = append(result, types.MemoryFact{
			ID:                "mem_" + ulid.Make().String(),
			Category:          m.category,
			Content:           m.content,
			Status:            m.status,
			Pinned:            m.pinned,
			Source:            types.MemorySourceCFPMAuto,
			Confidence:        m.confidence,
			EvidenceCount:     m.evidenceCount,
			LastValidatedAt:   m.lastValidatedAt,
			ValidationCommand: m.validationCommand,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}

	return result, candidates, types.MemoryMergeReport{
		Reason:                  reason,
		Mode:                    "merge",
		Accepted:                acceptedCount,
		Rejected:                rejectedCount,
		RejectedReasonBreakdown: reasonBreakdown,
		Pruned:                  0,
		FactCount:               len(merged),
	}
}

func isFuzzyDuplicate(a, b string) bool {
	if a == b {
		return true
	}
	shorter := len(a)
	if len(b) < shorter {
		shorter = len(b)
	}
	if shorter == 0 {
		return false
	}
	dist := levenshtein.ComputeDistance(strings.ToLower(a), strings.ToLower(b))
	return float64(dist)/float64(shorter) <= fuzzyFoldThreshold
}

func valueOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}

func valueOrInt(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}

func countActive(facts []types.MemoryFact) int {
	n := 0
	for _, f := range facts {
		if f.Status == types.MemoryFactActive {
			n++
		}
	}
	return n
}

func summarizeCandidates(candidates []types.MemoryCandidate) (accepted, rejected int, breakdown map[string]int) {
	breakdown = map[string]int{}
	for _, c := range candidates {
		if c.Decision == types.CandidateAccepted {
			accepted++
			continue
		}
		rejected++
		breakdown[c.Reason]++
	}
	return accepted, rejected, breakdown
}
