package memory

import (
	"github.com/jsjm1986/agime/pkg/types"
)

// PruneCFPMAutoFacts re-validates every active cfpm_auto fact against the
// current rule set (paths may have been invalidated since the fact was
// written, rules may have tightened) and drops whatever no longer passes,
// keeping at most types.MaxCFPMAutoFacts, preferring pinned and
// more-recently-updated facts. Mirrors prune_cfpm_auto_memory_facts.
func PruneCFPMAutoFacts(facts []types.MemoryFact, reason string) ([]types.MemoryFact, int) {
	var autoActive []types.MemoryFact
	var rest []types.MemoryFact
	for _, f := range facts {
		if f.Source == types.MemorySourceCFPMAuto && f.Status == types.MemoryFactActive {
			autoActive = append(autoActive, f)
		} else {
			rest = append(rest, f)
		}
	}
	if len(autoActive) == 0 {
		return facts, 0
	}

	// pinned first, then most-recently-updated, matching the original's
	// ORDER BY pinned DESC, updated_at DESC, created_at DESC
	sortByPinnedThenRecency(autoActive)

	invalidPaths := map[string]bool{}
	for _, f := range autoActive {
		category := normalizeCategory(f.Category)
		if !isInvalidPathCategory(category) {
			continue
		}
		for canonical := range collectCanonicalPathsForCompare(f.Content) {
			invalidPaths[canonical] = true
		}
	}

	var kept []types.MemoryFact
	dedupe := map[string]bool{}
	for _, f := range autoActive {
		category := normalizeCategory(f.Category)
		content := normalizeContent(f.Content)
		if content == "" {
			continue
		}
		if _, ok := evaluateAutoCandidate(category, content); !ok {
			continue
		}
		if artifactConflictsWithInvalidPaths(category, content, invalidPaths) {
			continue
		}
		key := factKey(category, content)
		if dedupe[key] {
			continue
		}
		dedupe[key] = true

		kept = append(kept, f)
		if len(kept) >= types.MaxCFPMAutoFacts {
			break
		}
	}

	removed := len(autoActive) - len(kept)
	if removed <= 0 {
		return facts, 0
	}

	result := append(append([]types.MemoryFact{}, rest...), kept...)
	return result, removed
}

func sortByPinnedThenRecency(facts []types.MemoryFact) {
	for i := 1; i < len(facts); i++ {
		for j := i; j > 0 && lessFact(facts[j], facts[j-1]); j-- {
			facts[j], facts[j-1] = facts[j-1], facts[j]
		}
	}
}

// lessFact reports whether a should sort before b: pinned first, then
// newer UpdatedAt, then newer CreatedAt.
func lessFact(a, b types.MemoryFact) bool {
	if a.Pinned != b.Pinned {
		return a.Pinned
	}
	if a.UpdatedAt != b.UpdatedAt {
		return a.UpdatedAt > b.UpdatedAt
	}
	return a.CreatedAt > b.CreatedAt
}
