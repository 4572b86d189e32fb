package memory

import (
	"github.com/jsjm1986/agime/pkg/types"
)

// RefreshFromRecentMessages implements
// refresh_cfpm_memory_facts_from_recent_messages_with_report: extract
// runtime drafts from messages, merge them in, then always re-prune so the
// set never grows past types.MaxCFPMAutoFacts. If no drafts are found, it
// only prunes (mode "prune" or "noop").
func RefreshFromRecentMessages(facts []types.MemoryFact, messages []*types.Message, reason string) ([]types.MemoryFact, []types.MemoryCandidate, types.MemoryMergeReport) {
	drafts := ExtractRuntimeDrafts(messages)

	if len(drafts) == 0 {
		pruned, removed := PruneCFPMAutoFacts(facts, reason)
		mode := "noop"
		if removed > 0 {
			mode = "prune"
		}
		return pruned, nil, types.MemoryMergeReport{
			Reason:    reason,
			Mode:      mode,
			Pruned:    removed,
			FactCount: countBySource(pruned, types.MemorySourceCFPMAuto),
		}
	}

	merged, candidates, report := MergeCFPMFacts(facts, drafts, reason)
	pruned, removed := PruneCFPMAutoFacts(merged, reason)
	if removed > 0 {
		report.Pruned += removed
		if report.Mode == "merge" {
			report.Mode = "merge+prune"
		} else {
			report.Mode += "+prune"
		}
		report.FactCount = countBySource(pruned, types.MemorySourceCFPMAuto)
	}
	return pruned, candidates, report
}

func countBySource(facts []types.MemoryFact, source types.MemoryFactSource) int {
	n := 0
	for _, f := range facts {
		if f.Source == source && f.Status == types.MemoryFactActive {
			n++
		}
	}
	return n
}
