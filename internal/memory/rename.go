package memory

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jsjm1986/agime/pkg/types"
)

// RenameResult summarizes a RenameMemoryPaths call.
type RenameResult struct {
	Inserted   int
	Superseded int
	Skipped    int
}

// RenameMemoryPaths supersedes every active/stale fact whose content
// mentions fromPath and inserts a replacement fact with toPath substituted
// in, so a later rollback can still see the pre-rename wording. Mirrors
// rename_memory_paths: a superseded fact is never deleted, only demoted.
func RenameMemoryPaths(facts []types.MemoryFact, fromPath, toPath string) ([]types.MemoryFact, RenameResult) {
	fromPath = strings.TrimSpace(fromPath)
	toPath = strings.TrimSpace(toPath)
	if fromPath == "" || toPath == "" || fromPath == toPath {
		return facts, RenameResult{}
	}

	now := time.Now().Unix()
	result := RenameResult{}
	out := make([]types.MemoryFact, 0, len(facts))
	inserted := map[string]bool{}

	for _, fact := range facts {
		if (fact.Status != types.MemoryFactActive && fact.Status != types.MemoryFactStale) || !strings.Contains(fact.Content, fromPath) {
			out = append(out, fact)
			continue
		}

		replaced := normalizeContent(strings.ReplaceAll(fact.Content, fromPath, toPath))
		if replaced == normalizeContent(fact.Content) || replaced == "" {
			result.Skipped++
			out = append(out, fact)
			continue
		}

		result.Superseded++
		superseded := fact
		superseded.Status = types.MemoryFactSuperseded
		superseded.UpdatedAt = now
		out = append(out, superseded)

		key := factKey(fact.Category, replaced) + "::" + string(fact.Source)
		if inserted[key] {
			continue
		}
		inserted[key] = true
		result.Inserted++
		out = append(out, types.MemoryFact{
			ID:                "mem_" + ulid.Make().String(),
			Category:          fact.Category,
			Content:           replaced,
			Status:            types.MemoryFactActive,
			Pinned:            fact.Pinned,
			Source:            fact.Source,
			Confidence:        fact.Confidence,
			EvidenceCount:     fact.EvidenceCount,
			LastValidatedAt:   fact.LastValidatedAt,
			ValidationCommand: fact.ValidationCommand,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}

	return out, result
}
