package memory

import (
	"sort"
	"strings"

	"github.com/jsjm1986/agime/pkg/types"
)

// sectionOrder fixes the rendering order of BuildInjectionText's sections;
// each entry's header must be a key ParseFactDrafts recognizes, so a
// round-trip through the conversation reproduces the same drafts.
var sectionOrder = []struct {
	header   string
	category types.MemoryFactCategory
}{
	{"User goals:", types.CategoryGoal},
	{"Verified actions:", types.CategoryVerifiedAction},
	{"Important artifacts/paths:", types.CategoryArtifact},
	{"Known invalid paths (avoid reuse unless user asks to re-verify):", types.CategoryInvalidPath},
	{"Open items:", types.CategoryOpenItem},
}

// BuildInjectionText renders the session's active (or pinned) memory facts
// into the sectioned, marker-tagged text the Reply Orchestrator injects as
// an agent-only user message ahead of the next provider turn (SPEC_FULL.md
// §4.5/§6). Facts are grouped by category in sectionOrder, pinned first and
// then newest first within a section; categories with no facts are omitted
// entirely.
func BuildInjectionText(facts []types.MemoryFact) string {
	byCategory := map[types.MemoryFactCategory][]types.MemoryFact{}
	for _, f := range facts {
		if f.Status != types.MemoryFactActive && !f.Pinned {
			continue
		}
		category := normalizeCategory(f.Category)
		if category == types.CategoryArtifactPath {
			category = types.CategoryArtifact
		}
		byCategory[category] = append(byCategory[category], f)
	}
	for category := range byCategory {
		list := byCategory[category]
		sort.SliceStable(list, func(i, j int) bool { return lessFact(list[i], list[j]) })
		byCategory[category] = list
	}

	var b strings.Builder
	b.WriteString(MemoryInjectionMarker)
	b.WriteString("\n")

	wroteAny := false
	for _, section := range sectionOrder {
		list := byCategory[section.category]
		if len(list) == 0 {
			continue
		}
		wroteAny = true
		b.WriteString(section.header)
		b.WriteString("\n")
		for _, f := range list {
			b.WriteString("- ")
			b.WriteString(f.Content)
			b.WriteString("\n")
		}
	}

	if !wroteAny {
		return ""
	}
	return strings.TrimRight(b.String(), "\n")
}
