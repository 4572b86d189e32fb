package memory

import (
	"strings"

	"github.com/jsjm1986/agime/pkg/types"
)

const (
	DefaultConfidenceUser        = 1.0
	DefaultConfidenceCFPM        = 0.7
	DefaultConfidenceInvalidPath = 0.9
	MinConfidence                = 0.05
	MaxConfidence                = 1.0
)

// FactDraft is a candidate fact awaiting validation and merge, mirroring the
// original's MemoryFactDraft: a category/content pair plus optional
// metadata the extractor may already know (confidence, evidence count,
// validation provenance).
type FactDraft struct {
	Category          types.MemoryFactCategory
	Content           string
	Source            types.MemoryFactSource
	Pinned            bool
	Confidence        *float64
	EvidenceCount     *int
	LastValidatedAt   *int64
	ValidationCommand string
}

func normalizeCategory(category types.MemoryFactCategory) types.MemoryFactCategory {
	trimmed := strings.TrimSpace(string(category))
	if trimmed == "" {
		return types.CategoryNote
	}
	return types.MemoryFactCategory(strings.ReplaceAll(strings.ToLower(trimmed), " ", "_"))
}

func normalizeContent(content string) string {
	return strings.TrimSpace(content)
}

func normalizeSource(source types.MemoryFactSource) types.MemoryFactSource {
	trimmed := strings.TrimSpace(string(source))
	if trimmed == "" {
		return types.MemorySourceUser
	}
	return types.MemoryFactSource(strings.ToLower(trimmed))
}

func normalizeValidationCommand(command string) string {
	return strings.TrimSpace(command)
}

func clampConfidence(confidence float64) float64 {
	if confidence != confidence { // NaN
		return DefaultConfidenceCFPM
	}
	if confidence < MinConfidence {
		return MinConfidence
	}
	if confidence > MaxConfidence {
		return MaxConfidence
	}
	return confidence
}

func normalizeEvidenceCount(count int) int {
	if count < 1 {
		return 1
	}
	return count
}

func defaultConfidenceFor(source types.MemoryFactSource, category types.MemoryFactCategory) float64 {
	if category == types.CategoryInvalidPath {
		return DefaultConfidenceInvalidPath
	}
	if source == types.MemorySourceUser {
		return DefaultConfidenceUser
	}
	return DefaultConfidenceCFPM
}

func isInvalidPathCategory(category types.MemoryFactCategory) bool {
	return category == types.CategoryInvalidPath || category == "artifact_invalid_path"
}

func isArtifactCategory(category types.MemoryFactCategory) bool {
	return strings.HasPrefix(string(category), "artifact")
}

// resolveFactMetadata normalizes a draft's confidence/evidence/validation
// fields, defaulting confidence by source+category and stamping
// lastValidatedAt for invalid-path/artifact facts that don't carry one.
func resolveFactMetadata(source types.MemoryFactSource, category types.MemoryFactCategory, confidence *float64, evidenceCount *int, lastValidatedAt *int64, validationCommand string, now int64) (float64, int, *int64, string) {
	c := DefaultConfidenceCFPM
	if confidence != nil {
		c = *confidence
	} else {
		c = defaultConfidenceFor(source, category)
	}
	c = clampConfidence(c)

	e := 1
	if evidenceCount != nil {
		e = *evidenceCount
	}
	e = normalizeEvidenceCount(e)

	validated := lastValidatedAt
	if isInvalidPathCategory(category) || isArtifactCategory(category) {
		if validated == nil {
			stamped := now
			validated = &stamped
		}
	}

	return c, e, validated, normalizeValidationCommand(validationCommand)
}

func mergeValidationTimestamp(current, incoming *int64) *int64 {
	switch {
	case current != nil && incoming != nil:
		if *current >= *incoming {
			return current
		}
		return incoming
	case incoming != nil:
		return incoming
	default:
		return current
	}
}

func factKey(category types.MemoryFactCategory, content string) string {
	return string(category) + "::" + strings.ToLower(content)
}
