package memory

import (
	"strings"

	"github.com/jsjm1986/agime/pkg/types"
)

// MemoryInjectionMarker identifies the agent-only message the Reply
// Orchestrator injects with the current CFPM fact summary (SPEC_FULL.md
// §4.5/§6). It is never shown to the user; the loop scans backward for the
// most recent one when it needs to extract drafts from a prior injection
// or decide whether a fresh one is due.
const MemoryInjectionMarker = "[CFPM_MEMORY_V1]"

// sectionHeaders maps the literal section header lines the injected memory
// message uses to the category drafts parsed under that header carry.
var sectionHeaders = map[string]types.MemoryFactCategory{
	"User goals:":                      types.CategoryGoal,
	"Verified actions:":                types.CategoryVerifiedAction,
	"Important artifacts/paths:":       types.CategoryArtifact,
	"Known artifacts/paths (prefer direct use):": types.CategoryArtifact,
	"Known invalid paths (avoid reuse unless user asks to re-verify):": types.CategoryInvalidPath,
	"Open items:": types.CategoryOpenItem,
}

// ParseFactDrafts scans a rendered memory message (or any "- " bulleted
// text under the recognized section headers) and returns the cfpm_auto
// drafts it names, validating and deduping as it goes.
func ParseFactDrafts(text string) []FactDraft {
	var currentCategory types.MemoryFactCategory
	haveCategory := false
	var drafts []FactDraft
	dedupe := map[string]bool{}

	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" {
			continue
		}

		if category, ok := sectionHeaders[line]; ok {
			currentCategory = category
			haveCategory = true
			continue
		}

		if !strings.HasPrefix(line, "- ") {
			continue
		}
		if !haveCategory {
			continue
		}

		content := normalizeContent(strings.TrimPrefix(line, "- "))
		if content == "" {
			continue
		}
		if _, ok := evaluateAutoCandidate(currentCategory, content); !ok {
			continue
		}

		key := factKey(currentCategory, content)
		if dedupe[key] {
			continue
		}
		dedupe[key] = true

		drafts = append(drafts, FactDraft{
			Category: currentCategory,
			Content:  content,
			Source:   types.MemorySourceCFPMAuto,
		})
	}

	return drafts
}

// FindMemoryInjectionMessage scans messages backward for the last
// agent-visible, not-user-visible message whose concatenated text carries
// MemoryInjectionMarker — the convention the Reply Orchestrator uses to
// locate its own prior CFPM injection.
func FindMemoryInjectionMessage(messages []*types.Message) (*types.Message, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.AgentVisible && !m.UserVisible && strings.Contains(m.Text(), MemoryInjectionMarker) {
			return m, true
		}
	}
	return nil, false
}

// ExtractDraftsFromConversation locates the most recent memory-injection
// message in messages and parses its drafts, for a "replace from last
// known-good state" recovery path.
func ExtractDraftsFromConversation(messages []*types.Message) []FactDraft {
	message, ok := FindMemoryInjectionMessage(messages)
	if !ok {
		return nil
	}
	return ParseFactDrafts(message.Text())
}

func pushRuntimeDraft(drafts *[]FactDraft, dedupe map[string]bool, category types.MemoryFactCategory, content string, validationCommand string) {
	category = normalizeCategory(category)
	content = normalizeContent(content)
	if content == "" || looksLikeNoiseLine(content) || looksLikeRuntimeLogNoise(content) {
		return
	}
	if _, ok := evaluateAutoCandidate(category, content); !ok {
		return
	}
	key := factKey(category, content)
	if dedupe[key] {
		return
	}
	dedupe[key] = true
	*drafts = append(*drafts, FactDraft{
		Category:          category,
		Content:           content,
		Source:            types.MemorySourceCFPMAuto,
		ValidationCommand: normalizeValidationCommand(validationCommand),
	})
}

const maxCommandHintChars = types.MaxMemoryFactContentLen

func truncateForMemoryMetadata(input string, maxChars int) string {
	runes := []rune(input)
	if len(runes) <= maxChars {
		return input
	}
	return string(runes[:maxChars])
}

// extractToolRequestCommandHint pulls a command/cmd/script argument off a
// tool call's input so failure/success lines mentioning it can be attached
// as validationCommand evidence.
func extractToolRequestCommandHint(input map[string]any) (string, bool) {
	for _, key := range []string{"command", "cmd", "script"} {
		raw, ok := input[key]
		if !ok {
			continue
		}
		str, ok := raw.(string)
		if !ok {
			continue
		}
		normalized := normalizeContent(str)
		if normalized == "" {
			continue
		}
		return truncateForMemoryMetadata(normalized, maxCommandHintChars), true
	}
	return "", false
}

func extractInvalidPathsFromFailureLine(line string) []string {
	if !looksLikePathFailureLine(line) {
		return nil
	}
	if strings.Contains(strings.ToLower(line), "do not show tmp file to user") {
		return nil
	}
	var out []string
	for _, path := range extractCandidatePathsFromText(line) {
		lowered := strings.ToLower(path)
		if strings.Contains(lowered, `\appdata\local\temp\.`) || strings.HasSuffix(lowered, ".tmp") || isSymbolicPathReference(path) {
			continue
		}
		out = append(out, path)
	}
	return out
}

// ExtractRuntimeDrafts scans recent conversation messages for cfpm_auto
// candidates: invalid paths surfaced by tool failures, verified-action
// lines tied to a tool's command, and goal/open-item lines in assistant or
// user text — mirroring extract_runtime_cfpm_memory_drafts.
func ExtractRuntimeDrafts(messages []*types.Message) []FactDraft {
	var drafts []FactDraft
	dedupe := map[string]bool{}
	commandHints := map[string]string{}

	for _, message := range messages {
		for _, part := range message.Parts {
			toolPart, ok := part.(*types.ToolPart)
			if !ok {
				continue
			}
			if hint, ok := extractToolRequestCommandHint(toolPart.State.Input); ok {
				commandHints[toolPart.ToolCallID] = hint
			}
		}

		for _, part := range message.Parts {
			textPart, ok := part.(*types.TextPart)
			if !ok {
				continue
			}
			for _, rawLine := range strings.Split(textPart.Text, "\n") {
				trimmed := strings.TrimSpace(rawLine)
				if trimmed == "" {
					continue
				}
				for _, invalidPath := range extractInvalidPathsFromFailureLine(trimmed) {
					pushRuntimeDraft(&drafts, dedupe, types.CategoryInvalidPath, invalidPath, "")
				}
				if looksLikeVerifiedLine(trimmed) || strings.Contains(strings.ToLower(trimmed), "exit code: 0") {
					pushRuntimeDraft(&drafts, dedupe, types.CategoryVerifiedAction, trimmed, "")
				}
				if looksLikeOpenItemLine(trimmed) {
					pushRuntimeDraft(&drafts, dedupe, types.CategoryOpenItem, trimmed, "")
				}
				if message.Role == "user" && looksLikeGoalLine(trimmed) {
					pushRuntimeDraft(&drafts, dedupe, types.CategoryGoal, trimmed, "")
				}
			}
		}

		for _, part := range message.Parts {
			toolPart, ok := part.(*types.ToolPart)
			if !ok || toolPart.State.Status != "completed" {
				continue
			}
			hint := commandHints[toolPart.ToolCallID]
			for _, block := range toolPart.State.Output {
				if block.Kind != "text" {
					continue
				}
				for _, rawLine := range strings.Split(block.Text, "\n") {
					trimmed := strings.TrimSpace(rawLine)
					if trimmed == "" {
						continue
					}
					for _, invalidPath := range extractInvalidPathsFromFailureLine(trimmed) {
						pushRuntimeDraft(&drafts, dedupe, types.CategoryInvalidPath, invalidPath, hint)
					}
					if looksLikeVerifiedLine(trimmed) {
						pushRuntimeDraft(&drafts, dedupe, types.CategoryVerifiedAction, trimmed, hint)
					}
				}
			}
		}
	}

	return drafts
}

var goalKeywords = []string{"need", "must", "should", "want", "goal", "需要", "必须", "目标", "要求"}

func looksLikeGoalLine(line string) bool {
	lowered := strings.ToLower(line)
	for _, keyword := range goalKeywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}
