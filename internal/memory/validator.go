package memory

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/jsjm1986/agime/pkg/types"
)

// transientDumpMarkers flags lines that are clearly raw tool/shell output
// rather than a durable fact worth remembering.
var transientDumpMarkers = []string{
	"private note: output was",
	"truncated output",
	"do not show tmp file to user",
	"categoryinfo",
	"fullyqualifiederrorid",
	"itemnotfoundexception",
	"pathnotfound",
	"commandnotfoundexception",
	"available windows:",
	"lastwritetime",
}

func looksLikeTransientToolDump(line string) bool {
	if strings.ContainsRune(line, '\x1b') {
		return true
	}
	lowered := strings.ToLower(line)
	for _, marker := range transientDumpMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

var noiseMarkers = []string{
	"error", "failed", "failure", "exception", "traceback",
	"cannot find", "cannot access", "access denied", "permission denied", "is denied",
	"not found", "enoent", "exit code: 1", "exit code: 2", "does not exist",
	"path not found", "could not find", "no such file", "no such file or directory",
	"pathnotfound", "itemnotfoundexception", "fullyqualifiederrorid", "categoryinfo",
	"the system cannot find the path specified", "commandnotfoundexception",
	"系统找不到指定的路径", "找不到指定的路径", "无法访问", "访问不了", "拒绝访问",
	"找不到路径", "权限不足", "失败", "报错", "错误", "未找到", "不存在",
}

func looksLikeNoiseLine(line string) bool {
	if looksLikeTransientToolDump(line) {
		return true
	}
	lowered := strings.ToLower(line)
	for _, marker := range noiseMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

var runtimeLogNoiseMarkers = []string{
	"[stdout]", "[stderr]", "running ", "tool details", "systemnotification",
	"traceback", "stack trace", "command output", "directory:", "mode   ",
	"日志", "工具详情",
}

func looksLikeRuntimeLogNoise(line string) bool {
	if looksLikeTransientToolDump(line) {
		return true
	}
	lowered := strings.ToLower(line)
	for _, marker := range runtimeLogNoiseMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

var pathFailureMarkers = []string{
	"cannot find path", "path not found", "the system cannot find the path specified",
	"does not exist", "not found", "itemnotfoundexception", "pathnotfound",
	"cannot access", "access denied", "permission denied", "enoent", "no such file",
	"系统找不到指定的路径", "找不到指定的路径", "找不到路径", "未找到", "不存在",
	"无法访问", "访问不了", "权限不足", "拒绝访问",
}

func looksLikePathFailureLine(line string) bool {
	lowered := strings.ToLower(line)
	for _, marker := range pathFailureMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

func looksLikeDateToken(value string) bool {
	token := strings.TrimFunc(value, func(r rune) bool {
		return strings.ContainsRune(`"',.)([]{}<>`, r)
	})
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}

	for _, sep := range []string{"/", "-", "."} {
		if !strings.Contains(token, sep) {
			continue
		}
		parts := strings.Split(token, sep)
		if len(parts) != 3 {
			continue
		}
		allDigits := true
		for _, p := range parts {
			if p == "" || !isAllDigits(p) {
				allDigits = false
				break
			}
		}
		if !allDigits {
			continue
		}
		first, err1 := strconv.Atoi(parts[0])
		second, err2 := strconv.Atoi(parts[1])
		third, err3 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		if len(parts[0]) == 4 && first >= 1900 && first <= 2200 && second >= 1 && second <= 12 && third >= 1 && third <= 31 {
			return true
		}
		if len(parts[2]) == 4 && third >= 1900 && third <= 2200 && second >= 1 && second <= 12 && first >= 1 && first <= 31 {
			return true
		}
	}
	return false
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isUnhelpfulArtifact(content string) bool {
	trimmed := normalizeContent(content)
	lowered := strings.ToLower(trimmed)
	return trimmed == "" ||
		looksLikeDateToken(trimmed) ||
		len([]rune(trimmed)) > types.MaxMemoryFactContentLen ||
		strings.Contains(trimmed, "\n") ||
		strings.Contains(trimmed, "\r") ||
		strings.Contains(lowered, `\appdata\local\temp\`) ||
		strings.Contains(lowered, "/appdata/local/temp/") ||
		strings.Contains(lowered, `\temp\.`) ||
		strings.HasSuffix(lowered, ".tmp") ||
		looksLikeTransientToolDump(trimmed)
}

var structuredCatalogCutset = "`"

func looksLikeStructuredCatalogLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	lowered := strings.ToLower(trimmed)
	return strings.HasPrefix(trimmed, "#") ||
		strings.HasPrefix(trimmed, "|") ||
		strings.HasSuffix(trimmed, "|") ||
		strings.HasPrefix(trimmed, "```") ||
		strings.HasPrefix(trimmed, "- `") ||
		strings.HasPrefix(trimmed, "* `") ||
		strings.Contains(trimmed, "| `") ||
		strings.Contains(trimmed, "` |") ||
		(strings.Contains(lowered, "skills") && strings.ContainsAny(trimmed, structuredCatalogCutset))
}

var openItemPrefixMarkers = []string{
	"todo:", "todo ", "- todo", "* todo", "[ ]", "- [ ]",
	"pending:", "next step:", "next:", "later:",
	"待办", "下一步", "后续", "继续:", "继续：",
}

var openItemWeakLabels = []string{"task management", "skills", "能力列表", "功能列表", "任务管理"}

func looksLikeOpenItemLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || looksLikeStructuredCatalogLine(trimmed) {
		return false
	}
	lowered := strings.ToLower(trimmed)
	hasPrefix := false
	for _, marker := range openItemPrefixMarkers {
		if strings.HasPrefix(lowered, marker) || strings.HasPrefix(trimmed, marker) {
			hasPrefix = true
			break
		}
	}
	if !hasPrefix {
		return false
	}
	for _, label := range openItemWeakLabels {
		if (strings.Contains(lowered, label) || strings.Contains(trimmed, label)) && len([]rune(trimmed)) <= 24 {
			return false
		}
	}
	return true
}

var verifiedLineKeywords = []string{
	"done", "completed", "completed successfully", "successfully",
	"saved to", "saved at", "written to", "resolved to", "found at",
	"renamed to", "moved to", "fixed", "resolved", "verified", "validated",
	"exit code: 0",
	"已完成", "完成了", "已保存", "保存到", "写入到", "成功找到", "成功定位",
	"成功执行", "找到了", "已找到", "已修复", "已解决", "已验证", "已确认",
}

func looksLikeVerifiedLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || looksLikeStructuredCatalogLine(trimmed) || looksLikePathFailureLine(trimmed) {
		return false
	}
	lowered := strings.ToLower(trimmed)
	for _, keyword := range verifiedLineKeywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}

var pathTrimCutset = "\"'`*,;.:!?，。：；！？、“”（）)(][{}<>"

func normalizePathToken(token string) string {
	return strings.TrimSpace(strings.TrimFunc(token, func(r rune) bool {
		return strings.ContainsRune(pathTrimCutset, r)
	}))
}

var (
	windowsPathRe = regexp.MustCompile(`[A-Za-z]:\\(?:[^\\/:*?"<>|\r\n\s` + "`" + `。，：；！？、]+\\)*[^\\/:*?"<>|\r\n\s` + "`" + `。，：；！？、]*`)
	unixPathRe    = regexp.MustCompile(`(?:\./|\.\./|/)?(?:[A-Za-z0-9._-]+/)+[A-Za-z0-9._-]+(?:\.[A-Za-z0-9._-]+)?`)
)

func isSymbolicPathReference(path string) bool {
	lowered := strings.ToLower(strings.TrimSpace(path))
	return strings.HasPrefix(lowered, "$env:") ||
		strings.HasPrefix(lowered, "$home") ||
		strings.HasPrefix(lowered, "~/") ||
		strings.HasPrefix(lowered, `~\`) ||
		strings.HasPrefix(lowered, "%userprofile%") ||
		strings.HasPrefix(lowered, "%homepath%") ||
		strings.Contains(lowered, "[environment]::getfolderpath") ||
		strings.Contains(lowered, "%userprofile%")
}

func isConcreteAbsolutePath(path string) bool {
	token := normalizePathToken(path)
	if token == "" || isSymbolicPathReference(token) {
		return false
	}
	hasDrivePrefix := len(token) >= 3 && isASCIIAlpha(token[0]) && token[1] == ':' && token[2] == '\\'
	isUNC := strings.HasPrefix(token, `\\`)
	isUnixAbsolute := strings.HasPrefix(token, "/")
	return hasDrivePrefix || isUNC || isUnixAbsolute
}

func isASCIIAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// looksLikePathCandidate is a liberal syntactic filter: does this token look
// enough like a filesystem path to be worth path-specific validation? It is
// deliberately permissive; evaluateAutoCandidate layers stricter checks on
// top for invalid_path/artifact categories.
func looksLikePathCandidate(content string) bool {
	token := normalizePathToken(content)
	if len([]rune(token)) < 3 {
		return false
	}
	if len([]rune(token)) > 320 ||
		strings.Contains(token, "\n") ||
		strings.Contains(token, "\r") ||
		strings.ContainsRune(token, '\x1b') ||
		strings.ContainsRune(token, '�') {
		return false
	}
	if strings.ContainsAny(token, "`|，。：；！？、") {
		return false
	}
	if looksLikeDateToken(token) || looksLikeTransientToolDump(token) {
		return false
	}
	if isSymbolicPathReference(token) {
		return false
	}
	if strings.HasPrefix(token, "http://") || strings.HasPrefix(token, "https://") {
		return false
	}
	if strings.HasPrefix(token, "/") && !strings.Contains(token, `\`) && strings.Count(token, "/") == 1 {
		rest := token[1:]
		onlySlashCommandChars := true
		for _, r := range rest {
			if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-' || r == '.') {
				onlySlashCommandChars = false
				break
			}
		}
		if onlySlashCommandChars {
			return false
		}
	}
	if len(strings.Fields(token)) > 8 {
		return false
	}
	if strings.Contains(token, `:\`) {
		runes := []rune(token)
		validDrivePrefix := len(runes) >= 3 && isASCIIAlphaRune(runes[0]) && runes[1] == ':' && runes[2] == '\\'
		if !validDrivePrefix {
			return false
		}
		if strings.ContainsRune(token[2:], ':') {
			return false
		}
	}
	hasAlpha := false
	for _, r := range token {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			hasAlpha = true
			break
		}
	}
	if strings.Contains(token, "/") && !strings.Contains(token, `\`) && !strings.Contains(token, ":") && !hasAlpha {
		return false
	}

	isWindowsPath := strings.Contains(token, `:\`) || strings.HasPrefix(token, `\\`) || strings.HasPrefix(token, `.\`) || strings.HasPrefix(token, `~\`)
	isUnixPath := strings.HasPrefix(token, "./") || strings.HasPrefix(token, "../") || strings.HasPrefix(token, "/") || strings.HasPrefix(token, "~/")
	hasPathSeparator := strings.Contains(token, `\`) || strings.Contains(token, "/")

	return (isWindowsPath || isUnixPath || hasPathSeparator) && !strings.HasPrefix(token, "--") && !strings.HasPrefix(token, "-")
}

func isASCIIAlphaRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

var projectRootNames = map[string]bool{
	"src": true, "lib": true, "test": true, "tests": true, "docs": true,
	"crates": true, "ui": true, "scripts": true, "app": true, "server": true, "client": true,
}

func isProjectRelativePathCandidate(path string) bool {
	token := normalizePathToken(path)
	if token == "" || isSymbolicPathReference(token) || isConcreteAbsolutePath(token) || strings.HasPrefix(token, "/") {
		return false
	}
	normalized := strings.ReplaceAll(token, `\`, "/")
	var segments []string
	for _, seg := range strings.Split(normalized, "/") {
		if strings.TrimSpace(seg) != "" {
			segments = append(segments, seg)
		}
	}
	if len(segments) < 2 {
		return false
	}
	last := segments[len(segments)-1]
	hasExtension := strings.Contains(last, ".") && !strings.HasPrefix(last, ".")
	hasCommonRoot := projectRootNames[strings.ToLower(segments[0])]
	return hasExtension || hasCommonRoot
}

func looksLikeKnownFolderPath(path string) bool {
	normalized := strings.ReplaceAll(strings.ToLower(normalizePathToken(path)), "/", `\`)
	normalized = strings.TrimRight(normalized, `\`)
	return strings.HasSuffix(normalized, `\desktop`) ||
		strings.HasSuffix(normalized, `\documents`) ||
		strings.HasSuffix(normalized, `\downloads`)
}

func isExplicitPathLine(line string, pathCandidates []string) bool {
	if len(pathCandidates) == 0 {
		return false
	}
	normalizedLine := strings.TrimSpace(strings.TrimFunc(line, func(r rune) bool {
		return strings.ContainsRune(`"',;)(][}{<>`, r)
	}))
	if normalizedLine == "" {
		return false
	}
	for _, candidate := range pathCandidates {
		if strings.EqualFold(normalizedLine, candidate) {
			return true
		}
	}
	return false
}

func lineWrapsOnlyPaths(line string, pathCandidates []string) bool {
	if len(pathCandidates) == 0 {
		return false
	}
	unique := make([]string, 0, len(pathCandidates))
	seen := map[string]bool{}
	for _, c := range pathCandidates {
		n := normalizePathToken(c)
		if n == "" {
			continue
		}
		lower := strings.ToLower(n)
		if seen[lower] {
			continue
		}
		seen[lower] = true
		unique = append(unique, n)
	}
	// longest-first so a shorter candidate doesn't consume part of a longer one
	for i := 1; i < len(unique); i++ {
		for j := i; j > 0 && len(unique[j]) > len(unique[j-1]); j-- {
			unique[j], unique[j-1] = unique[j-1], unique[j]
		}
	}

	normalized := line
	for _, candidate := range unique {
		normalized = strings.ReplaceAll(normalized, candidate, " ")
	}

	const punctuation = "`\"',;.:!?，。：；！？、“”()[]{}<>|"
	for _, r := range normalized {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		if !strings.ContainsRune(punctuation, r) {
			return false
		}
	}
	return true
}

func looksLikeCleanPathMemoryContent(content string) bool {
	normalized := normalizeContent(content)
	if normalized == "" || looksLikeTransientToolDump(normalized) || looksLikeRuntimeLogNoise(normalized) {
		return false
	}
	candidates := extractCandidatePathsFromText(normalized)
	if len(candidates) == 0 {
		return false
	}
	return isExplicitPathLine(normalized, candidates) || lineWrapsOnlyPaths(normalized, candidates)
}

func extractCandidatePathsFromText(text string) []string {
	var paths []string
	seen := map[string]bool{}
	add := func(token string) {
		if !looksLikePathCandidate(token) {
			return
		}
		key := strings.ToLower(token)
		if seen[key] {
			return
		}
		seen[key] = true
		paths = append(paths, token)
	}

	normalizedWhole := normalizePathToken(text)
	if !strings.ContainsAny(normalizedWhole, " \t\n\r") {
		add(normalizedWhole)
	}

	for _, re := range []*regexp.Regexp{windowsPathRe, unixPathRe} {
		for _, match := range re.FindAllString(text, -1) {
			add(normalizePathToken(match))
		}
	}

	for _, raw := range strings.Fields(text) {
		token := normalizePathToken(raw)
		if len([]rune(token)) < 3 {
			continue
		}
		add(token)
	}

	return paths
}

func canonicalizeMemoryPathForCompare(path string) (string, bool) {
	token := normalizePathToken(path)
	if token == "" || !looksLikePathCandidate(token) || !isConcreteAbsolutePath(token) {
		return "", false
	}
	canonical := strings.ReplaceAll(strings.ToLower(token), "/", `\`)
	canonical = strings.TrimRight(canonical, `\`)
	if canonical == "" {
		return "", false
	}
	return canonical, true
}

func collectCanonicalPathsForCompare(content string) map[string]bool {
	out := map[string]bool{}
	for _, candidate := range extractCandidatePathsFromText(content) {
		if canonical, ok := canonicalizeMemoryPathForCompare(candidate); ok {
			out[canonical] = true
		}
	}
	return out
}

func collectInvalidPathCanonicalsFromFacts(facts []types.MemoryFact) map[string]bool {
	out := map[string]bool{}
	for _, fact := range facts {
		if fact.Status != types.MemoryFactActive && !fact.Pinned {
			continue
		}
		category := normalizeCategory(fact.Category)
		if !isInvalidPathCategory(category) {
			continue
		}
		for canonical := range collectCanonicalPathsForCompare(fact.Content) {
			out[canonical] = true
		}
	}
	return out
}

func collectInvalidPathCanonicalsFromDrafts(drafts []FactDraft) map[string]bool {
	out := map[string]bool{}
	for _, draft := range drafts {
		category := normalizeCategory(draft.Category)
		if !isInvalidPathCategory(category) {
			continue
		}
		for canonical := range collectCanonicalPathsForCompare(draft.Content) {
			out[canonical] = true
		}
	}
	return out
}

func artifactConflictsWithInvalidPaths(category types.MemoryFactCategory, content string, invalidPaths map[string]bool) bool {
	if len(invalidPaths) == 0 || !isArtifactCategory(category) {
		return false
	}
	for canonical := range collectCanonicalPathsForCompare(content) {
		if invalidPaths[canonical] {
			return true
		}
	}
	return false
}

// evaluateAutoCandidate is the master validator, mirroring
// evaluate_cfpm_auto_candidate: it returns ("", true) when the (category,
// content) pair is acceptable, or (rejectionReason, false) otherwise.
func evaluateAutoCandidate(category types.MemoryFactCategory, content string) (string, bool) {
	if content == "" {
		return types.ReasonEmptyContent, false
	}
	if looksLikeNoiseLine(content) {
		return "noise_error_line", false
	}
	if looksLikeRuntimeLogNoise(content) {
		return "runtime_log_noise", false
	}
	if len([]rune(content)) < 2 {
		return "too_short", false
	}

	switch {
	case isInvalidPathCategory(category):
		if isUnhelpfulArtifact(content) {
			return "invalid_path_unhelpful", false
		}
		if !looksLikePathCandidate(content) {
			return "invalid_path_not_path_like", false
		}
		if !looksLikeCleanPathMemoryContent(content) {
			return "invalid_path_not_clean_path", false
		}
		if token := normalizePathToken(content); !isConcreteAbsolutePath(token) {
			return "invalid_path_not_concrete_absolute", false
		}
	case isArtifactCategory(category):
		if isUnhelpfulArtifact(content) {
			return types.ReasonArtifactUnhelpful, false
		}
		if !looksLikePathCandidate(content) {
			return "artifact_not_path_like", false
		}
		if !looksLikeCleanPathMemoryContent(content) {
			return "artifact_not_clean_path", false
		}
		token := normalizePathToken(content)
		if !isConcreteAbsolutePath(token) && !isProjectRelativePathCandidate(token) {
			return "artifact_not_absolute_or_project_relative", false
		}
		if isConcreteAbsolutePath(token) && looksLikeKnownFolderPath(token) && !dirExists(token) {
			return "artifact_known_folder_missing", false
		}
	case category == types.CategoryOpenItem:
		if !looksLikeOpenItemLine(content) {
			return "open_item_unconfirmed", false
		}
	case category == types.CategoryVerifiedAction:
		if !looksLikeVerifiedLine(content) && !strings.Contains(strings.ToLower(content), "exit code: 0") {
			return "verified_action_unconfirmed", false
		}
	}

	return "", true
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
