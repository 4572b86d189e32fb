package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jsjm1986/agime/internal/clienttool"
	"github.com/jsjm1986/agime/internal/event"
	"github.com/jsjm1986/agime/internal/permission"
	"github.com/jsjm1986/agime/internal/retry"
	"github.com/jsjm1986/agime/internal/tool"
	"github.com/jsjm1986/agime/pkg/types"
	"github.com/sergi/go-diff/diffmatchpatch"
	"golang.org/x/sync/errgroup"
)

// toolCategory classifies a pending tool request for Tool Dispatcher routing
// (§4.1.h/§4.2): frontend tools return to the registered client over its own
// result channel, the final-output tool ends the turn, extension-manager
// tools mutate shared dynamic extension state, and everything else is a
// regular tool joined into the concurrent batch.
type toolCategory int

const (
	categoryRegular toolCategory = iota
	categoryFrontend
	categoryFinalOutput
	categoryExtensionManager
)

func categorizeTool(name string) toolCategory {
	switch {
	case name == retry.FinalOutputToolName:
		return categoryFinalOutput
	case name == tool.ExtensionManagerToolID:
		return categoryExtensionManager
	case clienttool.IsClientTool(name):
		return categoryFrontend
	default:
		return categoryRegular
	}
}

const frontendToolTimeout = 5 * time.Minute

// maxToolOutputBytes/maxToolStreamBytes implement §4.2's Execution
// truncation rules: stored tool output is capped at 32,000 bytes on a safe
// UTF-8 boundary, and anything streamed to a UI gets a further cap to keep
// event payloads small.
const (
	maxToolOutputBytes = 32000
	maxToolStreamBytes = 2000
)

// truncateUTF8 cuts s to at most max bytes, backing off to the nearest
// UTF-8 rune boundary so a multi-byte character is never split.
func truncateUTF8(s string, max int) (string, bool) {
	if len(s) <= max {
		return s, false
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}

func truncateToolOutput(s string) string {
	cut, truncated := truncateUTF8(s, maxToolOutputBytes)
	if !truncated {
		return s
	}
	return fmt.Sprintf("%s\n[truncated: showing first %d of %d bytes]", cut, len(cut), len(s))
}

func truncateForStreaming(s string) string {
	cut, truncated := truncateUTF8(s, maxToolStreamBytes)
	if !truncated {
		return s
	}
	return cut + "…"
}

// streamingToolState returns a copy of state with text output blocks capped
// for UI streaming (§4.2), leaving the persisted ToolPart untouched.
func streamingToolState(state types.ToolState) *types.ToolState {
	if len(state.Output) == 0 {
		return &state
	}
	blocks := make([]types.ContentBlock, len(state.Output))
	for i, b := range state.Output {
		if b.Kind == "text" {
			b.Text = truncateForStreaming(b.Text)
		}
		blocks[i] = b
	}
	state.Output = blocks
	return &state
}

// executeToolCalls categorizes and dispatches all pending tool calls in the
// state (§4.1.h/§4.2). Regular tools run concurrently, joined via errgroup,
// under a read lock on the session's shared dynamic extension state.
// Frontend tools round-trip through the registered client. Extension-manager
// tools run serially under a write lock on that same state. The final-output
// tool runs last and, on success, sets state.finalOutput so the reply loop
// ends the turn (§4.1.b).
func (p *Processor) executeToolCalls(
	ctx context.Context,
	state *sessionState,
	agent *Agent,
	callback ProcessCallback,
) error {
	// Find all running tool parts
	var pendingTools []*types.ToolPart
	for _, part := range state.parts {
		if toolPart, ok := part.(*types.ToolPart); ok {
			if toolPart.State.Status == "running" {
				pendingTools = append(pendingTools, toolPart)
			}
		}
	}

	var regular, frontend, extMgr, finalOutput []*types.ToolPart
	for _, tp := range pendingTools {
		switch categorizeTool(tp.ToolName) {
		case categoryFinalOutput:
			finalOutput = append(finalOutput, tp)
		case categoryExtensionManager:
			extMgr = append(extMgr, tp)
		case categoryFrontend:
			frontend = append(frontend, tp)
		default:
			regular = append(regular, tp)
		}
	}

	// Regular tools: concurrent, task-joined, read lock on extension state.
	if len(regular) > 0 {
		p.extMu.RLock()
		g, gctx := errgroup.WithContext(ctx)
		for _, tp := range regular {
			tp := tp
			g.Go(func() error {
				_ = p.executeSingleTool(gctx, state, agent, tp, callback)
				return nil
			})
		}
		_ = g.Wait()
		p.extMu.RUnlock()
	}

	// Frontend tools: dispatched to the owning client and stitched back via
	// its own result channel. Run serially so UI ordering stays predictable.
	for _, tp := range frontend {
		_ = p.executeFrontendTool(ctx, state, tp, callback)
	}

	// Extension-manager tools: serial, under a write lock, since they mutate
	// the shared dynamic extension state the regular batch only reads.
	for _, tp := range extMgr {
		p.extMu.Lock()
		err := p.executeSingleTool(ctx, state, agent, tp, callback)
		if err == nil {
			p.applyExtensionStateChange(state, tp)
		}
		p.extMu.Unlock()
	}

	// Final-output tool: serial, and ends the turn on success (§4.1.b).
	for _, tp := range finalOutput {
		if err := p.executeSingleTool(ctx, state, agent, tp, callback); err != nil {
			continue
		}
		if tp.State.Status == "completed" {
			text := toolOutputText(tp.State.Output)
			state.finalOutput = &text
		}
	}

	return nil
}

// toolOutputText concatenates the text blocks of a tool result.
func toolOutputText(blocks []types.ContentBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Kind == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// applyExtensionStateChange persists an extension_manager tool's result into
// the session's ExtensionState blob (§3), under the caller's write lock.
func (p *Processor) applyExtensionStateChange(state *sessionState, toolPart *types.ToolPart) {
	ext, ok := toolPart.State.Metadata["extension"].(string)
	if !ok || ext == "" {
		return
	}
	enabled, _ := toolPart.State.Metadata["extensionState"].(bool)

	session, err := p.loadSession(state.message.SessionID)
	if err != nil {
		return
	}
	if session.ExtensionState == nil {
		session.ExtensionState = make(map[string]any)
	}
	session.ExtensionState[ext] = enabled
	_ = p.saveSession(session)
}

// executeFrontendTool dispatches a tool request to the client that
// registered it, waiting on the clienttool package's own result channel
// (§4.2's "separate channel" for frontend tools).
func (p *Processor) executeFrontendTool(
	ctx context.Context,
	state *sessionState,
	toolPart *types.ToolPart,
	callback ProcessCallback,
) error {
	clientID := clienttool.FindClientForTool(toolPart.ToolName)
	if clientID == "" {
		return p.failTool(ctx, state, toolPart, callback,
			fmt.Sprintf("no client registered for frontend tool: %s", toolPart.ToolName))
	}

	// ToolCallID normally correlates the request/response round-trip, but
	// it is provider-assigned and occasionally empty (e.g. a synthetic
	// retry); fall back to a generated ID so the pending-request map never
	// keys on an empty string.
	requestID := toolPart.ToolCallID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	req := clienttool.ExecutionRequest{
		RequestID: requestID,
		SessionID: state.message.SessionID,
		MessageID: state.message.ID,
		CallID:    toolPart.ToolCallID,
		Tool:      toolPart.ToolName,
		Input:     toolPart.State.Input,
	}

	result, err := clienttool.Execute(ctx, clientID, req, frontendToolTimeout)
	if err != nil {
		return p.failTool(ctx, state, toolPart, callback, err.Error())
	}

	now := time.Now().UnixMilli()
	toolPart.State.Status = "completed"
	toolPart.State.Output = []types.ContentBlock{types.TextBlock(truncateToolOutput(result.Output))}
	title := result.Title
	toolPart.State.Title = &title
	toolPart.State.Time.End = &now

	if result.Metadata != nil {
		if toolPart.State.Metadata == nil {
			toolPart.State.Metadata = make(map[string]any)
		}
		for k, v := range result.Metadata {
			toolPart.State.Metadata[k] = v
		}
	}

	p.savePart(ctx, state.message.ID, toolPart)

	event.PublishSync(event.Event{
		Type: event.ToolResult,
		Data: event.ToolResultData{
			SessionID:  state.message.SessionID,
			MessageID:  state.message.ID,
			ToolCallID: toolPart.ToolCallID,
			ToolName:   toolPart.ToolName,
			State:      streamingToolState(toolPart.State),
		},
	})

	callback(state.message, state.parts)
	return nil
}

// executeSingleTool executes a single tool call.
func (p *Processor) executeSingleTool(
	ctx context.Context,
	state *sessionState,
	agent *Agent,
	toolPart *types.ToolPart,
	callback ProcessCallback,
) error {
	// Get the tool from registry
	t, ok := p.toolRegistry.Get(toolPart.ToolName)
	if !ok {
		return p.failTool(ctx, state, toolPart, callback,
			fmt.Sprintf("Tool not found: %s", toolPart.ToolName))
	}

	// Security inspection runs before permission checking (§4.2 stage 1):
	// flags destructive/exfiltrating shell shapes regardless of the agent's
	// configured Bash permission policy.
	if err := p.checkToolSecurity(ctx, state, toolPart); err != nil {
		return p.failTool(ctx, state, toolPart, callback, err.Error())
	}

	// Check permissions
	if err := p.checkToolPermission(ctx, state, agent, toolPart); err != nil {
		return p.failTool(ctx, state, toolPart, callback, err.Error())
	}

	// Check for doom loop
	if err := p.checkDoomLoop(ctx, state, agent, toolPart); err != nil {
		return p.failTool(ctx, state, toolPart, callback, err.Error())
	}

	// Prepare input JSON
	inputJSON, err := json.Marshal(toolPart.State.Input)
	if err != nil {
		return p.failTool(ctx, state, toolPart, callback,
			fmt.Sprintf("Failed to marshal input: %v", err))
	}

	// Create tool context
	abortCh := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(abortCh)
	}()

	workDir := ""
	if session, err := p.loadSession(state.message.SessionID); err == nil {
		workDir = session.Directory
	}

	toolCtx := &tool.Context{
		SessionID: state.message.SessionID,
		MessageID: state.message.ID,
		CallID:    toolPart.ToolCallID,
		Agent:     agent.Name,
		WorkDir:   workDir,
		AbortCh:   abortCh,
		Extra: map[string]any{
			"model": state.message.ModelID,
		},
	}

	// Set metadata callback for real-time updates
	toolCtx.OnMetadata = func(title string, meta map[string]any) {
		toolPart.State.Title = &title
		if toolPart.State.Metadata == nil {
			toolPart.State.Metadata = make(map[string]any)
		}
		for k, v := range meta {
			toolPart.State.Metadata[k] = v
		}

		event.PublishSync(event.Event{
			Type: event.ToolResult,
			Data: event.ToolResultData{
				SessionID:  state.message.SessionID,
				MessageID:  state.message.ID,
				ToolCallID: toolPart.ToolCallID,
				ToolName:   toolPart.ToolName,
				State:      streamingToolState(toolPart.State),
			},
		})

		callback(state.message, state.parts)
	}

	// Execute tool
	result, err := t.Execute(ctx, inputJSON, toolCtx)
	if err != nil {
		return p.failTool(ctx, state, toolPart, callback, err.Error())
	}

	// Update tool part with result. Output is capped at 32,000 bytes on a
	// safe UTF-8 boundary (§4.2); a further cap is applied only when
	// streaming the result as an event, not to the stored part.
	now := time.Now().UnixMilli()
	toolPart.State.Status = "completed"
	toolPart.State.Output = []types.ContentBlock{types.TextBlock(truncateToolOutput(result.Output))}
	title := result.Title
	toolPart.State.Title = &title
	toolPart.State.Time.End = &now

	if result.Metadata != nil {
		if toolPart.State.Metadata == nil {
			toolPart.State.Metadata = make(map[string]any)
		}
		for k, v := range result.Metadata {
			toolPart.State.Metadata[k] = v
		}
	}

	// Attachments ride along as additional output blocks rather than a
	// separate part: the conversation history only has room for one tool
	// part per call, so image/file attachments become image ContentBlocks.
	for _, att := range result.Attachments {
		toolPart.State.Output = append(toolPart.State.Output, types.ImageBlock(att.MediaType, att.URL))
	}

	// Record diff for edit-like tools when metadata contains before/after
	p.recordDiff(state, toolPart)

	// Save updated part
	p.savePart(ctx, state.message.ID, toolPart)

	event.PublishSync(event.Event{
		Type: event.ToolResult,
		Data: event.ToolResultData{
			SessionID:  state.message.SessionID,
			MessageID:  state.message.ID,
			ToolCallID: toolPart.ToolCallID,
			ToolName:   toolPart.ToolName,
			State:      streamingToolState(toolPart.State),
		},
	})

	callback(state.message, state.parts)
	return nil
}

// failTool marks a tool as failed with an error.
func (p *Processor) failTool(
	ctx context.Context,
	state *sessionState,
	toolPart *types.ToolPart,
	callback ProcessCallback,
	errMsg string,
) error {
	now := time.Now().UnixMilli()
	toolPart.State.Status = "error"
	toolPart.State.Error = &errMsg
	toolPart.State.IsError = true
	toolPart.State.Time.End = &now
	state.hadToolFailure = true

	p.savePart(ctx, state.message.ID, toolPart)

	event.PublishSync(event.Event{
		Type: event.ToolResult,
		Data: event.ToolResultData{
			SessionID:  state.message.SessionID,
			MessageID:  state.message.ID,
			ToolCallID: toolPart.ToolCallID,
			ToolName:   toolPart.ToolName,
			State:      &toolPart.State,
		},
	})

	callback(state.message, state.parts)
	return errors.New(errMsg)
}

// checkToolSecurity runs the Security Inspector (§4.2 stage 1) over Bash tool
// requests. A finding with the highest confidence score of 0.9 (fork bomb,
// rm -rf rooted at /, curl-pipe-sh, device redirect) is denied outright; a
// 0.75-confidence finding (a path into a common credential file) is only
// asked about, since a legitimate tool may need to read rather than
// exfiltrate it.
func (p *Processor) checkToolSecurity(
	ctx context.Context,
	state *sessionState,
	toolPart *types.ToolPart,
) error {
	if !strings.EqualFold(toolPart.ToolName, "bash") {
		return nil
	}
	cmd, ok := toolPart.State.Input["command"].(string)
	if !ok || cmd == "" {
		return nil
	}

	findings := permission.InspectBashSecurity(cmd)
	if len(findings) == 0 {
		return nil
	}

	worst := findings[0]
	for _, f := range findings[1:] {
		if f.Confidence > worst.Confidence {
			worst = f
		}
	}

	if p.permissionChecker == nil {
		if worst.Confidence >= 0.9 {
			return fmt.Errorf("blocked by security inspector: %s (%s)", worst.Rule, worst.Detail)
		}
		return nil
	}

	action := permission.ActionAsk
	if worst.Confidence >= 0.9 {
		action = permission.ActionDeny
	}

	req := permission.Request{
		Type:      permission.PermBash,
		Pattern:   []string{cmd},
		SessionID: state.message.SessionID,
		MessageID: state.message.ID,
		CallID:    toolPart.ToolCallID,
		Title:     fmt.Sprintf("Security inspector flagged %s: allow anyway?", worst.Rule),
	}

	return p.permissionChecker.Check(ctx, req, action)
}

// checkToolPermission checks if the tool execution is permitted.
func (p *Processor) checkToolPermission(
	ctx context.Context,
	state *sessionState,
	agent *Agent,
	toolPart *types.ToolPart,
) error {
	if p.permissionChecker == nil {
		return nil
	}

	var permType permission.PermissionType
	var action permission.PermissionAction
	var pattern []string

	switch strings.ToLower(toolPart.ToolName) {
	case "bash":
		permType = permission.PermBash
		if cmd, ok := toolPart.State.Input["command"].(string); ok {
			pattern = []string{cmd}
		}
		switch agent.Permission.Bash {
		case "allow":
			action = permission.ActionAllow
		case "deny":
			action = permission.ActionDeny
		default:
			action = permission.ActionAsk
		}

	case "write", "edit":
		permType = permission.PermEdit
		if path, ok := toolPart.State.Input["filePath"].(string); ok {
			pattern = []string{path}
		}
		switch agent.Permission.Write {
		case "allow":
			action = permission.ActionAllow
		case "deny":
			action = permission.ActionDeny
		default:
			action = permission.ActionAsk
		}

	default:
		// Other tools don't require permission
		return nil
	}

	req := permission.Request{
		Type:      permType,
		Pattern:   pattern,
		SessionID: state.message.SessionID,
		MessageID: state.message.ID,
		CallID:    toolPart.ToolCallID,
		Title:     fmt.Sprintf("Allow %s?", toolPart.ToolName),
	}

	return p.permissionChecker.Check(ctx, req, action)
}

// recordDiff captures file diffs from tool metadata and updates session summary/state.
func (p *Processor) recordDiff(state *sessionState, toolPart *types.ToolPart) error {
	if toolPart.State.Metadata == nil {
		toolPart.State.Metadata = make(map[string]any)
	}

	pathVal, ok := toolPart.State.Metadata["file"].(string)
	if !ok || pathVal == "" {
		return nil
	}

	before, okBefore := toolPart.State.Metadata["before"].(string)
	after, okAfter := toolPart.State.Metadata["after"].(string)
	if !okBefore || !okAfter {
		return nil
	}

	// Load session to update summary (also gives us the root for relativizing paths).
	session, err := p.loadSession(state.message.SessionID)
	if err != nil {
		return err
	}

	relPath := pathVal
	if session.Directory != "" {
		if rp, err := filepath.Rel(session.Directory, pathVal); err == nil {
			relPath = rp
		}
	}

	diffText, additions, deletions, err := computeDiff(before, after, relPath)
	if err != nil {
		return err
	}

	fileDiff := types.FileDiff{
		Path:      relPath,
		Additions: additions,
		Deletions: deletions,
		Before:    before,
		After:     after,
	}

	// Replace existing diff for same path, then append
	var filtered []types.FileDiff
	for _, d := range session.Summary.Diffs {
		if d.Path != relPath {
			filtered = append(filtered, d)
		}
	}
	filtered = append(filtered, fileDiff)
	session.Summary.Diffs = filtered

	// Recompute summary totals
	adds, dels, files := 0, 0, len(session.Summary.Diffs)
	for _, d := range session.Summary.Diffs {
		adds += d.Additions
		dels += d.Deletions
	}
	session.Summary.Additions = adds
	session.Summary.Deletions = dels
	session.Summary.Files = files
	session.Time.Updated = time.Now().UnixMilli()

	if err := p.saveSession(session); err != nil {
		return err
	}

	// Publish updated session diff
	event.PublishSync(event.Event{
		Type: event.WorkspaceChanged,
		Data: event.WorkspaceChangedData{SessionID: session.ID, File: relPath, Diff: fileDiff},
	})

	// Attach diff text to metadata for consumers (non-breaking)
	toolPart.State.Metadata["diff"] = diffText
	return nil
}

func computeDiff(before, after, path string) (string, int, int, error) {
	dmp := diffmatchpatch.New()

	// Compute line-based diff for accurate line counting
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	// Count additions and deletions by lines
	additions, deletions := 0, 0
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			lines := countLines(d.Text)
			additions += lines
		case diffmatchpatch.DiffDelete:
			lines := countLines(d.Text)
			deletions += lines
		}
	}

	// Generate proper unified diff text for display
	diffText := generateUnifiedDiff(diffs, path)

	return diffText, additions, deletions, nil
}

// countLines counts the number of lines in text
func countLines(text string) int {
	if text == "" {
		return 0
	}
	lines := strings.Count(text, "\n")
	// If text doesn't end with newline, count it as a line
	if !strings.HasSuffix(text, "\n") {
		lines++
	}
	return lines
}

// generateUnifiedDiff creates a proper unified diff format from diffs with context lines
func generateUnifiedDiff(diffs []diffmatchpatch.Diff, path string) string {
	if len(diffs) == 0 {
		return ""
	}

	// Check if there are any actual changes
	hasChanges := false
	for _, d := range diffs {
		if d.Type != diffmatchpatch.DiffEqual {
			hasChanges = true
			break
		}
	}
	if !hasChanges {
		return ""
	}

	// Convert diffs to lines with their types
	type diffLine struct {
		text     string
		diffType diffmatchpatch.Operation
	}
	var allLines []diffLine

	for _, d := range diffs {
		text := d.Text
		lines := strings.Split(text, "\n")
		// Handle trailing newline - if text ends with \n, the last split element is empty
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
		for _, line := range lines {
			allLines = append(allLines, diffLine{text: line, diffType: d.Type})
		}
	}

	// Find ranges of changes with context (3 lines before and after)
	const contextLines = 3
	type hunk struct {
		startOld, countOld int
		startNew, countNew int
		lines              []diffLine
	}

	var hunks []hunk
	var currentHunk *hunk
	oldLineNum := 1
	newLineNum := 1

	for i, line := range allLines {
		isChange := line.diffType != diffmatchpatch.DiffEqual

		if isChange {
			// Start a new hunk or extend current one
			if currentHunk == nil {
				// Calculate start positions including context
				contextStart := i - contextLines
				if contextStart < 0 {
					contextStart = 0
				}

				// Calculate old/new line numbers at context start
				startOld := 1
				startNew := 1
				for j := 0; j < contextStart; j++ {
					switch allLines[j].diffType {
					case diffmatchpatch.DiffEqual:
						startOld++
						startNew++
					case diffmatchpatch.DiffDelete:
						startOld++
					case diffmatchpatch.DiffInsert:
						startNew++
					}
				}

				currentHunk = &hunk{
					startOld: startOld,
					startNew: startNew,
				}

				// Add context lines before the change
				for j := contextStart; j < i; j++ {
					currentHunk.lines = append(currentHunk.lines, allLines[j])
				}
			}
			currentHunk.lines = append(currentHunk.lines, line)
		} else if currentHunk != nil {
			// Check if we should end the hunk or continue with context
			// Look ahead to see if there's another change within context range
			nextChangeIdx := -1
			for j := i + 1; j < len(allLines) && j <= i+contextLines*2; j++ {
				if allLines[j].diffType != diffmatchpatch.DiffEqual {
					nextChangeIdx = j
					break
				}
			}

			if nextChangeIdx != -1 && nextChangeIdx <= i+contextLines*2 {
				// Another change is close, include this line and continue
				currentHunk.lines = append(currentHunk.lines, line)
			} else {
				// Add remaining context lines and close hunk
				for j := i; j < len(allLines) && j < i+contextLines; j++ {
					if allLines[j].diffType == diffmatchpatch.DiffEqual {
						currentHunk.lines = append(currentHunk.lines, allLines[j])
					} else {
						break
					}
				}

				// Calculate counts
				for _, l := range currentHunk.lines {
					switch l.diffType {
					case diffmatchpatch.DiffEqual:
						currentHunk.countOld++
						currentHunk.countNew++
					case diffmatchpatch.DiffDelete:
						currentHunk.countOld++
					case diffmatchpatch.DiffInsert:
						currentHunk.countNew++
					}
				}

				hunks = append(hunks, *currentHunk)
				currentHunk = nil
			}
		}

		// Track line numbers
		switch line.diffType {
		case diffmatchpatch.DiffEqual:
			oldLineNum++
			newLineNum++
		case diffmatchpatch.DiffDelete:
			oldLineNum++
		case diffmatchpatch.DiffInsert:
			newLineNum++
		}
	}

	// Close any remaining hunk
	if currentHunk != nil {
		for _, l := range currentHunk.lines {
			switch l.diffType {
			case diffmatchpatch.DiffEqual:
				currentHunk.countOld++
				currentHunk.countNew++
			case diffmatchpatch.DiffDelete:
				currentHunk.countOld++
			case diffmatchpatch.DiffInsert:
				currentHunk.countNew++
			}
		}
		hunks = append(hunks, *currentHunk)
	}

	// Build output
	var buf strings.Builder

	// Write file headers
	buf.WriteString("Index: ")
	buf.WriteString(path)
	buf.WriteString("\n")
	buf.WriteString("===================================================================\n")
	buf.WriteString("--- ")
	buf.WriteString(path)
	buf.WriteString("\n")
	buf.WriteString("+++ ")
	buf.WriteString(path)
	buf.WriteString("\n")

	// Write each hunk
	for _, h := range hunks {
		buf.WriteString(fmt.Sprintf("@@ -%d,%d +%d,%d @@\n", h.startOld, h.countOld, h.startNew, h.countNew))
		for _, line := range h.lines {
			switch line.diffType {
			case diffmatchpatch.DiffEqual:
				buf.WriteString(" ")
			case diffmatchpatch.DiffDelete:
				buf.WriteString("-")
			case diffmatchpatch.DiffInsert:
				buf.WriteString("+")
			}
			buf.WriteString(line.text)
			buf.WriteString("\n")
		}
	}

	return buf.String()
}

func (p *Processor) loadSession(sessionID string) (*types.Session, error) {
	projects, err := p.storage.List(context.Background(), []string{"session"})
	if err != nil {
		return nil, err
	}

	for _, projectID := range projects {
		var session types.Session
		if err := p.storage.Get(context.Background(), []string{"session", projectID, sessionID}, &session); err == nil {
			return &session, nil
		}
	}
	return nil, fmt.Errorf("session %s not found", sessionID)
}

func (p *Processor) saveSession(session *types.Session) error {
	return p.storage.Put(context.Background(), []string{"session", session.ProjectID, session.ID}, session)
}

// checkDoomLoop detects and handles repetitive tool calls.
func (p *Processor) checkDoomLoop(
	ctx context.Context,
	state *sessionState,
	agent *Agent,
	toolPart *types.ToolPart,
) error {
	// Count identical tool calls
	count := 0
	inputJSON, _ := json.Marshal(toolPart.State.Input)
	inputStr := string(inputJSON)

	for _, part := range state.parts {
		if tp, ok := part.(*types.ToolPart); ok {
			if tp.ToolName == toolPart.ToolName && tp.State.Status == "completed" {
				otherInput, _ := json.Marshal(tp.State.Input)
				if string(otherInput) == inputStr {
					count++
				}
			}
		}
	}

	// Threshold for doom loop detection
	if count < 3 {
		return nil
	}

	// Check permission policy
	switch agent.Permission.DoomLoop {
	case "allow":
		return nil

	case "deny":
		return fmt.Errorf("doom loop detected: %s called %d times with same input", toolPart.ToolName, count)

	case "ask", "":
		if p.permissionChecker == nil {
			return nil
		}

		// Request permission from user
		req := permission.Request{
			Type:      permission.PermDoomLoop,
			Pattern:   []string{toolPart.ToolName},
			SessionID: state.message.SessionID,
			MessageID: state.message.ID,
			CallID:    toolPart.ToolCallID,
			Title:     fmt.Sprintf("Allow repeated %s call?", toolPart.ToolName),
		}

		return p.permissionChecker.Ask(ctx, req)
	}

	return nil
}

