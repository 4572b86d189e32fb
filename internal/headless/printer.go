package headless

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jsjm1986/agime/internal/event"
	"github.com/jsjm1986/agime/pkg/types"
)

// Printer handles event output in various formats for headless mode.
type Printer struct {
	mu           sync.Mutex
	writer       io.Writer
	format       OutputFormat
	quiet        bool
	verbose      bool
	unsubscribe  func()
	sessionID    string
	startTime    time.Time
	result       *Result
	toolCalls    []ToolCall
	currentTool  *ToolCall
	lastTextDelta string
}

// NewPrinter creates a new event printer.
func NewPrinter(writer io.Writer, format OutputFormat, quiet, verbose bool) *Printer {
	return &Printer{
		writer:    writer,
		format:    format,
		quiet:     quiet,
		verbose:   verbose,
		startTime: time.Now(),
		result: &Result{
			Status:   "running",
			ExitCode: ExitSuccess,
		},
		toolCalls: make([]ToolCall, 0),
	}
}

// Subscribe starts listening to events.
func (p *Printer) Subscribe() {
	p.unsubscribe = event.SubscribeAll(p.handleEvent)
}

// Unsubscribe stops listening to events.
func (p *Printer) Unsubscribe() {
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
}

// SetSessionID sets the session ID for the printer.
func (p *Printer) SetSessionID(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionID = sessionID
	p.result.SessionID = sessionID
}

// GetResult returns the current result.
func (p *Printer) GetResult() *Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Finalize result
	p.result.DurationMS = time.Since(p.startTime).Milliseconds()
	p.result.ToolCalls = p.toolCalls

	return p.result
}

// SetResult updates the result with final values.
func (p *Printer) SetResult(status string, exitCode ExitCode, finalMessage string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.result.Status = status
	p.result.ExitCode = exitCode
	p.result.FinalMessage = finalMessage
	if err != nil {
		p.result.Error = err.Error()
	}
	p.result.DurationMS = time.Since(p.startTime).Milliseconds()
}

// SetTokens updates token usage in the result.
func (p *Printer) SetTokens(tokens *types.TokenUsage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.result.Tokens = tokens
}

// SetModel updates the model in the result.
func (p *Printer) SetModel(model string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.result.Model = model
}

// IncrementSteps increments the step counter.
func (p *Printer) IncrementSteps() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.result.Steps++
}

// PrintFinalResult prints the final JSON result (for json format).
func (p *Printer) PrintFinalResult() {
	if p.format != OutputJSON {
		return
	}

	result := p.GetResult()
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return
	}
	fmt.Fprintln(p.writer, string(data))
}

// handleEvent processes incoming events and outputs them according to format.
func (p *Printer) handleEvent(e event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.format {
	case OutputText:
		p.handleTextEvent(e)
	case OutputJSON:
		// JSON format only outputs final result, but we still track events
		p.trackEvent(e)
	case OutputJSONL:
		p.handleJSONLEvent(e)
	}
}

// handleTextEvent outputs events in human-readable text format.
func (p *Printer) handleTextEvent(e event.Event) {
	if p.quiet {
		// In quiet mode, only output final text
		if data, ok := e.Data.(event.TextData); ok && data.Delta != "" {
			fmt.Fprint(p.writer, data.Delta)
		}
		return
	}

	switch e.Type {
	case event.SessionId:
		if data, ok := e.Data.(event.SessionIdData); ok {
			fmt.Fprintf(p.writer, "[session:%s] Starting...\n", truncateID(data.SessionID))
		}

	case event.Done:
		if data, ok := e.Data.(event.DoneData); ok {
			if data.Error != nil {
				fmt.Fprintf(p.writer, "[error] %s\n", data.Error.Message)
				return
			}
			duration := time.Since(p.startTime)
			fmt.Fprintf(p.writer, "\n[done] Session completed in %s", formatDuration(duration))
			if p.result.Tokens != nil {
				fmt.Fprintf(p.writer, " (input: %d tokens, output: %d tokens)",
					p.result.Tokens.Input, p.result.Tokens.Output)
			}
			fmt.Fprintln(p.writer)
		}

	case event.Turn:
		if data, ok := e.Data.(event.TurnData); ok && data.Started && p.verbose {
			fmt.Fprintf(p.writer, "[assistant] Thinking...\n")
		}

	case event.Text:
		if data, ok := e.Data.(event.TextData); ok && data.Delta != "" {
			fmt.Fprint(p.writer, data.Delta)
			p.lastTextDelta = data.Delta
		}

	case event.ToolCall:
		if data, ok := e.Data.(event.ToolCallData); ok && p.verbose {
			fmt.Fprintf(p.writer, "\n[tool:%s] Starting...\n", data.ToolName)
		}

	case event.ToolResult:
		if data, ok := e.Data.(event.ToolResultData); ok && data.State != nil {
			p.handleToolPartText(data.ToolName, data.State)
		}

	case event.WorkspaceChanged:
		if data, ok := e.Data.(event.WorkspaceChangedData); ok && p.verbose {
			fmt.Fprintf(p.writer, "[file] Edited: %s\n", data.File)
		}

	case event.Compaction:
		if data, ok := e.Data.(event.CompactionData); ok && p.verbose {
			fmt.Fprintf(p.writer, "[compaction] %s (%d -> %d messages)\n",
				data.Reason, data.MessagesBefore, data.MessagesAfter)
		}
	}
}

// handleToolPartText outputs tool information in text format.
func (p *Printer) handleToolPartText(toolName string, state *types.ToolState) {
	switch state.Status {
	case "running":
		toolInfo := formatToolInfo(toolName, state.Input)
		if toolInfo != "" {
			fmt.Fprintf(p.writer, "\n[tool:%s] %s\n", toolName, toolInfo)
		}
	case "completed":
		if p.verbose {
			fmt.Fprintf(p.writer, "[tool:%s] Done\n", toolName)
		}
	case "error":
		errMsg := ""
		if state.Error != nil {
			errMsg = *state.Error
		}
		fmt.Fprintf(p.writer, "[tool:%s] Error: %s\n", toolName, errMsg)
	}
}

// handleJSONLEvent outputs events in JSONL format.
func (p *Printer) handleJSONLEvent(e event.Event) {
	// Track event for result
	p.trackEvent(e)

	// Filter events if not verbose
	if !p.verbose && !isImportantEvent(e.Type) {
		return
	}

	evt := &Event{
		Type:      string(e.Type),
		Timestamp: time.Now(),
		Data:      e.Data,
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	fmt.Fprintln(p.writer, string(data))
}

// trackEvent tracks events for the final result.
func (p *Printer) trackEvent(e event.Event) {
	switch e.Type {
	case event.Text:
		if data, ok := e.Data.(event.TextData); ok && data.Done && data.Text != "" {
			p.result.FinalMessage = data.Text
		}

	case event.ToolResult:
		if data, ok := e.Data.(event.ToolResultData); ok && data.State != nil {
			p.trackToolCall(data.ToolName, data.State)
		}

	case event.WorkspaceChanged:
		if data, ok := e.Data.(event.WorkspaceChangedData); ok {
			p.result.Diffs = append(p.result.Diffs, FileDiff{
				File:      data.File,
				Additions: data.Diff.Additions,
				Deletions: data.Diff.Deletions,
			})
		}
	}
}

// trackToolCall tracks tool call information for the result.
func (p *Printer) trackToolCall(toolName string, state *types.ToolState) {
	if state.Status != "completed" && state.Status != "error" {
		return
	}
	errMsg := ""
	if state.Error != nil {
		errMsg = *state.Error
	}
	call := ToolCall{
		Tool:   toolName,
		Input:  state.Input,
		Output: truncateOutput(outputText(state.Output), 500),
		Error:  errMsg,
	}
	p.toolCalls = append(p.toolCalls, call)
}

// outputText concatenates the text content blocks of a tool's output.
func outputText(blocks []types.ContentBlock) string {
	var out string
	for _, b := range blocks {
		out += b.Text
	}
	return out
}

// Helper functions

func truncateID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func truncateOutput(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatToolInfo(toolName string, input map[string]any) string {
	if input == nil {
		return ""
	}

	switch toolName {
	case "read":
		if path, ok := input["file_path"].(string); ok {
			return fmt.Sprintf("Reading %s", path)
		}
	case "write":
		if path, ok := input["file_path"].(string); ok {
			return fmt.Sprintf("Writing %s", path)
		}
	case "edit":
		if path, ok := input["file_path"].(string); ok {
			return fmt.Sprintf("Editing %s", path)
		}
	case "bash":
		if cmd, ok := input["command"].(string); ok {
			cmd = strings.Split(cmd, "\n")[0]
			if len(cmd) > 60 {
				cmd = cmd[:60] + "..."
			}
			return fmt.Sprintf("$ %s", cmd)
		}
	case "glob":
		if pattern, ok := input["pattern"].(string); ok {
			return fmt.Sprintf("Searching: %s", pattern)
		}
	case "grep":
		if pattern, ok := input["pattern"].(string); ok {
			return fmt.Sprintf("Grepping: %s", pattern)
		}
	case "web_fetch":
		if url, ok := input["url"].(string); ok {
			return fmt.Sprintf("Fetching: %s", url)
		}
	}

	return ""
}

func isImportantEvent(eventType event.EventType) bool {
	switch eventType {
	case event.SessionId,
		event.Done,
		event.Turn,
		event.ToolCall,
		event.ToolResult,
		event.WorkspaceChanged,
		event.Compaction:
		return true
	default:
		return false
	}
}
