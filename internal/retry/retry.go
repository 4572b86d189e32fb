// Package retry implements the Portal/Mission Retry Guard (§4.9): it decides,
// after a turn ends with no further tool calls, whether the assistant's reply
// actually delivered on a portal-restricted session's coding intent, and if
// not, produces the synthetic reminder message that nudges the loop to try
// again.
package retry

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/jsjm1986/agime/pkg/types"
)

// FinalOutputToolName is the tool whose successful invocation satisfies
// RetryConfig.RequireFinalReport.
const FinalOutputToolName = "final_output"

// Reason codes cited in the synthetic reminder message (§4.9).
const (
	ReasonMissingExecution           = "missing_execution"
	ReasonMissingCompletionSignal    = "missing_completion_signal"
	ReasonMissingFinalReport         = "missing_final_report"
	ReasonPreviousToolFailure        = "previous_tool_failure"
	ReasonSuccessChecksFailed        = "success_checks_failed"
	ReasonMissingSuccessChecksConfig = "missing_success_checks_config"
	ReasonNoActionableOutput         = "no_actionable_output"
)

var codingIntentPattern = regexp.MustCompile(`(?i)\b(build|create|make|implement|update|modify|refactor|fix)\b|html|css|javascript|website|代码|页面|网站|修改|创建|实现|修复|重构`)

var completionPattern = regexp.MustCompile(`(?i)\b(done|completed|finished|implemented|created|updated|fixed|ready)\b|已完成|已经完成|完成了`)

var planningOnlyPrefixes = []string{
	"i'll start", "i will start", "let me start", "i'm going to", "i am going to",
	"let me begin", "i'll begin", "planning to", "here's my plan", "here is my plan",
}

// HasCodingIntent reports whether the user's message text expresses coding
// intent, per the fixed lexicon in §4.9.
func HasCodingIntent(userText string, requireFinalReport bool) bool {
	return requireFinalReport || codingIntentPattern.MatchString(userText)
}

// CompletionClaimed reports whether the assistant's reply reads as a claim
// that the work is done: either it contains a completion keyword, or it is
// long enough (>=120 chars) to be substantive and doesn't read as
// planning-only.
func CompletionClaimed(assistantText string) bool {
	trimmed := strings.TrimSpace(assistantText)
	if trimmed == "" {
		return false
	}
	if completionPattern.MatchString(trimmed) {
		return true
	}
	if len(trimmed) < 120 {
		return false
	}
	lower := strings.ToLower(trimmed)
	for _, prefix := range planningOnlyPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return false
		}
	}
	return true
}

// HadSuccessfulToolCall reports whether any message in the session carries a
// completed, non-error tool call — evidence of actual execution rather than
// just talk.
func HadSuccessfulToolCall(messages []*types.Message, parts map[string][]types.Part) bool {
	for _, msg := range messages {
		for _, part := range parts[msg.ID] {
			tp, ok := part.(*types.ToolPart)
			if !ok {
				continue
			}
			if tp.State.Status == "completed" && !tp.State.IsError {
				return true
			}
		}
	}
	return false
}

// FinalReportFired reports whether the final-output tool was ever called
// successfully in the session.
func FinalReportFired(messages []*types.Message, parts map[string][]types.Part) bool {
	for _, msg := range messages {
		for _, part := range parts[msg.ID] {
			tp, ok := part.(*types.ToolPart)
			if !ok {
				continue
			}
			if tp.ToolName == FinalOutputToolName && tp.State.Status == "completed" && !tp.State.IsError {
				return true
			}
		}
	}
	return false
}

// Decision is the guard's verdict for one no-tool-call turn.
type Decision struct {
	ShouldRetry  bool
	ReasonCode   string
	ReminderText string
}

// Evaluate runs the retry guard's decision procedure for one turn. messages
// and parts cover the whole session (for missing_execution/missing_final_report
// evidence); userText/assistantText are this turn's user message and the
// assistant's just-finished reply; hadToolFailureThisTurn reflects whether any
// tool dispatched during this turn returned is_error=true.
func Evaluate(
	ctx context.Context,
	cfg *types.RetryConfig,
	workDir string,
	userText, assistantText string,
	messages []*types.Message,
	parts map[string][]types.Part,
	hadToolFailureThisTurn bool,
) Decision {
	if cfg == nil {
		return Decision{}
	}

	hasCodingIntent := HasCodingIntent(userText, cfg.RequireFinalReport)
	if !hasCodingIntent {
		return Decision{}
	}

	completionClaimed := CompletionClaimed(assistantText)
	missingExecution := !HadSuccessfulToolCall(messages, parts)
	missingFinalReport := cfg.RequireFinalReport && !FinalReportFired(messages, parts)
	missingSuccessChecksConfig := len(cfg.SuccessChecks) == 0 && len(cfg.SuccessCheckGlobs) == 0

	switch {
	case missingExecution:
		return retryDecision(ReasonMissingExecution, "No tool call in this session has successfully modified the workspace yet. Continue the task using the available tools instead of describing what you would do.")
	case hadToolFailureThisTurn:
		return retryDecision(ReasonPreviousToolFailure, "The last tool call in this turn failed. Diagnose the failure and retry with a corrected approach before reporting completion.")
	case !completionClaimed:
		return retryDecision(ReasonMissingCompletionSignal, "Your reply didn't confirm the task is complete. Finish the remaining work, or explicitly state what's blocking completion.")
	case missingFinalReport:
		return retryDecision(ReasonMissingFinalReport, "This session requires a final structured report. Call the final-output tool with the completed result before ending the turn.")
	case missingSuccessChecksConfig:
		return retryDecision(ReasonMissingSuccessChecksConfig, "No success checks are configured for this portal session, so completion cannot be verified automatically. Confirm explicitly what was verified and how.")
	}

	// Coding intent, apparent completion, final report satisfied, success
	// checks configured: actually run them.
	ok, output := runSuccessChecks(ctx, workDir, cfg.SuccessChecks, cfg.TimeoutSeconds)
	if !ok {
		return retryDecision(ReasonSuccessChecksFailed, fmt.Sprintf("The configured success checks failed:\n\n%s\n\nFix the issue and try again.", output))
	}

	globOK, globDetail := checkSuccessCheckGlobs(workDir, cfg.SuccessCheckGlobs)
	if !globOK {
		return retryDecision(ReasonSuccessChecksFailed, fmt.Sprintf("The configured success-check file globs did not match:\n\n%s\n\nFix the issue and try again.", globDetail))
	}

	return Decision{}
}

// checkSuccessCheckGlobs verifies each of cfg.SuccessCheckGlobs matches at
// least one existing file under workDir (e.g. "dist/**/*.html"), using
// doublestar for the ** glob syntax the agent-side tool-permission matcher
// (internal/agent) already relies on.
func checkSuccessCheckGlobs(workDir string, globs []string) (bool, string) {
	if len(globs) == 0 {
		return true, ""
	}

	var failures []string
	for _, pattern := range globs {
		matches, err := doublestar.Glob(os.DirFS(workDir), pattern)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: invalid glob: %v", pattern, err))
			continue
		}
		if len(matches) == 0 {
			failures = append(failures, fmt.Sprintf("%s: no files matched", pattern))
		}
	}

	if len(failures) > 0 {
		return false, strings.Join(failures, "\n")
	}
	return true, ""
}

func retryDecision(reason, detail string) Decision {
	return Decision{
		ShouldRetry: true,
		ReasonCode:  reason,
		ReminderText: fmt.Sprintf(
			"[retry_guard:%s] The previous reply did not satisfy this portal-restricted session's requirements.\n\n%s",
			reason, detail,
		),
	}
}

// runSuccessChecks runs each configured shell command in workDir, bounded by
// timeoutSeconds (falling back to a short default). All commands must exit
// zero for the check to pass.
func runSuccessChecks(ctx context.Context, workDir string, checks []string, timeoutSeconds int) (bool, string) {
	if len(checks) == 0 {
		return true, ""
	}

	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}

	var combined bytes.Buffer
	for _, check := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
		cmd := exec.CommandContext(checkCtx, "sh", "-c", check)
		cmd.Dir = workDir
		cmd.Stdout = &combined
		cmd.Stderr = &combined
		err := cmd.Run()
		cancel()
		if err != nil {
			fmt.Fprintf(&combined, "\n$ %s\nexit error: %v\n", check, err)
			return false, combined.String()
		}
	}
	return true, combined.String()
}

// RunOnFailureCommand runs the session's configured on-failure command, best
// effort — its result does not gate the retry decision.
func RunOnFailureCommand(ctx context.Context, workDir, command string, timeoutSeconds int) {
	if command == "" {
		return
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	cmdCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
	defer cancel()
	cmd := exec.CommandContext(cmdCtx, "sh", "-c", command)
	cmd.Dir = workDir
	_ = cmd.Run()
}
