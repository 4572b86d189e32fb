package types

// SessionKind distinguishes the reply-loop role a session plays.
type SessionKind string

const (
	SessionKindUser      SessionKind = "user"
	SessionKindSubAgent  SessionKind = "sub-agent"
	SessionKindHidden    SessionKind = "hidden"
	SessionKindScheduled SessionKind = "scheduled"
	SessionKindTerminal  SessionKind = "terminal"
)

// Session represents a conversation session with the LLM.
type Session struct {
	ID           string         `json:"id"`
	ProjectID    string         `json:"projectID"`
	Directory    string         `json:"directory"`
	ParentID     *string        `json:"parentID,omitempty"`
	Kind         SessionKind    `json:"kind"`
	Title        string         `json:"title"`
	UserSetName  bool           `json:"userSetName"`
	Favorite     bool           `json:"favorite,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	Version      string         `json:"version"`
	Summary      SessionSummary `json:"summary"`
	Share        *SessionShare  `json:"share,omitempty"`
	Time         SessionTime    `json:"time"`
	Revert       *SessionRevert `json:"revert,omitempty"`
	CustomPrompt *CustomPrompt  `json:"customPrompt,omitempty"`

	// Metrics are the cumulative/per-turn token counters from §3.
	Metrics SessionMetrics `json:"metrics"`

	// Processing is the is_processing latch; at most one active reply loop
	// may hold it per session (enforced by internal/session.Processor, not
	// by this type directly).
	Processing bool `json:"processing"`

	// Portal/mission fields consumed by the Retry Guard (§4.9) and Mission
	// Prompt Injection (§4.8).
	PortalRestricted bool          `json:"portalRestricted,omitempty"`
	Mission          *MissionState `json:"mission,omitempty"`
	RetryConfig      *RetryConfig  `json:"retryConfig,omitempty"`

	// ExtensionState is the shared, mutable dynamic-extension-state blob
	// (MCP connections + platform extensions + agent config) the Reply
	// Orchestrator holds behind a read/write lock. Opaque to the store.
	ExtensionState map[string]any `json:"extensionState,omitempty"`
}

// SessionSummary contains statistics about code changes in a session.
type SessionSummary struct {
	Additions int        `json:"additions"`
	Deletions int        `json:"deletions"`
	Files     int        `json:"files"`
	Diffs     []FileDiff `json:"diffs,omitempty"`
}

// FileDiff represents a diff for a single file.
type FileDiff struct {
	Path      string `json:"path"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Before    string `json:"before,omitempty"`
	After     string `json:"after,omitempty"`
}

// SessionTime contains timestamps for a session.
type SessionTime struct {
	Created    int64  `json:"created"`
	Updated    int64  `json:"updated"`
	Compacting *int64 `json:"compacting,omitempty"`
}

// SessionShare contains sharing information for a session.
type SessionShare struct {
	URL string `json:"url"`
}

// SessionRevert contains information about session revert state.
type SessionRevert struct {
	MessageID string  `json:"messageID"`
	PartID    *string `json:"partID,omitempty"`
	Snapshot  *string `json:"snapshot,omitempty"`
	Diff      *string `json:"diff,omitempty"`
}

// CustomPrompt represents a custom system prompt configuration.
type CustomPrompt struct {
	Type      string            `json:"type"` // "file" | "inline"
	Value     string            `json:"value"`
	LoadedAt  *int64            `json:"loadedAt,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}

// SessionMetrics holds cumulative and latest-turn token counters (§3).
type SessionMetrics struct {
	TotalInputTokens  int          `json:"totalInputTokens"`
	TotalOutputTokens int          `json:"totalOutputTokens"`
	TotalTokens       int          `json:"totalTokens"`
	LastTurnInput     int          `json:"lastTurnInput"`
	LastTurnOutput    int          `json:"lastTurnOutput"`
	LastTurnTotal     int          `json:"lastTurnTotal"`
	History           []TurnMetric `json:"history,omitempty"` // capped ring, newest last
}

// TurnMetric is one entry in SessionMetrics.History (SPEC_FULL.md supplement).
type TurnMetric struct {
	Turn         int   `json:"turn"`
	InputTokens  int   `json:"inputTokens"`
	OutputTokens int   `json:"outputTokens"`
	At           int64 `json:"at"`
}

// MaxMetricsHistory bounds SessionMetrics.History.
const MaxMetricsHistory = 200

// RecordTurn appends a turn to History, trimming the oldest entry past the cap.
func (m *SessionMetrics) RecordTurn(turn, input, output int, at int64) {
	m.LastTurnInput = input
	m.LastTurnOutput = output
	m.LastTurnTotal = input + output
	m.TotalInputTokens += input
	m.TotalOutputTokens += output
	m.TotalTokens += input + output

	m.History = append(m.History, TurnMetric{Turn: turn, InputTokens: input, OutputTokens: output, At: at})
	if len(m.History) > MaxMetricsHistory {
		m.History = m.History[len(m.History)-MaxMetricsHistory:]
	}
}

// MissionState is the opaque struct consumed by Mission Prompt Injection (§4.8).
type MissionState struct {
	Goal           string `json:"goal"`
	AdditionalInfo string `json:"additionalInfo,omitempty"`
	Autonomous     bool   `json:"autonomous"`
	StepCurrent    int    `json:"stepCurrent"`
	StepTotal      int    `json:"stepTotal"`
	ApprovalPolicy string `json:"approvalPolicy,omitempty"`
}

// RetryConfig configures the Portal/Mission Retry Guard (§4.9).
type RetryConfig struct {
	RequireFinalReport   bool     `json:"requireFinalReport,omitempty"`
	MaxPortalRetryRounds int      `json:"maxPortalRetryRounds,omitempty"`
	SuccessChecks        []string `json:"successChecks,omitempty"` // shell commands
	SuccessCheckGlobs    []string `json:"successCheckGlobs,omitempty"`
	TimeoutSeconds       int      `json:"timeoutSeconds,omitempty"`
	OnFailureCommand     string   `json:"onFailureCommand,omitempty"`
	RoundsUsed           int      `json:"roundsUsed,omitempty"`
}

// TodoInfo is a single entry in a session's task list, as managed by the
// todowrite/todoread tools.
type TodoInfo struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Status   string `json:"status"`   // pending | in_progress | completed
	Priority string `json:"priority"` // high | medium | low
}
