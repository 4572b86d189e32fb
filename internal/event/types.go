package event

import "github.com/jsjm1986/agime/pkg/types"

// StatusData is the payload for a Status event: a coarse-grained phase
// change in the Reply Orchestrator turn loop.
type StatusData struct {
	SessionID string `json:"sessionID"`
	Phase     string `json:"phase"` // e.g. "message_created", "todo_updated", "recovery_compaction", "portal_tool_retry"
	Detail    string `json:"detail,omitempty"`
}

// TurnData is the payload for a Turn event, marking the start/end of one
// provider round-trip within the reply loop.
type TurnData struct {
	SessionID string `json:"sessionID"`
	Turn      int    `json:"turn"`
	Started   bool   `json:"started"`
}

// TextData is the payload for a Text event: a streamed assistant text delta
// or the final accumulated text for a part.
type TextData struct {
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	PartID    string `json:"partID"`
	Delta     string `json:"delta,omitempty"`
	Text      string `json:"text,omitempty"`
	Done      bool   `json:"done,omitempty"`
}

// ThinkingData is the payload for a Thinking event: streamed reasoning
// content, when the provider/model exposes it.
type ThinkingData struct {
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	PartID    string `json:"partID"`
	Delta     string `json:"delta,omitempty"`
	Done      bool   `json:"done,omitempty"`
}

// ToolCallData is the payload for a ToolCall event, emitted by the Tool
// Dispatcher when a tool invocation starts.
type ToolCallData struct {
	SessionID  string `json:"sessionID"`
	MessageID  string `json:"messageID"`
	ToolCallID string `json:"toolCallID"`
	ToolName   string `json:"toolName"`
	Input      any    `json:"input,omitempty"`
}

// ToolResultData is the payload for a ToolResult event, emitted when a tool
// invocation completes (successfully or not).
type ToolResultData struct {
	SessionID  string             `json:"sessionID"`
	MessageID  string             `json:"messageID"`
	ToolCallID string             `json:"toolCallID"`
	ToolName   string             `json:"toolName"`
	State      *types.ToolState   `json:"state,omitempty"`
}

// WorkspaceChangedData is the payload for a WorkspaceChanged event: a file
// was created, edited, or deleted by a tool invocation.
type WorkspaceChangedData struct {
	SessionID string   `json:"sessionID"`
	File      string   `json:"file"`
	Diff      FileDiff `json:"diff,omitempty"`
}

// FileDiff mirrors types.FileDiff for event payload purposes.
type FileDiff = types.FileDiff

// CompactionData is the payload for a Compaction event, emitted by the
// Compaction Engine when it runs (auto-triggered or recovery).
type CompactionData struct {
	SessionID      string                 `json:"sessionID"`
	Reason         string                 `json:"reason"` // "manual" | "turn_refresh"
	Report         *types.MemoryMergeReport `json:"report,omitempty"`
	MessagesBefore int                    `json:"messagesBefore"`
	MessagesAfter  int                    `json:"messagesAfter"`
}

// SessionIdData is the payload for a SessionId event: the Reply Orchestrator
// announcing (or reassigning, for sub-agent spawns) the active session ID.
type SessionIdData struct {
	SessionID string  `json:"sessionID"`
	ParentID  *string `json:"parentID,omitempty"`
}

// DoneData is the payload for a Done event: the turn loop has finished
// (either naturally or via an error/abort).
type DoneData struct {
	SessionID string              `json:"sessionID"`
	Turns     int                 `json:"turns"`
	Error     *types.MessageError `json:"error,omitempty"`
}

// ModelChangeData is the payload for a ModelChange event, emitted when the
// session's active model/provider changes mid-conversation.
type ModelChangeData struct {
	SessionID  string `json:"sessionID"`
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// HistoryReplacedData is the payload for a HistoryReplaced event, emitted
// whenever the Compaction Engine or a revert operation swaps the visible
// message history out from under a running UI.
type HistoryReplacedData struct {
	SessionID string          `json:"sessionID"`
	Messages  []*types.Message `json:"messages"`
}

// ClientToolRegisteredData is the payload for a ClientToolRegistered event.
type ClientToolRegisteredData struct {
	ClientID string   `json:"clientID"`
	ToolIDs  []string `json:"toolIDs"`
}

// ClientToolUnregisteredData is the payload for a ClientToolUnregistered event.
type ClientToolUnregisteredData struct {
	ClientID string   `json:"clientID"`
	ToolIDs  []string `json:"toolIDs"`
}

// ClientToolRequestData is the payload for a ClientToolRequest event: the
// Tool Dispatcher is asking a specific client to execute one of its
// registered tools. Request carries the full execution payload so an SSE
// subscriber can forward it verbatim to the client.
type ClientToolRequestData struct {
	ClientID string `json:"clientID"`
	Request  any    `json:"request"`
}

// ClientToolStatusData is the payload for ClientToolExecuting/Completed/Failed
// events, tracking one client-tool call's lifecycle.
type ClientToolStatusData struct {
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	CallID    string `json:"callID"`
	Tool      string `json:"tool"`
	ClientID  string `json:"clientID"`
	Success   bool   `json:"success,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PermissionRequiredData is the payload for a PermissionRequired event: a
// tool invocation is blocked pending user approval.
type PermissionRequiredData struct {
	ID             string   `json:"id"`
	SessionID      string   `json:"sessionID"`
	PermissionType string   `json:"permissionType"`
	Pattern        []string `json:"pattern,omitempty"`
	Title          string   `json:"title"`
}

// PermissionResolvedData is the payload for a PermissionResolved event: the
// user (or an auto-approve policy) answered a pending permission request.
type PermissionResolvedData struct {
	ID      string `json:"id"`
	Granted bool   `json:"granted"`
}

// VcsBranchUpdatedData is the payload for a VcsBranchUpdated event.
type VcsBranchUpdatedData struct {
	Branch string `json:"branch"`
}
