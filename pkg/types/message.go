package types

// Message represents either a User or Assistant message in a conversation.
// Parts carry the typed content (text/thinking/tool/system-notification/
// action-required); Message itself carries role, ordering, and visibility.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionID"`
	ParentID  *string     `json:"parentID,omitempty"` // set on sub-agent session root messages
	Role      string      `json:"role"`               // "user" | "assistant"
	Parts     []Part      `json:"parts,omitempty"`
	Time      MessageTime `json:"time"`

	// Visibility controls UI/agent filtering. A synthetic reminder or CFPM
	// context injection is agent-only: user_visible=false.
	UserVisible  bool `json:"userVisible"`
	AgentVisible bool `json:"agentVisible"`
	AgentOnly    bool `json:"agentOnly,omitempty"`

	// IsSummary marks an assistant message produced by the Compaction Engine
	// rather than the provider, so the loop can distinguish it when deciding
	// whether to auto-continue after compaction.
	IsSummary bool `json:"isSummary,omitempty"`

	// User-specific fields
	Agent  string          `json:"agent,omitempty"`
	Model  *ModelRef       `json:"model,omitempty"`
	System *string         `json:"system,omitempty"`
	Tools  map[string]bool `json:"tools,omitempty"`

	// Assistant-specific fields
	ModelID    string        `json:"modelID,omitempty"`
	ProviderID string        `json:"providerID,omitempty"`
	Mode       string        `json:"mode,omitempty"`
	Finish     *string       `json:"finish,omitempty"`
	Cost       float64       `json:"cost,omitempty"`
	Tokens     *TokenUsage   `json:"tokens,omitempty"`
	Error      *MessageError `json:"error,omitempty"`
}

// Text concatenates every TextPart's content, in part order.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if tp, ok := p.(*TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

// ToolParts returns every ToolPart on the message, in order.
func (m *Message) ToolParts() []*ToolPart {
	var out []*ToolPart
	for _, p := range m.Parts {
		if tp, ok := p.(*ToolPart); ok {
			out = append(out, tp)
		}
	}
	return out
}

// MessageTime contains timestamps for a message.
type MessageTime struct {
	Created int64  `json:"created"`
	Updated *int64 `json:"updated,omitempty"`
}

// ModelRef references a specific model from a provider.
type ModelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// TokenUsage contains token usage statistics for a message.
type TokenUsage struct {
	Input     int        `json:"input"`
	Output    int        `json:"output"`
	Reasoning int        `json:"reasoning,omitempty"`
	Cache     CacheUsage `json:"cache,omitempty"`
}

// CacheUsage contains cache hit/write statistics.
type CacheUsage struct {
	Read  int `json:"read"`
	Write int `json:"write"`
}

// MessageError represents an error that occurred during message processing.
type MessageError struct {
	Type    string `json:"type"` // "api" | "auth" | "output_length"
	Message string `json:"message"`
}
