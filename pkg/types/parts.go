package types

import "encoding/json"

// Part represents a typed content component of a Message, per the data model's
// Text/Thinking/ToolRequest/ToolResponse/SystemNotification/ActionRequired parts.
type Part interface {
	PartType() string
	PartID() string
	PartSessionID() string
	PartMessageID() string
}

// PartTime contains timing information for a message part.
type PartTime struct {
	Start *int64 `json:"start,omitempty"`
	End   *int64 `json:"end,omitempty"`
}

// ContentBlock is an element of a tool response's ok content: text or an image.
type ContentBlock struct {
	Kind     string `json:"kind"` // "text" | "image"
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"` // base64, for images
}

func TextBlock(s string) ContentBlock { return ContentBlock{Kind: "text", Text: s} }

func ImageBlock(mimeType, data string) ContentBlock {
	return ContentBlock{Kind: "image", MimeType: mimeType, Data: data}
}

// TextPart represents a text content part.
type TextPart struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionID"`
	MessageID string         `json:"messageID"`
	Type      string         `json:"type"` // always "text"
	Text      string         `json:"text"`
	Time      PartTime       `json:"time,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (p *TextPart) PartType() string      { return "text" }
func (p *TextPart) PartID() string        { return p.ID }
func (p *TextPart) PartSessionID() string { return p.SessionID }
func (p *TextPart) PartMessageID() string { return p.MessageID }

// ReasoningPart represents extended thinking/reasoning content. Signature is
// the opaque provider-issued signature for the last thinking delta seen.
type ReasoningPart struct {
	ID        string   `json:"id"`
	SessionID string   `json:"sessionID"`
	MessageID string   `json:"messageID"`
	Type      string   `json:"type"` // always "reasoning"
	Text      string   `json:"text"`
	Signature *string  `json:"signature,omitempty"`
	Time      PartTime `json:"time,omitempty"`
}

func (p *ReasoningPart) PartType() string      { return "reasoning" }
func (p *ReasoningPart) PartID() string        { return p.ID }
func (p *ReasoningPart) PartSessionID() string { return p.SessionID }
func (p *ReasoningPart) PartMessageID() string { return p.MessageID }

// ToolState is the mutable lifecycle state of a tool call, carried on ToolPart.
// Modeled as a struct (not a bare string) because every consumer needs the
// accumulated input, the eventual output blocks, and the error alongside the
// status label.
type ToolState struct {
	Status   string         `json:"status"` // "pending" | "running" | "completed" | "error"
	Input    map[string]any `json:"input,omitempty"`
	Output   []ContentBlock `json:"output,omitempty"`
	IsError  bool           `json:"isError,omitempty"`
	Error    *string        `json:"error,omitempty"`
	Title    *string        `json:"title,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Time     PartTime       `json:"time,omitempty"`
}

// ToolPart represents a single tool call and its eventual result, combining
// the data model's ToolRequest and ToolResponse into one correlated unit keyed
// by ToolCallID — the id a later ToolResponse must reference.
type ToolPart struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionID"`
	MessageID  string    `json:"messageID"`
	Type       string    `json:"type"` // always "tool"
	ToolCallID string    `json:"toolCallID"`
	ToolName   string    `json:"toolName"`
	ParseError *string   `json:"parseError,omitempty"` // set when arguments failed to parse
	State      ToolState `json:"state"`
}

func (p *ToolPart) PartType() string      { return "tool" }
func (p *ToolPart) PartID() string        { return p.ID }
func (p *ToolPart) PartSessionID() string { return p.SessionID }
func (p *ToolPart) PartMessageID() string { return p.MessageID }

// SystemNotificationPart carries a typed, inline system notification such as
// the CFPM runtime/tool-gate JSON payloads described in SPEC_FULL.md §6.
type SystemNotificationPart struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	Type      string `json:"type"` // always "system_notification"
	Kind      string `json:"kind"` // "inline" | "thinking" | ...
	Payload   string `json:"payload"`
}

func (p *SystemNotificationPart) PartType() string      { return "system_notification" }
func (p *SystemNotificationPart) PartID() string        { return p.ID }
func (p *SystemNotificationPart) PartSessionID() string { return p.SessionID }
func (p *SystemNotificationPart) PartMessageID() string { return p.MessageID }

// ActionRequiredPart represents a human-in-the-loop elicitation request.
type ActionRequiredPart struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionID"`
	MessageID string         `json:"messageID"`
	Type      string         `json:"type"` // always "action_required"
	RequestID string         `json:"requestID"`
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
	Resolved  bool           `json:"resolved,omitempty"`
}

func (p *ActionRequiredPart) PartType() string      { return "action_required" }
func (p *ActionRequiredPart) PartID() string        { return p.ID }
func (p *ActionRequiredPart) PartSessionID() string { return p.SessionID }
func (p *ActionRequiredPart) PartMessageID() string { return p.MessageID }

// FilePart represents a file attachment.
type FilePart struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	Type      string `json:"type"` // always "file"
	Filename  string `json:"filename"`
	MediaType string `json:"mediaType"`
	URL       string `json:"url"`
}

func (p *FilePart) PartType() string      { return "file" }
func (p *FilePart) PartID() string        { return p.ID }
func (p *FilePart) PartSessionID() string { return p.SessionID }
func (p *FilePart) PartMessageID() string { return p.MessageID }

// RawPart is used for JSON unmarshaling of parts of unknown concrete type.
type RawPart struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"-"`
}

// UnmarshalPart unmarshals a JSON part into its concrete type by discriminator.
func UnmarshalPart(data []byte) (Part, error) {
	var raw RawPart
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	switch raw.Type {
	case "text":
		var p TextPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "reasoning":
		var p ReasoningPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "tool":
		var p ToolPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "file":
		var p FilePart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "system_notification":
		var p SystemNotificationPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "action_required":
		var p ActionRequiredPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	default:
		var p TextPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	}
}
