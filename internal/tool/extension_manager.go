package tool

import (
	"context"
	"encoding/json"
	"fmt"

	einotool "github.com/cloudwego/eino/components/tool"
)

const extensionManagerToolID = "extension_manager"

// ExtensionManagerToolID is the well-known tool name the session package's
// Tool Dispatcher recognizes as the extension-manager category: invocations
// of this tool mutate the session's shared dynamic extension state (MCP
// connections, platform extensions) and so are serialized under a write
// lock rather than joined into the regular concurrent tool batch.
const ExtensionManagerToolID = extensionManagerToolID

const extensionManagerDescription = `Enable or disable a dynamically-registered extension (an MCP server or a platform extension) for the remainder of this session.

Use this when the conversation asks to turn a capability on or off mid-session rather than at startup. Changes apply to the next turn's tool registry; they are not retroactive.`

// ExtensionManagerTool flips the enabled/disabled flag for a named extension.
// It does not itself hold the session's shared extension-state lock: the
// dispatcher acquires that around the call and applies the resulting
// metadata, matching the way the rest of the dispatcher's inspection/
// execution pipeline wraps tool bodies rather than tools managing locking
// themselves.
type ExtensionManagerTool struct{}

// ExtensionManagerInput is the input for the extension_manager tool.
type ExtensionManagerInput struct {
	Action    string `json:"action"`    // "enable" | "disable"
	Extension string `json:"extension"` // extension/MCP server name
}

// NewExtensionManagerTool creates a new extension_manager tool.
func NewExtensionManagerTool() *ExtensionManagerTool {
	return &ExtensionManagerTool{}
}

func (t *ExtensionManagerTool) ID() string          { return extensionManagerToolID }
func (t *ExtensionManagerTool) Description() string { return extensionManagerDescription }

func (t *ExtensionManagerTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {
				"type": "string",
				"description": "enable or disable the named extension",
				"enum": ["enable", "disable"]
			},
			"extension": {
				"type": "string",
				"description": "Name of the MCP server or platform extension"
			}
		},
		"required": ["action", "extension"]
	}`)
}

func (t *ExtensionManagerTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params ExtensionManagerInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	if params.Extension == "" {
		return nil, fmt.Errorf("extension name is required")
	}

	switch params.Action {
	case "enable", "disable":
	default:
		return nil, fmt.Errorf("action must be enable or disable, got %q", params.Action)
	}

	enabled := params.Action == "enable"

	return &Result{
		Title:  fmt.Sprintf("%s %s", params.Action, params.Extension),
		Output: fmt.Sprintf("extension %q is now %sd", params.Extension, params.Action),
		Metadata: map[string]any{
			"extensionAction": params.Action,
			"extension":       params.Extension,
			"extensionState":  enabled,
		},
	}, nil
}

func (t *ExtensionManagerTool) EinoTool() einotool.InvokableTool {
	return &einoToolWrapper{tool: t}
}
