package types

// Config represents the agent runtime configuration, layered from global
// config, project config, and environment variables (internal/config.Load).
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty"`

	// User identification
	Username string `json:"username,omitempty"`

	// Model selection
	Model      string `json:"model,omitempty"`       // "anthropic/claude-sonnet-4"
	SmallModel string `json:"small_model,omitempty"` // For fast tasks

	// Theme (TUI only, for compatibility)
	Theme string `json:"theme,omitempty"`

	// Sharing behavior
	Share string `json:"share,omitempty"` // "manual"|"auto"|"disabled"

	// Global tools enable/disable
	Tools map[string]bool `json:"tools,omitempty"`

	// Additional instruction files
	Instructions []string `json:"instructions,omitempty"`

	// Custom prompt variables
	PromptVariables map[string]string `json:"promptVariables,omitempty"`

	// Provider configs
	Provider map[string]ProviderConfig `json:"provider,omitempty"`

	// Agent configs
	Agent map[string]AgentConfig `json:"agent,omitempty"`

	// Command configs (custom slash commands)
	Command map[string]CommandConfig `json:"command,omitempty"`

	// Global permission settings
	Permission *PermissionConfig `json:"permission,omitempty"`

	// MCP server configs
	MCP map[string]MCPConfig `json:"mcp,omitempty"`

	// LSP
	LSP *LSPConfig `json:"lsp,omitempty"`

	// Formatter settings
	Formatter map[string]FormatterConfig `json:"formatter,omitempty"`

	// File watcher
	Watcher *WatcherConfig `json:"watcher,omitempty"`

	// Experimental features
	Experimental *ExperimentalConfig `json:"experimental,omitempty"`

	// Compaction Engine + CFPM knobs (spec.md §6 config knobs).
	Compaction CompactionConfig `json:"compaction,omitempty"`

	// Retry Guard knobs.
	Retry RetryGuardConfig `json:"retry,omitempty"`

	// Agent loop resource limits, also env-overridable.
	Resources ResourceConfig `json:"resources,omitempty"`
}

// ProviderConfig holds configuration for a specific provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseURL,omitempty"`

	// Model/Endpoint ID (for providers like ARK that require endpoint specification)
	Model string `json:"model,omitempty"`

	// Npm package name that selects the provider implementation
	// (e.g. "@ai-sdk/anthropic"); inferred from the provider name when empty
	Npm string `json:"npm,omitempty"`

	// Nested options (TypeScript style)
	Options *ProviderOptions `json:"options,omitempty"`

	// Model filtering
	Whitelist []string `json:"whitelist,omitempty"`
	Blacklist []string `json:"blacklist,omitempty"`

	// Disable provider
	Disable bool `json:"disable,omitempty"`
}

// ProviderOptions holds nested provider options.
type ProviderOptions struct {
	APIKey        string `json:"apiKey,omitempty"`
	BaseURL       string `json:"baseURL,omitempty"`
	EnterpriseURL string `json:"enterpriseUrl,omitempty"`
	Timeout       *int   `json:"timeout,omitempty"` // ms, nil = default, 0 = disabled
}

// AgentConfig holds configuration for an agent.
type AgentConfig struct {
	// Model override for this agent
	Model string `json:"model,omitempty"`

	// Generation parameters
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`

	// Custom system prompt
	Prompt string `json:"prompt,omitempty"`

	// Tool configuration
	Tools map[string]bool `json:"tools,omitempty"`

	// Permission settings
	Permission *PermissionConfig `json:"permission,omitempty"`

	// Agent metadata
	Description string `json:"description,omitempty"`
	Mode        string `json:"mode,omitempty"`  // "subagent"|"primary"|"all"
	Color       string `json:"color,omitempty"` // Hex color

	// Disable this agent
	Disable bool `json:"disable,omitempty"`

	// MaxTurns caps the Reply Orchestrator turn loop for sessions using this
	// agent; 0 means use the global default (§4.1).
	MaxTurns int `json:"maxTurns,omitempty"`
}

// PermissionConfig holds permission settings.
type PermissionConfig struct {
	Edit        string      `json:"edit,omitempty"`               // "allow"|"deny"|"ask"
	Bash        interface{} `json:"bash,omitempty"`               // string or map[string]string
	WebFetch    string      `json:"webfetch,omitempty"`           // "allow"|"deny"|"ask"
	ExternalDir string      `json:"external_directory,omitempty"` // "allow"|"deny"|"ask"
	DoomLoop    string      `json:"doom_loop,omitempty"`          // "allow"|"deny"|"ask"
}

// Deprecated: use PermissionConfig instead.
type AgentPermissionConfig = PermissionConfig

// CommandConfig holds custom command configuration.
type CommandConfig struct {
	Template    string `json:"template"`
	Description string `json:"description,omitempty"`
	Agent       string `json:"agent,omitempty"`
	Model       string `json:"model,omitempty"`
	Subtask     bool   `json:"subtask,omitempty"`
}

// MCPConfig holds MCP server configuration.
type MCPConfig struct {
	Type        string            `json:"type,omitempty"` // "local"|"remote"
	Command     []string          `json:"command,omitempty"`
	URL         string            `json:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty"`
	Timeout     int               `json:"timeout,omitempty"`
}

// FormatterConfig holds code formatter configuration.
type FormatterConfig struct {
	Disabled    bool              `json:"disabled,omitempty"`
	Command     []string          `json:"command,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Extensions  []string          `json:"extensions,omitempty"`
}

// LSPConfig holds LSP server configuration.
type LSPConfig struct {
	Disabled bool              `json:"disabled,omitempty"`
	Servers  map[string]string `json:"servers,omitempty"` // language -> command
}

// WatcherConfig holds file watcher configuration.
type WatcherConfig struct {
	Ignore []string `json:"ignore,omitempty"`
}

// ExperimentalConfig holds experimental feature flags.
type ExperimentalConfig struct {
	BatchTool bool `json:"batch_tool,omitempty"`
}

// CompactionConfig configures the Compaction Engine and CFPM subsystem,
// sourced from the AGIME_* env vars named in spec.md §6.
type CompactionConfig struct {
	// Strategy selects "legacy_segmented" or "cfpm_memory_v1".
	Strategy string `json:"strategy,omitempty"`

	// AutoCompactThreshold is AGIME_AUTO_COMPACT_THRESHOLD (default 0.8).
	AutoCompactThreshold float64 `json:"autoCompactThreshold,omitempty"`

	// MinMessagesToKeep bounds how many recent turns survive verbatim.
	MinMessagesToKeep int `json:"minMessagesToKeep,omitempty"`

	// SummaryMaxTokens bounds the synthesized summary message.
	SummaryMaxTokens int `json:"summaryMaxTokens,omitempty"`

	// CFPMRuntimeVisibility is AGIME_CFPM_RUNTIME_VISIBILITY (off|brief|debug).
	CFPMRuntimeVisibility string `json:"cfpmRuntimeVisibility,omitempty"`

	// CFPMToolGateVisibility is AGIME_CFPM_TOOL_GATE_VISIBILITY; inherits
	// CFPMRuntimeVisibility when unset.
	CFPMToolGateVisibility string `json:"cfpmToolGateVisibility,omitempty"`

	// CFPMPreToolGate is AGIME_CFPM_PRE_TOOL_GATE ("on"|"off").
	CFPMPreToolGate string `json:"cfpmPreToolGate,omitempty"`
}

// RetryGuardConfig configures the Portal/Mission Retry Guard (§4.9).
type RetryGuardConfig struct {
	MaxPortalRetryRounds int      `json:"maxPortalRetryRounds,omitempty"`
	SuccessChecks        []string `json:"successChecks,omitempty"`
	TimeoutSeconds       int      `json:"timeoutSeconds,omitempty"`
	OnFailureCommand     string   `json:"onFailureCommand,omitempty"`
}

// ResourceConfig holds the TEAM_* env-configurable resource limits (§5/§6).
type ResourceConfig struct {
	ToolTimeoutSecs          int    `json:"toolTimeoutSecs,omitempty"`          // TEAM_AGENT_TOOL_TIMEOUT_SECS
	MaxTurns                 int    `json:"maxTurns,omitempty"`                 // TEAM_AGENT_MAX_TURNS
	ProviderChunkTimeoutSecs int    `json:"providerChunkTimeoutSecs,omitempty"` // TEAM_PROVIDER_CHUNK_TIMEOUT_SECS
	ResourceMode             string `json:"resourceMode,omitempty"`             // TEAM_AGENT_RESOURCE_MODE
	SkillMode                string `json:"skillMode,omitempty"`                // TEAM_AGENT_SKILL_MODE
	AutoExtensionPolicy      string `json:"autoExtensionPolicy,omitempty"`      // TEAM_AGENT_AUTO_EXTENSION_POLICY
	AutoInstallExtensions    bool   `json:"autoInstallExtensions,omitempty"`    // TEAM_AGENT_AUTO_INSTALL_EXTENSIONS
	ServerInstanceID         string `json:"serverInstanceID,omitempty"`         // TEAM_SERVER_INSTANCE_ID
}

// Model represents an LLM model available from a provider.
type Model struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	ProviderID        string       `json:"providerID"`
	ContextLength     int          `json:"contextLength"`
	MaxOutputTokens   int          `json:"maxOutputTokens,omitempty"`
	SupportsTools     bool         `json:"supportsTools"`
	SupportsVision    bool         `json:"supportsVision"`
	SupportsReasoning bool         `json:"supportsReasoning,omitempty"`
	InputPrice        float64      `json:"inputPrice,omitempty"`
	OutputPrice       float64      `json:"outputPrice,omitempty"`
	Options           ModelOptions `json:"options,omitempty"`
}

// ModelOptions contains model-specific options.
type ModelOptions struct {
	Temperature    *float64 `json:"temperature,omitempty"`
	TopP           *float64 `json:"topP,omitempty"`
	PromptCaching  bool     `json:"promptCaching,omitempty"`
	ExtendedOutput bool     `json:"extendedOutput,omitempty"`
}
