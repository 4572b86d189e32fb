// Package config provides configuration loading, merging, and path management
// for the agent runtime.
//
// # Configuration Loading
//
// Load implements a layered configuration strategy, merging sources in
// priority order (later sources override earlier ones):
//
//  1. Global config (~/.config/agime/agime.json or agime.jsonc)
//  2. Project config (<directory>/.agime/agime.json or agime.jsonc)
//  3. Environment variables (AGIME_* and TEAM_* — see below)
//  4. Built-in defaults (applyDefaults)
//
// # Supported Formats
//
// Both JSON and JSONC (JSON with comments) are accepted; comments are
// stripped with github.com/tidwall/jsonc before unmarshaling.
//
// # Configuration Merging
//
// mergeConfig performs a shallow, field-by-field merge: scalar fields are
// overwritten when the source sets a non-zero value, map fields (Provider,
// Agent) are merged key-by-key, and the Compaction/Retry/Resources blocks
// are replaced wholesale when the source configures any field in them.
//
// # Path Management
//
// GetPaths returns XDG Base Directory Specification compliant paths:
//   - Data: ~/.local/share/agime (XDG_DATA_HOME)
//   - Config: ~/.config/agime (XDG_CONFIG_HOME)
//   - Cache: ~/.cache/agime (XDG_CACHE_HOME)
//   - State: ~/.local/state/agime (XDG_STATE_HOME)
//
// On Windows these fall back to APPDATA.
//
// # Environment Variable Overrides
//
//   - AGIME_MODEL / AGIME_SMALL_MODEL - model selection
//   - AGIME_AUTO_COMPACT_THRESHOLD - Compaction Engine trigger ratio
//   - AGIME_CFPM_RUNTIME_VISIBILITY / AGIME_CFPM_TOOL_GATE_VISIBILITY / AGIME_CFPM_PRE_TOOL_GATE
//   - ANTHROPIC_API_KEY / OPENAI_API_KEY / ARK_API_KEY - provider credentials
//   - TEAM_AGENT_TOOL_TIMEOUT_SECS / TEAM_AGENT_MAX_TURNS / TEAM_PROVIDER_CHUNK_TIMEOUT_SECS
//   - TEAM_AGENT_RESOURCE_MODE / TEAM_AGENT_SKILL_MODE
//   - TEAM_AGENT_AUTO_EXTENSION_POLICY / TEAM_AGENT_AUTO_INSTALL_EXTENSIONS
//   - TEAM_SERVER_INSTANCE_ID
//
// # Usage Example
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	paths := config.GetPaths()
//	if err := paths.EnsurePaths(); err != nil {
//	    log.Fatal(err)
//	}
package config
