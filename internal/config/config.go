package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jsjm1986/agime/pkg/types"
	"github.com/tidwall/jsonc"
)

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.config/agime/)
// 2. Project config (.agime/)
// 3. Environment variables
func Load(directory string) (*types.Config, error) {
	cfg := &types.Config{
		Provider: make(map[string]types.ProviderConfig),
		Agent:    make(map[string]types.AgentConfig),
	}

	globalPath := GetPaths().Config
	loadConfigFile(filepath.Join(globalPath, "agime.json"), cfg)
	loadConfigFile(filepath.Join(globalPath, "agime.jsonc"), cfg)

	if directory != "" {
		loadConfigFile(filepath.Join(directory, ".agime", "agime.json"), cfg)
		loadConfigFile(filepath.Join(directory, ".agime", "agime.jsonc"), cfg)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// loadConfigFile loads a single config file, tolerating JSONC comments via
// tidwall/jsonc (the teacher hand-rolled a regex stripper for this; jsonc is
// already in the dependency pack and handles string-literal edge cases the
// regex approach does not).
func loadConfigFile(path string, cfg *types.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // File doesn't exist, skip
	}

	data = jsonc.ToJSON(data)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(cfg, &fileConfig)
	return nil
}

// mergeConfig merges source config into target.
func mergeConfig(target, source *types.Config) {
	if source.Model != "" {
		target.Model = source.Model
	}
	if source.SmallModel != "" {
		target.SmallModel = source.SmallModel
	}

	if source.Provider != nil {
		if target.Provider == nil {
			target.Provider = make(map[string]types.ProviderConfig)
		}
		for k, v := range source.Provider {
			target.Provider[k] = v
		}
	}

	if source.Agent != nil {
		if target.Agent == nil {
			target.Agent = make(map[string]types.AgentConfig)
		}
		for k, v := range source.Agent {
			target.Agent[k] = v
		}
	}

	if source.LSP != nil {
		target.LSP = source.LSP
	}
	if source.Watcher != nil {
		target.Watcher = source.Watcher
	}
	if source.Experimental != nil {
		target.Experimental = source.Experimental
	}
	if source.Permission != nil {
		target.Permission = source.Permission
	}

	if source.Compaction.Strategy != "" {
		target.Compaction = source.Compaction
	}
	if source.Retry.MaxPortalRetryRounds != 0 || len(source.Retry.SuccessChecks) > 0 {
		target.Retry = source.Retry
	}
	if source.Resources.MaxTurns != 0 {
		target.Resources = source.Resources
	}
}

// applyDefaults fills in unset defaults: the 0.8 auto-compact threshold
// (§4.4), compaction strategy and visibility, turn/timeout limits, and the
// portal retry rounds and timeout.
func applyDefaults(cfg *types.Config) {
	if cfg.Compaction.AutoCompactThreshold == 0 {
		cfg.Compaction.AutoCompactThreshold = 0.8
	}
	if cfg.Compaction.Strategy == "" {
		cfg.Compaction.Strategy = "cfpm_memory_v1"
	}
	if cfg.Compaction.MinMessagesToKeep == 0 {
		cfg.Compaction.MinMessagesToKeep = 4
	}
	if cfg.Compaction.SummaryMaxTokens == 0 {
		cfg.Compaction.SummaryMaxTokens = 2000
	}
	if cfg.Compaction.CFPMRuntimeVisibility == "" {
		cfg.Compaction.CFPMRuntimeVisibility = "brief"
	}
	if cfg.Compaction.CFPMToolGateVisibility == "" {
		cfg.Compaction.CFPMToolGateVisibility = cfg.Compaction.CFPMRuntimeVisibility
	}
	if cfg.Compaction.CFPMPreToolGate == "" {
		cfg.Compaction.CFPMPreToolGate = "on"
	}
	if cfg.Resources.MaxTurns == 0 {
		cfg.Resources.MaxTurns = 50
	}
	if cfg.Resources.ToolTimeoutSecs == 0 {
		cfg.Resources.ToolTimeoutSecs = 120
	}
	if cfg.Resources.ProviderChunkTimeoutSecs == 0 {
		cfg.Resources.ProviderChunkTimeoutSecs = 600
	}
	if cfg.Retry.MaxPortalRetryRounds == 0 {
		cfg.Retry.MaxPortalRetryRounds = 2
	}
	if cfg.Retry.TimeoutSeconds == 0 {
		cfg.Retry.TimeoutSeconds = 30
	}
}

// applyEnvOverrides applies the environment variable overrides named in
// spec.md §6.
func applyEnvOverrides(cfg *types.Config) {
	providerEnvMap := map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
		"ark":       "ARK_API_KEY",
	}
	for provider, envVar := range providerEnvMap {
		if apiKey := os.Getenv(envVar); apiKey != "" {
			if cfg.Provider == nil {
				cfg.Provider = make(map[string]types.ProviderConfig)
			}
			p := cfg.Provider[provider]
			if p.APIKey == "" {
				p.APIKey = apiKey
				cfg.Provider[provider] = p
			}
		}
	}

	if model := os.Getenv("AGIME_MODEL"); model != "" {
		cfg.Model = model
	}
	if smallModel := os.Getenv("AGIME_SMALL_MODEL"); smallModel != "" {
		cfg.SmallModel = smallModel
	}

	if v := os.Getenv("AGIME_AUTO_COMPACT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Compaction.AutoCompactThreshold = f
		}
	}
	if v := os.Getenv("AGIME_CFPM_RUNTIME_VISIBILITY"); v != "" {
		cfg.Compaction.CFPMRuntimeVisibility = v
	}
	if v := os.Getenv("AGIME_CFPM_TOOL_GATE_VISIBILITY"); v != "" {
		cfg.Compaction.CFPMToolGateVisibility = v
	}
	if v := os.Getenv("AGIME_CFPM_PRE_TOOL_GATE"); v != "" {
		cfg.Compaction.CFPMPreToolGate = v
	}

	if v := os.Getenv("TEAM_AGENT_TOOL_TIMEOUT_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Resources.ToolTimeoutSecs = n
		}
	}
	if v := os.Getenv("TEAM_AGENT_MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Resources.MaxTurns = n
		}
	}
	if v := os.Getenv("TEAM_PROVIDER_CHUNK_TIMEOUT_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Resources.ProviderChunkTimeoutSecs = n
		}
	}
	if v := os.Getenv("TEAM_AGENT_RESOURCE_MODE"); v != "" {
		cfg.Resources.ResourceMode = v
	}
	if v := os.Getenv("TEAM_AGENT_SKILL_MODE"); v != "" {
		cfg.Resources.SkillMode = v
	}
	if v := os.Getenv("TEAM_AGENT_AUTO_EXTENSION_POLICY"); v != "" {
		cfg.Resources.AutoExtensionPolicy = v
	}
	if v := os.Getenv("TEAM_AGENT_AUTO_INSTALL_EXTENSIONS"); v != "" {
		cfg.Resources.AutoInstallExtensions = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("TEAM_SERVER_INSTANCE_ID"); v != "" {
		cfg.Resources.ServerInstanceID = v
	}
}

// Save saves the configuration to a file.
func Save(cfg *types.Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
