// Package config loads the HiveForge configuration tree from YAML,
// filling defaults per field. Secrets never live in the file: the file
// names environment variables and the accessors resolve them.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigFileNames are probed in order, first in the working directory
// and then in the user's home directory.
var ConfigFileNames = []string{"hiveforge.config.yaml", "hiveforge.config.yml"}

// Config is the full configuration tree.
type Config struct {
	Hive       HiveConfig       `yaml:"hive"`
	Governance GovernanceConfig `yaml:"governance"`
	LLM        LLMConfig        `yaml:"llm"`
	Agents     AgentsConfig     `yaml:"agents"`
	Auth       AuthConfig       `yaml:"auth"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Conflict   ConflictConfig   `yaml:"conflict"`
	Conference ConferenceConfig `yaml:"conference"`
	GitHub     GitHubConfig     `yaml:"github"`
}

// HiveConfig names the hive and roots the vault.
type HiveConfig struct {
	Name      string `yaml:"name"`
	VaultPath string `yaml:"vault_path"`
}

// GovernanceConfig caps runaway behavior.
type GovernanceConfig struct {
	MaxRetries               int `yaml:"max_retries"`
	MaxOscillations          int `yaml:"max_oscillations"`
	MaxConcurrentTasks       int `yaml:"max_concurrent_tasks"`
	TaskTimeoutSeconds       int `yaml:"task_timeout_seconds"`
	HeartbeatIntervalSeconds int `yaml:"heartbeat_interval_seconds"`
	ApprovalTimeoutHours     int `yaml:"approval_timeout_hours"`
	ArchiveAfterDays         int `yaml:"archive_after_days"`
}

// RateLimitConfig shapes provider traffic.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	RequestsPerDay    int `yaml:"requests_per_day"`
	TokensPerMinute   int `yaml:"tokens_per_minute"`
	MaxConcurrent     int `yaml:"max_concurrent"`
	BurstLimit        int `yaml:"burst_limit"`
	RetryAfter429     int `yaml:"retry_after_429"`
}

// LLMConfig is the global model configuration.
type LLMConfig struct {
	Provider    string          `yaml:"provider"`
	Model       string          `yaml:"model"`
	APIKeyEnv   string          `yaml:"api_key_env"`
	MaxTokens   int             `yaml:"max_tokens"`
	Temperature float64         `yaml:"temperature"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// APIKey resolves the provider key from the named environment variable.
func (c LLMConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// LLMOverride is a per-agent partial model configuration. Nil fields
// inherit from the global LLM block.
type LLMOverride struct {
	Provider    *string  `yaml:"provider,omitempty"`
	Model       *string  `yaml:"model,omitempty"`
	APIKeyEnv   *string  `yaml:"api_key_env,omitempty"`
	MaxTokens   *int     `yaml:"max_tokens,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty"`
}

// AgentConfig configures one agent tier.
type AgentConfig struct {
	Enabled           *bool        `yaml:"enabled,omitempty"`
	TrustLevelDefault int          `yaml:"trust_level_default"`
	LLM               *LLMOverride `yaml:"llm,omitempty"`
}

// IsEnabled treats an absent flag as enabled.
func (a AgentConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// AgentsConfig groups the three tiers.
type AgentsConfig struct {
	Beekeeper AgentConfig `yaml:"beekeeper"`
	QueenBee  AgentConfig `yaml:"queen_bee"`
	WorkerBee AgentConfig `yaml:"worker_bee"`
}

// AuthConfig gates the API surface.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// CORSConfig configures cross-origin access for the server.
type CORSConfig struct {
	Enabled      bool     `yaml:"enabled"`
	AllowOrigins []string `yaml:"allow_origins"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string     `yaml:"host"`
	Port int        `yaml:"port"`
	CORS CORSConfig `yaml:"cors"`
}

// LoggingConfig configures the structured logger and stream rotation.
type LoggingConfig struct {
	Level               string `yaml:"level"`
	EventsMaxFileSizeMB int    `yaml:"events_max_file_size_mb"`
}

// ConflictConfig tunes the conflict detector.
type ConflictConfig struct {
	DetectionEnabled         bool `yaml:"detection_enabled"`
	AutoResolveLowSeverity   bool `yaml:"auto_resolve_low_severity"`
	EscalationTimeoutMinutes int  `yaml:"escalation_timeout_minutes"`
}

// ConferenceConfig tunes multi-agent conferences.
type ConferenceConfig struct {
	Enabled              bool    `yaml:"enabled"`
	MaxParticipants      int     `yaml:"max_participants"`
	VotingTimeoutMinutes int     `yaml:"voting_timeout_minutes"`
	QuorumPercentage     float64 `yaml:"quorum_percentage"`
}

// GitHubConfig configures the external projection.
type GitHubConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Owner         string `yaml:"owner"`
	Repo          string `yaml:"repo"`
	ProjectNumber *int   `yaml:"project_number,omitempty"`
	BaseURL       string `yaml:"base_url"`
	LabelPrefix   string `yaml:"label_prefix"`
	TokenEnv      string `yaml:"token_env"`
}

// Token resolves the GitHub token from the named environment variable.
func (c GitHubConfig) Token() string {
	if c.TokenEnv == "" {
		return ""
	}
	return os.Getenv(c.TokenEnv)
}

// Default returns the configuration used when no file is found. Loading
// a file overlays these values key by key.
func Default() *Config {
	return &Config{
		Hive: HiveConfig{
			Name:      "hiveforge",
			VaultPath: ".hiveforge/vault",
		},
		Governance: GovernanceConfig{
			MaxRetries:               2,
			MaxOscillations:          3,
			MaxConcurrentTasks:       4,
			TaskTimeoutSeconds:       600,
			HeartbeatIntervalSeconds: 30,
			ApprovalTimeoutHours:     24,
			ArchiveAfterDays:         30,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o",
			APIKeyEnv:   "OPENAI_API_KEY",
			MaxTokens:   4096,
			Temperature: 0.2,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				RequestsPerDay:    5000,
				TokensPerMinute:   200000,
				MaxConcurrent:     4,
				BurstLimit:        10,
				RetryAfter429:     30,
			},
		},
		Agents: AgentsConfig{
			Beekeeper: AgentConfig{TrustLevelDefault: 1},
			QueenBee:  AgentConfig{TrustLevelDefault: 1},
			WorkerBee: AgentConfig{TrustLevelDefault: 2},
		},
		Auth: AuthConfig{APIKeyEnv: "HIVEFORGE_API_KEY"},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8420,
		},
		Logging: LoggingConfig{
			Level:               "info",
			EventsMaxFileSizeMB: 64,
		},
		Conflict: ConflictConfig{
			DetectionEnabled:         true,
			EscalationTimeoutMinutes: 30,
		},
		Conference: ConferenceConfig{
			MaxParticipants:      5,
			VotingTimeoutMinutes: 10,
			QuorumPercentage:     0.5,
		},
		GitHub: GitHubConfig{
			BaseURL:     "https://api.github.com",
			LabelPrefix: "hiveforge",
			TokenEnv:    "GITHUB_TOKEN",
		},
	}
}

// Load searches the working directory and then the home directory for a
// config file and overlays it onto the defaults. No file is not an
// error: the defaults come back as-is.
func Load() (*Config, error) {
	dirs := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, home)
	}

	for _, dir := range dirs {
		for _, name := range ConfigFileNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			return LoadFile(path)
		}
	}
	return Default(), nil
}

// LoadFile overlays one YAML file onto the defaults.
func LoadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// LLMFor resolves the effective model configuration for an agent tier,
// merging its override onto the global block field by field.
func (c *Config) LLMFor(agent AgentConfig) LLMConfig {
	merged := c.LLM
	o := agent.LLM
	if o == nil {
		return merged
	}
	if o.Provider != nil {
		merged.Provider = *o.Provider
	}
	if o.Model != nil {
		merged.Model = *o.Model
	}
	if o.APIKeyEnv != nil {
		merged.APIKeyEnv = *o.APIKeyEnv
	}
	if o.MaxTokens != nil {
		merged.MaxTokens = *o.MaxTokens
	}
	if o.Temperature != nil {
		merged.Temperature = *o.Temperature
	}
	return merged
}
