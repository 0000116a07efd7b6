package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

var (
	exeDirCache string
)

// getExecutableDir returns the directory where the executable is located
func getExecutableDir() string {
	if exeDirCache != "" {
		return exeDirCache
	}
	execPath, err := os.Executable()
	if err != nil {
		exeDirCache = "."
		return exeDirCache
	}
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		exeDirCache = "."
		return exeDirCache
	}
	exeDirCache = filepath.Dir(execPath)
	return exeDirCache
}

type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Store       StoreConfig       `yaml:"store"`
	PromptBuild PromptBuildConfig `yaml:"promptbuild"`
	Host        HostConfig        `yaml:"host"`
	Providers   []ProviderConfig  `yaml:"providers,omitempty"`
	Profiles    []ProfileConfig   `yaml:"profiles,omitempty"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Journal bool   `yaml:"journal,omitempty"`
}

// StoreConfig locates the SQLite database holding extension settings and chats.
type StoreConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// PromptBuildConfig configures preset lookup and the audit trail.
type PromptBuildConfig struct {
	RootDir      string `yaml:"root_dir,omitempty"`
	PresetsDir   string `yaml:"presets_dir,omitempty"`
	WorldInfoDir string `yaml:"world_info_dir,omitempty"`
	// RegexFile holds regex scripts applied to chat text (JSON or YAML list).
	RegexFile string `yaml:"regex_file,omitempty"`
	// FilesDir resolves chat attachments stored by name.
	FilesDir string `yaml:"files_dir,omitempty"`

	AuditEnabled       bool   `yaml:"audit_enabled,omitempty"`
	AuditDir           string `yaml:"audit_dir,omitempty"`
	AuditRetentionDays int    `yaml:"audit_retention_days,omitempty"`
	AuditFilePrefix    string `yaml:"audit_file_prefix,omitempty"`
	// AuditPruneSchedule is a cron expression (5 or 6 fields).
	AuditPruneSchedule string `yaml:"audit_prune_schedule,omitempty"`
}

// HostConfig holds values the chat host would normally provide at runtime.
type HostConfig struct {
	MaxContext            int    `yaml:"max_context"`
	ToolCalling           bool   `yaml:"tool_calling,omitempty"`
	WorldInfoIncludeNames bool   `yaml:"world_info_include_names,omitempty"`
	UserName              string `yaml:"user_name,omitempty"`
	// WorldInfoBudget is the percent of max context world info may use.
	WorldInfoBudget int `yaml:"world_info_budget,omitempty"`
	WorldInfoDepth  int `yaml:"world_info_depth,omitempty"`
}

// ProviderConfig describes a completion backend.
type ProviderConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"` // "openai" or "anthropic"
	BaseURL string `yaml:"base_url,omitempty"`
	APIKey  string `yaml:"api_key,omitempty"`
	Model   string `yaml:"model,omitempty"`
}

// ProfileConfig is a stored connection profile.
type ProfileConfig struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Mode        string   `yaml:"mode"` // "cc" or "tc"
	API         string   `yaml:"api,omitempty"`
	Provider    string   `yaml:"provider,omitempty"`
	Preset      string   `yaml:"preset,omitempty"`
	Model       string   `yaml:"model,omitempty"`
	Instruct    string   `yaml:"instruct,omitempty"`
	Context     string   `yaml:"context,omitempty"`
	Sysprompt   string   `yaml:"sysprompt,omitempty"`
	StopStrings []string `yaml:"stop_strings,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level: "info",
		},
		Store: StoreConfig{
			SQLitePath: ".tavernkit.db",
		},
		PromptBuild: PromptBuildConfig{
			RootDir:            ".",
			PresetsDir:         "presets",
			WorldInfoDir:       "worlds",
			AuditDir:           "audit",
			AuditRetentionDays: 14,
			AuditFilePrefix:    "promptbuild",
		},
		Host: HostConfig{
			MaxContext:      4096,
			UserName:        "User",
			WorldInfoBudget: 25,
			WorldInfoDepth:  2,
		},
	}
}

// Provider returns the provider with the given name.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// Profile returns the connection profile matching an id or a name.
func (c *Config) Profile(idOrName string) (ProfileConfig, bool) {
	for _, p := range c.Profiles {
		if p.ID == idOrName || p.Name == idOrName {
			return p, true
		}
	}
	return ProfileConfig{}, false
}

func ConfigDir() string {
	exeDir := getExecutableDir()
	return filepath.Join(exeDir, ".tavernkit")
}

func ConfigPath() string {
	exeDir := getExecutableDir()
	return filepath.Join(exeDir, ".tavernkit.yaml")
}

func Load() (*Config, error) {
	return LoadFromPath(ConfigPath())
}

// LoadFromPath reads a config file, falling back to defaults when it does not exist.
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

func (c *Config) Save() error {
	return c.SaveTo(ConfigPath())
}

// SaveTo writes the config to an explicit path.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
