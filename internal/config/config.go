package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for NiBot.
type Config struct {
	General   GeneralConfig             `json:"general"`
	Providers map[string]ProviderConfig `json:"providers"`
	Channels  ChannelsConfig            `json:"channels"`
	Sessions  SessionsConfig            `json:"sessions"`
	Memory    MemoryConfig              `json:"memory"`
	Tools     ToolsConfig               `json:"tools"`
	Cron      CronConfig                `json:"cron"`
	Subagents SubagentsConfig           `json:"subagents"`
}

type GeneralConfig struct {
	Workspace             string `json:"workspace"`
	LogLevel              string `json:"logLevel"`
	LogFile               string `json:"logFile,omitempty"`
	MaxIterations         int    `json:"maxIterations"`
	DefaultProvider       string `json:"defaultProvider"`
	MaxConcurrentMessages int    `json:"maxConcurrentMessages"`
	MaxContextTokens      int    `json:"maxContextTokens,omitempty"`
	MaxHistoryMessages    int    `json:"maxHistoryMessages,omitempty"`
	BusQueueSize          int    `json:"busQueueSize,omitempty"`
	SystemPromptExtra     string `json:"systemPromptExtra,omitempty"`
}

type ProviderConfig struct {
	Enabled      bool   `json:"enabled"`
	APIBase      string `json:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty"`
	MaxTokens    int    `json:"maxTokens,omitempty"`
	MaxRetries   int    `json:"maxRetries,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	CLI      CLIConfig      `json:"cli"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom,omitempty"`
	ParseMode string   `json:"parseMode"`
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
}

type SessionsConfig struct {
	Dir       string `json:"dir"`
	CacheSize int    `json:"cacheSize"`
}

type MemoryConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
}

type ToolsConfig struct {
	Shell ShellToolConfig `json:"shell"`
	Web   WebToolConfig   `json:"web"`
}

type ShellToolConfig struct {
	Enabled        bool `json:"enabled"`
	Timeout        int  `json:"timeout"`
	MaxOutputBytes int  `json:"maxOutputBytes"`
}

type WebToolConfig struct {
	Timeout  int `json:"timeout"`
	MaxBytes int `json:"maxBytes"`
}

type CronConfig struct {
	Enabled bool       `json:"enabled"`
	Tasks   []CronTask `json:"tasks,omitempty"`
}

// CronTask injects a message into a conversation on a fixed interval, as if
// the user had typed it.
type CronTask struct {
	ID        string `json:"id"`
	Message   string `json:"message"`
	IntervalS int    `json:"intervalSeconds"`
	Channel   string `json:"channel"`
	ChatID    string `json:"chatId"`
	Enabled   bool   `json:"enabled"`
}

type SubagentsConfig struct {
	ProfilesPath   string `json:"profilesPath,omitempty"`
	MaxConcurrent  int    `json:"maxConcurrent"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// DefaultConfigDir returns the default config directory (~/.nibot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nibot"
	}
	return filepath.Join(home, ".nibot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.Workspace = ExpandPath(cfg.General.Workspace)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Sessions.Dir = ExpandPath(cfg.Sessions.Dir)
	cfg.Memory.DBPath = ExpandPath(cfg.Memory.DBPath)
	cfg.Subagents.ProfilesPath = ExpandPath(cfg.Subagents.ProfilesPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset
// or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.MaxIterations < 1 || cfg.General.MaxIterations > 200 {
		errs = append(errs, "general.maxIterations must be between 1 and 200")
	}
	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}
	if cfg.General.BusQueueSize < 0 {
		errs = append(errs, "general.busQueueSize must be >= 0")
	}
	if cfg.Sessions.CacheSize < 1 {
		errs = append(errs, "sessions.cacheSize must be >= 1")
	}
	if cfg.Tools.Shell.Timeout < 1 {
		errs = append(errs, "tools.shell.timeout must be >= 1")
	}
	if cfg.Subagents.MaxConcurrent < 1 {
		errs = append(errs, "subagents.maxConcurrent must be >= 1")
	}
	if cfg.Subagents.TimeoutSeconds < 1 {
		errs = append(errs, "subagents.timeoutSeconds must be >= 1")
	}

	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		if pc.MaxRetries < 0 || pc.MaxRetries > 10 {
			errs = append(errs, fmt.Sprintf("providers.%s: maxRetries must be between 0 and 10", name))
		}
	}

	for i, task := range cfg.Cron.Tasks {
		if task.Enabled && task.IntervalS < 1 {
			errs = append(errs, fmt.Sprintf("cron.tasks[%d]: intervalSeconds must be >= 1", i))
		}
		if task.Enabled && (task.Channel == "" || task.ChatID == "") {
			errs = append(errs, fmt.Sprintf("cron.tasks[%d]: channel and chatId are required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
