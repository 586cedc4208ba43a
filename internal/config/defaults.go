package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Workspace:             "~/.nibot/workspace",
			LogLevel:              "info",
			MaxIterations:         20,
			DefaultProvider:       "anthropic",
			MaxConcurrentMessages: 5,
			MaxContextTokens:      8192,
			MaxHistoryMessages:    100,
			BusQueueSize:          100,
		},
		Providers: map[string]ProviderConfig{
			"anthropic": {
				Enabled:    true,
				APIKey:     "${ANTHROPIC_API_KEY}",
				MaxTokens:  4096,
				MaxRetries: 3,
			},
			"openai": {
				Enabled:    false,
				APIKey:     "${OPENAI_API_KEY}",
				MaxTokens:  4096,
				MaxRetries: 3,
			},
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled:   false,
				ParseMode: "Markdown",
			},
			CLI: CLIConfig{
				Enabled: true,
			},
		},
		Sessions: SessionsConfig{
			Dir:       "~/.nibot/sessions",
			CacheSize: 200,
		},
		Memory: MemoryConfig{
			Enabled: true,
			DBPath:  "~/.nibot/memory.db",
		},
		Tools: ToolsConfig{
			Shell: ShellToolConfig{
				Enabled:        true,
				Timeout:        30,
				MaxOutputBytes: 65536,
			},
			Web: WebToolConfig{
				Timeout:  30,
				MaxBytes: 1 << 20,
			},
		},
		Cron: CronConfig{
			Enabled: true,
		},
		Subagents: SubagentsConfig{
			ProfilesPath:   "~/.nibot/agents.yaml",
			MaxConcurrent:  4,
			TimeoutSeconds: 300,
		},
	}
}
