package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roswellcsy/NiBot/internal/config"
	"github.com/roswellcsy/NiBot/internal/session"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "nibot",
		Short: "NiBot: personal AI agent gateway",
		Long:  "NiBot is an AI agent that talks over Telegram and the terminal, runs tools, keeps per-conversation history, and delegates background tasks to subagents.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.nibot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(sessionsCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file, falling back to defaults when missing.
func loadConfig() *config.Config {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
		expandPaths(cfg)
	}
	setupLogger(cfg)
	return cfg
}

// expandPaths resolves ~/ in a Defaults() config; Load does this for configs
// read from disk.
func expandPaths(cfg *config.Config) {
	cfg.General.Workspace = config.ExpandPath(cfg.General.Workspace)
	cfg.General.LogFile = config.ExpandPath(cfg.General.LogFile)
	cfg.Sessions.Dir = config.ExpandPath(cfg.Sessions.Dir)
	cfg.Memory.DBPath = config.ExpandPath(cfg.Memory.DBPath)
	cfg.Subagents.ProfilesPath = config.ExpandPath(cfg.Subagents.ProfilesPath)
}

// setupLogger reconfigures the global logger from config: level, and an
// optional log file in addition to stderr.
func setupLogger(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	out := os.Stderr
	if cfg.General.LogFile != "" {
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logger.Warn("cannot open log file, logging to stderr", "path", cfg.General.LogFile, "err", err)
		} else {
			out = f
		}
	}

	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config, workspace, and an example agents.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}

			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			expandPaths(cfg)
			if err := os.MkdirAll(cfg.General.Workspace, 0o755); err != nil {
				return err
			}
			if err := writeExampleProfiles(cfg.Subagents.ProfilesPath); err != nil {
				return err
			}

			logger.Info("initialized", "config", cfgPath, "workspace", cfg.General.Workspace)
			fmt.Println("Config written to", cfgPath)
			fmt.Println("Set ANTHROPIC_API_KEY (or edit the config) and run: nibot chat")
			return nil
		},
	}
}

func writeExampleProfiles(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	example := `# Subagent profiles. A profile restricts what a delegated task can do.
#
# agents:
#   researcher:
#     system_prompt: "You research topics and report findings concisely."
#     allowed_tools: [web_fetch, read_file, memory]
#     max_iterations: 10
agents: {}
`
	return os.WriteFile(path, []byte(example), 0o644)
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start interactive chat in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(loadConfig(), false)
		},
	}
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start the gateway (Telegram + agent loop + cron)",
		Long:  "Starts all enabled channels and the agent loop. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			setupLogger(cfg)
			return runGateway(cfg, true)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				fmt.Printf("Config:    %s (not loaded: %v)\n", cfgPath, err)
				return nil
			}
			fmt.Printf("NiBot %s\n", version)
			fmt.Printf("Config:    %s\n", cfgPath)
			fmt.Printf("Workspace: %s\n", cfg.General.Workspace)
			fmt.Printf("Provider:  %s\n", cfg.General.DefaultProvider)
			for name, pc := range cfg.Providers {
				state := "disabled"
				if pc.Enabled {
					state = "enabled"
				}
				fmt.Printf("  %-10s %s\n", name, state)
			}
			fmt.Printf("Telegram:  enabled=%v\n", cfg.Channels.Telegram.Enabled)
			fmt.Printf("Sessions:  %s\n", cfg.Sessions.Dir)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the loaded config with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, err := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored conversations",
	}

	var format string
	export := &cobra.Command{
		Use:   "export [key]",
		Short: "Export a conversation (e.g. telegram:12345) as markdown or json",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			store, err := session.NewStore(cfg.Sessions.Dir, cfg.Sessions.CacheSize, logger)
			if err != nil {
				return err
			}
			out, err := session.Export(store.GetOrCreate(args[0]), format)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	export.Flags().StringVarP(&format, "format", "f", "markdown", "output format: markdown, json")
	cmd.AddCommand(export)

	cmd.AddCommand(&cobra.Command{
		Use:   "search [query]",
		Short: "Search message content across all conversations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			store, err := session.NewStore(cfg.Sessions.Dir, cfg.Sessions.CacheSize, logger)
			if err != nil {
				return err
			}
			hits := store.Search(args[0], 20)
			if len(hits) == 0 {
				fmt.Println("No matches.")
				return nil
			}
			for _, h := range hits {
				fmt.Printf("[%s] %s: %s\n", h.SessionKey, h.Role, h.ContentPreview)
			}
			return nil
		},
	})

	return cmd
}
