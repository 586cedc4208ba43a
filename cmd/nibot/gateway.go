package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roswellcsy/NiBot/internal/agent"
	"github.com/roswellcsy/NiBot/internal/bus"
	"github.com/roswellcsy/NiBot/internal/channel"
	"github.com/roswellcsy/NiBot/internal/config"
	"github.com/roswellcsy/NiBot/internal/domain"
	"github.com/roswellcsy/NiBot/internal/memory"
	"github.com/roswellcsy/NiBot/internal/provider"
	"github.com/roswellcsy/NiBot/internal/session"
	"github.com/roswellcsy/NiBot/internal/tool"
)

// runGateway assembles the whole system and runs it until a shutdown signal.
// In daemon mode the process blocks on the signal context; otherwise the
// terminal REPL is the foreground channel and quitting it stops everything.
func runGateway(cfg *config.Config, daemon bool) error {
	if err := os.MkdirAll(cfg.General.Workspace, 0o755); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(cfg.General.BusQueueSize, cfg.General.BusQueueSize, logger)
	defer messageBus.Close()

	sessions, err := session.NewStore(cfg.Sessions.Dir, cfg.Sessions.CacheSize, logger)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}

	var memStore domain.MemoryStore
	if cfg.Memory.Enabled {
		store, err := memory.NewSQLiteStore(cfg.Memory.DBPath, logger)
		if err != nil {
			return fmt.Errorf("memory store: %w", err)
		}
		defer store.Close()
		memStore = store
	}

	provFactory := provider.NewFactory(cfg, logger)
	prov, err := provFactory.DefaultProvider()
	if err != nil {
		return fmt.Errorf("default provider: %w", err)
	}
	logger.Info("provider ready", "provider", prov.Name())

	builder := agent.NewContextBuilder(agent.ContextConfig{
		Workspace:         cfg.General.Workspace,
		Memory:            memStore,
		Logger:            logger,
		MaxContextTokens:  cfg.General.MaxContextTokens,
		SystemPromptExtra: cfg.General.SystemPromptExtra,
	})

	registry := tool.NewRegistry(logger)
	cronSched := registerTools(cfg, registry, messageBus, memStore)

	loop := agent.NewLoop(agent.LoopConfig{
		Bus:           messageBus,
		Provider:      prov,
		Providers:     provFactory,
		Tools:         registry,
		Sessions:      sessions,
		Builder:       builder,
		Logger:        logger,
		MaxIterations: cfg.General.MaxIterations,
		HistoryLimit:  cfg.General.MaxHistoryMessages,
		Concurrency:   cfg.General.MaxConcurrentMessages,
	})

	profiles, err := config.LoadProfiles(cfg.Subagents.ProfilesPath)
	if err != nil {
		return fmt.Errorf("subagent profiles: %w", err)
	}
	manager := agent.NewManager(agent.ManagerConfig{
		Runner:        loop,
		Bus:           messageBus,
		Memory:        memStore,
		Profiles:      profiles,
		Logger:        logger,
		MaxConcurrent: cfg.Subagents.MaxConcurrent,
		Timeout:       time.Duration(cfg.Subagents.TimeoutSeconds) * time.Second,
	})
	registry.Register(tool.NewDelegateTool(agent.NewDelegator(manager)))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		messageBus.Dispatch(gctx)
		return nil
	})
	g.Go(func() error {
		loop.Run(gctx)
		return nil
	})
	if cronSched != nil {
		seedCronTasks(cfg, cronSched)
		g.Go(func() error {
			cronSched.Start(gctx)
			return nil
		})
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		tg := channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			ParseMode: cfg.Channels.Telegram.ParseMode,
			Logger:    logger,
		})
		g.Go(func() error { return tg.Start(gctx, messageBus) })
		logger.Info("telegram channel enabled")
	} else if daemon {
		logger.Warn("telegram channel disabled, gateway serves cron tasks only")
	}

	if !daemon {
		cli := channel.NewCLI(channel.CLIConfig{Logger: logger})
		err := cli.Start(gctx, messageBus)
		stop() // REPL done, wind down background goroutines
		_ = g.Wait()
		return err
	}

	logger.Info("gateway started, press Ctrl+C to stop")
	<-gctx.Done()
	logger.Info("shutting down gateway")
	return g.Wait()
}

// registerTools wires the built-in tools. The delegate tool is registered by
// the caller once the subagent manager exists.
func registerTools(cfg *config.Config, registry *tool.Registry, messageBus domain.MessageBus, memStore domain.MemoryStore) *tool.CronScheduler {
	ws := cfg.General.Workspace

	registry.Register(tool.NewReadFileTool(ws))
	registry.Register(tool.NewWriteFileTool(ws))
	registry.Register(tool.NewListDirTool(ws))
	registry.Register(tool.NewWebFetchTool(tool.WebFetchConfig{
		TimeoutSeconds: cfg.Tools.Web.Timeout,
		MaxBytes:       cfg.Tools.Web.MaxBytes,
	}))
	registry.Register(tool.NewMessageTool(messageBus))

	if cfg.Tools.Shell.Enabled {
		registry.Register(tool.NewShellTool(tool.ShellConfig{
			WorkingDir:     ws,
			TimeoutSeconds: cfg.Tools.Shell.Timeout,
			MaxOutputBytes: cfg.Tools.Shell.MaxOutputBytes,
		}))
	}
	if memStore != nil {
		registry.Register(tool.NewMemoryTool(memStore))
	}

	var cronSched *tool.CronScheduler
	if cfg.Cron.Enabled {
		cronSched = tool.NewCronScheduler(messageBus, logger)
		registry.Register(tool.NewCronTool(cronSched))
	}
	return cronSched
}

// seedCronTasks loads config-declared tasks into the scheduler at startup.
func seedCronTasks(cfg *config.Config, sched *tool.CronScheduler) {
	for _, t := range cfg.Cron.Tasks {
		if !t.Enabled {
			continue
		}
		sched.AddTask(tool.ScheduledTask{
			ID:        t.ID,
			Name:      t.ID,
			Message:   t.Message,
			IntervalS: t.IntervalS,
			Channel:   t.Channel,
			ChatID:    t.ChatID,
			Enabled:   true,
		})
	}
}
