package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/roswellcsy/NiBot/internal/domain"
)

const (
	defaultMaxContextTokens = 8192
	maxBootstrapBytes       = 32 * 1024
)

// bootstrapFiles are optional instruction files picked up from the workspace
// root, in this order.
var bootstrapFiles = []string{"IDENTITY.md", "AGENTS.md"}

// ContextBuilder assembles the message list for one model call: system
// prompt (identity, runtime, workspace instructions, memory notes), then a
// token-budgeted slice of history, then the current user message.
type ContextBuilder struct {
	workspace   string
	memory      domain.MemoryStore // optional
	logger      *slog.Logger
	maxTokens   int
	systemExtra string
}

type ContextConfig struct {
	Workspace         string
	Memory            domain.MemoryStore
	Logger            *slog.Logger
	MaxContextTokens  int
	SystemPromptExtra string
}

func NewContextBuilder(cfg ContextConfig) *ContextBuilder {
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = defaultMaxContextTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ContextBuilder{
		workspace:   cfg.Workspace,
		memory:      cfg.Memory,
		logger:      cfg.Logger,
		maxTokens:   cfg.MaxContextTokens,
		systemExtra: cfg.SystemPromptExtra,
	}
}

// SystemPrompt renders the system message for one conversation.
func (b *ContextBuilder) SystemPrompt(ctx context.Context, channel, chatID string) string {
	var sb strings.Builder

	sb.WriteString("# NiBot\n\n")
	sb.WriteString("You are NiBot, a personal assistant with access to tools. ")
	sb.WriteString("Use tools to act instead of describing what you would do. ")
	sb.WriteString("After tool execution, present results clearly without mentioning tool names. ")
	sb.WriteString("Respond in the language the user writes in.\n")

	fmt.Fprintf(&sb, "\n## Current Time\n%s\n", time.Now().Format("2006-01-02 15:04 (Monday)"))
	fmt.Fprintf(&sb, "\n## Runtime\n%s %s, Go %s\n", runtime.GOOS, runtime.GOARCH, runtime.Version())
	if b.workspace != "" {
		fmt.Fprintf(&sb, "\n## Workspace\n%s\n", b.workspace)
	}
	fmt.Fprintf(&sb, "\n## Session\nChannel: %s | Chat ID: %s\n", channel, chatID)

	for _, name := range bootstrapFiles {
		content := b.readBootstrap(name)
		if content == "" {
			continue
		}
		fmt.Fprintf(&sb, "\n## %s\n%s\n", name, content)
	}

	if b.systemExtra != "" {
		sb.WriteString("\n## Custom Instructions\n")
		sb.WriteString(b.systemExtra)
		sb.WriteByte('\n')
	}

	if b.memory != nil {
		notes, err := b.memory.RecentNotes(ctx, 5)
		if err != nil {
			b.logger.Warn("failed to load memory notes for prompt", "err", err)
		} else if len(notes) > 0 {
			sb.WriteString("\n## Long-term Memory (recent)\n")
			for _, n := range notes {
				fmt.Fprintf(&sb, "- [%s] %s\n", n.Category, n.Content)
			}
		}
	}

	return sb.String()
}

func (b *ContextBuilder) readBootstrap(name string) string {
	if b.workspace == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(b.workspace, name))
	if err != nil {
		return ""
	}
	if len(data) > maxBootstrapBytes {
		data = data[:maxBootstrapBytes]
	}
	return strings.TrimSpace(string(data))
}

// BuildMessages constructs [system + budgeted history + user message].
func (b *ContextBuilder) BuildMessages(ctx context.Context, history []domain.Message, userContent, channel, chatID string) []domain.Message {
	system := b.SystemPrompt(ctx, channel, chatID)

	budget := b.maxTokens - estimateTokens(system) - estimateTokens(userContent)
	trimmed := trimHistory(history, budget)
	if len(trimmed) < len(history) {
		b.logger.Debug("history trimmed to fit context budget",
			"kept", len(trimmed), "dropped", len(history)-len(trimmed))
	}

	messages := make([]domain.Message, 0, len(trimmed)+2)
	messages = append(messages, domain.Message{Role: "system", Content: system})
	messages = append(messages, trimmed...)
	messages = append(messages, domain.Message{Role: "user", Content: userContent})
	return messages
}

// estimateTokens approximates token count at four characters per token.
// Precise enough for a budget that only decides how much history to keep.
func estimateTokens(s string) int {
	return len(s) / 4
}

func messageTokens(m domain.Message) int {
	n := estimateTokens(m.Content) + 4
	for _, tc := range m.ToolCalls {
		n += estimateTokens(tc.Name) + 16
	}
	return n
}

// trimHistory keeps the newest messages that fit the budget, dropping the
// oldest first. The kept slice never starts with an orphan tool result:
// a tool message whose assistant tool-call message was dropped would be
// rejected by the model APIs.
func trimHistory(history []domain.Message, budget int) []domain.Message {
	if budget <= 0 {
		return nil
	}
	total := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := messageTokens(history[i])
		if total+cost > budget {
			break
		}
		total += cost
		start = i
	}
	for start < len(history) && history[start].Role == "tool" {
		start++
	}
	return history[start:]
}
