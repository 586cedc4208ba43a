package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/roswellcsy/NiBot/internal/domain"
	"github.com/roswellcsy/NiBot/internal/provider"
	"github.com/roswellcsy/NiBot/internal/session"
	"github.com/roswellcsy/NiBot/internal/tool"
)

const (
	defaultMaxIterations    = 20
	defaultConcurrency      = 5
	defaultHistoryLimit     = 100
	defaultMaxParallelTools = 5

	// exhaustedAnswer is the fixed reply when a turn hits its iteration cap.
	exhaustedAnswer = "I was unable to complete the task within the allowed steps."
	// emptyAnswer covers models that finish a turn with no text at all.
	emptyAnswer = "I've completed processing but have no additional response."
)

// ProviderResolver resolves a provider by name; empty name means default.
type ProviderResolver interface {
	Get(name string) (domain.Provider, error)
}

// Loop is the reasoning engine: receive envelope, lock the conversation,
// call the model, execute requested tools, repeat until the model stops
// asking for tools, persist the turn, publish the reply.
type Loop struct {
	bus       domain.MessageBus
	provider  domain.Provider
	providers ProviderResolver // optional, for per-turn provider switching
	tools     *tool.Registry
	sessions  *session.Store
	builder   *ContextBuilder
	logger    *slog.Logger

	maxIterations    int
	historyLimit     int
	maxParallelTools int
	sem              *semaphore.Weighted
}

type LoopConfig struct {
	Bus           domain.MessageBus
	Provider      domain.Provider
	Providers     ProviderResolver
	Tools         *tool.Registry
	Sessions      *session.Store
	Builder       *ContextBuilder
	Logger        *slog.Logger
	MaxIterations int
	HistoryLimit  int
	Concurrency   int // max envelopes processed in parallel
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		bus:              cfg.Bus,
		provider:         cfg.Provider,
		providers:        cfg.Providers,
		tools:            cfg.Tools,
		sessions:         cfg.Sessions,
		builder:          cfg.Builder,
		logger:           cfg.Logger,
		maxIterations:    cfg.MaxIterations,
		historyLimit:     cfg.HistoryLimit,
		maxParallelTools: defaultMaxParallelTools,
		sem:              semaphore.NewWeighted(int64(cfg.Concurrency)),
	}
}

// Run consumes inbound envelopes until the context is cancelled or the
// inbound queue closes. Concurrency is bounded by the semaphore; per-key
// session locks serialize turns within one conversation.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("agent loop started", "max_iterations", l.maxIterations)
	inbound := l.bus.Inbound()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("agent loop stopping")
			return
		case env, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound queue closed, agent loop stopping")
				return
			}
			if err := l.sem.Acquire(ctx, 1); err != nil {
				return
			}
			go func(e domain.Envelope) {
				defer l.sem.Release(1)
				l.process(ctx, e)
			}(env)
		}
	}
}

// process runs one turn and always publishes a reply to the origin.
func (l *Loop) process(ctx context.Context, env domain.Envelope) {
	l.logger.Info("processing envelope",
		"channel", env.Channel, "chat_id", env.ChatID, "content_len", len(env.Content))

	reply, err := l.RunTurn(ctx, env, TurnOptions{})
	if err != nil {
		l.logger.Error("turn failed", "channel", env.Channel, "chat_id", env.ChatID, "error", err)
		if reply == "" {
			reply = provider.UserMessage(err)
		}
	}

	out := domain.Envelope{
		Channel:   env.Channel,
		ChatID:    env.ChatID,
		Content:   reply,
		Timestamp: time.Now(),
	}
	if err := l.bus.PublishOutbound(out); err != nil {
		l.logger.Error("failed to publish reply", "channel", env.Channel, "error", err)
	}
}

// TurnOptions adjust one turn; the zero value runs a normal conversation
// turn with the default provider and full tool visibility.
type TurnOptions struct {
	SessionKey    string   // override the envelope-derived key
	Provider      string   // named provider instead of the default
	Model         string   // model override passed through to the provider
	Allow         []string // capability allow-list for this turn
	Deny          []string // capability deny-list for this turn
	NoTools       bool     // run without any tool definitions
	MaxIterations int      // override the loop default
	LoopID        string   // id threaded into ToolContext (subagent task id)
	SystemExtra   string   // extra system prompt text for this turn
}

// RunTurn executes one full reasoning turn. The per-key session lock is held
// from history read to turn persistence so concurrent envelopes for the same
// conversation serialize and each turn sees a consistent history.
func (l *Loop) RunTurn(ctx context.Context, env domain.Envelope, opts TurnOptions) (string, error) {
	key := opts.SessionKey
	if key == "" {
		key = env.SessionKey()
	}
	maxIterations := opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = l.maxIterations
	}

	prov, err := l.resolveProvider(opts.Provider)
	if err != nil {
		return "", err
	}

	lk := l.sessions.LockFor(key)
	lk.Lock()
	defer lk.Unlock()

	sess := l.sessions.GetOrCreate(key)
	history := sess.History(l.historyLimit)

	messages := l.builder.BuildMessages(ctx, history, env.Content, env.Channel, env.ChatID)
	if opts.SystemExtra != "" && len(messages) > 0 && messages[0].Role == "system" {
		messages[0].Content += "\n\n" + opts.SystemExtra
	}

	var toolDefs []domain.ToolDefinition
	if l.tools != nil && !opts.NoTools {
		toolDefs = l.tools.Definitions(opts.Allow, opts.Deny)
	}

	tc := domain.ToolContext{
		Channel:    env.Channel,
		ChatID:     env.ChatID,
		SessionKey: key,
		SenderID:   env.SenderID,
		LoopID:     opts.LoopID,
		Allow:      opts.Allow,
		Deny:       opts.Deny,
	}

	// Everything this turn adds to the history, persisted in one append.
	turn := []domain.Message{{Role: "user", Content: env.Content}}
	final := ""

	for iteration := 0; iteration < maxIterations; iteration++ {
		l.logger.Debug("agent iteration",
			"session", key, "iteration", iteration+1, "messages", len(messages))

		resp, chatErr := prov.Chat(ctx, domain.ChatRequest{
			Messages: messages,
			Tools:    toolDefs,
			Model:    opts.Model,
		})
		if chatErr != nil {
			// Terminal model failure: synthesize a sanitized assistant record
			// so the durable turn still ends with a reply, then surface the
			// error to the caller.
			final = provider.UserMessage(chatErr)
			turn = append(turn, domain.Message{Role: "assistant", Content: final})
			l.persistTurn(key, turn)
			return final, fmt.Errorf("model call: %w", chatErr)
		}

		if !resp.HasToolCalls() {
			final = resp.Content
			if final == "" {
				final = emptyAnswer
			}
			turn = append(turn, domain.Message{Role: "assistant", Content: final})
			break
		}

		assistant := domain.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		}
		messages = append(messages, assistant)
		turn = append(turn, assistant)

		results := l.executeToolCalls(ctx, resp.ToolCalls, tc)
		for _, r := range results {
			msg := domain.Message{
				Role:       "tool",
				Content:    r.Content,
				ToolCallID: r.CallID,
				ToolName:   r.Name,
			}
			messages = append(messages, msg)
			turn = append(turn, msg)
		}
	}

	if final == "" {
		final = exhaustedAnswer
		turn = append(turn, domain.Message{Role: "assistant", Content: final})
		l.logger.Warn("turn hit iteration cap", "session", key, "max_iterations", maxIterations)
	}

	l.persistTurn(key, turn)
	return final, nil
}

// executeToolCalls runs one batch of tool calls with bounded parallelism and
// returns results in call order. The registry guarantees a ToolResult per
// call, so the indexed slice has no gaps.
func (l *Loop) executeToolCalls(ctx context.Context, calls []domain.ToolCall, tc domain.ToolContext) []domain.ToolResult {
	results := make([]domain.ToolResult, len(calls))
	toolSem := semaphore.NewWeighted(int64(l.maxParallelTools))

	for i, call := range calls {
		if err := toolSem.Acquire(ctx, 1); err != nil {
			// Context cancelled mid-batch: fail the remaining calls in place.
			for j := i; j < len(calls); j++ {
				results[j] = domain.ToolResult{
					CallID:  calls[j].ID,
					Name:    calls[j].Name,
					Content: "Error: cancelled",
					IsError: true,
				}
			}
			break
		}
		go func(idx int, call domain.ToolCall) {
			defer toolSem.Release(1)
			results[idx] = l.tools.Execute(ctx, call.Name, call.Arguments, call.ID, tc)
		}(i, call)
	}

	// Wait for all workers by draining the semaphore.
	_ = toolSem.Acquire(context.Background(), int64(l.maxParallelTools))
	return results
}

func (l *Loop) persistTurn(key string, turn []domain.Message) {
	if err := l.sessions.AppendTurn(key, turn); err != nil {
		l.logger.Error("failed to persist turn", "session", key, "error", err)
	}
}

func (l *Loop) resolveProvider(name string) (domain.Provider, error) {
	if name != "" && l.providers != nil {
		p, err := l.providers.Get(name)
		if err != nil {
			l.logger.Warn("requested provider not available, using default", "requested", name)
		} else {
			return p, nil
		}
	}
	if l.provider == nil {
		return nil, fmt.Errorf("no provider configured")
	}
	return l.provider, nil
}
