package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/roswellcsy/NiBot/internal/domain"
)

const defaultAnthropicModel = string(anthropic.ModelClaudeSonnet4_0)

// AnthropicConfig configures the Anthropic gateway.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	Logger    *slog.Logger
}

// Anthropic is a domain.Provider backed by the official Anthropic Messages
// API client.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	var clientOpts []option.RequestOption
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Anthropic{
		client:    anthropic.NewClient(clientOpts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    cfg.Logger,
	}
}

func (p *Anthropic) Name() string { return "anthropic" }

func (p *Anthropic) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  buildAnthropicMessages(req.Messages),
		MaxTokens: int64(maxTokens),
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if system := systemBlocks(req.Messages); len(system) > 0 {
		params.System = system
	}
	if len(req.Tools) > 0 {
		params.Tools = buildAnthropicTools(req.Tools)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic api: %w", err)
	}

	out := &domain.ChatResponse{
		Usage: domain.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Content += block.AsText().Text
		case "tool_use":
			tu := block.AsToolUse()
			args := map[string]any{}
			if raw, err := json.Marshal(tu.Input); err == nil {
				_ = json.Unmarshal(raw, &args)
			}
			out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
				ID:        tu.ID,
				Name:      tu.Name,
				Arguments: args,
			})
		}
	}

	switch resp.StopReason {
	case anthropic.StopReasonToolUse:
		out.FinishReason = domain.FinishToolCalls
	case anthropic.StopReasonMaxTokens:
		out.FinishReason = domain.FinishLength
	default:
		out.FinishReason = domain.FinishStop
	}
	if out.HasToolCalls() {
		out.FinishReason = domain.FinishToolCalls
	}
	return out, nil
}

// systemBlocks extracts system messages; the Messages API carries them as a
// top-level parameter, not in the conversation.
func systemBlocks(msgs []domain.Message) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	for _, m := range msgs {
		if m.Role == "system" && m.Content != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: m.Content})
		}
	}
	return blocks
}

// buildAnthropicMessages converts the neutral history to Messages API form.
// Tool results become tool_result blocks inside user messages; consecutive
// tool results from one turn are merged into a single user message so every
// tool_use block in the preceding assistant message gets its answer.
func buildAnthropicMessages(msgs []domain.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion

	flushResults := func() {
		if len(pendingResults) > 0 {
			out = append(out, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, m := range msgs {
		switch m.Role {
		case "system":
			continue
		case "tool":
			pendingResults = append(pendingResults,
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
		case "assistant":
			flushResults()
			var content []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				content = append(content, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				content = append(content, anthropic.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
			}
			if len(content) > 0 {
				out = append(out, anthropic.NewAssistantMessage(content...))
			}
		default:
			flushResults()
			if m.Content != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
			}
		}
	}
	flushResults()
	return out
}

func buildAnthropicTools(tools []domain.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, td := range tools {
		schema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}
		if td.Parameters != nil {
			if props, ok := td.Parameters["properties"]; ok {
				schema.Properties = props
			}
			if req, ok := td.Parameters["required"]; ok {
				switch r := req.(type) {
				case []string:
					schema.Required = r
				case []any:
					for _, v := range r {
						if s, ok := v.(string); ok {
							schema.Required = append(schema.Required, s)
						}
					}
				}
			}
		}
		tu := anthropic.ToolUnionParamOfTool(schema, td.Name)
		if tu.OfTool != nil && td.Description != "" {
			tu.OfTool.Description = anthropic.String(td.Description)
		}
		out[i] = tu
	}
	return out
}
