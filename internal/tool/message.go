package tool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/roswellcsy/NiBot/internal/domain"
)

// MessageTool publishes a message straight to the outbound queue, letting
// the agent reach a conversation other than the one it is replying to.
// Denied to subagents: a delegated task reports only to its origin.
type MessageTool struct {
	bus domain.MessageBus
}

func NewMessageTool(bus domain.MessageBus) *MessageTool {
	return &MessageTool{bus: bus}
}

func (t *MessageTool) Name() string { return "message" }
func (t *MessageTool) Description() string {
	return "Send a message to a specific channel and chat. Use to notify a conversation other than the current one. Omit channel/chat_id to target the current conversation."
}
func (t *MessageTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"text":    {Type: "string", Description: "The message text to send"},
			"channel": {Type: "string", Description: "Target channel (default: current channel)"},
			"chat_id": {Type: "string", Description: "Target chat ID (default: current chat)"},
		},
		[]string{"text"},
	)
}

func (t *MessageTool) Execute(ctx context.Context, args map[string]any, tc domain.ToolContext) (string, error) {
	text := strings.TrimSpace(ArgsString(args, "text"))
	if text == "" {
		return "", fmt.Errorf("missing argument: text")
	}
	channel := ArgsString(args, "channel")
	if channel == "" {
		channel = tc.Channel
	}
	chatID := ArgsString(args, "chat_id")
	if chatID == "" {
		chatID = tc.ChatID
	}

	env := domain.Envelope{
		Channel:   channel,
		ChatID:    chatID,
		SenderID:  "agent",
		Content:   text,
		Timestamp: time.Now(),
	}
	if err := t.bus.PublishOutbound(env); err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return fmt.Sprintf("Message sent to %s:%s", channel, chatID), nil
}

var _ domain.Tool = (*MessageTool)(nil)
