package provider

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/roswellcsy/NiBot/internal/domain"
)

func TestBuildOpenAIMessages_AssistantKeepsTextWithToolCalls(t *testing.T) {
	msgs := buildOpenAIMessages([]domain.Message{
		{
			Role:    "assistant",
			Content: "let me check that",
			ToolCalls: []domain.ToolCall{
				{ID: "call_1", Name: "web_fetch", Arguments: map[string]any{"url": "https://example.com"}},
			},
		},
		{Role: "tool", Content: "page body", ToolCallID: "call_1"},
	})
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}

	assistant, err := json.Marshal(msgs[0])
	if err != nil {
		t.Fatalf("marshal assistant message: %v", err)
	}
	for _, want := range []string{"let me check that", "call_1", "web_fetch"} {
		if !strings.Contains(string(assistant), want) {
			t.Fatalf("assistant replay missing %q: %s", want, assistant)
		}
	}

	toolMsg, err := json.Marshal(msgs[1])
	if err != nil {
		t.Fatalf("marshal tool message: %v", err)
	}
	if !strings.Contains(string(toolMsg), "call_1") || !strings.Contains(string(toolMsg), "page body") {
		t.Fatalf("tool result not keyed to its call: %s", toolMsg)
	}
}

func TestBuildOpenAIMessages_AssistantWithoutToolCalls(t *testing.T) {
	msgs := buildOpenAIMessages([]domain.Message{
		{Role: "assistant", Content: "plain answer"},
	})
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	data, err := json.Marshal(msgs[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), "plain answer") {
		t.Fatalf("assistant text lost: %s", data)
	}
}
