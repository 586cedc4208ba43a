package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/roswellcsy/NiBot/internal/domain"
)

// staticMemory serves canned notes.
type staticMemory struct {
	notes []domain.MemoryNote
}

func (m *staticMemory) SaveNote(ctx context.Context, note domain.MemoryNote) error { return nil }
func (m *staticMemory) RecentNotes(ctx context.Context, limit int) ([]domain.MemoryNote, error) {
	return m.notes, nil
}
func (m *staticMemory) SearchNotes(ctx context.Context, query string, limit int) ([]domain.MemoryNote, error) {
	return nil, nil
}
func (m *staticMemory) RecordDelegation(ctx context.Context, rec domain.DelegationRecord) error {
	return nil
}
func (m *staticMemory) Close() error { return nil }

func TestSystemPrompt_IncludesMemoryAndSession(t *testing.T) {
	b := NewContextBuilder(ContextConfig{
		Memory: &staticMemory{notes: []domain.MemoryNote{
			{Category: "preference", Content: "likes short answers"},
		}},
		Logger: testLogger(),
	})

	prompt := b.SystemPrompt(context.Background(), "telegram", "42")
	if !strings.Contains(prompt, "Channel: telegram | Chat ID: 42") {
		t.Fatalf("session section missing:\n%s", prompt)
	}
	if !strings.Contains(prompt, "likes short answers") {
		t.Fatalf("memory note missing:\n%s", prompt)
	}
}

func TestSystemPrompt_BootstrapFiles(t *testing.T) {
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "IDENTITY.md"), []byte("Call yourself Nibbles."), 0o644); err != nil {
		t.Fatalf("write bootstrap: %v", err)
	}
	b := NewContextBuilder(ContextConfig{Workspace: ws, Logger: testLogger()})

	prompt := b.SystemPrompt(context.Background(), "cli", "1")
	if !strings.Contains(prompt, "Call yourself Nibbles.") {
		t.Fatalf("bootstrap file not included:\n%s", prompt)
	}
}

func TestBuildMessages_Shape(t *testing.T) {
	b := NewContextBuilder(ContextConfig{Logger: testLogger()})
	history := []domain.Message{
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
	}

	msgs := b.BuildMessages(context.Background(), history, "new question", "cli", "1")
	if len(msgs) != 4 {
		t.Fatalf("expected system+2 history+user, got %d", len(msgs))
	}
	if msgs[0].Role != "system" {
		t.Fatalf("first message must be system: %+v", msgs[0])
	}
	if msgs[len(msgs)-1].Role != "user" || msgs[len(msgs)-1].Content != "new question" {
		t.Fatalf("last message must be the current input: %+v", msgs[len(msgs)-1])
	}
}

func TestBuildMessages_TrimsOldestFirst(t *testing.T) {
	// Small budget: only the newest slice of history fits.
	b := NewContextBuilder(ContextConfig{MaxContextTokens: 300, Logger: testLogger()})

	long := strings.Repeat("word ", 150) // ~190 tokens each
	history := []domain.Message{
		{Role: "user", Content: "OLDEST " + long},
		{Role: "assistant", Content: long},
		{Role: "user", Content: "NEWEST question"},
		{Role: "assistant", Content: "NEWEST answer"},
	}

	msgs := b.BuildMessages(context.Background(), history, "now", "cli", "1")
	joined := ""
	for _, m := range msgs {
		joined += m.Content + "\n"
	}
	if strings.Contains(joined, "OLDEST") {
		t.Fatalf("oldest history must be dropped first:\n%s", joined)
	}
	if !strings.Contains(joined, "NEWEST question") {
		t.Fatalf("newest history must be kept:\n%s", joined)
	}
}

func TestTrimHistory_NeverStartsWithToolResult(t *testing.T) {
	history := []domain.Message{
		{Role: "assistant", Content: strings.Repeat("x", 4000), ToolCalls: []domain.ToolCall{{ID: "c1", Name: "t"}}},
		{Role: "tool", Content: "result", ToolCallID: "c1"},
		{Role: "assistant", Content: "final"},
	}
	trimmed := trimHistory(history, 40)
	if len(trimmed) == 0 {
		t.Fatal("expected some history kept")
	}
	if trimmed[0].Role == "tool" {
		t.Fatalf("kept history starts with an orphan tool result: %+v", trimmed)
	}
}

func TestTrimHistory_ZeroBudgetDropsAll(t *testing.T) {
	history := []domain.Message{{Role: "user", Content: "hello"}}
	if got := trimHistory(history, 0); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}
