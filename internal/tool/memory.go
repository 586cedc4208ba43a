package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/roswellcsy/NiBot/internal/domain"
)

// MemoryTool lets the agent write and recall long-term notes. Recent notes
// are also surfaced automatically in the system prompt.
type MemoryTool struct {
	store domain.MemoryStore
}

func NewMemoryTool(store domain.MemoryStore) *MemoryTool {
	return &MemoryTool{store: store}
}

func (t *MemoryTool) Name() string { return "memory" }
func (t *MemoryTool) Description() string {
	return "Long-term memory. Actions: 'save' (store a note with optional category), 'recall' (search stored notes)."
}
func (t *MemoryTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"action":   {Type: "string", Description: "Action: save, recall"},
			"content":  {Type: "string", Description: "Note text (for save)"},
			"category": {Type: "string", Description: "Note category, e.g. preference, fact (for save)"},
			"query":    {Type: "string", Description: "Search text (for recall)"},
		},
		[]string{"action"},
	)
}

func (t *MemoryTool) Execute(ctx context.Context, args map[string]any, tc domain.ToolContext) (string, error) {
	switch ArgsString(args, "action") {
	case "save":
		content := strings.TrimSpace(ArgsString(args, "content"))
		if content == "" {
			return "", fmt.Errorf("missing argument: content")
		}
		category := ArgsString(args, "category")
		if category == "" {
			category = "fact"
		}
		note := domain.MemoryNote{
			Category: category,
			Content:  content,
			Source:   tc.SessionKey,
		}
		if err := t.store.SaveNote(ctx, note); err != nil {
			return "", fmt.Errorf("save note: %w", err)
		}
		return "Noted.", nil

	case "recall":
		query := strings.TrimSpace(ArgsString(args, "query"))
		if query == "" {
			return "", fmt.Errorf("missing argument: query")
		}
		notes, err := t.store.SearchNotes(ctx, query, 10)
		if err != nil {
			return "", fmt.Errorf("recall: %w", err)
		}
		if len(notes) == 0 {
			return "No matching notes.", nil
		}
		var lines []string
		for _, n := range notes {
			lines = append(lines, fmt.Sprintf("- [%s] %s", n.Category, n.Content))
		}
		return strings.Join(lines, "\n"), nil

	default:
		return "", fmt.Errorf("unknown action: %s (use save, recall)", ArgsString(args, "action"))
	}
}

var _ domain.Tool = (*MemoryTool)(nil)
