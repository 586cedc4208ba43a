package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Export renders a session in a readable format. Supported: "markdown", "json".
func Export(sess *Session, format string) (string, error) {
	switch format {
	case "json":
		return exportJSON(sess)
	case "", "markdown", "md":
		return exportMarkdown(sess), nil
	default:
		return "", fmt.Errorf("unknown export format: %s", format)
	}
}

func exportJSON(sess *Session) (string, error) {
	data := map[string]any{
		"key":           sess.Key,
		"created_at":    sess.CreatedAt.Format(time.RFC3339),
		"updated_at":    sess.UpdatedAt.Format(time.RFC3339),
		"message_count": len(sess.Messages),
		"messages":      sess.Messages,
	}
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}
	return string(out), nil
}

func exportMarkdown(sess *Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Session: %s\n", sess.Key)
	fmt.Fprintf(&b, "Created: %s\n", sess.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Updated: %s\n", sess.UpdatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Messages: %d\n\n---\n\n", len(sess.Messages))

	for _, msg := range sess.Messages {
		fmt.Fprintf(&b, "**%s**", msg.Role)
		if !msg.Timestamp.IsZero() {
			fmt.Fprintf(&b, " (%s)", msg.Timestamp.Format(time.RFC3339))
		}
		b.WriteString("\n\n")
		switch {
		case len(msg.ToolCalls) > 0:
			for _, tc := range msg.ToolCalls {
				args, _ := json.Marshal(tc.Arguments)
				fmt.Fprintf(&b, "Tool call: `%s`\n```json\n%s\n```\n", tc.Name, args)
			}
		case msg.Role == "tool":
			content := msg.Content
			if len(content) > 2000 {
				content = content[:2000]
			}
			fmt.Fprintf(&b, "Tool result (%s):\n```\n%s\n```\n", msg.ToolName, content)
		default:
			b.WriteString(msg.Content)
			b.WriteString("\n")
		}
		b.WriteString("\n---\n\n")
	}
	return b.String()
}
