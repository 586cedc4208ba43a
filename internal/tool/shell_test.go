package tool

import (
	"context"
	"strings"
	"testing"

	"github.com/roswellcsy/NiBot/internal/domain"
)

func TestShellTool_RunsCommand(t *testing.T) {
	st := NewShellTool(ShellConfig{WorkingDir: t.TempDir()})
	out, err := st.Execute(context.Background(), map[string]any{"command": "echo hello"}, domain.ToolContext{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.TrimSpace(out) != "hello" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestShellTool_Timeout(t *testing.T) {
	st := NewShellTool(ShellConfig{WorkingDir: t.TempDir(), TimeoutSeconds: 1})
	_, err := st.Execute(context.Background(), map[string]any{"command": "sleep 5"}, domain.ToolContext{})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestShellTool_TruncatesOutput(t *testing.T) {
	st := NewShellTool(ShellConfig{WorkingDir: t.TempDir(), MaxOutputBytes: 10})
	out, err := st.Execute(context.Background(), map[string]any{"command": "echo aaaaaaaaaaaaaaaaaaaaaaaa"}, domain.ToolContext{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "truncated") {
		t.Fatalf("expected truncation marker: %q", out)
	}
}

func TestShellTool_EmptyCommand(t *testing.T) {
	st := NewShellTool(ShellConfig{})
	if _, err := st.Execute(context.Background(), map[string]any{"command": "  "}, domain.ToolContext{}); err == nil {
		t.Fatal("empty command must fail")
	}
}

func TestShellTool_NonZeroExit(t *testing.T) {
	st := NewShellTool(ShellConfig{WorkingDir: t.TempDir()})
	if _, err := st.Execute(context.Background(), map[string]any{"command": "exit 3"}, domain.ToolContext{}); err == nil {
		t.Fatal("non-zero exit must surface as error")
	}
}
