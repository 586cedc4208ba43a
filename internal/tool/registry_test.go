package tool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/roswellcsy/NiBot/internal/domain"
)

// stubTool is a minimal tool for testing the registry.
type stubTool struct {
	name    string
	result  string
	err     error
	panics  bool
	lastCtx domain.ToolContext
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub: " + s.name }
func (s *stubTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
func (s *stubTool) Execute(ctx context.Context, args map[string]any, tc domain.ToolContext) (string, error) {
	s.lastCtx = tc
	if s.panics {
		panic("boom")
	}
	return s.result, s.err
}

var _ domain.Tool = (*stubTool)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	reg := NewRegistry(testLogger())
	if err := reg.Register(&stubTool{name: "dup", result: "v1"}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := reg.Register(&stubTool{name: "dup", result: "v2"}); err == nil {
		t.Fatal("expected duplicate registration to be rejected")
	}
	res := reg.Execute(context.Background(), "dup", nil, "c1", domain.ToolContext{})
	if res.Content != "v1" {
		t.Fatalf("first-registered should win, got %q", res.Content)
	}
}

func TestRegistry_RegisterOverride(t *testing.T) {
	reg := NewRegistry(testLogger())
	if err := reg.Register(&stubTool{name: "dup", result: "v1"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	reg.RegisterOverride(&stubTool{name: "dup", result: "v2"})
	res := reg.Execute(context.Background(), "dup", nil, "c1", domain.ToolContext{})
	if res.Content != "v2" {
		t.Fatalf("override should win, got %q", res.Content)
	}
}

func TestRegistry_ExecuteUnknown(t *testing.T) {
	reg := NewRegistry(testLogger())
	res := reg.Execute(context.Background(), "missing", nil, "c7", domain.ToolContext{})
	if !res.IsError {
		t.Fatal("expected is_error result for unknown tool")
	}
	if res.CallID != "c7" {
		t.Fatalf("call id must match: got %q", res.CallID)
	}
}

func TestRegistry_ExecuteError(t *testing.T) {
	reg := NewRegistry(testLogger())
	if err := reg.Register(&stubTool{name: "fail", err: fmt.Errorf("disk on fire")}); err != nil {
		t.Fatalf("register: %v", err)
	}
	res := reg.Execute(context.Background(), "fail", nil, "c1", domain.ToolContext{})
	if !res.IsError {
		t.Fatal("expected is_error result")
	}
	if res.Content == "" {
		t.Fatal("expected human-readable cause in content")
	}
}

func TestRegistry_ExecutePanic(t *testing.T) {
	reg := NewRegistry(testLogger())
	if err := reg.Register(&stubTool{name: "bomb", panics: true}); err != nil {
		t.Fatalf("register: %v", err)
	}
	res := reg.Execute(context.Background(), "bomb", nil, "c9", domain.ToolContext{})
	if !res.IsError {
		t.Fatal("panic inside a tool must become an is_error result")
	}
	if res.CallID != "c9" {
		t.Fatalf("call id must survive the panic path: got %q", res.CallID)
	}
}

func TestRegistry_ContextThreading(t *testing.T) {
	reg := NewRegistry(testLogger())
	st := &stubTool{name: "probe", result: "ok"}
	if err := reg.Register(st); err != nil {
		t.Fatalf("register: %v", err)
	}
	tc := domain.ToolContext{Channel: "telegram", ChatID: "42", SessionKey: "telegram:42"}
	reg.Execute(context.Background(), "probe", nil, "c1", tc)
	if st.lastCtx.SessionKey != "telegram:42" {
		t.Fatalf("tool did not receive per-call context: %+v", st.lastCtx)
	}
}

func TestRegistry_DefinitionsAllow(t *testing.T) {
	reg := NewRegistry(testLogger())
	for _, n := range []string{"read_file", "shell", "delegate"} {
		if err := reg.Register(&stubTool{name: n}); err != nil {
			t.Fatalf("register %s: %v", n, err)
		}
	}
	defs := reg.Definitions([]string{"read_file"}, nil)
	if len(defs) != 1 || defs[0].Name != "read_file" {
		t.Fatalf("allow filter failed: %v", defs)
	}
}

func TestRegistry_DefinitionsDeny(t *testing.T) {
	reg := NewRegistry(testLogger())
	for _, n := range []string{"read_file", "shell", "delegate"} {
		if err := reg.Register(&stubTool{name: n}); err != nil {
			t.Fatalf("register %s: %v", n, err)
		}
	}
	defs := reg.Definitions(nil, []string{"delegate"})
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}
	for _, d := range defs {
		if d.Name == "delegate" {
			t.Fatal("denied tool leaked into definitions")
		}
	}
}

func TestRegistry_DefinitionsAll(t *testing.T) {
	reg := NewRegistry(testLogger())
	for _, n := range []string{"a", "b"} {
		if err := reg.Register(&stubTool{name: n}); err != nil {
			t.Fatalf("register %s: %v", n, err)
		}
	}
	defs := reg.Definitions(nil, nil)
	if len(defs) != 2 {
		t.Fatalf("expected all definitions, got %d", len(defs))
	}
}

// --- ToolParameters / ArgsString ---

func TestToolParameters_WithRequired(t *testing.T) {
	params := ToolParameters(
		map[string]Param{
			"name": {Type: "string", Description: "The name"},
		},
		[]string{"name"},
	)
	if params["type"] != "object" {
		t.Fatal("expected type=object")
	}
	required := params["required"].([]string)
	if len(required) != 1 || required[0] != "name" {
		t.Fatalf("unexpected required: %v", required)
	}
}

func TestToolParameters_NoRequired(t *testing.T) {
	params := ToolParameters(map[string]Param{"q": {Type: "string"}}, nil)
	if _, ok := params["required"]; ok {
		t.Fatal("should not have 'required' key when nil")
	}
}

func TestArgsString(t *testing.T) {
	args := map[string]any{"key": "value", "num": 42.0}
	if got := ArgsString(args, "key"); got != "value" {
		t.Fatalf("expected 'value', got %q", got)
	}
	if got := ArgsString(args, "missing"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if got := ArgsString(nil, "key"); got != "" {
		t.Fatalf("expected empty for nil args, got %q", got)
	}
	if got := ArgsString(args, "num"); got == "" {
		t.Fatal("expected non-empty for numeric value")
	}
}
