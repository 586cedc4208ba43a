package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roswellcsy/NiBot/internal/domain"
)

// ErrDuplicateTool is returned when registering a name that already exists.
// First-registered wins; use RegisterOverride to replace built-ins.
var ErrDuplicateTool = errors.New("tool: already registered")

// Registry holds all available tools and executes them. The registry keeps
// no per-call state: everything specific to one invocation travels in the
// domain.ToolContext argument, so concurrent sessions and subagents share
// tool instances safely.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]domain.Tool
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]domain.Tool),
		logger: logger,
	}
}

// Register adds a tool; a second registration of the same name is rejected.
func (r *Registry) Register(t domain.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name())
	}
	r.tools[t.Name()] = t
	r.logger.Debug("registered tool", "name", t.Name())
	return nil
}

// RegisterOverride replaces any existing registration under the same name.
func (r *Registry) RegisterOverride(t domain.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	r.logger.Debug("registered tool (override)", "name", t.Name())
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the schemas of visible tools. A non-empty allow list
// means only those names are visible; otherwise a non-empty deny list hides
// those names; both empty means everything is visible. Pure filter over the
// registered set: denied tools simply do not exist as far as the model can
// tell.
func (r *Registry) Definitions(allow, deny []string) []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	visible := func(name string) bool {
		if len(allow) > 0 {
			for _, a := range allow {
				if a == name {
					return true
				}
			}
			return false
		}
		for _, d := range deny {
			if d == name {
				return false
			}
		}
		return true
	}

	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		if visible(n) {
			names = append(names, n)
		}
	}
	sort.Strings(names)

	defs := make([]domain.ToolDefinition, 0, len(names))
	for _, n := range names {
		t := r.tools[n]
		defs = append(defs, domain.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// Execute resolves a tool and invokes it. It always returns a ToolResult:
// an unknown name, an execution error, and a panic inside the tool all
// become is_error results instead of propagating into the agent loop.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, callID string, tc domain.ToolContext) (result domain.ToolResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked", "tool", name, "panic", rec)
			result = domain.ToolResult{
				CallID:  callID,
				Name:    name,
				Content: fmt.Sprintf("Error: tool %s failed unexpectedly", name),
				IsError: true,
			}
		}
	}()

	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return domain.ToolResult{
			CallID:  callID,
			Name:    name,
			Content: fmt.Sprintf("Unknown tool: %s", name),
			IsError: true,
		}
	}

	if r.logger.Enabled(ctx, slog.LevelDebug) {
		if argsJSON, err := json.Marshal(args); err == nil {
			r.logger.Debug("executing tool", "tool", name, "args", string(argsJSON))
		}
	}

	content, err := t.Execute(ctx, args, tc)
	if err != nil {
		return domain.ToolResult{
			CallID:  callID,
			Name:    name,
			Content: fmt.Sprintf("Error: %s", err),
			IsError: true,
		}
	}
	return domain.ToolResult{CallID: callID, Name: name, Content: content}
}

// Param describes a single tool parameter.
type Param struct {
	Type        string
	Description string
}

// ToolParameters builds a JSON Schema "parameters" object for a tool.
func ToolParameters(properties map[string]Param, required []string) map[string]any {
	props := make(map[string]any)
	for name, p := range properties {
		props[name] = map[string]any{"type": p.Type, "description": p.Description}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ArgsString fetches a string argument, marshaling non-string values.
func ArgsString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	v, ok := args[key]
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}
