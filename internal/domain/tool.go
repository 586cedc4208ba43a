package domain

import "context"

// Tool is the interface for agent capabilities (shell, file ops, delegate, etc).
// Implementations hold no per-call state: everything specific to one
// invocation arrives through the ToolContext argument, so a single tool
// instance is safe to share across concurrent sessions and subagents.
//
// A tool that performs a blocking external operation must enforce its own
// timeout and report it through the returned error rather than hanging.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any, tc ToolContext) (string, error)
}

// ToolContext carries the origin of a tool invocation. Constructed fresh for
// every call, never stored on the tool itself.
type ToolContext struct {
	Channel    string
	ChatID     string
	SessionKey string
	SenderID   string
	LoopID     string   // id of the issuing agent turn or subagent
	Allow      []string // capability allow-list in effect for the issuing loop
	Deny       []string // capability deny-list in effect for the issuing loop
}
