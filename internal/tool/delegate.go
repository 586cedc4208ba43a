package tool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/roswellcsy/NiBot/internal/domain"
)

// DelegateRequest describes a background task to hand off.
type DelegateRequest struct {
	Task          string
	Label         string
	Profile       string
	Allow         []string
	OriginChannel string
	OriginChatID  string
}

// TaskView is the tool-facing snapshot of a delegated task.
type TaskView struct {
	ID         string
	Label      string
	Status     string
	Result     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Delegator runs background tasks. Implemented by the subagent manager.
type Delegator interface {
	Spawn(req DelegateRequest) (string, error)
	Query(id string) (TaskView, bool)
	List() []TaskView
}

// DelegateTool hands a task to a subagent and reports on running ones.
// Denied to subagents themselves: delegation depth is exactly one.
type DelegateTool struct {
	delegator Delegator
}

func NewDelegateTool(d Delegator) *DelegateTool {
	return &DelegateTool{delegator: d}
}

func (t *DelegateTool) Name() string { return "delegate" }
func (t *DelegateTool) Description() string {
	return "Delegate a task to a background subagent. Actions: 'spawn' (start a task; its result arrives in this conversation when done), 'query' (check one task by id), 'list' (show all tasks)."
}
func (t *DelegateTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"action":  {Type: "string", Description: "Action: spawn, query, list"},
			"task":    {Type: "string", Description: "Task description (for spawn)"},
			"label":   {Type: "string", Description: "Short label for the task (for spawn)"},
			"profile": {Type: "string", Description: "Named agent profile to run as (for spawn)"},
			"id":      {Type: "string", Description: "Task ID (for query)"},
		},
		[]string{"action"},
	)
}

func (t *DelegateTool) Execute(ctx context.Context, args map[string]any, tc domain.ToolContext) (string, error) {
	switch ArgsString(args, "action") {
	case "spawn":
		task := strings.TrimSpace(ArgsString(args, "task"))
		if task == "" {
			return "", fmt.Errorf("missing argument: task")
		}
		id, err := t.delegator.Spawn(DelegateRequest{
			Task:          task,
			Label:         ArgsString(args, "label"),
			Profile:       ArgsString(args, "profile"),
			Allow:         tc.Allow,
			OriginChannel: tc.Channel,
			OriginChatID:  tc.ChatID,
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Started background task %s. Its result will arrive in this conversation.", id), nil

	case "query":
		id := ArgsString(args, "id")
		if id == "" {
			return "", fmt.Errorf("missing argument: id")
		}
		view, ok := t.delegator.Query(id)
		if !ok {
			return fmt.Sprintf("No task with id %s.", id), nil
		}
		return formatTask(view), nil

	case "list":
		views := t.delegator.List()
		if len(views) == 0 {
			return "No delegated tasks.", nil
		}
		var lines []string
		for _, v := range views {
			lines = append(lines, formatTask(v))
		}
		return strings.Join(lines, "\n"), nil

	default:
		return "", fmt.Errorf("unknown action: %s (use spawn, query, list)", ArgsString(args, "action"))
	}
}

func formatTask(v TaskView) string {
	line := fmt.Sprintf("[%s] %s — %s", v.ID, v.Label, v.Status)
	if v.Result != "" {
		result := v.Result
		if len(result) > 200 {
			result = result[:200] + "…"
		}
		line += ": " + result
	}
	return line
}

var _ domain.Tool = (*DelegateTool)(nil)
