package tool

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roswellcsy/NiBot/internal/domain"
)

// CronScheduler injects messages into conversations on fixed intervals, as
// if the user had typed them. Triggers go through the inbound queue like any
// other envelope; a full queue skips the tick rather than blocking.
type CronScheduler struct {
	tasks    map[string]*ScheduledTask
	bus      domain.MessageBus
	logger   *slog.Logger
	mu       sync.RWMutex
	stopCh   chan struct{}
	stopOnce sync.Once
}

type ScheduledTask struct {
	ID        string
	Name      string
	Message   string
	IntervalS int
	Channel   string
	ChatID    string
	Enabled   bool
	LastRun   time.Time
	NextRun   time.Time
}

func NewCronScheduler(bus domain.MessageBus, logger *slog.Logger) *CronScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CronScheduler{
		tasks:  make(map[string]*ScheduledTask),
		bus:    bus,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

func (cs *CronScheduler) AddTask(task ScheduledTask) string {
	if task.ID == "" {
		task.ID = uuid.NewString()[:8]
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	task.NextRun = time.Now().Add(time.Duration(task.IntervalS) * time.Second)
	cs.tasks[task.ID] = &task
	cs.logger.Info("cron task added", "id", task.ID, "name", task.Name, "interval_s", task.IntervalS)
	return task.ID
}

func (cs *CronScheduler) RemoveTask(id string) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if _, ok := cs.tasks[id]; !ok {
		return false
	}
	delete(cs.tasks, id)
	cs.logger.Info("cron task removed", "id", id)
	return true
}

func (cs *CronScheduler) ListTasks() []ScheduledTask {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	tasks := make([]ScheduledTask, 0, len(cs.tasks))
	for _, t := range cs.tasks {
		tasks = append(tasks, *t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks
}

// Start runs the scheduler until ctx is cancelled or Stop is called.
func (cs *CronScheduler) Start(ctx context.Context) {
	cs.logger.Info("cron scheduler started")
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cs.logger.Info("cron scheduler stopping")
			return
		case <-cs.stopCh:
			return
		case now := <-ticker.C:
			cs.fire(now)
		}
	}
}

// Stop halts the scheduler. Safe to call multiple times.
func (cs *CronScheduler) Stop() {
	cs.stopOnce.Do(func() { close(cs.stopCh) })
}

func (cs *CronScheduler) fire(now time.Time) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	for _, task := range cs.tasks {
		if !task.Enabled || now.Before(task.NextRun) {
			continue
		}
		err := cs.bus.PublishInbound(domain.Envelope{
			Channel:   task.Channel,
			ChatID:    task.ChatID,
			SenderID:  "cron:" + task.ID,
			Content:   task.Message,
			Timestamp: now,
		})
		if err != nil {
			cs.logger.Warn("cron trigger not enqueued", "id", task.ID, "err", err)
		}
		task.LastRun = now
		task.NextRun = now.Add(time.Duration(task.IntervalS) * time.Second)
	}
}

// CronTool exposes the scheduler to the model.
type CronTool struct {
	scheduler *CronScheduler
}

func NewCronTool(scheduler *CronScheduler) *CronTool {
	return &CronTool{scheduler: scheduler}
}

func (t *CronTool) Name() string { return "cron" }
func (t *CronTool) Description() string {
	return "Manage scheduled reminders. Actions: 'list' (show all tasks), 'add' (create a task with message and interval_seconds), 'remove' (delete a task by id)."
}
func (t *CronTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"action":           {Type: "string", Description: "Action: list, add, remove"},
			"id":               {Type: "string", Description: "Task ID (for remove)"},
			"name":             {Type: "string", Description: "Task name (for add)"},
			"message":          {Type: "string", Description: "Message injected when the task fires (for add)"},
			"interval_seconds": {Type: "number", Description: "Interval in seconds (for add)"},
		},
		[]string{"action"},
	)
}

func (t *CronTool) Execute(ctx context.Context, args map[string]any, tc domain.ToolContext) (string, error) {
	switch ArgsString(args, "action") {
	case "list":
		tasks := t.scheduler.ListTasks()
		if len(tasks) == 0 {
			return "No scheduled tasks.", nil
		}
		var lines []string
		for _, task := range tasks {
			lines = append(lines, fmt.Sprintf("[%s] %s every %ds → %s:%s (next %s)",
				task.ID, task.Name, task.IntervalS, task.Channel, task.ChatID,
				task.NextRun.Format(time.Kitchen)))
		}
		return strings.Join(lines, "\n"), nil

	case "add":
		message := strings.TrimSpace(ArgsString(args, "message"))
		if message == "" {
			return "", fmt.Errorf("missing argument: message")
		}
		interval, ok := args["interval_seconds"].(float64)
		if !ok || interval < 1 {
			return "", fmt.Errorf("interval_seconds must be a positive number")
		}
		id := t.scheduler.AddTask(ScheduledTask{
			Name:      ArgsString(args, "name"),
			Message:   message,
			IntervalS: int(interval),
			Channel:   tc.Channel,
			ChatID:    tc.ChatID,
			Enabled:   true,
		})
		return fmt.Sprintf("Scheduled task %s every %d seconds.", id, int(interval)), nil

	case "remove":
		id := ArgsString(args, "id")
		if id == "" {
			return "", fmt.Errorf("missing argument: id")
		}
		if !t.scheduler.RemoveTask(id) {
			return fmt.Sprintf("No task with id %s.", id), nil
		}
		return fmt.Sprintf("Removed task %s.", id), nil

	default:
		return "", fmt.Errorf("unknown action: %s (use list, add, remove)", ArgsString(args, "action"))
	}
}

var (
	_ domain.Tool = (*CronTool)(nil)
)
