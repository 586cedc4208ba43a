package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roswellcsy/NiBot/internal/config"
	"github.com/roswellcsy/NiBot/internal/domain"
)

const (
	defaultTaskTimeout  = 5 * time.Minute
	maxFinishedRetained = 50
)

// subagentDeny is the hard capability floor for delegated tasks: a subagent
// can never spawn further subagents or message other conversations, no
// matter what allow-list the caller passes.
var subagentDeny = []string{"delegate", "message"}

// TaskStatus is the lifecycle state of a delegated task.
type TaskStatus string

const (
	TaskRunning  TaskStatus = "running"
	TaskDone     TaskStatus = "done"
	TaskFailed   TaskStatus = "failed"
	TaskTimedOut TaskStatus = "timed_out"
)

// TaskInfo describes one delegated task.
type TaskInfo struct {
	ID            string
	Label         string
	Task          string
	Profile       string
	OriginChannel string
	OriginChatID  string
	Status        TaskStatus
	Result        string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// TurnRunner executes one reasoning turn. Satisfied by *Loop.
type TurnRunner interface {
	RunTurn(ctx context.Context, env domain.Envelope, opts TurnOptions) (string, error)
}

// Manager spawns and tracks subagent tasks. Each task runs a full reasoning
// turn in an isolated session (`subagent:<id>`), with restricted tools and
// its own iteration cap, and publishes its result straight to the outbound
// queue addressed to the origin conversation.
type Manager struct {
	runner   TurnRunner
	bus      domain.MessageBus
	memory   domain.MemoryStore // optional audit mirror
	profiles map[string]config.SubagentProfile
	logger   *slog.Logger
	timeout  time.Duration
	slots    chan struct{}

	mu       sync.Mutex
	live     map[string]*TaskInfo
	finished []*TaskInfo // newest last, bounded
}

type ManagerConfig struct {
	Runner        TurnRunner
	Bus           domain.MessageBus
	Memory        domain.MemoryStore
	Profiles      map[string]config.SubagentProfile
	Logger        *slog.Logger
	MaxConcurrent int
	Timeout       time.Duration
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTaskTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		runner:   cfg.Runner,
		bus:      cfg.Bus,
		memory:   cfg.Memory,
		profiles: cfg.Profiles,
		logger:   cfg.Logger,
		timeout:  cfg.Timeout,
		slots:    make(chan struct{}, cfg.MaxConcurrent),
		live:     make(map[string]*TaskInfo),
	}
}

// SpawnRequest describes a task to delegate.
type SpawnRequest struct {
	Task          string
	Label         string
	Profile       string   // optional named profile from agents.yaml
	Allow         []string // optional tool allow-list, intersected with the deny floor
	OriginChannel string
	OriginChatID  string
}

// Spawn starts a subagent task and returns its id immediately. The task runs
// in the background; its result reaches the origin conversation through the
// outbound queue, never back through the inbound one.
func (m *Manager) Spawn(req SpawnRequest) (string, error) {
	if strings.TrimSpace(req.Task) == "" {
		return "", fmt.Errorf("subagent: empty task")
	}
	if req.OriginChannel == "" || req.OriginChatID == "" {
		return "", fmt.Errorf("subagent: origin conversation required")
	}

	var profile config.SubagentProfile
	if req.Profile != "" {
		p, ok := m.profiles[req.Profile]
		if !ok {
			return "", fmt.Errorf("subagent: unknown profile %q", req.Profile)
		}
		profile = p
	}

	select {
	case m.slots <- struct{}{}:
	default:
		return "", fmt.Errorf("subagent: too many concurrent tasks")
	}

	id := uuid.NewString()[:8]
	label := req.Label
	if label == "" {
		label = truncate(req.Task, 48)
	}
	info := &TaskInfo{
		ID:            id,
		Label:         label,
		Task:          req.Task,
		Profile:       req.Profile,
		OriginChannel: req.OriginChannel,
		OriginChatID:  req.OriginChatID,
		Status:        TaskRunning,
		StartedAt:     time.Now(),
	}

	m.mu.Lock()
	m.live[id] = info
	m.mu.Unlock()
	m.audit(info)

	go m.run(info, req, profile)

	m.logger.Info("subagent spawned", "id", id, "label", label, "profile", req.Profile)
	return id, nil
}

func (m *Manager) run(info *TaskInfo, req SpawnRequest, profile config.SubagentProfile) {
	defer func() { <-m.slots }()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	opts := m.turnOptions(info.ID, req, profile)
	env := domain.Envelope{
		Channel:   req.OriginChannel,
		ChatID:    req.OriginChatID,
		SenderID:  "subagent",
		Content:   req.Task,
		Timestamp: time.Now(),
	}

	result, err := m.runner.RunTurn(ctx, env, opts)

	// A turn that finished cleanly keeps its result even if the deadline
	// expired while it was wrapping up; timeout applies only to failures.
	status := TaskDone
	switch {
	case err != nil && ctx.Err() == context.DeadlineExceeded:
		status = TaskTimedOut
		result = fmt.Sprintf("Task %q timed out after %s.", info.Label, m.timeout)
	case err != nil:
		status = TaskFailed
		result = fmt.Sprintf("Task %q failed.", info.Label)
		m.logger.Error("subagent task failed", "id", info.ID, "error", err)
	}

	m.complete(info, status, result)

	out := domain.Envelope{
		Channel:   info.OriginChannel,
		ChatID:    info.OriginChatID,
		Content:   fmt.Sprintf("Subagent [%s] %s:\n%s", info.Label, statusVerb(status), result),
		Metadata:  map[string]any{"subagent_id": info.ID},
		Timestamp: time.Now(),
	}
	if err := m.bus.PublishOutbound(out); err != nil {
		m.logger.Error("subagent result not delivered", "id", info.ID, "error", err)
	}
}

// turnOptions builds the restricted turn for a delegated task. The caller's
// allow-list is intersected with the deny floor; an allow-list that ends up
// empty disables tools entirely rather than falling back to full visibility.
func (m *Manager) turnOptions(id string, req SpawnRequest, profile config.SubagentProfile) TurnOptions {
	allow := req.Allow
	if len(allow) == 0 {
		allow = profile.AllowedTools
	}
	deny := append([]string{}, subagentDeny...)
	deny = append(deny, profile.DeniedTools...)

	noTools := false
	if len(allow) > 0 {
		filtered := allow[:0:0]
		for _, a := range allow {
			if !contains(deny, a) {
				filtered = append(filtered, a)
			}
		}
		allow = filtered
		noTools = len(allow) == 0
	}

	opts := TurnOptions{
		SessionKey:    "subagent:" + id,
		Provider:      profile.Provider,
		Model:         profile.Model,
		Allow:         allow,
		Deny:          deny,
		NoTools:       noTools,
		MaxIterations: profile.MaxIterations,
		LoopID:        id,
	}
	if profile.SystemPrompt != "" {
		opts.SystemExtra = profile.SystemPrompt
	}
	return opts
}

func (m *Manager) complete(info *TaskInfo, status TaskStatus, result string) {
	m.mu.Lock()
	info.Status = status
	info.Result = result
	info.FinishedAt = time.Now()
	delete(m.live, info.ID)
	m.finished = append(m.finished, info)
	if len(m.finished) > maxFinishedRetained {
		m.finished = m.finished[len(m.finished)-maxFinishedRetained:]
	}
	m.mu.Unlock()

	m.audit(info)
	m.logger.Info("subagent finished", "id", info.ID, "status", status)
}

// audit mirrors the task state to the durable delegation log.
func (m *Manager) audit(info *TaskInfo) {
	if m.memory == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec := domain.DelegationRecord{
		ID:            info.ID,
		Label:         info.Label,
		OriginChannel: info.OriginChannel,
		OriginChatID:  info.OriginChatID,
		Status:        string(info.Status),
		Result:        truncate(info.Result, 4000),
		CreatedAt:     info.StartedAt,
		FinishedAt:    info.FinishedAt,
	}
	if err := m.memory.RecordDelegation(ctx, rec); err != nil {
		m.logger.Warn("delegation audit write failed", "id", info.ID, "error", err)
	}
}

// Query returns the state of one task, live or recently finished.
func (m *Manager) Query(id string) (TaskInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.live[id]; ok {
		return *info, true
	}
	for _, info := range m.finished {
		if info.ID == id {
			return *info, true
		}
	}
	return TaskInfo{}, false
}

// List returns live tasks first, then recently finished ones, newest first.
func (m *Manager) List() []TaskInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]TaskInfo, 0, len(m.live)+len(m.finished))
	for _, info := range m.live {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	for i := len(m.finished) - 1; i >= 0; i-- {
		out = append(out, *m.finished[i])
	}
	return out
}

// Running reports the number of live tasks.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

func statusVerb(s TaskStatus) string {
	switch s {
	case TaskDone:
		return "finished"
	case TaskTimedOut:
		return "timed out"
	default:
		return "failed"
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
