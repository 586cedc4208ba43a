package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/roswellcsy/NiBot/internal/bus"
	"github.com/roswellcsy/NiBot/internal/config"
	"github.com/roswellcsy/NiBot/internal/domain"
)

// recordingRunner captures the turn options a spawned task runs with.
type recordingRunner struct {
	mu     sync.Mutex
	opts   []TurnOptions
	envs   []domain.Envelope
	result string
	err    error
	delay  time.Duration
}

func (r *recordingRunner) RunTurn(ctx context.Context, env domain.Envelope, opts TurnOptions) (string, error) {
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	r.mu.Lock()
	r.opts = append(r.opts, opts)
	r.envs = append(r.envs, env)
	r.mu.Unlock()
	return r.result, r.err
}

func newTestManager(t *testing.T, runner TurnRunner) (*Manager, *bus.InMemoryBus) {
	t.Helper()
	b := bus.New(10, 10, testLogger())
	m := NewManager(ManagerConfig{
		Runner:        runner,
		Bus:           b,
		Logger:        testLogger(),
		MaxConcurrent: 2,
		Timeout:       2 * time.Second,
	})
	return m, b
}

func waitOutbound(t *testing.T, ch chan domain.Envelope) domain.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(3 * time.Second):
		t.Fatal("no outbound envelope")
		return domain.Envelope{}
	}
}

func TestSpawn_ResultDeliveredToOrigin(t *testing.T) {
	runner := &recordingRunner{result: "research complete"}
	m, b := newTestManager(t, runner)

	got := make(chan domain.Envelope, 1)
	b.SubscribeOutbound("telegram", func(env domain.Envelope) error {
		got <- env
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Dispatch(ctx)

	id, err := m.Spawn(SpawnRequest{
		Task:          "research gophers",
		OriginChannel: "telegram",
		OriginChatID:  "42",
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if id == "" {
		t.Fatal("expected a task id")
	}

	env := waitOutbound(t, got)
	if env.Channel != "telegram" || env.ChatID != "42" {
		t.Fatalf("result sent to wrong conversation: %+v", env)
	}
	if !strings.Contains(env.Content, "research complete") {
		t.Fatalf("result text missing: %q", env.Content)
	}
	if env.Metadata["subagent_id"] != id {
		t.Fatalf("subagent id missing from metadata: %+v", env.Metadata)
	}
}

func TestSpawn_DenyFloorAlwaysApplied(t *testing.T) {
	runner := &recordingRunner{result: "ok"}
	m, b := newTestManager(t, runner)
	done := make(chan domain.Envelope, 1)
	b.SubscribeOutbound("cli", func(env domain.Envelope) error { done <- env; return nil })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Dispatch(ctx)

	if _, err := m.Spawn(SpawnRequest{
		Task:          "try to escalate",
		Allow:         []string{"read_file", "delegate", "message"},
		OriginChannel: "cli",
		OriginChatID:  "1",
	}); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	waitOutbound(t, done)

	opts := runner.opts[0]
	if len(opts.Allow) != 1 || opts.Allow[0] != "read_file" {
		t.Fatalf("denied names must be stripped from the allow-list: %+v", opts.Allow)
	}
	for _, name := range []string{"delegate", "message"} {
		if !contains(opts.Deny, name) {
			t.Fatalf("deny floor missing %s: %+v", name, opts.Deny)
		}
	}
	if !strings.HasPrefix(opts.SessionKey, "subagent:") {
		t.Fatalf("task must run in an isolated session: %q", opts.SessionKey)
	}
}

func TestSpawn_AllowListOfOnlyDeniedToolsDisablesTools(t *testing.T) {
	runner := &recordingRunner{result: "ok"}
	m, b := newTestManager(t, runner)
	done := make(chan domain.Envelope, 1)
	b.SubscribeOutbound("cli", func(env domain.Envelope) error { done <- env; return nil })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Dispatch(ctx)

	if _, err := m.Spawn(SpawnRequest{
		Task:          "delegate only",
		Allow:         []string{"delegate"},
		OriginChannel: "cli",
		OriginChatID:  "1",
	}); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	waitOutbound(t, done)

	if !runner.opts[0].NoTools {
		t.Fatal("an allow-list reduced to nothing must disable tools, not widen them")
	}
}

func TestSpawn_TimeoutReported(t *testing.T) {
	runner := &recordingRunner{result: "never", delay: 10 * time.Second}
	b := bus.New(10, 10, testLogger())
	m := NewManager(ManagerConfig{
		Runner:  runner,
		Bus:     b,
		Logger:  testLogger(),
		Timeout: 50 * time.Millisecond,
	})
	done := make(chan domain.Envelope, 1)
	b.SubscribeOutbound("cli", func(env domain.Envelope) error { done <- env; return nil })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Dispatch(ctx)

	id, err := m.Spawn(SpawnRequest{Task: "slow", OriginChannel: "cli", OriginChatID: "1"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	env := waitOutbound(t, done)
	if !strings.Contains(env.Content, "timed out") {
		t.Fatalf("timeout not reported: %q", env.Content)
	}
	info, ok := m.Query(id)
	if !ok || info.Status != TaskTimedOut {
		t.Fatalf("expected timed_out status, got %+v", info)
	}
}

// stubbornRunner ignores cancellation, sleeps through the deadline, and then
// finishes cleanly.
type stubbornRunner struct {
	delay  time.Duration
	result string
}

func (r *stubbornRunner) RunTurn(ctx context.Context, env domain.Envelope, opts TurnOptions) (string, error) {
	time.Sleep(r.delay)
	return r.result, nil
}

func TestSpawn_CleanFinishPastDeadlineKeepsResult(t *testing.T) {
	runner := &stubbornRunner{delay: 150 * time.Millisecond, result: "late but complete"}
	b := bus.New(10, 10, testLogger())
	m := NewManager(ManagerConfig{
		Runner:  runner,
		Bus:     b,
		Logger:  testLogger(),
		Timeout: 50 * time.Millisecond,
	})
	done := make(chan domain.Envelope, 1)
	b.SubscribeOutbound("cli", func(env domain.Envelope) error { done <- env; return nil })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Dispatch(ctx)

	id, err := m.Spawn(SpawnRequest{Task: "slow but fine", OriginChannel: "cli", OriginChatID: "1"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	env := waitOutbound(t, done)
	if !strings.Contains(env.Content, "late but complete") {
		t.Fatalf("successful result replaced: %q", env.Content)
	}
	info, ok := m.Query(id)
	if !ok || info.Status != TaskDone {
		t.Fatalf("clean finish past the deadline must stay done, got %+v", info)
	}
}

func TestSpawn_ConcurrencyLimit(t *testing.T) {
	runner := &recordingRunner{result: "ok", delay: 200 * time.Millisecond}
	m, _ := newTestManager(t, runner) // MaxConcurrent: 2

	for i := 0; i < 2; i++ {
		if _, err := m.Spawn(SpawnRequest{Task: "t", OriginChannel: "cli", OriginChatID: "1"}); err != nil {
			t.Fatalf("spawn %d: %v", i, err)
		}
	}
	if _, err := m.Spawn(SpawnRequest{Task: "t", OriginChannel: "cli", OriginChatID: "1"}); err == nil {
		t.Fatal("third concurrent spawn should be rejected")
	}
}

func TestQueryAndList(t *testing.T) {
	runner := &recordingRunner{result: "fine"}
	m, b := newTestManager(t, runner)
	done := make(chan domain.Envelope, 1)
	b.SubscribeOutbound("cli", func(env domain.Envelope) error { done <- env; return nil })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Dispatch(ctx)

	id, err := m.Spawn(SpawnRequest{Task: "quick", Label: "quick job", OriginChannel: "cli", OriginChatID: "1"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	waitOutbound(t, done)

	// Finished tasks leave the live set but stay queryable.
	if m.Running() != 0 {
		t.Fatalf("finished task still live: %d", m.Running())
	}
	info, ok := m.Query(id)
	if !ok {
		t.Fatal("finished task must stay queryable")
	}
	if info.Status != TaskDone || info.Result != "fine" {
		t.Fatalf("unexpected task info: %+v", info)
	}

	list := m.List()
	if len(list) != 1 || list[0].Label != "quick job" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestSpawn_ValidatesRequest(t *testing.T) {
	m, _ := newTestManager(t, &recordingRunner{})
	if _, err := m.Spawn(SpawnRequest{Task: "  ", OriginChannel: "cli", OriginChatID: "1"}); err == nil {
		t.Fatal("empty task must be rejected")
	}
	if _, err := m.Spawn(SpawnRequest{Task: "x"}); err == nil {
		t.Fatal("missing origin must be rejected")
	}
	if _, err := m.Spawn(SpawnRequest{Task: "x", Profile: "ghost", OriginChannel: "cli", OriginChatID: "1"}); err == nil {
		t.Fatal("unknown profile must be rejected")
	}
}

func TestSpawn_ProfileApplied(t *testing.T) {
	runner := &recordingRunner{result: "ok"}
	b := bus.New(10, 10, testLogger())
	m := NewManager(ManagerConfig{
		Runner: runner,
		Bus:    b,
		Logger: testLogger(),
		Profiles: map[string]config.SubagentProfile{
			"researcher": {
				Name:          "researcher",
				SystemPrompt:  "You research things.",
				Provider:      "openai",
				Model:         "gpt-4o-mini",
				AllowedTools:  []string{"web_fetch"},
				MaxIterations: 7,
			},
		},
		Timeout: 2 * time.Second,
	})
	done := make(chan domain.Envelope, 1)
	b.SubscribeOutbound("cli", func(env domain.Envelope) error { done <- env; return nil })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Dispatch(ctx)

	if _, err := m.Spawn(SpawnRequest{
		Task: "look this up", Profile: "researcher",
		OriginChannel: "cli", OriginChatID: "1",
	}); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	waitOutbound(t, done)

	opts := runner.opts[0]
	if opts.Provider != "openai" || opts.MaxIterations != 7 {
		t.Fatalf("profile not applied: %+v", opts)
	}
	if opts.Model != "gpt-4o-mini" {
		t.Fatalf("profile model override not applied: %q", opts.Model)
	}
	if len(opts.Allow) != 1 || opts.Allow[0] != "web_fetch" {
		t.Fatalf("profile allow-list not applied: %+v", opts.Allow)
	}
	if opts.SystemExtra == "" {
		t.Fatal("profile system prompt not applied")
	}
	if fmt.Sprint(runner.envs[0].Content) != "look this up" {
		t.Fatalf("task text lost: %+v", runner.envs[0])
	}
}
