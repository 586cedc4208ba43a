package tool

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/roswellcsy/NiBot/internal/domain"
)

// fakeBus records published envelopes.
type fakeBus struct {
	inbound  []domain.Envelope
	outbound []domain.Envelope
}

func (b *fakeBus) PublishInbound(env domain.Envelope) error {
	b.inbound = append(b.inbound, env)
	return nil
}
func (b *fakeBus) Inbound() <-chan domain.Envelope { return nil }
func (b *fakeBus) PublishOutbound(env domain.Envelope) error {
	b.outbound = append(b.outbound, env)
	return nil
}
func (b *fakeBus) SubscribeOutbound(channel string, fn func(domain.Envelope) error) {}

func TestMessageTool_TargetsCurrentConversationByDefault(t *testing.T) {
	b := &fakeBus{}
	mt := NewMessageTool(b)
	tc := domain.ToolContext{Channel: "telegram", ChatID: "42"}

	out, err := mt.Execute(context.Background(), map[string]any{"text": "ping"}, tc)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(b.outbound) != 1 {
		t.Fatalf("expected 1 outbound envelope, got %d", len(b.outbound))
	}
	env := b.outbound[0]
	if env.Channel != "telegram" || env.ChatID != "42" || env.Content != "ping" {
		t.Fatalf("wrong envelope: %+v", env)
	}
	if !strings.Contains(out, "telegram:42") {
		t.Fatalf("confirmation missing target: %q", out)
	}
}

func TestMessageTool_ExplicitTarget(t *testing.T) {
	b := &fakeBus{}
	mt := NewMessageTool(b)
	tc := domain.ToolContext{Channel: "cli", ChatID: "1"}

	_, err := mt.Execute(context.Background(),
		map[string]any{"text": "hi", "channel": "telegram", "chat_id": "99"}, tc)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if b.outbound[0].Channel != "telegram" || b.outbound[0].ChatID != "99" {
		t.Fatalf("explicit target ignored: %+v", b.outbound[0])
	}
}

// fakeDelegator scripts delegate tool behavior.
type fakeDelegator struct {
	spawned []DelegateRequest
	tasks   map[string]TaskView
}

func (d *fakeDelegator) Spawn(req DelegateRequest) (string, error) {
	d.spawned = append(d.spawned, req)
	return "task-1", nil
}
func (d *fakeDelegator) Query(id string) (TaskView, bool) {
	v, ok := d.tasks[id]
	return v, ok
}
func (d *fakeDelegator) List() []TaskView {
	var out []TaskView
	for _, v := range d.tasks {
		out = append(out, v)
	}
	return out
}

func TestDelegateTool_SpawnCarriesOrigin(t *testing.T) {
	d := &fakeDelegator{tasks: map[string]TaskView{}}
	dt := NewDelegateTool(d)
	tc := domain.ToolContext{Channel: "telegram", ChatID: "42", Allow: []string{"read_file"}}

	out, err := dt.Execute(context.Background(),
		map[string]any{"action": "spawn", "task": "summarize the logs"}, tc)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "task-1") {
		t.Fatalf("task id missing: %q", out)
	}
	req := d.spawned[0]
	if req.OriginChannel != "telegram" || req.OriginChatID != "42" {
		t.Fatalf("origin not threaded: %+v", req)
	}
	if len(req.Allow) != 1 || req.Allow[0] != "read_file" {
		t.Fatalf("caller capability list not threaded: %+v", req)
	}
}

func TestDelegateTool_QueryAndList(t *testing.T) {
	d := &fakeDelegator{tasks: map[string]TaskView{
		"t1": {ID: "t1", Label: "job", Status: "done", Result: "all good"},
	}}
	dt := NewDelegateTool(d)

	out, err := dt.Execute(context.Background(), map[string]any{"action": "query", "id": "t1"}, domain.ToolContext{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !strings.Contains(out, "all good") {
		t.Fatalf("result missing: %q", out)
	}

	out, err = dt.Execute(context.Background(), map[string]any{"action": "query", "id": "nope"}, domain.ToolContext{})
	if err != nil {
		t.Fatalf("query unknown: %v", err)
	}
	if !strings.Contains(out, "No task") {
		t.Fatalf("unexpected reply for unknown id: %q", out)
	}

	out, err = dt.Execute(context.Background(), map[string]any{"action": "list"}, domain.ToolContext{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "t1") {
		t.Fatalf("list missing task: %q", out)
	}
}

func TestDelegateTool_UnknownAction(t *testing.T) {
	dt := NewDelegateTool(&fakeDelegator{})
	if _, err := dt.Execute(context.Background(), map[string]any{"action": "explode"}, domain.ToolContext{}); err == nil {
		t.Fatal("unknown action must fail")
	}
}

func TestCronScheduler_FiresIntoInbound(t *testing.T) {
	b := &fakeBus{}
	cs := NewCronScheduler(b, testLogger())
	id := cs.AddTask(ScheduledTask{
		Message: "check the oven", IntervalS: 60,
		Channel: "cli", ChatID: "1", Enabled: true,
	})

	// Force the task due and fire manually instead of waiting a minute.
	cs.mu.Lock()
	cs.tasks[id].NextRun = time.Now().Add(-time.Second)
	cs.mu.Unlock()
	cs.fire(time.Now())

	if len(b.inbound) != 1 {
		t.Fatalf("expected 1 inbound trigger, got %d", len(b.inbound))
	}
	env := b.inbound[0]
	if env.Content != "check the oven" || env.SenderID != "cron:"+id {
		t.Fatalf("wrong trigger envelope: %+v", env)
	}

	// Rescheduled, not fired again immediately.
	cs.fire(time.Now())
	if len(b.inbound) != 1 {
		t.Fatalf("task fired twice in one interval: %d", len(b.inbound))
	}
}

func TestCronTool_AddListRemove(t *testing.T) {
	b := &fakeBus{}
	cs := NewCronScheduler(b, testLogger())
	ct := NewCronTool(cs)
	tc := domain.ToolContext{Channel: "cli", ChatID: "1"}

	out, err := ct.Execute(context.Background(), map[string]any{
		"action": "add", "message": "standup", "interval_seconds": 120.0, "name": "standup",
	}, tc)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.Contains(out, "120 seconds") {
		t.Fatalf("confirmation wrong: %q", out)
	}

	out, err = ct.Execute(context.Background(), map[string]any{"action": "list"}, tc)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "standup") {
		t.Fatalf("list missing task: %q", out)
	}

	id := cs.ListTasks()[0].ID
	if _, err := ct.Execute(context.Background(), map[string]any{"action": "remove", "id": id}, tc); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(cs.ListTasks()) != 0 {
		t.Fatal("task not removed")
	}
}
