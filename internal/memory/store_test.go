package memory

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/roswellcsy/NiBot/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "memory.db"), logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSaveAndRecentNotes(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i, content := range []string{"first", "second", "third"} {
		note := domain.MemoryNote{
			Category:  "fact",
			Content:   content,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := st.SaveNote(ctx, note); err != nil {
			t.Fatalf("save note: %v", err)
		}
	}

	notes, err := st.RecentNotes(ctx, 2)
	if err != nil {
		t.Fatalf("recent notes: %v", err)
	}
	if len(notes) != 2 {
		t.Fatalf("expected 2 notes, got %d", len(notes))
	}
	if notes[0].Content != "third" {
		t.Fatalf("expected newest first, got %q", notes[0].Content)
	}
	if notes[0].Importance != 5 {
		t.Fatalf("expected default importance 5, got %d", notes[0].Importance)
	}
}

func TestSearchNotes(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.SaveNote(ctx, domain.MemoryNote{Category: "preference", Content: "user likes terse answers"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := st.SaveNote(ctx, domain.MemoryNote{Category: "fact", Content: "deploys happen on friday"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	notes, err := st.SearchNotes(ctx, "terse", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(notes) != 1 || notes[0].Category != "preference" {
		t.Fatalf("unexpected search result: %+v", notes)
	}

	// Category matches too.
	notes, err = st.SearchNotes(ctx, "fact", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("expected 1 hit on category, got %d", len(notes))
	}
}

func TestRecordDelegation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rec := domain.DelegationRecord{
		ID:            "task-1",
		Label:         "summarize logs",
		OriginChannel: "telegram",
		OriginChatID:  "42",
		Status:        "running",
		CreatedAt:     time.Now(),
	}
	if err := st.RecordDelegation(ctx, rec); err != nil {
		t.Fatalf("record: %v", err)
	}

	// Completing the same task overwrites the row.
	rec.Status = "done"
	rec.Result = "all quiet"
	rec.FinishedAt = time.Now()
	if err := st.RecordDelegation(ctx, rec); err != nil {
		t.Fatalf("update: %v", err)
	}

	var status, result string
	err := st.db.QueryRowContext(ctx,
		`SELECT status, result FROM delegations WHERE id = ?`, "task-1",
	).Scan(&status, &result)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if status != "done" || result != "all quiet" {
		t.Fatalf("delegation not updated: %s %s", status, result)
	}
}
