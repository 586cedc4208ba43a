package domain

import (
	"context"
	"time"
)

// MemoryNote is a long-term memory entry surfaced to the context builder.
type MemoryNote struct {
	ID         int64
	Category   string
	Content    string
	Source     string
	Importance int
	CreatedAt  time.Time
}

// DelegationRecord is the audit entry for a completed subagent task.
type DelegationRecord struct {
	ID            string
	Label         string
	OriginChannel string
	OriginChatID  string
	Status        string
	Result        string
	CreatedAt     time.Time
	FinishedAt    time.Time
}

// MemoryStore is the durable store for memory notes and delegation audit.
type MemoryStore interface {
	SaveNote(ctx context.Context, note MemoryNote) error
	RecentNotes(ctx context.Context, limit int) ([]MemoryNote, error)
	SearchNotes(ctx context.Context, query string, limit int) ([]MemoryNote, error)
	RecordDelegation(ctx context.Context, rec DelegationRecord) error
	Close() error
}
