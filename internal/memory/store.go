package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/roswellcsy/NiBot/internal/domain"
)

// SQLiteStore implements domain.MemoryStore using SQLite. It holds the
// assistant's long-term notes and the audit trail of delegated tasks;
// conversation history itself lives in the JSONL session store.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if logger == nil {
		logger = slog.Default()
	}
	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS notes (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		category    TEXT NOT NULL,
		content     TEXT NOT NULL,
		source      TEXT,
		importance  INTEGER DEFAULT 5,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_notes_cat ON notes(category);
	CREATE INDEX IF NOT EXISTS idx_notes_time ON notes(created_at);

	CREATE TABLE IF NOT EXISTS delegations (
		id             TEXT PRIMARY KEY,
		label          TEXT,
		origin_channel TEXT NOT NULL,
		origin_chat_id TEXT NOT NULL,
		status         TEXT NOT NULL,
		result         TEXT,
		created_at     DATETIME,
		finished_at    DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_delegations_time ON delegations(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) SaveNote(ctx context.Context, note domain.MemoryNote) error {
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now()
	}
	if note.Importance == 0 {
		note.Importance = 5
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notes (category, content, source, importance, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		note.Category, note.Content, note.Source, note.Importance, note.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save note: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecentNotes(ctx context.Context, limit int) ([]domain.MemoryNote, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, category, content, source, importance, created_at
		 FROM notes ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent notes: %w", err)
	}
	defer rows.Close()
	return scanNotes(rows)
}

func (s *SQLiteStore) SearchNotes(ctx context.Context, query string, limit int) ([]domain.MemoryNote, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, category, content, source, importance, created_at
		 FROM notes WHERE content LIKE ? OR category LIKE ?
		 ORDER BY importance DESC, created_at DESC LIMIT ?`,
		"%"+query+"%", "%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search notes: %w", err)
	}
	defer rows.Close()
	return scanNotes(rows)
}

func scanNotes(rows *sql.Rows) ([]domain.MemoryNote, error) {
	var notes []domain.MemoryNote
	for rows.Next() {
		var n domain.MemoryNote
		var source sql.NullString
		if err := rows.Scan(&n.ID, &n.Category, &n.Content, &source, &n.Importance, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		n.Source = source.String
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func (s *SQLiteStore) RecordDelegation(ctx context.Context, rec domain.DelegationRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO delegations
		 (id, label, origin_channel, origin_chat_id, status, result, created_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Label, rec.OriginChannel, rec.OriginChatID,
		rec.Status, rec.Result, rec.CreatedAt, rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("record delegation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ domain.MemoryStore = (*SQLiteStore)(nil)
