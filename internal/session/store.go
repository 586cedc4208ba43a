package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/roswellcsy/NiBot/internal/domain"
)

const defaultCacheSize = 200

// Session is a conversation history. An empty session and a new session are
// the same state; nothing distinguishes "absent on disk" from "restored empty".
type Session struct {
	Key       string
	Messages  []domain.Message
	CreatedAt time.Time
	UpdatedAt time.Time
}

// History returns up to max recent messages.
func (s *Session) History(max int) []domain.Message {
	if max <= 0 || len(s.Messages) <= max {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-max:]
}

// metaRecord is the first line of every session file.
type metaRecord struct {
	Type      string    `json:"type"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is a JSONL-backed session store with an in-memory cache and per-key
// mutual exclusion. Callers hold the lock from LockFor for the whole turn:
// read history, run the loop, append the new records.
type Store struct {
	dir      string
	maxCache int
	logger   *slog.Logger

	mu    sync.Mutex
	cache map[string]*Session
	order []string // cache keys, oldest first
	locks map[string]*sync.Mutex
}

func NewStore(dir string, cacheSize int, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions directory: %w", err)
	}
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:      dir,
		maxCache: cacheSize,
		logger:   logger,
		cache:    make(map[string]*Session),
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// LockFor returns the mutex scoped to one conversation key. Locks are never
// evicted: a held lock with an evicted cache entry would break mutual
// exclusion, and lock objects are tiny.
func (s *Store) LockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lk, ok := s.locks[key]
	if !ok {
		lk = &sync.Mutex{}
		s.locks[key] = lk
	}
	return lk
}

// GetOrCreate returns the session for key, loading it from disk or creating
// an empty one. Reading has no side effect on durable state.
func (s *Store) GetOrCreate(key string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.cache[key]; ok {
		s.touch(key)
		return sess
	}
	sess := s.load(key)
	if sess == nil {
		now := time.Now()
		sess = &Session{Key: key, CreatedAt: now, UpdatedAt: now}
	}
	s.cachePut(key, sess)
	return sess
}

// AppendTurn appends the records of one completed turn to the session and
// flushes the whole file. Never called mid-turn; the caller holds the
// per-key lock so readers under the same lock observe either the old or the
// new history, never a partial turn.
func (s *Store) AppendTurn(key string, records []domain.Message) error {
	s.mu.Lock()
	sess, ok := s.cache[key]
	if !ok {
		sess = s.load(key)
		if sess == nil {
			now := time.Now()
			sess = &Session{Key: key, CreatedAt: now, UpdatedAt: now}
		}
		s.cachePut(key, sess)
	}
	s.mu.Unlock()

	now := time.Now()
	for _, r := range records {
		if r.Timestamp.IsZero() {
			r.Timestamp = now
		}
		sess.Messages = append(sess.Messages, r)
	}
	sess.UpdatedAt = now
	return s.flush(sess)
}

// Delete removes both the cache entry and the durable record. This is the
// only destructive operation; the agent loop never calls it.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	delete(s.cache, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	path := s.pathFor(key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete session file: %w", err)
	}
	return nil
}

// flush rewrites the session file: metadata line first, then one JSON
// message per line.
func (s *Store) flush(sess *Session) error {
	path := s.pathFor(sess.Key)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("open session file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	meta := metaRecord{
		Type:      "metadata",
		Key:       sess.Key,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
	}
	if err := enc.Encode(meta); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	for _, msg := range sess.Messages {
		if err := enc.Encode(msg); err != nil {
			return fmt.Errorf("write message: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush session file: %w", err)
	}
	return f.Sync()
}

// load reads a session from disk. A corrupted or partially written file
// degrades to nil (treated as a new session) rather than failing the
// request. Unknown fields in records are ignored.
func (s *Store) load(key string) *Session {
	path := s.pathFor(key)
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	sess := &Session{Key: key}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(line), &probe); err != nil {
			s.logger.Warn("corrupt session file, starting empty", "key", key, "err", err)
			return nil
		}
		if probe.Type == "metadata" {
			var meta metaRecord
			if err := json.Unmarshal([]byte(line), &meta); err != nil {
				s.logger.Warn("corrupt session metadata, starting empty", "key", key, "err", err)
				return nil
			}
			sess.CreatedAt = meta.CreatedAt
			sess.UpdatedAt = meta.UpdatedAt
			continue
		}
		var msg domain.Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			s.logger.Warn("corrupt session record, starting empty", "key", key, "err", err)
			return nil
		}
		sess.Messages = append(sess.Messages, msg)
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("session read failed, starting empty", "key", key, "err", err)
		return nil
	}
	if sess.CreatedAt.IsZero() {
		now := time.Now()
		sess.CreatedAt = now
		sess.UpdatedAt = now
	}
	return sess
}

func (s *Store) cachePut(key string, sess *Session) {
	if _, ok := s.cache[key]; !ok {
		s.order = append(s.order, key)
	}
	s.cache[key] = sess
	for len(s.order) > s.maxCache {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.cache, oldest)
	}
}

func (s *Store) touch(key string) {
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			s.order = append(s.order, key)
			return
		}
	}
}

func (s *Store) pathFor(key string) string {
	safe := key
	for _, ch := range `:/<>\|"?*` {
		safe = strings.ReplaceAll(safe, string(ch), "_")
	}
	return filepath.Join(s.dir, safe+".jsonl")
}

// --- cross-session search ---

// SearchHit is a single cross-session search result.
type SearchHit struct {
	SessionKey     string
	Role           string
	ContentPreview string
	Timestamp      time.Time
	MessageIndex   int
}

// Search scans all session files for a case-insensitive substring match,
// line by line without loading full sessions.
func (s *Store) Search(query string, maxResults int) []SearchHit {
	if query == "" {
		return nil
	}
	if maxResults <= 0 {
		maxResults = 20
	}
	queryLower := strings.ToLower(query)

	paths, err := filepath.Glob(filepath.Join(s.dir, "*.jsonl"))
	if err != nil {
		return nil
	}
	sort.Strings(paths)

	var hits []SearchHit
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		key := strings.TrimSuffix(filepath.Base(path), ".jsonl")
		idx := 0
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var probe struct {
				Type string `json:"type"`
				Key  string `json:"key"`
			}
			if json.Unmarshal([]byte(line), &probe) == nil && probe.Type == "metadata" {
				if probe.Key != "" {
					key = probe.Key
				}
				continue
			}
			var msg domain.Message
			if json.Unmarshal([]byte(line), &msg) != nil {
				continue
			}
			if strings.Contains(strings.ToLower(msg.Content), queryLower) {
				preview := msg.Content
				if len(preview) > 200 {
					preview = preview[:200]
				}
				hits = append(hits, SearchHit{
					SessionKey:     key,
					Role:           msg.Role,
					ContentPreview: preview,
					Timestamp:      msg.Timestamp,
					MessageIndex:   idx,
				})
				if len(hits) >= maxResults {
					f.Close()
					return hits
				}
			}
			idx++
		}
		f.Close()
	}
	return hits
}
