package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store owns every ConversationHistory, keyed by session id. Nothing is
// persisted; a process restart starts from an empty store.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*ConversationHistory
	idleTTL  time.Duration
	now      func() time.Time
}

type StoreOption func(*Store)

// WithIdleTTL evicts sessions idle for longer than ttl. Zero disables eviction.
func WithIdleTTL(ttl time.Duration) StoreOption {
	return func(s *Store) { s.idleTTL = ttl }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		sessions: make(map[string]*ConversationHistory),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSessionID generates an identifier for a session the caller did not name.
func NewSessionID() string {
	return "sess_" + uuid.NewString()
}

// GetOrCreate returns the history for sessionID, creating an empty one on
// first access.
func (s *Store) GetOrCreate(sessionID, userID string) *ConversationHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.sessions[sessionID]; ok {
		h.touch(s.now)
		return h
	}
	h := newHistory(sessionID, userID, s.now)
	s.sessions[sessionID] = h
	return h
}

func (s *Store) Get(sessionID string) (*ConversationHistory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.sessions[sessionID]
	return h, ok
}

// Put adopts an existing history, replacing any session with the same id.
func (s *Store) Put(h *ConversationHistory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h.touch(s.now)
	s.sessions[h.SessionID] = h
}

// Clear removes the session entirely. An exchange still running against the
// removed history keeps its reference; the next GetOrCreate starts fresh.
func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*ConversationHistory)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// IDs lists the live session ids in sorted order.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EvictIdle drops sessions idle for longer than the configured TTL. Sessions
// with an exchange in flight are kept. It returns the evicted ids.
func (s *Store) EvictIdle() []string {
	if s.idleTTL <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.idleTTL)
	var evicted []string
	for id, h := range s.sessions {
		if h.Busy() || h.LastActive().After(cutoff) {
			continue
		}
		delete(s.sessions, id)
		evicted = append(evicted, id)
	}
	sort.Strings(evicted)
	return evicted
}

// RunJanitor calls EvictIdle every interval until ctx is done. onEvict, if
// set, receives each non-empty batch.
func (s *Store) RunJanitor(ctx context.Context, interval time.Duration, onEvict func([]string)) {
	if s.idleTTL <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ids := s.EvictIdle(); len(ids) > 0 && onEvict != nil {
				onEvict(ids)
			}
		}
	}
}
