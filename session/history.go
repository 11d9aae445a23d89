package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/m4xw311/devpilot/errors"
)

// ConversationHistory is the append-only message log of one session.
//
// Two locks guard it. The turn lock (Lock/Unlock) is held by the
// agent for a whole exchange so that requests on one session never
// interleave. The data lock guards the slice itself so snapshots taken by
// transports stay consistent while an exchange is running.
type ConversationHistory struct {
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id,omitempty"`
	Messages  []Message      `json:"messages"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	turn       sync.Mutex
	mu         sync.RWMutex
	lastActive time.Time
	busy       bool
	clock      func() time.Time
}

func newHistory(sessionID, userID string, clock func() time.Time) *ConversationHistory {
	return &ConversationHistory{
		SessionID:  sessionID,
		UserID:     userID,
		Messages:   []Message{},
		Metadata:   map[string]any{},
		lastActive: clock(),
		clock:      clock,
	}
}

// Append adds messages at the end of the log.
func (h *ConversationHistory) Append(msgs ...Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Messages = append(h.Messages, msgs...)
	h.lastActive = h.clock()
}

// Snapshot returns a copy of the log that is safe to read while the session
// keeps growing.
func (h *ConversationHistory) Snapshot() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Message, len(h.Messages))
	copy(out, h.Messages)
	return out
}

func (h *ConversationHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.Messages)
}

// Last returns the most recent message.
func (h *ConversationHistory) Last() (Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.Messages) == 0 {
		return Message{}, false
	}
	return h.Messages[len(h.Messages)-1], true
}

// Lock acquires the turn lock, waiting for any exchange in flight.
func (h *ConversationHistory) Lock() {
	h.turn.Lock()
	h.setBusy(true)
}

func (h *ConversationHistory) Unlock() {
	h.setBusy(false)
	h.turn.Unlock()
}

// Busy reports whether an exchange currently holds the turn lock.
func (h *ConversationHistory) Busy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.busy
}

func (h *ConversationHistory) LastActive() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastActive
}

func (h *ConversationHistory) touch(clock func() time.Time) {
	h.mu.Lock()
	h.clock = clock
	h.lastActive = clock()
	h.mu.Unlock()
}

func (h *ConversationHistory) setBusy(b bool) {
	h.mu.Lock()
	h.busy = b
	h.lastActive = h.clock()
	h.mu.Unlock()
}

// Save writes the transcript to disk as JSON.
func (h *ConversationHistory) Save(path string) error {
	h.mu.RLock()
	data, err := json.MarshalIndent(h, "", "  ")
	h.mu.RUnlock()
	if err != nil {
		return errors.Wrapf(err, "failed to serialize session")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "could not create transcript directory")
	}
	return os.WriteFile(path, data, 0644)
}

// LoadHistory reads a transcript written by Save.
func LoadHistory(path string) (*ConversationHistory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read session file %s", path)
	}
	h := newHistory("", "", time.Now)
	if err := json.Unmarshal(data, h); err != nil {
		return nil, errors.Wrapf(err, "could not parse session file %s", path)
	}
	if h.SessionID == "" {
		return nil, errors.New("session file %s has no session_id", path)
	}
	return h, nil
}
