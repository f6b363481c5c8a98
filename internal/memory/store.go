// Package memory provides conversation memory storage.
package memory

import (
	"errors"
	"sync"
	"time"
)

// DefaultWindow is the number of turns History returns when no window
// is configured.
const DefaultWindow = 10

// ErrEmptyConversationID is returned when a write targets the empty key.
var ErrEmptyConversationID = errors.New("memory: empty conversation id")

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one role-tagged message in a conversation.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the interface for memory storage. Implementations are safe
// for concurrent use.
type Store interface {
	Append(conversationID string, turn Turn) error
	History(conversationID string) ([]Turn, error)
	Reset(conversationID string) error
}

// WindowStore keeps the most recent turns of each conversation in
// process memory.
type WindowStore struct {
	mu            sync.RWMutex
	conversations map[string][]Turn
	window        int
}

// NewWindowStore creates an in-memory store that retains window turns
// per conversation.
func NewWindowStore(window int) *WindowStore {
	if window <= 0 {
		window = DefaultWindow
	}
	return &WindowStore{
		conversations: make(map[string][]Turn),
		window:        window,
	}
}

// Append adds a turn, dropping the oldest turn once the window is full.
func (s *WindowStore) Append(conversationID string, turn Turn) error {
	if conversationID == "" {
		return ErrEmptyConversationID
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	turns := append(s.conversations[conversationID], turn)
	if len(turns) > s.window {
		// Copy into a fresh slice so the dropped prefix can be collected.
		trimmed := make([]Turn, s.window)
		copy(trimmed, turns[len(turns)-s.window:])
		turns = trimmed
	}
	s.conversations[conversationID] = turns
	return nil
}

// History returns a copy of the retained turns in original order. Unseen
// keys return an empty slice.
func (s *WindowStore) History(conversationID string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.conversations[conversationID]
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// Reset forgets a conversation.
func (s *WindowStore) Reset(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, conversationID)
	return nil
}

// Stats returns memory statistics.
func (s *WindowStore) Stats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, turns := range s.conversations {
		total += len(turns)
	}
	return map[string]any{
		"conversations": len(s.conversations),
		"turns":         total,
		"window":        s.window,
		"storage":       "memory",
	}
}
