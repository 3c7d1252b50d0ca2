// Package history stores per-session conversation transcripts and enforces
// the context budget applied before prompts reach the model.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rampart-ai/rampart/pkg/domain"
)

// Store persists session transcripts. Only messages that passed the
// guardrails are ever appended; rejected or errored turns leave the
// transcript untouched.
type Store interface {
	// Append adds messages to a session transcript in order.
	Append(ctx context.Context, sessionID string, msgs ...domain.Message) error
	// Messages returns the session transcript, oldest first.
	Messages(ctx context.Context, sessionID string) ([]domain.Message, error)
	// Clear removes the session transcript.
	Clear(ctx context.Context, sessionID string) error
}

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]domain.Message
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]domain.Message),
	}
}

// Append adds messages to a session transcript, assigning IDs and
// timestamps to messages that lack them.
func (s *MemoryStore) Append(_ context.Context, sessionID string, msgs ...domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range msgs {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now().UTC()
		}
		s.sessions[sessionID] = append(s.sessions[sessionID], cloneMessage(msg))
	}
	return nil
}

// Messages returns a copy of the session transcript, oldest first. An
// unknown session yields an empty transcript rather than an error.
func (s *MemoryStore) Messages(_ context.Context, sessionID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.sessions[sessionID]
	msgs := make([]domain.Message, 0, len(stored))
	for _, msg := range stored {
		msgs = append(msgs, cloneMessage(msg))
	}
	return msgs, nil
}

// Clear removes the session transcript.
func (s *MemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}

// Sessions returns the IDs of all sessions with stored messages.
func (s *MemoryStore) Sessions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids, nil
}

// cloneMessage copies a message deeply enough that callers cannot mutate
// stored state through shared slices.
func cloneMessage(msg domain.Message) domain.Message {
	if len(msg.Metadata.Categories) > 0 {
		categories := make([]domain.Category, len(msg.Metadata.Categories))
		copy(categories, msg.Metadata.Categories)
		msg.Metadata.Categories = categories
	}
	return msg
}
