// ABOUTME: In-memory implementation of the Store interface
// ABOUTME: Used when no durable backing is configured and as a test double

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store with plain maps. The state machine does not
// require durability for correctness, only for surviving process restarts,
// so this is a fully valid production configuration.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	messages      map[string][]*Message
	byProviderID  map[string]*Message
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
		byProviderID:  make(map[string]*Message),
	}
}

// UpsertConversation creates or field-merges a conversation record
func (s *MemoryStore) UpsertConversation(_ context.Context, id string, patch *ConversationPatch) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	conv, ok := s.conversations[id]
	if !ok {
		conv = &Conversation{
			ID:               id,
			Status:           StatusActive,
			CollectedAnswers: map[string]string{},
			CreatedAt:        now,
		}
		s.conversations[id] = conv
	}
	applyPatch(conv, patch, now)

	clone := cloneConversation(conv)
	return clone, nil
}

// GetConversation returns one conversation by id
func (s *MemoryStore) GetConversation(_ context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(conv), nil
}

// ListConversations returns all conversations, most recent activity first
func (s *MemoryStore) ListConversations(_ context.Context) ([]*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	convs := make([]*Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		convs = append(convs, cloneConversation(conv))
	}
	sort.Slice(convs, func(i, j int) bool {
		if !convs[i].LastMessageAt.Equal(convs[j].LastMessageAt) {
			return convs[i].LastMessageAt.After(convs[j].LastMessageAt)
		}
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	return convs, nil
}

// MarkRead zeroes the unread counter. Missing conversations are a no-op.
func (s *MemoryStore) MarkRead(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.conversations[id]; ok {
		conv.UnreadCount = 0
		conv.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// AppendMessage appends to the ordered list and refreshes the summary
func (s *MemoryStore) AppendMessage(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}

	stored := *msg
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], &stored)
	if stored.ProviderMessageID != "" {
		s.byProviderID[stored.ProviderMessageID] = &stored
	}

	conv.LastMessage = msg.Text
	conv.LastMessageAt = msg.Timestamp
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

// ListMessages returns a conversation's messages oldest-first
func (s *MemoryStore) ListMessages(_ context.Context, conversationID string, limit int) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*Message, len(msgs))
	for i, m := range msgs {
		clone := *m
		out[i] = &clone
	}
	return out, nil
}

// UpdateMessageStatus sets the delivery status of one message
func (s *MemoryStore) UpdateMessageStatus(_ context.Context, conversationID, messageID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.messages[conversationID] {
		if m.ID == messageID {
			m.Status = status
			return nil
		}
	}
	return ErrNotFound
}

// UpdateMessageStatusByProviderID correlates a delivery receipt by the
// transport-side message id
func (s *MemoryStore) UpdateMessageStatusByProviderID(_ context.Context, providerMessageID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byProviderID[providerMessageID]
	if !ok {
		return ErrNotFound
	}
	m.Status = status
	return nil
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}

func cloneConversation(conv *Conversation) *Conversation {
	clone := *conv
	clone.CollectedAnswers = make(map[string]string, len(conv.CollectedAnswers))
	for k, v := range conv.CollectedAnswers {
		clone.CollectedAnswers[k] = v
	}
	return &clone
}
