package service

import (
	"sync"

	"github.com/driftchat/driftchat/internal/domain/entity"
)

// MessageStore holds the in-memory ordered message list per conversation.
// It is the single source of truth for what a view renders; the sync engine
// is its only writer. Thread-safe.
type MessageStore struct {
	mu       sync.RWMutex
	messages map[string][]*entity.Message
}

// NewMessageStore creates an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		messages: make(map[string][]*entity.Message),
	}
}

// SetAll replaces the conversation's full list with msgs in the given order.
// No merge with prior state is performed; this is how live subscription
// snapshots land.
func (s *MessageStore) SetAll(conversationID string, msgs []*entity.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]*entity.Message, len(msgs))
	copy(copied, msgs)
	s.messages[conversationID] = copied
}

// PrependOlder inserts older before the current list, preserving the order
// of both sublists. No de-duplication: the pagination cursor guarantees
// disjoint ranges.
func (s *MessageStore) PrependOlder(conversationID string, older []*entity.Message) {
	if len(older) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.messages[conversationID]
	merged := make([]*entity.Message, 0, len(older)+len(existing))
	merged = append(merged, older...)
	merged = append(merged, existing...)
	s.messages[conversationID] = merged
}

// AppendOne inserts m at the end unless an equivalent message (same send
// time, sender and text) is already present, in which case the call is a
// no-op. This idempotence reconciles optimistic local appends with the echo
// the remote subscription delivers later. Returns whether m was appended.
func (s *MessageStore) AppendOne(conversationID string, m *entity.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.messages[conversationID] {
		if existing.Equivalent(m) {
			return false
		}
	}
	s.messages[conversationID] = append(s.messages[conversationID], m)
	return true
}

// Get returns a copy of the conversation's current ordered list, empty for
// unknown conversations.
func (s *MessageStore) Get(conversationID string) []*entity.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[conversationID]
	copied := make([]*entity.Message, len(msgs))
	copy(copied, msgs)
	return copied
}

// Clear drops the conversation's list. Used when a view is (re)entered so a
// stale list from a previous visit never shows through.
func (s *MessageStore) Clear(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, conversationID)
}

// MarkFailed flags the message with the given id as not durably stored, so
// the view can render a failed-send marker instead of silently showing data
// the server never received.
func (s *MessageStore) MarkFailed(conversationID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.messages[conversationID] {
		if m.ID == messageID {
			m.Failed = true
			return
		}
	}
}
