package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/driftchat/driftchat/internal/domain/entity"
	"github.com/driftchat/driftchat/internal/domain/repository"
	domainErrors "github.com/driftchat/driftchat/pkg/errors"
)

// MemoryChatLog is an in-memory chat log for tests and ephemeral sessions.
// Snapshots are delivered synchronously on the writer's goroutine, which
// makes interleavings deterministic under test.
type MemoryChatLog struct {
	mu            sync.Mutex
	conversations map[string]*entity.Conversation
	messages      map[string][]*entity.Message
	nextToken     int
	msgSubs       map[string]map[int]repository.MessageSnapshotFn
	convSubs      map[string]map[int]repository.ConversationSnapshotFn
}

// NewMemoryChatLog creates an empty in-memory log.
func NewMemoryChatLog() *MemoryChatLog {
	return &MemoryChatLog{
		conversations: make(map[string]*entity.Conversation),
		messages:      make(map[string][]*entity.Message),
		msgSubs:       make(map[string]map[int]repository.MessageSnapshotFn),
		convSubs:      make(map[string]map[int]repository.ConversationSnapshotFn),
	}
}

var _ repository.ChatLog = (*MemoryChatLog)(nil)

// AppendMessage stores the message in creation order and notifies
// subscribers with a fresh snapshot.
func (l *MemoryChatLog) AppendMessage(ctx context.Context, conversationID string, message *entity.Message) error {
	l.mu.Lock()
	copied := *message
	l.messages[conversationID] = append(l.messages[conversationID], &copied)
	sort.SliceStable(l.messages[conversationID], func(i, j int) bool {
		a, b := l.messages[conversationID][i], l.messages[conversationID][j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	snapshot := l.snapshotLocked(conversationID)
	subs := l.messageSubsLocked(conversationID)
	l.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
	return nil
}

// MessagesBefore returns the page adjacent to the cursor, ascending.
func (l *MemoryChatLog) MessagesBefore(ctx context.Context, conversationID string, before repository.Cursor, limit int) ([]*entity.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var older []*entity.Message
	for _, m := range l.messages[conversationID] {
		if m.CreatedAt.Before(before.CreatedAt) ||
			(m.CreatedAt.Equal(before.CreatedAt) && m.ID < before.ID) {
			copied := *m
			older = append(older, &copied)
		}
	}
	if len(older) > limit {
		older = older[len(older)-limit:]
	}
	return older, nil
}

// SubscribeMessages delivers the current snapshot immediately, then on
// every append.
func (l *MemoryChatLog) SubscribeMessages(conversationID string, fn repository.MessageSnapshotFn) (repository.CancelFunc, error) {
	l.mu.Lock()
	token := l.nextToken
	l.nextToken++
	if l.msgSubs[conversationID] == nil {
		l.msgSubs[conversationID] = make(map[int]repository.MessageSnapshotFn)
	}
	l.msgSubs[conversationID][token] = fn
	snapshot := l.snapshotLocked(conversationID)
	l.mu.Unlock()

	fn(snapshot)

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.msgSubs[conversationID], token)
	}, nil
}

// SubscribeConversation delivers the metadata record immediately (nil when
// missing), then on every save.
func (l *MemoryChatLog) SubscribeConversation(conversationID string, fn repository.ConversationSnapshotFn) (repository.CancelFunc, error) {
	l.mu.Lock()
	token := l.nextToken
	l.nextToken++
	if l.convSubs[conversationID] == nil {
		l.convSubs[conversationID] = make(map[int]repository.ConversationSnapshotFn)
	}
	l.convSubs[conversationID][token] = fn
	conv := l.conversationLocked(conversationID)
	l.mu.Unlock()

	fn(conv)

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.convSubs[conversationID], token)
	}, nil
}

// SaveConversation creates or replaces the metadata record.
func (l *MemoryChatLog) SaveConversation(ctx context.Context, conversation *entity.Conversation) error {
	l.mu.Lock()
	copied := *conversation
	l.conversations[conversation.ID] = &copied
	subs := l.conversationSubsLocked(conversation.ID)
	conv := l.conversationLocked(conversation.ID)
	l.mu.Unlock()

	for _, fn := range subs {
		fn(conv)
	}
	return nil
}

// GetConversation fetches the metadata record once.
func (l *MemoryChatLog) GetConversation(ctx context.Context, conversationID string) (*entity.Conversation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	conv := l.conversationLocked(conversationID)
	if conv == nil {
		return nil, domainErrors.NewNotFoundError("conversation not found")
	}
	return conv, nil
}

// ListConversations returns the user's live conversations, newest first.
func (l *MemoryChatLog) ListConversations(ctx context.Context, userID string) ([]*entity.Conversation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*entity.Conversation
	for _, c := range l.conversations {
		if c.UserID == userID && !c.Deleted {
			copied := *c
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// ArchiveConversation flips the archived flag.
func (l *MemoryChatLog) ArchiveConversation(ctx context.Context, conversationID string, archived bool) error {
	return l.updateConversation(conversationID, func(c *entity.Conversation) {
		c.Archived = archived
	})
}

// SoftDeleteConversation marks the conversation deleted.
func (l *MemoryChatLog) SoftDeleteConversation(ctx context.Context, conversationID string) error {
	return l.updateConversation(conversationID, func(c *entity.Conversation) {
		c.Deleted = true
	})
}

func (l *MemoryChatLog) updateConversation(conversationID string, mutate func(*entity.Conversation)) error {
	l.mu.Lock()
	c, ok := l.conversations[conversationID]
	if !ok {
		l.mu.Unlock()
		return domainErrors.NewNotFoundError("conversation not found")
	}
	mutate(c)
	subs := l.conversationSubsLocked(conversationID)
	conv := l.conversationLocked(conversationID)
	l.mu.Unlock()

	for _, fn := range subs {
		fn(conv)
	}
	return nil
}

// snapshotLocked copies the ordered list. Caller holds l.mu.
func (l *MemoryChatLog) snapshotLocked(conversationID string) []*entity.Message {
	msgs := l.messages[conversationID]
	snapshot := make([]*entity.Message, len(msgs))
	for i, m := range msgs {
		copied := *m
		snapshot[i] = &copied
	}
	return snapshot
}

func (l *MemoryChatLog) conversationLocked(conversationID string) *entity.Conversation {
	c, ok := l.conversations[conversationID]
	if !ok {
		return nil
	}
	copied := *c
	return &copied
}

func (l *MemoryChatLog) messageSubsLocked(conversationID string) []repository.MessageSnapshotFn {
	subs := make([]repository.MessageSnapshotFn, 0, len(l.msgSubs[conversationID]))
	for _, fn := range l.msgSubs[conversationID] {
		subs = append(subs, fn)
	}
	return subs
}

func (l *MemoryChatLog) conversationSubsLocked(conversationID string) []repository.ConversationSnapshotFn {
	subs := make([]repository.ConversationSnapshotFn, 0, len(l.convSubs[conversationID]))
	for _, fn := range l.convSubs[conversationID] {
		subs = append(subs, fn)
	}
	return subs
}
