package repository

import (
	"context"
	"time"

	"github.com/driftchat/driftchat/internal/domain/entity"
)

// Cursor points at the oldest locally-loaded message and bounds the next
// backward page. CreatedAt orders the log; ID breaks ties between messages
// written within the same clock tick.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// MessageSnapshotFn receives the full ordered message list of a conversation
// (ascending by creation time) every time the log changes.
type MessageSnapshotFn func(snapshot []*entity.Message)

// ConversationSnapshotFn receives the conversation metadata record on every
// change. A nil conversation signals that the record does not exist, which
// callers surface as a terminal not-found condition.
type ConversationSnapshotFn func(conversation *entity.Conversation)

// CancelFunc tears down a live subscription. Safe to call more than once.
type CancelFunc func()

// ChatLog is the remote log service: an ordered, append-only, subscribable
// per-conversation message store with cursor-based backward pagination.
type ChatLog interface {
	// AppendMessage durably stores a message at the end of the
	// conversation's log. Subscribers observe the write as a fresh snapshot.
	AppendMessage(ctx context.Context, conversationID string, message *entity.Message) error

	// MessagesBefore returns up to limit messages strictly older than the
	// cursor, in ascending creation order. An empty result means the history
	// is exhausted.
	MessagesBefore(ctx context.Context, conversationID string, before Cursor, limit int) ([]*entity.Message, error)

	// SubscribeMessages opens a live snapshot subscription on the
	// conversation's message log. The callback fires once with the current
	// state and again after every change.
	SubscribeMessages(conversationID string, fn MessageSnapshotFn) (CancelFunc, error)

	// SubscribeConversation opens a live subscription on the conversation
	// metadata record. The callback receives nil when the record is missing.
	SubscribeConversation(conversationID string, fn ConversationSnapshotFn) (CancelFunc, error)

	// SaveConversation creates the metadata record or updates it
	// last-write-wins.
	SaveConversation(ctx context.Context, conversation *entity.Conversation) error

	// GetConversation fetches the metadata record once.
	GetConversation(ctx context.Context, conversationID string) (*entity.Conversation, error)

	// ListConversations returns the user's conversations, newest first,
	// excluding soft-deleted ones.
	ListConversations(ctx context.Context, userID string) ([]*entity.Conversation, error)

	// ArchiveConversation flips the archived flag.
	ArchiveConversation(ctx context.Context, conversationID string, archived bool) error

	// SoftDeleteConversation marks the conversation deleted without removing
	// its log.
	SoftDeleteConversation(ctx context.Context, conversationID string) error
}
