package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Message is a single entry in a conversation's append-only log.
//
// Two times are carried on purpose: Timestamp is the client-generated
// logical send time (milliseconds since epoch) used for de-duplication of
// optimistic writes against their echoes, while CreatedAt is the
// authoritative ordering key inside the remote log.
type Message struct {
	ID             string
	ConversationID string
	Text           string
	Sender         Sender
	Timestamp      int64
	CreatedAt      time.Time
	Generated      bool
	Failed         bool
}

// NewUserMessage creates a user-authored message stamped with the current time.
func NewUserMessage(conversationID, text string) (*Message, error) {
	if conversationID == "" {
		return nil, ErrInvalidConversationID
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	now := time.Now()
	return &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Text:           text,
		Sender:         SenderUser,
		Timestamp:      now.UnixMilli(),
		CreatedAt:      now,
	}, nil
}

// NewBotMessage creates an AI-generated message stamped with the current time.
func NewBotMessage(conversationID, text string) (*Message, error) {
	if conversationID == "" {
		return nil, ErrInvalidConversationID
	}
	now := time.Now()
	return &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Text:           text,
		Sender:         SenderBot,
		Timestamp:      now.UnixMilli(),
		CreatedAt:      now,
		Generated:      true,
	}, nil
}

// Equivalent reports whether two messages are the same logical write.
// An optimistic local append and its remote echo carry the same send time,
// sender and text even though their IDs may differ.
func (m *Message) Equivalent(other *Message) bool {
	return m.Timestamp == other.Timestamp &&
		m.Sender == other.Sender &&
		m.Text == other.Text
}

// IsFromUser reports whether the message was authored by the user.
func (m *Message) IsFromUser() bool {
	return m.Sender == SenderUser
}

// IsFromBot reports whether the message was produced by the assistant.
func (m *Message) IsFromBot() bool {
	return m.Sender == SenderBot
}
