package entity

import (
	"time"

	"github.com/google/uuid"
)

// LastMessage is the denormalized summary of a conversation's newest entry,
// kept on the conversation record for list views.
type LastMessage struct {
	Text      string
	Sender    Sender
	CreatedAt time.Time
}

// Conversation is a named, ordered channel of messages between one user and
// the assistant. UserID is empty for anonymous/ephemeral sessions.
//
// The core never hard-deletes a conversation; Archived and Deleted are
// metadata flags resolved last-write-wins.
type Conversation struct {
	ID          string
	UserID      string
	Title       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Archived    bool
	Deleted     bool
	LastMessage *LastMessage
}

// NewConversation creates a conversation record. An empty id is replaced
// with a generated one so callers may supply their own identifiers.
func NewConversation(id, userID, title string) *Conversation {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	return &Conversation{
		ID:        id,
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch records a new latest message on the conversation metadata.
func (c *Conversation) Touch(m *Message) {
	c.UpdatedAt = time.Now()
	c.LastMessage = &LastMessage{
		Text:      m.Text,
		Sender:    m.Sender,
		CreatedAt: m.CreatedAt,
	}
}
