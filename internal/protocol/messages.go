package protocol

import (
	"encoding/json"
	"time"

	"github.com/driftchat/driftchat/internal/domain/entity"
)

// MessageType identifies the type of WebSocket message.
type MessageType string

const (
	// Client -> Server
	TypeSubscribe   MessageType = "subscribe"
	TypeUnsubscribe MessageType = "unsubscribe"
	TypePing        MessageType = "ping"

	// Server -> Client
	TypeMessages     MessageType = "messages"     // full log snapshot
	TypeConversation MessageType = "conversation" // metadata snapshot
	TypeError        MessageType = "error"
	TypePong         MessageType = "pong"
)

// Envelope wraps all WebSocket messages with a type field.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Subscribe is sent by the client to open live snapshots for a conversation.
type Subscribe struct {
	ConversationID string `json:"conversation_id"`
}

// Unsubscribe tears the client's subscription for a conversation down.
type Unsubscribe struct {
	ConversationID string `json:"conversation_id"`
}

// MessagesSnapshot carries the full ordered log of one conversation.
type MessagesSnapshot struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
}

// ConversationSnapshot carries the metadata record; Conversation is nil
// when the record does not exist.
type ConversationSnapshot struct {
	ConversationID string        `json:"conversation_id"`
	Conversation   *Conversation `json:"conversation"`
}

// ErrorMessage reports a server-side failure for one subscription.
type ErrorMessage struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

// Message is the wire form of one chat log entry.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Text           string    `json:"text"`
	Sender         string    `json:"sender"`
	Timestamp      int64     `json:"timestamp"`
	CreatedAt      time.Time `json:"created_at"`
	Generated      bool      `json:"generated,omitempty"`
}

// Conversation is the wire form of the metadata record.
type Conversation struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id,omitempty"`
	Title       string       `json:"title,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Archived    bool         `json:"archived,omitempty"`
	Deleted     bool         `json:"deleted,omitempty"`
	LastMessage *LastMessage `json:"last_message,omitempty"`
}

// LastMessage is the denormalized newest-entry summary.
type LastMessage struct {
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	CreatedAt time.Time `json:"created_at"`
}

// FromMessage converts a domain message to its wire form.
func FromMessage(m *entity.Message) Message {
	return Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Text:           m.Text,
		Sender:         string(m.Sender),
		Timestamp:      m.Timestamp,
		CreatedAt:      m.CreatedAt,
		Generated:      m.Generated,
	}
}

// ToMessage converts a wire message back to the domain form.
func (m Message) ToMessage() *entity.Message {
	return &entity.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Text:           m.Text,
		Sender:         entity.Sender(m.Sender),
		Timestamp:      m.Timestamp,
		CreatedAt:      m.CreatedAt,
		Generated:      m.Generated,
	}
}

// FromMessages converts a snapshot list.
func FromMessages(msgs []*entity.Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = FromMessage(m)
	}
	return out
}

// ToMessages converts a wire snapshot back to domain messages.
func ToMessages(msgs []Message) []*entity.Message {
	out := make([]*entity.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.ToMessage()
	}
	return out
}

// FromConversation converts a domain conversation to its wire form.
func FromConversation(c *entity.Conversation) *Conversation {
	if c == nil {
		return nil
	}
	wire := &Conversation{
		ID:        c.ID,
		UserID:    c.UserID,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
		Archived:  c.Archived,
		Deleted:   c.Deleted,
	}
	if c.LastMessage != nil {
		wire.LastMessage = &LastMessage{
			Text:      c.LastMessage.Text,
			Sender:    string(c.LastMessage.Sender),
			CreatedAt: c.LastMessage.CreatedAt,
		}
	}
	return wire
}

// ToConversation converts a wire conversation back to the domain form.
func (c *Conversation) ToConversation() *entity.Conversation {
	if c == nil {
		return nil
	}
	conv := &entity.Conversation{
		ID:        c.ID,
		UserID:    c.UserID,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
		Archived:  c.Archived,
		Deleted:   c.Deleted,
	}
	if c.LastMessage != nil {
		conv.LastMessage = &entity.LastMessage{
			Text:      c.LastMessage.Text,
			Sender:    entity.Sender(c.LastMessage.Sender),
			CreatedAt: c.LastMessage.CreatedAt,
		}
	}
	return conv
}

// MustMarshal wraps a payload in an Envelope, panicking only on
// programmer-error payloads that cannot marshal.
func MustMarshal(t MessageType, payload interface{}) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	env, err := json.Marshal(Envelope{Type: t, Data: data})
	if err != nil {
		panic(err)
	}
	return env
}
