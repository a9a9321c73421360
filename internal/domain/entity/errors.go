package entity

import "errors"

var (
	// Message errors
	ErrInvalidConversationID = errors.New("invalid conversation id")
	ErrEmptyMessage          = errors.New("empty message text")

	// Conversation errors
	ErrConversationNotFound = errors.New("conversation not found")
)
