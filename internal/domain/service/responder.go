package service

import (
	"context"

	"github.com/driftchat/driftchat/internal/domain/entity"
)

// ResponderRequest carries one generation request to the AI endpoint.
type ResponderRequest struct {
	// Message is the just-sent user text.
	Message string
	// Image is optional base64 image data without a data-URL prefix.
	Image string
	// History is the prior conversation, oldest first.
	History []*entity.Message
	// Model optionally overrides the configured model.
	Model string
	// WantTitle asks for a short conversation title alongside the reply,
	// used on the first send into a new conversation.
	WantTitle bool
}

// ResponderReply is the extracted generation result.
type ResponderReply struct {
	Text  string
	Title string
}

// Responder is the stateless text/image generation endpoint.
type Responder interface {
	Generate(ctx context.Context, req *ResponderRequest) (*ResponderReply, error)
}
