package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/driftchat/driftchat/internal/domain/entity"
	"github.com/driftchat/driftchat/internal/domain/repository"
	"github.com/driftchat/driftchat/internal/domain/service"
	"github.com/driftchat/driftchat/internal/protocol"
	domainErrors "github.com/driftchat/driftchat/pkg/errors"
)

// ConversationHandler exposes the chat log over REST: conversation metadata
// management, message appends and backward pagination. Live snapshots go
// over the WebSocket feed instead.
type ConversationHandler struct {
	log    repository.ChatLog
	logger *zap.Logger
}

// NewConversationHandler creates the REST handler over the chat log.
func NewConversationHandler(log repository.ChatLog, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{
		log:    log,
		logger: logger,
	}
}

// CreateConversationRequest creates or names a conversation.
type CreateConversationRequest struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Title  string `json:"title"`
}

// Create handles POST /api/v1/conversations.
func (h *ConversationHandler) Create(c *gin.Context) {
	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv := entity.NewConversation(req.ID, req.UserID, req.Title)
	if err := h.log.SaveConversation(c.Request.Context(), conv); err != nil {
		h.logger.Error("Failed to create conversation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create conversation"})
		return
	}

	c.JSON(http.StatusCreated, protocol.FromConversation(conv))
}

// Save handles PUT /api/v1/conversations/:id (last-write-wins metadata).
func (h *ConversationHandler) Save(c *gin.Context) {
	var wire protocol.Conversation
	if err := c.ShouldBindJSON(&wire); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	wire.ID = c.Param("id")

	if err := h.log.SaveConversation(c.Request.Context(), wire.ToConversation()); err != nil {
		h.logger.Error("Failed to save conversation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save conversation"})
		return
	}

	c.Status(http.StatusNoContent)
}

// Get handles GET /api/v1/conversations/:id.
func (h *ConversationHandler) Get(c *gin.Context) {
	conv, err := h.log.GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		if domainErrors.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		h.logger.Error("Failed to get conversation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get conversation"})
		return
	}

	c.JSON(http.StatusOK, protocol.FromConversation(conv))
}

// List handles GET /api/v1/conversations?user_id=.
func (h *ConversationHandler) List(c *gin.Context) {
	conversations, err := h.log.ListConversations(c.Request.Context(), c.Query("user_id"))
	if err != nil {
		h.logger.Error("Failed to list conversations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
		return
	}

	out := make([]*protocol.Conversation, 0, len(conversations))
	for _, conv := range conversations {
		out = append(out, protocol.FromConversation(conv))
	}
	c.JSON(http.StatusOK, out)
}

// ArchiveRequest flips the archived flag.
type ArchiveRequest struct {
	Archived bool `json:"archived"`
}

// Archive handles POST /api/v1/conversations/:id/archive.
func (h *ConversationHandler) Archive(c *gin.Context) {
	var req ArchiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.log.ArchiveConversation(c.Request.Context(), c.Param("id"), req.Archived); err != nil {
		if domainErrors.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		h.logger.Error("Failed to archive conversation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to archive conversation"})
		return
	}

	c.Status(http.StatusNoContent)
}

// Delete handles DELETE /api/v1/conversations/:id (soft delete: the log
// itself is never removed by this surface).
func (h *ConversationHandler) Delete(c *gin.Context) {
	if err := h.log.SoftDeleteConversation(c.Request.Context(), c.Param("id")); err != nil {
		if domainErrors.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		h.logger.Error("Failed to delete conversation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete conversation"})
		return
	}

	c.Status(http.StatusNoContent)
}

// AppendMessage handles POST /api/v1/conversations/:id/messages.
func (h *ConversationHandler) AppendMessage(c *gin.Context) {
	var wire protocol.Message
	if err := c.ShouldBindJSON(&wire); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conversationID := c.Param("id")
	msg := wire.ToMessage()
	msg.ConversationID = conversationID
	if msg.Sender != entity.SenderUser && msg.Sender != entity.SenderBot {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sender must be user or bot"})
		return
	}

	if err := h.log.AppendMessage(c.Request.Context(), conversationID, msg); err != nil {
		h.logger.Error("Failed to append message", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to append message"})
		return
	}

	c.JSON(http.StatusCreated, protocol.FromMessage(msg))
}

// Messages handles GET /api/v1/conversations/:id/messages with backward
// pagination: before_created_at (RFC3339Nano) + before_id bound the page;
// without them the newest page is returned. Ascending order either way.
func (h *ConversationHandler) Messages(c *gin.Context) {
	limit := service.DefaultPageSize
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	// The zero cursor means "newest page": every stored message sorts
	// strictly before it.
	cursor := repository.Cursor{
		CreatedAt: time.Now().Add(100 * 365 * 24 * time.Hour),
	}
	if raw := c.Query("before_created_at"); raw != "" {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before_created_at"})
			return
		}
		cursor = repository.Cursor{CreatedAt: at, ID: c.Query("before_id")}
	}

	page, err := h.log.MessagesBefore(c.Request.Context(), c.Param("id"), cursor, limit)
	if err != nil {
		h.logger.Error("Failed to page messages", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to page messages"})
		return
	}

	c.JSON(http.StatusOK, protocol.FromMessages(page))
}
