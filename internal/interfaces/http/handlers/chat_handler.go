package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/driftchat/driftchat/internal/infrastructure/responder/gemini"
)

// ChatHandler is the passthrough route: it forwards a JSON payload to the
// generative API and relays the provider's raw response.
type ChatHandler struct {
	client *gemini.Client
	logger *zap.Logger
}

// NewChatHandler creates the passthrough handler.
func NewChatHandler(client *gemini.Client, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		client: client,
		logger: logger,
	}
}

// ChatRequest is the passthrough payload.
type ChatRequest struct {
	Message string        `json:"message"`
	Image   string        `json:"image"` // base64, no data-URL prefix
	Model   string        `json:"model"`
	History []HistoryItem `json:"history"`
}

// HistoryItem is one prior turn supplied by the caller.
type HistoryItem struct {
	Text   string `json:"text"`
	Image  string `json:"image"` // base64, prefix tolerated
	Sender string `json:"sender"` // "user" | "bot"
}

// Generate handles POST /api/chat.
func (h *ChatHandler) Generate(c *gin.Context) {
	if !h.client.HasKey() {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "API key not found"})
		return
	}

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message or image is required"})
		return
	}

	if len(req.History) == 0 && req.Message == "" && req.Image == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message or image is required"})
		return
	}

	apiReq := gemini.BuildRequest(req.Message, req.Image, historyContents(req.History))

	raw, err := h.client.Do(c.Request.Context(), apiReq, req.Model)
	if err != nil {
		h.logger.Error("Relay to generative API failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong"})
		return
	}

	c.Data(http.StatusOK, "application/json", raw)
}

// historyContents maps caller-supplied turns onto API contents. Bot turns
// become "model"; a data-URL prefix on history images is stripped.
func historyContents(history []HistoryItem) []gemini.Content {
	contents := make([]gemini.Content, 0, len(history))
	for _, item := range history {
		role := "user"
		if item.Sender == "bot" {
			role = "model"
		}

		var parts []gemini.Part
		if item.Text != "" {
			parts = append(parts, gemini.Part{Text: item.Text})
		}
		if item.Image != "" {
			parts = append(parts, gemini.Part{InlineData: &gemini.InlineData{
				MimeType: "image/jpeg",
				Data:     stripDataPrefix(item.Image),
			}})
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, gemini.Content{Role: role, Parts: parts})
	}
	return contents
}

func stripDataPrefix(image string) string {
	if idx := strings.Index(image, "base64,"); idx >= 0 {
		return image[idx+len("base64,"):]
	}
	return image
}
