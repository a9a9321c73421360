package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/driftchat/driftchat/internal/domain/service"
	"github.com/driftchat/driftchat/internal/infrastructure/responder/gemini"
	domainErrors "github.com/driftchat/driftchat/pkg/errors"
)

// Responder implements service.Responder by driving a driftchat server's
// AI passthrough route, so chat clients need no provider API key of their
// own.
type Responder struct {
	baseURL string
	model   string
	http    *http.Client
	logger  *zap.Logger
}

// NewResponder creates a passthrough-backed responder. model may be empty
// to use the server's default.
func NewResponder(baseURL, model string, logger *zap.Logger) *Responder {
	return &Responder{
		baseURL: baseURL,
		model:   model,
		http:    &http.Client{Timeout: 120 * time.Second},
		logger:  logger.With(zap.String("component", "remote-responder")),
	}
}

var _ service.Responder = (*Responder)(nil)

type chatRequest struct {
	Message string        `json:"message,omitempty"`
	Image   string        `json:"image,omitempty"`
	Model   string        `json:"model,omitempty"`
	History []historyItem `json:"history,omitempty"`
}

type historyItem struct {
	Text   string `json:"text,omitempty"`
	Image  string `json:"image,omitempty"`
	Sender string `json:"sender"`
}

// Generate relays the exchange through POST /api/chat and extracts the
// reply text from the raw provider response.
func (r *Responder) Generate(ctx context.Context, req *service.ResponderRequest) (*service.ResponderReply, error) {
	body := chatRequest{
		Message: req.Message,
		Image:   req.Image,
		Model:   r.model,
	}
	if req.Model != "" {
		body.Model = req.Model
	}
	for _, m := range req.History {
		body.History = append(body.History, historyItem{
			Text:   m.Text,
			Sender: string(m.Sender),
		})
	}

	raw, err := r.post(ctx, body)
	if err != nil {
		return nil, err
	}

	var resp gemini.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, domainErrors.NewUpstreamError("malformed provider response", err)
	}

	reply := &service.ResponderReply{Text: resp.FirstText(gemini.NoResponseText)}

	if req.WantTitle {
		reply.Title = r.generateTitle(ctx, req.Message)
	}
	return reply, nil
}

// generateTitle mirrors the server-side title helper over the same route.
// Failures degrade to an empty title.
func (r *Responder) generateTitle(ctx context.Context, firstMessage string) string {
	raw, err := r.post(ctx, chatRequest{
		Message: "Generate a short title (max 5 words) for a conversation that starts with: " + firstMessage,
		Model:   r.model,
	})
	if err != nil {
		r.logger.Warn("Title generation failed", zap.Error(err))
		return ""
	}
	var resp gemini.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return ""
	}
	title := resp.FirstText("")
	return trimTitle(title)
}

func trimTitle(title string) string {
	for len(title) > 1 && (title[0] == '"' || title[0] == '\'') &&
		title[len(title)-1] == title[0] {
		title = title[1 : len(title)-1]
	}
	return title
}

func (r *Responder) post(ctx context.Context, body chatRequest) ([]byte, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.baseURL+"/api/chat", bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(httpReq)
	if err != nil {
		return nil, domainErrors.NewUpstreamError("chat request failed", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(buf.Bytes(), &apiErr)
		msg := apiErr.Error
		if msg == "" {
			msg = resp.Status
		}
		return nil, domainErrors.NewUpstreamError(msg, nil)
	}
	return buf.Bytes(), nil
}
