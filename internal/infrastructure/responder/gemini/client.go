package gemini

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/driftchat/driftchat/internal/domain/entity"
	"github.com/driftchat/driftchat/internal/domain/service"
	domainErrors "github.com/driftchat/driftchat/pkg/errors"
	"go.uber.org/zap"
)

// NoResponseText is returned when the provider's response carries no text
// part.
const NoResponseText = "No response"

// Config configures the Gemini client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client calls the Google Gemini generateContent API natively. It serves
// both as the service.Responder for the sync engine and as the upstream of
// the HTTP passthrough route, which relays its raw response bytes.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  *zap.Logger
}

// New creates a Gemini client.
func New(cfg Config, logger *zap.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Transport: transport, Timeout: cfg.Timeout},
		logger:  logger.With(zap.String("component", "gemini")),
	}
}

var _ service.Responder = (*Client)(nil)

// HasKey reports whether an API key is configured.
func (c *Client) HasKey() bool {
	return c.apiKey != ""
}

// SetModel swaps the default model (config hot-reload).
func (c *Client) SetModel(model string) {
	if model != "" {
		c.model = model
	}
}

// Generate implements service.Responder: one non-streaming completion for
// the just-sent user message plus prior history.
func (c *Client) Generate(ctx context.Context, req *service.ResponderRequest) (*service.ResponderReply, error) {
	apiReq := BuildRequest(req.Message, req.Image, historyContents(req.History))

	raw, err := c.Do(ctx, apiReq, req.Model)
	if err != nil {
		return nil, err
	}

	var apiResp Response
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return nil, domainErrors.NewUpstreamError("parse gemini response", err)
	}

	reply := &service.ResponderReply{
		Text: apiResp.FirstText(NoResponseText),
	}

	// Title generation is best-effort; a failed call leaves the
	// conversation untitled.
	if req.WantTitle {
		reply.Title = c.generateTitle(ctx, req.Message, req.Model)
	}

	return reply, nil
}

// Do posts a generateContent request and returns the provider's raw
// response body.
func (c *Client) Do(ctx context.Context, apiReq *Request, model string) ([]byte, error) {
	if c.apiKey == "" {
		return nil, domainErrors.NewInvalidInputError("API key not found")
	}
	if model == "" {
		model = c.model
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, domainErrors.NewUpstreamError("gemini request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domainErrors.NewUpstreamError("read gemini response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, domainErrors.NewUpstreamError(
			fmt.Sprintf("gemini API error %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	return respBody, nil
}

// generateTitle asks for a short conversation title. Errors collapse to an
// empty title.
func (c *Client) generateTitle(ctx context.Context, firstMessage, model string) string {
	prompt := "Reply with a short title (5 words or fewer, no quotes) for a conversation that starts with: " + firstMessage
	raw, err := c.Do(ctx, BuildRequest(prompt, "", nil), model)
	if err != nil {
		c.logger.Warn("Title generation failed", zap.Error(err))
		return ""
	}

	var apiResp Response
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return ""
	}
	return strings.Trim(strings.TrimSpace(apiResp.FirstText("")), `"`)
}

// BuildRequest assembles a generateContent request from the passthrough
// payload shape: optional history turns followed by the current message
// and/or inline image.
func BuildRequest(message, image string, history []Content) *Request {
	apiReq := &Request{}
	apiReq.Contents = append(apiReq.Contents, history...)

	var parts []Part
	if message != "" {
		parts = append(parts, Part{Text: message})
	}
	if image != "" {
		parts = append(parts, Part{InlineData: &InlineData{
			MimeType: "image/jpeg",
			Data:     image,
		}})
	}
	if len(parts) > 0 {
		apiReq.Contents = append(apiReq.Contents, Content{Role: "user", Parts: parts})
	}

	return apiReq
}

// historyContents maps stored messages onto API turns: user messages keep
// the "user" role, bot messages become "model" turns.
func historyContents(history []*entity.Message) []Content {
	contents := make([]Content, 0, len(history))
	for _, m := range history {
		role := "user"
		if m.IsFromBot() {
			role = "model"
		}
		if m.Text == "" {
			continue
		}
		contents = append(contents, Content{
			Role:  role,
			Parts: []Part{{Text: m.Text}},
		})
	}
	return contents
}
