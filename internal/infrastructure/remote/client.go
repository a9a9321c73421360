package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/driftchat/driftchat/internal/domain/entity"
	"github.com/driftchat/driftchat/internal/domain/repository"
	"github.com/driftchat/driftchat/internal/protocol"
	domainErrors "github.com/driftchat/driftchat/pkg/errors"
)

// Client implements repository.ChatLog against a remote driftchat server:
// appends, metadata operations and pagination go over REST, live snapshots
// arrive on a single shared WebSocket connection.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	writeMu   sync.Mutex
	nextToken int
	msgSubs   map[string]map[int]repository.MessageSnapshotFn
	convSubs  map[string]map[int]repository.ConversationSnapshotFn
}

// New creates a client for a server base URL such as "http://localhost:8790".
func New(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger.With(zap.String("component", "remote-chat-log")),
		msgSubs: make(map[string]map[int]repository.MessageSnapshotFn),
		convSubs: make(map[string]map[int]repository.ConversationSnapshotFn),
	}
}

var _ repository.ChatLog = (*Client)(nil)

// Close drops the snapshot connection.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// AppendMessage posts the message to the conversation's log.
func (c *Client) AppendMessage(ctx context.Context, conversationID string, message *entity.Message) error {
	wire := protocol.FromMessage(message)
	return c.post(ctx, fmt.Sprintf("/api/v1/conversations/%s/messages", url.PathEscape(conversationID)), wire, nil)
}

// MessagesBefore fetches one backward page, ascending.
func (c *Client) MessagesBefore(ctx context.Context, conversationID string, before repository.Cursor, limit int) ([]*entity.Message, error) {
	q := url.Values{}
	q.Set("before_created_at", before.CreatedAt.Format(time.RFC3339Nano))
	q.Set("before_id", before.ID)
	q.Set("limit", fmt.Sprintf("%d", limit))

	var wire []protocol.Message
	path := fmt.Sprintf("/api/v1/conversations/%s/messages?%s", url.PathEscape(conversationID), q.Encode())
	if err := c.get(ctx, path, &wire); err != nil {
		return nil, err
	}
	return protocol.ToMessages(wire), nil
}

// SubscribeMessages registers for live log snapshots of one conversation.
func (c *Client) SubscribeMessages(conversationID string, fn repository.MessageSnapshotFn) (repository.CancelFunc, error) {
	c.mu.Lock()
	if err := c.ensureConnLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	token := c.nextToken
	c.nextToken++
	if c.msgSubs[conversationID] == nil {
		c.msgSubs[conversationID] = make(map[int]repository.MessageSnapshotFn)
	}
	c.msgSubs[conversationID][token] = fn
	c.mu.Unlock()

	if err := c.sendSubscribe(conversationID); err != nil {
		c.mu.Lock()
		delete(c.msgSubs[conversationID], token)
		c.mu.Unlock()
		return nil, err
	}

	return func() {
		c.mu.Lock()
		delete(c.msgSubs[conversationID], token)
		drop := len(c.msgSubs[conversationID]) == 0 && len(c.convSubs[conversationID]) == 0
		c.mu.Unlock()
		if drop {
			c.sendUnsubscribe(conversationID)
		}
	}, nil
}

// SubscribeConversation registers for metadata snapshots of one
// conversation; nil signals a missing record.
func (c *Client) SubscribeConversation(conversationID string, fn repository.ConversationSnapshotFn) (repository.CancelFunc, error) {
	c.mu.Lock()
	if err := c.ensureConnLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	token := c.nextToken
	c.nextToken++
	if c.convSubs[conversationID] == nil {
		c.convSubs[conversationID] = make(map[int]repository.ConversationSnapshotFn)
	}
	c.convSubs[conversationID][token] = fn
	c.mu.Unlock()

	if err := c.sendSubscribe(conversationID); err != nil {
		c.mu.Lock()
		delete(c.convSubs[conversationID], token)
		c.mu.Unlock()
		return nil, err
	}

	return func() {
		c.mu.Lock()
		delete(c.convSubs[conversationID], token)
		drop := len(c.msgSubs[conversationID]) == 0 && len(c.convSubs[conversationID]) == 0
		c.mu.Unlock()
		if drop {
			c.sendUnsubscribe(conversationID)
		}
	}, nil
}

// SaveConversation writes the metadata record.
func (c *Client) SaveConversation(ctx context.Context, conversation *entity.Conversation) error {
	wire := protocol.FromConversation(conversation)
	return c.put(ctx, "/api/v1/conversations/"+url.PathEscape(conversation.ID), wire)
}

// GetConversation fetches the metadata record once.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (*entity.Conversation, error) {
	var wire protocol.Conversation
	if err := c.get(ctx, "/api/v1/conversations/"+url.PathEscape(conversationID), &wire); err != nil {
		return nil, err
	}
	return wire.ToConversation(), nil
}

// ListConversations returns the user's conversations, newest first.
func (c *Client) ListConversations(ctx context.Context, userID string) ([]*entity.Conversation, error) {
	var wire []*protocol.Conversation
	if err := c.get(ctx, "/api/v1/conversations?user_id="+url.QueryEscape(userID), &wire); err != nil {
		return nil, err
	}
	out := make([]*entity.Conversation, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.ToConversation())
	}
	return out, nil
}

// ArchiveConversation flips the archived flag.
func (c *Client) ArchiveConversation(ctx context.Context, conversationID string, archived bool) error {
	path := fmt.Sprintf("/api/v1/conversations/%s/archive", url.PathEscape(conversationID))
	return c.post(ctx, path, map[string]bool{"archived": archived}, nil)
}

// SoftDeleteConversation marks the conversation deleted.
func (c *Client) SoftDeleteConversation(ctx context.Context, conversationID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/api/v1/conversations/"+url.PathEscape(conversationID), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// --- WebSocket plumbing ---

// ensureConnLocked dials the snapshot feed on first use. Caller holds c.mu.
func (c *Client) ensureConnLocked() error {
	if c.conn != nil {
		return nil
	}

	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return domainErrors.NewUpstreamError("connect snapshot feed", err)
	}
	c.conn = conn

	go c.readLoop(conn)
	return nil
}

// readLoop dispatches incoming snapshots to registered subscribers. A read
// failure ends the loop; subscriptions are not retried automatically.
func (c *Client) readLoop(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Error("Snapshot feed closed", zap.Error(err))
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.logger.Error("Failed to parse snapshot frame", zap.Error(err))
			continue
		}

		switch env.Type {
		case protocol.TypeMessages:
			var snap protocol.MessagesSnapshot
			if err := json.Unmarshal(env.Data, &snap); err != nil {
				continue
			}
			msgs := protocol.ToMessages(snap.Messages)
			for _, fn := range c.messageSubs(snap.ConversationID) {
				fn(msgs)
			}
		case protocol.TypeConversation:
			var snap protocol.ConversationSnapshot
			if err := json.Unmarshal(env.Data, &snap); err != nil {
				continue
			}
			conv := snap.Conversation.ToConversation()
			for _, fn := range c.conversationSubs(snap.ConversationID) {
				fn(conv)
			}
		case protocol.TypeError:
			var em protocol.ErrorMessage
			_ = json.Unmarshal(env.Data, &em)
			c.logger.Warn("Snapshot feed error",
				zap.String("conversation_id", em.ConversationID),
				zap.String("message", em.Message),
			)
		}
	}
}

func (c *Client) messageSubs(conversationID string) []repository.MessageSnapshotFn {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := make([]repository.MessageSnapshotFn, 0, len(c.msgSubs[conversationID]))
	for _, fn := range c.msgSubs[conversationID] {
		subs = append(subs, fn)
	}
	return subs
}

func (c *Client) conversationSubs(conversationID string) []repository.ConversationSnapshotFn {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := make([]repository.ConversationSnapshotFn, 0, len(c.convSubs[conversationID]))
	for _, fn := range c.convSubs[conversationID] {
		subs = append(subs, fn)
	}
	return subs
}

func (c *Client) sendSubscribe(conversationID string) error {
	return c.writeFrame(protocol.MustMarshal(protocol.TypeSubscribe, protocol.Subscribe{
		ConversationID: conversationID,
	}))
}

func (c *Client) sendUnsubscribe(conversationID string) {
	if err := c.writeFrame(protocol.MustMarshal(protocol.TypeUnsubscribe, protocol.Unsubscribe{
		ConversationID: conversationID,
	})); err != nil {
		c.logger.Warn("Failed to send unsubscribe", zap.Error(err))
	}
}

func (c *Client) writeFrame(frame []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return domainErrors.NewUpstreamError("snapshot feed not connected", nil)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// --- REST plumbing ---

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) put(ctx context.Context, path string, body interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return domainErrors.NewUpstreamError("chat log request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domainErrors.NewNotFoundError("conversation not found")
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return domainErrors.NewUpstreamError(
			fmt.Sprintf("chat log error %d: %s", resp.StatusCode, string(body)), nil)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
