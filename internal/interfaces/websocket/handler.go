package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/driftchat/driftchat/internal/domain/entity"
	"github.com/driftchat/driftchat/internal/domain/repository"
	"github.com/driftchat/driftchat/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // any origin, matching the relay route's CORS policy
	},
}

// Handler upgrades connections and serves live chat log snapshots. Each
// connected client holds its own set of per-conversation subscriptions;
// closing the connection cancels them all.
type Handler struct {
	log    repository.ChatLog
	logger *zap.Logger
}

// NewHandler creates a WebSocket handler over the chat log.
func NewHandler(log repository.ChatLog, logger *zap.Logger) *Handler {
	return &Handler{
		log:    log,
		logger: logger.With(zap.String("component", "ws")),
	}
}

// ServeWS handles one WebSocket connection.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	c := &client{
		conn:    conn,
		send:    make(chan []byte, 256),
		cancels: make(map[string][]repository.CancelFunc),
		log:     h.log,
		logger:  h.logger,
	}

	go c.writePump()
	c.readPump()
}

// client is one connected subscriber.
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	log    repository.ChatLog
	logger *zap.Logger

	mu      sync.Mutex
	cancels map[string][]repository.CancelFunc
	closed  bool
}

func (c *client) readPump() {
	defer func() {
		c.teardown()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", zap.Error(err))
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.logger.Error("Failed to parse envelope", zap.Error(err))
			continue
		}

		switch env.Type {
		case protocol.TypePing:
			c.enqueue(protocol.MustMarshal(protocol.TypePong, struct{}{}))
		case protocol.TypeSubscribe:
			var sub protocol.Subscribe
			if err := json.Unmarshal(env.Data, &sub); err != nil || sub.ConversationID == "" {
				continue
			}
			c.subscribe(sub.ConversationID)
		case protocol.TypeUnsubscribe:
			var unsub protocol.Unsubscribe
			if err := json.Unmarshal(env.Data, &unsub); err != nil {
				continue
			}
			c.unsubscribe(unsub.ConversationID)
		}
	}
}

// subscribe opens the metadata + message subscription pair for one
// conversation and forwards every snapshot to the client.
func (c *client) subscribe(conversationID string) {
	c.mu.Lock()
	if _, already := c.cancels[conversationID]; already {
		c.mu.Unlock()
		return
	}
	c.cancels[conversationID] = nil // reserve while the pair is opened
	c.mu.Unlock()

	cancelMeta, err := c.log.SubscribeConversation(conversationID, func(conv *entity.Conversation) {
		c.enqueue(protocol.MustMarshal(protocol.TypeConversation, protocol.ConversationSnapshot{
			ConversationID: conversationID,
			Conversation:   protocol.FromConversation(conv),
		}))
	})
	if err != nil {
		c.sendError(conversationID, "subscribe failed")
		return
	}

	cancelMessages, err := c.log.SubscribeMessages(conversationID, func(snapshot []*entity.Message) {
		c.enqueue(protocol.MustMarshal(protocol.TypeMessages, protocol.MessagesSnapshot{
			ConversationID: conversationID,
			Messages:       protocol.FromMessages(snapshot),
		}))
	})
	if err != nil {
		cancelMeta()
		c.sendError(conversationID, "subscribe failed")
		return
	}

	c.mu.Lock()
	c.cancels[conversationID] = []repository.CancelFunc{cancelMeta, cancelMessages}
	c.mu.Unlock()
}

func (c *client) unsubscribe(conversationID string) {
	c.mu.Lock()
	cancels := c.cancels[conversationID]
	delete(c.cancels, conversationID)
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func (c *client) teardown() {
	c.mu.Lock()
	all := c.cancels
	c.cancels = make(map[string][]repository.CancelFunc)
	c.closed = true
	c.mu.Unlock()

	for _, cancels := range all {
		for _, cancel := range cancels {
			cancel()
		}
	}
}

func (c *client) sendError(conversationID, msg string) {
	c.enqueue(protocol.MustMarshal(protocol.TypeError, protocol.ErrorMessage{
		ConversationID: conversationID,
		Message:        msg,
	}))
}

// enqueue pushes a frame onto the send channel, dropping when the client
// cannot keep up. Snapshots are full-state, so a dropped frame is repaired
// by the next one.
func (c *client) enqueue(frame []byte) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	select {
	case c.send <- frame:
	default:
		c.logger.Warn("Client send buffer full, dropping frame")
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
