package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/driftchat/driftchat/internal/domain/entity"
	"github.com/driftchat/driftchat/internal/domain/repository"
	"github.com/driftchat/driftchat/pkg/safego"
	"go.uber.org/zap"
)

// DefaultPageSize bounds one backward-pagination query.
const DefaultPageSize = 20

// BotErrorText is the synthetic reply appended when the responder fails, so
// the view always reaches a terminal state instead of an endless spinner.
const BotErrorText = "Error fetching response"

// SyncEngineConfig parametrizes one engine instance.
type SyncEngineConfig struct {
	// PageSize is the backward-pagination page size (DefaultPageSize if 0).
	PageSize int
	// Persist selects the conversation kind: persistent views write through
	// to the chat log and subscribe to conversation metadata; ephemeral
	// views keep everything local and never touch the log.
	Persist bool
	// UserID owns conversations created by this engine. Empty for anonymous
	// sessions.
	UserID string
	// Model optionally overrides the responder's configured model.
	Model string
}

// viewSession is the per-conversation-view state. A new session is created
// on every Open; async continuations compare their captured conversation id
// against the current session's so a stale page fetch or bot reply resolving
// after navigation is discarded instead of misapplied.
type viewSession struct {
	conversationID string
	sm             *viewStateMachine
	cursor         *repository.Cursor
	hasMore        bool
	conversation   *entity.Conversation
	cancelMessages repository.CancelFunc
	cancelMeta     repository.CancelFunc
	err            error
}

// SyncEngine orchestrates the lifecycle of a conversation view: it keeps the
// MessageStore consistent with the remote chat log via live snapshot
// subscriptions, issues optimistic appends on send, drives the bot round
// trip, and manages backward-pagination cursors.
//
// One engine serves one view at a time; opening a new conversation tears
// down the previous subscription pair first so stale snapshots can never
// overwrite the current view.
type SyncEngine struct {
	store     *MessageStore
	log       repository.ChatLog
	responder Responder
	cfg       SyncEngineConfig
	logger    *zap.Logger

	mu          sync.Mutex
	view        *viewSession
	awaitingBot atomic.Bool
}

// NewSyncEngine wires an engine over its collaborators.
func NewSyncEngine(store *MessageStore, log repository.ChatLog, responder Responder, cfg SyncEngineConfig, logger *zap.Logger) *SyncEngine {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	return &SyncEngine{
		store:     store,
		log:       log,
		responder: responder,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "sync-engine")),
	}
}

// Open enters the view for conversationID: pagination state is reset, the
// local list is cleared, and the metadata + message subscriptions are
// established. Any previous view's subscriptions are torn down first.
func (e *SyncEngine) Open(conversationID string) error {
	if conversationID == "" {
		return entity.ErrInvalidConversationID
	}

	e.mu.Lock()
	e.teardownLocked()

	view := &viewSession{
		conversationID: conversationID,
		sm:             newViewStateMachine(e.logger),
		hasMore:        true,
	}
	e.view = view
	e.store.Clear(conversationID)
	_ = view.sm.Transition(ViewSubscribing)
	e.mu.Unlock()

	if e.cfg.Persist {
		cancelMeta, err := e.log.SubscribeConversation(conversationID, func(conv *entity.Conversation) {
			e.applyConversationSnapshot(conversationID, conv)
		})
		if err != nil {
			return e.failSubscription(view, err)
		}
		e.mu.Lock()
		view.cancelMeta = cancelMeta
		e.mu.Unlock()
	}

	cancelMessages, err := e.log.SubscribeMessages(conversationID, func(snapshot []*entity.Message) {
		e.applyMessageSnapshot(conversationID, snapshot)
	})
	if err != nil {
		return e.failSubscription(view, err)
	}

	e.mu.Lock()
	view.cancelMessages = cancelMessages
	e.mu.Unlock()
	return nil
}

// Close leaves the current view, unsubscribing both live subscriptions.
func (e *SyncEngine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.teardownLocked()
}

// teardownLocked cancels the active view's subscriptions. Caller holds e.mu.
func (e *SyncEngine) teardownLocked() {
	if e.view == nil {
		return
	}
	if e.view.cancelMessages != nil {
		e.view.cancelMessages()
	}
	if e.view.cancelMeta != nil {
		e.view.cancelMeta()
	}
	_ = e.view.sm.Transition(ViewUnsubscribed)
	e.view = nil
}

// failSubscription records a subscription error. The view shows a
// recoverable error state; no automatic retry.
func (e *SyncEngine) failSubscription(view *viewSession, err error) error {
	e.logger.Error("Subscription failed",
		zap.String("conversation_id", view.conversationID),
		zap.Error(err),
	)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.view == view {
		view.err = err
		_ = view.sm.Transition(ViewError)
	}
	return err
}

// applyMessageSnapshot lands a live snapshot: full replace of the local
// list, cursor moved to the oldest loaded record.
func (e *SyncEngine) applyMessageSnapshot(conversationID string, snapshot []*entity.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.view == nil || e.view.conversationID != conversationID {
		return // stale snapshot from a view we already left
	}

	e.store.SetAll(conversationID, snapshot)
	if len(snapshot) > 0 {
		e.view.cursor = &repository.Cursor{
			CreatedAt: snapshot[0].CreatedAt,
			ID:        snapshot[0].ID,
		}
	}
	_ = e.view.sm.Transition(ViewSynced)
}

// applyConversationSnapshot lands a metadata snapshot. A nil conversation
// means the record does not exist: a terminal not-found condition.
func (e *SyncEngine) applyConversationSnapshot(conversationID string, conv *entity.Conversation) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.view == nil || e.view.conversationID != conversationID {
		return
	}

	if conv == nil {
		e.view.err = entity.ErrConversationNotFound
		_ = e.view.sm.Transition(ViewNotFound)
		return
	}
	e.view.conversation = conv
}

// LoadOlder fetches one page of older history and prepends it to the local
// list. No-op when the history is exhausted or no cursor exists yet. An
// empty page freezes the cursor and clears hasMore for the rest of the view
// session. Fetch failures are logged and treated as an empty page.
func (e *SyncEngine) LoadOlder(ctx context.Context) ([]*entity.Message, error) {
	e.mu.Lock()
	if e.view == nil || !e.view.hasMore || e.view.cursor == nil {
		e.mu.Unlock()
		return nil, nil
	}
	conversationID := e.view.conversationID
	cursor := *e.view.cursor
	e.mu.Unlock()

	page, err := e.log.MessagesBefore(ctx, conversationID, cursor, e.cfg.PageSize)
	if err != nil {
		// Masks transient failures as end-of-history; callers that care can
		// re-open the view.
		e.logger.Warn("Failed to fetch older messages",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		page = nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.view == nil || e.view.conversationID != conversationID {
		return nil, nil // view changed while the fetch was in flight
	}

	if len(page) == 0 {
		e.view.hasMore = false
		return nil, nil
	}

	e.view.cursor = &repository.Cursor{
		CreatedAt: page[0].CreatedAt,
		ID:        page[0].ID,
	}
	e.store.PrependOlder(conversationID, page)
	return page, nil
}

// Send appends the user's message optimistically, persists it best-effort,
// updates conversation metadata, and kicks off the bot round trip without
// blocking on it. Whitespace-only input is a complete no-op.
func (e *SyncEngine) Send(ctx context.Context, text string) (*entity.Message, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, nil
	}

	e.mu.Lock()
	if e.view == nil {
		e.mu.Unlock()
		return nil, entity.ErrInvalidConversationID
	}
	conversationID := e.view.conversationID
	conv := e.view.conversation
	e.mu.Unlock()

	msg, err := entity.NewUserMessage(conversationID, trimmed)
	if err != nil {
		return nil, err
	}

	// Optimistic append: the view reflects the message before any network
	// round trip. The remote echo reconciles via AppendOne's idempotence.
	firstSend := len(e.store.Get(conversationID)) == 0
	e.store.AppendOne(conversationID, msg)

	if e.cfg.Persist {
		if err := e.log.AppendMessage(ctx, conversationID, msg); err != nil {
			e.logger.Error("Failed to persist message",
				zap.String("conversation_id", conversationID),
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			e.store.MarkFailed(conversationID, msg.ID)
		}
		e.updateMetadata(ctx, conversationID, conv, msg, "")
	}

	wantTitle := firstSend && (conv == nil || conv.Title == "")
	safego.Go(e.logger, "bot-round-trip", func() {
		e.Respond(context.Background(), conversationID, msg, wantTitle)
	})

	return msg, nil
}

// Respond runs the bot round trip for a just-sent user message: call the
// responder, append and persist the reply. On any failure exactly one
// synthetic error message is appended instead. The awaiting flag is released
// on every exit path.
func (e *SyncEngine) Respond(ctx context.Context, conversationID string, userMsg *entity.Message, wantTitle bool) {
	e.awaitingBot.Store(true)
	defer e.awaitingBot.Store(false)

	history := e.historyBefore(conversationID, userMsg)

	reply, err := e.responder.Generate(ctx, &ResponderRequest{
		Message:   userMsg.Text,
		History:   history,
		Model:     e.cfg.Model,
		WantTitle: wantTitle,
	})

	if !e.isActive(conversationID) {
		return // navigated away; discard the result silently
	}

	if err != nil {
		e.logger.Error("Responder call failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		if errMsg, buildErr := entity.NewBotMessage(conversationID, BotErrorText); buildErr == nil {
			e.store.AppendOne(conversationID, errMsg)
		}
		return
	}

	bot, buildErr := entity.NewBotMessage(conversationID, reply.Text)
	if buildErr != nil {
		return
	}
	e.store.AppendOne(conversationID, bot)

	if e.cfg.Persist {
		if err := e.log.AppendMessage(ctx, conversationID, bot); err != nil {
			e.logger.Error("Failed to persist bot message",
				zap.String("conversation_id", conversationID),
				zap.Error(err),
			)
			e.store.MarkFailed(conversationID, bot.ID)
		}
		e.mu.Lock()
		var conv *entity.Conversation
		if e.view != nil && e.view.conversationID == conversationID {
			conv = e.view.conversation
		}
		e.mu.Unlock()
		e.updateMetadata(ctx, conversationID, conv, bot, reply.Title)
	}
}

// updateMetadata writes the conversation record best-effort: creation on
// first send, last-message summary and updated time on every append.
func (e *SyncEngine) updateMetadata(ctx context.Context, conversationID string, conv *entity.Conversation, m *entity.Message, title string) {
	if conv == nil {
		conv = entity.NewConversation(conversationID, e.cfg.UserID, title)
	} else if title != "" && conv.Title == "" {
		conv.Title = title
	}
	conv.Touch(m)

	if err := e.log.SaveConversation(ctx, conv); err != nil {
		e.logger.Warn("Failed to update conversation metadata",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
	}
}

// historyBefore returns the current list minus the just-sent user message,
// oldest first, for the responder's context window.
func (e *SyncEngine) historyBefore(conversationID string, userMsg *entity.Message) []*entity.Message {
	all := e.store.Get(conversationID)
	history := make([]*entity.Message, 0, len(all))
	for _, m := range all {
		if m.Equivalent(userMsg) {
			continue
		}
		history = append(history, m)
	}
	return history
}

// isActive reports whether conversationID is still the open view.
func (e *SyncEngine) isActive(conversationID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view != nil && e.view.conversationID == conversationID
}

// State returns the current view state, ViewIdle before the first Open.
func (e *SyncEngine) State() ViewState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.view == nil {
		return ViewIdle
	}
	return e.view.sm.State()
}

// Err returns the error that put the view into its error or not-found state.
func (e *SyncEngine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.view == nil {
		return nil
	}
	return e.view.err
}

// Conversation returns the latest metadata snapshot, nil before one arrives.
func (e *SyncEngine) Conversation() *entity.Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.view == nil {
		return nil
	}
	return e.view.conversation
}

// Messages returns the open view's current ordered list.
func (e *SyncEngine) Messages() []*entity.Message {
	e.mu.Lock()
	if e.view == nil {
		e.mu.Unlock()
		return nil
	}
	conversationID := e.view.conversationID
	e.mu.Unlock()
	return e.store.Get(conversationID)
}

// HasMore reports whether older history may remain.
func (e *SyncEngine) HasMore() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view != nil && e.view.hasMore
}

// AwaitingBot reports whether a bot round trip is outstanding.
func (e *SyncEngine) AwaitingBot() bool {
	return e.awaitingBot.Load()
}
