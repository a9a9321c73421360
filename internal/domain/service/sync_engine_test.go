package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/driftchat/driftchat/internal/domain/entity"
	"github.com/driftchat/driftchat/internal/domain/repository"
	"github.com/driftchat/driftchat/internal/infrastructure/persistence"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for: " + msg)
}

// fakeResponder scripts the AI endpoint.
type fakeResponder struct {
	mu      sync.Mutex
	reply   string
	title   string
	err     error
	gate    chan struct{} // when non-nil, Generate blocks until closed
	calls   int
	lastReq *ResponderRequest
}

func (f *fakeResponder) Generate(ctx context.Context, req *ResponderRequest) (*ResponderReply, error) {
	f.mu.Lock()
	f.calls++
	f.lastReq = req
	gate := f.gate
	err := f.err
	reply := &ResponderReply{Text: f.reply, Title: f.title}
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return reply, nil
}

func (f *fakeResponder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// scriptedLog is a ChatLog double with full control over the initial
// snapshot, successive pagination results and write failures.
type scriptedLog struct {
	mu            sync.Mutex
	initial       map[string][]*entity.Message
	conversations map[string]*entity.Conversation
	pages         [][]*entity.Message
	pagesErr      error
	appendErr     error
	subscribeErr  error
	beforeCalls   int
	appendCalls   int
	saveCalls     int
	msgCancels    int
	metaCancels   int
}

func newScriptedLog() *scriptedLog {
	return &scriptedLog{
		initial:       make(map[string][]*entity.Message),
		conversations: make(map[string]*entity.Conversation),
	}
}

func (l *scriptedLog) AppendMessage(ctx context.Context, conversationID string, m *entity.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appendCalls++
	return l.appendErr
}

func (l *scriptedLog) MessagesBefore(ctx context.Context, conversationID string, before repository.Cursor, limit int) ([]*entity.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.beforeCalls++
	if l.pagesErr != nil {
		return nil, l.pagesErr
	}
	if len(l.pages) == 0 {
		return nil, nil
	}
	page := l.pages[0]
	l.pages = l.pages[1:]
	return page, nil
}

func (l *scriptedLog) SubscribeMessages(conversationID string, fn repository.MessageSnapshotFn) (repository.CancelFunc, error) {
	l.mu.Lock()
	if l.subscribeErr != nil {
		defer l.mu.Unlock()
		return nil, l.subscribeErr
	}
	snapshot := l.initial[conversationID]
	l.mu.Unlock()

	fn(snapshot)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.msgCancels++
	}, nil
}

func (l *scriptedLog) SubscribeConversation(conversationID string, fn repository.ConversationSnapshotFn) (repository.CancelFunc, error) {
	l.mu.Lock()
	conv := l.conversations[conversationID]
	l.mu.Unlock()

	fn(conv)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.metaCancels++
	}, nil
}

func (l *scriptedLog) SaveConversation(ctx context.Context, c *entity.Conversation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.saveCalls++
	l.conversations[c.ID] = c
	return nil
}

func (l *scriptedLog) GetConversation(ctx context.Context, id string) (*entity.Conversation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conversations[id], nil
}

func (l *scriptedLog) ListConversations(ctx context.Context, userID string) ([]*entity.Conversation, error) {
	return nil, nil
}

func (l *scriptedLog) ArchiveConversation(ctx context.Context, id string, archived bool) error {
	return nil
}

func (l *scriptedLog) SoftDeleteConversation(ctx context.Context, id string) error {
	return nil
}

// messagesAt builds n messages with strictly increasing CreatedAt starting
// at base, texts prefix-0..prefix-(n-1).
func messagesAt(conv, prefix string, base time.Time, n int) []*entity.Message {
	msgs := make([]*entity.Message, n)
	for i := 0; i < n; i++ {
		at := base.Add(time.Duration(i) * time.Second)
		msgs[i] = &entity.Message{
			ID:             fmt.Sprintf("%s-%d", prefix, i),
			ConversationID: conv,
			Text:           fmt.Sprintf("%s-%d", prefix, i),
			Sender:         entity.SenderUser,
			Timestamp:      at.UnixMilli(),
			CreatedAt:      at,
		}
	}
	return msgs
}

// === Open / subscriptions ===

func TestSyncEngine_OpenSyncsExistingHistory(t *testing.T) {
	log := persistence.NewMemoryChatLog()
	ctx := context.Background()
	conv := entity.NewConversation("c1", "u1", "Greetings")
	if err := log.SaveConversation(ctx, conv); err != nil {
		t.Fatal(err)
	}
	m, _ := entity.NewUserMessage("c1", "hello there")
	if err := log.AppendMessage(ctx, "c1", m); err != nil {
		t.Fatal(err)
	}

	store := NewMessageStore()
	engine := NewSyncEngine(store, log, &fakeResponder{}, SyncEngineConfig{Persist: true}, testLogger())

	if err := engine.Open("c1"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer engine.Close()

	if got := engine.State(); got != ViewSynced {
		t.Errorf("state: got %s, want %s", got, ViewSynced)
	}
	if got := engine.Conversation(); got == nil || got.Title != "Greetings" {
		t.Errorf("conversation snapshot missing or wrong: %+v", got)
	}
	msgs := engine.Messages()
	if len(msgs) != 1 || msgs[0].Text != "hello there" {
		t.Errorf("unexpected messages: %+v", msgs)
	}
}

func TestSyncEngine_OpenUnknownConversation(t *testing.T) {
	engine := NewSyncEngine(NewMessageStore(), persistence.NewMemoryChatLog(),
		&fakeResponder{}, SyncEngineConfig{Persist: true}, testLogger())

	if err := engine.Open("missing"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer engine.Close()

	if got := engine.State(); got != ViewNotFound {
		t.Errorf("state: got %s, want %s", got, ViewNotFound)
	}
	if !errors.Is(engine.Err(), entity.ErrConversationNotFound) {
		t.Errorf("Err: got %v", engine.Err())
	}
}

func TestSyncEngine_OpenEmptyIDRejected(t *testing.T) {
	engine := NewSyncEngine(NewMessageStore(), persistence.NewMemoryChatLog(),
		&fakeResponder{}, SyncEngineConfig{}, testLogger())

	if err := engine.Open(""); !errors.Is(err, entity.ErrInvalidConversationID) {
		t.Errorf("expected ErrInvalidConversationID, got %v", err)
	}
}

func TestSyncEngine_OpenSubscribeFailure(t *testing.T) {
	log := newScriptedLog()
	log.subscribeErr = errors.New("feed down")
	log.conversations["c1"] = entity.NewConversation("c1", "u1", "t")

	engine := NewSyncEngine(NewMessageStore(), log, &fakeResponder{},
		SyncEngineConfig{Persist: true}, testLogger())

	if err := engine.Open("c1"); err == nil {
		t.Fatal("expected subscribe error")
	}
	if got := engine.State(); got != ViewError {
		t.Errorf("state: got %s, want %s", got, ViewError)
	}
}

func TestSyncEngine_OpenTearsDownPreviousView(t *testing.T) {
	log := newScriptedLog()
	log.conversations["c1"] = entity.NewConversation("c1", "u1", "")
	log.conversations["c2"] = entity.NewConversation("c2", "u1", "")

	engine := NewSyncEngine(NewMessageStore(), log, &fakeResponder{},
		SyncEngineConfig{Persist: true}, testLogger())

	if err := engine.Open("c1"); err != nil {
		t.Fatal(err)
	}
	if err := engine.Open("c2"); err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	log.mu.Lock()
	msgCancels, metaCancels := log.msgCancels, log.metaCancels
	log.mu.Unlock()
	if msgCancels != 1 || metaCancels != 1 {
		t.Errorf("previous subscriptions not cancelled: msg=%d meta=%d", msgCancels, metaCancels)
	}
}

func TestSyncEngine_CloseUnsubscribes(t *testing.T) {
	log := newScriptedLog()
	log.conversations["c1"] = entity.NewConversation("c1", "u1", "")

	engine := NewSyncEngine(NewMessageStore(), log, &fakeResponder{},
		SyncEngineConfig{Persist: true}, testLogger())
	if err := engine.Open("c1"); err != nil {
		t.Fatal(err)
	}

	engine.Close()

	log.mu.Lock()
	msgCancels, metaCancels := log.msgCancels, log.metaCancels
	log.mu.Unlock()
	if msgCancels != 1 || metaCancels != 1 {
		t.Errorf("subscriptions not cancelled: msg=%d meta=%d", msgCancels, metaCancels)
	}
	if got := engine.State(); got != ViewIdle {
		t.Errorf("state after close: got %s, want %s", got, ViewIdle)
	}
}

func TestSyncEngine_EphemeralSkipsMetadataSubscription(t *testing.T) {
	log := newScriptedLog()
	engine := NewSyncEngine(NewMessageStore(), log, &fakeResponder{reply: "ok"},
		SyncEngineConfig{Persist: false}, testLogger())

	if err := engine.Open("scratch"); err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	// Ephemeral views never reach the log on send either.
	if _, err := engine.Send(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(engine.Messages()) == 2 }, "bot reply")

	log.mu.Lock()
	defer log.mu.Unlock()
	if log.appendCalls != 0 || log.saveCalls != 0 {
		t.Errorf("ephemeral view wrote to the log: appends=%d saves=%d", log.appendCalls, log.saveCalls)
	}
}

// === Send / bot round trip ===

func TestSyncEngine_SendHappyPath(t *testing.T) {
	log := persistence.NewMemoryChatLog()
	ctx := context.Background()
	if err := log.SaveConversation(ctx, entity.NewConversation("c1", "u1", "chat")); err != nil {
		t.Fatal(err)
	}

	responder := &fakeResponder{reply: "Hi! How can I help?"}
	engine := NewSyncEngine(NewMessageStore(), log, responder,
		SyncEngineConfig{Persist: true, UserID: "u1"}, testLogger())
	if err := engine.Open("c1"); err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	sent, err := engine.Send(ctx, "Hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sent == nil || sent.Text != "Hello" {
		t.Fatalf("unexpected sent message: %+v", sent)
	}

	waitFor(t, func() bool {
		msgs := engine.Messages()
		return len(msgs) == 2 && msgs[1].IsFromBot()
	}, "bot reply to land")

	msgs := engine.Messages()
	if msgs[0].Text != "Hello" || !msgs[0].IsFromUser() {
		t.Errorf("first message wrong: %+v", msgs[0])
	}
	if msgs[1].Text != "Hi! How can I help?" || !msgs[1].Generated {
		t.Errorf("bot message wrong: %+v", msgs[1])
	}

	// Both messages reached the log too.
	page, err := log.MessagesBefore(ctx, "c1", repository.Cursor{CreatedAt: time.Now().Add(time.Hour)}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 {
		t.Errorf("expected 2 persisted messages, got %d", len(page))
	}

	waitFor(t, func() bool { return !engine.AwaitingBot() }, "awaiting flag to clear")
}

func TestSyncEngine_SendWhitespaceIsNoop(t *testing.T) {
	log := newScriptedLog()
	log.conversations["c1"] = entity.NewConversation("c1", "u1", "t")
	responder := &fakeResponder{reply: "nope"}
	engine := NewSyncEngine(NewMessageStore(), log, responder,
		SyncEngineConfig{Persist: true}, testLogger())
	if err := engine.Open("c1"); err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	for _, input := range []string{"", "   ", "\n\t ", "  \r\n"} {
		sent, err := engine.Send(context.Background(), input)
		if err != nil {
			t.Errorf("Send(%q): %v", input, err)
		}
		if sent != nil {
			t.Errorf("Send(%q) produced a message", input)
		}
	}

	if got := len(engine.Messages()); got != 0 {
		t.Errorf("store mutated by whitespace send: %d messages", got)
	}
	log.mu.Lock()
	appends := log.appendCalls
	log.mu.Unlock()
	if appends != 0 {
		t.Errorf("log touched by whitespace send: %d appends", appends)
	}
	if responder.callCount() != 0 {
		t.Error("responder invoked for whitespace send")
	}
}

func TestSyncEngine_ResponderFailureAppendsErrorMessage(t *testing.T) {
	log := persistence.NewMemoryChatLog()
	ctx := context.Background()
	if err := log.SaveConversation(ctx, entity.NewConversation("c1", "u1", "t")); err != nil {
		t.Fatal(err)
	}

	responder := &fakeResponder{err: errors.New("upstream 500")}
	engine := NewSyncEngine(NewMessageStore(), log, responder,
		SyncEngineConfig{Persist: true}, testLogger())
	if err := engine.Open("c1"); err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	if _, err := engine.Send(ctx, "does this work?"); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return len(engine.Messages()) == 2 }, "error message to land")

	msgs := engine.Messages()
	last := msgs[len(msgs)-1]
	if last.Text != BotErrorText || !last.IsFromBot() {
		t.Errorf("expected synthetic %q bot message, got %+v", BotErrorText, last)
	}

	waitFor(t, func() bool { return !engine.AwaitingBot() }, "awaiting flag to clear")
}

func TestSyncEngine_AwaitingFlagLifecycle(t *testing.T) {
	log := persistence.NewMemoryChatLog()
	ctx := context.Background()
	if err := log.SaveConversation(ctx, entity.NewConversation("c1", "u1", "t")); err != nil {
		t.Fatal(err)
	}

	gate := make(chan struct{})
	responder := &fakeResponder{reply: "slow reply", gate: gate}
	engine := NewSyncEngine(NewMessageStore(), log, responder,
		SyncEngineConfig{Persist: true}, testLogger())
	if err := engine.Open("c1"); err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	if _, err := engine.Send(ctx, "take your time"); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return engine.AwaitingBot() }, "awaiting flag to set")
	close(gate)
	waitFor(t, func() bool { return !engine.AwaitingBot() }, "awaiting flag to clear")
}

func TestSyncEngine_DuplicateEchoUnified(t *testing.T) {
	log := persistence.NewMemoryChatLog()
	ctx := context.Background()
	if err := log.SaveConversation(ctx, entity.NewConversation("c1", "u1", "t")); err != nil {
		t.Fatal(err)
	}

	engine := NewSyncEngine(NewMessageStore(), log, &fakeResponder{reply: "ack"},
		SyncEngineConfig{Persist: true}, testLogger())
	if err := engine.Open("c1"); err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	// The memory log echoes every append back synchronously, so the
	// optimistic copy and its echo race through the same store.
	if _, err := engine.Send(ctx, "once only"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return !engine.AwaitingBot() && len(engine.Messages()) >= 2 }, "round trip")

	count := 0
	for _, m := range engine.Messages() {
		if m.Text == "once only" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("user message rendered %d times, want exactly 1", count)
	}
}

func TestSyncEngine_SendPersistFailureMarksMessage(t *testing.T) {
	log := newScriptedLog()
	log.conversations["c1"] = entity.NewConversation("c1", "u1", "t")
	log.appendErr = errors.New("disk full")

	gate := make(chan struct{})
	defer close(gate)
	engine := NewSyncEngine(NewMessageStore(), log, &fakeResponder{reply: "x", gate: gate},
		SyncEngineConfig{Persist: true}, testLogger())
	if err := engine.Open("c1"); err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	sent, err := engine.Send(context.Background(), "save me")
	if err != nil {
		t.Fatal(err)
	}

	msgs := engine.Messages()
	if len(msgs) != 1 || msgs[0].ID != sent.ID {
		t.Fatalf("unexpected store contents: %+v", msgs)
	}
	if !msgs[0].Failed {
		t.Error("message should carry the failed-send marker")
	}
}

func TestSyncEngine_FirstSendCreatesMetadataAndTitle(t *testing.T) {
	log := persistence.NewMemoryChatLog()
	ctx := context.Background()
	if err := log.SaveConversation(ctx, entity.NewConversation("c1", "u1", "")); err != nil {
		t.Fatal(err)
	}

	responder := &fakeResponder{reply: "sure", title: "Trip Planning"}
	engine := NewSyncEngine(NewMessageStore(), log, responder,
		SyncEngineConfig{Persist: true, UserID: "u1"}, testLogger())
	if err := engine.Open("c1"); err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	if _, err := engine.Send(ctx, "plan a trip to Kyoto"); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		conv := engine.Conversation()
		return conv != nil && conv.Title == "Trip Planning"
	}, "generated title to land")

	responder.mu.Lock()
	wantTitle := responder.lastReq.WantTitle
	responder.mu.Unlock()
	if !wantTitle {
		t.Error("first send on an untitled conversation should request a title")
	}

	conv := engine.Conversation()
	if conv.LastMessage == nil {
		t.Fatal("last-message summary not updated")
	}
}

// === Stale continuations ===

func TestSyncEngine_StaleBotReplyDiscarded(t *testing.T) {
	log := persistence.NewMemoryChatLog()
	ctx := context.Background()
	if err := log.SaveConversation(ctx, entity.NewConversation("c1", "u1", "t")); err != nil {
		t.Fatal(err)
	}
	if err := log.SaveConversation(ctx, entity.NewConversation("c2", "u1", "t")); err != nil {
		t.Fatal(err)
	}

	gate := make(chan struct{})
	engine := NewSyncEngine(NewMessageStore(), log, &fakeResponder{reply: "late", gate: gate},
		SyncEngineConfig{Persist: true}, testLogger())
	if err := engine.Open("c1"); err != nil {
		t.Fatal(err)
	}

	if _, err := engine.Send(ctx, "slow question"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return engine.AwaitingBot() }, "round trip to start")

	// Navigate away while the responder is still thinking.
	if err := engine.Open("c2"); err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	close(gate)
	waitFor(t, func() bool { return !engine.AwaitingBot() }, "round trip to finish")

	// The late reply must not surface in either view.
	for _, m := range engine.Messages() {
		if m.Text == "late" {
			t.Error("stale bot reply applied to the new view")
		}
	}
	page, err := log.MessagesBefore(ctx, "c1", repository.Cursor{CreatedAt: time.Now().Add(time.Hour)}, 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range page {
		if m.Text == "late" {
			t.Error("stale bot reply persisted after navigation")
		}
	}
}

// === LoadOlder / pagination ===

func TestSyncEngine_LoadOlderPages(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	log := newScriptedLog()
	log.conversations["c1"] = entity.NewConversation("c1", "u1", "t")
	log.initial["c1"] = messagesAt("c1", "new", base.Add(time.Hour), 3)
	log.pages = [][]*entity.Message{
		messagesAt("c1", "mid", base.Add(30*time.Minute), 2),
		messagesAt("c1", "old", base, 2),
	}

	engine := NewSyncEngine(NewMessageStore(), log, &fakeResponder{},
		SyncEngineConfig{Persist: true, PageSize: 2}, testLogger())
	if err := engine.Open("c1"); err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	ctx := context.Background()

	page, err := engine.LoadOlder(ctx)
	if err != nil || len(page) != 2 {
		t.Fatalf("first LoadOlder: %v, %d messages", err, len(page))
	}
	page, err = engine.LoadOlder(ctx)
	if err != nil || len(page) != 2 {
		t.Fatalf("second LoadOlder: %v, %d messages", err, len(page))
	}

	want := []string{"old-0", "old-1", "mid-0", "mid-1", "new-0", "new-1", "new-2"}
	got := engine.Messages()
	if len(got) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(got))
	}
	for i, w := range want {
		if got[i].Text != w {
			t.Errorf("position %d: got %q, want %q", i, got[i].Text, w)
		}
	}
	if !engine.HasMore() {
		// Pages are exhausted but the engine cannot know until an empty
		// fetch comes back.
		t.Error("hasMore should still be true before an empty page")
	}

	// Third fetch comes back empty: exhaustion is permanent.
	if page, err := engine.LoadOlder(ctx); err != nil || page != nil {
		t.Fatalf("third LoadOlder: %v, %v", err, page)
	}
	if engine.HasMore() {
		t.Error("hasMore should be false after an empty page")
	}

	// Even if the log has data again, the frozen view never re-fetches.
	log.mu.Lock()
	log.pages = [][]*entity.Message{messagesAt("c1", "ghost", base, 1)}
	fetches := log.beforeCalls
	log.mu.Unlock()

	if page, err := engine.LoadOlder(ctx); err != nil || page != nil {
		t.Fatalf("post-exhaustion LoadOlder: %v, %v", err, page)
	}
	log.mu.Lock()
	after := log.beforeCalls
	log.mu.Unlock()
	if after != fetches {
		t.Error("exhausted view issued another fetch")
	}
}

func TestSyncEngine_LoadOlderErrorTreatedAsEmpty(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	log := newScriptedLog()
	log.conversations["c1"] = entity.NewConversation("c1", "u1", "t")
	log.initial["c1"] = messagesAt("c1", "new", base, 3)
	log.pagesErr = errors.New("query timeout")

	engine := NewSyncEngine(NewMessageStore(), log, &fakeResponder{},
		SyncEngineConfig{Persist: true}, testLogger())
	if err := engine.Open("c1"); err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	page, err := engine.LoadOlder(context.Background())
	if err != nil || page != nil {
		t.Fatalf("LoadOlder after fetch failure: %v, %v", err, page)
	}
	if engine.HasMore() {
		t.Error("fetch failure should freeze pagination like an empty page")
	}
	if got := len(engine.Messages()); got != 3 {
		t.Errorf("list mutated by failed fetch: %d messages", got)
	}
}

func TestSyncEngine_LoadOlderNoCursorIsNoop(t *testing.T) {
	log := newScriptedLog()
	log.conversations["c1"] = entity.NewConversation("c1", "u1", "t")
	// Empty initial snapshot: no cursor yet.

	engine := NewSyncEngine(NewMessageStore(), log, &fakeResponder{},
		SyncEngineConfig{Persist: true}, testLogger())
	if err := engine.Open("c1"); err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	page, err := engine.LoadOlder(context.Background())
	if err != nil || page != nil {
		t.Fatalf("LoadOlder without cursor: %v, %v", err, page)
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	if log.beforeCalls != 0 {
		t.Error("no fetch should be issued before the first snapshot")
	}
}
