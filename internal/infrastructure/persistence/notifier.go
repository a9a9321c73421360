package persistence

import (
	"sync"

	"go.uber.org/zap"
)

// changeKind distinguishes the two subscribable record types of a
// conversation.
type changeKind string

const (
	changeMessages     changeKind = "messages"
	changeConversation changeKind = "conversation"
)

type change struct {
	kind           changeKind
	conversationID string
}

// notifier fans change notifications out to snapshot subscribers. Writes
// publish non-blocking onto a buffered channel; a single dispatch goroutine
// invokes the registered handlers, so subscribers never run on a writer's
// call stack.
type notifier struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[change]map[int]func()
	events   chan change
	closed   bool
	wg       sync.WaitGroup
	logger   *zap.Logger
}

func newNotifier(logger *zap.Logger, bufferSize int) *notifier {
	n := &notifier{
		handlers: make(map[change]map[int]func()),
		events:   make(chan change, bufferSize),
		logger:   logger,
	}

	n.wg.Add(1)
	go n.dispatch()

	return n
}

// subscribe registers fn for one record of one conversation and returns a
// cancel func. fn is invoked once per observed change, not per write: the
// handler is expected to re-read current state.
func (n *notifier) subscribe(kind changeKind, conversationID string, fn func()) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	key := change{kind: kind, conversationID: conversationID}
	if n.handlers[key] == nil {
		n.handlers[key] = make(map[int]func())
	}
	id := n.nextID
	n.nextID++
	n.handlers[key][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.handlers[key], id)
			if len(n.handlers[key]) == 0 {
				delete(n.handlers, key)
			}
		})
	}
}

// notify publishes a change. Non-blocking: when the buffer is full the
// change is dropped with a warning — subscribers re-read full snapshots, so
// a dropped event only delays convergence until the next write.
func (n *notifier) notify(kind changeKind, conversationID string) {
	n.mu.RLock()
	if n.closed {
		n.mu.RUnlock()
		return
	}
	n.mu.RUnlock()

	select {
	case n.events <- change{kind: kind, conversationID: conversationID}:
	default:
		n.logger.Warn("Change buffer full, dropping notification",
			zap.String("kind", string(kind)),
			zap.String("conversation_id", conversationID),
		)
	}
}

// close stops dispatching after draining queued changes.
func (n *notifier) close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.events)
	n.mu.Unlock()

	n.wg.Wait()
}

func (n *notifier) dispatch() {
	defer n.wg.Done()

	for c := range n.events {
		n.mu.RLock()
		fns := make([]func(), 0, len(n.handlers[c]))
		for _, fn := range n.handlers[c] {
			fns = append(fns, fn)
		}
		n.mu.RUnlock()

		for _, fn := range fns {
			n.invoke(c, fn)
		}
	}
}

func (n *notifier) invoke(c change, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("Subscriber panicked",
				zap.String("kind", string(c.kind)),
				zap.String("conversation_id", c.conversationID),
				zap.Any("panic", r),
			)
		}
	}()
	fn()
}
