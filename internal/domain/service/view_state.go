package service

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ViewState represents the discrete states of one conversation view's
// synchronization lifecycle.
type ViewState string

const (
	ViewIdle         ViewState = "idle"         // No conversation opened yet
	ViewSubscribing  ViewState = "subscribing"  // Subscriptions being established
	ViewSynced       ViewState = "synced"       // Live snapshots flowing
	ViewError        ViewState = "error"        // Subscription failed (recoverable by re-opening)
	ViewNotFound     ViewState = "not_found"    // Conversation record does not exist
	ViewUnsubscribed ViewState = "unsubscribed" // Navigated away, subscriptions torn down
)

// validViewTransitions defines the allowed transitions.
// Key = from state, value = set of allowed target states.
var validViewTransitions = map[ViewState]map[ViewState]bool{
	ViewIdle: {
		ViewSubscribing: true,
	},
	ViewSubscribing: {
		ViewSynced:       true,
		ViewError:        true,
		ViewNotFound:     true,
		ViewUnsubscribed: true,
	},
	ViewSynced: {
		ViewError:        true,
		ViewNotFound:     true,
		ViewUnsubscribed: true,
	},
	ViewError: {
		ViewUnsubscribed: true,
	},
	ViewNotFound: {
		ViewUnsubscribed: true,
	},
	// Terminal — a new view session starts over from Idle.
	ViewUnsubscribed: {},
}

// viewStateMachine tracks one view session's state. Thread-safe.
type viewStateMachine struct {
	mu     sync.RWMutex
	state  ViewState
	logger *zap.Logger
}

func newViewStateMachine(logger *zap.Logger) *viewStateMachine {
	return &viewStateMachine{
		state:  ViewIdle,
		logger: logger,
	}
}

// State returns the current state.
func (sm *viewStateMachine) State() ViewState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// Transition moves to the target state, rejecting transitions the lifecycle
// does not allow.
func (sm *viewStateMachine) Transition(to ViewState) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.state == to {
		return nil
	}
	if !validViewTransitions[sm.state][to] {
		return fmt.Errorf("invalid view transition: %s -> %s", sm.state, to)
	}

	sm.logger.Debug("View state transition",
		zap.String("from", string(sm.state)),
		zap.String("to", string(to)),
	)
	sm.state = to
	return nil
}

// IsTerminal reports whether the session is finished.
func (sm *viewStateMachine) IsTerminal() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(validViewTransitions[sm.state]) == 0
}
