package service

import "sync"

// DraftStore retains per-conversation input drafts across navigation. It is
// an explicit injectable container rather than a package global; the view
// layer owns one instance per user session.
type DraftStore struct {
	mu     sync.RWMutex
	drafts map[string]string
}

// NewDraftStore creates an empty draft container.
func NewDraftStore() *DraftStore {
	return &DraftStore{drafts: make(map[string]string)}
}

// Set stores the draft text for a conversation. Empty text clears it.
func (d *DraftStore) Set(conversationID, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if text == "" {
		delete(d.drafts, conversationID)
		return
	}
	d.drafts[conversationID] = text
}

// Get returns the retained draft, empty if none.
func (d *DraftStore) Get(conversationID string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.drafts[conversationID]
}
