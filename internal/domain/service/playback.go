package service

import "sync"

// Playback tracks the single message currently being read aloud. Audio
// output is one shared resource, so at most one message id is speaking
// process-wide and a new request silently displaces the previous one
// (last-request-wins).
type Playback struct {
	mu      sync.Mutex
	current string
	onStop  func(messageID string)
}

// NewPlayback creates an idle playback tracker. onStop, if non-nil, is
// invoked for the displaced message whenever playback moves to another one.
func NewPlayback(onStop func(messageID string)) *Playback {
	return &Playback{onStop: onStop}
}

// Start claims playback for messageID, stopping whatever was speaking.
// Starting the already-current message is a no-op.
func (p *Playback) Start(messageID string) {
	p.mu.Lock()
	previous := p.current
	if previous == messageID {
		p.mu.Unlock()
		return
	}
	p.current = messageID
	onStop := p.onStop
	p.mu.Unlock()

	if previous != "" && onStop != nil {
		onStop(previous)
	}
}

// Stop releases playback if messageID currently holds it.
func (p *Playback) Stop(messageID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == messageID {
		p.current = ""
	}
}

// Current returns the speaking message id, empty when idle.
func (p *Playback) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}
