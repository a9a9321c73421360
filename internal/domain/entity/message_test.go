package entity

import (
	"errors"
	"testing"
)

func TestNewUserMessage(t *testing.T) {
	m, err := NewUserMessage("c1", "  hello  ")
	if err != nil {
		t.Fatal(err)
	}
	if m.Text != "hello" {
		t.Errorf("text not trimmed: %q", m.Text)
	}
	if m.Sender != SenderUser || m.Generated {
		t.Errorf("wrong authorship: %+v", m)
	}
	if m.ID == "" || m.Timestamp == 0 || m.CreatedAt.IsZero() {
		t.Errorf("identity/time fields not stamped: %+v", m)
	}
}

func TestNewUserMessage_Validation(t *testing.T) {
	if _, err := NewUserMessage("", "hi"); !errors.Is(err, ErrInvalidConversationID) {
		t.Errorf("empty conversation: got %v", err)
	}
	for _, text := range []string{"", "   ", "\n\t"} {
		if _, err := NewUserMessage("c1", text); !errors.Is(err, ErrEmptyMessage) {
			t.Errorf("text %q: got %v", text, err)
		}
	}
}

func TestNewBotMessage(t *testing.T) {
	m, err := NewBotMessage("c1", "Error fetching response")
	if err != nil {
		t.Fatal(err)
	}
	if m.Sender != SenderBot || !m.Generated {
		t.Errorf("bot message shape wrong: %+v", m)
	}
	if !m.IsFromBot() || m.IsFromUser() {
		t.Error("sender predicates inconsistent")
	}
}

func TestMessage_Equivalent(t *testing.T) {
	a, _ := NewUserMessage("c1", "same text")
	b := *a
	b.ID = "different-id"
	b.CreatedAt = a.CreatedAt.Add(1)

	if !a.Equivalent(&b) {
		t.Error("same (timestamp, sender, text) must be equivalent")
	}

	c := b
	c.Sender = SenderBot
	if a.Equivalent(&c) {
		t.Error("different sender must not be equivalent")
	}
}
