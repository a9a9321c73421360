package entity

import (
	"testing"
	"time"
)

func TestNewConversation(t *testing.T) {
	c := NewConversation("", "u1", "My chat")
	if c.ID == "" {
		t.Error("id should be generated when empty")
	}
	if c.CreatedAt.IsZero() || c.UpdatedAt.IsZero() {
		t.Error("timestamps not stamped")
	}

	named := NewConversation("fixed-id", "u1", "")
	if named.ID != "fixed-id" {
		t.Errorf("explicit id not kept: %q", named.ID)
	}
}

func TestConversation_Touch(t *testing.T) {
	c := NewConversation("c1", "u1", "t")
	before := c.UpdatedAt
	time.Sleep(time.Millisecond)

	m, _ := NewBotMessage("c1", "latest reply")
	c.Touch(m)

	if !c.UpdatedAt.After(before) {
		t.Error("UpdatedAt not advanced")
	}
	if c.LastMessage == nil || c.LastMessage.Text != "latest reply" || c.LastMessage.Sender != SenderBot {
		t.Errorf("last-message summary wrong: %+v", c.LastMessage)
	}
}
