// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"
)

// DefaultTitle is the title of a conversation before the first message
// arrives. The first user message replaces it with a derived title.
const DefaultTitle = "New Conversation"

// TitleRuneLimit is the number of runes taken from the first user message
// when deriving a conversation title.
const TitleRuneLimit = 30

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds a chat conversation with history and metadata.
// The server is the system of record; this is the client-side mirror.
type Conversation struct {
	// Identity
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Tag IDs attached to the conversation
	Tags []string `json:"tags,omitempty"`

	// Messages, in server order
	Messages []*Message `json:"messages"`
}

// =============================================================================
// MESSAGE ACCESS
// =============================================================================

// LastMessage returns the most recent message, or nil if empty.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// MessageByID returns a message by its server ID, or nil.
func (c *Conversation) MessageByID(id int64) *Message {
	for _, msg := range c.Messages {
		if msg.ID == id {
			return msg
		}
	}
	return nil
}

// MessageCount returns the number of messages.
func (c *Conversation) MessageCount() int {
	return len(c.Messages)
}

// IsEmpty returns true if there are no messages.
func (c *Conversation) IsEmpty() bool {
	return len(c.Messages) == 0
}

// HasPlaceholderTail reports whether the message list ends with a user
// message immediately followed by a streaming assistant placeholder. This is
// the shape a live stream writes into.
func (c *Conversation) HasPlaceholderTail() bool {
	n := len(c.Messages)
	if n < 2 {
		return false
	}
	user, assistant := c.Messages[n-2], c.Messages[n-1]
	return user.Role == RoleUser && assistant.Role == RoleAssistant && assistant.IsPlaceholder()
}

// =============================================================================
// TITLE MANAGEMENT
// =============================================================================

// GetTitle returns the conversation title or the default.
func (c *Conversation) GetTitle() string {
	if c.Title != "" {
		return c.Title
	}
	return DefaultTitle
}

// HasDefaultTitle reports whether the title is still the default and should
// be replaced with one derived from the first user message.
func (c *Conversation) HasDefaultTitle() bool {
	return c.Title == "" || c.Title == DefaultTitle
}

// DeriveTitle builds a conversation title from the first prompt: the first
// TitleRuneLimit runes, with an ellipsis appended when truncated.
func DeriveTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= TitleRuneLimit {
		return content
	}
	return string(runes[:TitleRuneLimit]) + "..."
}

// =============================================================================
// SUMMARIES AND TAGS
// =============================================================================

// ConversationSummary is the lightweight listing form of a conversation,
// without its messages.
type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Tags         []string  `json:"tags,omitempty"`
}

// Clone returns a copy with an independent tag slice.
func (s ConversationSummary) Clone() ConversationSummary {
	clone := s
	if s.Tags != nil {
		clone.Tags = append([]string(nil), s.Tags...)
	}
	return clone
}

// HasAnyTag reports whether the summary carries at least one of the given
// tag IDs (OR semantics). An empty filter matches everything.
func (s ConversationSummary) HasAnyTag(tagIDs []string) bool {
	if len(tagIDs) == 0 {
		return true
	}
	for _, want := range tagIDs {
		for _, have := range s.Tags {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Summary returns the listing form of the conversation.
func (c *Conversation) Summary() ConversationSummary {
	return ConversationSummary{
		ID:           c.ID,
		Title:        c.GetTitle(),
		UpdatedAt:    c.UpdatedAt,
		MessageCount: len(c.Messages),
		Tags:         append([]string(nil), c.Tags...),
	}
}

// Tag is a user-defined label for grouping conversations.
type Tag struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// =============================================================================
// CLONING
// =============================================================================

// Clone creates a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	clone := &Conversation{
		ID:        c.ID,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
		Messages:  make([]*Message, len(c.Messages)),
	}
	if c.Tags != nil {
		clone.Tags = append([]string(nil), c.Tags...)
	}
	for i, msg := range c.Messages {
		clone.Messages[i] = msg.Clone()
	}
	return clone
}
