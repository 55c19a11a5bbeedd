// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"sync/atomic"
	"time"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// FEEDBACK TYPE
// =============================================================================

// Feedback is the user's rating of an assistant message.
type Feedback string

const (
	FeedbackNone     Feedback = ""
	FeedbackPositive Feedback = "positive"
	FeedbackNegative Feedback = "negative"
)

// IsSet returns true if a rating has been given.
func (f Feedback) IsSet() bool {
	return f == FeedbackPositive || f == FeedbackNegative
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single turn in a conversation.
//
// The ID is assigned by the server. Messages created locally before the
// server has confirmed them carry a negative sentinel ID (see NextSentinelID);
// a positive ID never changes once assigned.
type Message struct {
	// Identity
	ID        int64     `json:"id"`
	ConvID    string    `json:"conv_id,omitempty"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`

	// Content
	Content string `json:"content"`

	// Generation metrics (assistant messages)
	Tokens          int     `json:"tokens,omitempty"`
	TokensPerSecond float64 `json:"tokens_per_second,omitempty"`
	Model           string  `json:"model,omitempty"`
	Provider        string  `json:"provider,omitempty"`

	// User rating (assistant messages)
	Feedback     Feedback `json:"feedback,omitempty"`
	FeedbackText string   `json:"feedback_text,omitempty"`

	// Retrieval context attached to the prompt (user messages)
	ContextDocumentIDs []string `json:"context_document_ids,omitempty"`

	// Local-only state, never persisted
	Streaming   bool `json:"-"`
	Interrupted bool `json:"-"`
}

// sentinelCounter issues strictly negative IDs for optimistic messages.
// Negative IDs can never collide with server-assigned IDs, and tests can
// assert "placeholder" by sign alone.
var sentinelCounter atomic.Int64

// NextSentinelID returns the next negative sentinel message ID (-1, -2, ...).
func NextSentinelID() int64 {
	return -sentinelCounter.Add(1)
}

// IsSentinelID reports whether id is a local placeholder ID.
func IsSentinelID(id int64) bool {
	return id < 0
}

// NewUserMessage creates an optimistic user message with a sentinel ID.
func NewUserMessage(convID, content string, contextDocIDs []string) *Message {
	return &Message{
		ID:                 NextSentinelID(),
		ConvID:             convID,
		Role:               RoleUser,
		Content:            content,
		CreatedAt:          time.Now(),
		ContextDocumentIDs: contextDocIDs,
	}
}

// NewAssistantPlaceholder creates an empty streaming assistant message with
// a sentinel ID. The stream writes into it until finalization.
func NewAssistantPlaceholder(convID string) *Message {
	return &Message{
		ID:        NextSentinelID(),
		ConvID:    convID,
		Role:      RoleAssistant,
		CreatedAt: time.Now(),
		Streaming: true,
	}
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// IsPlaceholder reports whether the message still carries a sentinel ID.
func (m *Message) IsPlaceholder() bool {
	return IsSentinelID(m.ID)
}

// IsEmpty returns true if the message has no content.
func (m *Message) IsEmpty() bool {
	return len(m.Content) == 0
}

// Preview returns a truncated single-line preview of the message content.
// Uses rune-based truncation to handle Unicode correctly.
func (m *Message) Preview(maxLen int) string {
	runes := []rune(m.Content)
	if len(runes) <= maxLen {
		return m.Content
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// FormatStats returns a formatted metrics line for an assistant message,
// e.g. "128 tokens | 51.2 tok/s | llama3 (local)".
func (m *Message) FormatStats() string {
	if m.Role != RoleAssistant || m.Tokens == 0 {
		return ""
	}

	s := formatInt(m.Tokens) + " tokens"
	if m.TokensPerSecond > 0 {
		s += " | " + formatFloat64(m.TokensPerSecond) + " tok/s"
	}
	if m.Model != "" {
		s += " | " + m.Model
		if m.Provider != "" {
			s += " (" + m.Provider + ")"
		}
	}
	return s
}

// Clone returns a copy of the message. Slices are copied so the clone can
// be mutated independently.
func (m *Message) Clone() *Message {
	clone := *m
	if m.ContextDocumentIDs != nil {
		clone.ContextDocumentIDs = append([]string(nil), m.ContextDocumentIDs...)
	}
	return &clone
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// formatInt formats a non-negative integer without using fmt.
func formatInt(n int) string {
	if n == 0 {
		return "0"
	}

	negative := n < 0
	if negative {
		n = -n
	}

	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}

	if negative {
		return "-" + string(digits)
	}
	return string(digits)
}

// formatFloat64 formats a float with one decimal place, truncating.
func formatFloat64(f float64) string {
	if f != f { // NaN
		return "NaN"
	}

	whole := int(f)
	absF := f
	if f < 0 {
		absF = -f
	}
	absWhole := whole
	if whole < 0 {
		absWhole = -whole
	}
	frac := int((absF - float64(absWhole)) * 10)

	return formatInt(whole) + "." + formatInt(frac)
}
