// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"testing"
)

// =============================================================================
// SENTINEL ID TESTS
// =============================================================================

func TestNextSentinelIDIsNegativeAndUnique(t *testing.T) {
	seen := make(map[int64]bool)
	for i := 0; i < 100; i++ {
		id := NextSentinelID()
		if id >= 0 {
			t.Fatalf("sentinel id %d is not negative", id)
		}
		if seen[id] {
			t.Fatalf("sentinel id %d issued twice", id)
		}
		seen[id] = true
	}
}

func TestNextSentinelIDConcurrent(t *testing.T) {
	const goroutines = 8
	const perGoroutine = 200

	results := make(chan int64, goroutines*perGoroutine)
	done := make(chan bool, goroutines)

	for g := 0; g < goroutines; g++ {
		go func() {
			for i := 0; i < perGoroutine; i++ {
				results <- NextSentinelID()
			}
			done <- true
		}()
	}
	for g := 0; g < goroutines; g++ {
		<-done
	}
	close(results)

	seen := make(map[int64]bool)
	for id := range results {
		if seen[id] {
			t.Fatalf("duplicate sentinel id %d under concurrency", id)
		}
		seen[id] = true
	}
}

func TestIsSentinelID(t *testing.T) {
	if !IsSentinelID(-1) {
		t.Error("-1 should be a sentinel id")
	}
	if IsSentinelID(42) {
		t.Error("42 should not be a sentinel id")
	}
	if IsSentinelID(0) {
		t.Error("0 should not be a sentinel id")
	}
}

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestNewUserMessage(t *testing.T) {
	msg := NewUserMessage("conv1", "hello", []string{"doc1", "doc2"})

	if msg.Role != RoleUser {
		t.Errorf("role = %q, want user", msg.Role)
	}
	if !msg.IsPlaceholder() {
		t.Error("new user message should carry a sentinel id")
	}
	if msg.Content != "hello" {
		t.Errorf("content = %q", msg.Content)
	}
	if len(msg.ContextDocumentIDs) != 2 {
		t.Errorf("context docs = %v", msg.ContextDocumentIDs)
	}
	if msg.CreatedAt.IsZero() {
		t.Error("created at not set")
	}
}

func TestNewAssistantPlaceholder(t *testing.T) {
	msg := NewAssistantPlaceholder("conv1")

	if msg.Role != RoleAssistant {
		t.Errorf("role = %q, want assistant", msg.Role)
	}
	if !msg.IsPlaceholder() {
		t.Error("placeholder should carry a sentinel id")
	}
	if !msg.Streaming {
		t.Error("placeholder should be streaming")
	}
	if msg.Content != "" {
		t.Errorf("placeholder content = %q, want empty", msg.Content)
	}
}

func TestMessagePreview(t *testing.T) {
	msg := &Message{Content: "a long message that needs truncation"}
	preview := msg.Preview(10)
	if RuneLenForTest(preview) > 10 {
		t.Errorf("preview too long: %q", preview)
	}
	if !strings.HasSuffix(preview, "...") {
		t.Errorf("preview missing ellipsis: %q", preview)
	}

	short := &Message{Content: "short"}
	if short.Preview(10) != "short" {
		t.Errorf("short preview = %q", short.Preview(10))
	}
}

// RuneLenForTest avoids importing util into model tests.
func RuneLenForTest(s string) int { return len([]rune(s)) }

func TestMessageClone(t *testing.T) {
	msg := NewUserMessage("c1", "hi", []string{"d1"})
	clone := msg.Clone()

	clone.Content = "changed"
	clone.ContextDocumentIDs[0] = "d2"

	if msg.Content != "hi" {
		t.Error("clone mutation leaked into original content")
	}
	if msg.ContextDocumentIDs[0] != "d1" {
		t.Error("clone mutation leaked into original context docs")
	}
}

func TestFormatStats(t *testing.T) {
	msg := &Message{
		Role:            RoleAssistant,
		Tokens:          128,
		TokensPerSecond: 51.2,
		Model:           "llama3",
		Provider:        "local",
	}
	stats := msg.FormatStats()
	for _, want := range []string{"128 tokens", "51.2 tok/s", "llama3", "(local)"} {
		if !strings.Contains(stats, want) {
			t.Errorf("stats %q missing %q", stats, want)
		}
	}

	user := &Message{Role: RoleUser, Tokens: 5}
	if user.FormatStats() != "" {
		t.Error("user messages should have no stats line")
	}
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Hello", "Hello"},
		{"How do I deploy this to production tomorrow please", "How do I deploy this to produc..."},
		{strings.Repeat("x", 30), strings.Repeat("x", 30)},
		{strings.Repeat("x", 31), strings.Repeat("x", 30) + "..."},
		{"", ""},
	}
	for _, tt := range tests {
		if got := DeriveTitle(tt.input); got != tt.want {
			t.Errorf("DeriveTitle(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestDeriveTitleMultibyte(t *testing.T) {
	input := strings.Repeat("日", 40)
	got := DeriveTitle(input)
	if got != strings.Repeat("日", 30)+"..." {
		t.Errorf("DeriveTitle multibyte = %q", got)
	}
}

func TestHasPlaceholderTail(t *testing.T) {
	conv := &Conversation{ID: "c1"}
	if conv.HasPlaceholderTail() {
		t.Error("empty conversation has no placeholder tail")
	}

	conv.Messages = append(conv.Messages, NewUserMessage("c1", "hi", nil))
	if conv.HasPlaceholderTail() {
		t.Error("single user message is not a placeholder tail")
	}

	conv.Messages = append(conv.Messages, NewAssistantPlaceholder("c1"))
	if !conv.HasPlaceholderTail() {
		t.Error("user + placeholder should be a placeholder tail")
	}

	// A confirmed assistant message is not a placeholder tail.
	conv.Messages[1].ID = 42
	if conv.HasPlaceholderTail() {
		t.Error("confirmed assistant message should not count as placeholder")
	}
}

func TestConversationAccessors(t *testing.T) {
	conv := &Conversation{ID: "c1"}
	if conv.LastMessage() != nil {
		t.Error("LastMessage on empty conversation should be nil")
	}
	if conv.GetTitle() != DefaultTitle {
		t.Errorf("GetTitle = %q, want default", conv.GetTitle())
	}
	if !conv.HasDefaultTitle() {
		t.Error("empty title should count as default")
	}

	conv.Title = "Named"
	if conv.HasDefaultTitle() {
		t.Error("explicit title should not count as default")
	}

	conv.Messages = []*Message{
		{ID: 1, Role: RoleUser, Content: "q"},
		{ID: 2, Role: RoleAssistant, Content: "a"},
	}
	if conv.LastMessage().ID != 2 {
		t.Errorf("LastMessage id = %d", conv.LastMessage().ID)
	}
	if conv.MessageByID(1) == nil || conv.MessageByID(99) != nil {
		t.Error("MessageByID lookup incorrect")
	}
}

func TestConversationClone(t *testing.T) {
	conv := &Conversation{
		ID:    "c1",
		Title: "T",
		Tags:  []string{"t1"},
		Messages: []*Message{
			{ID: 1, Role: RoleUser, Content: "q"},
		},
	}
	clone := conv.Clone()
	clone.Messages[0].Content = "changed"
	clone.Tags[0] = "t2"
	clone.Title = "U"

	if conv.Messages[0].Content != "q" {
		t.Error("clone message mutation leaked")
	}
	if conv.Tags[0] != "t1" {
		t.Error("clone tag mutation leaked")
	}
	if conv.Title != "T" {
		t.Error("clone title mutation leaked")
	}
}

func TestSummaryHasAnyTag(t *testing.T) {
	s := ConversationSummary{ID: "c1", Tags: []string{"a", "b"}}

	if !s.HasAnyTag(nil) {
		t.Error("empty filter should match")
	}
	if !s.HasAnyTag([]string{"b", "z"}) {
		t.Error("intersecting filter should match")
	}
	if s.HasAnyTag([]string{"z"}) {
		t.Error("disjoint filter should not match")
	}

	untagged := ConversationSummary{ID: "c2"}
	if untagged.HasAnyTag([]string{"a"}) {
		t.Error("untagged conversation should not match a tag filter")
	}
}
