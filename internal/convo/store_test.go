// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package convo

import (
	"context"
	"errors"
	"testing"

	"github.com/jeranaias/ragchat-tui/internal/api"
	"github.com/jeranaias/ragchat-tui/internal/model"
)

// fakeService is an in-memory ChatService.
type fakeService struct {
	conversations map[string]*model.Conversation
	getErr        error
	feedbackErr   error
}

func newFakeService() *fakeService {
	return &fakeService{conversations: make(map[string]*model.Conversation)}
}

func (f *fakeService) GetChat(ctx context.Context, id string) (*model.Conversation, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	conv, ok := f.conversations[id]
	if !ok {
		return nil, api.NewError(api.ErrorTypeNotFound, "not found", nil)
	}
	return conv.Clone(), nil
}

func (f *fakeService) SubmitFeedback(ctx context.Context, chatID string, msgID int64, fb model.Feedback, text string) (*model.Message, error) {
	if f.feedbackErr != nil {
		return nil, f.feedbackErr
	}
	conv := f.conversations[chatID]
	msg := conv.MessageByID(msgID)
	msg.Feedback = fb
	msg.FeedbackText = text
	return msg.Clone(), nil
}

func (f *fakeService) UpdateMessage(ctx context.Context, chatID string, msgID int64, content string) (*model.Message, error) {
	conv := f.conversations[chatID]
	msg := conv.MessageByID(msgID)
	msg.Content = content
	return msg.Clone(), nil
}

func ptr[T any](v T) *T { return &v }

// =============================================================================
// FOCUS TESTS
// =============================================================================

func TestFocusLoadsConversation(t *testing.T) {
	svc := newFakeService()
	svc.conversations["c1"] = &model.Conversation{
		ID:    "c1",
		Title: "First",
		Messages: []*model.Message{
			{ID: 1, Role: model.RoleUser, Content: "q"},
		},
	}
	store := NewStore(svc)

	if err := store.Focus(context.Background(), "c1"); err != nil {
		t.Fatalf("Focus failed: %v", err)
	}
	if store.FocusedID() != "c1" {
		t.Errorf("FocusedID = %q", store.FocusedID())
	}
	if store.Title() != "First" {
		t.Errorf("Title = %q", store.Title())
	}
}

func TestFocusNotFound(t *testing.T) {
	store := NewStore(newFakeService())
	err := store.Focus(context.Background(), "nope")
	if !api.IsNotFound(err) {
		t.Errorf("error = %v, want not found", err)
	}
}

func TestFocusEmptyClearsFocus(t *testing.T) {
	svc := newFakeService()
	svc.conversations["c1"] = &model.Conversation{ID: "c1"}
	store := NewStore(svc)
	store.Focus(context.Background(), "c1")

	if err := store.Focus(context.Background(), ""); err != nil {
		t.Fatalf("clearing focus failed: %v", err)
	}
	if store.FocusedID() != "" {
		t.Error("focus should be cleared")
	}
}

func TestRefocusKeepsNewerLocalMessages(t *testing.T) {
	svc := newFakeService()
	svc.conversations["c1"] = &model.Conversation{ID: "c1", Title: "T"}
	store := NewStore(svc)
	store.Focus(context.Background(), "c1")

	// Local optimistic exchange the server has not recorded yet.
	store.AppendUser("hello", nil)
	store.AppendAssistantPlaceholder()

	if err := store.Focus(context.Background(), "c1"); err != nil {
		t.Fatalf("refocus failed: %v", err)
	}
	conv := store.Conversation()
	if len(conv.Messages) != 2 {
		t.Errorf("local messages lost on refocus: %d", len(conv.Messages))
	}
}

// =============================================================================
// APPEND AND PATCH TESTS
// =============================================================================

func setupFocused(t *testing.T) (*Store, *fakeService) {
	t.Helper()
	svc := newFakeService()
	svc.conversations["c1"] = &model.Conversation{ID: "c1", Title: "T"}
	store := NewStore(svc)
	if err := store.Focus(context.Background(), "c1"); err != nil {
		t.Fatalf("Focus failed: %v", err)
	}
	return store, svc
}

func TestAppendUserAndPlaceholder(t *testing.T) {
	store, _ := setupFocused(t)

	user := store.AppendUser("hello", []string{"d1"})
	if !model.IsSentinelID(user.ID) {
		t.Errorf("user id = %d, want sentinel", user.ID)
	}

	idx := store.AppendAssistantPlaceholder()
	if idx != 1 {
		t.Errorf("placeholder index = %d, want 1", idx)
	}

	conv := store.Conversation()
	if !conv.HasPlaceholderTail() {
		t.Error("expected placeholder tail after appends")
	}
}

func TestPatchLastAssistantCumulativeOverwrite(t *testing.T) {
	store, _ := setupFocused(t)
	store.AppendUser("hi", nil)
	store.AppendAssistantPlaceholder()

	for _, content := range []string{"A", "AB", "ABC"} {
		if err := store.PatchLastAssistant(AssistantPatch{Content: ptr(content)}); err != nil {
			t.Fatalf("patch failed: %v", err)
		}
	}

	conv := store.Conversation()
	got := conv.LastMessage().Content
	if got != "ABC" {
		t.Errorf("content = %q, want %q (overwrite, not concatenation)", got, "ABC")
	}
}

func TestPatchSmallerContentStillWins(t *testing.T) {
	store, _ := setupFocused(t)
	store.AppendUser("hi", nil)
	store.AppendAssistantPlaceholder()

	store.PatchLastAssistant(AssistantPatch{Content: ptr("a longer answer")})
	store.PatchLastAssistant(AssistantPatch{Content: ptr("short")})

	if got := store.Conversation().LastMessage().Content; got != "short" {
		t.Errorf("content = %q, last chunk must win even when smaller", got)
	}
}

func TestPatchPreservesUnseenFields(t *testing.T) {
	store, _ := setupFocused(t)
	store.AppendUser("hi", nil)
	store.AppendAssistantPlaceholder()

	store.PatchLastAssistant(AssistantPatch{Content: ptr("x"), Model: ptr("llama3"), Tokens: ptr(5)})
	store.PatchLastAssistant(AssistantPatch{Content: ptr("xy")})

	last := store.Conversation().LastMessage()
	if last.Model != "llama3" || last.Tokens != 5 {
		t.Errorf("fields not preserved across patches: %+v", last)
	}
	if last.Content != "xy" {
		t.Errorf("content = %q", last.Content)
	}
}

func TestPatchWithoutPlaceholderFails(t *testing.T) {
	store, _ := setupFocused(t)

	err := store.PatchLastAssistant(AssistantPatch{Content: ptr("x")})
	if !errors.Is(err, ErrNoPlaceholder) {
		t.Errorf("error = %v, want ErrNoPlaceholder", err)
	}

	// A user message without a trailing placeholder is not patchable either.
	store.AppendUser("q", nil)
	if err := store.PatchLastAssistant(AssistantPatch{Content: ptr("x")}); !errors.Is(err, ErrNoPlaceholder) {
		t.Errorf("error = %v, want ErrNoPlaceholder", err)
	}
}

// =============================================================================
// REFRESH MERGE TESTS
// =============================================================================

func TestRefreshAdoptsServerRowsAndDropsSentinels(t *testing.T) {
	store, svc := setupFocused(t)
	store.AppendUser("Hello", nil)
	store.AppendAssistantPlaceholder()
	store.PatchLastAssistant(AssistantPatch{Content: ptr("Hi there")})

	// Server has recorded the exchange with authoritative ids.
	svc.conversations["c1"].Messages = []*model.Message{
		{ID: 41, Role: model.RoleUser, Content: "Hello"},
		{ID: 42, Role: model.RoleAssistant, Content: "Hi there", Tokens: 3},
	}

	if err := store.RefreshFromServer(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	conv := store.Conversation()
	if len(conv.Messages) != 2 {
		t.Fatalf("message count = %d, want 2", len(conv.Messages))
	}
	for _, msg := range conv.Messages {
		if model.IsSentinelID(msg.ID) {
			t.Errorf("sentinel row survived refresh: %+v", msg)
		}
	}
	if conv.Messages[1].ID != 42 || conv.Messages[1].Tokens != 3 {
		t.Errorf("assistant row = %+v", conv.Messages[1])
	}
}

func TestRefreshKeepsLocalTokenCountersAsFallback(t *testing.T) {
	store, svc := setupFocused(t)

	// A previously confirmed assistant message with locally known metrics.
	svc.conversations["c1"].Messages = []*model.Message{
		{ID: 42, Role: model.RoleAssistant, Content: "a", Tokens: 7, TokensPerSecond: 33.3},
	}
	store.Focus(context.Background(), "c1")

	// Server now returns the same message without counters.
	svc.conversations["c1"].Messages = []*model.Message{
		{ID: 42, Role: model.RoleAssistant, Content: "a"},
	}
	if err := store.RefreshFromServer(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	msg := store.Conversation().Messages[0]
	if msg.Tokens != 7 || msg.TokensPerSecond != 33.3 {
		t.Errorf("local counters lost: %+v", msg)
	}
}

func TestRefreshPrefersServerTokenCounters(t *testing.T) {
	store, svc := setupFocused(t)

	svc.conversations["c1"].Messages = []*model.Message{
		{ID: 42, Role: model.RoleAssistant, Content: "a", Tokens: 7},
	}
	store.Focus(context.Background(), "c1")

	svc.conversations["c1"].Messages = []*model.Message{
		{ID: 42, Role: model.RoleAssistant, Content: "a", Tokens: 11},
	}
	store.RefreshFromServer(context.Background())

	if got := store.Conversation().Messages[0].Tokens; got != 11 {
		t.Errorf("tokens = %d, server value must win", got)
	}
}

func TestRefreshIsNoOpWhenServerUnchanged(t *testing.T) {
	store, svc := setupFocused(t)
	svc.conversations["c1"].Messages = []*model.Message{
		{ID: 1, Role: model.RoleUser, Content: "q"},
		{ID: 2, Role: model.RoleAssistant, Content: "a", Tokens: 5},
	}
	svc.conversations["c1"].Title = "Stable"
	store.Focus(context.Background(), "c1")

	before := store.Conversation()
	if err := store.RefreshFromServer(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	after := store.Conversation()

	if before.Title != after.Title || len(before.Messages) != len(after.Messages) {
		t.Fatalf("refresh changed unchanged state: %+v vs %+v", before, after)
	}
	for i := range before.Messages {
		if before.Messages[i].ID != after.Messages[i].ID ||
			before.Messages[i].Content != after.Messages[i].Content {
			t.Errorf("message %d changed: %+v vs %+v", i, before.Messages[i], after.Messages[i])
		}
	}
}

func TestRefreshWithoutFocusFails(t *testing.T) {
	store := NewStore(newFakeService())
	if err := store.RefreshFromServer(context.Background()); !errors.Is(err, ErrNoFocus) {
		t.Errorf("error = %v, want ErrNoFocus", err)
	}
}

// =============================================================================
// TITLE, FEEDBACK, EDIT TESTS
// =============================================================================

func TestSetTitleMirrorsToIndex(t *testing.T) {
	store, _ := setupFocused(t)

	var mirroredID, mirroredTitle string
	store.OnTitleChange(func(id, title string) {
		mirroredID, mirroredTitle = id, title
	})

	if err := store.SetTitle("Renamed"); err != nil {
		t.Fatalf("SetTitle failed: %v", err)
	}
	if store.Title() != "Renamed" {
		t.Errorf("title = %q", store.Title())
	}
	if mirroredID != "c1" || mirroredTitle != "Renamed" {
		t.Errorf("mirror = (%q, %q)", mirroredID, mirroredTitle)
	}
}

func TestSetTitleEmptyFails(t *testing.T) {
	store, _ := setupFocused(t)
	if err := store.SetTitle("  "); !errors.Is(err, ErrEmptyTitle) {
		t.Errorf("error = %v, want ErrEmptyTitle", err)
	}
}

func TestSetFeedback(t *testing.T) {
	store, svc := setupFocused(t)
	svc.conversations["c1"].Messages = []*model.Message{
		{ID: 42, Role: model.RoleAssistant, Content: "a"},
	}
	store.Focus(context.Background(), "c1")

	if err := store.SetFeedback(context.Background(), 42, model.FeedbackPositive, ""); err != nil {
		t.Fatalf("SetFeedback failed: %v", err)
	}
	if got := store.Conversation().Messages[0].Feedback; got != model.FeedbackPositive {
		t.Errorf("feedback = %q", got)
	}
}

func TestSetFeedbackToggleClears(t *testing.T) {
	store, svc := setupFocused(t)
	svc.conversations["c1"].Messages = []*model.Message{
		{ID: 42, Role: model.RoleAssistant, Content: "a", Feedback: model.FeedbackPositive},
	}
	store.Focus(context.Background(), "c1")

	// Submitting the current rating again clears it.
	if err := store.SetFeedback(context.Background(), 42, model.FeedbackPositive, ""); err != nil {
		t.Fatalf("SetFeedback failed: %v", err)
	}
	if got := store.Conversation().Messages[0].Feedback; got != model.FeedbackNone {
		t.Errorf("feedback = %q, want cleared", got)
	}
}

func TestSetFeedbackUnknownMessage(t *testing.T) {
	store, _ := setupFocused(t)
	err := store.SetFeedback(context.Background(), 999, model.FeedbackPositive, "")
	if !api.IsNotFound(err) {
		t.Errorf("error = %v, want not found", err)
	}
}

func TestUpdateMessageContent(t *testing.T) {
	store, svc := setupFocused(t)
	svc.conversations["c1"].Messages = []*model.Message{
		{ID: 7, Role: model.RoleUser, Content: "orig"},
	}
	store.Focus(context.Background(), "c1")

	if err := store.UpdateMessageContent(context.Background(), 7, "edited"); err != nil {
		t.Fatalf("UpdateMessageContent failed: %v", err)
	}
	if got := store.Conversation().Messages[0].Content; got != "edited" {
		t.Errorf("content = %q", got)
	}
}

// =============================================================================
// INTERRUPTION TESTS
// =============================================================================

func TestMarkLastAssistantInterrupted(t *testing.T) {
	store, _ := setupFocused(t)
	store.AppendUser("q", nil)
	store.AppendAssistantPlaceholder()
	store.PatchLastAssistant(AssistantPatch{Content: ptr("partial")})

	store.MarkLastAssistantInterrupted()

	last := store.Conversation().LastMessage()
	if !last.Interrupted {
		t.Error("message should be marked interrupted")
	}
	if last.Content != "partial" {
		t.Errorf("partial content lost: %q", last.Content)
	}
	if last.Streaming {
		t.Error("message should no longer be streaming")
	}
}

// =============================================================================
// SNAPSHOT ISOLATION TESTS
// =============================================================================

func TestConversationReturnsSnapshot(t *testing.T) {
	store, _ := setupFocused(t)
	store.AppendUser("hi", nil)

	snapshot := store.Conversation()
	snapshot.Messages[0].Content = "tampered"

	if store.Conversation().Messages[0].Content != "hi" {
		t.Error("snapshot mutation leaked into store")
	}
}

// =============================================================================
// LOCAL CACHE TESTS
// =============================================================================

// fakeCache is an in-memory ConversationCache.
type fakeCache struct {
	conversations map[string]*model.Conversation
	puts          int
}

func newFakeCache() *fakeCache {
	return &fakeCache{conversations: make(map[string]*model.Conversation)}
}

func (f *fakeCache) PutConversation(conv *model.Conversation) error {
	f.puts++
	f.conversations[conv.ID] = conv.Clone()
	return nil
}

func (f *fakeCache) GetConversation(id string) (*model.Conversation, error) {
	conv, ok := f.conversations[id]
	if !ok {
		return nil, errors.New("not cached")
	}
	return conv.Clone(), nil
}

func (f *fakeCache) DeleteConversation(id string) error {
	delete(f.conversations, id)
	return nil
}

func TestFocusWritesThroughToCache(t *testing.T) {
	svc := newFakeService()
	svc.conversations["c1"] = &model.Conversation{ID: "c1", Title: "Fresh"}
	store := NewStore(svc)
	cache := newFakeCache()
	store.SetCache(cache)

	if err := store.Focus(context.Background(), "c1"); err != nil {
		t.Fatalf("Focus failed: %v", err)
	}
	cached, err := cache.GetConversation("c1")
	if err != nil {
		t.Fatalf("conversation not cached: %v", err)
	}
	if cached.Title != "Fresh" {
		t.Errorf("cached title = %q", cached.Title)
	}
}

func TestFocusFallsBackToCacheWhenOffline(t *testing.T) {
	svc := newFakeService()
	store := NewStore(svc)
	cache := newFakeCache()
	cache.conversations["c1"] = &model.Conversation{
		ID:    "c1",
		Title: "Cached",
		Messages: []*model.Message{
			{ID: 1, Role: model.RoleUser, Content: "q"},
		},
	}
	store.SetCache(cache)
	svc.getErr = api.NewError(api.ErrorTypeNetwork, "connection refused", nil)

	err := store.Focus(context.Background(), "c1")
	if err == nil {
		t.Fatal("Focus should report the fetch failure")
	}

	// The cached copy stays on screen for offline read-back.
	conv := store.Conversation()
	if conv == nil || conv.Title != "Cached" {
		t.Fatalf("cached conversation not adopted: %+v", conv)
	}
	if len(conv.Messages) != 1 {
		t.Errorf("cached messages missing: %d", len(conv.Messages))
	}
}

func TestForgetConversationDropsCachedCopy(t *testing.T) {
	svc := newFakeService()
	svc.conversations["c1"] = &model.Conversation{ID: "c1", Title: "Doomed"}
	store := NewStore(svc)
	cache := newFakeCache()
	store.SetCache(cache)
	store.Focus(context.Background(), "c1")

	store.ForgetConversation("c1")

	if _, err := cache.GetConversation("c1"); err == nil {
		t.Error("cached copy should be gone after ForgetConversation")
	}
}

func TestRefreshWritesThroughToCache(t *testing.T) {
	svc := newFakeService()
	svc.conversations["c1"] = &model.Conversation{ID: "c1", Title: "v1"}
	store := NewStore(svc)
	cache := newFakeCache()
	store.SetCache(cache)
	store.Focus(context.Background(), "c1")

	svc.conversations["c1"].Title = "v2"
	if err := store.RefreshFromServer(context.Background()); err != nil {
		t.Fatalf("RefreshFromServer failed: %v", err)
	}

	cached, err := cache.GetConversation("c1")
	if err != nil {
		t.Fatalf("conversation not cached: %v", err)
	}
	if cached.Title != "v2" {
		t.Errorf("cached title = %q, want refreshed copy", cached.Title)
	}
}
