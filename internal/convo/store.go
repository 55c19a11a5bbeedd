// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package convo holds the focused conversation: the single in-memory source
// of truth for the message list the user is looking at.
//
// All mutations go through named operations on Store. During a stream, only
// the trailing assistant placeholder is mutated; messages are never inserted
// or removed until the stream ends, when RefreshFromServer reconciles the
// local list against the server's authoritative rows.
package convo

import (
	"context"
	"strings"
	"sync"

	"github.com/jeranaias/ragchat-tui/internal/api"
	"github.com/jeranaias/ragchat-tui/internal/model"
)

// Errors returned by store operations.
var (
	// ErrNoPlaceholder indicates a patch arrived without a streaming
	// placeholder at the tail of the message list.
	ErrNoPlaceholder = api.NewError(api.ErrorTypeValidation, "no streaming message to update", nil)

	// ErrNoFocus indicates an operation that requires a focused
	// conversation was called without one.
	ErrNoFocus = api.NewError(api.ErrorTypeValidation, "no conversation selected", nil)

	// ErrEmptyTitle rejects blank conversation titles.
	ErrEmptyTitle = api.NewError(api.ErrorTypeValidation, "title cannot be empty", nil)
)

// ChatService is the REST surface the store consumes. *api.Client satisfies
// it; tests substitute fakes.
type ChatService interface {
	GetChat(ctx context.Context, id string) (*model.Conversation, error)
	SubmitFeedback(ctx context.Context, chatID string, msgID int64, fb model.Feedback, text string) (*model.Message, error)
	UpdateMessage(ctx context.Context, chatID string, msgID int64, content string) (*model.Message, error)
}

// ConversationCache mirrors focused conversations to local storage so that
// focus switches render instantly and recent chats stay readable offline.
// *cache.Cache satisfies it.
type ConversationCache interface {
	PutConversation(conv *model.Conversation) error
	GetConversation(id string) (*model.Conversation, error)
	DeleteConversation(id string) error
}

// AssistantPatch is a shallow partial update for the streaming placeholder.
// Nil fields are left untouched, so late frames that omit metadata cannot
// erase values an earlier frame supplied.
type AssistantPatch struct {
	Content         *string
	Tokens          *int
	TokensPerSecond *float64
	Model           *string
	Provider        *string
	DocumentIDs     []string
}

// Store owns the focused conversation.
type Store struct {
	mu      sync.Mutex
	service ChatService
	conv    *model.Conversation
	cache   ConversationCache

	// onChange is invoked outside the lock after every observable
	// mutation, so the view can re-render.
	onChange func()

	// onTitleChange mirrors local title updates to the chat index.
	onTitleChange func(convID, title string)
}

// NewStore creates a conversation store backed by the given service.
func NewStore(service ChatService) *Store {
	return &Store{service: service}
}

// SetCache attaches a local conversation cache. Optional; the store works
// without one.
func (s *Store) SetCache(c ConversationCache) {
	s.mu.Lock()
	s.cache = c
	s.mu.Unlock()
}

// cachePut mirrors a conversation snapshot into the local cache. Best
// effort: cache failures never surface to callers.
func (s *Store) cachePut() {
	s.mu.Lock()
	c := s.cache
	s.mu.Unlock()
	if c == nil {
		return
	}
	if conv := s.Conversation(); conv != nil && conv.ID != "" {
		_ = c.PutConversation(conv)
	}
}

// ForgetConversation drops a conversation's cached copy and draft. Called
// after a server-side delete so the cache cannot resurrect it.
func (s *Store) ForgetConversation(id string) {
	s.mu.Lock()
	c := s.cache
	s.mu.Unlock()
	if c != nil && id != "" {
		_ = c.DeleteConversation(id)
	}
}

// OnChange registers the change callback. Must be set before use.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// OnTitleChange registers the title mirror callback.
func (s *Store) OnTitleChange(fn func(convID, title string)) {
	s.mu.Lock()
	s.onTitleChange = fn
	s.mu.Unlock()
}

// notify invokes the change callback outside the lock.
func (s *Store) notify() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// =============================================================================
// READ ACCESS
// =============================================================================

// FocusedID returns the id of the focused conversation, or "".
func (s *Store) FocusedID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv == nil {
		return ""
	}
	return s.conv.ID
}

// Conversation returns a deep copy of the focused conversation, or nil.
// Callers get a stable snapshot they can render without holding the lock.
func (s *Store) Conversation() *model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv == nil {
		return nil
	}
	return s.conv.Clone()
}

// Title returns the focused conversation's title, or "".
func (s *Store) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv == nil {
		return ""
	}
	return s.conv.GetTitle()
}

// =============================================================================
// FOCUS
// =============================================================================

// Focus loads the conversation with the given id from the server and makes
// it the focused one. An empty id clears focus. When re-focusing the same
// conversation, a server response with no messages does not wipe newer
// local (placeholder) messages: the server may simply not have recorded the
// in-flight exchange yet.
func (s *Store) Focus(ctx context.Context, id string) error {
	if id == "" {
		s.mu.Lock()
		s.conv = nil
		s.mu.Unlock()
		s.notify()
		return nil
	}

	// A cached copy renders immediately; the fetch below reconciles it.
	// When the fetch fails (offline), the cached copy stays on screen.
	s.mu.Lock()
	c := s.cache
	alreadyFocused := s.conv != nil && s.conv.ID == id
	s.mu.Unlock()
	if c != nil && !alreadyFocused {
		if cached, err := c.GetConversation(id); err == nil {
			s.mu.Lock()
			s.conv = cached
			s.mu.Unlock()
			s.notify()
		}
	}

	fetched, err := s.service.GetChat(ctx, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.conv != nil && s.conv.ID == id && len(fetched.Messages) == 0 && len(s.conv.Messages) > 0 {
		fetched.Messages = s.conv.Messages
	}
	s.conv = fetched
	s.mu.Unlock()
	s.notify()
	s.cachePut()
	return nil
}

// ClearFocus drops the focused conversation without a server round trip.
// Used when the focused conversation has been deleted.
func (s *Store) ClearFocus() {
	s.mu.Lock()
	s.conv = nil
	s.mu.Unlock()
	s.notify()
}

// Adopt replaces the focused conversation with an already-loaded one,
// bypassing the server. Used to seed a newly created conversation and to
// render cached copies instantly while Focus refreshes in the background.
func (s *Store) Adopt(conv *model.Conversation) {
	s.mu.Lock()
	s.conv = conv.Clone()
	s.mu.Unlock()
	s.notify()
}

// =============================================================================
// OPTIMISTIC APPENDS
// =============================================================================

// AppendUser appends an optimistic user message with a sentinel id and
// returns a copy of it. Never fails.
func (s *Store) AppendUser(content string, contextDocIDs []string) *model.Message {
	s.mu.Lock()
	if s.conv == nil {
		// Callers ensure a conversation exists first; tolerate misuse by
		// creating a detached one so the message is never lost.
		s.conv = &model.Conversation{}
	}
	msg := model.NewUserMessage(s.conv.ID, content, contextDocIDs)
	s.conv.Messages = append(s.conv.Messages, msg)
	clone := msg.Clone()
	s.mu.Unlock()
	s.notify()
	return clone
}

// AppendAssistantPlaceholder appends an empty streaming assistant message
// and returns its index in the message list. Never fails.
func (s *Store) AppendAssistantPlaceholder() int {
	s.mu.Lock()
	if s.conv == nil {
		s.conv = &model.Conversation{}
	}
	msg := model.NewAssistantPlaceholder(s.conv.ID)
	s.conv.Messages = append(s.conv.Messages, msg)
	idx := len(s.conv.Messages) - 1
	s.mu.Unlock()
	s.notify()
	return idx
}

// PatchLastAssistant shallow-merges chunk fields into the streaming
// placeholder at the tail. Content is overwritten, not appended: frames
// carry cumulative content and the last frame wins.
func (s *Store) PatchLastAssistant(patch AssistantPatch) error {
	s.mu.Lock()
	if s.conv == nil || !s.conv.HasPlaceholderTail() {
		s.mu.Unlock()
		return ErrNoPlaceholder
	}
	msg := s.conv.Messages[len(s.conv.Messages)-1]
	if patch.Content != nil {
		msg.Content = *patch.Content
	}
	if patch.Tokens != nil {
		msg.Tokens = *patch.Tokens
	}
	if patch.TokensPerSecond != nil {
		msg.TokensPerSecond = *patch.TokensPerSecond
	}
	if patch.Model != nil {
		msg.Model = *patch.Model
	}
	if patch.Provider != nil {
		msg.Provider = *patch.Provider
	}
	if patch.DocumentIDs != nil {
		msg.ContextDocumentIDs = append([]string(nil), patch.DocumentIDs...)
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

// MarkLastAssistantInterrupted flags the trailing placeholder as stopped,
// keeping whatever partial content arrived. The view renders the flag; the
// content itself is never mutated, so the next refresh merge stays clean.
func (s *Store) MarkLastAssistantInterrupted() {
	s.mu.Lock()
	if s.conv != nil && s.conv.HasPlaceholderTail() {
		last := s.conv.Messages[len(s.conv.Messages)-1]
		last.Streaming = false
		last.Interrupted = true
	}
	s.mu.Unlock()
	s.notify()
}

// =============================================================================
// SERVER RECONCILIATION
// =============================================================================

// RefreshFromServer fetches the focused conversation and merges the message
// lists:
//
//  1. Index current messages by positive server id.
//  2. Walk the server's list in order. A returning assistant message keeps
//     the server row but falls back to locally known token counters when
//     the server omits them.
//  3. The walked sequence replaces the local list. Sentinel-id rows are
//     discarded: their authoritative counterparts, if any, are in the
//     server list.
//  4. Conversation metadata is overlaid from the server.
func (s *Store) RefreshFromServer(ctx context.Context) error {
	s.mu.Lock()
	if s.conv == nil {
		s.mu.Unlock()
		return ErrNoFocus
	}
	id := s.conv.ID
	s.mu.Unlock()

	fetched, err := s.service.GetChat(ctx, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.conv == nil || s.conv.ID != id {
		// Focus moved while the fetch was in flight; drop the result.
		s.mu.Unlock()
		return nil
	}

	prev := make(map[int64]*model.Message, len(s.conv.Messages))
	for _, msg := range s.conv.Messages {
		if !model.IsSentinelID(msg.ID) {
			prev[msg.ID] = msg
		}
	}

	merged := make([]*model.Message, 0, len(fetched.Messages))
	for _, srv := range fetched.Messages {
		if local, ok := prev[srv.ID]; ok && srv.Role == model.RoleAssistant {
			if srv.Tokens == 0 {
				srv.Tokens = local.Tokens
			}
			if srv.TokensPerSecond == 0 {
				srv.TokensPerSecond = local.TokensPerSecond
			}
		}
		merged = append(merged, srv)
	}

	s.conv.Title = fetched.Title
	s.conv.CreatedAt = fetched.CreatedAt
	s.conv.UpdatedAt = fetched.UpdatedAt
	s.conv.Tags = fetched.Tags
	s.conv.Messages = merged
	s.mu.Unlock()
	s.notify()
	s.cachePut()
	return nil
}

// =============================================================================
// METADATA AND MESSAGE EDITS
// =============================================================================

// SetTitle updates the focused conversation's title locally and emits the
// change for the chat index to mirror. The REST rename is the index's
// responsibility; this keeps both views coherent in the meantime.
func (s *Store) SetTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return ErrEmptyTitle
	}

	s.mu.Lock()
	if s.conv == nil {
		s.mu.Unlock()
		return ErrNoFocus
	}
	s.conv.Title = title
	id := s.conv.ID
	mirror := s.onTitleChange
	s.mu.Unlock()

	if mirror != nil {
		mirror(id, title)
	}
	s.notify()
	return nil
}

// SetFeedback records a rating on one message via the server and applies
// the returned authoritative row. Sending the message's current rating
// again clears it.
func (s *Store) SetFeedback(ctx context.Context, msgID int64, fb model.Feedback, text string) error {
	s.mu.Lock()
	if s.conv == nil {
		s.mu.Unlock()
		return ErrNoFocus
	}
	id := s.conv.ID
	target := s.conv.MessageByID(msgID)
	if target == nil {
		s.mu.Unlock()
		return api.NewError(api.ErrorTypeNotFound, "message not found", nil)
	}
	if target.Feedback == fb {
		fb = model.FeedbackNone
		text = ""
	}
	s.mu.Unlock()

	updated, err := s.service.SubmitFeedback(ctx, id, msgID, fb, text)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.conv != nil && s.conv.ID == id {
		if msg := s.conv.MessageByID(msgID); msg != nil {
			msg.Feedback = updated.Feedback
			msg.FeedbackText = updated.FeedbackText
		}
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

// UpdateMessageContent replaces one message's content via the server and
// applies the returned row. Intended for user-edited messages.
func (s *Store) UpdateMessageContent(ctx context.Context, msgID int64, content string) error {
	s.mu.Lock()
	if s.conv == nil {
		s.mu.Unlock()
		return ErrNoFocus
	}
	id := s.conv.ID
	if s.conv.MessageByID(msgID) == nil {
		s.mu.Unlock()
		return api.NewError(api.ErrorTypeNotFound, "message not found", nil)
	}
	s.mu.Unlock()

	updated, err := s.service.UpdateMessage(ctx, id, msgID, content)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.conv != nil && s.conv.ID == id {
		if msg := s.conv.MessageByID(msgID); msg != nil {
			msg.Content = updated.Content
		}
	}
	s.mu.Unlock()
	s.notify()
	return nil
}
