// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chatindex maintains the user's conversation list: ordering,
// search and tag filtering, and optimistic mutations with rollback.
//
// Mutations apply to the in-memory list first so the sidebar responds
// instantly, then issue the REST call; on failure the exact prior snapshot
// is restored. The list is replaced wholesale by Load, which runs after
// every stream finalization to adopt server-side title and timestamp
// updates.
package chatindex

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/ragchat-tui/internal/api"
	"github.com/jeranaias/ragchat-tui/internal/model"
)

// ErrEmptyTitle rejects blank titles on create and rename.
var ErrEmptyTitle = api.NewError(api.ErrorTypeValidation, "title cannot be empty", nil)

// ChatService is the REST surface the index consumes. *api.Client satisfies
// it; tests substitute fakes.
type ChatService interface {
	ListChats(ctx context.Context) ([]model.ConversationSummary, error)
	CreateChat(ctx context.Context, title string) (model.ConversationSummary, error)
	UpdateChatTitle(ctx context.Context, id, title string) error
	DeleteChat(ctx context.Context, id string) error
	UpdateChatTags(ctx context.Context, id string, tagIDs []string) error
	ListTags(ctx context.Context) ([]model.Tag, error)
}

// Filter selects a subset of the list. Zero value matches everything.
type Filter struct {
	// Search is a case-insensitive substring match on titles.
	Search string
	// TagIDs matches conversations carrying at least one of these tags.
	TagIDs []string
}

// IsEmpty reports whether the filter matches the full list.
func (f Filter) IsEmpty() bool {
	return f.Search == "" && len(f.TagIDs) == 0
}

// Index is the conversation list.
type Index struct {
	mu      sync.RWMutex
	service ChatService
	list    []model.ConversationSummary
	tags    []model.Tag

	// onChange is invoked outside the lock after every observable change.
	onChange func()
}

// New creates an index backed by the given service.
func New(service ChatService) *Index {
	return &Index{service: service}
}

// OnChange registers the change callback.
func (ix *Index) OnChange(fn func()) {
	ix.mu.Lock()
	ix.onChange = fn
	ix.mu.Unlock()
}

// notify invokes the change callback outside the lock.
func (ix *Index) notify() {
	ix.mu.RLock()
	fn := ix.onChange
	ix.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// =============================================================================
// LOADING AND READ ACCESS
// =============================================================================

// Load refreshes the list and tag catalog from the server, replacing both.
func (ix *Index) Load(ctx context.Context) error {
	list, err := ix.service.ListChats(ctx)
	if err != nil {
		return err
	}
	tags, err := ix.service.ListTags(ctx)
	if err != nil {
		// The tag catalog is decorative; a stale copy is acceptable.
		tags = nil
	}

	sortByUpdated(list)

	ix.mu.Lock()
	ix.list = list
	if tags != nil {
		ix.tags = tags
	}
	ix.mu.Unlock()
	ix.notify()
	return nil
}

// List returns a copy of the full list, most recently updated first.
func (ix *Index) List() []model.ConversationSummary {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return cloneList(ix.list)
}

// Tags returns a copy of the tag catalog.
func (ix *Index) Tags() []model.Tag {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return append([]model.Tag(nil), ix.tags...)
}

// Get returns the summary for id, if present.
func (ix *Index) Get(id string) (model.ConversationSummary, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	for _, s := range ix.list {
		if s.ID == id {
			return s.Clone(), true
		}
	}
	return model.ConversationSummary{}, false
}

// Len returns the number of conversations.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.list)
}

// Apply returns the conversations matching the filter, preserving order.
// It is a pure projection; the underlying list is not modified.
func (ix *Index) Apply(f Filter) []model.ConversationSummary {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if f.IsEmpty() {
		return cloneList(ix.list)
	}

	needle := foldForSearch(f.Search)
	var out []model.ConversationSummary
	for _, s := range ix.list {
		if needle != "" && !strings.Contains(foldForSearch(s.Title), needle) {
			continue
		}
		if !s.HasAnyTag(f.TagIDs) {
			continue
		}
		out = append(out, s.Clone())
	}
	return out
}

// foldForSearch normalizes a string for case-insensitive matching.
// NFC normalization keeps composed and decomposed input equivalent.
func foldForSearch(s string) string {
	return strings.ToLower(norm.NFC.String(s))
}

// =============================================================================
// OPTIMISTIC MUTATIONS
// =============================================================================

// Create creates a conversation on the server and prepends it to the list.
// Creation is not optimistic: the server assigns the id, and nothing may
// reference a conversation the server does not know about.
func (ix *Index) Create(ctx context.Context, title string) (string, error) {
	if strings.TrimSpace(title) == "" {
		return "", ErrEmptyTitle
	}

	created, err := ix.service.CreateChat(ctx, title)
	if err != nil {
		return "", err
	}
	if created.UpdatedAt.IsZero() {
		created.UpdatedAt = time.Now()
	}

	ix.mu.Lock()
	ix.list = append([]model.ConversationSummary{created}, ix.list...)
	ix.mu.Unlock()
	ix.notify()
	return created.ID, nil
}

// Rename retitles a conversation optimistically, rolling back on failure.
func (ix *Index) Rename(ctx context.Context, id, title string) error {
	if strings.TrimSpace(title) == "" {
		return ErrEmptyTitle
	}

	ix.mu.Lock()
	snapshot := cloneList(ix.list)
	found := false
	for i := range ix.list {
		if ix.list[i].ID == id {
			ix.list[i].Title = title
			found = true
			break
		}
	}
	ix.mu.Unlock()

	if !found {
		return api.NewError(api.ErrorTypeNotFound, "conversation not found", nil)
	}
	ix.notify()

	if err := ix.service.UpdateChatTitle(ctx, id, title); err != nil {
		ix.restore(snapshot)
		return err
	}
	return nil
}

// Delete removes a conversation optimistically, rolling back on failure.
func (ix *Index) Delete(ctx context.Context, id string) error {
	ix.mu.Lock()
	snapshot := cloneList(ix.list)
	kept := ix.list[:0]
	found := false
	for _, s := range ix.list {
		if s.ID == id {
			found = true
			continue
		}
		kept = append(kept, s)
	}
	ix.list = kept
	ix.mu.Unlock()

	if !found {
		return api.NewError(api.ErrorTypeNotFound, "conversation not found", nil)
	}
	ix.notify()

	if err := ix.service.DeleteChat(ctx, id); err != nil {
		ix.restore(snapshot)
		return err
	}
	return nil
}

// SetTags replaces a conversation's tag set optimistically, rolling back on
// failure.
func (ix *Index) SetTags(ctx context.Context, id string, tagIDs []string) error {
	ix.mu.Lock()
	snapshot := cloneList(ix.list)
	found := false
	for i := range ix.list {
		if ix.list[i].ID == id {
			ix.list[i].Tags = append([]string(nil), tagIDs...)
			found = true
			break
		}
	}
	ix.mu.Unlock()

	if !found {
		return api.NewError(api.ErrorTypeNotFound, "conversation not found", nil)
	}
	ix.notify()

	if err := ix.service.UpdateChatTags(ctx, id, tagIDs); err != nil {
		ix.restore(snapshot)
		return err
	}
	return nil
}

// SetTitleLocal applies a title change without a server call. Used to
// mirror title updates owned elsewhere (the conversation store during a
// first-message rename).
func (ix *Index) SetTitleLocal(id, title string) {
	ix.mu.Lock()
	for i := range ix.list {
		if ix.list[i].ID == id {
			ix.list[i].Title = title
			break
		}
	}
	ix.mu.Unlock()
	ix.notify()
}

// Touch bumps a conversation's update time and message count after a local
// send, keeping the ordering honest until the next Load.
func (ix *Index) Touch(id string, messageCount int) {
	ix.mu.Lock()
	for i := range ix.list {
		if ix.list[i].ID == id {
			ix.list[i].UpdatedAt = time.Now()
			if messageCount > 0 {
				ix.list[i].MessageCount = messageCount
			}
			break
		}
	}
	sortByUpdated(ix.list)
	ix.mu.Unlock()
	ix.notify()
}

// restore puts back a pre-mutation snapshot.
func (ix *Index) restore(snapshot []model.ConversationSummary) {
	ix.mu.Lock()
	ix.list = snapshot
	ix.mu.Unlock()
	ix.notify()
}

// =============================================================================
// HELPERS
// =============================================================================

// sortByUpdated orders most recently updated first. Stable so equal
// timestamps keep server order.
func sortByUpdated(list []model.ConversationSummary) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
}

// cloneList deep-copies a summary list.
func cloneList(list []model.ConversationSummary) []model.ConversationSummary {
	out := make([]model.ConversationSummary, len(list))
	for i, s := range list {
		out[i] = s.Clone()
	}
	return out
}
