// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/ragchat-tui/internal/model"
)

// =============================================================================
// COMMANDS
// =============================================================================

// requestTimeout bounds the REST calls issued from the UI loop.
const requestTimeout = 30 * time.Second

// loadChatsCmd loads the conversation index.
func (m Model) loadChatsCmd() tea.Cmd {
	index := m.index
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return ChatsLoadedMsg{Err: index.Load(ctx)}
	}
}

// focusCmd focuses a conversation, loading its history.
func (m Model) focusCmd(id string) tea.Cmd {
	coordinator := m.coordinator
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return ConversationFocusedMsg{ID: id, Err: coordinator.FocusConversation(ctx, id)}
	}
}

// sendCmd starts a send. Only pre-stream failures surface here; stream
// outcomes arrive as engine events. The timeout bounds the pre-stream REST
// calls only; the stream itself runs on the engine's own context with no
// deadline, since the server controls stream duration.
func (m Model) sendCmd(content string, contextDocIDs []string) tea.Cmd {
	coordinator := m.coordinator
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return SendResultMsg{Err: coordinator.Send(ctx, content, contextDocIDs)}
	}
}

// renameCmd renames a conversation.
func (m Model) renameCmd(id, title string) tea.Cmd {
	coordinator := m.coordinator
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return ActionResultMsg{Label: "rename", Err: coordinator.RenameConversation(ctx, id, title)}
	}
}

// deleteCmd deletes a conversation, canceling any stream into it first.
func (m Model) deleteCmd(id string) tea.Cmd {
	coordinator := m.coordinator
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return ActionResultMsg{Label: "delete", Err: coordinator.DeleteConversation(ctx, id)}
	}
}

// feedbackCmd toggles feedback on an assistant message.
func (m Model) feedbackCmd(msgID int64, fb model.Feedback) tea.Cmd {
	store := m.store
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return ActionResultMsg{Label: "feedback", Err: store.SetFeedback(ctx, msgID, fb, "")}
	}
}

// loadDraftCmd loads the saved draft for a conversation.
func (m Model) loadDraftCmd(convID string) tea.Cmd {
	drafts := m.drafts
	if drafts == nil || convID == "" {
		return nil
	}
	return func() tea.Msg {
		content, err := drafts.LoadDraft(convID)
		if err != nil {
			return nil
		}
		return DraftLoadedMsg{ConvID: convID, Content: content}
	}
}

// saveDraft persists the current input for the focused conversation.
// Best effort: a failed draft write never interrupts the user.
func (m *Model) saveDraft() {
	if m.drafts == nil {
		return
	}
	convID := m.store.FocusedID()
	if convID == "" {
		return
	}
	_ = m.drafts.SaveDraft(convID, m.input.Value())
}
