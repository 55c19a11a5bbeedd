// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/jeranaias/ragchat-tui/internal/engine"
)

// =============================================================================
// BUBBLE TEA MESSAGES
// =============================================================================

// EngineEventMsg wraps a streaming engine event. The engine callback runs on
// its own goroutine; main forwards events here via Program.Send so all UI
// state changes happen on the Bubble Tea loop.
type EngineEventMsg struct {
	Event engine.Event
}

// ChatsLoadedMsg reports the result of loading the conversation index.
type ChatsLoadedMsg struct {
	Err error
}

// ConversationFocusedMsg reports the result of focusing a conversation.
type ConversationFocusedMsg struct {
	ID  string
	Err error
}

// SendResultMsg reports the pre-stream result of a send. Stream outcomes
// arrive separately as engine events.
type SendResultMsg struct {
	Err error
}

// ActionResultMsg reports the result of an index or store mutation
// (rename, delete, tags, feedback). Label names the action for the toast.
type ActionResultMsg struct {
	Label string
	Err   error
}

// DraftLoadedMsg carries a saved draft for the focused conversation.
type DraftLoadedMsg struct {
	ConvID  string
	Content string
}

// StoreChangedMsg signals a conversation store mutation that happened off
// the Bubble Tea loop (fire-and-forget rename, coordinator goroutines).
// main forwards the store's change callback here via Program.Send.
type StoreChangedMsg struct{}

// IndexChangedMsg signals a chat index mutation that happened off the
// Bubble Tea loop.
type IndexChangedMsg struct{}
