// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/ragchat-tui/internal/engine"
	"github.com/jeranaias/ragchat-tui/internal/model"
	"github.com/jeranaias/ragchat-tui/internal/ui/components"
)

// =============================================================================
// UPDATE
// =============================================================================

// Update is the Bubble Tea update loop.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)

	case EngineEventMsg:
		return m.handleEngineEvent(msg.Event)

	case StreamTickMsg:
		return m.handleStreamTick()

	case components.ToastTickMsg:
		m.toasts.TickToasts()
		return m, components.ToastTickCmd()

	case ChatsLoadedMsg:
		if msg.Err != nil {
			m.toasts.AddError("could not load conversations: " + msg.Err.Error())
		}
		m.refreshSidebar()
		return m, nil

	case ConversationFocusedMsg:
		if msg.Err != nil {
			m.toasts.AddError("could not open conversation: " + msg.Err.Error())
			return m, nil
		}
		m.input.Reset()
		m.renderTranscript()
		m.refreshSidebar()
		return m, m.loadDraftCmd(msg.ID)

	case SendResultMsg:
		return m.handleSendResult(msg)

	case ActionResultMsg:
		return m.handleActionResult(msg)

	case StoreChangedMsg:
		// During a stream the render buffer owns transcript repaints; a
		// repaint per chunk would defeat the frame cap.
		if !m.streaming {
			m.renderTranscript()
		}
		return m, nil

	case IndexChangedMsg:
		m.refreshSidebar()
		return m, nil

	case DraftLoadedMsg:
		// Restore the draft only if the user has not started typing and the
		// focus has not moved on meanwhile.
		if msg.Content != "" && m.input.Value() == "" && m.store.FocusedID() == msg.ConvID {
			m.input.SetValue(msg.Content)
		}
		return m, nil
	}

	// Spinner ticks and other component messages.
	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.thinking, cmd = m.thinking.Update(msg)
	cmds = append(cmds, cmd)
	m.statusSpin, cmd = m.statusSpin.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// =============================================================================
// RESIZE
// =============================================================================

func (m Model) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height
	m.theme.SetSize(msg.Width, msg.Height)

	sidebarWidth := m.sidebarWidth()
	contentWidth := m.width - sidebarWidth - 2
	if contentWidth < 20 {
		contentWidth = 20
	}

	// Header (1) + input (5) + status bar (1).
	transcriptHeight := m.height - 7
	if transcriptHeight < 3 {
		transcriptHeight = 3
	}

	if !m.ready {
		m.viewport = newTranscriptViewport(contentWidth, transcriptHeight)
		m.ready = true
	} else {
		m.viewport.Width = contentWidth
		m.viewport.Height = transcriptHeight
	}

	m.sidebar.SetSize(sidebarWidth, transcriptHeight)
	m.input.SetWidth(contentWidth - 2)
	m.prompt.Width = contentWidth - 4
	m.markdown.SetWidth(m.transcriptWidth())
	m.renderTranscript()
	return m, nil
}

// =============================================================================
// KEY HANDLING
// =============================================================================

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Inline prompts capture everything except their exit keys.
	if m.promptMode != promptNone {
		return m.handlePromptKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		// ctrl+c cancels a live stream before quitting on the second press.
		if msg.String() == "ctrl+c" && m.coordinator.Busy() {
			m.coordinator.Cancel()
			return m, nil
		}
		m.saveDraft()
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Cancel):
		if m.coordinator.Busy() {
			m.coordinator.Cancel()
		}
		return m, nil

	case key.Matches(msg, m.keys.SwitchFocus):
		if m.focus == panelInput {
			m.focus = panelSidebar
			m.sidebar.SetFocused(true)
			m.input.Blur()
		} else {
			m.focus = panelInput
			m.sidebar.SetFocused(false)
			m.input.Focus()
		}
		return m, nil

	case key.Matches(msg, m.keys.NewChat):
		return m.startNewChat()

	case key.Matches(msg, m.keys.Search):
		m.promptMode = promptSearch
		m.prompt.Placeholder = "filter by title..."
		m.prompt.SetValue(m.filter.Search)
		m.prompt.Focus()
		return m, nil

	case key.Matches(msg, m.keys.Rename):
		return m.startRename()

	case key.Matches(msg, m.keys.Delete):
		return m.deleteTarget()

	case key.Matches(msg, m.keys.FeedbackUp):
		return m.toggleFeedback(model.FeedbackPositive)

	case key.Matches(msg, m.keys.FeedbackDown):
		return m.toggleFeedback(model.FeedbackNegative)
	}

	if m.focus == panelSidebar {
		return m.handleSidebarKey(msg)
	}
	return m.handleInputKey(msg)
}

// handlePromptKey routes keys while a search or rename prompt is open.
func (m Model) handlePromptKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		if m.promptMode == promptSearch {
			// Dropping the prompt clears the search filter.
			m.filter.Search = ""
			m.refreshSidebar()
		}
		m.closePrompt()
		return m, nil

	case "enter":
		mode := m.promptMode
		value := strings.TrimSpace(m.prompt.Value())
		m.closePrompt()
		if mode == promptRename && value != "" {
			if id := m.renameTargetID(); id != "" {
				return m, m.renameCmd(id, value)
			}
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.prompt, cmd = m.prompt.Update(msg)
	if m.promptMode == promptSearch {
		// Live filtering as the user types.
		m.filter.Search = m.prompt.Value()
		m.refreshSidebar()
	}
	return m, cmd
}

func (m *Model) closePrompt() {
	m.promptMode = promptNone
	m.prompt.Reset()
	m.prompt.Blur()
}

// handleSidebarKey routes keys when the conversation list has focus.
func (m Model) handleSidebarKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Up):
		m.sidebar.MoveUp()
		return m, nil
	case key.Matches(msg, m.keys.Down):
		m.sidebar.MoveDown()
		return m, nil
	case key.Matches(msg, m.keys.Submit):
		if selected, ok := m.sidebar.Selected(); ok {
			if selected.ID == m.store.FocusedID() {
				return m, nil
			}
			m.saveDraft()
			return m, m.focusCmd(selected.ID)
		}
		return m, nil
	}
	return m, nil
}

// handleInputKey routes keys when the input area has focus.
func (m Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		content := strings.TrimSpace(m.input.Value())
		if content == "" {
			return m, nil
		}
		if m.coordinator.Busy() {
			m.toasts.AddWarning("please wait for the current response to finish")
			return m, nil
		}
		m.input.Reset()
		return m, m.sendCmd(content, m.cfg.Chat.ContextDocuments)

	case "alt+enter", "ctrl+j":
		// Multi-line input: insert a newline instead of sending.
		m.input.InsertString("\n")
		return m, nil

	case "pgup":
		m.viewport.HalfViewUp()
		return m, nil
	case "pgdown":
		m.viewport.HalfViewDown()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// =============================================================================
// ACTIONS
// =============================================================================

// startNewChat clears focus so the next send creates a fresh conversation.
func (m Model) startNewChat() (tea.Model, tea.Cmd) {
	if m.coordinator.Busy() {
		m.coordinator.Cancel()
	}
	m.saveDraft()
	m.store.ClearFocus()
	m.input.Reset()
	m.renderTranscript()
	m.refreshSidebar()
	m.focus = panelInput
	m.sidebar.SetFocused(false)
	m.input.Focus()
	return m, nil
}

// renameTargetID returns the conversation a rename applies to: the sidebar
// selection when the sidebar has focus, the focused conversation otherwise.
func (m *Model) renameTargetID() string {
	if m.focus == panelSidebar {
		if selected, ok := m.sidebar.Selected(); ok {
			return selected.ID
		}
		return ""
	}
	return m.store.FocusedID()
}

func (m Model) startRename() (tea.Model, tea.Cmd) {
	id := m.renameTargetID()
	if id == "" {
		return m, nil
	}
	title := ""
	if summary, ok := m.index.Get(id); ok {
		title = summary.Title
	}
	m.promptMode = promptRename
	m.prompt.Placeholder = "new title..."
	m.prompt.SetValue(title)
	m.prompt.CursorEnd()
	m.prompt.Focus()
	return m, nil
}

func (m Model) deleteTarget() (tea.Model, tea.Cmd) {
	id := m.renameTargetID()
	if id == "" {
		return m, nil
	}
	return m, m.deleteCmd(id)
}

// toggleFeedback rates the last server-confirmed assistant message. The
// store clears the rating when the same value is sent twice.
func (m Model) toggleFeedback(fb model.Feedback) (tea.Model, tea.Cmd) {
	conv := m.store.Conversation()
	if conv == nil {
		return m, nil
	}
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		msg := conv.Messages[i]
		if msg.Role == model.RoleAssistant && !msg.IsPlaceholder() {
			return m, m.feedbackCmd(msg.ID, fb)
		}
	}
	m.toasts.AddStatus("no rated response yet; feedback needs a finished reply")
	return m, nil
}

// =============================================================================
// RESULT MESSAGES
// =============================================================================

func (m Model) handleSendResult(msg SendResultMsg) (tea.Model, tea.Cmd) {
	if msg.Err == nil {
		m.renderTranscript()
		m.refreshSidebar()
		return m, nil
	}
	switch msg.Err {
	case engine.ErrBusy:
		m.toasts.AddWarning("please wait for the current response to finish")
	case engine.ErrEmptyContent:
		// Nothing to report; the input was blank.
	default:
		m.toasts.AddError("send failed: " + msg.Err.Error())
	}
	return m, nil
}

func (m Model) handleActionResult(msg ActionResultMsg) (tea.Model, tea.Cmd) {
	if msg.Err != nil {
		m.toasts.AddError(msg.Label + " failed: " + msg.Err.Error())
		m.refreshSidebar()
		return m, nil
	}
	m.refreshSidebar()
	switch msg.Label {
	case "rename":
		m.toasts.AddSuccess("conversation renamed")
	case "delete":
		m.toasts.AddSuccess("conversation deleted")
		m.renderTranscript()
	case "feedback":
		m.renderTranscript()
	}
	return m, nil
}

// =============================================================================
// ENGINE EVENTS
// =============================================================================

func (m Model) handleEngineEvent(ev engine.Event) (tea.Model, tea.Cmd) {
	switch ev.Kind {
	case engine.EventStateChanged:
		return m.handleEngineState(ev)

	case engine.EventFirstChunk:
		m.thinking.Stop()
		if !m.tickActive {
			m.tickActive = true
			return m, streamTickCmd()
		}
		return m, nil

	case engine.EventChunkApplied:
		if conv := m.store.Conversation(); conv != nil {
			if last := conv.LastMessage(); last != nil {
				m.buffer.Set(last.Content)
			}
		}
		if !m.tickActive {
			m.tickActive = true
			return m, streamTickCmd()
		}
		return m, nil

	case engine.EventDone:
		m.buffer.ForceFlush()
		m.thinking.Stop()
		m.statusSpin.Stop()
		m.renderTranscript()
		m.refreshSidebar()
		return m, nil

	case engine.EventStreamFailed:
		m.thinking.Stop()
		m.statusSpin.Stop()
		if ev.Err != nil {
			m.toasts.AddError(ev.Err.Error())
		}
		m.renderTranscript()
		return m, nil

	case engine.EventCanceled:
		m.thinking.Stop()
		m.statusSpin.Stop()
		m.toasts.AddStatus("generation canceled; partial response kept")
		m.renderTranscript()
		return m, nil

	case engine.EventAuthExpired:
		m.authExpired = true
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) handleEngineState(ev engine.Event) (tea.Model, tea.Cmd) {
	switch ev.State {
	case engine.StateEnsuring:
		m.streaming = true
		m.buffer.Reset()
		m.renderTranscript()
		return m, tea.Batch(m.thinking.Start(), m.statusSpin.Start())

	case engine.StateIdle:
		m.streaming = false
		m.thinking.Stop()
		m.statusSpin.Stop()
		m.renderTranscript()
		return m, nil
	}

	if ev.State == engine.StateAppending {
		m.renderTranscript()
	}
	return m, nil
}

// handleStreamTick applies the latest buffered snapshot at the frame cap.
func (m Model) handleStreamTick() (tea.Model, tea.Cmd) {
	if m.buffer.ShouldFlush() {
		m.buffer.Flush()
		m.renderTranscript()
	}
	if m.streaming || m.buffer.Pending() {
		return m, streamTickCmd()
	}
	m.tickActive = false
	return m, nil
}
