// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/ragchat-tui/internal/model"
	"github.com/jeranaias/ragchat-tui/internal/ui/components"
)

// =============================================================================
// VIEW
// =============================================================================

// View renders the full chat screen.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "starting..."
	}

	header := m.renderHeader()
	body := m.renderBody()
	input := m.renderInputArea()
	status := m.renderStatusBar()

	screen := lipgloss.JoinVertical(lipgloss.Left, header, body, input, status)

	if m.toasts.HasToasts() {
		// Toasts overlay the bottom-right corner.
		overlay := components.RenderToastStack(m.toasts.GetToasts(), m.width, 0)
		screen = lipgloss.JoinVertical(lipgloss.Left, screen, overlay)
	}
	return screen
}

// renderHeader renders the top bar with the app name and focused title.
func (m Model) renderHeader() string {
	brand := m.theme.HeaderBrand.Render("ragchat")
	title := m.store.Title()
	if title == "" {
		title = "no conversation"
	}
	line := brand + "  " + m.theme.HeaderTitle.Render(title)
	return m.theme.Header.Width(m.width).Render(line)
}

// renderBody renders the sidebar next to the transcript viewport.
func (m Model) renderBody() string {
	transcript := m.viewport.View()
	if m.sidebarWidth() == 0 {
		return transcript
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, m.sidebar.View(m.theme), transcript)
}

// renderInputArea renders the prompt (when open) or the message input.
func (m Model) renderInputArea() string {
	if m.promptMode != promptNone {
		label := "filter"
		if m.promptMode == promptRename {
			label = "rename"
		}
		line := m.theme.InputPrompt.Render(label+": ") + m.prompt.View()
		return m.theme.InputContainer.Width(m.width - 2).Render(line)
	}
	return m.theme.InputContainer.Width(m.width - 2).Render(m.input.View())
}

// renderStatusBar renders the bottom status bar.
func (m Model) renderStatusBar() string {
	data := components.StatusBarData{
		StateLabel: m.stateLabel(),
		Spinner:    m.statusSpin.View(),
		ShowTokens: m.cfg.UI.ShowTokens,
	}

	// Metrics come from the last finished assistant message.
	if conv := m.store.Conversation(); conv != nil {
		for i := len(conv.Messages) - 1; i >= 0; i-- {
			msg := conv.Messages[i]
			if msg.Role == model.RoleAssistant && msg.Tokens > 0 {
				data.Model = msg.Model
				data.Provider = msg.Provider
				data.Tokens = msg.Tokens
				data.TokensPerSecond = msg.TokensPerSecond
				break
			}
		}
	}

	for _, binding := range m.keys.ShortHelp() {
		data.Hints = append(data.Hints, components.StatusHint{
			Key:  binding.Help().Key,
			Desc: binding.Help().Desc,
		})
	}
	data.Hints = components.TruncateHints(data.Hints, m.width/2)

	return components.RenderStatusBar(m.theme, data, m.width)
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// newTranscriptViewport creates the scrolling transcript pane.
func newTranscriptViewport(width, height int) viewport.Model {
	vp := viewport.New(width, height)
	vp.MouseWheelEnabled = true
	return vp
}

// renderTranscript rebuilds the viewport content from the focused
// conversation and scrolls to the bottom.
func (m *Model) renderTranscript() {
	if !m.ready {
		return
	}

	conv := m.store.Conversation()
	if conv == nil {
		m.viewport.SetContent(m.renderWelcome())
		return
	}

	width := m.transcriptWidth()
	opts := components.MessageRenderOptions{
		Width:     width,
		ShowStats: m.cfg.UI.ShowTokens,
		Markdown:  m.markdown,
	}

	var blocks []string
	for _, msg := range conv.Messages {
		// The live placeholder renders plain: partial markdown flickers when
		// fences are still open mid-stream.
		if msg.Streaming {
			streamOpts := opts
			streamOpts.Markdown = nil
			if msg.IsEmpty() {
				blocks = append(blocks, m.thinking.View())
				continue
			}
			blocks = append(blocks, components.RenderMessage(m.theme, msg, streamOpts))
			continue
		}
		blocks = append(blocks, components.RenderMessage(m.theme, msg, opts))
		if msg.Role == model.RoleUser && len(msg.ContextDocumentIDs) > 0 {
			blocks = append(blocks, components.RenderContextDocuments(m.theme, msg.ContextDocumentIDs))
		}
	}

	m.viewport.SetContent(strings.Join(blocks, "\n\n"))
	m.viewport.GotoBottom()
}

// renderWelcome renders the empty state before any conversation is focused.
func (m Model) renderWelcome() string {
	lines := []string{
		m.theme.WelcomeLogo.Render("ragchat"),
		"",
		m.theme.WelcomeInfo.Render("Ask a question to start a new conversation."),
		"",
		m.theme.WelcomeInfo.Render("Press ") + m.theme.WelcomeKey.Render("Tab") +
			m.theme.WelcomeInfo.Render(" to browse chats, ") + m.theme.WelcomeKey.Render("C-f") +
			m.theme.WelcomeInfo.Render(" to filter."),
	}
	box := m.theme.WelcomeBox.Render(strings.Join(lines, "\n"))
	if m.viewport.Width > 0 && m.viewport.Height > 0 {
		return lipgloss.Place(m.viewport.Width, m.viewport.Height, lipgloss.Center, lipgloss.Center, box)
	}
	return box
}
