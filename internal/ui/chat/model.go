// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/ragchat-tui/internal/chatindex"
	"github.com/jeranaias/ragchat-tui/internal/config"
	"github.com/jeranaias/ragchat-tui/internal/convo"
	"github.com/jeranaias/ragchat-tui/internal/engine"
	"github.com/jeranaias/ragchat-tui/internal/ui/components"
	"github.com/jeranaias/ragchat-tui/internal/ui/styles"
)

// =============================================================================
// PANELS AND PROMPT MODES
// =============================================================================

// panel identifies which pane has keyboard focus.
type panel int

const (
	panelInput panel = iota
	panelSidebar
)

// promptMode identifies the active inline prompt, if any.
type promptMode int

const (
	promptNone promptMode = iota
	promptSearch
	promptRename
)

// DraftStore persists unsent input per conversation. The local cache
// satisfies this; a nil store disables drafts.
type DraftStore interface {
	SaveDraft(convID, content string) error
	LoadDraft(convID string) (string, error)
}

// =============================================================================
// CHAT MODEL
// =============================================================================

// Model is the root Bubble Tea model for the chat screen: a conversation
// sidebar, the transcript viewport, the input area and the status bar.
type Model struct {
	cfg   *config.Config
	theme *styles.Theme
	keys  KeyMap

	coordinator *engine.Coordinator
	store       *convo.Store
	index       *chatindex.Index
	drafts      DraftStore

	// Components
	sidebar    components.Sidebar
	toasts     *components.ToastManager
	thinking   components.Spinner
	statusSpin components.InlineSpinner
	markdown   *components.MarkdownRenderer
	viewport   viewport.Model
	input      textarea.Model
	prompt     textinput.Model

	// Streaming render state
	buffer *RenderBuffer

	// UI state
	filter      chatindex.Filter
	focus       panel
	promptMode  promptMode
	width       int
	height      int
	ready       bool
	streaming   bool
	tickActive  bool
	authExpired bool
	quitting    bool
}

// New creates the chat model. drafts may be nil.
func New(cfg *config.Config, coordinator *engine.Coordinator, store *convo.Store, index *chatindex.Index, drafts DraftStore) Model {
	input := textarea.New()
	input.Placeholder = "Ask a question..."
	input.ShowLineNumbers = false
	input.CharLimit = 0
	input.SetHeight(3)
	input.Focus()

	prompt := textinput.New()
	prompt.CharLimit = 200

	theme := styles.NewTheme()

	return Model{
		cfg:         cfg,
		theme:       theme,
		keys:        DefaultKeyMap(),
		coordinator: coordinator,
		store:       store,
		index:       index,
		drafts:      drafts,
		sidebar:     components.NewSidebar(),
		toasts:      components.NewToastManager(),
		thinking:    components.NewThinkingSpinner(),
		statusSpin:  components.NewInlineSpinner(),
		markdown:    components.NewMarkdownRenderer(cfg.UI.Theme, 80),
		input:       input,
		prompt:      prompt,
		buffer:      NewRenderBuffer(),
	}
}

// Init loads the conversation index and starts the toast ticker.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.loadChatsCmd(),
		components.ToastTickCmd(),
		textarea.Blink,
	)
}

// AuthExpired reports whether the session ended because credentials were
// rejected. Main uses this to clear stored credentials after the program
// exits.
func (m Model) AuthExpired() bool {
	return m.authExpired
}

// =============================================================================
// DERIVED STATE
// =============================================================================

// refreshSidebar reapplies the filter to the index and pushes the result
// into the sidebar, keeping the focused conversation selected.
func (m *Model) refreshSidebar() {
	m.sidebar.SetItems(m.index.Apply(m.filter))
	m.sidebar.SetTags(m.index.Tags())
	m.sidebar.SetFilter(m.filter.Search, m.filter.TagIDs)
	if id := m.store.FocusedID(); id != "" {
		m.sidebar.SelectID(id)
	}
}

// transcriptWidth is the content width available to messages.
func (m *Model) transcriptWidth() int {
	w := m.width - m.sidebarWidth() - 4
	if w < 20 {
		w = 20
	}
	return w
}

// sidebarWidth returns the sidebar width for the current layout, 0 when the
// terminal is too narrow for a sidebar at all.
func (m *Model) sidebarWidth() int {
	if m.theme.GetLayoutMode() == styles.LayoutNarrow {
		return 0
	}
	w := m.cfg.UI.SidebarWidth
	if w <= 0 {
		w = 32
	}
	if w > m.width/2 {
		w = m.width / 2
	}
	return w
}

// stateLabel returns the status bar label for the engine state.
func (m *Model) stateLabel() string {
	switch m.coordinator.State() {
	case engine.StateIdle:
		return "Ready"
	case engine.StateEnsuring, engine.StateAppending:
		return "Sending"
	case engine.StateStreaming:
		return "Streaming"
	case engine.StateFinalizing:
		return "Finalizing"
	case engine.StateFailing:
		return "Error"
	default:
		return ""
	}
}
