// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"sync"

	"github.com/charmbracelet/glamour"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// MarkdownRenderer renders assistant markdown for terminal display.
//
// The glamour renderer is rebuilt when the wrap width or style changes and
// reused otherwise; construction walks the whole style tree and is too slow
// to repeat per frame.
type MarkdownRenderer struct {
	mu       sync.Mutex
	renderer *glamour.TermRenderer
	width    int
	style    string
}

// NewMarkdownRenderer creates a renderer for the given theme name
// ("dark", "light", or "auto") and initial wrap width.
func NewMarkdownRenderer(style string, width int) *MarkdownRenderer {
	m := &MarkdownRenderer{style: style}
	m.SetWidth(width)
	return m
}

// SetWidth updates the word-wrap width, rebuilding the renderer if needed.
func (m *MarkdownRenderer) SetWidth(width int) {
	if width < 20 {
		width = 20
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.renderer != nil && m.width == width {
		return
	}

	opts := []glamour.TermRendererOption{
		glamour.WithWordWrap(width),
	}
	switch m.style {
	case "dark":
		opts = append(opts, glamour.WithStandardStyle("dark"))
	case "light":
		opts = append(opts, glamour.WithStandardStyle("light"))
	default:
		opts = append(opts, glamour.WithAutoStyle())
	}

	renderer, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		// Fall back to plain text rendering.
		m.renderer = nil
		m.width = width
		return
	}
	m.renderer = renderer
	m.width = width
}

// Render renders markdown content for terminal display. Returns the content
// unchanged if rendering fails or the renderer is unavailable; a raw response
// is always better than an empty panel.
func (m *MarkdownRenderer) Render(content string) string {
	m.mu.Lock()
	renderer := m.renderer
	m.mu.Unlock()

	if renderer == nil {
		return content
	}

	rendered, err := renderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}
