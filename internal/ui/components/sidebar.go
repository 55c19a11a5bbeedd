// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"
	"time"

	"github.com/jeranaias/ragchat-tui/internal/model"
	"github.com/jeranaias/ragchat-tui/internal/ui/styles"
	"github.com/jeranaias/ragchat-tui/internal/util"
)

// =============================================================================
// SIDEBAR (CONVERSATION LIST)
// =============================================================================

// Sidebar renders the conversation list with selection, search filter and
// tag badges. It is a pure view component: the filtered summaries come from
// the chat index, and key handling lives in the chat model.
type Sidebar struct {
	items    []model.ConversationSummary
	tags     map[string]model.Tag
	selected int
	focused  bool

	// Active filter state, shown in the header so users can see why the
	// list shrank.
	search    string
	tagFilter []string

	width  int
	height int
}

// NewSidebar creates an empty sidebar.
func NewSidebar() Sidebar {
	return Sidebar{tags: make(map[string]model.Tag)}
}

// SetSize updates the sidebar dimensions.
func (s *Sidebar) SetSize(width, height int) {
	s.width = width
	s.height = height
}

// SetFocused sets keyboard focus, which changes the border color.
func (s *Sidebar) SetFocused(focused bool) {
	s.focused = focused
}

// Focused reports whether the sidebar has keyboard focus.
func (s *Sidebar) Focused() bool {
	return s.focused
}

// SetItems replaces the visible summaries, clamping the selection.
func (s *Sidebar) SetItems(items []model.ConversationSummary) {
	s.items = items
	if s.selected >= len(items) {
		s.selected = len(items) - 1
	}
	if s.selected < 0 {
		s.selected = 0
	}
}

// SetTags replaces the known tags used for badge names.
func (s *Sidebar) SetTags(tags []model.Tag) {
	s.tags = make(map[string]model.Tag, len(tags))
	for _, tag := range tags {
		s.tags[tag.ID] = tag
	}
}

// SetFilter records the active filter for header display.
func (s *Sidebar) SetFilter(search string, tagIDs []string) {
	s.search = search
	s.tagFilter = tagIDs
}

// SelectID moves the selection to the conversation with the given ID, if
// visible.
func (s *Sidebar) SelectID(id string) {
	for i, item := range s.items {
		if item.ID == id {
			s.selected = i
			return
		}
	}
}

// MoveUp moves the selection up one row.
func (s *Sidebar) MoveUp() {
	if s.selected > 0 {
		s.selected--
	}
}

// MoveDown moves the selection down one row.
func (s *Sidebar) MoveDown() {
	if s.selected < len(s.items)-1 {
		s.selected++
	}
}

// Selected returns the currently selected summary.
func (s *Sidebar) Selected() (model.ConversationSummary, bool) {
	if len(s.items) == 0 || s.selected < 0 || s.selected >= len(s.items) {
		return model.ConversationSummary{}, false
	}
	return s.items[s.selected], true
}

// Len returns the number of visible conversations.
func (s *Sidebar) Len() int {
	return len(s.items)
}

// =============================================================================
// RENDERING
// =============================================================================

// View renders the sidebar.
func (s Sidebar) View(theme *styles.Theme) string {
	innerWidth := s.width - 3
	if innerWidth < 10 {
		innerWidth = 10
	}

	var b strings.Builder
	b.WriteString(theme.SidebarTitle.Render("Chats"))
	b.WriteString("\n")

	if s.search != "" || len(s.tagFilter) > 0 {
		b.WriteString(theme.SidebarFilter.Render(s.filterLabel(innerWidth)))
		b.WriteString("\n")
	}

	if len(s.items) == 0 {
		b.WriteString(theme.SidebarMeta.Render(" no conversations"))
	}

	// Keep the selection visible inside the available rows.
	rows := s.visibleRows()
	start := 0
	if s.selected >= rows {
		start = s.selected - rows + 1
	}
	end := start + rows
	if end > len(s.items) {
		end = len(s.items)
	}

	for i := start; i < end; i++ {
		item := s.items[i]
		line := s.renderItem(theme, item, innerWidth, i == s.selected)
		b.WriteString(line)
		if i != end-1 {
			b.WriteString("\n")
		}
	}

	box := theme.Sidebar
	if s.focused {
		box = theme.SidebarFocused
	}
	return box.Width(s.width).Height(s.height).Render(b.String())
}

// renderItem renders one conversation row: title, then a meta line with
// relative time, message count and tag badges.
func (s Sidebar) renderItem(theme *styles.Theme, item model.ConversationSummary, width int, selected bool) string {
	title := util.TruncateWidth(item.Title, width-2)

	meta := relativeTime(item.UpdatedAt)
	if item.MessageCount > 0 {
		meta += " | " + itoa(item.MessageCount) + " msg"
	}
	for _, tagID := range item.Tags {
		if tag, ok := s.tags[tagID]; ok {
			meta += " #" + tag.Name
		}
	}
	meta = util.TruncateWidth(meta, width-2)

	style := theme.SidebarItem
	if selected {
		style = theme.SidebarItemSelected
	}
	return style.Render(title) + "\n" + theme.SidebarMeta.Render("  "+meta)
}

// filterLabel summarizes the active filter for the header.
func (s Sidebar) filterLabel(width int) string {
	var parts []string
	if s.search != "" {
		parts = append(parts, "/"+s.search)
	}
	for _, tagID := range s.tagFilter {
		if tag, ok := s.tags[tagID]; ok {
			parts = append(parts, "#"+tag.Name)
		} else {
			parts = append(parts, "#"+tagID)
		}
	}
	return util.TruncateWidth(strings.Join(parts, " "), width)
}

// visibleRows returns how many conversations fit in the sidebar. Each item
// takes two lines (title plus meta).
func (s Sidebar) visibleRows() int {
	rows := (s.height - 2) / 2
	if rows < 1 {
		rows = 1
	}
	return rows
}

// relativeTime formats a timestamp relative to now ("3m", "2h", "5d").
func relativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return itoa(int(d.Minutes())) + "m"
	case d < 24*time.Hour:
		return itoa(int(d.Hours())) + "h"
	default:
		return itoa(int(d.Hours()/24)) + "d"
	}
}
