// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"

	"github.com/jeranaias/ragchat-tui/internal/model"
	"github.com/jeranaias/ragchat-tui/internal/ui/styles"
)

// =============================================================================
// MESSAGE RENDERING
// =============================================================================

// MessageRenderOptions controls optional parts of message rendering.
type MessageRenderOptions struct {
	Width     int
	ShowStats bool
	Markdown  *MarkdownRenderer // nil falls back to code-block-only rendering
}

// RenderMessage renders a single conversation turn: a role header line,
// the body, and an optional metrics line for assistant messages.
func RenderMessage(theme *styles.Theme, msg *model.Message, opts MessageRenderOptions) string {
	if msg == nil {
		return ""
	}

	width := opts.Width
	if width < 20 {
		width = 20
	}

	header := renderMessageHeader(theme, msg)
	body := renderMessageBody(msg, opts, width)

	var parts []string
	parts = append(parts, header)
	if body != "" {
		parts = append(parts, body)
	}

	if opts.ShowStats {
		if stats := msg.FormatStats(); stats != "" {
			parts = append(parts, theme.MessageMeta.Render(stats))
		}
	}

	bubble := theme.AssistantBubble
	if msg.Role == model.RoleUser {
		bubble = theme.UserBubble
	}
	return bubble.Width(width).Render(strings.Join(parts, "\n"))
}

// renderMessageHeader builds the "You" / "Assistant" line with feedback and
// interruption markers.
func renderMessageHeader(theme *styles.Theme, msg *model.Message) string {
	var role string
	if msg.Role == model.RoleUser {
		role = theme.RoleUser.Render(msg.Role.DisplayName())
	} else {
		role = theme.RoleAssistant.Render(msg.Role.DisplayName())
	}

	var markers []string
	switch msg.Feedback {
	case model.FeedbackPositive:
		markers = append(markers, theme.FeedbackUp.Render("[+1]"))
	case model.FeedbackNegative:
		markers = append(markers, theme.FeedbackDown.Render("[-1]"))
	}
	if msg.Interrupted {
		markers = append(markers, theme.Interrupted.Render("[interrupted]"))
	}
	if !msg.CreatedAt.IsZero() {
		markers = append(markers, theme.MessageMeta.Render(msg.CreatedAt.Format("15:04")))
	}

	if len(markers) == 0 {
		return role
	}
	return role + " " + strings.Join(markers, " ")
}

// renderMessageBody renders the message content. Assistant messages go
// through the markdown renderer; user messages stay verbatim so prompts are
// reproduced exactly as typed.
func renderMessageBody(msg *model.Message, opts MessageRenderOptions, width int) string {
	content := msg.Content
	if content == "" {
		return ""
	}

	if msg.Role != model.RoleAssistant {
		return content
	}
	if opts.Markdown != nil {
		return strings.TrimRight(opts.Markdown.Render(content), "\n")
	}
	return ParseCodeBlocks(content, width)
}

// RenderContextDocuments renders the retrieval-context badge shown under a
// user message that was sent with attached documents.
func RenderContextDocuments(theme *styles.Theme, docIDs []string) string {
	if len(docIDs) == 0 {
		return ""
	}
	label := "context: " + strings.Join(docIDs, ", ")
	return theme.TagBadge.Render(label)
}
