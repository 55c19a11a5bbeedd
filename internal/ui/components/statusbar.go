// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/ragchat-tui/internal/ui/styles"
	"github.com/jeranaias/ragchat-tui/internal/util"
)

// =============================================================================
// STATUS BAR
// =============================================================================

// StatusBarData holds everything the status bar displays.
type StatusBarData struct {
	// Left segment: engine state
	StateLabel string // "Ready", "Streaming", ...
	Spinner    string // inline spinner frame while streaming, "" otherwise

	// Middle segment: generation metrics of the focused conversation
	Model           string
	Provider        string
	Tokens          int
	TokensPerSecond float64
	ShowTokens      bool

	// Right segment: key hints for the current focus
	Hints []StatusHint
}

// StatusHint is a single "key: action" hint.
type StatusHint struct {
	Key  string
	Desc string
}

// RenderStatusBar renders the bottom status bar at the given width.
func RenderStatusBar(theme *styles.Theme, data StatusBarData, width int) string {
	left := data.StateLabel
	if data.Spinner != "" {
		left = data.Spinner + " " + left
	}

	var middle string
	if data.ShowTokens && data.Model != "" {
		parts := []string{data.Model}
		if data.Provider != "" {
			parts[0] += " (" + data.Provider + ")"
		}
		if data.Tokens > 0 {
			parts = append(parts, itoa(data.Tokens)+" tok")
		}
		if data.TokensPerSecond > 0 {
			parts = append(parts, formatTokensPerSecond(data.TokensPerSecond))
		}
		middle = strings.Join(parts, " | ")
	}

	var hints []string
	for _, hint := range data.Hints {
		hints = append(hints,
			theme.ShortcutKey.Render(hint.Key)+" "+theme.ShortcutDesc.Render(hint.Desc))
	}
	right := strings.Join(hints, "  ")

	leftRendered := theme.StatsValue.Render(left)
	if middle != "" {
		leftRendered += theme.ShortcutDesc.Render("  " + middle)
	}

	// Pad the gap so hints sit at the right edge.
	gap := width - lipgloss.Width(leftRendered) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}

	bar := leftRendered + strings.Repeat(" ", gap) + right
	return theme.StatusBar.Width(width).Render(bar)
}

// formatTokensPerSecond formats a rate with one decimal place.
func formatTokensPerSecond(rate float64) string {
	whole := int(rate)
	frac := int((rate - float64(whole)) * 10)
	if frac < 0 {
		frac = 0
	}
	return itoa(whole) + "." + itoa(frac) + " tok/s"
}

// TruncateHints drops hints from the right until the bar fits the width.
func TruncateHints(hints []StatusHint, width int) []StatusHint {
	for len(hints) > 0 {
		total := 0
		for _, h := range hints {
			total += util.StringWidth(h.Key) + util.StringWidth(h.Desc) + 3
		}
		if total <= width {
			break
		}
		hints = hints[:len(hints)-1]
	}
	return hints
}
