// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"strings"
	"testing"
)

func TestNewThemeInitializesStyles(t *testing.T) {
	theme := NewTheme()
	if theme == nil {
		t.Fatal("NewTheme returned nil")
	}

	// A few spot checks that initStyles ran.
	if !theme.RoleUser.GetBold() {
		t.Error("RoleUser style should be bold")
	}
	if !theme.SidebarItemSelected.GetBold() {
		t.Error("SidebarItemSelected style should be bold")
	}
}

func TestLayoutModeBreakpoints(t *testing.T) {
	theme := NewTheme()

	tests := []struct {
		width int
		want  LayoutMode
	}{
		{40, LayoutNarrow},
		{59, LayoutNarrow},
		{60, LayoutMedium},
		{99, LayoutMedium},
		{100, LayoutWide},
		{200, LayoutWide},
	}
	for _, tt := range tests {
		theme.SetSize(tt.width, 40)
		if got := theme.GetLayoutMode(); got != tt.want {
			t.Errorf("width %d: layout = %v, want %v", tt.width, got, tt.want)
		}
	}
}

func TestStatusRenderersIncludeShapeIndicators(t *testing.T) {
	if !strings.Contains(RenderSuccess("done"), StatusIndicators.Success) {
		t.Error("success indicator missing")
	}
	if !strings.Contains(RenderError("boom"), StatusIndicators.Error) {
		t.Error("error indicator missing")
	}
	if !strings.Contains(RenderWarning("careful"), StatusIndicators.Warning) {
		t.Error("warning indicator missing")
	}
	if !strings.Contains(RenderInfo("fyi"), StatusIndicators.Info) {
		t.Error("info indicator missing")
	}
}
