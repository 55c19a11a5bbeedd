// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// STREAMING RENDER BUFFER
// =============================================================================

// minFlushMs caps transcript re-renders at roughly 30fps. Chunks can arrive
// far faster than a terminal can usefully repaint.
const minFlushMs = 33

// RenderBuffer coalesces streaming updates into frame-capped renders.
//
// Each chunk carries the full cumulative response, so the buffer keeps only
// the latest snapshot; intermediate snapshots that arrive between frames are
// simply superseded. PERFORMANCE: without the cap, a fast stream forces a
// full transcript re-render per chunk and the UI visibly stutters.
type RenderBuffer struct {
	mu        sync.Mutex
	latest    string
	dirty     bool
	lastFlush time.Time
}

// NewRenderBuffer creates a render buffer.
func NewRenderBuffer() *RenderBuffer {
	return &RenderBuffer{}
}

// Set records the latest cumulative snapshot. Later snapshots replace
// earlier ones, never append.
func (b *RenderBuffer) Set(content string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest = content
	b.dirty = true
}

// ShouldFlush reports whether a new frame is due: there is unrendered
// content and the frame cap interval has passed.
func (b *RenderBuffer) ShouldFlush() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.dirty {
		return false
	}
	return time.Since(b.lastFlush) >= minFlushMs*time.Millisecond
}

// Flush returns the latest snapshot and marks it rendered.
func (b *RenderBuffer) Flush() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dirty = false
	b.lastFlush = time.Now()
	return b.latest
}

// ForceFlush returns the latest snapshot regardless of the frame cap.
// Called at stream end so the final content always lands.
func (b *RenderBuffer) ForceFlush() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dirty = false
	b.lastFlush = time.Now()
	return b.latest
}

// Pending reports whether an unrendered snapshot is waiting.
func (b *RenderBuffer) Pending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dirty
}

// Reset clears the buffer for a new stream.
func (b *RenderBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest = ""
	b.dirty = false
	b.lastFlush = time.Time{}
}

// =============================================================================
// STREAM TICK
// =============================================================================

// StreamTickMsg drives frame-capped rendering while a stream is live.
type StreamTickMsg struct {
	Time time.Time
}

// streamTickCmd returns a command that ticks at the frame cap interval.
func streamTickCmd() tea.Cmd {
	return tea.Tick(minFlushMs*time.Millisecond, func(t time.Time) tea.Msg {
		return StreamTickMsg{Time: t}
	})
}
