// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine drives the send protocol: it is the only component that
// touches the conversation store, the chat index, and the stream transport
// together.
//
// A send walks Idle -> EnsuringConversation -> Appending -> Streaming ->
// Finalizing -> Idle, with Failing on a terminal stream error. Exactly one
// send can be outside Idle at a time; concurrent sends fail with ErrBusy.
// Cancellation can arrive at any point and always lands back in Idle with
// partial content preserved.
package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/ragchat-tui/internal/api"
	"github.com/jeranaias/ragchat-tui/internal/chatindex"
	"github.com/jeranaias/ragchat-tui/internal/convo"
	"github.com/jeranaias/ragchat-tui/internal/model"
	"github.com/jeranaias/ragchat-tui/internal/sse"
)

// ErrBusy rejects a send while another one is in flight.
var ErrBusy = api.NewError(api.ErrorTypeBusy, "please wait for the current response to finish", nil)

// ErrEmptyContent rejects blank prompts.
var ErrEmptyContent = api.NewError(api.ErrorTypeValidation, "message cannot be empty", nil)

// renameTimeout bounds the fire-and-forget first-message title rename.
const renameTimeout = 10 * time.Second

// finalizeTimeout bounds the post-stream index reload and conversation
// refresh.
const finalizeTimeout = 30 * time.Second

// =============================================================================
// STATES
// =============================================================================

// State is the coordinator's position in the send protocol.
type State int

const (
	// StateIdle - no send in flight.
	StateIdle State = iota
	// StateEnsuring - creating and focusing a conversation if none is.
	StateEnsuring
	// StateAppending - appending the user message and the placeholder.
	StateAppending
	// StateStreaming - a subscription is live.
	StateStreaming
	// StateFinalizing - reloading index and conversation after done.
	StateFinalizing
	// StateFailing - a terminal stream error is being surfaced.
	StateFailing
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEnsuring:
		return "ensuring"
	case StateAppending:
		return "appending"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateFailing:
		return "failing"
	default:
		return "unknown"
	}
}

// =============================================================================
// EVENTS
// =============================================================================

// EventKind identifies a coordinator event.
type EventKind int

const (
	// EventStateChanged fires on every protocol transition.
	EventStateChanged EventKind = iota
	// EventFirstChunk fires when the first content arrives, ending the
	// waiting indicator.
	EventFirstChunk
	// EventChunkApplied fires after each chunk is merged into the store.
	EventChunkApplied
	// EventDone fires after finalization completes.
	EventDone
	// EventStreamFailed fires on a terminal stream or transport error.
	// Partial content stays visible; Err carries the typed error.
	EventStreamFailed
	// EventCanceled fires when a stream was stopped deliberately.
	EventCanceled
	// EventAuthExpired fires when any operation hits an auth failure;
	// the UI short-circuits to logout.
	EventAuthExpired
)

// Event is delivered to the UI via the Notify callback.
type Event struct {
	Kind   EventKind
	State  State
	ConvID string
	Err    error
}

// =============================================================================
// COORDINATOR
// =============================================================================

// Coordinator owns the send state machine.
type Coordinator struct {
	store     *convo.Store
	index     *chatindex.Index
	transport *sse.Transport
	tokens    api.TokenSource

	mu           sync.Mutex
	state        State
	streamConvID string

	cancelMgr *cancelManager
	// cancelRequested blocks store mutations from frames already in
	// flight when Cancel returns.
	cancelRequested atomic.Bool

	notify func(Event)
	logf   func(format string, args ...any)
}

// New creates a coordinator. Notify and Logf default to no-ops.
func New(store *convo.Store, index *chatindex.Index, transport *sse.Transport, tokens api.TokenSource) *Coordinator {
	return &Coordinator{
		store:     store,
		index:     index,
		transport: transport,
		tokens:    tokens,
		state:     StateIdle,
		cancelMgr: newCancelManager(),
		notify:    func(Event) {},
		logf:      func(string, ...any) {},
	}
}

// OnEvent registers the event callback, invoked outside all locks.
func (c *Coordinator) OnEvent(fn func(Event)) {
	if fn != nil {
		c.notify = fn
	}
}

// SetLogf installs a debug log sink.
func (c *Coordinator) SetLogf(fn func(format string, args ...any)) {
	if fn != nil {
		c.logf = fn
	}
}

// State returns the current protocol state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Busy reports whether a send is in flight.
func (c *Coordinator) Busy() bool {
	return c.State() != StateIdle
}

// StreamingConvID returns the conversation a live stream writes into, or "".
func (c *Coordinator) StreamingConvID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamConvID
}

// setState transitions and emits EventStateChanged.
func (c *Coordinator) setState(s State, convID string) {
	c.mu.Lock()
	c.state = s
	if s == StateIdle {
		c.streamConvID = ""
	} else if convID != "" {
		c.streamConvID = convID
	}
	c.mu.Unlock()
	c.notify(Event{Kind: EventStateChanged, State: s, ConvID: convID})
}

// emit surfaces an event, translating auth failures into EventAuthExpired.
func (c *Coordinator) emit(ev Event) {
	if ev.Err != nil && api.IsAuth(ev.Err) {
		c.notify(Event{Kind: EventAuthExpired, State: ev.State, ConvID: ev.ConvID, Err: ev.Err})
		return
	}
	c.notify(ev)
}

// =============================================================================
// SEND PROTOCOL
// =============================================================================

// Send runs the full send protocol and blocks until the stream reaches a
// terminal state. It returns an error only for pre-stream failures (busy,
// validation, conversation creation); stream outcomes are delivered as
// events. Callers run it from a goroutine or tea.Cmd.
func (c *Coordinator) Send(ctx context.Context, content string, contextDocIDs []string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.state = StateEnsuring
	c.mu.Unlock()
	c.cancelRequested.Store(false)
	c.notify(Event{Kind: EventStateChanged, State: StateEnsuring})

	// 1. Ensure a focused conversation exists.
	convID := c.store.FocusedID()
	if convID == "" {
		id, err := c.index.Create(ctx, model.DefaultTitle)
		if err != nil {
			c.setState(StateIdle, "")
			c.emit(Event{Kind: EventStreamFailed, State: StateIdle, Err: err})
			return err
		}
		if err := c.store.Focus(ctx, id); err != nil {
			c.setState(StateIdle, "")
			c.emit(Event{Kind: EventStreamFailed, State: StateIdle, ConvID: id, Err: err})
			return err
		}
		convID = id
	}

	// 2. Optimistic appends: the user message, then the placeholder the
	// stream will write into.
	c.setState(StateAppending, convID)
	c.store.AppendUser(content, contextDocIDs)
	c.store.AppendAssistantPlaceholder()
	if conv := c.store.Conversation(); conv != nil {
		c.index.Touch(convID, conv.MessageCount())
	}

	// 3. First-message title rewrite: fire-and-forget, logged on failure.
	if conv := c.store.Conversation(); conv != nil && conv.HasDefaultTitle() {
		derived := model.DeriveTitle(content)
		if err := c.store.SetTitle(derived); err == nil {
			go func() {
				renameCtx, cancel := context.WithTimeout(context.Background(), renameTimeout)
				defer cancel()
				if err := c.index.Rename(renameCtx, convID, derived); err != nil {
					c.logf("title rename failed for %s: %v", convID, err)
				}
			}()
		}
	}

	// 4. Open the stream on its own context. The server controls stream
	// duration: a deadline on the caller's context bounds only the
	// pre-stream REST calls above and must not abort a healthy stream.
	streamCtx, cancel := context.WithCancel(context.Background())
	c.cancelMgr.set(cancel)

	token := ""
	if c.tokens != nil {
		token = c.tokens.Token()
	}
	sub, err := c.transport.Open(streamCtx, convID, content, contextDocIDs, token)
	if err != nil {
		c.cancelMgr.clear()
		c.store.MarkLastAssistantInterrupted()
		c.setState(StateIdle, "")
		c.emit(Event{Kind: EventStreamFailed, State: StateIdle, ConvID: convID, Err: err})
		return nil
	}
	c.setState(StateStreaming, convID)

	// 5-7. Consume events until terminal.
	c.consume(convID, sub)
	return nil
}

// consume drains the subscription, applies chunks, and finalizes.
func (c *Coordinator) consume(convID string, sub *sse.Subscription) {
	defer c.cancelMgr.clear()

	firstChunk := false
	terminal := false

	for ev := range sub.Events() {
		if c.cancelRequested.Load() && ev.Kind == sse.EventChunk {
			// Frame was already queued when Cancel returned; drop it so
			// no mutation happens after cancellation.
			continue
		}

		switch ev.Kind {
		case sse.EventChunk:
			if !firstChunk {
				firstChunk = true
				c.notify(Event{Kind: EventFirstChunk, State: StateStreaming, ConvID: convID})
			}
			if err := c.store.PatchLastAssistant(patchFromChunk(ev.Chunk)); err != nil {
				// The placeholder is gone (focus moved, conversation
				// deleted). Stop the stream; nothing left to update.
				c.logf("dropping stream for %s: %v", convID, err)
				sub.Close()
				continue
			}
			c.notify(Event{Kind: EventChunkApplied, State: StateStreaming, ConvID: convID})

		case sse.EventDone:
			terminal = true
			if ev.Chunk.Content != "" || ev.Chunk.ID != nil {
				// Apply final fields immediately; the refresh below
				// will confirm them.
				if err := c.store.PatchLastAssistant(patchFromChunk(ev.Chunk)); err != nil && !errors.Is(err, convo.ErrNoPlaceholder) {
					c.logf("final patch failed for %s: %v", convID, err)
				}
			}
			c.finalize(convID)

		case sse.EventError, sse.EventTransportError:
			terminal = true
			c.setState(StateFailing, convID)
			c.store.MarkLastAssistantInterrupted()
			c.setState(StateIdle, "")
			c.emit(Event{Kind: EventStreamFailed, State: StateIdle, ConvID: convID, Err: ev.Err})
		}
	}

	if !terminal {
		// Channel closed without a terminal event: deliberate cancel.
		c.store.MarkLastAssistantInterrupted()
		c.setState(StateIdle, "")
		c.notify(Event{Kind: EventCanceled, State: StateIdle, ConvID: convID})
	}
}

// finalize runs the post-done sequence: reload the index (titles and
// timestamps may have changed server-side), then adopt the server's
// authoritative message rows. Completes before the coordinator returns to
// Idle so a follow-up send observes consistent state. Runs on a fresh
// context: the caller's may have expired during a long stream.
func (c *Coordinator) finalize(convID string) {
	c.setState(StateFinalizing, convID)

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	if err := c.index.Load(ctx); err != nil {
		c.logf("index reload after stream failed: %v", err)
	}
	if c.store.FocusedID() == convID {
		if err := c.store.RefreshFromServer(ctx); err != nil {
			c.logf("conversation refresh after stream failed: %v", err)
		}
	}

	c.setState(StateIdle, "")
	c.emit(Event{Kind: EventDone, State: StateIdle, ConvID: convID})
}

// patchFromChunk converts a wire chunk into a store patch. Content always
// overwrites; optional fields only when present.
func patchFromChunk(ch sse.Chunk) convo.AssistantPatch {
	patch := convo.AssistantPatch{
		Content:         &ch.Content,
		Tokens:          ch.Tokens,
		TokensPerSecond: ch.TokensPerSecond,
		DocumentIDs:     ch.DocumentIDs,
	}
	if ch.Model != "" {
		patch.Model = &ch.Model
	}
	if ch.Provider != "" {
		patch.Provider = &ch.Provider
	}
	return patch
}

// =============================================================================
// CANCELLATION AND COORDINATED MUTATIONS
// =============================================================================

// Cancel stops the active stream, if any, and is a no-op otherwise. After
// Cancel returns, no further store mutations from the cancelled stream will
// occur. The partial reply stays in place; the next refresh either adopts
// the server's recorded message or drops the placeholder.
func (c *Coordinator) Cancel() {
	c.cancelRequested.Store(true)
	c.cancelMgr.cancel()
	c.transport.Close()
}

// FocusConversation cancels any active stream, then moves focus. A stream
// must never keep writing into a conversation the user has left.
func (c *Coordinator) FocusConversation(ctx context.Context, id string) error {
	if c.Busy() {
		c.Cancel()
	}
	err := c.store.Focus(ctx, id)
	if err != nil && api.IsAuth(err) {
		c.emit(Event{Kind: EventAuthExpired, Err: err})
	}
	return err
}

// DeleteConversation deletes a conversation, cancelling the stream first
// when it targets the same conversation. The subscription is closed before
// the DELETE is issued. If the deleted conversation was focused, focus is
// cleared.
func (c *Coordinator) DeleteConversation(ctx context.Context, id string) error {
	if c.StreamingConvID() == id || c.Busy() {
		c.Cancel()
	}

	if err := c.index.Delete(ctx, id); err != nil {
		if api.IsAuth(err) {
			c.emit(Event{Kind: EventAuthExpired, Err: err})
		}
		return err
	}
	if c.store.FocusedID() == id {
		c.store.ClearFocus()
	}
	c.store.ForgetConversation(id)
	return nil
}

// RenameConversation renames through the index and mirrors the title into
// the focused conversation, keeping both views coherent. The stream, if
// any, is unaffected.
func (c *Coordinator) RenameConversation(ctx context.Context, id, title string) error {
	if err := c.index.Rename(ctx, id, title); err != nil {
		if api.IsAuth(err) {
			c.emit(Event{Kind: EventAuthExpired, Err: err})
		}
		return err
	}
	if c.store.FocusedID() == id {
		if err := c.store.SetTitle(title); err != nil {
			c.logf("title mirror failed for %s: %v", id, err)
		}
	}
	return nil
}

// Shutdown cancels any in-flight stream. Called on logout and program exit.
func (c *Coordinator) Shutdown() {
	c.Cancel()
}
