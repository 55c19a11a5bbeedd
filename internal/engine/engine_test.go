// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge

// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/ragchat-tui/internal/api"
	"github.com/jeranaias/ragchat-tui/internal/chatindex"
	"github.com/jeranaias/ragchat-tui/internal/convo"
	"github.com/jeranaias/ragchat-tui/internal/model"
	"github.com/jeranaias/ragchat-tui/internal/sse"
)

// =============================================================================
// FAKE BACKEND (REST SURFACE)
// =============================================================================

type renameCall struct {
	id    string
	title string
}

// backend is an in-memory REST backend satisfying both convo.ChatService and
// chatindex.ChatService. The SSE side is served separately by httptest.
type backend struct {
	mu        sync.Mutex
	convs     map[string]*model.Conversation
	nextID    int
	listCalls int
	getCalls  int

	renames    chan renameCall
	deleteHook func()
}

func newBackend() *backend {
	return &backend{
		convs:   make(map[string]*model.Conversation),
		renames: make(chan renameCall, 4),
	}
}

func (b *backend) addConversation(id, title string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.convs[id] = &model.Conversation{ID: id, Title: title, UpdatedAt: time.Now()}
}

// setMessages installs the server-side authoritative rows, simulating the
// server recording an exchange mid-stream.
func (b *backend) setMessages(id string, msgs []*model.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if conv, ok := b.convs[id]; ok {
		conv.Messages = msgs
	}
}

func (b *backend) GetChat(ctx context.Context, id string) (*model.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.getCalls++
	conv, ok := b.convs[id]
	if !ok {
		return nil, api.NewError(api.ErrorTypeNotFound, "conversation not found", nil)
	}
	return conv.Clone(), nil
}

func (b *backend) SubmitFeedback(ctx context.Context, chatID string, msgID int64, fb model.Feedback, text string) (*model.Message, error) {
	return &model.Message{ID: msgID, Feedback: fb, FeedbackText: text}, nil
}

func (b *backend) UpdateMessage(ctx context.Context, chatID string, msgID int64, content string) (*model.Message, error) {
	return &model.Message{ID: msgID, Content: content}, nil
}

func (b *backend) ListChats(ctx context.Context) ([]model.ConversationSummary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listCalls++
	var out []model.ConversationSummary
	for _, conv := range b.convs {
		out = append(out, conv.Summary())
	}
	return out, nil
}

func (b *backend) CreateChat(ctx context.Context, title string) (model.ConversationSummary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := fmt.Sprintf("conv-%d", b.nextID)
	b.convs[id] = &model.Conversation{ID: id, Title: title, UpdatedAt: time.Now()}
	return b.convs[id].Summary(), nil
}

func (b *backend) UpdateChatTitle(ctx context.Context, id, title string) error {
	b.mu.Lock()
	if conv, ok := b.convs[id]; ok {
		conv.Title = title
	}
	b.mu.Unlock()
	b.renames <- renameCall{id: id, title: title}
	return nil
}

func (b *backend) DeleteChat(ctx context.Context, id string) error {
	if b.deleteHook != nil {
		b.deleteHook()
	}
	b.mu.Lock()
	delete(b.convs, id)
	b.mu.Unlock()
	return nil
}

func (b *backend) UpdateChatTags(ctx context.Context, id string, tagIDs []string) error {
	return nil
}

func (b *backend) ListTags(ctx context.Context) ([]model.Tag, error) {
	return nil, nil
}

// =============================================================================
// EVENT COLLECTION
// =============================================================================

type eventLog struct {
	mu     sync.Mutex
	events []Event
	// contents records the focused conversation's last-message content at
	// each EventChunkApplied, in order.
	contents []string

	firstChunk     chan struct{}
	firstChunkOnce sync.Once
}

func newEventLog() *eventLog {
	return &eventLog{firstChunk: make(chan struct{})}
}

func (l *eventLog) record(store *convo.Store) func(Event) {
	return func(ev Event) {
		l.mu.Lock()
		l.events = append(l.events, ev)
		if ev.Kind == EventChunkApplied {
			if conv := store.Conversation(); conv != nil && conv.LastMessage() != nil {
				l.contents = append(l.contents, conv.LastMessage().Content)
			}
		}
		l.mu.Unlock()
		if ev.Kind == EventFirstChunk {
			l.firstChunkOnce.Do(func() { close(l.firstChunk) })
		}
	}
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Kind
	}
	return out
}

func (l *eventLog) has(kind EventKind) bool {
	for _, k := range l.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

func (l *eventLog) lastErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Err != nil {
			return l.events[i].Err
		}
	}
	return nil
}

func (l *eventLog) chunkContents() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.contents...)
}

func (l *eventLog) waitFirstChunk(t *testing.T) {
	t.Helper()
	select {
	case <-l.firstChunk:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first chunk")
	}
}

// =============================================================================
// FIXTURE
// =============================================================================

type fixture struct {
	backend *backend
	store   *convo.Store
	index   *chatindex.Index
	coord   *Coordinator
	log     *eventLog
}

func newFixture(t *testing.T, handler http.HandlerFunc) *fixture {
	t.Helper()

	be := newBackend()
	store := convo.NewStore(be)
	ix := chatindex.New(be)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	coord := New(store, ix, sse.NewTransport(srv.URL), api.StaticToken("test-token"))
	log := newEventLog()
	coord.OnEvent(log.record(store))
	coord.SetLogf(t.Logf)

	return &fixture{backend: be, store: store, index: ix, coord: coord, log: log}
}

// focusExisting seeds one conversation and focuses it.
func (fx *fixture) focusExisting(t *testing.T, id, title string) {
	t.Helper()
	fx.backend.addConversation(id, title)
	if err := fx.index.Load(context.Background()); err != nil {
		t.Fatalf("index load failed: %v", err)
	}
	if err := fx.store.Focus(context.Background(), id); err != nil {
		t.Fatalf("focus failed: %v", err)
	}
}

func writeFrame(t *testing.T, w http.ResponseWriter, data string) {
	t.Helper()
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for send to finish")
		return nil
	}
}

// =============================================================================
// HAPPY PATH
// =============================================================================

func TestSendStreamsAndFinalizes(t *testing.T) {
	var fx *fixture
	fx = newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		writeFrame(t, w, `{"content":"Hel"}`)
		writeFrame(t, w, `{"content":"Hello there"}`)
		// Server records the exchange before the terminal frame, as the
		// real backend does.
		fx.backend.setMessages("c1", []*model.Message{
			{ID: 41, ConvID: "c1", Role: model.RoleUser, Content: "hi"},
			{ID: 42, ConvID: "c1", Role: model.RoleAssistant, Content: "Hello there"},
		})
		writeFrame(t, w, `{"content":"Hello there","done":true,"id":42,"tokens":12}`)
	})
	fx.focusExisting(t, "c1", "Greetings")

	if err := fx.coord.Send(context.Background(), "hi", nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if got := fx.coord.State(); got != StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
	if !fx.log.has(EventFirstChunk) || !fx.log.has(EventDone) {
		t.Errorf("missing expected events: %v", fx.log.kinds())
	}

	conv := fx.store.Conversation()
	if conv == nil || len(conv.Messages) != 2 {
		t.Fatalf("conversation = %+v, want 2 authoritative messages", conv)
	}
	for _, msg := range conv.Messages {
		if model.IsSentinelID(msg.ID) {
			t.Errorf("sentinel id %d survived finalization", msg.ID)
		}
	}
	if got := conv.Messages[1].Content; got != "Hello there" {
		t.Errorf("assistant content = %q", got)
	}

	// Finalization reloads the index after the initial load.
	fx.backend.mu.Lock()
	listCalls := fx.backend.listCalls
	fx.backend.mu.Unlock()
	if listCalls < 2 {
		t.Errorf("list calls = %d, want reload after stream", listCalls)
	}
}

func TestSendAppliesChunksByOverwrite(t *testing.T) {
	fx := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		// A later frame with less content than an earlier one still wins.
		writeFrame(t, w, `{"content":"Hello world"}`)
		writeFrame(t, w, `{"content":"Hello"}`)
		writeFrame(t, w, `{"content":"Hi","done":true}`)
	})
	fx.focusExisting(t, "c1", "Chat")

	if err := fx.coord.Send(context.Background(), "hi", nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	got := fx.log.chunkContents()
	want := []string{"Hello world", "Hello"}
	if len(got) != len(want) {
		t.Fatalf("chunk contents = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunk %d content = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSendDoneWithoutChunks(t *testing.T) {
	fx := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		writeFrame(t, w, "[DONE]")
	})
	fx.focusExisting(t, "c1", "Chat")

	if err := fx.coord.Send(context.Background(), "hi", nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !fx.log.has(EventDone) {
		t.Errorf("events = %v, want done", fx.log.kinds())
	}
	if fx.log.has(EventFirstChunk) {
		t.Error("first-chunk event without any chunk")
	}
	if got := fx.coord.State(); got != StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
}

func TestSendOutlivesCallerContextDeadline(t *testing.T) {
	var fx *fixture
	fx = newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		// The stream takes ~200ms, well past the caller's deadline below.
		for i := 1; i <= 5; i++ {
			writeFrame(t, w, fmt.Sprintf(`{"content":"chunk %d"}`, i))
			time.Sleep(40 * time.Millisecond)
		}
		fx.backend.setMessages("c1", []*model.Message{
			{ID: 51, ConvID: "c1", Role: model.RoleUser, Content: "hi"},
			{ID: 52, ConvID: "c1", Role: model.RoleAssistant, Content: "full reply"},
		})
		writeFrame(t, w, `{"content":"full reply","done":true,"id":52}`)
	})
	fx.focusExisting(t, "c1", "Chat")

	// The caller's deadline bounds only the pre-stream REST calls; the
	// server controls stream duration.
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	if err := fx.coord.Send(ctx, "hi", nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if fx.log.has(EventStreamFailed) {
		t.Fatalf("healthy stream aborted by caller deadline: %v", fx.log.lastErr())
	}
	if !fx.log.has(EventDone) {
		t.Errorf("events = %v, want done", fx.log.kinds())
	}
	conv := fx.store.Conversation()
	if got := conv.LastMessage().Content; got != "full reply" {
		t.Errorf("content = %q, want full reply", got)
	}
	for _, msg := range conv.Messages {
		if model.IsSentinelID(msg.ID) {
			t.Errorf("sentinel id %d survived finalization", msg.ID)
		}
	}
}

// =============================================================================
// VALIDATION AND BUSY REJECTION
// =============================================================================

func TestSendRejectsEmptyContent(t *testing.T) {
	fx := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	if err := fx.coord.Send(context.Background(), "   ", nil); err != ErrEmptyContent {
		t.Errorf("error = %v, want ErrEmptyContent", err)
	}
}

func TestSendRejectsWhileBusy(t *testing.T) {
	release := make(chan struct{})
	fx := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		writeFrame(t, w, `{"content":"thinking"}`)
		select {
		case <-release:
		case <-r.Context().Done():
		}
		writeFrame(t, w, `{"content":"done","done":true}`)
	})
	fx.focusExisting(t, "c1", "Chat")

	done := make(chan error, 1)
	go func() { done <- fx.coord.Send(context.Background(), "first", nil) }()
	fx.log.waitFirstChunk(t)

	if err := fx.coord.Send(context.Background(), "second", nil); err != ErrBusy {
		t.Errorf("concurrent send error = %v, want ErrBusy", err)
	}

	close(release)
	if err := waitDone(t, done); err != nil {
		t.Fatalf("first send failed: %v", err)
	}
	if got := fx.coord.State(); got != StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
}

// =============================================================================
// FIRST MESSAGE: CONVERSATION CREATION AND TITLE DERIVATION
// =============================================================================

func TestSendCreatesConversationWhenNoneFocused(t *testing.T) {
	fx := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		writeFrame(t, w, `{"content":"ok","done":true}`)
	})

	prompt := "How do I deploy this to production with zero downtime"
	if err := fx.coord.Send(context.Background(), prompt, nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if fx.store.FocusedID() == "" {
		t.Fatal("no conversation focused after send")
	}
	if fx.index.Len() != 1 {
		t.Errorf("index len = %d, want 1", fx.index.Len())
	}

	// The fire-and-forget rename carries the derived title: first 30 runes
	// plus ellipsis.
	select {
	case call := <-fx.backend.renames:
		want := "How do I deploy this to produc..."
		if call.title != want {
			t.Errorf("rename title = %q, want %q", call.title, want)
		}
		if call.id != fx.store.FocusedID() {
			t.Errorf("rename id = %q, want %q", call.id, fx.store.FocusedID())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("rename never reached the server")
	}
}

func TestSendKeepsCustomTitle(t *testing.T) {
	fx := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		writeFrame(t, w, `{"content":"ok","done":true}`)
	})
	fx.focusExisting(t, "c1", "My Research Notes")

	if err := fx.coord.Send(context.Background(), "a new question", nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case call := <-fx.backend.renames:
		t.Errorf("unexpected rename to %q", call.title)
	case <-time.After(100 * time.Millisecond):
	}
	if got := fx.store.Title(); got != "My Research Notes" {
		t.Errorf("title = %q, want untouched", got)
	}
}

// =============================================================================
// FAILURE AND CANCELLATION
// =============================================================================

func TestTransportFailurePreservesPartialContent(t *testing.T) {
	var requests int
	var mu sync.Mutex
	fx := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		first := requests == 1
		mu.Unlock()
		if first {
			// Connection drops mid-reply with no terminal frame.
			writeFrame(t, w, `{"content":"partial answer"}`)
			return
		}
		writeFrame(t, w, `{"content":"full answer","done":true}`)
	})
	fx.focusExisting(t, "c1", "Chat")

	if err := fx.coord.Send(context.Background(), "first", nil); err != nil {
		t.Fatalf("Send returned pre-stream error: %v", err)
	}

	if !fx.log.has(EventStreamFailed) {
		t.Fatalf("events = %v, want stream failure", fx.log.kinds())
	}
	if err := fx.log.lastErr(); api.TypeOf(err) != api.ErrorTypeTransport {
		t.Errorf("failure type = %v, want transport", api.TypeOf(err))
	}

	conv := fx.store.Conversation()
	last := conv.LastMessage()
	if last.Content != "partial answer" {
		t.Errorf("partial content = %q, want preserved", last.Content)
	}
	if !last.Interrupted || last.Streaming {
		t.Errorf("message flags = streaming:%v interrupted:%v", last.Streaming, last.Interrupted)
	}

	// No automatic retry happened, and a fresh send succeeds.
	mu.Lock()
	if requests != 1 {
		t.Errorf("requests = %d, want 1 before second send", requests)
	}
	mu.Unlock()

	if err := fx.coord.Send(context.Background(), "second", nil); err != nil {
		t.Fatalf("second send failed: %v", err)
	}
	if !fx.log.has(EventDone) {
		t.Errorf("events = %v, want done after recovery", fx.log.kinds())
	}
}

func TestServerErrorFrameSurfacesStreamError(t *testing.T) {
	fx := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		writeFrame(t, w, `{"content":"partial"}`)
		writeFrame(t, w, `{"content":"model unavailable","error":true}`)
	})
	fx.focusExisting(t, "c1", "Chat")

	if err := fx.coord.Send(context.Background(), "hi", nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if !fx.log.has(EventStreamFailed) {
		t.Fatalf("events = %v, want stream failure", fx.log.kinds())
	}
	err := fx.log.lastErr()
	if api.TypeOf(err) != api.ErrorTypeStream {
		t.Errorf("failure type = %v, want stream", api.TypeOf(err))
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Errorf("error = %v, want server's message", err)
	}
	if got := fx.store.Conversation().LastMessage().Content; got != "partial" {
		t.Errorf("partial content = %q, want preserved", got)
	}
}

func TestOpenFailureMarksInterrupted(t *testing.T) {
	fx := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusInternalServerError)
	})
	fx.focusExisting(t, "c1", "Chat")

	if err := fx.coord.Send(context.Background(), "hi", nil); err != nil {
		t.Fatalf("Send returned pre-stream error: %v", err)
	}
	if !fx.log.has(EventStreamFailed) {
		t.Fatalf("events = %v, want stream failure", fx.log.kinds())
	}
	if api.TypeOf(fx.log.lastErr()) != api.ErrorTypeServer {
		t.Errorf("failure type = %v, want server", api.TypeOf(fx.log.lastErr()))
	}

	last := fx.store.Conversation().LastMessage()
	if !last.Interrupted {
		t.Error("placeholder not marked interrupted after failed open")
	}
	if got := fx.coord.State(); got != StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
}

func TestCancelStopsStreamAndKeepsPartial(t *testing.T) {
	fx := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		writeFrame(t, w, `{"content":"partial"}`)
		<-r.Context().Done()
	})
	fx.focusExisting(t, "c1", "Chat")

	done := make(chan error, 1)
	go func() { done <- fx.coord.Send(context.Background(), "hi", nil) }()
	fx.log.waitFirstChunk(t)

	fx.coord.Cancel()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if !fx.log.has(EventCanceled) {
		t.Errorf("events = %v, want canceled", fx.log.kinds())
	}
	if fx.log.has(EventStreamFailed) || fx.log.has(EventDone) {
		t.Errorf("cancel must not surface failure or completion: %v", fx.log.kinds())
	}

	last := fx.store.Conversation().LastMessage()
	if last.Content != "partial" {
		t.Errorf("partial content = %q, want preserved", last.Content)
	}
	if !last.Interrupted {
		t.Error("canceled message not marked interrupted")
	}
	if got := fx.coord.State(); got != StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
}

func TestDeleteDuringStreamClosesStreamFirst(t *testing.T) {
	streamClosed := make(chan struct{})
	fx := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		writeFrame(t, w, `{"content":"partial"}`)
		<-r.Context().Done()
		close(streamClosed)
	})
	fx.focusExisting(t, "c1", "Chat")

	// The DELETE must not reach the server until the stream teardown has
	// begun; block it on the server observing the disconnect.
	fx.backend.deleteHook = func() {
		select {
		case <-streamClosed:
		case <-time.After(2 * time.Second):
			t.Error("delete issued before the stream was closed")
		}
	}

	done := make(chan error, 1)
	go func() { done <- fx.coord.Send(context.Background(), "hi", nil) }()
	fx.log.waitFirstChunk(t)

	if err := fx.coord.DeleteConversation(context.Background(), "c1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if fx.store.FocusedID() != "" {
		t.Error("deleted conversation still focused")
	}
	if _, ok := fx.index.Get("c1"); ok {
		t.Error("deleted conversation still indexed")
	}
}

// memCache is an in-memory convo.ConversationCache.
type memCache struct {
	mu    sync.Mutex
	convs map[string]*model.Conversation
}

func newMemCache() *memCache {
	return &memCache{convs: make(map[string]*model.Conversation)}
}

func (m *memCache) PutConversation(conv *model.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs[conv.ID] = conv.Clone()
	return nil
}

func (m *memCache) GetConversation(id string) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[id]
	if !ok {
		return nil, api.NewError(api.ErrorTypeNotFound, "not cached", nil)
	}
	return conv.Clone(), nil
}

func (m *memCache) DeleteConversation(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.convs, id)
	return nil
}

func (m *memCache) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.convs[id]
	return ok
}

func TestDeleteConversationPurgesLocalCache(t *testing.T) {
	fx := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	cache := newMemCache()
	fx.store.SetCache(cache)
	fx.focusExisting(t, "c1", "Doomed")

	if !cache.has("c1") {
		t.Fatal("focus should have written the conversation through to the cache")
	}

	if err := fx.coord.DeleteConversation(context.Background(), "c1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	// A deleted conversation must not survive in the cache, or the offline
	// read-back path would resurrect it.
	if cache.has("c1") {
		t.Error("cached copy survived the delete")
	}
	if fx.store.FocusedID() != "" {
		t.Error("deleted conversation still focused")
	}
}

func TestFocusSwitchDuringStreamCancels(t *testing.T) {
	fx := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		writeFrame(t, w, `{"content":"partial"}`)
		<-r.Context().Done()
	})
	fx.focusExisting(t, "c1", "Chat")
	fx.backend.addConversation("c2", "Other")

	done := make(chan error, 1)
	go func() { done <- fx.coord.Send(context.Background(), "hi", nil) }()
	fx.log.waitFirstChunk(t)

	if err := fx.coord.FocusConversation(context.Background(), "c2"); err != nil {
		t.Fatalf("focus switch failed: %v", err)
	}
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if got := fx.store.FocusedID(); got != "c2" {
		t.Errorf("focused = %q, want c2", got)
	}
	if got := fx.coord.State(); got != StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
}

// =============================================================================
// RENAME FACADE
// =============================================================================

func TestRenameConversationMirrorsFocusedTitle(t *testing.T) {
	fx := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	fx.focusExisting(t, "c1", "Old Title")

	if err := fx.coord.RenameConversation(context.Background(), "c1", "New Title"); err != nil {
		t.Fatalf("rename failed: %v", err)
	}

	if got := fx.store.Title(); got != "New Title" {
		t.Errorf("store title = %q", got)
	}
	if got, _ := fx.index.Get("c1"); got.Title != "New Title" {
		t.Errorf("index title = %q", got.Title)
	}
	<-fx.backend.renames
}
