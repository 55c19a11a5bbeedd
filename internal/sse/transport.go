// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sse implements the stream transport: a one-shot, single-subscriber
// server-sent-events connection carrying one assistant reply.
//
// At most one subscription is live per Transport. Frames carry the full
// assistant content so far (cumulative, not deltas); the subscriber applies
// each chunk by overwrite, never by concatenation. The sequence of events is
// finite and non-restartable: after a terminal event the subscription is
// spent and a new Open is required for the next prompt.
package sse

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/ragchat-tui/internal/api"
)

// ErrAlreadyOpen is returned by Open while another subscription is live.
// Single-stream enforcement belongs here so it is testable in isolation;
// the coordinator adds its own busy-state guard on top.
var ErrAlreadyOpen = api.NewError(api.ErrorTypeBusy, "a response is already streaming", nil)

// PERFORMANCE: Connection pooling for streaming requests.
// No client timeout: stream duration is controlled by the server and the
// request context.
// SECURITY: TLS 1.2+ enforced, verification required.
var sharedStreamingClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
}

// =============================================================================
// WIRE TYPES
// =============================================================================

// Chunk is one decoded stream frame. Content is cumulative. Optional fields
// are pointers so a patch can distinguish "absent" from zero values.
type Chunk struct {
	Content         string     `json:"content"`
	Tokens          *int       `json:"tokens,omitempty"`
	TokensPerSecond *float64   `json:"tokens_per_second,omitempty"`
	Model           string     `json:"model,omitempty"`
	Provider        string     `json:"provider,omitempty"`
	DocumentIDs     []string   `json:"document_ids,omitempty"`
	ID              *int64     `json:"id,omitempty"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	Done            bool       `json:"done,omitempty"`
	Error           bool       `json:"error,omitempty"`
}

// EventKind identifies the type of a subscription event.
type EventKind int

const (
	// EventChunk carries cumulative content for the in-flight reply.
	EventChunk EventKind = iota
	// EventDone is terminal: the reply is complete. The chunk may carry
	// final fields (server message id, token counts).
	EventDone
	// EventError is terminal: the server acknowledged a failure mid-reply.
	EventError
	// EventTransportError is terminal: the connection failed or a frame
	// could not be parsed.
	EventTransportError
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventChunk:
		return "chunk"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	case EventTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// Event is one item in the subscription's event sequence. Err is set for
// EventError and EventTransportError.
type Event struct {
	Kind  EventKind
	Chunk Chunk
	Err   error
}

// =============================================================================
// TRANSPORT
// =============================================================================

// Transport owns at most one live SSE connection to the ragchat server.
type Transport struct {
	mu      sync.Mutex
	baseURL string
	client  *http.Client
	active  *Subscription
}

// NewTransport creates a transport for the given server base URL.
func NewTransport(baseURL string) *Transport {
	return &Transport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  sharedStreamingClient,
	}
}

// WithHTTPClient returns a copy using a custom HTTP client (tests).
func (t *Transport) WithHTTPClient(hc *http.Client) *Transport {
	return &Transport{baseURL: t.baseURL, client: hc}
}

// Active reports whether a subscription is currently live.
func (t *Transport) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active != nil
}

// Close closes the active subscription, if any. Idempotent.
func (t *Transport) Close() {
	t.mu.Lock()
	sub := t.active
	t.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

// release clears the active slot once a subscription has terminated.
func (t *Transport) release(sub *Subscription) {
	t.mu.Lock()
	if t.active == sub {
		t.active = nil
	}
	t.mu.Unlock()
}

// streamURL builds the SSE request URL. The bearer token travels as a query
// parameter (the endpoint mirrors the browser client, where EventSource
// cannot set headers) and a UUID nonce defeats intermediary caches.
func (t *Transport) streamURL(convID, prompt string, contextDocIDs []string, token string) string {
	values := url.Values{}
	values.Set("content", prompt)
	if len(contextDocIDs) > 0 {
		values.Set("context_documents", strings.Join(contextDocIDs, ","))
	}
	if token != "" {
		values.Set("token", token)
	}
	values.Set("_", uuid.NewString())
	return t.baseURL + "/chats/" + url.PathEscape(convID) + "/stream?" + values.Encode()
}

// Open starts streaming the assistant's reply to prompt in the given
// conversation. It fails with ErrAlreadyOpen while another subscription is
// live. The returned subscription emits a finite sequence of events ending
// in exactly one terminal event, except after Close, where the terminal
// "canceled" transport error is suppressed and the channel simply closes.
func (t *Transport) Open(ctx context.Context, convID, prompt string, contextDocIDs []string, token string) (*Subscription, error) {
	t.mu.Lock()
	if t.active != nil {
		t.mu.Unlock()
		return nil, ErrAlreadyOpen
	}
	// Reserve the slot before releasing the lock so concurrent opens fail
	// fast instead of racing the HTTP dial.
	sub := &Subscription{
		transport: t,
		events:    make(chan Event, 64),
	}
	t.active = sub
	t.mu.Unlock()

	streamCtx, cancel := context.WithCancel(ctx)
	sub.cancel = cancel

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.streamURL(convID, prompt, contextDocIDs, token), nil)
	if err != nil {
		cancel()
		t.release(sub)
		return nil, api.NewError(api.ErrorTypeNetwork, "failed to create stream request", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Connection", "keep-alive")

	resp, err := t.client.Do(req)
	if err != nil {
		cancel()
		t.release(sub)
		return nil, api.NewError(api.ErrorTypeNetwork, "could not reach server", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		t.release(sub)
		return nil, classifyOpenFailure(resp.StatusCode, body)
	}

	go sub.run(resp.Body)
	return sub, nil
}

// classifyOpenFailure maps a non-200 stream handshake into the taxonomy.
func classifyOpenFailure(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return api.NewError(api.ErrorTypeAuth, "session expired, please sign in again", api.ErrAuthFailed)
	case status == http.StatusNotFound:
		return api.NewError(api.ErrorTypeNotFound, "conversation not found", nil)
	case status >= 500:
		if msg == "" {
			msg = "server error"
		}
		return api.NewError(api.ErrorTypeServer, msg, nil)
	default:
		if msg == "" {
			msg = "stream rejected"
		}
		return api.NewError(api.ErrorTypeTransport, msg, nil)
	}
}

// =============================================================================
// SUBSCRIPTION
// =============================================================================

// Subscription is one live stream. Events are read from Events until the
// channel closes; the channel closes immediately after the terminal event.
type Subscription struct {
	transport *Transport
	events    chan Event
	cancel    context.CancelFunc

	closeRequested atomic.Bool
	closeOnce      sync.Once
}

// Events returns the subscription's event channel.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close cancels the stream. Idempotent. After Close, the event channel
// drains and closes without a terminal event: a deliberate cancel is not an
// error.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.closeRequested.Store(true)
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// run reads frames until a terminal condition, then releases the transport
// slot and closes the event channel.
func (s *Subscription) run(body io.ReadCloser) {
	defer func() {
		body.Close()
		if s.cancel != nil {
			s.cancel()
		}
		s.transport.release(s)
		close(s.events)
	}()

	reader := NewReader(body)
	for {
		_, data, err := reader.ReadEvent()
		if err != nil {
			// Deliberate close: suppress the canceled transport error.
			if s.closeRequested.Load() {
				return
			}
			if errors.Is(err, context.Canceled) {
				return
			}
			if err == io.EOF {
				s.events <- Event{
					Kind: EventTransportError,
					Err:  api.NewError(api.ErrorTypeTransport, "connection closed unexpectedly", nil),
				}
				return
			}
			s.events <- Event{
				Kind: EventTransportError,
				Err:  api.NewError(api.ErrorTypeTransport, "connection lost", err),
			}
			return
		}

		if string(data) == "[DONE]" {
			s.events <- Event{Kind: EventDone}
			return
		}

		var chunk Chunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			s.events <- Event{
				Kind: EventTransportError,
				Err:  api.NewError(api.ErrorTypeParse, "malformed stream frame", err),
			}
			return
		}

		switch {
		case chunk.Error:
			msg := chunk.Content
			if msg == "" {
				msg = "the server reported a stream error"
			}
			s.events <- Event{
				Kind:  EventError,
				Chunk: chunk,
				Err:   api.NewError(api.ErrorTypeStream, msg, nil),
			}
			return
		case chunk.Done:
			s.events <- Event{Kind: EventDone, Chunk: chunk}
			return
		default:
			if s.closeRequested.Load() {
				// Late frame after a close: drop it.
				return
			}
			s.events <- Event{Kind: EventChunk, Chunk: chunk}
		}
	}
}
