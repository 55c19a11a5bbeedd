// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api is the REST client for the ragchat server.
//
// All conversation and message state lives on the server; this client covers
// the chat endpoints (list, fetch, create, rename, delete, tags, feedback,
// message edit) and classifies every failure into the shared error taxonomy.
// The streaming endpoint is handled separately by the sse package.
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/ragchat-tui/internal/model"
)

// Configuration constants for the REST client.
const (
	// DefaultTimeout is the default timeout for API requests.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the number of attempts for idempotent requests.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	// SECURITY: Response size limit prevents memory exhaustion.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB

	// defaultRequestsPerSecond paces REST calls so list refreshes during
	// streaming cannot flood the server.
	defaultRequestsPerSecond = 10
)

// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
// Shared HTTP client for all REST requests.
// SECURITY: TLS 1.2+ enforced, verification required.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
	Timeout: DefaultTimeout,
}

// =============================================================================
// TOKEN SOURCE
// =============================================================================

// TokenSource supplies the current bearer token. The credential store
// implements this; tests use StaticToken.
type TokenSource interface {
	Token() string
}

// StaticToken is a fixed-value TokenSource.
type StaticToken string

// Token returns the static token value.
func (t StaticToken) Token() string { return string(t) }

// =============================================================================
// CLIENT
// =============================================================================

// Client communicates with the ragchat server's REST API.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
}

// NewClient creates a client for the given server base URL.
func NewClient(baseURL string, tokens TokenSource) *Client {
	return &Client{
		baseURL:    trimTrailingSlash(baseURL),
		tokens:     tokens,
		httpClient: sharedHTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(defaultRequestsPerSecond), defaultRequestsPerSecond),
		maxRetries: DefaultMaxRetries,
	}
}

// WithHTTPClient returns a copy using a custom HTTP client (tests).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	clone := *c
	clone.httpClient = hc
	return &clone
}

// WithMaxRetries returns a copy with a custom retry budget.
func (c *Client) WithMaxRetries(n int) *Client {
	clone := *c
	if n < 1 {
		n = 1
	}
	clone.maxRetries = n
	return &clone
}

// BaseURL returns the server base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// trimTrailingSlash normalizes the configured base URL.
func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// setHeaders applies standard headers including the bearer token.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
}

// calculateBackoff returns the exponential backoff delay for an attempt.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}

// =============================================================================
// REQUEST EXECUTION
// =============================================================================

// do executes one API call. Idempotent requests (GETs) are retried on
// network errors, 429 and 5xx; mutations are never retried automatically.
func (c *Client) do(ctx context.Context, method, path string, body, out any, idempotent bool) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return NewError(ErrorTypeNetwork, "request cancelled", err)
	}

	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return NewError(ErrorTypeValidation, "failed to encode request", err)
		}
	}

	attempts := 1
	if idempotent {
		attempts = c.maxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return NewError(ErrorTypeNetwork, "request cancelled", ctx.Err())
			case <-time.After(c.calculateBackoff(attempt)):
			}
		}

		var reqBody io.Reader
		if bodyBytes != nil {
			reqBody = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return NewError(ErrorTypeNetwork, "failed to create request", err)
		}
		c.setHeaders(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return NewError(ErrorTypeNetwork, "request cancelled", err)
			}
			lastErr = NewError(ErrorTypeNetwork, "could not reach server", err)
			continue
		}

		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
		resp.Body.Close()
		if readErr != nil {
			lastErr = NewError(ErrorTypeNetwork, "failed to read response", readErr)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out == nil || len(respBody) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return NewError(ErrorTypeParse, "malformed server response", err)
			}
			return nil
		}

		apiErr := c.classifyResponse(resp, respBody)
		if idempotent && retryableStatus(resp.StatusCode) {
			lastErr = apiErr
			continue
		}
		return apiErr
	}

	return lastErr
}

// retryableStatus reports whether an idempotent request may be retried.
func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// classifyResponse maps an HTTP error response into the error taxonomy.
func (c *Client) classifyResponse(resp *http.Response, body []byte) *ClientError {
	var parsed apiErrorResponse
	_ = json.Unmarshal(body, &parsed)
	msg := parsed.message()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if msg == "" {
			msg = "session expired, please sign in again"
		}
		return NewError(ErrorTypeAuth, msg, ErrAuthFailed)
	case resp.StatusCode == http.StatusNotFound:
		if msg == "" {
			msg = "not found"
		}
		return NewError(ErrorTypeNotFound, msg, nil)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		if msg == "" {
			msg = "invalid request"
		}
		return NewError(ErrorTypeValidation, msg, nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		return NewError(ErrorTypeServer, "server is busy, try again shortly", parseRetryAfter(resp))
	case resp.StatusCode >= 500:
		if msg == "" {
			msg = "server error"
		}
		return NewError(ErrorTypeServer, msg, nil)
	default:
		if msg == "" {
			msg = "unexpected response " + strconv.Itoa(resp.StatusCode)
		}
		return NewError(ErrorTypeServer, msg, nil)
	}
}

// checkStatus converts a {success, error} acknowledgement into an error.
func checkStatus(st statusResponse) error {
	if st.Success {
		return nil
	}
	msg := st.Error
	if msg == "" {
		msg = "server rejected the request"
	}
	return NewError(ErrorTypeServer, msg, nil)
}

// =============================================================================
// CHAT ENDPOINTS
// =============================================================================

// ListChats fetches all conversation summaries, most recently updated first.
func (c *Client) ListChats(ctx context.Context) ([]model.ConversationSummary, error) {
	var list []model.ConversationSummary
	if err := c.do(ctx, http.MethodGet, "/chats", nil, &list, true); err != nil {
		return nil, err
	}
	return list, nil
}

// GetChat fetches one conversation including its messages.
func (c *Client) GetChat(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	if err := c.do(ctx, http.MethodGet, "/chats/"+url.PathEscape(id), nil, &conv, true); err != nil {
		return nil, err
	}
	return &conv, nil
}

// CreateChat creates a conversation and returns its summary.
func (c *Client) CreateChat(ctx context.Context, title string) (model.ConversationSummary, error) {
	var created struct {
		ID        string    `json:"id"`
		Title     string    `json:"title"`
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
	}
	req := createChatRequest{Title: title}
	if err := c.do(ctx, http.MethodPost, "/chats", req, &created, false); err != nil {
		return model.ConversationSummary{}, err
	}
	return model.ConversationSummary{
		ID:        created.ID,
		Title:     created.Title,
		UpdatedAt: created.UpdatedAt,
	}, nil
}

// UpdateChatTitle renames a conversation.
func (c *Client) UpdateChatTitle(ctx context.Context, id, title string) error {
	var st statusResponse
	req := updateChatRequest{Title: title}
	if err := c.do(ctx, http.MethodPatch, "/chats/"+url.PathEscape(id), req, &st, false); err != nil {
		return err
	}
	return checkStatus(st)
}

// DeleteChat deletes a conversation.
func (c *Client) DeleteChat(ctx context.Context, id string) error {
	var st statusResponse
	if err := c.do(ctx, http.MethodDelete, "/chats/"+url.PathEscape(id), nil, &st, false); err != nil {
		return err
	}
	return checkStatus(st)
}

// UpdateChatTags replaces the tag set of a conversation.
func (c *Client) UpdateChatTags(ctx context.Context, id string, tagIDs []string) error {
	var st statusResponse
	req := updateTagsRequest{Tags: tagIDs}
	if req.Tags == nil {
		req.Tags = []string{}
	}
	if err := c.do(ctx, http.MethodPut, "/chats/"+url.PathEscape(id)+"/tags", req, &st, false); err != nil {
		return err
	}
	return checkStatus(st)
}

// SubmitFeedback records a rating on a message and returns the updated
// message. A FeedbackNone value clears an earlier rating.
func (c *Client) SubmitFeedback(ctx context.Context, chatID string, msgID int64, fb model.Feedback, text string) (*model.Message, error) {
	req := feedbackRequest{FeedbackText: text}
	if fb.IsSet() {
		s := string(fb)
		req.Feedback = &s
	}

	path := "/chats/" + url.PathEscape(chatID) + "/messages/" + strconv.FormatInt(msgID, 10) + "/feedback"
	var msg model.Message
	if err := c.do(ctx, http.MethodPost, path, req, &msg, false); err != nil {
		return nil, err
	}
	return &msg, nil
}

// UpdateMessage replaces a message's content and returns the updated message.
func (c *Client) UpdateMessage(ctx context.Context, chatID string, msgID int64, content string) (*model.Message, error) {
	path := "/chats/" + url.PathEscape(chatID) + "/messages/" + strconv.FormatInt(msgID, 10)
	var msg model.Message
	if err := c.do(ctx, http.MethodPatch, path, updateMessageRequest{Content: content}, &msg, false); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListTags fetches the user's tag catalog.
func (c *Client) ListTags(ctx context.Context) ([]model.Tag, error) {
	var tags []model.Tag
	if err := c.do(ctx, http.MethodGet, "/tags", nil, &tags, true); err != nil {
		return nil, err
	}
	return tags, nil
}
