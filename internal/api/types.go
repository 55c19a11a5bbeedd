// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

// Request and response bodies for the ragchat server's REST surface.
// Conversations and messages deserialize directly into the model package.

// createChatRequest is the body of POST /chats.
type createChatRequest struct {
	Title string `json:"title"`
}

// updateChatRequest is the body of PATCH /chats/{id}.
type updateChatRequest struct {
	Title string `json:"title,omitempty"`
}

// updateTagsRequest is the body of PUT /chats/{id}/tags.
type updateTagsRequest struct {
	Tags []string `json:"tags"`
}

// feedbackRequest is the body of POST /chats/{id}/messages/{msgId}/feedback.
// Feedback is nullable on the wire: sending null clears an earlier rating.
type feedbackRequest struct {
	Feedback     *string `json:"feedback"`
	FeedbackText string  `json:"feedback_text,omitempty"`
}

// updateMessageRequest is the body of PATCH /chats/{id}/messages/{msgId}.
type updateMessageRequest struct {
	Content string `json:"content"`
}

// statusResponse is the generic mutation acknowledgement.
type statusResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// apiErrorResponse is the server's error body shape.
type apiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	// Some endpoints report errors flat.
	Message string `json:"message,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// message extracts the most specific error text available.
func (r *apiErrorResponse) message() string {
	switch {
	case r.Error.Message != "":
		return r.Error.Message
	case r.Message != "":
		return r.Message
	case r.Detail != "":
		return r.Detail
	default:
		return ""
	}
}
