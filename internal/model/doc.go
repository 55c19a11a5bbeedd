// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations, messages,
// and tags as exchanged with the ragchat server.
//
// Server-assigned message IDs are positive. Messages created optimistically
// on the client carry strictly negative sentinel IDs until a refresh adopts
// the server's authoritative rows; the sign of an ID is therefore enough to
// distinguish confirmed from placeholder state.
package model
