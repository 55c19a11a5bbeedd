// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cache provides a local SQLite cache for conversations and drafts.
//
// The cache makes the UI responsive when the server is slow or unreachable:
// the sidebar and the last-read copy of each conversation render from cache
// instantly while fresh data loads, and unsent input survives restarts as a
// per-conversation draft. Cached data is advisory; the server remains the
// source of truth and cache rows are replaced wholesale on every refresh.
package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/ragchat-tui/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrClosed   = errors.New("cache is closed")
	ErrNotFound = errors.New("not in cache")
)

// DefaultMaxConversations bounds the cache when no limit is configured.
const DefaultMaxConversations = 200

// schema holds the cache tables. Conversations are stored as JSON blobs;
// the cache never queries inside them, so columns for individual fields
// would only add migration burden.
const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS drafts (
	conv_id    TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);
`

// =============================================================================
// CACHE
// =============================================================================

// Cache is the local conversation and draft store.
type Cache struct {
	mu     sync.Mutex
	db     *sql.DB
	maxCap int
	closed bool
}

// DefaultPath returns the default cache database location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".ragchat", "cache.db"), nil
}

// Open opens (creating if needed) the cache database at path.
// maxConversations bounds the conversation table; 0 uses the default.
func Open(path string, maxConversations int) (*Cache, error) {
	if maxConversations <= 0 {
		maxConversations = DefaultMaxConversations
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}

	return &Cache{db: db, maxCap: maxConversations}, nil
}

// Close closes the cache database.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// PutConversation stores or replaces a conversation, pruning the oldest
// entries past the cap.
func (c *Cache) PutConversation(conv *model.Conversation) error {
	if conv == nil || conv.ID == "" {
		return errors.New("conversation must have an id")
	}

	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to encode conversation: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	_, err = c.db.Exec(`
		INSERT INTO conversations (id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, conv.ID, string(data), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to store conversation: %w", err)
	}

	// Prune past the cap, oldest first.
	_, err = c.db.Exec(`
		DELETE FROM conversations WHERE id IN (
			SELECT id FROM conversations ORDER BY updated_at DESC, rowid DESC LIMIT -1 OFFSET ?
		)
	`, c.maxCap)
	if err != nil {
		return fmt.Errorf("failed to prune cache: %w", err)
	}
	return nil
}

// GetConversation loads a cached conversation. Returns ErrNotFound when the
// conversation is not cached.
func (c *Cache) GetConversation(id string) (*model.Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	var data string
	err := c.db.QueryRow("SELECT data FROM conversations WHERE id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation: %w", err)
	}

	var conv model.Conversation
	if err := json.Unmarshal([]byte(data), &conv); err != nil {
		// A corrupt row is useless; drop it rather than fail every read.
		c.db.Exec("DELETE FROM conversations WHERE id = ?", id)
		return nil, ErrNotFound
	}
	return &conv, nil
}

// DeleteConversation removes a conversation and its draft from the cache.
func (c *Cache) DeleteConversation(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	if _, err := c.db.Exec("DELETE FROM conversations WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if _, err := c.db.Exec("DELETE FROM drafts WHERE conv_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
	}
	return nil
}

// =============================================================================
// DRAFTS
// =============================================================================

// SaveDraft persists unsent input for a conversation. An empty draft deletes
// the row.
func (c *Cache) SaveDraft(convID, content string) error {
	if convID == "" {
		return errors.New("draft requires a conversation id")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	if content == "" {
		_, err := c.db.Exec("DELETE FROM drafts WHERE conv_id = ?", convID)
		return err
	}

	_, err := c.db.Exec(`
		INSERT INTO drafts (conv_id, content, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(conv_id) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at
	`, convID, content, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save draft: %w", err)
	}
	return nil
}

// LoadDraft returns the saved draft for a conversation, or "" when none.
func (c *Cache) LoadDraft(convID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrClosed
	}

	var content string
	err := c.db.QueryRow("SELECT content FROM drafts WHERE conv_id = ?", convID).Scan(&content)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read draft: %w", err)
	}
	return content, nil
}

// Clear wipes the entire cache. Used on logout: cached conversations belong
// to the session that fetched them.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	if _, err := c.db.Exec("DELETE FROM conversations"); err != nil {
		return fmt.Errorf("failed to clear conversations: %w", err)
	}
	if _, err := c.db.Exec("DELETE FROM drafts"); err != nil {
		return fmt.Errorf("failed to clear drafts: %w", err)
	}
	return nil
}
