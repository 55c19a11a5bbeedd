// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth stores the session credentials encrypted at rest.
//
// Credentials are sealed with AES-256-GCM. The encryption key is derived via
// PBKDF2-SHA-256 from a random master key kept in a separate 0600 file, with
// a fresh salt per save. The store satisfies api.TokenSource so the REST
// client and stream transport read the live token without holding a copy.
package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/jeranaias/ragchat-tui/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// EncryptedPrefix marks a sealed credentials file (format: ENC:base64(salt|nonce|ciphertext|tag)).
const EncryptedPrefix = "ENC:"

// NonceSize is the AES-GCM nonce size (12 bytes / 96 bits).
const NonceSize = 12

// KeySize is the AES-256 key size (32 bytes / 256 bits).
const KeySize = 32

// SaltSize is the key-derivation salt size (32 bytes).
const SaltSize = 32

// PBKDF2Iterations follows the OWASP 2023 recommendation for PBKDF2-SHA-256.
const PBKDF2Iterations = 600000

const (
	credentialsFile = "credentials"
	masterKeyFile   = "master.key"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotLoggedIn indicates no credentials are stored.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrInvalidCiphertext indicates the credentials file is malformed.
	ErrInvalidCiphertext = errors.New("invalid credentials file format")
	// ErrDecryptionFailed indicates decryption failed (wrong key or tampered data).
	ErrDecryptionFailed = errors.New("credentials decryption failed: authentication tag mismatch")
)

// ZeroBytes securely zeros sensitive byte slices to prevent memory disclosure.
// SECURITY: Zero key material to prevent memory disclosure via crash dumps.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// =============================================================================
// CREDENTIALS
// =============================================================================

// Credentials is the persisted session state.
type Credentials struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ServerURL    string `json:"server_url,omitempty"`
	Username     string `json:"username,omitempty"`
}

// =============================================================================
// STORE
// =============================================================================

// Store holds the current credentials, loading and saving them encrypted.
type Store struct {
	mu    sync.RWMutex
	dir   string
	creds *Credentials
}

// NewStore opens the credential store rooted at dir, loading any existing
// credentials. A missing or undecryptable file leaves the store logged out;
// stale credentials are never fatal at startup.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create credential directory: %w", err)
	}
	s := &Store{dir: dir}
	if creds, err := s.load(); err == nil {
		s.creds = creds
	}
	return s, nil
}

// Token returns the current bearer token, or "" when logged out. Satisfies
// api.TokenSource.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return ""
	}
	return s.creds.Token
}

// Credentials returns a copy of the stored credentials.
func (s *Store) Credentials() (Credentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return Credentials{}, false
	}
	return *s.creds, true
}

// LoggedIn reports whether credentials are present.
func (s *Store) LoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds != nil && s.creds.Token != ""
}

// Save seals the credentials and persists them.
func (s *Store) Save(creds Credentials) error {
	if creds.Token == "" {
		return errors.New("cannot save empty token")
	}

	plaintext, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	defer ZeroBytes(plaintext)

	sealed, err := s.seal(plaintext)
	if err != nil {
		return err
	}

	// RELIABILITY: Atomic write with fsync prevents data loss on crash.
	if err := util.AtomicWriteFile(s.credentialsPath(), []byte(sealed), 0600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}

	s.mu.Lock()
	copied := creds
	s.creds = &copied
	s.mu.Unlock()
	return nil
}

// Clear removes the stored credentials. Used on logout and when the server
// rejects the session. The master key survives so a re-login reuses it.
func (s *Store) Clear() error {
	s.mu.Lock()
	s.creds = nil
	s.mu.Unlock()

	if err := os.Remove(s.credentialsPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	return nil
}

func (s *Store) credentialsPath() string {
	return filepath.Join(s.dir, credentialsFile)
}

func (s *Store) masterKeyPath() string {
	return filepath.Join(s.dir, masterKeyFile)
}

// =============================================================================
// SEALING
// =============================================================================

// seal encrypts plaintext as ENC:base64(salt || nonce || ciphertext || tag),
// deriving a fresh key from the master key and a random salt.
func (s *Store) seal(plaintext []byte) (string, error) {
	master, err := s.loadOrCreateMasterKey()
	if err != nil {
		return "", err
	}
	defer ZeroBytes(master)

	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := deriveKey(master, salt)
	defer ZeroBytes(key)

	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)
	blob := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, sealed...)

	return EncryptedPrefix + base64.StdEncoding.EncodeToString(blob), nil
}

// load reads and unseals the credentials file.
func (s *Store) load() (*Credentials, error) {
	data, err := os.ReadFile(s.credentialsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotLoggedIn
		}
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	content := strings.TrimSpace(string(data))
	if !strings.HasPrefix(content, EncryptedPrefix) {
		return nil, ErrInvalidCiphertext
	}
	blob, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(content, EncryptedPrefix))
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	if len(blob) < SaltSize+NonceSize {
		return nil, ErrInvalidCiphertext
	}

	master, err := os.ReadFile(s.masterKeyPath())
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	defer ZeroBytes(master)

	salt := blob[:SaltSize]
	nonce := blob[SaltSize : SaltSize+NonceSize]
	ciphertext := blob[SaltSize+NonceSize:]

	key := deriveKey(master, salt)
	defer ZeroBytes(key)

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	defer ZeroBytes(plaintext)

	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, ErrInvalidCiphertext
	}
	return &creds, nil
}

// loadOrCreateMasterKey reads the master key, generating one on first use.
func (s *Store) loadOrCreateMasterKey() ([]byte, error) {
	key, err := os.ReadFile(s.masterKeyPath())
	if err == nil {
		if len(key) != KeySize {
			return nil, fmt.Errorf("master key has wrong length %d", len(key))
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read master key: %w", err)
	}

	key = make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate master key: %w", err)
	}
	if err := util.AtomicWriteFile(s.masterKeyPath(), key, 0600); err != nil {
		ZeroBytes(key)
		return nil, fmt.Errorf("failed to store master key: %w", err)
	}
	return key, nil
}

// deriveKey derives an AES-256 key from the master key and salt using
// PBKDF2-SHA-256 (NIST SP 800-132).
func deriveKey(master, salt []byte) []byte {
	return pbkdf2.Key(master, salt, PBKDF2Iterations, KeySize, sha256.New)
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}
	return gcm, nil
}
