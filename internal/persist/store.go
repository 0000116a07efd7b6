package persist

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kayz/tavernkit/internal/logger"
	"github.com/kayz/tavernkit/internal/settings"
	"github.com/kayz/tavernkit/internal/tokenizer"
)

// Store handles persistence of extension settings and chat history using SQLite.
// It implements settings.Store: Set stages a blob in memory and Persist writes
// every staged blob in one transaction.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	blobs map[string]settings.Blob
	dirty map[string]struct{}
}

var _ settings.Store = (*Store)(nil)

// NewStore creates a new SQLite-backed persistence store at the given path
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	s := &Store{
		db:    db,
		blobs: make(map[string]settings.Blob),
		dirty: make(map[string]struct{}),
	}

	if err := s.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return s, nil
}

// init creates the necessary tables if they don't exist
func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS extension_settings (
			key         TEXT PRIMARY KEY,
			value       TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS chats (
			id              TEXT PRIMARY KEY,
			character_name  TEXT NOT NULL,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS chat_messages (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id      TEXT NOT NULL,
			name         TEXT NOT NULL,
			mes          TEXT,
			is_user      INTEGER NOT NULL DEFAULT 0,
			is_system    INTEGER NOT NULL DEFAULT 0,
			extra        TEXT,
			token_count  INTEGER NOT NULL DEFAULT 0,
			created_at   TEXT NOT NULL,
			FOREIGN KEY (chat_id) REFERENCES chats(id)
		);

		CREATE INDEX IF NOT EXISTS idx_chat_messages_chat ON chat_messages(chat_id);
	`)
	return err
}

// Get returns the blob stored under key. Repeated calls return the same map,
// so edits made by the caller are seen by later Gets and flushed by Persist
// once the key is Set.
func (s *Store) Get(key string) (settings.Blob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.blobs[key]; ok {
		return b, true
	}

	var raw string
	err := s.db.QueryRow(`SELECT value FROM extension_settings WHERE key = ?`, key).Scan(&raw)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logger.Warn("Failed to load settings %s: %v", key, err)
		}
		return nil, false
	}

	var blob settings.Blob
	if err := json.Unmarshal([]byte(raw), &blob); err != nil {
		logger.Warn("Stored settings %s are not valid JSON, ignoring: %v", key, err)
		return nil, false
	}
	s.blobs[key] = blob
	return blob, true
}

// Set stages blob under key.
func (s *Store) Set(key string, blob settings.Blob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = blob
	s.dirty[key] = struct{}{}
}

// Persist writes all staged blobs.
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.dirty) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin settings transaction: %w", err)
	}
	now := time.Now().Format(time.RFC3339)
	for key := range s.dirty {
		data, err := json.Marshal(s.blobs[key])
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("encode settings %s: %w", key, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO extension_settings (key, value, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, key, string(data), now); err != nil {
			tx.Rollback()
			return fmt.Errorf("write settings %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit settings: %w", err)
	}
	s.dirty = make(map[string]struct{})
	return nil
}

// SettingsKeys lists the keys with persisted settings.
func (s *Store) SettingsKeys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT key FROM extension_settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, rows.Err()
}

// GetOrCreateChat gets an existing chat or creates a new one
func (s *Store) GetOrCreateChat(id, characterName string) (*Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, err := scanChat(s.db.QueryRow(`
		SELECT id, character_name, created_at, updated_at FROM chats WHERE id = ?
	`, id))
	if err == nil {
		return chat, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	now := time.Now()
	nowStr := now.Format(time.RFC3339)
	if _, err := s.db.Exec(`
		INSERT INTO chats (id, character_name, created_at, updated_at) VALUES (?, ?, ?, ?)
	`, id, characterName, nowStr, nowStr); err != nil {
		return nil, err
	}
	return &Chat{ID: id, CharacterName: characterName, CreatedAt: now, UpdatedAt: now}, nil
}

func scanChat(row scanner) (*Chat, error) {
	var c Chat
	var createdAt, updatedAt string
	if err := row.Scan(&c.ID, &c.CharacterName, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

// ListChats returns all chats, most recently updated first.
func (s *Store) ListChats() ([]*Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, character_name, created_at, updated_at FROM chats ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []*Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// AddChatMessage appends a message to a chat. A zero token count is filled in
// from the message text.
func (s *Store) AddChatMessage(chatID string, msg ChatMessage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.TokenCount == 0 {
		msg.TokenCount = tokenizer.Count(msg.Mes)
	}
	extra := string(msg.Extra)
	if extra == "" {
		extra = "{}"
	}
	now := time.Now().Format(time.RFC3339)

	res, err := s.db.Exec(`
		INSERT INTO chat_messages (chat_id, name, mes, is_user, is_system, extra, token_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, chatID, msg.Name, msg.Mes, boolToInt(msg.IsUser), boolToInt(msg.IsSystem), extra, msg.TokenCount, now)
	if err != nil {
		return 0, fmt.Errorf("insert chat message: %w", err)
	}
	if _, err := s.db.Exec(`UPDATE chats SET updated_at = ? WHERE id = ?`, now, chatID); err != nil {
		return 0, fmt.Errorf("touch chat: %w", err)
	}
	return res.LastInsertId()
}

// ChatMessages returns up to limit of the chat's newest messages in
// chronological order. A limit <= 0 returns the whole chat.
func (s *Store) ChatMessages(chatID string, limit int) ([]ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT id, chat_id, name, mes, is_user, is_system, extra, token_count, created_at
		FROM chat_messages
		WHERE chat_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("load chat messages: %w", err)
	}
	defer rows.Close()

	var reversed []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var mes, extra sql.NullString
		var isUser, isSystem int
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Name, &mes, &isUser, &isSystem, &extra, &m.TokenCount, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		m.Mes = mes.String
		m.IsUser = isUser != 0
		m.IsSystem = isSystem != 0
		if extra.Valid && extra.String != "" {
			m.Extra = json.RawMessage(extra.String)
		}
		m.CreatedAt = parseTime(createdAt)
		reversed = append(reversed, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}

	// reverse to chronological order
	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}
	return reversed, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
