// Package store persists session state in a local SQLite database. The only
// durable state is the bearer token and the signed-in user's profile; issues
// and rate-limit snapshots are never persisted.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jmorland/gitscout/internal/models"
)

// Fixed keys of the session table. Token and user are written and cleared
// together.
const (
	keyToken = "token"
	keyUser  = "user"
)

// Store is the durable session state.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the session database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping session store: %w", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS session (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create session schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveCredential stores the token and user profile in one transaction,
// replacing any previous session.
func (s *Store) SaveCredential(cred *models.Credential) error {
	userJSON, err := json.Marshal(cred.User)
	if err != nil {
		return fmt.Errorf("failed to marshal user profile: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	upsert := `
	INSERT INTO session (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := tx.Exec(upsert, keyToken, cred.Token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	if _, err := tx.Exec(upsert, keyUser, string(userJSON)); err != nil {
		return fmt.Errorf("failed to save user profile: %w", err)
	}

	return tx.Commit()
}

// Token returns the stored bearer token, or "" when signed out.
func (s *Store) Token() (string, error) {
	return s.get(keyToken)
}

// User returns the stored profile, or nil when signed out.
func (s *Store) User() (*models.User, error) {
	raw, err := s.get(keyUser)
	if err != nil || raw == "" {
		return nil, err
	}

	var user models.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user profile: %w", err)
	}
	return &user, nil
}

// Clear removes the token and user together. Clearing an already-empty
// store succeeds.
func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM session WHERE key IN (?, ?)`, keyToken, keyUser); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

func (s *Store) get(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM session WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read session key %s: %w", key, err)
	}
	return value, nil
}
