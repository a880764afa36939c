// Package session persists the authenticated user and access token across
// process restarts.
//
// The store keeps one SQLite file with two independent keys, the encoded
// user and the raw access token, so user metadata and the token can be
// invalidated separately. It holds no business logic: corrupt or missing
// data reads as "no session", never as an error.
package session

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/everwith/appcore/internal/auth/session/migrations"
	"github.com/everwith/appcore/internal/auth/user"
	sqlitemigrate "github.com/everwith/appcore/internal/platform/storage/sqlitemigrate"
)

const (
	keyCurrentUser = "current_user"
	keyAccessToken = "access_token"
)

// persistedUser is the stored representation of a user.
type persistedUser struct {
	ID              string `json:"id"`
	Email           string `json:"email,omitempty"`
	Name            string `json:"name"`
	ProfileImageURL string `json:"profile_image_url,omitempty"`
	Provider        string `json:"provider"`
	CreatedAt       int64  `json:"created_at"`
}

// Store is the persisted session. All operations are synchronous and
// single-process; SQLite's own locking covers concurrent file access.
type Store struct {
	sqlDB *sql.DB
	clock func() time.Time
}

// Open opens the session store at path and applies bundled migrations.
// The path ":memory:" yields an ephemeral store for tests.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("session storage path is required")
	}

	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping session db: %w", err)
	}

	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run session migrations: %w", err)
	}

	return &Store{sqlDB: sqlDB, clock: time.Now}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Save writes the user and, when non-empty, the access token under their
// independent keys in one transaction.
func (s *Store) Save(u user.User, token string) error {
	encoded, err := json.Marshal(persistedUser{
		ID:              u.ID,
		Email:           u.Email,
		Name:            u.Name,
		ProfileImageURL: u.ProfileImageURL,
		Provider:        string(u.Provider),
		CreatedAt:       u.CreatedAt.UTC().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encode session user: %w", err)
	}

	now := s.clock().UTC().UnixMilli()

	tx, err := s.sqlDB.Begin()
	if err != nil {
		return fmt.Errorf("begin session save: %w", err)
	}
	if err := upsert(tx, keyCurrentUser, string(encoded), now); err != nil {
		_ = tx.Rollback()
		return err
	}
	if token != "" {
		if err := upsert(tx, keyAccessToken, token, now); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session save: %w", err)
	}
	return nil
}

// Load reads the persisted session. ok is false when no user is stored or
// the stored record is undecodable; corrupt data is treated as absent.
// The token may be empty even when ok is true.
func (s *Store) Load() (u user.User, token string, ok bool) {
	raw, found := s.get(keyCurrentUser)
	if !found {
		return user.User{}, "", false
	}

	var stored persistedUser
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return user.User{}, "", false
	}
	provider := user.Provider(stored.Provider)
	if stored.ID == "" || !provider.Valid() {
		return user.User{}, "", false
	}

	token, _ = s.get(keyAccessToken)
	return user.User{
		ID:              stored.ID,
		Email:           stored.Email,
		Name:            stored.Name,
		ProfileImageURL: stored.ProfileImageURL,
		Provider:        provider,
		CreatedAt:       time.UnixMilli(stored.CreatedAt).UTC(),
	}, token, true
}

// Token returns the stored access token, or empty when absent.
func (s *Store) Token() string {
	token, _ := s.get(keyAccessToken)
	return token
}

// SetToken replaces just the access token, leaving the user row untouched.
func (s *Store) SetToken(token string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("access token is required")
	}
	tx, err := s.sqlDB.Begin()
	if err != nil {
		return fmt.Errorf("begin token update: %w", err)
	}
	if err := upsert(tx, keyAccessToken, token, s.clock().UTC().UnixMilli()); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit token update: %w", err)
	}
	return nil
}

// Clear removes both session keys in one transaction. Clearing an empty
// store is a no-op.
func (s *Store) Clear() error {
	tx, err := s.sqlDB.Begin()
	if err != nil {
		return fmt.Errorf("begin session clear: %w", err)
	}
	if _, err := tx.Exec(
		"DELETE FROM session_entries WHERE key IN (?, ?)",
		keyCurrentUser, keyAccessToken,
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session clear: %w", err)
	}
	return nil
}

func (s *Store) get(key string) (string, bool) {
	var value string
	err := s.sqlDB.QueryRow("SELECT value FROM session_entries WHERE key = ?", key).Scan(&value)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			// Read failures degrade to "no session" rather than
			// blocking startup.
			return "", false
		}
		return "", false
	}
	return value, true
}

func upsert(tx *sql.Tx, key, value string, now int64) error {
	if _, err := tx.Exec(
		"INSERT INTO session_entries (key, value, updated_at) VALUES (?, ?, ?) "+
			"ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at",
		key, value, now,
	); err != nil {
		return fmt.Errorf("write session entry %s: %w", key, err)
	}
	return nil
}
