package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/felixgeelhaar/rewind/internal/credential"
	_ "modernc.org/sqlite"
)

// Setting is one row of the settings table.
type Setting struct {
	Key       string
	Value     string
	Secret    bool
	UpdatedAt time.Time
}

// Storage persists user settings and provider credentials. Nothing captured
// from the screen is ever written here.
type Storage interface {
	SetConfig(key, value string) error
	GetConfig(key string) (string, error)
	SetSecret(key, value string) error
	GetSecret(key string) (string, error)
	Delete(key string) error
	List() ([]Setting, error)
	Close() error
}

type SQLiteStore struct {
	db    *sql.DB
	creds *credential.Manager
}

// NewSQLiteStore opens (and creates if needed) the settings database at dbPath.
func NewSQLiteStore(dbPath string, creds *credential.Manager) (*SQLiteStore, error) {
	if creds == nil {
		return nil, errors.New("credential manager is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, creds: creds}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			secret INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL
		);`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) put(key, value string, secret bool) error {
	query := `INSERT INTO settings (key, value, secret, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, secret = excluded.secret, updated_at = excluded.updated_at`
	if _, err := s.db.Exec(query, key, value, secret, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) get(key string) (string, bool, error) {
	row := s.db.QueryRow(`SELECT value, secret FROM settings WHERE key = ?`, key)
	var value string
	var secret bool
	if err := row.Scan(&value, &secret); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, secret, nil
}

// SetConfig stores a plain setting.
func (s *SQLiteStore) SetConfig(key, value string) error {
	return s.put(key, value, false)
}

// GetConfig returns a plain setting, or "" when unset. Secrets are not
// returned through this path.
func (s *SQLiteStore) GetConfig(key string) (string, error) {
	value, secret, err := s.get(key)
	if err != nil || secret {
		return "", err
	}
	return value, nil
}

// SetSecret encrypts value before storing it.
func (s *SQLiteStore) SetSecret(key, value string) error {
	sealed, err := s.creds.Encrypt(value)
	if err != nil {
		return fmt.Errorf("failed to encrypt %s: %w", key, err)
	}
	return s.put(key, sealed, true)
}

// GetSecret returns the decrypted secret, or "" when unset.
func (s *SQLiteStore) GetSecret(key string) (string, error) {
	value, _, err := s.get(key)
	if err != nil || value == "" {
		return "", err
	}
	plain, err := s.creds.Decrypt(value)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt %s: %w", key, err)
	}
	return plain, nil
}

func (s *SQLiteStore) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM settings WHERE key = ?`, key)
	return err
}

// List returns all settings ordered by key. Secret values are masked.
func (s *SQLiteStore) List() ([]Setting, error) {
	rows, err := s.db.Query(`SELECT key, value, secret, updated_at FROM settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var settings []Setting
	for rows.Next() {
		var st Setting
		if err := rows.Scan(&st.Key, &st.Value, &st.Secret, &st.UpdatedAt); err != nil {
			return nil, err
		}
		if st.Secret {
			plain, err := s.creds.Decrypt(st.Value)
			if err != nil {
				st.Value = "(unreadable on this machine)"
			} else {
				st.Value = credential.MaskSecret(plain)
			}
		}
		settings = append(settings, st)
	}
	return settings, rows.Err()
}
