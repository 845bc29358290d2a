package storage

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/hearthhq/hearth/pkg/auth"
	"github.com/hearthhq/hearth/pkg/cryptobox"
)

// Well-known settings keys.
const (
	SettingSetupComplete = "setup_complete"
	SettingEncryptionKey = "message_encryption_key"
	SettingServerName    = "server_name"
	SettingDefaultModel  = "default_model"
	SettingOllamaURL     = "ollama_url"
)

// GetSetting returns the value for a key, or auth.ErrNotFound.
func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", auth.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting stores or replaces the value for a key.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("writing setting %s: %w", key, err)
	}
	return nil
}

// ListSettings returns all settings as a map.
func (s *Store) ListSettings() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// IsSetupComplete reports whether first-run setup has created the initial
// admin account.
func (s *Store) IsSetupComplete() (bool, error) {
	v, err := s.GetSetting(SettingSetupComplete)
	if auth.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

// MarkSetupComplete flips the first-run flag.
func (s *Store) MarkSetupComplete() error {
	return s.SetSetting(SettingSetupComplete, "true")
}

// EncryptionKey loads the server-wide message encryption key, generating
// and persisting one on first use so all messages written after setup are
// encrypted at rest.
func (s *Store) EncryptionKey() ([]byte, error) {
	v, err := s.GetSetting(SettingEncryptionKey)
	if err == nil {
		key, decodeErr := hex.DecodeString(v)
		if decodeErr != nil || len(key) != cryptobox.KeySize {
			return nil, fmt.Errorf("stored encryption key is corrupt")
		}
		return key, nil
	}
	if !auth.IsNotFound(err) {
		return nil, err
	}

	key, err := cryptobox.NewRandomKey()
	if err != nil {
		return nil, err
	}
	if err := s.SetSetting(SettingEncryptionKey, hex.EncodeToString(key)); err != nil {
		return nil, err
	}
	return key, nil
}
