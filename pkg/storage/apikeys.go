package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/hearthhq/hearth/pkg/auth"
)

// CreateAPIKey persists a key record. The caller supplies the SHA-256 hash
// and display prefix; the raw key is never stored.
func (s *Store) CreateAPIKey(userID int64, keyHash, keyPrefix, name string) (*auth.APIKey, error) {
	res, err := s.db.Exec(`
		INSERT INTO api_keys (user_id, key_hash, key_prefix, name)
		VALUES (?, ?, ?, ?)
	`, userID, keyHash, keyPrefix, name)
	if err != nil {
		return nil, fmt.Errorf("inserting api key: %w", mapConstraintErr(err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading api key id: %w", err)
	}
	return s.GetAPIKeyByID(id)
}

// GetAPIKeyByID fetches a single key record.
func (s *Store) GetAPIKeyByID(id int64) (*auth.APIKey, error) {
	return s.scanAPIKey(s.db.QueryRow(`
		SELECT id, user_id, key_prefix, name, last_used_at, revoked, created_at
		FROM api_keys WHERE id = ?
	`, id))
}

func (s *Store) scanAPIKey(row *sql.Row) (*auth.APIKey, error) {
	var k auth.APIKey
	err := row.Scan(&k.ID, &k.UserID, &k.KeyPrefix, &k.Name, &k.LastUsedAt, &k.Revoked, &k.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying api key: %w", err)
	}
	return &k, nil
}

// GetUserByKeyHash resolves a key hash to its owner. Revoked keys and keys
// of deleted users fail with auth.ErrAuthentication. A successful lookup
// touches last_used_at.
func (s *Store) GetUserByKeyHash(keyHash string) (*auth.User, error) {
	var keyID int64
	var u auth.User
	err := s.db.QueryRow(`
		SELECT k.id, u.id, u.username, u.password_hash, u.role, u.created_at
		FROM api_keys k
		JOIN users u ON u.id = k.user_id
		WHERE k.key_hash = ? AND k.revoked = 0
	`, keyHash).Scan(&keyID, &u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, auth.ErrAuthentication
	}
	if err != nil {
		return nil, fmt.Errorf("querying api key: %w", err)
	}

	// Best effort: a failed touch must not fail the request.
	_, _ = s.db.Exec(`UPDATE api_keys SET last_used_at = ? WHERE id = ?`, time.Now().UTC(), keyID)

	return &u, nil
}

// ListAPIKeys returns all of a user's keys, newest first, revoked included.
func (s *Store) ListAPIKeys(userID int64) ([]auth.APIKey, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, key_prefix, name, last_used_at, revoked, created_at
		FROM api_keys WHERE user_id = ? ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]auth.APIKey, 0)
	for rows.Next() {
		var k auth.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.KeyPrefix, &k.Name, &k.LastUsedAt, &k.Revoked, &k.CreatedAt); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey marks a key revoked. The record stays for display so users
// can see which keys existed. Scoped by owner so one user cannot revoke
// another's key.
func (s *Store) RevokeAPIKey(id, userID int64) error {
	res, err := s.db.Exec(`
		UPDATE api_keys SET revoked = 1 WHERE id = ? AND user_id = ?
	`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// CountActiveAPIKeys counts non-revoked keys across all users.
func (s *Store) CountActiveAPIKeys() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM api_keys WHERE revoked = 0`).Scan(&n)
	return n, err
}
