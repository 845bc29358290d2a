package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/hearthhq/hearth/pkg/auth"
)

// CreateSession persists a session token with an absolute expiry. The token
// is generated by the caller.
func (s *Store) CreateSession(token string, userID int64, expiresAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (token, user_id, expires_at)
		VALUES (?, ?, ?)
	`, token, userID, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting session: %w", mapConstraintErr(err))
	}
	return nil
}

// GetSessionUser resolves a session token to its owning user. Unknown and
// expired tokens fail identically with auth.ErrAuthentication; a token whose
// user has been deleted fails the same way (the cascade removed the row).
func (s *Store) GetSessionUser(token string) (*auth.User, error) {
	var userID int64
	err := s.db.QueryRow(`
		SELECT user_id FROM sessions
		WHERE token = ? AND expires_at > ?
	`, token, time.Now().UTC()).Scan(&userID)
	if err == sql.ErrNoRows {
		return nil, auth.ErrAuthentication
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	user, err := s.GetUserByID(userID)
	if err == auth.ErrNotFound {
		return nil, auth.ErrAuthentication
	}
	return user, err
}

// DeleteSession revokes a single session (logout). Deleting an unknown token
// is not an error; revocation is idempotent.
func (s *Store) DeleteSession(token string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE token = ?`, token)
	return err
}

// DeleteUserSessions revokes all sessions for a user. When exceptToken is
// non-empty that session survives, so a password change keeps the changer
// logged in while revoking everything else.
func (s *Store) DeleteUserSessions(userID int64, exceptToken string) error {
	var err error
	if exceptToken != "" {
		_, err = s.db.Exec(`DELETE FROM sessions WHERE user_id = ? AND token != ?`, userID, exceptToken)
	} else {
		_, err = s.db.Exec(`DELETE FROM sessions WHERE user_id = ?`, userID)
	}
	return err
}

// DeleteExpiredSessions removes sessions past their expiry. Returns the
// number of rows removed.
func (s *Store) DeleteExpiredSessions() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountActiveSessions returns the number of unexpired sessions.
func (s *Store) CountActiveSessions() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE expires_at > ?`, time.Now().UTC()).Scan(&n)
	return n, err
}
