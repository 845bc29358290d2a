package storage

import (
	"database/sql"
	"fmt"

	"github.com/hearthhq/hearth/pkg/auth"
)

// CreateUser inserts a new user. The password hash is produced by the caller;
// the store never sees plaintext credentials. Returns auth.ErrConflict if the
// username is already taken.
func (s *Store) CreateUser(username, passwordHash string, role auth.Role) (*auth.User, error) {
	res, err := s.db.Exec(`
		INSERT INTO users (username, password_hash, role)
		VALUES (?, ?, ?)
	`, username, passwordHash, role)
	if err != nil {
		return nil, mapConstraintErr(err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading user id: %w", err)
	}
	return s.GetUserByID(id)
}

// GetUserByID looks up a user by ID. Returns auth.ErrNotFound if absent.
func (s *Store) GetUserByID(id int64) (*auth.User, error) {
	return s.scanUser(s.db.QueryRow(`
		SELECT id, username, password_hash, role, created_at
		FROM users WHERE id = ?
	`, id))
}

// GetUserByUsername looks up a user by exact username.
func (s *Store) GetUserByUsername(username string) (*auth.User, error) {
	return s.scanUser(s.db.QueryRow(`
		SELECT id, username, password_hash, role, created_at
		FROM users WHERE username = ?
	`, username))
}

func (s *Store) scanUser(row *sql.Row) (*auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &u, nil
}

// UpdatePasswordHash replaces a user's stored password hash.
func (s *Store) UpdatePasswordHash(userID int64, passwordHash string) error {
	res, err := s.db.Exec(`
		UPDATE users SET password_hash = ? WHERE id = ?
	`, passwordHash, userID)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// DeleteUser removes a user transactionally. Sessions and API keys owned by
// the user cascade away in the same transaction, so an outstanding session
// cookie of a deleted user fails on the very next request.
func (s *Store) DeleteUser(userID int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM users WHERE id = ?`, userID)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auth.ErrNotFound
	}

	return tx.Commit()
}

// ListUsers returns all users, newest first.
func (s *Store) ListUsers() ([]auth.User, error) {
	rows, err := s.db.Query(`
		SELECT id, username, password_hash, role, created_at
		FROM users ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]auth.User, 0)
	for rows.Next() {
		var u auth.User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CountAdmins returns the number of admin accounts.
func (s *Store) CountAdmins() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users WHERE role = ?`, auth.RoleAdmin).Scan(&n)
	return n, err
}
