package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/hearthhq/hearth/pkg/auth"
)

// CreateInvite persists a new pending invite token issued by an admin.
func (s *Store) CreateInvite(token string, createdBy int64, expiresAt *time.Time) (*auth.Invite, error) {
	res, err := s.db.Exec(`
		INSERT INTO invites (token, created_by, expires_at)
		VALUES (?, ?, ?)
	`, token, createdBy, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("inserting invite: %w", mapConstraintErr(err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading invite id: %w", err)
	}
	return s.GetInviteByID(id)
}

// GetInviteByID fetches a single invite.
func (s *Store) GetInviteByID(id int64) (*auth.Invite, error) {
	return s.scanInvite(s.db.QueryRow(`
		SELECT id, token, created_by, status, consumed_by, expires_at, created_at
		FROM invites WHERE id = ?
	`, id))
}

// GetInviteByToken fetches an invite by its token.
func (s *Store) GetInviteByToken(token string) (*auth.Invite, error) {
	return s.scanInvite(s.db.QueryRow(`
		SELECT id, token, created_by, status, consumed_by, expires_at, created_at
		FROM invites WHERE token = ?
	`, token))
}

func (s *Store) scanInvite(row *sql.Row) (*auth.Invite, error) {
	var inv auth.Invite
	err := row.Scan(&inv.ID, &inv.Token, &inv.CreatedBy, &inv.Status, &inv.ConsumedBy, &inv.ExpiresAt, &inv.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying invite: %w", err)
	}
	return &inv, nil
}

// ConsumeInvite atomically marks an invite consumed and creates the new user
// in one transaction. Under concurrent calls with the same token exactly one
// succeeds; the rest fail with auth.ErrConflict. An expired invite fails
// consumption and is moved to the expired status.
//
// Unknown tokens fail with auth.ErrAuthentication so callers cannot probe
// which tokens exist.
func (s *Store) ConsumeInvite(token, username, passwordHash string, role auth.Role) (*auth.User, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var inviteID int64
	var status auth.InviteStatus
	var expiresAt *time.Time
	err = tx.QueryRow(`
		SELECT id, status, expires_at FROM invites WHERE token = ?
	`, token).Scan(&inviteID, &status, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, auth.ErrAuthentication
	}
	if err != nil {
		return nil, fmt.Errorf("querying invite: %w", err)
	}

	if status != auth.InviteStatusPending {
		return nil, fmt.Errorf("invite already %s: %w", status, auth.ErrConflict)
	}

	if expiresAt != nil && expiresAt.Before(time.Now()) {
		if _, err := tx.Exec(`
			UPDATE invites SET status = ? WHERE id = ? AND status = ?
		`, auth.InviteStatusExpired, inviteID, auth.InviteStatusPending); err != nil {
			return nil, fmt.Errorf("expiring invite: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("invite expired: %w", auth.ErrConflict)
	}

	// Guarded transition: only one transaction can move pending -> consumed.
	res, err := tx.Exec(`
		UPDATE invites SET status = ? WHERE id = ? AND status = ?
	`, auth.InviteStatusConsumed, inviteID, auth.InviteStatusPending)
	if err != nil {
		return nil, fmt.Errorf("consuming invite: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("invite already consumed: %w", auth.ErrConflict)
	}

	userRes, err := tx.Exec(`
		INSERT INTO users (username, password_hash, role)
		VALUES (?, ?, ?)
	`, username, passwordHash, role)
	if err != nil {
		return nil, mapConstraintErr(err)
	}
	userID, err := userRes.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading user id: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE invites SET consumed_by = ? WHERE id = ?
	`, userID, inviteID); err != nil {
		return nil, fmt.Errorf("recording invite consumer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.GetUserByID(userID)
}

// ListInvites returns all invites, newest first.
func (s *Store) ListInvites() ([]auth.Invite, error) {
	rows, err := s.db.Query(`
		SELECT id, token, created_by, status, consumed_by, expires_at, created_at
		FROM invites ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invites := make([]auth.Invite, 0)
	for rows.Next() {
		var inv auth.Invite
		if err := rows.Scan(&inv.ID, &inv.Token, &inv.CreatedBy, &inv.Status, &inv.ConsumedBy, &inv.ExpiresAt, &inv.CreatedAt); err != nil {
			return nil, err
		}
		invites = append(invites, inv)
	}
	return invites, rows.Err()
}

// DeleteInvite revokes an invite outright.
func (s *Store) DeleteInvite(id int64) error {
	res, err := s.db.Exec(`DELETE FROM invites WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auth.ErrNotFound
	}
	return nil
}
