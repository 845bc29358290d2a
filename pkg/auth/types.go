package auth

import "time"

// Role is the access level of a user account.
type Role string

const (
	RoleAdmin  Role = "admin"  // Full access, including user/invite/key management
	RoleMember Role = "member" // Regular chat user
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleMember
}

// User represents a row from the users table.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"` // Never expose hash
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Session represents an opaque cookie-delivered bearer credential.
// The bearer of Token is the authenticated user until expiry or revocation.
type Session struct {
	Token     string    `json:"-"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its absolute expiry.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// InviteStatus tracks the lifecycle of an invite token.
type InviteStatus string

const (
	InviteStatusPending  InviteStatus = "pending"
	InviteStatusConsumed InviteStatus = "consumed"
	InviteStatusExpired  InviteStatus = "expired"
)

// Invite is a single-use registration token issued by an admin.
// It transitions pending -> consumed exactly once.
type Invite struct {
	ID         int64        `json:"id"`
	Token      string       `json:"token"`
	CreatedBy  int64        `json:"created_by"`
	Status     InviteStatus `json:"status"`
	ConsumedBy *int64       `json:"consumed_by,omitempty"`
	ExpiresAt  *time.Time   `json:"expires_at,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// APIKey represents a row from the api_keys table (never includes the raw key).
type APIKey struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	KeyPrefix  string     `json:"key_prefix"`
	Name       string     `json:"name"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Revoked    bool       `json:"revoked"`
	CreatedAt  time.Time  `json:"created_at"`
}

// CredentialKind records which credential authenticated a request.
type CredentialKind string

const (
	CredentialSession CredentialKind = "session"
	CredentialAPIKey  CredentialKind = "api_key"
)

// Principal is the authenticated identity attached to a request after
// successful credential validation.
type Principal struct {
	User       *User
	Credential CredentialKind
	// SessionToken is set only for session-authenticated requests so the
	// current session can be excluded from bulk revocation.
	SessionToken string
}

// IsAdmin reports whether the principal's user holds the admin role.
func (p *Principal) IsAdmin() bool {
	return p.User != nil && p.User.IsAdmin()
}
