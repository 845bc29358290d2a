package auth

import "errors"

// Sentinel errors forming the error taxonomy of the auth subsystem.
// Handlers map these deterministically onto HTTP status codes; anything
// else is treated as an internal failure and never exposed verbatim.
var (
	// ErrAuthentication covers missing, invalid, expired, and revoked
	// credentials. Callers must not be able to distinguish "unknown token"
	// from "revoked token" from "wrong password".
	ErrAuthentication = errors.New("authentication failed")

	// ErrAuthorization means the caller is authenticated but lacks the
	// required role.
	ErrAuthorization = errors.New("insufficient permissions")

	// ErrRateLimited means too many failed login attempts from this client.
	ErrRateLimited = errors.New("too many failed attempts")

	// ErrConflict covers duplicate usernames, already-consumed invites,
	// and already-initialized servers.
	ErrConflict = errors.New("conflict")

	// ErrValidation covers malformed request payloads.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound covers unknown resource IDs.
	ErrNotFound = errors.New("not found")
)

// IsAuthentication reports whether err is an authentication failure.
func IsAuthentication(err error) bool { return errors.Is(err, ErrAuthentication) }

// IsConflict reports whether err is a conflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
