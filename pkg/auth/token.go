package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// APIKeyPrefix identifies Hearth API keys. The "hk-" scheme mirrors the
	// bearer-key convention OpenAI-compatible clients already understand.
	APIKeyPrefix = "hk-"
	// APIKeyLength is the number of random bytes in a key (256 bits).
	APIKeyLength = 32
	// SessionTokenLength is the number of random bytes in a session token.
	SessionTokenLength = 32
	// InviteTokenLength is the number of random bytes in an invite token.
	InviteTokenLength = 18
)

// TokenGenerator generates the opaque credentials used by the gateway:
// session tokens, invite tokens, and API keys.
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator.
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// NewSessionToken returns a cryptographically random session token,
// delivered to clients as an opaque cookie value.
func (tg *TokenGenerator) NewSessionToken() (string, error) {
	b := make([]byte, SessionTokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewInviteToken returns a random URL-safe invite token.
func (tg *TokenGenerator) NewInviteToken() (string, error) {
	b := make([]byte, InviteTokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating invite token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewAPIKey creates a new API key.
// Format: hk-<hex(32 random bytes)>. Returns the full key (disclosed to the
// caller exactly once), its SHA-256 hash (the only stored form), and a short
// display prefix for list views.
func (tg *TokenGenerator) NewAPIKey() (rawKey, keyHash, keyPrefix string, err error) {
	b := make([]byte, APIKeyLength)
	if _, err := rand.Read(b); err != nil {
		return "", "", "", fmt.Errorf("generating api key: %w", err)
	}

	rawKey = APIKeyPrefix + hex.EncodeToString(b)
	keyHash = tg.HashKey(rawKey)
	keyPrefix = rawKey[:len(APIKeyPrefix)+8]
	return rawKey, keyHash, keyPrefix, nil
}

// HashKey computes the SHA-256 hash of a presented credential for lookup.
// Lookup by hash means the raw secret is never stored or compared directly;
// equality of fixed-length digests does not leak partial-match timing.
func (tg *TokenGenerator) HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ValidateKeyFormat checks that a presented API key has the expected shape
// before any datastore lookup happens.
func (tg *TokenGenerator) ValidateKeyFormat(raw string) error {
	if !strings.HasPrefix(raw, APIKeyPrefix) {
		return fmt.Errorf("key must start with %q: %w", APIKeyPrefix, ErrAuthentication)
	}
	encoded := strings.TrimPrefix(raw, APIKeyPrefix)
	if len(encoded) == 0 {
		return fmt.Errorf("key is too short: %w", ErrAuthentication)
	}
	if _, err := hex.DecodeString(encoded); err != nil {
		return fmt.Errorf("invalid key encoding: %w", ErrAuthentication)
	}
	return nil
}

// ConstantTimeEqual compares two token strings without early exit.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
