package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the work factor for password hashing. bcrypt embeds a
// per-call random salt, so two hashes of the same password differ.
const BcryptCost = 12

// MinPasswordLength is enforced on registration and password changes.
const MinPasswordLength = 6

// DummyHash is a valid bcrypt hash of a throwaway value. Login verifies
// against it when the username is unknown so both failure paths spend the
// same bcrypt time.
const DummyHash = "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword checks a plaintext password against a stored bcrypt hash.
// bcrypt's comparison does not early-exit on mismatch position. A malformed
// stored hash is a verification failure, not an error.
func VerifyPassword(plaintext, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(plaintext)) == nil
}
