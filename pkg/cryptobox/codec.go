// Package cryptobox provides authenticated encryption for stored message
// content, with a pass-through mode for rows that predate encryption at rest.
package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// NonceSize is the GCM nonce length in bytes. A fresh random nonce is
// generated for every Encrypt call; reusing one under the same key breaks
// the confidentiality guarantee.
const NonceSize = 12

// PlaintextSentinel is the reserved IV value marking a legacy row whose
// content is stored as readable plaintext. Such rows are returned as-is and
// never run through authenticated decryption.
var PlaintextSentinel = []byte("plaintext")

// ErrDecryption means the authentication tag did not verify. The codec never
// falls back to returning unauthenticated bytes on tamper.
var ErrDecryption = errors.New("decryption failed")

// Codec encrypts and decrypts message content with AES-256-GCM.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec creates a codec from a 32-byte key.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// NewRandomKey generates a fresh 32-byte encryption key.
func NewRandomKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext under a fresh random nonce. GCM appends the
// authentication tag to the returned ciphertext.
func (c *Codec) Encrypt(plaintext []byte) (ciphertext, iv []byte, err error) {
	iv = make([]byte, NonceSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}
	ciphertext = c.aead.Seal(nil, iv, plaintext, nil)
	return ciphertext, iv, nil
}

// Decrypt opens a stored row. Rows carrying the plaintext sentinel in the IV
// field are legacy plaintext and are returned exactly as stored. Any tag
// mismatch on a true ciphertext row is a hard failure.
func (c *Codec) Decrypt(ciphertext, iv []byte) ([]byte, error) {
	if IsPlaintext(iv) {
		return ciphertext, nil
	}
	plaintext, err := c.aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return plaintext, nil
}

// IsPlaintext reports whether an IV value is the legacy plaintext sentinel.
func IsPlaintext(iv []byte) bool {
	return string(iv) == string(PlaintextSentinel)
}
