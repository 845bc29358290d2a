package cryptobox

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	key, err := NewRandomKey()
	require.NoError(t, err)
	codec, err := NewCodec(key)
	require.NoError(t, err)
	return codec
}

func TestNewCodec_KeySize(t *testing.T) {
	_, err := NewCodec(make([]byte, 16))
	assert.Error(t, err)

	_, err = NewCodec(make([]byte, KeySize))
	assert.NoError(t, err)
}

func TestCodec_RoundTrip(t *testing.T) {
	codec := newTestCodec(t)

	plaintext := []byte("the fire is warm tonight")
	ciphertext, iv, err := codec.Encrypt(plaintext)
	require.NoError(t, err)

	assert.Len(t, iv, NonceSize)
	assert.NotEqual(t, plaintext, ciphertext)
	// GCM appends a 16-byte tag
	assert.Len(t, ciphertext, len(plaintext)+16)

	decrypted, err := codec.Decrypt(ciphertext, iv)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestCodec_FreshNoncePerCall(t *testing.T) {
	codec := newTestCodec(t)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		_, iv, err := codec.Encrypt([]byte("same input"))
		require.NoError(t, err)
		require.False(t, seen[string(iv)], "nonce reused")
		seen[string(iv)] = true
	}
}

func TestCodec_TamperFailsClosed(t *testing.T) {
	codec := newTestCodec(t)

	ciphertext, iv, err := codec.Encrypt([]byte("secret"))
	require.NoError(t, err)

	t.Run("flipped ciphertext bit", func(t *testing.T) {
		tampered := bytes.Clone(ciphertext)
		tampered[0] ^= 0x01
		_, err := codec.Decrypt(tampered, iv)
		assert.ErrorIs(t, err, ErrDecryption)
	})

	t.Run("wrong nonce", func(t *testing.T) {
		wrongIV := bytes.Clone(iv)
		wrongIV[len(wrongIV)-1] ^= 0x01
		_, err := codec.Decrypt(ciphertext, wrongIV)
		assert.ErrorIs(t, err, ErrDecryption)
	})

	t.Run("wrong key", func(t *testing.T) {
		other := newTestCodec(t)
		_, err := other.Decrypt(ciphertext, iv)
		assert.ErrorIs(t, err, ErrDecryption)
	})
}

func TestCodec_PlaintextSentinel(t *testing.T) {
	codec := newTestCodec(t)

	// Legacy rows store readable content with the sentinel IV; no tag exists
	// and none is required.
	stored := []byte("a message from before encryption shipped")
	got, err := codec.Decrypt(stored, PlaintextSentinel)
	require.NoError(t, err)
	assert.Equal(t, stored, got)

	assert.True(t, IsPlaintext(PlaintextSentinel))
	assert.False(t, IsPlaintext(make([]byte, NonceSize)))
}
