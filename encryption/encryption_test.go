package encryption

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	enc, err := NewAESGCM([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	for _, plaintext := range []string{"", "tok_4242", "Ada Lovelace", "221B Baker Street"} {
		opaque, err := enc.Encrypt(plaintext)
		require.NoError(t, err)
		if plaintext != "" {
			assert.NotContains(t, opaque, plaintext)
		}

		got, err := enc.Decrypt(opaque)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestNoncesDiffer(t *testing.T) {
	enc, err := NewAESGCM([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	a, err := enc.Encrypt("tok_4242")
	require.NoError(t, err)
	b, err := enc.Encrypt("tok_4242")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	enc, err := NewAESGCM([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	_, err = enc.Decrypt("not base64!!!")
	assert.Error(t, err)

	_, err = enc.Decrypt("c2hvcnQ=") // valid base64, too short for a nonce
	assert.Error(t, err)
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	enc1, err := NewAESGCM([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	enc2, err := NewAESGCM([]byte("fedcba9876543210fedcba9876543210"))
	require.NoError(t, err)

	opaque, err := enc1.Encrypt("tok_4242")
	require.NoError(t, err)
	_, err = enc2.Decrypt(opaque)
	assert.Error(t, err)
}

func TestRejectsBadKeyLength(t *testing.T) {
	_, err := NewAESGCM([]byte("too short"))
	assert.Error(t, err)
}
