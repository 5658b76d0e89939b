package pkce

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVerifier(t *testing.T) {
	verifier, err := NewVerifier()
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(verifier), 43)
	assert.LessOrEqual(t, len(verifier), 128)
	assert.True(t, validVerifierCharset(verifier))

	other, err := NewVerifier()
	require.NoError(t, err)
	assert.NotEqual(t, verifier, other)
}

func TestValidMethod(t *testing.T) {
	assert.True(t, ValidMethod("S256"))
	assert.True(t, ValidMethod("plain"))
	assert.False(t, ValidMethod("s256"))
	assert.False(t, ValidMethod(""))
}

func TestVerify(t *testing.T) {
	verifier, err := NewVerifier()
	require.NoError(t, err)

	t.Run("S256 round trip", func(t *testing.T) {
		challenge, err := Challenge(verifier, MethodS256)
		require.NoError(t, err)
		assert.NotEqual(t, verifier, challenge)
		assert.NoError(t, Verify(verifier, challenge, MethodS256))
	})

	t.Run("plain round trip", func(t *testing.T) {
		assert.NoError(t, Verify(verifier, verifier, MethodPlain))
	})

	t.Run("wrong verifier rejected", func(t *testing.T) {
		challenge, err := Challenge(verifier, MethodS256)
		require.NoError(t, err)

		wrong, err := NewVerifier()
		require.NoError(t, err)
		assert.Error(t, Verify(wrong, challenge, MethodS256))
	})

	t.Run("short verifier rejected", func(t *testing.T) {
		challenge, err := Challenge("short", MethodS256)
		require.NoError(t, err)
		assert.Error(t, Verify("short", challenge, MethodS256))
	})

	t.Run("invalid characters rejected", func(t *testing.T) {
		bad := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa!"
		challenge, err := Challenge(bad, MethodS256)
		require.NoError(t, err)
		assert.Error(t, Verify(bad, challenge, MethodS256))
	})

	t.Run("unknown method rejected", func(t *testing.T) {
		assert.Error(t, Verify(verifier, verifier, Method("md5")))
	})
}
