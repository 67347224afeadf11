package oauth

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func challengeFor(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func TestValidateChallenge(t *testing.T) {
	valid := challengeFor("some-code-verifier-value-that-is-long-enough")

	t.Run("accepts S256", func(t *testing.T) {
		got, err := ValidateChallenge(valid, "S256", true)
		require.NoError(t, err)
		assert.Equal(t, valid, got)
	})

	t.Run("missing challenge fails when required", func(t *testing.T) {
		_, err := ValidateChallenge("", "S256", true)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("missing challenge passes when optional", func(t *testing.T) {
		got, err := ValidateChallenge("", "", false)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("plain method rejected", func(t *testing.T) {
		_, err := ValidateChallenge(valid, "plain", false)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("length bounds enforced", func(t *testing.T) {
		_, err := ValidateChallenge("too-short", "S256", false)
		assert.ErrorIs(t, err, ErrInvalidRequest)

		_, err = ValidateChallenge(strings.Repeat("a", 129), "S256", false)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})
}

func TestVerifyVerifier(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := challengeFor(verifier)

	assert.NoError(t, VerifyVerifier(challenge, verifier))
	assert.ErrorIs(t, VerifyVerifier(challenge, "a-different-verifier"), ErrInvalidGrant)
	assert.ErrorIs(t, VerifyVerifier(challenge, ""), ErrInvalidGrant)

	// No challenge stored: the client never started PKCE, nothing to verify.
	assert.NoError(t, VerifyVerifier("", ""))
	assert.NoError(t, VerifyVerifier("", verifier))
}
