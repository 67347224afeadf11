package oauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomStringIsUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 64; i++ {
		value, err := RandomString(32)
		require.NoError(t, err)
		assert.NotContains(t, seen, value)
		seen[value] = struct{}{}
	}
}

func TestHashTokenIsStable(t *testing.T) {
	assert.Equal(t, HashToken("abc"), HashToken("abc"))
	assert.NotEqual(t, HashToken("abc"), HashToken("abd"))
	assert.Len(t, HashToken("abc"), 64)
}

func TestSecretDigestKnownValue(t *testing.T) {
	// echo -n secret1 | sha256sum | xxd -r -p | base64
	assert.Equal(t, "WxFhjC5EAnh30M0JIe0Wa58Xb1BYf8kedTTdKUbbd9Y=", SecretDigest("secret1"))
}

func TestVerifySecret(t *testing.T) {
	digests := []string{SecretDigest("old-secret"), SecretDigest("current-secret")}

	assert.True(t, VerifySecret("current-secret", digests))
	assert.True(t, VerifySecret("old-secret", digests))
	assert.False(t, VerifySecret("wrong", digests))
	assert.False(t, VerifySecret("", digests))
	assert.False(t, VerifySecret("current-secret", nil))
}
