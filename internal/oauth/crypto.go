package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

// RandomString returns a base64url-encoded string of length random bytes,
// suitable for codes, refresh tokens, and client secrets.
func RandomString(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken returns the hex-encoded SHA-256 of a token value. Opaque codes
// and refresh tokens are persisted under this hash, never raw.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// SecretDigest returns the stored form of a client or API secret:
// standard base64 of the SHA-256 of the plaintext.
func SecretDigest(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// VerifySecret compares a presented secret against a set of stored digests in
// constant time. Every stored digest is checked regardless of earlier matches
// so that timing does not reveal which entry matched.
func VerifySecret(presented string, digests []string) bool {
	candidate := SecretDigest(presented)
	matched := 0
	for _, digest := range digests {
		matched |= subtle.ConstantTimeCompare([]byte(candidate), []byte(digest))
	}
	return matched == 1
}
