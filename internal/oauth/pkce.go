package oauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
)

// PKCE code challenge methods. Only S256 is accepted for new authorization
// requests; "plain" is rejected outright rather than silently downgraded.
const (
	CodeChallengeS256 = "S256"
)

// ValidateChallenge checks the code_challenge parameters of an authorization
// request. Public clients and clients flagged require_pkce must present one.
func ValidateChallenge(challenge, method string, required bool) (string, error) {
	if challenge == "" {
		if required {
			return "", fmt.Errorf("%w: code_challenge is required for this client", ErrInvalidRequest)
		}
		return "", nil
	}
	if len(challenge) < 43 || len(challenge) > 128 {
		return "", fmt.Errorf("%w: code_challenge length out of range", ErrInvalidRequest)
	}
	if method := strings.ToUpper(method); method != CodeChallengeS256 {
		return "", fmt.Errorf("%w: code_challenge_method must be S256", ErrInvalidRequest)
	}
	return challenge, nil
}

// VerifyVerifier checks that a presented code_verifier hashes to the stored
// challenge. A missing verifier when a challenge was stored, or a mismatch,
// both fail with ErrInvalidGrant.
func VerifyVerifier(challenge, verifier string) error {
	if challenge == "" {
		return nil
	}
	if verifier == "" {
		return fmt.Errorf("%w: code_verifier is required", ErrInvalidGrant)
	}
	sum := sha256.Sum256([]byte(verifier))
	derived := base64.RawURLEncoding.EncodeToString(sum[:])
	if subtle.ConstantTimeCompare([]byte(derived), []byte(challenge)) != 1 {
		return fmt.Errorf("%w: code_verifier does not match challenge", ErrInvalidGrant)
	}
	return nil
}
