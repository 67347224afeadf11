package oauth

import "time"

// AuthorizationCode is the ephemeral artifact minted by the authorize phase
// and consumed exactly once by the token endpoint. Stored under the SHA-256
// hash of the opaque code value.
type AuthorizationCode struct {
	CodeHash            string    `json:"code_hash"`
	ClientID            string    `json:"client_id"`
	SubjectID           string    `json:"subject_id"`
	Scopes              []string  `json:"scopes"`
	RedirectURI         string    `json:"redirect_uri"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	Nonce               string    `json:"nonce,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// RefreshToken is the long-lived grant artifact. Stored under the SHA-256
// hash of the opaque token value.
type RefreshToken struct {
	TokenHash string    `json:"token_hash"`
	ClientID  string    `json:"client_id"`
	SubjectID string    `json:"subject_id"`
	Scopes    []string  `json:"scopes"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenResponse is the success body of the token endpoint and the fragment
// payload of an implicit authorization response.
type TokenResponse struct {
	AccessToken  string `json:"access_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}
