package oauth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/quartzid/quartz/internal/registry"
)

const refreshTokenBytes = 48

// Issuer mints signed access and identity tokens and opaque refresh tokens.
// Key material is injected at construction and never mutated.
type Issuer struct {
	issuerURL string
	keys      *KeyMaterial
	now       func() time.Time
}

// NewIssuer creates an issuer for the given issuer URL and signing key.
func NewIssuer(issuerURL string, keys *KeyMaterial) *Issuer {
	return &Issuer{
		issuerURL: strings.TrimRight(issuerURL, "/"),
		keys:      keys,
		now:       time.Now,
	}
}

// IssuerURL returns the iss claim value.
func (i *Issuer) IssuerURL() string { return i.issuerURL }

// Keys returns the signing key material.
func (i *Issuer) Keys() *KeyMaterial { return i.keys }

// AccessToken is the result of minting a signed access token.
type AccessToken struct {
	Signed    string
	JTI       string
	ExpiresAt time.Time
}

// IssueAccessToken mints a signed JWT access token. Subject is empty for
// client_credentials grants: machine tokens carry no sub claim. The audience
// is the set of API resources exposing any granted scope.
func (i *Issuer) IssueAccessToken(client *registry.Client, subject string, scopes []string, resources []registry.ApiResource) (*AccessToken, error) {
	now := i.now()
	expiresAt := now.Add(client.AccessTokenTTL())
	jti := uuid.New().String()

	claims := jwt.MapClaims{
		"iss":       i.issuerURL,
		"client_id": client.ClientID,
		"scope":     strings.Join(scopes, " "),
		"iat":       now.Unix(),
		"nbf":       now.Unix(),
		"exp":       expiresAt.Unix(),
		"jti":       jti,
	}
	if subject != "" {
		claims["sub"] = subject
	}
	if len(resources) > 0 {
		aud := make([]string, len(resources))
		for n, res := range resources {
			aud[n] = res.Name
		}
		claims["aud"] = aud
	}
	addClientClaims(claims, client)

	signed, err := i.sign(claims)
	if err != nil {
		return nil, err
	}
	return &AccessToken{Signed: signed, JTI: jti, ExpiresAt: expiresAt}, nil
}

// IssueIdentityToken mints a signed identity token for the client's own
// consumption (aud = client id). Profile claims for the granted identity
// scopes are passed by the caller.
func (i *Issuer) IssueIdentityToken(client *registry.Client, subject, nonce string, profile map[string]string) (string, error) {
	now := i.now()
	claims := jwt.MapClaims{
		"iss":       i.issuerURL,
		"sub":       subject,
		"aud":       client.ClientID,
		"iat":       now.Unix(),
		"exp":       now.Add(client.IdentityTokenTTL()).Unix(),
		"auth_time": now.Unix(),
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	for name, value := range profile {
		claims[name] = value
	}
	addClientClaims(claims, client)

	return i.sign(claims)
}

// NewRefreshToken mints an opaque refresh token value and its store record.
// Only the SHA-256 hash of the value is kept server side.
func (i *Issuer) NewRefreshToken(client *registry.Client, subject string, scopes []string) (string, *RefreshToken, error) {
	value, err := RandomString(refreshTokenBytes)
	if err != nil {
		return "", nil, err
	}
	now := i.now()
	ttl := client.RefreshTokenTTL()
	if client.SlidingRefresh() && client.SlidingRefreshTTL() < ttl {
		ttl = client.SlidingRefreshTTL()
	}
	return value, &RefreshToken{
		TokenHash: HashToken(value),
		ClientID:  client.ClientID,
		SubjectID: subject,
		Scopes:    scopes,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// Verify parses a signed token produced by this issuer. It fails on any
// tampering, on wrong algorithm, and deterministically at or after expiry.
func (i *Issuer) Verify(tokenString string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodRS256 {
			return nil, fmt.Errorf("unexpected signing method %q", token.Method.Alg())
		}
		return i.keys.PublicKey(), nil
	}, jwt.WithIssuer(i.issuerURL), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (i *Issuer) sign(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = i.keys.KID()
	signed, err := token.SignedString(i.keys.PrivateKey())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigningFailure, err)
	}
	return signed, nil
}

// addClientClaims copies the client's configured claims into the token with
// the client_ prefix when always_send_client_claims is set.
func addClientClaims(claims jwt.MapClaims, client *registry.Client) {
	if !client.AlwaysSendClientClaims {
		return
	}
	for name, value := range client.Claims {
		claims["client_"+name] = value
	}
}
