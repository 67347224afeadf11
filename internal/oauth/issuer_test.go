package oauth

import (
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzid/quartz/internal/registry"
)

var (
	testKeysOnce sync.Once
	testKeys     *KeyMaterial
)

func testKeyMaterial(t *testing.T) *KeyMaterial {
	t.Helper()
	testKeysOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKeys, err = NewKeyMaterial(key)
		if err != nil {
			panic(err)
		}
	})
	return testKeys
}

func testIssuer(t *testing.T, now time.Time) *Issuer {
	t.Helper()
	i := NewIssuer("https://auth.example.com/", testKeyMaterial(t))
	i.now = func() time.Time { return now }
	return i
}

func TestIssueAccessTokenRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	issuer := testIssuer(t, now)
	client := &registry.Client{ClientID: "web", AccessTokenLifetime: 600}
	resources := []registry.ApiResource{{Name: "order"}, {Name: "invoice"}}

	access, err := issuer.IssueAccessToken(client, "subject-1", []string{"order.read", "invoice.read"}, resources)
	require.NoError(t, err)
	assert.NotEmpty(t, access.JTI)
	assert.Equal(t, now.Add(10*time.Minute), access.ExpiresAt)

	claims, err := issuer.Verify(access.Signed)
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example.com", claims["iss"])
	assert.Equal(t, "subject-1", claims["sub"])
	assert.Equal(t, "web", claims["client_id"])
	assert.Equal(t, "order.read invoice.read", claims["scope"])
	assert.Equal(t, access.JTI, claims["jti"])
	assert.ElementsMatch(t, []any{"order", "invoice"}, claims["aud"])
}

func TestIssueAccessTokenMachineTokenHasNoSubject(t *testing.T) {
	issuer := testIssuer(t, time.Now())
	client := &registry.Client{ClientID: "machine"}

	access, err := issuer.IssueAccessToken(client, "", []string{"order.read"}, nil)
	require.NoError(t, err)

	claims, err := issuer.Verify(access.Signed)
	require.NoError(t, err)
	_, hasSub := claims["sub"]
	assert.False(t, hasSub)
	_, hasAud := claims["aud"]
	assert.False(t, hasAud)
}

func TestIssueAccessTokenClientClaims(t *testing.T) {
	issuer := testIssuer(t, time.Now())
	client := &registry.Client{
		ClientID:               "billing",
		AlwaysSendClientClaims: true,
		Claims:                 map[string]string{"department": "billing"},
	}

	access, err := issuer.IssueAccessToken(client, "subject-1", []string{"order.read"}, nil)
	require.NoError(t, err)

	claims, err := issuer.Verify(access.Signed)
	require.NoError(t, err)
	assert.Equal(t, "billing", claims["client_department"])
}

func TestIssueIdentityToken(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	issuer := testIssuer(t, now)
	client := &registry.Client{ClientID: "web"}

	signed, err := issuer.IssueIdentityToken(client, "subject-1", "nonce-xyz", map[string]string{
		"name":  "Alice Smith",
		"email": "alice@example.com",
	})
	require.NoError(t, err)

	claims, err := issuer.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "subject-1", claims["sub"])
	assert.Equal(t, "web", claims["aud"])
	assert.Equal(t, "nonce-xyz", claims["nonce"])
	assert.Equal(t, "Alice Smith", claims["name"])
	assert.Equal(t, "alice@example.com", claims["email"])
	assert.EqualValues(t, now.Unix(), claims["auth_time"])
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	now := time.Now()
	issuer := testIssuer(t, now)
	client := &registry.Client{ClientID: "web", AccessTokenLifetime: 60}

	access, err := issuer.IssueAccessToken(client, "subject-1", []string{"order.read"}, nil)
	require.NoError(t, err)

	issuer.now = func() time.Time { return now.Add(61 * time.Second) }
	_, err = issuer.Verify(access.Signed)
	assert.Error(t, err)
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	issuer := testIssuer(t, time.Now())
	client := &registry.Client{ClientID: "web"}

	access, err := issuer.IssueAccessToken(client, "subject-1", []string{"order.read"}, nil)
	require.NoError(t, err)

	tampered := access.Signed[:len(access.Signed)-4] + "AAAA"
	_, err = issuer.Verify(tampered)
	assert.Error(t, err)
}

func TestVerifyRejectsWrongAlgorithmAndIssuer(t *testing.T) {
	issuer := testIssuer(t, time.Now())

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"iss": "https://auth.example.com",
		"sub": "subject-1",
	})
	raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = issuer.Verify(raw)
	assert.Error(t, err)

	other := NewIssuer("https://other.example.com", testKeyMaterial(t))
	access, err := other.IssueAccessToken(&registry.Client{ClientID: "web"}, "subject-1", nil, nil)
	require.NoError(t, err)
	_, err = issuer.Verify(access.Signed)
	assert.Error(t, err)
}

func TestNewRefreshTokenLifetimes(t *testing.T) {
	now := time.Now()
	issuer := testIssuer(t, now)

	t.Run("absolute uses the full lifetime", func(t *testing.T) {
		client := &registry.Client{ClientID: "web", RefreshTokenLifetime: 3600}
		value, token, err := issuer.NewRefreshToken(client, "subject-1", []string{"order.read"})
		require.NoError(t, err)
		assert.NotEmpty(t, value)
		assert.Equal(t, HashToken(value), token.TokenHash)
		assert.Equal(t, now.Add(time.Hour), token.ExpiresAt)
	})

	t.Run("sliding caps the first window", func(t *testing.T) {
		client := &registry.Client{
			ClientID:               "web",
			RefreshTokenLifetime:   3600,
			RefreshTokenExpiration: registry.RefreshExpirationSliding,
			SlidingRefreshLifetime: 600,
		}
		_, token, err := issuer.NewRefreshToken(client, "subject-1", []string{"order.read"})
		require.NoError(t, err)
		assert.Equal(t, now.Add(10*time.Minute), token.ExpiresAt)
	})
}
