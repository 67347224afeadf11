package oauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzid/quartz/internal/registry"
)

func validatorRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(registry.Snapshot{
		IdentityResources: []registry.IdentityResource{
			{Name: "openid", ClaimTypes: []string{"sub"}},
			{Name: "profile", ClaimTypes: []string{"name"}},
		},
		ApiScopes: []registry.ApiScope{
			{Name: "order.read"},
			{Name: "order.write"},
		},
		Clients: []*registry.Client{
			{
				ClientID:            "confidential",
				Secrets:             []string{SecretDigest("top-secret")},
				RequireClientSecret: true,
				AllowedGrantTypes:   []string{"client_credentials"},
				AllowedScopes:       []string{"order.read"},
				Enabled:             true,
			},
			{
				ClientID:          "spa",
				AllowedGrantTypes: []string{"authorization_code"},
				RequirePkce:       true,
				AllowedScopes:     []string{"openid", "order.read"},
				RedirectURIs:      []string{"https://spa.example.com/callback"},
				Enabled:           true,
			},
			{
				ClientID:            "dormant",
				Secrets:             []string{SecretDigest("unused")},
				RequireClientSecret: true,
				AllowedGrantTypes:   []string{"client_credentials"},
				AllowedScopes:       []string{"order.read"},
			},
		},
	})
	require.NoError(t, err)
	return reg
}

func TestAuthenticateClient(t *testing.T) {
	reg := validatorRegistry(t)

	t.Run("confidential client with correct secret", func(t *testing.T) {
		client, err := AuthenticateClient(reg, "confidential", "top-secret")
		require.NoError(t, err)
		assert.Equal(t, "confidential", client.ClientID)
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := AuthenticateClient(reg, "confidential", "nope")
		assert.ErrorIs(t, err, ErrInvalidClient)
	})

	t.Run("missing secret", func(t *testing.T) {
		_, err := AuthenticateClient(reg, "confidential", "")
		assert.ErrorIs(t, err, ErrInvalidClient)
	})

	t.Run("public client needs no secret", func(t *testing.T) {
		client, err := AuthenticateClient(reg, "spa", "")
		require.NoError(t, err)
		assert.True(t, client.IsPublic())
	})

	t.Run("unknown client", func(t *testing.T) {
		_, err := AuthenticateClient(reg, "ghost", "top-secret")
		assert.ErrorIs(t, err, ErrInvalidClient)
	})

	t.Run("disabled client is invisible", func(t *testing.T) {
		_, err := AuthenticateClient(reg, "dormant", "unused")
		assert.ErrorIs(t, err, ErrInvalidClient)
	})
}

func TestNarrowScopes(t *testing.T) {
	reg := validatorRegistry(t)
	client, ok := reg.Client("spa")
	require.True(t, ok)

	t.Run("scopes outside the allowed set are dropped", func(t *testing.T) {
		granted, err := NarrowScopes(reg, client, []string{"openid", "order.write"})
		require.NoError(t, err)
		assert.Equal(t, []string{"openid"}, granted)
	})

	t.Run("empty request defaults to the full allowed set", func(t *testing.T) {
		granted, err := NarrowScopes(reg, client, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"openid", "order.read"}, granted)
	})

	t.Run("unknown scope name fails", func(t *testing.T) {
		_, err := NarrowScopes(reg, client, []string{"openid", "no.such.scope"})
		assert.ErrorIs(t, err, ErrInvalidScope)
	})

	t.Run("nothing remaining fails", func(t *testing.T) {
		_, err := NarrowScopes(reg, client, []string{"order.write"})
		assert.ErrorIs(t, err, ErrInvalidScope)
	})
}

func TestValidateRedirect(t *testing.T) {
	reg := validatorRegistry(t)
	client, ok := reg.Client("spa")
	require.True(t, ok)

	assert.True(t, ValidateRedirect(client, "https://spa.example.com/callback"))
	assert.False(t, ValidateRedirect(client, "https://spa.example.com/callback/"))
	assert.False(t, ValidateRedirect(client, "https://spa.example.com/other"))
	assert.False(t, ValidateRedirect(client, ""))
}

func TestRequiresConsent(t *testing.T) {
	scopes := []registry.Scope{
		{Name: "openid", Identity: true},
		{Name: "order.read"},
	}

	assert.False(t, RequiresConsent(&registry.Client{}, scopes))
	assert.True(t, RequiresConsent(&registry.Client{RequireConsent: true}, scopes))

	identityOnly := []registry.Scope{{Name: "openid", Identity: true}}
	assert.True(t, RequiresConsent(&registry.Client{RequireConsent: true}, identityOnly))
	assert.False(t, RequiresConsent(&registry.Client{RequireConsent: true}, nil))
}

func TestSplitScopes(t *testing.T) {
	assert.Equal(t, []string{"openid", "order.read"}, SplitScopes("openid  order.read "))
	assert.Empty(t, SplitScopes(""))
	assert.Empty(t, SplitScopes("   "))
}
