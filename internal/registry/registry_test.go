package registry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSnapshot() Snapshot {
	return Snapshot{
		IdentityResources: []IdentityResource{
			{Name: "openid", ClaimTypes: []string{"sub"}},
			{Name: "profile", ClaimTypes: []string{"name"}},
		},
		ApiScopes: []ApiScope{
			{Name: "order.read"},
			{Name: "order.write"},
			{Name: "invoice.read"},
		},
		ApiResources: []ApiResource{
			{Name: "order", Scopes: []string{"order.read", "order.write"}},
			{Name: "invoice", Scopes: []string{"invoice.read"}},
		},
		Clients: []*Client{
			{
				ClientID:            "machine",
				Secrets:             []string{"digest"},
				RequireClientSecret: true,
				AllowedGrantTypes:   []string{"client_credentials"},
				AllowedScopes:       []string{"order.read", "order.write"},
				Enabled:             true,
			},
			{
				ClientID:           "spa",
				AllowedGrantTypes:  []string{"authorization_code"},
				RequirePkce:        true,
				RedirectURIs:       []string{"https://spa.example.com/callback"},
				AllowedCorsOrigins: []string{"https://spa.example.com"},
				AllowedScopes:      []string{"openid", "profile", "offline_access", "order.read"},
				AllowOfflineAccess: true,
				Enabled:            true,
			},
			{
				ClientID:            "retired",
				Secrets:             []string{"digest"},
				RequireClientSecret: true,
				AllowedGrantTypes:   []string{"client_credentials"},
				AllowedScopes:       []string{"order.read"},
			},
		},
	}
}

func TestLoadFromFile(t *testing.T) {
	reg, err := Load(filepath.Join("testdata", "registry.yaml"))
	require.NoError(t, err)

	client, ok := reg.Client("spa")
	require.True(t, ok)
	assert.True(t, client.IsPublic())
	assert.True(t, client.HasRedirectURI("https://spa.example.com/callback"))
	assert.True(t, reg.AllowedCorsOrigin("https://spa.example.com"))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "no-such-file.yaml"))
	assert.Error(t, err)
}

func TestNewRejectsBadSnapshots(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Snapshot)
	}{
		{"duplicate scope name", func(s *Snapshot) {
			s.ApiScopes = append(s.ApiScopes, ApiScope{Name: "openid"})
		}},
		{"duplicate client id", func(s *Snapshot) {
			s.Clients = append(s.Clients, &Client{
				ClientID:          "machine",
				AllowedGrantTypes: []string{"client_credentials"},
			})
		}},
		{"resource references unknown scope", func(s *Snapshot) {
			s.ApiResources[0].Scopes = append(s.ApiResources[0].Scopes, "no.such.scope")
		}},
		{"resource references identity scope", func(s *Snapshot) {
			s.ApiResources[0].Scopes = append(s.ApiResources[0].Scopes, "openid")
		}},
		{"confidential client without secret", func(s *Snapshot) {
			s.Clients[0].Secrets = nil
		}},
		{"client without grant types", func(s *Snapshot) {
			s.Clients[0].AllowedGrantTypes = nil
		}},
		{"unknown grant type", func(s *Snapshot) {
			s.Clients[0].AllowedGrantTypes = []string{"device_code"}
		}},
		{"public code client without pkce", func(s *Snapshot) {
			s.Clients[1].RequirePkce = false
		}},
		{"client references unknown scope", func(s *Snapshot) {
			s.Clients[0].AllowedScopes = append(s.Clients[0].AllowedScopes, "no.such.scope")
		}},
		{"offline_access without allow_offline_access", func(s *Snapshot) {
			s.Clients[0].AllowedScopes = append(s.Clients[0].AllowedScopes, "offline_access")
		}},
		{"relative redirect uri", func(s *Snapshot) {
			s.Clients[1].RedirectURIs = []string{"/callback"}
		}},
		{"unknown refresh expiration", func(s *Snapshot) {
			s.Clients[1].RefreshTokenExpiration = "forever"
		}},
		{"unknown refresh usage", func(s *Snapshot) {
			s.Clients[1].RefreshTokenUsage = "many_times"
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snap := validSnapshot()
			tc.mutate(&snap)
			_, err := New(snap)
			assert.Error(t, err)
		})
	}
}

func TestClientLookup(t *testing.T) {
	reg, err := New(validSnapshot())
	require.NoError(t, err)

	_, ok := reg.Client("machine")
	assert.True(t, ok)

	_, ok = reg.Client("ghost")
	assert.False(t, ok)

	// Disabled clients exist in the snapshot but are invisible at runtime.
	_, ok = reg.Client("retired")
	assert.False(t, ok)
}

func TestScopesResolution(t *testing.T) {
	reg, err := New(validSnapshot())
	require.NoError(t, err)

	found, missing := reg.Scopes([]string{"openid", "offline_access", "order.read", "bogus"})
	assert.Equal(t, []string{"bogus"}, missing)
	require.Len(t, found, 3)
	assert.True(t, found[0].Identity)
	assert.False(t, found[2].Identity)
}

func TestResourcesForScopes(t *testing.T) {
	reg, err := New(validSnapshot())
	require.NoError(t, err)

	resources := reg.ResourcesForScopes([]string{"order.read", "order.write", "invoice.read"})
	require.Len(t, resources, 2)
	assert.Equal(t, "order", resources[0].Name)
	assert.Equal(t, "invoice", resources[1].Name)

	assert.Empty(t, reg.ResourcesForScopes([]string{"openid"}))
}

func TestClientLifetimeDefaults(t *testing.T) {
	client := &Client{}
	assert.Equal(t, DefaultAccessTokenLifetime, client.AccessTokenTTL())
	assert.Equal(t, DefaultIdentityTokenLifetime, client.IdentityTokenTTL())
	assert.Equal(t, DefaultRefreshTokenLifetime, client.RefreshTokenTTL())
	assert.Equal(t, DefaultSlidingRefreshLifetime, client.SlidingRefreshTTL())

	custom := &Client{AccessTokenLifetime: 90, RefreshTokenLifetime: 120}
	assert.Equal(t, 90*time.Second, custom.AccessTokenTTL())
	assert.Equal(t, 2*time.Minute, custom.RefreshTokenTTL())
}

func TestRefreshPolicyDefaults(t *testing.T) {
	assert.True(t, (&Client{}).OneTimeRefresh(), "one-time is the default usage")
	assert.False(t, (&Client{RefreshTokenUsage: RefreshUsageReusable}).OneTimeRefresh())
	assert.False(t, (&Client{}).SlidingRefresh())
	assert.True(t, (&Client{RefreshTokenExpiration: RefreshExpirationSliding}).SlidingRefresh())
}
