package registry

import "time"

// Refresh token policy values, mirroring the configuration vocabulary.
const (
	RefreshExpirationAbsolute = "absolute"
	RefreshExpirationSliding  = "sliding"

	RefreshUsageOneTime  = "one_time"
	RefreshUsageReusable = "reusable"
)

// Defaults applied when a client or snapshot leaves a lifetime unset.
const (
	DefaultAccessTokenLifetime     = time.Hour
	DefaultIdentityTokenLifetime   = 5 * time.Minute
	DefaultAuthorizationCodeExpiry = 5 * time.Minute
	DefaultRefreshTokenLifetime    = 30 * 24 * time.Hour
	DefaultSlidingRefreshLifetime  = 15 * 24 * time.Hour
)

// IdentityResource is a named set of claims about the user (openid, profile,
// email). Granting its scope entitles the client to those claims in the
// identity token.
type IdentityResource struct {
	Name           string   `yaml:"name"`
	DisplayName    string   `yaml:"display_name"`
	ClaimTypes     []string `yaml:"claim_types"`
	RequireConsent bool     `yaml:"require_consent"`
}

// ApiScope is a named unit of access to protected resources.
type ApiScope struct {
	Name           string `yaml:"name"`
	DisplayName    string `yaml:"display_name"`
	RequireConsent bool   `yaml:"require_consent"`
}

// ApiResource is a protected resource server. Its name becomes the audience
// of access tokens carrying any of its scopes. Secrets, when present,
// authenticate the resource to the introspection endpoint.
type ApiResource struct {
	Name        string   `yaml:"name"`
	DisplayName string   `yaml:"display_name"`
	Scopes      []string `yaml:"scopes"`
	Secrets     []string `yaml:"secrets"`
}

// Client is the registration of a caller. Secrets are base64(SHA-256)
// digests, never plaintext. All collections are frozen at registry build
// time; there is no mutation API.
type Client struct {
	ClientID               string   `yaml:"client_id"`
	ClientName             string   `yaml:"client_name"`
	Secrets                []string `yaml:"secrets"`
	AllowedGrantTypes      []string `yaml:"allowed_grant_types"`
	AllowedScopes          []string `yaml:"allowed_scopes"`
	RedirectURIs           []string `yaml:"redirect_uris"`
	PostLogoutRedirectURIs []string `yaml:"post_logout_redirect_uris"`
	AllowedCorsOrigins     []string `yaml:"allowed_cors_origins"`

	RequirePkce            bool `yaml:"require_pkce"`
	RequireClientSecret    bool `yaml:"require_client_secret"`
	RequireConsent         bool `yaml:"require_consent"`
	AllowOfflineAccess     bool `yaml:"allow_offline_access"`
	AlwaysSendClientClaims bool `yaml:"always_send_client_claims"`
	Enabled                bool `yaml:"enabled"`

	// Lifetime overrides in seconds; zero means the registry default.
	AccessTokenLifetime   int `yaml:"access_token_lifetime"`
	IdentityTokenLifetime int `yaml:"identity_token_lifetime"`

	RefreshTokenExpiration string `yaml:"refresh_token_expiration"`
	RefreshTokenUsage      string `yaml:"refresh_token_usage"`
	RefreshTokenLifetime   int    `yaml:"refresh_token_lifetime"`
	SlidingRefreshLifetime int    `yaml:"sliding_refresh_lifetime"`

	Claims map[string]string `yaml:"claims"`

	allowedGrants  map[string]struct{}
	allowedScopes  map[string]struct{}
	redirectURIs   map[string]struct{}
	postLogoutURIs map[string]struct{}
	corsOrigins    map[string]struct{}
}

// IsPublic reports whether the client authenticates without a secret.
func (c *Client) IsPublic() bool { return !c.RequireClientSecret }

// AllowsGrant reports whether the grant type is in the client's allowed set.
func (c *Client) AllowsGrant(grant string) bool {
	_, ok := c.allowedGrants[grant]
	return ok
}

// AllowsScope reports whether a single scope is in the client's allowed set.
func (c *Client) AllowsScope(scope string) bool {
	_, ok := c.allowedScopes[scope]
	return ok
}

// HasRedirectURI matches a redirect URI by exact string comparison. No
// wildcard or prefix matching.
func (c *Client) HasRedirectURI(uri string) bool {
	_, ok := c.redirectURIs[uri]
	return ok
}

// HasPostLogoutRedirectURI matches a post-logout redirect URI exactly.
func (c *Client) HasPostLogoutRedirectURI(uri string) bool {
	_, ok := c.postLogoutURIs[uri]
	return ok
}

// HasCorsOrigin matches an Origin header value exactly.
func (c *Client) HasCorsOrigin(origin string) bool {
	_, ok := c.corsOrigins[origin]
	return ok
}

// AccessTokenTTL returns the client's access token lifetime.
func (c *Client) AccessTokenTTL() time.Duration {
	if c.AccessTokenLifetime > 0 {
		return time.Duration(c.AccessTokenLifetime) * time.Second
	}
	return DefaultAccessTokenLifetime
}

// IdentityTokenTTL returns the client's identity token lifetime.
func (c *Client) IdentityTokenTTL() time.Duration {
	if c.IdentityTokenLifetime > 0 {
		return time.Duration(c.IdentityTokenLifetime) * time.Second
	}
	return DefaultIdentityTokenLifetime
}

// RefreshTokenTTL returns the absolute refresh token lifetime.
func (c *Client) RefreshTokenTTL() time.Duration {
	if c.RefreshTokenLifetime > 0 {
		return time.Duration(c.RefreshTokenLifetime) * time.Second
	}
	return DefaultRefreshTokenLifetime
}

// SlidingRefreshTTL returns the per-use extension window for sliding
// refresh token expiration.
func (c *Client) SlidingRefreshTTL() time.Duration {
	if c.SlidingRefreshLifetime > 0 {
		return time.Duration(c.SlidingRefreshLifetime) * time.Second
	}
	return DefaultSlidingRefreshLifetime
}

// SlidingRefresh reports whether the client uses sliding refresh expiry.
func (c *Client) SlidingRefresh() bool {
	return c.RefreshTokenExpiration == RefreshExpirationSliding
}

// OneTimeRefresh reports whether refresh tokens are single-use and rotated.
// One-time-only is the default when the usage mode is unset.
func (c *Client) OneTimeRefresh() bool {
	return c.RefreshTokenUsage != RefreshUsageReusable
}
