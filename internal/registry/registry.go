package registry

import (
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Snapshot is the configuration document the registry is built from. It is
// loaded once at process start; there is no reload path.
type Snapshot struct {
	IdentityResources []IdentityResource `yaml:"identity_resources"`
	ApiScopes         []ApiScope         `yaml:"api_scopes"`
	ApiResources      []ApiResource      `yaml:"api_resources"`
	Clients           []*Client          `yaml:"clients"`
}

// Scope is the registry's unified view of a grantable scope name: either an
// identity scope (claims about the user) or an API scope (claims about
// access to a resource).
type Scope struct {
	Name           string
	Identity       bool
	RequireConsent bool
	ClaimTypes     []string
}

// OfflineAccessScope is the standard scope requesting a refresh token. It is
// grantable by any client with offline access allowed and is never listed as
// an identity or API scope.
const OfflineAccessScope = "offline_access"

// OpenIDScope marks a request for an identity token.
const OpenIDScope = "openid"

// Registry is the immutable, process-wide view of configured clients,
// scopes, and resources. Safe for unlimited concurrent readers.
type Registry struct {
	clients   map[string]*Client
	scopes    map[string]Scope
	resources []ApiResource
	// scope name -> resources exposing it
	scopeResources map[string][]*ApiResource
}

// Load reads a snapshot document from a YAML file and builds the registry.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry snapshot: %w", err)
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse registry snapshot: %w", err)
	}
	return New(snap)
}

// New validates a snapshot and freezes it into a registry. Validation
// failures are configuration bugs and abort startup.
func New(snap Snapshot) (*Registry, error) {
	reg := &Registry{
		clients:        make(map[string]*Client),
		scopes:         make(map[string]Scope),
		resources:      snap.ApiResources,
		scopeResources: make(map[string][]*ApiResource),
	}

	for _, res := range snap.IdentityResources {
		if res.Name == "" {
			return nil, fmt.Errorf("identity resource with empty name")
		}
		if _, dup := reg.scopes[res.Name]; dup {
			return nil, fmt.Errorf("duplicate scope name %q", res.Name)
		}
		reg.scopes[res.Name] = Scope{
			Name:           res.Name,
			Identity:       true,
			RequireConsent: res.RequireConsent,
			ClaimTypes:     res.ClaimTypes,
		}
	}

	for _, scope := range snap.ApiScopes {
		if scope.Name == "" {
			return nil, fmt.Errorf("api scope with empty name")
		}
		if _, dup := reg.scopes[scope.Name]; dup {
			return nil, fmt.Errorf("duplicate scope name %q", scope.Name)
		}
		reg.scopes[scope.Name] = Scope{
			Name:           scope.Name,
			RequireConsent: scope.RequireConsent,
		}
	}

	for i := range reg.resources {
		res := &reg.resources[i]
		if res.Name == "" {
			return nil, fmt.Errorf("api resource with empty name")
		}
		for _, scopeName := range res.Scopes {
			scope, ok := reg.scopes[scopeName]
			if !ok || scope.Identity {
				return nil, fmt.Errorf("api resource %q references unknown api scope %q", res.Name, scopeName)
			}
			reg.scopeResources[scopeName] = append(reg.scopeResources[scopeName], res)
		}
	}

	for _, client := range snap.Clients {
		if err := validateClient(client, reg.scopes); err != nil {
			return nil, err
		}
		if _, dup := reg.clients[client.ClientID]; dup {
			return nil, fmt.Errorf("duplicate client id %q", client.ClientID)
		}
		freezeClient(client)
		reg.clients[client.ClientID] = client
	}

	return reg, nil
}

// Client looks up an enabled client by id. Disabled clients are invisible.
func (r *Registry) Client(id string) (*Client, bool) {
	client, ok := r.clients[id]
	if !ok || !client.Enabled {
		return nil, false
	}
	return client, true
}

// Scopes resolves scope names. The second result lists names the registry
// does not know; offline_access resolves implicitly.
func (r *Registry) Scopes(names []string) ([]Scope, []string) {
	var found []Scope
	var missing []string
	for _, name := range names {
		if name == OfflineAccessScope {
			found = append(found, Scope{Name: OfflineAccessScope})
			continue
		}
		scope, ok := r.scopes[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		found = append(found, scope)
	}
	return found, missing
}

// ResourcesForScopes returns the API resources exposing any of the scopes.
// The result is deduplicated and ordered by first appearance.
func (r *Registry) ResourcesForScopes(names []string) []ApiResource {
	seen := make(map[string]struct{})
	var result []ApiResource
	for _, name := range names {
		for _, res := range r.scopeResources[name] {
			if _, dup := seen[res.Name]; dup {
				continue
			}
			seen[res.Name] = struct{}{}
			result = append(result, *res)
		}
	}
	return result
}

// AllowedCorsOrigin reports whether any enabled client registers the origin.
// Used for preflight requests, which carry no client identification.
func (r *Registry) AllowedCorsOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	for _, client := range r.clients {
		if client.Enabled && client.HasCorsOrigin(origin) {
			return true
		}
	}
	return false
}

// ApiResourceByName looks up a protected resource registration, used by the
// introspection endpoint for resource authentication.
func (r *Registry) ApiResourceByName(name string) (*ApiResource, bool) {
	for i := range r.resources {
		if r.resources[i].Name == name {
			return &r.resources[i], true
		}
	}
	return nil, false
}

func validateClient(client *Client, scopes map[string]Scope) error {
	if client.ClientID == "" {
		return fmt.Errorf("client with empty client_id")
	}
	if client.RequireClientSecret && len(client.Secrets) == 0 {
		return fmt.Errorf("client %q requires a secret but has none", client.ClientID)
	}
	if len(client.AllowedGrantTypes) == 0 {
		return fmt.Errorf("client %q has no allowed grant types", client.ClientID)
	}

	usesCode := false
	for _, grant := range client.AllowedGrantTypes {
		switch grant {
		case "authorization_code":
			usesCode = true
		case "client_credentials", "password", "refresh_token", "implicit":
		default:
			return fmt.Errorf("client %q allows unknown grant type %q", client.ClientID, grant)
		}
	}

	// PKCE is mandatory for public clients on the code flow.
	if usesCode && client.IsPublic() && !client.RequirePkce {
		return fmt.Errorf("public client %q must require PKCE for the authorization code grant", client.ClientID)
	}

	for _, scopeName := range client.AllowedScopes {
		if scopeName == OfflineAccessScope {
			if !client.AllowOfflineAccess {
				return fmt.Errorf("client %q lists offline_access without allow_offline_access", client.ClientID)
			}
			continue
		}
		if _, ok := scopes[scopeName]; !ok {
			return fmt.Errorf("client %q references unknown scope %q", client.ClientID, scopeName)
		}
	}

	for _, raw := range client.RedirectURIs {
		parsed, err := url.Parse(raw)
		if err != nil || !parsed.IsAbs() {
			return fmt.Errorf("client %q has non-absolute redirect uri %q", client.ClientID, raw)
		}
	}

	if exp := client.RefreshTokenExpiration; exp != "" && exp != RefreshExpirationAbsolute && exp != RefreshExpirationSliding {
		return fmt.Errorf("client %q has unknown refresh_token_expiration %q", client.ClientID, exp)
	}
	if usage := client.RefreshTokenUsage; usage != "" && usage != RefreshUsageOneTime && usage != RefreshUsageReusable {
		return fmt.Errorf("client %q has unknown refresh_token_usage %q", client.ClientID, usage)
	}

	return nil
}

func freezeClient(client *Client) {
	client.allowedGrants = toSet(client.AllowedGrantTypes)
	client.allowedScopes = toSet(client.AllowedScopes)
	client.redirectURIs = toSet(client.RedirectURIs)
	client.postLogoutURIs = toSet(client.PostLogoutRedirectURIs)
	client.corsOrigins = toSet(client.AllowedCorsOrigins)
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		set[value] = struct{}{}
	}
	return set
}
