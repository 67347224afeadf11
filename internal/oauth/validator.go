package oauth

import (
	"fmt"
	"strings"

	"github.com/quartzid/quartz/internal/registry"
)

// ValidateRedirect reports whether a redirect URI is registered for the
// client. Exact string match only; no wildcard or prefix matching.
func ValidateRedirect(client *registry.Client, uri string) bool {
	return uri != "" && client.HasRedirectURI(uri)
}

// ValidateCorsOrigin reports whether a cross-origin request from origin may
// reach the token and authorization endpoints for this client.
func ValidateCorsOrigin(client *registry.Client, origin string) bool {
	return origin != "" && client.HasCorsOrigin(origin)
}

// RequiresConsent reports whether resource-owner approval is needed before
// granting the given scopes to the client.
func RequiresConsent(client *registry.Client, scopes []registry.Scope) bool {
	if !client.RequireConsent {
		return false
	}
	for _, scope := range scopes {
		if scope.RequireConsent || !scope.Identity {
			return true
		}
	}
	// Identity-only scope sets without a consent-requiring scope still need
	// approval when the client demands consent.
	return len(scopes) > 0
}

// AuthenticateClient resolves and authenticates a client for the token
// endpoint. All failures collapse to ErrInvalidClient so responses never
// reveal whether the client id or the secret was wrong.
func AuthenticateClient(reg *registry.Registry, clientID, clientSecret string) (*registry.Client, error) {
	if clientID == "" {
		return nil, fmt.Errorf("%w: client authentication required", ErrInvalidClient)
	}
	client, ok := reg.Client(clientID)
	if !ok {
		return nil, fmt.Errorf("%w: client authentication failed", ErrInvalidClient)
	}
	if client.IsPublic() {
		return client, nil
	}
	if clientSecret == "" || !VerifySecret(clientSecret, client.Secrets) {
		return nil, fmt.Errorf("%w: client authentication failed", ErrInvalidClient)
	}
	return client, nil
}

// NarrowScopes applies the scope policy: requested scopes outside the
// client's allowed set are dropped silently; if nothing remains the request
// fails with ErrInvalidScope. An empty request defaults to the client's full
// allowed set. Unknown scope names always fail.
func NarrowScopes(reg *registry.Registry, client *registry.Client, requested []string) ([]string, error) {
	if len(requested) == 0 {
		requested = client.AllowedScopes
	}

	if _, missing := reg.Scopes(requested); len(missing) > 0 {
		return nil, fmt.Errorf("%w: unknown scope %q", ErrInvalidScope, missing[0])
	}

	var granted []string
	for _, name := range requested {
		if client.AllowsScope(name) {
			granted = append(granted, name)
		}
	}
	if len(granted) == 0 {
		return nil, fmt.Errorf("%w: no requested scope is allowed for this client", ErrInvalidScope)
	}
	return granted, nil
}

// SplitScopes parses a space-delimited scope parameter.
func SplitScopes(scope string) []string {
	return strings.Fields(scope)
}

// HasScope reports whether a scope name is in a granted list.
func HasScope(scopes []string, name string) bool {
	for _, scope := range scopes {
		if scope == name {
			return true
		}
	}
	return false
}

// withoutScope returns the list with one scope name removed.
func withoutScope(scopes []string, name string) []string {
	out := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		if scope != name {
			out = append(out, scope)
		}
	}
	return out
}
