package oauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quartzid/quartz/internal/registry"
	"github.com/quartzid/quartz/internal/users"
)

const authorizationCodeBytes = 32

// Engine implements the per-grant state machines. Each call is a single
// request/response exchange; all cross-request state lives in the token
// store. The engine itself holds only read-only collaborators and is safe
// for concurrent use.
type Engine struct {
	registry *registry.Registry
	store    TokenStore
	issuer   *Issuer
	users    users.Store
	codeTTL  time.Duration
	now      func() time.Time
}

// NewEngine wires the engine. codeTTL bounds authorization code lifetime;
// zero selects the registry default.
func NewEngine(reg *registry.Registry, store TokenStore, issuer *Issuer, userStore users.Store, codeTTL time.Duration) *Engine {
	if codeTTL <= 0 {
		codeTTL = registry.DefaultAuthorizationCodeExpiry
	}
	return &Engine{
		registry: reg,
		store:    store,
		issuer:   issuer,
		users:    userStore,
		codeTTL:  codeTTL,
		now:      time.Now,
	}
}

// AuthorizeRequest is a validated-enough authorization endpoint request. The
// subject has already been authenticated by the caller; consent approval, if
// collected, is carried in ConsentGranted.
type AuthorizeRequest struct {
	ResponseType        ResponseType
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	Subject             string
	ConsentGranted      bool
}

// AuthorizeResult is the success outcome of the authorize phase: either an
// authorization code (code flow) or tokens for the response fragment
// (implicit flow).
type AuthorizeResult struct {
	RedirectURI string
	State       string
	Code        string
	Tokens      *TokenResponse
}

// Authorize runs the authorization endpoint phase for code and implicit
// flows. Client and redirect URI failures are returned before anything else
// so the HTTP layer never redirects to an unvalidated URI.
func (e *Engine) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResult, error) {
	client, ok := e.registry.Client(req.ClientID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown client", ErrInvalidClient)
	}
	if !ValidateRedirect(client, req.RedirectURI) {
		return nil, fmt.Errorf("%w: redirect uri not registered for client", ErrInvalidRedirectURI)
	}

	grant, err := req.ResponseType.GrantFor()
	if err != nil {
		return nil, err
	}
	if !client.AllowsGrant(string(grant)) {
		return nil, fmt.Errorf("%w: grant type %s not allowed", ErrUnauthorizedClient, grant)
	}
	if req.Subject == "" {
		return nil, fmt.Errorf("%w: resource owner not authenticated", ErrAccessDenied)
	}

	granted, err := NarrowScopes(e.registry, client, SplitScopes(req.Scope))
	if err != nil {
		return nil, err
	}

	scopes, _ := e.registry.Scopes(granted)
	if RequiresConsent(client, scopes) && !req.ConsentGranted {
		return nil, fmt.Errorf("%w: resource owner consent required", ErrConsentRequired)
	}

	switch grant {
	case GrantAuthorizationCode:
		return e.authorizeCode(ctx, client, req, granted)
	default:
		return e.authorizeImplicit(ctx, client, req, granted)
	}
}

func (e *Engine) authorizeCode(ctx context.Context, client *registry.Client, req AuthorizeRequest, granted []string) (*AuthorizeResult, error) {
	pkceRequired := client.RequirePkce || client.IsPublic()
	challenge, err := ValidateChallenge(req.CodeChallenge, req.CodeChallengeMethod, pkceRequired)
	if err != nil {
		return nil, err
	}

	value, err := RandomString(authorizationCodeBytes)
	if err != nil {
		return nil, err
	}

	now := e.now()
	code := &AuthorizationCode{
		CodeHash:    HashToken(value),
		ClientID:    client.ClientID,
		SubjectID:   req.Subject,
		Scopes:      granted,
		RedirectURI: req.RedirectURI,
		Nonce:       req.Nonce,
		CreatedAt:   now,
		ExpiresAt:   now.Add(e.codeTTL),
	}
	if challenge != "" {
		code.CodeChallenge = challenge
		code.CodeChallengeMethod = CodeChallengeS256
	}
	if err := e.store.PutCode(ctx, code); err != nil {
		return nil, fmt.Errorf("failed to store authorization code: %w", err)
	}

	return &AuthorizeResult{
		RedirectURI: req.RedirectURI,
		State:       req.State,
		Code:        value,
	}, nil
}

// authorizeImplicit issues tokens directly in the authorization response.
// The implicit grant never issues refresh tokens, whatever the client's
// offline access setting; that is a protocol rule, not an omission.
func (e *Engine) authorizeImplicit(ctx context.Context, client *registry.Client, req AuthorizeRequest, granted []string) (*AuthorizeResult, error) {
	wantAccess := req.ResponseType == ResponseToken || req.ResponseType == ResponseTokenAndIDToken
	wantIdentity := req.ResponseType == ResponseIDToken || req.ResponseType == ResponseTokenAndIDToken

	if wantIdentity && !HasScope(granted, registry.OpenIDScope) {
		return nil, fmt.Errorf("%w: id_token requires the openid scope", ErrInvalidScope)
	}

	resp := &TokenResponse{Scope: joinScopes(granted)}
	if wantAccess {
		access, err := e.issuer.IssueAccessToken(client, req.Subject, granted, e.registry.ResourcesForScopes(granted))
		if err != nil {
			return nil, err
		}
		resp.AccessToken = access.Signed
		resp.TokenType = "Bearer"
		resp.ExpiresIn = int(time.Until(access.ExpiresAt).Seconds())
	}
	if wantIdentity {
		profile, err := e.profileClaims(ctx, req.Subject, granted)
		if err != nil {
			return nil, err
		}
		idToken, err := e.issuer.IssueIdentityToken(client, req.Subject, req.Nonce, profile)
		if err != nil {
			return nil, err
		}
		resp.IDToken = idToken
	}

	return &AuthorizeResult{
		RedirectURI: req.RedirectURI,
		State:       req.State,
		Tokens:      resp,
	}, nil
}

// TokenRequest carries the token endpoint parameters for all grants.
type TokenRequest struct {
	GrantType    GrantType
	ClientID     string
	ClientSecret string
	Scope        string

	// authorization_code
	Code         string
	RedirectURI  string
	CodeVerifier string

	// refresh_token
	RefreshToken string

	// password
	Username string
	Password string
}

// Token dispatches a token endpoint request strictly on its grant type.
func (e *Engine) Token(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	client, err := AuthenticateClient(e.registry, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	if !e.grantAllowed(client, req.GrantType) {
		return nil, fmt.Errorf("%w: grant type %s not allowed for client", ErrUnauthorizedClient, req.GrantType)
	}

	switch req.GrantType {
	case GrantClientCredentials:
		return e.tokenClientCredentials(ctx, client, req)
	case GrantAuthorizationCode:
		return e.tokenAuthorizationCode(ctx, client, req)
	case GrantRefreshToken:
		return e.tokenRefresh(ctx, client, req)
	case GrantPassword:
		return e.tokenPassword(ctx, client, req)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedGrantType, req.GrantType)
	}
}

// grantAllowed checks the client's allowed set. refresh_token is implied by
// allow_offline_access rather than listed explicitly.
func (e *Engine) grantAllowed(client *registry.Client, grant GrantType) bool {
	if grant == GrantRefreshToken {
		return client.AllowOfflineAccess || client.AllowsGrant(string(grant))
	}
	return client.AllowsGrant(string(grant))
}

func (e *Engine) tokenClientCredentials(ctx context.Context, client *registry.Client, req TokenRequest) (*TokenResponse, error) {
	if client.IsPublic() {
		return nil, fmt.Errorf("%w: client_credentials requires a confidential client", ErrUnauthorizedClient)
	}

	requested := SplitScopes(req.Scope)
	if HasScope(requested, registry.OfflineAccessScope) {
		return nil, fmt.Errorf("%w: offline_access is not valid for client_credentials", ErrInvalidScope)
	}
	granted, err := NarrowScopes(e.registry, client, requested)
	if err != nil {
		return nil, err
	}
	if len(requested) == 0 {
		// The defaulted set is the client's full allowed set, which may carry
		// offline_access for the client's other grants. A machine token never
		// includes it, so drop it rather than failing a bare request.
		granted = withoutScope(granted, registry.OfflineAccessScope)
	}

	// Machine tokens: no subject, no identity token, no refresh token.
	access, err := e.issuer.IssueAccessToken(client, "", granted, e.registry.ResourcesForScopes(granted))
	if err != nil {
		return nil, err
	}
	return &TokenResponse{
		AccessToken: access.Signed,
		TokenType:   "Bearer",
		ExpiresIn:   int(time.Until(access.ExpiresAt).Seconds()),
		Scope:       joinScopes(granted),
	}, nil
}

func (e *Engine) tokenAuthorizationCode(ctx context.Context, client *registry.Client, req TokenRequest) (*TokenResponse, error) {
	if req.Code == "" {
		return nil, fmt.Errorf("%w: code is required", ErrInvalidRequest)
	}

	// Consume first. The take is atomic: a concurrent redemption of the same
	// code leaves exactly one caller holding the record.
	code, err := e.store.TakeCode(ctx, HashToken(req.Code))
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, fmt.Errorf("%w: unknown, expired, or already redeemed code", ErrInvalidGrant)
		}
		return nil, err
	}
	if e.now().After(code.ExpiresAt) {
		return nil, fmt.Errorf("%w: authorization code expired", ErrInvalidGrant)
	}
	if code.ClientID != client.ClientID {
		return nil, fmt.Errorf("%w: code was issued to a different client", ErrInvalidGrant)
	}
	if req.RedirectURI == "" || req.RedirectURI != code.RedirectURI {
		return nil, fmt.Errorf("%w: redirect_uri does not match authorization request", ErrInvalidGrant)
	}
	if err := VerifyVerifier(code.CodeChallenge, req.CodeVerifier); err != nil {
		return nil, err
	}

	return e.issueForSubject(ctx, client, code.SubjectID, code.Scopes, code.Nonce)
}

func (e *Engine) tokenRefresh(ctx context.Context, client *registry.Client, req TokenRequest) (*TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, fmt.Errorf("%w: refresh_token is required", ErrInvalidRequest)
	}

	hash := HashToken(req.RefreshToken)

	var token *RefreshToken
	var err error
	if client.OneTimeRefresh() {
		token, err = e.store.TakeRefresh(ctx, hash)
	} else {
		token, err = e.store.GetRefresh(ctx, hash)
	}
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, fmt.Errorf("%w: unknown, expired, or rotated refresh token", ErrInvalidGrant)
		}
		return nil, err
	}
	if token.ClientID != client.ClientID {
		return nil, fmt.Errorf("%w: refresh token was issued to a different client", ErrInvalidGrant)
	}

	// Same or narrower scope than originally granted.
	scopes := token.Scopes
	if requested := SplitScopes(req.Scope); len(requested) > 0 {
		for _, name := range requested {
			if !HasScope(token.Scopes, name) {
				return nil, fmt.Errorf("%w: scope %q exceeds the original grant", ErrInvalidScope, name)
			}
		}
		scopes = requested
	}

	resp, err := e.buildTokens(ctx, client, token.SubjectID, scopes, "")
	if err != nil {
		return nil, err
	}

	if client.OneTimeRefresh() {
		// Rotate: the consumed value is gone, mint a replacement carrying the
		// original grant. Absolute expiration keeps the original deadline;
		// sliding extends it per use.
		value, replacement, err := e.issuer.NewRefreshToken(client, token.SubjectID, token.Scopes)
		if err != nil {
			return nil, err
		}
		replacement.CreatedAt = token.CreatedAt
		if client.SlidingRefresh() {
			replacement.ExpiresAt = e.now().Add(client.SlidingRefreshTTL())
		} else {
			replacement.ExpiresAt = token.ExpiresAt
		}
		if err := e.store.PutRefresh(ctx, replacement); err != nil {
			return nil, fmt.Errorf("failed to store rotated refresh token: %w", err)
		}
		resp.RefreshToken = value
	} else {
		if client.SlidingRefresh() {
			if err := e.store.ExtendRefresh(ctx, hash, e.now().Add(client.SlidingRefreshTTL())); err != nil {
				return nil, fmt.Errorf("failed to extend refresh token: %w", err)
			}
		}
		resp.RefreshToken = req.RefreshToken
	}

	return resp, nil
}

func (e *Engine) tokenPassword(ctx context.Context, client *registry.Client, req TokenRequest) (*TokenResponse, error) {
	if req.Username == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrInvalidRequest)
	}

	subject, err := e.users.Verify(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			return nil, fmt.Errorf("%w: resource owner authentication failed", ErrInvalidGrant)
		}
		return nil, err
	}

	granted, err := NarrowScopes(e.registry, client, SplitScopes(req.Scope))
	if err != nil {
		return nil, err
	}
	return e.issueForSubject(ctx, client, subject, granted, "")
}

// issueForSubject builds the full token response for a resource-owner grant:
// access token, identity token when openid was granted, refresh token when
// offline_access was granted and the client allows it.
func (e *Engine) issueForSubject(ctx context.Context, client *registry.Client, subject string, scopes []string, nonce string) (*TokenResponse, error) {
	resp, err := e.buildTokens(ctx, client, subject, scopes, nonce)
	if err != nil {
		return nil, err
	}

	if HasScope(scopes, registry.OfflineAccessScope) && client.AllowOfflineAccess {
		value, token, err := e.issuer.NewRefreshToken(client, subject, scopes)
		if err != nil {
			return nil, err
		}
		if err := e.store.PutRefresh(ctx, token); err != nil {
			return nil, fmt.Errorf("failed to store refresh token: %w", err)
		}
		resp.RefreshToken = value
	}
	return resp, nil
}

func (e *Engine) buildTokens(ctx context.Context, client *registry.Client, subject string, scopes []string, nonce string) (*TokenResponse, error) {
	access, err := e.issuer.IssueAccessToken(client, subject, scopes, e.registry.ResourcesForScopes(scopes))
	if err != nil {
		return nil, err
	}
	resp := &TokenResponse{
		AccessToken: access.Signed,
		TokenType:   "Bearer",
		ExpiresIn:   int(time.Until(access.ExpiresAt).Seconds()),
		Scope:       joinScopes(scopes),
	}

	if HasScope(scopes, registry.OpenIDScope) {
		profile, err := e.profileClaims(ctx, subject, scopes)
		if err != nil {
			return nil, err
		}
		idToken, err := e.issuer.IssueIdentityToken(client, subject, nonce, profile)
		if err != nil {
			return nil, err
		}
		resp.IDToken = idToken
	}
	return resp, nil
}

// profileClaims filters the subject's stored claims down to the claim types
// entitled by the granted identity scopes.
func (e *Engine) profileClaims(ctx context.Context, subject string, granted []string) (map[string]string, error) {
	scopes, _ := e.registry.Scopes(granted)

	entitled := make(map[string]struct{})
	for _, scope := range scopes {
		if !scope.Identity {
			continue
		}
		for _, claimType := range scope.ClaimTypes {
			entitled[claimType] = struct{}{}
		}
	}
	if len(entitled) == 0 {
		return nil, nil
	}

	all, err := e.users.Claims(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve subject claims: %w", err)
	}
	filtered := make(map[string]string)
	for claimType := range entitled {
		if value, ok := all[claimType]; ok {
			filtered[claimType] = value
		}
	}
	return filtered, nil
}

func joinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}
