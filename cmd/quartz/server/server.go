// Package server exposes the OAuth2/OIDC HTTP surface: authorization and
// token endpoints, discovery metadata, JWKS, introspection, revocation, and
// end-session.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/quartzid/quartz/internal/events"
	"github.com/quartzid/quartz/internal/oauth"
	"github.com/quartzid/quartz/internal/registry"
	"github.com/quartzid/quartz/internal/users"
)

// Server wires the HTTP handlers to the grant engine and its collaborators.
type Server struct {
	registry *registry.Registry
	engine   *oauth.Engine
	issuer   *oauth.Issuer
	store    oauth.TokenStore
	users    users.Store
	events   *events.Publisher
}

// NewServer creates the HTTP surface. events may be nil.
func NewServer(reg *registry.Registry, engine *oauth.Engine, issuer *oauth.Issuer, store oauth.TokenStore, userStore users.Store, publisher *events.Publisher) *Server {
	return &Server{
		registry: reg,
		engine:   engine,
		issuer:   issuer,
		store:    store,
		users:    userStore,
		events:   publisher,
	}
}

// Routes builds the request mux with CORS and rate limiting applied to the
// protocol endpoints.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/authorize", s.HandleAuthorize)
	mux.HandleFunc("/oauth/token", s.HandleToken)
	mux.HandleFunc("/oauth/jwks", s.HandleJWKS)
	mux.HandleFunc("/oauth/introspect", s.HandleIntrospect)
	mux.HandleFunc("/oauth/revoke", s.HandleRevoke)
	mux.HandleFunc("/oauth/endsession", s.HandleEndSession)
	mux.HandleFunc("/.well-known/openid-configuration", s.HandleDiscovery)
	return s.corsMiddleware(rateLimitMiddleware(mux))
}

// HandleAuthorize processes authorization requests for the code and implicit
// flows. The resource owner authenticates with Basic credentials; consent
// approval arrives as consent=granted (the consent screen itself is an
// external concern).
func (s *Server) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}

	subject, ok := s.authenticateResourceOwner(r)
	if !ok {
		w.Header().Set("WWW-Authenticate", `Basic realm="quartz"`)
		writeError(w, http.StatusUnauthorized, "access_denied", "resource owner authentication required")
		return
	}

	req := oauth.AuthorizeRequest{
		ResponseType:        oauth.ResponseType(r.Form.Get("response_type")),
		ClientID:            r.Form.Get("client_id"),
		RedirectURI:         r.Form.Get("redirect_uri"),
		Scope:               r.Form.Get("scope"),
		State:               r.Form.Get("state"),
		Nonce:               r.Form.Get("nonce"),
		CodeChallenge:       r.Form.Get("code_challenge"),
		CodeChallengeMethod: r.Form.Get("code_challenge_method"),
		Subject:             subject,
		ConsentGranted:      r.Form.Get("consent") == "granted",
	}

	result, err := s.engine.Authorize(r.Context(), req)
	if err != nil {
		s.writeAuthorizeError(w, r, req, err)
		return
	}

	if result.Code != "" {
		http.Redirect(w, r, buildCodeRedirect(result), http.StatusFound)
		return
	}

	s.publish(r, events.Event{
		Kind:      events.TokenIssued,
		ClientID:  req.ClientID,
		SubjectID: subject,
		GrantType: string(oauth.GrantImplicit),
	})
	http.Redirect(w, r, buildFragmentRedirect(result), http.StatusFound)
}

// HandleToken processes token endpoint requests for all grants.
func (s *Server) HandleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	grantType, err := oauth.ParseGrantType(r.PostForm.Get("grant_type"))
	if err != nil {
		s.writeTokenError(w, r, err)
		return
	}

	clientID, clientSecret := clientCredentials(r)
	req := oauth.TokenRequest{
		GrantType:    grantType,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scope:        r.PostForm.Get("scope"),
		Code:         r.PostForm.Get("code"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		CodeVerifier: r.PostForm.Get("code_verifier"),
		RefreshToken: r.PostForm.Get("refresh_token"),
		Username:     r.PostForm.Get("username"),
		Password:     r.PostForm.Get("password"),
	}

	resp, err := s.engine.Token(r.Context(), req)
	if err != nil {
		s.writeTokenError(w, r, err)
		return
	}

	kind := events.TokenIssued
	if grantType == oauth.GrantRefreshToken {
		kind = events.TokenRefreshed
	}
	s.publish(r, events.Event{
		Kind:      kind,
		ClientID:  clientID,
		GrantType: string(grantType),
	})

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

// authenticateResourceOwner checks Basic credentials against the user store.
func (s *Server) authenticateResourceOwner(r *http.Request) (string, bool) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return "", false
	}
	subject, err := s.users.Verify(r.Context(), username, password)
	if err != nil {
		return "", false
	}
	return subject, true
}

// clientCredentials extracts client authentication from the Basic header or
// the form body, header taking precedence.
func clientCredentials(r *http.Request) (string, string) {
	if id, secret, ok := r.BasicAuth(); ok {
		if unescaped, err := url.QueryUnescape(id); err == nil {
			id = unescaped
		}
		if unescaped, err := url.QueryUnescape(secret); err == nil {
			secret = unescaped
		}
		return id, secret
	}
	return r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
}

// writeAuthorizeError reports an authorization failure. Client and redirect
// URI failures render a direct error; everything later redirects back to the
// (already validated) redirect URI with the wire error code.
func (s *Server) writeAuthorizeError(w http.ResponseWriter, r *http.Request, req oauth.AuthorizeRequest, err error) {
	slog.Info("authorization request rejected",
		"client_id", req.ClientID,
		"response_type", string(req.ResponseType),
		"error", err,
	)

	if errors.Is(err, oauth.ErrInvalidClient) || errors.Is(err, oauth.ErrInvalidRedirectURI) {
		writeError(w, http.StatusBadRequest, oauth.ErrorCode(err), "invalid authorization request")
		return
	}

	redirect, parseErr := url.Parse(req.RedirectURI)
	if parseErr != nil {
		writeError(w, http.StatusBadRequest, oauth.ErrorCode(err), "invalid authorization request")
		return
	}

	grant, _ := req.ResponseType.GrantFor()
	if grant == oauth.GrantImplicit {
		fragment := url.Values{}
		fragment.Set("error", oauth.ErrorCode(err))
		if req.State != "" {
			fragment.Set("state", req.State)
		}
		redirect.Fragment = fragment.Encode()
	} else {
		query := redirect.Query()
		query.Set("error", oauth.ErrorCode(err))
		if req.State != "" {
			query.Set("state", req.State)
		}
		redirect.RawQuery = query.Encode()
	}
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

// writeTokenError converts a domain error into the standard OAuth2 error
// body. invalid_client gets 401 with a challenge, the rest 400.
func (s *Server) writeTokenError(w http.ResponseWriter, r *http.Request, err error) {
	code := oauth.ErrorCode(err)
	slog.Info("token request rejected",
		"client_id", r.PostForm.Get("client_id"),
		"grant_type", r.PostForm.Get("grant_type"),
		"error", err,
	)

	status := http.StatusBadRequest
	if code == "invalid_client" {
		status = http.StatusUnauthorized
		w.Header().Set("WWW-Authenticate", `Basic realm="quartz"`)
	}
	writeError(w, status, code, oauth.ErrorDescription(err))
}

func (s *Server) publish(r *http.Request, event events.Event) {
	if err := s.events.Publish(r.Context(), event); err != nil {
		slog.Warn("failed to publish token event", "kind", event.Kind, "error", err)
	}
}

func buildCodeRedirect(result *oauth.AuthorizeResult) string {
	redirect, err := url.Parse(result.RedirectURI)
	if err != nil {
		return result.RedirectURI
	}
	query := redirect.Query()
	query.Set("code", result.Code)
	if result.State != "" {
		query.Set("state", result.State)
	}
	redirect.RawQuery = query.Encode()
	return redirect.String()
}

func buildFragmentRedirect(result *oauth.AuthorizeResult) string {
	redirect, err := url.Parse(result.RedirectURI)
	if err != nil {
		return result.RedirectURI
	}
	fragment := url.Values{}
	if result.Tokens.AccessToken != "" {
		fragment.Set("access_token", result.Tokens.AccessToken)
		fragment.Set("token_type", result.Tokens.TokenType)
		fragment.Set("expires_in", strconv.Itoa(result.Tokens.ExpiresIn))
	}
	if result.Tokens.IDToken != "" {
		fragment.Set("id_token", result.Tokens.IDToken)
	}
	if result.Tokens.Scope != "" {
		fragment.Set("scope", result.Tokens.Scope)
	}
	if result.State != "" {
		fragment.Set("state", result.State)
	}
	redirect.Fragment = fragment.Encode()
	return redirect.String()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}
