package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/quartzid/quartz/internal/oauth"
)

// HandleIntrospect implements RFC 7662 token introspection. Callers
// authenticate either as a registered client or as a protected API resource
// using its own secret. Unknown, expired, and revoked tokens all produce the
// same inactive answer.
func (s *Server) HandleIntrospect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	caller, ok := s.authenticateIntrospectionCaller(r)
	if !ok {
		w.Header().Set("WWW-Authenticate", `Basic realm="quartz"`)
		writeError(w, http.StatusUnauthorized, "invalid_client", "caller authentication failed")
		return
	}

	token := r.PostForm.Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}

	if payload := s.introspectAccessToken(r, token); payload != nil {
		slog.Debug("introspection served", "caller", caller, "token_type", "access_token")
		writeJSON(w, http.StatusOK, payload)
		return
	}
	if payload := s.introspectRefreshToken(r, token); payload != nil {
		slog.Debug("introspection served", "caller", caller, "token_type", "refresh_token")
		writeJSON(w, http.StatusOK, payload)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"active": false})
}

// authenticateIntrospectionCaller resolves the Basic credentials against API
// resource secrets first, then against client registrations. Returns the
// caller's name for logging.
func (s *Server) authenticateIntrospectionCaller(r *http.Request) (string, bool) {
	id, secret := clientCredentials(r)
	if id == "" {
		return "", false
	}
	if res, ok := s.registry.ApiResourceByName(id); ok && len(res.Secrets) > 0 {
		if oauth.VerifySecret(secret, res.Secrets) {
			return res.Name, true
		}
		return "", false
	}
	client, err := oauth.AuthenticateClient(s.registry, id, secret)
	if err != nil {
		return "", false
	}
	return client.ClientID, true
}

// introspectAccessToken answers for signed access tokens. A token whose jti
// has been revoked is inactive even before its natural expiry.
func (s *Server) introspectAccessToken(r *http.Request, token string) map[string]any {
	claims, err := s.issuer.Verify(token)
	if err != nil {
		return nil
	}
	if jti, ok := claims["jti"].(string); ok {
		denied, err := s.store.IsJTIDenied(r.Context(), jti)
		if err != nil {
			slog.Warn("jti denylist lookup failed", "error", err)
			return nil
		}
		if denied {
			return map[string]any{"active": false}
		}
	}

	payload := map[string]any{
		"active":     true,
		"token_type": "access_token",
		"iss":        s.issuer.IssuerURL(),
	}
	for _, name := range []string{"scope", "client_id", "sub", "jti", "aud"} {
		if value, ok := claims[name]; ok {
			payload[name] = value
		}
	}
	for _, name := range []string{"exp", "iat", "nbf"} {
		if value, ok := claims[name].(float64); ok {
			payload[name] = int64(value)
		}
	}
	return payload
}

// introspectRefreshToken answers for opaque refresh tokens, matched by hash.
func (s *Server) introspectRefreshToken(r *http.Request, token string) map[string]any {
	record, err := s.store.GetRefresh(r.Context(), oauth.HashToken(token))
	if err != nil {
		return nil
	}
	if !record.ExpiresAt.After(time.Now()) {
		return map[string]any{"active": false}
	}
	return map[string]any{
		"active":     true,
		"token_type": "refresh_token",
		"client_id":  record.ClientID,
		"sub":        record.SubjectID,
		"scope":      strings.Join(record.Scopes, " "),
		"iat":        record.CreatedAt.Unix(),
		"exp":        record.ExpiresAt.Unix(),
	}
}
