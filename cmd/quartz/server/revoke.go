package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/quartzid/quartz/internal/events"
	"github.com/quartzid/quartz/internal/oauth"
)

// HandleRevoke implements RFC 7009 token revocation. Clients may only revoke
// their own tokens. Per the RFC the endpoint answers 200 whether or not the
// presented token existed.
func (s *Server) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	clientID, clientSecret := clientCredentials(r)
	client, err := oauth.AuthenticateClient(s.registry, clientID, clientSecret)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Basic realm="quartz"`)
		writeError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
		return
	}

	token := r.PostForm.Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}

	revoked := false
	switch r.PostForm.Get("token_type_hint") {
	case "access_token":
		revoked = s.revokeAccessToken(r, client.ClientID, token)
	case "refresh_token":
		revoked = s.revokeRefreshToken(r, client.ClientID, token)
	default:
		// No hint: refresh tokens are opaque, access tokens are JWTs, so
		// try both orders cheaply.
		revoked = s.revokeRefreshToken(r, client.ClientID, token) ||
			s.revokeAccessToken(r, client.ClientID, token)
	}

	if revoked {
		s.publish(r, events.Event{
			Kind:     events.TokenRevoked,
			ClientID: client.ClientID,
		})
	}
	w.WriteHeader(http.StatusOK)
}

// revokeRefreshToken deletes the stored record when it belongs to the
// authenticated client.
func (s *Server) revokeRefreshToken(r *http.Request, clientID, token string) bool {
	hash := oauth.HashToken(token)
	record, err := s.store.GetRefresh(r.Context(), hash)
	if err != nil {
		if !errors.Is(err, oauth.ErrTokenNotFound) {
			slog.Warn("refresh token lookup failed during revocation", "error", err)
		}
		return false
	}
	if record.ClientID != clientID {
		return false
	}
	if err := s.store.RevokeRefresh(r.Context(), hash); err != nil {
		slog.Warn("refresh token revocation failed", "error", err)
		return false
	}
	return true
}

// revokeAccessToken denylists the token's jti until its natural expiry.
func (s *Server) revokeAccessToken(r *http.Request, clientID, token string) bool {
	claims, err := s.issuer.Verify(token)
	if err != nil {
		return false
	}
	if owner, _ := claims["client_id"].(string); owner != clientID {
		return false
	}
	jti, ok := claims["jti"].(string)
	if !ok || jti == "" {
		return false
	}
	until := time.Now().Add(time.Hour)
	if exp, ok := claims["exp"].(float64); ok {
		until = time.Unix(int64(exp), 0)
	}
	if err := s.store.DenyJTI(r.Context(), jti, until); err != nil {
		slog.Warn("jti denylist write failed", "error", err)
		return false
	}
	return true
}
