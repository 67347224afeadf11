package server

import (
	"net/http"
	"net/url"

	"github.com/quartzid/quartz/internal/oauth"
)

// HandleEndSession implements the OIDC end-session endpoint. When the caller
// presents a valid id_token_hint and a post_logout_redirect_uri registered
// for that client, the browser is redirected there; otherwise a plain
// confirmation is rendered.
func (s *Server) HandleEndSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}

	postLogout := r.Form.Get("post_logout_redirect_uri")
	if postLogout == "" {
		s.writeLoggedOut(w)
		return
	}

	// The redirect target must be registered for the client identified by
	// the id_token_hint. Without a verifiable hint the redirect is dropped.
	claims, err := s.issuer.Verify(r.Form.Get("id_token_hint"))
	if err != nil {
		s.writeLoggedOut(w)
		return
	}
	aud, _ := claims["aud"].(string)
	client, ok := s.registry.Client(aud)
	if !ok || !client.HasPostLogoutRedirectURI(postLogout) {
		writeError(w, http.StatusBadRequest, oauth.ErrorCode(oauth.ErrInvalidRequest), "post_logout_redirect_uri is not registered")
		return
	}

	redirect, err := url.Parse(postLogout)
	if err != nil {
		s.writeLoggedOut(w)
		return
	}
	if state := r.Form.Get("state"); state != "" {
		query := redirect.Query()
		query.Set("state", state)
		redirect.RawQuery = query.Encode()
	}
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

func (s *Server) writeLoggedOut(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("You have been signed out.\n"))
}
