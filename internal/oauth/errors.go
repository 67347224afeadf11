package oauth

import (
	"errors"
	"strings"
)

// Domain errors form a closed set mapping onto the RFC 6749 error codes. The
// HTTP layer is the only place they are converted into response bodies; the
// core packages return them unwrapped or wrapped with %w.
var (
	ErrInvalidRequest       = errors.New("invalid_request")
	ErrInvalidClient        = errors.New("invalid_client")
	ErrInvalidGrant         = errors.New("invalid_grant")
	ErrUnauthorizedClient   = errors.New("unauthorized_client")
	ErrUnsupportedGrantType = errors.New("unsupported_grant_type")
	ErrInvalidScope         = errors.New("invalid_scope")
	ErrAccessDenied         = errors.New("access_denied")
	ErrConsentRequired      = errors.New("consent_required")
	ErrInvalidRedirectURI   = errors.New("invalid_redirect_uri")

	// ErrSigningFailure indicates broken signing material. It is fatal at
	// startup and never recovered at the request boundary.
	ErrSigningFailure = errors.New("signing_failure")
)

// ErrorCode returns the RFC 6749 wire code for a domain error. Errors that
// have no wire representation (including redirect URI failures, which must
// never be reported via redirect) collapse to invalid_request.
func ErrorCode(err error) string {
	for _, sentinel := range []error{
		ErrInvalidClient,
		ErrInvalidGrant,
		ErrUnauthorizedClient,
		ErrUnsupportedGrantType,
		ErrInvalidScope,
		ErrAccessDenied,
		ErrConsentRequired,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return ErrInvalidRequest.Error()
}

// ErrorDescription strips the matched sentinel's prefix from a wrapped domain
// error, leaving the human-readable remainder for error_description. The
// sentinel matched here may differ from the wire code: redirect URI failures
// collapse to invalid_request on the wire but keep their own message prefix.
func ErrorDescription(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{
		ErrInvalidClient,
		ErrInvalidGrant,
		ErrUnauthorizedClient,
		ErrUnsupportedGrantType,
		ErrInvalidScope,
		ErrAccessDenied,
		ErrConsentRequired,
		ErrInvalidRedirectURI,
		ErrInvalidRequest,
	} {
		if errors.Is(err, sentinel) {
			return strings.TrimPrefix(msg, sentinel.Error()+": ")
		}
	}
	return msg
}
