package oauth

import "fmt"

// GrantType identifies one of the fixed OAuth2 protocol flows. The set is
// closed: dispatch is a switch over these values, never open-ended.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantClientCredentials GrantType = "client_credentials"
	GrantPassword          GrantType = "password"
	GrantRefreshToken      GrantType = "refresh_token"
	GrantImplicit          GrantType = "implicit"
)

// ParseGrantType maps the wire value of the grant_type parameter onto the
// closed variant set. Unknown values fail with ErrUnsupportedGrantType.
func ParseGrantType(value string) (GrantType, error) {
	switch GrantType(value) {
	case GrantAuthorizationCode, GrantClientCredentials, GrantPassword, GrantRefreshToken:
		return GrantType(value), nil
	case GrantImplicit:
		// Implicit is an authorization-endpoint flow only. It can appear in a
		// client's allowed set but never as a token endpoint grant_type.
		return "", fmt.Errorf("%w: implicit is not a token endpoint grant", ErrUnsupportedGrantType)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedGrantType, value)
	}
}

// ResponseType identifies an authorization endpoint response_type.
type ResponseType string

const (
	ResponseCode            ResponseType = "code"
	ResponseToken           ResponseType = "token"
	ResponseIDToken         ResponseType = "id_token"
	ResponseTokenAndIDToken ResponseType = "id_token token"
)

// GrantFor returns the grant type an authorization response type belongs to.
func (rt ResponseType) GrantFor() (GrantType, error) {
	switch rt {
	case ResponseCode:
		return GrantAuthorizationCode, nil
	case ResponseToken, ResponseIDToken, ResponseTokenAndIDToken:
		return GrantImplicit, nil
	default:
		return "", fmt.Errorf("%w: unsupported response_type %q", ErrInvalidRequest, string(rt))
	}
}
