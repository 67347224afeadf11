package oauth

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "invalid_grant", ErrorCode(fmt.Errorf("%w: code expired", ErrInvalidGrant)))
	assert.Equal(t, "invalid_client", ErrorCode(ErrInvalidClient))

	// Errors without a wire representation collapse to invalid_request.
	assert.Equal(t, "invalid_request", ErrorCode(ErrInvalidRedirectURI))
	assert.Equal(t, "invalid_request", ErrorCode(errors.New("boom")))
}

func TestErrorDescription(t *testing.T) {
	err := fmt.Errorf("%w: code expired", ErrInvalidGrant)
	assert.Equal(t, "code expired", ErrorDescription(err))

	// The sentinel prefix is trimmed even when the wire code differs from the
	// sentinel name.
	err = fmt.Errorf("%w: redirect uri not registered for client", ErrInvalidRedirectURI)
	assert.Equal(t, "invalid_request", ErrorCode(err))
	assert.Equal(t, "redirect uri not registered for client", ErrorDescription(err))

	// Unwrapped errors pass through untouched.
	assert.Equal(t, "boom", ErrorDescription(errors.New("boom")))
}
