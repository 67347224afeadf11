package oauth

import (
	"context"
	"errors"
	"time"
)

// ErrTokenNotFound is returned by stores when a code or refresh token is
// missing, expired, or already consumed. Callers surface it as
// ErrInvalidGrant so that replay and expiry are indistinguishable.
var ErrTokenNotFound = errors.New("token not found")

// TokenStore owns all mutable grant state: outstanding authorization codes,
// refresh tokens, and revoked access token ids. Take operations are atomic
// get-and-delete; two concurrent takes of the same value race to exactly one
// winner, the loser observes ErrTokenNotFound. Implementations may be backed
// by a network store and must honor context cancellation.
type TokenStore interface {
	PutCode(ctx context.Context, code *AuthorizationCode) error
	// TakeCode consumes a code atomically. Used exactly once per code.
	TakeCode(ctx context.Context, codeHash string) (*AuthorizationCode, error)

	PutRefresh(ctx context.Context, token *RefreshToken) error
	// GetRefresh reads without consuming, for reusable refresh tokens.
	GetRefresh(ctx context.Context, tokenHash string) (*RefreshToken, error)
	// TakeRefresh consumes atomically, for one-time-only refresh tokens.
	TakeRefresh(ctx context.Context, tokenHash string) (*RefreshToken, error)
	// ExtendRefresh moves a reusable token's expiry for sliding policies.
	ExtendRefresh(ctx context.Context, tokenHash string, expiresAt time.Time) error
	RevokeRefresh(ctx context.Context, tokenHash string) error

	// DenyJTI records a revoked access token id until its natural expiry.
	DenyJTI(ctx context.Context, jti string, until time.Time) error
	IsJTIDenied(ctx context.Context, jti string) (bool, error)

	Close() error
}
