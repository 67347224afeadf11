package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzid/quartz/internal/oauth"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTakeCodeConsumesOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	code := &oauth.AuthorizationCode{
		CodeHash:  "hash-1",
		ClientID:  "web",
		SubjectID: "818727",
		Scopes:    []string{"openid"},
		ExpiresAt: time.Now().Add(time.Minute),
	}
	require.NoError(t, s.PutCode(ctx, code))

	got, err := s.TakeCode(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, "web", got.ClientID)

	_, err = s.TakeCode(ctx, "hash-1")
	assert.ErrorIs(t, err, oauth.ErrTokenNotFound)
}

func TestTakeCodeConcurrentSingleWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutCode(ctx, &oauth.AuthorizationCode{
		CodeHash:  "contested",
		ExpiresAt: time.Now().Add(time.Minute),
	}))

	const callers = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.TakeCode(ctx, "contested"); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	assert.Len(t, wins, 1)
}

func TestExpiredEntriesAreInvisible(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutCode(ctx, &oauth.AuthorizationCode{
		CodeHash:  "stale-code",
		ExpiresAt: time.Now().Add(-time.Second),
	}))
	_, err := s.TakeCode(ctx, "stale-code")
	assert.ErrorIs(t, err, oauth.ErrTokenNotFound)

	require.NoError(t, s.PutRefresh(ctx, &oauth.RefreshToken{
		TokenHash: "stale-refresh",
		ExpiresAt: time.Now().Add(-time.Second),
	}))
	_, err = s.GetRefresh(ctx, "stale-refresh")
	assert.ErrorIs(t, err, oauth.ErrTokenNotFound)
}

func TestRefreshLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	token := &oauth.RefreshToken{
		TokenHash: "rt-1",
		ClientID:  "web",
		SubjectID: "818727",
		Scopes:    []string{"openid", "offline_access"},
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, s.PutRefresh(ctx, token))

	// Get does not consume.
	got, err := s.GetRefresh(ctx, "rt-1")
	require.NoError(t, err)
	assert.Equal(t, "818727", got.SubjectID)
	_, err = s.GetRefresh(ctx, "rt-1")
	require.NoError(t, err)

	// Extend moves the deadline.
	later := time.Now().Add(2 * time.Hour)
	require.NoError(t, s.ExtendRefresh(ctx, "rt-1", later))
	got, err = s.GetRefresh(ctx, "rt-1")
	require.NoError(t, err)
	assert.Equal(t, later.Unix(), got.ExpiresAt.Unix())

	// Take consumes.
	_, err = s.TakeRefresh(ctx, "rt-1")
	require.NoError(t, err)
	_, err = s.TakeRefresh(ctx, "rt-1")
	assert.ErrorIs(t, err, oauth.ErrTokenNotFound)
}

func TestRevokeRefreshIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutRefresh(ctx, &oauth.RefreshToken{
		TokenHash: "rt-2",
		ExpiresAt: time.Now().Add(time.Hour),
	}))
	require.NoError(t, s.RevokeRefresh(ctx, "rt-2"))
	require.NoError(t, s.RevokeRefresh(ctx, "rt-2"))

	_, err := s.GetRefresh(ctx, "rt-2")
	assert.ErrorIs(t, err, oauth.ErrTokenNotFound)
}

func TestJTIDenylist(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	denied, err := s.IsJTIDenied(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, denied)

	require.NoError(t, s.DenyJTI(ctx, "jti-1", time.Now().Add(time.Minute)))
	denied, err = s.IsJTIDenied(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, denied)

	// Past-deadline entries no longer deny.
	require.NoError(t, s.DenyJTI(ctx, "jti-2", time.Now().Add(-time.Second)))
	denied, err = s.IsJTIDenied(ctx, "jti-2")
	require.NoError(t, err)
	assert.False(t, denied)
}

func TestPurgeDropsExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutCode(ctx, &oauth.AuthorizationCode{
		CodeHash:  "old",
		ExpiresAt: time.Now().Add(-time.Minute),
	}))
	require.NoError(t, s.PutCode(ctx, &oauth.AuthorizationCode{
		CodeHash:  "fresh",
		ExpiresAt: time.Now().Add(time.Minute),
	}))

	s.purge(time.Now())

	s.mu.Lock()
	_, hasOld := s.codes["old"]
	_, hasFresh := s.codes["fresh"]
	s.mu.Unlock()
	assert.False(t, hasOld)
	assert.True(t, hasFresh)
}
