package devauth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventduniya/authsession/internal/session"
)

func cheapHasher() *PasswordHasher {
	return NewPasswordHasher(1024, 1, 1, 16, 32)
}

func TestPasswordHasher(t *testing.T) {
	h := cheapHasher()

	encoded, err := h.Hash("correct horse")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=1024,t=1,p=1$"))

	ok, err := h.Verify("correct horse", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("battery staple", encoded)
	require.NoError(t, err)
	assert.False(t, ok)

	other, err := h.Hash("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, encoded, other, "salts must differ")
}

func TestPasswordHasher_InvalidEncoding(t *testing.T) {
	h := cheapHasher()

	for _, encoded := range []string{
		"",
		"plaintext",
		"$argon2i$v=19$m=1024,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=16$m=1024,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=1024,t=1,p=1$!!!$aGFzaA",
	} {
		_, err := h.Verify("pw", encoded)
		assert.Error(t, err, encoded)
	}
}

func TestStore_CreateAccount(t *testing.T) {
	s := NewStore()

	u, err := s.CreateAccount(session.Registration{Username: "Alice", Email: "a@example.com", Password: "pw"}, "hash")
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, session.RoleUser, u.Role)

	_, err = s.CreateAccount(session.Registration{Username: "alice", Email: "other@example.com"}, "hash")
	assert.ErrorIs(t, err, ErrUserExists)

	acct, err := s.FindByUsername("ALICE")
	require.NoError(t, err)
	assert.Equal(t, u, acct.User)
	assert.Empty(t, acct.Profile.Password, "plaintext password must not be kept")

	_, err = s.FindByUsername("bob")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestStore_UpsertExternal(t *testing.T) {
	s := NewStore()

	first, created := s.UpsertExternal("carol", "carol@example.com")
	assert.True(t, created)

	again, created := s.UpsertExternal("Carol", "")
	assert.False(t, created)
	assert.Equal(t, first, again)
}

func mintOK(session.User) error { return nil }

// TestPurpose: Validates refresh credential rotation and expiry in the stub store.
// Scope: Unit Test
// Expected: A credential can be used exactly once and expired credentials are rejected.
// Test Case ID: DEV-01
func TestStore_RotateRefresh(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore()
	s.now = func() time.Time { return now }

	u, err := s.CreateAccount(session.Registration{Username: "alice", Email: "a@example.com"}, "hash")
	require.NoError(t, err)

	value, _ := s.IssueRefresh(u.ID, time.Hour)

	got, next, expiresAt, err := s.RotateRefresh(value, time.Hour, mintOK)
	require.NoError(t, err)
	assert.Equal(t, u, got)
	assert.NotEqual(t, value, next)
	assert.Equal(t, now.Add(time.Hour), expiresAt)

	_, _, _, err = s.RotateRefresh(value, time.Hour, mintOK)
	assert.ErrorIs(t, err, ErrUnknownRefresh, "consumed credential must not be reusable")

	now = now.Add(2 * time.Hour)
	_, _, _, err = s.RotateRefresh(next, time.Hour, mintOK)
	assert.ErrorIs(t, err, ErrUnknownRefresh, "expired credential must be rejected")
}

// TestPurpose: Validates that a failed access token mint does not burn the refresh credential.
// Scope: Unit Test
// Expected: The original credential still rotates after a mint error.
// Test Case ID: DEV-04
func TestStore_RotateRefresh_MintFailure(t *testing.T) {
	s := NewStore()
	u, err := s.CreateAccount(session.Registration{Username: "alice", Email: "a@example.com"}, "hash")
	require.NoError(t, err)
	value, _ := s.IssueRefresh(u.ID, time.Hour)

	signErr := errors.New("signing failed")
	_, next, _, err := s.RotateRefresh(value, time.Hour, func(session.User) error { return signErr })
	assert.ErrorIs(t, err, signErr)
	assert.Empty(t, next)

	var minted session.User
	got, next, _, err := s.RotateRefresh(value, time.Hour, func(owner session.User) error {
		minted = owner
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, u, got)
	assert.Equal(t, u, minted)
	assert.NotEqual(t, value, next)
}

func TestStore_RevokeRefresh(t *testing.T) {
	s := NewStore()
	value, _ := s.IssueRefresh("u1", time.Hour)

	assert.True(t, s.RevokeRefresh(value))
	assert.False(t, s.RevokeRefresh(value))
}

func TestTokenIssuer(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC)
	issuer := NewTokenIssuer("secret", 15*time.Minute)
	issuer.now = func() time.Time { return now }

	u := session.User{ID: "u1", Username: "alice", Role: session.RoleArtist}
	token, expiresAt, err := issuer.Issue(u)
	require.NoError(t, err)
	assert.Equal(t, now.Add(15*time.Minute).Truncate(time.Second), expiresAt)

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, session.RoleArtist, claims.Role)

	t.Run("wrong secret", func(t *testing.T) {
		other := NewTokenIssuer("other", 15*time.Minute)
		other.now = issuer.now
		_, err := other.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		later := NewTokenIssuer("secret", 15*time.Minute)
		later.now = func() time.Time { return now.Add(time.Hour) }
		_, err := later.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := issuer.Verify("not.a.jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)
	defer rl.Stop()

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"), "buckets are per IP")

	rl.evict(time.Now().Add(time.Hour))
	assert.True(t, rl.Allow("10.0.0.1"), "evicted visitor starts with a full bucket")
}
