package token_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-social-connect/token"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupTestFixture(t *testing.T, now *time.Time) *token.Sessions {
	t.Helper()
	signer, err := token.NewHMACSigner("0123456789abcdef0123")
	require.NoError(t, err)
	s, err := token.NewSessions(signer, time.Hour, token.WithNowFunc(func() time.Time { return *now }))
	require.NoError(t, err)
	return s
}

func TestSessions_IssueAndVerify(t *testing.T) {
	now := t0
	s := setupTestFixture(t, &now)

	raw, issued, err := s.Issue("user-1", []string{"cust-1", "cust-2"}, false)
	require.NoError(t, err)
	require.Equal(t, t0.Add(time.Hour), issued.ExpiresAt)

	claims, err := s.Verify(raw)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
	require.Equal(t, []string{"cust-1", "cust-2"}, claims.Customers)
	require.Equal(t, issued.ID, claims.ID)
	require.True(t, claims.CanActFor("cust-2"))
	require.False(t, claims.CanActFor("cust-3"))
	require.False(t, claims.CanRead("cust-3"))
	require.False(t, claims.IsAgency())

	t.Run("expired", func(t *testing.T) {
		now = t0.Add(2 * time.Hour)
		defer func() { now = t0 }()
		_, err := s.Verify(raw)
		require.Error(t, err)
	})

	t.Run("tampered", func(t *testing.T) {
		_, err := s.Verify(raw + "x")
		require.Error(t, err)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := s.Verify("  ")
		require.Error(t, err)
	})
}

func TestSessions_Agency(t *testing.T) {
	now := t0
	s := setupTestFixture(t, &now)

	raw, _, err := s.Issue("agent", []string{"cust-1"}, true)
	require.NoError(t, err)
	claims, err := s.Verify(raw)
	require.NoError(t, err)
	require.True(t, claims.IsAgency())
	require.True(t, claims.CanRead("cust-9"))
	require.False(t, claims.CanActFor("cust-9"))
}

func TestSessions_RejectsForeignTokens(t *testing.T) {
	now := t0
	s := setupTestFixture(t, &now)

	other, err := token.NewHMACSigner("another-secret-of-length")
	require.NoError(t, err)
	foreign, err := token.NewSessions(other, time.Hour, token.WithNowFunc(func() time.Time { return now }))
	require.NoError(t, err)
	raw, _, err := foreign.Issue("user-1", nil, false)
	require.NoError(t, err)
	_, err = s.Verify(raw)
	require.Error(t, err)

	t.Run("wrong issuer", func(t *testing.T) {
		signer, err := token.NewHMACSigner("0123456789abcdef0123")
		require.NoError(t, err)
		raw, err := signer.Sign(jwt.MapClaims{"iss": "someone-else", "sub": "user-1", "exp": t0.Add(time.Hour).Unix()})
		require.NoError(t, err)
		_, err = s.Verify(raw)
		require.Error(t, err)
	})

	t.Run("short secret", func(t *testing.T) {
		_, err := token.NewHMACSigner("short")
		require.Error(t, err)
	})
}
