package auth_test

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-records/internal/auth"
)

const testSecret = "unit-test-signing-secret"

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestIssueAndVerifyAccess(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := auth.NewTokenIssuer(testSecret, 15*time.Minute).WithClock(fixedClock(now))
	verifier := auth.NewTokenVerifier(testSecret).WithClock(fixedClock(now.Add(time.Minute)))

	token, expiresIn, err := issuer.IssueAccess(42, auth.RoleStudent)
	require.NoError(t, err)
	assert.Equal(t, int64(900), expiresIn)

	userID, role, err := verifier.VerifyAccess(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)
	assert.Equal(t, auth.RoleStudent, role)
}

func TestVerifyAccessAfterExpiry(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := auth.NewTokenIssuer(testSecret, 15*time.Minute).WithClock(fixedClock(now))

	token, _, err := issuer.IssueAccess(42, auth.RoleStudent)
	require.NoError(t, err)

	before := auth.NewTokenVerifier(testSecret).WithClock(fixedClock(now.Add(14 * time.Minute)))
	_, _, err = before.VerifyAccess(token)
	assert.NoError(t, err)

	after := auth.NewTokenVerifier(testSecret).WithClock(fixedClock(now.Add(16 * time.Minute)))
	_, _, err = after.VerifyAccess(token)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestVerifyAccessWrongSecret(t *testing.T) {
	issuer := auth.NewTokenIssuer(testSecret, 15*time.Minute)
	token, _, err := issuer.IssueAccess(42, auth.RoleStudent)
	require.NoError(t, err)

	verifier := auth.NewTokenVerifier("a-different-secret")
	_, _, err = verifier.VerifyAccess(token)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestVerifyAccessRejectsGarbage(t *testing.T) {
	verifier := auth.NewTokenVerifier(testSecret)

	for _, tokenStr := range []string{"", "garbage", "a.b.c", "eyJhbGciOiJub25lIn0.e30."} {
		_, _, err := verifier.VerifyAccess(tokenStr)
		assert.ErrorIs(t, err, auth.ErrUnauthorized)
	}
}

func TestVerifyAccessRejectsWrongTokenType(t *testing.T) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub": "42",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
		"typ": "refresh",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	verifier := auth.NewTokenVerifier(testSecret)
	_, _, err = verifier.VerifyAccess(token)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestVerifyAccessRejectsNonNumericSubject(t *testing.T) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub": "alice",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
		"typ": "access",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	verifier := auth.NewTokenVerifier(testSecret)
	_, _, err = verifier.VerifyAccess(token)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestNewRefreshToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 32; i++ {
		raw, err := auth.NewRefreshToken()
		require.NoError(t, err)

		decoded, err := base64.RawURLEncoding.DecodeString(raw)
		require.NoError(t, err)
		assert.Len(t, decoded, 32, "expected 256 bits of entropy")

		assert.False(t, seen[raw], "refresh tokens must not repeat")
		seen[raw] = true
	}
}

func TestHashRefreshToken(t *testing.T) {
	raw, err := auth.NewRefreshToken()
	require.NoError(t, err)

	first := auth.HashRefreshToken(raw)
	second := auth.HashRefreshToken(raw)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
	assert.NotContains(t, first, raw)
	assert.NotEqual(t, first, auth.HashRefreshToken(raw+"x"))
}
