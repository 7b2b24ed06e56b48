package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const refreshTokenBytes = 32

type accessClaims struct {
	jwt.RegisteredClaims
	TokenType string `json:"typ"`
	Role      string `json:"role,omitempty"`
}

// TokenIssuer mints signed access tokens and opaque refresh tokens. The
// signing secret is injected once and never mutated.
type TokenIssuer struct {
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time
}

func NewTokenIssuer(secret string, accessTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret:    []byte(secret),
		accessTTL: accessTTL,
		now:       time.Now,
	}
}

// WithClock overrides the issuer's time source. Used by tests.
func (i *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	if now != nil {
		i.now = now
	}
	return i
}

// IssueAccess signs an HS256 access token with subject userID and absolute
// expiry now+TTL. The role claim is advisory and travels with the token so
// downstream services can gate on it without a store lookup.
func (i *TokenIssuer) IssueAccess(userID int64, role string) (string, int64, error) {
	now := i.now().UTC()
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.accessTTL)),
		},
		TokenType: "access",
		Role:      role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	encoded, err := token.SignedString(i.secret)
	if err != nil {
		return "", 0, fmt.Errorf("sign access token: %w", err)
	}

	return encoded, int64(i.accessTTL.Seconds()), nil
}

// NewRefreshToken returns a URL-safe random token with 256 bits of entropy.
// The raw value is handed to the client exactly once; persistence only ever
// sees its hash.
func NewRefreshToken() (string, error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashRefreshToken maps a raw refresh token to its stored form.
func HashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// TokenVerifier validates access tokens with only the shared signing secret,
// so every downstream service verifies independently with no call back to
// the issuer.
type TokenVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{
		secret: []byte(secret),
		now:    time.Now,
	}
}

func (v *TokenVerifier) WithClock(now func() time.Time) *TokenVerifier {
	if now != nil {
		v.now = now
	}
	return v
}

// VerifyAccess checks signature, expiry and token type. Any structural or
// cryptographic failure yields ErrUnauthorized with no partial trust.
func (v *TokenVerifier) VerifyAccess(tokenStr string) (int64, string, error) {
	claims := &accessClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return 0, "", ErrUnauthorized
	}
	if claims.TokenType != "access" {
		return 0, "", ErrUnauthorized
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, "", ErrUnauthorized
	}

	return userID, claims.Role, nil
}
